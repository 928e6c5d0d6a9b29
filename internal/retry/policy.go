package retry

import (
	"context"
	"time"
)

// FatalPolicy decides what a fatal outcome does to the remaining budget.
type FatalPolicy int

const (
	// FatalRetry rotates and retries fatal outcomes exactly like transient ones.
	FatalRetry FatalPolicy = iota
	// FatalStop ends the cycle on the first fatal outcome.
	FatalStop
)

func (p FatalPolicy) String() string {
	if p == FatalStop {
		return "stop"
	}
	return "retry"
}

// Policy is the immutable retry budget for one adapter.
type Policy struct {
	MaxAttempts    int           // total calls, including the first
	BaseDelay      time.Duration // wait after attempt i is BaseDelay * 2^i
	AttemptTimeout time.Duration // per-call deadline handed to the adapter; 0 lets it pick
	Variants       []string      // rotation order; empty uses the adapter's variants
	Fatal          FatalPolicy
}

// Backoff returns base * 2^attempt, saturating instead of overflowing.
func Backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 || attempt < 0 {
		return 0
	}
	d := base
	for range attempt {
		if d > maxDelay/2 {
			return maxDelay
		}
		d *= 2
	}
	return d
}

const maxDelay = time.Duration(1<<63 - 1)

// Sleeper waits for d or until ctx is done, returning ctx.Err() in the latter case.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
