package retry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/joseph-ayodele/doc-analyzer/internal/common"
	"github.com/joseph-ayodele/doc-analyzer/internal/llm"
)

// AttemptRecord describes one finished attempt. It is handed to the logger and the
// recorder and then dropped.
type AttemptRecord struct {
	Provider string
	Variant  string
	Index    int
	Outcome  llm.OutcomeTag
	Kind     llm.ErrorKind // meaningful when Outcome is not success
	Elapsed  time.Duration
}

// Recorder receives per-attempt observations, typically metrics.
type Recorder interface {
	ObserveAttempt(rec AttemptRecord)
	ObserveBackoff(provider string, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveAttempt(AttemptRecord) {}
func (nopRecorder) ObserveBackoff(string, time.Duration) {}

// Controller drives repeated attempts against one adapter. It is immutable after
// construction; every Run keeps its own counters.
type Controller struct {
	adapter  llm.Adapter
	policy   Policy
	variants []string
	log      *zap.Logger
	recorder Recorder
	sleep    Sleeper
}

type Option func(*Controller)

func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(c *Controller) {
		if r != nil {
			c.recorder = r
		}
	}
}

func WithSleeper(s Sleeper) Option {
	return func(c *Controller) {
		if s != nil {
			c.sleep = s
		}
	}
}

func New(adapter llm.Adapter, policy Policy, opts ...Option) *Controller {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.BaseDelay < 0 {
		policy.BaseDelay = 0
	}
	c := &Controller{
		adapter:  adapter,
		policy:   policy,
		log:      zap.NewNop(),
		recorder: nopRecorder{},
		sleep:    SleepContext,
	}
	for _, o := range opts {
		o(c)
	}

	variants := policy.Variants
	if len(variants) == 0 {
		variants = adapter.Variants()
	}
	if len(variants) == 0 {
		variants = []string{""}
	}
	c.variants = append([]string(nil), variants...)
	c.log = c.log.With(zap.String("component", "retry"), zap.String("provider", adapter.Name()))
	return c
}

// Provider returns the adapter name.
func (c *Controller) Provider() string { return c.adapter.Name() }

// Run attempts req until success, exhaustion or cancellation. It returns the
// successful result, an *ExhaustedError, or an error matching common.ErrCancelled.
func (c *Controller) Run(ctx context.Context, req llm.AnalysisRequest) (llm.AnalysisResult, error) {
	provider := c.adapter.Name()
	var last *llm.ProviderCallError
	attempts := 0

	for i := 0; i < c.policy.MaxAttempts; i++ {
		if err := ctx.Err(); err != nil {
			c.log.Info("retry.cancelled", zap.Int("attempts", attempts), zap.Error(err))
			return llm.AnalysisResult{}, common.Cancelled(err)
		}

		variant := c.variants[i%len(c.variants)]
		c.log.Debug("retry.attempt.start",
			zap.String("variant", variant),
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", c.policy.MaxAttempts),
		)

		start := time.Now()
		out := c.adapter.Call(ctx, req, variant, c.policy.AttemptTimeout)
		attempts++

		rec := AttemptRecord{Provider: provider, Variant: variant, Index: i, Outcome: out.Tag, Elapsed: time.Since(start)}
		if out.Err != nil {
			rec.Kind = out.Err.Kind
		}
		c.recorder.ObserveAttempt(rec)

		if out.Tag == llm.OutcomeSuccess {
			c.log.Info("retry.attempt.ok",
				zap.String("variant", variant),
				zap.Int("attempt", i+1),
				zap.Duration("elapsed", rec.Elapsed),
			)
			return out.Result, nil
		}

		// A caller cancellation surfaces as a transport failure from the adapter.
		if err := ctx.Err(); err != nil {
			c.log.Info("retry.cancelled", zap.Int("attempts", attempts), zap.Error(err))
			return llm.AnalysisResult{}, common.Cancelled(err)
		}

		last = out.Err
		if last == nil {
			last = &llm.ProviderCallError{Provider: provider, Variant: variant, Message: "failure without reason"}
		}
		c.log.Warn("retry.attempt.failed",
			zap.String("variant", variant),
			zap.Int("attempt", i+1),
			zap.String("outcome", out.Tag.String()),
			zap.String("kind", last.Kind.String()),
			zap.Int("status", last.StatusCode),
			zap.Error(last),
		)

		if out.Tag == llm.OutcomeFatal && c.policy.Fatal == FatalStop {
			c.log.Warn("retry.fatal_stop", zap.String("kind", last.Kind.String()))
			break
		}
		if i == c.policy.MaxAttempts-1 {
			break
		}

		delay := Backoff(c.policy.BaseDelay, i)
		next := c.variants[(i+1)%len(c.variants)]
		c.log.Info("retry.rotate",
			zap.String("from", variant),
			zap.String("to", next),
			zap.Duration("backoff", delay),
		)
		c.recorder.ObserveBackoff(provider, delay)
		if err := c.sleep(ctx, delay); err != nil {
			c.log.Info("retry.cancelled", zap.Int("attempts", attempts), zap.Error(err))
			return llm.AnalysisResult{}, common.Cancelled(err)
		}
	}

	c.log.Warn("retry.exhausted", zap.Int("attempts", attempts), zap.Error(last))
	return llm.AnalysisResult{}, &ExhaustedError{Provider: provider, Attempts: attempts, Last: last}
}
