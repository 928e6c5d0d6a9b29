package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/joseph-ayodele/doc-analyzer/internal/common"
	"github.com/joseph-ayodele/doc-analyzer/internal/llm"
	"github.com/joseph-ayodele/doc-analyzer/internal/llm/llmtest"
)

type sleepLog struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepLog) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

type recordingRecorder struct {
	mu       sync.Mutex
	attempts []AttemptRecord
	backoffs []time.Duration
}

func (r *recordingRecorder) ObserveAttempt(rec AttemptRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, rec)
}

func (r *recordingRecorder) ObserveBackoff(_ string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backoffs = append(r.backoffs, d)
}

var variants = []string{"fast", "thorough"}

func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Second, Backoff(time.Second, 0))
	assert.Equal(t, 2*time.Second, Backoff(time.Second, 1))
	assert.Equal(t, 64*time.Second, Backoff(time.Second, 6))
	assert.Equal(t, time.Duration(0), Backoff(0, 3))
	assert.Equal(t, maxDelay, Backoff(time.Hour, 200))
}

func TestRun_FirstAttemptSuccess(t *testing.T) {
	stub := llmtest.NewStub("primary", variants, llmtest.Succeed("A", nil))
	sl := &sleepLog{}
	c := New(stub, Policy{MaxAttempts: 7, BaseDelay: time.Second}, WithSleeper(sl.sleep))

	res, err := c.Run(context.Background(), llm.AnalysisRequest{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "A", res.Narrative)
	assert.Equal(t, 1, stub.CallCount())
	assert.Empty(t, sl.delays)
}

func TestRun_TransientThenSuccess(t *testing.T) {
	stub := llmtest.NewStub("primary", variants,
		llmtest.Fail(llm.KindRateLimited),
		llmtest.Fail(llm.KindRateLimited),
		llmtest.Fail(llm.KindUnavailable),
		llmtest.Succeed("A", map[string]string{"metadata_1": "x"}),
	)
	sl := &sleepLog{}
	rec := &recordingRecorder{}
	c := New(stub, Policy{MaxAttempts: 7, BaseDelay: time.Second}, WithSleeper(sl.sleep), WithRecorder(rec))

	res, err := c.Run(context.Background(), llm.AnalysisRequest{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "A", res.Narrative)
	assert.Equal(t, "x", res.Metadata["metadata_1"])

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, sl.delays)
	assert.Equal(t, sl.delays, rec.backoffs)

	calls := stub.Calls()
	require.Len(t, calls, 4)
	assert.Equal(t, []string{"fast", "thorough", "fast", "thorough"},
		[]string{calls[0].Variant, calls[1].Variant, calls[2].Variant, calls[3].Variant})

	require.Len(t, rec.attempts, 4)
	assert.Equal(t, llm.OutcomeTransient, rec.attempts[0].Outcome)
	assert.Equal(t, llm.KindRateLimited, rec.attempts[0].Kind)
	assert.Equal(t, llm.OutcomeSuccess, rec.attempts[3].Outcome)
	assert.Equal(t, 3, rec.attempts[3].Index)
}

func TestRun_RealSleepWaitsAtLeastBackoffSum(t *testing.T) {
	stub := llmtest.NewStub("primary", variants,
		llmtest.Fail(llm.KindRateLimited),
		llmtest.Fail(llm.KindRateLimited),
		llmtest.Succeed("A", nil),
	)
	base := 5 * time.Millisecond
	c := New(stub, Policy{MaxAttempts: 4, BaseDelay: base})

	start := time.Now()
	_, err := c.Run(context.Background(), llm.AnalysisRequest{Prompt: "p"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), base+2*base)
}

func TestRun_Exhausted(t *testing.T) {
	stub := llmtest.NewStub("primary", variants, llmtest.Fail(llm.KindMalformed))
	sl := &sleepLog{}
	c := New(stub, Policy{MaxAttempts: 7, BaseDelay: time.Millisecond}, WithSleeper(sl.sleep))

	_, err := c.Run(context.Background(), llm.AnalysisRequest{Prompt: "p"})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrRetriesExhausted)
	assert.False(t, errors.Is(err, common.ErrCancelled))

	var exh *ExhaustedError
	require.ErrorAs(t, err, &exh)
	assert.Equal(t, "primary", exh.Provider)
	assert.Equal(t, 7, exh.Attempts)
	require.NotNil(t, exh.Last)
	assert.Equal(t, llm.KindMalformed, exh.Last.Kind)

	assert.Equal(t, 7, stub.CallCount())
	// no trailing sleep after the last attempt
	assert.Len(t, sl.delays, 6)
}

func TestRun_FatalStop(t *testing.T) {
	stub := llmtest.NewStub("primary", variants,
		llmtest.Fail(llm.KindRateLimited),
		llmtest.Fail(llm.KindMalformed),
		llmtest.Succeed("never", nil),
	)
	sl := &sleepLog{}
	c := New(stub, Policy{MaxAttempts: 7, BaseDelay: time.Millisecond, Fatal: FatalStop}, WithSleeper(sl.sleep))

	_, err := c.Run(context.Background(), llm.AnalysisRequest{Prompt: "p"})
	var exh *ExhaustedError
	require.ErrorAs(t, err, &exh)
	assert.Equal(t, 2, exh.Attempts)
	assert.Equal(t, llm.KindMalformed, exh.Last.Kind)
	assert.Len(t, sl.delays, 1)
}

func TestRun_FatalRetriedByDefault(t *testing.T) {
	stub := llmtest.NewStub("primary", variants,
		llmtest.Fail(llm.KindMalformed),
		llmtest.Succeed("A", nil),
	)
	c := New(stub, Policy{MaxAttempts: 3}, WithSleeper((&sleepLog{}).sleep))

	res, err := c.Run(context.Background(), llm.AnalysisRequest{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "A", res.Narrative)
	assert.Equal(t, []string{"fast", "thorough"}, []string{stub.Calls()[0].Variant, stub.Calls()[1].Variant})
}

func TestRun_CancelledDuringSleep(t *testing.T) {
	stub := llmtest.NewStub("primary", variants, llmtest.Fail(llm.KindRateLimited))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sleeps := 0
	sleeper := func(ctx context.Context, d time.Duration) error {
		sleeps++
		if sleeps == 1 {
			return nil
		}
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()
		return SleepContext(ctx, d)
	}
	c := New(stub, Policy{MaxAttempts: 7, BaseDelay: time.Hour}, WithSleeper(sleeper))

	done := make(chan error, 1)
	go func() {
		_, err := c.Run(ctx, llm.AnalysisRequest{Prompt: "p"})
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, common.ErrCancelled)
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, errors.Is(err, common.ErrRetriesExhausted))
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.Equal(t, 2, stub.CallCount())
}

func TestRun_CancelledDuringCall(t *testing.T) {
	stub := llmtest.NewStub("primary", variants, llmtest.Block())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	c := New(stub, Policy{MaxAttempts: 7, BaseDelay: time.Millisecond})
	_, err := c.Run(ctx, llm.AnalysisRequest{Prompt: "p"})
	assert.ErrorIs(t, err, common.ErrCancelled)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, stub.CallCount())
}

func TestRun_AlreadyCancelled(t *testing.T) {
	stub := llmtest.NewStub("primary", variants, llmtest.Succeed("A", nil))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(stub, Policy{MaxAttempts: 3}).Run(ctx, llm.AnalysisRequest{Prompt: "p"})
	assert.ErrorIs(t, err, common.ErrCancelled)
	assert.Zero(t, stub.CallCount())
}

func TestRun_LogsDistinguishKinds(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	stub := llmtest.NewStub("primary", variants,
		llmtest.Fail(llm.KindRateLimited),
		llmtest.Fail(llm.KindMalformed),
	)
	c := New(stub, Policy{MaxAttempts: 2}, WithLogger(zap.New(core)), WithSleeper((&sleepLog{}).sleep))

	_, err := c.Run(context.Background(), llm.AnalysisRequest{Prompt: "p"})
	require.ErrorIs(t, err, common.ErrRetriesExhausted)

	failed := logs.FilterMessage("retry.attempt.failed").All()
	require.Len(t, failed, 2)
	assert.Equal(t, "rate_limited", failed[0].ContextMap()["kind"])
	assert.Equal(t, "transient", failed[0].ContextMap()["outcome"])
	assert.Equal(t, "malformed", failed[1].ContextMap()["kind"])
	assert.Equal(t, "fatal", failed[1].ContextMap()["outcome"])
	assert.Equal(t, 1, logs.FilterMessage("retry.exhausted").Len())
}

func TestRun_IndependentConcurrentRuns(t *testing.T) {
	c := New(llmtest.NewStub("primary", variants, llmtest.Fail(llm.KindUnavailable)),
		Policy{MaxAttempts: 3}, WithSleeper((&sleepLog{}).sleep))

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = c.Run(context.Background(), llm.AnalysisRequest{Prompt: "p"})
		}()
	}
	wg.Wait()

	for _, err := range errs {
		var exh *ExhaustedError
		require.ErrorAs(t, err, &exh)
		assert.Equal(t, 3, exh.Attempts)
	}
}
