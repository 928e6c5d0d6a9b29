package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"

	"github.com/joseph-ayodele/doc-analyzer/constants"
	"github.com/joseph-ayodele/doc-analyzer/internal/common"
	"github.com/joseph-ayodele/doc-analyzer/internal/ingest"
	"github.com/joseph-ayodele/doc-analyzer/internal/llm"
	"github.com/joseph-ayodele/doc-analyzer/internal/llm/llmtest"
	"github.com/joseph-ayodele/doc-analyzer/internal/repository"
	"github.com/joseph-ayodele/doc-analyzer/internal/retry"
)

type sleepCounter struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepCounter) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepCounter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delays)
}

type statusRecorder struct {
	mu       sync.Mutex
	statuses []constants.AnalysisStatus
}

func (r *statusRecorder) ObserveAnalysis(status constants.AnalysisStatus, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

type fixture struct {
	primary   *llmtest.Stub
	secondary *llmtest.Stub
	sleeps    *sleepCounter
	recorder  *statusRecorder
	svc       *Service
}

func newFixture(t *testing.T, primary, secondary []llmtest.Step, sleeper retry.Sleeper) *fixture {
	t.Helper()
	f := &fixture{
		primary:   llmtest.NewStub("gemini", []string{"gemini-2.5-flash", "gemini-2.5-pro"}, primary...),
		secondary: llmtest.NewStub("openai", []string{"gpt-4o-mini"}, secondary...),
		sleeps:    &sleepCounter{},
		recorder:  &statusRecorder{},
	}
	if sleeper == nil {
		sleeper = f.sleeps.sleep
	}
	logger := zaptest.NewLogger(t)
	f.svc = NewService(
		retry.New(f.primary, retry.Policy{MaxAttempts: 7, BaseDelay: time.Second}, retry.WithSleeper(sleeper), retry.WithLogger(logger)),
		retry.New(f.secondary, retry.Policy{MaxAttempts: 4, BaseDelay: time.Second}, retry.WithSleeper(f.sleeps.sleep), retry.WithLogger(logger)),
		WithLogger(logger),
		WithRecorder(f.recorder),
	)
	return f
}

func pdfRequest(n int, prompt string) llm.AnalysisRequest {
	req := llm.AnalysisRequest{Prompt: prompt}
	for i := range n {
		req.Documents = append(req.Documents, llm.Document{
			Name:      "doc" + string(rune('0'+i)) + ".pdf",
			MediaType: constants.MediaTypePDF,
			Data:      []byte("%PDF-1.4"),
		})
	}
	return req
}

func TestGetStructuredAnalysis_PrimaryFirstAttempt(t *testing.T) {
	f := newFixture(t, []llmtest.Step{llmtest.Succeed("A", nil)}, []llmtest.Step{llmtest.Succeed("B", nil)}, nil)

	res, err := f.svc.GetStructuredAnalysis(context.Background(), pdfRequest(1, "Extract X"))
	require.NoError(t, err)
	assert.Equal(t, llm.AnalysisResult{Narrative: "A"}, res)
	assert.Equal(t, 1, f.primary.CallCount())
	assert.Zero(t, f.secondary.CallCount())
	assert.Equal(t, []constants.AnalysisStatus{constants.AnalysisPrimaryOK}, f.recorder.statuses)
}

func TestGetStructuredAnalysis_RateLimitedTwiceThenSuccess(t *testing.T) {
	f := newFixture(t, []llmtest.Step{
		llmtest.Fail(llm.KindRateLimited),
		llmtest.Fail(llm.KindRateLimited),
		llmtest.Succeed("A", nil),
	}, []llmtest.Step{llmtest.Succeed("B", nil)}, nil)

	res, err := f.svc.GetStructuredAnalysis(context.Background(), pdfRequest(2, "Extract X"))
	require.NoError(t, err)
	assert.Equal(t, llm.AnalysisResult{Narrative: "A"}, res)
	assert.Equal(t, 2, f.sleeps.count())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, f.sleeps.delays)
	assert.Zero(t, f.secondary.CallCount())

	calls := f.primary.Calls()
	require.Len(t, calls, 3)
	assert.Len(t, calls[2].Request.Documents, 2)
	assert.Equal(t, "Extract X", calls[2].Request.Prompt)
}

func TestGetStructuredAnalysis_MalformedFallsBack(t *testing.T) {
	f := newFixture(t,
		[]llmtest.Step{llmtest.Fail(llm.KindMalformed)},
		[]llmtest.Step{llmtest.Succeed("B", nil)}, nil)

	res, err := f.svc.GetStructuredAnalysis(context.Background(), pdfRequest(1, "Extract X"))
	require.NoError(t, err)
	assert.Equal(t, llm.AnalysisResult{Narrative: "B"}, res)
	assert.Equal(t, 7, f.primary.CallCount())
	assert.Equal(t, 1, f.secondary.CallCount())
	assert.Equal(t, []constants.AnalysisStatus{constants.AnalysisSecondaryOK}, f.recorder.statuses)
}

func TestGetStructuredAnalysis_BothExhausted(t *testing.T) {
	f := newFixture(t,
		[]llmtest.Step{llmtest.Fail(llm.KindUnavailable)},
		[]llmtest.Step{llmtest.Fail(llm.KindUnknown)}, nil)

	res, err := f.svc.GetStructuredAnalysis(context.Background(), pdfRequest(1, "Extract X"))
	require.Error(t, err)
	assert.Equal(t, llm.AnalysisResult{}, res)
	assert.ErrorIs(t, err, common.ErrAllProvidersExhausted)
	assert.False(t, errors.Is(err, common.ErrCancelled))

	var all *AllProvidersExhaustedError
	require.ErrorAs(t, err, &all)
	var primaryExh, secondaryExh *retry.ExhaustedError
	require.ErrorAs(t, all.Primary, &primaryExh)
	require.ErrorAs(t, all.Secondary, &secondaryExh)
	assert.Equal(t, "gemini", primaryExh.Provider)
	assert.Equal(t, llm.KindUnavailable, primaryExh.Last.Kind)
	assert.Equal(t, "openai", secondaryExh.Provider)
	assert.Equal(t, 4, secondaryExh.Attempts)

	assert.Equal(t, 7, f.primary.CallCount())
	assert.Equal(t, 4, f.secondary.CallCount())
	assert.Equal(t, []constants.AnalysisStatus{constants.AnalysisExhausted}, f.recorder.statuses)
}

func TestGetStructuredAnalysis_CancelledDuringBackoff(t *testing.T) {
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
		return retry.SleepContext(ctx, time.Hour)
	}
	f := newFixture(t,
		[]llmtest.Step{llmtest.Fail(llm.KindRateLimited)},
		[]llmtest.Step{llmtest.Succeed("B", nil)}, sleeper)

	start := time.Now()
	_, err := f.svc.GetStructuredAnalysis(ctx, pdfRequest(1, "Extract X"))
	assert.Less(t, time.Since(start), 2*time.Second)

	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, common.ErrAllProvidersExhausted))
	assert.Equal(t, 2, f.primary.CallCount())
	assert.Zero(t, f.secondary.CallCount())
	assert.Equal(t, []constants.AnalysisStatus{constants.AnalysisCancelled}, f.recorder.statuses)
}

func TestGetStructuredAnalysis_Idempotent(t *testing.T) {
	meta := map[string]string{"metadata_1": "x", "metadata_3": "z"}
	f := newFixture(t, []llmtest.Step{llmtest.Succeed("A", meta)}, nil, nil)

	req := pdfRequest(2, "Extract X")
	r1, err := f.svc.GetStructuredAnalysis(context.Background(), req)
	require.NoError(t, err)
	r2, err := f.svc.GetStructuredAnalysis(context.Background(), req)
	require.NoError(t, err)

	b1, err := json.Marshal(r1)
	require.NoError(t, err)
	b2, err := json.Marshal(r2)
	require.NoError(t, err)
	assert.Equal(t, b1, b2)
}

func TestGetStructuredAnalysis_InvalidRequest(t *testing.T) {
	f := newFixture(t, []llmtest.Step{llmtest.Succeed("A", nil)}, nil, nil)

	_, err := f.svc.GetStructuredAnalysis(context.Background(), pdfRequest(1, "   "))
	assert.ErrorIs(t, err, common.ErrInvalidInput)
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "INVALID_INPUT", appErr.Code)
	assert.Zero(t, f.primary.CallCount())
	assert.Equal(t, []constants.AnalysisStatus{constants.AnalysisInvalid}, f.recorder.statuses)
}

func TestGetStructuredAnalysis_NoDocuments(t *testing.T) {
	f := newFixture(t, []llmtest.Step{llmtest.Succeed("A", nil)}, nil, nil)

	_, err := f.svc.GetStructuredAnalysis(context.Background(), pdfRequest(0, "Extract X"))
	assert.ErrorIs(t, err, common.ErrInvalidInput)
	assert.ErrorContains(t, err, "documents")

	_, err = f.svc.AnalyzeHandles(context.Background(), nil, "Extract X", "")
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	assert.Zero(t, f.primary.CallCount())
	assert.Zero(t, f.secondary.CallCount())
}

func spanAttr(s sdktrace.ReadOnlySpan, key string) string {
	for _, kv := range s.Attributes() {
		if string(kv.Key) == key {
			return kv.Value.Emit()
		}
	}
	return ""
}

func TestTracing_RecordsStatus(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	f := newFixture(t,
		[]llmtest.Step{llmtest.Fail(llm.KindUnavailable)},
		[]llmtest.Step{llmtest.Fail(llm.KindUnavailable)}, nil)
	WithTracer(tp.Tracer(TracerName))(f.svc)

	_, err := f.svc.AnalyzeHandles(context.Background(), []ingest.Handle{
		ingest.NewBytesHandle("a.pdf", "", []byte("%PDF-1.4")),
	}, "Extract X", "")
	require.ErrorIs(t, err, common.ErrAllProvidersExhausted)

	ended := sr.Ended()
	byName := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range ended {
		byName[s.Name()] = s
	}
	require.Contains(t, byName, "analysis.ingest")
	require.Contains(t, byName, "analysis.get_structured")

	get := byName["analysis.get_structured"]
	assert.Equal(t, string(constants.AnalysisExhausted), spanAttr(get, "analysis.status"))
	assert.Equal(t, "1", spanAttr(get, "analysis.documents"))
	assert.Equal(t, codes.Error, get.Status().Code)
	assert.Equal(t, byName["analysis.ingest"].SpanContext().SpanID(), get.Parent().SpanID())
}

func TestAnalyzeHandles(t *testing.T) {
	f := newFixture(t, []llmtest.Step{llmtest.Succeed("A", nil)}, nil, nil)

	handles := []ingest.Handle{
		ingest.NewBytesHandle("second.pdf", "", []byte("%PDF-1.4 b")),
		ingest.NewBytesHandle("first.png", "", []byte("png")),
	}
	res, err := f.svc.AnalyzeHandles(context.Background(), handles, "Extract X", "name=Ana")
	require.NoError(t, err)
	assert.Equal(t, "A", res.Narrative)

	calls := f.primary.Calls()
	require.Len(t, calls, 1)
	docs := calls[0].Request.Documents
	require.Len(t, docs, 2)
	assert.Equal(t, "second.pdf", docs[0].Name)
	assert.Equal(t, constants.MediaTypePDF, docs[0].MediaType)
	assert.Equal(t, "first.png", docs[1].Name)
	assert.Equal(t, "name=Ana", calls[0].Request.ContextOverride)
}

func TestAnalyzeHandles_IngestFailure(t *testing.T) {
	f := newFixture(t, []llmtest.Step{llmtest.Succeed("A", nil)}, nil, nil)

	_, err := f.svc.AnalyzeHandles(context.Background(), []ingest.Handle{
		ingest.NewBytesHandle("ok.pdf", "", []byte("%PDF")),
		ingest.NewBytesHandle("empty.pdf", "", nil),
	}, "Extract X", "")
	assert.ErrorIs(t, err, common.ErrIngest)
	var ie *ingest.IngestError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, 1, ie.Index)
	assert.Zero(t, f.primary.CallCount())
}

type fakeAsker struct {
	answer string
	err    error
}

func (a fakeAsker) Ask(context.Context, string, string) (string, error) { return a.answer, a.err }

func idleRunners() (Runner, Runner) {
	return retry.New(llmtest.NewStub("p", nil), retry.Policy{MaxAttempts: 1}),
		retry.New(llmtest.NewStub("s", nil), retry.Policy{MaxAttempts: 1})
}

func TestAsk(t *testing.T) {
	p, s := idleRunners()
	svc := NewService(p, s, WithAsker(fakeAsker{answer: "42"}))
	answer, err := svc.Ask(context.Background(), "doc text", "which number?")
	require.NoError(t, err)
	assert.Equal(t, "42", answer)

	_, err = svc.Ask(context.Background(), "", "which number?")
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	svc = NewService(p, s, WithAsker(fakeAsker{err: errors.New("boom")}))
	_, err = svc.Ask(context.Background(), "doc", "q")
	assert.ErrorContains(t, err, "boom")

	svc = NewService(p, s)
	_, err = svc.Ask(context.Background(), "doc", "q")
	assert.ErrorIs(t, err, common.ErrInternal)
}

func TestBuild_RequiresKeys(t *testing.T) {
	_, err := Build(context.Background(), common.DefaultConfig(), zaptest.NewLogger(t), nil)
	require.Error(t, err)
}

func TestRunStore_RecordsOutcomes(t *testing.T) {
	ctx := context.Background()
	store, err := repository.OpenSQLite(ctx, ":memory:", zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f := newFixture(t,
		[]llmtest.Step{llmtest.Fail(llm.KindUnavailable)},
		[]llmtest.Step{llmtest.Succeed("B", map[string]string{"metadata_2": "b"})}, nil)
	WithRunStore(store)(f.svc)

	reqCtx := common.WithRequestID(ctx, "req-42")
	_, err = f.svc.GetStructuredAnalysis(reqCtx, pdfRequest(2, "Extract X"))
	require.NoError(t, err)

	_, err = f.svc.GetStructuredAnalysis(ctx, pdfRequest(1, ""))
	require.Error(t, err)

	runs, err := store.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1, "invalid requests are not persisted")
	run := runs[0]
	assert.Equal(t, constants.AnalysisSecondaryOK, run.Status)
	assert.Equal(t, "req-42", run.RequestID)
	assert.Equal(t, 2, run.Documents)
	assert.Equal(t, "Extract X", run.Prompt)
	assert.Equal(t, "B", run.Narrative)
	assert.Equal(t, "b", run.Metadata[constants.Metadata2])
	assert.Empty(t, run.Error)
}
