package analysis

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/joseph-ayodele/doc-analyzer/constants"
	"github.com/joseph-ayodele/doc-analyzer/internal/common"
	"github.com/joseph-ayodele/doc-analyzer/internal/ingest"
	"github.com/joseph-ayodele/doc-analyzer/internal/llm"
	"github.com/joseph-ayodele/doc-analyzer/internal/repository"
)

// TracerName names the tracer used for analysis spans.
const TracerName = "github.com/joseph-ayodele/doc-analyzer/internal/analysis"

const (
	maxPromptLength   = 100_000
	maxOverrideLength = 100_000
)

// Runner runs one provider's retry cycle. *retry.Controller implements it.
type Runner interface {
	Provider() string
	Run(ctx context.Context, req llm.AnalysisRequest) (llm.AnalysisResult, error)
}

// Asker answers free-text questions.
type Asker interface {
	Ask(ctx context.Context, content, question string) (string, error)
}

// Recorder receives one observation per analysis.
type Recorder interface {
	ObserveAnalysis(status constants.AnalysisStatus, d time.Duration)
}

// Service is the fallback orchestrator: primary to exhaustion, then secondary once.
// It holds no per-call state and is safe for concurrent use.
type Service struct {
	primary   Runner
	secondary Runner
	ingestor  *ingest.Ingestor
	asker     Asker
	recorder  Recorder
	runs      repository.AnalysisRunRepository
	tracer    trace.Tracer
	log       *zap.Logger
	closers   []func() error
}

type Option func(*Service)

func WithIngestor(i *ingest.Ingestor) Option { return func(s *Service) { s.ingestor = i } }
func WithAsker(a Asker) Option               { return func(s *Service) { s.asker = a } }
func WithRecorder(r Recorder) Option         { return func(s *Service) { s.recorder = r } }
func WithTracer(t trace.Tracer) Option       { return func(s *Service) { s.tracer = t } }

// WithRunStore persists every analysis outcome. Store failures are logged, never returned.
func WithRunStore(r repository.AnalysisRunRepository) Option {
	return func(s *Service) { s.runs = r }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

func withCloser(fn func() error) Option {
	return func(s *Service) { s.closers = append(s.closers, fn) }
}

func NewService(primary, secondary Runner, opts ...Option) *Service {
	s := &Service{
		primary:   primary,
		secondary: secondary,
		log:       zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.ingestor == nil {
		s.ingestor = ingest.New(ingest.WithLogger(s.log))
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(TracerName)
	}
	s.log = s.log.With(zap.String("component", "analysis"))
	return s
}

// Runs returns the configured run store, or nil.
func (s *Service) Runs() repository.AnalysisRunRepository { return s.runs }

// Close releases provider clients owned by the service.
func (s *Service) Close() error {
	var errs []error
	for _, fn := range s.closers {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// GetStructuredAnalysis returns the first successful structured result of the
// primary provider or, once the primary is exhausted, of the secondary provider.
func (s *Service) GetStructuredAnalysis(ctx context.Context, req llm.AnalysisRequest) (llm.AnalysisResult, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "analysis.get_structured",
		trace.WithAttributes(
			attribute.Int("analysis.documents", len(req.Documents)),
			attribute.Bool("analysis.has_override", req.ContextOverride != ""),
		))
	defer span.End()

	res, status, err := s.run(ctx, req)

	span.SetAttributes(attribute.String("analysis.status", string(status)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(status))
	}
	elapsed := time.Since(start)
	if s.recorder != nil {
		s.recorder.ObserveAnalysis(status, elapsed)
	}
	if s.runs != nil && status != constants.AnalysisInvalid {
		s.saveRun(ctx, req, res, status, err, start, elapsed)
	}
	return res, err
}

func (s *Service) saveRun(ctx context.Context, req llm.AnalysisRequest, res llm.AnalysisResult, status constants.AnalysisStatus, runErr error, start time.Time, elapsed time.Duration) {
	run := repository.AnalysisRun{
		RequestID: common.RequestIDFromContext(ctx),
		Status:    status,
		Documents: len(req.Documents),
		Prompt:    req.Prompt,
		Narrative: res.Narrative,
		Metadata:  res.Metadata,
		StartedAt: start,
		Duration:  elapsed,
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	// the caller may already be gone; the record is still wanted
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.runs.Save(saveCtx, run); err != nil {
		s.log.Warn("analysis.run_store_failed", zap.String("status", string(status)), zap.Error(err))
	}
}

func (s *Service) run(ctx context.Context, req llm.AnalysisRequest) (llm.AnalysisResult, constants.AnalysisStatus, error) {
	if err := validateRequest(req.Prompt, req.ContextOverride, len(req.Documents)); err != nil {
		return llm.AnalysisResult{}, constants.AnalysisInvalid, err
	}
	reqID := common.RequestIDFromContext(ctx)
	log := s.log.With(zap.String("req_id", reqID))

	log.Info("analysis.start",
		zap.Int("documents", len(req.Documents)),
		zap.String("primary", s.primary.Provider()),
		zap.String("secondary", s.secondary.Provider()),
	)

	res, primaryErr := s.primary.Run(ctx, req)
	if primaryErr == nil {
		log.Info("analysis.ok", zap.String("provider", s.primary.Provider()))
		return res, constants.AnalysisPrimaryOK, nil
	}
	if errors.Is(primaryErr, common.ErrCancelled) {
		log.Info("analysis.cancelled", zap.String("provider", s.primary.Provider()), zap.Error(primaryErr))
		return llm.AnalysisResult{}, constants.AnalysisCancelled, primaryErr
	}

	log.Warn("analysis.fallback",
		zap.String("from", s.primary.Provider()),
		zap.String("to", s.secondary.Provider()),
		zap.Error(primaryErr),
	)

	res, secondaryErr := s.secondary.Run(ctx, req)
	if secondaryErr == nil {
		log.Info("analysis.ok", zap.String("provider", s.secondary.Provider()), zap.Bool("fallback", true))
		return res, constants.AnalysisSecondaryOK, nil
	}
	if errors.Is(secondaryErr, common.ErrCancelled) {
		log.Info("analysis.cancelled", zap.String("provider", s.secondary.Provider()), zap.Error(secondaryErr))
		return llm.AnalysisResult{}, constants.AnalysisCancelled, secondaryErr
	}

	log.Error("analysis.exhausted", zap.NamedError("primary_error", primaryErr), zap.NamedError("secondary_error", secondaryErr))
	return llm.AnalysisResult{}, constants.AnalysisExhausted, &AllProvidersExhaustedError{Primary: primaryErr, Secondary: secondaryErr}
}

// AnalyzeHandles ingests handles in order and analyzes the resulting documents.
func (s *Service) AnalyzeHandles(ctx context.Context, handles []ingest.Handle, prompt, override string) (llm.AnalysisResult, error) {
	if err := validateRequest(prompt, override, len(handles)); err != nil {
		return llm.AnalysisResult{}, err
	}
	ctx, span := s.tracer.Start(ctx, "analysis.ingest", trace.WithAttributes(attribute.Int("ingest.handles", len(handles))))
	docs, err := s.ingestor.Ingest(ctx, handles)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ingest failed")
		span.End()
		return llm.AnalysisResult{}, err
	}
	span.End()

	return s.GetStructuredAnalysis(ctx, llm.AnalysisRequest{
		Documents:       docs,
		Prompt:          prompt,
		ContextOverride: override,
	})
}

// Ask answers a free-text question about content using the primary provider.
func (s *Service) Ask(ctx context.Context, content, question string) (string, error) {
	v := common.NewValidator().
		Field("content", content, common.Required, common.MaxLength(maxPromptLength)).
		Field("question", question, common.Required, common.MaxLength(maxPromptLength))
	if err := common.ValidateAndReturnError(v); err != nil {
		return "", err
	}
	if s.asker == nil {
		return "", common.NewAppError("NOT_CONFIGURED", "free-text questions are not configured", common.ErrInternal)
	}

	ctx, span := s.tracer.Start(ctx, "analysis.ask")
	defer span.End()

	answer, err := s.asker.Ask(ctx, content, question)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ask failed")
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", common.Cancelled(ctxErr)
		}
		return "", common.WrapError(err, "ask")
	}
	return answer, nil
}

func validateRequest(prompt, override string, documents int) error {
	v := common.NewValidator().
		Field("documents", documents, common.MinCount(1)).
		Field("prompt", prompt, common.Required, common.MaxLength(maxPromptLength)).
		Field("context", override, common.MaxLength(maxOverrideLength))
	return common.ValidateAndReturnError(v)
}
