package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/joseph-ayodele/doc-analyzer/internal/common"
	"github.com/joseph-ayodele/doc-analyzer/internal/ingest"
	"github.com/joseph-ayodele/doc-analyzer/internal/repository"
)

// Config for the HTTP surface.
type Config struct {
	MaxUploadBytes int64
	RequestTimeout time.Duration
	CORSOrigins    []string
}

// HTTPRecorder receives one observation per request.
type HTTPRecorder interface {
	RecordHTTPRequest(method, route string, status int, d time.Duration)
}

type Router struct {
	analyzer Analyzer
	store    ingest.ObjectStore
	runs     repository.AnalysisRunRepository
	cfg      Config
	log      *zap.Logger

	metrics  http.Handler
	recorder HTTPRecorder
}

type Option func(*Router)

// WithMetrics mounts h on /metrics and records every request on rec.
func WithMetrics(h http.Handler, rec HTTPRecorder) Option {
	return func(r *Router) {
		r.metrics = h
		r.recorder = rec
	}
}

// WithObjectStore enables analyses of stored documents by key.
func WithObjectStore(s ingest.ObjectStore) Option {
	return func(r *Router) { r.store = s }
}

// WithRunHistory exposes stored analysis runs.
func WithRunHistory(runs repository.AnalysisRunRepository) Option {
	return func(r *Router) { r.runs = runs }
}

func NewRouter(analyzer Analyzer, cfg Config, logger *zap.Logger, opts ...Option) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 64 << 20
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Minute
	}
	r := &Router{
		analyzer: analyzer,
		cfg:      cfg,
		log:      logger.With(zap.String("component", "http")),
	}
	for _, o := range opts {
		o(r)
	}

	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(r.requestContext)
	mux.Use(r.accessLog)
	mux.Use(middleware.Recoverer)
	if len(cfg.CORSOrigins) > 0 {
		mux.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}))
	}

	mux.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	if r.metrics != nil {
		mux.Method(http.MethodGet, "/metrics", r.metrics)
	}

	mux.Route("/v1", func(rt chi.Router) {
		rt.Post("/analyses", r.wrap(r.handleAnalyze))
		if r.runs != nil {
			rt.Get("/analyses", r.wrap(r.handleListRuns))
			rt.Get("/analyses/{id}", r.wrap(r.handleGetRun))
		}
		rt.Post("/ask", r.wrap(r.handleAsk))
	})
	return mux
}

// requestContext carries chi's request id into the shared context key and
// echoes it back to the caller.
func (r *Router) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		id := middleware.GetReqID(req.Context())
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, req.WithContext(common.WithRequestID(req.Context(), id)))
	})
}

func (r *Router) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)

		route := req.URL.Path
		if rc := chi.RouteContext(req.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		if r.recorder != nil {
			r.recorder.RecordHTTPRequest(req.Method, route, status, elapsed)
		}
		r.log.Info("http.request",
			zap.String("req_id", middleware.GetReqID(req.Context())),
			zap.String("method", req.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Int64("elapsed_ms", elapsed.Milliseconds()),
		)
	})
}
