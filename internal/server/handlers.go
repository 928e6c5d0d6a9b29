package server

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/joseph-ayodele/doc-analyzer/internal/common"
	"github.com/joseph-ayodele/doc-analyzer/internal/ingest"
	"github.com/joseph-ayodele/doc-analyzer/internal/llm"
)

// Analyzer is what the HTTP surface needs from analysis.Service.
type Analyzer interface {
	AnalyzeHandles(ctx context.Context, handles []ingest.Handle, prompt, override string) (llm.AnalysisResult, error)
	Ask(ctx context.Context, content, question string) (string, error)
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), r.cfg.RequestTimeout)
		defer cancel()
		if err := h(w, req.WithContext(ctx)); err != nil {
			status, code := statusFor(err)
			if status >= http.StatusInternalServerError {
				r.log.Error("http.handler_error", zap.String("req_id", common.RequestIDFromContext(ctx)), zap.Int("status", status), zap.Error(err))
			} else {
				r.log.Warn("http.handler_error", zap.String("req_id", common.RequestIDFromContext(ctx)), zap.Int("status", status), zap.Error(err))
			}
			writeJSON(w, status, errorBody{Error: err.Error(), Code: code})
		}
	}
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errTooLarge = errors.New("request body too large")

func statusFor(err error) (int, string) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr), errors.Is(err, errTooLarge):
		return http.StatusRequestEntityTooLarge, "TOO_LARGE"
	case errors.Is(err, errRunNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, common.ErrInvalidInput):
		return http.StatusBadRequest, "INVALID_INPUT"
	case errors.Is(err, common.ErrIngest):
		return http.StatusBadRequest, "INGEST_FAILED"
	case errors.Is(err, common.ErrAllProvidersExhausted):
		return http.StatusBadGateway, "ALL_PROVIDERS_EXHAUSTED"
	case errors.Is(err, common.ErrCancelled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout, "CANCELLED"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func invalid(msg string) error {
	return common.NewAppError("INVALID_INPUT", msg, common.ErrInvalidInput)
}

type analyzeJSON struct {
	Prompt     string   `json:"prompt"`
	Context    string   `json:"context"`
	ObjectKeys []string `json:"object_keys"`
}

// POST /v1/analyses
// multipart/form-data: prompt, context (optional), documents (files, ordered)
// application/json: {"prompt", "context", "object_keys"} when an object store is configured
func (r *Router) handleAnalyze(w http.ResponseWriter, req *http.Request) error {
	req.Body = http.MaxBytesReader(w, req.Body, r.cfg.MaxUploadBytes)

	var (
		handles  []ingest.Handle
		prompt   string
		override string
	)

	mediaType, _, _ := mime.ParseMediaType(req.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		if err := req.ParseMultipartForm(32 << 20); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				return errTooLarge
			}
			return invalid("malformed multipart body: " + err.Error())
		}
		defer func() {
			if req.MultipartForm != nil {
				_ = req.MultipartForm.RemoveAll()
			}
		}()
		prompt = req.FormValue("prompt")
		override = req.FormValue("context")
		for _, fh := range req.MultipartForm.File["documents"] {
			handles = append(handles, ingest.NewMultipartHandle(fh))
		}
	case "application/json":
		var body analyzeJSON
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			return invalid("malformed json body: " + err.Error())
		}
		if len(body.ObjectKeys) > 0 && r.store == nil {
			return invalid("object_keys require a configured object store")
		}
		prompt, override = body.Prompt, body.Context
		for _, key := range body.ObjectKeys {
			if strings.TrimSpace(key) == "" {
				return invalid("object_keys must not contain empty keys")
			}
			handles = append(handles, ingest.NewObjectHandle(r.store, key))
		}
	default:
		return invalid("content type must be multipart/form-data or application/json")
	}

	if len(handles) == 0 {
		return invalid("at least one document is required")
	}

	res, err := r.analyzer.AnalyzeHandles(req.Context(), handles, prompt, override)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, res)
	return nil
}

// POST /v1/ask
// Body: {"content": "...", "question": "..."}
func (r *Router) handleAsk(w http.ResponseWriter, req *http.Request) error {
	req.Body = http.MaxBytesReader(w, req.Body, r.cfg.MaxUploadBytes)
	var body struct {
		Content  string `json:"content"`
		Question string `json:"question"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return invalid("malformed json body: " + err.Error())
	}
	answer, err := r.analyzer.Ask(req.Context(), body.Content, body.Question)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]string{"answer": answer})
	return nil
}
