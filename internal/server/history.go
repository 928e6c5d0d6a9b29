package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/doc-analyzer/constants"
	"github.com/joseph-ayodele/doc-analyzer/internal/repository"
)

var errRunNotFound = errors.New("analysis run not found")

type runView struct {
	ID         string                            `json:"id"`
	RequestID  string                            `json:"request_id,omitempty"`
	Status     constants.AnalysisStatus          `json:"status"`
	Documents  int                               `json:"documents"`
	Prompt     string                            `json:"prompt"`
	Narrative  string                            `json:"narrative,omitempty"`
	Metadata   map[constants.MetadataSlot]string `json:"metadata,omitempty"`
	Error      string                            `json:"error,omitempty"`
	StartedAt  time.Time                         `json:"started_at"`
	DurationMS int64                             `json:"duration_ms"`
}

func toView(r repository.AnalysisRun) runView {
	return runView{
		ID:         r.ID.String(),
		RequestID:  r.RequestID,
		Status:     r.Status,
		Documents:  r.Documents,
		Prompt:     r.Prompt,
		Narrative:  r.Narrative,
		Metadata:   r.Metadata,
		Error:      r.Error,
		StartedAt:  r.StartedAt,
		DurationMS: r.Duration.Milliseconds(),
	}
}

// GET /v1/analyses?limit=N
func (r *Router) handleListRuns(w http.ResponseWriter, req *http.Request) error {
	limit := 0
	if raw := req.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return invalid("limit must be a positive integer")
		}
		limit = n
	}
	runs, err := r.runs.ListRecent(req.Context(), limit)
	if err != nil {
		return err
	}
	out := make([]runView, 0, len(runs))
	for _, run := range runs {
		out = append(out, toView(run))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
	return nil
}

// GET /v1/analyses/{id}
func (r *Router) handleGetRun(w http.ResponseWriter, req *http.Request) error {
	id, err := uuid.Parse(chi.URLParam(req, "id"))
	if err != nil {
		return invalid("id must be a UUID")
	}
	run, err := r.runs.Get(req.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		return errRunNotFound
	}
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, toView(run))
	return nil
}
