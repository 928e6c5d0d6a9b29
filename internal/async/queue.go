package async

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/doc-analyzer/internal/ingest"
	"github.com/joseph-ayodele/doc-analyzer/internal/llm"
)

var ErrQueueClosed = errors.New("queue is shutting down")

// Job is one analysis request waiting for a worker.
type Job struct {
	ID          uuid.UUID
	Name        string // caller label, e.g. the manifest entry
	Handles     []ingest.Handle
	Prompt      string
	Context     string
	SubmittedAt time.Time
}

// Result is delivered once per accepted job.
type Result struct {
	Job      Job
	Analysis llm.AnalysisResult
	Err      error
	Elapsed  time.Duration
}

type Queue interface {
	Enqueue(ctx context.Context, job Job) (uuid.UUID, error)
	Shutdown(ctx context.Context) error
}
