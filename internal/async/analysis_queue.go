package async

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/joseph-ayodele/doc-analyzer/internal/ingest"
	"github.com/joseph-ayodele/doc-analyzer/internal/llm"
)

// Analyzer runs a single job. analysis.Service implements it.
type Analyzer interface {
	AnalyzeHandles(ctx context.Context, handles []ingest.Handle, prompt, override string) (llm.AnalysisResult, error)
}

// Recorder receives job and depth observations.
type Recorder interface {
	ObserveJob(status string)
	SetQueueDepth(n int)
}

type AnalysisQueue struct {
	analyzer Analyzer
	log      *zap.Logger
	workers  int
	timeout  time.Duration
	onResult func(Result)
	recorder Recorder

	base   context.Context
	cancel context.CancelFunc

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	mu      sync.RWMutex
	closed  bool
	closing chan struct{}
	senders sync.WaitGroup // Enqueue calls past the closed check
}

var _ Queue = (*AnalysisQueue)(nil)

type Option func(*AnalysisQueue)

func WithWorkers(n int) Option {
	return func(q *AnalysisQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(q *AnalysisQueue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}

func WithProcessTimeout(d time.Duration) Option {
	return func(q *AnalysisQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// WithResultHandler is called from worker goroutines; it must be safe for concurrent use.
func WithResultHandler(fn func(Result)) Option {
	return func(q *AnalysisQueue) { q.onResult = fn }
}

func WithRecorder(r Recorder) Option {
	return func(q *AnalysisQueue) { q.recorder = r }
}

// NewAnalysisQueue starts the workers. Cancelling ctx aborts in-flight jobs.
func NewAnalysisQueue(ctx context.Context, analyzer Analyzer, logger *zap.Logger, opts ...Option) *AnalysisQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &AnalysisQueue{
		analyzer: analyzer,
		log:      logger.With(zap.String("component", "async")),
		workers:  4,
		timeout:  10 * time.Minute,
		ch:       make(chan Job, 256),
		closing:  make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	q.base, q.cancel = context.WithCancel(ctx)
	q.start()
	return q
}

func (q *AnalysisQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.log.Debug("async.worker.started", zap.Int("worker_id", workerID))
				for job := range q.ch {
					q.setDepth()
					q.process(workerID, job)
				}
				q.log.Debug("async.worker.stopped", zap.Int("worker_id", workerID))
			}(i + 1)
		}
	})
}

func (q *AnalysisQueue) process(workerID int, job Job) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(q.base, q.timeout)
	res, err := q.analyzer.AnalyzeHandles(ctx, job.Handles, job.Prompt, job.Context)
	cancel()

	out := Result{Job: job, Analysis: res, Err: err, Elapsed: time.Since(start)}
	if err != nil {
		q.log.Error("async.job.failed",
			zap.Int("worker_id", workerID),
			zap.String("job_id", job.ID.String()),
			zap.String("name", job.Name),
			zap.Error(err))
		q.observe("failed")
	} else {
		q.log.Info("async.job.ok",
			zap.Int("worker_id", workerID),
			zap.String("job_id", job.ID.String()),
			zap.String("name", job.Name),
			zap.Int64("elapsed_ms", out.Elapsed.Milliseconds()))
		q.observe("ok")
	}
	if q.onResult != nil {
		q.onResult(out)
	}
}

// Enqueue blocks while the queue is full, until ctx is done or Shutdown starts.
func (q *AnalysisQueue) Enqueue(ctx context.Context, job Job) (uuid.UUID, error) {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		q.log.Warn("async.enqueue.rejected", zap.String("name", job.Name))
		return uuid.Nil, ErrQueueClosed
	}
	// q.ch stays open until every registered sender has returned
	q.senders.Add(1)
	q.mu.RUnlock()
	defer q.senders.Done()

	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}

	select {
	case q.ch <- job:
	default:
		q.log.Warn("async.queue.full", zap.String("job_id", job.ID.String()))
		select {
		case q.ch <- job:
		case <-q.closing:
			q.log.Warn("async.enqueue.rejected", zap.String("name", job.Name))
			return uuid.Nil, ErrQueueClosed
		case <-ctx.Done():
			return uuid.Nil, ctx.Err()
		}
	}
	q.setDepth()
	q.log.Debug("async.job.queued", zap.String("job_id", job.ID.String()), zap.String("name", job.Name), zap.Int("documents", len(job.Handles)))
	return job.ID, nil
}

// Shutdown stops intake and waits for queued jobs to drain. If ctx ends first,
// in-flight jobs are cancelled and ctx's error returned.
func (q *AnalysisQueue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closing)
	q.mu.Unlock()

	// blocked senders give up on q.closing, so this wait is short
	q.senders.Wait()
	close(q.ch)

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-done:
		q.cancel()
		q.log.Info("async.shutdown.drained")
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		q.log.Warn("async.shutdown.interrupted")
		return ctx.Err()
	}
}

func (q *AnalysisQueue) observe(status string) {
	if q.recorder != nil {
		q.recorder.ObserveJob(status)
	}
}

func (q *AnalysisQueue) setDepth() {
	if q.recorder != nil {
		q.recorder.SetQueueDepth(len(q.ch))
	}
}
