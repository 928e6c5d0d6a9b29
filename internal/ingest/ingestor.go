package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/doc-analyzer/constants"
	"github.com/joseph-ayodele/doc-analyzer/internal/common"
	"github.com/joseph-ayodele/doc-analyzer/internal/llm"
)

// DefaultMaxDocumentBytes caps a single document.
const DefaultMaxDocumentBytes int64 = 20 << 20

var (
	ErrDocumentTooLarge = errors.New("document exceeds size limit")
	ErrEmptyDocument    = errors.New("document is empty")
)

// IngestError reports the first handle that could not be read.
type IngestError struct {
	Index int
	Name  string
	Err   error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("ingest document %d (%s): %v", e.Index, e.Name, e.Err)
}

func (e *IngestError) Unwrap() error { return e.Err }

func (e *IngestError) Is(target error) bool { return target == common.ErrIngest }

// BufferPool lends scratch buffers for reading handles.
type BufferPool interface {
	Get() *bytes.Buffer
	Put(*bytes.Buffer)
}

// maxPooledBuffer keeps oversized scratch buffers out of the pool.
const maxPooledBuffer = 4 << 20

type syncBufferPool struct {
	pool sync.Pool
}

// NewBufferPool returns a sync.Pool backed BufferPool.
func NewBufferPool() BufferPool {
	return &syncBufferPool{pool: sync.Pool{New: func() any { return new(bytes.Buffer) }}}
}

func (p *syncBufferPool) Get() *bytes.Buffer {
	buf := p.pool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

func (p *syncBufferPool) Put(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > maxPooledBuffer {
		return
	}
	buf.Reset()
	p.pool.Put(buf)
}

// Observer receives one observation per Ingest call.
type Observer interface {
	ObserveIngest(documents int, bytes int64, err error)
}

// Ingestor materializes handles into immutable documents. It keeps no reference to
// any buffer or document once Ingest returns and is safe for concurrent use.
type Ingestor struct {
	pool        BufferPool
	maxBytes    int64
	concurrency int
	observer    Observer
	log         *zap.Logger
}

type Option func(*Ingestor)

func WithBufferPool(p BufferPool) Option {
	return func(i *Ingestor) {
		if p != nil {
			i.pool = p
		}
	}
}

func WithMaxDocumentBytes(n int64) Option {
	return func(i *Ingestor) {
		if n > 0 {
			i.maxBytes = n
		}
	}
}

// WithConcurrency reads up to n handles at once; output order is unchanged.
func WithConcurrency(n int) Option {
	return func(i *Ingestor) {
		if n > 0 {
			i.concurrency = n
		}
	}
}

func WithObserver(o Observer) Option {
	return func(i *Ingestor) { i.observer = o }
}

func WithLogger(l *zap.Logger) Option {
	return func(i *Ingestor) {
		if l != nil {
			i.log = l
		}
	}
}

func New(opts ...Option) *Ingestor {
	i := &Ingestor{
		pool:        NewBufferPool(),
		maxBytes:    DefaultMaxDocumentBytes,
		concurrency: 1,
		log:         zap.NewNop(),
	}
	for _, o := range opts {
		o(i)
	}
	i.log = i.log.With(zap.String("component", "ingest"))
	return i
}

// Ingest reads every handle in order. On success the result has one document per
// handle in input order; otherwise the error is an *IngestError for the lowest
// failing index.
func (i *Ingestor) Ingest(ctx context.Context, handles []Handle) ([]llm.Document, error) {
	var (
		docs []llm.Document
		err  error
	)
	if i.concurrency <= 1 || len(handles) <= 1 {
		docs, err = i.ingestSequential(ctx, handles)
	} else {
		docs, err = i.ingestConcurrent(ctx, handles)
	}

	var total int64
	for _, d := range docs {
		total += int64(len(d.Data))
	}
	if i.observer != nil {
		i.observer.ObserveIngest(len(docs), total, err)
	}
	if err != nil {
		i.log.Warn("ingest.failed", zap.Int("handles", len(handles)), zap.Error(err))
		return nil, err
	}
	i.log.Debug("ingest.ok", zap.Int("documents", len(docs)), zap.Int64("bytes", total))
	return docs, nil
}

func (i *Ingestor) ingestSequential(ctx context.Context, handles []Handle) ([]llm.Document, error) {
	out := make([]llm.Document, 0, len(handles))
	for idx, h := range handles {
		doc, err := i.read(ctx, idx, h)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

func (i *Ingestor) ingestConcurrent(ctx context.Context, handles []Handle) ([]llm.Document, error) {
	out := make([]llm.Document, len(handles))
	errs := make([]error, len(handles))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.concurrency)
	for idx, h := range handles {
		g.Go(func() error {
			doc, err := i.read(gctx, idx, h)
			if err != nil {
				errs[idx] = err
				return err
			}
			out[idx] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, firstCause(ctx, errs, err)
	}
	return out, nil
}

// firstCause picks the lowest-index failure that was not a side effect of the
// group cancelling its siblings.
func firstCause(parent context.Context, errs []error, fallback error) error {
	for _, err := range errs {
		if err == nil {
			continue
		}
		if parent.Err() == nil && errors.Is(err, context.Canceled) {
			continue
		}
		return err
	}
	return fallback
}

func (i *Ingestor) read(ctx context.Context, idx int, h Handle) (llm.Document, error) {
	name := h.Name()
	fail := func(err error) (llm.Document, error) {
		return llm.Document{}, &IngestError{Index: idx, Name: name, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	rc, err := h.Open(ctx)
	if err != nil {
		return fail(err)
	}
	defer func() {
		if cErr := rc.Close(); cErr != nil {
			i.log.Warn("ingest.close_error", zap.String("name", name), zap.Error(cErr))
		}
	}()

	buf := i.pool.Get()
	defer i.pool.Put(buf)

	n, err := buf.ReadFrom(io.LimitReader(&ctxReader{ctx: ctx, r: rc}, i.maxBytes+1))
	if err != nil {
		return fail(err)
	}
	if n > i.maxBytes {
		return fail(fmt.Errorf("%w: more than %d bytes", ErrDocumentTooLarge, i.maxBytes))
	}
	if n == 0 {
		return fail(ErrEmptyDocument)
	}

	data := make([]byte, n)
	copy(data, buf.Bytes())
	return llm.Document{
		Name:      name,
		MediaType: resolveMediaType(h, rc, data),
		Data:      data,
	}, nil
}

// resolveMediaType prefers the declared type, then the store's type, then the
// extension, then content sniffing.
func resolveMediaType(h Handle, rc io.ReadCloser, data []byte) string {
	if mt := constants.NormalizeMediaType(h.MediaType()); mt != "" && mt != constants.MediaTypeUnknown {
		return mt
	}
	if ct, ok := rc.(interface{ ContentType() string }); ok {
		if mt := constants.NormalizeMediaType(ct.ContentType()); mt != "" && mt != constants.MediaTypeUnknown {
			return mt
		}
	}
	if mt := constants.MediaTypeForExt(filepath.Ext(h.Name())); mt != "" {
		return mt
	}
	return constants.NormalizeMediaType(mimetype.Detect(data).String())
}

// ctxReader stops a long read once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
