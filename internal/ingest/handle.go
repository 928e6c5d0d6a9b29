package ingest

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"

	"github.com/joseph-ayodele/doc-analyzer/constants"
)

// Handle is a caller-provided document source. Ingest opens each handle once.
type Handle interface {
	Name() string
	// MediaType is the declared type; "" lets the ingestor resolve it.
	MediaType() string
	Open(ctx context.Context) (io.ReadCloser, error)
}

// FileHandle reads a local file.
type FileHandle struct {
	Path string
	Type string // optional override
}

func NewFileHandle(path string) FileHandle { return FileHandle{Path: path} }

func (h FileHandle) Name() string { return filepath.Base(h.Path) }

func (h FileHandle) MediaType() string {
	if h.Type != "" {
		return h.Type
	}
	return constants.MediaTypeForExt(filepath.Ext(h.Path))
}

func (h FileHandle) Open(context.Context) (io.ReadCloser, error) {
	return os.Open(h.Path)
}

// BytesHandle wraps an in-memory blob. The bytes are copied during ingest.
type BytesHandle struct {
	name      string
	mediaType string
	data      []byte
}

func NewBytesHandle(name, mediaType string, data []byte) BytesHandle {
	return BytesHandle{name: name, mediaType: mediaType, data: data}
}

func (h BytesHandle) Name() string      { return h.name }
func (h BytesHandle) MediaType() string { return h.mediaType }

func (h BytesHandle) Open(context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(h.data)), nil
}

// MultipartHandle reads an uploaded form file.
type MultipartHandle struct {
	header *multipart.FileHeader
}

func NewMultipartHandle(fh *multipart.FileHeader) MultipartHandle {
	return MultipartHandle{header: fh}
}

func (h MultipartHandle) Name() string { return h.header.Filename }

func (h MultipartHandle) MediaType() string {
	if ct := constants.NormalizeMediaType(h.header.Header.Get("Content-Type")); ct != "" && ct != constants.MediaTypeUnknown {
		return ct
	}
	return constants.MediaTypeForExt(filepath.Ext(h.header.Filename))
}

func (h MultipartHandle) Open(context.Context) (io.ReadCloser, error) {
	return h.header.Open()
}
