package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/joseph-ayodele/doc-analyzer/constants"
	"github.com/joseph-ayodele/doc-analyzer/internal/common"
)

// ObjectStore opens stored documents by key.
type ObjectStore interface {
	// Open returns the object body and its stored content type ("" when unknown).
	Open(ctx context.Context, key string) (io.ReadCloser, string, error)
}

// ObjectHandle is a document kept in an ObjectStore.
type ObjectHandle struct {
	store ObjectStore
	key   string
}

func NewObjectHandle(store ObjectStore, key string) ObjectHandle {
	return ObjectHandle{store: store, key: key}
}

func (h ObjectHandle) Name() string { return path.Base(h.key) }

func (h ObjectHandle) MediaType() string {
	return constants.MediaTypeForExt(path.Ext(h.key))
}

func (h ObjectHandle) Open(ctx context.Context) (io.ReadCloser, error) {
	rc, contentType, err := h.store.Open(ctx, h.key)
	if err != nil {
		return nil, err
	}
	return &typedReadCloser{ReadCloser: rc, contentType: contentType}, nil
}

// typedReadCloser carries the content type reported by the store.
type typedReadCloser struct {
	io.ReadCloser
	contentType string
}

func (t *typedReadCloser) ContentType() string { return t.contentType }

// MinioStore reads objects from one bucket of an S3-compatible store.
type MinioStore struct {
	client *minio.Client
	bucket string
}

func NewMinioStore(cfg common.MinioConfig) (*MinioStore, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("minio endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("minio bucket is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

func (s *MinioStore) Bucket() string { return s.bucket }

// Open fetches key. Stat is called up front so a missing object fails here rather
// than on the first read.
func (s *MinioStore) Open(ctx context.Context, key string) (io.ReadCloser, string, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", fmt.Errorf("get object %s/%s: %w", s.bucket, key, err)
	}
	info, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, "", fmt.Errorf("stat object %s/%s: %w", s.bucket, key, err)
	}
	return obj, info.ContentType, nil
}

// Put stores data under key. Used by the CLI to stage local documents.
func (s *MinioStore) Put(ctx context.Context, key, contentType string, r io.Reader, size int64) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put object %s/%s: %w", s.bucket, key, err)
	}
	return nil
}
