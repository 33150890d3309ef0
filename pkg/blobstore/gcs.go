//go:build gcp

package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSStore implements Store on Google Cloud Storage
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSStoreConfig holds configuration for GCSStore
type GCSStoreConfig struct {
	Bucket string
	Prefix string
}

func init() {
	openGCS = func(ctx context.Context, bucket, prefix string) (Store, error) {
		return NewGCSStore(ctx, GCSStoreConfig{Bucket: bucket, Prefix: prefix})
	}
}

// NewGCSStore creates a client using application default credentials
func NewGCSStore(ctx context.Context, cfg GCSStoreConfig) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *GCSStore) Get(ctx context.Context, key string) (*Object, error) {
	r, err := s.client.Bucket(s.bucket).Object(s.prefix + key).NewReader(ctx)
	if err != nil {
		return nil, classifyGCS("get", key, err)
	}
	contentType := r.Attrs.ContentType
	if contentType == "" {
		contentType = contentTypeFor(key)
	}
	return &Object{Body: r, ContentType: contentType, Size: r.Attrs.Size}, nil
}

func (s *GCSStore) Put(ctx context.Context, key string, body io.Reader, contentType string) (PutResult, error) {
	if err := ValidateKey(key); err != nil {
		return PutResult{}, &Error{Kind: KindPermanent, Op: "put", Key: key, Err: err}
	}
	if contentType == "" {
		contentType = contentTypeFor(key)
	}

	w := s.client.Bucket(s.bucket).Object(s.prefix + key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, body); err != nil {
		_ = w.Close()
		return PutResult{}, classifyGCS("put", key, err)
	}
	if err := w.Close(); err != nil {
		return PutResult{}, classifyGCS("put", key, err)
	}
	return PutResult{ETag: w.Attrs().Etag}, nil
}

func (s *GCSStore) Head(ctx context.Context, key string) (bool, error) {
	_, err := s.client.Bucket(s.bucket).Object(s.prefix + key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, classifyGCS("head", key, err)
	}
	return true, nil
}

func classifyGCS(op, key string, err error) error {
	switch {
	case errors.Is(err, storage.ErrObjectNotExist):
		return notFound(op, key)
	case errors.Is(err, storage.ErrBucketNotExist):
		return &Error{Kind: KindPermanent, Op: op, Key: key, Err: err}
	}
	return &Error{Kind: KindTransient, Op: op, Key: key, Err: err}
}
