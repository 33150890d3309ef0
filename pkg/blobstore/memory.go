package blobstore

import (
	"bytes"
	"context"
	"io"
	"sync"
)

type memoryBlob struct {
	data        []byte
	contentType string
}

// MemoryStore is an in-process Store for tests and single-process setups
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]memoryBlob
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string]memoryBlob)}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (*Object, error) {
	s.mu.RLock()
	b, ok := s.blobs[key]
	s.mu.RUnlock()
	if !ok {
		return nil, notFound("get", key)
	}
	return &Object{
		Body:        io.NopCloser(bytes.NewReader(b.data)),
		ContentType: b.contentType,
		Size:        int64(len(b.data)),
	}, nil
}

func (s *MemoryStore) Put(ctx context.Context, key string, body io.Reader, contentType string) (PutResult, error) {
	if err := ValidateKey(key); err != nil {
		return PutResult{}, &Error{Kind: KindPermanent, Op: "put", Key: key, Err: err}
	}
	data, err := io.ReadAll(readerWithContext(ctx, body))
	if err != nil {
		return PutResult{}, &Error{Kind: KindTransient, Op: "put", Key: key, Err: err}
	}
	if contentType == "" {
		contentType = contentTypeFor(key)
	}

	s.mu.Lock()
	s.blobs[key] = memoryBlob{data: data, contentType: contentType}
	s.mu.Unlock()
	return PutResult{}, nil
}

func (s *MemoryStore) Head(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[key]
	return ok, nil
}

// Len returns the number of stored blobs
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
