package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/google/renameio"
)

// LocalStore keeps blobs as files under a root directory. Used in
// development, where the coordinator and front-ends share a disk.
type LocalStore struct {
	root string
}

// NewLocalStore creates the root directory if needed
func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &LocalStore{root: root}, nil
}

// Root returns the directory blobs live in
func (s *LocalStore) Root() string {
	return s.root
}

func (s *LocalStore) path(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", &Error{Kind: KindPermanent, Op: "resolve", Key: key, Err: err}
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

// Get opens the blob file
func (s *LocalStore) Get(ctx context.Context, key string) (*Object, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, classifyFS("get", key, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, classifyFS("get", key, err)
	}
	return &Object{
		Body:        f,
		ContentType: contentTypeFor(key),
		Size:        info.Size(),
	}, nil
}

// Put writes to a temporary file and renames it over the key
func (s *LocalStore) Put(ctx context.Context, key string, body io.Reader, contentType string) (PutResult, error) {
	p, err := s.path(key)
	if err != nil {
		return PutResult{}, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return PutResult{}, classifyFS("put", key, err)
	}

	pending, err := renameio.TempFile("", p)
	if err != nil {
		return PutResult{}, classifyFS("put", key, err)
	}
	defer pending.Cleanup()

	if _, err := io.Copy(pending, readerWithContext(ctx, body)); err != nil {
		return PutResult{}, classifyFS("put", key, err)
	}
	if err := pending.Chmod(0644); err != nil {
		return PutResult{}, classifyFS("put", key, err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return PutResult{}, classifyFS("put", key, err)
	}
	return PutResult{}, nil
}

// Head stats the blob file
func (s *LocalStore) Head(ctx context.Context, key string) (bool, error) {
	p, err := s.path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, classifyFS("head", key, err)
	}
	return true, nil
}

func classifyFS(op, key string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return notFound(op, key)
	case errors.Is(err, fs.ErrPermission), errors.Is(err, syscall.ENOSPC):
		return &Error{Kind: KindPermanent, Op: op, Key: key, Err: err}
	}
	return &Error{Kind: KindTransient, Op: op, Key: key, Err: err}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return ctxReader{ctx: ctx, r: r}
}
