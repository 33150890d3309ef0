package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
)

// Object is a blob being read. Body must be closed and can be consumed once.
type Object struct {
	Body        io.ReadCloser
	ContentType string
	// Size is -1 when the backend does not report it
	Size int64
}

// PutResult describes a completed write
type PutResult struct {
	ETag string
}

// Store is a content-addressed blob store scoped to one tenant.
// Writes are atomic and last-writer-wins per key.
type Store interface {
	Get(ctx context.Context, key string) (*Object, error)
	Put(ctx context.Context, key string, body io.Reader, contentType string) (PutResult, error)
	Head(ctx context.Context, key string) (bool, error)
}

// ErrorKind tags a blob store failure
type ErrorKind int

const (
	KindNotFound ErrorKind = iota + 1
	KindTransient
	KindPermanent
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not-found"
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	}
	return "unknown"
}

// ErrNotFound matches any not-found Error via errors.Is
var ErrNotFound = errors.New("blob not found")

// Error is returned by every Store implementation
type Error struct {
	Kind ErrorKind
	Op   string
	Key  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("blobstore %s %s: %s", e.Op, e.Key, e.Kind)
	}
	return fmt.Sprintf("blobstore %s %s: %s: %v", e.Op, e.Key, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return target == ErrNotFound && e.Kind == KindNotFound
}

func notFound(op, key string) error {
	return &Error{Kind: KindNotFound, Op: op, Key: key}
}

// IsNotFound reports whether err means the key does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsTransient reports whether err may succeed on retry
func IsTransient(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindTransient
}

// ValidateKey rejects keys that could escape a namespace
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty blob key")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("invalid blob key %q", key)
	}
	if path.Clean(key) != key {
		return fmt.Errorf("invalid blob key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." || part == "." {
			return fmt.Errorf("invalid blob key %q", key)
		}
	}
	return nil
}

// contentTypeFor guesses a content type from the key extension
func contentTypeFor(key string) string {
	switch path.Ext(key) {
	case ".jxl":
		return "image/jxl"
	case ".avif":
		return "image/avif"
	case ".webp":
		return "image/webp"
	}
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// Exists is a Head implementation for stores that only have Get
func Exists(ctx context.Context, s Store, key string) (bool, error) {
	obj, err := s.Get(ctx, key)
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_ = obj.Body.Close()
	return true, nil
}
