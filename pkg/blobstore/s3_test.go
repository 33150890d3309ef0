package blobstore

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 answers path-style GET/HEAD/PUT on a single bucket
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	deny    bool
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.deny {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `<Error><Code>AccessDenied</Code><Message>denied</Message></Error>`)
		return
	}

	key := strings.TrimPrefix(r.URL.Path, "/bucket/")
	switch r.Method {
	case http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		f.objects[key] = data
		f.types[key] = r.Header.Get("Content-Type")
		w.Header().Set("ETag", `"etag-1"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet, http.MethodHead:
		data, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			if r.Method == http.MethodGet {
				_, _ = io.WriteString(w, `<Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			}
			return
		}
		w.Header().Set("Content-Type", f.types[key])
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(data)
		}
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newFakeS3Store(t *testing.T) (*S3Store, *fakeS3) {
	fake := &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	s, err := NewS3Store(context.Background(), S3StoreConfig{
		Bucket:          "bucket",
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	})
	require.NoError(t, err)
	return s, fake
}

func TestS3Store(t *testing.T) {
	ctx := context.Background()
	s, fake := newFakeS3Store(t)

	res, err := s.Put(ctx, "inputs/abc", strings.NewReader("payload"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, `"etag-1"`, res.ETag)
	assert.Equal(t, []byte("payload"), fake.objects["inputs/abc"])

	obj, err := s.Get(ctx, "inputs/abc")
	require.NoError(t, err)
	assert.Equal(t, "text/plain", obj.ContentType)
	assert.Equal(t, int64(7), obj.Size)
	assert.Equal(t, "payload", readAll(t, obj))

	ok, err := s.Head(ctx, "inputs/abc")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestS3StoreErrors(t *testing.T) {
	ctx := context.Background()
	s, fake := newFakeS3Store(t)

	_, err := s.Get(ctx, "inputs/missing")
	assert.True(t, IsNotFound(err))

	ok, err := s.Head(ctx, "inputs/missing")
	require.NoError(t, err)
	assert.False(t, ok)

	fake.mu.Lock()
	fake.deny = true
	fake.mu.Unlock()

	_, err = s.Get(ctx, "inputs/abc")
	require.Error(t, err)
	var be *Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, KindPermanent, be.Kind)
}
