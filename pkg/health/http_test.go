package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPChecker(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		min, max    int
		wantHealthy bool
	}{
		{name: "ok", status: http.StatusOK, wantHealthy: true},
		{name: "server error", status: http.StatusInternalServerError},
		{name: "redirect is not healthy by default", status: http.StatusTemporaryRedirect},
		{name: "custom range", status: http.StatusTemporaryRedirect, min: 200, max: 399, wantHealthy: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			checker := NewHTTPChecker(server.URL)
			checker.Client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
			if tt.min != 0 {
				checker.ExpectedStatusMin, checker.ExpectedStatusMax = tt.min, tt.max
			}

			result := checker.Check(context.Background())
			assert.Equal(t, tt.wantHealthy, result.Healthy, result.Message)
			assert.Positive(t, result.Duration)
		})
	}
}

func TestHTTPCheckerHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	assert.False(t, NewHTTPChecker(server.URL).Check(context.Background()).Healthy)
	assert.True(t, NewHTTPChecker(server.URL).WithHeader("Authorization", "Bearer k").Check(context.Background()).Healthy)
}

func TestHTTPCheckerTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	result := NewHTTPChecker(server.URL).Check(ctx)
	assert.False(t, result.Healthy)
	assert.Contains(t, result.Message, "request failed")
}

func TestCheckFunc(t *testing.T) {
	ok := CheckFunc(func(context.Context) error { return nil }).Check(context.Background())
	assert.True(t, ok.Healthy)

	bad := CheckFunc(func(context.Context) error { return errors.New("down") }).Check(context.Background())
	require.False(t, bad.Healthy)
	assert.Equal(t, "down", bad.Message)
}
