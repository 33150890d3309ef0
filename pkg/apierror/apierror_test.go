package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCauses(t *testing.T) {
	root := errors.New("connection refused")
	mid := fmt.Errorf("failed to get input: %w", root)
	top := fmt.Errorf("derivation failed: %w", mid)

	assert.Equal(t, []string{"derivation failed", "failed to get input", "connection refused"}, Causes(top))
	assert.Nil(t, Causes(nil))
}

func TestCausesSkipsTransparentWrappers(t *testing.T) {
	root := errors.New("disk full")
	wrapped := pkgerrors.WithStack(root)
	top := fmt.Errorf("put failed: %w", wrapped)

	assert.Equal(t, []string{"put failed", "disk full"}, Causes(top))
}

func TestFrames(t *testing.T) {
	err := fmt.Errorf("outer: %w", pkgerrors.WithStack(errors.New("inner")))
	frames := Frames(err)
	assert.NotEmpty(t, frames)

	assert.Equal(t, []string{}, Frames(errors.New("plain")))
}

func TestWrite(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		status     int
		structured bool
	}{
		{"internal", errors.New("boom"), http.StatusInternalServerError, true},
		{"not found", Newf(KindNotFound, "no such asset"), http.StatusNotFound, false},
		{"bad request", Newf(KindBadRequest, "bad json"), http.StatusBadRequest, false},
		{"unauthorized", Newf(KindUnauthorized, "no key"), http.StatusUnauthorized, false},
		{"wrapped kind", fmt.Errorf("ctx: %w", Newf(KindForbidden, "nope")), http.StatusForbidden, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			Write(w, tt.err)

			assert.Equal(t, tt.status, w.Code)
			if tt.structured {
				assert.Equal(t, "1", w.Header().Get(HeaderStructured))
				var env Envelope
				require.NoError(t, json.NewDecoder(w.Body).Decode(&env))
				assert.NotEmpty(t, env.UniqueID)
				assert.Equal(t, []string{"boom"}, env.Errors)
			} else {
				assert.Empty(t, w.Header().Get(HeaderStructured))
			}
		})
	}
}

func TestFromResponse(t *testing.T) {
	t.Run("structured", func(t *testing.T) {
		w := httptest.NewRecorder()
		Write(w, fmt.Errorf("derive: %w", errors.New("transformer crashed")))

		err := FromResponse(w.Result())
		var remote *RemoteError
		require.ErrorAs(t, err, &remote)
		assert.Equal(t, []string{"derive", "transformer crashed"}, remote.Causes)
		assert.Equal(t, "derive: transformer crashed", remote.Error())
	})

	t.Run("plain status", func(t *testing.T) {
		w := httptest.NewRecorder()
		http.Error(w, "bad gateway", http.StatusBadGateway)

		err := FromResponse(w.Result())
		var status *StatusError
		require.ErrorAs(t, err, &status)
		assert.Equal(t, http.StatusBadGateway, status.Code)
		assert.True(t, status.Transient())
	})

	t.Run("success", func(t *testing.T) {
		w := httptest.NewRecorder()
		w.WriteHeader(http.StatusOK)
		assert.NoError(t, FromResponse(w.Result()))
	})
}
