package coordinator

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/cuemby/burrow/pkg/apierror"
	"github.com/cuemby/burrow/pkg/httpserver"
	"github.com/rs/zerolog"
)

type tenantHandler func(w http.ResponseWriter, r *http.Request, t *tenant) error

// tenantRoute authenticates the caller, checks that the key covers the
// tenant named in the path, and maps returned errors to responses.
func (s *Service) tenantRoute(h tenantHandler) http.Handler {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("tenant")
		scope, _ := ScopeFrom(r.Context())
		if !scope.Allows(name) {
			apierror.Write(w, apierror.New(apierror.KindUnauthorized, ErrUnauthorized))
			return
		}
		t, ok := s.tenant(name)
		if !ok {
			apierror.Write(w, apierror.Newf(apierror.KindNotFound, "tenant %s not found", name))
			return
		}

		if err := h(w, r, t); err != nil {
			s.writeError(w, r, t, err)
		}
	})
	return s.authenticated(httpserver.LimitBody(maxBodySize, inner))
}

func (s *Service) writeError(w http.ResponseWriter, r *http.Request, t *tenant, err error) {
	if httpserver.IsTooLarge(err) {
		err = apierror.Newf(apierror.KindBadRequest, "request body exceeds %d bytes", maxBodySize)
	}
	logger := zerolog.Ctx(r.Context())
	if logger.GetLevel() == zerolog.Disabled {
		logger = &t.logger
	}

	env := apierror.Write(w, err)
	ev := logger.Warn()
	if env.UniqueID != "" {
		ev = logger.Error().Str("error_id", env.UniqueID)
	}
	ev.Err(err).Str("tenant", t.name).Str("path", r.URL.Path).Msg("Request failed")
}

func writeJSON(w http.ResponseWriter, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(data)
	return err
}

func decodeJSON(r io.Reader, v any) error {
	if err := json.NewDecoder(r).Decode(v); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return err
		}
		return apierror.Newf(apierror.KindBadRequest, "invalid request body: %v", err)
	}
	return nil
}
