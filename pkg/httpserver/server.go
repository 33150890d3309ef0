package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// New creates an http.Server with the timeouts both processes use.
// Requests inherit ctx as their base context.
func New(ctx context.Context, addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
}

// Serve listens on srv.Addr and serves until ctx is done or the server
// fails. On cancellation it shuts down, waiting at most grace for
// in-flight requests before closing what remains.
func Serve(ctx context.Context, srv *http.Server, grace time.Duration, logger zerolog.Logger) error {
	listener, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", srv.Addr, err)
	}
	return ServeListener(ctx, srv, listener, grace, logger)
}

// ServeListener is Serve on an existing listener
func ServeListener(ctx context.Context, srv *http.Server, listener net.Listener, grace time.Duration, logger zerolog.Logger) error {
	logger.Info().Str("address", listener.Addr().String()).Msg("HTTP server listening")

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Graceful shutdown timed out, closing connections")
		_ = srv.Close()
	}
	return nil
}

// LimitBody caps request bodies at n bytes
func LimitBody(n int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, n)
		}
		next.ServeHTTP(w, r)
	})
}

// IsTooLarge reports whether err came from a body over the LimitBody cap
func IsTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}
