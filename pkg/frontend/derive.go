package frontend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuemby/burrow/pkg/apierror"
	"github.com/cuemby/burrow/pkg/blobstore"
	"github.com/cuemby/burrow/pkg/fingerprint"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/tracing"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrMaxRetries is returned when the coordinator kept deferring a derivation
var ErrMaxRetries = errors.New("max retries exceeded waiting for derivation")

// retryPolicy shapes the wait between derive attempts. Both curves share
// one delay: in-progress answers add step up to busyCap, too-many-requests
// answers double it up to throttledCap.
type retryPolicy struct {
	maxAttempts  int
	initial      time.Duration
	step         time.Duration
	busyCap      time.Duration
	throttledCap time.Duration
}

var defaultRetry = retryPolicy{
	maxAttempts:  20,
	initial:      200 * time.Millisecond,
	step:         100 * time.Millisecond,
	busyCap:      2 * time.Second,
	throttledCap: 5 * time.Second,
}

func (p retryPolicy) busy(d time.Duration) time.Duration {
	return min(p.busyCap, d+p.step)
}

func (p retryPolicy) throttled(d time.Duration) time.Duration {
	return min(p.throttledCap, d*2)
}

// materialize returns the blob of a derivation, asking the coordinator to
// build it when the blob store does not have it yet. Concurrent misses for
// the same key share one derive loop.
func (s *Server) materialize(ctx context.Context, m *tenantMirror, params types.DeriveParams, key string) (*blobstore.Object, string, error) {
	obj, err := m.blobs.Get(ctx, key)
	if err == nil {
		return obj, "blob", nil
	}
	if !blobstore.IsNotFound(err) {
		s.logger.Warn().Err(err).Str("tenant", m.name).Str("key", key).Msg("Blob lookup failed, asking mom")
	}

	ch := s.flights.DoChan(m.name+"\x00"+key, func() (any, error) {
		// the loop outlives the first caller so joined callers still get an answer
		return nil, s.deriveLoop(context.WithoutCancel(ctx), m, params, key)
	})
	select {
	case <-ctx.Done():
		return nil, "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, "", res.Err
		}
	}

	obj, err = m.blobs.Get(ctx, key)
	if blobstore.IsNotFound(err) {
		return nil, "", fmt.Errorf("derivation %s was reported done but is not in the blob store", key)
	}
	if err != nil {
		return nil, "", apierror.New(apierror.KindTransientUpstream, err)
	}
	return obj, "derived", nil
}

func (s *Server) deriveLoop(ctx context.Context, m *tenantMirror, params types.DeriveParams, key string) error {
	ctx, span := tracing.Tracer().Start(ctx, "derive.wait")
	defer span.End()
	span.SetAttributes(attribute.String("tenant", m.name), attribute.String("key", key))

	logger := s.logger.With().Str("tenant", m.name).Str("key", key).Logger()

	if s.cfg.Env.IsDev() {
		if err := s.pushInput(ctx, m, params.Input); err != nil {
			return err
		}
	}

	start := time.Now()
	delay := s.retry.initial
	for attempt := 1; ; attempt++ {
		if attempt > s.retry.maxAttempts {
			span.SetStatus(codes.Error, ErrMaxRetries.Error())
			logger.Error().Int("attempts", s.retry.maxAttempts).Msg("Gave up waiting for derivation")
			return ErrMaxRetries
		}

		resp, err := s.mom.Derive(ctx, m.name, params)
		var reason string
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !retryable(err) {
				span.RecordError(err)
				return apierror.New(apierror.KindTransientUpstream, fmt.Errorf("mom failed to derive %s: %w", params.Input.Path, err))
			}
			logger.Warn().Err(err).Int("attempt", attempt).Msg("Derive request failed, retrying")
			reason = "transient"
			delay = s.retry.busy(delay)
		case resp.Done != nil:
			if resp.Done.OutputKey != key {
				return apierror.Newf(apierror.KindConflict,
					"derivation output key (%s) does not match expected key (%s)", resp.Done.OutputKey, key)
			}
			logger.Info().
				Str("input", params.Input.Path).
				Str("kind", string(params.Derivation.Kind)).
				Str("in", humanize.Bytes(uint64(max(params.Input.Size, 0)))).
				Str("out", humanize.Bytes(uint64(max(resp.Done.OutputSize, 0)))).
				Dur("took", time.Since(start)).
				Msg("Derivation ready")
			return nil
		case resp.AlreadyInProgress != nil:
			logger.Debug().Str("info", resp.AlreadyInProgress.Info).Msg("Derivation in progress")
			reason = "in_progress"
			delay = s.retry.busy(delay)
		case resp.TooManyRequests != nil:
			logger.Warn().Msg("Mom is busy, backing off")
			reason = "too_many_requests"
			delay = s.retry.throttled(delay)
		default:
			return errors.New("mom sent an empty derive response")
		}

		metrics.DeriveRetriesTotal.WithLabelValues(reason).Inc()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return errors.New("front-end is shutting down")
		case <-time.After(delay):
		}
	}
}

// retryable reports whether a failed derive call may succeed later.
// Internal coordinator errors and client errors are final.
func retryable(err error) bool {
	var remote *apierror.RemoteError
	if errors.As(err, &remote) {
		return false
	}
	var status *apierror.StatusError
	if errors.As(err, &status) {
		return status.Transient()
	}
	return true
}

// pushInput uploads an input from the tenant's working tree when the blob
// store does not have it. Only development front-ends share a disk with
// the tenant sources.
func (s *Server) pushInput(ctx context.Context, m *tenantMirror, input types.Input) error {
	key := fingerprint.InputKey(input.ContentHash)
	present, err := m.blobs.Head(ctx, key)
	if err != nil {
		return apierror.New(apierror.KindTransientUpstream, err)
	}
	if present {
		return nil
	}
	if m.baseDir == "" {
		return fmt.Errorf("input %s is not uploaded and tenant %s has no base dir", input.Path, m.name)
	}

	rel := strings.TrimPrefix(input.Path, "/")
	if !filepath.IsLocal(rel) {
		return apierror.Newf(apierror.KindBadRequest, "input path %s escapes the tenant base dir", input.Path)
	}
	data, err := os.ReadFile(filepath.Join(m.baseDir, filepath.FromSlash(rel)))
	if err != nil {
		return fmt.Errorf("failed to read input %s: %w", input.Path, err)
	}
	if _, err := m.blobs.Put(ctx, key, bytes.NewReader(data), input.ContentType); err != nil {
		return fmt.Errorf("failed to upload input %s: %w", input.Path, err)
	}
	s.logger.Info().Str("tenant", m.name).Str("input", input.Path).Str("key", key).Msg("Uploaded input from disk")
	return nil
}
