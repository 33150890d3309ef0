package coordinator

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/cuemby/burrow/pkg/apierror"
	"github.com/cuemby/burrow/pkg/blobstore"
	"github.com/cuemby/burrow/pkg/fingerprint"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/tracing"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/dustin/go-humanize"
	pkgerrors "github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

func (s *Service) handleDerive(w http.ResponseWriter, r *http.Request, t *tenant) error {
	var params types.DeriveParams
	if err := decodeJSON(r.Body, &params); err != nil {
		return err
	}
	if params.Input.ContentHash == "" {
		return apierror.Newf(apierror.KindBadRequest, "input %s has no content hash", params.Input.Path)
	}

	resp, err := s.Derive(r.Context(), t.name, params)
	if err != nil {
		return err
	}
	return writeJSON(w, resp)
}

// Derive materializes a derivation, or reports why it cannot right now.
// At most one build per output key runs at a time; callers arriving during
// a build are told it is in progress.
func (s *Service) Derive(ctx context.Context, tenantName string, params types.DeriveParams) (types.DeriveResponse, error) {
	t, ok := s.tenant(tenantName)
	if !ok {
		return types.DeriveResponse{}, apierror.Newf(apierror.KindNotFound, "tenant %s not found", tenantName)
	}

	key := fingerprint.KeyFor(params.Input, params.Derivation)
	outcome := "error"
	defer func() {
		metrics.DeriveRequestsTotal.WithLabelValues(t.name, outcome).Inc()
	}()

	if since, running := t.derives.InFlight(key); running {
		outcome = "in_progress"
		return inProgress(since), nil
	}

	size, present, err := s.present(ctx, t, key)
	if err != nil {
		return types.DeriveResponse{}, err
	}
	if present {
		outcome = "done"
		return types.DeriveResponse{Done: &types.DeriveDone{OutputSize: size, OutputKey: key}}, nil
	}

	if !s.admit(ctx, t) {
		outcome = "too_many_requests"
		return types.DeriveResponse{TooManyRequests: &types.TooManyRequests{}}, nil
	}

	wait, started := t.derives.Start(ctx, key, func(ctx context.Context) (types.DeriveDone, error) {
		defer t.budget.Release(1)
		return s.build(ctx, t, params, key)
	})
	if !started {
		t.budget.Release(1)
		outcome = "in_progress"
		return inProgress(time.Now()), nil
	}

	done, err := wait(ctx)
	if err != nil {
		return types.DeriveResponse{}, err
	}
	outcome = "done"
	return types.DeriveResponse{Done: &done}, nil
}

func inProgress(since time.Time) types.DeriveResponse {
	return types.DeriveResponse{AlreadyInProgress: &types.InProgress{
		Info: "build started " + humanize.Time(since),
	}}
}

// admit takes one unit of the tenant's transformer budget. The caller
// owns the unit when admit returns true.
func (s *Service) admit(ctx context.Context, t *tenant) bool {
	allowed, err := s.limiter.Allow(ctx, t.name)
	if err != nil {
		// the limiter is advisory; the semaphore still bounds the work
		t.logger.Warn().Err(err).Msg("Rate limiter unavailable")
		allowed = true
	}
	if !allowed {
		return false
	}
	return t.budget.TryAcquire(1)
}

// present checks the index, then the blob store, for key. A blob found in
// the store but missing from the index is added to it.
func (s *Service) present(ctx context.Context, t *tenant, key string) (int64, bool, error) {
	indexed, err := t.meta.HasKey(ctx, key)
	if err != nil {
		t.logger.Warn().Err(err).Str("key", key).Msg("Index lookup failed, asking the blob store")
	}

	obj, err := t.blobs.Get(ctx, key)
	if blobstore.IsNotFound(err) {
		if indexed {
			t.logger.Warn().Str("key", key).Msg("Indexed blob is missing from the store")
		}
		return 0, false, nil
	}
	if err != nil {
		return 0, false, pkgerrors.Wrapf(err, "failed to look up %s", key)
	}
	size := obj.Size
	_ = obj.Body.Close()
	if size < 0 {
		size = 0
	}

	if !indexed {
		if err := t.meta.MarkPresent(ctx, key); err != nil {
			t.logger.Warn().Err(err).Str("key", key).Msg("Failed to repair index")
		}
	}
	return size, true, nil
}

func (s *Service) build(ctx context.Context, t *tenant, params types.DeriveParams, key string) (types.DeriveDone, error) {
	ctx, span := tracing.Tracer().Start(ctx, "derive")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant", t.name),
		attribute.String("kind", string(params.Derivation.Kind)),
		attribute.String("output_key", key),
	)

	metrics.InflightBuilds.WithLabelValues(t.name).Inc()
	defer metrics.InflightBuilds.WithLabelValues(t.name).Dec()
	timer := metrics.NewTimer()

	done, err := s.runDeriver(ctx, t, params, key)
	timer.ObserveDurationVec(metrics.DeriveDuration, string(params.Derivation.Kind))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		t.logger.Error().Err(err).
			Str("input", params.Input.Path).
			Str("kind", string(params.Derivation.Kind)).
			Msg("Derivation failed")
		return types.DeriveDone{}, err
	}

	t.logger.Info().
		Str("input", params.Input.Path).
		Str("kind", string(params.Derivation.Kind)).
		Str("key", key).
		Str("size", humanize.Bytes(uint64(done.OutputSize))).
		Dur("duration", timer.Duration()).
		Msg("Derivation done")
	return done, nil
}

func (s *Service) runDeriver(ctx context.Context, t *tenant, params types.DeriveParams, key string) (types.DeriveDone, error) {
	inputKey := fingerprint.InputKey(params.Input.ContentHash)
	src, err := t.blobs.Get(ctx, inputKey)
	if blobstore.IsNotFound(err) {
		return types.DeriveDone{}, apierror.Newf(apierror.KindNotFound, "input %s (%s) has not been uploaded", params.Input.Path, inputKey)
	}
	if err != nil {
		return types.DeriveDone{}, pkgerrors.Wrapf(err, "failed to read input %s", params.Input.Path)
	}
	defer src.Body.Close()

	out, err := s.deriver.Derive(ctx, params.Input, params.Derivation, src.Body)
	if err != nil {
		return types.DeriveDone{}, pkgerrors.WithStack(err)
	}

	contentType := out.ContentType
	if contentType == "" {
		contentType = params.Derivation.ContentType
	}
	if _, err := t.blobs.Put(ctx, key, bytes.NewReader(out.Data), contentType); err != nil {
		return types.DeriveDone{}, pkgerrors.Wrapf(err, "failed to store derivation %s", key)
	}
	if err := t.meta.MarkPresent(ctx, key); err != nil {
		t.logger.Warn().Err(err).Str("key", key).Msg("Failed to index derivation")
	}
	return types.DeriveDone{OutputSize: int64(len(out.Data)), OutputKey: key}, nil
}

func (s *Service) handleTranscode(w http.ResponseWriter, r *http.Request, t *tenant) error {
	var params types.TranscodeParams
	if err := decodeJSON(r.Body, &params); err != nil {
		return err
	}
	for _, k := range []string{params.Input, params.Output} {
		if err := blobstore.ValidateKey(k); err != nil {
			return apierror.New(apierror.KindBadRequest, err)
		}
	}

	resp, err := s.Transcode(r.Context(), t.name, params)
	if err != nil {
		return err
	}
	return writeJSON(w, resp)
}

// Transcode converts one blob into another. It follows the same admission
// rules as Derive, keyed by the output blob.
func (s *Service) Transcode(ctx context.Context, tenantName string, params types.TranscodeParams) (types.TranscodeResponse, error) {
	t, ok := s.tenant(tenantName)
	if !ok {
		return types.TranscodeResponse{}, apierror.Newf(apierror.KindNotFound, "tenant %s not found", tenantName)
	}

	if since, running := t.transcodes.InFlight(params.Output); running {
		return types.TranscodeResponse{AlreadyInProgress: &types.InProgress{Info: "transcode started " + humanize.Time(since)}}, nil
	}
	if size, present, err := s.present(ctx, t, params.Output); err != nil {
		return types.TranscodeResponse{}, err
	} else if present {
		return types.TranscodeResponse{Done: &types.TranscodeDone{OutputSize: size}}, nil
	}
	if !s.admit(ctx, t) {
		return types.TranscodeResponse{TooManyRequests: &types.TooManyRequests{}}, nil
	}

	wait, started := t.transcodes.Start(ctx, params.Output, func(ctx context.Context) (types.TranscodeDone, error) {
		defer t.budget.Release(1)
		return s.transcodeBlob(ctx, t, params)
	})
	if !started {
		t.budget.Release(1)
		return types.TranscodeResponse{AlreadyInProgress: &types.InProgress{Info: "transcode started just now"}}, nil
	}

	done, err := wait(ctx)
	if err != nil {
		return types.TranscodeResponse{}, err
	}
	return types.TranscodeResponse{Done: &done}, nil
}

func (s *Service) transcodeBlob(ctx context.Context, t *tenant, params types.TranscodeParams) (types.TranscodeDone, error) {
	ctx, span := tracing.Tracer().Start(ctx, "transcode")
	defer span.End()
	span.SetAttributes(attribute.String("tenant", t.name), attribute.String("format", string(params.TargetFormat)))

	metrics.InflightBuilds.WithLabelValues(t.name).Inc()
	defer metrics.InflightBuilds.WithLabelValues(t.name).Dec()

	obj, err := t.blobs.Get(ctx, params.Input)
	if blobstore.IsNotFound(err) {
		return types.TranscodeDone{}, apierror.Newf(apierror.KindNotFound, "blob %s not found", params.Input)
	}
	if err != nil {
		return types.TranscodeDone{}, pkgerrors.Wrapf(err, "failed to read %s", params.Input)
	}
	src, err := spool(obj.Body)
	_ = obj.Body.Close()
	if err != nil {
		return types.TranscodeDone{}, err
	}
	defer os.Remove(src)

	dst := src + ".out." + params.TargetFormat.Ext()
	defer os.Remove(dst)

	err = s.transcoder.Transcode(ctx, src, params.TargetFormat, dst, func(ev types.TranscodingEvent) {
		if ev.Progress != nil {
			t.logger.Debug().Str("output", params.Output).Msg(ev.Progress.String())
		}
	})
	if err != nil {
		span.RecordError(err)
		return types.TranscodeDone{}, pkgerrors.WithStack(err)
	}

	size, err := putFile(ctx, t, params.Output, dst, params.TargetFormat.ContentType())
	if err != nil {
		return types.TranscodeDone{}, err
	}
	return types.TranscodeDone{OutputSize: size}, nil
}

// spool copies r into a temporary file and returns its path
func spool(r io.Reader) (string, error) {
	f, err := os.CreateTemp("", "burrow-media-*")
	if err != nil {
		return "", pkgerrors.Wrap(err, "failed to create temp file")
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", pkgerrors.Wrap(err, "failed to spool media")
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", pkgerrors.WithStack(err)
	}
	return f.Name(), nil
}

func putFile(ctx context.Context, t *tenant, key, path, contentType string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, pkgerrors.Wrap(err, "transcoder produced no output")
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return 0, pkgerrors.WithStack(err)
	}
	if _, err := t.blobs.Put(ctx, key, f, contentType); err != nil {
		return 0, pkgerrors.Wrapf(err, "failed to store %s", key)
	}
	if err := t.meta.MarkPresent(ctx, key); err != nil {
		t.logger.Warn().Err(err).Str("key", key).Msg("Failed to index blob")
	}
	return info.Size(), nil
}
