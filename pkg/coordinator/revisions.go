package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cuemby/burrow/pkg/apierror"
	"github.com/cuemby/burrow/pkg/devwatch"
	"github.com/cuemby/burrow/pkg/fingerprint"
	"github.com/cuemby/burrow/pkg/metastore"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/revision"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	pkgerrors "github.com/pkg/errors"
)

// maxRevisionSize bounds a decompressed revision package
const maxRevisionSize = 8 * maxBodySize

func readBody(r *http.Request) (*bytes.Reader, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}

func (s *Service) handleRevisionUpload(w http.ResponseWriter, r *http.Request, t *tenant) error {
	id := r.PathValue("rev")

	body, err := readBody(r)
	if err != nil {
		return err
	}
	data, err := decodeRevisionBody(body, r.Header.Get("Content-Encoding"))
	if err != nil {
		return err
	}

	rev, err := parseRevision(data, id)
	if err != nil {
		return err
	}

	// an uploader that hangs up must not leave a half-published revision
	ctx := context.WithoutCancel(r.Context())
	if err := s.PublishRevision(ctx, t.name, rev); err != nil {
		return err
	}
	w.WriteHeader(http.StatusOK)
	return nil
}

func decodeRevisionBody(body io.Reader, encoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return io.ReadAll(body)
	case "zstd":
		dec, err := zstd.NewReader(body, zstd.WithDecoderMaxMemory(maxRevisionSize))
		if err != nil {
			return nil, apierror.Newf(apierror.KindBadRequest, "invalid zstd stream: %v", err)
		}
		defer dec.Close()
		data, err := io.ReadAll(io.LimitReader(dec, maxRevisionSize+1))
		if err != nil {
			return nil, apierror.Newf(apierror.KindBadRequest, "invalid zstd stream: %v", err)
		}
		if len(data) > maxRevisionSize {
			return nil, apierror.Newf(apierror.KindBadRequest, "revision package exceeds %d bytes", maxRevisionSize)
		}
		return data, nil
	default:
		return nil, apierror.Newf(apierror.KindBadRequest, "unsupported content encoding %q", encoding)
	}
}

func parseRevision(data []byte, id string) (*revision.Revision, error) {
	var pak types.Pak
	if err := json.Unmarshal(data, &pak); err != nil {
		return nil, apierror.Newf(apierror.KindBadRequest, "invalid revision package: %v", err)
	}
	if pak.ID == "" {
		pak.ID = id
	}
	if id != "" && pak.ID != id {
		return nil, apierror.Newf(apierror.KindBadRequest, "revision id %q does not match package id %q", id, pak.ID)
	}
	rev, err := revision.Load(&pak)
	if err != nil {
		return nil, apierror.New(apierror.KindBadRequest, err)
	}
	return rev, nil
}

// PublishRevision persists rev, makes it current and broadcasts it. The
// three steps happen under the tenant's revision lock so concurrent uploads
// are applied and announced in the same order.
func (s *Service) PublishRevision(ctx context.Context, tenantName string, rev *revision.Revision) error {
	t, ok := s.tenant(tenantName)
	if !ok {
		return apierror.Newf(apierror.KindNotFound, "tenant %s not found", tenantName)
	}

	data, err := json.Marshal(rev.Pak())
	if err != nil {
		return pkgerrors.Wrap(err, "failed to encode revision package")
	}

	t.revMu.Lock()
	defer t.revMu.Unlock()

	key := fingerprint.RevpakKey(rev.ID())
	if _, err := t.blobs.Put(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
		return pkgerrors.Wrapf(err, "failed to store revision %s", rev.ID())
	}
	if err := t.meta.RecordRevision(ctx, rev.ID(), key); err != nil {
		return pkgerrors.WithStack(err)
	}

	prev := t.rev.Swap(rev)
	s.broker.Publish(t.name, types.TenantEventPayload{RevisionChanged: rev.Pak()})
	metrics.RevisionUploadsTotal.WithLabelValues(t.name).Inc()
	metrics.EventsPublishedTotal.WithLabelValues("RevisionChanged").Inc()

	logEvent := t.logger.Info().Str("revision", rev.ID())
	if prev != nil {
		logEvent = logEvent.Str("previous", prev.ID())
	}
	logEvent.
		Int("assets", len(rev.AssetRoutes())).
		Int("inputs", len(rev.Inputs())).
		Msg("Revision published")
	return nil
}

// recoverRevision loads the latest recorded revision of t, if any
func (s *Service) recoverRevision(ctx context.Context, t *tenant) error {
	latest, err := t.meta.LatestRevision(ctx)
	if errors.Is(err, metastore.ErrNoRevision) {
		t.logger.Info().Msg("No revision uploaded yet")
		return nil
	}
	if err != nil {
		return err
	}

	obj, err := t.blobs.Get(ctx, latest.BlobKey)
	if err != nil {
		return fmt.Errorf("failed to read revision %s: %w", latest.ID, err)
	}
	defer obj.Body.Close()
	data, err := io.ReadAll(obj.Body)
	if err != nil {
		return fmt.Errorf("failed to read revision %s: %w", latest.ID, err)
	}

	rev, err := revision.Decode(data)
	if err != nil {
		return fmt.Errorf("revision %s: %w", latest.ID, err)
	}
	t.rev.Store(rev)
	t.logger.Info().Str("revision", rev.ID()).Time("uploaded_at", latest.UploadedAt).Msg("Recovered current revision")
	return nil
}

// watchRevisions publishes revision packages written by local tooling
func (s *Service) watchRevisions(ctx context.Context) error {
	dirs := make(map[string]string, len(s.tenants))
	for name, t := range s.tenants {
		dirs[name] = t.baseDir
	}
	w := devwatch.New(dirs, func(ctx context.Context, tenant string, data []byte) {
		rev, err := parseRevision(data, "")
		if err != nil {
			var pak struct {
				ID string `json:"id"`
			}
			if json.Unmarshal(data, &pak) == nil && pak.ID == "" {
				rev, err = parseRevision(data, "dev-"+uuid.NewString())
			}
		}
		if err != nil {
			s.logger.Error().Err(err).Str("tenant", tenant).Msg("Ignoring invalid local revision package")
			return
		}
		if err := s.PublishRevision(ctx, tenant, rev); err != nil {
			s.logger.Error().Err(err).Str("tenant", tenant).Msg("Failed to publish local revision")
		}
	})
	return w.Run(ctx)
}
