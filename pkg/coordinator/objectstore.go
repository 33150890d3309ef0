package coordinator

import (
	"context"
	"net/http"
	"sort"
	"sync"

	"github.com/cuemby/burrow/pkg/apierror"
	"github.com/cuemby/burrow/pkg/blobstore"
	"github.com/cuemby/burrow/pkg/types"
	pkgerrors "github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// headConcurrency bounds blob store probes per list-missing call
const headConcurrency = 8

func (s *Service) handleListMissing(w http.ResponseWriter, r *http.Request, t *tenant) error {
	var args types.ListMissingArgs
	if err := decodeJSON(r.Body, &args); err != nil {
		return err
	}
	missing, err := s.ListMissing(r.Context(), t.name, args)
	if err != nil {
		return err
	}
	return writeJSON(w, types.ListMissingResponse{Missing: missing})
}

// ListMissing returns the queried keys that are absent. The index answers
// first; keys it does not know are confirmed against the blob store, and in
// development the remaining set is intersected with the upstream
// coordinator's answer.
func (s *Service) ListMissing(ctx context.Context, tenantName string, args types.ListMissingArgs) (map[string]string, error) {
	t, ok := s.tenant(tenantName)
	if !ok {
		return nil, apierror.Newf(apierror.KindNotFound, "tenant %s not found", tenantName)
	}
	if len(args.MarkTheseAsUploaded) > 0 {
		t.logger.Debug().Int("count", len(args.MarkTheseAsUploaded)).Msg("Caller already holds these blobs")
	}

	keys := make([]string, 0, len(args.ObjectsToQuery))
	for k := range args.ObjectsToQuery {
		if err := blobstore.ValidateKey(k); err != nil {
			return nil, apierror.New(apierror.KindBadRequest, err)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	unindexed, err := t.meta.ListMissing(ctx, keys)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to query index")
	}

	absent, err := s.confirmAbsent(ctx, t, unindexed)
	if err != nil {
		return nil, err
	}

	missing := make(map[string]string, len(absent))
	for _, k := range absent {
		missing[k] = args.ObjectsToQuery[k]
	}

	if s.upstream != nil && len(missing) > 0 {
		missing = s.intersectUpstream(ctx, t, keys, missing)
	}
	return missing, nil
}

// confirmAbsent probes the blob store for keys the index does not know
// and repairs the index for those that exist.
func (s *Service) confirmAbsent(ctx context.Context, t *tenant, keys []string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	var (
		mu     sync.Mutex
		absent []string
		found  []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(headConcurrency)
	for _, k := range keys {
		g.Go(func() error {
			ok, err := t.blobs.Head(gctx, k)
			if err != nil {
				return pkgerrors.Wrapf(err, "failed to probe %s", k)
			}
			mu.Lock()
			defer mu.Unlock()
			if ok {
				found = append(found, k)
			} else {
				absent = append(absent, k)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(found) > 0 {
		if err := t.meta.MarkPresent(ctx, found...); err != nil {
			t.logger.Warn().Err(err).Msg("Failed to repair index")
		}
	}
	sort.Strings(absent)
	return absent, nil
}

func (s *Service) intersectUpstream(ctx context.Context, t *tenant, queried []string, missing map[string]string) map[string]string {
	var foundLocally []string
	for _, k := range queried {
		if _, ok := missing[k]; !ok {
			foundLocally = append(foundLocally, k)
		}
	}

	resp, err := s.upstream.Tenant(t.name).ListMissing(ctx, types.ListMissingArgs{
		ObjectsToQuery:      missing,
		MarkTheseAsUploaded: foundLocally,
	})
	if err != nil {
		t.logger.Warn().Err(err).Str("upstream", s.upstream.BaseURL()).Msg("Upstream list-missing failed, using local answer")
		return missing
	}

	out := make(map[string]string, len(resp.Missing))
	for k, v := range missing {
		if _, ok := resp.Missing[k]; ok {
			out[k] = v
		}
	}
	return out
}

func (s *Service) handlePut(w http.ResponseWriter, r *http.Request, t *tenant) error {
	key := r.PathValue("key")
	if err := blobstore.ValidateKey(key); err != nil {
		return apierror.New(apierror.KindBadRequest, err)
	}

	// buffer so an oversized body fails before anything is written
	body, err := readBody(r)
	if err != nil {
		return err
	}
	size := body.Len()
	contentType := r.Header.Get("Content-Type")

	if _, err := t.blobs.Put(r.Context(), key, body, contentType); err != nil {
		return pkgerrors.Wrapf(err, "failed to store %s", key)
	}
	if err := t.meta.MarkPresent(r.Context(), key); err != nil {
		return pkgerrors.Wrapf(err, "failed to index %s", key)
	}
	t.logger.Debug().Str("key", key).Int("bytes", size).Msg("Blob stored")
	w.WriteHeader(http.StatusOK)
	return nil
}
