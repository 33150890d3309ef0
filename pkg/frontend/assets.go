package frontend

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/cuemby/burrow/pkg/apierror"
	"github.com/cuemby/burrow/pkg/blobstore"
	"github.com/cuemby/burrow/pkg/fingerprint"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/revision"
	"github.com/cuemby/burrow/pkg/types"
)

// FaviconInput is the input whose asset route /favicon.ico redirects to
const FaviconInput = "/content/favicon.png"

// assetRequest is one request against a tenant, with the revision captured
// once on entry
type assetRequest struct {
	m   *tenantMirror
	rev *revision.Revision
}

func (s *Server) serveAsset(w http.ResponseWriter, r *http.Request, ar assetRequest) error {
	route := r.URL.Path
	if len(route) > 1 {
		route = strings.TrimSuffix(route, "/")
	}
	if ar.rev == nil {
		return apierror.Newf(apierror.KindNotFound, "no revision published for %s", ar.m.name)
	}

	asset, err := ar.rev.Asset(route)
	if errors.Is(err, revision.ErrRouteNotFound) {
		return apierror.Newf(apierror.KindNotFound, "no such asset")
	}
	if err != nil {
		return err
	}

	switch {
	case asset.Inline != nil:
		s.assetHeaders(w, ar.m, asset.Inline.ContentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(asset.Inline.Content)))
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			_, _ = w.Write(asset.Inline.Content)
		}
		metrics.AssetResponsesTotal.WithLabelValues("inline").Inc()
		return nil

	case asset.AcceptBasedRedirect != nil:
		target, err := pickRedirect(asset.AcceptBasedRedirect.Options, r.Header.Get("Accept"))
		if err != nil {
			return err
		}
		w.Header().Set("Access-Control-Allow-Origin", s.domains.WebBaseURL(ar.m.name))
		w.Header().Set("Location", s.domains.CDNBaseURL(ar.m.name)+target)
		w.WriteHeader(http.StatusTemporaryRedirect)
		metrics.AssetResponsesTotal.WithLabelValues("redirect").Inc()
		return nil

	case asset.Derivation != nil:
		return s.serveDerivation(w, r, ar, asset.Derivation)
	}
	return apierror.Newf(apierror.KindInternal, "asset %s has no variant", route)
}

func (s *Server) serveDerivation(w http.ResponseWriter, r *http.Request, ar assetRequest, d *types.DerivationAsset) error {
	input, err := ar.rev.Input(d.InputPath)
	if err != nil {
		return apierror.Newf(apierror.KindNotFound, "input not found for path %s", d.InputPath)
	}
	params := types.DeriveParams{Input: input, Derivation: d.Derivation}
	key := fingerprint.KeyFor(input, d.Derivation)

	obj, source, err := s.materialize(r.Context(), ar.m, params, key)
	if err != nil {
		return err
	}
	defer obj.Body.Close()

	s.assetHeaders(w, ar.m, d.Derivation.ContentType)
	w.Header().Set("Accept-Ranges", "bytes")
	metrics.AssetResponsesTotal.WithLabelValues(source).Inc()
	return writeBlob(w, r, obj)
}

// writeBlob streams obj, honoring the first range of a Range header.
// Ranges that cannot be parsed or satisfied get the full body.
func writeBlob(w http.ResponseWriter, r *http.Request, obj *blobstore.Object) error {
	if obj.Size >= 0 {
		if start, length, ok := firstRange(r.Header.Get("Range"), obj.Size); ok {
			if err := skip(obj.Body, start); err != nil {
				return apierror.New(apierror.KindTransientUpstream, err)
			}
			w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
			w.Header().Set("Content-Range", "bytes "+strconv.FormatInt(start, 10)+"-"+
				strconv.FormatInt(start+length-1, 10)+"/"+strconv.FormatInt(obj.Size, 10))
			w.WriteHeader(http.StatusPartialContent)
			if r.Method != http.MethodHead {
				_, _ = io.CopyN(w, obj.Body, length)
			}
			return nil
		}
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		// the status is out; a failed copy can only cut the body short
		_, _ = io.Copy(w, obj.Body)
	}
	return nil
}

func skip(r io.Reader, n int64) error {
	if n == 0 {
		return nil
	}
	if seeker, ok := r.(io.Seeker); ok {
		_, err := seeker.Seek(n, io.SeekStart)
		return err
	}
	_, err := io.CopyN(io.Discard, r, n)
	return err
}

// firstRange parses the first range of a "bytes=" Range header against a
// body of size bytes. It returns the start offset and the length.
func firstRange(header string, size int64) (start, length int64, ok bool) {
	spec, found := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !found || size <= 0 {
		return 0, 0, false
	}
	if i := strings.IndexByte(spec, ','); i >= 0 {
		spec = spec[:i]
	}
	first, last, found := strings.Cut(strings.TrimSpace(spec), "-")
	if !found {
		return 0, 0, false
	}

	if first == "" {
		// suffix range: the last n bytes
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, false
		}
		n = min(n, size)
		return size - n, n, true
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 || start >= size {
		return 0, 0, false
	}
	end := size - 1
	if last != "" {
		end, err = strconv.ParseInt(last, 10, 64)
		if err != nil || end < start {
			return 0, 0, false
		}
		end = min(end, size-1)
	}
	return start, end - start + 1, true
}

// pickRedirect selects the first option whose content type appears in
// accept, or the last option, which is the most compatible one
func pickRedirect(options []types.RedirectOption, accept string) (string, error) {
	if len(options) == 0 {
		return "", errors.New("no options available for accept-based redirect")
	}
	for _, opt := range options {
		if accept != "" && strings.Contains(accept, opt.ContentType) {
			return opt.Route, nil
		}
	}
	return options[len(options)-1].Route, nil
}

func (s *Server) assetHeaders(w http.ResponseWriter, m *tenantMirror, contentType string) {
	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Cache-Control", "max-age=31536000")
	h.Set("Access-Control-Allow-Origin", s.domains.WebBaseURL(m.name))
}

func (s *Server) serveFavicon(w http.ResponseWriter, r *http.Request, ar assetRequest) error {
	if ar.rev == nil {
		return apierror.Newf(apierror.KindNotFound, "no revision published for %s", ar.m.name)
	}
	route, ok := ar.rev.AssetRoute(FaviconInput)
	if !ok {
		return apierror.Newf(apierror.KindNotFound, "no favicon")
	}
	http.Redirect(w, r, s.domains.CDNBaseURL(ar.m.name)+route, http.StatusTemporaryRedirect)
	metrics.AssetResponsesTotal.WithLabelValues("redirect").Inc()
	return nil
}
