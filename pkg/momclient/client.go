package momclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuemby/burrow/pkg/apierror"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/tracing"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
)

// Config addresses a coordinator
type Config struct {
	BaseURL string
	APIKey  string
	// HTTPClient defaults to a client with a 60s timeout
	HTTPClient *http.Client
}

// Client talks to a coordinator over HTTP and WebSocket
type Client struct {
	base   *url.URL
	apiKey string
	http   *http.Client
	dialer *websocket.Dialer
	logger zerolog.Logger
}

// New creates a client
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid mom base url %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid mom base url %q: scheme must be http or https", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	return &Client{
		base:   base,
		apiKey: cfg.APIKey,
		http:   httpClient,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 3 * time.Second,
			Proxy:            http.ProxyFromEnvironment,
		},
		logger: log.WithComponent("momclient"),
	}, nil
}

// BaseURL returns the coordinator base URL
func (c *Client) BaseURL() string {
	return c.base.String()
}

func (c *Client) url(path string) string {
	return c.base.String() + path
}

func (c *Client) wsURL(path string) string {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	return u.String() + path
}

func (c *Client) authHeader() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+c.apiKey)
	return h
}

// Tenant returns a client scoped to one tenant's endpoints
func (c *Client) Tenant(name string) *TenantClient {
	return &TenantClient{c: c, tenant: name, prefix: "/tenant/" + url.PathEscape(name)}
}

// TenantClient calls the /tenant/{t}/... endpoints
type TenantClient struct {
	c      *Client
	tenant string
	prefix string
}

// Name returns the tenant name
func (t *TenantClient) Name() string { return t.tenant }

func (t *TenantClient) do(ctx context.Context, method, path string, body io.Reader, header http.Header, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, t.c.url(t.prefix+path), body)
	if err != nil {
		return err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Authorization", "Bearer "+t.c.apiKey)
	tracing.Inject(ctx, req.Header)

	resp, err := t.c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if err := apierror.FromResponse(resp); err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: failed to decode response: %w", method, path, err)
	}
	return nil
}

func (t *TenantClient) postJSON(ctx context.Context, path string, in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	return t.do(ctx, http.MethodPost, path, bytes.NewReader(data), h, out)
}

// Derive asks the coordinator to materialize a derivation
func (t *TenantClient) Derive(ctx context.Context, params types.DeriveParams) (*types.DeriveResponse, error) {
	var resp types.DeriveResponse
	if err := t.postJSON(ctx, "/derive", params, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Transcode asks the coordinator to transcode one blob into another
func (t *TenantClient) Transcode(ctx context.Context, params types.TranscodeParams) (*types.TranscodeResponse, error) {
	var resp types.TranscodeResponse
	if err := t.postJSON(ctx, "/media/transcode", params, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListMissing returns the queried keys the coordinator believes absent
func (t *TenantClient) ListMissing(ctx context.Context, args types.ListMissingArgs) (*types.ListMissingResponse, error) {
	var resp types.ListMissingResponse
	if err := t.postJSON(ctx, "/objectstore/list-missing", args, &resp); err != nil {
		return nil, err
	}
	if resp.Missing == nil {
		resp.Missing = map[string]string{}
	}
	return &resp, nil
}

// Put uploads a blob through the coordinator
func (t *TenantClient) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	h := http.Header{}
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	return t.do(ctx, http.MethodPut, "/objectstore/put/"+escapeKey(key), body, h, nil)
}

// UploadRevision sends a JSON revision package, zstd-compressed
func (t *TenantClient) UploadRevision(ctx context.Context, id string, pak []byte) error {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		return err
	}
	if _, err := enc.Write(pak); err != nil {
		_ = enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}

	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Content-Encoding", "zstd")
	t.c.logger.Info().
		Str("tenant", t.tenant).
		Str("revision", id).
		Int("raw_bytes", len(pak)).
		Int("compressed_bytes", buf.Len()).
		Msg("Uploading revision")
	return t.do(ctx, http.MethodPut, "/revision/upload/"+url.PathEscape(id), &buf, h, nil)
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
