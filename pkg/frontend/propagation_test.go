package frontend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/burrow/pkg/blobstore"
	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/coordinator"
	"github.com/cuemby/burrow/pkg/fingerprint"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/momclient"
	"github.com/cuemby/burrow/pkg/ratelimit"
	"github.com/cuemby/burrow/pkg/transform"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startMom runs a real coordinator sharing store with the front-end
func startMom(t *testing.T, store blobstore.Store) *momclient.Client {
	t.Helper()
	cfg := &config.MomConfig{
		Env:           config.Production,
		TenantDataDir: t.TempDir(),
		Tenants:       map[string]types.TenantConfig{"acme": {Name: "acme"}},
		Secrets:       config.MomSecrets{ReadonlyAPIKey: "ro"},
	}
	cfg.ApplyDefaults()

	svc, err := coordinator.New(cfg, coordinator.Options{
		Transcoder: transform.Passthrough{},
		Limiter:    ratelimit.NewLocal(ratelimit.Policy{RPM: 6000, Burst: 100}),
		OpenStore: func(ctx context.Context, tc types.TenantConfig, baseDir string) (blobstore.Store, error) {
			return store, nil
		},
	})
	require.NoError(t, err)
	require.NoError(t, svc.Load(context.Background()))
	svc.Broker().Start()

	srv := httptest.NewServer(svc.Handler())
	t.Cleanup(func() {
		srv.Close()
		svc.Broker().Stop()
		_ = svc.Close()
	})

	client, err := momclient.New(momclient.Config{BaseURL: srv.URL, APIKey: "ro"})
	require.NoError(t, err)
	return client
}

func upload(t *testing.T, tc *momclient.TenantClient, pak *types.Pak) {
	t.Helper()
	data, err := json.Marshal(pak)
	require.NoError(t, err)
	require.NoError(t, tc.UploadRevision(context.Background(), pak.ID, data))
}

func body(t *testing.T, h http.Handler, path string) (int, string) {
	req := httptest.NewRequest(http.MethodGet, "http://acme"+path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	data, _ := io.ReadAll(rec.Body)
	return rec.Code, string(data)
}

func TestRevisionPropagation(t *testing.T) {
	store := blobstore.NewMemoryStore()
	client := startMom(t, store)

	cfg := &config.CubConfig{Env: config.Production}
	cfg.ApplyDefaults()
	cub, err := New(cfg, Options{
		Client: client,
		OpenStore: func(ctx context.Context, tc types.TenantConfig, baseDir string) (blobstore.Store, error) {
			return store, nil
		},
	})
	require.NoError(t, err)
	h := cub.Handler()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Subscribe(ctx, cub.Mirrors())
	require.Eventually(t, cub.Mirrors().Ready, 5*time.Second, 10*time.Millisecond)

	tc := client.Tenant("acme")
	source := []byte("raw image bytes")
	hash := fingerprint.HashContent(source)
	require.NoError(t, tc.Put(ctx, fingerprint.InputKey(hash), strings.NewReader(string(source)), "image/png"))

	pak := func(id, inline string) *types.Pak {
		in := types.Input{Path: "/content/img.png", ContentHash: hash, Size: int64(len(source)), ContentType: "image/png"}
		return &types.Pak{
			ID:     id,
			Inputs: map[string]types.Input{in.Path: in},
			Assets: map[string]types.Asset{
				"/a":       {Inline: &types.InlineAsset{ContentType: "text/plain", Content: []byte(inline)}},
				"/img.png": {Derivation: &types.DerivationAsset{InputPath: in.Path, Derivation: types.Derivation{Kind: types.KindIdentity, ContentType: "image/png"}}},
			},
			Config: types.RevisionConfig{ID: id},
		}
	}

	upload(t, tc, pak("r1", "one"))
	require.Eventually(t, func() bool {
		code, b := body(t, h, "/a")
		return code == http.StatusOK && b == "one"
	}, 5*time.Second, 10*time.Millisecond)

	// every route resolves, derivations included
	code, b := body(t, h, "/img.png")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, string(source), b)

	var failures atomic.Int32
	stop := make(chan struct{})
	polled := make(chan struct{})
	go func() {
		defer close(polled)
		for {
			select {
			case <-stop:
				return
			default:
			}
			if code, b := body(t, h, "/a"); code != http.StatusOK || (b != "one" && b != "two") {
				failures.Add(1)
			}
		}
	}()

	upload(t, tc, pak("r2", "two"))
	require.Eventually(t, func() bool {
		_, b := body(t, h, "/a")
		return b == "two"
	}, 5*time.Second, 10*time.Millisecond)
	close(stop)
	<-polled
	assert.Zero(t, failures.Load(), "no request observed a missing or torn revision")
}

func TestMomProbeSendsKey(t *testing.T) {
	var auth atomic.Value
	mom := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer mom.Close()

	t.Setenv("BURROW_MOM_API_KEY", "")
	cfg := &config.CubConfig{Env: config.Production, MomAPIKey: "cub-key"}
	cfg.ApplyDefaults()
	client, err := momclient.New(momclient.Config{BaseURL: mom.URL, APIKey: cfg.MomAPIKey})
	require.NoError(t, err)
	s, err := New(cfg, Options{Client: client})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	deps := s.dependencies()
	go deps.Run(ctx)

	require.Eventually(t, func() bool {
		st, ok := deps.Status(metrics.ComponentMom)
		return ok && !st.LastCheck.IsZero()
	}, 2*time.Second, 10*time.Millisecond)

	st, _ := deps.Status(metrics.ComponentMom)
	assert.True(t, st.LastResult.Healthy, st.LastResult.Message)
	assert.Equal(t, "Bearer cub-key", auth.Load())
}
