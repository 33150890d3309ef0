package frontend

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"strings"
	"sync"

	"github.com/cuemby/burrow/pkg/apierror"
	"github.com/cuemby/burrow/pkg/blobstore"
	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/health"
	"github.com/cuemby/burrow/pkg/httpserver"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/momclient"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Mom is the part of the coordinator API the asset pipeline needs
type Mom interface {
	Derive(ctx context.Context, tenant string, params types.DeriveParams) (*types.DeriveResponse, error)
}

type clientMom struct {
	client *momclient.Client
}

func (c clientMom) Derive(ctx context.Context, tenant string, params types.DeriveParams) (*types.DeriveResponse, error) {
	return c.client.Tenant(tenant).Derive(ctx, params)
}

// Options are the pluggable parts of a Server
type Options struct {
	// Client connects to the coordinator. Required by Start.
	Client *momclient.Client
	// Mom defaults to Client
	Mom       Mom
	OpenStore StoreOpener
	// Cache, when set, fronts every tenant's blob store
	Cache *storage.BoltCache
}

// Server is cub, the front-end. It mirrors tenant state from the
// coordinator and serves the asset surface.
type Server struct {
	cfg     *config.CubConfig
	logger  zerolog.Logger
	domains config.Domains

	mirrors *Mirrors
	client  *momclient.Client
	mom     Mom
	cache   *storage.BoltCache

	flights singleflight.Group
	retry   retryPolicy

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a front-end
func New(cfg *config.CubConfig, opts Options) (*Server, error) {
	s := &Server{
		cfg:     cfg,
		logger:  log.WithComponent("frontend"),
		domains: config.Domains{Env: cfg.Env, Port: cfg.DevPort},
		client:  opts.Client,
		mom:     opts.Mom,
		cache:   opts.Cache,
		retry:   defaultRetry,
		done:    make(chan struct{}),
	}
	if s.mom == nil {
		if s.client == nil {
			return nil, fmt.Errorf("a mom client is required")
		}
		s.mom = clientMom{client: s.client}
	}
	openStore := opts.OpenStore
	if openStore == nil {
		openStore = blobstore.Open
	}
	s.mirrors = newMirrors(s.domains, openStore, opts.Cache, s.logger)

	metrics.SetCriticalComponents(metrics.ComponentMirrors)
	metrics.RegisterComponent(metrics.ComponentMirrors, false, "waiting for GoodMorning")
	metrics.RegisterComponent(metrics.ComponentMom, false, "not probed yet")
	if opts.Cache != nil {
		metrics.RegisterComponent(metrics.ComponentBlobCache, true, "")
	}
	return s, nil
}

// Mirrors returns the tenant state the event channel feeds
func (s *Server) Mirrors() *Mirrors {
	return s.mirrors
}

// Start follows the coordinator's events and serves HTTP until ctx is done
func (s *Server) Start(ctx context.Context) error {
	if s.client == nil {
		return fmt.Errorf("a mom client is required")
	}
	defer s.stopOnce.Do(func() { close(s.done) })

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	bg, bgCtx := errgroup.WithContext(runCtx)
	bg.Go(func() error {
		s.client.Subscribe(bgCtx, s.mirrors)
		return nil
	})
	bg.Go(func() error {
		s.dependencies().Run(bgCtx)
		return nil
	})

	server := httpserver.New(ctx, s.cfg.Address, s.Handler())
	s.logger.Info().
		Str("address", s.cfg.Address).
		Str("mom", s.client.BaseURL()).
		Str("env", string(s.cfg.Env)).
		Msg("Starting front-end")
	err := httpserver.Serve(ctx, server, config.DefaultShutdownGrace, s.logger)
	s.stopOnce.Do(func() { close(s.done) })
	stop()
	_ = bg.Wait()
	return err
}

// dependencies probes the coordinator and reports cache usage for /status
func (s *Server) dependencies() *health.Monitor {
	m := health.NewMonitor(s.logger)
	cfg := health.DefaultConfig()
	mom := health.NewHTTPChecker(s.client.BaseURL()+"/health").WithHeader("Authorization", "Bearer "+s.cfg.MomAPIKey)
	m.Add(metrics.ComponentMom, mom, cfg)
	if s.cache != nil {
		m.Add(metrics.ComponentBlobCache, health.CheckFunc(func(context.Context) error {
			metrics.BlobCacheBytes.Set(float64(s.cache.Stats().Bytes))
			return nil
		}), cfg)
	}
	return m
}

// Handler builds the front-end HTTP surface
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /health", metrics.LivenessHandler())
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.Handle("GET /status", metrics.HealthHandler())
	mux.Handle("GET /metrics", metrics.Handler())

	mux.Handle("GET /favicon.ico", s.tenantRoute(s.serveFavicon))
	mux.Handle("GET /", s.tenantRoute(s.serveAsset))

	return httpserver.Logging("cub", s.logger, mux)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.mirrors.Ready() {
		http.Error(w, "waiting for mom", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("OK"))
}

type assetHandler func(w http.ResponseWriter, r *http.Request, ar assetRequest) error

// tenantRoute resolves the tenant from the Host header, redirects alias
// hosts and snapshots the current revision before calling h
func (s *Server) tenantRoute(h assetHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.mirrors.Ready() {
			http.Error(w, "waiting for mom", http.StatusServiceUnavailable)
			return
		}

		m, match, ok := s.mirrors.resolve(r.Host)
		if !ok {
			s.unknownHost(w, r)
			return
		}
		if match.alias {
			http.Redirect(w, r, s.domains.WebBaseURL(m.name)+r.URL.RequestURI(), http.StatusTemporaryRedirect)
			return
		}
		if err := m.brokenErr(); err != nil {
			s.writeError(w, r, err)
			return
		}

		ar := assetRequest{m: m, rev: m.rev.Load()}
		if err := h(w, r, ar); err != nil {
			s.writeError(w, r, err)
		}
	})
}

func (s *Server) unknownHost(w http.ResponseWriter, r *http.Request) {
	zerolog.Ctx(r.Context()).Warn().Str("host", r.Host).Msg("No tenant found for host")
	metrics.AssetResponsesTotal.WithLabelValues("error").Inc()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusBadRequest)
	if !s.cfg.Env.IsDev() {
		_, _ = w.Write([]byte("tenant_not_found"))
		return
	}

	var b strings.Builder
	b.WriteString("<html><head><style>body { font-family: system-ui, sans-serif; max-width: 800px; margin: 2rem auto; }</style></head><body>\n")
	fmt.Fprintf(&b, "<h1>No tenant found for domain <code>%s</code></h1>\n<p>Available tenants:</p>\n<ul>\n", html.EscapeString(r.Host))
	for _, name := range s.mirrors.names() {
		fmt.Fprintf(&b, "<li><a href=\"%s\">%s</a></li>\n", html.EscapeString(s.domains.WebBaseURL(name)), html.EscapeString(name))
	}
	b.WriteString("</ul></body></html>\n")
	_, _ = w.Write([]byte(b.String()))
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apierror.KindOf(err)
	status := kind.Status()
	metrics.AssetResponsesTotal.WithLabelValues("error").Inc()

	logger := zerolog.Ctx(r.Context())
	switch {
	case r.Context().Err() != nil:
		logger.Debug().Err(err).Str("path", r.URL.Path).Msg("Client went away")
		return
	case status >= 500:
		logger.Error().Err(err).Str("host", r.Host).Str("path", r.URL.Path).Msg("Asset request failed")
	default:
		logger.Debug().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("Asset request rejected")
	}
	http.Error(w, err.Error(), status)
}
