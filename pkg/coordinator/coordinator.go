package coordinator

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cuemby/burrow/pkg/blobstore"
	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/health"
	"github.com/cuemby/burrow/pkg/httpserver"
	"github.com/cuemby/burrow/pkg/inflight"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metastore"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/momclient"
	"github.com/cuemby/burrow/pkg/ratelimit"
	"github.com/cuemby/burrow/pkg/revision"
	"github.com/cuemby/burrow/pkg/transform"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// maxBodySize bounds request bodies on every endpoint
const maxBodySize = 32 << 20

// StoreOpener opens the blob store of a tenant
type StoreOpener func(ctx context.Context, tc types.TenantConfig, baseDir string) (blobstore.Store, error)

// Options are the pluggable parts of a Service. Zero values select the
// defaults derived from the config.
type Options struct {
	Deriver    transform.Deriver
	Transcoder transform.Transcoder
	Limiter    ratelimit.Limiter
	OpenStore  StoreOpener
	Users      UsersSource
}

// tenant is the coordinator-side state of one tenant
type tenant struct {
	name    string
	tc      types.TenantConfig
	baseDir string
	logger  zerolog.Logger

	blobs blobstore.Store
	meta  *metastore.Store

	rev   revision.Handle
	users atomic.Pointer[types.AllUsers]

	// serializes revision uploads so the stored, current and broadcast
	// revision always agree
	revMu sync.Mutex

	derives    *inflight.Group[string, types.DeriveDone]
	transcodes *inflight.Group[string, types.TranscodeDone]
	budget     *semaphore.Weighted
}

// Service is the coordinator. It owns every tenant's blob store, metadata
// store and current revision, and broadcasts changes to front-ends.
type Service struct {
	cfg    *config.MomConfig
	logger zerolog.Logger

	tenants map[string]*tenant
	keys    *KeyRing
	broker  *events.Broker

	deriver    transform.Deriver
	transcoder transform.Transcoder
	limiter    ratelimit.Limiter
	openStore  StoreOpener
	users      UsersSource
	upstream   *momclient.Client

	ready atomic.Bool
}

// New creates a coordinator. Tenants are opened by Load.
func New(cfg *config.MomConfig, opts Options) (*Service, error) {
	s := &Service{
		cfg:        cfg,
		logger:     log.WithComponent("coordinator"),
		tenants:    make(map[string]*tenant),
		keys:       NewKeyRing(cfg.Secrets),
		broker:     events.NewBroker(),
		deriver:    opts.Deriver,
		transcoder: opts.Transcoder,
		limiter:    opts.Limiter,
		openStore:  opts.OpenStore,
		users:      opts.Users,
	}
	if s.deriver == nil {
		s.deriver = transform.NewDeriver(cfg.Transformer)
	}
	if s.transcoder == nil {
		s.transcoder = transform.NewTranscoder(cfg.Transcoder, cfg.Prober)
	}
	if s.limiter == nil {
		s.limiter = ratelimit.FromConfig(cfg.RateLimit)
	}
	if s.openStore == nil {
		s.openStore = blobstore.Open
	}
	if s.users == nil {
		s.users = FileUsers{}
	}

	if cfg.Env.IsDev() && cfg.Upstream != nil && cfg.Upstream.BaseURL != "" && !config.ForceLocalMom() {
		up, err := momclient.New(momclient.Config{BaseURL: cfg.Upstream.BaseURL, APIKey: cfg.Upstream.APIKey})
		if err != nil {
			return nil, fmt.Errorf("invalid upstream: %w", err)
		}
		s.upstream = up
	}

	metrics.SetCriticalComponents(metrics.ComponentTenants)
	metrics.RegisterComponent(metrics.ComponentTenants, false, "loading")
	metrics.RegisterComponent(metrics.ComponentEvents, true, "")
	return s, nil
}

// Load opens every configured tenant and recovers its current revision
func (s *Service) Load(ctx context.Context) error {
	names := make([]string, 0, len(s.cfg.Tenants))
	for name := range s.cfg.Tenants {
		names = append(names, name)
	}
	sort.Strings(names)

	loaded := make([]*tenant, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, name := range names {
		g.Go(func() error {
			t, err := s.openTenant(gctx, s.cfg.Tenants[name])
			if err != nil {
				return fmt.Errorf("tenant %s: %w", name, err)
			}
			loaded[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, t := range loaded {
			if t != nil {
				_ = t.meta.Close()
			}
		}
		metrics.UpdateComponent(metrics.ComponentTenants, false, err.Error())
		return err
	}

	for _, t := range loaded {
		s.tenants[t.name] = t
	}
	s.ready.Store(true)
	metrics.UpdateComponent(metrics.ComponentTenants, true, fmt.Sprintf("%d tenants", len(loaded)))
	s.logger.Info().Int("tenants", len(loaded)).Msg("Tenants loaded")
	return nil
}

func (s *Service) openTenant(ctx context.Context, tc types.TenantConfig) (*tenant, error) {
	baseDir := s.cfg.TenantBaseDir(tc.Name)
	blobs, err := s.openStore(ctx, tc, baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob store: %w", err)
	}
	meta, err := metastore.Open(baseDir)
	if err != nil {
		return nil, err
	}

	t := &tenant{
		name:       tc.Name,
		tc:         tc,
		baseDir:    baseDir,
		logger:     s.logger.With().Str("tenant", tc.Name).Logger(),
		blobs:      blobs,
		meta:       meta,
		derives:    inflight.NewGroup[string, types.DeriveDone](),
		transcodes: inflight.NewGroup[string, types.TranscodeDone](),
		budget:     semaphore.NewWeighted(s.cfg.DeriveParallelism),
	}

	if err := s.recoverRevision(ctx, t); err != nil {
		// a broken revision must not keep the other tenants down
		t.logger.Error().Err(err).Msg("Failed to recover current revision")
	}

	users, err := s.users.Load(ctx, t.name, t.baseDir)
	if err != nil {
		t.logger.Warn().Err(err).Msg("Failed to load users")
		users = &types.AllUsers{Users: map[string]types.UserInfo{}}
	}
	t.users.Store(users)
	return t, nil
}

func (s *Service) tenant(name string) (*tenant, bool) {
	t, ok := s.tenants[name]
	return t, ok
}

// Broker returns the event broker, for tests and dev tooling
func (s *Service) Broker() *events.Broker {
	return s.broker
}

// Start serves the coordinator API until ctx is done, then shuts down
// gracefully within the configured grace period.
func (s *Service) Start(ctx context.Context) error {
	if !s.ready.Load() {
		if err := s.Load(ctx); err != nil {
			return err
		}
	}

	s.broker.Start()
	defer s.broker.Stop()

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	bg, bgCtx := errgroup.WithContext(runCtx)
	bg.Go(func() error {
		s.refreshUsersLoop(bgCtx)
		return nil
	})
	if s.cfg.Env.IsDev() {
		bg.Go(func() error {
			return s.watchRevisions(bgCtx)
		})
	}
	if p, ok := s.limiter.(interface{ Ping(context.Context) error }); ok {
		deps := health.NewMonitor(s.logger)
		deps.Add(metrics.ComponentRateLimit, health.CheckFunc(p.Ping), health.DefaultConfig())
		bg.Go(func() error {
			deps.Run(bgCtx)
			return nil
		})
	}

	server := httpserver.New(ctx, s.cfg.Address, s.Handler())
	s.logger.Info().Str("address", s.cfg.Address).Str("env", string(s.cfg.Env)).Msg("Starting coordinator")
	serveErr := httpserver.Serve(ctx, server, s.cfg.ShutdownGrace, s.logger)
	stop()

	if err := bg.Wait(); err != nil {
		s.logger.Error().Err(err).Msg("Background task failed")
	}
	if closeErr := s.Close(); serveErr == nil {
		serveErr = closeErr
	}
	return serveErr
}

// Close releases every tenant's metadata store
func (s *Service) Close() error {
	var firstErr error
	for _, t := range s.tenants {
		if err := t.meta.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c, ok := s.limiter.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Handler builds the HTTP API
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /health", metrics.LivenessHandler())
	mux.Handle("GET /ready", metrics.ReadyHandler())
	mux.Handle("GET /status", metrics.HealthHandler())
	mux.Handle("GET /metrics", metrics.Handler())

	mux.Handle("GET /events", s.authenticated(http.HandlerFunc(s.handleEvents)))

	mux.Handle("POST /tenant/{tenant}/derive", s.tenantRoute(s.handleDerive))
	mux.Handle("POST /tenant/{tenant}/media/transcode", s.tenantRoute(s.handleTranscode))
	mux.Handle("GET /tenant/{tenant}/media/upload", s.tenantRoute(s.handleMediaUpload))
	mux.Handle("POST /tenant/{tenant}/objectstore/list-missing", s.tenantRoute(s.handleListMissing))
	mux.Handle("PUT /tenant/{tenant}/objectstore/put/{key...}", s.tenantRoute(s.handlePut))
	mux.Handle("PUT /tenant/{tenant}/revision/upload/{rev}", s.tenantRoute(s.handleRevisionUpload))

	return httpserver.Logging("mom", s.logger, mux)
}
