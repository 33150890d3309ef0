package frontend

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cuemby/burrow/pkg/blobstore"
	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/revision"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/rs/zerolog"
)

// StoreOpener opens the blob store a front-end reads a tenant's blobs from
type StoreOpener func(ctx context.Context, tc types.TenantConfig, baseDir string) (blobstore.Store, error)

// tenantMirror is the front-end copy of one tenant's state
type tenantMirror struct {
	name    string
	tc      types.TenantConfig
	baseDir string
	blobs   blobstore.Store

	rev     revision.Handle
	loadErr atomic.Pointer[string]
	users   atomic.Pointer[types.AllUsers]
}

// brokenErr is the recorded load failure, if any
func (m *tenantMirror) brokenErr() error {
	if msg := m.loadErr.Load(); msg != nil {
		return fmt.Errorf("tenant %s is unavailable: %s", m.name, *msg)
	}
	return nil
}

func (m *tenantMirror) setRevision(pak *types.Pak) error {
	if pak == nil {
		m.rev.Store(nil)
		m.loadErr.Store(nil)
		return nil
	}
	rev, err := revision.Load(pak)
	if err != nil {
		msg := err.Error()
		m.loadErr.Store(&msg)
		return err
	}
	m.rev.Store(rev)
	m.loadErr.Store(nil)
	return nil
}

// hostMatch is what a hostname resolves to
type hostMatch struct {
	tenant string
	// alias hosts are redirected to the tenant's web domain
	alias bool
}

// Mirrors holds the in-memory state of every tenant the front-end serves.
// It is fed by the coordinator event channel.
type Mirrors struct {
	domains   config.Domains
	openStore StoreOpener
	cache     *storage.BoltCache
	logger    zerolog.Logger

	mu      sync.RWMutex
	tenants map[string]*tenantMirror
	hosts   map[string]hostMatch

	ready atomic.Bool
}

func newMirrors(domains config.Domains, openStore StoreOpener, cache *storage.BoltCache, logger zerolog.Logger) *Mirrors {
	return &Mirrors{
		domains:   domains,
		openStore: openStore,
		cache:     cache,
		logger:    logger,
		tenants:   make(map[string]*tenantMirror),
		hosts:     make(map[string]hostMatch),
	}
}

// Ready reports whether a GoodMorning has been processed
func (ms *Mirrors) Ready() bool {
	return ms.ready.Load()
}

// OnGoodMorning replaces every mirror with the coordinator's snapshot
func (ms *Mirrors) OnGoodMorning(ctx context.Context, gm *types.GoodMorning) {
	ms.mu.RLock()
	previous := ms.tenants
	ms.mu.RUnlock()

	tenants := make(map[string]*tenantMirror, len(gm.InitialStates))
	for name, state := range gm.InitialStates {
		m, err := ms.build(ctx, name, state, previous[name])
		if err != nil {
			ms.logger.Error().Err(err).Str("tenant", name).Msg("Failed to set up tenant")
		}
		tenants[name] = m
	}

	hosts := make(map[string]hostMatch)
	for name, m := range tenants {
		hosts[ms.domains.WebDomain(name)] = hostMatch{tenant: name}
		hosts[ms.domains.CDNDomain(name)] = hostMatch{tenant: name}
		for _, alias := range m.tc.DomainAliases {
			alias = strings.ToLower(alias)
			if _, taken := hosts[alias]; !taken {
				hosts[alias] = hostMatch{tenant: name, alias: true}
			}
		}
	}

	ms.mu.Lock()
	ms.tenants = tenants
	ms.hosts = hosts
	ms.mu.Unlock()

	ms.ready.Store(true)
	metrics.UpdateComponent(metrics.ComponentMirrors, true, fmt.Sprintf("%d tenants", len(tenants)))
	ms.logger.Info().Int("tenants", len(tenants)).Msg("GoodMorning processed")
}

// build makes the mirror of one tenant. A mirror is always returned; a
// failure is recorded on it so the tenant answers 500 while the others keep
// serving.
func (ms *Mirrors) build(ctx context.Context, name string, state types.TenantInitialState, prev *tenantMirror) (*tenantMirror, error) {
	tc := state.TC
	if tc.Name == "" {
		tc.Name = name
	}
	m := &tenantMirror{name: name, tc: tc, baseDir: state.BaseDir}
	if state.Users != nil {
		m.users.Store(state.Users)
	}

	if prev != nil && prev.blobs != nil && prev.baseDir == state.BaseDir && sameStorage(prev.tc.ObjectStorage, tc.ObjectStorage) {
		m.blobs = prev.blobs
	} else {
		store, err := ms.openStore(ctx, tc, state.BaseDir)
		if err != nil {
			msg := "blob store unavailable: " + err.Error()
			m.loadErr.Store(&msg)
			return m, fmt.Errorf("failed to open blob store: %w", err)
		}
		if ms.cache != nil {
			store = ms.cache.Wrap(name, store)
		}
		m.blobs = store
	}

	if err := m.setRevision(state.Pak); err != nil {
		return m, fmt.Errorf("failed to load revision: %w", err)
	}
	return m, nil
}

func sameStorage(a, b *types.ObjectStorageConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// OnTenantEvent applies one incremental change
func (ms *Mirrors) OnTenantEvent(ctx context.Context, ev *types.TenantEvent) {
	m, ok := ms.tenant(ev.TenantName)
	if !ok {
		ms.logger.Warn().Str("tenant", ev.TenantName).Str("event", ev.Payload.Kind()).Msg("Event for unknown tenant")
		return
	}
	logger := ms.logger.With().Str("tenant", m.name).Logger()

	switch {
	case ev.Payload.RevisionChanged != nil:
		if m.blobs == nil {
			logger.Warn().Msg("Ignoring revision for a tenant without blob store")
			return
		}
		if err := m.setRevision(ev.Payload.RevisionChanged); err != nil {
			logger.Error().Err(err).Str("revision", ev.Payload.RevisionChanged.ID).Msg("Failed to load revision")
			return
		}
		logger.Info().Str("revision", ev.Payload.RevisionChanged.ID).Msg("Revision changed")
	case ev.Payload.UsersUpdated != nil:
		m.users.Store(ev.Payload.UsersUpdated)
		logger.Debug().Int("users", len(ev.Payload.UsersUpdated.Users)).Msg("Users updated")
	}
}

func (ms *Mirrors) tenant(name string) (*tenantMirror, bool) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	m, ok := ms.tenants[name]
	return m, ok
}

// resolve maps a Host header to a tenant mirror
func (ms *Mirrors) resolve(host string) (*tenantMirror, hostMatch, bool) {
	host = strings.ToLower(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(host, ".")

	ms.mu.RLock()
	defer ms.mu.RUnlock()
	match, ok := ms.hosts[host]
	if !ok {
		return nil, hostMatch{}, false
	}
	m, ok := ms.tenants[match.tenant]
	return m, match, ok
}

// names lists the tenants in a stable order
func (ms *Mirrors) names() []string {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	names := make([]string, 0, len(ms.tenants))
	for name := range ms.tenants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
