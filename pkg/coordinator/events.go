package coordinator

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/gorilla/websocket"
)

const (
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 64 * 1024,
	// front-ends are servers, not browsers
	CheckOrigin: func(r *http.Request) bool { return true },
}

// GoodMorning builds the handshake snapshot for a scope
func (s *Service) GoodMorning(scope Scope) *types.GoodMorning {
	gm := &types.GoodMorning{InitialStates: make(map[string]types.TenantInitialState)}
	for name, t := range s.tenants {
		if !scope.Allows(name) {
			continue
		}
		state := types.TenantInitialState{
			Users: t.users.Load(),
			TC:    s.publicTenantConfig(t.tc),
		}
		if rev := t.rev.Load(); rev != nil {
			state.Pak = rev.Pak()
		}
		if s.cfg.Env.IsDev() {
			state.BaseDir = t.baseDir
		}
		gm.InitialStates[name] = state
	}
	return gm
}

// publicTenantConfig fills the tenant cookie secret from the global one
// when the tenant has none of its own
func (s *Service) publicTenantConfig(tc types.TenantConfig) types.TenantConfig {
	if s.cfg.Secrets.CookieSauce == "" {
		return tc
	}
	var secrets types.TenantSecrets
	if tc.Secrets != nil {
		secrets = *tc.Secrets
	}
	if secrets.CookieSauce == "" {
		secrets.CookieSauce = config.DeriveCookieSauce(s.cfg.Secrets.CookieSauce, tc.Name)
	}
	tc.Secrets = &secrets
	return tc
}

// subscribe registers a subscriber and takes its GoodMorning snapshot while
// no revision of the scope can change. The subscription only carries events
// published afterwards, so the front-end never sees one older than the snapshot.
func (s *Service) subscribe(scope Scope) (*events.Subscription, *types.GoodMorning) {
	names := make([]string, 0, len(s.tenants))
	for name := range s.tenants {
		if scope.Allows(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		s.tenants[name].revMu.Lock()
	}
	defer func() {
		for _, name := range names {
			s.tenants[name].revMu.Unlock()
		}
	}()

	sub := s.broker.Subscribe(events.Filter(scope.Allows))
	return sub, s.GoodMorning(scope)
}

func (s *Service) handleEvents(w http.ResponseWriter, r *http.Request) {
	scope, _ := ScopeFrom(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the client
		s.logger.Warn().Err(err).Msg("Events upgrade failed")
		return
	}
	defer conn.Close()

	sub, snapshot := s.subscribe(scope)
	metrics.EventSubscribers.Set(float64(s.broker.SubscriberCount()))
	defer func() {
		s.broker.Unsubscribe(sub)
		metrics.EventSubscribers.Set(float64(s.broker.SubscriberCount()))
	}()

	logger := s.logger.With().Str("remote", r.RemoteAddr).Logger()

	gm, err := json.Marshal(types.MomEvent{GoodMorning: snapshot})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to encode GoodMorning")
		return
	}
	if err := writeText(conn, gm); err != nil {
		logger.Warn().Err(err).Msg("Failed to send GoodMorning")
		return
	}
	logger.Info().Bool("skeleton", scope.Skeleton).Int("tenants", len(scope.Tenants)).Msg("Front-end connected")

	// the read side only serves control frames and notices the close
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(time.Second))
			return
		case <-closed:
			logger.Info().Msg("Front-end disconnected")
			return
		case <-sub.Dropped:
			logger.Warn().Msg("Front-end fell behind, closing so it resyncs")
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "lagging"),
				time.Now().Add(time.Second))
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			msg, err := ev.Message()
			if err != nil {
				logger.Error().Err(err).Str("tenant", ev.Tenant).Msg("Failed to encode event")
				continue
			}
			if err := writeText(conn, msg); err != nil {
				logger.Warn().Err(err).Msg("Failed to send event")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				logger.Warn().Err(err).Msg("Ping failed")
				return
			}
		}
	}
}

func writeText(conn *websocket.Conn, data []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}
