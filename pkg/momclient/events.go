package momclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/gorilla/websocket"
)

const (
	reconnectDelay  = 1000 * time.Millisecond
	reconnectJitter = 500 * time.Millisecond
	// the coordinator pings every 30s; three missed pings mean a dead link
	readIdleTimeout = 90 * time.Second
)

// Listener receives coordinator events in order. OnGoodMorning is called
// once per connection, before any OnTenantEvent of that connection.
type Listener interface {
	OnGoodMorning(ctx context.Context, gm *types.GoodMorning)
	OnTenantEvent(ctx context.Context, ev *types.TenantEvent)
}

// ErrBinaryFrame is returned when the events channel carries a binary frame
var ErrBinaryFrame = errors.New("unexpected binary frame on events channel")

// Subscribe connects to /events and relays messages to l until ctx is done.
// Any failure is logged and followed by a reconnect after a jittered delay.
func (c *Client) Subscribe(ctx context.Context, l Listener) {
	for {
		err := c.subscribeOnce(ctx, l)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.logger.Warn().Err(err).Str("mom", c.BaseURL()).Msg("Lost connection to mom events")
		}
		metrics.MomReconnectsTotal.Inc()

		delay := reconnectDelay + rand.N(reconnectJitter)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (c *Client) subscribeOnce(ctx context.Context, l Listener) error {
	conn, resp, err := c.dialer.DialContext(ctx, c.wsURL("/events"), c.authHeader())
	if err != nil {
		if resp != nil {
			return fmt.Errorf("failed to connect to mom events (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("failed to connect to mom events: %w", err)
	}
	defer conn.Close()

	c.logger.Info().Str("mom", c.BaseURL()).Msg("Connected to mom events")

	// unblock ReadMessage on shutdown
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	_ = conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	sawGoodMorning := false
	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(readIdleTimeout))

		if typ != websocket.TextMessage {
			return ErrBinaryFrame
		}

		var ev types.MomEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			c.logger.Error().Err(err).
				Msg("Failed to decode mom event; if mom runs a different version, set FORCE_LOCAL_MOM=1 in development")
			return fmt.Errorf("failed to decode mom event: %w", err)
		}

		switch {
		case ev.GoodMorning != nil:
			if sawGoodMorning {
				c.logger.Warn().Msg("Ignoring unexpected GoodMorning on an established connection")
				continue
			}
			sawGoodMorning = true
			c.logger.Info().Int("tenants", len(ev.GoodMorning.InitialStates)).Msg("Received GoodMorning")
			l.OnGoodMorning(ctx, ev.GoodMorning)
		case ev.TenantEvent != nil:
			c.logger.Debug().
				Str("tenant", ev.TenantEvent.TenantName).
				Str("kind", ev.TenantEvent.Payload.Kind()).
				Msg("Received tenant event")
			l.OnTenantEvent(ctx, ev.TenantEvent)
		}
	}
}
