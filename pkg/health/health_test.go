package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusUpdate(t *testing.T) {
	cfg := Config{Retries: 3}
	s := NewStatus()
	require.True(t, s.Healthy)

	fail := Result{Healthy: false, Message: "down"}
	s.Update(fail, cfg)
	s.Update(fail, cfg)
	assert.True(t, s.Healthy, "two failures stay under the threshold")
	assert.Equal(t, 2, s.ConsecutiveFailures)

	s.Update(fail, cfg)
	assert.False(t, s.Healthy)
	assert.Equal(t, "down", s.LastResult.Message)

	s.Update(Result{Healthy: true}, cfg)
	assert.True(t, s.Healthy, "one success restores health")
	assert.Zero(t, s.ConsecutiveFailures)
	assert.Equal(t, 1, s.ConsecutiveSuccesses)
}

func TestStatusZeroRetries(t *testing.T) {
	s := NewStatus()
	s.Update(Result{Healthy: false}, Config{})
	assert.False(t, s.Healthy)
}

func TestMonitor(t *testing.T) {
	var healthy atomic.Bool
	checker := CheckFunc(func(context.Context) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("unreachable")
	})

	m := NewMonitor(zerolog.Nop())
	m.Add("probe-test", checker, Config{Interval: 5 * time.Millisecond, Timeout: time.Second, Retries: 2})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	componentHealthy := func() bool {
		return metrics.GetHealth().Components["probe-test"] == "healthy"
	}

	require.Eventually(t, func() bool {
		s, _ := m.Status("probe-test")
		return !s.Healthy
	}, time.Second, time.Millisecond)
	assert.False(t, componentHealthy())

	healthy.Store(true)
	require.Eventually(t, func() bool {
		s, _ := m.Status("probe-test")
		return s.Healthy && componentHealthy()
	}, time.Second, time.Millisecond)

	_, ok := m.Status("missing")
	assert.False(t, ok)
}
