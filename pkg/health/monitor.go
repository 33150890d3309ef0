package health

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/rs/zerolog"
)

type probe struct {
	name    string
	checker Checker
	config  Config
	status  *Status
}

// Monitor probes dependencies on an interval and publishes the debounced
// result as a metrics component
type Monitor struct {
	logger zerolog.Logger
	mu     sync.Mutex
	probes []*probe
}

// NewMonitor creates an empty monitor
func NewMonitor(logger zerolog.Logger) *Monitor {
	return &Monitor{logger: logger}
}

// Add registers a dependency under the component name
func (m *Monitor) Add(name string, checker Checker, config Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes = append(m.probes, &probe{name: name, checker: checker, config: config, status: NewStatus()})
}

// Status returns a copy of the named dependency's state
func (m *Monitor) Status(name string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.probes {
		if p.name == name {
			return *p.status, true
		}
	}
	return Status{}, false
}

// Run probes every dependency until ctx is done
func (m *Monitor) Run(ctx context.Context) {
	m.mu.Lock()
	probes := append([]*probe(nil), m.probes...)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range probes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.loop(ctx, p)
		}()
	}
	wg.Wait()
}

func (m *Monitor) loop(ctx context.Context, p *probe) {
	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		m.runOnce(ctx, p)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Monitor) runOnce(ctx context.Context, p *probe) {
	checkCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	result := p.checker.Check(checkCtx)
	cancel()
	if ctx.Err() != nil {
		return
	}

	m.mu.Lock()
	was := p.status.Healthy
	p.status.Update(result, p.config)
	now := p.status.Healthy
	m.mu.Unlock()

	metrics.UpdateComponent(p.name, now, result.Message)
	switch {
	case was && !now:
		m.logger.Warn().Str("dependency", p.name).Str("result", result.Message).Msg("Dependency unhealthy")
	case !was && now:
		m.logger.Info().Str("dependency", p.name).Msg("Dependency recovered")
	}
}
