package health

import (
	"context"
	"time"
)

// Result is the outcome of one probe
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker probes one dependency
type Checker interface {
	Check(ctx context.Context) Result
}

// CheckFunc adapts a function to a Checker. A nil error is healthy.
type CheckFunc func(ctx context.Context) error

func (f CheckFunc) Check(ctx context.Context) Result {
	start := time.Now()
	res := Result{Healthy: true, CheckedAt: start}
	if err := f(ctx); err != nil {
		res.Healthy = false
		res.Message = err.Error()
	}
	res.Duration = time.Since(start)
	return res
}

// Config controls how often a dependency is probed
type Config struct {
	// Interval is the time between probes
	Interval time.Duration

	// Timeout bounds a single probe
	Timeout time.Duration

	// Retries is the number of consecutive failures before the
	// dependency is reported unhealthy
	Retries int
}

// DefaultConfig returns the probe settings used by both processes
func DefaultConfig() Config {
	return Config{
		Interval: 15 * time.Second,
		Timeout:  5 * time.Second,
		Retries:  3,
	}
}

// Status folds probe results into a debounced health state
type Status struct {
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastCheck            time.Time
	LastResult           Result
	Healthy              bool
}

// NewStatus starts out healthy
func NewStatus() *Status {
	return &Status{Healthy: true}
}

// Update records a result. One success restores health; Retries failures
// in a row are needed to lose it.
func (s *Status) Update(result Result, config Config) {
	s.LastCheck = result.CheckedAt
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.Healthy = true
		return
	}

	s.ConsecutiveFailures++
	s.ConsecutiveSuccesses = 0
	if s.ConsecutiveFailures >= max(config.Retries, 1) {
		s.Healthy = false
	}
}
