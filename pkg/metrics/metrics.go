package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics, labelled by process ("mom" or "cub")
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_http_requests_total",
			Help: "Total number of HTTP requests by server, method and status",
		},
		[]string{"server", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"server", "method"},
	)

	// Coordinator metrics
	DeriveRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_derive_requests_total",
			Help: "Derive requests by outcome (done, in_progress, too_many_requests, error)",
		},
		[]string{"tenant", "outcome"},
	)

	DeriveDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_derive_duration_seconds",
			Help:    "Time spent running transformers in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		},
		[]string{"kind"},
	)

	InflightBuilds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "burrow_inflight_builds",
			Help: "Derivations and transcodes currently running",
		},
		[]string{"tenant"},
	)

	TranscodeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_transcode_sessions",
			Help: "Open media upload sessions",
		},
	)

	EventSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_event_subscribers",
			Help: "Front-ends connected to the event channel",
		},
	)

	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_events_published_total",
			Help: "Tenant events published by kind",
		},
		[]string{"kind"},
	)

	RevisionUploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_revision_uploads_total",
			Help: "Revision packages accepted by tenant",
		},
		[]string{"tenant"},
	)

	// Front-end metrics
	AssetResponsesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_asset_responses_total",
			Help: "Asset responses by source (inline, blob, derived, redirect, error)",
		},
		[]string{"source"},
	)

	DeriveRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_derive_retries_total",
			Help: "Front-end derive retries by reason",
		},
		[]string{"reason"},
	)

	MomReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_mom_reconnects_total",
			Help: "Reconnections to the coordinator event channel",
		},
	)

	BlobCacheBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_blobcache_bytes",
			Help: "Bytes held in the front-end blob cache",
		},
	)
)

func init() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(DeriveRequestsTotal)
	prometheus.MustRegister(DeriveDuration)
	prometheus.MustRegister(InflightBuilds)
	prometheus.MustRegister(TranscodeSessions)
	prometheus.MustRegister(EventSubscribers)
	prometheus.MustRegister(EventsPublishedTotal)
	prometheus.MustRegister(RevisionUploadsTotal)
	prometheus.MustRegister(AssetResponsesTotal)
	prometheus.MustRegister(DeriveRetriesTotal)
	prometheus.MustRegister(MomReconnectsTotal)
	prometheus.MustRegister(BlobCacheBytes)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an operation for a histogram
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDurationVec records the elapsed time in the labelled series of h
func (t *Timer) ObserveDurationVec(h *prometheus.HistogramVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}
