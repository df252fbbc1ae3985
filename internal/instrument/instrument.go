package instrument

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the operational counters exported on /internal/metrics.
// Each instance owns its registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	ConnectionsActive   prometheus.Gauge
	ConnectionsTotal    *prometheus.CounterVec
	AuthFailures        *prometheus.CounterVec
	EventsTotal         *prometheus.CounterVec
	RateLimited         *prometheus.CounterVec
	EventErrors         *prometheus.CounterVec
	SamplesAccepted     prometheus.Counter
	SamplesRejected     *prometheus.CounterVec
	PersistFailures     prometheus.Counter
	PersistQueueDepth   prometheus.Gauge
	ActiveRooms         prometheus.Gauge
	AggregationDuration prometheus.Histogram
	AggregationErrors   prometheus.Counter
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ConnectionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "mindlink_ws_connections_active",
			Help: "Open WebSocket connections.",
		}),
		ConnectionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mindlink_ws_connections_total",
			Help: "Accepted WebSocket connections by role.",
		}, []string{"role"}),
		AuthFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mindlink_auth_failures_total",
			Help: "Rejected handshakes and API calls by reason.",
		}, []string{"reason"}),
		EventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mindlink_events_total",
			Help: "Inbound events dispatched to a handler.",
		}, []string{"event"}),
		RateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mindlink_events_rate_limited_total",
			Help: "Inbound events dropped by the rate limiter.",
		}, []string{"event"}),
		EventErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mindlink_event_errors_total",
			Help: "Handler failures by event and error kind.",
		}, []string{"event", "kind"}),
		SamplesAccepted: f.NewCounter(prometheus.CounterOpts{
			Name: "mindlink_eeg_samples_accepted_total",
			Help: "EEG samples validated and broadcast.",
		}),
		SamplesRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mindlink_eeg_samples_rejected_total",
			Help: "EEG samples rejected before broadcast.",
		}, []string{"reason"}),
		PersistFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "mindlink_eeg_persist_failures_total",
			Help: "EEG samples that could not be stored.",
		}),
		PersistQueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "mindlink_eeg_persist_queue_depth",
			Help: "Samples waiting for a persistence worker.",
		}),
		ActiveRooms: f.NewGauge(prometheus.GaugeOpts{
			Name: "mindlink_rooms_active",
			Help: "Sessions with at least one joined connection.",
		}),
		AggregationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "mindlink_aggregation_duration_seconds",
			Help:    "Time spent recomputing session metrics.",
			Buckets: prometheus.DefBuckets,
		}),
		AggregationErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "mindlink_aggregation_errors_total",
			Help: "Failed metric recomputations.",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
