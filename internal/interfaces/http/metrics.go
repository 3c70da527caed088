package http

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsRegistry holds the Prometheus metrics of the ingestion service.
type MetricsRegistry struct {
	registry *prometheus.Registry

	// Webhook intake metrics
	WebhookEvents *prometheus.CounterVec

	// Session pipeline metrics
	SessionOutcomes    *prometheus.CounterVec
	ProcessingDuration prometheus.Histogram

	// Result cache metrics
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
}

// NewMetricsRegistry creates the metrics registry. queueDepth is sampled on
// scrape so the gauge never lags the pool.
func NewMetricsRegistry(queueDepth func() float64) *MetricsRegistry {
	m := &MetricsRegistry{
		registry: prometheus.NewRegistry(),

		WebhookEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emgflow_webhook_events_total",
				Help: "Webhook deliveries by intake result",
			},
			[]string{"result"},
		),

		SessionOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emgflow_session_outcomes_total",
				Help: "Terminal session outcomes by status",
			},
			[]string{"status"},
		),

		ProcessingDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "emgflow_processing_duration_seconds",
				Help:    "End-to-end session processing duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
			},
		),

		CacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "emgflow_result_cache_hits_total",
				Help: "Analysis results served from the result cache",
			},
		),

		CacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "emgflow_result_cache_misses_total",
				Help: "Analysis cache lookups that required recomputation",
			},
		),
	}

	m.registry.MustRegister(
		m.WebhookEvents,
		m.SessionOutcomes,
		m.ProcessingDuration,
		m.CacheHits,
		m.CacheMisses,
	)
	if queueDepth != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "emgflow_queue_depth",
				Help: "Tasks waiting in the processing queue",
			},
			queueDepth,
		))
	}
	return m
}

// Handler returns the scrape endpoint handler.
func (m *MetricsRegistry) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
