package http

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	io_prometheus_client "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"
)

// MetricsRegistry holds the service metrics on a private Prometheus registry
// so tests and embedded servers never collide on the default one.
type MetricsRegistry struct {
	registry *prometheus.Registry

	// Pipeline metrics
	StageDuration *prometheus.HistogramVec
	ActiveRuns    prometheus.Gauge
	TotalRuns     prometheus.Counter

	// Request metrics
	AugmentRequests *prometheus.CounterVec

	// Cache metrics
	CacheHits     *prometheus.CounterVec
	CacheMisses   *prometheus.CounterVec
	CacheHitRatio *prometheus.GaugeVec

	// Degenerate inputs worth alarming on
	InsufficientNeighbors prometheus.Counter
}

// NewMetricsRegistry creates and registers all service metrics.
func NewMetricsRegistry() *MetricsRegistry {
	m := &MetricsRegistry{
		registry: prometheus.NewRegistry(),

		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "spatweave_stage_duration_seconds",
				Help:    "Duration of pipeline stages by outcome",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0},
			},
			[]string{"stage", "result"},
		),

		ActiveRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "spatweave_active_runs",
				Help: "Number of augmentation runs currently executing",
			},
		),

		TotalRuns: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "spatweave_runs_total",
				Help: "Total number of augmentation runs started",
			},
		),

		AugmentRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spatweave_augment_requests_total",
				Help: "Augment requests by outcome",
			},
			[]string{"status"},
		),

		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spatweave_cache_hits_total",
				Help: "Cache hits by cache type",
			},
			[]string{"cache_type"},
		),

		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spatweave_cache_misses_total",
				Help: "Cache misses by cache type",
			},
			[]string{"cache_type"},
		),

		CacheHitRatio: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "spatweave_cache_hit_ratio",
				Help: "Cache hit ratio (0-1) by cache type",
			},
			[]string{"cache_type"},
		),

		InsufficientNeighbors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "spatweave_insufficient_neighbors_total",
				Help: "Requests rejected because a group was smaller than k+1",
			},
		),
	}

	m.registry.MustRegister(
		m.StageDuration,
		m.ActiveRuns,
		m.TotalRuns,
		m.AugmentRequests,
		m.CacheHits,
		m.CacheMisses,
		m.CacheHitRatio,
		m.InsufficientNeighbors,
	)
	return m
}

// Handler returns the Prometheus exposition handler for this registry.
func (m *MetricsRegistry) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StageCompleted records a finished pipeline stage. It satisfies the pipeline
// observer so stage timings flow into the histogram without the pipeline
// importing this package.
func (m *MetricsRegistry) StageCompleted(stage, result string, elapsed time.Duration) {
	m.StageDuration.WithLabelValues(stage, result).Observe(elapsed.Seconds())
}

// RecordAugment counts one augment request by outcome status.
func (m *MetricsRegistry) RecordAugment(status string) {
	m.AugmentRequests.WithLabelValues(status).Inc()
}

// RecordCacheOutcome counts a cache hit or miss and refreshes the ratio gauge.
func (m *MetricsRegistry) RecordCacheOutcome(cacheType string, hit bool) {
	if hit {
		m.CacheHits.WithLabelValues(cacheType).Inc()
	} else {
		m.CacheMisses.WithLabelValues(cacheType).Inc()
	}
	m.updateCacheHitRatio(cacheType)
}

// updateCacheHitRatio recalculates the ratio gauge from the hit and miss
// counters so scrapes see a consistent value.
func (m *MetricsRegistry) updateCacheHitRatio(cacheType string) {
	hits := getCounterValue(m.CacheHits, cacheType)
	misses := getCounterValue(m.CacheMisses, cacheType)
	total := hits + misses
	if total > 0 {
		m.CacheHitRatio.WithLabelValues(cacheType).Set(hits / total)
	}
}

// getCounterValue reads back the current value of a counter with the given
// label, returning 0 when the series does not exist yet.
func getCounterValue(vec *prometheus.CounterVec, labelValue string) float64 {
	counter, err := vec.GetMetricWithLabelValues(labelValue)
	if err != nil {
		log.Warn().Err(err).Str("label", labelValue).Msg("metrics counter lookup failed")
		return 0
	}
	var metric io_prometheus_client.Metric
	if err := counter.Write(&metric); err != nil {
		log.Warn().Err(err).Str("label", labelValue).Msg("metrics counter read failed")
		return 0
	}
	return metric.GetCounter().GetValue()
}
