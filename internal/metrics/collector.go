package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector contains all metrics for the verification engine
type Collector struct {
	registry *prometheus.Registry

	// Verification metrics
	VerificationsTotal *prometheus.CounterVec
	EscalationsTotal   prometheus.Counter
	JudgeFailures      prometheus.Counter
	ConfidenceScore    prometheus.Histogram

	// Cache metrics
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	// Bulk metrics
	BulkBatchSize prometheus.Histogram
	BulkItemFails prometheus.Counter

	// Performance metrics
	VerificationDuration prometheus.Histogram
	HTTPRequestDuration  *prometheus.HistogramVec

	// Error metrics
	ImageAnalysisErrors prometheus.Counter
	ExtractionErrors    prometheus.Counter
	PersistenceErrors   prometheus.Counter
	PublishErrors       prometheus.Counter
}

// NewCollector registers all metrics on a fresh registry under namespace
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,

		VerificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "The total number of verifications by decision",
		}, []string{"decision", "enhanced"}),
		EscalationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "The total number of verifications escalated to the judge",
		}),
		JudgeFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "judge_failures_total",
			Help:      "The total number of failed judge calls",
		}),
		ConfidenceScore: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "confidence_score",
			Help:      "Distribution of final confidence scores",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}),

		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "The total number of outcome cache hits",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "The total number of outcome cache misses",
		}),

		BulkBatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bulk_batch_size",
			Help:      "Number of items per bulk verification request",
			Buckets:   []float64{1, 5, 10, 20, 30, 40, 50},
		}),
		BulkItemFails: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_item_failures_total",
			Help:      "The total number of bulk items that failed",
		}),

		VerificationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "verification_duration_seconds",
			Help:      "Time taken to verify a certificate",
			Buckets:   prometheus.DefBuckets,
		}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),

		ImageAnalysisErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_analysis_errors_total",
			Help:      "The total number of failed image analyses",
		}),
		ExtractionErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_errors_total",
			Help:      "The total number of failed text extractions",
		}),
		PersistenceErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_errors_total",
			Help:      "The total number of failed database writes",
		}),
		PublishErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "The total number of failed event publishes",
		}),
	}
}

// Registry returns the registry the collector writes to
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector's registry in the Prometheus text format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordVerification records a completed verification
func (c *Collector) RecordVerification(decision string, enhanced bool, confidence int, duration time.Duration) {
	label := "false"
	if enhanced {
		label = "true"
	}
	c.VerificationsTotal.WithLabelValues(decision, label).Inc()
	c.ConfidenceScore.Observe(float64(confidence))
	c.VerificationDuration.Observe(duration.Seconds())
}
