// Package metrics exports moderation outcomes to Prometheus.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/elum-utils/gatekeeper/models"
)

// Collector implements the moderation Metrics contract plus HTTP request
// metrics for the service layer.
type Collector struct {
	decisions          *prometheus.CounterVec
	failOpen           *prometheus.CounterVec
	classifierRequests *prometheus.CounterVec
	classifierDuration *prometheus.HistogramVec
	parseAnomalies     *prometheus.CounterVec
	ocrExtractions     *prometheus.CounterVec
	ocrDuration        prometheus.Histogram
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

// NewCollector registers all metrics on reg under namespace.
func NewCollector(reg prometheus.Registerer, namespace string) *Collector {
	if namespace == "" {
		namespace = "gatekeeper"
	}
	f := promauto.With(reg)
	return &Collector{
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Moderation decisions by source and outcome",
		}, []string{"source", "outcome"}),
		failOpen: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fail_open_total",
			Help:      "Requests allowed because a dependency was unavailable",
		}, []string{"reason"}),
		classifierRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifier_requests_total",
			Help:      "Classifier attempts by provider and status",
		}, []string{"provider", "status"}),
		classifierDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "classifier_request_duration_seconds",
			Help:      "Classifier attempt latency in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider"}),
		parseAnomalies: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_anomalies_total",
			Help:      "Classifier output anomalies and fallbacks by kind",
		}, []string{"kind"}),
		ocrExtractions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ocr_extractions_total",
			Help:      "OCR extractions by status",
		}, []string{"status"}),
		ocrDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ocr_duration_seconds",
			Help:      "OCR extraction latency in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

func (c *Collector) ObserveDecision(source models.Source, outcome string) {
	c.decisions.WithLabelValues(string(source), outcome).Inc()
}

func (c *Collector) ObserveFailOpen(reason string) {
	c.failOpen.WithLabelValues(reason).Inc()
}

func (c *Collector) ObserveClassifierCall(provider, status string, elapsed time.Duration) {
	c.classifierRequests.WithLabelValues(provider, status).Inc()
	c.classifierDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
}

func (c *Collector) ObserveParseAnomaly(kind string) {
	c.parseAnomalies.WithLabelValues(kind).Inc()
}

func (c *Collector) ObserveExtraction(status string, elapsed time.Duration) {
	c.ocrExtractions.WithLabelValues(status).Inc()
	c.ocrDuration.Observe(elapsed.Seconds())
}

// RecordHTTPRequest records one served request. path should be the route
// pattern, not the raw URL, to keep cardinality bounded.
func (c *Collector) RecordHTTPRequest(method, path string, status int, elapsed time.Duration) {
	c.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}
