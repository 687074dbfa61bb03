package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elum-utils/gatekeeper/models"
)

func TestCollectorCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg, "")

	c.ObserveDecision(models.SourceClassifier, "block")
	c.ObserveDecision(models.SourceClassifier, "block")
	c.ObserveDecision(models.SourcePrefilter, "block")
	c.ObserveFailOpen("classifier_unavailable")
	c.ObserveClassifierCall("gemini", "ok", 120*time.Millisecond)
	c.ObserveParseAnomaly("fallback")
	c.ObserveExtraction("error", time.Second)
	c.RecordHTTPRequest("POST", "/moderate", 200, 10*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.decisions.WithLabelValues("classifier", "block")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.decisions.WithLabelValues("prefilter", "block")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.failOpen.WithLabelValues("classifier_unavailable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.classifierRequests.WithLabelValues("gemini", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.parseAnomalies.WithLabelValues("fallback")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ocrExtractions.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequests.WithLabelValues("POST", "/moderate", "200")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"gatekeeper_decisions_total",
		"gatekeeper_fail_open_total",
		"gatekeeper_classifier_requests_total",
		"gatekeeper_classifier_request_duration_seconds",
		"gatekeeper_parse_anomalies_total",
		"gatekeeper_ocr_extractions_total",
		"gatekeeper_ocr_duration_seconds",
	} {
		assert.True(t, names[want], want)
	}
}

func TestCollectorSeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewCollector(prometheus.NewRegistry(), "a")
		NewCollector(prometheus.NewRegistry(), "a")
	})
}
