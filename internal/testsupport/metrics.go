// Package testsupport holds helpers shared by tests across packages:
// Prometheus metric assertions and container bootstrapping for integration
// tests.
package testsupport

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// GetMetricValue reads the current value of a metric from the
// DefaultGatherer. Counters and gauges yield their value; histograms yield
// their sample count. Missing metrics read as zero, which keeps delta
// assertions working before the first increment.
func GetMetricValue(t *testing.T, metricName string, labelFilter map[string]string) float64 {
	t.Helper()

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	for _, family := range families {
		if family.GetName() != metricName {
			continue
		}
		for _, metric := range family.GetMetric() {
			if !labelsMatch(metric, labelFilter) {
				continue
			}
			switch {
			case metric.GetCounter() != nil:
				return metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				return metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				return float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}
	return 0
}

func labelsMatch(metric *dto.Metric, filter map[string]string) bool {
	if len(filter) == 0 {
		return true
	}

	have := make(map[string]string, len(metric.GetLabel()))
	for _, pair := range metric.GetLabel() {
		have[pair.GetName()] = pair.GetValue()
	}

	for name, want := range filter {
		if have[name] != want {
			return false
		}
	}
	return true
}

// AssertMetricDelta asserts that a metric changes by exactly expectedDelta
// while fn runs. Tests using it must not run in parallel with other tests
// touching the same metric; the registry is process-global.
func AssertMetricDelta(t *testing.T, metricName string, labels map[string]string, expectedDelta float64, fn func()) {
	t.Helper()

	before := GetMetricValue(t, metricName, labels)
	fn()
	after := GetMetricValue(t, metricName, labels)

	assert.Equal(t, expectedDelta, after-before, "metric %s%v delta mismatch", metricName, labels)
}

// AssertMetricDeltaAsync asserts that a metric eventually changes by
// expectedDelta after fn runs. For work that happens on a goroutine the
// test does not control, like warm cycles.
func AssertMetricDeltaAsync(t *testing.T, metricName string, labels map[string]string, expectedDelta float64, fn func()) {
	t.Helper()

	before := GetMetricValue(t, metricName, labels)
	fn()

	require.Eventually(t, func() bool {
		return GetMetricValue(t, metricName, labels) == before+expectedDelta
	}, 2*time.Second, 50*time.Millisecond, "metric %s%v failed to reach expected delta %+.0f", metricName, labels, expectedDelta)
}

// AssertHistogramRecorded asserts that a histogram has at least one sample.
func AssertHistogramRecorded(t *testing.T, metricName string, labels map[string]string) {
	t.Helper()

	count := GetMetricValue(t, metricName, labels)
	assert.Greater(t, count, 0.0, "histogram %s%v should have recorded samples", metricName, labels)
}
