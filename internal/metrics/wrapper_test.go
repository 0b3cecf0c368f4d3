package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var _ Recorder = (*MetricsWrapper)(nil)
var _ Recorder = Nop{}

func TestNewWrapper(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewWithRegistry(registry)
	wrapper := NewWrapper(metrics)

	if wrapper == nil {
		t.Fatal("NewWrapper returned nil")
	}
	if wrapper.m != metrics {
		t.Error("Wrapper does not contain correct metrics instance")
	}
}

func TestNewWithRegistry_Isolated(t *testing.T) {
	// Two registries must not collide on metric names.
	NewWithRegistry(prometheus.NewRegistry())
	NewWithRegistry(prometheus.NewRegistry())
}

func TestMetricsWrapper_ObserveRequest(t *testing.T) {
	metrics := NewWithRegistry(prometheus.NewRegistry())
	wrapper := NewWrapper(metrics)

	wrapper.ObserveRequest("predict", 200, 3*time.Millisecond)
	wrapper.ObserveRequest("predict", 200, time.Millisecond)
	wrapper.ObserveRequest("predict", 422, time.Millisecond)

	if got := testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("predict", "200")); got != 2 {
		t.Errorf("Expected 2 successful requests, got %f", got)
	}
	if got := testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("predict", "422")); got != 1 {
		t.Errorf("Expected 1 rejected request, got %f", got)
	}
	if got := testutil.CollectAndCount(metrics.RequestDuration); got != 1 {
		t.Errorf("Expected 1 duration series, got %d", got)
	}
}

func TestMetricsWrapper_ObservePrediction(t *testing.T) {
	metrics := NewWithRegistry(prometheus.NewRegistry())
	wrapper := NewWrapper(metrics)

	wrapper.ObservePrediction(0.9, true, time.Microsecond)
	wrapper.ObservePrediction(0.8, true, time.Microsecond)
	wrapper.ObservePrediction(0.1, false, time.Microsecond)

	if got := testutil.ToFloat64(metrics.PredictionsTotal.WithLabelValues("churn")); got != 2 {
		t.Errorf("Expected 2 churn predictions, got %f", got)
	}
	if got := testutil.ToFloat64(metrics.PredictionsTotal.WithLabelValues("stay")); got != 1 {
		t.Errorf("Expected 1 stay prediction, got %f", got)
	}
	if got := testutil.CollectAndCount(metrics.PredictionScores); got != 1 {
		t.Errorf("Expected score histogram to be collected, got %d", got)
	}
}

func TestMetricsWrapper_Rejections(t *testing.T) {
	metrics := NewWithRegistry(prometheus.NewRegistry())
	wrapper := NewWrapper(metrics)

	for i := 0; i < 3; i++ {
		wrapper.PredictionRejected("validation")
	}
	wrapper.PredictionRejected("unavailable")

	if got := testutil.ToFloat64(metrics.PredictionFailures.WithLabelValues("validation")); got != 3 {
		t.Errorf("Expected 3 validation failures, got %f", got)
	}
	if got := testutil.ToFloat64(metrics.PredictionFailures.WithLabelValues("unavailable")); got != 1 {
		t.Errorf("Expected 1 unavailable failure, got %f", got)
	}
}

func TestMetricsWrapper_ModelState(t *testing.T) {
	metrics := NewWithRegistry(prometheus.NewRegistry())
	wrapper := NewWrapper(metrics)

	wrapper.SetState(2)
	if got := testutil.ToFloat64(metrics.ServiceState); got != 2 {
		t.Errorf("Expected state 2, got %f", got)
	}

	trained := time.Unix(1700000000, 0)
	wrapper.ModelLoaded("run-a", "sha256:aaaa", trained, 10*time.Millisecond)
	wrapper.ModelLoaded("run-b", "sha256:bbbb", trained, 10*time.Millisecond)

	if got := testutil.ToFloat64(metrics.ModelTrainedAt); got != 1700000000 {
		t.Errorf("Expected trained timestamp 1700000000, got %f", got)
	}
	// Only the latest model identity is exported.
	if got := testutil.CollectAndCount(metrics.ModelInfo); got != 1 {
		t.Errorf("Expected 1 model info series, got %d", got)
	}
	if got := testutil.ToFloat64(metrics.ModelInfo.WithLabelValues("run-b", "sha256:bbbb")); got != 1 {
		t.Errorf("Expected model info 1, got %f", got)
	}
}

func TestNop(t *testing.T) {
	var r Recorder = Nop{}
	// These should not panic
	r.ObserveRequest("health", 200, time.Millisecond)
	r.ObservePrediction(0.5, false, time.Millisecond)
	r.PredictionRejected("malformed")
	r.SetState(3)
	r.ModelLoaded("", "", time.Time{}, 0)
}
