package metrics

import (
	"strconv"
	"time"
)

// Recorder is what the HTTP layer reports to. It keeps the server free of
// Prometheus types and lets tests run without a registry.
type Recorder interface {
	ObserveRequest(handler string, code int, elapsed time.Duration)
	ObservePrediction(probability float64, churn bool, elapsed time.Duration)
	PredictionRejected(reason string)
	SetState(state int)
	ModelLoaded(runID, schemaVersion string, trainedAt time.Time, elapsed time.Duration)
}

// MetricsWrapper adapts Metrics to Recorder.
type MetricsWrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *MetricsWrapper {
	return &MetricsWrapper{m: m}
}

func (w *MetricsWrapper) ObserveRequest(handler string, code int, elapsed time.Duration) {
	w.m.RequestsTotal.WithLabelValues(handler, strconv.Itoa(code)).Inc()
	w.m.RequestDuration.WithLabelValues(handler).Observe(elapsed.Seconds())
}

func (w *MetricsWrapper) ObservePrediction(probability float64, churn bool, elapsed time.Duration) {
	decision := "stay"
	if churn {
		decision = "churn"
	}
	w.m.PredictionsTotal.WithLabelValues(decision).Inc()
	w.m.PredictionScores.Observe(probability)
	w.m.PredictionLatency.Observe(elapsed.Seconds())
}

func (w *MetricsWrapper) PredictionRejected(reason string) {
	w.m.PredictionFailures.WithLabelValues(reason).Inc()
}

func (w *MetricsWrapper) SetState(state int) {
	w.m.ServiceState.Set(float64(state))
}

func (w *MetricsWrapper) ModelLoaded(runID, schemaVersion string, trainedAt time.Time, elapsed time.Duration) {
	w.m.SetModel(runID, schemaVersion, trainedAt)
	w.m.ModelLoadTime.Observe(elapsed.Seconds())
}

// Nop discards everything.
type Nop struct{}

func (Nop) ObserveRequest(string, int, time.Duration) {}
func (Nop) ObservePrediction(float64, bool, time.Duration) {}
func (Nop) PredictionRejected(string) {}
func (Nop) SetState(int) {}
func (Nop) ModelLoaded(string, string, time.Time, time.Duration) {}
