// Package metrics provides Prometheus metrics for the churn prediction
// service: request outcomes, inference latency, the distribution of churn
// probabilities and the state of the loaded model.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors of the service.
type Metrics struct {
	// Request metrics
	RequestsTotal   *prometheus.CounterVec   // HTTP requests by handler and status code
	RequestDuration *prometheus.HistogramVec // HTTP request duration by handler

	// Prediction metrics
	PredictionsTotal   *prometheus.CounterVec // Predictions by decision (churn / stay)
	PredictionFailures *prometheus.CounterVec // Rejected predictions by reason
	PredictionLatency  prometheus.Histogram   // Validate + encode + tree walk latency
	PredictionScores   prometheus.Histogram   // Distribution of churn probabilities

	// Model metrics
	ServiceState   prometheus.Gauge     // 0 uninitialized, 1 loading, 2 ready, 3 failed
	ModelTrainedAt prometheus.Gauge     // Unix time the served model was trained
	ModelInfo      *prometheus.GaugeVec // Constant 1, labelled with run id and schema version
	ModelLoadTime  prometheus.Histogram // Artifact load duration
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics on a custom registry, so every server
// (and every test) can own an isolated set.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "churn_http_requests_total",
			Help: "Total number of HTTP requests by handler and status code",
		}, []string{"handler", "code"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "churn_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"handler"}),
		PredictionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "churn_predictions_total",
			Help: "Total number of predictions by decision",
		}, []string{"decision"}),
		PredictionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "churn_prediction_failures_total",
			Help: "Total number of rejected prediction requests by reason",
		}, []string{"reason"}),
		PredictionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "churn_prediction_latency_seconds",
			Help:    "Prediction latency in seconds (validation to decision)",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 15),
		}),
		PredictionScores: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "churn_prediction_scores",
			Help:    "Distribution of predicted churn probabilities",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		ServiceState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "churn_service_state",
			Help: "Service state: 0 uninitialized, 1 loading, 2 ready, 3 failed",
		}),
		ModelTrainedAt: factory.NewGauge(prometheus.GaugeOpts{
			Name: "churn_model_trained_timestamp_seconds",
			Help: "Unix time at which the served model was trained",
		}),
		ModelInfo: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "churn_model_info",
			Help: "Served model identity, always 1",
		}, []string{"run_id", "schema_version"}),
		ModelLoadTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "churn_model_load_seconds",
			Help:    "Artifact load and verification time in seconds",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// SetModel publishes the identity of the loaded model.
func (m *Metrics) SetModel(runID, schemaVersion string, trainedAt time.Time) {
	m.ModelInfo.Reset()
	m.ModelInfo.WithLabelValues(runID, schemaVersion).Set(1)
	if !trainedAt.IsZero() {
		m.ModelTrainedAt.Set(float64(trainedAt.Unix()))
	}
}
