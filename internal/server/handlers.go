package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"churn-predictor/internal/artifact"
	"churn-predictor/internal/common"
	"churn-predictor/internal/features"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// PredictResponse is the body of a successful /predict call.
type PredictResponse struct {
	RequestID     string                `json:"request_id"`
	EnrolleeID    string                `json:"enrollee_id,omitempty"`
	Probability   float64               `json:"probability"`
	Decision      int                   `json:"decision"`
	Churn         bool                  `json:"churn"`
	Threshold     float64               `json:"threshold"`
	SchemaVersion string                `json:"schema_version"`
	ModelRunID    string                `json:"model_run_id"`
	Importances   []artifact.Importance `json:"importances"`
	Path          []artifact.PathStep   `json:"path,omitempty"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Field     string `json:"field,omitempty"`
	State     string `json:"state,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type healthResponse struct {
	Status        string `json:"status"`
	State         string `json:"state"`
	Error         string `json:"error,omitempty"`
	RunID         string `json:"run_id,omitempty"`
	SchemaVersion string `json:"schema_version,omitempty"`
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// instrument records the status and latency of every request.
func (s *Server) instrument(name string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		h(sw, r)
		elapsed := time.Since(start)
		s.recorder.ObserveRequest(name, sw.code, elapsed)
		log.Debug().
			Str("handler", name).
			Str("method", r.Method).
			Int("status", sw.code).
			Dur("latency", elapsed).
			Msg("request served")
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to write response")
	}
}

func writeError(w http.ResponseWriter, code int, resp errorResponse) {
	writeJSON(w, code, resp)
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	requestID := r.Header.Get(common.RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set(common.RequestIDHeader, requestID)
	logger := log.With().Str("request_id", requestID).Logger()

	art, err := s.ready()
	if err != nil {
		s.recorder.PredictionRejected("unavailable")
		writeError(w, http.StatusServiceUnavailable, errorResponse{
			Error:     err.Error(),
			State:     s.State().String(),
			RequestID: requestID,
		})
		return
	}

	explain := false
	if v := r.URL.Query().Get("explain"); v != "" {
		explain, err = strconv.ParseBool(v)
		if err != nil {
			s.recorder.PredictionRejected("malformed")
			writeError(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid explain value %q", v), RequestID: requestID})
			return
		}
	}

	record, err := decodeRecord(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		s.reject(w, requestID, err)
		return
	}

	if v := r.Header.Get(common.SchemaVersionHeader); v != "" && v != art.Schema.Version {
		s.reject(w, requestID, &common.ValidationError{
			Reason: fmt.Sprintf("schema version %s does not match served model (%s)", v, art.Schema.Version),
		})
		return
	}

	pred, err := art.Predict(record, explain)
	if err != nil {
		s.reject(w, requestID, err)
		return
	}
	elapsed := time.Since(start)
	s.recorder.ObservePrediction(pred.Probability, pred.Decision == 1, elapsed)

	resp := PredictResponse{
		RequestID:     requestID,
		Probability:   pred.Probability,
		Decision:      pred.Decision,
		Churn:         pred.Decision == 1,
		Threshold:     art.Threshold,
		SchemaVersion: art.Schema.Version,
		ModelRunID:    art.RunID,
		Importances:   pred.Importances,
		Path:          pred.Path,
	}
	if art.Schema.IDField != "" {
		if id, ok := record[art.Schema.IDField]; ok && !id.Null {
			resp.EnrolleeID = id.Raw
		}
	}

	logger.Info().
		Str("enrollee_id", resp.EnrolleeID).
		Float64("probability", pred.Probability).
		Bool("churn", resp.Churn).
		Dur("latency", elapsed).
		Msg("prediction served")
	writeJSON(w, http.StatusOK, resp)
}

// malformedError marks a body that is not a single JSON object.
type malformedError struct{ err error }

func (e *malformedError) Error() string { return "malformed request body: " + e.err.Error() }
func (e *malformedError) Unwrap() error { return e.err }

// reject maps a request error to its status code: 400 for malformed
// bodies, 422 for schema violations, 500 otherwise.
func (s *Server) reject(w http.ResponseWriter, requestID string, err error) {
	var malformed *malformedError
	var verr *common.ValidationError
	switch {
	case errors.As(err, &malformed):
		s.recorder.PredictionRejected("malformed")
		writeError(w, http.StatusBadRequest, errorResponse{Error: err.Error(), RequestID: requestID})
	case errors.As(err, &verr):
		s.recorder.PredictionRejected("validation")
		log.Info().Str("request_id", requestID).Str("field", verr.Field).Str("reason", verr.Reason).Msg("prediction rejected")
		writeError(w, http.StatusUnprocessableEntity, errorResponse{Error: verr.Error(), Field: verr.Field, RequestID: requestID})
	default:
		s.recorder.PredictionRejected("internal")
		log.Error().Err(err).Str("request_id", requestID).Msg("prediction failed")
		writeError(w, http.StatusInternalServerError, errorResponse{Error: "internal error", RequestID: requestID})
	}
}

// decodeRecord reads one JSON object of raw fields. Numbers keep their
// literal text and null becomes a missing value.
func decodeRecord(body io.Reader) (features.Record, error) {
	dec := json.NewDecoder(body)
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, &malformedError{err: err}
	}
	if raw == nil {
		return nil, &malformedError{err: errors.New(common.ErrMsgEmptyRequest)}
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, &malformedError{err: errors.New("unexpected data after JSON object")}
	}

	record := make(features.Record, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
			record[k] = features.Value{Null: true}
		case string:
			record[k] = features.Value{Raw: val}
		case json.Number:
			record[k] = features.Value{Raw: val.String()}
		default:
			return nil, &common.ValidationError{Field: k, Reason: fmt.Sprintf("must be a string, number or null, got %T", v)}
		}
	}
	return record, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.State()
	resp := healthResponse{Status: "ok", State: st.String()}

	art, err := s.ready()
	if err != nil {
		resp.Status = "unavailable"
		resp.Error = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp.RunID = art.RunID
	resp.SchemaVersion = art.Schema.Version
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	art, err := s.ready()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error(), State: s.State().String()})
		return
	}
	writeJSON(w, http.StatusOK, art.Info())
}

func (s *Server) handleModelSchema(w http.ResponseWriter, r *http.Request) {
	art, err := s.ready()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error(), State: s.State().String()})
		return
	}
	writeJSON(w, http.StatusOK, art.Schema)
}
