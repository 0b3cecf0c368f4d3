// Package server exposes a trained churn artifact over HTTP.
//
// The artifact is loaded once, in Load or Start. After that the service is
// either Ready and answers predictions, or Failed and answers every request
// with 503 and the startup error. There is no reload.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"churn-predictor/internal/artifact"
	"churn-predictor/internal/common"
	"churn-predictor/internal/metrics"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// State is the lifecycle of the service.
type State int32

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

const defaultMaxBodyBytes = 1 << 20

type Config struct {
	Port         int
	ArtifactPath string

	// MaxBodyBytes caps /predict request bodies. Zero means 1 MiB.
	MaxBodyBytes int64
}

// Server serves predictions from one immutable artifact.
type Server struct {
	cfg      Config
	state    atomic.Int32
	loadOnce sync.Once

	// Written once before the state leaves Loading, read-only afterwards.
	art     *artifact.Artifact
	loadErr error

	registry *prometheus.Registry
	recorder metrics.Recorder
	router   *mux.Router
	server   *http.Server
}

// New builds a server with its own metrics registry. It does not touch the
// artifact until Load or Start.
func New(cfg Config) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s := &Server{
		cfg:      cfg,
		registry: registry,
		recorder: metrics.NewWrapper(metrics.NewWithRegistry(registry)),
	}
	s.recorder.SetState(int(StateUninitialized))

	r := mux.NewRouter()
	r.Handle("/predict", s.instrument("predict", s.handlePredict)).Methods(http.MethodPost)
	r.Handle("/health", s.instrument("health", s.handleHealth)).Methods(http.MethodGet)
	r.Handle("/model/info", s.instrument("model_info", s.handleModelInfo)).Methods(http.MethodGet)
	r.Handle("/model/schema", s.instrument("model_schema", s.handleModelSchema)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, errorResponse{Error: "not found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
	})
	s.router = r

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// State reports the current lifecycle state.
func (s *Server) State() State {
	return State(s.state.Load())
}

func (s *Server) setState(st State) {
	s.state.Store(int32(st))
	s.recorder.SetState(int(st))
}

// Load reads and verifies the artifact. Only the first call does any work;
// later calls return the same outcome. A failure leaves the server Failed.
func (s *Server) Load() error {
	s.loadOnce.Do(func() {
		s.setState(StateLoading)
		start := time.Now()

		art, err := artifact.Load(s.cfg.ArtifactPath)
		if err != nil {
			s.loadErr = &common.ServiceUnavailableError{State: StateFailed.String(), Err: err}
			s.setState(StateFailed)
			log.Error().Err(err).Str("artifact", s.cfg.ArtifactPath).Msg("model artifact failed to load, serving 503")
			return
		}

		s.art = art
		s.recorder.ModelLoaded(art.RunID, art.Schema.Version, art.TrainedAt, time.Since(start))
		s.setState(StateReady)
		log.Info().
			Str("artifact", s.cfg.ArtifactPath).
			Str("run_id", art.RunID).
			Str("schema_version", art.Schema.Version).
			Strs("features", art.Selector.Names).
			Float64("threshold", art.Threshold).
			Dur("elapsed", time.Since(start)).
			Msg("model artifact loaded")
	})
	return s.loadErr
}

// Start loads the artifact and serves HTTP until Shutdown. A load failure
// is logged and the server keeps running in the Failed state.
func (s *Server) Start() error {
	_ = s.Load()
	log.Info().Str("addr", s.server.Addr).Str("state", s.State().String()).Msg("starting prediction server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ready returns the artifact when the service can answer, or the error to
// send back otherwise.
func (s *Server) ready() (*artifact.Artifact, error) {
	switch st := s.State(); st {
	case StateReady:
		return s.art, nil
	case StateFailed:
		return nil, s.loadErr
	default:
		return nil, &common.ServiceUnavailableError{State: st.String(), Err: errors.New(common.ErrMsgArtifactNotLoaded)}
	}
}
