// Package server exposes heart-rate ingestion and anomaly analysis over HTTP.
package server

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/pulseguard/pulseguard/pkg/detectors"
	"github.com/pulseguard/pulseguard/pkg/heartrate"
	"github.com/pulseguard/pulseguard/pkg/store"
)

var (
	json = jsoniter.ConfigCompatibleWithStandardLibrary
	slog = logrus.WithField("component", "server")
)

const (
	// maxBodyBytes bounds request bodies.
	maxBodyBytes = 1 << 20
	// maxClockSkew is how far past the server clock a sample may be dated.
	maxClockSkew = 5 * time.Minute
)

// Server serves the pulseguard HTTP API.
type Server struct {
	router   *mux.Router
	store    store.HistoryStore
	detector detectors.Detector
	analyzer *heartrate.Analyzer
	metrics  *metrics
	clock    clock.Clock
	window   time.Duration
	minHist  int
}

// Config wires a Server.
type Config struct {
	Store    store.HistoryStore
	Detector detectors.Detector
	// Window is how far back analysis looks and how much history is kept.
	Window     time.Duration
	MinSamples int
	// Registry receives the server metrics and is served on /metrics.
	Registry *prometheus.Registry
	Clock    clock.Clock
}

// ScoreRequest is the body of POST /api/v1/score.
type ScoreRequest struct {
	History   []float64 `json:"history"`
	Value     float64   `json:"value"`
	Threshold *float64  `json:"threshold,omitempty"`
}

// New creates a Server and registers its routes.
func New(cfg Config) *Server {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	if cfg.Window <= 0 {
		cfg.Window = heartrate.DefaultWindow
	}
	if cfg.MinSamples < heartrate.DefaultMinSamples {
		cfg.MinSamples = heartrate.DefaultMinSamples
	}

	s := &Server{
		router:   mux.NewRouter(),
		store:    cfg.Store,
		detector: cfg.Detector,
		analyzer: heartrate.NewAnalyzer(cfg.Detector,
			heartrate.WithClock(cfg.Clock),
			heartrate.WithWindow(cfg.Window),
			heartrate.WithMinSamples(cfg.MinSamples),
		),
		metrics: newMetrics(cfg.Registry),
		clock:   cfg.Clock,
		window:  cfg.Window,
		minHist: cfg.MinSamples - 1,
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/subjects/{subject}/samples", s.handleAppend).Methods(http.MethodPost)
	api.HandleFunc("/subjects/{subject}/analysis", s.handleAnalysis).Methods(http.MethodGet)
	api.HandleFunc("/score", s.handleScore).Methods(http.MethodPost)
	s.router.HandleFunc("/health", handleHealth).Methods(http.MethodGet)
	s.router.Path("/metrics").Handler(promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))
	s.router.Use(s.metrics.instrument)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:           addr,
		Handler:        s,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	errc := make(chan error, 1)
	go func() {
		slog.WithField("addr", addr).Info("server starting")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	subject := mux.Vars(r)["subject"]

	samples, err := decodeSamples(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(samples) == 0 {
		writeError(w, http.StatusBadRequest, "no samples")
		return
	}
	now := s.clock.Now()
	for _, sample := range samples {
		if err := sample.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if sample.Time.After(now.Add(maxClockSkew)) {
			writeError(w, http.StatusBadRequest, "sample time "+sample.Time.Format(time.RFC3339)+" is in the future")
			return
		}
	}

	if err := s.store.Append(r.Context(), subject, samples...); err != nil {
		slog.WithError(err).WithField("subject", subject).Error("failed to store samples")
		writeError(w, http.StatusInternalServerError, "failed to store samples")
		return
	}

	if err := s.store.Trim(r.Context(), subject, now.Add(-s.window)); err != nil {
		slog.WithError(err).WithField("subject", subject).Warn("failed to trim history")
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":  "accepted",
		"subject": subject,
		"count":   len(samples),
	})
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	subject := mux.Vars(r)["subject"]
	now := s.clock.Now()

	samples, err := s.store.Range(r.Context(), subject, now.Add(-s.window), now)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown subject "+subject)
		return
	}
	if err != nil {
		slog.WithError(err).WithField("subject", subject).Error("failed to load history")
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	report, err := s.analyzer.AnalyzeAt(r.Context(), samples, now)
	if errors.Is(err, heartrate.ErrInsufficientData) {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.observe(report.Verdict)
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	var req ScoreRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON format")
		return
	}
	if len(req.History) < s.minHist {
		writeError(w, http.StatusUnprocessableEntity, heartrate.ErrInsufficientData.Error())
		return
	}
	if req.Threshold != nil && (*req.Threshold <= 0 || *req.Threshold >= 1) {
		writeError(w, http.StatusBadRequest, "threshold must be in (0, 1)")
		return
	}

	verdict, err := s.detector.Score(r.Context(), req.History, req.Value)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if req.Threshold != nil {
		verdict = detectors.NewVerdict(verdict.Score, *req.Threshold)
	}

	s.observe(verdict)
	writeJSON(w, http.StatusOK, verdict)
}

func (s *Server) observe(v detectors.Verdict) {
	s.metrics.scores.Observe(v.Score)
	if v.IsAnomaly {
		s.metrics.anomaliesTotal.Inc()
	}
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// decodeSamples accepts either one sample object or an array of them.
func decodeSamples(w http.ResponseWriter, r *http.Request) ([]heartrate.Sample, error) {
	var raw jsoniter.RawMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&raw); err != nil {
		return nil, errors.New("invalid JSON format")
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var samples []heartrate.Sample
		if err := json.Unmarshal(trimmed, &samples); err != nil {
			return nil, errors.New("invalid sample array")
		}
		return samples, nil
	}

	var sample heartrate.Sample
	if err := json.Unmarshal(trimmed, &sample); err != nil {
		return nil, errors.New("invalid sample")
	}
	return []heartrate.Sample{sample}, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.WithError(err).Debug("failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
