// Package server exposes the glyphlens HTTP surface: the live MJPEG feed, the
// worker control endpoints, status and journal queries, health probes and the
// metrics scrape endpoint.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/MrWong99/glyphlens/internal/controller"
	"github.com/MrWong99/glyphlens/internal/health"
	"github.com/MrWong99/glyphlens/internal/journal"
	"github.com/MrWong99/glyphlens/internal/observe"
)

// Default and maximum page sizes for /narrations.
const (
	DefaultNarrationLimit = 20
	MaxNarrationLimit     = 500
)

// Controller is the part of [controller.Controller] the server drives.
type Controller interface {
	Start() controller.StartResult
	Stop() controller.StopResult
	Status() controller.Status
}

// Journal lists recent narrations. [journal.Journal] implements it.
type Journal interface {
	Recent(ctx context.Context, n int) ([]journal.Entry, error)
}

// BreakerStates reports circuit breaker states keyed by provider name.
type BreakerStates func() map[string]string

// Option is a functional option for configuring a Server.
type Option func(*Server)

// WithJournal enables the /narrations endpoint.
func WithJournal(j Journal) Option {
	return func(s *Server) { s.journal = j }
}

// WithHealth mounts /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler mounts h at path.
func WithMetricsHandler(path string, h http.Handler) Option {
	return func(s *Server) {
		s.metricsPath = path
		s.metricsHandler = h
	}
}

// WithBreakers adds the circuit breaker states of a provider kind ("llm",
// "tts") to /status.
func WithBreakers(kind string, states BreakerStates) Option {
	return func(s *Server) { s.breakers[kind] = states }
}

// WithMetrics sets the metrics recorder used by the request middleware
// (default [observe.DefaultMetrics]).
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// Server routes HTTP requests to the stream, controller and journal.
type Server struct {
	feed           http.Handler
	ctrl           Controller
	journal        Journal
	health         *health.Handler
	metricsPath    string
	metricsHandler http.Handler
	breakers       map[string]BreakerStates
	metrics        *observe.Metrics
}

// New creates a Server. feed serves /video_feed.
func New(feed http.Handler, ctrl Controller, opts ...Option) *Server {
	s := &Server{
		feed:     feed,
		ctrl:     ctrl,
		breakers: make(map[string]BreakerStates),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler returns the routed handler wrapped in the tracing and metrics
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /video_feed", s.feed)
	mux.HandleFunc("GET /start_process", s.startProcess)
	mux.HandleFunc("POST /start_process", s.startProcess)
	mux.HandleFunc("GET /stop_process", s.stopProcess)
	mux.HandleFunc("POST /stop_process", s.stopProcess)
	mux.HandleFunc("GET /status", s.status)
	if s.journal != nil {
		mux.HandleFunc("GET /narrations", s.narrations)
	}
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsHandler != nil && s.metricsPath != "" {
		mux.Handle("GET "+s.metricsPath, s.metricsHandler)
	}
	return observe.Middleware(s.metrics)(mux)
}

type messageResponse struct {
	Message string `json:"message"`
}

func (s *Server) startProcess(w http.ResponseWriter, r *http.Request) {
	res := s.ctrl.Start()
	observe.Logger(r.Context()).Info("start requested", "result", res.Message())
	writeJSON(w, http.StatusOK, messageResponse{Message: res.Message()})
}

func (s *Server) stopProcess(w http.ResponseWriter, r *http.Request) {
	res := s.ctrl.Stop()
	observe.Logger(r.Context()).Info("stop requested", "was_running", res == controller.Stopped)
	writeJSON(w, http.StatusOK, messageResponse{Message: res.Message()})
}

type statusResponse struct {
	controller.Status
	Breakers map[string]map[string]string `json:"breakers,omitempty"`
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	res := statusResponse{Status: s.ctrl.Status()}
	if len(s.breakers) > 0 {
		res.Breakers = make(map[string]map[string]string, len(s.breakers))
		for kind, states := range s.breakers {
			res.Breakers[kind] = states()
		}
	}
	writeJSON(w, http.StatusOK, res)
}

type narrationsResponse struct {
	Narrations []journal.Entry `json:"narrations"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) narrations(w http.ResponseWriter, r *http.Request) {
	limit := DefaultNarrationLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, MaxNarrationLimit)
	}

	entries, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		observe.Logger(r.Context()).Warn("journal query failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "journal unavailable"})
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, narrationsResponse{Narrations: entries})
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
