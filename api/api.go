// Package api exposes the node's HTTP surface: message intake and
// retrieval, metadata patching, WebSub subscription management, health
// and metrics.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/trustbridge/intergov/errors"
	"github.com/trustbridge/intergov/intake"
	"github.com/trustbridge/intergov/lake"
	"github.com/trustbridge/intergov/message"
	"github.com/trustbridge/intergov/metric"
	"github.com/trustbridge/intergov/subscription"
)

// maxRequestSize caps a request body.
const maxRequestSize = 1 << 20

// Lease bounds for WebSub subscriptions, in seconds.
const (
	LeaseSecondsMin     = 300
	LeaseSecondsMax     = 30 * 86400
	LeaseSecondsDefault = 86400
)

// HealthReporter exposes backend connectivity for the healthz endpoint.
// The NATS client satisfies it.
type HealthReporter interface {
	IsHealthy() bool
	Failures() int32
	RTT() (time.Duration, error)
}

// Server wires the HTTP handlers to the domain components.
type Server struct {
	intake        *intake.Intake
	lake          *lake.Lake
	patcher       *lake.Patcher
	subscriptions *subscription.Registry
	metrics       *metric.Registry
	health        HealthReporter
	logger        *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics attaches a metrics registry; its handler is mounted at
// /metrics and every request is counted.
func WithMetrics(m *metric.Registry) Option {
	return func(s *Server) { s.metrics = m }
}

// WithHealth attaches a backend health reporter; healthz answers 503
// while the backend is down.
func WithHealth(h HealthReporter) Option {
	return func(s *Server) { s.health = h }
}

// WithLogger replaces the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewServer wires an API server.
func NewServer(
	in *intake.Intake,
	l *lake.Lake,
	patcher *lake.Patcher,
	subscriptions *subscription.Registry,
	opts ...Option,
) *Server {
	s := &Server{
		intake:        in,
		lake:          l,
		patcher:       patcher,
		subscriptions: subscriptions,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /messages", s.instrument("post_message", s.postMessage))
	mux.HandleFunc("GET /messages/{reference}", s.instrument("get_message", s.getMessage))
	mux.HandleFunc("PATCH /messages/{reference}", s.instrument("patch_message", s.patchMessage))
	mux.HandleFunc("POST /subscriptions", s.instrument("subscriptions", s.postSubscription))
	mux.HandleFunc("GET /healthz", s.instrument("healthz", s.healthz))
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return mux
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(name string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		if s.metrics != nil {
			s.metrics.HTTPRequest(name, rec.status)
		}
	}
}

func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestSize+1))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(body) > maxRequestSize {
		s.writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request body exceeds %d bytes", maxRequestSize))
		return
	}

	msg, err := message.FromJSON(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	stored, err := s.intake.Enqueue(r.Context(), msg)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.logger.Info("message enqueued", "ref", stored.Reference(), "status", stored.Status.String())
	s.writeJSON(w, http.StatusCreated, stored)
}

func (s *Server) getMessage(w http.ResponseWriter, r *http.Request) {
	sender, ref, err := lake.ParseReference(r.PathValue("reference"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "reference must look like AU:uuid")
		return
	}

	msg, err := s.lake.Get(r.Context(), sender, ref)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, msg)
}

func (s *Server) patchMessage(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req lake.PatchRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestSize)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "request body must be a JSON patch")
		return
	}

	msg, err := s.patcher.Patch(r.Context(), r.PathValue("reference"), req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, msg)
}

func (s *Server) postSubscription(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		s.writeError(w, http.StatusUnsupportedMediaType,
			"subscription requests must be form-encoded")
		return
	}
	if err := r.ParseForm(); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed form body")
		return
	}

	mode := r.PostForm.Get("hub.mode")
	callback := r.PostForm.Get("hub.callback")
	topic := r.PostForm.Get("hub.topic")

	var missing []string
	if mode == "" {
		missing = append(missing, "hub.mode")
	}
	if callback == "" {
		missing = append(missing, "hub.callback")
	}
	if topic == "" {
		missing = append(missing, "hub.topic")
	}
	if len(missing) > 0 {
		s.writeError(w, http.StatusBadRequest,
			"missing required attributes: "+strings.Join(missing, ", "))
		return
	}
	if err := validateCallback(callback); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch mode {
	case "subscribe":
		lease, err := parseLease(r.PostForm.Get("hub.lease_seconds"))
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := s.subscriptions.Subscribe(r.Context(), topic, callback, lease); err != nil {
			s.writeDomainError(w, err)
			return
		}
	case "unsubscribe":
		err := s.subscriptions.Unsubscribe(r.Context(), topic, callback)
		if err != nil && !errors.IsNotFound(err) {
			s.writeDomainError(w, err)
			return
		}
	default:
		s.writeError(w, http.StatusBadRequest,
			fmt.Sprintf("unknown hub.mode %q", mode))
		return
	}

	s.logger.Info("subscription request handled", "mode", mode, "topic", topic)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	if s.health == nil {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	healthy := s.health.IsHealthy()
	nats := map[string]any{
		"connected": healthy,
		"failures":  s.health.Failures(),
	}
	if rtt, err := s.health.RTT(); err == nil {
		nats["rtt"] = rtt.String()
	}
	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, map[string]any{"status": status, "nats": nats})
}

func validateCallback(callback string) error {
	parsed, err := url.Parse(callback)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("hub.callback must be an absolute URL")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("unsupported hub.callback scheme %q", parsed.Scheme)
	}
	return nil
}

func parseLease(raw string) (time.Duration, error) {
	if raw == "" {
		return LeaseSecondsDefault * time.Second, nil
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < LeaseSecondsMin || seconds > LeaseSecondsMax {
		return 0, fmt.Errorf("hub.lease_seconds must be an integer between %d and %d",
			LeaseSecondsMin, LeaseSecondsMax)
	}
	return time.Duration(seconds) * time.Second, nil
}

// writeDomainError maps an error's class to an HTTP status.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.IsInvalid(err):
		status = http.StatusBadRequest
	case errors.IsNotFound(err):
		status = http.StatusNotFound
	case errors.IsConflict(err):
		status = http.StatusConflict
	case errors.IsTransient(err):
		status = http.StatusServiceUnavailable
	}
	if status >= 500 {
		s.logger.Error("request failed", "error", err)
	}
	s.writeError(w, status, err.Error())
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, msg string) {
	s.writeJSON(w, statusCode, map[string]any{
		"error":  msg,
		"status": statusCode,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_, _ = w.Write(data)
}
