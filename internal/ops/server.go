package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ReadySet1/destino-sf-sub005/internal/infra/redis"
	"github.com/ReadySet1/destino-sf-sub005/internal/queue"
	"github.com/ReadySet1/destino-sf-sub005/internal/resilience"
)

// maxWebhookBody caps inbound webhook payloads at 1 MiB.
const maxWebhookBody = 1 << 20

// HealthChecker reports whether a backing dependency is reachable.
type HealthChecker func(ctx context.Context) error

// Server exposes the operational HTTP surface: health, metrics, circuit
// status, queue inspection, and webhook ingestion.
type Server struct {
	breaker *resilience.CircuitBreaker
	queue   *queue.Queue
	deduper *redis.Deduper
	checks  map[string]HealthChecker
	log     *slog.Logger
	server  *http.Server
}

// NewServer creates the ops server on the given port. checks maps a
// dependency name to its health probe; nil checks pass unconditionally.
func NewServer(port int, breaker *resilience.CircuitBreaker, q *queue.Queue, deduper *redis.Deduper, checks map[string]HealthChecker) *Server {
	s := &Server{
		breaker: breaker,
		queue:   q,
		deduper: deduper,
		checks:  checks,
		log:     slog.Default().With("component", "ops"),
	}

	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/v1/circuits", s.handleCircuits)
	r.Get("/v1/circuits/{key}", s.handleCircuit)
	r.Get("/v1/queue/stats", s.handleQueueStats)
	r.Post("/v1/queue/jobs/{id}/retry", s.handleRetry)
	r.Post("/v1/webhooks/{kind}", s.handleWebhook)

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	deps := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			deps[name] = err.Error()
			status = "degraded"
		} else {
			deps[name] = "ok"
		}
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"status": status, "dependencies": deps})
}

func (s *Server) handleCircuits(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.breaker.Snapshot())
}

func (s *Server) handleCircuit(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	writeJSON(w, http.StatusOK, s.breaker.Status(key))
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.queue.Stats(r.Context()))
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.queue.Retry(r.Context(), id) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no dead-lettered job with that id"})
		return
	}
	s.log.Info("dead-lettered job resubmitted", "job_id", id)
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id, "status": "pending"})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	eventID := r.Header.Get("X-Event-Id")
	if s.deduper.Seen(r.Context(), eventID) {
		s.log.Info("duplicate webhook dropped", "kind", kind, "event_id", eventID)
		writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
		return
	}

	headers := map[string]string{}
	for _, name := range []string{"X-Event-Id", "X-Square-Hmacsha256-Signature", "Content-Type"} {
		if v := r.Header.Get(name); v != "" {
			headers[name] = v
		}
	}

	job, err := s.queue.Add(r.Context(), kind, body, headers)
	if err != nil {
		s.log.Error("webhook enqueue failed", "kind", kind, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "enqueue failed"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID, "status": string(job.Status)})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
