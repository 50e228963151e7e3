// Package server exposes live sessions over HTTP: a human therapist talks
// to a simulated client through a websocket, one session per connection.
//
// Routes:
//
//	GET /healthz             liveness
//	GET /api/agents          registered client, therapist and dimension names
//	GET /api/sessions        recent transcripts (?limit=n)
//	GET /api/sessions/{id}   one transcript
//	GET /ws                  websocket chat
//	GET /metrics             Prometheus metrics, when enabled
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/patienthub/patienthub-go/agent"
	"github.com/patienthub/patienthub-go/budget"
	"github.com/patienthub/patienthub-go/clients"
	"github.com/patienthub/patienthub-go/evaluation"
	"github.com/patienthub/patienthub-go/observability"
	"github.com/patienthub/patienthub-go/safety"
	"github.com/patienthub/patienthub-go/session"
	"github.com/patienthub/patienthub-go/store"
	"github.com/patienthub/patienthub-go/therapists"
)

// ClientFactory builds a fresh simulated client for one connection. The
// client's models should record usage into tracker.
type ClientFactory func(ctx context.Context, tracker *budget.Tracker) (agent.Client, error)

// Options configures a Server.
type Options struct {
	Session   session.Config
	NewClient ClientFactory
	// Storage defaults to an in-memory store.
	Storage store.Storage
	Metrics *observability.Metrics
	// Guard screens therapist input; nil forwards everything.
	Guard *safety.Guard
	// ServeMetrics mounts the Prometheus handler on /metrics.
	ServeMetrics bool
	// AllowedOrigins lists websocket origins. Empty allows same-host
	// requests only; "*" allows any origin.
	AllowedOrigins []string
	Logger         *slog.Logger
}

// Server serves the chat API.
type Server struct {
	opts     Options
	logger   *slog.Logger
	upgrader websocket.Upgrader
	router   chi.Router
}

// New creates a server.
func New(opts Options) (*Server, error) {
	if opts.NewClient == nil {
		return nil, errors.New("server requires a client factory")
	}
	if opts.Storage == nil {
		opts.Storage = store.NewMemoryStorage()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{
		opts:   opts,
		logger: opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin(opts.AllowedOrigins),
		},
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(s.logRequests)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/agents", s.handleAgents)
		r.Get("/sessions", s.handleListSessions)
		r.Get("/sessions/{id}", s.handleGetSession)
	})
	r.Get("/ws", s.handleWebSocket)
	if s.opts.ServeMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string, readHeaderTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAgents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{
		"clients":    clients.Types(),
		"therapists": therapists.Types(),
		"dimensions": evaluation.DimensionNames(),
	})
}

// sessionSummary is the list view of a transcript.
type sessionSummary struct {
	ID        string    `json:"session_id"`
	Client    string    `json:"client"`
	Therapist string    `json:"therapist"`
	NumTurns  int       `json:"num_turns"`
	EndReason string    `json:"end_reason"`
	EndedAt   time.Time `json:"ended_at"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	ts, err := s.opts.Storage.List(r.Context(), limit)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "failed to list sessions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	out := make([]sessionSummary, 0, len(ts))
	for _, t := range ts {
		out = append(out, sessionSummary{
			ID: t.ID, Client: t.Client, Therapist: t.Therapist,
			NumTurns: t.NumTurns, EndReason: t.EndReason, EndedAt: t.EndedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, err := s.opts.Storage.Load(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case err != nil:
		s.logger.ErrorContext(r.Context(), "failed to load session", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load session")
	default:
		writeJSON(w, http.StatusOK, t)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.InfoContext(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", chiMiddleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func checkOrigin(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}
