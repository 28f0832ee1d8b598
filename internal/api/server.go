// Package api exposes conferences over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/h1v3-io/agora/internal/conference"
	"github.com/h1v3-io/agora/internal/logbuf"
	"github.com/h1v3-io/agora/internal/monitor"
	"github.com/h1v3-io/agora/internal/operation"
	"github.com/h1v3-io/agora/internal/webctx"
	"github.com/h1v3-io/agora/pkg/protocol"
)

const maxBodyBytes = 1 << 20

// LogQuerier abstracts log entry querying to avoid coupling to logbuf directly.
type LogQuerier interface {
	Query(f logbuf.Filter) []logbuf.Entry
}

// ContextFetcher resolves a problem's context_url.
type ContextFetcher interface {
	Fetch(ctx context.Context, rawURL string) (webctx.Page, error)
}

// ConferenceService is what the server needs from the orchestrator.
type ConferenceService interface {
	Solve(ctx context.Context, problem protocol.Problem, opts protocol.SolveOptions) (*protocol.Deliverable[protocol.GeneralResult], error)
	SolveAsync(ctx context.Context, problem protocol.Problem, opts protocol.SolveOptions) (protocol.Operation, error)
	EvaluateAsync(ctx context.Context, eval protocol.Evaluation, opts protocol.SolveOptions) (protocol.Operation, error)
	Operation(ctx context.Context, id string) (protocol.Operation, error)
	Events(monitorID string) ([]protocol.RoomEvent, error)
	Watch(ctx context.Context, monitorID string, sub monitor.Subscriber) (*monitor.Subscription, error)
}

// Config holds API server configuration.
type Config struct {
	Host string
	Port int
	Key  string // API key for Bearer auth
	// AllowedModels restricts attendee models. Empty allows any.
	AllowedModels []string
	// MaxAttendees caps the seats one request may ask for. Zero means
	// DefaultMaxAttendees.
	MaxAttendees int
}

// DefaultMaxAttendees is the seat cap used when Config leaves it unset.
const DefaultMaxAttendees = 10

// Server is the agora REST API server.
type Server struct {
	svc     ConferenceService
	cfg     Config
	logger  *slog.Logger
	logs    LogQuerier
	fetcher ContextFetcher
	srv     *http.Server
}

// NewServer creates a new API server. logs and fetcher may be nil.
func NewServer(svc ConferenceService, cfg Config, logger *slog.Logger, logs LogQuerier, fetcher ContextFetcher) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxAttendees <= 0 {
		cfg.MaxAttendees = DefaultMaxAttendees
	}
	s := &Server{
		svc:     svc,
		cfg:     cfg,
		logger:  logger.With("component", "api"),
		logs:    logs,
		fetcher: fetcher,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/conference/solve", s.requireAuth(s.handleSolve))
	mux.HandleFunc("POST /api/conference/solve/async", s.requireAuth(s.handleSolveAsync))
	mux.HandleFunc("POST /api/conference/evaluate/async", s.requireAuth(s.handleEvaluateAsync))
	mux.HandleFunc("GET /api/operations/{id}", s.requireAuth(s.handleGetOperation))
	mux.HandleFunc("GET /api/monitoring/{id}", s.requireAuth(s.handleGetEvents))
	mux.HandleFunc("GET /api/monitoring/{id}/stream", s.requireAuth(s.handleStream))
	mux.HandleFunc("GET /api/logs", s.requireAuth(s.handleGetLogs))

	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.corsMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins listening. Blocks until context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutCtx)
	}()

	s.logger.Info("api server starting", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Key == "" {
			next(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.cfg.Key {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSolve(w http.ResponseWriter, r *http.Request) {
	var req solveRequest
	if !s.decode(w, r, &req) {
		return
	}
	problem, opts, ok := s.solveInput(w, r, req)
	if !ok {
		return
	}

	d, err := s.svc.Solve(r.Context(), problem, opts)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp, err := toDeliverableResponse(d)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSolveAsync(w http.ResponseWriter, r *http.Request) {
	var req solveRequest
	if !s.decode(w, r, &req) {
		return
	}
	problem, opts, ok := s.solveInput(w, r, req)
	if !ok {
		return
	}

	op, err := s.svc.SolveAsync(r.Context(), problem, opts)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, op)
}

func (s *Server) handleEvaluateAsync(w http.ResponseWriter, r *http.Request) {
	var req evaluationRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Problem == nil {
		writeError(w, http.StatusBadRequest, "problem is required")
		return
	}
	if err := req.Problem.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts, err := req.Options.toOptions(s.cfg.AllowedModels, s.cfg.MaxAttendees)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	op, err := s.svc.EvaluateAsync(r.Context(), req.Problem.toEvaluation(), opts)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, op)
}

func (s *Server) handleGetOperation(w http.ResponseWriter, r *http.Request) {
	op, err := s.svc.Operation(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, op)
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.svc.Events(r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]eventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, toEventResponse(ev))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		writeJSON(w, http.StatusOK, []logbuf.Entry{})
		return
	}

	q := r.URL.Query()
	f := logbuf.Filter{Limit: 200, MinLevel: slog.LevelDebug}
	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			f.Limit = n
		}
	}
	if lvl := q.Get("level"); lvl != "" {
		switch strings.ToLower(lvl) {
		case "info":
			f.MinLevel = slog.LevelInfo
		case "warn":
			f.MinLevel = slog.LevelWarn
		case "error":
			f.MinLevel = slog.LevelError
		}
	}
	if v := q.Get("since"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			f.Since = time.UnixMilli(ms)
		}
	}
	for _, key := range []string{"component", "operation", "monitor"} {
		if v := q.Get(key); v != "" {
			if f.Attrs == nil {
				f.Attrs = make(map[string]string)
			}
			f.Attrs[key] = v
		}
	}

	entries := s.logs.Query(f)
	if entries == nil {
		entries = []logbuf.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Helpers ---

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

// solveInput validates a solve request and resolves its context URL.
func (s *Server) solveInput(w http.ResponseWriter, r *http.Request, req solveRequest) (protocol.Problem, protocol.SolveOptions, bool) {
	if req.Problem == nil {
		writeError(w, http.StatusBadRequest, "problem is required")
		return protocol.Problem{}, protocol.SolveOptions{}, false
	}
	if err := req.Problem.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return protocol.Problem{}, protocol.SolveOptions{}, false
	}
	opts, err := req.Options.toOptions(s.cfg.AllowedModels, s.cfg.MaxAttendees)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return protocol.Problem{}, protocol.SolveOptions{}, false
	}

	problem := req.Problem.toProblem()
	if req.Problem.ContextURL != "" {
		if s.fetcher == nil {
			writeError(w, http.StatusBadRequest, "context_url is not enabled")
			return protocol.Problem{}, protocol.SolveOptions{}, false
		}
		page, err := s.fetcher.Fetch(r.Context(), req.Problem.ContextURL)
		if err != nil {
			s.logger.Warn("fetch context", "url", req.Problem.ContextURL, "error", err)
			writeError(w, http.StatusBadRequest, "context_url: "+err.Error())
			return protocol.Problem{}, protocol.SolveOptions{}, false
		}
		problem.Context = joinContext(problem.Context, page.Context())
	}
	return problem, opts, true
}

// fail maps service errors onto HTTP statuses.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case conference.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, operation.ErrNotFound), errors.Is(err, monitor.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, conference.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case r.Context().Err() != nil:
		s.logger.Warn("request cancelled", "path", r.URL.Path)
		writeError(w, http.StatusRequestTimeout, "request cancelled")
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func joinContext(existing, fetched string) string {
	if strings.TrimSpace(existing) == "" {
		return fetched
	}
	return existing + "\n\n" + fetched
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
