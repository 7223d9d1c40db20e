package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	defaultPullLimit = 1000
	maxPushBatch     = 1000
)

// Config configures a Server.
type Config struct {
	ListenAddr string
	DBPath     string // ":memory:" for tests and short-lived demos
	SigningKey []byte
}

// Server is the reference relay: POST /sync/push, POST /sync/pull, and
// GET /ws, backed by one server-side event log.
type Server struct {
	cfg        Config
	http       *http.Server
	store      *eventStore
	hub        *socketHub
	signingKey []byte
	logger     *slog.Logger
}

// NewServer opens the event store at cfg.DBPath and builds a Server ready
// to Start.
func NewServer(cfg Config) (*Server, error) {
	store, err := openEventStore(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:        cfg,
		store:      store,
		hub:        newSocketHub(),
		signingKey: cfg.SigningKey,
		logger:     slog.Default().With("component", "relay"),
	}
	s.http = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s, nil
}

// Start begins listening for HTTP requests (non-blocking).
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("relay: listen: %w", err)
	}
	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server", "error", err)
		}
	}()
	return nil
}

// Shutdown gracefully stops the server and closes the event store.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	s.store.close()
	return err
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /sync/push", s.requireBearer(s.handlePush))
	mux.HandleFunc("POST /sync/pull", s.requireBearer(s.handlePull))
	mux.HandleFunc("GET /ws", s.handleSocket)
	return chain(mux, recoveryMiddleware, requestIDMiddleware, loggingMiddleware(s.logger))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	var req PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}
	if len(req.Events) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "events array is empty")
		return
	}
	if len(req.Events) > maxPushBatch {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("batch size %d exceeds max %d", len(req.Events), maxPushBatch))
		return
	}

	acked, rejected, err := s.store.insert(r.Context(), req.Events)
	if err != nil {
		s.logger.Error("insert pushed events", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to store events")
		return
	}

	s.hub.broadcastAll(req.Events, nil)

	writeJSON(w, http.StatusOK, PushResponse{Acknowledged: acked, Rejected: rejected})
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	var req PullRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultPullLimit
	}

	events, nextCheckpoint, hasMore, err := s.store.since(r.Context(), req.Since, limit)
	if err != nil {
		s.logger.Error("query pull page", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to query events")
		return
	}

	writeJSON(w, http.StatusOK, PullResponse{
		Events:         events,
		NextCheckpoint: nextCheckpoint,
		HasMore:        hasMore,
	})
}

// APIError represents a structured error returned by the relay, matching
// the client's apiError unmarshaling shape.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error APIError `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: APIError{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// requestIDMiddleware tags every request with a UUID for response
// headers and log correlation, matching the teacher's requestIDMiddleware
// except generated with google/uuid rather than a hand-rolled hex id.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("panic recovered", "panic", rec, "path", r.URL.Path)
				writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sc := &statusCapture{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(sc, r)
			logger.Debug("req", "method", r.Method, "path", r.URL.Path, "status", sc.code, "dur", time.Since(start).String())
		})
	}
}

type statusCapture struct {
	http.ResponseWriter
	code int
}

func (sc *statusCapture) WriteHeader(code int) {
	sc.code = code
	sc.ResponseWriter.WriteHeader(code)
}

func chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
