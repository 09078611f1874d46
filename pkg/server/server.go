// Package server exposes the executor over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/entrhq/axcore/pkg/action"
	"github.com/entrhq/axcore/pkg/browser"
	"github.com/entrhq/axcore/pkg/executor"
	"github.com/entrhq/axcore/pkg/logging"
)

// DefaultMaxBodyBytes caps request bodies when no limit is configured.
const DefaultMaxBodyBytes = 1 << 20

// Readiness reports the state of the embedding model.
type Readiness interface {
	Name() string
	Ready() bool
}

// Server is the HTTP API server.
type Server struct {
	router       chi.Router
	exec         *executor.Executor
	embedder     Readiness
	logger       *logging.Logger
	maxBodyBytes int64
}

// Option configures a Server.
type Option func(*Server)

// WithMaxBodyBytes limits the size of action requests.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates and configures the HTTP server.
func New(exec *executor.Executor, embedder Readiness, opts ...Option) *Server {
	s := &Server{
		exec:         exec,
		embedder:     embedder,
		logger:       logging.Discard("server"),
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.logger))

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/actions", s.handleActions)
		r.Get("/sessions", s.handleListSessions)
		r.Delete("/sessions/{name}", s.handleCloseSession)
	})

	s.router = r
}

// fatalResponse carries the partial results of a batch that lost its session.
type fatalResponse struct {
	*executor.Response
	Error string `json:"error"`
}

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonError(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		jsonError(w, "failed to read request: "+err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := s.exec.ExecuteRequest(r.Context(), body)
	var invalid *action.ValidationError
	switch {
	case resp == nil && errors.As(err, &invalid):
		jsonError(w, err.Error(), http.StatusBadRequest)
	case browser.IsFatal(err):
		writeJSON(w, http.StatusInternalServerError, fatalResponse{Response: resp, Error: err.Error()})
	case err != nil && resp == nil:
		jsonError(w, err.Error(), http.StatusInternalServerError)
	default:
		if err != nil {
			// Embedding init failures are already in the results; the batch went on.
			s.logger.Errorf("Request %s: %v", resp.RequestID, err)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.exec.Sessions().ListSessions()})
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	err := s.exec.Sessions().CloseSession(r.Context(), name)
	switch {
	case errors.Is(err, browser.ErrSessionNotFound):
		jsonError(w, err.Error(), http.StatusNotFound)
	case err != nil:
		jsonError(w, "failed to close session: "+err.Error(), http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, executor.CloseData{Session: name, Closed: true})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"embedder": map[string]any{
			"provider": s.embedder.Name(),
			"ready":    s.embedder.Ready(),
		},
		"sessions": len(s.exec.Sessions().ListSessions()),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}
