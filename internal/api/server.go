package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"expvar"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ajitpratap0/calsync/internal/classifier"
	"github.com/ajitpratap0/calsync/internal/scheduler"
	"github.com/ajitpratap0/calsync/internal/syncer"
)

// Runner triggers sync runs and reports on them.
type Runner interface {
	Trigger(ctx context.Context) (*syncer.Report, error)
	Status() scheduler.Status
}

// Server is an HTTP API server that exposes run status and manual triggers.
type Server struct {
	runner     Runner
	classifier classifier.Classifier
	logger     *slog.Logger
	authToken  string // empty = no auth required
}

// NewServer creates a new Server with the given dependencies.
func NewServer(runner Runner, cls classifier.Classifier, logger *slog.Logger, authToken string) *Server {
	return &Server{
		runner:     runner,
		classifier: cls,
		logger:     logger,
		authToken:  authToken,
	}
}

// Handler returns an http.Handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health check: no auth required.
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	mux.HandleFunc("GET /v1/status", s.auth(s.handleStatus))
	mux.HandleFunc("POST /v1/sync", s.auth(s.handleSync))
	mux.HandleFunc("POST /v1/classify", s.auth(s.handleClassify))
	mux.Handle("GET /debug/vars", s.auth(expvar.Handler().ServeHTTP))

	return mux
}

// --- middleware ---

// auth wraps a handler with Bearer token authentication when authToken is set.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.authToken == "" {
			next(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

// --- handlers ---

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.runner.Status())
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	// The run outlives a disconnecting client.
	report, err := s.runner.Trigger(context.WithoutCancel(r.Context()))
	if errors.Is(err, scheduler.ErrRunInProgress) {
		s.writeError(w, http.StatusConflict, "a sync run is already in progress")
		return
	}
	if err != nil {
		s.logger.Error("manual sync failed", "error", err)
		s.writeJSON(w, http.StatusBadGateway, syncResponse{Error: err.Error(), Report: report})
		return
	}
	s.writeJSON(w, http.StatusOK, syncResponse{Report: report})
}

// syncResponse is returned by POST /v1/sync.
type syncResponse struct {
	Report *syncer.Report `json:"report,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// classifyRequest is the body accepted by POST /v1/classify.
type classifyRequest struct {
	Summary     string `json:"summary"`
	Description string `json:"description"`
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	var req classifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Summary == "" && req.Description == "" {
		s.writeError(w, http.StatusBadRequest, "summary or description is required")
		return
	}
	s.writeJSON(w, http.StatusOK, s.classifier.Classify(req.Summary, req.Description))
}

// --- helpers ---

// writeJSON encodes v as JSON and writes it to w with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(v); encErr != nil {
		s.logger.Error("failed to encode response", "error", encErr)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// Shutdown gracefully shuts down an http.Server with the given timeout.
// This is a convenience helper used by the serve command.
func Shutdown(srv *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
