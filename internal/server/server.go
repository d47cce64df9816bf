// Package server exposes the HTTP surface: event intake, upload
// lookups, feedback, and the operational status endpoints.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stashbot/internal/pipeline"
	"stashbot/internal/queue"
	"stashbot/internal/servicetoken"
	"stashbot/internal/util"
	"stashbot/pkg/domain"
	"stashbot/pkg/store"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	Pipeline                 *pipeline.Orchestrator
	Store                    store.Store
	Pool                     *queue.Pool
	Registry                 *prometheus.Registry
	InternalJWTPublicKeyPath string
	AllowedIssuers           []string
}

// Server exposes HTTP endpoints for the upload pipeline.
type Server struct {
	pipeline     *pipeline.Orchestrator
	store        store.Store
	pool         *queue.Pool
	registry     *prometheus.Registry
	internalAuth *servicetoken.Verifier
	mux          *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	s := &Server{
		pipeline: cfg.Pipeline,
		store:    cfg.Store,
		pool:     cfg.Pool,
		registry: cfg.Registry,
		mux:      http.NewServeMux(),
	}
	verifier, err := servicetoken.NewVerifier(
		strings.TrimSpace(cfg.InternalJWTPublicKeyPath),
		cfg.AllowedIssuers,
		servicetoken.DefaultLeeway,
	)
	if err != nil {
		return nil, err
	}
	s.internalAuth = verifier
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithSecurityHeaders(util.WithRequestID(util.WithRequestLog(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/status", s.handleStatus)
	s.mux.Handle("/events", s.withInternal(s.handleEvents))
	s.mux.Handle("/uploads/", s.withInternal(s.handleUploads))
	if s.registry != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) withInternal(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.internalAuth == nil {
			writeError(w, http.StatusInternalServerError, "internal auth not configured")
			return
		}
		token, ok := servicetoken.BearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if _, err := s.internalAuth.Verify(token); err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var ev domain.Event
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if ev.SourceFileID == "" {
		writeError(w, http.StatusBadRequest, "sourceFileId is required")
		return
	}
	if err := s.pipeline.HandleEvent(r.Context(), ev); err != nil {
		switch {
		case errors.Is(err, pipeline.ErrValidation):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, queue.ErrStopped):
			writeError(w, http.StatusServiceUnavailable, "shutting down")
		default:
			writeError(w, http.StatusInternalServerError, "event processing failed")
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	uploads, err := s.store.StatsByStatus(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stats unavailable")
		return
	}
	feedback, err := s.store.FeedbackStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stats unavailable")
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Queue:    s.pool.Stats(),
		Uploads:  uploads,
		Feedback: feedback,
	})
}

// handleUploads serves GET /uploads/{id} and POST /uploads/{id}/feedback.
func (s *Server) handleUploads(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/uploads/")
	switch {
	case rest != "" && !strings.Contains(rest, "/"):
		s.handleUploadByID(w, r, rest)
	case strings.HasSuffix(rest, "/feedback"):
		id := strings.TrimSuffix(rest, "/feedback")
		if id == "" || strings.Contains(id, "/") {
			http.NotFound(w, r)
			return
		}
		s.handleFeedback(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleUploadByID(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	rec, ok, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "upload not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req feedbackRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	fbType, err := s.pipeline.HandleFeedback(r.Context(), id, req.Category, req.Filename, req.Skipped)
	if err != nil {
		if errors.Is(err, pipeline.ErrNotFound) {
			writeError(w, http.StatusNotFound, "upload not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "feedback failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"feedbackType": string(fbType)})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

type feedbackRequest struct {
	Category string `json:"category"`
	Filename string `json:"filename"`
	Skipped  bool   `json:"skipped"`
}

type statusResponse struct {
	Queue    queue.Stats                   `json:"queue"`
	Uploads  domain.UploadStats            `json:"uploads"`
	Feedback map[domain.FeedbackType]int64 `json:"feedback"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
