package kernel

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/rs/cors"

	"github.com/manthysbr/reelforge/internal/config"
	"github.com/manthysbr/reelforge/internal/core/domain"
	"github.com/manthysbr/reelforge/internal/core/ports"
	"github.com/manthysbr/reelforge/internal/core/services"
)

//go:embed openapi.yaml
var openAPISpec []byte

// HealthCheck probes one external dependency. A nil error means healthy.
type HealthCheck func(ctx context.Context) error

type Server struct {
	logger    *slog.Logger
	jobs      *services.JobService
	settings  *config.SettingsStore
	checks    map[string]HealthCheck
	validator *requestValidator

	topicsMu sync.RWMutex
	topics   ports.TopicSource // nil when topic discovery is not configured
}

func NewServer(
	logger *slog.Logger,
	jobs *services.JobService,
	settings *config.SettingsStore,
	topics ports.TopicSource,
	checks map[string]HealthCheck,
) (*Server, error) {
	validator, err := newRequestValidator(openAPISpec)
	if err != nil {
		return nil, err
	}
	if checks == nil {
		checks = map[string]HealthCheck{}
	}
	return &Server{
		logger:    logger,
		jobs:      jobs,
		settings:  settings,
		checks:    checks,
		validator: validator,
		topics:    topics,
	}, nil
}

// SetTopicSource swaps the trending topic source after a settings change.
func (s *Server) SetTopicSource(src ports.TopicSource) {
	s.topicsMu.Lock()
	defer s.topicsMu.Unlock()
	s.topics = src
}

func (s *Server) topicSource() ports.TopicSource {
	s.topicsMu.RLock()
	defer s.topicsMu.RUnlock()
	return s.topics
}

// Handler returns the API routes behind OpenAPI request validation.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/jobs", s.handleSubmitJob)
	mux.HandleFunc("GET /v1/jobs", s.handleListJobs)
	mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("POST /v1/jobs/{id}/cancel", s.handleCancelJob)
	mux.HandleFunc("GET /v1/jobs/{id}/events", s.handleJobEvents)
	mux.HandleFunc("GET /v1/jobs/{id}/stream", s.handleJobSSE)
	mux.HandleFunc("GET /v1/jobs/{id}/video", s.handleDownloadVideo)
	mux.HandleFunc("GET /v1/events", s.handleBroadcastSSE)
	mux.HandleFunc("GET /v1/topics", s.handleListTopics)
	mux.HandleFunc("GET /v1/videos", s.handleListVideos)
	mux.HandleFunc("GET /v1/videos/{id}", s.handleGetVideo)
	mux.HandleFunc("DELETE /v1/videos/{id}", s.handleDeleteVideo)
	mux.HandleFunc("GET /v1/settings", s.handleGetSettings)
	mux.HandleFunc("PUT /v1/settings", s.handleUpdateSettings)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("GET /openapi.yaml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(openAPISpec)
	})

	return s.validator.middleware(mux)
}

// WithCORS wraps h so browser clients from origins can call the API.
func WithCORS(h http.Handler, origins []string) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(h)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps domain errors onto HTTP status codes.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrJobNotFound), errors.Is(err, domain.ErrVideoNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
