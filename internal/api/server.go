package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"manim-studio/internal/logging"
	"manim-studio/internal/models"
	"manim-studio/internal/store"
	"manim-studio/internal/telemetry"
	"manim-studio/internal/worker"
)

const maxRequestBody = 1 << 20

// JobReader serves job lookups.
type JobReader interface {
	GetJob(ctx context.Context, id string) (models.Job, error)
	ListJobs(ctx context.Context) ([]models.Job, error)
}

// JobCreator persists a job and starts its pipeline.
type JobCreator interface {
	Create(ctx context.Context, title *string, scenes []string) (models.Job, error)
}

// Limiter admits or rejects one request for key.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, float64, error)
}

// Option configures optional server behavior.
type Option func(*Server)

// WithLimiter rate limits job creation per client address.
func WithLimiter(l Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

// WithHealthCheck makes /healthz report the result of check.
func WithHealthCheck(check func(context.Context) error) Option {
	return func(s *Server) { s.health = check }
}

// WithAllowedOrigin enables CORS for a browser client served from origin.
func WithAllowedOrigin(origin string) Option {
	return func(s *Server) { s.origin = origin }
}

// Server wires HTTP handlers for the animations API.
type Server struct {
	jobs    JobReader
	creator JobCreator
	limiter Limiter
	health  func(context.Context) error
	origin  string
	log     zerolog.Logger
}

// New constructs the API server.
func New(jobs JobReader, creator JobCreator, log zerolog.Logger, opts ...Option) *Server {
	s := &Server{
		jobs:    jobs,
		creator: creator,
		log:     log.With().Str("component", "api").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Requests(s.log))
	r.Use(middleware.Recoverer)
	if s.origin != "" {
		r.Use(s.cors)
	}

	r.Get("/healthz", s.handleHealth)
	r.Mount("/metrics", telemetry.Handler())

	r.Route("/animations", func(r chi.Router) {
		r.Post("/", s.handleCreate)
		r.Get("/", s.handleList)
		r.Get("/{id}", s.handleGet)
		r.Get("/{id}/video", s.handleVideo)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			s.log.Warn().Err(err).Msg("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createRequest struct {
	Title  *string  `json:"title"`
	Scenes []string `json:"scenes"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil {
		allowed, _, err := s.limiter.Allow(r.Context(), clientKey(r))
		if err != nil {
			s.log.Error().Err(err).Msg("rate limiter")
			writeError(w, http.StatusInternalServerError, "rate limit error")
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			writeError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
	}

	var req createRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	job, err := s.creator.Create(r.Context(), req.Title, req.Scenes)
	if err != nil {
		var verr *worker.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Message)
			return
		}
		s.log.Error().Err(err).Msg("create animation")
		writeError(w, http.StatusInternalServerError, "failed to create animation")
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jobs.ListJobs(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("list animations")
		writeError(w, http.StatusInternalServerError, "failed to list animations")
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.GetJob(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Animation not found")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("get animation")
		writeError(w, http.StatusInternalServerError, "failed to load animation")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", s.origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Range, Accept, Origin")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Expose-Headers", "Content-Range, Accept-Ranges, Content-Length")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientKey identifies the caller for rate limiting. RealIP has already applied
// forwarding headers to RemoteAddr.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"message": message})
}
