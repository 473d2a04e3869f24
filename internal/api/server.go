// Package api provides the HTTP API server for the trainer.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"guardacademy.io/guardacademy/internal/api/handlers"
	"guardacademy.io/guardacademy/internal/orchestrator"
	"guardacademy.io/guardacademy/internal/storage"
)

// Server is the HTTP API server.
type Server struct {
	router   chi.Router
	server   *http.Server
	logger   zerolog.Logger
	handlers *handlers.Handlers
}

// Config holds server configuration.
type Config struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Dependencies holds the dependencies needed by the API handlers.
type Dependencies struct {
	DB           *storage.DB
	Orchestrator *orchestrator.Orchestrator
	Version      string
	StartTime    time.Time
}

// New creates a new API server.
func New(cfg Config, deps Dependencies, logger zerolog.Logger) *Server {
	logger = logger.With().Str("component", "api").Logger()

	h := handlers.New(deps.DB, deps.Orchestrator, deps.Version, deps.StartTime, logger)

	router := chi.NewRouter()

	// Middleware stack
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(corsMiddleware)
	router.Use(requestLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(cfg.ReadTimeout))

	// Routes
	router.Route("/api", func(r chi.Router) {
		// Session endpoints
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.StartSession)

			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", h.GetSession)
				r.Post("/input", h.SubmitInput)
				r.Post("/hint", h.RequestHint)
				r.Post("/pause", h.PauseSession)
				r.Post("/resume", h.ResumeSession)
				r.Post("/complete", h.CompleteSession)
			})
		})

		// User profile endpoints
		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/profile", h.GetProfile)
			r.Get("/sessions", h.GetSessionHistory)
		})
	})

	// Health and utility endpoints
	router.Get("/health", h.HealthCheck)
	router.Get("/ready", h.ReadyCheck)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &Server{
		router:   router,
		server:   server,
		logger:   logger,
		handlers: h,
	}
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// requestLogger returns a middleware that logs requests.
func requestLogger(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status code
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				status := ww.Status()
				duration := time.Since(start)

				event := logger.Info()
				if status >= 500 {
					event = logger.Error()
				} else if status >= 400 {
					event = logger.Warn()
				}

				event.
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", status).
					Dur("duration", duration).
					Str("remote", r.RemoteAddr).
					Str("request_id", middleware.GetReqID(r.Context())).
					Msg("Request completed")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// corsMiddleware adds CORS headers for development and cross-origin requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
