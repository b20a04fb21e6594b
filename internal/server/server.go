// Package server provides the HTTP control plane: task submission and
// inspection, queue statistics, job control, and system health.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/fulcrumtrading/fulcrum/internal/database"
	"github.com/fulcrumtrading/fulcrum/internal/queue"
	"github.com/fulcrumtrading/fulcrum/internal/scheduler"
	"github.com/fulcrumtrading/fulcrum/internal/tasks"
)

// Config holds server configuration.
type Config struct {
	Port      int
	DevMode   bool
	Log       zerolog.Logger
	TaskRepo  *tasks.Repository
	Processor *queue.Processor
	Scheduler *scheduler.Scheduler
	Databases []*database.DB
}

// Server is the HTTP control plane.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger

	taskHandlers   *TaskHandlers
	jobHandlers    *JobHandlers
	systemHandlers *SystemHandlers
}

// New creates a new server with routes and middleware configured.
func New(cfg Config) *Server {
	s := &Server{
		router:         chi.NewRouter(),
		log:            cfg.Log.With().Str("component", "server").Logger(),
		taskHandlers:   NewTaskHandlers(cfg.TaskRepo, cfg.Processor, cfg.Log),
		jobHandlers:    NewJobHandlers(cfg.Scheduler, cfg.Log),
		systemHandlers: NewSystemHandlers(cfg.Databases, cfg.Log),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.systemHandlers.HandleLiveness)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", s.taskHandlers.HandleCreate)
			r.Get("/", s.taskHandlers.HandleList)
			r.Get("/{id}", s.taskHandlers.HandleGet)
			r.Post("/{id}/cancel", s.taskHandlers.HandleCancel)
		})

		r.Get("/queue/stats", s.taskHandlers.HandleQueueStats)

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.jobHandlers.HandleList)
			r.Get("/running", s.jobHandlers.HandleRunning)
			r.Get("/stats", s.jobHandlers.HandleStatistics)
			r.Get("/executions", s.jobHandlers.HandleAllExecutions)
			r.Get("/{id}", s.jobHandlers.HandleGet)
			r.Get("/{id}/history", s.jobHandlers.HandleHistory)
			r.Post("/{id}/pause", s.jobHandlers.HandlePause)
			r.Post("/{id}/resume", s.jobHandlers.HandleResume)
			r.Post("/{id}/trigger", s.jobHandlers.HandleTrigger)
		})

		r.Get("/system/health", s.systemHandlers.HandleSystemHealth)
	})
}

// Start begins serving. It blocks until the server stops.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP server starting")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("HTTP server shutting down")
	return s.server.Shutdown(ctx)
}

// Router exposes the mux for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}
