package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/lessonlab/lesson-engine/internal/account"
	"github.com/lessonlab/lesson-engine/internal/analysis"
	"github.com/lessonlab/lesson-engine/internal/config"
	"github.com/lessonlab/lesson-engine/internal/engine"
	"github.com/lessonlab/lesson-engine/internal/events"
	"github.com/lessonlab/lesson-engine/internal/metrics"
	"github.com/lessonlab/lesson-engine/internal/storage"
	"github.com/lessonlab/lesson-engine/internal/store"
	"github.com/lessonlab/lesson-engine/internal/transcribe"
)

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

// Deps carries the collaborators the API serves.
type Deps struct {
	Store      *store.Store
	Engine     *engine.Engine
	Pipeline   *transcribe.Pipeline
	Generator  *analysis.Generator
	Accounts   *account.Service
	Recordings *storage.Recordings
	Bus        *events.Bus
	HasCloud   bool
	Version    string
	StartTime  time.Time
}

func NewServer(cfg *config.Config, deps Deps, log zerolog.Logger) *Server {
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(log))
	r.Use(CORS)
	r.Use(metrics.InstrumentHandler)

	// Health and metrics, no identity needed
	health := NewHealthHandler(deps.Store, deps.Engine, deps.HasCloud, deps.Version, deps.StartTime)
	r.Get("/api/v1/health", health.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	// All other routes resolve an optional bearer token to a user. Cloud
	// gates inside the engine decide whether identity is actually needed.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Identity(deps.Accounts))

		NewExecuteHandler(deps.Engine).Routes(r)
		NewModelHandler(deps.Engine).Routes(r)
		// Body cap sized for worst-case local recordings; the cloud
		// path's own ceiling is enforced inside the pipeline.
		NewTranscriptionHandler(deps.Pipeline, deps.Recordings, 2<<30, log).Routes(r)
		NewSessionsHandler(deps.Store, deps.Generator, log).Routes(r)
		NewLessonsHandler(deps.Store, log).Routes(r)
		NewEventsHandler(deps.Bus).Routes(r)
	})

	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: log,
	}
}

// Handler returns the configured router.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
