package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/lessonlab/lesson-engine/internal/account"
	"github.com/lessonlab/lesson-engine/internal/analysis"
	"github.com/lessonlab/lesson-engine/internal/api"
	"github.com/lessonlab/lesson-engine/internal/backend"
	"github.com/lessonlab/lesson-engine/internal/config"
	"github.com/lessonlab/lesson-engine/internal/engine"
	"github.com/lessonlab/lesson-engine/internal/events"
	"github.com/lessonlab/lesson-engine/internal/metrics"
	"github.com/lessonlab/lesson-engine/internal/session"
	"github.com/lessonlab/lesson-engine/internal/storage"
	"github.com/lessonlab/lesson-engine/internal/store"
	"github.com/lessonlab/lesson-engine/internal/transcribe"
)

var version = "dev"

// liveStats feeds the scrape-time metrics collector.
type liveStats struct {
	sessions *session.Manager
	pipeline *transcribe.Pipeline
	bus      *events.Bus
}

func (s liveStats) ActiveSessionCount() int { return s.sessions.ActiveSessionCount() }
func (s liveStats) RunningJobCount() int    { return s.pipeline.RunningJobCount() }
func (s liveStats) SubscriberCount() int    { return s.bus.SubscriberCount() }

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file")
	flag.StringVar(&overrides.HTTPAddr, "addr", "", "http listen address")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level")
	flag.StringVar(&overrides.DatabasePath, "db", "", "sqlite database path")
	flag.StringVar(&overrides.LocalURL, "local-url", "", "local inference backend url")
	flag.StringVar(&overrides.AudioDir, "audio-dir", "", "recording storage directory")
	flag.Parse()

	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("lesson-engine starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Store
	st, err := store.Open(cfg.DatabasePath, log.With().Str("component", "store").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer st.Close()

	accounts := account.NewService(st, log.With().Str("component", "account").Logger())

	// Local backend: Ollama-compatible chat plus a whisper-style STT
	// sidecar for the transcribe capability.
	stt := backend.NewSTTClient(cfg.LocalSTTURL, cfg.LocalSTTModel, 5*time.Minute)
	local := backend.NewLocalClient(backend.LocalOptions{
		BaseURL:       cfg.LocalURL,
		Model:         cfg.LocalModel,
		ContextTokens: cfg.ContextTokens,
		ProbeTimeout:  cfg.ProbeTimeout,
		STT:           stt,
		Log:           log.With().Str("component", "local").Logger(),
	})

	// Cloud backend is optional; without an API key every cloud-path
	// request fails with a backend-unavailable error.
	var cloud backend.Cloud
	cloudClient, err := backend.NewCloudClient(backend.CloudOptions{
		APIKey:   cfg.CloudAPIKey,
		BaseURL:  cfg.CloudBaseURL,
		Model:    cfg.CloudModel,
		STTModel: cfg.CloudSTTModel,
		Log:      log.With().Str("component", "cloud").Logger(),
	})
	if err != nil {
		log.Warn().Msg("no cloud backend configured, local only")
	} else {
		cloud = cloudClient
	}

	prober := backend.NewProber(local, log.With().Str("component", "prober").Logger())
	sessions := session.NewManager(local, accounts, log.With().Str("component", "session").Logger())
	eng := engine.New(prober, sessions, cloud, accounts, log.With().Str("component", "engine").Logger())

	bus := events.NewBus(256)
	pipeline := transcribe.NewPipeline(eng, cloud, accounts, bus, transcribe.Options{
		ChunkDuration:  time.Duration(cfg.ChunkSeconds) * time.Second,
		MaxDuration:    cfg.MaxRecordingDuration(),
		MaxUploadBytes: cfg.MaxCloudUploadBytes(),
	}, log.With().Str("component", "transcribe").Logger())

	generator := analysis.NewGenerator(eng, cfg.LocalTokenCeiling, log.With().Str("component", "analysis").Logger())
	recordings := storage.NewRecordings(cfg.AudioDir)

	prometheus.MustRegister(metrics.NewCollector(liveStats{
		sessions: sessions,
		pipeline: pipeline,
		bus:      bus,
	}))

	srv := api.NewServer(cfg, api.Deps{
		Store:      st,
		Engine:     eng,
		Pipeline:   pipeline,
		Generator:  generator,
		Accounts:   accounts,
		Recordings: recordings,
		Bus:        bus,
		HasCloud:   cloud != nil,
		Version:    version,
		StartTime:  startTime,
	}, log.With().Str("component", "http").Logger())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("lesson-engine stopped")
}
