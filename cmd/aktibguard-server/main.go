// Package main is the entrypoint for the aktibguard collector server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aktibguard/aktibguard/internal/api"
	"github.com/aktibguard/aktibguard/internal/api/middleware"
	"github.com/aktibguard/aktibguard/internal/config"
	"github.com/aktibguard/aktibguard/internal/db"
	"github.com/aktibguard/aktibguard/internal/db/sqlite"
	"github.com/aktibguard/aktibguard/internal/health"
	"github.com/aktibguard/aktibguard/internal/hub"
	"github.com/aktibguard/aktibguard/internal/ingest"
	"github.com/aktibguard/aktibguard/internal/maintenance"
	"github.com/aktibguard/aktibguard/internal/metrics"
	"github.com/aktibguard/aktibguard/internal/query"
	"github.com/aktibguard/aktibguard/internal/registry"
	"github.com/aktibguard/aktibguard/internal/relay"
	"github.com/aktibguard/aktibguard/internal/shutdown"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/ulule/limiter/v3"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("version", Version).Logger()
	if os.Getenv("ENV") != string(config.EnvProduction) {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	cfg, err := config.LoadServerConfig()
	if err != nil {
		logger.Error().Err(err).Msg("Invalid configuration")
		return 1
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	logger.Info().
		Str("version", Version).
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Msg("Starting aktibguard server")

	// Open the telemetry store
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to open store")
		return 1
	}

	// Metrics
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder, err := metrics.NewPrometheusMetrics(promRegistry)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to register metrics")
		store.Close()
		return 1
	}

	// Core components
	agentRegistry := registry.New(store, cfg.LivenessTimeout, logger)

	hubCfg := hub.DefaultConfig()
	hubCfg.BufferSize = cfg.SubscriberBuffer
	eventHub := hub.New(hubCfg, logger)
	eventHub.SetRecorder(recorder)

	decoder, err := ingest.NewDecoder()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to compile telemetry schema")
		store.Close()
		return 1
	}
	pipeline := ingest.NewPipeline(store, agentRegistry, eventHub, ingest.Config{
		MaxProcesses: cfg.MaxProcesses,
		WriteTimeout: cfg.IngestTimeout,
	}, logger)
	pipeline.SetRecorder(recorder)

	queries := query.NewService(store, agentRegistry, health.NewCheckerWithDefaults(), logger)

	sweeper := maintenance.NewSweeper(store, agentRegistry, eventHub, maintenance.Config{
		Schedule:         cfg.SweepSchedule,
		MetricRetention:  cfg.MetricRetention,
		ProcessRetention: cfg.ProcessRetention,
		ActionTimeout:    cfg.SweepActionTimeout,
	}, logger)
	sweeper.SetRecorder(recorder)

	shutdownMgr := shutdown.NewManager(shutdown.Config{Timeout: cfg.ShutdownTimeout}, pipeline, logger)

	// Optional shared rate limit store
	var limiterStore limiter.Store
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error().Err(err).Msg("Invalid REDIS_URL")
			store.Close()
			return 1
		}
		redisClient = redis.NewClient(opts)
		limiterStore, err = middleware.NewRedisStore(redisClient)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to create redis rate limit store")
			redisClient.Close()
			store.Close()
			return 1
		}
		logger.Info().Msg("Rate limiting backed by redis")
	}

	// Optional NATS relay of live events
	relayCtx, stopRelay := context.WithCancel(ctx)
	relayDone := make(chan struct{})
	close(relayDone)
	var natsConn interface{ Drain() error }
	if cfg.NATSURL != "" {
		nc, err := relay.Connect(cfg.NATSURL, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to connect to NATS (continuing without relay)")
		} else {
			natsConn = nc
			r := relay.New(eventHub, nc, cfg.NATSSubject, logger)
			relayDone = make(chan struct{})
			go func() {
				defer close(relayDone)
				r.Run(relayCtx)
			}()
		}
	}

	// Build API router
	deps := api.Dependencies{
		Store:    store,
		Decoder:  decoder,
		Pipeline: pipeline,
		Query:    queries,
		Hub:      eventHub,
		Sweeper:  sweeper,
		Shutdown: shutdownMgr,
		System:   health.NewCollector(200 * time.Millisecond),
	}
	if cfg.MetricsEnabled {
		deps.Metrics = metrics.Handler(promRegistry)
	}

	router, err := api.NewRouter(api.Config{
		AllowedOrigins:    cfg.CORSOrigins,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitPeriod:   cfg.RateLimitPeriod,
		RateLimitStore:    limiterStore,
		BodyLimitBytes:    cfg.BodyLimitBytes,
		Version:           Version,
		Commit:            Commit,
		BuildDate:         BuildDate,
	}, deps, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize router")
		store.Close()
		return 1
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
	}

	// Stop hooks run after in-flight ingests have drained, in this order.
	shutdownMgr.OnStop("sweeper", func(ctx context.Context) error {
		select {
		case <-sweeper.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	shutdownMgr.OnStop("relay", func(ctx context.Context) error {
		stopRelay()
		select {
		case <-relayDone:
		case <-ctx.Done():
			return ctx.Err()
		}
		if natsConn != nil {
			return natsConn.Drain()
		}
		return nil
	})
	shutdownMgr.OnStop("hub", func(context.Context) error {
		eventHub.Close()
		return nil
	})
	shutdownMgr.OnStop("http", func(ctx context.Context) error {
		return srv.Shutdown(ctx)
	})
	if redisClient != nil {
		shutdownMgr.OnStop("redis", func(context.Context) error {
			return redisClient.Close()
		})
	}
	shutdownMgr.OnStop("store", func(context.Context) error {
		store.Close()
		return nil
	})

	// Start the sweeper
	if err := sweeper.Start(); err != nil {
		logger.Error().Err(err).Msg("Failed to start sweeper")
		store.Close()
		return 1
	}

	// Start server in background
	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Wait for shutdown signal or a fatal server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down server")
	case err := <-serveErr:
		logger.Error().Err(err).Msg("HTTP server error")
		exitCode = 1
	}

	if err := shutdownMgr.Shutdown(context.Background()); err != nil {
		logger.Error().Err(err).Msg("Shutdown finished with errors")
		return 1
	}

	logger.Info().Msg("Server stopped gracefully")
	return exitCode
}

// openStore selects PostgreSQL when a database URL is configured and the
// embedded SQLite store otherwise.
func openStore(ctx context.Context, cfg config.ServerConfig, logger zerolog.Logger) (db.Store, error) {
	if cfg.UsePostgres() {
		connectCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		logger.Info().Msg("Using PostgreSQL store")
		return db.Open(connectCtx, cfg.DatabaseURL, logger)
	}
	logger.Info().Str("path", cfg.SQLitePath).Msg("Using SQLite store")
	return sqlite.Open(cfg.SQLitePath, logger)
}
