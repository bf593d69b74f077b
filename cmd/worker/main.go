package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/reschedule-agent/internal/config"
	"github.com/jwalitptl/reschedule-agent/internal/handler/health"
	promHandler "github.com/jwalitptl/reschedule-agent/internal/handler/prometheus"
	"github.com/jwalitptl/reschedule-agent/internal/middleware"
	"github.com/jwalitptl/reschedule-agent/internal/repository/postgres"
	internalWorker "github.com/jwalitptl/reschedule-agent/internal/worker"
	"github.com/jwalitptl/reschedule-agent/pkg/logger"
	"github.com/jwalitptl/reschedule-agent/pkg/messaging"
	"github.com/jwalitptl/reschedule-agent/pkg/messaging/redis"
	"github.com/jwalitptl/reschedule-agent/pkg/metrics"
	"github.com/jwalitptl/reschedule-agent/pkg/security"
	"github.com/jwalitptl/reschedule-agent/pkg/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	lg := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Logging.Level),
		TimeFormat: time.RFC3339,
		JSON:       cfg.Logging.Format == "json",
	})
	log.Logger = lg.ZL
	lg = lg.WithFields(map[string]interface{}{"component": "archive-worker"})

	if !cfg.Redis.Enabled || !cfg.Database.Enabled {
		log.Fatal().Msg("The archive worker needs redis.enabled and database.enabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(cfg.Monitoring.Namespace, registry)

	// Database
	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	base := postgres.NewBaseRepository(db)
	if err := postgres.Migrate(ctx, base); err != nil {
		log.Fatal().Err(err).Msg("Failed to prepare archive schema")
	}
	repo := postgres.NewOutcomeRepository(base)

	// Redis broker
	broker, err := redis.NewRedisBroker(ctx, redis.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   cfg.Redis.MaxRetries,
		RetryBackoff: cfg.Redis.RetryBackoff,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}, m, &log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Redis broker")
	}
	defer broker.Close()

	encryptor, err := security.NewAESEncryptorFromBase64(cfg.Security.ArchiveKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid archive encryption key")
	}

	archiver, err := worker.NewArchiver(
		repo,
		messaging.NewBrokerAdapter(broker),
		encryptor,
		worker.ArchiverConfig{
			Topic:         cfg.Redis.Channel,
			RetryAttempts: cfg.Worker.RetryAttempts,
			RetryDelay:    cfg.Worker.RetryDelay,
		},
		lg,
		m,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create archiver")
	}

	retention := internalWorker.NewRetentionWorker(repo, cfg.Worker.RetentionDays, cfg.Worker.CleanupInterval, lg)

	srv := healthServer(cfg, registry, map[string]health.Check{
		"postgres": repo.Ping,
		"redis":    broker.Ping,
	})
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Health check server failed")
		}
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := archiver.Start(ctx); err != nil {
			log.Error().Err(err).Msg("Archiver stopped")
			stop()
		}
	}()
	go func() {
		defer wg.Done()
		retention.Start(ctx)
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down...")
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Health server forced to shutdown")
	}
}

func healthServer(cfg *config.Config, registry *prometheus.Registry, checks map[string]health.Check) *http.Server {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	metricsH := promHandler.New(cfg.Monitoring.Namespace+"_worker", registry)

	engine := gin.New()
	engine.Use(middleware.Recovery(), metricsH.Middleware())

	h := engine.Group("/health")
	health.NewHandler(checks).RegisterRoutes(h)
	h.GET("/metrics", metricsH.Handler())

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Worker.Port),
		Handler: engine,
	}
}
