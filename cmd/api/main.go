package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/reschedule-agent/internal/callservice"
	"github.com/jwalitptl/reschedule-agent/internal/config"
	"github.com/jwalitptl/reschedule-agent/internal/email"
	authHandler "github.com/jwalitptl/reschedule-agent/internal/handler/auth"
	campaignHandler "github.com/jwalitptl/reschedule-agent/internal/handler/campaign"
	"github.com/jwalitptl/reschedule-agent/internal/handler/health"
	promHandler "github.com/jwalitptl/reschedule-agent/internal/handler/prometheus"
	"github.com/jwalitptl/reschedule-agent/internal/middleware"
	"github.com/jwalitptl/reschedule-agent/internal/router"
	authService "github.com/jwalitptl/reschedule-agent/internal/service/auth"
	campaignService "github.com/jwalitptl/reschedule-agent/internal/service/campaign"
	eventService "github.com/jwalitptl/reschedule-agent/internal/service/event"
	"github.com/jwalitptl/reschedule-agent/internal/service/loader"
	"github.com/jwalitptl/reschedule-agent/internal/service/notification"
	"github.com/jwalitptl/reschedule-agent/pkg/auth"
	"github.com/jwalitptl/reschedule-agent/pkg/logger"
	"github.com/jwalitptl/reschedule-agent/pkg/messaging/redis"
	"github.com/jwalitptl/reschedule-agent/pkg/metrics"
	"github.com/jwalitptl/reschedule-agent/pkg/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	lg := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Logging.Level),
		TimeFormat: time.RFC3339,
		JSON:       cfg.Logging.Format == "json",
	})
	log.Logger = lg.ZL

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(cfg.Monitoring.Namespace, registry)
	metricsH := promHandler.New(cfg.Monitoring.Namespace, registry)

	// Calling service
	calls := callservice.NewClient(callservice.Config{
		BaseURL:        cfg.CallService.BaseURL,
		APIKey:         cfg.CallService.APIKey,
		AgentID:        cfg.CallService.AgentID,
		RequestTimeout: cfg.CallService.RequestTimeout,
		PollInterval:   cfg.CallService.PollInterval,
		AnalysisGrace:  cfg.CallService.AnalysisGrace,
		MaxWait:        cfg.CallService.MaxWait,
	}, lg, m)

	opts := []campaignService.Option{campaignService.WithMetrics(m)}
	checks := map[string]health.Check{}

	// Progress fan-out
	if cfg.Redis.Enabled {
		broker, err := redis.NewRedisBroker(ctx, redis.Config{
			URL:          cfg.Redis.URL,
			MaxRetries:   cfg.Redis.MaxRetries,
			RetryBackoff: cfg.Redis.RetryBackoff,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		}, m, &log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		defer broker.Close()

		opts = append(opts, campaignService.WithPublisher(eventService.NewEventService(broker, cfg.Redis.Channel, lg)))
		checks["redis"] = broker.Ping
	}

	// Summary e-mail
	if cfg.Email.Enabled {
		mailer := email.NewSMTPService(email.Config{
			Host:     cfg.Email.Host,
			Port:     cfg.Email.Port,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			From:     cfg.Email.From,
		})
		opts = append(opts, campaignService.WithNotifier(notification.NewService(mailer, cfg.Email.Recipients, lg)))
	}

	campaignSvc := campaignService.NewService(campaignService.NewSession(), calls, campaignService.Config{
		MaxCandidates:   cfg.Campaign.MaxCandidates,
		MaxWait:         cfg.CallService.MaxWait,
		RecoveryMaxWait: cfg.CallService.RecoveryMaxWait,
	}, lg, opts...)

	campaignH := campaignHandler.NewHandler(campaignSvc, calls, campaignHandler.Config{
		DefaultFromNumber: cfg.CallService.FromNumber,
		PhoneNumbersTTL:   cfg.CallService.PhoneNumberTTL,
	}, lg)

	// Operator auth
	var (
		authMiddleware *middleware.AuthMiddleware
		authH          router.Handler
	)
	if cfg.Auth.Enabled {
		jwtSvc, err := auth.NewJWTService(cfg.Auth.Secret, time.Duration(cfg.Auth.ExpiryHours)*time.Hour)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize token service")
		}
		authSvc := authService.NewService(cfg.Auth.Username, cfg.Auth.PasswordHash, security.NewBcryptHasher(0), jwtSvc, lg)
		authMiddleware = middleware.NewAuthMiddleware(authSvc)
		authH = authHandler.NewHandler(authSvc)
	}

	sizeLimit := middleware.DefaultSizeLimitConfig()
	sizeLimit.MaxBodySize = loader.MaxUploadBytes + 1<<20

	corsConfig := middleware.DefaultCORSConfig()
	corsConfig.AllowOrigins = cfg.Security.AllowedOrigins
	if len(cfg.Security.AllowedMethods) > 0 {
		corsConfig.AllowMethods = cfg.Security.AllowedMethods
	}
	if len(cfg.Security.AllowedHeaders) > 0 {
		corsConfig.AllowHeaders = cfg.Security.AllowedHeaders
	}

	r := router.NewRouter(
		authMiddleware,
		authH,
		campaignH,
		health.NewHandler(checks),
		metricsH,
		router.RouterConfig{
			Mode:             cfg.Server.Mode,
			RateLimitEnabled: cfg.RateLimit.Enabled,
			RateLimit:        rate.Limit(cfg.RateLimit.RequestsPerSecond),
			RateBurst:        cfg.RateLimit.Burst,
			CORSConfig:       corsConfig,
			SizeLimit:        sizeLimit,
			Logger:           lg.ZL,
		},
	)
	r.Setup()

	// No write timeout: campaign progress is streamed for as long as the run lasts.
	srv := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        r.Engine(),
		ReadTimeout:    cfg.Server.ReadTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server...")

	if campaignSvc.Session().IsRunning() {
		if err := campaignSvc.Stop(); err != nil {
			log.Warn().Err(err).Msg("failed to stop running campaign")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited properly")
}
