package router

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/reschedule-agent/internal/handler/health"
	"github.com/jwalitptl/reschedule-agent/internal/handler/prometheus"
	"github.com/jwalitptl/reschedule-agent/internal/middleware"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type Router struct {
	engine    *gin.Engine
	auth      *middleware.AuthMiddleware
	authH     Handler
	campaignH Handler
	health    *health.Handler
	metrics   *prometheus.Handler
}

type RouterConfig struct {
	Mode             string
	RateLimitEnabled bool
	RateLimit        rate.Limit
	RateBurst        int
	CORSConfig       middleware.CORSConfig
	SizeLimit        middleware.SizeLimitConfig
	Logger           zerolog.Logger
}

// NewRouter wires the middleware chain. auth and authH may both be nil, in
// which case the campaign routes are open.
func NewRouter(
	auth *middleware.AuthMiddleware,
	authH Handler,
	campaignH Handler,
	healthH *health.Handler,
	metricsH *prometheus.Handler,
	config RouterConfig,
) *Router {
	if config.Mode != "" {
		gin.SetMode(config.Mode)
	}

	engine := gin.New()

	r := &Router{
		engine:    engine,
		auth:      auth,
		authH:     authH,
		campaignH: campaignH,
		health:    healthH,
		metrics:   metricsH,
	}

	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.Logger(config.Logger),
		metricsH.Middleware(),
		middleware.SecurityHeaders(middleware.DefaultSecurityConfig()),
		middleware.CORS(config.CORSConfig),
	)

	if config.RateLimitEnabled {
		rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  config.RateLimit,
			Burst: config.RateBurst,
		})
		engine.Use(rateLimiter.RateLimit())
	}

	engine.Use(middleware.SizeLimit(config.SizeLimit))

	return r
}

func (r *Router) Setup() {
	api := r.engine.Group("/api/v1")

	r.setupHealthCheck(api)

	if r.authH != nil {
		r.authH.RegisterRoutes(api)
	}

	protected := api.Group("")
	if r.auth != nil {
		protected.Use(r.auth.Authenticate())
	}
	r.campaignH.RegisterRoutes(protected)
}

func (r *Router) setupHealthCheck(rg *gin.RouterGroup) {
	h := rg.Group("/health")
	{
		r.health.RegisterRoutes(h)
		h.GET("/metrics", r.metrics.Handler())
	}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
