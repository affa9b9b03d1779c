// Package http assembles the gin route tree and the HTTP server for the
// experimentation API.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/propelkit/experiments/internal/infrastructure/monitoring/logging"
	"github.com/propelkit/experiments/internal/infrastructure/monitoring/prometheus"
	"github.com/propelkit/experiments/internal/interfaces/http/handlers"
	"github.com/propelkit/experiments/internal/interfaces/http/middleware"
)

// RouterConfig aggregates the handler and middleware dependencies of the
// route tree.
type RouterConfig struct {
	ExperimentHandler *handlers.ExperimentHandler
	PublicHandler     *handlers.PublicHandler
	HealthHandler     *handlers.HealthHandler

	Logger      logging.Logger
	Metrics     *prometheus.AppMetrics
	MetricsHTTP http.Handler

	CORS      *middleware.CORSConfig
	RateLimit *middleware.RateLimitConfig

	// Mode is the gin mode: "debug", "release" or "test".
	Mode string
}

// NewRouter constructs the complete route tree: global middleware, public
// probes, the metrics endpoint, and the /api/v1 resource groups.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())

	corsCfg := middleware.DefaultCORSConfig()
	if cfg.CORS != nil {
		corsCfg = *cfg.CORS
	}
	r.Use(middleware.CORS(corsCfg))

	if cfg.Logger != nil {
		r.Use(middleware.RequestLogging(cfg.Logger, middleware.DefaultLoggingConfig(), cfg.Metrics))
	}
	if cfg.RateLimit != nil {
		r.Use(middleware.NewRateLimiter(*cfg.RateLimit).Handler())
	}

	if cfg.HealthHandler != nil {
		r.GET("/healthz", cfg.HealthHandler.Liveness)
		r.GET("/readyz", cfg.HealthHandler.Readiness)
	}
	if cfg.MetricsHTTP != nil {
		r.GET("/metrics", gin.WrapH(cfg.MetricsHTTP))
	}

	api := r.Group("/api/v1")
	{
		if cfg.PublicHandler != nil {
			api.POST("/assign", cfg.PublicHandler.Assign)
			api.POST("/convert", cfg.PublicHandler.Convert)
		}

		if cfg.ExperimentHandler != nil {
			experiments := api.Group("/experiments")
			experiments.POST("", cfg.ExperimentHandler.Create)
			experiments.GET("", cfg.ExperimentHandler.List)
			experiments.GET("/:id", cfg.ExperimentHandler.Get)
			experiments.PUT("/:id", cfg.ExperimentHandler.Update)
			experiments.DELETE("/:id", cfg.ExperimentHandler.Delete)

			experiments.POST("/:id/start", cfg.ExperimentHandler.Start)
			experiments.POST("/:id/pause", cfg.ExperimentHandler.Pause)
			experiments.POST("/:id/complete", cfg.ExperimentHandler.Complete)
			experiments.POST("/:id/archive", cfg.ExperimentHandler.Archive)
			experiments.PUT("/:id/allocations", cfg.ExperimentHandler.SetAllocations)
			experiments.GET("/:id/conversions", cfg.ExperimentHandler.Conversions)

			if cfg.PublicHandler != nil {
				experiments.GET("/:id/results", cfg.PublicHandler.Results)
			}
		}
	}

	return r
}
