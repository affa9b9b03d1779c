// Package middleware contains the gin middleware of the HTTP layer.
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/propelkit/experiments/internal/infrastructure/monitoring/logging"
	"github.com/propelkit/experiments/internal/infrastructure/monitoring/prometheus"
)

// RequestIDHeader is the header carrying the request correlation ID.
const RequestIDHeader = "X-Request-ID"

const requestIDKey = "request_id"

// LoggingConfig holds configuration for the request logging middleware.
type LoggingConfig struct {
	// SkipPaths are high-frequency paths excluded from logging.
	SkipPaths []string

	// SlowThreshold marks requests that get logged at Warn level.
	SlowThreshold time.Duration
}

// DefaultLoggingConfig returns the standard logging configuration.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		SkipPaths:     []string{"/healthz", "/readyz", "/metrics"},
		SlowThreshold: 3 * time.Second,
	}
}

// RequestID ensures every request carries a correlation ID, generating one
// when the client did not send one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(requestIDKey, id)
		c.Writer.Header().Set(RequestIDHeader, id)
		c.Next()
	}
}

// ContextRequestID returns the request's correlation ID, or "" if absent.
func ContextRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// RequestLogging logs one structured entry per request with method, path,
// status, duration and request ID.  5xx responses log at Error level, 4xx
// and slow requests at Warn.
func RequestLogging(log logging.Logger, cfg LoggingConfig, metrics *prometheus.AppMetrics) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if _, ok := skip[path]; ok {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)
		status := c.Writer.Status()

		if metrics != nil {
			prometheus.RecordHTTPRequest(metrics, c.Request.Method, c.FullPath(), status, duration)
		}

		fields := []logging.Field{
			logging.String("method", c.Request.Method),
			logging.String("path", path),
			logging.Int("status", status),
			logging.Duration("duration", duration),
			logging.String("request_id", ContextRequestID(c)),
			logging.String("client_ip", c.ClientIP()),
		}

		switch {
		case status >= 500:
			log.Error("request failed", fields...)
		case status >= 400 || (cfg.SlowThreshold > 0 && duration > cfg.SlowThreshold):
			log.Warn("request completed", fields...)
		default:
			log.Info("request completed", fields...)
		}
	}
}
