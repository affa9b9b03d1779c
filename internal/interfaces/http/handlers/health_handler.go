package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthChecker is implemented by components that can report their health.
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckerFunc adapts a name and a function to the HealthChecker interface.
type CheckerFunc struct {
	ComponentName string
	Fn            func(ctx context.Context) error
}

func (c CheckerFunc) Name() string                    { return c.ComponentName }
func (c CheckerFunc) Check(ctx context.Context) error { return c.Fn(ctx) }

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	checkers []HealthChecker
	version  string
	startAt  time.Time
}

// NewHealthHandler creates a health handler over the given dependency
// checkers.
func NewHealthHandler(version string, checkers ...HealthChecker) *HealthHandler {
	return &HealthHandler{
		checkers: checkers,
		version:  version,
		startAt:  time.Now(),
	}
}

// LivenessResponse is the body of the liveness probe.
type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// ComponentCheck is the health status of a single dependency.
type ComponentCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ReadinessResponse is the body of the readiness probe.
type ReadinessResponse struct {
	Status     string                    `json:"status"`
	Components map[string]ComponentCheck `json:"components,omitempty"`
}

// Liveness handles GET /healthz.  It confirms the process is alive without
// touching external dependencies.
func (h *HealthHandler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:  "alive",
		Version: h.version,
		Uptime:  time.Since(h.startAt).Truncate(time.Second).String(),
	})
}

// Readiness handles GET /readyz.  Every registered dependency is checked
// concurrently; any failure yields 503.
func (h *HealthHandler) Readiness(c *gin.Context) {
	if len(h.checkers) == 0 {
		c.JSON(http.StatusOK, ReadinessResponse{Status: "ready"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	components := h.checkAll(ctx)

	for _, comp := range components {
		if comp.Status != "healthy" {
			c.JSON(http.StatusServiceUnavailable, ReadinessResponse{
				Status:     "not_ready",
				Components: components,
			})
			return
		}
	}
	c.JSON(http.StatusOK, ReadinessResponse{
		Status:     "ready",
		Components: components,
	})
}

func (h *HealthHandler) checkAll(ctx context.Context) map[string]ComponentCheck {
	var mu sync.Mutex
	var wg sync.WaitGroup
	components := make(map[string]ComponentCheck, len(h.checkers))

	for _, checker := range h.checkers {
		checker := checker
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			err := checker.Check(ctx)
			check := ComponentCheck{
				Status:  "healthy",
				Latency: time.Since(start).Truncate(time.Millisecond).String(),
			}
			if err != nil {
				check.Status = "unhealthy"
				check.Error = err.Error()
			}
			mu.Lock()
			components[checker.Name()] = check
			mu.Unlock()
		}()
	}
	wg.Wait()
	return components
}
