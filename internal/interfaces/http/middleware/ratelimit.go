package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/propelkit/experiments/pkg/errors"
)

// RateLimitConfig controls the per-client request rate limit.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained per-key rate.
	RequestsPerSecond float64

	// Burst is the momentary allowance above the sustained rate.
	Burst int

	// KeyFunc extracts the limiter key from a request.  Defaults to the
	// client IP.
	KeyFunc func(c *gin.Context) string

	// SkipPaths bypass the limiter entirely.
	SkipPaths []string

	// IdleTTL is how long an idle key's limiter is retained before cleanup.
	IdleTTL time.Duration
}

// DefaultRateLimitConfig returns the standard rate limit configuration.
func DefaultRateLimitConfig(rps float64, burst int) RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: rps,
		Burst:             burst,
		SkipPaths:         []string{"/healthz", "/readyz", "/metrics"},
		IdleTTL:           5 * time.Minute,
	}
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client key with periodic expiry of
// idle entries.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	cfg     RateLimitConfig
	now     func() time.Time
}

// NewRateLimiter constructs the limiter.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = func(c *gin.Context) string { return c.ClientIP() }
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 5 * time.Minute
	}
	return &RateLimiter{
		clients: make(map[string]*clientLimiter),
		cfg:     cfg,
		now:     time.Now,
	}
}

// allow reserves one token for key and reports whether the request may
// proceed.  Idle entries past the TTL are dropped opportunistically.
func (rl *RateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cl, ok := rl.clients[key]
	if !ok {
		cl = &clientLimiter{
			limiter: rate.NewLimiter(rate.Limit(rl.cfg.RequestsPerSecond), rl.cfg.Burst),
		}
		rl.clients[key] = cl
	}
	cl.lastSeen = now

	if len(rl.clients) > 1 {
		for k, v := range rl.clients {
			if now.Sub(v.lastSeen) > rl.cfg.IdleTTL {
				delete(rl.clients, k)
			}
		}
	}

	return cl.limiter.Allow()
}

// Handler returns the gin middleware enforcing the limit.  Rejected requests
// get 429 with a Retry-After hint.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	skip := make(map[string]struct{}, len(rl.cfg.SkipPaths))
	for _, p := range rl.cfg.SkipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if _, ok := skip[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		if !rl.allow(rl.cfg.KeyFunc(c)) {
			c.Header("Retry-After", strconv.Itoa(1))
			c.Header("X-RateLimit-Limit", strconv.FormatFloat(rl.cfg.RequestsPerSecond, 'f', -1, 64))
			err := errors.New(errors.ErrCodeTooManyRequests, "rate limit exceeded")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":    string(errors.ErrCodeTooManyRequests),
				"message": err.Message,
			})
			return
		}
		c.Next()
	}
}
