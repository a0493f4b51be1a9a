package middleware

import (
	"context"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zfogg/vidlayer/internal/cache"
	"github.com/zfogg/vidlayer/internal/errors"
	"github.com/zfogg/vidlayer/internal/logger"
	"github.com/zfogg/vidlayer/internal/util"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimitConfig holds configuration for rate limiting
type RateLimitConfig struct {
	// Name prefixes store keys so limits on different routes don't share counters
	Name string
	// Requests per window
	Limit int
	// Window duration
	Window time.Duration
	// KeyFunc identifies the client, defaults to ClientIP
	KeyFunc func(c *gin.Context) string
}

// DefaultRateLimitConfig returns sensible defaults
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{Name: "default", Limit: 100, Window: time.Minute}
}

// AuthRateLimitConfig returns stricter limits for auth endpoints
func AuthRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{Name: "auth", Limit: 10, Window: time.Minute}
}

// UploadRateLimitConfig returns limits for upload and import endpoints
func UploadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{Name: "upload", Limit: 20, Window: time.Minute}
}

// TrackingRateLimitConfig returns limits for view, response, ad and click
// tracking, which players call several times per session
func TrackingRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{Name: "tracking", Limit: 300, Window: time.Minute}
}

// PayoutRateLimitConfig returns limits for payout requests and account changes
func PayoutRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{Name: "payout", Limit: 10, Window: time.Hour}
}

func (cfg RateLimitConfig) key(c *gin.Context) string {
	if cfg.KeyFunc != nil {
		return cfg.KeyFunc(c)
	}
	return c.ClientIP()
}

// KeyByUserOrIP keys authenticated requests by user and anonymous ones by IP
func KeyByUserOrIP(c *gin.Context) string {
	if id := c.GetString("user_id"); id != "" {
		return "u:" + id
	}
	return "ip:" + c.ClientIP()
}

func rejectRateLimited(c *gin.Context, cfg RateLimitConfig, retryAfter int) {
	RecordRateLimitExceeded(routeLabel(c), c.Request.Method)
	c.Header("Retry-After", strconv.Itoa(retryAfter))
	c.Header("X-RateLimit-Limit", strconv.Itoa(cfg.Limit))
	c.Header("X-RateLimit-Remaining", "0")
	util.RespondWithAPIError(c, errors.RateLimited("rate limit exceeded"))
	c.Abort()
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client in process memory
type RateLimiter struct {
	config  RateLimitConfig
	mu      sync.Mutex
	buckets map[string]*limiterEntry
}

// NewRateLimiter creates an in-memory token bucket limiter. Buckets refill
// at Limit per Window with a burst of Limit.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		config:  config,
		buckets: make(map[string]*limiterEntry),
	}
}

// Allow checks if the client identified by key may make a request
func (rl *RateLimiter) Allow(key string) bool {
	return rl.entry(key).limiter.Allow()
}

func (rl *RateLimiter) entry(key string) *limiterEntry {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	e, ok := rl.buckets[key]
	if !ok {
		every := rl.config.Window / time.Duration(rl.config.Limit)
		e = &limiterEntry{limiter: rate.NewLimiter(rate.Every(every), rl.config.Limit)}
		rl.buckets[key] = e
	}
	e.lastSeen = time.Now()
	return e
}

// RetryAfter returns seconds until the client's next token
func (rl *RateLimiter) RetryAfter(key string) int {
	r := rl.entry(key).limiter.Reserve()
	delay := r.Delay()
	r.Cancel()
	return int(math.Ceil(delay.Seconds()))
}

// Prune drops buckets idle for longer than idle
func (rl *RateLimiter) Prune(idle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := time.Now().Add(-idle)
	removed := 0
	for k, e := range rl.buckets {
		if e.lastSeen.Before(cutoff) {
			delete(rl.buckets, k)
			removed++
		}
	}
	return removed
}

// Middleware returns the gin handler for this limiter
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := rl.config.key(c)
		if !rl.Allow(key) {
			rejectRateLimited(c, rl.config, max(rl.RetryAfter(key), 1))
			return
		}
		c.Next()
	}
}

// StoreRateLimitMiddleware is a fixed window limiter over a shared cache.Store,
// so limits hold across server instances when the store is Redis. Store
// errors fail closed with 503.
func StoreRateLimitMiddleware(store cache.Store, config RateLimitConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientKey := config.key(c)
		key := "rate_limit:" + config.Name + ":" + clientKey

		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		count, err := store.IncrWithTTL(ctx, key, config.Window)
		if err != nil {
			logger.Log.Error("Rate limit check failed, rejecting request",
				zap.String("client", clientKey),
				zap.Error(err),
			)
			util.RespondWithAPIError(c, errors.ServiceUnavailable("rate limiter"))
			c.Abort()
			return
		}

		remaining := config.Limit - int(count)
		if remaining < 0 {
			logger.Log.Warn("Rate limit exceeded",
				zap.String("client", clientKey),
				zap.String("limit", config.Name),
				zap.Int64("current_requests", count),
			)
			rejectRateLimited(c, config, int(math.Ceil(config.Window.Seconds())))
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(config.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Next()
	}
}

// RateLimit picks the Redis-backed limiter when Redis is connected and the
// in-memory token bucket otherwise
func RateLimit(config RateLimitConfig) gin.HandlerFunc {
	if rc := cache.GetRedisClient(); rc != nil {
		return StoreRateLimitMiddleware(rc, config)
	}
	return NewRateLimiter(config).Middleware()
}

