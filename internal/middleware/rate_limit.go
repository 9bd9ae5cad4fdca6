package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RateLimiter is a per-client token bucket limiter
type RateLimiter struct {
	tokensPerSec float64
	burst        float64
	clients      map[string]*tokenBucket
	now          func() time.Time
	mu           sync.Mutex
}

type tokenBucket struct {
	tokens     float64
	lastRefill time.Time
}

// NewRateLimiter creates a limiter allowing requestsPerMinute with bursts of
// up to burstSize
func NewRateLimiter(requestsPerMinute, burstSize int) *RateLimiter {
	return &RateLimiter{
		tokensPerSec: float64(requestsPerMinute) / 60.0,
		burst:        float64(burstSize),
		clients:      make(map[string]*tokenBucket),
		now:          time.Now,
	}
}

// Allow takes a token from the client's bucket if one is available
func (r *RateLimiter) Allow(client string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	bucket, ok := r.clients[client]
	if !ok {
		bucket = &tokenBucket{tokens: r.burst, lastRefill: now}
		r.clients[client] = bucket
	}

	bucket.tokens += now.Sub(bucket.lastRefill).Seconds() * r.tokensPerSec
	bucket.lastRefill = now
	if bucket.tokens > r.burst {
		bucket.tokens = r.burst
	}

	if bucket.tokens >= 1.0 {
		bucket.tokens--
		return true
	}
	return false
}

// RateLimit limits requests per client IP in process memory
func RateLimit(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded. Try again later.",
			})
			return
		}
		c.Next()
	}
}

// RedisRateLimit limits requests per client IP in fixed one-minute windows
// shared by every instance. Redis failures let the request through.
func RedisRateLimit(client *redis.Client, prefix string, requestsPerMinute int, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		now := time.Now()
		window := now.Unix() / 60
		reset := (window + 1) * 60
		key := fmt.Sprintf("%s:ratelimit:%s:%d", prefix, c.ClientIP(), window)

		pipe := client.TxPipeline()
		incr := pipe.Incr(c.Request.Context(), key)
		pipe.Expire(c.Request.Context(), key, time.Minute)
		if _, err := pipe.Exec(c.Request.Context()); err != nil {
			logger.Error("Rate limit check failed", zap.Error(err), zap.String("client_ip", c.ClientIP()))
			c.Next()
			return
		}

		count := int(incr.Val())
		remaining := requestsPerMinute - count
		if remaining < 0 {
			remaining = 0
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(requestsPerMinute))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(reset, 10))

		if count > requestsPerMinute {
			c.Header("Retry-After", strconv.FormatInt(reset-now.Unix(), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded. Try again later.",
			})
			return
		}

		c.Next()
	}
}
