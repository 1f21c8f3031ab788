package middleware

// Token-bucket limiter for rule mutations. Every accepted mutation enqueues a
// recomputation job, so bursts are throttled per hotel partition and client.
// Reads are never limited. Buckets are process-local and evicted when idle.

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// KeyFunc maps a request to its bucket.
type KeyFunc func(*gin.Context) string

// KeyByHotelAndIP buckets by hotel partition (route param hotel_id) and
// client IP, so one noisy client cannot starve a hotel's other editors.
func KeyByHotelAndIP() KeyFunc {
	return func(c *gin.Context) string {
		return "hotel:" + c.Param("hotel_id") + "|ip:" + c.ClientIP()
	}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-key token-bucket limiter. Safe for concurrent use.
type RateLimiter struct {
	rps   rate.Limit
	burst int
	keyFn KeyFunc

	mu      sync.Mutex
	buckets map[string]*bucket
	ttl     time.Duration
	lookups uint64
}

// NewRateLimiter builds a limiter refilling rps tokens per second up to
// burst (at least 1).
func NewRateLimiter(rps float64, burst int, keyFn KeyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		keyFn:   keyFn,
		buckets: make(map[string]*bucket),
		ttl:     10 * time.Minute,
	}
}

// limiter returns the bucket of key. Every 5000 lookups, idle buckets are
// evicted first, including key's own if it expired.
func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	now := time.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.lookups++
	if rl.lookups >= 5000 {
		for k, b := range rl.buckets {
			if now.Sub(b.lastSeen) >= rl.ttl {
				delete(rl.buckets, k)
			}
		}
		rl.lookups = 0
	}
	if b, ok := rl.buckets[key]; ok {
		b.lastSeen = now
		return b.limiter
	}
	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.buckets[key] = &bucket{limiter: lim, lastSeen: now}
	return lim
}

// Handler limits mutating requests (POST, PUT, PATCH, DELETE). Rejections
// are 429 with Retry-After and the standard error envelope.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}
		lim := rl.limiter(rl.keyFn(c))
		if lim.Allow() {
			c.Next()
			return
		}
		retry := 1
		if rl.rps > 0 {
			if d := time.Duration(float64(time.Second) / float64(rl.rps)); d > time.Second {
				retry = int(d.Seconds() + 0.5)
			}
		}
		c.Header("Retry-After", strconv.Itoa(retry))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": RequestIDFrom(c),
			"code":       "too_many_requests",
			"message":    "rule mutation rate limit exceeded",
		})
	}
}
