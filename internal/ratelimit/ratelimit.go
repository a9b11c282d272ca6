// Package ratelimit provides per-client request throttling for the
// ShelfSwap API.
package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Config tunes the limiter.
type Config struct {
	// RequestsPerMinute is the sustained per-client rate.
	RequestsPerMinute int
	// BurstSize is how far above the sustained rate a client may spike.
	BurstSize int
	// CleanupInterval controls how often idle clients are evicted.
	CleanupInterval time.Duration
}

// DefaultConfig allows one request per second with small bursts.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		BurstSize:         10,
		CleanupInterval:   time.Minute,
	}
}

// Limiter is a token-bucket rate limiter keyed by client identity.
// Buckets refill continuously at the configured rate and are evicted
// after two minutes of inactivity.
type Limiter struct {
	cfg        Config
	refillRate float64 // tokens per second

	mu      sync.Mutex
	buckets map[string]*bucket
	done    chan struct{}
}

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// New starts a limiter and its background eviction loop. Call Stop when
// the server shuts down.
func New(cfg Config) *Limiter {
	l := &Limiter{
		cfg:        cfg,
		refillRate: float64(cfg.RequestsPerMinute) / 60.0,
		buckets:    make(map[string]*bucket),
		done:       make(chan struct{}),
	}
	go l.evictLoop()
	return l
}

// Stop terminates the eviction goroutine.
func (l *Limiter) Stop() {
	close(l.done)
}

func (l *Limiter) evictLoop() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-2 * time.Minute)
			l.mu.Lock()
			for key, b := range l.buckets {
				if b.lastSeen.Before(cutoff) {
					delete(l.buckets, key)
				}
			}
			l.mu.Unlock()
		case <-l.done:
			return
		}
	}
}

// Allow reports whether the client identified by key may proceed, and
// consumes a token if so.
func (l *Limiter) Allow(key string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		// New clients start with a full burst allowance.
		l.buckets[key] = &bucket{tokens: float64(l.cfg.BurstSize) - 1, lastSeen: now}
		return true
	}

	b.tokens += now.Sub(b.lastSeen).Seconds() * l.refillRate
	if max := float64(l.cfg.BurstSize); b.tokens > max {
		b.tokens = max
	}
	b.lastSeen = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Middleware throttles by API key when present, falling back to client IP
// for unauthenticated requests.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if authz := c.GetHeader("Authorization"); authz != "" {
			key = "auth:" + authz[:min(20, len(authz))]
		}

		if !l.Allow(key) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limit_exceeded",
				"message":     "Too many requests. Please slow down.",
				"retry_after": 1,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
