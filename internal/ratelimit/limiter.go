// Package ratelimit throttles admin API callers with one token bucket per
// key, built on golang.org/x/time/rate.
package ratelimit

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"outbound-router/internal/common/errors"
)

// Config sizes the per-key buckets. A zero RequestsPerSecond disables limiting.
type Config struct {
	RequestsPerSecond float64
	BurstSize         int
	// Keys idle for longer than CleanupPeriod are forgotten.
	CleanupPeriod time.Duration
	MaxKeys       int
}

// Enabled reports whether requests are limited at all.
func (c Config) Enabled() bool {
	return c.RequestsPerSecond > 0
}

// Validate checks the bucket sizes of an enabled configuration.
func (c Config) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if c.BurstSize < 1 {
		return errors.ConfigError("rate limit burst size must be at least 1")
	}
	if c.CleanupPeriod <= 0 {
		return errors.ConfigError("rate limit cleanup period must be positive")
	}
	if c.MaxKeys < 1 {
		return errors.ConfigError("rate limit key capacity must be at least 1")
	}
	return nil
}

// DefaultConfig returns ten requests per second with a burst of twenty.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 10,
		BurstSize:         20,
		CleanupPeriod:     10 * time.Minute,
		MaxKeys:           10000,
	}
}

// Limiter holds one bucket per key.
type Limiter struct {
	mu          sync.Mutex
	config      Config
	limiters    map[string]*limiterEntry
	lastCleanup time.Time
	now         func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// NewLimiter validates config and returns an empty Limiter.
func NewLimiter(config Config) (*Limiter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Limiter{
		config:      config,
		limiters:    make(map[string]*limiterEntry),
		lastCleanup: time.Now(),
		now:         time.Now,
	}, nil
}

// Allow takes a token from the bucket of key. It also returns the tokens
// left, rounded down.
func (l *Limiter) Allow(key string) (bool, int) {
	if !l.config.Enabled() {
		return true, l.config.BurstSize
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastCleanup) > l.config.CleanupPeriod {
		l.cleanup(now)
	}

	entry, ok := l.limiters[key]
	if !ok {
		entry = &limiterEntry{
			limiter: rate.NewLimiter(rate.Limit(l.config.RequestsPerSecond), l.config.BurstSize),
		}
		l.limiters[key] = entry
		if len(l.limiters) > l.config.MaxKeys {
			l.cleanup(now)
		}
	}
	entry.lastUsed = now

	allowed := entry.limiter.AllowN(now, 1)
	remaining := int(math.Max(0, math.Floor(entry.limiter.TokensAt(now))))
	return allowed, remaining
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *Limiter) cleanup(now time.Time) {
	cutoff := now.Add(-l.config.CleanupPeriod)
	for key, entry := range l.limiters {
		if entry.lastUsed.Before(cutoff) {
			delete(l.limiters, key)
		}
	}
	l.lastCleanup = now
}

// Middleware rejects requests over the limit of their key with 429. Requests
// whose key is empty are not limited.
func (l *Limiter) Middleware(keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.config.Enabled() {
				next.ServeHTTP(w, r)
				return
			}
			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			allowed, remaining := l.Allow(key)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.config.BurstSize))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if !allowed {
				retry := int(math.Ceil(1 / l.config.RequestsPerSecond))
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IPBasedKey keys requests by client address, preferring the first
// X-Forwarded-For entry.
func IPBasedKey(r *http.Request) string {
	return "ip:" + clientIP(r)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if ip := strings.TrimSpace(strings.Split(fwd, ",")[0]); ip != "" {
			return ip
		}
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
