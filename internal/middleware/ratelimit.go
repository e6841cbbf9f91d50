package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/athalino-bakti/UTS/internal/database"
)

// RateLimitConfig holds configuration for a specific rate limit
type RateLimitConfig struct {
	Name   string
	Limit  int
	Window time.Duration
	KeyFn  func(*http.Request) string
}

// Decision is the outcome of one Limiter.Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	ResetAfter time.Duration
}

// Limiter counts requests per key in a fixed window.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

// RateLimit creates a rate limiting middleware
func (m *Middleware) RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !m.cfg.Enabled || m.limiter == nil || cfg.Limit <= 0 {
			return next
		}
		keyFn := cfg.KeyFn
		if keyFn == nil {
			keyFn = m.IPKey
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := fmt.Sprintf("ratelimit:%s:%s", cfg.Name, keyFn(r))

			d, err := m.limiter.Allow(r.Context(), key, cfg.Limit, cfg.Window)
			if err != nil {
				// Fail open: a broken limiter store must not take the service down.
				m.log.Error().Err(err).Str("key", key).Msg("rate limiter unavailable")
				next.ServeHTTP(w, r)
				return
			}

			// Set rate limit headers
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(0, d.Remaining)))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(d.ResetAfter).Unix(), 10))

			if !d.Allowed {
				w.Header().Set("Retry-After", strconv.FormatInt(int64(d.ResetAfter.Round(time.Second).Seconds()), 10))
				WriteError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "Too many requests. Please try again later.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// IPKey returns the client IP address as the rate limit key
func (m *Middleware) IPKey(r *http.Request) string {
	return ClientIP(r, m.trusted)
}

// RedisLimiter is a fixed-window counter shared by every process using the
// same Redis.
type RedisLimiter struct {
	rdb *database.Redis
}

// NewRedisLimiter creates a Limiter backed by rdb.
func NewRedisLimiter(rdb *database.Redis) *RedisLimiter {
	return &RedisLimiter{rdb: rdb}
}

// Allow increments the counter for key.
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	count, err := l.rdb.Incr(ctx, key)
	if err != nil {
		return Decision{}, err
	}

	// Set expiry on first request
	if count == 1 {
		if err := l.rdb.Expire(ctx, key, window); err != nil {
			return Decision{}, err
		}
	}

	ttl, err := l.rdb.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		ttl = window
	}

	return Decision{
		Allowed:    int(count) <= limit,
		Remaining:  limit - int(count),
		ResetAfter: ttl,
	}, nil
}

// maxMemoryKeys bounds MemoryLimiter before idle buckets are swept.
const maxMemoryKeys = 10000

// MemoryLimiter is a per-process token bucket limiter, used when Redis is
// not configured. limit tokens refill evenly over window.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	now     func() time.Time
}

// NewMemoryLimiter creates an empty MemoryLimiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		buckets: make(map[string]*rate.Limiter),
		now:     time.Now,
	}
}

// Allow takes one token from the bucket for key.
func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (Decision, error) {
	if limit <= 0 || window <= 0 {
		return Decision{Allowed: true}, nil
	}

	now := l.now()
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= maxMemoryKeys {
			l.sweep(now)
		}
		b = rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)
		l.buckets[key] = b
	}
	l.mu.Unlock()

	res := b.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return Decision{Allowed: false, Remaining: 0, ResetAfter: delay}, nil
	}

	return Decision{
		Allowed:    true,
		Remaining:  int(b.TokensAt(now)),
		ResetAfter: window / time.Duration(limit),
	}, nil
}

// sweep drops buckets that have refilled completely. Caller holds mu.
func (l *MemoryLimiter) sweep(now time.Time) {
	for k, b := range l.buckets {
		if b.TokensAt(now) >= float64(b.Burst()) {
			delete(l.buckets, k)
		}
	}
}
