// Package keycache keeps the gateway's copy of the auth service public key.
//
// A cached key is served without network access while it is fresh. Once it
// ages past the freshness window the next request triggers a refresh; if the
// refresh fails the previous key keeps being served. Only a gateway that has
// never obtained a key reports the key as unavailable.
package keycache

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/athalino-bakti/UTS/internal/logger"
	"github.com/athalino-bakti/UTS/internal/metrics"
)

// Defaults used when the config leaves them at zero.
const (
	DefaultFreshness    = time.Hour
	DefaultFetchTimeout = 5 * time.Second
)

// ErrKeyUnavailable is returned when no key has ever been obtained and a
// fetch just failed.
var ErrKeyUnavailable = errors.New("verification key unavailable")

// Fetcher retrieves the current public key from the Key Store.
type Fetcher interface {
	Fetch(ctx context.Context) (*rsa.PublicKey, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context) (*rsa.PublicKey, error)

// Fetch calls f(ctx).
func (f FetcherFunc) Fetch(ctx context.Context) (*rsa.PublicKey, error) { return f(ctx) }

// Status is a point-in-time view of the cache, reported by the health endpoint.
type Status struct {
	Cached    bool
	FetchedAt time.Time
	Age       time.Duration
	Fresh     bool
	LastError string
}

// Cache is a single-entry public key cache. Safe for concurrent use.
type Cache struct {
	fetcher   Fetcher
	freshness time.Duration
	timeout   time.Duration
	log       *logger.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	mu        sync.RWMutex
	key       *rsa.PublicKey
	fetchedAt time.Time
	lastErr   error

	group   singleflight.Group
	fetches atomic.Int64
}

// Option customises a Cache.
type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// New creates an empty cache. Nothing is fetched until Key or Warm is called.
func New(fetcher Fetcher, freshness, timeout time.Duration, log *logger.Logger, opts ...Option) *Cache {
	if freshness <= 0 {
		freshness = DefaultFreshness
	}
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	if log == nil {
		log = logger.Nop()
	}

	c := &Cache{
		fetcher:   fetcher,
		freshness: freshness,
		timeout:   timeout,
		log:       log.WithComponent("keycache"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key returns the verification key, refreshing it first when the cached one
// is missing or stale. Concurrent callers share one in-flight fetch.
func (c *Cache) Key(ctx context.Context) (*rsa.PublicKey, error) {
	if key, ok := c.fresh(); ok {
		return key, nil
	}

	ch := c.group.DoChan("key", func() (interface{}, error) {
		// Another caller may have refreshed while we queued.
		if key, ok := c.fresh(); ok {
			return key, nil
		}
		return c.refresh(ctx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*rsa.PublicKey), nil
	case <-ctx.Done():
		if key := c.cached(); key != nil {
			c.metrics.KeyStaleServed()
			return key, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrKeyUnavailable, ctx.Err())
	}
}

// Warm performs the startup fetch. Failure leaves the cache empty and is
// returned for logging only: the gateway keeps running and retries on demand.
func (c *Cache) Warm(ctx context.Context) error {
	_, err, _ := c.group.Do("key", func() (interface{}, error) {
		return c.refresh(ctx)
	})
	return err
}

// Status reports the cache state.
func (c *Cache) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Status{Cached: c.key != nil}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	if c.key == nil {
		return s
	}
	s.FetchedAt = c.fetchedAt
	s.Age = c.now().Sub(c.fetchedAt)
	s.Fresh = s.Age < c.freshness
	return s
}

// Fetches returns the number of fetch attempts made so far.
func (c *Cache) Fetches() int64 {
	return c.fetches.Load()
}

func (c *Cache) fresh() (*rsa.PublicKey, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.key == nil {
		return nil, false
	}
	if c.now().Sub(c.fetchedAt) >= c.freshness {
		return c.key, false
	}
	return c.key, true
}

func (c *Cache) cached() *rsa.PublicKey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.key
}

// refresh fetches a new key. The fetch is detached from the caller's
// cancellation so one impatient client cannot fail the shared fetch.
func (c *Cache) refresh(ctx context.Context) (*rsa.PublicKey, error) {
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	c.fetches.Add(1)
	start := time.Now()
	key, err := c.fetcher.Fetch(fetchCtx)
	c.metrics.KeyFetch(err == nil, time.Since(start).Seconds())

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.lastErr = err
		if c.key != nil {
			c.log.Warn().
				Err(err).
				Time("fetched_at", c.fetchedAt).
				Msg("public key refresh failed, serving cached key")
			c.metrics.KeyStaleServed()
			return c.key, nil
		}
		c.log.Error().Err(err).Msg("public key fetch failed and no key is cached")
		return nil, fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}

	if key == nil {
		c.lastErr = errors.New("fetcher returned no key")
		if c.key != nil {
			c.metrics.KeyStaleServed()
			return c.key, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrKeyUnavailable, c.lastErr)
	}

	c.key = key
	c.fetchedAt = c.now()
	c.lastErr = nil
	c.log.Debug().Time("fetched_at", c.fetchedAt).Msg("public key refreshed")
	return key, nil
}
