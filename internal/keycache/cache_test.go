package keycache

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athalino-bakti/UTS/internal/config"
	"github.com/athalino-bakti/UTS/internal/keystore"
	"github.com/athalino-bakti/UTS/internal/logger"
)

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
)

func privateKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	keyOnce.Do(func() {
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		testKey = k
	})
	return testKey
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// switchFetcher returns the key until failing is set.
type switchFetcher struct {
	key     *rsa.PublicKey
	failing atomic.Bool
	calls   atomic.Int64
}

func (f *switchFetcher) Fetch(context.Context) (*rsa.PublicKey, error) {
	f.calls.Add(1)
	if f.failing.Load() {
		return nil, errors.New("connection refused")
	}
	return f.key, nil
}

func TestCache_FreshKeyIsNotRefetched(t *testing.T) {
	t.Parallel()

	clk := newClock()
	f := &switchFetcher{key: &privateKey(t).PublicKey}
	c := New(f, time.Hour, time.Second, logger.Nop(), WithClock(clk.Now))

	for i := 0; i < 10; i++ {
		key, err := c.Key(context.Background())
		require.NoError(t, err)
		assert.Same(t, f.key, key)
		clk.Advance(5 * time.Minute)
	}
	assert.Equal(t, int64(1), c.Fetches())
	assert.Equal(t, int64(1), f.calls.Load())
}

func TestCache_RefreshesAtFreshnessBoundary(t *testing.T) {
	t.Parallel()

	clk := newClock()
	f := &switchFetcher{key: &privateKey(t).PublicKey}
	c := New(f, time.Hour, time.Second, logger.Nop(), WithClock(clk.Now))

	_, err := c.Key(context.Background())
	require.NoError(t, err)

	clk.Advance(time.Hour - time.Nanosecond)
	_, err = c.Key(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.Fetches(), "still fresh just before the window closes")

	clk.Advance(time.Nanosecond)
	_, err = c.Key(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), c.Fetches(), "stale exactly at the window")
}

func TestCache_ServesStaleKeyWhenRefreshFails(t *testing.T) {
	t.Parallel()

	clk := newClock()
	f := &switchFetcher{key: &privateKey(t).PublicKey}
	c := New(f, time.Hour, time.Second, logger.Nop(), WithClock(clk.Now))

	_, err := c.Key(context.Background())
	require.NoError(t, err)

	f.failing.Store(true)
	clk.Advance(3 * time.Hour)

	key, err := c.Key(context.Background())
	require.NoError(t, err)
	assert.Same(t, f.key, key)

	// Each request while stale retries the fetch.
	_, err = c.Key(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), c.Fetches())

	st := c.Status()
	assert.True(t, st.Cached)
	assert.False(t, st.Fresh)
	assert.Equal(t, 3*time.Hour, st.Age)
	assert.Contains(t, st.LastError, "connection refused")

	// Recovery replaces the key and clears the error.
	f.failing.Store(false)
	_, err = c.Key(context.Background())
	require.NoError(t, err)
	st = c.Status()
	assert.True(t, st.Fresh)
	assert.Empty(t, st.LastError)
	assert.Equal(t, clk.Now(), st.FetchedAt)
}

func TestCache_UnavailableWhenNeverFetched(t *testing.T) {
	t.Parallel()

	f := &switchFetcher{}
	f.failing.Store(true)
	c := New(f, time.Hour, time.Second, logger.Nop())

	key, err := c.Key(context.Background())
	assert.Nil(t, key)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrKeyUnavailable)

	st := c.Status()
	assert.False(t, st.Cached)
	assert.False(t, st.Fresh)
	assert.True(t, st.FetchedAt.IsZero())
}

func TestCache_NilKeyFromFetcher(t *testing.T) {
	t.Parallel()

	c := New(FetcherFunc(func(context.Context) (*rsa.PublicKey, error) {
		return nil, nil
	}), time.Hour, time.Second, logger.Nop())

	_, err := c.Key(context.Background())
	assert.ErrorIs(t, err, ErrKeyUnavailable)
}

func TestCache_CoalescesConcurrentMisses(t *testing.T) {
	t.Parallel()

	pub := &privateKey(t).PublicKey
	release := make(chan struct{})
	var calls atomic.Int64

	c := New(FetcherFunc(func(ctx context.Context) (*rsa.PublicKey, error) {
		calls.Add(1)
		<-release
		return pub, nil
	}), time.Hour, 5*time.Second, logger.Nop())

	const workers = 50
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key, err := c.Key(context.Background())
			if err == nil && key != pub {
				err = errors.New("unexpected key")
			}
			errs <- err
		}()
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int64(1), calls.Load())
}

func TestCache_FetchTimeout(t *testing.T) {
	t.Parallel()

	c := New(FetcherFunc(func(ctx context.Context) (*rsa.PublicKey, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}), time.Hour, 20*time.Millisecond, logger.Nop())

	start := time.Now()
	_, err := c.Key(context.Background())
	assert.ErrorIs(t, err, ErrKeyUnavailable)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCache_CallerCancellationDoesNotAbortFetch(t *testing.T) {
	t.Parallel()

	pub := &privateKey(t).PublicKey
	c := New(FetcherFunc(func(ctx context.Context) (*rsa.PublicKey, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return pub, nil
	}), time.Hour, time.Second, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, c.Warm(ctx))
	assert.True(t, c.Status().Cached)
}

func TestCache_Warm(t *testing.T) {
	t.Parallel()

	t.Run("success populates the cache", func(t *testing.T) {
		t.Parallel()
		f := &switchFetcher{key: &privateKey(t).PublicKey}
		c := New(f, time.Hour, time.Second, logger.Nop())

		require.NoError(t, c.Warm(context.Background()))
		assert.True(t, c.Status().Cached)

		_, err := c.Key(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(1), c.Fetches())
	})

	t.Run("failure leaves the cache empty", func(t *testing.T) {
		t.Parallel()
		f := &switchFetcher{}
		f.failing.Store(true)
		c := New(f, time.Hour, time.Second, logger.Nop())

		err := c.Warm(context.Background())
		assert.ErrorIs(t, err, ErrKeyUnavailable)
		assert.False(t, c.Status().Cached)

		// A later request retries.
		f.failing.Store(false)
		f.key = &privateKey(t).PublicKey
		_, err = c.Key(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(2), c.Fetches())
	})
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	c := New(&switchFetcher{}, 0, 0, nil)
	assert.Equal(t, DefaultFreshness, c.freshness)
	assert.Equal(t, DefaultFetchTimeout, c.timeout)
}

func keyServer(t *testing.T, status *atomic.Int32, hits *atomic.Int64) *httptest.Server {
	t.Helper()

	pemBytes, err := keystore.EncodePublicKeyPEM(&privateKey(t).PublicKey)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/public-key" {
			http.NotFound(w, r)
			return
		}
		code := int(status.Load())
		if code != http.StatusOK {
			w.WriteHeader(code)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"publicKey": string(pemBytes)})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPFetcher_Fetch(t *testing.T) {
	t.Parallel()

	var status atomic.Int32
	var hits atomic.Int64
	status.Store(http.StatusOK)
	srv := keyServer(t, &status, &hits)

	f := NewHTTPFetcher(srv.URL+"/public-key", config.BreakerConfig{MaxFailures: 3, OpenTimeout: time.Minute}, srv.Client(), logger.Nop())

	key, err := f.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, privateKey(t).PublicKey.N.Cmp(key.N))
	assert.Equal(t, privateKey(t).PublicKey.E, key.E)
}

func TestHTTPFetcher_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr string
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			wantErr: "status 500",
		},
		{
			name: "malformed json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("{not json"))
			},
			wantErr: "decode",
		},
		{
			name: "empty key",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"publicKey":""}`))
			},
			wantErr: "empty key",
		},
		{
			name: "not a pem",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"publicKey":"garbage"}`))
			},
			wantErr: "parse public key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			f := NewHTTPFetcher(srv.URL, config.BreakerConfig{MaxFailures: 10}, srv.Client(), logger.Nop())
			_, err := f.Fetch(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestHTTPFetcher_BreakerOpens(t *testing.T) {
	t.Parallel()

	var status atomic.Int32
	var hits atomic.Int64
	status.Store(http.StatusServiceUnavailable)
	srv := keyServer(t, &status, &hits)

	f := NewHTTPFetcher(srv.URL+"/public-key", config.BreakerConfig{MaxFailures: 3, OpenTimeout: time.Minute}, srv.Client(), logger.Nop())

	for i := 0; i < 6; i++ {
		_, err := f.Fetch(context.Background())
		require.Error(t, err)
	}
	assert.Equal(t, int64(3), hits.Load(), "open breaker short-circuits further fetches")

	_, err := f.Fetch(context.Background())
	assert.Contains(t, err.Error(), "circuit open")
}

func TestCache_WithHTTPFetcher_StaleAfterKeyStoreOutage(t *testing.T) {
	t.Parallel()

	var status atomic.Int32
	var hits atomic.Int64
	status.Store(http.StatusOK)
	srv := keyServer(t, &status, &hits)

	clk := newClock()
	f := NewHTTPFetcher(srv.URL+"/public-key", config.BreakerConfig{MaxFailures: 3, OpenTimeout: time.Minute}, srv.Client(), logger.Nop())
	c := New(f, time.Hour, time.Second, logger.Nop(), WithClock(clk.Now))

	first, err := c.Key(context.Background())
	require.NoError(t, err)

	status.Store(http.StatusBadGateway)
	clk.Advance(2 * time.Hour)

	for i := 0; i < 5; i++ {
		key, err := c.Key(context.Background())
		require.NoError(t, err)
		assert.Same(t, first, key)
	}
	assert.LessOrEqual(t, hits.Load(), int64(4))
}
