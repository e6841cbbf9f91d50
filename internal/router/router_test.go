package router

import (
	"crypto/rand"
	"crypto/rsa"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athalino-bakti/UTS/internal/config"
	"github.com/athalino-bakti/UTS/internal/gateway"
	"github.com/athalino-bakti/UTS/internal/handler"
	"github.com/athalino-bakti/UTS/internal/keycache"
	"github.com/athalino-bakti/UTS/internal/keystore"
	"github.com/athalino-bakti/UTS/internal/logger"
	"github.com/athalino-bakti/UTS/internal/metrics"
	"github.com/athalino-bakti/UTS/internal/middleware"
)

type noKey struct{}

func (noKey) Status() keycache.Status { return keycache.Status{} }

func TestNew_AuthRoutes(t *testing.T) {
	t.Parallel()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ks, err := keystore.New(priv, logger.Nop())
	require.NoError(t, err)

	mw := middleware.New(middleware.NewMemoryLimiter(), logger.Nop(), config.RateLimitingConfig{Enabled: true}, nil)
	h := handler.New(logger.Nop(), ks, nil, nil, 0, nil)
	srv := httptest.NewServer(New(h, mw, config.RateLimitingConfig{LoginLimit: 5, LoginWindow: time.Minute}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/public-key")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(middleware.RequestIDHeader))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	// Only GET is routed for the key.
	resp, err = http.Post(srv.URL+"/public-key", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/auth/login", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "5", resp.Header.Get("X-RateLimit-Limit"))
}

func TestNewGateway_OwnEndpointsTakePrecedence(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer upstream.Close()

	table, err := gateway.NewTable([]config.RouteConfig{
		{Prefix: "/", Backend: "all", Access: "public"},
	}, map[string]string{"all": upstream.URL})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	mw := middleware.New(nil, logger.Nop(), config.RateLimitingConfig{}, m)
	rt, err := gateway.NewRouter(table, nil, mw, config.ProxyConfig{}, logger.Nop(), gateway.WithMetrics(m))
	require.NoError(t, err)

	srv := httptest.NewServer(NewGateway(rt, noKey{}, reg, mw, config.RateLimitingConfig{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/anything")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(1), hits.Load())

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	buf := new(strings.Builder)
	_, _ = io.Copy(buf, resp.Body)
	assert.Contains(t, buf.String(), `uts_gateway_routed_requests_total{access="public",disposition="forwarded"} 1`)
}
