package router

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/athalino-bakti/UTS/internal/config"
	"github.com/athalino-bakti/UTS/internal/gateway"
	"github.com/athalino-bakti/UTS/internal/handler"
	"github.com/athalino-bakti/UTS/internal/middleware"
)

// New creates and configures the HTTP router of the auth service
func New(h *handler.Handler, mw *middleware.Middleware, rl config.RateLimitingConfig) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoints (no auth required)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ready", h.Ready)

	// Public key distribution, consumed by gateways
	mux.HandleFunc("GET /public-key", h.PublicKey)

	// Login (rate limited per client IP)
	loginRateLimit := mw.RateLimit(middleware.RateLimitConfig{
		Name:   "login",
		Limit:  rl.LoginLimit,
		Window: rl.LoginWindow,
		KeyFn:  mw.IPKey,
	})
	mux.Handle("POST /api/auth/login", loginRateLimit(http.HandlerFunc(h.Login)))

	return withCommon(mux, mw)
}

// NewGateway wires the gateway's own endpoints in front of the proxying
// router. /health and /metrics take precedence over configured routes.
func NewGateway(gw *gateway.Router, keys gateway.KeyStatusProvider, gatherer prometheus.Gatherer, mw *middleware.Middleware, rl config.RateLimitingConfig) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /health", gateway.Health(keys))
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	defaultRateLimit := mw.RateLimit(middleware.RateLimitConfig{
		Name:   "gateway",
		Limit:  rl.DefaultLimit,
		Window: rl.DefaultWindow,
		KeyFn:  mw.IPKey,
	})
	mux.Handle("/", defaultRateLimit(gw))

	return withCommon(mux, mw)
}

// withCommon applies the middleware stack shared by both services
func withCommon(h http.Handler, mw *middleware.Middleware) http.Handler {
	// Security headers
	h = mw.SecurityHeaders(h)

	// Request logging
	h = mw.Logger(h)

	// Timing
	h = mw.Timing(h)

	// Request ID
	h = mw.RequestID(h)

	// Panic recovery (outermost)
	h = mw.Recover(h)

	return h
}
