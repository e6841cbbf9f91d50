package middleware

import (
	"net/netip"

	"github.com/athalino-bakti/UTS/internal/config"
	"github.com/athalino-bakti/UTS/internal/logger"
	"github.com/athalino-bakti/UTS/internal/metrics"
)

// Middleware holds all HTTP middleware
type Middleware struct {
	limiter Limiter
	log     *logger.Logger
	cfg     config.RateLimitingConfig
	metrics *metrics.Metrics
	trusted []netip.Prefix
}

// New creates a new Middleware instance. limiter may be nil when rate
// limiting is disabled; m may be nil when metrics are not exported.
func New(limiter Limiter, log *logger.Logger, cfg config.RateLimitingConfig, m *metrics.Metrics) *Middleware {
	if log == nil {
		log = logger.Nop()
	}
	trusted, err := cfg.TrustedProxyPrefixes()
	if err != nil {
		log.Warn().Err(err).Msg("ignoring trusted proxies")
		trusted = nil
	}
	return &Middleware{
		limiter: limiter,
		log:     log,
		cfg:     cfg,
		metrics: m,
		trusted: trusted,
	}
}
