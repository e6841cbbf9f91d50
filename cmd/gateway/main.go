package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/athalino-bakti/UTS/internal/auth"
	"github.com/athalino-bakti/UTS/internal/config"
	"github.com/athalino-bakti/UTS/internal/database"
	"github.com/athalino-bakti/UTS/internal/gateway"
	"github.com/athalino-bakti/UTS/internal/keycache"
	"github.com/athalino-bakti/UTS/internal/logger"
	"github.com/athalino-bakti/UTS/internal/metrics"
	"github.com/athalino-bakti/UTS/internal/middleware"
	"github.com/athalino-bakti/UTS/internal/router"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	gw := cfg.Gateway
	log.Info().Str("public_key_url", gw.PublicKeyURL).Msg("starting gateway")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to register metrics")
	}

	// Key cache backed by the auth service's public key endpoint
	fetcher := keycache.NewHTTPFetcher(gw.PublicKeyURL, gw.Breaker, &http.Client{Timeout: gw.KeyFetchTimeout}, log)
	cache := keycache.New(fetcher, gw.KeyFreshness, gw.KeyFetchTimeout, log, keycache.WithMetrics(m))

	// One eager attempt; protected requests fetch lazily if this fails.
	warmCtx, cancelWarm := context.WithTimeout(context.Background(), gw.KeyFetchTimeout)
	if err := cache.Warm(warmCtx); err != nil {
		log.Warn().Err(err).Msg("initial public key fetch failed, will retry on demand")
	} else {
		log.Info().Msg("public key cached")
	}
	cancelWarm()

	verifier := auth.NewVerifier(cache)

	var limiter middleware.Limiter = middleware.NewMemoryLimiter()
	if cfg.Redis.Enabled {
		rdb, err := database.NewRedis(cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		defer rdb.Close()
		limiter = middleware.NewRedisLimiter(rdb)
	}
	mw := middleware.New(limiter, log, cfg.RateLimiting, m)

	table, err := gateway.NewTable(gw.Routes, gw.Backends)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid route configuration")
	}
	for _, r := range table.Routes() {
		log.Info().
			Str("prefix", r.Prefix).
			Str("backend", r.Backend).
			Str("access", string(r.Access)).
			Msg("route registered")
	}

	rt, err := gateway.NewRouter(table, verifier, mw, gw.Proxy, log, gateway.WithMetrics(m))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build router")
	}

	addr := gw.Server.Addr()
	srv := &http.Server{
		Addr:              addr,
		Handler:           router.NewGateway(rt, cache, reg, mw, cfg.RateLimiting),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down gateway...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("gateway forced to shutdown")
	}

	log.Info().Msg("gateway stopped")
}
