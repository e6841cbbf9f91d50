package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/athalino-bakti/UTS/internal/auth"
	"github.com/athalino-bakti/UTS/internal/config"
	"github.com/athalino-bakti/UTS/internal/database"
	"github.com/athalino-bakti/UTS/internal/handler"
	"github.com/athalino-bakti/UTS/internal/keystore"
	"github.com/athalino-bakti/UTS/internal/logger"
	"github.com/athalino-bakti/UTS/internal/middleware"
	"github.com/athalino-bakti/UTS/internal/repository"
	"github.com/athalino-bakti/UTS/internal/router"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	log.Info().Msg("starting auth service")

	// The signing key is mandatory: without it nothing can be issued.
	keys, err := keystore.Load(cfg.Keys.PrivateKeyFile, cfg.Keys.PublicKeyFile, log)
	if err != nil {
		log.Fatal().Err(err).Str("file", cfg.Keys.PrivateKeyFile).Msg("failed to load signing key")
	}

	issuer, err := auth.NewIssuer(cfg.Tokens, keys)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize token issuer")
	}
	log.Info().
		Str("key_id", keys.KeyID()).
		Dur("ttl", issuer.TTL()).
		Msg("token issuer initialized")

	checks := make(map[string]handler.HealthChecker)

	// Connect to PostgreSQL
	var users handler.UserStore
	if cfg.Database.Enabled {
		db, err := database.NewPostgres(cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()
		log.Info().Msg("connected to PostgreSQL")

		users = repository.NewUserRepository(db)
		checks["postgres"] = db
	} else {
		log.Warn().Msg("database disabled, login is unavailable")
	}

	// Rate limiter: Redis when configured, in-process otherwise
	var limiter middleware.Limiter = middleware.NewMemoryLimiter()
	if cfg.Redis.Enabled {
		rdb, err := database.NewRedis(cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		defer rdb.Close()
		log.Info().Msg("connected to Redis")

		limiter = middleware.NewRedisLimiter(rdb)
		checks["redis"] = rdb
	}

	h := handler.New(log, keys, issuer, users, int64(issuer.TTL().Seconds()), checks)
	mw := middleware.New(limiter, log, cfg.RateLimiting, nil)
	r := router.New(h, mw, cfg.RateLimiting)

	addr := cfg.Server.Addr()
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
