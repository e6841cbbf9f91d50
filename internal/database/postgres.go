package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/athalino-bakti/UTS/internal/config"
	_ "github.com/lib/pq"
)

// pingTimeout bounds the connectivity check on startup.
const pingTimeout = 5 * time.Second

// Postgres wraps the user store connection pool.
type Postgres struct {
	*sql.DB
}

// NewPostgres opens the pool and pings it once.
func NewPostgres(cfg config.DatabaseConfig) (*Postgres, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = 10
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(max(1, maxConns/4))
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Postgres{DB: db}, nil
}

// HealthCheck verifies the database connection is healthy
func (p *Postgres) HealthCheck(ctx context.Context) error {
	return p.PingContext(ctx)
}
