// Package database provides the pgx connection pools behind the engine
// store and the landing database, plus the embedded store migrations.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/reconlab/recon-engine/pkg/logging"
)

// DB wraps a pgxpool pool. Repositories hold one so the engine store and
// the landing database each share a single pool.
type DB struct {
	*pgxpool.Pool
}

// Config sizes one connection pool. Zero values fall back to the defaults
// below.
type Config struct {
	URL             string
	MaxConnections  int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

const (
	defaultMaxConnections = 25
	defaultConnLifetime   = time.Hour
	defaultConnIdleTime   = 30 * time.Minute
	connectionPingTimeout = 10 * time.Second
)

// poolConfig translates a Config into a pgxpool configuration, applying
// the pool defaults.
func poolConfig(cfg *Config) (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	pc.MaxConns = cfg.MaxConnections
	if pc.MaxConns <= 0 {
		pc.MaxConns = defaultMaxConnections
	}
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	if pc.MaxConnLifetime <= 0 {
		pc.MaxConnLifetime = defaultConnLifetime
	}
	pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	if pc.MaxConnIdleTime <= 0 {
		pc.MaxConnIdleTime = defaultConnIdleTime
	}
	return pc, nil
}

// NewConnection opens a connection pool and verifies it with a bounded
// ping. The DSN is sanitized before logging.
func NewConnection(ctx context.Context, cfg *Config, logger *zap.Logger) (*DB, error) {
	pc, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectionPingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Named("database").Info("Connected to Postgres",
		zap.String("dsn", logging.SanitizeDSN(cfg.URL)),
		zap.Int32("max_connections", pc.MaxConns))
	return &DB{Pool: pool}, nil
}

// Close closes the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}
