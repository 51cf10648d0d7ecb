// Package database provides the pooled PostgreSQL adapter every zone writes
// through. It is the only shared mutable resource in the process.
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/yourusername/line-drive/internal/config"
	"github.com/yourusername/line-drive/internal/models"
)

// HealthStatus summarizes adapter health for the health server
type HealthStatus string

const (
	HealthOK       HealthStatus = "ok"
	HealthDegraded HealthStatus = "degraded"
	HealthDown     HealthStatus = "down"
)

// degradedConnRatio is the active-connection ratio above which the adapter
// reports degraded rather than ok.
const degradedConnRatio = 0.9

// DB wraps the pgxpool.Pool to provide database operations
type DB struct {
	pool        *pgxpool.Pool
	poolTimeout time.Duration
}

// NewDB creates a new database connection pool from configuration
func NewDB(ctx context.Context, cfg *config.DatabaseConfig) (*DB, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Database,
		cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// Apply pool settings from configuration
	poolConfig.MaxConns = cfg.MaxConns()
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = cfg.PoolRecycle()
	poolConfig.MaxConnIdleTime = 1 * time.Minute
	poolConfig.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connectivity
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool, poolTimeout: cfg.PoolTimeout()}, nil
}

// Ping verifies database connectivity
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Close gracefully closes the connection pool
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// Acquire checks out one connection, failing fast with resource_exhausted
// when the pool cannot supply one within the configured max-wait.
func (db *DB) Acquire(ctx context.Context) (*pgxpool.Conn, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, db.poolTimeout)
	defer cancel()

	conn, err := db.pool.Acquire(acquireCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: no connection within %s", models.ErrResourceExhausted, db.poolTimeout)
		}
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	return conn, nil
}

// WithTransaction runs fn inside a read-committed transaction, rolling back
// on error and committing otherwise.
func (db *DB) WithTransaction(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			return fmt.Errorf("transaction failed: %w, rollback failed: %w", err, rollbackErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// HealthCheck performs a simple health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// Health classifies adapter state from a SELECT 1 probe plus the
// active-connection ratio.
func (db *DB) Health(ctx context.Context) HealthStatus {
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.HealthCheck(probeCtx); err != nil {
		return HealthDown
	}

	stat := db.pool.Stat()
	if stat.MaxConns() > 0 {
		ratio := float64(stat.AcquiredConns()) / float64(stat.MaxConns())
		if ratio >= degradedConnRatio {
			return HealthDegraded
		}
	}

	return HealthOK
}

// GetPool returns the underlying connection pool for advanced operations
func (db *DB) GetPool() *pgxpool.Pool {
	return db.pool
}
