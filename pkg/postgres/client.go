// Package postgres opens the registry's Postgres pool through lib/pq. The
// directory keeps API keys there and the audit service its review history.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/casfos/registry/pkg/config"
	"github.com/casfos/registry/pkg/resilience"
)

// Client owns the pool. Packages run their queries on DB directly.
type Client struct {
	DB *sql.DB
}

// New opens the pool and waits for the database to accept connections.
// Refused connections are retried while the database starts; bad
// credentials or a missing database fail at once.
func New(cfg config.PostgresConfig) (*Client, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening postgres pool: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	err = resilience.Retry(ctx, "postgres connect", resilience.RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 250 * time.Millisecond,
		Retryable:    retryable,
	}, func() error {
		return db.PingContext(ctx)
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to postgres at %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return &Client{DB: db}, nil
}

// retryable rejects server errors that another attempt cannot fix.
func retryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return true
	}
	switch pqErr.Code.Class() {
	case "28", "3D": // invalid authorization, invalid catalog name
		return false
	}
	return true
}

// Wrap adopts an already-open pool.
func Wrap(db *sql.DB) *Client {
	return &Client{DB: db}
}

// Close closes the pool.
func (c *Client) Close() error {
	return c.DB.Close()
}

// Ping is the health check.
func (c *Client) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

// EnsureSchema applies idempotent DDL under a transaction-scoped advisory
// lock keyed by name, so replicas starting together do not race on
// CREATE TABLE IF NOT EXISTS.
func (c *Client) EnsureSchema(ctx context.Context, name, ddl string) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("schema %s: beginning transaction: %w", name, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, name); err != nil {
		return fmt.Errorf("schema %s: taking lock: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("schema %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("schema %s: committing: %w", name, err)
	}
	return nil
}
