// Package postgres keeps a durable log of the shares a miner found and what
// happened to them.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// PostgreSQL driver for database/sql
	_ "github.com/lib/pq"
)

// Client wraps PostgreSQL database operations
type Client struct {
	db *sql.DB
}

// Config holds PostgreSQL connection configuration
type Config struct {
	// URL is a postgres:// connection string or a key=value DSN.
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

const schema = `
CREATE TABLE IF NOT EXISTS miner_shares (
	id          BIGSERIAL PRIMARY KEY,
	job_id      TEXT        NOT NULL,
	worker      INTEGER     NOT NULL,
	nonce       TEXT        NOT NULL,
	hash        TEXT        NOT NULL,
	status      TEXT        NOT NULL,
	reason      TEXT        NOT NULL DEFAULT '',
	pool        TEXT        NOT NULL DEFAULT '',
	wallet      TEXT        NOT NULL DEFAULT '',
	algorithm   TEXT        NOT NULL DEFAULT '',
	found_at    TIMESTAMPTZ NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS miner_shares_found_at_idx ON miner_shares (found_at DESC);`

// NewClient opens the database, checks connectivity and creates the share
// table if it does not exist.
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.MaxLifetime)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Client{db: db}, nil
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// Health checks database connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// DB returns the underlying sql.DB for advanced operations
func (c *Client) DB() *sql.DB {
	return c.db
}
