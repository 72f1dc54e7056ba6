// Package target provides the PostgreSQL client: connection pooling,
// catalog introspection, idempotent batch inserts, and the advisory locks
// that serialize sync runs per table pair.
package target

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/datakeel/mssql-pg-sync/internal/logging"
)

// Client manages a pgx connection pool against the target database.
type Client struct {
	pool *pgxpool.Pool
}

// NewClient opens a PostgreSQL connection pool and verifies connectivity.
func NewClient(ctx context.Context, dsn string, maxConns int) (*Client, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing dsn: %w", err)
	}

	poolCfg.MaxConns = int32(maxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logging.Debug("Connected to PostgreSQL target")
	return &Client{pool: pool}, nil
}

// Close closes all connections.
func (c *Client) Close() {
	c.pool.Close()
}

// Ping tests the connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

// Pool returns the underlying pgx pool. The worker state store shares it.
func (c *Client) Pool() *pgxpool.Pool {
	return c.pool
}
