// Package source provides the SQL Server client: connection pooling,
// catalog introspection, and paginated reads used by the migration and
// sync engines.
package source

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/microsoft/go-mssqldb"

	"github.com/datakeel/mssql-pg-sync/internal/logging"
)

// Pool manages a pool of SQL Server connections.
type Pool struct {
	db *sql.DB
}

// NewPool opens a SQL Server connection pool and verifies connectivity.
func NewPool(dsn string, maxConns int) (*Pool, error) {
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening connection: %w", err)
	}

	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns / 4)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logging.Debug("Connected to SQL Server source")
	return &Pool{db: db}, nil
}

// Close closes all connections in the pool.
func (p *Pool) Close() error {
	return p.db.Close()
}

// DB returns the underlying database handle.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// Ping tests the connection.
func (p *Pool) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}
