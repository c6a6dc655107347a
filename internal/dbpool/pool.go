// Package dbpool provides a shared PostgreSQL connection pool. When the
// catalog, promocode, and request-log backends point at the same
// database, one pool serves all of them instead of each opening its own.
package dbpool

import (
	"database/sql"
	"fmt"

	"github.com/AgentCommerce/ucp/internal/config"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// SharedPool wraps a single *sql.DB handed to multiple repositories.
type SharedPool struct {
	db *sql.DB
}

// NewSharedPool opens and pings a pooled PostgreSQL connection.
func NewSharedPool(connectionString string, poolConfig config.PostgresPoolConfig) (*SharedPool, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	config.ApplyPostgresPoolSettings(db, poolConfig)

	return &SharedPool{db: db}, nil
}

// DB returns the underlying *sql.DB for use by repositories.
func (p *SharedPool) DB() *sql.DB {
	return p.db
}

// Close closes the pool. Repositories built on it must not be used
// afterwards; sql.DB.Close is safe to call more than once.
func (p *SharedPool) Close() error {
	return p.db.Close()
}
