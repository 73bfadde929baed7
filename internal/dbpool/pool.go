// Package dbpool manages the shared PostgreSQL connection pool. The payment
// store and the merchant directory can both run on postgres; holding one pool
// keeps the connection count flat.
package dbpool

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/cardflow/gateway/internal/config"
)

// SharedPool wraps one *sql.DB handed to every postgres-backed component.
type SharedPool struct {
	db *sql.DB
}

// NewSharedPool opens and pings a pool with the configured limits.
func NewSharedPool(connectionString string, poolConfig config.PostgresPoolConfig) (*SharedPool, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if poolConfig.MaxOpenConns > 0 {
		db.SetMaxOpenConns(poolConfig.MaxOpenConns)
	}
	if poolConfig.MaxIdleConns > 0 {
		db.SetMaxIdleConns(poolConfig.MaxIdleConns)
	}
	if poolConfig.ConnMaxLifetime.Duration > 0 {
		db.SetConnMaxLifetime(poolConfig.ConnMaxLifetime.Duration)
	}
	return &SharedPool{db: db}, nil
}

// DB returns the underlying pool.
func (p *SharedPool) DB() *sql.DB {
	return p.db
}

// Close closes the pool; call once at shutdown.
func (p *SharedPool) Close() error {
	return p.db.Close()
}
