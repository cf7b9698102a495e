// Package database opens the shared PostgreSQL handle every TDS process
// (REST server, ingest daemon, installer daemon) hangs its repository
// gateway off.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

const pingTimeout = 5 * time.Second

// Pool sizing reflects how TDS actually uses the database: the daemons
// apply hosts serially and the REST surface holds short row-level
// transactions, so a small recycled pool is plenty and keeps a stuck
// deployment from pinning connections.
const (
	maxOpenConns    = 8
	maxIdleConns    = 4
	connMaxLifetime = 30 * time.Minute
)

// Open connects to PostgreSQL with the given DSN, applies the TDS pool
// profile, and verifies connectivity with a bounded ping. The caller owns
// the returned handle.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("database: DSN is empty")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("database: open: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database: ping: %w", err)
	}
	return db, nil
}
