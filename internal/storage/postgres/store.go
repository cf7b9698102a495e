// Package postgres implements storage.Gateway backed by PostgreSQL via
// database/sql and lib/pq: one Store struct, one file per entity family,
// explicit SQL, no ORM.
package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
	"github.com/taggeddeploy/tds/internal/domain"
	"github.com/taggeddeploy/tds/internal/storage"
)

// conn is the subset of *sql.DB / *sql.Tx every query needs, letting Store
// run identically against either.
type conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements storage.Gateway backed by PostgreSQL.
type Store struct {
	db *sql.DB
	c  conn
}

var _ storage.Gateway = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db, c: db}
}

// HealthCheck verifies connectivity with a lightweight ping.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx runs fn against a Store bound to a single transaction, committing
// on a nil return and rolling back otherwise. A Store already bound to a
// transaction runs fn inside that same transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx storage.Gateway) error) error {
	if _, inTx := s.c.(*sql.Tx); inTx {
		return fn(ctx, s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Wrap(domain.KindFatal, err, "begin transaction")
	}
	txStore := &Store{db: s.db, c: tx}
	if err := fn(ctx, txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return domain.Wrap(domain.KindFatal, rbErr, "rollback after %v", err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return domain.Wrap(domain.KindFatal, err, "commit transaction")
	}
	return nil
}

// notFound converts sql.ErrNoRows to the taxonomy-tagged not-found error;
// every other error is passed through for the caller to wrap.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

// isUniqueViolation reports whether err is a Postgres unique_violation
// (SQLSTATE 23505), the signal for conflict errors on insert.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
