package leader

import (
	"context"
	"database/sql"
	"fmt"
)

// lockKey is an arbitrary but stable advisory lock identifier for the
// ingest daemon's leader election, scoped to this application only.
const lockKey int64 = 0x5444535F494E47 // "TDS_ING" packed into an int64

// LockLeader elects a leader using a PostgreSQL session-level advisory
// lock, for the multi-process case the `zookeeper` option implies
// when set. A dedicated connection holds the lock for the lifetime of Run,
// since pg_advisory_lock is released when its connection closes.
type LockLeader struct {
	db *sql.DB
}

// NewLockLeader builds a LockLeader backed by db.
func NewLockLeader(db *sql.DB) *LockLeader {
	return &LockLeader{db: db}
}

var _ Leader = (*LockLeader)(nil)

// Run blocks acquiring the advisory lock, then executes fn, releasing the
// lock (by closing the dedicated connection) on return.
func (l *LockLeader) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire leader connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", lockKey); err != nil {
		return fmt.Errorf("acquire leader lock: %w", err)
	}
	defer conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", lockKey)

	return fn(ctx)
}
