package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/taggeddeploy/tds/internal/domain"
	"github.com/taggeddeploy/tds/internal/storage"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestGetPackage_NotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT id, application_id, version, revision, status, creator, builder, created_at, updated_at\s+FROM packages WHERE id = \$1`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.GetPackage(context.Background(), 42)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestUpdatePackageStatus_RejectsBackwardsTransition(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT id, application_id, version, revision, status, creator, builder, created_at, updated_at\s+FROM packages WHERE id = \$1`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "application_id", "version", "revision", "status", "creator", "builder", "created_at", "updated_at"}).
			AddRow(int64(7), int64(1), "1", "1", "completed", "", "", now, now))

	err := store.UpdatePackageStatus(context.Background(), 7, domain.PackageProcessing)
	if !domain.Is(err, domain.KindInvariantViolation) {
		t.Fatalf("expected invariant violation for completed->processing, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestUpdatePackageStatus_ForwardTransition(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT id, application_id, version, revision, status, creator, builder, created_at, updated_at\s+FROM packages WHERE id = \$1`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "application_id", "version", "revision", "status", "creator", "builder", "created_at", "updated_at"}).
			AddRow(int64(7), int64(1), "1", "1", "pending", "", "", now, now))
	mock.ExpectExec(`UPDATE packages SET status = \$2, updated_at = \$3 WHERE id = \$1`).
		WithArgs(int64(7), "processing", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.UpdatePackageStatus(context.Background(), 7, domain.PackageProcessing); err != nil {
		t.Fatalf("forward transition: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	sentinel := errors.New("boom")
	err := store.WithTx(context.Background(), func(ctx context.Context, tx storage.Gateway) error {
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error back, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE packages SET status`).
		WithArgs(int64(3), "failed", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	now := time.Now().UTC()
	err := store.WithTx(context.Background(), func(ctx context.Context, tx storage.Gateway) error {
		// Exercise a write through the tx-bound gateway without the
		// transition pre-read, straight at the SQL layer.
		txStore := tx.(*Store)
		_, execErr := txStore.c.ExecContext(ctx, `
			UPDATE packages SET status = $2, updated_at = $3 WHERE id = $1
		`, int64(3), "failed", now)
		return execErr
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
