package postgres

import (
	"context"
	"time"

	"github.com/taggeddeploy/tds/internal/domain"
)

func (s *Store) CreatePackage(ctx context.Context, p domain.Package) (domain.Package, error) {
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	if p.Status == "" {
		p.Status = domain.PackagePending
	}
	err := s.c.QueryRowContext(ctx, `
		INSERT INTO packages (application_id, version, revision, status, creator, builder, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, p.ApplicationID, p.Version, p.Revision, string(p.Status), p.Creator, p.Builder, p.CreatedAt, p.UpdatedAt).Scan(&p.ID)
	if isUniqueViolation(err) {
		return domain.Package{}, domain.NewError(domain.KindConflict, "package %s-%s already exists for application %d", p.Version, p.Revision, p.ApplicationID)
	}
	if err != nil {
		return domain.Package{}, domain.Wrap(domain.KindFatal, err, "create package")
	}
	return p, nil
}

func (s *Store) GetPackage(ctx context.Context, id int64) (domain.Package, error) {
	p, err := scanPackage(s.c.QueryRowContext(ctx, `
		SELECT id, application_id, version, revision, status, creator, builder, created_at, updated_at
		FROM packages WHERE id = $1
	`, id))
	if err != nil {
		return domain.Package{}, notFound(err)
	}
	return p, nil
}

func (s *Store) GetPackageByVersion(ctx context.Context, applicationID int64, version, revision string) (domain.Package, error) {
	p, err := scanPackage(s.c.QueryRowContext(ctx, `
		SELECT id, application_id, version, revision, status, creator, builder, created_at, updated_at
		FROM packages WHERE application_id = $1 AND version = $2 AND revision = $3
	`, applicationID, version, revision))
	if err != nil {
		return domain.Package{}, notFound(err)
	}
	return p, nil
}

func (s *Store) UpdatePackageStatus(ctx context.Context, id int64, status domain.PackageStatus) error {
	existing, err := s.GetPackage(ctx, id)
	if err != nil {
		return err
	}
	if !existing.Status.CanTransition(status) {
		return domain.NewError(domain.KindInvariantViolation, "package %d cannot transition from %s to %s", id, existing.Status, status)
	}
	result, err := s.c.ExecContext(ctx, `
		UPDATE packages SET status = $2, updated_at = $3 WHERE id = $1
	`, id, string(status), time.Now().UTC())
	if err != nil {
		return domain.Wrap(domain.KindFatal, err, "update package status")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) ListPackagesByApplication(ctx context.Context, applicationID int64) ([]domain.Package, error) {
	rows, err := s.c.QueryContext(ctx, `
		SELECT id, application_id, version, revision, status, creator, builder, created_at, updated_at
		FROM packages WHERE application_id = $1 ORDER BY id
	`, applicationID)
	if err != nil {
		return nil, domain.Wrap(domain.KindFatal, err, "list packages")
	}
	defer rows.Close()

	var out []domain.Package
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, domain.Wrap(domain.KindFatal, err, "scan package")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPackage(r rowScanner) (domain.Package, error) {
	var p domain.Package
	var status string
	if err := r.Scan(&p.ID, &p.ApplicationID, &p.Version, &p.Revision, &status, &p.Creator, &p.Builder, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return domain.Package{}, err
	}
	p.Status = domain.PackageStatus(status)
	return p, nil
}
