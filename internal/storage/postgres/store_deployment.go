package postgres

import (
	"context"

	"github.com/taggeddeploy/tds/internal/domain"
)

func (s *Store) CreateDeployment(ctx context.Context, d domain.Deployment) (domain.Deployment, error) {
	if d.Status == "" {
		d.Status = domain.DeploymentPending
	}
	err := s.c.QueryRowContext(ctx, `
		INSERT INTO deployments (package_id, app_user, dep_type, status, declared_at, realized_at)
		VALUES ($1, $2, $3, $4, now(), $5)
		RETURNING id, declared_at
	`, d.PackageID, d.User, string(d.DepType), string(d.Status), d.RealizedAt).Scan(&d.ID, &d.DeclaredAt)
	if err != nil {
		return domain.Deployment{}, domain.Wrap(domain.KindFatal, err, "create deployment")
	}
	return d, nil
}

func (s *Store) GetDeployment(ctx context.Context, id int64) (domain.Deployment, error) {
	d, err := scanDeployment(s.c.QueryRowContext(ctx, `
		SELECT id, package_id, app_user, dep_type, status, declared_at, realized_at
		FROM deployments WHERE id = $1
	`, id))
	if err != nil {
		return domain.Deployment{}, notFound(err)
	}
	return d, nil
}

func (s *Store) UpdateDeployment(ctx context.Context, d domain.Deployment) (domain.Deployment, error) {
	result, err := s.c.ExecContext(ctx, `
		UPDATE deployments SET status = $2, realized_at = $3 WHERE id = $1
	`, d.ID, string(d.Status), d.RealizedAt)
	if err != nil {
		return domain.Deployment{}, domain.Wrap(domain.KindFatal, err, "update deployment")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.Deployment{}, domain.ErrNotFound
	}
	return d, nil
}

func (s *Store) ListQueuedDeployments(ctx context.Context) ([]domain.Deployment, error) {
	rows, err := s.c.QueryContext(ctx, `
		SELECT id, package_id, app_user, dep_type, status, declared_at, realized_at
		FROM deployments WHERE status = $1 ORDER BY declared_at
	`, string(domain.DeploymentQueued))
	if err != nil {
		return nil, domain.Wrap(domain.KindFatal, err, "list queued deployments")
	}
	defer rows.Close()

	var out []domain.Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, domain.Wrap(domain.KindFatal, err, "scan deployment")
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDeployment(r rowScanner) (domain.Deployment, error) {
	var d domain.Deployment
	var depType, status string
	if err := r.Scan(&d.ID, &d.PackageID, &d.User, &depType, &status, &d.DeclaredAt, &d.RealizedAt); err != nil {
		return domain.Deployment{}, err
	}
	d.DepType, d.Status = domain.DeploymentType(depType), domain.DeploymentStatus(status)
	return d, nil
}
