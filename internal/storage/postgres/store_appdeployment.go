package postgres

import (
	"context"

	"github.com/taggeddeploy/tds/internal/domain"
)

func (s *Store) CreateAppDeployment(ctx context.Context, ad domain.AppDeployment) (domain.AppDeployment, error) {
	if ad.Status == "" {
		ad.Status = domain.AppDeploymentPending
	}
	err := s.c.QueryRowContext(ctx, `
		INSERT INTO app_deployments (deployment_id, app_id, environment_id, package_id, app_user, status, created_at, realized_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), $7)
		RETURNING id, created_at
	`, ad.DeploymentID, ad.AppID, ad.EnvironmentID, ad.PackageID, ad.User, string(ad.Status), ad.RealizedAt).Scan(&ad.ID, &ad.CreatedAt)
	if isUniqueViolation(err) {
		return domain.AppDeployment{}, domain.NewError(domain.KindConflict, "app deployment already exists for deployment %d, tier %d", ad.DeploymentID, ad.AppID)
	}
	if err != nil {
		return domain.AppDeployment{}, domain.Wrap(domain.KindFatal, err, "create app deployment")
	}
	return ad, nil
}

func (s *Store) GetAppDeployment(ctx context.Context, id int64) (domain.AppDeployment, error) {
	ad, err := scanAppDeployment(s.c.QueryRowContext(ctx, `
		SELECT id, deployment_id, app_id, environment_id, package_id, app_user, status, created_at, realized_at
		FROM app_deployments WHERE id = $1
	`, id))
	if err != nil {
		return domain.AppDeployment{}, notFound(err)
	}
	return ad, nil
}

func (s *Store) UpdateAppDeployment(ctx context.Context, ad domain.AppDeployment) (domain.AppDeployment, error) {
	result, err := s.c.ExecContext(ctx, `
		UPDATE app_deployments
		SET app_id = $2, environment_id = $3, package_id = $4, app_user = $5, status = $6, realized_at = $7
		WHERE id = $1
	`, ad.ID, ad.AppID, ad.EnvironmentID, ad.PackageID, ad.User, string(ad.Status), ad.RealizedAt)
	if err != nil {
		return domain.AppDeployment{}, domain.Wrap(domain.KindFatal, err, "update app deployment")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.AppDeployment{}, domain.ErrNotFound
	}
	return ad, nil
}

func (s *Store) ListAppDeploymentsByDeployment(ctx context.Context, deploymentID int64) ([]domain.AppDeployment, error) {
	rows, err := s.c.QueryContext(ctx, `
		SELECT id, deployment_id, app_id, environment_id, package_id, app_user, status, created_at, realized_at
		FROM app_deployments WHERE deployment_id = $1 ORDER BY id
	`, deploymentID)
	if err != nil {
		return nil, domain.Wrap(domain.KindFatal, err, "list app deployments")
	}
	defer rows.Close()

	var out []domain.AppDeployment
	for rows.Next() {
		ad, err := scanAppDeployment(rows)
		if err != nil {
			return nil, domain.Wrap(domain.KindFatal, err, "scan app deployment")
		}
		out = append(out, ad)
	}
	return out, rows.Err()
}

func (s *Store) MostRecentAppDeployment(ctx context.Context, tierID, environmentID, packageID int64) (domain.AppDeployment, error) {
	ad, err := scanAppDeployment(s.c.QueryRowContext(ctx, `
		SELECT id, deployment_id, app_id, environment_id, package_id, app_user, status, created_at, realized_at
		FROM app_deployments
		WHERE app_id = $1 AND environment_id = $2 AND package_id = $3
		ORDER BY COALESCE(realized_at, 'epoch'::timestamptz) DESC, deployment_id DESC
		LIMIT 1
	`, tierID, environmentID, packageID))
	if err != nil {
		return domain.AppDeployment{}, notFound(err)
	}
	return ad, nil
}

func (s *Store) MostRecentAppDeploymentAnyPackage(ctx context.Context, tierID, environmentID int64) (domain.AppDeployment, error) {
	ad, err := scanAppDeployment(s.c.QueryRowContext(ctx, `
		SELECT id, deployment_id, app_id, environment_id, package_id, app_user, status, created_at, realized_at
		FROM app_deployments
		WHERE app_id = $1 AND environment_id = $2
		ORDER BY COALESCE(realized_at, 'epoch'::timestamptz) DESC, deployment_id DESC
		LIMIT 1
	`, tierID, environmentID))
	if err != nil {
		return domain.AppDeployment{}, notFound(err)
	}
	return ad, nil
}

func (s *Store) DeleteHostDeploymentsForAppDeployment(ctx context.Context, tierID, deploymentID int64) error {
	_, err := s.c.ExecContext(ctx, `
		DELETE FROM host_deployments
		WHERE deployment_id = $2
		AND host_id IN (SELECT id FROM hosts WHERE app_id = $1)
	`, tierID, deploymentID)
	if err != nil {
		return domain.Wrap(domain.KindFatal, err, "delete host deployments for tier %d", tierID)
	}
	return nil
}

func scanAppDeployment(r rowScanner) (domain.AppDeployment, error) {
	var ad domain.AppDeployment
	var status string
	if err := r.Scan(&ad.ID, &ad.DeploymentID, &ad.AppID, &ad.EnvironmentID, &ad.PackageID, &ad.User, &status, &ad.CreatedAt, &ad.RealizedAt); err != nil {
		return domain.AppDeployment{}, err
	}
	ad.Status = domain.AppDeploymentStatus(status)
	return ad, nil
}
