package postgres

import (
	"context"

	"github.com/taggeddeploy/tds/internal/domain"
)

func (s *Store) CreateHostDeployment(ctx context.Context, hd domain.HostDeployment) (domain.HostDeployment, error) {
	if hd.Status == "" {
		hd.Status = domain.HostDeploymentPending
	}
	err := s.c.QueryRowContext(ctx, `
		INSERT INTO host_deployments (deployment_id, host_id, package_id, app_user, status, deploy_result, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING id, created_at, updated_at
	`, hd.DeploymentID, hd.HostID, hd.PackageID, hd.User, string(hd.Status), hd.DeployResult).Scan(&hd.ID, &hd.CreatedAt, &hd.UpdatedAt)
	if err != nil {
		return domain.HostDeployment{}, domain.Wrap(domain.KindFatal, err, "create host deployment")
	}
	return hd, nil
}

func (s *Store) GetHostDeployment(ctx context.Context, id int64) (domain.HostDeployment, error) {
	hd, err := scanHostDeployment(s.c.QueryRowContext(ctx, `
		SELECT id, deployment_id, host_id, package_id, app_user, status, deploy_result, created_at, updated_at
		FROM host_deployments WHERE id = $1
	`, id))
	if err != nil {
		return domain.HostDeployment{}, notFound(err)
	}
	return hd, nil
}

func (s *Store) UpdateHostDeployment(ctx context.Context, hd domain.HostDeployment) (domain.HostDeployment, error) {
	result, err := s.c.ExecContext(ctx, `
		UPDATE host_deployments
		SET host_id = $2, package_id = $3, app_user = $4, status = $5, deploy_result = $6, updated_at = now()
		WHERE id = $1
	`, hd.ID, hd.HostID, hd.PackageID, hd.User, string(hd.Status), hd.DeployResult)
	if err != nil {
		return domain.HostDeployment{}, domain.Wrap(domain.KindFatal, err, "update host deployment")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.HostDeployment{}, domain.ErrNotFound
	}
	return s.GetHostDeployment(ctx, hd.ID)
}

func (s *Store) ListHostDeploymentsByDeployment(ctx context.Context, deploymentID int64) ([]domain.HostDeployment, error) {
	return s.queryHostDeployments(ctx, `
		SELECT id, deployment_id, host_id, package_id, app_user, status, deploy_result, created_at, updated_at
		FROM host_deployments WHERE deployment_id = $1 ORDER BY id
	`, deploymentID)
}

func (s *Store) ListHostDeploymentsByHost(ctx context.Context, hostID int64) ([]domain.HostDeployment, error) {
	return s.queryHostDeployments(ctx, `
		SELECT id, deployment_id, host_id, package_id, app_user, status, deploy_result, created_at, updated_at
		FROM host_deployments WHERE host_id = $1 ORDER BY id
	`, hostID)
}

func (s *Store) MostRecentHostDeployment(ctx context.Context, deploymentID, hostID int64) (domain.HostDeployment, error) {
	hd, err := scanHostDeployment(s.c.QueryRowContext(ctx, `
		SELECT id, deployment_id, host_id, package_id, app_user, status, deploy_result, created_at, updated_at
		FROM host_deployments
		WHERE deployment_id = $1 AND host_id = $2
		ORDER BY id DESC
		LIMIT 1
	`, deploymentID, hostID))
	if err != nil {
		return domain.HostDeployment{}, notFound(err)
	}
	return hd, nil
}

func (s *Store) DeleteHostDeploymentsForHostProject(ctx context.Context, hostID, projectID int64) error {
	_, err := s.c.ExecContext(ctx, `
		DELETE FROM host_deployments
		WHERE host_id = $1
		AND package_id IN (
			SELECT p.id FROM packages p
			JOIN project_packages pp ON pp.pkg_def_id = p.application_id
			WHERE pp.project_id = $2
		)
	`, hostID, projectID)
	if err != nil {
		return domain.Wrap(domain.KindFatal, err, "delete host deployments for host %d project %d", hostID, projectID)
	}
	return nil
}

func (s *Store) queryHostDeployments(ctx context.Context, query string, args ...any) ([]domain.HostDeployment, error) {
	rows, err := s.c.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.Wrap(domain.KindFatal, err, "list host deployments")
	}
	defer rows.Close()

	var out []domain.HostDeployment
	for rows.Next() {
		hd, err := scanHostDeployment(rows)
		if err != nil {
			return nil, domain.Wrap(domain.KindFatal, err, "scan host deployment")
		}
		out = append(out, hd)
	}
	return out, rows.Err()
}

func scanHostDeployment(r rowScanner) (domain.HostDeployment, error) {
	var hd domain.HostDeployment
	var status string
	if err := r.Scan(&hd.ID, &hd.DeploymentID, &hd.HostID, &hd.PackageID, &hd.User, &status, &hd.DeployResult, &hd.CreatedAt, &hd.UpdatedAt); err != nil {
		return domain.HostDeployment{}, err
	}
	hd.Status = domain.HostDeploymentStatus(status)
	return hd, nil
}
