package postgres

import (
	"context"
	"time"

	"github.com/taggeddeploy/tds/internal/domain"
)

// LatestDeployedVersion returns the package currently live for an
// application, across all tiers when tierID <= 0 or narrowed to one tier.
func (s *Store) LatestDeployedVersion(ctx context.Context, applicationID, environmentID, tierID int64) (domain.Package, error) {
	var p domain.Package
	var status string
	query := `
		SELECT pk.id, pk.application_id, pk.version, pk.revision, pk.status, pk.creator, pk.builder, pk.created_at, pk.updated_at
		FROM app_deployments ad
		JOIN packages pk ON pk.id = ad.package_id
		WHERE pk.application_id = $1 AND ad.environment_id = $2
	`
	args := []any{applicationID, environmentID}
	if tierID > 0 {
		query += " AND ad.app_id = $3"
		args = append(args, tierID)
	}
	query += " ORDER BY COALESCE(ad.realized_at, 'epoch'::timestamptz) DESC, ad.deployment_id DESC LIMIT 1"

	err := s.c.QueryRowContext(ctx, query, args...).Scan(&p.ID, &p.ApplicationID, &p.Version, &p.Revision, &status, &p.Creator, &p.Builder, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.Package{}, notFound(err)
	}
	p.Status = domain.PackageStatus(status)
	return p, nil
}

// LatestValidatedDeployment returns the most recent validated AppDeployment
// for (tierID, environmentID).
func (s *Store) LatestValidatedDeployment(ctx context.Context, tierID, environmentID int64) (domain.AppDeployment, error) {
	ad, err := scanAppDeployment(s.c.QueryRowContext(ctx, `
		SELECT id, deployment_id, app_id, environment_id, package_id, app_user, status, created_at, realized_at
		FROM app_deployments
		WHERE app_id = $1 AND environment_id = $2 AND status = $3
		ORDER BY COALESCE(realized_at, 'epoch'::timestamptz) DESC, deployment_id DESC
		LIMIT 1
	`, tierID, environmentID, string(domain.AppDeploymentValidated)))
	if err != nil {
		return domain.AppDeployment{}, notFound(err)
	}
	return ad, nil
}

// PreviousValidatedDeployment returns the most recent validated
// AppDeployment realized at or before "before", excluding
// currentDeploymentID, ties broken toward the higher deployment_id.
func (s *Store) PreviousValidatedDeployment(ctx context.Context, tierID, environmentID int64, before time.Time, currentDeploymentID int64) (domain.AppDeployment, error) {
	ad, err := scanAppDeployment(s.c.QueryRowContext(ctx, `
		SELECT id, deployment_id, app_id, environment_id, package_id, app_user, status, created_at, realized_at
		FROM app_deployments
		WHERE app_id = $1 AND environment_id = $2 AND status = $3
		AND deployment_id != $4
		AND realized_at IS NOT NULL AND realized_at <= $5
		ORDER BY realized_at DESC, deployment_id DESC
		LIMIT 1
	`, tierID, environmentID, string(domain.AppDeploymentValidated), currentDeploymentID, before))
	if err != nil {
		return domain.AppDeployment{}, notFound(err)
	}
	return ad, nil
}
