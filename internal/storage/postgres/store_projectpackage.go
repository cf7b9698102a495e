package postgres

import (
	"context"
	"database/sql"

	"github.com/taggeddeploy/tds/internal/domain"
)

func (s *Store) CreateProjectPackage(ctx context.Context, pp domain.ProjectPackage) (domain.ProjectPackage, error) {
	err := s.c.QueryRowContext(ctx, `
		INSERT INTO project_packages (project_id, pkg_def_id, app_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (project_id, pkg_def_id, app_id) DO UPDATE SET project_id = project_packages.project_id
		RETURNING id
	`, pp.ProjectID, pp.PkgDefID, pp.AppID).Scan(&pp.ID)
	if err != nil {
		return domain.ProjectPackage{}, domain.Wrap(domain.KindFatal, err, "create project package")
	}
	return pp, nil
}

func (s *Store) TierAssociated(ctx context.Context, projectID, applicationID, tierID int64) (bool, error) {
	var exists bool
	err := s.c.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM project_packages
			WHERE project_id = $1 AND pkg_def_id = $2 AND app_id = $3
		)
	`, projectID, applicationID, tierID).Scan(&exists)
	if err != nil && err != sql.ErrNoRows {
		return false, domain.Wrap(domain.KindFatal, err, "check tier association")
	}
	return exists, nil
}

func (s *Store) ListProjectPackages(ctx context.Context, projectID int64) ([]domain.ProjectPackage, error) {
	rows, err := s.c.QueryContext(ctx, `
		SELECT id, project_id, pkg_def_id, app_id FROM project_packages
		WHERE project_id = $1 ORDER BY id
	`, projectID)
	if err != nil {
		return nil, domain.Wrap(domain.KindFatal, err, "list project packages")
	}
	defer rows.Close()

	var out []domain.ProjectPackage
	for rows.Next() {
		var pp domain.ProjectPackage
		if err := rows.Scan(&pp.ID, &pp.ProjectID, &pp.PkgDefID, &pp.AppID); err != nil {
			return nil, domain.Wrap(domain.KindFatal, err, "scan project package")
		}
		out = append(out, pp)
	}
	return out, rows.Err()
}
