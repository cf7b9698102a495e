package postgres

import (
	"context"
	"time"

	"github.com/taggeddeploy/tds/internal/domain"
)

func (s *Store) CreateProject(ctx context.Context, p domain.Project) (domain.Project, error) {
	p.CreatedAt = time.Now().UTC()
	err := s.c.QueryRowContext(ctx, `
		INSERT INTO projects (name, created_at)
		VALUES ($1, $2)
		RETURNING id
	`, p.Name, p.CreatedAt).Scan(&p.ID)
	if isUniqueViolation(err) {
		return domain.Project{}, domain.NewError(domain.KindConflict, "project %q already exists", p.Name)
	}
	if err != nil {
		return domain.Project{}, domain.Wrap(domain.KindFatal, err, "create project")
	}
	return p, nil
}

func (s *Store) GetProject(ctx context.Context, id int64) (domain.Project, error) {
	var p domain.Project
	err := s.c.QueryRowContext(ctx, `
		SELECT id, name, created_at FROM projects WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.CreatedAt)
	if err != nil {
		return domain.Project{}, notFound(err)
	}
	return p, nil
}

func (s *Store) GetProjectByName(ctx context.Context, name string) (domain.Project, error) {
	var p domain.Project
	err := s.c.QueryRowContext(ctx, `
		SELECT id, name, created_at FROM projects WHERE name = $1
	`, name).Scan(&p.ID, &p.Name, &p.CreatedAt)
	if err != nil {
		return domain.Project{}, notFound(err)
	}
	return p, nil
}

func (s *Store) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := s.c.QueryContext(ctx, `
		SELECT id, name, created_at FROM projects ORDER BY id
	`)
	if err != nil {
		return nil, domain.Wrap(domain.KindFatal, err, "list projects")
	}
	defer rows.Close()

	var out []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.CreatedAt); err != nil {
			return nil, domain.Wrap(domain.KindFatal, err, "scan project")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) DeleteProject(ctx context.Context, id int64) error {
	_, err := s.c.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return domain.Wrap(domain.KindFatal, err, "delete project %d", id)
	}
	return nil
}
