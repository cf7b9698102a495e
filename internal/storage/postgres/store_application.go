package postgres

import (
	"context"
	"time"

	"github.com/taggeddeploy/tds/internal/domain"
)

func (s *Store) CreateApplication(ctx context.Context, a domain.Application) (domain.Application, error) {
	a.CreatedAt = time.Now().UTC()
	err := s.c.QueryRowContext(ctx, `
		INSERT INTO applications (name, path, arch, deploy_type, validation_type, build_type, build_host, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, a.Name, a.Path, string(a.Arch), a.DeployType, a.ValidationType, a.BuildType, a.BuildHost, a.CreatedAt).Scan(&a.ID)
	if isUniqueViolation(err) {
		return domain.Application{}, domain.NewError(domain.KindConflict, "application %q already exists", a.Name)
	}
	if err != nil {
		return domain.Application{}, domain.Wrap(domain.KindFatal, err, "create application")
	}
	return a, nil
}

func (s *Store) GetApplication(ctx context.Context, id int64) (domain.Application, error) {
	a, err := scanApplication(s.c.QueryRowContext(ctx, `
		SELECT id, name, path, arch, deploy_type, validation_type, build_type, build_host, created_at
		FROM applications WHERE id = $1
	`, id))
	if err != nil {
		return domain.Application{}, notFound(err)
	}
	return a, nil
}

func (s *Store) GetApplicationByName(ctx context.Context, name string) (domain.Application, error) {
	a, err := scanApplication(s.c.QueryRowContext(ctx, `
		SELECT id, name, path, arch, deploy_type, validation_type, build_type, build_host, created_at
		FROM applications WHERE name = $1
	`, name))
	if err != nil {
		return domain.Application{}, notFound(err)
	}
	return a, nil
}

func (s *Store) ListApplications(ctx context.Context) ([]domain.Application, error) {
	rows, err := s.c.QueryContext(ctx, `
		SELECT id, name, path, arch, deploy_type, validation_type, build_type, build_host, created_at
		FROM applications ORDER BY id
	`)
	if err != nil {
		return nil, domain.Wrap(domain.KindFatal, err, "list applications")
	}
	defer rows.Close()

	var out []domain.Application
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, domain.Wrap(domain.KindFatal, err, "scan application")
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) DeleteApplication(ctx context.Context, id int64) error {
	_, err := s.c.ExecContext(ctx, `DELETE FROM applications WHERE id = $1`, id)
	if err != nil {
		return domain.Wrap(domain.KindFatal, err, "delete application %d", id)
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanApplication(r rowScanner) (domain.Application, error) {
	var a domain.Application
	var arch string
	if err := r.Scan(&a.ID, &a.Name, &a.Path, &arch, &a.DeployType, &a.ValidationType, &a.BuildType, &a.BuildHost, &a.CreatedAt); err != nil {
		return domain.Application{}, err
	}
	a.Arch = domain.Arch(arch)
	return a, nil
}
