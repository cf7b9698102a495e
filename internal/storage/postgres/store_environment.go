package postgres

import (
	"context"

	"github.com/taggeddeploy/tds/internal/domain"
)

func (s *Store) GetEnvironmentByName(ctx context.Context, env string) (domain.Environment, error) {
	var e domain.Environment
	err := s.c.QueryRowContext(ctx, `
		SELECT id, env, environment, domain, prefix, zone_id, sort_order
		FROM environments WHERE env = $1
	`, env).Scan(&e.ID, &e.Env, &e.Environment, &e.Domain, &e.Prefix, &e.ZoneID, &e.SortOrder)
	if err != nil {
		return domain.Environment{}, notFound(err)
	}
	return e, nil
}

func (s *Store) ListEnvironments(ctx context.Context) ([]domain.Environment, error) {
	rows, err := s.c.QueryContext(ctx, `
		SELECT id, env, environment, domain, prefix, zone_id, sort_order
		FROM environments ORDER BY sort_order
	`)
	if err != nil {
		return nil, domain.Wrap(domain.KindFatal, err, "list environments")
	}
	defer rows.Close()

	var out []domain.Environment
	for rows.Next() {
		var e domain.Environment
		if err := rows.Scan(&e.ID, &e.Env, &e.Environment, &e.Domain, &e.Prefix, &e.ZoneID, &e.SortOrder); err != nil {
			return nil, domain.Wrap(domain.KindFatal, err, "scan environment")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
