package postgres

import (
	"context"

	"github.com/taggeddeploy/tds/internal/domain"
)

func (s *Store) CreateHost(ctx context.Context, h domain.Host) (domain.Host, error) {
	if h.State == "" {
		h.State = "active"
	}
	err := s.c.QueryRowContext(ctx, `
		INSERT INTO hosts (hostname, environment_id, app_id, state)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, h.Hostname, h.EnvironmentID, h.AppID, h.State).Scan(&h.ID)
	if isUniqueViolation(err) {
		return domain.Host{}, domain.NewError(domain.KindConflict, "host %q already exists", h.Hostname)
	}
	if err != nil {
		return domain.Host{}, domain.Wrap(domain.KindFatal, err, "create host")
	}
	return h, nil
}

func (s *Store) GetHost(ctx context.Context, id int64) (domain.Host, error) {
	var h domain.Host
	err := s.c.QueryRowContext(ctx, `
		SELECT id, hostname, environment_id, app_id, state FROM hosts WHERE id = $1
	`, id).Scan(&h.ID, &h.Hostname, &h.EnvironmentID, &h.AppID, &h.State)
	if err != nil {
		return domain.Host{}, notFound(err)
	}
	return h, nil
}

func (s *Store) GetHostByHostname(ctx context.Context, hostname string) (domain.Host, error) {
	var h domain.Host
	err := s.c.QueryRowContext(ctx, `
		SELECT id, hostname, environment_id, app_id, state FROM hosts WHERE hostname = $1
	`, hostname).Scan(&h.ID, &h.Hostname, &h.EnvironmentID, &h.AppID, &h.State)
	if err != nil {
		return domain.Host{}, notFound(err)
	}
	return h, nil
}

func (s *Store) ListHostsByTier(ctx context.Context, tierID int64) ([]domain.Host, error) {
	return s.queryHosts(ctx, `
		SELECT id, hostname, environment_id, app_id, state FROM hosts
		WHERE app_id = $1 ORDER BY hostname
	`, tierID)
}

func (s *Store) ListHostsByTierEnv(ctx context.Context, tierID, environmentID int64) ([]domain.Host, error) {
	return s.queryHosts(ctx, `
		SELECT id, hostname, environment_id, app_id, state FROM hosts
		WHERE app_id = $1 AND environment_id = $2 ORDER BY hostname
	`, tierID, environmentID)
}

func (s *Store) queryHosts(ctx context.Context, query string, args ...any) ([]domain.Host, error) {
	rows, err := s.c.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.Wrap(domain.KindFatal, err, "list hosts")
	}
	defer rows.Close()

	var out []domain.Host
	for rows.Next() {
		var h domain.Host
		if err := rows.Scan(&h.ID, &h.Hostname, &h.EnvironmentID, &h.AppID, &h.State); err != nil {
			return nil, domain.Wrap(domain.KindFatal, err, "scan host")
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
