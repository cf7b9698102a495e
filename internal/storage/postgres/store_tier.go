package postgres

import (
	"context"

	"github.com/taggeddeploy/tds/internal/domain"
)

func (s *Store) CreateTier(ctx context.Context, t domain.Tier) (domain.Tier, error) {
	err := s.c.QueryRowContext(ctx, `
		INSERT INTO tiers (name, ganglia_id, host_base, puppet_class)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, t.Name, t.GangliaID, t.HostBase, t.PuppetClass).Scan(&t.ID)
	if isUniqueViolation(err) {
		return domain.Tier{}, domain.NewError(domain.KindConflict, "tier %q already exists", t.Name)
	}
	if err != nil {
		return domain.Tier{}, domain.Wrap(domain.KindFatal, err, "create tier")
	}
	return t, nil
}

func (s *Store) GetTier(ctx context.Context, id int64) (domain.Tier, error) {
	var t domain.Tier
	err := s.c.QueryRowContext(ctx, `
		SELECT id, name, ganglia_id, host_base, puppet_class FROM tiers WHERE id = $1
	`, id).Scan(&t.ID, &t.Name, &t.GangliaID, &t.HostBase, &t.PuppetClass)
	if err != nil {
		return domain.Tier{}, notFound(err)
	}
	return t, nil
}

func (s *Store) GetTierByName(ctx context.Context, name string) (domain.Tier, error) {
	var t domain.Tier
	err := s.c.QueryRowContext(ctx, `
		SELECT id, name, ganglia_id, host_base, puppet_class FROM tiers WHERE name = $1
	`, name).Scan(&t.ID, &t.Name, &t.GangliaID, &t.HostBase, &t.PuppetClass)
	if err != nil {
		return domain.Tier{}, notFound(err)
	}
	return t, nil
}

func (s *Store) ListTiers(ctx context.Context) ([]domain.Tier, error) {
	rows, err := s.c.QueryContext(ctx, `
		SELECT id, name, ganglia_id, host_base, puppet_class FROM tiers ORDER BY id
	`)
	if err != nil {
		return nil, domain.Wrap(domain.KindFatal, err, "list tiers")
	}
	defer rows.Close()

	var out []domain.Tier
	for rows.Next() {
		var t domain.Tier
		if err := rows.Scan(&t.ID, &t.Name, &t.GangliaID, &t.HostBase, &t.PuppetClass); err != nil {
			return nil, domain.Wrap(domain.KindFatal, err, "scan tier")
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
