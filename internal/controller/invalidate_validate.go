package controller

import (
	"context"
	"errors"
	"strings"

	"github.com/taggeddeploy/tds/internal/domain"
)

// MarkParams carries an invalidate or validate request.
type MarkParams struct {
	Project string
	Tiers   []string
	Version string
	Env     string
	Force   bool
	User    string
}

// Invalidate marks a tier's AppDeployment for the given package as no
// longer an acceptable rollback target. Refused when the target version is
// the currently deployed version in env.
func (c *Controller) Invalidate(ctx context.Context, p MarkParams) ([]domain.AppDeployment, error) {
	pkg, env, tiers, err := c.resolveMarkTargets(ctx, p)
	if err != nil {
		return nil, err
	}

	var marked []domain.AppDeployment
	for _, tier := range tiers {
		live, err := c.gw.LatestDeployedVersion(ctx, pkg.ApplicationID, env.ID, tier.ID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		if err == nil && live.ID == pkg.ID {
			return nil, domain.NewError(domain.KindInvariantViolation, "package %s is the currently deployed version on tier %q in %q and cannot be invalidated", describePackage(pkg), tier.Name, p.Env)
		}

		ad, err := c.gw.MostRecentAppDeployment(ctx, tier.ID, env.ID, pkg.ID)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		ad.Status = domain.AppDeploymentInvalidated
		ad, err = c.gw.UpdateAppDeployment(ctx, ad)
		if err != nil {
			return nil, err
		}
		marked = append(marked, ad)
	}
	if len(marked) == 0 {
		return nil, domain.NewError(domain.KindNothingToAct, "no deployments of package %s to invalidate in %q", describePackage(pkg), p.Env)
	}

	c.emitEvent(ctx, p.User, "deploy", "invalidate", p.Project, describePackage(pkg), p.Env, tierNames(tiers), nil)
	return marked, nil
}

// Validate is the operator attesting that a tier's
// AppDeployment is good. Refused unless the tier state checks out (or
// force). On success this tier's HostDeployments in this environment are
// deleted, since a validated tier's per-host history is no longer
// interesting, and the AppDeployment becomes validated.
func (c *Controller) Validate(ctx context.Context, p MarkParams) ([]domain.AppDeployment, error) {
	pkg, env, tiers, err := c.resolveMarkTargets(ctx, p)
	if err != nil {
		return nil, err
	}

	var marked []domain.AppDeployment
	for _, tier := range tiers {
		state, err := c.CheckTierState(ctx, pkg, tier.ID, env.ID)
		if err != nil {
			return nil, err
		}
		if !state.OK && !p.Force {
			return nil, domain.NewError(domain.KindConflict, "tier %q is not in an ok state for package %s: %s", tier.Name, describePackage(pkg), describeTierState(state))
		}

		ad, err := c.gw.MostRecentAppDeployment(ctx, tier.ID, env.ID, pkg.ID)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if err := c.gw.DeleteHostDeploymentsForAppDeployment(ctx, tier.ID, ad.DeploymentID); err != nil {
			return nil, err
		}
		ad.Status = domain.AppDeploymentValidated
		ad, err = c.gw.UpdateAppDeployment(ctx, ad)
		if err != nil {
			return nil, err
		}
		marked = append(marked, ad)
	}
	if len(marked) == 0 {
		return nil, domain.NewError(domain.KindNothingToAct, "no deployments of package %s to validate in %q", describePackage(pkg), p.Env)
	}

	c.emitEvent(ctx, p.User, "deploy", "validate", p.Project, describePackage(pkg), p.Env, tierNames(tiers), nil)
	return marked, nil
}

// resolveMarkTargets resolves the package, environment, and tiers an
// invalidate/validate request addresses.
func (c *Controller) resolveMarkTargets(ctx context.Context, p MarkParams) (domain.Package, domain.Environment, []domain.Tier, error) {
	pkg, err := c.ResolvePackage(ctx, ResolveParams{
		Project: p.Project, Tiers: p.Tiers, Version: p.Version, Env: p.Env,
	})
	if err != nil {
		return domain.Package{}, domain.Environment{}, nil, err
	}
	env, err := c.gw.GetEnvironmentByName(ctx, p.Env)
	if err != nil {
		return domain.Package{}, domain.Environment{}, nil, domain.Wrap(domain.KindWrongEnvironment, err, "unknown environment %q", p.Env)
	}
	tiers, err := c.resolveTiers(ctx, p.Tiers)
	if err != nil {
		return domain.Package{}, domain.Environment{}, nil, err
	}
	if len(tiers) == 0 {
		return domain.Package{}, domain.Environment{}, nil, domain.NewError(domain.KindNothingToAct, "no tiers named")
	}
	return pkg, env, tiers, nil
}

func describeTierState(state TierState) string {
	var parts []string
	if len(state.MissingHosts) > 0 {
		parts = append(parts, "missing: "+strings.Join(hostNames(state.MissingHosts), ","))
	}
	if len(state.DifferingVersionHosts) > 0 {
		parts = append(parts, "differing version: "+strings.Join(hostNames(state.DifferingVersionHosts), ","))
	}
	if len(state.NotOKHosts) > 0 {
		parts = append(parts, "not ok: "+strings.Join(hostNames(state.NotOKHosts), ","))
	}
	if len(parts) == 0 {
		return "no host deployments"
	}
	return strings.Join(parts, "; ")
}
