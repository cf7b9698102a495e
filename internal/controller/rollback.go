package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/taggeddeploy/tds/internal/domain"
)

// RollbackParams carries a rollback request.
type RollbackParams struct {
	Project string
	Hosts   []string
	Tiers   []string
	Env     string
	User    string
	Delay   time.Duration

	Progress ProgressFunc
}

// RollbackResult carries the rows a Rollback call affected, plus the
// AppDeployments that were invalidated as rollback sources.
type RollbackResult struct {
	Deployments     []domain.Deployment
	AppDeployments  []domain.AppDeployment
	HostDeployments []domain.HostDeployment
	Invalidated     []domain.AppDeployment
}

// rollbackTarget pairs one tier with the validated AppDeployment it rolls
// back to and, for tier scope, the AppDeployment it rolls back from.
type rollbackTarget struct {
	tier     domain.Tier
	env      domain.Environment
	target   domain.AppDeployment
	original *domain.AppDeployment
}

// Rollback rolls tiers or hosts back. Tier scope rolls each tier back to
// its previous validated deployment under a fresh Deployment row of
// dep_type=rollback and invalidates the AppDeployment being rolled back
// from after the apply phase; host scope re-applies the latest validated
// deployment's package to the named hosts, reusing that deployment and
// setting the tier back to inprogress before the rollup.
func (c *Controller) Rollback(ctx context.Context, p RollbackParams) (RollbackResult, error) {
	progress := p.Progress
	if progress == nil {
		progress = noopProgress
	}
	hostOnly := len(p.Hosts) > 0

	project, err := c.gw.GetProjectByName(ctx, p.Project)
	if err != nil {
		return RollbackResult{}, domain.Wrap(domain.KindNotFound, err, "project %q not found", p.Project)
	}
	env, err := c.gw.GetEnvironmentByName(ctx, p.Env)
	if err != nil {
		return RollbackResult{}, domain.Wrap(domain.KindWrongEnvironment, err, "unknown environment %q", p.Env)
	}
	tiers, hosts, err := c.resolveTargets(ctx, p.Tiers, p.Hosts, env)
	if err != nil {
		return RollbackResult{}, err
	}

	targets, err := c.planRollback(ctx, tiers, env, hostOnly)
	if err != nil {
		return RollbackResult{}, err
	}
	if len(targets) == 0 {
		return RollbackResult{}, domain.NewError(domain.KindNothingToAct, "no validated deployment to roll back to in %q", p.Env)
	}

	c.emitEvent(ctx, p.User, "deploy", "rollback", p.Project, "", p.Env, tierNames(tiers), hostNames(hosts))

	hostsByTier := GroupHostsByTier(hosts)
	result := RollbackResult{}
	current := 0
	total := 0
	for _, t := range targets {
		total += len(hostsByTier[t.tier.ID])
	}

	for _, t := range targets {
		tierHosts := hostsByTier[t.tier.ID]
		running, err := c.CheckForCurrentDeployment(ctx, t.tier.ID, env.ID, tierHosts)
		if err != nil {
			return result, err
		}
		if running {
			current += len(tierHosts)
			continue
		}

		pkg, err := c.gw.GetPackage(ctx, t.target.PackageID)
		if err != nil {
			return result, err
		}
		app, err := c.ApplicationForPackage(ctx, pkg)
		if err != nil {
			return result, err
		}

		var appliedDeploymentID int64

		if hostOnly {
			// Host scope reuses the validated deployment's own rows: the
			// tier drops back to inprogress inside applyTier and rolls up
			// again once the named hosts are re-applied.
			deployment, err := c.gw.GetDeployment(ctx, t.target.DeploymentID)
			if err != nil {
				return result, err
			}
			adCopy := t.target
			ad, err := c.applyTier(ctx, deployment, t.tier, t.env, pkg, app.Name, project.ID, tierHosts, &adCopy, p.User, false, p.Delay, progress, &current, total)
			if err != nil {
				return result, err
			}
			result.Deployments = append(result.Deployments, deployment)
			result.AppDeployments = append(result.AppDeployments, ad)
			appliedDeploymentID = deployment.ID
		} else {
			deployment, err := c.gw.CreateDeployment(ctx, domain.Deployment{
				PackageID:  pkg.ID,
				User:       p.User,
				DepType:    domain.DeployTypeRollback,
				Status:     domain.DeploymentInProgress,
				DeclaredAt: time.Now().UTC(),
			})
			if err != nil {
				return result, err
			}
			ad, err := c.applyTier(ctx, deployment, t.tier, t.env, pkg, app.Name, project.ID, tierHosts, nil, p.User, true, p.Delay, progress, &current, total)
			if err != nil {
				return result, err
			}
			deployment.Status = overallDeploymentStatus([]domain.AppDeployment{ad})
			now := time.Now().UTC()
			deployment.RealizedAt = &now
			deployment, err = c.gw.UpdateDeployment(ctx, deployment)
			if err != nil {
				return result, err
			}
			result.Deployments = append(result.Deployments, deployment)
			result.AppDeployments = append(result.AppDeployments, ad)

			// The deployment being rolled back from is invalidated only
			// after the apply phase, and only for tier scope. A crash
			// between the apply and this write leaves the old
			// AppDeployment validated; recorded as intended behavior.
			if t.original != nil {
				orig := *t.original
				orig.Status = domain.AppDeploymentInvalidated
				orig, err = c.gw.UpdateAppDeployment(ctx, orig)
				if err != nil {
					return result, err
				}
				result.Invalidated = append(result.Invalidated, orig)
			}
			appliedDeploymentID = deployment.ID
		}

		hds, err := c.gw.ListHostDeploymentsByDeployment(ctx, appliedDeploymentID)
		if err != nil {
			return result, err
		}
		result.HostDeployments = append(result.HostDeployments, hds...)
	}

	if len(result.AppDeployments) == 0 {
		return result, domain.NewError(domain.KindConflict, "every requested tier has a deployment currently running")
	}
	return result, nil
}

// planRollback chooses the rollback target per tier: the latest validated
// deployment for host scope, the previous validated deployment (strictly
// before the current one) for tier scope. Tiers without a target are
// dropped from the plan.
func (c *Controller) planRollback(ctx context.Context, tiers []domain.Tier, env domain.Environment, hostOnly bool) ([]rollbackTarget, error) {
	var targets []rollbackTarget
	for _, tier := range tiers {
		if hostOnly {
			target, err := c.gw.LatestValidatedDeployment(ctx, tier.ID, env.ID)
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			targets = append(targets, rollbackTarget{tier: tier, env: env, target: target})
			continue
		}

		original, err := c.gw.MostRecentAppDeploymentAnyPackage(ctx, tier.ID, env.ID)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		before := original.CreatedAt
		if original.RealizedAt != nil {
			before = *original.RealizedAt
		}
		target, err := c.gw.PreviousValidatedDeployment(ctx, tier.ID, env.ID, before, original.DeploymentID)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		origCopy := original
		targets = append(targets, rollbackTarget{tier: tier, env: env, target: target, original: &origCopy})
	}
	return targets, nil
}

// describePackage renders a package for logs and notification events.
func describePackage(pkg domain.Package) string {
	return fmt.Sprintf("%s-%s", pkg.Version, pkg.Revision)
}
