package controller

import (
	"context"
	"errors"
	"time"

	"github.com/taggeddeploy/tds/internal/domain"
)

// RestartParams carries a restart request.
type RestartParams struct {
	Project string
	Hosts   []string
	Tiers   []string
	Env     string
	User    string
	Delay   time.Duration

	Progress ProgressFunc
}

// Restart picks the package currently live on
// each targeted host or tier and drive the strategy's RestartHost. Targets
// whose live AppDeployment is inprogress or incomplete are refused.
func (c *Controller) Restart(ctx context.Context, p RestartParams) ([]HostResult, error) {
	progress := p.Progress
	if progress == nil {
		progress = noopProgress
	}

	env, err := c.gw.GetEnvironmentByName(ctx, p.Env)
	if err != nil {
		return nil, domain.Wrap(domain.KindWrongEnvironment, err, "unknown environment %q", p.Env)
	}
	tiers, hosts, err := c.resolveTargets(ctx, p.Tiers, p.Hosts, env)
	if err != nil {
		return nil, err
	}

	type restartPlan struct {
		tier  domain.Tier
		app   domain.Application
		hosts []domain.Host
	}
	hostsByTier := GroupHostsByTier(hosts)
	var plans []restartPlan
	for _, tier := range tiers {
		live, err := c.gw.MostRecentAppDeploymentAnyPackage(ctx, tier.ID, env.ID)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if live.Status == domain.AppDeploymentInProgress || live.Status == domain.AppDeploymentIncomplete {
			return nil, domain.NewError(domain.KindConflict, "tier %q has a live deployment in state %s; refusing restart", tier.Name, live.Status)
		}
		pkg, err := c.gw.GetPackage(ctx, live.PackageID)
		if err != nil {
			return nil, err
		}
		app, err := c.ApplicationForPackage(ctx, pkg)
		if err != nil {
			return nil, err
		}
		plans = append(plans, restartPlan{tier: tier, app: app, hosts: hostsByTier[tier.ID]})
	}
	if len(plans) == 0 {
		return nil, domain.NewError(domain.KindNothingToAct, "nothing is deployed on the requested targets in %q", p.Env)
	}

	c.emitEvent(ctx, p.User, "deploy", "restart", p.Project, "", p.Env, tierNames(tiers), hostNames(hosts))

	var results []HostResult
	current := 0
	total := 0
	for _, plan := range plans {
		total += len(plan.hosts)
	}
	for _, plan := range plans {
		for _, host := range plan.hosts {
			current++
			ok, diag, restartErr := c.strategy.RestartHost(ctx, host.Hostname, plan.app.Name, c.retryBudget)
			if restartErr != nil && diag == "" {
				diag = restartErr.Error()
			}
			result := HostResult{Host: host.Hostname, TierID: plan.tier.ID, OK: ok, Diagnostic: diag}
			results = append(results, result)
			c.log.WithField("host", host.Hostname).WithField("ok", ok).Info("restarted application")
			progress(current, total, result)
			sleepBetweenHosts(p.Delay)
		}
	}
	return results, nil
}
