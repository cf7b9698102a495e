package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/taggeddeploy/tds/internal/domain"
	"github.com/taggeddeploy/tds/internal/notify"
)

// PromoteParams carries a promote request.
type PromoteParams struct {
	Project string
	Hosts   []string
	Tiers   []string
	Version string
	Env     string
	Force   bool
	User    string
	Delay   time.Duration

	Progress ProgressFunc
}

// PromoteResult carries the rows a Promote call affected.
type PromoteResult struct {
	Deployment      domain.Deployment
	AppDeployments  []domain.AppDeployment
	HostDeployments []domain.HostDeployment
}

// Promote advances a package onto the requested tiers (or hosts) in one
// environment, gated on the previous environment's validation.
func (c *Controller) Promote(ctx context.Context, p PromoteParams) (PromoteResult, error) {
	progress := p.Progress
	if progress == nil {
		progress = noopProgress
	}
	hostOnly := len(p.Hosts) > 0

	pkg, err := c.ResolvePackage(ctx, ResolveParams{
		Project: p.Project, Tiers: p.Tiers, Hosts: p.Hosts, Version: p.Version, Env: p.Env, HostOnly: hostOnly,
	})
	if err != nil {
		return PromoteResult{}, err
	}

	project, err := c.gw.GetProjectByName(ctx, p.Project)
	if err != nil {
		return PromoteResult{}, domain.Wrap(domain.KindNotFound, err, "project %q not found", p.Project)
	}
	app, err := c.ApplicationForPackage(ctx, pkg)
	if err != nil {
		return PromoteResult{}, err
	}
	env, err := c.gw.GetEnvironmentByName(ctx, p.Env)
	if err != nil {
		return PromoteResult{}, domain.Wrap(domain.KindWrongEnvironment, err, "unknown environment %q", p.Env)
	}

	tiers, hosts, err := c.resolveTargets(ctx, p.Tiers, p.Hosts, env)
	if err != nil {
		return PromoteResult{}, err
	}

	appDepMap, err := c.FindAppDeployments(ctx, pkg, tiers, env)
	if err != nil {
		return PromoteResult{}, err
	}

	var remainingTiers []domain.Tier
	for _, tier := range tiers {
		ok, err := c.CheckPreviousEnvironment(ctx, pkg, tier.ID, p.Env, p.Force)
		if err != nil {
			return PromoteResult{}, err
		}
		if !ok {
			continue
		}
		if ad := appDepMap[tier.ID]; ad != nil && ad.PackageID == pkg.ID && ad.Status != domain.AppDeploymentInvalidated {
			continue
		}
		remainingTiers = append(remainingTiers, tier)
	}
	if len(remainingTiers) == 0 {
		return PromoteResult{}, domain.NewError(domain.KindPromotionGateFailure, "package %s-%s is not eligible for promotion to %q on any requested tier", pkg.Version, pkg.Revision, p.Env)
	}

	remainingTierIDs := map[int64]bool{}
	for _, t := range remainingTiers {
		remainingTierIDs[t.ID] = true
	}
	if hostOnly {
		filtered := hosts[:0:0]
		for _, h := range hosts {
			if remainingTierIDs[h.AppID] {
				filtered = append(filtered, h)
			}
		}
		hosts = filtered
	} else {
		hosts = hosts[:0:0]
		for _, tier := range remainingTiers {
			tierHosts, err := c.gw.ListHostsByTierEnv(ctx, tier.ID, env.ID)
			if err != nil {
				return PromoteResult{}, err
			}
			hosts = append(hosts, tierHosts...)
		}
	}

	c.emitEvent(ctx, p.User, "deploy", "promote", p.Project, fmt.Sprintf("%s-%s", pkg.Version, pkg.Revision), p.Env, tierNames(remainingTiers), hostNames(hosts))

	deployment, err := c.gw.CreateDeployment(ctx, domain.Deployment{
		PackageID:  pkg.ID,
		User:       p.User,
		DepType:    domain.DeployTypeDeploy,
		Status:     domain.DeploymentInProgress,
		DeclaredAt: time.Now().UTC(),
	})
	if err != nil {
		return PromoteResult{}, err
	}

	hostsByTier := GroupHostsByTier(hosts)
	result := PromoteResult{Deployment: deployment}
	current := 0
	total := len(hosts)

	for _, tier := range remainingTiers {
		tierHosts := hostsByTier[tier.ID]
		running, err := c.CheckForCurrentDeployment(ctx, tier.ID, env.ID, tierHosts)
		if err != nil {
			return PromoteResult{}, err
		}
		if running {
			continue
		}

		existingAD := appDepMap[tier.ID]
		if existingAD != nil && existingAD.Status == domain.AppDeploymentValidated {
			continue
		}

		ad, err := c.applyTier(ctx, deployment, tier, env, pkg, app.Name, project.ID, tierHosts, nil, p.User, true, p.Delay, progress, &current, total)
		if err != nil {
			return PromoteResult{}, err
		}
		result.AppDeployments = append(result.AppDeployments, ad)

		hds, err := c.gw.ListHostDeploymentsByDeployment(ctx, deployment.ID)
		if err != nil {
			return PromoteResult{}, err
		}
		result.HostDeployments = hds
	}

	deployment.Status = overallDeploymentStatus(result.AppDeployments)
	now := time.Now().UTC()
	deployment.RealizedAt = &now
	deployment, err = c.gw.UpdateDeployment(ctx, deployment)
	if err != nil {
		return PromoteResult{}, err
	}
	result.Deployment = deployment

	return result, nil
}

// resolveTargets resolves the tiers and hosts a request addresses, given
// either an explicit tier list or an explicit host list (the --hosts XOR
// --apptype CLI contract).
func (c *Controller) resolveTargets(ctx context.Context, tierNames, hostNames []string, env domain.Environment) ([]domain.Tier, []domain.Host, error) {
	if len(hostNames) > 0 {
		hosts := make([]domain.Host, 0, len(hostNames))
		for _, name := range hostNames {
			h, err := c.gw.GetHostByHostname(ctx, name)
			if err != nil {
				return nil, nil, domain.Wrap(domain.KindNotFound, err, "host %q not found", name)
			}
			hosts = append(hosts, h)
		}
		tiers, err := c.tiersForHosts(ctx, hostNames)
		if err != nil {
			return nil, nil, err
		}
		return tiers, hosts, nil
	}

	tiers, err := c.resolveTiers(ctx, tierNames)
	if err != nil {
		return nil, nil, err
	}
	var hosts []domain.Host
	for _, tier := range tiers {
		tierHosts, err := c.gw.ListHostsByTierEnv(ctx, tier.ID, env.ID)
		if err != nil {
			return nil, nil, err
		}
		hosts = append(hosts, tierHosts...)
	}
	return tiers, hosts, nil
}

func (c *Controller) emitEvent(ctx context.Context, actor, command, subcommand, project, pkg, env string, apptypes, hosts []string) {
	if c.notifier == nil {
		return
	}
	event := notify.Event{
		Actor:   actor,
		Action:  notify.Action{Command: command, Subcommand: subcommand},
		Project: project,
		Package: pkg,
		Target:  notify.Target{Env: env, AppTypes: apptypes, Hosts: hosts},
	}
	if err := c.notifier.Dispatch(ctx, event); err != nil {
		c.log.WithError(err).Warn("notification dispatch failed")
	}
}
