package controller

import (
	"context"
	"time"

	"github.com/taggeddeploy/tds/internal/domain"
)

// RedeployParams carries a redeploy request: re-run an existing
// Deployment, retrying only the tiers/hosts that did not already succeed.
type RedeployParams struct {
	DeploymentID int64
	Tiers        []string
	Hosts        []string
	User         string
	Delay        time.Duration

	Progress ProgressFunc
}

// Redeploy re-runs an existing Deployment, skipping tiers already
// validated and hosts already ok.
func (c *Controller) Redeploy(ctx context.Context, p RedeployParams) (PromoteResult, error) {
	progress := p.Progress
	if progress == nil {
		progress = noopProgress
	}

	deployment, err := c.gw.GetDeployment(ctx, p.DeploymentID)
	if err != nil {
		return PromoteResult{}, domain.Wrap(domain.KindNotFound, err, "deployment %d not found", p.DeploymentID)
	}
	pkg, err := c.gw.GetPackage(ctx, deployment.PackageID)
	if err != nil {
		return PromoteResult{}, err
	}
	app, err := c.ApplicationForPackage(ctx, pkg)
	if err != nil {
		return PromoteResult{}, err
	}

	existingADs, err := c.gw.ListAppDeploymentsByDeployment(ctx, deployment.ID)
	if err != nil {
		return PromoteResult{}, err
	}
	if len(p.Tiers) > 0 {
		wanted := map[string]bool{}
		for _, name := range p.Tiers {
			wanted[name] = true
		}
		filtered := existingADs[:0:0]
		for _, ad := range existingADs {
			tier, err := c.gw.GetTier(ctx, ad.AppID)
			if err != nil {
				return PromoteResult{}, err
			}
			if wanted[tier.Name] {
				filtered = append(filtered, ad)
			}
		}
		existingADs = filtered
	}
	if len(existingADs) == 0 {
		return PromoteResult{}, domain.NewError(domain.KindNothingToAct, "deployment %d has no tier deployments matching the requested scope", p.DeploymentID)
	}

	result := PromoteResult{Deployment: deployment}
	current := 0
	total := 0
	hostsByAD := map[int64][]domain.Host{}
	for _, ad := range existingADs {
		if ad.Status == domain.AppDeploymentValidated {
			continue
		}
		hosts, err := c.hostsForRedeploy(ctx, ad, p.Hosts)
		if err != nil {
			return PromoteResult{}, err
		}
		hostsByAD[ad.ID] = hosts
		total += len(hosts)
	}

	for _, ad := range existingADs {
		if ad.Status == domain.AppDeploymentValidated {
			continue
		}
		tier, err := c.gw.GetTier(ctx, ad.AppID)
		if err != nil {
			return PromoteResult{}, err
		}
		env, err := c.resolveEnvironmentByID(ctx, ad.EnvironmentID)
		if err != nil {
			return PromoteResult{}, err
		}

		hosts := hostsByAD[ad.ID]
		adCopy := ad
		// deleteObsolete is false: redeploy reuses the existing Deployment's
		// own rows rather than promote's "clear obsolete rows" step, so the
		// project id applyTier would otherwise need is never read.
		updated, err := c.applyTier(ctx, deployment, tier, env, pkg, app.Name, 0, hosts, &adCopy, p.User, false, p.Delay, progress, &current, total)
		if err != nil {
			return PromoteResult{}, err
		}
		result.AppDeployments = append(result.AppDeployments, updated)

		hds, err := c.gw.ListHostDeploymentsByDeployment(ctx, deployment.ID)
		if err != nil {
			return PromoteResult{}, err
		}
		result.HostDeployments = hds
	}

	allADs, err := c.gw.ListAppDeploymentsByDeployment(ctx, deployment.ID)
	if err != nil {
		return PromoteResult{}, err
	}
	deployment.Status = overallDeploymentStatus(allADs)
	now := time.Now().UTC()
	deployment.RealizedAt = &now
	deployment, err = c.gw.UpdateDeployment(ctx, deployment)
	if err != nil {
		return PromoteResult{}, err
	}
	result.Deployment = deployment

	return result, nil
}

// hostsForRedeploy resolves the hosts a tier's redeploy should target:
// every host in the tier/environment, optionally narrowed to an explicit
// host list.
func (c *Controller) hostsForRedeploy(ctx context.Context, ad domain.AppDeployment, wantHosts []string) ([]domain.Host, error) {
	hosts, err := c.gw.ListHostsByTierEnv(ctx, ad.AppID, ad.EnvironmentID)
	if err != nil {
		return nil, err
	}
	if len(wantHosts) == 0 {
		return GroupHostsByTier(hosts)[ad.AppID], nil
	}
	want := map[string]bool{}
	for _, h := range wantHosts {
		want[h] = true
	}
	filtered := hosts[:0:0]
	for _, h := range hosts {
		if want[h.Hostname] {
			filtered = append(filtered, h)
		}
	}
	return GroupHostsByTier(filtered)[ad.AppID], nil
}
