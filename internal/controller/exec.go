package controller

import (
	"context"
	"errors"
	"time"

	"github.com/taggeddeploy/tds/internal/domain"
)

// applyTier drives one tier's per-host execution loop: sequential,
// hostname-ascending (hosts is expected pre-sorted by GroupHostsByTier),
// committing each HostDeployment immediately so a crash leaves per-host
// rows intact. existingAD, when non-nil, is reused
// (redeploy/rollback-onto-existing-Deployment); otherwise a new
// AppDeployment is created. deleteObsolete mirrors promote's "delete
// obsolete HostDeployments for this host + project" step; redeploy and
// rollback-by-host pass false since they operate against the existing
// Deployment's own rows.
func (c *Controller) applyTier(
	ctx context.Context,
	deployment domain.Deployment,
	tier domain.Tier,
	env domain.Environment,
	pkg domain.Package,
	appName string,
	projectID int64,
	hosts []domain.Host,
	existingAD *domain.AppDeployment,
	user string,
	deleteObsolete bool,
	delay time.Duration,
	progress ProgressFunc,
	current *int,
	total int,
) (domain.AppDeployment, error) {
	var ad domain.AppDeployment
	if existingAD != nil {
		ad = *existingAD
		ad.Status = domain.AppDeploymentInProgress
		ad.PackageID = pkg.ID
		updated, err := c.gw.UpdateAppDeployment(ctx, ad)
		if err != nil {
			return domain.AppDeployment{}, err
		}
		ad = updated
	} else {
		created, err := c.gw.CreateAppDeployment(ctx, domain.AppDeployment{
			DeploymentID:  deployment.ID,
			AppID:         tier.ID,
			EnvironmentID: env.ID,
			PackageID:     pkg.ID,
			User:          user,
			Status:        domain.AppDeploymentInProgress,
		})
		if err != nil {
			return domain.AppDeployment{}, err
		}
		ad = created
	}

	var tierHDs []domain.HostDeployment
	for _, host := range hosts {
		*current++

		prior, err := c.gw.MostRecentHostDeployment(ctx, deployment.ID, host.ID)
		hasPrior := err == nil
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return domain.AppDeployment{}, err
		}
		if hasPrior && prior.Status == domain.HostDeploymentOK {
			tierHDs = append(tierHDs, prior)
			progress(*current, total, HostResult{Host: host.Hostname, TierID: tier.ID, OK: true, Diagnostic: "already ok"})
			continue
		}

		if deleteObsolete {
			if err := c.gw.DeleteHostDeploymentsForHostProject(ctx, host.ID, projectID); err != nil {
				return domain.AppDeployment{}, err
			}
			hasPrior = false
		}

		var hd domain.HostDeployment
		if hasPrior {
			prior.Status = domain.HostDeploymentInProgress
			prior.PackageID = pkg.ID
			hd, err = c.gw.UpdateHostDeployment(ctx, prior)
		} else {
			hd, err = c.gw.CreateHostDeployment(ctx, domain.HostDeployment{
				DeploymentID: deployment.ID,
				HostID:       host.ID,
				PackageID:    pkg.ID,
				User:         user,
				Status:       domain.HostDeploymentInProgress,
			})
		}
		if err != nil {
			return domain.AppDeployment{}, err
		}

		ok, diag, strategyErr := c.strategy.DeployToHost(ctx, host.Hostname, appName, pkg.Version, c.retryBudget)
		if strategyErr != nil && diag == "" {
			diag = strategyErr.Error()
		}
		hd.Status = domain.HostDeploymentFailed
		if ok {
			hd.Status = domain.HostDeploymentOK
		}
		hd.DeployResult = diag
		hd, err = c.gw.UpdateHostDeployment(ctx, hd)
		if err != nil {
			return domain.AppDeployment{}, err
		}
		tierHDs = append(tierHDs, hd)

		c.log.WithField("host", host.Hostname).WithField("tier", tier.Name).WithField("ok", ok).Info("applied host deployment")
		progress(*current, total, HostResult{Host: host.Hostname, TierID: tier.ID, OK: ok, Diagnostic: diag})

		sleepBetweenHosts(delay)
	}

	ad.Status = rollupAppDeploymentStatus(tierHDs)
	now := time.Now().UTC()
	ad.RealizedAt = &now
	return c.gw.UpdateAppDeployment(ctx, ad)
}

// overallDeploymentStatus rolls up a Deployment's status from its
// AppDeployments: complete iff every tier is complete or validated,
// otherwise incomplete.
func overallDeploymentStatus(appDeployments []domain.AppDeployment) domain.DeploymentStatus {
	if len(appDeployments) == 0 {
		return domain.DeploymentIncomplete
	}
	for _, ad := range appDeployments {
		if ad.Status != domain.AppDeploymentComplete && ad.Status != domain.AppDeploymentValidated {
			return domain.DeploymentIncomplete
		}
	}
	return domain.DeploymentComplete
}

func tierNames(tiers []domain.Tier) []string {
	out := make([]string, 0, len(tiers))
	for _, t := range tiers {
		out = append(out, t.Name)
	}
	return out
}

func hostNames(hosts []domain.Host) []string {
	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		out = append(out, h.Hostname)
	}
	return out
}
