package installer

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/taggeddeploy/tds/internal/domain"
	"github.com/taggeddeploy/tds/pkg/metrics"
)

// execute drives one queued deployment to a terminal status. Any panic in
// the worker is caught here: the deployment is recorded failed and the
// daemon continues.
func (d *Daemon) execute(ctx context.Context, deployment domain.Deployment) {
	defer func() {
		if r := recover(); r != nil {
			d.log.WithField("deployment", deployment.ID).WithField("panic", r).Error("deployment worker panicked")
			d.markFailed(ctx, deployment)
		}
	}()

	deployment.Status = domain.DeploymentInProgress
	deployment, err := d.gw.UpdateDeployment(ctx, deployment)
	if err != nil {
		d.log.WithError(err).WithField("deployment", deployment.ID).Error("mark inprogress failed")
		return
	}

	pkg, err := d.gw.GetPackage(ctx, deployment.PackageID)
	if err != nil {
		d.log.WithError(err).WithField("deployment", deployment.ID).Error("load package failed")
		d.markFailed(ctx, deployment)
		return
	}
	app, err := d.gw.GetApplication(ctx, pkg.ApplicationID)
	if err != nil {
		d.log.WithError(err).WithField("deployment", deployment.ID).Error("load application failed")
		d.markFailed(ctx, deployment)
		return
	}

	appDeployments, err := d.gw.ListAppDeploymentsByDeployment(ctx, deployment.ID)
	if err != nil {
		d.log.WithError(err).WithField("deployment", deployment.ID).Error("load tier deployments failed")
		d.markFailed(ctx, deployment)
		return
	}

	allOK := true
	if len(appDeployments) > 0 {
		for _, ad := range appDeployments {
			ok, err := d.executeTier(ctx, deployment, ad, pkg, app.Name)
			if err != nil {
				d.log.WithError(err).WithField("deployment", deployment.ID).Error("tier execution failed")
				d.markFailed(ctx, deployment)
				return
			}
			if !ok {
				allOK = false
			}
		}
	} else {
		ok, err := d.executeBareHosts(ctx, deployment, pkg, app.Name)
		if err != nil {
			d.log.WithError(err).WithField("deployment", deployment.ID).Error("host execution failed")
			d.markFailed(ctx, deployment)
			return
		}
		allOK = ok
	}

	deployment.Status = domain.DeploymentComplete
	if !allOK {
		deployment.Status = domain.DeploymentIncomplete
	}
	now := d.now().UTC()
	deployment.RealizedAt = &now
	if _, err := d.gw.UpdateDeployment(ctx, deployment); err != nil {
		d.log.WithError(err).WithField("deployment", deployment.ID).Error("record terminal status failed")
	}
	d.log.WithField("deployment", deployment.ID).WithField("status", deployment.Status).Info("deployment finished")
}

// executeTier applies one AppDeployment: its tier's hosts in the same
// environment, hostname ascending, sequentially. Returns whether the tier
// rolled up complete.
func (d *Daemon) executeTier(ctx context.Context, deployment domain.Deployment, ad domain.AppDeployment, pkg domain.Package, appName string) (bool, error) {
	ad.Status = domain.AppDeploymentInProgress
	ad, err := d.gw.UpdateAppDeployment(ctx, ad)
	if err != nil {
		return false, err
	}

	hosts, err := d.gw.ListHostsByTierEnv(ctx, ad.AppID, ad.EnvironmentID)
	if err != nil {
		return false, err
	}

	var hds []domain.HostDeployment
	for _, host := range hosts {
		hd, err := d.applyHost(ctx, deployment, host, pkg, appName)
		if err != nil {
			return false, err
		}
		hds = append(hds, hd)
	}

	// Roll up: any failed host makes the tier incomplete.
	ad.Status = domain.AppDeploymentComplete
	for _, hd := range hds {
		if hd.Status != domain.HostDeploymentOK {
			ad.Status = domain.AppDeploymentIncomplete
			break
		}
	}
	now := d.now().UTC()
	ad.RealizedAt = &now
	if _, err := d.gw.UpdateAppDeployment(ctx, ad); err != nil {
		return false, err
	}
	return ad.Status == domain.AppDeploymentComplete, nil
}

// executeBareHosts applies a deployment that carries HostDeployments but
// no tier projection, iterating them in hostname order.
func (d *Daemon) executeBareHosts(ctx context.Context, deployment domain.Deployment, pkg domain.Package, appName string) (bool, error) {
	hds, err := d.gw.ListHostDeploymentsByDeployment(ctx, deployment.ID)
	if err != nil {
		return false, err
	}

	type hostedHD struct {
		hd   domain.HostDeployment
		host domain.Host
	}
	ordered := make([]hostedHD, 0, len(hds))
	for _, hd := range hds {
		host, err := d.gw.GetHost(ctx, hd.HostID)
		if err != nil {
			return false, err
		}
		ordered = append(ordered, hostedHD{hd: hd, host: host})
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].host.Hostname < ordered[j].host.Hostname })

	allOK := true
	for _, item := range ordered {
		hd, err := d.applyHost(ctx, deployment, item.host, pkg, appName)
		if err != nil {
			return false, err
		}
		if hd.Status != domain.HostDeploymentOK {
			allOK = false
		}
	}
	return allOK, nil
}

// applyHost drives the deploy strategy for one host, skipping hosts whose
// HostDeployment is already ok, and persists the outcome immediately so a
// crash mid-deployment leaves per-host rows intact.
func (d *Daemon) applyHost(ctx context.Context, deployment domain.Deployment, host domain.Host, pkg domain.Package, appName string) (domain.HostDeployment, error) {
	prior, err := d.gw.MostRecentHostDeployment(ctx, deployment.ID, host.ID)
	hasPrior := err == nil
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.HostDeployment{}, err
	}
	if hasPrior && prior.Status == domain.HostDeploymentOK {
		return prior, nil
	}

	var hd domain.HostDeployment
	if hasPrior {
		prior.Status = domain.HostDeploymentInProgress
		prior.PackageID = pkg.ID
		hd, err = d.gw.UpdateHostDeployment(ctx, prior)
	} else {
		hd, err = d.gw.CreateHostDeployment(ctx, domain.HostDeployment{
			DeploymentID: deployment.ID,
			HostID:       host.ID,
			PackageID:    pkg.ID,
			User:         deployment.User,
			Status:       domain.HostDeploymentInProgress,
		})
	}
	if err != nil {
		return domain.HostDeployment{}, err
	}

	started := time.Now()
	ok, diag, strategyErr := d.strategy.DeployToHost(ctx, host.Hostname, appName, pkg.Version, d.retryBudget)
	if strategyErr != nil && diag == "" {
		diag = strategyErr.Error()
	}
	hd.Status = domain.HostDeploymentFailed
	if ok {
		hd.Status = domain.HostDeploymentOK
	}
	hd.DeployResult = diag
	hd, err = d.gw.UpdateHostDeployment(ctx, hd)
	if err != nil {
		return domain.HostDeployment{}, err
	}

	metrics.HostDeploymentsTotal.WithLabelValues(string(hd.Status)).Inc()
	metrics.HostDeployDuration.WithLabelValues(string(hd.Status)).Observe(time.Since(started).Seconds())
	d.log.WithField("host", host.Hostname).
		WithField("host_state", host.State).
		WithField("deployment", deployment.ID).
		WithField("ok", ok).
		Info("applied host deployment")
	return hd, nil
}
