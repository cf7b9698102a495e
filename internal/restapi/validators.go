package restapi

import (
	"context"
	"fmt"

	"github.com/taggeddeploy/tds/internal/domain"
	"github.com/taggeddeploy/tds/internal/storage"
)

// Validators implements the per-resource invariant rules guarding writes
// to tier- and host-deployments.
type Validators struct {
	gw storage.Gateway
}

// NewValidators builds a Validators bound to gw.
func NewValidators(gw storage.Gateway) *Validators {
	return &Validators{gw: gw}
}

// CreateAppDeployment validates and creates a tier-deployment, then
// auto-materializes one pending host-deployment per host in (tier, env).
func (v *Validators) CreateAppDeployment(ctx context.Context, ad domain.AppDeployment) (domain.AppDeployment, error) {
	if ad.Status != "" && ad.Status != domain.AppDeploymentPending {
		return domain.AppDeployment{}, domain.NewError(domain.KindInvalidInput, "new tier-deployment rows must default to status=pending, got %q", ad.Status)
	}
	ad.Status = domain.AppDeploymentPending

	if _, err := v.gw.GetTier(ctx, ad.AppID); err != nil {
		return domain.AppDeployment{}, domain.Wrap(domain.KindInvalidInput, err, "tier_id %d does not resolve", ad.AppID)
	}
	if _, err := v.resolveEnvironment(ctx, ad.EnvironmentID); err != nil {
		return domain.AppDeployment{}, err
	}
	if _, err := v.gw.GetPackage(ctx, ad.PackageID); err != nil {
		return domain.AppDeployment{}, domain.Wrap(domain.KindInvalidInput, err, "package_id %d does not resolve", ad.PackageID)
	}
	deployment, err := v.gw.GetDeployment(ctx, ad.DeploymentID)
	if err != nil {
		return domain.AppDeployment{}, domain.Wrap(domain.KindInvalidInput, err, "deployment_id %d does not resolve", ad.DeploymentID)
	}

	if err := v.checkEnvironmentConsistency(ctx, deployment.ID, ad.EnvironmentID, "tier_deployment"); err != nil {
		return domain.AppDeployment{}, err
	}

	// The tier-deployment row and its materialized host rows land together
	// or not at all; a failure mid-materialization must not leave a tier
	// projection with a partial host projection.
	var created domain.AppDeployment
	err = v.gw.WithTx(ctx, func(ctx context.Context, tx storage.Gateway) error {
		row, err := tx.CreateAppDeployment(ctx, ad)
		if err != nil {
			return err
		}
		if err := materializeHostDeployments(ctx, tx, row); err != nil {
			return err
		}
		created = row
		return nil
	})
	if err != nil {
		return domain.AppDeployment{}, err
	}
	return created, nil
}

// UpdateAppDeployment validates a tier-deployment update. Changes to the
// owning Deployment are forbidden unless its status is pending. Changing
// tier/environment/package re-materializes host-deployments.
func (v *Validators) UpdateAppDeployment(ctx context.Context, updated domain.AppDeployment) (domain.AppDeployment, error) {
	existing, err := v.gw.GetAppDeployment(ctx, updated.ID)
	if err != nil {
		return domain.AppDeployment{}, domain.Wrap(domain.KindNotFound, err, "tier-deployment %d not found", updated.ID)
	}

	deployment, err := v.gw.GetDeployment(ctx, existing.DeploymentID)
	if err != nil {
		return domain.AppDeployment{}, domain.Wrap(domain.KindInvalidInput, err, "deployment_id %d does not resolve", existing.DeploymentID)
	}
	changesOwner := updated.DeploymentID != 0 && updated.DeploymentID != existing.DeploymentID
	if changesOwner && deployment.Status != domain.DeploymentPending {
		return domain.AppDeployment{}, domain.NewError(domain.KindInvalidInput, "cannot reassign tier-deployment %d: owning deployment %d is not pending", existing.ID, deployment.ID)
	}

	rematerialize := updated.AppID != 0 && updated.AppID != existing.AppID ||
		updated.EnvironmentID != 0 && updated.EnvironmentID != existing.EnvironmentID ||
		updated.PackageID != 0 && updated.PackageID != existing.PackageID

	merged := mergeAppDeployment(existing, updated)

	if err := v.checkEnvironmentConsistency(ctx, merged.DeploymentID, merged.EnvironmentID, "tier_deployment"); err != nil {
		return domain.AppDeployment{}, err
	}

	// The update and any delete-and-rematerialize of the host rows commit
	// as one unit; a partial rematerialization would leave the tier
	// projection out of step with its hosts.
	var saved domain.AppDeployment
	err = v.gw.WithTx(ctx, func(ctx context.Context, tx storage.Gateway) error {
		row, err := tx.UpdateAppDeployment(ctx, merged)
		if err != nil {
			return err
		}
		if rematerialize {
			if err := tx.DeleteHostDeploymentsForAppDeployment(ctx, existing.AppID, existing.DeploymentID); err != nil {
				return err
			}
			if err := materializeHostDeployments(ctx, tx, row); err != nil {
				return err
			}
		}
		saved = row
		return nil
	})
	if err != nil {
		return domain.AppDeployment{}, err
	}
	return saved, nil
}

// CreateHostDeployment validates and creates a host-deployment.
func (v *Validators) CreateHostDeployment(ctx context.Context, hd domain.HostDeployment) (domain.HostDeployment, error) {
	if hd.Status != "" && hd.Status != domain.HostDeploymentPending {
		return domain.HostDeployment{}, domain.NewError(domain.KindInvalidInput, "new host-deployment rows must default to status=pending, got %q", hd.Status)
	}
	hd.Status = domain.HostDeploymentPending

	host, err := v.gw.GetHost(ctx, hd.HostID)
	if err != nil {
		return domain.HostDeployment{}, domain.Wrap(domain.KindInvalidInput, err, "host_id %d does not resolve", hd.HostID)
	}
	if _, err := v.gw.GetPackage(ctx, hd.PackageID); err != nil {
		return domain.HostDeployment{}, domain.Wrap(domain.KindInvalidInput, err, "package_id %d does not resolve", hd.PackageID)
	}
	if _, err := v.gw.GetDeployment(ctx, hd.DeploymentID); err != nil {
		return domain.HostDeployment{}, domain.Wrap(domain.KindInvalidInput, err, "deployment_id %d does not resolve", hd.DeploymentID)
	}

	if err := v.checkEnvironmentConsistency(ctx, hd.DeploymentID, host.EnvironmentID, "host_deployment"); err != nil {
		return domain.HostDeployment{}, err
	}

	return v.gw.CreateHostDeployment(ctx, hd)
}

// UpdateHostDeployment validates a host-deployment update, forbidding
// changes to the owning Deployment unless it is pending.
func (v *Validators) UpdateHostDeployment(ctx context.Context, updated domain.HostDeployment) (domain.HostDeployment, error) {
	existing, err := v.gw.GetHostDeployment(ctx, updated.ID)
	if err != nil {
		return domain.HostDeployment{}, domain.Wrap(domain.KindNotFound, err, "host-deployment %d not found", updated.ID)
	}
	deployment, err := v.gw.GetDeployment(ctx, existing.DeploymentID)
	if err != nil {
		return domain.HostDeployment{}, domain.Wrap(domain.KindInvalidInput, err, "deployment_id %d does not resolve", existing.DeploymentID)
	}
	changesOwner := updated.DeploymentID != 0 && updated.DeploymentID != existing.DeploymentID
	if changesOwner && deployment.Status != domain.DeploymentPending {
		return domain.HostDeployment{}, domain.NewError(domain.KindInvalidInput, "cannot reassign host-deployment %d: owning deployment %d is not pending", existing.ID, deployment.ID)
	}
	merged := mergeHostDeployment(existing, updated)
	return v.gw.UpdateHostDeployment(ctx, merged)
}

// checkEnvironmentConsistency enforces that every AppDeployment and
// HostDeployment sharing a Deployment must resolve to the same
// Environment. candidateEnv is the environment the row being written would
// carry; peerKind names the resource kind being written, for the error
// message.
func (v *Validators) checkEnvironmentConsistency(ctx context.Context, deploymentID, candidateEnv int64, peerKind string) error {
	appDeps, err := v.gw.ListAppDeploymentsByDeployment(ctx, deploymentID)
	if err != nil {
		return err
	}
	for _, peer := range appDeps {
		if peer.EnvironmentID != candidateEnv {
			return domain.NewError(domain.KindInvariantViolation, "409 conflict: %s would set environment %d but peer tier-deployment %d under deployment %d is environment %d", peerKind, candidateEnv, peer.ID, deploymentID, peer.EnvironmentID)
		}
	}
	hostDeps, err := v.gw.ListHostDeploymentsByDeployment(ctx, deploymentID)
	if err != nil {
		return err
	}
	for _, peer := range hostDeps {
		host, err := v.gw.GetHost(ctx, peer.HostID)
		if err != nil {
			continue
		}
		if host.EnvironmentID != candidateEnv {
			return domain.NewError(domain.KindInvariantViolation, "409 conflict: %s would set environment %d but peer host-deployment %d under deployment %d is environment %d", peerKind, candidateEnv, peer.ID, deploymentID, host.EnvironmentID)
		}
	}
	return nil
}

// materializeHostDeployments creates one pending host-deployment per host
// in ad's (tier, environment), all carrying ad's package. It writes through
// the transaction-bound gateway of the enclosing WithTx.
func materializeHostDeployments(ctx context.Context, tx storage.Gateway, ad domain.AppDeployment) error {
	hosts, err := tx.ListHostsByTierEnv(ctx, ad.AppID, ad.EnvironmentID)
	if err != nil {
		return err
	}
	for _, h := range hosts {
		_, err := tx.CreateHostDeployment(ctx, domain.HostDeployment{
			DeploymentID: ad.DeploymentID,
			HostID:       h.ID,
			PackageID:    ad.PackageID,
			User:         ad.User,
			Status:       domain.HostDeploymentPending,
		})
		if err != nil {
			return fmt.Errorf("materialize host-deployment for host %d: %w", h.ID, err)
		}
	}
	return nil
}

func (v *Validators) resolveEnvironment(ctx context.Context, environmentID int64) (domain.Environment, error) {
	envs, err := v.gw.ListEnvironments(ctx)
	if err != nil {
		return domain.Environment{}, err
	}
	for _, e := range envs {
		if e.ID == environmentID {
			return e, nil
		}
	}
	return domain.Environment{}, domain.NewError(domain.KindInvalidInput, "environment_id %d does not resolve", environmentID)
}

func mergeAppDeployment(existing, updated domain.AppDeployment) domain.AppDeployment {
	merged := existing
	if updated.AppID != 0 {
		merged.AppID = updated.AppID
	}
	if updated.EnvironmentID != 0 {
		merged.EnvironmentID = updated.EnvironmentID
	}
	if updated.PackageID != 0 {
		merged.PackageID = updated.PackageID
	}
	if updated.Status != "" {
		merged.Status = updated.Status
	}
	if updated.User != "" {
		merged.User = updated.User
	}
	if updated.RealizedAt != nil {
		merged.RealizedAt = updated.RealizedAt
	}
	return merged
}

func mergeHostDeployment(existing, updated domain.HostDeployment) domain.HostDeployment {
	merged := existing
	if updated.HostID != 0 {
		merged.HostID = updated.HostID
	}
	if updated.PackageID != 0 {
		merged.PackageID = updated.PackageID
	}
	if updated.Status != "" {
		merged.Status = updated.Status
	}
	if updated.User != "" {
		merged.User = updated.User
	}
	if updated.DeployResult != "" {
		merged.DeployResult = updated.DeployResult
	}
	return merged
}
