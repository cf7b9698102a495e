// Package storage defines the repository gateway: typed access to every
// entity in the data model, plus the specialized queries the deployment
// controller needs for promotion and rollback planning.
package storage

import (
	"context"
	"time"

	"github.com/taggeddeploy/tds/internal/domain"
)

// ProjectStore persists projects.
type ProjectStore interface {
	CreateProject(ctx context.Context, p domain.Project) (domain.Project, error)
	GetProject(ctx context.Context, id int64) (domain.Project, error)
	GetProjectByName(ctx context.Context, name string) (domain.Project, error)
	ListProjects(ctx context.Context) ([]domain.Project, error)
	DeleteProject(ctx context.Context, id int64) error
}

// ApplicationStore persists applications (package definitions).
type ApplicationStore interface {
	CreateApplication(ctx context.Context, a domain.Application) (domain.Application, error)
	GetApplication(ctx context.Context, id int64) (domain.Application, error)
	GetApplicationByName(ctx context.Context, name string) (domain.Application, error)
	ListApplications(ctx context.Context) ([]domain.Application, error)
	DeleteApplication(ctx context.Context, id int64) error
}

// PackageStore persists package artifacts and their ingest status.
type PackageStore interface {
	CreatePackage(ctx context.Context, p domain.Package) (domain.Package, error)
	GetPackage(ctx context.Context, id int64) (domain.Package, error)
	GetPackageByVersion(ctx context.Context, applicationID int64, version, revision string) (domain.Package, error)
	UpdatePackageStatus(ctx context.Context, id int64, status domain.PackageStatus) error
	ListPackagesByApplication(ctx context.Context, applicationID int64) ([]domain.Package, error)
}

// TierStore persists tiers (app targets).
type TierStore interface {
	CreateTier(ctx context.Context, t domain.Tier) (domain.Tier, error)
	GetTier(ctx context.Context, id int64) (domain.Tier, error)
	GetTierByName(ctx context.Context, name string) (domain.Tier, error)
	ListTiers(ctx context.Context) ([]domain.Tier, error)
}

// HostStore persists hosts.
type HostStore interface {
	CreateHost(ctx context.Context, h domain.Host) (domain.Host, error)
	GetHost(ctx context.Context, id int64) (domain.Host, error)
	GetHostByHostname(ctx context.Context, hostname string) (domain.Host, error)
	ListHostsByTier(ctx context.Context, tierID int64) ([]domain.Host, error)
	// ListHostsByTierEnv returns the hosts of tierID that also belong to
	// environmentID, ordered by hostname ascending (the mandated apply
	// order within a tier).
	ListHostsByTierEnv(ctx context.Context, tierID, environmentID int64) ([]domain.Host, error)
}

// EnvironmentStore persists the ordered promotion stages.
type EnvironmentStore interface {
	GetEnvironmentByName(ctx context.Context, env string) (domain.Environment, error)
	ListEnvironments(ctx context.Context) ([]domain.Environment, error)
}

// ProjectPackageStore persists the (project, application, tier) association.
type ProjectPackageStore interface {
	CreateProjectPackage(ctx context.Context, pp domain.ProjectPackage) (domain.ProjectPackage, error)
	// TierAssociated reports whether a tier is associable with an
	// application through some project.
	TierAssociated(ctx context.Context, projectID, applicationID, tierID int64) (bool, error)
	ListProjectPackages(ctx context.Context, projectID int64) ([]domain.ProjectPackage, error)
}

// DeploymentStore persists top-level Deployment rows.
type DeploymentStore interface {
	CreateDeployment(ctx context.Context, d domain.Deployment) (domain.Deployment, error)
	GetDeployment(ctx context.Context, id int64) (domain.Deployment, error)
	UpdateDeployment(ctx context.Context, d domain.Deployment) (domain.Deployment, error)
	// ListQueuedDeployments returns deployments with status=queued ordered
	// by declared_at ascending, for the installer daemon's poll loop.
	ListQueuedDeployments(ctx context.Context) ([]domain.Deployment, error)
}

// AppDeploymentStore persists tier-deployments.
type AppDeploymentStore interface {
	CreateAppDeployment(ctx context.Context, ad domain.AppDeployment) (domain.AppDeployment, error)
	GetAppDeployment(ctx context.Context, id int64) (domain.AppDeployment, error)
	UpdateAppDeployment(ctx context.Context, ad domain.AppDeployment) (domain.AppDeployment, error)
	ListAppDeploymentsByDeployment(ctx context.Context, deploymentID int64) ([]domain.AppDeployment, error)
	// MostRecentAppDeployment returns the most recent AppDeployment for
	// (tierID, environmentID) whose deployment's package equals packageID,
	// or ErrNotFound.
	MostRecentAppDeployment(ctx context.Context, tierID, environmentID, packageID int64) (domain.AppDeployment, error)
	// MostRecentAppDeploymentAnyPackage returns the most recent
	// AppDeployment for (tierID, environmentID) regardless of package,
	// used to discover "what is currently deployed here."
	MostRecentAppDeploymentAnyPackage(ctx context.Context, tierID, environmentID int64) (domain.AppDeployment, error)
	DeleteHostDeploymentsForAppDeployment(ctx context.Context, tierID, deploymentID int64) error
}

// HostDeploymentStore persists host-deployments.
type HostDeploymentStore interface {
	CreateHostDeployment(ctx context.Context, hd domain.HostDeployment) (domain.HostDeployment, error)
	GetHostDeployment(ctx context.Context, id int64) (domain.HostDeployment, error)
	UpdateHostDeployment(ctx context.Context, hd domain.HostDeployment) (domain.HostDeployment, error)
	ListHostDeploymentsByDeployment(ctx context.Context, deploymentID int64) ([]domain.HostDeployment, error)
	ListHostDeploymentsByHost(ctx context.Context, hostID int64) ([]domain.HostDeployment, error)
	// MostRecentHostDeployment returns the most recent HostDeployment for
	// hostID under deploymentID, or ErrNotFound.
	MostRecentHostDeployment(ctx context.Context, deploymentID, hostID int64) (domain.HostDeployment, error)
	DeleteHostDeploymentsForHostProject(ctx context.Context, hostID, projectID int64) error
}

// PlanningQueries are the specialized queries the controller's
// promote/rollback planners need.
type PlanningQueries interface {
	// LatestDeployedVersion returns the package currently live for an
	// application across all tiers (or a single tier when tierID > 0).
	LatestDeployedVersion(ctx context.Context, applicationID int64, environmentID int64, tierID int64) (domain.Package, error)
	// LatestValidatedDeployment returns the most recent validated
	// AppDeployment for (applicationID/tier, environment).
	LatestValidatedDeployment(ctx context.Context, tierID, environmentID int64) (domain.AppDeployment, error)
	// PreviousValidatedDeployment returns the most recent validated
	// AppDeployment strictly before the current one on this tier/env. Ties
	// on realized_at prefer the higher deployment_id.
	PreviousValidatedDeployment(ctx context.Context, tierID, environmentID int64, before time.Time, currentDeploymentID int64) (domain.AppDeployment, error)
}

// Gateway aggregates every typed store plus the transactional boundary. A
// single Gateway value backs one external request; WithTx wraps that
// request's writes in a single transaction committed at the controller's
// explicit call site.
type Gateway interface {
	ProjectStore
	ApplicationStore
	PackageStore
	TierStore
	HostStore
	EnvironmentStore
	ProjectPackageStore
	DeploymentStore
	AppDeploymentStore
	HostDeploymentStore
	PlanningQueries

	// WithTx runs fn with a Gateway bound to a single transaction. Writes
	// performed through the Gateway passed to fn are committed only if fn
	// returns nil; any error rolls the transaction back. Nested calls
	// reuse the same transaction.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Gateway) error) error

	// HealthCheck verifies connectivity with the underlying store.
	HealthCheck(ctx context.Context) error
}
