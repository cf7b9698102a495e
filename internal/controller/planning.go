package controller

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/taggeddeploy/tds/internal/domain"
)

// ResolveParams carries the subset of a request relevant to package
// resolution: an explicit version pins the package; its absence triggers
// the latest-deployed-version lookup across the targeted tiers or hosts.
type ResolveParams struct {
	Project  string
	Tiers    []string
	Hosts    []string
	Version  string
	Env      string
	HostOnly bool
}

// ResolvePackage resolves the package a request targets: an explicit
// version pins it, otherwise the latest deployed version across the
// targeted tiers (or hosts) is derived.
func (c *Controller) ResolvePackage(ctx context.Context, p ResolveParams) (domain.Package, error) {
	project, err := c.gw.GetProjectByName(ctx, p.Project)
	if err != nil {
		return domain.Package{}, domain.Wrap(domain.KindNotFound, err, "project %q not found", p.Project)
	}

	tiers, err := c.resolveTiers(ctx, p.Tiers)
	if err != nil {
		return domain.Package{}, err
	}
	if p.HostOnly {
		hostTiers, err := c.tiersForHosts(ctx, p.Hosts)
		if err != nil {
			return domain.Package{}, err
		}
		tiers = hostTiers
	}
	if len(tiers) == 0 {
		return domain.Package{}, domain.NewError(domain.KindNothingToAct, "no tiers resolved for project %q", p.Project)
	}

	applicationID, err := c.resolveApplication(ctx, project.ID, tiers)
	if err != nil {
		return domain.Package{}, err
	}

	if p.Version != "" {
		return c.resolvePackageByVersion(ctx, applicationID, p.Version)
	}

	env, err := c.gw.GetEnvironmentByName(ctx, p.Env)
	if err != nil {
		return domain.Package{}, domain.Wrap(domain.KindWrongEnvironment, err, "unknown environment %q", p.Env)
	}

	var resolved domain.Package
	found := false
	for _, tier := range tiers {
		tierID := int64(0)
		if !p.HostOnly {
			tierID = tier.ID
		}
		pkg, err := c.gw.LatestDeployedVersion(ctx, applicationID, env.ID, tierID)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return domain.Package{}, err
		}
		if !found {
			resolved, found = pkg, true
			continue
		}
		if pkg.ID != resolved.ID {
			return domain.Package{}, domain.NewError(domain.KindAmbiguousVersion, "tiers disagree on the currently deployed version for application %d in %q", applicationID, p.Env)
		}
	}
	if !found {
		return domain.Package{}, domain.NewError(domain.KindNotFound, "no deployed version found for application %d in %q", applicationID, p.Env)
	}
	return resolved, nil
}

// resolvePackageByVersion loads a package by (application, version). When
// several packages share the version, the one with the highest Package.ID
// (creation order) wins; neither revision strings nor version strings are
// compared.
func (c *Controller) resolvePackageByVersion(ctx context.Context, applicationID int64, version string) (domain.Package, error) {
	pkg, err := c.gw.GetPackageByVersion(ctx, applicationID, version, "")
	if err == nil {
		return pkg, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Package{}, err
	}
	pkgs, err := c.gw.ListPackagesByApplication(ctx, applicationID)
	if err != nil {
		return domain.Package{}, err
	}
	var best domain.Package
	found := false
	for _, p := range pkgs {
		if p.Version != version {
			continue
		}
		if !found || p.ID > best.ID {
			best, found = p, true
		}
	}
	if !found {
		return domain.Package{}, domain.NewError(domain.KindNotFound, "package %s for application %d not found", version, applicationID)
	}
	return best, nil
}

// resolveEnvironmentByID looks up an environment by its row id; the
// EnvironmentStore only exposes lookup by name, so this scans the (short,
// rarely-changing) environment list.
func (c *Controller) resolveEnvironmentByID(ctx context.Context, id int64) (domain.Environment, error) {
	envs, err := c.gw.ListEnvironments(ctx)
	if err != nil {
		return domain.Environment{}, err
	}
	for _, e := range envs {
		if e.ID == id {
			return e, nil
		}
	}
	return domain.Environment{}, domain.NewError(domain.KindNotFound, "environment id %d not found", id)
}

func (c *Controller) resolveTiers(ctx context.Context, names []string) ([]domain.Tier, error) {
	tiers := make([]domain.Tier, 0, len(names))
	for _, name := range names {
		t, err := c.gw.GetTierByName(ctx, name)
		if err != nil {
			return nil, domain.Wrap(domain.KindNotFound, err, "tier %q not found", name)
		}
		tiers = append(tiers, t)
	}
	return tiers, nil
}

func (c *Controller) tiersForHosts(ctx context.Context, hostnames []string) ([]domain.Tier, error) {
	seen := map[int64]domain.Tier{}
	for _, name := range hostnames {
		h, err := c.gw.GetHostByHostname(ctx, name)
		if err != nil {
			return nil, domain.Wrap(domain.KindNotFound, err, "host %q not found", name)
		}
		if _, ok := seen[h.AppID]; !ok {
			t, err := c.gw.GetTier(ctx, h.AppID)
			if err != nil {
				return nil, err
			}
			seen[h.AppID] = t
		}
	}
	out := make([]domain.Tier, 0, len(seen))
	for _, t := range seen {
		out = append(out, t)
	}
	return out, nil
}

// resolveApplication derives the Application ID a project deploys to the
// given tiers via the ProjectPackage association: a tier can belong to a
// (project, application) only if a ProjectPackage row exists.
func (c *Controller) resolveApplication(ctx context.Context, projectID int64, tiers []domain.Tier) (int64, error) {
	pps, err := c.gw.ListProjectPackages(ctx, projectID)
	if err != nil {
		return 0, err
	}
	byTier := map[int64]int64{}
	for _, pp := range pps {
		byTier[pp.AppID] = pp.PkgDefID
	}
	var applicationID int64
	found := false
	for _, tier := range tiers {
		appID, ok := byTier[tier.ID]
		if !ok {
			return 0, domain.NewError(domain.KindInvariantViolation, "tier %q is not associated with the project via any ProjectPackage row", tier.Name)
		}
		if !found {
			applicationID, found = appID, true
			continue
		}
		if appID != applicationID {
			return 0, domain.NewError(domain.KindAmbiguousVersion, "tiers map to different applications within project")
		}
	}
	if !found {
		return 0, domain.NewError(domain.KindNothingToAct, "no tiers to resolve an application from")
	}
	return applicationID, nil
}

// ApplicationForPackage loads the Application owning pkg, used by the
// per-operation planners to learn the application name the deploy
// strategy addresses hosts with.
func (c *Controller) ApplicationForPackage(ctx context.Context, pkg domain.Package) (domain.Application, error) {
	return c.gw.GetApplication(ctx, pkg.ApplicationID)
}

// FindAppDeployments returns, for each tier, the most recent
// AppDeployment in env whose deployment's package equals pkg, else nil.
func (c *Controller) FindAppDeployments(ctx context.Context, pkg domain.Package, tiers []domain.Tier, env domain.Environment) (map[int64]*domain.AppDeployment, error) {
	out := make(map[int64]*domain.AppDeployment, len(tiers))
	for _, tier := range tiers {
		ad, err := c.gw.MostRecentAppDeployment(ctx, tier.ID, env.ID, pkg.ID)
		if errors.Is(err, domain.ErrNotFound) {
			out[tier.ID] = nil
			continue
		}
		if err != nil {
			return nil, err
		}
		adCopy := ad
		out[tier.ID] = &adCopy
	}
	return out, nil
}

// GroupHostsByTier buckets hosts by their tier, each bucket sorted by
// hostname ascending.
func GroupHostsByTier(hosts []domain.Host) map[int64][]domain.Host {
	out := map[int64][]domain.Host{}
	for _, h := range hosts {
		out[h.AppID] = append(out[h.AppID], h)
	}
	for tierID, hs := range out {
		sorted := append([]domain.Host(nil), hs...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Hostname < sorted[j].Hostname })
		out[tierID] = sorted
	}
	return out
}

// CheckPreviousEnvironment reports whether pkg may be promoted into env
// on this tier: always for dev or force, otherwise only when the latest
// deployment of pkg in the previous environment is a validated deploy.
func (c *Controller) CheckPreviousEnvironment(ctx context.Context, pkg domain.Package, tierID int64, env string, force bool) (bool, error) {
	if env == "dev" || force {
		return true, nil
	}
	prevName, err := domain.PrevEnv(env)
	if err != nil {
		return false, err
	}
	prevEnv, err := c.gw.GetEnvironmentByName(ctx, prevName)
	if err != nil {
		return false, domain.Wrap(domain.KindWrongEnvironment, err, "previous environment %q not found", prevName)
	}
	ad, err := c.gw.MostRecentAppDeployment(ctx, tierID, prevEnv.ID, pkg.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if ad.Status != domain.AppDeploymentValidated {
		return false, nil
	}
	dep, err := c.gw.GetDeployment(ctx, ad.DeploymentID)
	if err != nil {
		return false, err
	}
	return dep.DepType == domain.DeployTypeDeploy, nil
}

// CheckForCurrentDeployment reports whether another deployment for this
// tier (or any of these hosts) is inprogress with a realized time within
// the last hour (or not yet realized). The answer covers the whole tier:
// a running deployment on one of the hosts reports true just as a
// tier-level one does, and callers then skip every host of the tier, not
// only the overlapping ones.
func (c *Controller) CheckForCurrentDeployment(ctx context.Context, tierID, envID int64, hosts []domain.Host) (bool, error) {
	ad, err := c.gw.MostRecentAppDeploymentAnyPackage(ctx, tierID, envID)
	if err == nil && isRecentlyRunning(ad.Status == domain.AppDeploymentInProgress, ad.RealizedAt) {
		return true, nil
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return false, err
	}

	for _, h := range hosts {
		hds, err := c.gw.ListHostDeploymentsByHost(ctx, h.ID)
		if err != nil {
			return false, err
		}
		if len(hds) == 0 {
			continue
		}
		last := hds[len(hds)-1]
		if last.Status == domain.HostDeploymentInProgress {
			dep, err := c.gw.GetDeployment(ctx, last.DeploymentID)
			if err != nil {
				return false, err
			}
			if isRecentlyRunning(true, dep.RealizedAt) {
				return true, nil
			}
		}
	}
	return false, nil
}

func isRecentlyRunning(inProgress bool, realizedAt *time.Time) bool {
	if !inProgress {
		return false
	}
	if realizedAt == nil {
		// Still running, never realized: treat as current.
		return true
	}
	return time.Since(*realizedAt) <= time.Hour
}

// TierState is the result of CheckTierState.
type TierState struct {
	OK                    bool
	MissingHosts          []domain.Host
	DifferingVersionHosts []domain.Host
	NotOKHosts            []domain.Host
}

// CheckTierState compares a tier's hosts against the most recent
// deployment of pkg there: hosts with no row, hosts on another version,
// and hosts not ok each disqualify the tier.
func (c *Controller) CheckTierState(ctx context.Context, pkg domain.Package, tierID, envID int64) (TierState, error) {
	hosts, err := c.gw.ListHostsByTierEnv(ctx, tierID, envID)
	if err != nil {
		return TierState{}, err
	}
	ad, err := c.gw.MostRecentAppDeployment(ctx, tierID, envID, pkg.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return TierState{OK: len(hosts) == 0, MissingHosts: hosts}, nil
	}
	if err != nil {
		return TierState{}, err
	}
	hds, err := c.gw.ListHostDeploymentsByDeployment(ctx, ad.DeploymentID)
	if err != nil {
		return TierState{}, err
	}
	byHost := make(map[int64]domain.HostDeployment, len(hds))
	for _, hd := range hds {
		byHost[hd.HostID] = hd
	}

	state := TierState{OK: true}
	for _, h := range hosts {
		hd, ok := byHost[h.ID]
		if !ok {
			state.MissingHosts = append(state.MissingHosts, h)
			state.OK = false
			continue
		}
		if hd.PackageID != pkg.ID {
			state.DifferingVersionHosts = append(state.DifferingVersionHosts, h)
			state.OK = false
			continue
		}
		if hd.Status != domain.HostDeploymentOK {
			state.NotOKHosts = append(state.NotOKHosts, h)
			state.OK = false
		}
	}
	return state, nil
}

// rollupAppDeploymentStatus: complete iff every host in hds is ok,
// otherwise incomplete.
func rollupAppDeploymentStatus(hds []domain.HostDeployment) domain.AppDeploymentStatus {
	for _, hd := range hds {
		if hd.Status != domain.HostDeploymentOK {
			return domain.AppDeploymentIncomplete
		}
	}
	return domain.AppDeploymentComplete
}
