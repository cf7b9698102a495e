// Package memory implements storage.Gateway entirely in process memory. It
// is the default store for tests and for local development, grounded on the
// practice of shipping an in-process store alongside the Postgres
// one for fast unit tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/taggeddeploy/tds/internal/domain"
	"github.com/taggeddeploy/tds/internal/storage"
)

// Store is a goroutine-safe, in-memory storage.Gateway.
type Store struct {
	mu sync.Mutex

	nextID int64

	projects        map[int64]domain.Project
	applications    map[int64]domain.Application
	packages        map[int64]domain.Package
	tiers           map[int64]domain.Tier
	hosts           map[int64]domain.Host
	environments    map[int64]domain.Environment
	projectPackages map[int64]domain.ProjectPackage
	deployments     map[int64]domain.Deployment
	appDeployments  map[int64]domain.AppDeployment
	hostDeployments map[int64]domain.HostDeployment
}

// New returns an empty Store seeded with the three fixed environments, the
// way the schema migration seeds them in Postgres.
func New() *Store {
	s := &Store{
		projects:        map[int64]domain.Project{},
		applications:    map[int64]domain.Application{},
		packages:        map[int64]domain.Package{},
		tiers:           map[int64]domain.Tier{},
		hosts:           map[int64]domain.Host{},
		environments:    map[int64]domain.Environment{},
		projectPackages: map[int64]domain.ProjectPackage{},
		deployments:     map[int64]domain.Deployment{},
		appDeployments:  map[int64]domain.AppDeployment{},
		hostDeployments: map[int64]domain.HostDeployment{},
	}
	for i, env := range domain.EnvOrder {
		s.nextID++
		s.environments[s.nextID] = domain.Environment{
			ID:          s.nextID,
			Env:         env,
			Environment: env,
			SortOrder:   i,
		}
	}
	return s
}

func (s *Store) allocID() int64 {
	s.nextID++
	return s.nextID
}

// -- ProjectStore --

func (s *Store) CreateProject(ctx context.Context, p domain.Project) (domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.allocID()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	s.projects[p.ID] = p
	return p, nil
}

func (s *Store) GetProject(ctx context.Context, id int64) (domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return domain.Project{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *Store) GetProjectByName(ctx context.Context, name string) (domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.projects {
		if p.Name == name {
			return p, nil
		}
	}
	return domain.Project{}, domain.ErrNotFound
}

func (s *Store) ListProjects(ctx context.Context) ([]domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) DeleteProject(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.projects, id)
	return nil
}

// -- ApplicationStore --

func (s *Store) CreateApplication(ctx context.Context, a domain.Application) (domain.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = s.allocID()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	s.applications[a.ID] = a
	return a, nil
}

func (s *Store) GetApplication(ctx context.Context, id int64) (domain.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.applications[id]
	if !ok {
		return domain.Application{}, domain.ErrNotFound
	}
	return a, nil
}

func (s *Store) GetApplicationByName(ctx context.Context, name string) (domain.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.applications {
		if a.Name == name {
			return a, nil
		}
	}
	return domain.Application{}, domain.ErrNotFound
}

func (s *Store) ListApplications(ctx context.Context) ([]domain.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Application, 0, len(s.applications))
	for _, a := range s.applications {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) DeleteApplication(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.applications, id)
	return nil
}

// -- PackageStore --

func (s *Store) CreatePackage(ctx context.Context, p domain.Package) (domain.Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.packages {
		if existing.ApplicationID == p.ApplicationID && existing.Version == p.Version && existing.Revision == p.Revision {
			return domain.Package{}, domain.NewError(domain.KindConflict, "package %s-%s already exists for application %d", p.Version, p.Revision, p.ApplicationID)
		}
	}
	p.ID = s.allocID()
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = domain.PackagePending
	}
	s.packages[p.ID] = p
	return p, nil
}

func (s *Store) GetPackage(ctx context.Context, id int64) (domain.Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.packages[id]
	if !ok {
		return domain.Package{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *Store) GetPackageByVersion(ctx context.Context, applicationID int64, version, revision string) (domain.Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.packages {
		if p.ApplicationID == applicationID && p.Version == version && p.Revision == revision {
			return p, nil
		}
	}
	return domain.Package{}, domain.ErrNotFound
}

func (s *Store) UpdatePackageStatus(ctx context.Context, id int64, status domain.PackageStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.packages[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !p.Status.CanTransition(status) {
		return domain.NewError(domain.KindInvariantViolation, "package %d cannot transition from %s to %s", id, p.Status, status)
	}
	p.Status = status
	p.UpdatedAt = time.Now().UTC()
	s.packages[id] = p
	return nil
}

func (s *Store) ListPackagesByApplication(ctx context.Context, applicationID int64) ([]domain.Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Package
	for _, p := range s.packages {
		if p.ApplicationID == applicationID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// -- TierStore --

func (s *Store) CreateTier(ctx context.Context, t domain.Tier) (domain.Tier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = s.allocID()
	s.tiers[t.ID] = t
	return t, nil
}

func (s *Store) GetTier(ctx context.Context, id int64) (domain.Tier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tiers[id]
	if !ok {
		return domain.Tier{}, domain.ErrNotFound
	}
	return t, nil
}

func (s *Store) GetTierByName(ctx context.Context, name string) (domain.Tier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tiers {
		if t.Name == name {
			return t, nil
		}
	}
	return domain.Tier{}, domain.ErrNotFound
}

func (s *Store) ListTiers(ctx context.Context) ([]domain.Tier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Tier, 0, len(s.tiers))
	for _, t := range s.tiers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// -- HostStore --

func (s *Store) CreateHost(ctx context.Context, h domain.Host) (domain.Host, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h.ID = s.allocID()
	if h.State == "" {
		h.State = "active"
	}
	s.hosts[h.ID] = h
	return h, nil
}

func (s *Store) GetHost(ctx context.Context, id int64) (domain.Host, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hosts[id]
	if !ok {
		return domain.Host{}, domain.ErrNotFound
	}
	return h, nil
}

func (s *Store) GetHostByHostname(ctx context.Context, hostname string) (domain.Host, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.hosts {
		if h.Hostname == hostname {
			return h, nil
		}
	}
	return domain.Host{}, domain.ErrNotFound
}

func (s *Store) ListHostsByTier(ctx context.Context, tierID int64) ([]domain.Host, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Host
	for _, h := range s.hosts {
		if h.AppID == tierID {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hostname < out[j].Hostname })
	return out, nil
}

func (s *Store) ListHostsByTierEnv(ctx context.Context, tierID, environmentID int64) ([]domain.Host, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Host
	for _, h := range s.hosts {
		if h.AppID == tierID && h.EnvironmentID == environmentID {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hostname < out[j].Hostname })
	return out, nil
}

// -- EnvironmentStore --

func (s *Store) GetEnvironmentByName(ctx context.Context, env string) (domain.Environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.environments {
		if e.Env == env {
			return e, nil
		}
	}
	return domain.Environment{}, domain.ErrNotFound
}

func (s *Store) ListEnvironments(ctx context.Context) ([]domain.Environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Environment, 0, len(s.environments))
	for _, e := range s.environments {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out, nil
}

// -- ProjectPackageStore --

func (s *Store) CreateProjectPackage(ctx context.Context, pp domain.ProjectPackage) (domain.ProjectPackage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.projectPackages {
		if existing.ProjectID == pp.ProjectID && existing.PkgDefID == pp.PkgDefID && existing.AppID == pp.AppID {
			return existing, nil
		}
	}
	pp.ID = s.allocID()
	s.projectPackages[pp.ID] = pp
	return pp, nil
}

func (s *Store) TierAssociated(ctx context.Context, projectID, applicationID, tierID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pp := range s.projectPackages {
		if pp.ProjectID == projectID && pp.PkgDefID == applicationID && pp.AppID == tierID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ListProjectPackages(ctx context.Context, projectID int64) ([]domain.ProjectPackage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ProjectPackage
	for _, pp := range s.projectPackages {
		if pp.ProjectID == projectID {
			out = append(out, pp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// -- DeploymentStore --

func (s *Store) CreateDeployment(ctx context.Context, d domain.Deployment) (domain.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.ID = s.allocID()
	if d.DeclaredAt.IsZero() {
		d.DeclaredAt = time.Now().UTC()
	}
	if d.Status == "" {
		d.Status = domain.DeploymentPending
	}
	s.deployments[d.ID] = d
	return d, nil
}

func (s *Store) GetDeployment(ctx context.Context, id int64) (domain.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deployments[id]
	if !ok {
		return domain.Deployment{}, domain.ErrNotFound
	}
	return d, nil
}

func (s *Store) UpdateDeployment(ctx context.Context, d domain.Deployment) (domain.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deployments[d.ID]; !ok {
		return domain.Deployment{}, domain.ErrNotFound
	}
	s.deployments[d.ID] = d
	return d, nil
}

func (s *Store) ListQueuedDeployments(ctx context.Context) ([]domain.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Deployment
	for _, d := range s.deployments {
		if d.Status == domain.DeploymentQueued {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeclaredAt.Before(out[j].DeclaredAt) })
	return out, nil
}

// -- AppDeploymentStore --

func (s *Store) CreateAppDeployment(ctx context.Context, ad domain.AppDeployment) (domain.AppDeployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ad.ID = s.allocID()
	if ad.CreatedAt.IsZero() {
		ad.CreatedAt = time.Now().UTC()
	}
	if ad.Status == "" {
		ad.Status = domain.AppDeploymentPending
	}
	s.appDeployments[ad.ID] = ad
	return ad, nil
}

func (s *Store) GetAppDeployment(ctx context.Context, id int64) (domain.AppDeployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ad, ok := s.appDeployments[id]
	if !ok {
		return domain.AppDeployment{}, domain.ErrNotFound
	}
	return ad, nil
}

func (s *Store) UpdateAppDeployment(ctx context.Context, ad domain.AppDeployment) (domain.AppDeployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.appDeployments[ad.ID]; !ok {
		return domain.AppDeployment{}, domain.ErrNotFound
	}
	s.appDeployments[ad.ID] = ad
	return ad, nil
}

func (s *Store) ListAppDeploymentsByDeployment(ctx context.Context, deploymentID int64) ([]domain.AppDeployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AppDeployment
	for _, ad := range s.appDeployments {
		if ad.DeploymentID == deploymentID {
			out = append(out, ad)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) MostRecentAppDeployment(ctx context.Context, tierID, environmentID, packageID int64) (domain.AppDeployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best domain.AppDeployment
	found := false
	for _, ad := range s.appDeployments {
		if ad.AppID != tierID || ad.EnvironmentID != environmentID || ad.PackageID != packageID {
			continue
		}
		if !found || laterAppDeployment(ad, best) {
			best, found = ad, true
		}
	}
	if !found {
		return domain.AppDeployment{}, domain.ErrNotFound
	}
	return best, nil
}

func (s *Store) MostRecentAppDeploymentAnyPackage(ctx context.Context, tierID, environmentID int64) (domain.AppDeployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best domain.AppDeployment
	found := false
	for _, ad := range s.appDeployments {
		if ad.AppID != tierID || ad.EnvironmentID != environmentID {
			continue
		}
		if !found || laterAppDeployment(ad, best) {
			best, found = ad, true
		}
	}
	if !found {
		return domain.AppDeployment{}, domain.ErrNotFound
	}
	return best, nil
}

func (s *Store) DeleteHostDeploymentsForAppDeployment(ctx context.Context, tierID, deploymentID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tierHosts := map[int64]bool{}
	for _, h := range s.hosts {
		if h.AppID == tierID {
			tierHosts[h.ID] = true
		}
	}
	for id, hd := range s.hostDeployments {
		if hd.DeploymentID == deploymentID && tierHosts[hd.HostID] {
			delete(s.hostDeployments, id)
		}
	}
	return nil
}

// -- HostDeploymentStore --

func (s *Store) CreateHostDeployment(ctx context.Context, hd domain.HostDeployment) (domain.HostDeployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hd.ID = s.allocID()
	now := time.Now().UTC()
	if hd.CreatedAt.IsZero() {
		hd.CreatedAt = now
	}
	hd.UpdatedAt = now
	if hd.Status == "" {
		hd.Status = domain.HostDeploymentPending
	}
	s.hostDeployments[hd.ID] = hd
	return hd, nil
}

func (s *Store) GetHostDeployment(ctx context.Context, id int64) (domain.HostDeployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hd, ok := s.hostDeployments[id]
	if !ok {
		return domain.HostDeployment{}, domain.ErrNotFound
	}
	return hd, nil
}

func (s *Store) UpdateHostDeployment(ctx context.Context, hd domain.HostDeployment) (domain.HostDeployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.hostDeployments[hd.ID]; !ok {
		return domain.HostDeployment{}, domain.ErrNotFound
	}
	hd.UpdatedAt = time.Now().UTC()
	s.hostDeployments[hd.ID] = hd
	return hd, nil
}

func (s *Store) ListHostDeploymentsByDeployment(ctx context.Context, deploymentID int64) ([]domain.HostDeployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.HostDeployment
	for _, hd := range s.hostDeployments {
		if hd.DeploymentID == deploymentID {
			out = append(out, hd)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListHostDeploymentsByHost(ctx context.Context, hostID int64) ([]domain.HostDeployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.HostDeployment
	for _, hd := range s.hostDeployments {
		if hd.HostID == hostID {
			out = append(out, hd)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) MostRecentHostDeployment(ctx context.Context, deploymentID, hostID int64) (domain.HostDeployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best domain.HostDeployment
	found := false
	for _, hd := range s.hostDeployments {
		if hd.DeploymentID != deploymentID || hd.HostID != hostID {
			continue
		}
		if !found || hd.ID > best.ID {
			best, found = hd, true
		}
	}
	if !found {
		return domain.HostDeployment{}, domain.ErrNotFound
	}
	return best, nil
}

func (s *Store) DeleteHostDeploymentsForHostProject(ctx context.Context, hostID, projectID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	projectApps := map[int64]bool{}
	for _, pp := range s.projectPackages {
		if pp.ProjectID == projectID {
			projectApps[pp.PkgDefID] = true
		}
	}
	for id, hd := range s.hostDeployments {
		if hd.HostID != hostID {
			continue
		}
		if p, ok := s.packages[hd.PackageID]; ok && projectApps[p.ApplicationID] {
			delete(s.hostDeployments, id)
		}
	}
	return nil
}

// -- PlanningQueries --

func (s *Store) LatestDeployedVersion(ctx context.Context, applicationID, environmentID, tierID int64) (domain.Package, error) {
	s.mu.Lock()
	appIDs := map[int64]bool{}
	for _, p := range s.packages {
		if p.ApplicationID == applicationID {
			appIDs[p.ID] = true
		}
	}
	var best domain.AppDeployment
	found := false
	for _, ad := range s.appDeployments {
		if ad.EnvironmentID != environmentID || !appIDs[ad.PackageID] {
			continue
		}
		if tierID > 0 && ad.AppID != tierID {
			continue
		}
		if !found || laterAppDeployment(ad, best) {
			best, found = ad, true
		}
	}
	s.mu.Unlock()
	if !found {
		return domain.Package{}, domain.ErrNotFound
	}
	return s.GetPackage(ctx, best.PackageID)
}

func (s *Store) LatestValidatedDeployment(ctx context.Context, tierID, environmentID int64) (domain.AppDeployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best domain.AppDeployment
	found := false
	for _, ad := range s.appDeployments {
		if ad.AppID != tierID || ad.EnvironmentID != environmentID || ad.Status != domain.AppDeploymentValidated {
			continue
		}
		if !found || laterAppDeployment(ad, best) {
			best, found = ad, true
		}
	}
	if !found {
		return domain.AppDeployment{}, domain.ErrNotFound
	}
	return best, nil
}

func (s *Store) PreviousValidatedDeployment(ctx context.Context, tierID, environmentID int64, before time.Time, currentDeploymentID int64) (domain.AppDeployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best domain.AppDeployment
	found := false
	for _, ad := range s.appDeployments {
		if ad.AppID != tierID || ad.EnvironmentID != environmentID || ad.Status != domain.AppDeploymentValidated {
			continue
		}
		if ad.DeploymentID == currentDeploymentID {
			continue
		}
		if ad.RealizedAt == nil || ad.RealizedAt.After(before) {
			continue
		}
		if !found || laterAppDeployment(ad, best) {
			best, found = ad, true
		}
	}
	if !found {
		return domain.AppDeployment{}, domain.ErrNotFound
	}
	return best, nil
}

// laterAppDeployment reports whether candidate is more recent than current,
// ties broken by the higher deployment ID.
func laterAppDeployment(candidate, current domain.AppDeployment) bool {
	ct, cc := candidate.RealizedAt, current.RealizedAt
	switch {
	case ct == nil && cc == nil:
		return candidate.DeploymentID > current.DeploymentID
	case ct == nil:
		return false
	case cc == nil:
		return true
	case ct.Equal(*cc):
		return candidate.DeploymentID > current.DeploymentID
	default:
		return ct.After(*cc)
	}
}

// WithTx runs fn against the same Store. The in-memory backend has no
// partial-failure mode, so the transaction boundary is a no-op beyond
// serializing through the existing mutex on each call; fn's returned error
// is simply propagated.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx storage.Gateway) error) error {
	return fn(ctx, s)
}

// HealthCheck always succeeds for the in-memory backend.
func (s *Store) HealthCheck(ctx context.Context) error {
	return nil
}

var _ storage.Gateway = (*Store)(nil)
