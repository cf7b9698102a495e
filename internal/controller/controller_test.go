package controller

import (
	"context"
	"testing"

	"github.com/taggeddeploy/tds/internal/domain"
	"github.com/taggeddeploy/tds/internal/storage/memory"
)

// fakeStrategy succeeds everywhere except the hosts named in failHosts,
// and records every call in order.
type fakeStrategy struct {
	failHosts map[string]bool
	deploys   []string
	restarts  []string
}

func (s *fakeStrategy) DeployToHost(ctx context.Context, host, appName, version string, retry int) (bool, string, error) {
	s.deploys = append(s.deploys, host+":"+version)
	if s.failHosts[host] {
		return false, "retries exhausted against " + host, nil
	}
	return true, "installed " + version, nil
}

func (s *fakeStrategy) RestartHost(ctx context.Context, host, appName string, retry int) (bool, string, error) {
	s.restarts = append(s.restarts, host)
	if s.failHosts[host] {
		return false, "restart failed on " + host, nil
	}
	return true, "restarted", nil
}

// scenario is the explicit seed struct the tests thread state through.
type scenario struct {
	store    *memory.Store
	strategy *fakeStrategy
	ctl      *Controller

	project domain.Project
	app     domain.Application
	tier    domain.Tier
	dev     domain.Environment
	stage   domain.Environment
	pkg1    domain.Package
	devs    []domain.Host
	stages  []domain.Host
}

// seedScenario builds the base fixture: project proj1, application app1, tier
// t1 with hosts h1, h2 in dev, and a completed package version 1-1.
func seedScenario(t *testing.T) *scenario {
	t.Helper()
	ctx := context.Background()
	s := &scenario{store: memory.New(), strategy: &fakeStrategy{failHosts: map[string]bool{}}}
	s.ctl = New(s.store, s.strategy, nil, nil)

	var err error
	s.dev, err = s.store.GetEnvironmentByName(ctx, "dev")
	if err != nil {
		t.Fatal(err)
	}
	s.stage, err = s.store.GetEnvironmentByName(ctx, "stage")
	if err != nil {
		t.Fatal(err)
	}
	s.project, err = s.store.CreateProject(ctx, domain.Project{Name: "proj1"})
	if err != nil {
		t.Fatal(err)
	}
	s.app, err = s.store.CreateApplication(ctx, domain.Application{Name: "app1", Arch: domain.ArchNoarch})
	if err != nil {
		t.Fatal(err)
	}
	s.tier, err = s.store.CreateTier(ctx, domain.Tier{Name: "t1"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.store.CreateProjectPackage(ctx, domain.ProjectPackage{ProjectID: s.project.ID, PkgDefID: s.app.ID, AppID: s.tier.ID})
	if err != nil {
		t.Fatal(err)
	}
	s.pkg1, err = s.store.CreatePackage(ctx, domain.Package{ApplicationID: s.app.ID, Version: "1", Revision: "1", Status: domain.PackageCompleted})
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"h1", "h2"} {
		h, err := s.store.CreateHost(ctx, domain.Host{Hostname: name, EnvironmentID: s.dev.ID, AppID: s.tier.ID, State: "online"})
		if err != nil {
			t.Fatal(err)
		}
		s.devs = append(s.devs, h)
	}
	return s
}

func (s *scenario) addStageHosts(t *testing.T) {
	t.Helper()
	for _, name := range []string{"sh1", "sh2"} {
		h, err := s.store.CreateHost(context.Background(), domain.Host{Hostname: name, EnvironmentID: s.stage.ID, AppID: s.tier.ID, State: "online"})
		if err != nil {
			t.Fatal(err)
		}
		s.stages = append(s.stages, h)
	}
}

func (s *scenario) addPackage(t *testing.T, version string) domain.Package {
	t.Helper()
	pkg, err := s.store.CreatePackage(context.Background(), domain.Package{ApplicationID: s.app.ID, Version: version, Revision: "1", Status: domain.PackageCompleted})
	if err != nil {
		t.Fatal(err)
	}
	return pkg
}

func (s *scenario) promote(t *testing.T, version, env string) PromoteResult {
	t.Helper()
	result, err := s.ctl.Promote(context.Background(), PromoteParams{
		Project: "proj1", Tiers: []string{"t1"}, Version: version, Env: env, User: "releng",
	})
	if err != nil {
		t.Fatalf("promote %s to %s: %v", version, env, err)
	}
	return result
}

func (s *scenario) validate(t *testing.T, version, env string) {
	t.Helper()
	_, err := s.ctl.Validate(context.Background(), MarkParams{
		Project: "proj1", Tiers: []string{"t1"}, Version: version, Env: env, User: "releng",
	})
	if err != nil {
		t.Fatalf("validate %s in %s: %v", version, env, err)
	}
}

// Straight-line promote into dev.
func TestPromote_StraightLine(t *testing.T) {
	s := seedScenario(t)

	result := s.promote(t, "1", "dev")

	if result.Deployment.ID == 0 || result.Deployment.DepType != domain.DeployTypeDeploy {
		t.Fatalf("unexpected deployment: %+v", result.Deployment)
	}
	if len(result.AppDeployments) != 1 {
		t.Fatalf("expected one tier deployment, got %d", len(result.AppDeployments))
	}
	if got := result.AppDeployments[0].Status; got != domain.AppDeploymentComplete {
		t.Fatalf("tier deployment status = %s, want complete", got)
	}
	if len(result.HostDeployments) != 2 {
		t.Fatalf("expected two host deployments, got %d", len(result.HostDeployments))
	}
	for _, hd := range result.HostDeployments {
		if hd.Status != domain.HostDeploymentOK {
			t.Fatalf("host deployment %d status = %s, want ok", hd.HostID, hd.Status)
		}
	}
	// Every host in the tier+env got exactly one row, applied in
	// hostname order.
	if len(s.strategy.deploys) != 2 || s.strategy.deploys[0] != "h1:1" || s.strategy.deploys[1] != "h2:1" {
		t.Fatalf("unexpected apply order: %v", s.strategy.deploys)
	}
	if result.Deployment.Status != domain.DeploymentComplete {
		t.Fatalf("deployment status = %s, want complete", result.Deployment.Status)
	}
	if result.Deployment.RealizedAt == nil {
		t.Fatal("realized_at not set")
	}
}

// Promotion into stage is gated on a validated dev deployment.
func TestPromote_GateBlocksUnvalidated(t *testing.T) {
	s := seedScenario(t)
	s.addStageHosts(t)

	_, err := s.ctl.Promote(context.Background(), PromoteParams{
		Project: "proj1", Tiers: []string{"t1"}, Version: "1", Env: "stage", User: "releng",
	})
	if !domain.Is(err, domain.KindPromotionGateFailure) {
		t.Fatalf("expected promotion gate failure, got %v", err)
	}
	// No rows written.
	if len(s.strategy.deploys) != 0 {
		t.Fatalf("strategy should not have been driven: %v", s.strategy.deploys)
	}
	hds, err := s.store.ListHostDeploymentsByHost(context.Background(), s.stages[0].ID)
	if err != nil || len(hds) != 0 {
		t.Fatalf("expected no host deployments, got %d (%v)", len(hds), err)
	}
}

// Gate positive path: validated in dev unlocks stage.
func TestPromote_GateOpensAfterValidate(t *testing.T) {
	s := seedScenario(t)
	s.addStageHosts(t)
	s.promote(t, "1", "dev")
	s.validate(t, "1", "dev")

	result := s.promote(t, "1", "stage")
	if result.AppDeployments[0].Status != domain.AppDeploymentComplete {
		t.Fatalf("stage tier deployment = %s, want complete", result.AppDeployments[0].Status)
	}
	if result.AppDeployments[0].EnvironmentID != s.stage.ID {
		t.Fatal("tier deployment landed in the wrong environment")
	}
}

func TestPromote_ForceBypassesGate(t *testing.T) {
	s := seedScenario(t)
	s.addStageHosts(t)

	result, err := s.ctl.Promote(context.Background(), PromoteParams{
		Project: "proj1", Tiers: []string{"t1"}, Version: "1", Env: "stage", Force: true, User: "releng",
	})
	if err != nil {
		t.Fatalf("forced promote: %v", err)
	}
	if len(result.HostDeployments) != 2 {
		t.Fatalf("expected stage hosts deployed, got %d rows", len(result.HostDeployments))
	}
}

// Partial host failure: the failing host is recorded, the rest proceed.
func TestPromote_PartialHostFailure(t *testing.T) {
	s := seedScenario(t)
	s.strategy.failHosts["h2"] = true

	result := s.promote(t, "1", "dev")

	byHostname := map[string]domain.HostDeployment{}
	for _, hd := range result.HostDeployments {
		host, err := s.store.GetHost(context.Background(), hd.HostID)
		if err != nil {
			t.Fatal(err)
		}
		byHostname[host.Hostname] = hd
	}
	if byHostname["h1"].Status != domain.HostDeploymentOK {
		t.Fatalf("h1 = %s, want ok", byHostname["h1"].Status)
	}
	if byHostname["h2"].Status != domain.HostDeploymentFailed {
		t.Fatalf("h2 = %s, want failed", byHostname["h2"].Status)
	}
	if byHostname["h2"].DeployResult == "" {
		t.Fatal("failed host should carry a diagnostic")
	}
	if result.AppDeployments[0].Status != domain.AppDeploymentIncomplete {
		t.Fatalf("tier deployment = %s, want incomplete", result.AppDeployments[0].Status)
	}
}

// Rollback after validate restores version 1 and invalidates the
// version 2 tier deployment.
func TestRollback_AfterValidate(t *testing.T) {
	s := seedScenario(t)
	ctx := context.Background()

	s.promote(t, "1", "dev")
	s.validate(t, "1", "dev")
	pkg2 := s.addPackage(t, "2")
	v2 := s.promote(t, "2", "dev")
	s.validate(t, "2", "dev")

	s.strategy.deploys = nil
	result, err := s.ctl.Rollback(ctx, RollbackParams{
		Project: "proj1", Tiers: []string{"t1"}, Env: "dev", User: "releng",
	})
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}

	if len(result.Deployments) != 1 || result.Deployments[0].DepType != domain.DeployTypeRollback {
		t.Fatalf("unexpected rollback deployments: %+v", result.Deployments)
	}
	if result.Deployments[0].PackageID != s.pkg1.ID {
		t.Fatalf("rollback targets package %d, want version 1 (%d)", result.Deployments[0].PackageID, s.pkg1.ID)
	}
	if len(s.strategy.deploys) != 2 || s.strategy.deploys[0] != "h1:1" || s.strategy.deploys[1] != "h2:1" {
		t.Fatalf("rollback applies = %v, want version 1 on h1,h2", s.strategy.deploys)
	}
	if len(result.Invalidated) != 1 {
		t.Fatalf("expected one invalidated tier deployment, got %d", len(result.Invalidated))
	}
	if result.Invalidated[0].PackageID != pkg2.ID {
		t.Fatal("the version 2 tier deployment should be the invalidated one")
	}
	got, err := s.store.GetAppDeployment(ctx, v2.AppDeployments[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.AppDeploymentInvalidated {
		t.Fatalf("version 2 tier deployment = %s, want invalidated", got.Status)
	}

	live, err := s.store.LatestDeployedVersion(ctx, s.app.ID, s.dev.ID, s.tier.ID)
	if err != nil {
		t.Fatal(err)
	}
	if live.ID != s.pkg1.ID {
		t.Fatalf("live package = %d, want version 1 (%d)", live.ID, s.pkg1.ID)
	}
}

func TestRollback_NothingToRollBack(t *testing.T) {
	s := seedScenario(t)
	s.promote(t, "1", "dev")

	_, err := s.ctl.Rollback(context.Background(), RollbackParams{
		Project: "proj1", Tiers: []string{"t1"}, Env: "dev", User: "releng",
	})
	if !domain.Is(err, domain.KindNothingToAct) {
		t.Fatalf("expected nothing-to-act, got %v", err)
	}
}

// The currently live version cannot be invalidated.
func TestInvalidate_BlockedByCurrency(t *testing.T) {
	s := seedScenario(t)
	s.promote(t, "1", "dev")
	s.validate(t, "1", "dev")

	_, err := s.ctl.Invalidate(context.Background(), MarkParams{
		Project: "proj1", Tiers: []string{"t1"}, Version: "1", Env: "dev", User: "releng",
	})
	if !domain.Is(err, domain.KindInvariantViolation) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
}

func TestInvalidate_OlderVersion(t *testing.T) {
	s := seedScenario(t)
	ctx := context.Background()
	s.promote(t, "1", "dev")
	s.validate(t, "1", "dev")
	s.addPackage(t, "2")
	s.promote(t, "2", "dev")
	s.validate(t, "2", "dev")

	marked, err := s.ctl.Invalidate(ctx, MarkParams{
		Project: "proj1", Tiers: []string{"t1"}, Version: "1", Env: "dev", User: "releng",
	})
	if err != nil {
		t.Fatalf("invalidate version 1: %v", err)
	}
	if len(marked) != 1 || marked[0].Status != domain.AppDeploymentInvalidated {
		t.Fatalf("unexpected invalidation result: %+v", marked)
	}
}

// Validate deletes the tier's host deployments; they are no longer
// interesting history once the operator signs off.
func TestValidate_DeletesHostDeployments(t *testing.T) {
	s := seedScenario(t)
	ctx := context.Background()
	result := s.promote(t, "1", "dev")
	s.validate(t, "1", "dev")

	hds, err := s.store.ListHostDeploymentsByDeployment(ctx, result.Deployment.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(hds) != 0 {
		t.Fatalf("expected host deployments deleted after validate, found %d", len(hds))
	}
	ad, err := s.store.GetAppDeployment(ctx, result.AppDeployments[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if ad.Status != domain.AppDeploymentValidated {
		t.Fatalf("tier deployment = %s, want validated", ad.Status)
	}
}

func TestValidate_RefusesNotOKTier(t *testing.T) {
	s := seedScenario(t)
	s.strategy.failHosts["h2"] = true
	s.promote(t, "1", "dev")

	_, err := s.ctl.Validate(context.Background(), MarkParams{
		Project: "proj1", Tiers: []string{"t1"}, Version: "1", Env: "dev", User: "releng",
	})
	if !domain.Is(err, domain.KindConflict) {
		t.Fatalf("expected conflict for a not-ok tier, got %v", err)
	}

	// force overrides the check.
	marked, err := s.ctl.Validate(context.Background(), MarkParams{
		Project: "proj1", Tiers: []string{"t1"}, Version: "1", Env: "dev", Force: true, User: "releng",
	})
	if err != nil || len(marked) != 1 {
		t.Fatalf("forced validate failed: %v", err)
	}
}

func TestRedeploy_RetriesOnlyFailedHosts(t *testing.T) {
	s := seedScenario(t)
	s.strategy.failHosts["h2"] = true
	result := s.promote(t, "1", "dev")

	s.strategy.failHosts = map[string]bool{}
	s.strategy.deploys = nil
	redone, err := s.ctl.Redeploy(context.Background(), RedeployParams{
		DeploymentID: result.Deployment.ID, User: "releng",
	})
	if err != nil {
		t.Fatalf("redeploy: %v", err)
	}
	// h1 was already ok and must be skipped.
	if len(s.strategy.deploys) != 1 || s.strategy.deploys[0] != "h2:1" {
		t.Fatalf("redeploy applies = %v, want only h2", s.strategy.deploys)
	}
	if redone.Deployment.Status != domain.DeploymentComplete {
		t.Fatalf("deployment = %s, want complete after redeploy", redone.Deployment.Status)
	}
	if redone.AppDeployments[0].Status != domain.AppDeploymentComplete {
		t.Fatalf("tier deployment = %s, want complete", redone.AppDeployments[0].Status)
	}
}

func TestRestart_DrivesLivePackage(t *testing.T) {
	s := seedScenario(t)
	s.promote(t, "1", "dev")
	s.validate(t, "1", "dev")

	results, err := s.ctl.Restart(context.Background(), RestartParams{
		Project: "proj1", Tiers: []string{"t1"}, Env: "dev", User: "releng",
	})
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected two restart results, got %d", len(results))
	}
	if len(s.strategy.restarts) != 2 || s.strategy.restarts[0] != "h1" {
		t.Fatalf("restart order = %v", s.strategy.restarts)
	}
}

func TestRestart_RefusesIncompleteTier(t *testing.T) {
	s := seedScenario(t)
	s.strategy.failHosts["h2"] = true
	s.promote(t, "1", "dev") // tier ends incomplete

	_, err := s.ctl.Restart(context.Background(), RestartParams{
		Project: "proj1", Tiers: []string{"t1"}, Env: "dev", User: "releng",
	})
	if !domain.Is(err, domain.KindConflict) {
		t.Fatalf("expected conflict for incomplete tier, got %v", err)
	}
}

// Promote by explicit hosts narrows the apply set but keeps the tier
// projection.
func TestPromote_ByHosts(t *testing.T) {
	s := seedScenario(t)

	result, err := s.ctl.Promote(context.Background(), PromoteParams{
		Project: "proj1", Hosts: []string{"h1"}, Version: "1", Env: "dev", User: "releng",
	})
	if err != nil {
		t.Fatalf("promote by hosts: %v", err)
	}
	if len(s.strategy.deploys) != 1 || s.strategy.deploys[0] != "h1:1" {
		t.Fatalf("applies = %v, want only h1", s.strategy.deploys)
	}
	// Only h1 has a row; the tier rolls up from the rows that exist.
	if len(result.HostDeployments) != 1 {
		t.Fatalf("expected one host deployment, got %d", len(result.HostDeployments))
	}
}

func TestPromote_UnknownVersion(t *testing.T) {
	s := seedScenario(t)
	_, err := s.ctl.Promote(context.Background(), PromoteParams{
		Project: "proj1", Tiers: []string{"t1"}, Version: "9", Env: "dev", User: "releng",
	})
	if !domain.Is(err, domain.KindNotFound) {
		t.Fatalf("expected not-found for unknown version, got %v", err)
	}
}

func TestPrevEnv(t *testing.T) {
	if prev, err := domain.PrevEnv("stage"); err != nil || prev != "dev" {
		t.Fatalf("PrevEnv(stage) = %q, %v", prev, err)
	}
	if prev, err := domain.PrevEnv("prod"); err != nil || prev != "stage" {
		t.Fatalf("PrevEnv(prod) = %q, %v", prev, err)
	}
	if _, err := domain.PrevEnv("dev"); !domain.Is(err, domain.KindWrongEnvironment) {
		t.Fatalf("PrevEnv(dev) should fail with wrong-environment, got %v", err)
	}
	if _, err := domain.PrevEnv("qa"); !domain.Is(err, domain.KindWrongEnvironment) {
		t.Fatalf("PrevEnv(qa) should fail with wrong-environment, got %v", err)
	}
}
