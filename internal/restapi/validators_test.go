package restapi

import (
	"context"
	"testing"

	"github.com/taggeddeploy/tds/internal/domain"
	"github.com/taggeddeploy/tds/internal/storage/memory"
)

func seedForValidators(t *testing.T) (*memory.Store, domain.Tier, domain.Environment, domain.Package, domain.Deployment) {
	t.Helper()
	store := memory.New()
	ctx := context.Background()

	tier, err := store.CreateTier(ctx, domain.Tier{Name: "t1"})
	if err != nil {
		t.Fatalf("create tier: %v", err)
	}
	for _, hostname := range []string{"h1", "h2"} {
		_, err := store.CreateHost(ctx, domain.Host{Hostname: hostname, AppID: tier.ID, EnvironmentID: devEnvID(t, store)})
		if err != nil {
			t.Fatalf("create host: %v", err)
		}
	}
	app, err := store.CreateApplication(ctx, domain.Application{Name: "app1", Arch: domain.ArchNoarch})
	if err != nil {
		t.Fatalf("create application: %v", err)
	}
	pkg, err := store.CreatePackage(ctx, domain.Package{ApplicationID: app.ID, Version: "1", Revision: "1", Status: domain.PackageCompleted})
	if err != nil {
		t.Fatalf("create package: %v", err)
	}
	dep, err := store.CreateDeployment(ctx, domain.Deployment{PackageID: pkg.ID, User: "alice", DepType: domain.DeployTypeDeploy, Status: domain.DeploymentPending})
	if err != nil {
		t.Fatalf("create deployment: %v", err)
	}
	env, err := store.GetEnvironmentByName(ctx, "dev")
	if err != nil {
		t.Fatalf("get env: %v", err)
	}
	return store, tier, env, pkg, dep
}

func devEnvID(t *testing.T, store *memory.Store) int64 {
	t.Helper()
	env, err := store.GetEnvironmentByName(context.Background(), "dev")
	if err != nil {
		t.Fatalf("get dev env: %v", err)
	}
	return env.ID
}

func TestValidators_CreateAppDeploymentMaterializesHostDeployments(t *testing.T) {
	store, tier, env, pkg, dep := seedForValidators(t)
	v := NewValidators(store)

	ad, err := v.CreateAppDeployment(context.Background(), domain.AppDeployment{
		DeploymentID:  dep.ID,
		AppID:         tier.ID,
		EnvironmentID: env.ID,
		PackageID:     pkg.ID,
		User:          "alice",
	})
	if err != nil {
		t.Fatalf("create app deployment: %v", err)
	}
	if ad.Status != domain.AppDeploymentPending {
		t.Fatalf("expected pending status, got %q", ad.Status)
	}

	hds, err := store.ListHostDeploymentsByDeployment(context.Background(), dep.ID)
	if err != nil {
		t.Fatalf("list host deployments: %v", err)
	}
	if len(hds) != 2 {
		t.Fatalf("expected 2 materialized host-deployments, got %d", len(hds))
	}
	for _, hd := range hds {
		if hd.Status != domain.HostDeploymentPending || hd.PackageID != pkg.ID {
			t.Fatalf("unexpected materialized host-deployment: %+v", hd)
		}
	}
}

func TestValidators_RejectsNonPendingInitialStatus(t *testing.T) {
	store, tier, env, pkg, dep := seedForValidators(t)
	v := NewValidators(store)

	_, err := v.CreateAppDeployment(context.Background(), domain.AppDeployment{
		DeploymentID:  dep.ID,
		AppID:         tier.ID,
		EnvironmentID: env.ID,
		PackageID:     pkg.ID,
		Status:        domain.AppDeploymentComplete,
	})
	if !domain.Is(err, domain.KindInvalidInput) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}

func TestValidators_RejectsEnvironmentMixingAcrossPeers(t *testing.T) {
	store, tier, env, pkg, dep := seedForValidators(t)
	v := NewValidators(store)

	if _, err := v.CreateAppDeployment(context.Background(), domain.AppDeployment{
		DeploymentID:  dep.ID,
		AppID:         tier.ID,
		EnvironmentID: env.ID,
		PackageID:     pkg.ID,
	}); err != nil {
		t.Fatalf("create first app deployment: %v", err)
	}

	stageTier, err := store.CreateTier(context.Background(), domain.Tier{Name: "t2"})
	if err != nil {
		t.Fatalf("create second tier: %v", err)
	}
	stageEnv, err := store.GetEnvironmentByName(context.Background(), "stage")
	if err != nil {
		t.Fatalf("get stage env: %v", err)
	}

	_, err = v.CreateAppDeployment(context.Background(), domain.AppDeployment{
		DeploymentID:  dep.ID,
		AppID:         stageTier.ID,
		EnvironmentID: stageEnv.ID,
		PackageID:     pkg.ID,
	})
	if !domain.Is(err, domain.KindInvariantViolation) {
		t.Fatalf("expected InvariantViolation for cross-environment mixing, got %v", err)
	}
}

func TestValidators_ForbidsReassigningNonPendingDeployment(t *testing.T) {
	store, tier, env, pkg, dep := seedForValidators(t)
	v := NewValidators(store)

	ad, err := v.CreateAppDeployment(context.Background(), domain.AppDeployment{
		DeploymentID:  dep.ID,
		AppID:         tier.ID,
		EnvironmentID: env.ID,
		PackageID:     pkg.ID,
	})
	if err != nil {
		t.Fatalf("create app deployment: %v", err)
	}

	dep.Status = domain.DeploymentInProgress
	if _, err := store.UpdateDeployment(context.Background(), dep); err != nil {
		t.Fatalf("update deployment: %v", err)
	}

	otherDep, err := store.CreateDeployment(context.Background(), domain.Deployment{PackageID: pkg.ID, DepType: domain.DeployTypeDeploy, Status: domain.DeploymentPending})
	if err != nil {
		t.Fatalf("create other deployment: %v", err)
	}

	_, err = v.UpdateAppDeployment(context.Background(), domain.AppDeployment{
		ID:           ad.ID,
		DeploymentID: otherDep.ID,
	})
	if !domain.Is(err, domain.KindInvalidInput) {
		t.Fatalf("expected InvalidInput rejecting reassignment of non-pending deployment, got %v", err)
	}
}
