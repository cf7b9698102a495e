package installer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/taggeddeploy/tds/internal/domain"
	"github.com/taggeddeploy/tds/internal/storage/memory"
)

// scriptedStrategy fails the hosts named in failHosts and records call
// order.
type scriptedStrategy struct {
	failHosts map[string]bool
	panicOn   string
	calls     []string
}

func (s *scriptedStrategy) DeployToHost(ctx context.Context, host, appName, version string, retry int) (bool, string, error) {
	if host == s.panicOn {
		panic("transport wedged")
	}
	s.calls = append(s.calls, host)
	if s.failHosts[host] {
		return false, "install failed on " + host, nil
	}
	return true, "installed " + version, nil
}

func (s *scriptedStrategy) RestartHost(ctx context.Context, host, appName string, retry int) (bool, string, error) {
	s.calls = append(s.calls, "restart:"+host)
	return true, "restarted", nil
}

type fixture struct {
	store      *memory.Store
	strategy   *scriptedStrategy
	daemon     *Daemon
	env        domain.Environment
	tier       domain.Tier
	pkg        domain.Package
	hosts      []domain.Host
	deployment domain.Deployment
}

// newFixture seeds tier t1 with hosts h1, h2 in dev, a completed package,
// and one queued deployment carrying either an AppDeployment projection
// (withAppDeployment) or one pending HostDeployment per host.
func newFixture(t *testing.T, withAppDeployment bool) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	strategy := &scriptedStrategy{failHosts: map[string]bool{}}

	env, err := store.GetEnvironmentByName(ctx, "dev")
	require.NoError(t, err)
	app, err := store.CreateApplication(ctx, domain.Application{Name: "app1", Arch: domain.ArchNoarch})
	require.NoError(t, err)
	pkg, err := store.CreatePackage(ctx, domain.Package{ApplicationID: app.ID, Version: "1", Revision: "1", Status: domain.PackageCompleted})
	require.NoError(t, err)
	tier, err := store.CreateTier(ctx, domain.Tier{Name: "t1"})
	require.NoError(t, err)

	f := &fixture{store: store, strategy: strategy, env: env, tier: tier, pkg: pkg}
	// h2 created before h1 so hostname ordering, not insertion order, is
	// what the executor must follow.
	for _, name := range []string{"h2", "h1"} {
		h, err := store.CreateHost(ctx, domain.Host{Hostname: name, EnvironmentID: env.ID, AppID: tier.ID, State: "online"})
		require.NoError(t, err)
		f.hosts = append(f.hosts, h)
	}

	dep, err := store.CreateDeployment(ctx, domain.Deployment{
		PackageID:  pkg.ID,
		User:       "releng",
		DepType:    domain.DeployTypeDeploy,
		Status:     domain.DeploymentQueued,
		DeclaredAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	f.deployment = dep

	if withAppDeployment {
		_, err = store.CreateAppDeployment(ctx, domain.AppDeployment{
			DeploymentID:  dep.ID,
			AppID:         tier.ID,
			EnvironmentID: env.ID,
			PackageID:     pkg.ID,
			User:          "releng",
			Status:        domain.AppDeploymentPending,
		})
		require.NoError(t, err)
	} else {
		for _, h := range f.hosts {
			_, err = store.CreateHostDeployment(ctx, domain.HostDeployment{
				DeploymentID: dep.ID,
				HostID:       h.ID,
				PackageID:    pkg.ID,
				User:         "releng",
				Status:       domain.HostDeploymentPending,
			})
			require.NoError(t, err)
		}
	}

	f.daemon = New(store, strategy, nil)
	return f
}

func TestExecute_TierDeploymentCompletes(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	f.daemon.execute(ctx, f.deployment)

	dep, err := f.store.GetDeployment(ctx, f.deployment.ID)
	require.NoError(t, err)
	require.Equal(t, domain.DeploymentComplete, dep.Status)
	require.NotNil(t, dep.RealizedAt)

	ads, err := f.store.ListAppDeploymentsByDeployment(ctx, f.deployment.ID)
	require.NoError(t, err)
	require.Len(t, ads, 1)
	require.Equal(t, domain.AppDeploymentComplete, ads[0].Status)

	hds, err := f.store.ListHostDeploymentsByDeployment(ctx, f.deployment.ID)
	require.NoError(t, err)
	require.Len(t, hds, 2)
	for _, hd := range hds {
		require.Equal(t, domain.HostDeploymentOK, hd.Status)
	}

	// Hostname ascending, not insertion order.
	require.Equal(t, []string{"h1", "h2"}, f.strategy.calls)
}

func TestExecute_PartialFailureRollsUpIncomplete(t *testing.T) {
	f := newFixture(t, true)
	f.strategy.failHosts["h2"] = true
	ctx := context.Background()

	f.daemon.execute(ctx, f.deployment)

	dep, err := f.store.GetDeployment(ctx, f.deployment.ID)
	require.NoError(t, err)
	require.Equal(t, domain.DeploymentIncomplete, dep.Status)

	ads, err := f.store.ListAppDeploymentsByDeployment(ctx, f.deployment.ID)
	require.NoError(t, err)
	require.Equal(t, domain.AppDeploymentIncomplete, ads[0].Status)

	hds, err := f.store.ListHostDeploymentsByDeployment(ctx, f.deployment.ID)
	require.NoError(t, err)
	byHost := map[int64]domain.HostDeployment{}
	for _, hd := range hds {
		byHost[hd.HostID] = hd
	}
	for _, h := range f.hosts {
		hd := byHost[h.ID]
		if h.Hostname == "h2" {
			require.Equal(t, domain.HostDeploymentFailed, hd.Status)
			require.Contains(t, hd.DeployResult, "install failed")
		} else {
			require.Equal(t, domain.HostDeploymentOK, hd.Status)
		}
	}
}

func TestExecute_SkipsHostsAlreadyOK(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	// Pre-mark h1 ok; only h2 should reach the strategy.
	hds, err := f.store.ListHostDeploymentsByDeployment(ctx, f.deployment.ID)
	require.NoError(t, err)
	for _, hd := range hds {
		host, err := f.store.GetHost(ctx, hd.HostID)
		require.NoError(t, err)
		if host.Hostname == "h1" {
			hd.Status = domain.HostDeploymentOK
			_, err = f.store.UpdateHostDeployment(ctx, hd)
			require.NoError(t, err)
		}
	}

	f.daemon.execute(ctx, f.deployment)

	require.Equal(t, []string{"h2"}, f.strategy.calls)
	dep, err := f.store.GetDeployment(ctx, f.deployment.ID)
	require.NoError(t, err)
	require.Equal(t, domain.DeploymentComplete, dep.Status)
}

func TestExecute_WorkerPanicRecordsFailure(t *testing.T) {
	f := newFixture(t, true)
	f.strategy.panicOn = "h1"
	ctx := context.Background()

	f.daemon.execute(ctx, f.deployment)

	dep, err := f.store.GetDeployment(ctx, f.deployment.ID)
	require.NoError(t, err)
	require.Equal(t, domain.DeploymentFailed, dep.Status)
}

func TestStallDetection(t *testing.T) {
	f := newFixture(t, true)
	base := time.Now()
	f.daemon.now = func() time.Time { return base }

	f.daemon.mu.Lock()
	f.daemon.workers[f.deployment.ID] = workerState{workerID: "w1", startedAt: base.Add(-6 * time.Minute)}
	f.daemon.workers[99] = workerState{workerID: "w2", startedAt: base.Add(-1 * time.Minute)}
	f.daemon.mu.Unlock()

	stalled := f.daemon.Stalled()
	require.Equal(t, []int64{f.deployment.ID}, stalled)
}

func TestTick_SpawnsWorkerPerQueuedDeployment(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	f.daemon.tick(ctx)
	f.daemon.wg.Wait()

	dep, err := f.store.GetDeployment(ctx, f.deployment.ID)
	require.NoError(t, err)
	require.Equal(t, domain.DeploymentComplete, dep.Status)
}
