// Package installer implements the installer daemon: a poller that drains
// queued Deployment rows and applies them host-by-host via the injected
// deploy strategy, updating per-host and per-tier status.
package installer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/taggeddeploy/tds/internal/deploystrategy"
	"github.com/taggeddeploy/tds/internal/domain"
	"github.com/taggeddeploy/tds/internal/storage"
	"github.com/taggeddeploy/tds/internal/system"
	"github.com/taggeddeploy/tds/pkg/logger"
	"github.com/taggeddeploy/tds/pkg/metrics"
)

// workerState tracks one in-flight deployment worker for stall detection.
type workerState struct {
	workerID  string
	startedAt time.Time
}

// Daemon polls deployments in status=queued (declared_at ascending), runs
// one worker per deployment, and flags workers that exceed the stall
// threshold without killing them.
type Daemon struct {
	gw          storage.Gateway
	strategy    deploystrategy.Strategy
	interval    time.Duration
	stallAfter  time.Duration
	retryBudget int
	log         *logger.Logger
	now         func() time.Time

	mu      sync.Mutex
	workers map[int64]workerState
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

var _ system.Service = (*Daemon)(nil)

// New builds an installer Daemon with the defaults: 5s poll interval,
// 5m stall threshold, retry budget 4.
func New(gw storage.Gateway, strategy deploystrategy.Strategy, log *logger.Logger) *Daemon {
	if log == nil {
		log = logger.NewDefault("installer")
	}
	return &Daemon{
		gw:          gw,
		strategy:    strategy,
		interval:    5 * time.Second,
		stallAfter:  5 * time.Minute,
		retryBudget: 4,
		log:         log,
		now:         time.Now,
		workers:     map[int64]workerState{},
	}
}

// WithInterval overrides the poll interval.
func (d *Daemon) WithInterval(interval time.Duration) *Daemon {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

// WithStallThreshold overrides the stall detection threshold.
func (d *Daemon) WithStallThreshold(threshold time.Duration) *Daemon {
	if threshold > 0 {
		d.stallAfter = threshold
	}
	return d
}

// WithRetryBudget overrides the per-host deploy retry budget.
func (d *Daemon) WithRetryBudget(n int) *Daemon {
	if n > 0 {
		d.retryBudget = n
	}
	return d
}

func (d *Daemon) Name() string { return "installer" }

func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				d.tick(runCtx)
			}
		}
	}()

	d.log.Info("installer daemon started")
	return nil
}

func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	cancel := d.cancel
	d.running = false
	d.cancel = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.wg.Wait()
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tick polls the queue, spawns a worker per newly observed deployment, and
// reports stalled workers.
func (d *Daemon) tick(ctx context.Context) {
	queued, err := d.gw.ListQueuedDeployments(ctx)
	if err != nil {
		d.log.WithError(err).Warn("poll queued deployments failed")
		return
	}
	metrics.InstallerQueueDepth.Set(float64(len(queued)))

	for _, deployment := range queued {
		d.mu.Lock()
		if _, busy := d.workers[deployment.ID]; busy {
			d.mu.Unlock()
			continue
		}
		state := workerState{workerID: uuid.NewString(), startedAt: d.now()}
		d.workers[deployment.ID] = state
		d.mu.Unlock()

		dep := deployment
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			defer func() {
				d.mu.Lock()
				delete(d.workers, dep.ID)
				d.mu.Unlock()
			}()
			log := d.log.WithField("deployment", dep.ID).WithField("worker", state.workerID)
			log.Info("deployment worker started")
			d.execute(ctx, dep)
		}()
	}

	d.reportStalled()
}

// reportStalled surfaces workers whose started_at + threshold is in the
// past. They are logged and exported, never killed; a stalled worker only
// terminates by completing or by operator intervention.
func (d *Daemon) reportStalled() {
	now := d.now()
	d.mu.Lock()
	stalled := 0
	for deploymentID, state := range d.workers {
		if now.After(state.startedAt.Add(d.stallAfter)) {
			stalled++
			d.log.WithField("deployment", deploymentID).
				WithField("worker", state.workerID).
				WithField("running_for", now.Sub(state.startedAt).String()).
				Warn("deployment worker stalled")
		}
	}
	d.mu.Unlock()
	metrics.InstallerStalledWorkers.Set(float64(stalled))
}

// Stalled returns the deployment IDs currently flagged as stalled, for
// operator tooling.
func (d *Daemon) Stalled() []int64 {
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []int64
	for deploymentID, state := range d.workers {
		if now.After(state.startedAt.Add(d.stallAfter)) {
			out = append(out, deploymentID)
		}
	}
	return out
}

// markFailed records a deployment failed after a worker panic or a
// planning-level error, per the propagation policy: the daemon catches,
// records, and continues.
func (d *Daemon) markFailed(ctx context.Context, deployment domain.Deployment) {
	deployment.Status = domain.DeploymentFailed
	now := d.now().UTC()
	deployment.RealizedAt = &now
	if _, err := d.gw.UpdateDeployment(ctx, deployment); err != nil {
		d.log.WithError(err).WithField("deployment", deployment.ID).Error("record deployment failure failed")
	}
}
