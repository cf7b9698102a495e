// Package ingest implements the package ingest daemon: a leader-elected
// pipeline that moves incoming build artifacts through incoming ->
// processing -> repository, updating each artifact's Package status and
// regenerating the repository index. The daemon is the
// sole writer of non-pending package statuses and the only mutator of the
// staging directories.
package ingest

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/taggeddeploy/tds/internal/domain"
	"github.com/taggeddeploy/tds/internal/leader"
	"github.com/taggeddeploy/tds/internal/notify"
	"github.com/taggeddeploy/tds/internal/storage"
	"github.com/taggeddeploy/tds/internal/system"
	"github.com/taggeddeploy/tds/pkg/logger"
	"github.com/taggeddeploy/tds/pkg/metrics"
)

// IndexBuilder regenerates the repository index after a batch lands.
type IndexBuilder interface {
	Rebuild(ctx context.Context) error
}

// MakeIndexBuilder rebuilds the index with an external make invocation in
// the repository build base, under umask 0002 so group writes survive.
type MakeIndexBuilder struct {
	Dir string
}

func (b MakeIndexBuilder) Rebuild(ctx context.Context) error {
	old := syscall.Umask(0o002)
	defer syscall.Umask(old)
	cmd := exec.CommandContext(ctx, "make")
	cmd.Dir = b.Dir
	if out, err := cmd.CombinedOutput(); err != nil {
		return domain.Wrap(domain.KindFatal, err, "repository index rebuild: %s", string(out))
	}
	return nil
}

// Dirs names the filesystem staging layout.
type Dirs struct {
	Incoming   string
	Processing string
	RepoBase   string
}

// Daemon is the package ingest daemon. It implements system.Service and
// runs its tick loop under the injected Leader capability.
type Daemon struct {
	gw       storage.Gateway
	ldr      leader.Leader
	index    IndexBuilder
	notifier *notify.Dispatcher
	dirs     Dirs
	interval time.Duration
	log      *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

var _ system.Service = (*Daemon)(nil)

// New builds an ingest Daemon. A nil index defaults to make in RepoBase.
func New(gw storage.Gateway, ldr leader.Leader, index IndexBuilder, notifier *notify.Dispatcher, dirs Dirs, log *logger.Logger) *Daemon {
	if log == nil {
		log = logger.NewDefault("ingest")
	}
	if ldr == nil {
		ldr = leader.NewLocalLeader()
	}
	if index == nil {
		index = MakeIndexBuilder{Dir: dirs.RepoBase}
	}
	return &Daemon{
		gw:       gw,
		ldr:      ldr,
		index:    index,
		notifier: notifier,
		dirs:     dirs,
		interval: 10 * time.Second,
		log:      log,
	}
}

// WithInterval overrides the tick interval.
func (d *Daemon) WithInterval(interval time.Duration) *Daemon {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

func (d *Daemon) Name() string { return "package-ingest" }

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
		err := d.ldr.Run(runCtx, func(ctx context.Context) error {
			ticker := time.NewTicker(d.interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
					if err := d.ProcessBatch(ctx); err != nil {
						d.log.WithError(err).Warn("ingest batch failed")
					}
				}
			}
		})
		if err != nil && runCtx.Err() == nil {
			d.log.WithError(err).Error("leader loop exited")
		}
	}()

	d.log.Info("package ingest daemon started")
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

// staged is one artifact that survived the incoming -> processing move and
// is awaiting its final batch status.
type staged struct {
	artifact   Artifact
	pkg        domain.Package
	stagedPath string
}

// ProcessBatch runs one full tick of the ingest pipeline. Exported so
// tests and one-shot tooling can drive a tick without the ticker loop.
func (d *Daemon) ProcessBatch(ctx context.Context) error {
	batchID := uuid.NewString()
	log := d.log.WithField("batch", batchID)

	entries, err := os.ReadDir(d.dirs.Incoming)
	if err != nil {
		return domain.Wrap(domain.KindFatal, err, "list incoming directory")
	}

	var batch []staged
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		filename := entry.Name()
		incomingPath := filepath.Join(d.dirs.Incoming, filename)

		artifact, err := ParseArtifact(filename)
		if err != nil {
			log.WithError(err).WithField("file", filename).Warn("unparsable artifact dropped")
			d.reportBadDrop(ctx, filename)
			d.removeFile(incomingPath)
			metrics.IngestPackagesTotal.WithLabelValues("invalid").Inc()
			continue
		}

		pkg, err := d.lookupPackage(ctx, artifact)
		if err != nil {
			log.WithError(err).WithField("file", filename).Warn("no package record for artifact; dropping")
			d.reportBadDrop(ctx, filename)
			d.removeFile(incomingPath)
			metrics.IngestPackagesTotal.WithLabelValues("missing_record").Inc()
			continue
		}

		stagedPath := filepath.Join(d.dirs.Processing, filename)
		if err := os.Rename(incomingPath, stagedPath); err != nil {
			log.WithError(err).WithField("file", filename).Error("move to processing failed")
			d.failPackage(ctx, pkg.ID)
			d.removeFile(incomingPath)
			metrics.IngestPackagesTotal.WithLabelValues("failed").Inc()
			continue
		}
		if err := d.gw.UpdatePackageStatus(ctx, pkg.ID, domain.PackageProcessing); err != nil {
			log.WithError(err).WithField("package", pkg.ID).Warn("mark processing failed")
		}
		batch = append(batch, staged{artifact: artifact, pkg: pkg, stagedPath: stagedPath})
	}

	if len(batch) == 0 {
		return nil
	}

	// Copy each staged file into the repository, retrying once after a
	// brief pause; a second failure marks that package failed and drops it
	// from the batch.
	var copied []staged
	for _, s := range batch {
		dest := filepath.Join(d.dirs.RepoBase, string(s.artifact.Arch), s.artifact.Filename)
		if err := copyWithRetry(s.stagedPath, dest); err != nil {
			log.WithError(err).WithField("file", s.artifact.Filename).Error("repository copy failed twice")
			d.failPackage(ctx, s.pkg.ID)
			d.removeFile(s.stagedPath)
			metrics.IngestPackagesTotal.WithLabelValues("failed").Inc()
			continue
		}
		copied = append(copied, s)
	}
	if len(copied) == 0 {
		metrics.IngestBatchesTotal.WithLabelValues("failed").Inc()
		return nil
	}

	finalStatus := domain.PackageCompleted
	if err := d.index.Rebuild(ctx); err != nil {
		log.WithError(err).Warn("index rebuild failed; retrying")
		if err := d.index.Rebuild(ctx); err != nil {
			log.WithError(err).Error("index rebuild failed twice; batch failed")
			finalStatus = domain.PackageFailed
		}
	}

	for _, s := range copied {
		if err := d.gw.UpdatePackageStatus(ctx, s.pkg.ID, finalStatus); err != nil {
			log.WithError(err).WithField("package", s.pkg.ID).Warn("final status update failed")
		}
		d.removeFile(s.stagedPath)
		metrics.IngestPackagesTotal.WithLabelValues(string(finalStatus)).Inc()
	}
	metrics.IngestBatchesTotal.WithLabelValues(string(finalStatus)).Inc()
	log.WithField("packages", len(copied)).WithField("status", finalStatus).Info("ingest batch finished")
	return nil
}

// lookupPackage resolves the Package row an artifact corresponds to.
func (d *Daemon) lookupPackage(ctx context.Context, artifact Artifact) (domain.Package, error) {
	app, err := d.gw.GetApplicationByName(ctx, artifact.Name)
	if err != nil {
		return domain.Package{}, err
	}
	return d.gw.GetPackageByVersion(ctx, app.ID, artifact.Version, artifact.Revision)
}

// reportBadDrop emails the operators about an artifact with no matching
// package record before the file is removed.
func (d *Daemon) reportBadDrop(ctx context.Context, filename string) {
	if d.notifier == nil {
		return
	}
	event := notify.Event{
		Actor:   "ingest",
		Action:  notify.Action{Command: "package", Subcommand: "missing_record"},
		Package: filename,
	}
	if err := d.notifier.Dispatch(ctx, event); err != nil {
		d.log.WithError(err).Warn("missing-record notification failed")
	}
}

func (d *Daemon) failPackage(ctx context.Context, id int64) {
	if err := d.gw.UpdatePackageStatus(ctx, id, domain.PackageFailed); err != nil {
		d.log.WithError(err).WithField("package", id).Warn("mark failed failed")
	}
}

func (d *Daemon) removeFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		d.log.WithError(err).WithField("path", path).Warn("remove failed")
	}
}

// copyWithRetry copies src to dest, retrying once after a brief pause.
func copyWithRetry(src, dest string) error {
	if err := copyFile(src, dest); err != nil {
		time.Sleep(time.Second)
		return copyFile(src, dest)
	}
	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dest), 0o775); err != nil {
		return err
	}
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
