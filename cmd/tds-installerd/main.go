// Command tds-installerd runs the installer daemon: it drains queued
// deployments from the database and applies them host-by-host via the
// configured deploy strategy.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/taggeddeploy/tds/internal/config"
	"github.com/taggeddeploy/tds/internal/deploystrategy"
	"github.com/taggeddeploy/tds/internal/installer"
	"github.com/taggeddeploy/tds/internal/platform/database"
	"github.com/taggeddeploy/tds/internal/platform/migrations"
	"github.com/taggeddeploy/tds/internal/storage"
	"github.com/taggeddeploy/tds/internal/storage/memory"
	"github.com/taggeddeploy/tds/internal/storage/postgres"
	"github.com/taggeddeploy/tds/pkg/logger"
)

func main() {
	dsn := flag.String("dsn", "", "PostgreSQL DSN (overrides config; in-memory storage when empty)")
	runMigrations := flag.Bool("migrate", false, "run embedded database migrations on startup")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := logger.New(logger.LoggingConfig{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: cfg.LogOutput, FilePrefix: "tds-installerd"})

	rootCtx := context.Background()
	gw, cleanup, err := openGateway(rootCtx, firstNonEmpty(*dsn, cfg.DatabaseDSN), *runMigrations)
	if err != nil {
		log.WithError(err).Fatal("open storage")
	}
	defer cleanup()

	strategy := buildStrategy(cfg, log)
	daemon := installer.New(gw, strategy, log).
		WithInterval(cfg.InstallerPollInterval).
		WithStallThreshold(cfg.InstallerStallAfter).
		WithRetryBudget(cfg.InstallerRetryBudget)

	if err := daemon.Start(rootCtx); err != nil {
		log.WithError(err).Fatal("start installer daemon")
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(rootCtx, 30*time.Second)
	defer cancel()
	if err := daemon.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("stop installer daemon")
	}
	log.Info("tds-installerd stopped")
}

// buildStrategy selects the transport variant per the deploy_strategy
// configuration option.
func buildStrategy(cfg *config.Config, log *logger.Logger) deploystrategy.Strategy {
	switch cfg.DeployStrategy {
	case config.DeployStrategySalt:
		return deploystrategy.NewSaltStrategy(deploystrategy.NewHTTPSaltBus(cfg.SaltMasterURL, cfg.SaltAPIToken), log)
	default:
		return deploystrategy.NewMcoStrategy(cfg.MCOBin, deploystrategy.ExecMCOBus{}, log)
	}
}

func openGateway(ctx context.Context, dsn string, migrate bool) (storage.Gateway, func(), error) {
	if dsn == "" {
		return memory.New(), func() {}, nil
	}
	db, err := database.Open(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	if migrate {
		if err := migrations.Apply(ctx, db); err != nil {
			db.Close()
			return nil, nil, err
		}
	}
	return postgres.New(db), func() { db.Close() }, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
