// Command tds-ingestd runs the package ingest daemon: the leader-elected
// pipeline that catalogs build artifacts dropped into the incoming
// directory and publishes them into the repository.
package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/taggeddeploy/tds/internal/config"
	"github.com/taggeddeploy/tds/internal/ingest"
	"github.com/taggeddeploy/tds/internal/leader"
	"github.com/taggeddeploy/tds/internal/notify"
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
	log := logger.New(logger.LoggingConfig{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: cfg.LogOutput, FilePrefix: "tds-ingestd"})

	rootCtx := context.Background()
	gw, db, cleanup, err := openGateway(rootCtx, firstNonEmpty(*dsn, cfg.DatabaseDSN), *runMigrations)
	if err != nil {
		log.WithError(err).Fatal("open storage")
	}
	defer cleanup()

	// Single-node mode runs without election; multi-process deployments
	// serialize through a database advisory lock.
	var ldr leader.Leader = leader.NewLocalLeader()
	if !cfg.SingleNode() {
		if db == nil {
			log.Fatal("leader election requires a database-backed store")
		}
		ldr = leader.NewLockLeader(db)
	}

	daemon := ingest.New(gw, ldr, nil, buildDispatcher(cfg), ingest.Dirs{
		Incoming:   cfg.RepoIncoming,
		Processing: cfg.RepoProcessing,
		RepoBase:   cfg.RepoBuildBase,
	}, log).WithInterval(cfg.IngestPollInterval)

	if err := daemon.Start(rootCtx); err != nil {
		log.WithError(err).Fatal("start ingest daemon")
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(rootCtx, 30*time.Second)
	defer cancel()
	if err := daemon.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("stop ingest daemon")
	}
	log.Info("tds-ingestd stopped")
}

// buildDispatcher wires the static notification dispatch table from the
// enabled-methods configuration.
func buildDispatcher(cfg *config.Config) *notify.Dispatcher {
	dispatcher := notify.NewDispatcher(cfg.NotificationMethods)
	if len(cfg.SMTPTo) > 0 {
		dispatcher.Register(notify.MethodEmail, notify.NewEmailTransport(cfg.SMTPAddr, cfg.SMTPFrom, cfg.SMTPTo, nil))
	}
	if cfg.HipChatRoomURL != "" {
		dispatcher.Register(notify.MethodHipChat, notify.NewHipChatTransport(cfg.HipChatRoomURL, cfg.HipChatToken))
	}
	if cfg.GraphiteAddr != "" {
		dispatcher.Register(notify.MethodGraphite, notify.NewGraphiteTransport(cfg.GraphiteAddr))
	}
	return dispatcher
}

func openGateway(ctx context.Context, dsn string, migrate bool) (storage.Gateway, *sql.DB, func(), error) {
	if dsn == "" {
		return memory.New(), nil, func() {}, nil
	}
	db, err := database.Open(ctx, dsn)
	if err != nil {
		return nil, nil, nil, err
	}
	if migrate {
		if err := migrations.Apply(ctx, db); err != nil {
			db.Close()
			return nil, nil, nil, err
		}
	}
	return postgres.New(db), db, func() { db.Close() }, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
