// Command tds-server runs the TDS REST surface: the validators guarding
// tier- and host-deployment writes, the current-deployment lookups, and
// the Prometheus metrics endpoint.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/taggeddeploy/tds/internal/config"
	"github.com/taggeddeploy/tds/internal/platform/database"
	"github.com/taggeddeploy/tds/internal/platform/migrations"
	"github.com/taggeddeploy/tds/internal/restapi"
	"github.com/taggeddeploy/tds/internal/storage"
	"github.com/taggeddeploy/tds/internal/storage/memory"
	"github.com/taggeddeploy/tds/internal/storage/postgres"
	"github.com/taggeddeploy/tds/pkg/logger"
	"github.com/taggeddeploy/tds/pkg/metrics"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (defaults to config)")
	dsn := flag.String("dsn", "", "PostgreSQL DSN (overrides config; in-memory storage when empty)")
	runMigrations := flag.Bool("migrate", true, "run embedded database migrations on startup (ignored for in-memory)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := logger.New(logger.LoggingConfig{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: cfg.LogOutput, FilePrefix: "tds-server"})

	rootCtx := context.Background()
	gw, cleanup, err := openGateway(rootCtx, firstNonEmpty(*dsn, cfg.DatabaseDSN), *runMigrations)
	if err != nil {
		log.WithError(err).Fatal("open storage")
	}
	defer cleanup()

	handler := restapi.NewHandler(gw, restapi.NewAuthorizer(cfg.AdminJWTSecret), log)
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", handler.Router())

	listenAddr := firstNonEmpty(*addr, cfg.HTTPAddr)
	server := &http.Server{
		Addr:              listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("addr", listenAddr).Info("tds-server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(rootCtx, 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown")
	}
	log.Info("tds-server stopped")
}

// openGateway opens the configured storage backend: postgres when a DSN is
// set, in-memory otherwise.
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
