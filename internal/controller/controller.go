// Package controller implements the deployment controller: the decision
// engine that, given a promote/redeploy/rollback/invalidate/validate/
// restart request, computes per-tier and per-host work, enforces
// environment-progression gating, and drives the per-host execution loop
// with progress, retries, and partial-failure accounting. One file per
// operation, plus shared planning primitives here and in planning.go.
package controller

import (
	"time"

	"github.com/taggeddeploy/tds/internal/deploystrategy"
	"github.com/taggeddeploy/tds/internal/notify"
	"github.com/taggeddeploy/tds/internal/storage"
	"github.com/taggeddeploy/tds/pkg/logger"
)

// HostResult reports the outcome of a single host's apply, the leaf unit
// of progress.
type HostResult struct {
	Host       string
	TierID     int64
	OK         bool
	Diagnostic string
}

// ProgressFunc is the presentational hook: the controller only exposes a
// callback, and the CLI renders the progress bar.
type ProgressFunc func(current, total int, last HostResult)

// Controller is the deployment decision engine. One Controller serves
// every operation (promote/redeploy/rollback/invalidate/validate/restart)
// against a single Gateway and Strategy.
type Controller struct {
	gw       storage.Gateway
	strategy deploystrategy.Strategy
	notifier *notify.Dispatcher
	log      *logger.Logger

	// retryBudget bounds per-host deploy-strategy invocations (default 4).
	retryBudget int
}

// New builds a Controller.
func New(gw storage.Gateway, strategy deploystrategy.Strategy, notifier *notify.Dispatcher, log *logger.Logger) *Controller {
	if log == nil {
		log = logger.NewDefault("controller")
	}
	return &Controller{gw: gw, strategy: strategy, notifier: notifier, log: log, retryBudget: 4}
}

// WithRetryBudget overrides the default per-host retry budget.
func (c *Controller) WithRetryBudget(n int) *Controller {
	if n > 0 {
		c.retryBudget = n
	}
	return c
}

// noopProgress is used when a caller passes a nil ProgressFunc.
func noopProgress(int, int, HostResult) {}

func sleepBetweenHosts(delay time.Duration) {
	if delay > 0 {
		time.Sleep(delay)
	}
}
