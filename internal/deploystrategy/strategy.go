// Package deploystrategy implements the pluggable remote-execution
// capability the controller and the installer daemon drive one host at a
// time. A Strategy never touches the repository; it is pure I/O.
package deploystrategy

import (
	"context"
	"time"

	"github.com/taggeddeploy/tds/internal/core"
)

// Strategy applies package versions to hosts and restarts applications on
// them. retry is an integer budget consumed on transport-level failure
// only; an application-reported failure is terminal and is not retried.
type Strategy interface {
	DeployToHost(ctx context.Context, host, appName, version string, retry int) (ok bool, diagnostic string, err error)
	RestartHost(ctx context.Context, host, appName string, retry int) (ok bool, diagnostic string, err error)
}

// TransportError signals a transport-level failure eligible for retry, as
// opposed to an application-reported (terminal) failure.
type TransportError struct {
	Host string
	Op   string
	Err  error
}

func (e *TransportError) Error() string {
	return "transport failure: " + e.Op + " " + e.Host + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// withRetry converts an integer retry budget into a
// core.RetryPolicy with a short fixed backoff between transport attempts.
// It is shared by both strategy variants.
func withRetry(ctx context.Context, retry int, fn func() error) error {
	if retry <= 0 {
		retry = 1
	}
	policy := core.NewRetryPolicy(retry, 200*time.Millisecond)
	return core.Retry(ctx, policy, fn)
}
