// Package leader provides the Leader capability the ingest daemon runs
// under. Election is injected as a narrow interface so the daemon stays
// testable without a coordination service.
package leader

import "context"

// Leader guarantees fn executes in at most one process at a time.
type Leader interface {
	Run(ctx context.Context, fn func(ctx context.Context) error) error
}

// LocalLeader always runs fn directly. Used when the `zookeeper`
// configuration list is absent, i.e. single-node mode with no election.
type LocalLeader struct{}

// NewLocalLeader returns a Leader that never contends with another process.
func NewLocalLeader() *LocalLeader { return &LocalLeader{} }

func (LocalLeader) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

var _ Leader = LocalLeader{}
