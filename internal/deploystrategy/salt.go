package deploystrategy

import (
	"context"
	"fmt"

	"github.com/taggeddeploy/tds/pkg/logger"
)

// SaltRequest is the JSON-RPC-ish shape a SaltBus sends, built from the
// host/app/version triple.
type SaltRequest struct {
	Target   string            `json:"tgt"`
	Function string            `json:"fun"`
	Args     map[string]string `json:"arg"`
}

// SaltBus is the transport a SaltStrategy drives: a single RPC-shaped call
// per host, returning the minion's reported success and any free-form
// diagnostic text.
type SaltBus interface {
	Execute(ctx context.Context, req SaltRequest) (ok bool, output string, err error)
}

// SaltStrategy drives deployment through a salt-like bus with the same
// Strategy contract as McoStrategy but a different wire shape.
type SaltStrategy struct {
	bus SaltBus
	log *logger.Logger
}

// NewSaltStrategy builds a Strategy backed by a salt-style bus.
func NewSaltStrategy(bus SaltBus, log *logger.Logger) *SaltStrategy {
	if log == nil {
		log = logger.NewDefault("deploystrategy-salt")
	}
	return &SaltStrategy{bus: bus, log: log}
}

var _ Strategy = (*SaltStrategy)(nil)

func (s *SaltStrategy) DeployToHost(ctx context.Context, host, appName, version string, retry int) (bool, string, error) {
	var ok bool
	var output string
	err := withRetry(ctx, retry, func() error {
		var rpcErr error
		ok, output, rpcErr = s.bus.Execute(ctx, SaltRequest{
			Target:   host,
			Function: "tds.deploy",
			Args:     map[string]string{"application": appName, "version": version},
		})
		if rpcErr != nil {
			return &TransportError{Host: host, Op: "deploy", Err: rpcErr}
		}
		return nil
	})
	if err != nil {
		return false, fmt.Sprintf("salt deploy failed: %v", err), err
	}
	return ok, output, nil
}

func (s *SaltStrategy) RestartHost(ctx context.Context, host, appName string, retry int) (bool, string, error) {
	var ok bool
	var output string
	err := withRetry(ctx, retry, func() error {
		var rpcErr error
		ok, output, rpcErr = s.bus.Execute(ctx, SaltRequest{
			Target:   host,
			Function: "tds.restart",
			Args:     map[string]string{"application": appName},
		})
		if rpcErr != nil {
			return &TransportError{Host: host, Op: "restart", Err: rpcErr}
		}
		return nil
	})
	if err != nil {
		return false, fmt.Sprintf("salt restart failed: %v", err), err
	}
	return ok, output, nil
}
