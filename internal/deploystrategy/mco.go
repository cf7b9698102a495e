package deploystrategy

import (
	"context"
	"fmt"

	"github.com/taggeddeploy/tds/pkg/logger"
)

// MCOBus is the remote-exec transport an McoStrategy drives: one RPC call
// per (host, agent, action). Injected as a narrow interface rather than a
// concrete client.
type MCOBus interface {
	RPC(ctx context.Context, bin, host, agent, action string, args map[string]string) (ok bool, output string, err error)
}

// McoStrategy drives deployment through a marionette-collective-style bus:
// one RPC per host, against the configured mco.bin binary.
type McoStrategy struct {
	bin string
	bus MCOBus
	log *logger.Logger
}

// NewMcoStrategy builds a Strategy backed by an MCO-style bus.
func NewMcoStrategy(bin string, bus MCOBus, log *logger.Logger) *McoStrategy {
	if log == nil {
		log = logger.NewDefault("deploystrategy-mco")
	}
	return &McoStrategy{bin: bin, bus: bus, log: log}
}

var _ Strategy = (*McoStrategy)(nil)

func (m *McoStrategy) DeployToHost(ctx context.Context, host, appName, version string, retry int) (bool, string, error) {
	var ok bool
	var output string
	err := withRetry(ctx, retry, func() error {
		var rpcErr error
		ok, output, rpcErr = m.bus.RPC(ctx, m.bin, host, "tds_deploy", "install", map[string]string{
			"application": appName,
			"version":     version,
		})
		if rpcErr != nil {
			return &TransportError{Host: host, Op: "deploy", Err: rpcErr}
		}
		return nil
	})
	if err != nil {
		return false, fmt.Sprintf("mco deploy failed: %v", err), err
	}
	return ok, output, nil
}

func (m *McoStrategy) RestartHost(ctx context.Context, host, appName string, retry int) (bool, string, error) {
	var ok bool
	var output string
	err := withRetry(ctx, retry, func() error {
		var rpcErr error
		ok, output, rpcErr = m.bus.RPC(ctx, m.bin, host, "tds_deploy", "restart", map[string]string{
			"application": appName,
		})
		if rpcErr != nil {
			return &TransportError{Host: host, Op: "restart", Err: rpcErr}
		}
		return nil
	})
	if err != nil {
		return false, fmt.Sprintf("mco restart failed: %v", err), err
	}
	return ok, output, nil
}
