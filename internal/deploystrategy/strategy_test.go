package deploystrategy

import (
	"context"
	"errors"
	"testing"
)

type flakyMCOBus struct {
	failuresLeft int
}

func (b *flakyMCOBus) RPC(ctx context.Context, bin, host, agent, action string, args map[string]string) (bool, string, error) {
	if b.failuresLeft > 0 {
		b.failuresLeft--
		return false, "", errors.New("connection refused")
	}
	return true, "installed " + args["version"] + " on " + host, nil
}

func TestMcoStrategy_RetriesTransportFailure(t *testing.T) {
	bus := &flakyMCOBus{failuresLeft: 2}
	strategy := NewMcoStrategy("/usr/bin/mco", bus, nil)

	ok, diag, err := strategy.DeployToHost(context.Background(), "h1", "app1", "1", 4)
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if !ok {
		t.Fatalf("expected ok=true, got diagnostic %q", diag)
	}
}

func TestMcoStrategy_ExhaustsRetryBudget(t *testing.T) {
	bus := &flakyMCOBus{failuresLeft: 5}
	strategy := NewMcoStrategy("/usr/bin/mco", bus, nil)

	_, _, err := strategy.DeployToHost(context.Background(), "h1", "app1", "1", 2)
	if err == nil {
		t.Fatalf("expected retry budget exhaustion to surface an error")
	}
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected TransportError, got %T", err)
	}
}

type recordingSaltBus struct {
	requests []SaltRequest
}

func (b *recordingSaltBus) Execute(ctx context.Context, req SaltRequest) (bool, string, error) {
	b.requests = append(b.requests, req)
	return true, "ok", nil
}

func TestSaltStrategy_BuildsRequestFromHostAppVersion(t *testing.T) {
	bus := &recordingSaltBus{}
	strategy := NewSaltStrategy(bus, nil)

	ok, _, err := strategy.DeployToHost(context.Background(), "h2", "app2", "7", 1)
	if err != nil || !ok {
		t.Fatalf("unexpected result: ok=%v err=%v", ok, err)
	}
	if len(bus.requests) != 1 {
		t.Fatalf("expected one request, got %d", len(bus.requests))
	}
	req := bus.requests[0]
	if req.Target != "h2" || req.Function != "tds.deploy" || req.Args["version"] != "7" {
		t.Fatalf("unexpected request shape: %+v", req)
	}
}
