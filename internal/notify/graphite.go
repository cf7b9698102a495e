package notify

import (
	"context"
	"fmt"
	"net"
	"time"
)

// GraphiteTransport writes a one-line plaintext metric over UDP recording
// that a deployment event occurred, selected by the
// notifications.enabled_methods "graphite" option.
type GraphiteTransport struct {
	Addr string
	// dial is overridable in tests.
	dial func(network, addr string) (net.Conn, error)
}

// NewGraphiteTransport builds a GraphiteTransport writing to addr.
func NewGraphiteTransport(addr string) *GraphiteTransport {
	return &GraphiteTransport{Addr: addr, dial: net.Dial}
}

func (t *GraphiteTransport) Send(ctx context.Context, event Event) error {
	if t == nil || t.Addr == "" {
		return nil
	}
	dial := t.dial
	if dial == nil {
		dial = net.Dial
	}
	conn, err := dial("udp", t.Addr)
	if err != nil {
		return fmt.Errorf("dial graphite: %w", err)
	}
	defer conn.Close()

	metric := fmt.Sprintf("tds.deploy.%s.%s %d %d\n", event.Target.Env, event.Action.Subcommand, 1, time.Now().Unix())
	_, err = conn.Write([]byte(metric))
	return err
}
