// Package notify implements the notification event envelope and a static
// dispatch table over it, keyed by an enumerated transport method.
package notify

import "context"

// Method enumerates the notification transports the
// notifications.enabled_methods configuration option selects among.
type Method string

const (
	MethodEmail    Method = "email"
	MethodHipChat  Method = "hipchat"
	MethodGraphite Method = "graphite"
)

// Action names the command/subcommand pair that triggered an event, e.g.
// {command: "deploy", subcommand: "promote"}.
type Action struct {
	Command    string
	Subcommand string
}

// Target names what an event was aimed at.
type Target struct {
	Env      string
	AppTypes []string
	Hosts    []string
}

// Event is the single notification envelope emitted by the controller and
// the ingest daemon. Delivery is delegated to a Transport; the core's
// responsibility ends at building and dispatching the Event.
type Event struct {
	Actor   string
	Action  Action
	Project string
	Package string
	Target  Target
}

// Transport delivers an Event over one concrete channel.
type Transport interface {
	Send(ctx context.Context, event Event) error
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, event Event) error

func (f TransportFunc) Send(ctx context.Context, event Event) error { return f(ctx, event) }

// Dispatcher holds a static {Method: Transport} table and enforces the
// enabled-methods allowlist.
type Dispatcher struct {
	enabled    map[Method]bool
	transports map[Method]Transport
}

// NewDispatcher builds a Dispatcher restricted to the given enabled
// methods. Transports are registered afterward via Register.
func NewDispatcher(enabled []Method) *Dispatcher {
	set := make(map[Method]bool, len(enabled))
	for _, m := range enabled {
		set[m] = true
	}
	return &Dispatcher{
		enabled:    set,
		transports: make(map[Method]Transport),
	}
}

// Register wires a concrete Transport for a Method into the static
// dispatch table.
func (d *Dispatcher) Register(method Method, transport Transport) {
	d.transports[method] = transport
}

// Dispatch sends event over every enabled, registered transport. It
// collects and returns the first error encountered but attempts every
// transport regardless; delivery is best-effort.
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) error {
	var firstErr error
	for method := range d.enabled {
		transport, ok := d.transports[method]
		if !ok || transport == nil {
			continue
		}
		if err := transport.Send(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
