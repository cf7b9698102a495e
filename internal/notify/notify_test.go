package notify

import (
	"context"
	"errors"
	"testing"
)

func TestDispatcher_OnlyInvokesEnabledMethods(t *testing.T) {
	var emailCalls, hipchatCalls int
	d := NewDispatcher([]Method{MethodEmail})
	d.Register(MethodEmail, TransportFunc(func(ctx context.Context, e Event) error {
		emailCalls++
		return nil
	}))
	d.Register(MethodHipChat, TransportFunc(func(ctx context.Context, e Event) error {
		hipchatCalls++
		return nil
	}))

	if err := d.Dispatch(context.Background(), Event{Actor: "alice"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if emailCalls != 1 {
		t.Fatalf("expected email transport invoked once, got %d", emailCalls)
	}
	if hipchatCalls != 0 {
		t.Fatalf("expected disabled hipchat transport not invoked, got %d", hipchatCalls)
	}
}

func TestDispatcher_ReturnsFirstErrorButTriesAll(t *testing.T) {
	var graphiteCalled bool
	d := NewDispatcher([]Method{MethodEmail, MethodGraphite})
	d.Register(MethodEmail, TransportFunc(func(ctx context.Context, e Event) error {
		return errors.New("smtp down")
	}))
	d.Register(MethodGraphite, TransportFunc(func(ctx context.Context, e Event) error {
		graphiteCalled = true
		return nil
	}))

	err := d.Dispatch(context.Background(), Event{})
	if err == nil {
		t.Fatalf("expected an error to surface")
	}
	if !graphiteCalled {
		t.Fatalf("expected graphite transport to still run after email failed")
	}
}
