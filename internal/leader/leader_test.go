package leader

import (
	"context"
	"testing"
)

func TestLocalLeader_RunsImmediately(t *testing.T) {
	var ran bool
	l := NewLocalLeader()
	err := l.Run(context.Background(), func(ctx context.Context) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !ran {
		t.Fatalf("expected fn to run under LocalLeader")
	}
}
