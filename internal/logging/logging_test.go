package logging

import (
	"context"
	"testing"
)

func TestRunIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := RunID(ctx); got != "" {
		t.Errorf("RunID of bare context = %q, want empty", got)
	}

	ctx = WithRunID(ctx, "abc123")
	if got := RunID(ctx); got != "abc123" {
		t.Errorf("RunID = %q", got)
	}
}

func TestGenerateRunID(t *testing.T) {
	a := GenerateRunID()
	b := GenerateRunID()
	if len(a) != 16 {
		t.Errorf("run id length = %d, want 16 hex chars", len(a))
	}
	if a == b {
		t.Errorf("consecutive run ids collide: %s", a)
	}
}
