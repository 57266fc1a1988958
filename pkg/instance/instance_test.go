package instance

import "testing"

func TestIDPrefersDyno(t *testing.T) {
	t.Setenv("DYNO", "web.1")
	t.Setenv("COCLEDGER_INSTANCE_ID", "dev-box")
	if got := ID(); got != "web.1" {
		t.Fatalf("expected web.1, got %q", got)
	}
}

func TestIDFallsBackToOverride(t *testing.T) {
	t.Setenv("DYNO", "")
	t.Setenv("COCLEDGER_INSTANCE_ID", "dev-box")
	if got := ID(); got != "dev-box" {
		t.Fatalf("expected dev-box, got %q", got)
	}
}

func TestIDNeverEmpty(t *testing.T) {
	t.Setenv("DYNO", "")
	t.Setenv("COCLEDGER_INSTANCE_ID", "")
	if ID() == "" {
		t.Fatal("expected a non-empty instance id")
	}
}
