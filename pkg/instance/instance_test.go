package instance

import "testing"

func TestIDPrefersExplicitInstance(t *testing.T) {
	t.Setenv(envInstanceID, "dispatcher-2")
	t.Setenv(envDyno, "web.1")
	if got := ID(); got != "dispatcher-2" {
		t.Fatalf("expected explicit id, got %q", got)
	}
}

func TestIDFallsBackToDyno(t *testing.T) {
	t.Setenv(envInstanceID, "")
	t.Setenv(envDyno, "worker.3")
	if got := ID(); got != "worker.3" {
		t.Fatalf("expected dyno id, got %q", got)
	}
}

func TestIDNeverEmpty(t *testing.T) {
	t.Setenv(envInstanceID, "")
	t.Setenv(envDyno, "")
	if ID() == "" {
		t.Fatal("expected a non-empty id")
	}
}
