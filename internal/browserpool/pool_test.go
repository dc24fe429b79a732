package browserpool

import (
	"testing"

	"github.com/haasonsaas/agentserver/internal/obs"
)

func TestNew_ClampsCapacity(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{in: 0, want: 3},
		{in: 1, want: 3},
		{in: 3, want: 3},
		{in: 5, want: 5},
		{in: 8, want: 8},
		{in: 20, want: 8},
	}
	for _, tt := range tests {
		p := New(Config{Capacity: tt.in}, obs.NewNoopMetrics())
		if p.cfg.Capacity != tt.want {
			t.Errorf("Capacity(%d) = %d, want %d", tt.in, p.cfg.Capacity, tt.want)
		}
	}
}

func TestNew_FillsViewportAndTimeoutDefaults(t *testing.T) {
	p := New(Config{Capacity: 5}, obs.NewNoopMetrics())
	if p.cfg.ViewportWidth == 0 || p.cfg.ViewportHeight == 0 {
		t.Errorf("expected default viewport dimensions, got %dx%d", p.cfg.ViewportWidth, p.cfg.ViewportHeight)
	}
	if p.cfg.PageTimeout == 0 {
		t.Errorf("expected a default page timeout")
	}
}

func TestPool_ReleaseReturnsInstanceToAvailablePool(t *testing.T) {
	p := New(Config{Capacity: 3}, obs.NewNoopMetrics())
	p.created = 1
	inst := &instance{id: "fake-1"}

	lease := &Lease{pool: p, inst: inst}
	lease.Release(true)

	stats := p.Stats()
	if stats.Available != 1 {
		t.Errorf("Available = %d, want 1 after a successful release", stats.Available)
	}

	// Releasing twice must be a no-op.
	lease.Release(true)
	stats = p.Stats()
	if stats.Available != 1 {
		t.Errorf("Available = %d after double-release, want still 1", stats.Available)
	}
}

func TestPool_DiscardDecrementsCreatedWithoutReturningToPool(t *testing.T) {
	p := New(Config{Capacity: 3}, obs.NewNoopMetrics())
	p.created = 1
	inst := &instance{id: "fake-1"}

	lease := &Lease{pool: p, inst: inst}
	lease.Release(false)

	stats := p.Stats()
	if stats.Available != 0 {
		t.Errorf("Available = %d, want 0 after a discarded release", stats.Available)
	}
	if p.created != 0 {
		t.Errorf("created = %d, want 0 after discard", p.created)
	}
}

func TestNormalizeRemoteURL(t *testing.T) {
	tests := map[string]string{
		"":                      "",
		"ws://host:1234":        "ws://host:1234",
		"http://host:1234":      "ws://host:1234",
		"https://host:1234":     "wss://host:1234",
	}
	for in, want := range tests {
		if got := normalizeRemoteURL(in); got != want {
			t.Errorf("normalizeRemoteURL(%q) = %q, want %q", in, got, want)
		}
	}
}
