package types

import (
	"testing"
	"time"
)

func TestIsSingleValuePredicate(t *testing.T) {
	tests := []struct {
		predicate string
		want      bool
	}{
		{"works_at", true},
		{"WORKS_AT", true},
		{"  lives_in ", true},
		{"likes", false},
		{"knows", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsSingleValuePredicate(tt.predicate); got != tt.want {
			t.Errorf("IsSingleValuePredicate(%q) = %v, want %v", tt.predicate, got, tt.want)
		}
	}
}

func TestNormalizeObject(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Anthropic", "anthropic"},
		{"  Anthropic  PBC ", "anthropic pbc"},
		{"ANTHROPIC", "anthropic"},
	}
	for _, tt := range tests {
		if got := NormalizeObject(tt.in); got != tt.want {
			t.Errorf("NormalizeObject(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeName(t *testing.T) {
	if got := NormalizeName("  Marcus   Chen "); got != "marcus chen" {
		t.Errorf("NormalizeName() = %q, want %q", got, "marcus chen")
	}
}

func TestFactTimeAxes(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	invalidated := base.Add(48 * time.Hour)
	f := Fact{
		ValidFrom:     base.Add(-30 * 24 * time.Hour), // true in the world for a month
		CreatedAt:     base,                           // learned on Mar 1
		InvalidatedAt: &invalidated,                   // unlearned on Mar 3
	}

	// Before the system learned it: valid in the world, but unknown.
	asOf := base.Add(-time.Hour)
	if !f.ValidAt(asOf) {
		t.Error("ValidAt before CreatedAt: got false, want true")
	}
	if f.KnownAt(asOf) {
		t.Error("KnownAt before CreatedAt: got true, want false")
	}

	// Between learning and unlearning: both.
	asOf = base.Add(24 * time.Hour)
	if !f.ValidAt(asOf) || !f.KnownAt(asOf) {
		t.Error("mid-window: want valid and known")
	}

	// After invalidation: still valid in the world, no longer known.
	asOf = invalidated.Add(time.Hour)
	if f.KnownAt(asOf) {
		t.Error("KnownAt after invalidation: got true, want false")
	}
}

func TestOrderPair(t *testing.T) {
	a, b := OrderPair("zeta", "alpha")
	if a != "alpha" || b != "zeta" {
		t.Errorf("OrderPair: got (%q, %q), want (alpha, zeta)", a, b)
	}
	a, b = OrderPair("alpha", "zeta")
	if a != "alpha" || b != "zeta" {
		t.Errorf("OrderPair already ordered: got (%q, %q)", a, b)
	}
}

func TestPushContextBounded(t *testing.T) {
	var e Entity
	for i := 0; i < 20; i++ {
		e.PushContext("snippet")
	}
	if len(e.RecentContexts) > maxRecentContexts {
		t.Errorf("context ring unbounded: %d entries", len(e.RecentContexts))
	}
	e.PushContext("   ")
	e.PushContext("")
	for _, c := range e.RecentContexts {
		if c == "" {
			t.Error("empty snippet stored in context ring")
		}
	}
}
