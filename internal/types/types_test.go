package types

import (
	"testing"
	"time"
)

func TestSalienceWeights(t *testing.T) {
	s := AttentionSignal{Urgency: 1.0, Importance: 0.5}
	got := s.Salience()
	want := 0.6*1.0 + 0.4*0.5
	if got != want {
		t.Fatalf("salience = %v, want %v", got, want)
	}
}

func TestSalienceClampsInputs(t *testing.T) {
	s := AttentionSignal{Urgency: 2.0, Importance: -1.0}
	if got := s.Salience(); got != 0.6 {
		t.Fatalf("salience with out-of-range inputs = %v, want 0.6", got)
	}
}

func TestSignalExpiry(t *testing.T) {
	now := time.Now()
	s := AttentionSignal{CreatedAt: now.Add(-10 * time.Second), TTL: 5 * time.Second}
	if !s.Expired(now) {
		t.Fatal("signal past its TTL should be expired")
	}

	fresh := AttentionSignal{CreatedAt: now, TTL: 5 * time.Second}
	if fresh.Expired(now) {
		t.Fatal("fresh signal should not be expired")
	}

	eternal := AttentionSignal{CreatedAt: now.Add(-time.Hour), TTL: 0}
	if eternal.Expired(now) {
		t.Fatal("zero TTL should never expire")
	}
}

func TestSignalExpiryBoundaryIsInclusive(t *testing.T) {
	now := time.Now()
	s := AttentionSignal{CreatedAt: now.Add(-5 * time.Second), TTL: 5 * time.Second}
	if !s.Expired(now) {
		t.Fatal("now - created_at == ttl must count as expired")
	}
}

func TestSomaticClamp(t *testing.T) {
	s := &SomaticState{Arousal: 1.7, Valence: -3, Fatigue: -0.2, Stress: 0.4}
	s.Clamp()
	if s.Arousal != 1 || s.Valence != -1 || s.Fatigue != 0 || s.Stress != 0.4 {
		t.Fatalf("clamp produced %+v", s)
	}
}

func TestEventIDsSortByTime(t *testing.T) {
	a := NewEventID()
	time.Sleep(2 * time.Millisecond)
	b := NewEventID()
	if !(a < b) {
		t.Fatalf("event ids must sort by creation time: %s !< %s", a, b)
	}
}

func TestResourceStatusConstrained(t *testing.T) {
	for _, tc := range []struct {
		status ResourceStatus
		want   bool
	}{
		{ResourceAbundant, false},
		{ResourceAdequate, false},
		{ResourceScarce, true},
		{ResourceCritical, true},
	} {
		if got := tc.status.Constrained(); got != tc.want {
			t.Fatalf("Constrained(%s) = %v, want %v", tc.status, got, tc.want)
		}
	}
}

func TestDefaultRuntimeParameters(t *testing.T) {
	p := DefaultRuntimeParameters()
	if p.EvolutionInterval != 3600*time.Second {
		t.Fatalf("default evolution interval = %v", p.EvolutionInterval)
	}
	if p.ActiveMode != ModeNormal {
		t.Fatalf("default mode = %v", p.ActiveMode)
	}
	if p.BurstMode {
		t.Fatal("burst must be off by default")
	}
}
