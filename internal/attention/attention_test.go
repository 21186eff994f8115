package attention

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"ain/internal/types"
)

func TestHighestSalienceWins(t *testing.T) {
	m := New()
	m.Signal(types.SourceTemporal, 0.2, 0.2, "background hum", 0)
	m.Signal(types.SourceGoal, 0.5, 0.9, "finish roadmap step", 0)
	m.Signal(types.SourceIntuition, 0.4, 0.3, "something feels off", 0)

	focus := m.Focus()
	if focus == nil {
		t.Fatal("no focus elected")
	}
	// goal: 0.6*0.5 + 0.4*0.9 = 0.66, the strongest bid.
	if focus.Source != types.SourceGoal {
		t.Errorf("focus = %s, want goal", focus.Source)
	}
}

func TestFocusHoldsUntilOutranked(t *testing.T) {
	m := New()
	first := m.Signal(types.SourceGoal, 0.7, 0.7, "steady work", 0)

	m.Signal(types.SourceTemporal, 0.1, 0.1, "weak bid", 0)
	if f := m.Focus(); f == nil || f.ID != first.ID {
		t.Fatal("weak bid displaced the focus")
	}

	strong := m.Signal(types.SourceExternal, 1.0, 1.0, "user message", 0)
	if f := m.Focus(); f == nil || f.ID != strong.ID {
		t.Error("stronger bid did not take focus")
	}
}

func TestTieBreaksOnID(t *testing.T) {
	m := New()
	a := m.Add(types.AttentionSignal{ID: "aaa", Source: types.SourceMeta, Urgency: 0.5, Importance: 0.5})
	m.Add(types.AttentionSignal{ID: "zzz", Source: types.SourceMeta, Urgency: 0.5, Importance: 0.5})

	if f := m.Focus(); f == nil || f.ID != a.ID {
		t.Errorf("tie should elect the lexically smaller id, got %+v", f)
	}
}

func TestTTLExpiryReleasesFocus(t *testing.T) {
	m := New()
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }

	m.Signal(types.SourceExternal, 1.0, 1.0, "urgent but brief", 10*time.Second)
	low := m.Signal(types.SourceGoal, 0.3, 0.3, "long-lived goal", 0)

	clock = clock.Add(11 * time.Second)
	if dropped := m.Tick(); dropped != 1 {
		t.Fatalf("dropped = %d, want 1", dropped)
	}
	if f := m.Focus(); f == nil || f.ID != low.ID {
		t.Errorf("focus = %+v, want the surviving goal signal", f)
	}

	clock = clock.Add(time.Hour)
	m.Tick()
	if f := m.Focus(); f == nil {
		t.Error("zero-TTL signal must never expire")
	}
}

func TestHistoryIsBounded(t *testing.T) {
	m := New()
	for i := 0; i < 30; i++ {
		// Strictly increasing urgency so every add shifts focus.
		m.Signal(types.SourceSystem, float64(i)/30, 0, fmt.Sprintf("bid %d", i), 0)
	}

	hist := m.History()
	if len(hist) != 20 {
		t.Fatalf("history = %d entries, want 20", len(hist))
	}
	if hist[len(hist)-1].Content != "bid 29" {
		t.Errorf("newest shift = %q", hist[len(hist)-1].Content)
	}
	if hist[0].Content != "bid 10" {
		t.Errorf("oldest retained shift = %q", hist[0].Content)
	}
}

func TestFocusChangeNotifies(t *testing.T) {
	m := New()
	var mu sync.Mutex
	var seen []string
	m.OnFocusChange(func(sig types.AttentionSignal) {
		mu.Lock()
		seen = append(seen, sig.Content)
		mu.Unlock()
	})

	m.Signal(types.SourceGoal, 0.5, 0.5, "first", 0)
	m.Signal(types.SourceGoal, 0.2, 0.2, "never wins", 0)
	m.Signal(types.SourceExternal, 0.9, 0.9, "second", 0)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != "first" || seen[1] != "second" {
		t.Errorf("notifications = %v", seen)
	}
}

func TestSignalsRankedDeterministically(t *testing.T) {
	m := New()
	m.Signal(types.SourceTemporal, 0.1, 0.1, "low", 0)
	m.Signal(types.SourceGoal, 0.9, 0.9, "high", 0)
	m.Signal(types.SourceMeta, 0.5, 0.5, "mid", 0)

	ranked := m.Signals()
	want := []string{"high", "mid", "low"}
	for i, sig := range ranked {
		if sig.Content != want[i] {
			t.Errorf("rank %d = %q, want %q", i, sig.Content, want[i])
		}
	}
}

func TestContextFragment(t *testing.T) {
	m := New()
	if got := m.Context(); got != "" {
		t.Errorf("empty manager context = %q", got)
	}

	m.Signal(types.SourceIntuition, 0.8, 0.6, "repeated failures in nexus/core.py", 0)
	m.Signal(types.SourceTemporal, 0.1, 0.1, "tick", 0)

	got := m.Context()
	if !strings.Contains(got, "focus=intuition") {
		t.Errorf("context missing focus source: %q", got)
	}
	if !strings.Contains(got, "repeated failures") {
		t.Errorf("context missing focus content: %q", got)
	}
	if !strings.Contains(got, "1 competing") {
		t.Errorf("context missing queue pressure: %q", got)
	}
}

func TestInputsAreClamped(t *testing.T) {
	m := New()
	sig := m.Signal(types.SourceSystem, 4.2, -1.0, "out of range", 0)
	if sig.Urgency != 1.0 || sig.Importance != 0.0 {
		t.Errorf("clamped = %+v", sig)
	}
	if s := sig.Salience(); s != 0.6 {
		t.Errorf("salience = %v, want 0.6", s)
	}
}
