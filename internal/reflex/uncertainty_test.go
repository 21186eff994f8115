package reflex

import (
	"fmt"
	"testing"

	"ain/internal/types"
)

func TestNoPatternNovelKeyIsUncertain(t *testing.T) {
	q := NewQuantifier()
	got := q.Assess("brand new territory", Evidence{})
	// 0.4 + 0.25 (no pattern) + 0.15 (novel) = 0.8.
	if got.Score < types.ForceDeliberationThreshold {
		t.Errorf("score = %.3f, want over the deliberation bar", got.Score)
	}
	wantSources := map[string]bool{"no_pattern": true, "novel_context": true}
	for _, s := range got.Sources {
		delete(wantSources, s)
	}
	if len(wantSources) != 0 {
		t.Errorf("missing sources %v in %v", wantSources, got.Sources)
	}
}

func TestStrongPatternCalmsTheScore(t *testing.T) {
	q := NewQuantifier()
	ev := Evidence{Intuition: types.IntuitionResult{
		PatternMatch: "status_report",
		Confidence:   0.95,
		Strength:     types.StrengthStrong,
	}}
	got := q.Assess("/status", ev)
	// 0.4 - 0.35*0.95 + 0.15 = 0.22.
	if got.Score >= types.ForceDeliberationThreshold {
		t.Errorf("score = %.3f, strong pattern should stay calm", got.Score)
	}
}

func TestFailuresAndSupportOffset(t *testing.T) {
	q := NewQuantifier()
	key := "repeat visitor"
	q.Assess(key, Evidence{}) // burn novelty

	harried := q.Assess(key, Evidence{RecentFailures: 5})
	// Failure penalty caps at +0.3.
	if harried.Score < 0.9 {
		t.Errorf("score = %.3f, want capped failure penalty applied", harried.Score)
	}

	supported := q.Assess(key, Evidence{RecentFailures: 5, SimilarMemories: 10})
	if supported.Score >= harried.Score {
		t.Errorf("episodic support did not reduce the score: %.3f vs %.3f", supported.Score, harried.Score)
	}
}

func TestSeenSetIsBounded(t *testing.T) {
	q := NewQuantifier()
	for i := 0; i < seenKeyCap+50; i++ {
		q.Assess(fmt.Sprintf("key-%d", i), Evidence{})
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.seen) > seenKeyCap {
		t.Errorf("seen set grew to %d, cap is %d", len(q.seen), seenKeyCap)
	}
	if len(q.order) != len(q.seen) {
		t.Errorf("order (%d) and seen (%d) diverged", len(q.order), len(q.seen))
	}
}
