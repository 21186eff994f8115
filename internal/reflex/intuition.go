package reflex

import (
	"sync"

	"ain/internal/logging"
	"ain/internal/types"
)

// Intuition turns pattern-index candidates into a graded assessment.
// Confidence blends key coverage with the reflex's own firing history,
// so a reflex that keeps failing loses its fast path over time.
type Intuition struct {
	index *PatternIndex

	mu      sync.Mutex
	history map[string]*outcomeWindow
}

type outcomeWindow struct {
	fires     int
	successes int
}

// NewIntuition wraps a pattern index.
func NewIntuition(index *PatternIndex) *Intuition {
	return &Intuition{
		index:   index,
		history: make(map[string]*outcomeWindow),
	}
}

// Assess matches the key against the index and grades the best
// candidate. No match yields a weak, zero-confidence result.
func (n *Intuition) Assess(key string) types.IntuitionResult {
	none := types.IntuitionResult{Strength: types.StrengthWeak}
	tokens := Tokenize(key)
	if len(tokens) == 0 {
		return none
	}

	candidates, err := n.index.Match(key)
	if err != nil {
		logging.Get(logging.CategoryReflex).Warn("pattern match failed for %q: %v", key, err)
		return none
	}
	if len(candidates) == 0 {
		return none
	}

	top := candidates[0]
	coverage := float64(top.Hits()) / float64(len(tokens))
	confidence := 0.35 + 0.6*coverage

	n.mu.Lock()
	if w := n.history[top.Reflex]; w != nil && w.fires >= 3 {
		rate := float64(w.successes) / float64(w.fires)
		confidence += (rate - 0.5) * 0.2
	}
	n.mu.Unlock()

	result := types.IntuitionResult{
		PatternMatch: top.Reflex,
		Confidence:   types.Clamp01(confidence),
		Strength:     strengthFor(coverage),
	}
	logging.ReflexDebug("intuition: %q -> %s (confidence=%.2f strength=%s coverage=%.2f)",
		key, result.PatternMatch, result.Confidence, result.Strength, coverage)
	return result
}

// RecordOutcome feeds a reflex firing result back into the history.
func (n *Intuition) RecordOutcome(reflex string, ok bool) {
	if reflex == "" {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	w := n.history[reflex]
	if w == nil {
		w = &outcomeWindow{}
		n.history[reflex] = w
	}
	w.fires++
	if ok {
		w.successes++
	}
}

func strengthFor(coverage float64) types.IntuitionStrength {
	switch {
	case coverage >= 0.75:
		return types.StrengthStrong
	case coverage >= 0.35:
		return types.StrengthModerate
	default:
		return types.StrengthWeak
	}
}
