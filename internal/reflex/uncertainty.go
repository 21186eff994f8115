package reflex

import (
	"sync"
	"time"

	"ain/internal/types"
)

const seenKeyCap = 256

// Evidence carries the signals the quantifier weighs for one context.
type Evidence struct {
	Intuition       types.IntuitionResult
	RecentFailures  int
	SimilarMemories int
}

// Quantifier derives an UncertaintyProfile from pattern support,
// episodic support and the recent error trail. Keys it has never seen
// count as novel until observed once.
type Quantifier struct {
	mu    sync.Mutex
	seen  map[string]bool
	order []string
	now   func() time.Time
}

// NewQuantifier returns an empty quantifier.
func NewQuantifier() *Quantifier {
	return &Quantifier{
		seen: make(map[string]bool),
		now:  time.Now,
	}
}

// Assess scores how unsure the engine is about key. Higher is less
// certain; scores at or above types.ForceDeliberationThreshold push
// the gate onto the deliberate path.
func (q *Quantifier) Assess(key string, ev Evidence) types.UncertaintyProfile {
	score := 0.4
	var sources []string

	if ev.Intuition.PatternMatch == "" {
		score += 0.25
		sources = append(sources, "no_pattern")
	} else {
		score -= 0.35 * ev.Intuition.Confidence
		sources = append(sources, "pattern_match")
	}

	if ev.RecentFailures > 0 {
		penalty := 0.1 * float64(ev.RecentFailures)
		if penalty > 0.3 {
			penalty = 0.3
		}
		score += penalty
		sources = append(sources, "recent_failures")
	}

	if ev.SimilarMemories > 0 {
		support := 0.05 * float64(ev.SimilarMemories)
		if support > 0.2 {
			support = 0.2
		}
		score -= support
		sources = append(sources, "episodic_support")
	}

	if q.observe(key) {
		score += 0.15
		sources = append(sources, "novel_context")
	}

	return types.UncertaintyProfile{
		Score:     types.Clamp01(score),
		Sources:   sources,
		UpdatedAt: q.now(),
	}
}

// observe marks key as seen, reporting whether it was novel. The seen
// set is bounded FIFO so long uptimes do not grow it without limit.
func (q *Quantifier) observe(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.seen[key] {
		return false
	}
	q.seen[key] = true
	q.order = append(q.order, key)
	if len(q.order) > seenKeyCap {
		oldest := q.order[0]
		q.order = q.order[1:]
		delete(q.seen, oldest)
	}
	return true
}
