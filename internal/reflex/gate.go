package reflex

import (
	"context"
	"fmt"

	"ain/internal/logging"
	"ain/internal/types"

	"github.com/google/uuid"
)

// Verdict is the gate's ruling for one tick.
type Verdict struct {
	System      int // 1 = reflex path, 2 = deliberate path
	Reflex      string
	Reply       string
	Consumed    bool
	PreferCheap bool
	Intuition   types.IntuitionResult
	Uncertainty types.UncertaintyProfile
	Reason      string
}

// Gate arbitrates between the reflex fast path and the deliberate
// evolution pipeline. Uncertainty at or above the deliberation
// threshold always wins; constrained resources lower the bar for the
// fast path and flag the cheap model tier.
type Gate struct {
	registry   *Registry
	intuition  *Intuition
	quantifier *Quantifier
	resources  func() types.ResourceStatus
}

// NewGate assembles a gate over the given registry and assessors.
func NewGate(reg *Registry, in *Intuition, q *Quantifier) *Gate {
	return &Gate{registry: reg, intuition: in, quantifier: q}
}

// SetResourceProbe installs the day-budget status source. Without one
// the gate assumes abundance.
func (g *Gate) SetResourceProbe(fn func() types.ResourceStatus) {
	g.resources = fn
}

// Decide assesses key and, when the fast path qualifies, runs the
// matched reflex inline. A consumed verdict means the tick is spent;
// the caller must not start the deliberate pipeline.
func (g *Gate) Decide(ctx context.Context, key string, ev Evidence) Verdict {
	intu := g.intuition.Assess(key)
	ev.Intuition = intu
	unc := g.quantifier.Assess(key, ev)

	status := types.ResourceAbundant
	if g.resources != nil {
		status = g.resources()
	}

	v := Verdict{
		System:      2,
		Intuition:   intu,
		Uncertainty: unc,
		PreferCheap: status.Constrained(),
	}

	if unc.Score >= types.ForceDeliberationThreshold {
		v.Reason = fmt.Sprintf("uncertainty %.2f forces deliberation", unc.Score)
		logging.ReflexDebug("gate: %s", v.Reason)
		return v
	}

	minStrength := types.StrengthStrong
	minConfidence := types.ReflexConfidenceThreshold
	if status.Constrained() {
		// Low budget: prefer answering on reflex over spending tokens.
		minStrength = types.StrengthModerate
		minConfidence = types.ReflexConfidenceThreshold - 0.15
	}

	if intu.PatternMatch == "" {
		v.Reason = "no pattern match"
		return v
	}
	if !strengthAtLeast(intu.Strength, minStrength) || intu.Confidence < minConfidence {
		v.Reason = fmt.Sprintf("intuition below bar (strength=%s confidence=%.2f)", intu.Strength, intu.Confidence)
		return v
	}

	action, ok := g.registry.Get(intu.PatternMatch)
	if !ok {
		v.Reason = fmt.Sprintf("no registered action for %s", intu.PatternMatch)
		return v
	}
	if !action.CanExecute(intu.Confidence) {
		v.Reason = fmt.Sprintf("%s refuses confidence %.2f", action.Name, intu.Confidence)
		return v
	}

	in := Input{
		Key:         key,
		Confidence:  intu.Confidence,
		ExecutionID: uuid.NewString(),
	}
	reply, consumed, err := action.Handler(ctx, in)
	if err != nil {
		g.intuition.RecordOutcome(action.Name, false)
		v.Reason = fmt.Sprintf("reflex %s failed: %v", action.Name, err)
		logging.Get(logging.CategoryReflex).Warn("gate: %s", v.Reason)
		return v
	}
	if !consumed {
		g.intuition.RecordOutcome(action.Name, false)
		v.Reason = fmt.Sprintf("reflex %s declined", action.Name)
		return v
	}

	g.intuition.RecordOutcome(action.Name, true)
	logging.Reflex("reflex %s fired for %q (confidence=%.2f)", action.Name, key, intu.Confidence)
	logging.Audit(logging.AuditReflexFire, action.Name, "consumed", map[string]interface{}{
		"key":          key,
		"confidence":   intu.Confidence,
		"execution_id": in.ExecutionID,
	})

	v.System = 1
	v.Reflex = action.Name
	v.Reply = reply
	v.Consumed = true
	v.Reason = "reflex consumed tick"
	return v
}

func strengthAtLeast(have, want types.IntuitionStrength) bool {
	rank := map[types.IntuitionStrength]int{
		types.StrengthWeak:     0,
		types.StrengthModerate: 1,
		types.StrengthStrong:   2,
	}
	return rank[have] >= rank[want]
}
