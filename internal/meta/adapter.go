package meta

import "ain/internal/types"

// Adapter maps an evaluation onto a strategy mode. Stateless; rules
// are checked in priority order and the first match wins.
type Adapter struct{}

// Decide applies the decision table:
//
//	complexity high              -> DEEP_REFLECTION
//	errors >= 3                  -> CAUTIOUS
//	efficacy >= 0.75, errors <=1 -> ACCELERATED
//	efficacy <= 0.4              -> CAUTIOUS
//	otherwise                    -> NORMAL
func (a *Adapter) Decide(ev Evaluation, obs Observation) types.StrategyMode {
	switch {
	case obs.Complexity == ComplexityHigh:
		return types.ModeDeepReflection
	case obs.ErrorCount >= 3:
		return types.ModeCautious
	case ev.EfficacyScore >= 0.75 && obs.ErrorCount <= 1:
		return types.ModeAccelerated
	case ev.EfficacyScore <= 0.4:
		return types.ModeCautious
	default:
		return types.ModeNormal
	}
}
