package meta

import (
	"fmt"
	"strings"

	"ain/internal/logging"
	"ain/internal/types"
)

// Outcome is what one meta cycle produced. ModeChanged marks a
// material shift the caller should journal with the narrative.
type Outcome struct {
	Evaluation  Evaluation
	Mode        types.StrategyMode
	Params      types.RuntimeParameters
	ModeChanged bool
	Narrative   string
}

// Cycle wires evaluator, adapter, and tuner into the single step the
// scheduler invokes on its meta cadence.
type Cycle struct {
	evaluator Evaluator
	adapter   Adapter
	tuner     *Tuner
	lastMode  types.StrategyMode
}

func NewCycle(base types.RuntimeParameters) *Cycle {
	return &Cycle{
		tuner:    NewTuner(base),
		lastMode: base.ActiveMode,
	}
}

// Tuner exposes the live parameter source.
func (c *Cycle) Tuner() *Tuner {
	return c.tuner
}

// Run evaluates the observation, decides a mode, and publishes the
// derived parameters.
func (c *Cycle) Run(obs Observation) Outcome {
	ev := c.evaluator.Evaluate(obs)
	mode := c.adapter.Decide(ev, obs)
	params := c.tuner.Publish(mode)

	out := Outcome{
		Evaluation:  ev,
		Mode:        mode,
		Params:      params,
		ModeChanged: mode != c.lastMode,
	}
	if out.ModeChanged {
		out.Narrative = narrative(c.lastMode, mode, ev)
		logging.Meta("mode %s -> %s (efficacy %.2f, %s)", c.lastMode, mode, ev.EfficacyScore, ev.Status)
	}
	c.lastMode = mode
	return out
}

// narrative renders the shift for the meta journal.
func narrative(prev, next types.StrategyMode, ev Evaluation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Strategy shifted from %s to %s. ", prev, next)
	fmt.Fprintf(&b, "Efficacy %.2f (%s), confidence %.2f.", ev.EfficacyScore, ev.Status, ev.ConfidenceScore)
	if len(ev.Factors) > 0 {
		fmt.Fprintf(&b, " Factors: %s.", strings.Join(ev.Factors, "; "))
	}
	return b.String()
}
