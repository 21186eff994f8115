package meta

import (
	"sync/atomic"
	"time"

	"ain/internal/logging"
	"ain/internal/types"
)

// Tuner turns a strategy mode into concrete runtime parameters and
// publishes them atomically. The scheduler reads only the most recent
// publication; a publish never blocks a concurrent read.
type Tuner struct {
	base    types.RuntimeParameters
	current atomic.Value // types.RuntimeParameters
}

func NewTuner(base types.RuntimeParameters) *Tuner {
	t := &Tuner{base: base}
	t.current.Store(base)
	return t
}

// Params returns the live parameter set.
func (t *Tuner) Params() types.RuntimeParameters {
	return t.current.Load().(types.RuntimeParameters)
}

// Publish derives the parameter set for mode from the configured base
// and makes it the live copy.
func (t *Tuner) Publish(mode types.StrategyMode) types.RuntimeParameters {
	params := t.derive(mode)
	t.current.Store(params)
	logging.Meta("published %s: interval=%s temp=%.2f validation=%d",
		mode, params.EvolutionInterval, params.Temperature, params.ValidationLevel)
	return params
}

// derive applies per-mode multipliers to the base. Temperatures are
// clamped to [0,1]; intervals never drop below one minute.
func (t *Tuner) derive(mode types.StrategyMode) types.RuntimeParameters {
	p := t.base
	p.ActiveMode = mode

	switch mode {
	case types.ModeCautious:
		p.EvolutionInterval = scaleInterval(t.base.EvolutionInterval, 1.5)
		p.Temperature = 0.5
		p.ValidationLevel = 3
		p.BurstDuration = scaleInterval(t.base.BurstDuration, 0.5)
	case types.ModeAccelerated:
		p.EvolutionInterval = scaleInterval(t.base.EvolutionInterval, 0.5)
		p.Temperature = 0.8
		p.ValidationLevel = 1
		p.BurstDuration = scaleInterval(t.base.BurstDuration, 1.5)
	case types.ModeDeepReflection:
		p.EvolutionInterval = scaleInterval(t.base.EvolutionInterval, 2.0)
		p.Temperature = 0.9
		p.ValidationLevel = 2
		p.MonologueInterval = scaleInterval(t.base.MonologueInterval, 0.5)
	default:
		p.Temperature = 0.7
		p.ValidationLevel = 2
	}

	p.Temperature = types.Clamp01(p.Temperature)
	return p
}

func scaleInterval(d time.Duration, factor float64) time.Duration {
	scaled := time.Duration(float64(d) * factor)
	if scaled < time.Minute {
		return time.Minute
	}
	return scaled
}
