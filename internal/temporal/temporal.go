// Package temporal tracks the engine's self-perception of time:
// uptime, cycle count, a smoothed cycle duration, and the subjective
// pace derived from it. The scheduler calls Tick once per loop.
package temporal

import (
	"fmt"
	"sync"
	"time"

	"ain/internal/logging"
	"ain/internal/types"
)

const (
	// referencePace is the nominal cycle duration the subjective pace
	// is calibrated against: one perceived second per wall second.
	referencePace = 1 * time.Second

	// ewmaAlpha weights the newest cycle in the duration average.
	ewmaAlpha = 0.1
)

// Uptime thresholds for the maturity phases. A phase never regresses
// within one process lifetime since uptime only grows.
const (
	awakeningAfter = 10 * time.Minute
	activeAfter    = 1 * time.Hour
	sustainedAfter = 24 * time.Hour
	matureAfter    = 7 * 24 * time.Hour
)

// Perceiver derives TemporalState from the tick cadence.
type Perceiver struct {
	mu       sync.Mutex
	started  time.Time
	lastTick time.Time
	cycles   int64
	avgCycle time.Duration
	phase    types.TemporalPhase

	now func() time.Time
}

func New() *Perceiver {
	p := &Perceiver{now: time.Now, phase: types.PhaseNascent}
	p.started = p.now()
	return p
}

// Tick advances the cycle counter, folds the elapsed duration into the
// running average, and returns the refreshed state.
func (p *Perceiver) Tick() types.TemporalState {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	p.cycles++

	elapsed := now.Sub(p.lastTick)
	if p.lastTick.IsZero() {
		elapsed = now.Sub(p.started)
	}
	p.lastTick = now

	if p.avgCycle == 0 {
		p.avgCycle = elapsed
	} else {
		p.avgCycle = time.Duration(ewmaAlpha*float64(elapsed) + (1-ewmaAlpha)*float64(p.avgCycle))
	}

	uptime := now.Sub(p.started)
	if next := phaseFor(uptime); next != p.phase {
		logging.Temporal("phase %s -> %s at uptime %s", p.phase, next, uptime.Round(time.Second))
		p.phase = next
	}

	return p.stateLocked(now)
}

// State returns the current reading without advancing the cycle.
func (p *Perceiver) State() types.TemporalState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stateLocked(p.now())
}

func (p *Perceiver) stateLocked(now time.Time) types.TemporalState {
	return types.TemporalState{
		Uptime:           now.Sub(p.started),
		CycleCount:       p.cycles,
		AvgCycleDuration: p.avgCycle,
		SubjectivePace:   p.paceLocked(),
		Phase:            p.phase,
		UpdatedAt:        now,
	}
}

// paceLocked is reference over average: slow cycles drag perceived
// time below 1.0, fast cycles push it above.
func (p *Perceiver) paceLocked() float64 {
	if p.avgCycle <= 0 {
		return 1.0
	}
	return float64(referencePace) / float64(p.avgCycle)
}

// Describe renders the state as a one-line prompt fragment.
func (p *Perceiver) Describe() string {
	s := p.State()
	return fmt.Sprintf("uptime %s, %d cycles, pace %.2f, phase %s",
		s.Uptime.Round(time.Second), s.CycleCount, s.SubjectivePace, s.Phase)
}

func phaseFor(uptime time.Duration) types.TemporalPhase {
	switch {
	case uptime >= matureAfter:
		return types.PhaseMature
	case uptime >= sustainedAfter:
		return types.PhaseSustained
	case uptime >= activeAfter:
		return types.PhaseActive
	case uptime >= awakeningAfter:
		return types.PhaseAwakening
	default:
		return types.PhaseNascent
	}
}
