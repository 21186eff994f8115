package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ain/internal/kvstore"
	"ain/internal/logging"
	"ain/internal/types"
)

const (
	// burstGrace pads the window end so a tick landing right on the
	// boundary still counts as inside.
	burstGrace = 10 * time.Second

	// throttleFactor stretches the evolution cadence while the provider
	// is rate limiting.
	throttleFactor = 4
)

// burstState is the KV document under state:system_state. On restart a
// persisted burst whose window is still open beats the configured
// default interval.
type burstState struct {
	BurstMode          bool      `json:"burst_mode"`
	CurrentIntervalSec int64     `json:"current_interval_sec"`
	BurstEndTime       time.Time `json:"burst_end_time,omitempty"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// loadBurstState restores the persisted system state. A stale burst
// window resolves to the normal cadence and the cleared state is
// written back.
func (e *Engine) loadBurstState(ctx context.Context) {
	e.burst = burstState{CurrentIntervalSec: int64(e.cfg.EvolutionInterval().Seconds())}
	if e.kv == nil {
		return
	}

	var st burstState
	err := kvstore.GetJSON(ctx, e.kv, kvstore.KeySystemState, &st)
	if errors.Is(err, kvstore.ErrNotFound) {
		return
	}
	if err != nil {
		logging.Get(logging.CategoryKV).Warn("system state load: %v", err)
		return
	}

	if st.BurstMode && e.now().Before(st.BurstEndTime.Add(burstGrace)) {
		e.burst = st
		logging.Scheduler("burst mode resumed from state store, window ends %s",
			st.BurstEndTime.Format(time.RFC3339))
		return
	}
	if st.BurstMode {
		logging.Scheduler("persisted burst window already closed (%s), starting normal",
			st.BurstEndTime.Format(time.RFC3339))
		e.persistBurstState(ctx)
	}
}

func (e *Engine) persistBurstState(ctx context.Context) {
	if e.kv == nil {
		return
	}
	e.burst.UpdatedAt = e.now()
	if err := kvstore.SetJSON(ctx, e.kv, kvstore.KeySystemState, e.burst); err != nil {
		logging.Get(logging.CategoryKV).Warn("system state persist: %v", err)
	}
}

// startBurst opens a burst window and returns the operator reply.
func (e *Engine) startBurst(ctx context.Context) string {
	d := e.meta.Tuner().Params().BurstDuration
	if d <= 0 {
		d = e.cfg.BurstDuration()
	}
	interval := e.cfg.BurstInterval()
	e.burst = burstState{
		BurstMode:          true,
		CurrentIntervalSec: int64(interval.Seconds()),
		BurstEndTime:       e.now().Add(d),
	}
	e.persistBurstState(ctx)
	logging.Scheduler("burst mode on: interval %s until %s",
		interval, e.burst.BurstEndTime.Format(time.RFC3339))
	return fmt.Sprintf("🚀 Burst mode: evolving every %s for the next %s.", interval, d)
}

// endBurstIfExpired closes the window once now clears the grace past
// its end and restores the published cadence.
func (e *Engine) endBurstIfExpired(ctx context.Context, now time.Time) {
	if !e.burst.BurstMode || !now.After(e.burst.BurstEndTime.Add(burstGrace)) {
		return
	}
	normal := e.meta.Tuner().Params().EvolutionInterval
	if normal <= 0 {
		normal = e.cfg.EvolutionInterval()
	}
	e.burst = burstState{CurrentIntervalSec: int64(normal.Seconds())}
	e.persistBurstState(ctx)
	logging.Scheduler("burst window closed, cadence back to %s", normal)
	e.say("🌙 Burst window closed; back to the normal cadence.")
}

// effectiveInterval is the live evolution cadence: burst beats the
// published interval, and provider throttling stretches whichever is
// active.
func (e *Engine) effectiveInterval(params types.RuntimeParameters) time.Duration {
	base := params.EvolutionInterval
	if base <= 0 {
		base = e.cfg.EvolutionInterval()
	}
	if e.burst.BurstMode {
		base = e.cfg.BurstInterval()
	}
	if e.throttled {
		base *= throttleFactor
	}
	return base
}

func (e *Engine) enterThrottle() {
	if e.throttled {
		return
	}
	e.throttled = true
	logging.Scheduler("provider throttling detected, cadence stretched x%d", throttleFactor)
	e.say("⏳ The model provider is throttling; slowing the evolution cadence for now.")
}

func (e *Engine) clearThrottle() {
	if !e.throttled {
		return
	}
	e.throttled = false
	logging.Scheduler("provider throttle cleared")
}
