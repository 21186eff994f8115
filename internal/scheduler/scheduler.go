// Package scheduler is the engine's heartbeat: a single cooperative
// loop that ticks about once a second. Each tick drains the operator
// inbox, advances temporal perception, runs the monologue, meta, and
// persistence cadences, and puts due evolutions through the decision
// gate. All cognitive state is owned by the loop goroutine; the inbox
// pump is the only concurrent producer and it talks through a channel.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"ain/internal/attention"
	"ain/internal/config"
	"ain/internal/evolve"
	"ain/internal/factcore"
	"ain/internal/gitsync"
	"ain/internal/guard"
	"ain/internal/journal"
	"ain/internal/kvstore"
	"ain/internal/llm"
	"ain/internal/logging"
	"ain/internal/memory"
	"ain/internal/meta"
	"ain/internal/reflex"
	"ain/internal/resource"
	"ain/internal/telegram"
	"ain/internal/temporal"
	"ain/internal/types"
)

const (
	// idleContextKey is the decision-gate key for unprompted ticks.
	idleContextKey = "system_idle_state"

	// persistEvery is the cognitive-state walk cadence into the fact core.
	persistEvery = 300 * time.Second

	// errorWindow scopes the failure count fed to the uncertainty
	// quantifier.
	errorWindow = 30 * time.Minute

	// similarMemoryFloor is the similarity a vector hit needs to count
	// as episodic support.
	similarMemoryFloor = 0.5

	// metaWindow is how many recent evolution outcomes one meta cycle
	// scores.
	metaWindow = 10

	inboxDepth = 16
)

// Deps carries every subsystem the scheduler coordinates. Vector, Git,
// KV, Messaging, Learned, and Account are optional; the loop degrades
// around a nil one.
type Deps struct {
	Config    *config.Config
	Core      *factcore.Core
	Journal   *journal.Journal
	Writer    *journal.DualWriter
	Vector    *memory.Store
	LLM       *llm.Client
	Git       *gitsync.Synchronizer
	KV        kvstore.Store
	Guard     *guard.Registry
	Messaging *telegram.Client

	// Notify is the outbound channel for operator-facing lines. When
	// nil it defaults to Messaging.Send.
	Notify func(string)

	Pipeline  *evolve.Pipeline
	Gate      *reflex.Gate
	Learned   *reflex.Learned
	Registry  *reflex.Registry
	Patterns  *reflex.PatternIndex
	Attention *attention.Manager
	Temporal  *temporal.Perceiver
	Meta      *meta.Cycle
	Account   *resource.Account
}

// targetInfo is the shape of the last evolution target, kept for the
// meta cycle's complexity scoring.
type targetInfo struct {
	path      string
	lines     int
	protected bool
	isNew     bool
}

// Engine owns the tick loop. Not safe for concurrent use beyond Run;
// StatusLine is the one read-mostly accessor other goroutines may call.
type Engine struct {
	cfg      *config.Config
	core     *factcore.Core
	journal  *journal.Journal
	writer   *journal.DualWriter
	vector   *memory.Store
	llm      *llm.Client
	git      *gitsync.Synchronizer
	kv       kvstore.Store
	guard    *guard.Registry
	msg      *telegram.Client
	notify   func(string)
	pipeline *evolve.Pipeline
	gate     *reflex.Gate
	learned  *reflex.Learned
	registry *reflex.Registry
	patterns *reflex.PatternIndex
	attn     *attention.Manager
	temporal *temporal.Perceiver
	meta     *meta.Cycle
	account  *resource.Account

	now       func() time.Time
	tickEvery time.Duration
	inbox     chan telegram.Message
	pump      sync.WaitGroup

	bootAt        time.Time
	lastEvolution time.Time
	lastMonologue time.Time
	lastMeta      time.Time
	lastPersist   time.Time

	burst      burstState
	throttled  bool
	lastTarget *targetInfo
	monologues []string
}

// New assembles the engine. It does not start the loop; call Run.
func New(d Deps) *Engine {
	e := &Engine{
		cfg:       d.Config,
		core:      d.Core,
		journal:   d.Journal,
		writer:    d.Writer,
		vector:    d.Vector,
		llm:       d.LLM,
		git:       d.Git,
		kv:        d.KV,
		guard:     d.Guard,
		msg:       d.Messaging,
		notify:    d.Notify,
		pipeline:  d.Pipeline,
		gate:      d.Gate,
		learned:   d.Learned,
		registry:  d.Registry,
		patterns:  d.Patterns,
		attn:      d.Attention,
		temporal:  d.Temporal,
		meta:      d.Meta,
		account:   d.Account,
		now:       time.Now,
		tickEvery: time.Second,
		inbox:     make(chan telegram.Message, inboxDepth),
	}
	if e.notify == nil && e.msg != nil {
		m := e.msg
		e.notify = func(text string) {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := m.Send(ctx, text); err != nil {
				logging.Get(logging.CategoryTelegram).Warn("notify: %v", err)
			}
		}
	}
	return e
}

// Run drives the tick loop until ctx is done. It always returns nil:
// cancellation is the one clean way to stop an engine.
func (e *Engine) Run(ctx context.Context) error {
	e.start(ctx)

	pumpCtx, stopPump := context.WithCancel(ctx)
	if e.msg != nil && e.msg.Enabled() {
		e.pump.Add(1)
		go e.pollLoop(pumpCtx)
	}

	params := e.meta.Tuner().Params()
	logging.Scheduler("tick loop started (interval=%s mode=%s burst=%v)",
		e.effectiveInterval(params), params.ActiveMode, e.burst.BurstMode)
	e.say(fmt.Sprintf("⚡ %s online — growth %d, mode %s",
		e.cfg.Identity.Name, e.journal.Metrics().GrowthScore, params.ActiveMode))

	for {
		select {
		case <-ctx.Done():
			stopPump()
			e.pump.Wait()
			e.shutdown()
			return nil
		default:
		}
		started := time.Now()
		e.tick(ctx)
		e.sleepToBoundary(ctx, started)
	}
}

// start initialises cadence cursors and restores persisted state.
// Separate from Run so tests can drive ticks by hand.
func (e *Engine) start(ctx context.Context) {
	now := e.now()
	e.bootAt = now
	e.lastEvolution = now
	e.lastMonologue = now
	e.lastMeta = now
	e.lastPersist = now
	e.loadBurstState(ctx)
	e.markBoot(ctx)
}

// pollLoop is the inbox pump: it long-polls the messaging client and
// feeds the tick loop through the inbox channel. Never started for a
// disabled client, whose Poll returns instantly and would spin.
func (e *Engine) pollLoop(ctx context.Context) {
	defer e.pump.Done()
	for {
		msgs, err := e.msg.Poll(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logging.Get(logging.CategoryTelegram).Warn("poll: %v", err)
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		for _, m := range msgs {
			select {
			case e.inbox <- m:
			case <-ctx.Done():
				return
			}
		}
	}
}

// tick is one cognitive cycle. Panics are absorbed at the tick
// boundary so a bad cycle costs one tick, not the process.
func (e *Engine) tick(ctx context.Context) {
	defer e.recoverTick(ctx)
	now := e.now()

	// Operator messages preempt the periodic cadence.
	for drained := false; !drained; {
		select {
		case m := <-e.inbox:
			e.handleMessage(ctx, m.Text)
		default:
			drained = true
		}
	}

	ts := e.temporal.Tick()
	e.attn.Tick()
	e.endBurstIfExpired(ctx, now)

	// Parameter pickup: a published tuning vector is live at most one
	// tick after publication.
	params := e.meta.Tuner().Params()
	e.llm.SetTemperature(llm.RoleDreamer, params.Temperature)

	if e.due(now, e.lastMonologue, e.monologueInterval(params)) {
		e.lastMonologue = now
		e.runMonologue(ctx)
	}

	if e.due(now, e.lastMeta, e.cfg.MetaInterval()) {
		e.lastMeta = now
		e.runMetaCycle(ctx, now)
	}

	if e.due(now, e.lastPersist, persistEvery) {
		e.lastPersist = now
		e.persistCognitiveState(now, ts, params)
	}

	if e.due(now, e.lastEvolution, e.effectiveInterval(params)) {
		e.lastEvolution = now
		e.runGated(ctx, idleContextKey, "")
	}
}

// due reports whether a cadence with the given cursor has elapsed.
// Cursors advance to now when fired, so two ticks inside the same
// second collapse into one effective attempt.
func (e *Engine) due(now, last time.Time, interval time.Duration) bool {
	if interval <= 0 {
		return false
	}
	return now.Sub(last) >= interval
}

// sleepToBoundary parks the loop until the next tick boundary.
func (e *Engine) sleepToBoundary(ctx context.Context, started time.Time) {
	next := started.Truncate(e.tickEvery).Add(e.tickEvery)
	wait := time.Until(next)
	if wait <= 0 {
		return
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (e *Engine) recoverTick(ctx context.Context) {
	r := recover()
	if r == nil {
		return
	}
	logging.Get(logging.CategoryScheduler).Error("tick panic: %v", r)
	ev := types.Event{
		Kind:        types.EventJournal,
		Action:      "Tick",
		Description: "tick recovered from panic",
		Status:      types.StatusFailed,
		Error:       fmt.Sprintf("%v", r),
	}
	e.record(ctx, ev, types.MemoryEpisodic)
}

// handleMessage routes one operator line: slash commands dispatch
// directly, anything else becomes an attention signal and goes through
// the decision gate as a user query.
func (e *Engine) handleMessage(ctx context.Context, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	logging.Scheduler("operator: %s", clip(text, 80))
	if err := e.journal.RecordDialogue("operator", text); err != nil {
		logging.Get(logging.CategoryJournal).Warn("dialogue record: %v", err)
	}

	if strings.HasPrefix(text, "/") {
		if reply := e.handleCommand(ctx, text); reply != "" {
			e.reply(reply)
		}
		return
	}

	e.attn.Signal(types.SourceExternal, 0.9, 0.7, clip(text, 120), 5*time.Minute)
	e.runGated(ctx, text, text)
}

// runGated puts one context key through the decision gate. System 1
// answers on reflex and spends the tick; System 2 runs the full
// pipeline. Successful deliberations over user-driven keys feed the
// learned-reflex tracker.
func (e *Engine) runGated(ctx context.Context, key, userQuery string) {
	evidence := reflex.Evidence{
		RecentFailures:  e.journal.ErrorsSince(e.now().Add(-errorWindow)),
		SimilarMemories: e.similarMemories(ctx, key),
	}
	verdict := e.gate.Decide(ctx, key, evidence)

	if verdict.Consumed {
		logging.SchedulerDebug("system 1: %s", verdict.Reason)
		if userQuery != "" && verdict.Reply != "" {
			e.reply(verdict.Reply)
		}
		ev := types.Event{
			Kind:        types.EventReflex,
			Action:      verdict.Reflex,
			Target:      clip(key, 80),
			Description: verdict.Reply,
			Status:      types.StatusSuccess,
		}
		e.record(ctx, ev, types.MemoryReflex)
		return
	}

	logging.SchedulerDebug("system 2: %s", verdict.Reason)
	out, err := e.runPipeline(ctx, evolve.Options{
		UserQuery:   userQuery,
		Attention:   e.attn.Context(),
		PreferCheap: verdict.PreferCheap,
	})
	if err != nil {
		return
	}
	if out.NoEvolution {
		if userQuery != "" {
			e.reply("💤 " + out.Reason)
		}
		return
	}
	if userQuery != "" {
		e.recordSighting(key, "🧬 "+out.Intent)
	}
}

// runPipeline wraps one pipeline run with throttle and target
// bookkeeping. Provider exhaustion stretches the evolution cadence
// until the next clean run.
func (e *Engine) runPipeline(ctx context.Context, opts evolve.Options) (evolve.Outcome, error) {
	out, err := e.pipeline.Run(ctx, opts)
	e.noteTarget(out)
	if err != nil {
		e.noteLLMError(err)
		e.attn.Signal(types.SourceSystem, 0.7, 0.8, "evolution failed: "+clip(err.Error(), 120), 10*time.Minute)
		return out, err
	}
	e.clearThrottle()
	return out, nil
}

func (e *Engine) noteLLMError(err error) {
	if errors.Is(err, types.ErrExternalUnavailable) || errors.Is(err, llm.ErrRateLimited) {
		e.enterThrottle()
	}
}

func (e *Engine) noteTarget(out evolve.Outcome) {
	if len(out.Updates) == 0 {
		return
	}
	u := out.Updates[0]
	protected := false
	if e.guard != nil {
		protected = e.guard.IsProtected(u.Filename)
	}
	e.lastTarget = &targetInfo{
		path:      u.Filename,
		lines:     strings.Count(u.Code, "\n") + 1,
		protected: protected,
		isNew:     len(out.Applied) > 0 && out.Applied[0].Backup == "",
	}
}

// recordSighting feeds the learned-reflex tracker and promotes entries
// that cross the sighting threshold into the live registry.
func (e *Engine) recordSighting(key, reply string) {
	if e.learned == nil {
		return
	}
	entry, err := e.learned.Sighting(key, reply)
	if err != nil {
		logging.Get(logging.CategoryReflex).Warn("sighting: %v", err)
		return
	}
	if entry == nil {
		return
	}
	if err := e.learned.RegisterEntry(*entry, e.registry, e.patterns); err != nil {
		logging.Get(logging.CategoryReflex).Warn("learned reflex registration: %v", err)
		return
	}
	e.say(fmt.Sprintf("🧠 Learned a reflex: %s now answers %q instantly.", entry.Name, clip(key, 60)))
}

func (e *Engine) similarMemories(ctx context.Context, key string) int {
	if e.vector == nil {
		return 0
	}
	res, err := e.vector.Search(ctx, key, 5)
	if err != nil {
		logging.Get(logging.CategoryVector).Warn("similarity probe: %v", err)
		return 0
	}
	n := 0
	for _, r := range res {
		if r.Similarity >= similarMemoryFloor {
			n++
		}
	}
	return n
}

// runMetaCycle scores the recent outcome window and journals a mode
// shift when one happens. The new temperature lands on the dreamer
// immediately rather than waiting for the next tick's pickup.
func (e *Engine) runMetaCycle(ctx context.Context, now time.Time) {
	var outcomes []bool
	for _, ev := range e.journal.RecentByKind(types.EventEvolution, metaWindow) {
		switch ev.Status {
		case types.StatusSuccess:
			outcomes = append(outcomes, true)
		case types.StatusFailed:
			outcomes = append(outcomes, false)
		}
	}
	obs := meta.Observation{
		RecentOutcomes: outcomes,
		ErrorCount:     e.journal.ErrorsSince(now.Add(-time.Hour)),
		Complexity:     meta.ComplexityLow,
	}
	if t := e.lastTarget; t != nil {
		obs.TargetProtected = t.protected
		obs.TargetLines = t.lines
		obs.TargetIsNew = t.isNew
		obs.SimilarMemories = e.similarMemories(ctx, t.path)
		obs.Complexity = complexityFor(*t)
	}

	out := e.meta.Run(obs)
	if !out.ModeChanged {
		return
	}

	e.llm.SetTemperature(llm.RoleDreamer, out.Params.Temperature)
	e.attn.Signal(types.SourceMeta, 0.5, 0.6, "strategy shift: "+string(out.Mode), 10*time.Minute)
	logging.Audit(logging.AuditModeShift, string(out.Mode), "", nil)
	ev := types.Event{
		Kind:        types.EventReflection,
		Action:      "StrategyShift",
		Target:      string(out.Mode),
		Description: out.Narrative,
		Status:      types.StatusSuccess,
	}
	e.record(ctx, ev, types.MemoryMetaJournal)
}

func complexityFor(t targetInfo) meta.Complexity {
	switch {
	case t.protected || t.lines > 200:
		return meta.ComplexityHigh
	case t.lines > 100:
		return meta.ComplexityMedium
	default:
		return meta.ComplexityLow
	}
}

// persistCognitiveState walks the live readouts into the fact core so
// a restarted engine wakes up knowing how its last life went.
func (e *Engine) persistCognitiveState(now time.Time, ts types.TemporalState, params types.RuntimeParameters) {
	m := e.journal.Metrics()
	state := map[string]interface{}{
		"uptime_seconds":        int64(ts.Uptime.Seconds()),
		"cycle_count":           ts.CycleCount,
		"avg_cycle_ms":          ts.AvgCycleDuration.Milliseconds(),
		"subjective_pace":       ts.SubjectivePace,
		"phase":                 string(ts.Phase),
		"growth_score":          m.GrowthScore,
		"successful_evolutions": m.SuccessfulEvolutions,
		"failed_evolutions":     m.FailedEvolutions,
		"active_mode":           string(params.ActiveMode),
		"burst_mode":            e.burst.BurstMode,
		"updated_at":            now.UTC().Format(time.RFC3339),
	}
	if focus := e.attn.Focus(); focus != nil {
		state["focus"] = clip(focus.Content, 120)
	}
	if err := e.core.AddFact("cognitive_state", state); err != nil {
		logging.Get(logging.CategoryFactCore).Warn("cognitive state persist: %v", err)
		return
	}
	logging.SchedulerDebug("cognitive state persisted at cycle %d", ts.CycleCount)
}

func (e *Engine) monologueInterval(params types.RuntimeParameters) time.Duration {
	if params.MonologueInterval > 0 {
		return params.MonologueInterval
	}
	return e.cfg.MonologueInterval()
}

// StatusLine is the one-line health summary consumed by the status
// reflex.
func (e *Engine) StatusLine() string {
	m := e.journal.Metrics()
	params := e.meta.Tuner().Params()
	line := fmt.Sprintf("%s | growth %d | evolutions %d/%d | mode %s",
		e.temporal.Describe(), m.GrowthScore, m.SuccessfulEvolutions, m.FailedEvolutions, params.ActiveMode)
	if e.burst.BurstMode {
		line += " | burst"
	}
	return line
}

func (e *Engine) markBoot(ctx context.Context) {
	if e.kv == nil {
		return
	}
	stamp := e.now().UTC().Format(time.RFC3339)
	if err := e.kv.Set(ctx, kvstore.KeyLastBoot, []byte(stamp)); err != nil {
		logging.Get(logging.CategoryKV).Warn("boot marker: %v", err)
	}
}

func (e *Engine) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	e.persistBurstState(ctx)
	if e.account != nil {
		if err := e.account.Save(); err != nil {
			logging.Get(logging.CategoryResource).Warn("usage save: %v", err)
		}
	}
	logging.Scheduler("tick loop stopped after %d cycles", e.temporal.State().CycleCount)
}

// say pushes one line to the operator channel. reply additionally
// journals it as the engine's side of the dialogue.
func (e *Engine) say(text string) {
	if e.notify == nil || text == "" {
		return
	}
	e.notify(text)
}

func (e *Engine) reply(text string) {
	e.say(text)
	if err := e.journal.RecordDialogue("ain", text); err != nil {
		logging.Get(logging.CategoryJournal).Warn("dialogue record: %v", err)
	}
}

func (e *Engine) record(ctx context.Context, ev types.Event, mtype types.MemoryType) {
	if _, err := e.writer.Record(ctx, ev, mtype); err != nil {
		logging.Get(logging.CategoryJournal).Error("record %s/%s: %v", ev.Kind, ev.Action, err)
	}
}

func clip(s string, n int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
