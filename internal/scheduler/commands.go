package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ain/internal/evolve"
	"ain/internal/llm"
	"ain/internal/logging"
	"ain/internal/types"
)

const helpText = `Commands:
/status — vitals and cadence
/evolve [focus] — run an evolution now
/sync — commit and push the working tree
/roadmap — render the growth roadmap
/bridge <text> — talk to the dreamer directly
/burst — tight evolution cadence for one window
/audit — recent journal events and errors
/debug — scheduler internals
/usage — today's model spend`

// handleCommand dispatches one slash command and returns the operator
// reply. An empty reply means the handler already spoke for itself.
func (e *Engine) handleCommand(ctx context.Context, text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	cmd := strings.ToLower(fields[0])
	args := strings.TrimSpace(strings.TrimPrefix(text, fields[0]))
	logging.Scheduler("command %s", cmd)
	logging.Audit(logging.AuditCommand, cmd, "", nil)

	switch cmd {
	case "/status":
		return e.statusText(ctx)
	case "/evolve":
		return e.commandEvolve(ctx, args)
	case "/sync":
		return e.commandSync(ctx)
	case "/roadmap":
		return e.core.RenderRoadmap()
	case "/bridge":
		return e.commandBridge(ctx, args)
	case "/burst":
		return e.startBurst(ctx)
	case "/audit":
		return e.auditText()
	case "/debug":
		return e.debugText(ctx)
	case "/usage":
		return e.usageText()
	case "/help":
		return helpText
	default:
		return fmt.Sprintf("Unknown command %s.\n%s", cmd, helpText)
	}
}

func (e *Engine) statusText(ctx context.Context) string {
	m := e.journal.Metrics()
	params := e.meta.Tuner().Params()

	var b strings.Builder
	fmt.Fprintf(&b, "⚡ %s v%s — mode %s\n", e.cfg.Identity.Name, e.cfg.Identity.Version, params.ActiveMode)
	fmt.Fprintf(&b, "%s\n", e.temporal.Describe())
	fmt.Fprintf(&b, "growth %d | evolutions %d ok / %d failed\n",
		m.GrowthScore, m.SuccessfulEvolutions, m.FailedEvolutions)

	fmt.Fprintf(&b, "cadence %s", e.effectiveInterval(params))
	if e.burst.BurstMode {
		fmt.Fprintf(&b, " (burst until %s)", e.burst.BurstEndTime.Format("15:04:05"))
	}
	if e.throttled {
		b.WriteString(" (throttled)")
	}
	b.WriteString("\n")

	if focus := e.attn.Focus(); focus != nil {
		fmt.Fprintf(&b, "focus: [%s] %s\n", focus.Source, clip(focus.Content, 80))
	}
	fmt.Fprintf(&b, "roadmap: %s", e.core.CurrentStepSummary())

	if e.vector != nil {
		if n, err := e.vector.Count(ctx); err == nil {
			fmt.Fprintf(&b, "\nmemories: %d", n)
		}
	}
	if e.account != nil {
		d := e.account.Today()
		fmt.Fprintf(&b, "\ntokens today: %d in / %d out (%s)",
			d.InputTokens, d.OutputTokens, e.account.Status())
	}
	return b.String()
}

// commandEvolve bypasses the decision gate: the operator has asked for
// an evolution, so one runs now. Success and failure are announced by
// the pipeline itself; only the quiet outcomes need a reply here.
func (e *Engine) commandEvolve(ctx context.Context, query string) string {
	e.lastEvolution = e.now()
	out, err := e.runPipeline(ctx, evolve.Options{
		UserQuery: query,
		Attention: e.attn.Context(),
	})
	if err != nil {
		return ""
	}
	if out.NoEvolution {
		return "💤 No evolution needed: " + out.Reason
	}
	return ""
}

func (e *Engine) commandSync(ctx context.Context) string {
	if e.git == nil {
		return "git is not configured; nothing to sync."
	}
	res, err := e.git.Sync(ctx, "🔄 Manual sync")
	if err != nil {
		if rerr := e.journal.RecordError("git", err.Error()); rerr != nil {
			logging.Get(logging.CategoryJournal).Warn("error record: %v", rerr)
		}
		return fmt.Sprintf("⚠️ Sync failed: %v", err)
	}

	reply := "🔄 Synced"
	if res.SHA != "" {
		reply += " at " + shortRef(res.SHA)
	}
	if res.Fallback {
		reply += " (data API fallback)"
	}
	if url := e.git.CommitURL(res.SHA); url != "" {
		reply += "\n" + url
	}
	return reply
}

func (e *Engine) commandBridge(ctx context.Context, text string) string {
	if text == "" {
		return "usage: /bridge <message for the dreamer>"
	}
	system := fmt.Sprintf(
		"You are the dreamer consciousness of %s, an autonomous agent that rewrites its own code. "+
			"The operator is addressing you directly over the bridge. "+
			"Answer in a few candid sentences of plain text; no code, no markdown.",
		e.cfg.Identity.Name)

	reply, err := e.llm.Chat(ctx, llm.RoleDreamer, system, text)
	if err != nil {
		e.noteLLMError(err)
		return fmt.Sprintf("⚠️ The bridge is down: %v", err)
	}

	ev := types.Event{
		Kind:        types.EventConversation,
		Action:      "Bridge",
		Description: clip(reply.Content, 400),
		Status:      types.StatusSuccess,
	}
	e.record(ctx, ev, types.MemoryConversation)
	return "🌉 " + reply.Content
}

func (e *Engine) auditText() string {
	events := e.journal.Recent(6)
	if len(events) == 0 {
		return "🧾 The journal is empty."
	}

	var b strings.Builder
	b.WriteString("🧾 Recent events:\n")
	for _, ev := range events {
		line := ev.Target
		if line == "" {
			line = ev.Description
		}
		fmt.Fprintf(&b, "%s [%s] %s %s — %s\n",
			ev.Timestamp.Format("01-02 15:04"), ev.Status, ev.Kind, ev.Action, clip(line, 60))
	}
	if errs := e.journal.RecentErrors(3); len(errs) > 0 {
		b.WriteString("errors:\n")
		for _, er := range errs {
			fmt.Fprintf(&b, "- %s: %s\n", er.Stage, clip(er.Message, 80))
		}
	}
	if trail, err := logging.RecentAudit(5); err == nil && len(trail) > 0 {
		b.WriteString("actions:\n")
		for _, a := range trail {
			line := string(a.Type)
			if a.Target != "" {
				line += " " + a.Target
			}
			if a.Outcome != "" {
				line += " (" + a.Outcome + ")"
			}
			fmt.Fprintf(&b, "- %s %s\n", a.Timestamp.Format("15:04"), clip(line, 70))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (e *Engine) debugText(ctx context.Context) string {
	params := e.meta.Tuner().Params()
	now := e.now()

	var b strings.Builder
	b.WriteString("🔧 Debug\n")
	fmt.Fprintf(&b, "mode=%s interval=%s effective=%s burst=%v throttled=%v\n",
		params.ActiveMode, params.EvolutionInterval, e.effectiveInterval(params),
		e.burst.BurstMode, e.throttled)
	fmt.Fprintf(&b, "last: evolution %s, monologue %s, meta %s, persist %s\n",
		now.Sub(e.lastEvolution).Round(time.Second),
		now.Sub(e.lastMonologue).Round(time.Second),
		now.Sub(e.lastMeta).Round(time.Second),
		now.Sub(e.lastPersist).Round(time.Second))

	fmt.Fprintf(&b, "attention: %d signal(s), %d shift(s)", len(e.attn.Signals()), len(e.attn.History()))
	if f := e.attn.Focus(); f != nil {
		fmt.Fprintf(&b, ", focus=[%s] %s", f.Source, clip(f.Content, 60))
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "reflexes: %d registered", e.registry.Len())
	if e.learned != nil {
		fmt.Fprintf(&b, ", %d learned (%d dropped)", len(e.learned.Entries()), e.learned.Dropped())
	}
	b.WriteString("\n")

	if e.kv != nil {
		if err := e.kv.Ping(ctx); err != nil {
			fmt.Fprintf(&b, "kv: down (%v)\n", err)
		} else {
			b.WriteString("kv: ok\n")
		}
	} else {
		b.WriteString("kv: none\n")
	}

	if e.git != nil && e.git.Enabled() {
		b.WriteString("git: remote configured")
	} else {
		b.WriteString("git: local only")
	}
	return b.String()
}

func (e *Engine) usageText() string {
	if e.account == nil {
		return "Resource accounting is not configured."
	}
	d := e.account.Today()
	var b strings.Builder
	fmt.Fprintf(&b, "📊 %s: %d call(s), %d in + %d out tokens, $%.4f (%s)",
		d.Day, d.CallCount, d.InputTokens, d.OutputTokens, d.EstimatedCost, e.account.Status())
	if h := e.account.History(); len(h) > 0 {
		fmt.Fprintf(&b, "\n%d closed day(s) on record", len(h))
	}
	return b.String()
}

func shortRef(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
