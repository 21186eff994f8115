package scheduler

import (
	"context"
	"fmt"
	"strings"

	"ain/internal/llm"
	"ain/internal/logging"
	"ain/internal/types"
)

// monologueKeep bounds the in-process reflection ring used when no
// vector store is attached.
const monologueKeep = 5

const monologueSystemPrompt = `You are the inner voice of an autonomous agent that rewrites its own code.
Reflect on the state report below in one or two short first-person sentences.
Plain text only: no lists, no markdown, no advice to an imaginary user.`

// runMonologue asks the dreamer for one inner reflection and journals
// it into the consciousness stream.
func (e *Engine) runMonologue(ctx context.Context) {
	reply, err := e.llm.Chat(ctx, llm.RoleDreamer, monologueSystemPrompt, e.monologueContext(ctx))
	if err != nil {
		logging.Get(logging.CategoryScheduler).Warn("monologue: %v", err)
		e.noteLLMError(err)
		return
	}
	thought := strings.TrimSpace(reply.Content)
	if thought == "" {
		return
	}

	e.monologues = append(e.monologues, thought)
	if len(e.monologues) > monologueKeep {
		e.monologues = e.monologues[len(e.monologues)-monologueKeep:]
	}

	ev := types.Event{
		Kind:        types.EventReflection,
		Action:      "InnerMonologue",
		Description: thought,
		Status:      types.StatusSuccess,
	}
	e.record(ctx, ev, types.MemoryConsciousness)
	logging.Scheduler("monologue: %s", clip(thought, 120))
}

// monologueContext assembles the state report the dreamer reflects on:
// identity, vitals, the active roadmap step, and bounded slices of
// recent work, friction, conversation, and earlier reflections.
func (e *Engine) monologueContext(ctx context.Context) string {
	var b strings.Builder

	fmt.Fprintf(&b, "DIRECTIVE: %s\n", e.core.FactString(e.cfg.Identity.PrimeDirective, "identity", "prime_directive"))
	fmt.Fprintf(&b, "TIME: %s\n", e.temporal.Describe())
	m := e.journal.Metrics()
	fmt.Fprintf(&b, "VITALS: growth %d, %d evolutions ok, %d failed\n",
		m.GrowthScore, m.SuccessfulEvolutions, m.FailedEvolutions)
	fmt.Fprintf(&b, "ROADMAP: %s\n", e.core.CurrentStepSummary())

	if evs := e.journal.RecentByKind(types.EventEvolution, 3); len(evs) > 0 {
		b.WriteString("RECENT WORK:\n")
		for _, ev := range evs {
			fmt.Fprintf(&b, "- [%s] %s\n", ev.Status, clip(ev.Description, 100))
		}
	}
	if errs := e.journal.RecentErrors(3); len(errs) > 0 {
		b.WriteString("RECENT FRICTION:\n")
		for _, er := range errs {
			fmt.Fprintf(&b, "- %s: %s\n", er.Stage, clip(er.Message, 100))
		}
	}
	if turns := e.journal.RecentDialogue(3); len(turns) > 0 {
		b.WriteString("RECENT CONVERSATION:\n")
		for _, t := range turns {
			fmt.Fprintf(&b, "- %s: %s\n", t.Role, clip(t.Text, 80))
		}
	}

	if e.vector != nil {
		if recs, err := e.vector.Recent(ctx, 3, types.MemoryConsciousness); err == nil && len(recs) > 0 {
			b.WriteString("EARLIER REFLECTIONS:\n")
			for _, r := range recs {
				fmt.Fprintf(&b, "- %s\n", clip(r.Text, 100))
			}
		}
	} else if len(e.monologues) > 0 {
		b.WriteString("EARLIER REFLECTIONS:\n")
		for _, t := range e.monologues {
			fmt.Fprintf(&b, "- %s\n", clip(t, 100))
		}
	}

	if frag := e.attn.Context(); frag != "" {
		b.WriteString(frag)
	}
	return b.String()
}
