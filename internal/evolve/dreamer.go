package evolve

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"ain/internal/llm"
	"ain/internal/logging"
)

const dreamerAttempts = 3

// minIntentLength is the floor under which a dreamer reply counts as a
// failed attempt rather than an intent.
const minIntentLength = 50

// NoEvolutionSentinel short-circuits a cycle when the models judge the
// system already sound.
const NoEvolutionSentinel = "NO_EVOLUTION_NEEDED"

// Brief is the assembled context both model stages draw from.
type Brief struct {
	Snapshot         string
	Directive        string
	RoadmapStep      string
	RecentEvolutions []string
	LineCounts       string
	ErrorHints       []string
	Attention        string
	UserQuery        string
	ErrorContext     string
}

// DreamResult is the dreamer stage's outcome.
type DreamResult struct {
	Intent      string
	NoEvolution bool
	Reason      string
	Attempts    int
	Raw         string
}

// Dreamer asks the architect model for one SYSTEM_INTENT line.
type Dreamer struct {
	llm *llm.Client
}

// NewDreamer wraps the shared LLM client.
func NewDreamer(client *llm.Client) *Dreamer {
	return &Dreamer{llm: client}
}

var (
	intentLineRe = regexp.MustCompile(`(?m)^\s*SYSTEM_INTENT:\s*(.+)$`)
	intentTagRe  = regexp.MustCompile(`(?mi)^\s*\[?(?:SYSTEM[_ ]?INTENT|INTENT)\]?\s*[:\-]\s*(.+)$`)
	noEvolveRe   = regexp.MustCompile(NoEvolutionSentinel + `\s*[:\-]?\s*(.*)`)
)

// Dream runs up to three attempts with escalating brevity. Empty and
// sub-50-character replies are failures; the sentinel short-circuits.
func (d *Dreamer) Dream(ctx context.Context, brief Brief) (DreamResult, error) {
	timer := logging.StartTimer(logging.CategoryDream, "Dream")
	defer timer.Stop()

	user := dreamerUserPrompt(brief)
	var lastErr error

	for attempt := 1; attempt <= dreamerAttempts; attempt++ {
		reply, err := d.llm.Chat(ctx, llm.RoleDreamer, dreamerSystemPrompt(attempt), user)
		if err != nil {
			lastErr = err
			logging.Get(logging.CategoryDream).Warn("attempt %d/%d failed: %v", attempt, dreamerAttempts, err)
			continue
		}

		raw := strings.TrimSpace(reply.Content)
		if m := noEvolveRe.FindStringSubmatch(raw); m != nil {
			reason := strings.TrimSpace(m[1])
			if reason == "" {
				reason = "dreamer sees nothing to improve"
			}
			logging.Dream("no evolution needed: %s", reason)
			return DreamResult{NoEvolution: true, Reason: reason, Attempts: attempt, Raw: raw}, nil
		}
		if len(raw) < minIntentLength {
			lastErr = fmt.Errorf("reply too short (%d chars)", len(raw))
			logging.Get(logging.CategoryDream).Warn("attempt %d/%d rejected: %v", attempt, dreamerAttempts, lastErr)
			continue
		}

		intent := ExtractIntent(raw)
		logging.Dream("intent (attempt %d): %s", attempt, intent)
		return DreamResult{Intent: intent, Attempts: attempt, Raw: raw}, nil
	}

	return DreamResult{Attempts: dreamerAttempts}, fmt.Errorf("dreamer exhausted %d attempts: %w", dreamerAttempts, lastErr)
}

// ExtractIntent pulls the intent out of a dreamer reply by cascade:
// the SYSTEM_INTENT line, tag variants, the first meaningful line, and
// finally the cleaned whole text.
func ExtractIntent(raw string) string {
	if m := intentLineRe.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := intentTagRe.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	inFence := false
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "```") {
			inFence = !inFence
			continue
		}
		if inFence || line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}
		return line
	}
	collapsed := strings.Join(strings.Fields(raw), " ")
	if len(collapsed) > 200 {
		collapsed = collapsed[:200]
	}
	return collapsed
}

func dreamerSystemPrompt(attempt int) string {
	base := "You are the architect of a self-modifying system. Study the snapshot and choose the single most valuable improvement to its own source. Reply with a line starting exactly with SYSTEM_INTENT: followed by the improvement. If the system is already sound, reply " + NoEvolutionSentinel + ":<reason>."
	switch attempt {
	case 2:
		return base + " Keep the whole reply under 10 lines and lead with the SYSTEM_INTENT: line."
	case 3:
		return "Reply with exactly one line starting SYSTEM_INTENT: naming one concrete improvement. Nothing else."
	default:
		return base
	}
}

func dreamerUserPrompt(brief Brief) string {
	var b strings.Builder
	if brief.Directive != "" {
		fmt.Fprintf(&b, "PRIME DIRECTIVE: %s\n\n", brief.Directive)
	}
	if brief.RoadmapStep != "" {
		fmt.Fprintf(&b, "CURRENT ROADMAP STEP: %s\n\n", brief.RoadmapStep)
	}
	if brief.Attention != "" {
		fmt.Fprintf(&b, "%s\n\n", brief.Attention)
	}
	if brief.UserQuery != "" {
		fmt.Fprintf(&b, "OPERATOR QUERY: %s\n\n", brief.UserQuery)
	}
	if brief.ErrorContext != "" {
		fmt.Fprintf(&b, "RECENT FAILURE CONTEXT: %s\n\n", brief.ErrorContext)
	}
	if len(brief.RecentEvolutions) > 0 {
		b.WriteString("LAST EVOLUTIONS:\n")
		for _, s := range brief.RecentEvolutions {
			fmt.Fprintf(&b, "- %s\n", s)
		}
		b.WriteString("\n")
	}
	if brief.LineCounts != "" {
		fmt.Fprintf(&b, "SOURCE FILE SIZES:\n%s\n\n", brief.LineCounts)
	}
	b.WriteString(brief.Snapshot)
	return b.String()
}
