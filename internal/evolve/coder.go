package evolve

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"ain/internal/llm"
	"ain/internal/logging"
	"ain/internal/proposal"
	"ain/internal/types"
)

const coderAttempts = 5

// CodeResult is the coder stage's outcome: validated updates ready for
// the applier, or the sentinel passthrough.
type CodeResult struct {
	Updates     []types.Update
	Warnings    []string
	NoEvolution bool
	Reason      string
	Attempts    int
}

// RejectionError is a screened update's refusal: the filename that was
// refused and the screening verdict. It stays typed through the
// exhaustion wrapper so the journal event can name the file and carry
// the verdict verbatim.
type RejectionError struct {
	Filename string
	Err      error
}

func (e *RejectionError) Error() string { return e.Err.Error() }
func (e *RejectionError) Unwrap() error { return e.Err }

// Coder turns a dreamer intent into validated full-file updates. Each
// attempt is sanitized, parsed and screened; a rejection reason feeds
// the next attempt's system prompt.
type Coder struct {
	llm       *llm.Client
	validator *proposal.Validator
	dupes     *proposal.DupeTracker
	workspace string
	warnLines int
	maxLines  int
}

// NewCoder wires the coder against the workspace the validator is
// rooted at. warnLines and maxLines shape the size-policy hints.
func NewCoder(client *llm.Client, v *proposal.Validator, workspace string, warnLines, maxLines int) *Coder {
	return &Coder{
		llm:       client,
		validator: v,
		dupes:     proposal.NewDupeTracker(64),
		workspace: workspace,
		warnLines: warnLines,
		maxLines:  maxLines,
	}
}

var intentPathRe = regexp.MustCompile(`[A-Za-z0-9_][A-Za-z0-9_./-]*\.py`)

// Generate runs up to five coder attempts for one intent. preferCheap
// routes the call through the economy model when one is configured.
// It never returns an empty update list without an error.
func (c *Coder) Generate(ctx context.Context, intent string, brief Brief, preferCheap bool) (CodeResult, error) {
	timer := logging.StartTimer(logging.CategoryCoder, "Generate")
	defer timer.Stop()

	user := c.coderUserPrompt(intent, brief)
	rejection := ""
	var lastErr error

	for attempt := 1; attempt <= coderAttempts; attempt++ {
		reply, err := c.chat(ctx, coderSystemPrompt(rejection, c.warnLines, c.maxLines), user, preferCheap)
		if err != nil {
			if errors.Is(err, types.ErrExternalUnavailable) || ctx.Err() != nil {
				return CodeResult{Attempts: attempt}, err
			}
			lastErr = err
			logging.Get(logging.CategoryCoder).Warn("attempt %d/%d failed: %v", attempt, coderAttempts, err)
			continue
		}

		cleaned, report := proposal.Sanitize(reply.Content)
		if report.HasConflict {
			rejection = "Your previous reply contained merge conflict markers. Emit clean whole files only."
			lastErr = fmt.Errorf("conflict markers in reply: %w", types.ErrSanityFailure)
			logging.Get(logging.CategoryCoder).Warn("attempt %d/%d rejected: conflict markers", attempt, coderAttempts)
			continue
		}
		if report.HasDiff {
			rejection = "Your previous reply used diff or patch syntax. Emit complete replacement files, never patches."
			lastErr = fmt.Errorf("diff syntax in reply: %w", types.ErrSanityFailure)
			logging.Get(logging.CategoryCoder).Warn("attempt %d/%d rejected: diff syntax", attempt, coderAttempts)
			continue
		}
		if report.HasOmission {
			rejection = "Your previous reply elided content with placeholder comments like '# rest of the file'. Emit every line of every file."
			lastErr = fmt.Errorf("omission markers in reply: %w", types.ErrSanityFailure)
			logging.Get(logging.CategoryCoder).Warn("attempt %d/%d rejected: omission markers", attempt, coderAttempts)
			continue
		}

		parsed := proposal.ParseUpdates(cleaned, intent)
		if parsed.NoEvolution {
			logging.Coder("no evolution needed: %s", parsed.Reason)
			return CodeResult{NoEvolution: true, Reason: parsed.Reason, Attempts: attempt}, nil
		}
		if len(parsed.Updates) == 0 {
			rejection = "Your previous reply contained no file blocks. Start each file with a line 'FILE: <relative path>' followed by one fenced code block."
			lastErr = fmt.Errorf("no file updates parsed: %w", types.ErrSanityFailure)
			logging.Get(logging.CategoryCoder).Warn("attempt %d/%d rejected: nothing parsed", attempt, coderAttempts)
			continue
		}

		warnings, why, err := c.screen(parsed.Updates)
		if err != nil {
			rejection = why
			lastErr = err
			logging.Get(logging.CategoryCoder).Warn("attempt %d/%d rejected: %v", attempt, coderAttempts, err)
			continue
		}

		logging.Coder("accepted %d update(s) on attempt %d", len(parsed.Updates), attempt)
		return CodeResult{Updates: parsed.Updates, Warnings: warnings, Attempts: attempt}, nil
	}

	return CodeResult{Attempts: coderAttempts}, fmt.Errorf("coder exhausted %d attempts: %w", coderAttempts, lastErr)
}

// chat picks the model tier. Under resource pressure the gate asks for
// the economy model; role semantics (temperature, logging) stay coder.
func (c *Coder) chat(ctx context.Context, system, user string, preferCheap bool) (*llm.Reply, error) {
	if preferCheap {
		if cheap := c.llm.FallbackModel(); cheap != "" {
			return c.llm.ChatModel(ctx, llm.RoleCoder, cheap, system, user)
		}
	}
	return c.llm.Chat(ctx, llm.RoleCoder, system, user)
}

// screen validates every parsed update and tracks rejected bodies so a
// resubmission of the same content fails fast.
func (c *Coder) screen(updates []types.Update) ([]string, string, error) {
	var warnings []string
	for _, u := range updates {
		if c.dupes.Seen(u.Filename, u.Code) {
			why := fmt.Sprintf("You resubmitted content for %s that was already rejected. Take a different approach.", u.Filename)
			return nil, why, &RejectionError{Filename: u.Filename, Err: fmt.Errorf("repeat of rejected content for %s: %w", u.Filename, types.ErrSanityFailure)}
		}
		w, err := c.validator.Validate(u, updates)
		if err != nil {
			// No-change and policy refusals are cheap to re-detect and
			// their reason must survive to the final error, so they
			// skip the tracker.
			if !errors.Is(err, types.ErrNoChange) && !errors.Is(err, types.ErrPolicyViolation) {
				c.dupes.Remember(u.Filename, u.Code)
			}
			return nil, rejectionFor(u.Filename, err), &RejectionError{Filename: u.Filename, Err: err}
		}
		warnings = append(warnings, w...)
	}
	return warnings, "", nil
}

// rejectionFor phrases a validator error as an instruction the next
// attempt can act on.
func rejectionFor(name string, err error) string {
	switch {
	case errors.Is(err, types.ErrNoChange):
		return fmt.Sprintf("Your %s was identical to the current file. Change something real, or reply %s:<reason>.", name, NoEvolutionSentinel)
	case errors.Is(err, types.ErrPolicyViolation):
		return fmt.Sprintf("The file %s is protected or its name violates policy. Choose a different file.", name)
	case errors.Is(err, types.ErrSanityFailure):
		return fmt.Sprintf("The file %s was rejected: %v. Fix it and emit the whole file again.", name, err)
	default:
		return fmt.Sprintf("The file %s was rejected: %v.", name, err)
	}
}

func coderSystemPrompt(rejection string, warnLines, maxLines int) string {
	var b strings.Builder
	b.WriteString("You are the code generator of a self-modifying system. Implement the given intent by emitting complete replacement files.\n")
	b.WriteString("Rules:\n")
	b.WriteString("- For each file, write a line 'FILE: <relative path>' followed by one fenced code block with the ENTIRE file content.\n")
	b.WriteString("- Never emit diffs, patches, hunk headers or merge conflict markers.\n")
	b.WriteString("- Never elide content with placeholders like '# rest of the file unchanged'.\n")
	b.WriteString("- Never touch main.py, api/keys.py, api/github.py, .ainprotect or docs/hardware-catalog.md.\n")
	fmt.Fprintf(&b, "- Keep files under %d lines; %d is a hard ceiling worth splitting at.\n", warnLines, maxLines)
	fmt.Fprintf(&b, "- If the intent needs no code change, reply %s:<reason>.\n", NoEvolutionSentinel)
	if rejection != "" {
		fmt.Fprintf(&b, "\nPREVIOUS ATTEMPT REJECTED: %s\n", rejection)
	}
	return b.String()
}

// coderUserPrompt assembles the intent, the current contents of every
// small file the intent names, and recent failure hints.
func (c *Coder) coderUserPrompt(intent string, brief Brief) string {
	var b strings.Builder
	fmt.Fprintf(&b, "INTENT: %s\n\n", intent)

	if brief.RoadmapStep != "" {
		fmt.Fprintf(&b, "ROADMAP CONTEXT: %s\n\n", brief.RoadmapStep)
	}
	if len(brief.ErrorHints) > 0 {
		b.WriteString("PAST FAILURES TO AVOID:\n")
		for _, h := range brief.ErrorHints {
			fmt.Fprintf(&b, "- %s\n", h)
		}
		b.WriteString("\n")
	}

	for _, name := range c.mentionedFiles(intent) {
		content, ok := c.readSmallFile(name)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "CURRENT CONTENT OF %s:\n```python\n%s\n```\n\n", name, content)
	}

	b.WriteString("Emit the replacement file(s) now.")
	return b.String()
}

// mentionedFiles extracts candidate paths from the intent text,
// deduplicated in order of appearance.
func (c *Coder) mentionedFiles(intent string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, m := range intentPathRe.FindAllString(intent, -1) {
		name := filepath.ToSlash(strings.Trim(m, "."))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

// readSmallFile returns the file's content when it exists and fits
// under the hard line ceiling; large files stay out of the prompt.
func (c *Coder) readSmallFile(name string) (string, bool) {
	data, err := os.ReadFile(filepath.Join(c.workspace, filepath.FromSlash(name)))
	if err != nil {
		return "", false
	}
	content := string(data)
	if strings.Count(content, "\n") >= c.maxLines {
		return "", false
	}
	return strings.TrimRight(content, "\n"), true
}
