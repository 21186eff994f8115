package evolve

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ain/internal/factcore"
	"ain/internal/gitsync"
	"ain/internal/guard"
	"ain/internal/journal"
	"ain/internal/llm"
	"ain/internal/logging"
	"ain/internal/proposal"
	"ain/internal/types"
)

// Options tailor one pipeline run.
type Options struct {
	UserQuery    string
	ErrorContext string
	Attention    string
	PreferCheap  bool
}

// Outcome is the structured result of a run. A failed stage surfaces
// through the returned error; Outcome still carries what completed.
type Outcome struct {
	Intent      string
	NoEvolution bool
	Reason      string
	Updates     []types.Update
	Applied     []AppliedFile
	Warnings    []string
	Tests       TestOutcome
	CommitSHA   string
	CommitURL   string
}

// Deps are the pipeline's collaborators. Git and Notify may be nil;
// the pipeline then works local-only and silently.
type Deps struct {
	Core    *factcore.Core
	Journal *journal.Journal
	Writer  *journal.DualWriter
	LLM     *llm.Client
	Git     *gitsync.Synchronizer
	Guard   *guard.Registry
	Notify  func(string)

	Workspace   string
	BackupDir   string
	Directive   string
	WarnLines   int
	MaxLines    int
	PythonBin   string
	TestTimeout time.Duration
}

// Pipeline runs one evolution end to end: brief, dream, code, apply,
// test, commit, record. Every stage failure lands in the journal as a
// failed event; the working tree is rolled back whenever tests or a
// later apply reject an already-written change.
type Pipeline struct {
	comp      *Compressor
	dreamer   *Dreamer
	coder     *Coder
	applier   *Applier
	tests     *Harness
	git       *gitsync.Synchronizer
	core      *factcore.Core
	journal   *journal.Journal
	writer    *journal.DualWriter
	directive string
	notify    func(string)
}

// NewPipeline wires the stages from shared collaborators.
func NewPipeline(d Deps) *Pipeline {
	warn, max := d.WarnLines, d.MaxLines
	if warn <= 0 {
		warn = 150
	}
	if max <= 0 {
		max = 200
	}
	validator := proposal.NewValidator(d.Workspace, d.Guard, warn, max)
	return &Pipeline{
		comp:      NewCompressor(d.Core),
		dreamer:   NewDreamer(d.LLM),
		coder:     NewCoder(d.LLM, validator, d.Workspace, warn, max),
		applier:   NewApplier(d.Workspace, d.BackupDir),
		tests:     NewHarness(d.Workspace, d.PythonBin, d.TestTimeout),
		git:       d.Git,
		core:      d.Core,
		journal:   d.Journal,
		writer:    d.Writer,
		directive: d.Directive,
		notify:    d.Notify,
	}
}

// Applier exposes the file writer for supervisor-grade restores.
func (p *Pipeline) Applier() *Applier { return p.applier }

// Run executes one full evolution. It returns a nil error for both a
// successful evolution and a clean no-evolution short-circuit.
func (p *Pipeline) Run(ctx context.Context, opts Options) (Outcome, error) {
	timer := logging.StartTimer(logging.CategoryEvolution, "Run")
	defer timer.Stop()

	var out Outcome
	logging.Audit(logging.AuditEvolutionStart, "", "", auditQuery(opts.UserQuery))

	brief, err := p.buildBrief(opts)
	if err != nil {
		return out, p.fail(ctx, "snapshot", "", err)
	}

	dream, err := p.dreamer.Dream(ctx, brief)
	if err != nil {
		return out, p.fail(ctx, "dreamer", "", err)
	}
	if dream.NoEvolution {
		out.NoEvolution, out.Reason = true, dream.Reason
		p.recordSkipped(ctx, dream.Reason)
		return out, nil
	}
	out.Intent = dream.Intent

	code, err := p.coder.Generate(ctx, dream.Intent, brief, opts.PreferCheap)
	if err != nil {
		return out, p.fail(ctx, "coder", "", err)
	}
	if code.NoEvolution {
		out.NoEvolution, out.Reason = true, code.Reason
		p.recordSkipped(ctx, code.Reason)
		return out, nil
	}
	out.Updates, out.Warnings = code.Updates, code.Warnings

	applied, err := p.applier.ApplyAll(code.Updates)
	if err != nil {
		p.rollback(applied)
		return out, p.fail(ctx, "apply", firstTarget(code.Updates), err)
	}
	out.Applied = applied
	logging.Audit(logging.AuditEvolutionApply, firstTarget(code.Updates), "ok",
		map[string]interface{}{"files": len(applied)})

	tests, err := p.tests.Run(ctx)
	out.Tests = tests
	if err != nil {
		p.rollback(applied)
		out.Applied = nil
		return out, p.fail(ctx, "testrun", firstTarget(code.Updates), err)
	}
	if !tests.Success() {
		p.rollback(applied)
		out.Applied = nil
		failure := fmt.Errorf("%s: %w", tests.Summary(), types.ErrTestFailure)
		if hint := tests.FirstFailure(); hint != "" {
			p.journal.RecordError("testrun", hint)
		}
		return out, p.fail(ctx, "testrun", firstTarget(code.Updates), failure)
	}

	if p.git != nil {
		res, err := p.git.Sync(ctx, gitsync.EvolutionMessage(dream.Intent))
		if err != nil {
			// The change survives; the commit is retried by /sync or
			// the next cycle's add-all.
			logging.Get(logging.CategoryEvolution).Error("git sync failed: %v", err)
			p.journal.RecordError("git", err.Error())
		} else {
			out.CommitSHA = res.SHA
			out.CommitURL = p.git.CommitURL(res.SHA)
			logging.Audit(logging.AuditEvolutionCommit, res.SHA, "ok", nil)
		}
	}

	ev := types.Event{
		Kind:        types.EventEvolution,
		Action:      "Update",
		Target:      firstTarget(code.Updates),
		Description: dream.Intent,
		Status:      types.StatusSuccess,
		Metadata: map[string]interface{}{
			"files":  updateNames(code.Updates),
			"commit": out.CommitSHA,
			"tests":  tests.Summary(),
		},
	}
	if _, err := p.writer.Record(ctx, ev, types.MemoryEvolution); err != nil {
		logging.Get(logging.CategoryEvolution).Error("journal record failed: %v", err)
	}

	p.advanceRoadmap(ctx)

	p.say(successNote(out))
	logging.Evolution("success: %s (%d file(s), commit %s)", dream.Intent, len(code.Updates), shortSHA(out.CommitSHA))
	return out, nil
}

// buildBrief assembles the shared model context for this run.
func (p *Pipeline) buildBrief(opts Options) (Brief, error) {
	snapshot, blocks, err := p.comp.Snapshot()
	if err != nil {
		return Brief{}, fmt.Errorf("snapshot: %w", err)
	}

	var evolutions []string
	for _, ev := range p.journal.RecentByKind(types.EventEvolution, 5) {
		evolutions = append(evolutions, fmt.Sprintf("[%s] %s", ev.Status, ev.Description))
	}
	var hints []string
	for _, e := range p.journal.RecentErrors(5) {
		hints = append(hints, fmt.Sprintf("%s: %s", e.Stage, e.Message))
	}

	return Brief{
		Snapshot:         snapshot,
		Directive:        p.core.FactString(p.directive, "identity", "prime_directive"),
		RoadmapStep:      p.core.CurrentStepSummary(),
		RecentEvolutions: evolutions,
		LineCounts:       LineCounts(blocks),
		ErrorHints:       hints,
		Attention:        opts.Attention,
		UserQuery:        opts.UserQuery,
		ErrorContext:     opts.ErrorContext,
	}, nil
}

// advanceRoadmap checks completion criteria after a success and commits
// the roadmap move on its own message.
func (p *Pipeline) advanceRoadmap(ctx context.Context) {
	advanced, msg, err := p.core.AdvanceIfComplete()
	if err != nil {
		logging.Get(logging.CategoryFactCore).Error("roadmap advance: %v", err)
		return
	}
	if !advanced {
		return
	}
	p.say(msg)
	if p.git == nil {
		return
	}
	if _, err := p.git.Sync(ctx, msg); err != nil {
		logging.Get(logging.CategoryGit).Warn("roadmap commit failed: %v", err)
	}
}

// fail records a stage failure in the error memory and the journal,
// notifies the operator, and returns the wrapped error. A typed
// rejection in the chain names the refused file as the event target
// and puts the screening verdict in the description, so a protected
// write journals as file="main.py" with the 🛡️ text up front.
func (p *Pipeline) fail(ctx context.Context, stage, target string, err error) error {
	desc := fmt.Sprintf("evolution failed at %s", stage)
	var rej *RejectionError
	if errors.As(err, &rej) {
		target = rej.Filename
		desc = rej.Err.Error()
	}

	logging.Get(logging.CategoryEvolution).Error("%s failed: %v", stage, err)
	logging.Audit(logging.AuditEvolutionReject, target, stage,
		map[string]interface{}{"error": err.Error()})
	if jerr := p.journal.RecordError(stage, err.Error()); jerr != nil {
		logging.Get(logging.CategoryJournal).Error("error record failed: %v", jerr)
	}

	ev := types.Event{
		Kind:        types.EventEvolution,
		Action:      "Update",
		Target:      target,
		Description: desc,
		Status:      types.StatusFailed,
		Error:       err.Error(),
	}
	if _, rerr := p.writer.Record(ctx, ev, types.MemoryEvolution); rerr != nil {
		logging.Get(logging.CategoryJournal).Error("journal record failed: %v", rerr)
	}

	p.say(fmt.Sprintf("⚠️ Evolution failed at %s: %v", stage, err))
	return fmt.Errorf("%s: %w", stage, err)
}

// recordSkipped journals a clean no-evolution verdict.
func (p *Pipeline) recordSkipped(ctx context.Context, reason string) {
	ev := types.Event{
		Kind:        types.EventEvolution,
		Action:      "NoEvolution",
		Description: reason,
		Status:      types.StatusSkipped,
	}
	if _, err := p.writer.Record(ctx, ev, types.MemoryEvolution); err != nil {
		logging.Get(logging.CategoryJournal).Error("journal record failed: %v", err)
	}
}

func (p *Pipeline) rollback(applied []AppliedFile) {
	if len(applied) == 0 {
		return
	}
	logging.Audit(logging.AuditEvolutionRollback, "", "restored",
		map[string]interface{}{"files": len(applied)})
	if err := p.applier.Rollback(applied); err != nil {
		logging.Get(logging.CategoryEvolution).Error("rollback: %v", err)
	}
}

func (p *Pipeline) say(text string) {
	if p.notify != nil && text != "" {
		p.notify(text)
	}
}

func successNote(out Outcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🧬 Evolution: %s\nfiles: %s\ntests: %s", out.Intent, strings.Join(updateNames(out.Updates), ", "), out.Tests.Summary())
	if out.CommitURL != "" {
		fmt.Fprintf(&b, "\n%s", out.CommitURL)
	}
	return b.String()
}

func auditQuery(q string) map[string]interface{} {
	if q == "" {
		return nil
	}
	return map[string]interface{}{"query": q}
}

func firstTarget(updates []types.Update) string {
	if len(updates) == 0 {
		return ""
	}
	return updates[0].Filename
}

func updateNames(updates []types.Update) []string {
	names := make([]string, len(updates))
	for i, u := range updates {
		names[i] = u.Filename
	}
	return names
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	if sha == "" {
		return "none"
	}
	return sha
}
