package evolve

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ain/internal/factcore"
	"ain/internal/guard"
	"ain/internal/journal"
	"ain/internal/llm"
	"ain/internal/types"
)

func newTestPipeline(t *testing.T, ws string, client *llm.Client, notify func(string)) (*Pipeline, *journal.Journal) {
	t.Helper()
	g, err := guard.NewRegistry(ws)
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	core, err := factcore.New(filepath.Join(ws, "fact_core.json"), ws, g)
	if err != nil {
		t.Fatalf("factcore: %v", err)
	}
	j, err := journal.Open(filepath.Join(ws, ".ain"))
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	p := NewPipeline(Deps{
		Core:        core,
		Journal:     j,
		Writer:      &journal.DualWriter{Journal: j},
		LLM:         client,
		Guard:       g,
		Notify:      notify,
		Workspace:   ws,
		BackupDir:   "backups",
		Directive:   "grow safely",
		PythonBin:   "sh",
		TestTimeout: 5 * time.Second,
	})
	return p, j
}

func TestPipelineSuccessfulEvolution(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "main.py", "print('alive')\n")
	client, _ := scriptedLLM(t, goodIntentReply, pingFileReply)

	var notes []string
	p, j := newTestPipeline(t, ws, client, func(s string) { notes = append(notes, s) })

	out, err := p.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.NoEvolution || out.Intent == "" {
		t.Fatalf("outcome = %+v", out)
	}
	if got := readBack(t, ws, "nexus/ping.py"); !strings.Contains(got, "def ping()") {
		t.Fatalf("applied file = %q", got)
	}

	m := j.Metrics()
	if m.SuccessfulEvolutions != 1 || m.GrowthScore != 10 {
		t.Fatalf("metrics = %+v", m)
	}
	events := j.Recent(1)
	if len(events) != 1 {
		t.Fatal("no journal event")
	}
	ev := events[0]
	if ev.Kind != types.EventEvolution || ev.Status != types.StatusSuccess || ev.Target != "nexus/ping.py" {
		t.Fatalf("event = %+v", ev)
	}
	if len(notes) == 0 || !strings.Contains(notes[len(notes)-1], "🧬 Evolution:") {
		t.Fatalf("notes = %v", notes)
	}
}

func TestPipelineNoEvolutionShortCircuit(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "main.py", "print('alive')\n")
	client, _ := scriptedLLM(t, "NO_EVOLUTION_NEEDED: the tree is already healthy")

	p, j := newTestPipeline(t, ws, client, nil)
	out, err := p.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !out.NoEvolution || out.Reason != "the tree is already healthy" {
		t.Fatalf("outcome = %+v", out)
	}
	events := j.Recent(1)
	if len(events) != 1 || events[0].Status != types.StatusSkipped {
		t.Fatalf("events = %+v", events)
	}
}

func TestPipelineCoderFailureRecordsFailedEvent(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "main.py", "print('alive')\n")
	client, _ := scriptedLLM(t, goodIntentReply, "The spirit moves me to write no code today.")

	var notes []string
	p, j := newTestPipeline(t, ws, client, func(s string) { notes = append(notes, s) })

	_, err := p.Run(context.Background(), Options{})
	if err == nil {
		t.Fatal("expected coder failure")
	}
	if !errors.Is(err, types.ErrSanityFailure) {
		t.Fatalf("err = %v", err)
	}

	if m := j.Metrics(); m.FailedEvolutions != 1 {
		t.Fatalf("metrics = %+v", m)
	}
	events := j.Recent(1)
	if len(events) != 1 || events[0].Status != types.StatusFailed {
		t.Fatalf("events = %+v", events)
	}
	errs := j.RecentErrors(5)
	if len(errs) == 0 || errs[len(errs)-1].Stage != "coder" {
		t.Fatalf("error memory = %+v", errs)
	}
	if len(notes) == 0 || !strings.Contains(notes[0], "⚠️") {
		t.Fatalf("notes = %v", notes)
	}
}

func TestPipelineProtectedFileRejectionEventShape(t *testing.T) {
	ws := t.TempDir()
	original := "print('alive')\n"
	writeFile(t, ws, "main.py", original)
	client, _ := scriptedLLM(t, goodIntentReply, "FILE: main.py\n```python\nprint(1)\n```")

	p, j := newTestPipeline(t, ws, client, nil)
	_, err := p.Run(context.Background(), Options{})
	if err == nil {
		t.Fatal("expected policy failure")
	}
	if !errors.Is(err, types.ErrPolicyViolation) {
		t.Fatalf("err = %v, want ErrPolicyViolation", err)
	}
	if got := readBack(t, ws, "main.py"); got != original {
		t.Fatalf("protected file modified: %q", got)
	}

	events := j.Recent(1)
	if len(events) != 1 {
		t.Fatal("no journal event")
	}
	ev := events[0]
	if ev.Kind != types.EventEvolution || ev.Status != types.StatusFailed || ev.Action != "Update" {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Target != "main.py" {
		t.Fatalf("target = %q, want main.py", ev.Target)
	}
	if !strings.HasPrefix(ev.Description, "🛡️") {
		t.Fatalf("description = %q, want 🛡️ prefix", ev.Description)
	}
}

func TestPipelineTestFailureRollsBack(t *testing.T) {
	ws := t.TempDir()
	original := "def beat():\n    return 1\n"
	writeFile(t, ws, "engine/core.py", original)
	writeFile(t, ws, "test_always_fail.py", "exit 1\n")

	intent := "SYSTEM_INTENT: Rework engine/core.py so beat() reports richer vitals for telemetry."
	patch := "FILE: engine/core.py\n```python\ndef beat():\n    return 2\n```"
	client, _ := scriptedLLM(t, intent, patch)

	p, j := newTestPipeline(t, ws, client, nil)
	out, err := p.Run(context.Background(), Options{})
	if err == nil {
		t.Fatal("expected test failure")
	}
	if !errors.Is(err, types.ErrTestFailure) {
		t.Fatalf("err = %v", err)
	}
	if got := readBack(t, ws, "engine/core.py"); got != original {
		t.Fatalf("file not rolled back: %q", got)
	}
	if out.Applied != nil {
		t.Fatalf("applied should be cleared after rollback: %+v", out.Applied)
	}

	// The backup trail is append-only; the rollback leaves it behind.
	matches, _ := filepath.Glob(filepath.Join(ws, "backups", "engine", "core.py.*.bak"))
	if len(matches) != 1 {
		t.Fatalf("backups = %v", matches)
	}
	if events := j.Recent(1); len(events) != 1 || events[0].Status != types.StatusFailed {
		t.Fatalf("events = %+v", j.Recent(1))
	}
}

func TestPipelineRoadmapAdvance(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "main.py", "print('alive')\n")

	intent := "SYSTEM_INTENT: Create nexus/telemetry.py with a report_vitals() function emitting cycle stats."
	telemetry := "FILE: nexus/telemetry.py\n```python\ndef report_vitals():\n    return {'uptime': 1}\n```"
	client, _ := scriptedLLM(t, intent, telemetry)

	var notes []string
	p, _ := newTestPipeline(t, ws, client, func(s string) { notes = append(notes, s) })

	if _, err := p.Run(context.Background(), Options{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	moved := false
	for _, n := range notes {
		if strings.Contains(n, "🗺️ Roadmap: Telemetry completed") {
			moved = true
		}
	}
	if !moved {
		t.Fatalf("roadmap advance not announced: %v", notes)
	}
	if _, err := os.Stat(filepath.Join(ws, "ROADMAP.md")); err != nil {
		t.Fatalf("ROADMAP.md not rewritten: %v", err)
	}
}

func TestPipelineBriefCarriesHistory(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "main.py", "print('alive')\n")
	client, _ := scriptedLLM(t, goodIntentReply)
	p, j := newTestPipeline(t, ws, client, nil)

	if err := j.RecordError("apply", "disk full"); err != nil {
		t.Fatalf("RecordError: %v", err)
	}
	if _, err := j.Append(types.Event{Kind: types.EventEvolution, Action: "Update", Description: "added ping", Status: types.StatusSuccess}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	brief, err := p.buildBrief(Options{UserQuery: "tighten the loop"})
	if err != nil {
		t.Fatalf("buildBrief: %v", err)
	}
	if len(brief.RecentEvolutions) != 1 || !strings.Contains(brief.RecentEvolutions[0], "added ping") {
		t.Fatalf("evolutions = %v", brief.RecentEvolutions)
	}
	if len(brief.ErrorHints) != 1 || !strings.Contains(brief.ErrorHints[0], "apply: disk full") {
		t.Fatalf("hints = %v", brief.ErrorHints)
	}
	if !strings.Contains(brief.Directive, "Grow") {
		t.Fatalf("directive = %q", brief.Directive)
	}
	if brief.UserQuery != "tighten the loop" {
		t.Fatalf("user query = %q", brief.UserQuery)
	}
	if !strings.Contains(brief.LineCounts, "main.py") {
		t.Fatalf("line counts = %q", brief.LineCounts)
	}
}
