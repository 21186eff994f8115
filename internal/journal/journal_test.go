package journal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"ain/internal/types"
)

func TestAppendNormalisesAndPersists(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	// Metadata values stay JSON-native so the on-disk round trip is exact.
	stored, err := j.Append(types.Event{
		Kind:        types.EventConversation,
		Action:      "Reply",
		Description: "answered /status",
		Status:      types.StatusSuccess,
		Metadata: map[string]interface{}{
			"channel": "telegram",
			"latency": 0.42,
			"usage":   map[string]interface{}{"prompt": float64(120), "output": float64(31)},
		},
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if stored.ID == "" || stored.Timestamp.IsZero() {
		t.Fatalf("event not normalised: %+v", stored)
	}

	reloaded, err := Open(dir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	events := reloaded.Recent(10)
	if len(events) != 1 {
		t.Fatalf("events after reload = %+v", events)
	}
	if diff := cmp.Diff(stored, events[0]); diff != "" {
		t.Errorf("event mismatch after reload (-want +got):\n%s", diff)
	}
}

func TestEvolutionMetrics(t *testing.T) {
	j, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	_, err = j.Append(types.Event{Kind: types.EventEvolution, Action: "Update", Target: "nexus/ping.py", Status: types.StatusSuccess})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err = j.Append(types.Event{Kind: types.EventEvolution, Action: "Update", Target: "nexus/ping.py", Status: types.StatusFailed, Error: "no change"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	m := j.Metrics()
	if m.GrowthScore != 10 {
		t.Fatalf("growth = %d, want 10", m.GrowthScore)
	}
	if m.TotalEvolutions != 2 || m.SuccessfulEvolutions != 1 || m.FailedEvolutions != 1 {
		t.Fatalf("metrics = %+v", m)
	}

	succ, fail := j.EvolutionOutcomes(10)
	if succ != 1 || fail != 1 {
		t.Fatalf("outcomes = %d/%d", succ, fail)
	}
}

func TestEventWindowBounded(t *testing.T) {
	j, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < maxEvents+25; i++ {
		if _, err := j.Append(types.Event{Kind: types.EventJournal, Action: fmt.Sprintf("tick-%d", i), Status: types.StatusSuccess}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	all := j.Recent(maxEvents * 2)
	if len(all) != maxEvents {
		t.Fatalf("window = %d, want %d", len(all), maxEvents)
	}
	if all[0].Action != "tick-25" {
		t.Fatalf("oldest survivor = %s, want tick-25", all[0].Action)
	}
}

func TestRecentByKindOrder(t *testing.T) {
	j, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := j.Append(types.Event{Kind: types.EventEvolution, Action: fmt.Sprintf("evo-%d", i), Status: types.StatusSuccess}); err != nil {
			t.Fatal(err)
		}
		if _, err := j.Append(types.Event{Kind: types.EventReflection, Action: fmt.Sprintf("thought-%d", i), Status: types.StatusSuccess}); err != nil {
			t.Fatal(err)
		}
	}
	evos := j.RecentByKind(types.EventEvolution, 2)
	if len(evos) != 2 || evos[0].Action != "evo-1" || evos[1].Action != "evo-2" {
		t.Fatalf("RecentByKind = %+v", evos)
	}
}

func TestDialogueAndErrors(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := j.RecordDialogue("user", "/status"); err != nil {
		t.Fatal(err)
	}
	if err := j.RecordDialogue("ain", "all systems nominal"); err != nil {
		t.Fatal(err)
	}
	turns := j.RecentDialogue(5)
	if len(turns) != 2 || turns[1].Role != "ain" {
		t.Fatalf("dialogue = %+v", turns)
	}

	before := time.Now().Add(-time.Minute)
	if err := j.RecordError("coder", "syntax error near line 3"); err != nil {
		t.Fatal(err)
	}
	if j.ErrorsSince(before) != 1 {
		t.Fatalf("ErrorsSince = %d, want 1", j.ErrorsSince(before))
	}
	if j.ErrorsSince(time.Now().Add(time.Minute)) != 0 {
		t.Fatalf("future ErrorsSince should be 0")
	}

	reloaded, err := Open(dir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(reloaded.RecentErrors(5)) != 1 {
		t.Fatalf("errors lost across reload")
	}
}

func TestOpenRecoversTruncatedHistory(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := j.Append(types.Event{Kind: types.EventJournal, Action: "keep", Status: types.StatusSuccess}); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, "evolution_history.json")
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, append(raw, []byte("\x00corrupt{{{")...), 0o644); err != nil {
		t.Fatal(err)
	}

	reloaded, err := Open(dir)
	if err != nil {
		t.Fatalf("reload with garbage: %v", err)
	}
	events := reloaded.Recent(5)
	if len(events) != 1 || events[0].Action != "keep" {
		t.Fatalf("recovered events = %+v", events)
	}
}

type fakeSink struct {
	fail   bool
	lastID string
	texts  []string
}

func (f *fakeSink) Remember(_ context.Context, text string, _ types.MemoryType, _, _ string) (string, error) {
	if f.fail {
		return "", errors.New("vector store down")
	}
	f.texts = append(f.texts, text)
	f.lastID = fmt.Sprintf("vec-%d", len(f.texts))
	return f.lastID, nil
}

func TestDualWriterJournalFirst(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	sink := &fakeSink{}
	dw := &DualWriter{Journal: j, Vector: sink}

	stored, err := dw.Record(context.Background(), types.Event{
		Kind:        types.EventEvolution,
		Action:      "Update",
		Target:      "nexus/ping.py",
		Description: "added ping()",
		Status:      types.StatusSuccess,
	}, types.MemoryEvolution)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if stored.EmbeddingID != sink.lastID {
		t.Fatalf("embedding id = %q, want %q", stored.EmbeddingID, sink.lastID)
	}
	if got := j.Recent(1)[0].EmbeddingID; got != sink.lastID {
		t.Fatalf("backfilled id = %q, want %q", got, sink.lastID)
	}
}

func TestDualWriterToleratesVectorFailure(t *testing.T) {
	j, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	dw := &DualWriter{Journal: j, Vector: &fakeSink{fail: true}}

	stored, err := dw.Record(context.Background(), types.Event{
		Kind:        types.EventReflection,
		Action:      "Monologue",
		Description: "quiet cycle, nothing to improve",
		Status:      types.StatusSuccess,
	}, types.MemoryConsciousness)
	if err != nil {
		t.Fatalf("vector failure must not fail the record: %v", err)
	}
	if stored.EmbeddingID != "" {
		t.Fatalf("embedding id set despite failure: %q", stored.EmbeddingID)
	}
	if len(j.Recent(1)) != 1 {
		t.Fatalf("journal entry missing")
	}
}
