// Package journal is the append-only event log and its sibling stores:
// dialogue memory, error memory and the growth metrics. Each store is a
// whole-file JSON document in the workspace root, hydrated at boot and
// rewritten after every mutation.
package journal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"ain/internal/logging"
	"ain/internal/persist"
	"ain/internal/types"
)

const (
	maxEvents   = 500
	maxDialogue = 200
	maxErrors   = 100

	growthPerEvolution = 10
)

// DialogueEntry is one turn of operator conversation.
type DialogueEntry struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorEntry remembers a failure for later prompt hints.
type ErrorEntry struct {
	Stage     string    `json:"stage"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Metrics accumulates the organism's vitals.
type Metrics struct {
	GrowthScore          int       `json:"growth_score"`
	TotalEvolutions      int       `json:"total_evolutions"`
	SuccessfulEvolutions int       `json:"successful_evolutions"`
	FailedEvolutions     int       `json:"failed_evolutions"`
	LastEvolutionAt      time.Time `json:"last_evolution_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Journal owns evolution_history.json, dialogue_memory.json,
// error_memory.json and nexus_metrics.json. Safe for concurrent use.
type Journal struct {
	mu       sync.Mutex
	dir      string
	events   []types.Event
	dialogue []DialogueEntry
	errors   []ErrorEntry
	metrics  Metrics
}

// Open hydrates all four stores from dir. Missing files start empty;
// truncated files are recovered to their last parseable prefix.
func Open(dir string) (*Journal, error) {
	j := &Journal{dir: dir}

	load := func(name string, v interface{}) error {
		recovered, err := persist.Load(filepath.Join(dir, name), v)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if recovered {
			logging.Get(logging.CategoryJournal).Warn("%s recovered from truncated JSON", name)
		}
		return nil
	}

	if err := load("evolution_history.json", &j.events); err != nil {
		return nil, fmt.Errorf("load journal: %w", err)
	}
	if err := load("dialogue_memory.json", &j.dialogue); err != nil {
		return nil, fmt.Errorf("load dialogue: %w", err)
	}
	if err := load("error_memory.json", &j.errors); err != nil {
		return nil, fmt.Errorf("load errors: %w", err)
	}
	if err := load("nexus_metrics.json", &j.metrics); err != nil {
		return nil, fmt.Errorf("load metrics: %w", err)
	}
	logging.Journal("journal open: %d events, %d dialogue turns, %d errors, growth %d",
		len(j.events), len(j.dialogue), len(j.errors), j.metrics.GrowthScore)
	return j, nil
}

// Append normalises and stores one event, returning the stored copy.
// Evolution events also move the metrics: success adds growth.
func (j *Journal) Append(ev types.Event) (types.Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if ev.ID == "" {
		ev.ID = types.NewEventID()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	j.events = append(j.events, ev)
	if len(j.events) > maxEvents {
		j.events = j.events[len(j.events)-maxEvents:]
	}

	if ev.Kind == types.EventEvolution {
		j.metrics.TotalEvolutions++
		j.metrics.LastEvolutionAt = ev.Timestamp
		switch ev.Status {
		case types.StatusSuccess:
			j.metrics.SuccessfulEvolutions++
			j.metrics.GrowthScore += growthPerEvolution
		case types.StatusFailed:
			j.metrics.FailedEvolutions++
		}
		j.metrics.UpdatedAt = ev.Timestamp
		if err := j.saveMetricsLocked(); err != nil {
			return ev, err
		}
	}

	if err := persist.Save(filepath.Join(j.dir, "evolution_history.json"), j.events); err != nil {
		return ev, fmt.Errorf("persist journal: %w", err)
	}
	logging.Journal("event %s %s/%s status=%s target=%s", ev.ID, ev.Kind, ev.Action, ev.Status, ev.Target)
	return ev, nil
}

// Recent returns the newest n events in chronological order.
func (j *Journal) Recent(n int) []types.Event {
	j.mu.Lock()
	defer j.mu.Unlock()
	return tailEvents(j.events, n)
}

// RecentByKind filters the log by kind, newest n in order.
func (j *Journal) RecentByKind(kind types.EventKind, n int) []types.Event {
	j.mu.Lock()
	defer j.mu.Unlock()

	var filtered []types.Event
	for _, ev := range j.events {
		if ev.Kind == kind {
			filtered = append(filtered, ev)
		}
	}
	return tailEvents(filtered, n)
}

// EvolutionOutcomes counts successes and failures among the newest n
// evolution events.
func (j *Journal) EvolutionOutcomes(n int) (successes, failures int) {
	for _, ev := range j.RecentByKind(types.EventEvolution, n) {
		switch ev.Status {
		case types.StatusSuccess:
			successes++
		case types.StatusFailed:
			failures++
		}
	}
	return successes, failures
}

// RecordDialogue appends one conversation turn.
func (j *Journal) RecordDialogue(role, text string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.dialogue = append(j.dialogue, DialogueEntry{Role: role, Text: text, Timestamp: time.Now().UTC()})
	if len(j.dialogue) > maxDialogue {
		j.dialogue = j.dialogue[len(j.dialogue)-maxDialogue:]
	}
	return persist.Save(filepath.Join(j.dir, "dialogue_memory.json"), j.dialogue)
}

// RecentDialogue returns the newest n turns in order.
func (j *Journal) RecentDialogue(n int) []DialogueEntry {
	j.mu.Lock()
	defer j.mu.Unlock()

	if n > len(j.dialogue) {
		n = len(j.dialogue)
	}
	if n <= 0 {
		return nil
	}
	out := make([]DialogueEntry, n)
	copy(out, j.dialogue[len(j.dialogue)-n:])
	return out
}

// RecordError remembers a failure for prompt hints and the meta cycle.
func (j *Journal) RecordError(stage, message string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.errors = append(j.errors, ErrorEntry{Stage: stage, Message: message, Timestamp: time.Now().UTC()})
	if len(j.errors) > maxErrors {
		j.errors = j.errors[len(j.errors)-maxErrors:]
	}
	return persist.Save(filepath.Join(j.dir, "error_memory.json"), j.errors)
}

// RecentErrors returns the newest n error entries in order.
func (j *Journal) RecentErrors(n int) []ErrorEntry {
	j.mu.Lock()
	defer j.mu.Unlock()

	if n > len(j.errors) {
		n = len(j.errors)
	}
	if n <= 0 {
		return nil
	}
	out := make([]ErrorEntry, n)
	copy(out, j.errors[len(j.errors)-n:])
	return out
}

// ErrorsSince counts errors recorded at or after t.
func (j *Journal) ErrorsSince(t time.Time) int {
	j.mu.Lock()
	defer j.mu.Unlock()

	n := 0
	for _, e := range j.errors {
		if !e.Timestamp.Before(t) {
			n++
		}
	}
	return n
}

// Metrics returns a copy of the current vitals.
func (j *Journal) Metrics() Metrics {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.metrics
}

// AddGrowth adjusts the growth score outside the evolution path, for
// roadmap advances and similar wins.
func (j *Journal) AddGrowth(delta int) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.metrics.GrowthScore += delta
	j.metrics.UpdatedAt = time.Now().UTC()
	return j.saveMetricsLocked()
}

func (j *Journal) saveMetricsLocked() error {
	return persist.Save(filepath.Join(j.dir, "nexus_metrics.json"), j.metrics)
}

// setEmbeddingID backfills the vector id on an already-appended event.
func (j *Journal) setEmbeddingID(eventID, embeddingID string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	for i := len(j.events) - 1; i >= 0; i-- {
		if j.events[i].ID == eventID {
			j.events[i].EmbeddingID = embeddingID
			if err := persist.Save(filepath.Join(j.dir, "evolution_history.json"), j.events); err != nil {
				logging.Get(logging.CategoryJournal).Warn("embedding id backfill failed: %v", err)
			}
			return
		}
	}
}

func tailEvents(s []types.Event, n int) []types.Event {
	if n > len(s) {
		n = len(s)
	}
	if n <= 0 {
		return nil
	}
	out := make([]types.Event, n)
	copy(out, s[len(s)-n:])
	return out
}
