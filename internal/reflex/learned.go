package reflex

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"ain/internal/logging"
	"ain/internal/persist"
	"ain/internal/types"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// PromotionThreshold is how many sightings of the same context key a
// candidate needs before it becomes a learned reflex.
const PromotionThreshold = 3

// learnedEntrySchema validates one catalogue entry. An entry needs a
// name, at least one trigger, and either a canned reply or a snippet
// body.
const learnedEntrySchema = `{
  "type": "object",
  "required": ["name", "triggers"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "triggers": {"type": "array", "items": {"type": "string"}, "minItems": 1},
    "min_confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "reply": {"type": "string"},
    "body": {"type": "string"},
    "sightings": {"type": "integer", "minimum": 0},
    "created_at": {"type": "string"}
  },
  "anyOf": [
    {"required": ["reply"]},
    {"required": ["body"]}
  ]
}`

// LearnedReflex is one persisted entry of learned_reflexes.json.
type LearnedReflex struct {
	Name          string    `json:"name"`
	Triggers      []string  `json:"triggers"`
	MinConfidence float64   `json:"min_confidence,omitempty"`
	Reply         string    `json:"reply,omitempty"`
	Body          string    `json:"body,omitempty"`
	Sightings     int       `json:"sightings,omitempty"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
}

// LearningCandidate tracks repeated context keys on their way to
// promotion.
type LearningCandidate struct {
	Key      string    `json:"key"`
	Reply    string    `json:"reply"`
	Count    int       `json:"count"`
	LastSeen time.Time `json:"last_seen"`
}

type catalogue struct {
	Version    int                          `json:"version"`
	Reflexes   []json.RawMessage            `json:"reflexes"`
	Candidates map[string]LearningCandidate `json:"candidates,omitempty"`
}

type catalogueOut struct {
	Version    int                          `json:"version"`
	Reflexes   []LearnedReflex              `json:"reflexes"`
	Candidates map[string]LearningCandidate `json:"candidates,omitempty"`
}

// Learned manages the on-disk learned-reflex catalogue: schema-checked
// load, live registration, and sighting-based acquisition of new
// entries.
type Learned struct {
	path   string
	runner *SnippetRunner
	schema *jsonschema.Schema

	mu         sync.Mutex
	entries    []LearnedReflex
	candidates map[string]LearningCandidate
	dropped    int
}

// OpenLearned loads path if it exists. Entries that fail schema
// validation or carry an uncompilable body are dropped with a warning;
// a malformed catalogue never blocks boot.
func OpenLearned(path string) (*Learned, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("learned-reflex.json", strings.NewReader(learnedEntrySchema)); err != nil {
		return nil, fmt.Errorf("register reflex schema: %w", err)
	}
	schema, err := compiler.Compile("learned-reflex.json")
	if err != nil {
		return nil, fmt.Errorf("compile reflex schema: %w", err)
	}

	l := &Learned{
		path:       path,
		runner:     NewSnippetRunner(),
		schema:     schema,
		candidates: make(map[string]LearningCandidate),
	}

	if !persist.Exists(path) {
		return l, nil
	}

	var cat catalogue
	if _, err := persist.Load(path, &cat); err != nil {
		logging.Get(logging.CategoryReflex).Warn("learned catalogue unreadable, starting empty: %v", err)
		return l, nil
	}
	if cat.Candidates != nil {
		l.candidates = cat.Candidates
	}
	for _, raw := range cat.Reflexes {
		entry, err := l.decodeEntry(raw)
		if err != nil {
			l.dropped++
			logging.Get(logging.CategoryReflex).Warn("skipping learned reflex: %v", err)
			continue
		}
		l.entries = append(l.entries, entry)
	}
	logging.Reflex("learned catalogue: %d entries, %d candidates, %d dropped", len(l.entries), len(l.candidates), l.dropped)
	return l, nil
}

func (l *Learned) decodeEntry(raw json.RawMessage) (LearnedReflex, error) {
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return LearnedReflex{}, fmt.Errorf("entry is not valid JSON: %w", err)
	}
	if err := l.schema.Validate(generic); err != nil {
		return LearnedReflex{}, fmt.Errorf("entry fails schema: %w", err)
	}
	var entry LearnedReflex
	if err := json.Unmarshal(raw, &entry); err != nil {
		return LearnedReflex{}, fmt.Errorf("entry decode: %w", err)
	}
	if entry.MinConfidence == 0 {
		entry.MinConfidence = types.ReflexConfidenceThreshold
	}
	return entry, nil
}

// Entries returns a copy of the loaded catalogue.
func (l *Learned) Entries() []LearnedReflex {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LearnedReflex, len(l.entries))
	copy(out, l.entries)
	return out
}

// Dropped reports how many entries failed validation at load.
func (l *Learned) Dropped() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// Register wires every loaded entry into the registry and pattern
// index. Entries whose body fails to compile, or whose name collides,
// are skipped. Returns how many registered.
func (l *Learned) Register(reg *Registry, index *PatternIndex) int {
	l.mu.Lock()
	entries := make([]LearnedReflex, len(l.entries))
	copy(entries, l.entries)
	l.mu.Unlock()

	registered := 0
	for _, entry := range entries {
		action, err := l.buildAction(entry)
		if err != nil {
			logging.Get(logging.CategoryReflex).Warn("learned reflex %s unusable: %v", entry.Name, err)
			continue
		}
		if err := reg.Register(action); err != nil {
			logging.Get(logging.CategoryReflex).Warn("learned reflex %s: %v", entry.Name, err)
			continue
		}
		index.AddTrigger(entry.Name, entry.Triggers...)
		registered++
	}
	return registered
}

// RegisterEntry wires a single entry, typically one just promoted by
// Sighting, without reloading the catalogue.
func (l *Learned) RegisterEntry(entry LearnedReflex, reg *Registry, index *PatternIndex) error {
	action, err := l.buildAction(entry)
	if err != nil {
		return err
	}
	if err := reg.Register(action); err != nil {
		return err
	}
	index.AddTrigger(entry.Name, entry.Triggers...)
	return nil
}

// buildAction compiles the entry into an executable Action. Bodies are
// compiled once here and reused on every fire.
func (l *Learned) buildAction(entry LearnedReflex) (Action, error) {
	var handler Handler
	switch {
	case entry.Body != "":
		fn, err := l.runner.Compile(entry.Body)
		if err != nil {
			return Action{}, err
		}
		handler = snippetHandler(fn)
	case entry.Reply != "":
		reply := entry.Reply
		handler = func(ctx context.Context, in Input) (string, bool, error) {
			return reply, true, nil
		}
	default:
		return Action{}, fmt.Errorf("entry has neither reply nor body")
	}

	return Action{
		Name:          entry.Name,
		Kind:          KindLearned,
		MinConfidence: entry.MinConfidence,
		Handler:       handler,
	}, nil
}

// snippetHandler runs the compiled body on its own goroutine so a
// runaway snippet cannot hold the tick past its context deadline.
func snippetHandler(fn SnippetFunc) Handler {
	return func(ctx context.Context, in Input) (string, bool, error) {
		type result struct {
			out string
			err error
		}
		ch := make(chan result, 1)
		go func() {
			out, err := fn(in.Key)
			ch <- result{out, err}
		}()
		select {
		case r := <-ch:
			if r.err != nil {
				return "", false, r.err
			}
			return r.out, true, nil
		case <-ctx.Done():
			return "", false, ctx.Err()
		}
	}
}

// Sighting records one successful deliberate resolution of key. On the
// third sighting the candidate is promoted into the catalogue with the
// recorded reply, persisted, and returned for live registration.
func (l *Learned) Sighting(key, reply string) (*LearnedReflex, error) {
	norm := strings.Join(Tokenize(key), " ")
	if norm == "" || reply == "" {
		return nil, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cand := l.candidates[norm]
	cand.Key = norm
	cand.Reply = reply
	cand.Count++
	cand.LastSeen = time.Now().UTC()

	if cand.Count < PromotionThreshold {
		l.candidates[norm] = cand
		return nil, l.saveLocked()
	}

	entry := LearnedReflex{
		Name:          learnedName(norm),
		Triggers:      Tokenize(key),
		MinConfidence: types.ReflexConfidenceThreshold,
		Reply:         reply,
		Sightings:     cand.Count,
		CreatedAt:     time.Now().UTC(),
	}
	for _, existing := range l.entries {
		if existing.Name == entry.Name {
			delete(l.candidates, norm)
			return nil, l.saveLocked()
		}
	}
	l.entries = append(l.entries, entry)
	delete(l.candidates, norm)
	if err := l.saveLocked(); err != nil {
		return nil, err
	}
	logging.Reflex("promoted learned reflex %s after %d sightings", entry.Name, cand.Count)
	return &entry, nil
}

func (l *Learned) saveLocked() error {
	out := catalogueOut{
		Version:  1,
		Reflexes: l.entries,
	}
	if len(l.candidates) > 0 {
		out.Candidates = l.candidates
	}
	return persist.Save(l.path, out)
}

func learnedName(norm string) string {
	slug := strings.ReplaceAll(norm, " ", "_")
	if len(slug) > 40 {
		slug = slug[:40]
	}
	return "learned_" + slug
}
