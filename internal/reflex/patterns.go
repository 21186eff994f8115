package reflex

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"ain/internal/logging"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
)

// patternProgram is the datalog program behind the index. Trigger
// vocabulary and tag aliases are extensional facts; reflex_hit and
// reflex_candidate are derived per lookup.
const patternProgram = `
Decl trigger(Reflex, Tag).
Decl tag_alias(Alias, Tag).
Decl context_tag(Key, Tag).
Decl reflex_hit(Key, Reflex, Tag).
Decl reflex_candidate(Key, Reflex).

reflex_hit(Key, Reflex, Tag) :- context_tag(Key, Tag), trigger(Reflex, Tag).
reflex_hit(Key, Reflex, Tag) :- context_tag(Key, Alias), tag_alias(Alias, Tag), trigger(Reflex, Tag).
reflex_candidate(Key, Reflex) :- reflex_hit(Key, Reflex, _).
`

// Candidate is one reflex derived for a context key, with the distinct
// trigger tags that produced it.
type Candidate struct {
	Reflex string
	Tags   []string
}

// Hits reports how many distinct tags matched.
func (c Candidate) Hits() int { return len(c.Tags) }

// PatternIndex matches context keys against reflex trigger vocabulary
// through a small datalog program. Triggers persist for the index
// lifetime; each Match evaluates against a sandbox store so lookups
// never pollute each other.
type PatternIndex struct {
	mu          sync.RWMutex
	programInfo *analysis.ProgramInfo
	preds       map[string]ast.PredicateSym
	base        []ast.Atom
	vocab       map[string]int
}

// NewPatternIndex compiles the trigger program.
func NewPatternIndex() (*PatternIndex, error) {
	unit, err := parse.Unit(strings.NewReader(patternProgram))
	if err != nil {
		return nil, fmt.Errorf("parse pattern program: %w", err)
	}
	info, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return nil, fmt.Errorf("analyze pattern program: %w", err)
	}
	preds := make(map[string]ast.PredicateSym, len(info.Decls))
	for sym := range info.Decls {
		preds[sym.Symbol] = sym
	}
	for _, name := range []string{"trigger", "tag_alias", "context_tag", "reflex_hit"} {
		if _, ok := preds[name]; !ok {
			return nil, fmt.Errorf("pattern program missing predicate %s", name)
		}
	}
	return &PatternIndex{
		programInfo: info,
		preds:       preds,
		vocab:       make(map[string]int),
	}, nil
}

// AddTrigger registers trigger tags for a reflex. Tags are normalised
// the same way Match tokenises keys, so callers can pass raw words.
func (x *PatternIndex) AddTrigger(reflex string, tags ...string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	sym := x.preds["trigger"]
	for _, tag := range tags {
		norm := normalizeTag(tag)
		if norm == "" {
			continue
		}
		x.base = append(x.base, ast.Atom{
			Predicate: sym,
			Args:      []ast.BaseTerm{ast.String(reflex), ast.String(norm)},
		})
		x.vocab[reflex]++
	}
}

// AddAlias maps an alternate surface form onto a canonical trigger tag.
func (x *PatternIndex) AddAlias(alias, tag string) {
	a, t := normalizeTag(alias), normalizeTag(tag)
	if a == "" || t == "" {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.base = append(x.base, ast.Atom{
		Predicate: x.preds["tag_alias"],
		Args:      []ast.BaseTerm{ast.String(a), ast.String(t)},
	})
}

// VocabSize reports how many trigger tags are registered for a reflex.
func (x *PatternIndex) VocabSize(reflex string) int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.vocab[reflex]
}

// Match tokenises the key, asserts the tokens as context tags and
// returns the derived candidates ordered by hit count descending then
// name ascending.
func (x *PatternIndex) Match(key string) ([]Candidate, error) {
	tokens := Tokenize(key)
	if len(tokens) == 0 {
		return nil, nil
	}

	x.mu.RLock()
	info := x.programInfo
	store := factstore.NewSimpleInMemoryStore()
	for _, atom := range x.base {
		store.Add(atom)
	}
	ctxSym := x.preds["context_tag"]
	hitSym := x.preds["reflex_hit"]
	x.mu.RUnlock()

	for _, tok := range tokens {
		store.Add(ast.Atom{
			Predicate: ctxSym,
			Args:      []ast.BaseTerm{ast.String(key), ast.String(tok)},
		})
	}

	if _, err := mengine.EvalProgramWithStats(info, store); err != nil {
		return nil, fmt.Errorf("evaluate pattern program: %w", err)
	}

	hits := make(map[string]map[string]bool)
	err := store.GetFacts(ast.NewQuery(hitSym), func(a ast.Atom) error {
		if len(a.Args) != 3 {
			return nil
		}
		k, ok := constString(a.Args[0])
		if !ok || k != key {
			return nil
		}
		reflex, ok := constString(a.Args[1])
		if !ok {
			return nil
		}
		tag, ok := constString(a.Args[2])
		if !ok {
			return nil
		}
		if hits[reflex] == nil {
			hits[reflex] = make(map[string]bool)
		}
		hits[reflex][tag] = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read reflex_hit: %w", err)
	}

	out := make([]Candidate, 0, len(hits))
	for reflex, tags := range hits {
		c := Candidate{Reflex: reflex, Tags: make([]string, 0, len(tags))}
		for tag := range tags {
			c.Tags = append(c.Tags, tag)
		}
		sort.Strings(c.Tags)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].Tags) != len(out[j].Tags) {
			return len(out[i].Tags) > len(out[j].Tags)
		}
		return out[i].Reflex < out[j].Reflex
	})
	if len(out) > 0 {
		logging.ReflexDebug("pattern index: %q matched %d candidate(s), top=%s", key, len(out), out[0].Reflex)
	}
	return out, nil
}

// Tokenize lowercases and splits a context key into trigger tokens.
// Tokens shorter than two runes are dropped.
func Tokenize(key string) []string {
	fields := strings.FieldsFunc(strings.ToLower(key), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < 2 || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

func normalizeTag(tag string) string {
	toks := Tokenize(tag)
	if len(toks) == 0 {
		return ""
	}
	return toks[0]
}

func constString(term ast.BaseTerm) (string, bool) {
	c, ok := term.(ast.Constant)
	if !ok {
		return "", false
	}
	if c.Type == ast.StringType || c.Type == ast.NameType {
		return c.Symbol, true
	}
	return "", false
}
