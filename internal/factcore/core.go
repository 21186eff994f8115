// Package factcore holds the organism's identity: a nested fact store,
// a small knowledge graph, and the roadmap. Everything persists into one
// JSON document so a crash loses at most the in-flight write.
package factcore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"ain/internal/guard"
	"ain/internal/logging"
	"ain/internal/persist"
)

// Edge is one labelled, ordered relation. Targets may name nodes that
// do not exist yet; dangling edges resolve lazily.
type Edge struct {
	Relation string `json:"relation"`
	Target   string `json:"target"`
}

// KnowledgeNode is one vertex of the identity graph.
type KnowledgeNode struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	NodeType  string    `json:"node_type"`
	Edges     []Edge    `json:"edges"`
	UpdatedAt time.Time `json:"updated_at"`
}

type document struct {
	Facts   map[string]interface{}    `json:"facts"`
	Nodes   map[string]*KnowledgeNode `json:"nodes"`
	Roadmap Roadmap                   `json:"roadmap"`
}

// Core owns fact_core.json and ROADMAP.md. Safe for concurrent use.
type Core struct {
	mu        sync.RWMutex
	path      string
	workspace string
	guard     *guard.Registry
	doc       document
}

// New loads the store at path, recovering from trailing garbage, or
// seeds a fresh identity when no file exists.
func New(path, workspace string, g *guard.Registry) (*Core, error) {
	c := &Core{path: path, workspace: workspace, guard: g}

	var doc document
	recovered, err := persist.Load(path, &doc)
	switch {
	case errors.Is(err, os.ErrNotExist):
		c.doc = seedDocument()
		if err := c.flushLocked(); err != nil {
			return nil, fmt.Errorf("seed fact core: %w", err)
		}
		logging.FactCore("seeded fresh fact core at %s", path)
	case err != nil:
		return nil, fmt.Errorf("load fact core: %w", err)
	default:
		if recovered {
			logging.Get(logging.CategoryFactCore).Warn("fact core recovered from truncated JSON: %s", path)
		}
		c.doc = doc
		c.ensureShape()
	}
	return c, nil
}

func (c *Core) ensureShape() {
	if c.doc.Facts == nil {
		c.doc.Facts = make(map[string]interface{})
	}
	if c.doc.Nodes == nil {
		c.doc.Nodes = make(map[string]*KnowledgeNode)
	}
	if c.doc.Roadmap.Phases == nil {
		c.doc.Roadmap = seedRoadmap()
	}
}

// GetFact walks nested maps key by key. Missing or mistyped levels
// return ok=false rather than panicking.
func (c *Core) GetFact(keys ...string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var cur interface{} = c.doc.Facts
	for _, k := range keys {
		m, isMap := cur.(map[string]interface{})
		if !isMap {
			return nil, false
		}
		next, present := m[k]
		if !present {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// FactString is GetFact for string leaves, with a default.
func (c *Core) FactString(def string, keys ...string) string {
	v, ok := c.GetFact(keys...)
	if !ok {
		return def
	}
	s, isStr := v.(string)
	if !isStr {
		return def
	}
	return s
}

// AddFact replaces a top-level key and persists the whole store. A map
// value also rebuilds the same-named graph node with empty relations.
func (c *Core) AddFact(key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.doc.Facts[key] = value
	if asMap, isMap := value.(map[string]interface{}); isMap {
		c.doc.Nodes[key] = &KnowledgeNode{
			ID:        key,
			Content:   compactJSON(asMap, 500),
			NodeType:  "fact",
			UpdatedAt: time.Now().UTC(),
		}
	}
	return c.flushLocked()
}

// UpdateFact is AddFact; replacement semantics are identical.
func (c *Core) UpdateFact(key string, value interface{}) error {
	return c.AddFact(key, value)
}

// AddNode inserts or replaces a graph node.
func (c *Core) AddNode(id, content, nodeType string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, exists := c.doc.Nodes[id]
	if !exists {
		node = &KnowledgeNode{ID: id}
		c.doc.Nodes[id] = node
	}
	node.Content = content
	node.NodeType = nodeType
	node.UpdatedAt = time.Now().UTC()
	return c.flushLocked()
}

// Relate appends a labelled edge. The source must exist; the target may
// be a label that arrives later.
func (c *Core) Relate(from, relation, target string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	src, ok := c.doc.Nodes[from]
	if !ok {
		return fmt.Errorf("relate: unknown node %q", from)
	}
	for _, e := range src.Edges {
		if e.Relation == relation && e.Target == target {
			return nil
		}
	}
	src.Edges = append(src.Edges, Edge{Relation: relation, Target: target})
	src.UpdatedAt = time.Now().UTC()
	return c.flushLocked()
}

// Node returns a copy of the node, if present.
func (c *Core) Node(id string) (KnowledgeNode, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	node, ok := c.doc.Nodes[id]
	if !ok {
		return KnowledgeNode{}, false
	}
	cp := *node
	cp.Edges = append([]Edge(nil), node.Edges...)
	return cp, true
}

// NodeCount reports graph size for status output.
func (c *Core) NodeCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.doc.Nodes)
}

func (c *Core) flushLocked() error {
	return persist.Save(c.path, c.doc)
}

func compactJSON(v interface{}, limit int) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	s := string(raw)
	if len(s) > limit {
		s = s[:limit]
	}
	return s
}

func seedDocument() document {
	return document{
		Facts: map[string]interface{}{
			"identity": map[string]interface{}{
				"name":            "AIN",
				"kind":            "autonomous intelligence nexus",
				"prime_directive": "Grow: observe the system, improve one small thing at a time, and never damage the core that keeps you alive.",
			},
		},
		Nodes:   make(map[string]*KnowledgeNode),
		Roadmap: seedRoadmap(),
	}
}
