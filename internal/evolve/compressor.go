// Package evolve implements the deliberate path: snapshot compression,
// the dreamer/coder exchange, the gated applier with backups, the test
// sweep, and the pipeline that chains them into one evolution attempt.
package evolve

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"ain/internal/factcore"
)

// Role weights a file's claim on prompt space.
type Role string

const (
	RoleCore   Role = "core"
	RoleEngine Role = "engine"
	RoleOther  Role = "other"
)

// Per-role byte budgets. The organism's nucleus travels nearly whole;
// peripheral files arrive as stubs.
const (
	budgetCore   = 10000
	budgetEngine = 4000
	budgetOther  = 1000
)

// Block is one working-tree file compressed for a prompt.
type Block struct {
	Role      Role
	Path      string
	Content   string
	Truncated bool
	Lines     int
}

// Compressor shapes the fact core's file walk into role-budgeted
// prompt blocks.
type Compressor struct {
	core *factcore.Core
}

// NewCompressor wraps the fact core.
func NewCompressor(core *factcore.Core) *Compressor {
	return &Compressor{core: core}
}

// roleFor classifies a relative path. The entrypoint and core/ are the
// nucleus; engine/, cognition/ and api/ are machinery; the rest is
// periphery.
func roleFor(rel string) Role {
	rel = filepath.ToSlash(rel)
	if rel == "main.py" || strings.HasPrefix(rel, "core/") {
		return RoleCore
	}
	for _, prefix := range []string{"engine/", "cognition/", "api/"} {
		if strings.HasPrefix(rel, prefix) {
			return RoleEngine
		}
	}
	return RoleOther
}

func budgetFor(role Role) int {
	switch role {
	case RoleCore:
		return budgetCore
	case RoleEngine:
		return budgetEngine
	default:
		return budgetOther
	}
}

// Snapshot walks the tree and returns the rendered prompt text plus
// the blocks behind it, core-first so the nucleus survives any
// downstream truncation.
func (c *Compressor) Snapshot() (string, []Block, error) {
	files, err := c.core.SourceFiles()
	if err != nil {
		return "", nil, fmt.Errorf("snapshot walk: %w", err)
	}

	blocks := make([]Block, 0, len(files))
	for _, f := range files {
		role := roleFor(f.Path)
		content := f.Content
		truncated := f.Truncated
		if budget := budgetFor(role); len(content) > budget {
			content = content[:budget]
			truncated = true
		}
		blocks = append(blocks, Block{
			Role:      role,
			Path:      f.Path,
			Content:   content,
			Truncated: truncated,
			Lines:     lineCount(f.Content),
		})
	}

	sort.SliceStable(blocks, func(i, j int) bool {
		return roleRank(blocks[i].Role) < roleRank(blocks[j].Role)
	})

	var b strings.Builder
	fmt.Fprintf(&b, "=== SYSTEM SNAPSHOT: %d files ===\n", len(blocks))
	for _, blk := range blocks {
		fmt.Fprintf(&b, "\n--- FILE: %s [%s, %d lines] ---\n", blk.Path, blk.Role, blk.Lines)
		b.WriteString(blk.Content)
		if blk.Truncated {
			b.WriteString("\n... [truncated]\n")
		} else if !strings.HasSuffix(blk.Content, "\n") {
			b.WriteString("\n")
		}
	}
	return b.String(), blocks, nil
}

// LineCounts renders the per-file line table embedded in the dreamer
// prompt so size policy decisions rest on real numbers.
func LineCounts(blocks []Block) string {
	if len(blocks) == 0 {
		return "(no source files)"
	}
	var b strings.Builder
	for _, blk := range blocks {
		fmt.Fprintf(&b, "%s: %d lines\n", blk.Path, blk.Lines)
	}
	return strings.TrimRight(b.String(), "\n")
}

func roleRank(r Role) int {
	switch r {
	case RoleCore:
		return 0
	case RoleEngine:
		return 1
	default:
		return 2
	}
}

func lineCount(content string) int {
	n := strings.Count(content, "\n") + 1
	if strings.HasSuffix(content, "\n") {
		n--
	}
	return n
}
