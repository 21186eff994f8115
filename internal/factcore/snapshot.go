package factcore

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// snapshotFileLimit caps how much of any one file reaches a prompt.
const snapshotFileLimit = 15000

var snapshotExts = map[string]bool{
	".py": true, ".md": true, ".txt": true, ".json": true,
	".yaml": true, ".yml": true, ".toml": true, ".cfg": true, ".ini": true,
}

var snapshotSkipDirs = map[string]bool{
	".git": true, ".ain": true, "backups": true, "__pycache__": true,
	".venv": true, "venv": true, "node_modules": true,
}

// State files are memory, not source. They never belong in a snapshot.
var snapshotSkipFiles = map[string]bool{
	"fact_core.json":         true,
	"evolution_history.json": true,
	"dialogue_memory.json":   true,
	"nexus_metrics.json":     true,
	"error_memory.json":      true,
	"learned_reflexes.json":  true,
	"resource_stats.json":    true,
}

// FileBlock is one working-tree file captured for a prompt.
type FileBlock struct {
	Path      string
	Content   string
	Truncated bool
}

// SourceFiles walks the working tree and returns every known-extension
// file that is not protected, not state, and not in a skipped
// directory. Contents are capped at snapshotFileLimit characters.
func (c *Core) SourceFiles() ([]FileBlock, error) {
	var blocks []FileBlock
	root := c.workspace

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if d.IsDir() {
			if p != root && snapshotSkipDirs[d.Name()] {
				return fs.SkipDir
			}
			return nil
		}
		if !snapshotExts[strings.ToLower(filepath.Ext(p))] {
			return nil
		}
		if snapshotSkipFiles[d.Name()] {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if c.guard != nil && c.guard.IsProtected(rel) {
			return nil
		}
		raw, err := os.ReadFile(p)
		if err != nil {
			return nil
		}
		content := string(raw)
		truncated := false
		if len(content) > snapshotFileLimit {
			content = content[:snapshotFileLimit]
			truncated = true
		}
		blocks = append(blocks, FileBlock{Path: rel, Content: content, Truncated: truncated})
		return nil
	})
	return blocks, err
}

// SystemSnapshot renders the working tree as `--- FILE: path ---`
// blocks for prompt embedding.
func (c *Core) SystemSnapshot() (string, error) {
	blocks, err := c.SourceFiles()
	if err != nil {
		return "", fmt.Errorf("walk working tree: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "=== SYSTEM SNAPSHOT: %d files ===\n", len(blocks))
	for _, blk := range blocks {
		fmt.Fprintf(&b, "\n--- FILE: %s ---\n", blk.Path)
		b.WriteString(blk.Content)
		if blk.Truncated {
			b.WriteString("\n... [truncated]\n")
		} else if !strings.HasSuffix(blk.Content, "\n") {
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}
