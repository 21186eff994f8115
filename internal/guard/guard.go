// Package guard owns the protected-file registry. A path on the list is
// refused by the validator regardless of proposal quality, elided from
// system snapshots, and never restored over by recovery. The hard set is
// compiled in; the workspace can extend it through .ainprotect.
package guard

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"ain/internal/logging"
)

// ProtectFile is the workspace extension list: one filename or glob per
// line, '#' starts a comment.
const ProtectFile = ".ainprotect"

// hardProtected can never be modified by an evolution, with or without
// an .ainprotect entry.
var hardProtected = []string{
	"main.py",
	"api/keys.py",
	"api/github.py",
	".ainprotect",
	"docs/hardware-catalog.md",
}

// Registry answers "may this path be touched?". Safe for concurrent use;
// Reload swaps the pattern set atomically.
type Registry struct {
	workspace string

	mu       sync.RWMutex
	patterns []string

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewRegistry loads the hard set plus the workspace .ainprotect.
func NewRegistry(workspace string) (*Registry, error) {
	r := &Registry{workspace: workspace}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads .ainprotect. A missing file leaves only the hard set.
func (r *Registry) Reload() error {
	patterns := make([]string, 0, len(hardProtected)+8)
	patterns = append(patterns, hardProtected...)

	f, err := os.Open(filepath.Join(r.workspace, ProtectFile))
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
	} else {
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			patterns = append(patterns, normalize(line))
		}
		if err := scanner.Err(); err != nil {
			return err
		}
	}

	r.mu.Lock()
	r.patterns = patterns
	r.mu.Unlock()

	logging.Guard("protected registry loaded: %d patterns", len(patterns))
	return nil
}

// IsProtected reports whether the workspace-relative path is protected.
// Lines are matched exactly and as doublestar globs.
func (r *Registry) IsProtected(rel string) bool {
	rel = normalize(rel)

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.patterns {
		if p == rel {
			return true
		}
		if ok, err := doublestar.Match(p, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// Patterns returns a copy of the active pattern set.
func (r *Registry) Patterns() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.patterns))
	copy(out, r.patterns)
	return out
}

// Watch reloads the registry whenever .ainprotect changes on disk.
// Returns immediately; the watcher stops when ctx is done or Close runs.
func (r *Registry) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory: editors replace files, which drops a watch on
	// the file itself.
	if err := w.Add(r.workspace); err != nil {
		w.Close()
		return err
	}

	r.watcher = w
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		target := filepath.Join(r.workspace, ProtectFile)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Name != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := r.Reload(); err != nil {
					logging.Get(logging.CategoryGuard).Warn("reload after %s: %v", ev.Op, err)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logging.Get(logging.CategoryGuard).Warn("watcher: %v", err)
			}
		}
	}()
	return nil
}

// Close stops the watcher if one is running.
func (r *Registry) Close() {
	if r.watcher != nil {
		r.watcher.Close()
		<-r.done
		r.watcher = nil
	}
}

func normalize(p string) string {
	p = strings.TrimSpace(p)
	p = filepath.ToSlash(p)
	p = strings.TrimPrefix(p, "./")
	return p
}
