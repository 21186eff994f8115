package evolve

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"ain/internal/logging"
)

const (
	testParallelism = 4
	maxTestOutput   = 4000
)

var testPatterns = []string{"**/test_*.py", "**/*_test.py"}

// skipDirs are never swept: backups, caches, state, virtualenvs.
var skipDirs = map[string]bool{
	"backups":     true,
	"__pycache__": true,
	".git":        true,
	".ain":        true,
	"venv":        true,
	".venv":       true,
}

// FileResult is one test file's verdict.
type FileResult struct {
	File     string
	Passed   bool
	Skipped  bool
	Output   string
	Duration time.Duration
}

// TestOutcome aggregates a sweep. Success follows the restricted-runtime
// rule: at least half the run files pass, or nothing hard-failed.
type TestOutcome struct {
	Files   []FileResult
	Passed  int
	Failed  int
	Skipped int
	Ran     bool
}

// Success reports whether the sweep counts as green. An empty sweep is
// vacuously green.
func (o TestOutcome) Success() bool {
	if !o.Ran || o.Failed == 0 {
		return true
	}
	total := o.Passed + o.Failed
	return float64(o.Passed)/float64(total) >= 0.5
}

// Summary renders a one-line verdict for the journal and notifier.
func (o TestOutcome) Summary() string {
	if !o.Ran {
		return "no test files"
	}
	return fmt.Sprintf("%d passed, %d failed, %d skipped", o.Passed, o.Failed, o.Skipped)
}

// FirstFailure returns the output of the first failed file, for error
// context in the next cycle.
func (o TestOutcome) FirstFailure() string {
	for _, f := range o.Files {
		if !f.Passed && !f.Skipped {
			return fmt.Sprintf("%s: %s", f.File, f.Output)
		}
	}
	return ""
}

// Harness sweeps the workspace test files, one interpreter subprocess
// per file with a bounded worker pool.
type Harness struct {
	workspace string
	python    string
	timeout   time.Duration
}

// NewHarness builds a sweep runner. Empty python means "python3";
// non-positive timeout means 30s per file.
func NewHarness(workspace, python string, timeout time.Duration) *Harness {
	if python == "" {
		python = "python3"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Harness{workspace: workspace, python: python, timeout: timeout}
}

// Run discovers and executes every test file. Files run in parallel,
// bounded; a single hanging file cannot stall the sweep past its
// per-file timeout.
func (h *Harness) Run(ctx context.Context) (TestOutcome, error) {
	files, err := h.discover()
	if err != nil {
		return TestOutcome{}, err
	}
	if len(files) == 0 {
		logging.TestRun("no test files found")
		return TestOutcome{}, nil
	}

	outcome := TestOutcome{Ran: true, Files: make([]FileResult, len(files))}
	var g errgroup.Group
	g.SetLimit(testParallelism)
	for i, rel := range files {
		g.Go(func() error {
			outcome.Files[i] = h.runFile(ctx, rel)
			return nil
		})
	}
	g.Wait()

	for _, f := range outcome.Files {
		switch {
		case f.Skipped:
			outcome.Skipped++
		case f.Passed:
			outcome.Passed++
		default:
			outcome.Failed++
		}
	}
	logging.TestRun("sweep: %s", outcome.Summary())
	return outcome, nil
}

// discover globs the test patterns and drops anything under a skipped
// directory. Sorted and deduplicated so runs are deterministic.
func (h *Harness) discover() ([]string, error) {
	fsys := os.DirFS(h.workspace)
	seen := make(map[string]bool)
	var files []string
	for _, pattern := range testPatterns {
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", pattern, err)
		}
		for _, m := range matches {
			if seen[m] || underSkipDir(m) {
				continue
			}
			seen[m] = true
			files = append(files, m)
		}
	}
	sort.Strings(files)
	return files, nil
}

func underSkipDir(rel string) bool {
	for _, seg := range strings.Split(rel, "/") {
		if skipDirs[seg] {
			return true
		}
	}
	return false
}

func (h *Harness) runFile(ctx context.Context, rel string) FileResult {
	res := FileResult{File: rel}
	runCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, h.python, filepath.FromSlash(rel))
	cmd.Dir = h.workspace
	// A killed test can leave children holding the output pipes open;
	// WaitDelay stops that from stalling the sweep.
	cmd.WaitDelay = 2 * time.Second
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	start := time.Now()
	err := cmd.Run()
	res.Duration = time.Since(start)
	res.Output = tailOutput(buf.String())

	switch {
	case err == nil:
		res.Passed = true
	case errors.Is(err, exec.ErrNotFound):
		res.Skipped = true
		res.Output = fmt.Sprintf("interpreter %s not found", h.python)
	case runCtx.Err() == context.DeadlineExceeded:
		res.Output = strings.TrimSpace(res.Output + fmt.Sprintf("\nkilled after %s", h.timeout))
	case restrictedRuntime(res.Output):
		res.Skipped = true
	}

	logging.Get(logging.CategoryTestRun).Debug("%s: passed=%v skipped=%v in %v", rel, res.Passed, res.Skipped, res.Duration)
	return res
}

// restrictedRuntime spots environments where the test cannot import its
// dependencies; such files skip rather than fail.
func restrictedRuntime(output string) bool {
	return strings.Contains(output, "ModuleNotFoundError") ||
		strings.Contains(output, "ImportError")
}

// tailOutput keeps the end of the output, where tracebacks land.
func tailOutput(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxTestOutput {
		return s
	}
	return "…" + s[len(s)-maxTestOutput:]
}
