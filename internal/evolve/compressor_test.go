package evolve

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ain/internal/factcore"
	"ain/internal/guard"
)

func newTestCore(t *testing.T, workspace string) *factcore.Core {
	t.Helper()
	g, err := guard.NewRegistry(workspace)
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	core, err := factcore.New(filepath.Join(workspace, "fact_core.json"), workspace, g)
	if err != nil {
		t.Fatalf("factcore: %v", err)
	}
	return core
}

func writeFile(t *testing.T, workspace, rel, content string) {
	t.Helper()
	abs := filepath.Join(workspace, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

func TestRoleForClassifiesByPath(t *testing.T) {
	cases := []struct {
		rel  string
		want Role
	}{
		{"main.py", RoleCore},
		{"core/heart.py", RoleCore},
		{"engine/loop.py", RoleEngine},
		{"cognition/gate.py", RoleEngine},
		{"api/telegram.py", RoleEngine},
		{"nexus/ping.py", RoleOther},
		{"README.md", RoleOther},
		{"coreutils/a.py", RoleOther},
		{"engine_helpers.py", RoleOther},
	}
	for _, tc := range cases {
		if got := roleFor(tc.rel); got != tc.want {
			t.Fatalf("roleFor(%q) = %s, want %s", tc.rel, got, tc.want)
		}
	}
}

func TestSnapshotBudgetsAndOrder(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "main.py", "print('alive')\n")
	writeFile(t, ws, "core/heart.py", "def beat():\n    return 1\n")
	writeFile(t, ws, "engine/loop.py", strings.Repeat("x = 1  # engine filler line\n", 200))
	writeFile(t, ws, "notes.md", strings.Repeat("peripheral prose line\n", 100))

	comp := NewCompressor(newTestCore(t, ws))
	text, blocks, err := comp.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(blocks) != 4 {
		t.Fatalf("blocks = %d, want 4", len(blocks))
	}

	byPath := make(map[string]Block, len(blocks))
	for _, b := range blocks {
		byPath[b.Path] = b
	}
	if b := byPath["engine/loop.py"]; !b.Truncated || len(b.Content) != budgetEngine {
		t.Fatalf("engine block not budget-truncated: truncated=%v len=%d", b.Truncated, len(b.Content))
	}
	if b := byPath["notes.md"]; !b.Truncated || len(b.Content) != budgetOther {
		t.Fatalf("other block not budget-truncated: truncated=%v len=%d", b.Truncated, len(b.Content))
	}
	if b := byPath["main.py"]; b.Truncated {
		t.Fatal("small core file should not be truncated")
	}
	if b := byPath["engine/loop.py"]; b.Lines != 200 {
		t.Fatalf("line count = %d, want the pre-truncation 200", b.Lines)
	}

	// Core files render before engine, engine before periphery.
	idx := func(marker string) int {
		i := strings.Index(text, marker)
		if i < 0 {
			t.Fatalf("snapshot missing %q", marker)
		}
		return i
	}
	coreAt := idx("--- FILE: main.py [core,")
	engineAt := idx("--- FILE: engine/loop.py [engine,")
	otherAt := idx("--- FILE: notes.md [other,")
	if !(coreAt < engineAt && engineAt < otherAt) {
		t.Fatalf("snapshot order wrong: core=%d engine=%d other=%d", coreAt, engineAt, otherAt)
	}
	if !strings.Contains(text, "... [truncated]") {
		t.Fatal("truncation marker missing")
	}
	if !strings.Contains(text, "=== SYSTEM SNAPSHOT: 4 files ===") {
		t.Fatal("snapshot header missing")
	}
}

func TestSnapshotSkipsStateAndProtectedDirs(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "main.py", "print('alive')\n")
	writeFile(t, ws, "backups/main.py.20240101T000000Z.bak", "old\n")
	writeFile(t, ws, "fact_core.json", "{}\n")
	writeFile(t, ws, ".ain/logs/x.txt", "log\n")

	comp := NewCompressor(newTestCore(t, ws))
	text, blocks, err := comp.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(blocks) != 1 {
		t.Fatalf("blocks = %d, want only main.py", len(blocks))
	}
	if strings.Contains(text, "fact_core.json") || strings.Contains(text, "backups/") {
		t.Fatal("state or backup files leaked into snapshot")
	}
}

func TestLineCounts(t *testing.T) {
	blocks := []Block{
		{Path: "main.py", Lines: 12},
		{Path: "engine/loop.py", Lines: 201},
	}
	got := LineCounts(blocks)
	if !strings.Contains(got, "main.py: 12 lines") || !strings.Contains(got, "engine/loop.py: 201 lines") {
		t.Fatalf("LineCounts = %q", got)
	}
	if LineCounts(nil) != "(no source files)" {
		t.Fatalf("empty LineCounts = %q", LineCounts(nil))
	}
}
