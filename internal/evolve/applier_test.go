package evolve

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"ain/internal/types"
)

func readBack(t *testing.T, ws, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(ws, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatalf("read %s: %v", rel, err)
	}
	return string(data)
}

func TestApplyNewFileCreatesPackage(t *testing.T) {
	ws := t.TempDir()
	a := NewApplier(ws, "backups")

	applied, err := a.Apply(types.Update{Filename: "nexus/ping.py", Code: "def ping():\n    return 'pong'\n"})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if applied.Backup != "" {
		t.Fatalf("new file should have no backup, got %s", applied.Backup)
	}
	if got := readBack(t, ws, "nexus/ping.py"); got != "def ping():\n    return 'pong'\n" {
		t.Fatalf("content = %q", got)
	}
	if _, err := os.Stat(filepath.Join(ws, "nexus", "__init__.py")); err != nil {
		t.Fatalf("package stub missing: %v", err)
	}
	if len(applied.Created) != 3 {
		t.Fatalf("created = %v, want dir+stub+file", applied.Created)
	}
}

func TestApplyNonPythonFileSkipsStub(t *testing.T) {
	ws := t.TempDir()
	a := NewApplier(ws, "backups")

	if _, err := a.Apply(types.Update{Filename: "docs/notes.md", Code: "notes\n"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, err := os.Stat(filepath.Join(ws, "docs", "__init__.py")); !os.IsNotExist(err) {
		t.Fatal("markdown apply must not create a package stub")
	}
}

func TestApplyBacksUpAndRollbackRestores(t *testing.T) {
	ws := t.TempDir()
	original := "def beat():\n    return 1\n"
	writeFile(t, ws, "engine/core.py", original)
	a := NewApplier(ws, "backups")

	applied, err := a.Apply(types.Update{Filename: "engine/core.py", Code: "def beat():\n    return 2\n"})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if applied.Backup == "" {
		t.Fatal("overwrite should leave a backup")
	}
	backup, err := os.ReadFile(applied.Backup)
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if string(backup) != original {
		t.Fatalf("backup = %q, want original", backup)
	}
	if got := readBack(t, ws, "engine/core.py"); got != "def beat():\n    return 2\n" {
		t.Fatalf("content after apply = %q", got)
	}

	if err := a.Rollback([]AppliedFile{applied}); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if got := readBack(t, ws, "engine/core.py"); got != original {
		t.Fatalf("content after rollback = %q", got)
	}
}

func TestRollbackRemovesCreatedFiles(t *testing.T) {
	ws := t.TempDir()
	a := NewApplier(ws, "backups")

	applied, err := a.Apply(types.Update{Filename: "nexus/ping.py", Code: "def ping():\n    return 1\n"})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := a.Rollback([]AppliedFile{applied}); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if _, err := os.Stat(filepath.Join(ws, "nexus")); !os.IsNotExist(err) {
		t.Fatal("created package dir should be removed by rollback")
	}
}

func TestApplyIdenticalContentRejected(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "engine/core.py", "def beat():\n    return 1\n")
	a := NewApplier(ws, "backups")

	_, err := a.Apply(types.Update{Filename: "engine/core.py", Code: "def beat():\n    return 1"})
	if !errors.Is(err, types.ErrNoChange) {
		t.Fatalf("err = %v, want ErrNoChange", err)
	}
	if _, statErr := os.Stat(filepath.Join(ws, "backups")); !os.IsNotExist(statErr) {
		t.Fatal("no-change apply must not create a backup")
	}
}

func TestApplyAllStopsAtFirstFailure(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "engine/core.py", "def beat():\n    return 1\n")
	a := NewApplier(ws, "backups")

	applied, err := a.ApplyAll([]types.Update{
		{Filename: "nexus/ping.py", Code: "def ping():\n    return 1\n"},
		{Filename: "engine/core.py", Code: "def beat():\n    return 1"},
	})
	if !errors.Is(err, types.ErrNoChange) {
		t.Fatalf("err = %v", err)
	}
	if len(applied) != 1 || applied[0].Filename != "nexus/ping.py" {
		t.Fatalf("applied = %+v", applied)
	}
}

func TestRestoreNewestPicksLatestStamp(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "engine/core.py", "current\n")
	writeFile(t, ws, "backups/engine/core.py.20240101T000000Z.bak", "older\n")
	writeFile(t, ws, "backups/engine/core.py.20250101T000000Z.bak", "newer\n")
	a := NewApplier(ws, "backups")

	if err := a.RestoreNewest("engine/core.py"); err != nil {
		t.Fatalf("RestoreNewest: %v", err)
	}
	if got := readBack(t, ws, "engine/core.py"); got != "newer\n" {
		t.Fatalf("restored = %q, want newest backup", got)
	}
}

func TestRestoreNewestWithoutBackupFails(t *testing.T) {
	a := NewApplier(t.TempDir(), "backups")
	if err := a.RestoreNewest("engine/core.py"); err == nil {
		t.Fatal("expected error when no backup exists")
	}
}

func TestApplyVerifiesWrittenSize(t *testing.T) {
	ws := t.TempDir()
	a := NewApplier(ws, "backups")

	applied, err := a.Apply(types.Update{Filename: "note.txt", Code: "hello\n"})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if applied.Filename != "note.txt" {
		t.Fatalf("applied = %+v", applied)
	}
	info, err := os.Stat(filepath.Join(ws, "note.txt"))
	if err != nil || info.Size() != 6 {
		t.Fatalf("stat = %v %v", info, err)
	}
}
