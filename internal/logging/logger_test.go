package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNoopBeforeInitialize(t *testing.T) {
	Shutdown()
	// Must not panic or create files.
	Get(CategoryEngine).Info("ignored %d", 1)
	Evolution("also ignored")
}

func TestLogFileNamingAndContent(t *testing.T) {
	ws := t.TempDir()
	if err := Initialize(ws); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer Shutdown()

	Get(CategoryScheduler).Info("tick %d", 42)
	Shutdown()

	date := time.Now().Format("2006-01-02")
	path := filepath.Join(ws, ".ain", "logs", date+"_scheduler.log")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "tick 42") {
		t.Fatalf("log missing message: %q", data)
	}
	if !strings.Contains(string(data), "[INFO]") {
		t.Fatalf("log missing level: %q", data)
	}
}

func TestDebugGating(t *testing.T) {
	ws := t.TempDir()
	if err := Initialize(ws); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer Shutdown()

	Get(CategoryGit).Debug("hidden")
	SetDebug(CategoryGit)
	Get(CategoryGit).Debug("visible")
	Shutdown()

	date := time.Now().Format("2006-01-02")
	data, err := os.ReadFile(filepath.Join(ws, ".ain", "logs", date+"_git.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if strings.Contains(string(data), "hidden") {
		t.Fatal("debug line written while gated off")
	}
	if !strings.Contains(string(data), "visible") {
		t.Fatal("debug line missing after SetDebug")
	}
}

func TestAuditRoundTrip(t *testing.T) {
	ws := t.TempDir()
	if err := Initialize(ws); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer Shutdown()
	defer CloseAudit()

	Audit(AuditEvolutionCommit, "nexus/ping.py", "success", map[string]interface{}{"sha": "abc123"})
	Audit(AuditReflexFire, "status_report", "handled", nil)
	CloseAudit()

	events, err := RecentAudit(10)
	if err != nil {
		t.Fatalf("RecentAudit: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Type != AuditEvolutionCommit || events[0].Target != "nexus/ping.py" {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if events[1].Type != AuditReflexFire {
		t.Fatalf("unexpected second event: %+v", events[1])
	}
}

func TestRecentAuditBounded(t *testing.T) {
	ws := t.TempDir()
	if err := Initialize(ws); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer Shutdown()

	for i := 0; i < 5; i++ {
		Audit(AuditCommand, "", "ok", nil)
	}
	CloseAudit()

	events, err := RecentAudit(3)
	if err != nil {
		t.Fatalf("RecentAudit: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
}
