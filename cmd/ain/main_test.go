package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func captureOutput(t *testing.T, fn func()) string {
	t.Helper()

	origOut := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w

	done := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, r)
		done <- buf.String()
	}()

	fn()

	_ = w.Close()
	os.Stdout = origOut
	return <-done
}

func resetFlags(t *testing.T) {
	t.Helper()
	oldWS, oldCfg, oldVerbose := workspace, configPath, verbose
	t.Cleanup(func() {
		workspace, configPath, verbose = oldWS, oldCfg, oldVerbose
	})
}

func TestStatusOnFreshWorkspace(t *testing.T) {
	resetFlags(t)
	logger = zap.NewNop()
	workspace = t.TempDir()

	output := captureOutput(t, func() {
		if err := showStatus(&cobra.Command{}, nil); err != nil {
			t.Errorf("showStatus: %v", err)
		}
	})

	if !strings.Contains(output, "ain v0.9.0") {
		t.Fatalf("missing title: %s", output)
	}
	if !strings.Contains(output, "fresh workspace, nothing grown yet") {
		t.Fatalf("expected fresh-workspace roadmap line, got: %s", output)
	}
	// Status must not create state files in a workspace it only reads.
	if _, err := os.Stat(workspace + "/fact_core.json"); !os.IsNotExist(err) {
		t.Fatal("status created a fact core")
	}
}

func TestQueryOnEmptyMemory(t *testing.T) {
	resetFlags(t)
	logger = zap.NewNop()
	workspace = t.TempDir()

	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	output := captureOutput(t, func() {
		if err := runQuery(cmd, []string{"telemetry", "heartbeat"}); err != nil {
			t.Errorf("runQuery: %v", err)
		}
	})

	if !strings.Contains(output, "no memories match.") {
		t.Fatalf("expected empty-result notice, got: %s", output)
	}
}

func TestVersionCommand(t *testing.T) {
	output := captureOutput(t, func() {
		versionCmd.Run(&cobra.Command{}, nil)
	})
	if !strings.Contains(output, "ain v0.9.0") {
		t.Fatalf("version output = %q", output)
	}
}

func TestEngineArgvCarriesFlags(t *testing.T) {
	resetFlags(t)
	configPath = "/etc/ain/ain.yaml"
	verbose = true

	argv := engineArgv("/srv/organism")
	joined := strings.Join(argv, " ")
	for _, want := range []string{"engine", "--workspace /srv/organism", "--config /etc/ain/ain.yaml", "--verbose"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("argv %q missing %q", joined, want)
		}
	}
}

func TestLoadConfigWorkspaceFlagWins(t *testing.T) {
	resetFlags(t)
	workspace = t.TempDir()

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Identity.Workspace != workspace {
		t.Fatalf("workspace = %q, want flag value %q", cfg.Identity.Workspace, workspace)
	}
}
