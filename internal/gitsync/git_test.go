package gitsync

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func gitCmd(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test",
		"GIT_AUTHOR_EMAIL=test@test",
		"GIT_COMMITTER_NAME=test",
		"GIT_COMMITTER_EMAIL=test@test",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v failed: %v\n%s", args, err, out)
	}
	return string(out)
}

func initTestRepo(t *testing.T) string {
	t.Helper()
	t.Setenv("GIT_CONFIG_GLOBAL", filepath.Join(t.TempDir(), "gitconfig"))
	dir := t.TempDir()
	gitCmd(t, dir, "init", "-b", "main")
	gitCmd(t, dir, "config", "user.name", "test")
	gitCmd(t, dir, "config", "user.email", "test@test")
	writeFile(t, dir, "nexus/core.py", "print('awake')\n")
	gitCmd(t, dir, "add", "-A")
	gitCmd(t, dir, "commit", "-m", "initial")
	return dir
}

func initBareRemote(t *testing.T, workspace string) string {
	t.Helper()
	bare := t.TempDir()
	gitCmd(t, bare, "init", "--bare", "-b", "main")
	gitCmd(t, workspace, "push", bare, "main")
	return bare
}

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRunnerCommitAndHead(t *testing.T) {
	dir := initTestRepo(t)
	r := NewRunner(dir, 30*time.Second)
	ctx := context.Background()

	if !r.IsRepo(ctx) {
		t.Fatal("IsRepo = false for a repo")
	}

	writeFile(t, dir, "nexus/telemetry.py", "def report_vitals():\n    pass\n")
	if err := r.AddAll(ctx); err != nil {
		t.Fatalf("AddAll: %v", err)
	}
	sha, err := r.Commit(ctx, EvolutionMessage("add telemetry"))
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if len(sha) != 40 {
		t.Errorf("sha = %q", sha)
	}

	head, err := r.HeadSHA(ctx)
	if err != nil || head != sha {
		t.Errorf("HeadSHA = %q, %v; want %q", head, err, sha)
	}
}

func TestNothingToCommitDetection(t *testing.T) {
	dir := initTestRepo(t)
	r := NewRunner(dir, 30*time.Second)
	ctx := context.Background()

	if err := r.AddAll(ctx); err != nil {
		t.Fatalf("AddAll: %v", err)
	}
	_, err := r.Commit(ctx, "no changes staged")
	if err == nil {
		t.Fatal("expected commit failure on clean tree")
	}
	if !IsNothingToCommit(err) {
		t.Errorf("IsNothingToCommit = false for %v", err)
	}
}

func TestRecoverPrevious(t *testing.T) {
	dir := initTestRepo(t)
	r := NewRunner(dir, 30*time.Second)
	ctx := context.Background()

	first, _ := r.HeadSHA(ctx)
	writeFile(t, dir, "broken.py", "this commit gets rolled back\n")
	gitCmd(t, dir, "add", "-A")
	gitCmd(t, dir, "commit", "-m", "bad change")

	if err := r.RecoverPrevious(ctx); err != nil {
		t.Fatalf("RecoverPrevious: %v", err)
	}
	head, _ := r.HeadSHA(ctx)
	if head != first {
		t.Errorf("head after recovery = %s, want %s", head, first)
	}
	if _, err := os.Stat(filepath.Join(dir, "broken.py")); !os.IsNotExist(err) {
		t.Error("rolled-back file still present")
	}
}

func TestStableTagRecovery(t *testing.T) {
	dir := initTestRepo(t)
	r := NewRunner(dir, 30*time.Second)
	ctx := context.Background()

	stable, _ := r.HeadSHA(ctx)
	if err := r.UpdateStableTag(ctx, "", "ain-stable"); err != nil {
		t.Fatalf("UpdateStableTag: %v", err)
	}

	writeFile(t, dir, "nexus/core.py", "print('regressed')\n")
	gitCmd(t, dir, "add", "-A")
	gitCmd(t, dir, "commit", "-m", "regression")

	if err := r.RecoverStableTag(ctx, "", "ain-stable"); err != nil {
		t.Fatalf("RecoverStableTag: %v", err)
	}
	head, _ := r.HeadSHA(ctx)
	if head != stable {
		t.Errorf("head = %s, want stable %s", head, stable)
	}
}

func TestRecoverRemoteTrunk(t *testing.T) {
	dir := initTestRepo(t)
	bare := initBareRemote(t, dir)
	r := NewRunner(dir, 30*time.Second)
	ctx := context.Background()

	trunk, _ := r.HeadSHA(ctx)
	writeFile(t, dir, "drift.py", "local drift\n")
	gitCmd(t, dir, "add", "-A")
	gitCmd(t, dir, "commit", "-m", "local drift")

	if err := r.RecoverRemoteTrunk(ctx, bare, "main"); err != nil {
		t.Fatalf("RecoverRemoteTrunk: %v", err)
	}
	head, _ := r.HeadSHA(ctx)
	if head != trunk {
		t.Errorf("head = %s, want remote trunk %s", head, trunk)
	}
}

func TestPushForceWithLease(t *testing.T) {
	dir := initTestRepo(t)
	bare := initBareRemote(t, dir)
	r := NewRunner(dir, 30*time.Second)
	ctx := context.Background()

	// Diverge the remote via a second clone.
	other := t.TempDir()
	gitCmd(t, other, "clone", bare, "clone")
	otherDir := filepath.Join(other, "clone")
	gitCmd(t, otherDir, "config", "user.name", "other")
	gitCmd(t, otherDir, "config", "user.email", "other@test")
	writeFile(t, otherDir, "remote_only.py", "pushed elsewhere\n")
	gitCmd(t, otherDir, "add", "-A")
	gitCmd(t, otherDir, "commit", "-m", "remote change")
	gitCmd(t, otherDir, "push", "origin", "main")

	// Local commit without pulling; plain push must be rejected.
	writeFile(t, dir, "local_only.py", "committed here\n")
	gitCmd(t, dir, "add", "-A")
	gitCmd(t, dir, "commit", "-m", "local change")
	local, _ := r.HeadSHA(ctx)

	if err := r.Push(ctx, bare, "main"); err == nil {
		t.Fatal("plain push should be rejected on divergence")
	}

	remoteSHA, err := r.LsRemote(ctx, bare, "main")
	if err != nil {
		t.Fatalf("LsRemote: %v", err)
	}
	if err := r.PushForceWithLease(ctx, bare, local, "main", remoteSHA); err != nil {
		t.Fatalf("PushForceWithLease: %v", err)
	}

	after, _ := r.LsRemote(ctx, bare, "main")
	if after != local {
		t.Errorf("remote = %s, want %s", after, local)
	}
}

func TestLsRemoteMissingBranch(t *testing.T) {
	dir := initTestRepo(t)
	bare := initBareRemote(t, dir)
	r := NewRunner(dir, 30*time.Second)

	sha, err := r.LsRemote(context.Background(), bare, "no-such-branch")
	if err != nil {
		t.Fatalf("LsRemote: %v", err)
	}
	if sha != "" {
		t.Errorf("sha = %q, want empty for missing branch", sha)
	}
}

func TestCommandErrorMessage(t *testing.T) {
	dir := initTestRepo(t)
	r := NewRunner(dir, 30*time.Second)

	_, _, err := r.run(context.Background(), "rev-parse", "not-a-ref")
	if err == nil {
		t.Fatal("expected failure")
	}
	msg := err.Error()
	if !strings.Contains(msg, "rev-parse") {
		t.Errorf("error should name the subcommand: %s", msg)
	}
}
