// Package gitsync pushes applied evolutions to the remote repository.
// The primary channel is the git CLI; when a push is rejected even
// with a lease, a REST data-API fallback builds the commit remotely.
// History is never deleted: rewrites go through --force-with-lease
// against the just-fetched remote ref.
package gitsync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"ain/internal/logging"
)

// CommandError carries the full output of a failed git invocation.
type CommandError struct {
	Args   []string
	Stdout string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += ": " + strings.TrimSpace(e.Stderr)
	}
	return msg
}

// Runner executes git against one working tree. Auto-maintenance is
// disabled so frequent evolution commits never spawn helper processes.
type Runner struct {
	dir     string
	timeout time.Duration
}

func NewRunner(dir string, timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Runner{dir: dir, timeout: timeout}
}

func (r *Runner) run(ctx context.Context, args ...string) (string, string, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	base := []string{
		"-C", r.dir,
		"-c", "maintenance.auto=0",
		"-c", "gc.auto=0",
	}
	cmd := exec.CommandContext(ctx, "git", append(base, args...)...)
	cmd.Env = append(cmd.Environ(), "GIT_TERMINAL_PROMPT=0")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	outStr := stdout.String()
	errStr := stderr.String()
	if err != nil {
		return outStr, errStr, &CommandError{Args: args, Stdout: outStr, Stderr: errStr, Err: err}
	}
	return outStr, errStr, nil
}

// =============================================================================
// PRIMITIVES
// =============================================================================

func (r *Runner) IsRepo(ctx context.Context) bool {
	out, _, err := r.run(ctx, "rev-parse", "--is-inside-work-tree")
	return err == nil && strings.TrimSpace(out) == "true"
}

func (r *Runner) HeadSHA(ctx context.Context) (string, error) {
	out, _, err := r.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (r *Runner) IsClean(ctx context.Context) (bool, error) {
	out, _, err := r.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) == "", nil
}

func (r *Runner) AddAll(ctx context.Context) error {
	_, _, err := r.run(ctx, "add", "-A")
	return err
}

// Commit records staged changes. A missing committer identity is
// retried once with the runtime's own identity without mutating repo
// config. Returns the new HEAD SHA.
func (r *Runner) Commit(ctx context.Context, message string) (string, error) {
	_, _, err := r.run(ctx, "commit", "-m", message)
	if err != nil {
		if isIdentityError(err) {
			_, _, err = r.run(ctx,
				"-c", "user.name=ain",
				"-c", "user.email=ain@local",
				"commit", "-m", message,
			)
		}
		if err != nil {
			return "", err
		}
	}
	return r.HeadSHA(ctx)
}

func isIdentityError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "Author identity unknown") ||
		strings.Contains(msg, "Please tell me who you are") ||
		strings.Contains(msg, "unable to auto-detect email address")
}

// IsNothingToCommit recognises the empty-stage commit failure.
func IsNothingToCommit(err error) bool {
	var ce *CommandError
	if !errors.As(err, &ce) {
		return false
	}
	return strings.Contains(ce.Stdout, "nothing to commit") ||
		strings.Contains(ce.Stderr, "nothing to commit")
}

// PullOurs merges the remote branch preferring local contents on
// conflict. The working tree is the organism's body; remote edits
// never overwrite it.
func (r *Runner) PullOurs(ctx context.Context, remoteURL, branch string) error {
	_, _, err := r.run(ctx, "pull", "--strategy=ours", "--no-edit", remoteURL, branch)
	return err
}

func (r *Runner) Push(ctx context.Context, remoteURL, branch string) error {
	_, _, err := r.run(ctx, "push", remoteURL, "HEAD:refs/heads/"+branch)
	return err
}

// PushForceWithLease pushes sha to branch only if the remote ref still
// points at expectedRemote.
func (r *Runner) PushForceWithLease(ctx context.Context, remoteURL, sha, branch, expectedRemote string) error {
	lease := "refs/heads/" + branch
	if expectedRemote != "" {
		lease += ":" + expectedRemote
	}
	_, _, err := r.run(ctx, "push", "--force-with-lease="+lease, remoteURL, sha+":refs/heads/"+branch)
	return err
}

// LsRemote returns the SHA the remote branch points at, or "" when the
// branch does not exist remotely.
func (r *Runner) LsRemote(ctx context.Context, remoteURL, branch string) (string, error) {
	out, _, err := r.run(ctx, "ls-remote", remoteURL, "refs/heads/"+branch)
	if err != nil {
		return "", err
	}
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], nil
}

func (r *Runner) Fetch(ctx context.Context, remoteURL, ref string) error {
	_, _, err := r.run(ctx, "fetch", remoteURL, ref)
	return err
}

func (r *Runner) ResetHard(ctx context.Context, ref string) error {
	_, _, err := r.run(ctx, "reset", "--hard", ref)
	return err
}

// DiffNameOnly lists paths changed between baseRef and the working
// tree, including uncommitted edits.
func (r *Runner) DiffNameOnly(ctx context.Context, baseRef string) ([]string, error) {
	out, _, err := r.run(ctx, "diff", "--name-only", baseRef)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			files = append(files, trimmed)
		}
	}
	return files, nil
}

// ConfigureWorkspace marks the tree safe and silences credential
// prompts. Best effort; failures are logged, not fatal.
func (r *Runner) ConfigureWorkspace(ctx context.Context) {
	if _, _, err := r.run(ctx, "config", "--global", "--add", "safe.directory", r.dir); err != nil {
		logging.GitDebug("safe.directory config failed: %v", err)
	}
	if _, _, err := r.run(ctx, "config", "credential.helper", ""); err != nil {
		logging.GitDebug("credential.helper config failed: %v", err)
	}
}

// =============================================================================
// RECOVERY
// =============================================================================

// RecoverRemoteTrunk hard-resets the tree to the live remote branch.
func (r *Runner) RecoverRemoteTrunk(ctx context.Context, remoteURL, branch string) error {
	if err := r.Fetch(ctx, remoteURL, "refs/heads/"+branch); err != nil {
		return err
	}
	return r.ResetHard(ctx, "FETCH_HEAD")
}

// RecoverPrevious hard-resets one commit back.
func (r *Runner) RecoverPrevious(ctx context.Context) error {
	return r.ResetHard(ctx, "HEAD~1")
}

// RecoverStableTag hard-resets to the stable snapshot tag, fetching
// tags first when a remote is available.
func (r *Runner) RecoverStableTag(ctx context.Context, remoteURL, tag string) error {
	if remoteURL != "" {
		if err := r.Fetch(ctx, remoteURL, "refs/tags/"+tag); err != nil {
			logging.GitDebug("tag fetch failed, trying local tag: %v", err)
		}
	}
	return r.ResetHard(ctx, tag)
}

// UpdateStableTag moves the stable snapshot tag to HEAD and pushes it.
// The push is best effort: a local tag still serves recovery.
func (r *Runner) UpdateStableTag(ctx context.Context, remoteURL, tag string) error {
	if _, _, err := r.run(ctx, "tag", "-f", tag); err != nil {
		return err
	}
	if remoteURL == "" {
		return nil
	}
	if _, _, err := r.run(ctx, "push", "--force", remoteURL, "refs/tags/"+tag); err != nil {
		logging.GitDebug("stable tag push failed: %v", err)
	}
	return nil
}
