package gitsync

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ain/internal/config"
	"ain/internal/logging"
	"ain/internal/types"
)

const forcePushAttempts = 3

// Result reports one sync run. Debug carries per-stage outcomes for
// the /debug command.
type Result struct {
	SHA      string
	Message  string
	Fallback bool
	Debug    map[string]string
}

// Synchronizer owns the commit-and-push flow for applied evolutions.
type Synchronizer struct {
	runner    *Runner
	api       *dataAPI
	workspace string
	cfg       config.GitConfig
}

// New builds a synchronizer over the workspace. A missing token or
// repo leaves it local-only: commits land, pushes are skipped.
func New(workspace string, cfg config.GitConfig, timeout time.Duration) *Synchronizer {
	s := &Synchronizer{
		runner:    NewRunner(workspace, timeout),
		workspace: workspace,
		cfg:       cfg,
	}
	if s.Enabled() {
		s.api = newDataAPI(cfg.APIBase, cfg.Repo, cfg.Token, workspace, &http.Client{Timeout: timeout})
	}
	return s
}

// Runner exposes the VCS primitives for supervisor recovery.
func (s *Synchronizer) Runner() *Runner {
	return s.runner
}

// Enabled reports whether a remote is configured.
func (s *Synchronizer) Enabled() bool {
	return s.RemoteURL() != ""
}

// RemoteURL is the push URL. An owner/name repo gets the token
// injected; a full URL or filesystem path is used as-is.
func (s *Synchronizer) RemoteURL() string {
	repo := s.cfg.Repo
	if repo == "" {
		return ""
	}
	if strings.Contains(repo, "://") || strings.HasPrefix(repo, "/") {
		return repo
	}
	if s.cfg.Token == "" {
		return ""
	}
	return fmt.Sprintf("https://%s@github.com/%s.git", s.cfg.Token, repo)
}

// CommitURL links a SHA for notifications. Only owner/name repos have
// a web URL.
func (s *Synchronizer) CommitURL(sha string) string {
	if sha == "" || s.cfg.Repo == "" || strings.Contains(s.cfg.Repo, "://") || strings.HasPrefix(s.cfg.Repo, "/") {
		return ""
	}
	return fmt.Sprintf("https://github.com/%s/commit/%s", s.cfg.Repo, sha)
}

// EvolutionMessage formats the standard evolution commit subject.
func EvolutionMessage(intent string) string {
	return "🧬 Evolution: " + intent
}

// Sync commits the working tree and pushes it out. Order: add, commit,
// pull --strategy=ours, push, verify against ls-remote; a divergent
// remote gets up to 3 lease-checked force pushes; a rejected push
// falls back to the data API. On total failure the commit stays local
// and the error wraps ErrPushRejected.
func (s *Synchronizer) Sync(ctx context.Context, message string) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryGit, "Sync")
	defer timer.Stop()

	res := &Result{Debug: map[string]string{}}

	if !s.runner.IsRepo(ctx) {
		return nil, fmt.Errorf("workspace %s is not a git repository: %w", s.workspace, types.ErrExternalUnavailable)
	}
	s.runner.ConfigureWorkspace(ctx)

	if err := s.runner.AddAll(ctx); err != nil {
		return nil, fmt.Errorf("stage changes: %w", err)
	}

	sha, err := s.runner.Commit(ctx, message)
	if err != nil {
		if IsNothingToCommit(err) {
			head, headErr := s.runner.HeadSHA(ctx)
			if headErr != nil {
				return nil, headErr
			}
			res.SHA = head
			res.Message = "nothing to commit"
			res.Debug["commit"] = "empty"
			return res, nil
		}
		return nil, fmt.Errorf("commit: %w", err)
	}
	res.SHA = sha
	res.Debug["commit"] = shortSHA(sha)
	logging.Git("committed %s: %s", shortSHA(sha), firstLine(message))

	if !s.Enabled() {
		res.Message = "committed locally (no remote configured)"
		res.Debug["push"] = "skipped"
		return res, nil
	}
	remoteURL := s.RemoteURL()

	if err := s.runner.PullOurs(ctx, remoteURL, s.cfg.Branch); err != nil {
		logging.Get(logging.CategoryGit).Warn("pull --strategy=ours failed: %v", err)
		res.Debug["pull"] = err.Error()
	}

	// The pull may have added a merge commit; push the current head.
	head, err := s.runner.HeadSHA(ctx)
	if err != nil {
		return nil, err
	}
	res.SHA = head

	pushErr := s.runner.Push(ctx, remoteURL, s.cfg.Branch)
	if pushErr != nil {
		res.Debug["push"] = pushErr.Error()
	} else {
		res.Debug["push"] = "ok"
	}

	if pushErr == nil {
		ok, verr := s.verify(ctx, remoteURL, head, res)
		if verr == nil && ok {
			res.Message = "pushed " + shortSHA(head)
			return res, nil
		}
		if verr != nil {
			logging.Get(logging.CategoryGit).Warn("push verify failed: %v", verr)
			res.Debug["verify"] = verr.Error()
		}
	}

	if forced := s.forcePush(ctx, remoteURL, head, res); forced {
		res.Message = "force-pushed " + shortSHA(head)
		return res, nil
	}

	logging.Git("CLI push failed, trying data-api fallback")
	sha, fallbackErr := s.fallback(ctx, message, res)
	if fallbackErr == nil {
		res.SHA = sha
		res.Fallback = true
		res.Message = "pushed via data api " + shortSHA(sha)
		return res, nil
	}
	res.Debug["fallback"] = fallbackErr.Error()

	return res, fmt.Errorf("push rejected and fallback failed (%v): %w", fallbackErr, types.ErrPushRejected)
}

// verify compares local HEAD against the live remote ref.
func (s *Synchronizer) verify(ctx context.Context, remoteURL, localSHA string, res *Result) (bool, error) {
	remoteSHA, err := s.runner.LsRemote(ctx, remoteURL, s.cfg.Branch)
	if err != nil {
		return false, fmt.Errorf("verify push: %w", err)
	}
	res.Debug["remote_head"] = shortSHA(remoteSHA)
	return remoteSHA == localSHA, nil
}

// forcePush retries with explicit <sha>:<branch> refs under a lease on
// the just-fetched remote SHA.
func (s *Synchronizer) forcePush(ctx context.Context, remoteURL, localSHA string, res *Result) bool {
	for attempt := 1; attempt <= forcePushAttempts; attempt++ {
		remoteSHA, err := s.runner.LsRemote(ctx, remoteURL, s.cfg.Branch)
		if err != nil {
			res.Debug[fmt.Sprintf("force_push_%d", attempt)] = err.Error()
			continue
		}
		if remoteSHA == localSHA {
			return true
		}

		err = s.runner.PushForceWithLease(ctx, remoteURL, localSHA, s.cfg.Branch, remoteSHA)
		if err != nil {
			logging.Get(logging.CategoryGit).Warn("force push attempt %d failed: %v", attempt, err)
			res.Debug[fmt.Sprintf("force_push_%d", attempt)] = err.Error()
			continue
		}

		if ok, _ := s.verify(ctx, remoteURL, localSHA, res); ok {
			res.Debug[fmt.Sprintf("force_push_%d", attempt)] = "ok"
			return true
		}
	}
	return false
}

// fallback pushes the working-copy diff through the data API.
func (s *Synchronizer) fallback(ctx context.Context, message string, res *Result) (string, error) {
	files, err := s.changedFiles(ctx)
	if err != nil {
		return "", err
	}
	res.Debug["fallback_files"] = fmt.Sprintf("%d", len(files))
	return s.api.PushCommit(ctx, s.cfg.Branch, message, files)
}

// changedFiles diffs against the live remote head when reachable,
// falling back to the previous local commit.
func (s *Synchronizer) changedFiles(ctx context.Context) ([]string, error) {
	if err := s.runner.Fetch(ctx, s.RemoteURL(), "refs/heads/"+s.cfg.Branch); err == nil {
		if files, err := s.runner.DiffNameOnly(ctx, "FETCH_HEAD"); err == nil {
			return files, nil
		}
	}
	return s.runner.DiffNameOnly(ctx, "HEAD~1")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
