package supervisor

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"ain/internal/logging"
)

// restoreLimit caps how many backup files a ladder run copies back. A
// crash rarely follows more than one evolution sweep, so the newest
// handful covers it.
const restoreLimit = 5

// recoverTree repairs the working tree after a crash. The rungs run in
// order of how much history they preserve, and the first one that
// succeeds wins: remote trunk, previous commit, stable tag, then raw
// backup copies. Returns a description of what happened for the log.
func (s *Supervisor) recoverTree(ctx context.Context) string {
	if s.git != nil && s.git.Runner().IsRepo(ctx) {
		r := s.git.Runner()
		if url := s.git.RemoteURL(); url != "" {
			err := r.RecoverRemoteTrunk(ctx, url, s.cfg.Git.Branch)
			if err == nil {
				logging.Audit(logging.AuditGitRecovery, s.cfg.Git.Branch, "remote trunk", nil)
				return "reset to remote trunk"
			}
			logging.SupervisorDebug("remote trunk recovery failed: %v", err)
		}
		err := r.RecoverPrevious(ctx)
		if err == nil {
			logging.Audit(logging.AuditGitRecovery, "HEAD~1", "previous commit", nil)
			return "reset to previous commit"
		}
		logging.SupervisorDebug("previous commit recovery failed: %v", err)
		err = r.RecoverStableTag(ctx, s.git.RemoteURL(), s.cfg.Git.StableTag)
		if err == nil {
			logging.Audit(logging.AuditGitRecovery, s.cfg.Git.StableTag, "stable tag", nil)
			return fmt.Sprintf("reset to tag %s", s.cfg.Git.StableTag)
		}
		logging.SupervisorDebug("stable tag recovery failed: %v", err)
	}
	n, err := s.restoreBackups(restoreLimit)
	if err != nil {
		logging.Supervisor("backup restore failed: %v", err)
	}
	if n > 0 {
		return fmt.Sprintf("restored %d file(s) from backups", n)
	}
	return "nothing recovered, respawning as-is"
}

// backupEntry is one .bak file found under the backups directory.
type backupEntry struct {
	path   string // absolute backup path
	target string // workspace-relative file it restores
	mod    time.Time
}

// restoreBackups copies the newest backups over the working tree, at
// most limit distinct files, newest first. The applier names backups
// <relpath>.<stamp>.bak under the backups directory, so the relative
// location inside it is the restore target.
func (s *Supervisor) restoreBackups(limit int) (int, error) {
	entries, err := s.listBackups()
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].mod.After(entries[j].mod)
	})

	restored := 0
	seen := make(map[string]bool)
	for _, e := range entries {
		if restored >= limit {
			break
		}
		// Older backups of an already-restored file would undo the
		// newer copy.
		if seen[e.target] {
			continue
		}
		seen[e.target] = true
		if err := s.restoreFile(e); err != nil {
			logging.Supervisor("restore %s: %v", e.target, err)
			continue
		}
		logging.Supervisor("restored %s from backup", e.target)
		restored++
	}
	return restored, nil
}

func (s *Supervisor) listBackups() ([]backupEntry, error) {
	var entries []backupEntry
	err := filepath.WalkDir(s.backups, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".bak") {
			return nil
		}
		rel, err := filepath.Rel(s.backups, path)
		if err != nil {
			return err
		}
		target, ok := backupTarget(filepath.ToSlash(rel))
		if !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		entries = append(entries, backupEntry{path: path, target: target, mod: info.ModTime()})
		return nil
	})
	return entries, err
}

// backupTarget strips the ".<stamp>.bak" suffix from a backup's
// relative path, leaving the workspace-relative file it belongs to.
func backupTarget(rel string) (string, bool) {
	trimmed := strings.TrimSuffix(rel, ".bak")
	dot := strings.LastIndex(trimmed, ".")
	if dot <= 0 {
		return "", false
	}
	return trimmed[:dot], true
}

func (s *Supervisor) restoreFile(e backupEntry) error {
	data, err := os.ReadFile(e.path)
	if err != nil {
		return err
	}
	dst := filepath.Join(s.workspace, filepath.FromSlash(e.target))
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}
