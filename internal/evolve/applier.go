package evolve

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"ain/internal/logging"
	"ain/internal/proposal"
	"ain/internal/types"
)

// backupStamp is fixed-width UTC so lexical order equals age order.
const backupStamp = "20060102T150405Z"

// AppliedFile records one write so a failed sweep can be undone.
type AppliedFile struct {
	Filename string   // slash-separated relative path
	Backup   string   // absolute backup path; empty when the file is new
	Created  []string // absolute paths this apply created, in creation order
}

// Applier is the only component that mutates the working tree. Every
// overwrite leaves a timestamped backup under the backups directory.
type Applier struct {
	workspace string
	backups   string
}

// NewApplier roots the applier at workspace. A relative backupDir is
// resolved against the workspace; empty means "backups".
func NewApplier(workspace, backupDir string) *Applier {
	if backupDir == "" {
		backupDir = "backups"
	}
	if !filepath.IsAbs(backupDir) {
		backupDir = filepath.Join(workspace, backupDir)
	}
	return &Applier{workspace: workspace, backups: backupDir}
}

// ApplyAll writes updates in order and stops at the first failure,
// returning what was applied so far so the caller can roll back.
func (a *Applier) ApplyAll(updates []types.Update) ([]AppliedFile, error) {
	applied := make([]AppliedFile, 0, len(updates))
	for _, u := range updates {
		f, err := a.Apply(u)
		if err != nil {
			return applied, err
		}
		applied = append(applied, f)
	}
	return applied, nil
}

// Apply writes one update: back up the old content when the file
// exists, create parent packages when it does not, write atomically,
// then verify by re-reading. Identical content aborts before any write.
func (a *Applier) Apply(u types.Update) (AppliedFile, error) {
	rel := filepath.FromSlash(u.Filename)
	abs := filepath.Join(a.workspace, rel)
	applied := AppliedFile{Filename: u.Filename}

	current, err := os.ReadFile(abs)
	exists := err == nil
	if exists && proposal.ContentHash(string(current)) == proposal.ContentHash(u.Code) {
		return applied, fmt.Errorf("no change for %s: %w", u.Filename, types.ErrNoChange)
	}

	if exists {
		backup, err := a.backup(rel, current)
		if err != nil {
			return applied, err
		}
		applied.Backup = backup
	} else {
		created, err := a.preparePackage(u)
		applied.Created = created
		if err != nil {
			return applied, err
		}
		applied.Created = append(applied.Created, abs)
	}

	if err := atomicWrite(abs, []byte(u.Code)); err != nil {
		return applied, fmt.Errorf("write %s: %w", u.Filename, err)
	}

	written, err := os.ReadFile(abs)
	if err != nil {
		return applied, fmt.Errorf("verify %s: %w", u.Filename, err)
	}
	if len(written) != len(u.Code) {
		return applied, fmt.Errorf("verify %s: wrote %d bytes, read %d back", u.Filename, len(u.Code), len(written))
	}

	logging.Apply("wrote %s (%d bytes, new=%v)", u.Filename, len(u.Code), !exists)
	return applied, nil
}

// Rollback undoes applied files in reverse order: overwritten files are
// restored from their fresh backups, created files and package stubs
// are removed. Problems are collected, not fatal, so every file gets
// its restore attempt.
func (a *Applier) Rollback(applied []AppliedFile) error {
	var problems []error
	for i := len(applied) - 1; i >= 0; i-- {
		f := applied[i]
		if f.Backup != "" {
			if err := a.restore(f.Filename, f.Backup); err != nil {
				problems = append(problems, err)
			}
			continue
		}
		for j := len(f.Created) - 1; j >= 0; j-- {
			if err := os.Remove(f.Created[j]); err != nil && !os.IsNotExist(err) {
				problems = append(problems, fmt.Errorf("remove %s: %w", f.Created[j], err))
			}
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("rollback incomplete: %w", errors.Join(problems...))
	}
	logging.Apply("rolled back %d file(s)", len(applied))
	return nil
}

// RestoreNewest finds the most recent backup of filename and copies it
// back into the working tree.
func (a *Applier) RestoreNewest(filename string) error {
	rel := filepath.FromSlash(filename)
	matches, err := filepath.Glob(filepath.Join(a.backups, rel) + ".*.bak")
	if err != nil {
		return fmt.Errorf("glob backups for %s: %w", filename, err)
	}
	if len(matches) == 0 {
		return fmt.Errorf("no backup found for %s", filename)
	}
	sort.Strings(matches)
	return a.restore(filename, matches[len(matches)-1])
}

func (a *Applier) restore(filename, backup string) error {
	data, err := os.ReadFile(backup)
	if err != nil {
		return fmt.Errorf("read backup %s: %w", backup, err)
	}
	abs := filepath.Join(a.workspace, filepath.FromSlash(filename))
	if err := atomicWrite(abs, data); err != nil {
		return fmt.Errorf("restore %s: %w", filename, err)
	}
	logging.Apply("restored %s from %s", filename, filepath.Base(backup))
	return nil
}

// backup copies the current content to backups/<relpath>.<UTCstamp>.bak.
func (a *Applier) backup(rel string, current []byte) (string, error) {
	stamp := time.Now().UTC().Format(backupStamp)
	dst := filepath.Join(a.backups, rel) + "." + stamp + ".bak"
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("backup dir: %w", err)
	}
	if err := os.WriteFile(dst, current, 0o644); err != nil {
		return "", fmt.Errorf("backup %s: %w", rel, err)
	}
	return dst, nil
}

// preparePackage creates missing parent directories for a new file,
// stubbing __init__.py into each new directory when the file is Python
// so the new module imports cleanly.
func (a *Applier) preparePackage(u types.Update) ([]string, error) {
	dir := path.Dir(u.Filename)
	if dir == "." || dir == "" {
		return nil, nil
	}
	var created []string
	cur := a.workspace
	for _, seg := range strings.Split(dir, "/") {
		cur = filepath.Join(cur, seg)
		if _, err := os.Stat(cur); err == nil {
			continue
		}
		if err := os.Mkdir(cur, 0o755); err != nil {
			return created, fmt.Errorf("mkdir %s: %w", cur, err)
		}
		created = append(created, cur)
		if strings.HasSuffix(u.Filename, ".py") {
			stub := filepath.Join(cur, "__init__.py")
			if err := os.WriteFile(stub, nil, 0o644); err != nil {
				return created, fmt.Errorf("package stub %s: %w", stub, err)
			}
			created = append(created, stub)
		}
	}
	return created, nil
}

func atomicWrite(abs string, data []byte) error {
	dir := filepath.Dir(abs)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(abs)+".*")
	if err != nil {
		return fmt.Errorf("temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, abs); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
