// Package persist implements whole-file JSON persistence. State files are
// rewritten completely on every save under a single-writer invariant, so
// writes go through a temp file + rename. Reads tolerate trailing garbage
// from interrupted writers by truncating at the last closing brace or
// bracket before the damage.
package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Save writes v as indented JSON atomically, creating parent directories.
func Save(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename to %s: %w", path, err)
	}
	return nil
}

// Load reads path into v. Missing files surface os.ErrNotExist so callers
// can start empty. A parse failure triggers recovery: the document is cut
// at the last `}` or `]` before the reported error and reparsed, walking
// further back until it parses or nothing plausible remains. recovered
// reports whether a truncated reparse was used.
func Load(path string, v interface{}) (recovered bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}

	parseErr := json.Unmarshal(data, v)
	if parseErr == nil {
		return false, nil
	}
	var serr *json.SyntaxError
	if !errors.As(parseErr, &serr) {
		return false, fmt.Errorf("parse %s: %w", filepath.Base(path), parseErr)
	}

	cut := len(data)
	if off := int(serr.Offset); off > 0 && off < cut {
		cut = off
	}
	for cut > 0 {
		i := lastCloser(data[:cut])
		if i < 0 {
			break
		}
		if err := json.Unmarshal(data[:i+1], v); err == nil {
			return true, nil
		}
		cut = i
	}
	return false, fmt.Errorf("parse %s: unrecoverable: %w", filepath.Base(path), parseErr)
}

// lastCloser returns the index of the last '}' or ']' in b, or -1.
func lastCloser(b []byte) int {
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] == '}' || b[i] == ']' {
			return i
		}
	}
	return -1
}

// Exists reports whether path names an existing regular file.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
