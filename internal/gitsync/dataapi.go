package gitsync

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"ain/internal/logging"
)

// excludedPrefixes keeps runtime artifacts out of fallback commits.
var excludedPrefixes = []string{
	".git/", ".ain/", "backups/", "__pycache__/", ".venv/", "venv/", "node_modules/",
}

// dataAPI builds a commit through the VCS REST endpoints: one blob per
// changed file, a tree on top of the live remote tree, a commit whose
// parent is the live remote HEAD, then a fast-forward ref move.
type dataAPI struct {
	base       string
	repo       string // owner/name
	token      string
	workspace  string
	httpClient *http.Client
}

func newDataAPI(base, repo, token, workspace string, httpClient *http.Client) *dataAPI {
	return &dataAPI{
		base:       strings.TrimRight(base, "/"),
		repo:       repo,
		token:      token,
		workspace:  workspace,
		httpClient: httpClient,
	}
}

type refObject struct {
	Object struct {
		SHA string `json:"sha"`
	} `json:"object"`
}

type commitObject struct {
	SHA  string `json:"sha"`
	Tree struct {
		SHA string `json:"sha"`
	} `json:"tree"`
}

type treeEntry struct {
	Path string  `json:"path"`
	Mode string  `json:"mode"`
	Type string  `json:"type"`
	SHA  *string `json:"sha"`
}

// PushCommit commits the given workspace-relative files on top of the
// live remote head and moves the branch ref. Returns the new SHA.
func (d *dataAPI) PushCommit(ctx context.Context, branch, message string, files []string) (string, error) {
	var ref refObject
	if err := d.call(ctx, "GET", "/git/ref/heads/"+branch, nil, &ref); err != nil {
		return "", fmt.Errorf("fetch remote ref: %w", err)
	}
	remoteHead := ref.Object.SHA

	var parent commitObject
	if err := d.call(ctx, "GET", "/git/commits/"+remoteHead, nil, &parent); err != nil {
		return "", fmt.Errorf("fetch remote commit: %w", err)
	}

	entries, err := d.buildEntries(ctx, files)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("no pushable files in working-copy diff")
	}

	var tree struct {
		SHA string `json:"sha"`
	}
	treeReq := map[string]interface{}{
		"base_tree": parent.Tree.SHA,
		"tree":      entries,
	}
	if err := d.call(ctx, "POST", "/git/trees", treeReq, &tree); err != nil {
		return "", fmt.Errorf("create tree: %w", err)
	}

	var commit struct {
		SHA string `json:"sha"`
	}
	commitReq := map[string]interface{}{
		"message": message,
		"tree":    tree.SHA,
		"parents": []string{remoteHead},
	}
	if err := d.call(ctx, "POST", "/git/commits", commitReq, &commit); err != nil {
		return "", fmt.Errorf("create commit: %w", err)
	}

	refReq := map[string]interface{}{"sha": commit.SHA, "force": false}
	if err := d.call(ctx, "PATCH", "/git/refs/heads/"+branch, refReq, nil); err != nil {
		return "", fmt.Errorf("move branch ref: %w", err)
	}

	logging.Git("data-api commit %s on %s (%d files)", shortSHA(commit.SHA), branch, len(entries))
	return commit.SHA, nil
}

func shortSHA(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}

// buildEntries uploads a blob per eligible file. Files deleted locally
// become tombstone entries (null sha) so the remote tree drops them.
func (d *dataAPI) buildEntries(ctx context.Context, files []string) ([]treeEntry, error) {
	var entries []treeEntry
	for _, rel := range files {
		rel = filepath.ToSlash(rel)
		if isExcludedPath(rel) {
			continue
		}

		data, err := os.ReadFile(filepath.Join(d.workspace, filepath.FromSlash(rel)))
		if os.IsNotExist(err) {
			entries = append(entries, treeEntry{Path: rel, Mode: "100644", Type: "blob", SHA: nil})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", rel, err)
		}
		if isBinary(data) {
			logging.GitDebug("skipping binary file %s", rel)
			continue
		}
		if hasConflictMarkers(data) {
			logging.GitDebug("skipping conflicted file %s", rel)
			continue
		}

		var blob struct {
			SHA string `json:"sha"`
		}
		blobReq := map[string]string{
			"content":  base64.StdEncoding.EncodeToString(data),
			"encoding": "base64",
		}
		if err := d.call(ctx, "POST", "/git/blobs", blobReq, &blob); err != nil {
			return nil, fmt.Errorf("create blob %s: %w", rel, err)
		}
		sha := blob.SHA
		entries = append(entries, treeEntry{Path: rel, Mode: "100644", Type: "blob", SHA: &sha})
	}
	return entries, nil
}

func (d *dataAPI) call(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	url := fmt.Sprintf("%s/repos/%s%s", d.base, d.repo, path)
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+d.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out != nil {
		return json.Unmarshal(raw, out)
	}
	return nil
}

func isExcludedPath(rel string) bool {
	for _, prefix := range excludedPrefixes {
		if strings.HasPrefix(rel, prefix) {
			return true
		}
	}
	return strings.HasSuffix(rel, ".bak") || strings.HasSuffix(rel, ".pyc")
}

func isBinary(data []byte) bool {
	return bytes.IndexByte(data, 0) != -1
}

func hasConflictMarkers(data []byte) bool {
	return bytes.Contains(data, []byte("<<<<<<<")) || bytes.Contains(data, []byte(">>>>>>>"))
}
