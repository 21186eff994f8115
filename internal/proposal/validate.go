package proposal

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"unicode"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"ain/internal/guard"
	"ain/internal/logging"
	"ain/internal/types"
)

const maxFilenameLen = 100

var relImportRe = regexp.MustCompile(`(?m)^[ \t]*from[ \t]+\.([A-Za-z_][A-Za-z0-9_]*)[ \t]+import\b`)

// Validator gates parsed updates before anything touches the working
// tree. A rejection wraps one of the sentinel errors in types; warnings
// never block.
type Validator struct {
	workspace string
	guard     *guard.Registry
	warnLines int
	maxLines  int
	required  []string

	mu     sync.Mutex
	parser *sitter.Parser
}

// NewValidator builds a validator rooted at workspace. warnLines and
// maxLines are soft thresholds; both only produce warnings.
func NewValidator(workspace string, g *guard.Registry, warnLines, maxLines int) *Validator {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())
	return &Validator{
		workspace: workspace,
		guard:     g,
		warnLines: warnLines,
		maxLines:  maxLines,
		required:  []string{"requests", "redis", "lancedb"},
		parser:    parser,
	}
}

// Validate checks one update against filename policy, the protected
// set, Python syntax, relative imports, the requirements whitelist and
// the no-change rule. batch carries sibling updates from the same
// proposal so new modules may import each other before they exist on
// disk.
func (v *Validator) Validate(u types.Update, batch []types.Update) ([]string, error) {
	if err := checkFilename(u.Filename); err != nil {
		return nil, err
	}
	if v.guard != nil && v.guard.IsProtected(u.Filename) {
		logging.Guard("blocked write to protected file: %s", u.Filename)
		return nil, fmt.Errorf("🛡️ protected file: %s: %w", u.Filename, types.ErrPolicyViolation)
	}
	if strings.TrimSpace(u.Code) == "" {
		return nil, fmt.Errorf("empty body for %s: %w", u.Filename, types.ErrSanityFailure)
	}

	if strings.HasSuffix(u.Filename, ".py") {
		if err := v.checkSyntax(u); err != nil {
			return nil, err
		}
		if err := v.checkRelativeImports(u, batch); err != nil {
			return nil, err
		}
	}
	if path.Base(u.Filename) == "requirements.txt" {
		if err := v.checkRequirements(u.Code); err != nil {
			return nil, err
		}
	}
	if err := v.checkChanged(u); err != nil {
		return nil, err
	}

	var warnings []string
	if n := countLines(u.Code); n > v.maxLines {
		warnings = append(warnings, fmt.Sprintf("%s is %d lines, over the %d line ceiling", u.Filename, n, v.maxLines))
	} else if n > v.warnLines {
		warnings = append(warnings, fmt.Sprintf("%s is %d lines, consider splitting above %d", u.Filename, n, v.warnLines))
	}
	return warnings, nil
}

func checkFilename(name string) error {
	reject := func(why string) error {
		return fmt.Errorf("filename %q rejected: %s: %w", name, why, types.ErrPolicyViolation)
	}
	if name == "" {
		return reject("empty")
	}
	if len(name) > maxFilenameLen {
		return reject("too long")
	}
	if strings.HasPrefix(name, "/") || filepath.IsAbs(name) {
		return reject("absolute path")
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return reject("path traversal")
		}
	}
	for _, r := range name {
		switch {
		case strings.ContainsRune(`<>|"?*\`, r):
			return reject("forbidden character")
		case unicode.IsSpace(r):
			return reject("whitespace in name")
		case unicode.IsControl(r):
			return reject("control character")
		}
	}
	return nil
}

func (v *Validator) checkSyntax(u types.Update) error {
	v.mu.Lock()
	tree, err := v.parser.ParseCtx(context.Background(), nil, []byte(u.Code))
	v.mu.Unlock()
	if err != nil {
		return fmt.Errorf("parse %s: %v: %w", u.Filename, err, types.ErrSanityFailure)
	}
	defer tree.Close()

	root := tree.RootNode()
	if !root.HasError() {
		return nil
	}
	row := firstErrorRow(root)
	return fmt.Errorf("python syntax error in %s near line %d: %w", u.Filename, row+1, types.ErrSanityFailure)
}

// firstErrorRow walks to the first ERROR or missing node and returns its
// zero-based row.
func firstErrorRow(node *sitter.Node) uint32 {
	if node.Type() == "ERROR" || node.IsMissing() {
		return node.StartPoint().Row
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.HasError() || child.IsMissing() {
			return firstErrorRow(child)
		}
	}
	return node.StartPoint().Row
}

// checkRelativeImports resolves each single-dot relative import against
// the batch and the working tree. Deeper relative imports are left to
// the test run.
func (v *Validator) checkRelativeImports(u types.Update, batch []types.Update) error {
	dir := path.Dir(u.Filename)
	inBatch := make(map[string]bool, len(batch))
	for _, b := range batch {
		inBatch[filepath.ToSlash(b.Filename)] = true
	}

	for _, m := range relImportRe.FindAllStringSubmatch(u.Code, -1) {
		mod := m[1]
		asFile := path.Join(dir, mod+".py")
		asPkg := path.Join(dir, mod, "__init__.py")
		if inBatch[asFile] || inBatch[asPkg] {
			continue
		}
		if fileExists(filepath.Join(v.workspace, filepath.FromSlash(asFile))) {
			continue
		}
		if fileExists(filepath.Join(v.workspace, filepath.FromSlash(asPkg))) {
			continue
		}
		return fmt.Errorf("%s imports .%s but no sibling module exists: %w", u.Filename, mod, types.ErrSanityFailure)
	}
	return nil
}

func (v *Validator) checkRequirements(code string) error {
	have := make(map[string]bool)
	for _, line := range strings.Split(code, "\n") {
		pkg := strings.TrimSpace(line)
		if pkg == "" || strings.HasPrefix(pkg, "#") {
			continue
		}
		for _, sep := range []string{"==", ">=", "<=", "~=", ">", "<", "[", ";", " "} {
			if i := strings.Index(pkg, sep); i >= 0 {
				pkg = pkg[:i]
			}
		}
		have[strings.ToLower(pkg)] = true
	}
	for _, req := range v.required {
		if !have[strings.ToLower(req)] {
			return fmt.Errorf("requirements.txt drops required package %s: %w", req, types.ErrPolicyViolation)
		}
	}
	return nil
}

// checkChanged rejects updates whose whitespace-normalised body matches
// the file already on disk.
func (v *Validator) checkChanged(u types.Update) error {
	current, err := os.ReadFile(filepath.Join(v.workspace, filepath.FromSlash(u.Filename)))
	if err != nil {
		return nil
	}
	if ContentHash(string(current)) == ContentHash(u.Code) {
		return fmt.Errorf("변경사항 없음 (no change) for %s: %w", u.Filename, types.ErrNoChange)
	}
	return nil
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}

func countLines(code string) int {
	n := strings.Count(code, "\n") + 1
	if strings.HasSuffix(code, "\n") {
		n--
	}
	return n
}
