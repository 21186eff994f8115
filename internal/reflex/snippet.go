package reflex

import (
	"fmt"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// SnippetFunc is the compiled entry point of a learned-reflex body:
// func Run(input string) (string, error).
type SnippetFunc func(input string) (string, error)

// SnippetRunner interprets learned-reflex bodies. Bodies run inside
// the engine process, so only a whitelist of pure stdlib packages is
// importable; anything that touches the OS, the network or unsafe is
// rejected before evaluation.
type SnippetRunner struct {
	allowed map[string]bool
}

// NewSnippetRunner returns a runner with the default import whitelist.
func NewSnippetRunner() *SnippetRunner {
	return &SnippetRunner{
		allowed: map[string]bool{
			"strings":       true,
			"strconv":       true,
			"fmt":           true,
			"math":          true,
			"regexp":        true,
			"encoding/json": true,
			"time":          true,
			"sort":          true,
			"bytes":         true,
			"path":          true,
			"path/filepath": true,
			"unicode":       true,
			"unicode/utf8":  true,
		},
	}
}

// Compile validates imports, evaluates the body in a fresh interpreter
// and returns the Run function. The returned func is reusable across
// invocations.
func (r *SnippetRunner) Compile(code string) (SnippetFunc, error) {
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("empty snippet body")
	}
	if err := r.checkImports(code); err != nil {
		return nil, err
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("load interpreter stdlib: %w", err)
	}

	if _, err := i.Eval(wrapSnippet(code)); err != nil {
		return nil, fmt.Errorf("evaluate snippet: %w", err)
	}

	v, err := i.Eval("main.Run")
	if err != nil {
		return nil, fmt.Errorf("snippet must define Run(string) (string, error): %w", err)
	}
	fn, ok := v.Interface().(func(string) (string, error))
	if !ok {
		return nil, fmt.Errorf("Run has wrong signature (want func(string) (string, error))")
	}
	return SnippetFunc(fn), nil
}

// checkImports scans the body's import statements against the
// whitelist. A blocked package fails the whole snippet.
func (r *SnippetRunner) checkImports(code string) error {
	var imports []string
	inBlock := false
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "import (") {
			inBlock = true
			continue
		}
		if inBlock {
			if strings.HasPrefix(trimmed, ")") {
				inBlock = false
				continue
			}
			if pkg := strings.Trim(trimmed, `"`); pkg != "" {
				imports = append(imports, pkg)
			}
			continue
		}
		if strings.HasPrefix(trimmed, "import ") {
			pkg := strings.Trim(strings.TrimPrefix(trimmed, "import "), `"`)
			imports = append(imports, pkg)
		}
	}

	var blocked []string
	for _, pkg := range imports {
		if !r.allowed[pkg] {
			blocked = append(blocked, pkg)
		}
	}
	if len(blocked) > 0 {
		return fmt.Errorf("snippet imports blocked packages: %v", blocked)
	}
	return nil
}

func wrapSnippet(code string) string {
	if strings.Contains(code, "package main") {
		return code
	}
	return "package main\n\n" + code
}
