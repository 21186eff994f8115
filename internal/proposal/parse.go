package proposal

import (
	"path/filepath"
	"regexp"
	"strings"

	"ain/internal/types"
)

// ParseResult is the outcome of splitting coder output into updates.
type ParseResult struct {
	Updates     []types.Update
	NoEvolution bool
	Reason      string
}

var (
	fileMarkerRe   = regexp.MustCompile(`(?m)^[ \t>*#]*(?:\*\*)?FILE:\s*(.+)$`)
	fenceTagPathRe = regexp.MustCompile("^```[A-Za-z0-9_+-]+:(.+)$")
	bareNameRe     = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_./-]*\.(py|txt|md|json|yaml|yml|toml|cfg|ini)$`)
	hintPathRe     = regexp.MustCompile(`[A-Za-z0-9_][A-Za-z0-9_./-]*\.py`)
)

// ParseUpdates extracts file updates from sanitized coder output.
//
// The cascade: explicit FILE: markers first, then ```lang:path fence
// tags, then a bare filename line directly above a fence, and as a last
// resort a single fence paired with a path scraped from the intent text.
// A NO_EVOLUTION_NEEDED line short-circuits everything.
func ParseUpdates(raw, intentHint string) ParseResult {
	if reason, ok := noEvolution(raw); ok {
		return ParseResult{NoEvolution: true, Reason: reason}
	}

	updates := parseFileMarkers(raw)
	if len(updates) == 0 {
		updates = parseFenceTags(raw)
	}
	if len(updates) == 0 {
		updates = parseNameAboveFence(raw)
	}
	if len(updates) == 0 {
		updates = parseSingleFence(raw, intentHint)
	}

	return ParseResult{Updates: dedupeLastWins(updates)}
}

func noEvolution(raw string) (string, bool) {
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.Trim(strings.TrimSpace(line), "*`# ")
		if strings.HasPrefix(trimmed, "NO_EVOLUTION_NEEDED") {
			reason := strings.TrimPrefix(trimmed, "NO_EVOLUTION_NEEDED")
			reason = strings.TrimSpace(strings.TrimPrefix(reason, ":"))
			if reason == "" {
				reason = "coder reported no evolution needed"
			}
			return reason, true
		}
	}
	return "", false
}

func parseFileMarkers(raw string) []types.Update {
	matches := fileMarkerRe.FindAllStringSubmatchIndex(raw, -1)
	if len(matches) == 0 {
		return nil
	}

	var updates []types.Update
	for i, m := range matches {
		name := cleanFilename(raw[m[2]:m[3]])
		if name == "" {
			continue
		}
		end := len(raw)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		segment := raw[m[1]:end]
		code := firstFenceBody(segment)
		if code == "" {
			// Some coders skip the fence and dump raw source after the
			// marker. Take the segment as-is rather than lose the file.
			code = strings.TrimSpace(segment)
		}
		if code == "" {
			continue
		}
		updates = append(updates, types.Update{Filename: name, Code: code})
	}
	return updates
}

func parseFenceTags(raw string) []types.Update {
	lines := strings.Split(raw, "\n")
	var updates []types.Update
	for i := 0; i < len(lines); i++ {
		m := fenceTagPathRe.FindStringSubmatch(strings.TrimSpace(lines[i]))
		if m == nil {
			continue
		}
		name := cleanFilename(m[1])
		body, next := fenceBodyFrom(lines, i)
		if name != "" && body != "" {
			updates = append(updates, types.Update{Filename: name, Code: body})
		}
		i = next
	}
	return updates
}

func parseNameAboveFence(raw string) []types.Update {
	lines := strings.Split(raw, "\n")
	var updates []types.Update
	lastName := ""
	for i := 0; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "```") {
			body, next := fenceBodyFrom(lines, i)
			if lastName != "" && body != "" {
				updates = append(updates, types.Update{Filename: lastName, Code: body})
			}
			lastName = ""
			i = next
			continue
		}
		if name := cleanFilename(trimmed); name != "" && bareNameRe.MatchString(name) {
			lastName = name
		} else {
			lastName = ""
		}
	}
	return updates
}

func parseSingleFence(raw, intentHint string) []types.Update {
	lines := strings.Split(raw, "\n")
	var bodies []string
	for i := 0; i < len(lines); i++ {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), "```") {
			body, next := fenceBodyFrom(lines, i)
			if body != "" {
				bodies = append(bodies, body)
			}
			i = next
		}
	}
	if len(bodies) != 1 {
		return nil
	}
	name := hintPathRe.FindString(intentHint)
	if name == "" {
		return nil
	}
	return []types.Update{{Filename: cleanFilename(name), Code: bodies[0]}}
}

func firstFenceBody(segment string) string {
	lines := strings.Split(segment, "\n")
	for i := 0; i < len(lines); i++ {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), "```") {
			body, _ := fenceBodyFrom(lines, i)
			return body
		}
	}
	return ""
}

// fenceBodyFrom reads the fence opened at lines[open] and returns its
// body plus the index of the closing line (or the last line when the
// fence never closes).
func fenceBodyFrom(lines []string, open int) (string, int) {
	var body []string
	for j := open + 1; j < len(lines); j++ {
		if strings.HasPrefix(strings.TrimSpace(lines[j]), "```") {
			return strings.TrimRight(strings.Join(body, "\n"), "\n"), j
		}
		body = append(body, lines[j])
	}
	return strings.TrimRight(strings.Join(body, "\n"), "\n"), len(lines) - 1
}

func cleanFilename(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "`'\"*")
	s = strings.TrimSuffix(s, ":")
	s = strings.TrimSpace(s)
	return filepath.ToSlash(s)
}

func dedupeLastWins(updates []types.Update) []types.Update {
	if len(updates) < 2 {
		return updates
	}
	latest := make(map[string]types.Update, len(updates))
	order := make([]string, 0, len(updates))
	for _, u := range updates {
		if _, seen := latest[u.Filename]; !seen {
			order = append(order, u.Filename)
		}
		latest[u.Filename] = u
	}
	out := make([]types.Update, 0, len(order))
	for _, name := range order {
		out = append(out, latest[name])
	}
	return out
}
