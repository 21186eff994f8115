// Package proposal takes raw coder output to applicable file updates:
// sanitize the text, parse FILE blocks, then validate each update against
// policy and syntax. Everything here is pure with respect to the working
// tree except the validator's read-only disk checks.
package proposal

import (
	"strings"
)

// Report describes what the sanitizer found and changed.
type Report struct {
	Cleaned     bool `json:"cleaned"`
	HasConflict bool `json:"has_conflict"`
	HasDiff     bool `json:"has_diff"`
	HasOmission bool `json:"has_omission"`
}

// Sanitize normalises raw LLM output into text the parser and validator
// can trust. It is idempotent: a second pass changes nothing and reports
// Cleaned=false.
//
// Passes, in order: triple-single-quote fences become backtick fences;
// conflict-marker lines are dropped; `@@` hunk headers are dropped;
// `+ `/`- ` prefixes inside diff-shaped fence blocks are resolved; an odd
// number of triple-double-quotes is closed at the end.
func Sanitize(raw string) (string, Report) {
	var report Report
	text := raw

	if strings.Contains(text, "'''") {
		text = strings.ReplaceAll(text, "'''", "```")
		report.Cleaned = true
	}

	lines := strings.Split(text, "\n")
	diffBlocks := scanDiffBlocks(lines)

	out := make([]string, 0, len(lines))
	inFence := false
	block := -1

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") {
			if !inFence {
				block++
			}
			inFence = !inFence
			out = append(out, line)
			continue
		}

		if strings.Contains(line, "<<<<<<<") || strings.Contains(line, ">>>>>>>") || trimmed == "=======" {
			report.Cleaned = true
			report.HasConflict = true
			continue
		}

		if strings.HasPrefix(trimmed, "@@") {
			report.Cleaned = true
			report.HasDiff = true
			continue
		}

		if inFence && diffBlocks[block] {
			if strings.HasPrefix(line, "- ") {
				report.Cleaned = true
				report.HasDiff = true
				continue
			}
			if strings.HasPrefix(line, "+ ") {
				for strings.HasPrefix(line, "+ ") {
					line = line[2:]
				}
				report.Cleaned = true
				report.HasDiff = true
			}
		}

		if isOmissionMarker(trimmed) {
			report.HasOmission = true
		}

		out = append(out, line)
	}

	text = strings.Join(out, "\n")

	if strings.Count(text, `"""`)%2 == 1 {
		if !strings.HasSuffix(text, "\n") {
			text += "\n"
		}
		text += `"""`
		report.Cleaned = true
	}

	return text, report
}

// scanDiffBlocks marks fence blocks that carry diff syntax: a diff/patch
// language tag, a `@@` hunk header, or both added and removed lines.
// Blocks that merely contain a line starting with `+ ` or `- ` are left
// alone, so sanitized output never re-triggers the conversion.
func scanDiffBlocks(lines []string) map[int]bool {
	diff := make(map[int]bool)
	plus := make(map[int]bool)
	minus := make(map[int]bool)
	inFence := false
	block := -1

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			if !inFence {
				block++
				tag := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(trimmed, "```")))
				if tag == "diff" || tag == "patch" {
					diff[block] = true
				}
			}
			inFence = !inFence
			continue
		}
		if !inFence {
			continue
		}
		switch {
		case strings.HasPrefix(trimmed, "@@"):
			diff[block] = true
		case strings.HasPrefix(line, "+ "):
			plus[block] = true
		case strings.HasPrefix(line, "- "):
			minus[block] = true
		}
	}

	for b := range plus {
		if minus[b] {
			diff[b] = true
		}
	}
	return diff
}

// isOmissionMarker flags lines the coder uses to elide file content.
// Detection only; the retry prompt tells the coder to emit whole files.
func isOmissionMarker(trimmed string) bool {
	if trimmed == "..." || trimmed == "# ..." {
		return true
	}
	lower := strings.ToLower(trimmed)
	if !strings.HasPrefix(lower, "#") {
		return false
	}
	return strings.Contains(lower, "rest of the file") ||
		strings.Contains(lower, "rest of file") ||
		strings.Contains(lower, "remains unchanged") ||
		strings.Contains(lower, "unchanged code") ||
		strings.Contains(lower, "existing code")
}
