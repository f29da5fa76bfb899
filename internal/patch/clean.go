// Package patch turns model-produced diff text into applied changes. Model
// output is rarely a pristine unified diff: markdown fences, prose, duplicate
// headers, and truncated hunks all show up in practice. The pipeline cleans
// the text line-wise, checks its structure, then walks a fixed ladder of
// apply strategies.
package patch

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sfbench/sfbench/internal/types"
)

var (
	hunkHeaderPattern = regexp.MustCompile(`^@@ -\d+(,\d+)? \+\d+(,\d+)? @@`)
	numberedListPrefix = regexp.MustCompile(`^\d+[.)]`)
)

func isDiffMarker(line string) bool {
	return strings.HasPrefix(line, "diff --git") ||
		strings.HasPrefix(line, "--- ") || line == "---" ||
		strings.HasPrefix(line, "+++ ") || line == "+++" ||
		strings.HasPrefix(line, "@@") ||
		strings.HasPrefix(line, "index ")
}

func isDiffMetadata(line string) bool {
	for _, prefix := range []string{
		"index ", "new file", "deleted file", "similarity", "rename ",
		"old mode", "new mode",
	} {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

func isFileHeader(line string) bool {
	return strings.HasPrefix(line, "--- ") || strings.HasPrefix(line, "+++ ")
}

// isNoisePayload reports whether the text after a +/- sign looks like prose
// scaffolding rather than code: empty, a lone symbol, a numbered-list item,
// or a bullet.
func isNoisePayload(payload string) bool {
	if payload == "" {
		return true
	}
	if len(payload) == 1 && !isAlphanumeric(payload[0]) {
		return true
	}
	if numberedListPrefix.MatchString(payload) {
		return true
	}
	if strings.HasPrefix(payload, "- ") || strings.HasPrefix(payload, "* ") {
		return true
	}
	return false
}

func isAlphanumeric(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// Clean rewrites raw model output into the closest valid unified diff it
// contains. Cleaning is idempotent: running it on its own output changes
// nothing.
func Clean(raw string) string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	lines := strings.Split(raw, "\n")

	// Fences out first; everything else keys off diff markers.
	withoutFences := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		withoutFences = append(withoutFences, line)
	}
	lines = withoutFences

	// A second diff --git header means the model repeated itself; keep the
	// first copy only.
	seenDiffHeader := false
	truncated := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.HasPrefix(line, "diff --git") {
			if seenDiffHeader {
				break
			}
			seenDiffHeader = true
		}
		truncated = append(truncated, line)
	}
	lines = truncated

	var out []string
	inDiff := false
	afterHunkHeader := false
	for _, line := range lines {
		trimmed := strings.TrimRight(line, " \t")

		if !inDiff {
			if !isDiffMarker(trimmed) {
				continue
			}
			inDiff = true
		}

		// Preserved exactly, modulo trailing whitespace.
		if isFileHeader(trimmed) || trimmed == "---" || trimmed == "+++" ||
			strings.HasPrefix(trimmed, "@@") ||
			strings.HasPrefix(trimmed, `\ No newline at end of file`) {
			out = append(out, trimmed)
			afterHunkHeader = strings.HasPrefix(trimmed, "@@")
			continue
		}

		if trimmed == "" {
			if afterHunkHeader {
				continue
			}
			out = append(out, line)
			continue
		}
		afterHunkHeader = false

		if trimmed == "+" || trimmed == "-" {
			continue
		}
		if strings.HasPrefix(trimmed, "+") || strings.HasPrefix(trimmed, "-") {
			if isNoisePayload(trimmed[1:]) {
				continue
			}
			out = append(out, line)
			continue
		}

		if strings.HasPrefix(trimmed, "diff --git") || isDiffMetadata(trimmed) ||
			strings.HasPrefix(line, " ") {
			out = append(out, line)
			continue
		}
		// Anything else inside the diff body is interleaved prose.
	}

	// Final sweep: a sign line is only believable when it follows diff
	// content or a hunk header.
	swept := make([]string, 0, len(out))
	for i, line := range out {
		if strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++") ||
			strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---") {
			if i == 0 {
				continue
			}
			prev := out[i-1]
			if !isHunkContext(prev) {
				continue
			}
		}
		swept = append(swept, line)
	}

	return strings.Join(swept, "\n")
}

func isHunkContext(line string) bool {
	if strings.HasPrefix(line, "@@") || strings.HasPrefix(line, " ") ||
		strings.HasPrefix(line, "+") || strings.HasPrefix(line, "-") ||
		strings.HasPrefix(line, `\`) {
		return true
	}
	return line == ""
}

// Validate runs the structure check on cleaned text: it truncates dangling
// trailing headers, verifies the diff has real content, and guarantees a
// trailing newline. The returned text is what should be fed to the apply
// ladder.
func Validate(cleaned string) (string, error) {
	text := strings.TrimRight(cleaned, "\n")
	if strings.TrimSpace(text) == "" {
		return "", types.NewToolError(types.FailurePatchApplication,
			"patch is empty after cleaning", 0, "")
	}

	lines := strings.Split(text, "\n")

	// Strip a trailing run of headers with no content under them.
	for len(lines) > 0 {
		last := lines[len(lines)-1]
		if strings.HasPrefix(last, "@@") || isFileHeader(last) ||
			strings.HasPrefix(last, "diff --git") || strings.HasPrefix(last, "index ") {
			lines = lines[:len(lines)-1]
			continue
		}
		break
	}
	if len(lines) == 0 {
		return "", types.NewToolError(types.FailurePatchApplication,
			"patch contains headers but no hunk content", 0, "")
	}

	hasContent := false
	hasDiffHeader := false
	hasFileHeaders := false
	hasHunk := false
	for _, line := range lines {
		if strings.HasPrefix(line, "diff --git") {
			hasDiffHeader = true
		}
		if isFileHeader(line) {
			hasFileHeaders = true
		}
		if strings.HasPrefix(line, "@@") {
			hasHunk = true
		}
		if !isFileHeader(line) &&
			(strings.HasPrefix(line, "+") || strings.HasPrefix(line, "-") || strings.HasPrefix(line, "@@")) {
			hasContent = true
		}
	}

	if !hasContent {
		return "", types.NewToolError(types.FailurePatchApplication,
			"patch does not contain valid diff content", 0, "")
	}
	if !hasDiffHeader && !(hasFileHeaders && hasHunk) {
		return "", types.NewToolError(types.FailurePatchApplication,
			"patch is missing both a diff header and file headers with hunks", 0, "")
	}

	return strings.Join(lines, "\n") + "\n", nil
}

// Prepare is Clean followed by Validate.
func Prepare(raw string) (string, error) {
	prepared, err := Validate(Clean(raw))
	if err != nil {
		return "", fmt.Errorf("preparing patch: %w", err)
	}
	return prepared, nil
}
