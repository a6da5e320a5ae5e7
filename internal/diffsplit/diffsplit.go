// Package diffsplit breaks a unified diff into the per-hunk units the
// review server works with.
package diffsplit

import (
	"fmt"
	"strings"

	"github.com/connor15mcc/patchpal/internal/protocol"
)

// Split parses a unified diff and returns one HunkContent per @@ hunk,
// in the order they appear. File headers are folded into the hunk's Path;
// binary file sections have no hunks and are skipped. An empty or
// whitespace-only diff yields no hunks and no error.
func Split(diff string) ([]protocol.HunkContent, error) {
	if strings.TrimSpace(diff) == "" {
		return nil, nil
	}

	var hunks []protocol.HunkContent
	for _, section := range splitSections(diff) {
		path := pathFromSection(section)
		secHunks, err := splitHunks(section)
		if err != nil {
			return nil, fmt.Errorf("split diff for %s: %w", path, err)
		}
		for _, h := range secHunks {
			h.Path = path
			hunks = append(hunks, h)
		}
	}
	return hunks, nil
}

// splitSections cuts the diff at each "diff --git" boundary. Diffs that
// lack the git preamble (plain diff -u output) come back as one section.
func splitSections(diff string) []string {
	var sections []string
	var current strings.Builder
	for _, line := range strings.Split(diff, "\n") {
		if strings.HasPrefix(line, "diff --git") && current.Len() > 0 {
			sections = append(sections, current.String())
			current.Reset()
		}
		current.WriteString(line)
		current.WriteString("\n")
	}
	if s := current.String(); strings.TrimSpace(s) != "" {
		sections = append(sections, s)
	}
	return sections
}

// pathFromSection extracts the post-image path. Deleted files have
// "+++ /dev/null", so fall back to the pre-image path there.
func pathFromSection(section string) string {
	var old string
	for _, line := range strings.Split(section, "\n") {
		switch {
		case strings.HasPrefix(line, "+++ b/"):
			return strings.TrimPrefix(line, "+++ b/")
		case strings.HasPrefix(line, "+++ ") && !strings.HasPrefix(line, "+++ /dev/null"):
			return strings.TrimPrefix(line, "+++ ")
		case strings.HasPrefix(line, "--- a/"):
			old = strings.TrimPrefix(line, "--- a/")
		}
	}
	return old
}

// splitHunks cuts one file section at each @@ header. Body lines keep
// their +/-/space prefix; anything before the first @@ is file metadata
// and is dropped.
func splitHunks(section string) ([]protocol.HunkContent, error) {
	var hunks []protocol.HunkContent
	var body strings.Builder
	var header string
	inHunk := false

	flush := func() {
		if inHunk {
			hunks = append(hunks, protocol.HunkContent{Header: header, Content: body.String()})
			body.Reset()
		}
	}

	for _, line := range strings.Split(section, "\n") {
		if strings.HasPrefix(line, "@@") {
			if !strings.Contains(line[2:], "@@") {
				return nil, fmt.Errorf("malformed hunk header %q", line)
			}
			flush()
			header = line
			inHunk = true
			continue
		}
		if !inHunk {
			continue
		}
		if len(line) == 0 {
			// A bare empty line only appears at the section tail; hunk
			// context lines carry at least the leading space
			continue
		}
		switch line[0] {
		case '+', '-', ' ', '\\':
			body.WriteString(line)
			body.WriteString("\n")
		default:
			// Start of trailing metadata (e.g. "diff --git" never reaches
			// here, but index lines of concatenated raw diffs can)
			flush()
			inHunk = false
		}
	}
	flush()
	return hunks, nil
}
