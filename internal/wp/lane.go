package wp

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// laneLine matches the lane field line inside a frontmatter block,
// capturing leading whitespace so indentation is preserved on rewrite.
var laneLine = regexp.MustCompile(`^(\s*)lane\s*:.*$`)

// WriteLane rewrites the lane field of a work package definition file
// in place, leaving every other byte of the file untouched. If the
// frontmatter has no lane field yet, one is inserted directly after the
// work_package_id line.
//
// The write is atomic (temp file + rename) so a crash mid-update never
// leaves a truncated definition file behind.
func WriteLane(path string, lane Lane) error {
	if !lane.IsValid() {
		return fmt.Errorf("invalid lane %q", lane)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read work package file: %w", err)
	}

	updated, err := replaceLane(string(data), lane)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(updated), 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp) // best-effort cleanup
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// replaceLane performs the textual lane substitution within the
// frontmatter block only; a "lane:" line in the body is never touched.
func replaceLane(content string, lane Lane) (string, error) {
	lines := strings.SplitAfter(content, "\n")
	if len(lines) == 0 || strings.TrimSpace(strings.TrimSuffix(lines[0], "\n")) != frontmatterDelimiter {
		return "", fmt.Errorf("missing frontmatter delimiter")
	}

	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(strings.TrimSuffix(lines[i], "\n")) == frontmatterDelimiter {
			end = i
			break
		}
	}
	if end < 0 {
		return "", fmt.Errorf("unterminated frontmatter block")
	}

	for i := 1; i < end; i++ {
		trimmed := strings.TrimSuffix(lines[i], "\n")
		if m := laneLine.FindStringSubmatch(trimmed); m != nil {
			lines[i] = fmt.Sprintf("%slane: %s\n", m[1], lane)
			return strings.Join(lines, ""), nil
		}
	}

	// No lane field yet: insert after work_package_id, or at the top of
	// the block when that line is absent.
	insertAt := 1
	for i := 1; i < end; i++ {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), "work_package_id") {
			insertAt = i + 1
			break
		}
	}
	inserted := make([]string, 0, len(lines)+1)
	inserted = append(inserted, lines[:insertAt]...)
	inserted = append(inserted, fmt.Sprintf("lane: %s\n", lane))
	inserted = append(inserted, lines[insertAt:]...)
	return strings.Join(inserted, ""), nil
}
