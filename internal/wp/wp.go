// Package wp loads and maintains work package definition files.
//
// A work package definition is a markdown file with a YAML frontmatter
// block carrying the machine-readable fields (id, dependencies, lane,
// agent assignments, subtasks) followed by a free-text body that becomes
// the implementation task description. The orchestrator reads the
// frontmatter at run start and is the single writer of the lane field
// afterwards; any external edit to lane is advisory only and is never
// read back into orchestrator state.
package wp

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Lane is the externally visible kanban bucket for a work package.
// It is a pure projection of the orchestrator status and is the only
// frontmatter field the orchestrator writes back.
type Lane string

const (
	LanePlanned   Lane = "planned"
	LaneDoing     Lane = "doing"
	LaneForReview Lane = "for_review"
	LaneDone      Lane = "done"
)

// String returns the string representation of the lane.
func (l Lane) String() string {
	return string(l)
}

// IsValid returns true if the lane is a recognized value.
func (l Lane) IsValid() bool {
	switch l {
	case LanePlanned, LaneDoing, LaneForReview, LaneDone:
		return true
	}
	return false
}

// Spec is the immutable definition of a single work package as loaded
// from its definition file. Specs are never mutated after loading; the
// only write-back the orchestrator performs on the file is the lane
// field (see WriteLane).
type Spec struct {
	// ID is the unique work package identifier, e.g. "WP01".
	ID string `yaml:"work_package_id"`

	// Dependencies lists the IDs of work packages that must reach done
	// before this one becomes ready. Every entry must reference a loaded
	// spec; unknown references fail the graph build.
	Dependencies []string `yaml:"dependencies"`

	// Lane is the kanban lane recorded in the file at load time. It is
	// informational only; the orchestrator overwrites it as the run
	// progresses and never reads it back into state.
	Lane Lane `yaml:"lane"`

	// Agent is the implementation agent assigned to this work package.
	// Empty means the run-level default applies.
	Agent string `yaml:"agent"`

	// ReviewAgent reviews the implemented work. Empty means the
	// run-level default applies.
	ReviewAgent string `yaml:"review_agent"`

	// Subtasks is an ordered list of subtask descriptions. The
	// orchestrator treats these as opaque; they are folded into the task
	// description handed to the implementation agent.
	Subtasks []string `yaml:"subtasks"`

	// Meta holds any remaining frontmatter fields, preserved for
	// downstream tooling but unused by the orchestrator.
	Meta map[string]any `yaml:"-"`

	// Body is the free text after the frontmatter block.
	Body string `yaml:"-"`

	// Path is the definition file this spec was loaded from.
	Path string `yaml:"-"`
}

// TaskDescription renders the prompt handed to the implementation
// agent: the definition body followed by the ordered subtask list.
func (s *Spec) TaskDescription() string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(s.Body))
	if len(s.Subtasks) > 0 {
		b.WriteString("\n\nSubtasks, in order:\n")
		for i, st := range s.Subtasks {
			fmt.Fprintf(&b, "%d. %s\n", i+1, st)
		}
	}
	return b.String()
}

const frontmatterDelimiter = "---"

// Parse decodes a work package definition from raw file contents.
// The file must begin with a YAML frontmatter block delimited by "---"
// lines; the remainder is the body.
func Parse(data []byte, path string) (*Spec, error) {
	front, body, err := splitFrontmatter(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	var spec Spec
	if err := yaml.Unmarshal([]byte(front), &spec); err != nil {
		return nil, fmt.Errorf("%s: decode frontmatter: %w", path, err)
	}
	if strings.TrimSpace(spec.ID) == "" {
		return nil, fmt.Errorf("%s: frontmatter is missing work_package_id", path)
	}

	// Keep the full frontmatter map around for tooling that needs
	// fields the orchestrator does not model.
	var meta map[string]any
	if err := yaml.Unmarshal([]byte(front), &meta); err == nil {
		spec.Meta = meta
	}

	spec.Body = body
	spec.Path = path
	return &spec, nil
}

// splitFrontmatter separates the YAML frontmatter block from the body.
func splitFrontmatter(content string) (front, body string, err error) {
	lines := strings.SplitAfter(content, "\n")
	if len(lines) == 0 || strings.TrimSpace(strings.TrimSuffix(lines[0], "\n")) != frontmatterDelimiter {
		return "", "", fmt.Errorf("missing frontmatter delimiter")
	}

	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(strings.TrimSuffix(lines[i], "\n")) == frontmatterDelimiter {
			return strings.Join(lines[1:i], ""), strings.Join(lines[i+1:], ""), nil
		}
	}
	return "", "", fmt.Errorf("unterminated frontmatter block")
}

// LoadFile loads a single work package definition file.
func LoadFile(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read work package file: %w", err)
	}
	return Parse(data, path)
}

// LoadDir loads every *.md work package definition under dir, sorted by
// ID. Duplicate work package IDs are an error.
func LoadDir(dir string) ([]*Spec, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read work package directory: %w", err)
	}

	seen := make(map[string]string) // id -> path
	var specs []*Spec
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		spec, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[spec.ID]; dup {
			return nil, fmt.Errorf("duplicate work package id %q in %s and %s", spec.ID, prev, path)
		}
		seen[spec.ID] = path
		specs = append(specs, spec)
	}

	if len(specs) == 0 {
		return nil, fmt.Errorf("no work package definitions found in %s", dir)
	}

	sort.Slice(specs, func(i, j int) bool { return specs[i].ID < specs[j].ID })
	return specs, nil
}
