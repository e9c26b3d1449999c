package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// VerdictFileName is the sentinel file a review agent writes into its
// workspace to report the review outcome. Its existence signals review
// completion; its content carries the verdict.
const VerdictFileName = ".packflow-review.json"

// VerdictFilePath returns the full path of the verdict sentinel for a
// workspace.
func VerdictFilePath(workspacePath string) string {
	return filepath.Join(workspacePath, VerdictFileName)
}

// ParseVerdict reads and parses the verdict sentinel in a workspace. A
// rejection without a reason is an error: rework needs actionable
// feedback to act on.
func ParseVerdict(workspacePath string) (*Verdict, error) {
	data, err := os.ReadFile(VerdictFilePath(workspacePath))
	if err != nil {
		return nil, err
	}

	var v Verdict
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to parse review verdict JSON: %w", err)
	}
	if !v.Approved && v.Reason == "" {
		return nil, fmt.Errorf("review verdict rejected without a reason")
	}
	return &v, nil
}

// WriteVerdict writes a verdict sentinel into a workspace. Used by
// tests and by agents that delegate verdict writing to the harness.
func WriteVerdict(workspacePath string, v *Verdict) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal verdict: %w", err)
	}
	return os.WriteFile(VerdictFilePath(workspacePath), data, 0644)
}

// RemoveVerdict deletes a stale verdict sentinel so a new review cycle
// cannot observe the previous cycle's outcome.
func RemoveVerdict(workspacePath string) error {
	err := os.Remove(VerdictFilePath(workspacePath))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
