// Package store persists orchestration run state as a JSON document,
// one per feature. Writes are atomic (write-temp-then-rename) so a
// crash never leaves a partially written state file, and a reader
// during a run only ever observes a complete snapshot.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/packflow/packflow/internal/state"
)

// Store reads and writes run state files under a base directory,
// conventionally .packflow/runs inside the repository.
type Store struct {
	dir string
}

// New creates a Store rooted at dir. The directory is created on the
// first save.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Path returns the state file path for a feature slug.
func (s *Store) Path(featureSlug string) string {
	return filepath.Join(s.dir, featureSlug+".json")
}

// Save writes the complete run state atomically. The run's counters are
// recomputed from the work package map before writing so the persisted
// projection can never drift from the source of truth.
func (s *Store) Save(run *state.Run) error {
	if run == nil {
		return fmt.Errorf("run is nil")
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	run.RecountTotals()
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run state: %w", err)
	}

	target := s.Path(run.FeatureSlug)
	tmp := target + ".tmp"

	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp) // best-effort cleanup
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Load reconstructs a run from its state file. Counters are recomputed
// on load; the work package map is authoritative.
func Load(path string) (*state.Run, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var run state.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("unmarshal run state: %w", err)
	}
	if run.WorkPackages == nil {
		run.WorkPackages = make(map[string]*state.WorkPackage)
	}
	run.RecountTotals()
	return &run, nil
}

// LoadFeature loads the run state for a feature slug from the store's
// directory.
func (s *Store) LoadFeature(featureSlug string) (*state.Run, error) {
	return Load(s.Path(featureSlug))
}
