package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/packflow/packflow/internal/state"
	"github.com/packflow/packflow/internal/wp"
)

func makeRun(t *testing.T) *state.Run {
	t.Helper()
	specs := []*wp.Spec{{ID: "WP01"}, {ID: "WP02", Dependencies: []string{"WP01"}}}
	run := state.NewRun("auth-feature", specs, "impl", "rev")

	w := run.WorkPackages["WP01"]
	for _, s := range []state.Status{
		state.StatusInProgress, state.StatusImplementationComplete,
		state.StatusInReview, state.StatusReviewRejected,
	} {
		if err := w.Transition(s, "agent", state.WithReason("needs work")); err != nil {
			t.Fatalf("transition to %s: %v", s, err)
		}
	}
	return run
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	run := makeRun(t)

	if err := s.Save(run); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(s.Path("auth-feature"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if loaded.RunID != run.RunID || loaded.FeatureSlug != run.FeatureSlug {
		t.Errorf("identity fields diverged: %s/%s", loaded.RunID, loaded.FeatureSlug)
	}
	if !reflect.DeepEqual(loaded.Statuses(), run.Statuses()) {
		t.Errorf("statuses diverged: %v vs %v", loaded.Statuses(), run.Statuses())
	}

	w, lw := run.WorkPackages["WP01"], loaded.WorkPackages["WP01"]
	if lw.ReviewCount != w.ReviewCount {
		t.Errorf("ReviewCount = %d, want %d", lw.ReviewCount, w.ReviewCount)
	}
	if lw.RejectionReason != "needs work" {
		t.Errorf("RejectionReason = %q", lw.RejectionReason)
	}
	if len(lw.History) != len(w.History) {
		t.Fatalf("history length = %d, want %d", len(lw.History), len(w.History))
	}
	for i := range w.History {
		if lw.History[i].From != w.History[i].From || lw.History[i].To != w.History[i].To {
			t.Errorf("history[%d] diverged", i)
		}
		if !lw.History[i].Timestamp.Equal(w.History[i].Timestamp) {
			t.Errorf("history[%d] timestamp diverged", i)
		}
	}
}

func TestSaveAtomic(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	if err := s.Save(makeRun(t)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "auth-feature.json.tmp")); !os.IsNotExist(err) {
		t.Error("temp file should be removed after atomic rename")
	}
}

func TestSaveRecountsCounters(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	run := makeRun(t)
	run.WPsCompleted = 99 // stale projection; the map is the source of truth

	if err := s.Save(run); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := s.LoadFeature("auth-feature")
	if err != nil {
		t.Fatalf("LoadFeature: %v", err)
	}
	if loaded.WPsCompleted != 0 {
		t.Errorf("WPsCompleted = %d, want 0 after recount", loaded.WPsCompleted)
	}
}

func TestTimestampsPersistAsUTCISO8601(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	if err := s.Save(makeRun(t)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(s.Path("auth-feature"))
	if err != nil {
		t.Fatalf("read state file: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("state file is not valid JSON: %v", err)
	}
	started, _ := doc["started_at"].(string)
	if !strings.HasSuffix(started, "Z") {
		t.Errorf("started_at = %q, want UTC ISO-8601 with Z suffix", started)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("Load of missing file should fail")
	}
}

func TestLoadCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load of corrupt file should fail")
	}
}

func TestSaveToUnwritableDirectory(t *testing.T) {
	s := New("/proc/nonexistent/state")
	if err := s.Save(makeRun(t)); err == nil {
		t.Error("Save into unwritable directory should fail")
	}
}
