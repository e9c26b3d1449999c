// Package internal contains integration tests that verify the packages
// work together: definition loading, graph building, scheduling, state
// persistence and lane projection against real files.
package internal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/packflow/packflow/internal/agent"
	"github.com/packflow/packflow/internal/orchestrator"
	"github.com/packflow/packflow/internal/state"
	"github.com/packflow/packflow/internal/store"
	"github.com/packflow/packflow/internal/worktree"
	"github.com/packflow/packflow/internal/wp"
)

// approvingRunner approves everything after a short delay.
type approvingRunner struct {
	mu      sync.Mutex
	reject  map[string]int // remaining rejections per work package
	implRan map[string]int
}

func (r *approvingRunner) Implement(ctx context.Context, task agent.Task) error {
	r.mu.Lock()
	if r.implRan == nil {
		r.implRan = make(map[string]int)
	}
	r.implRan[task.WPID]++
	r.mu.Unlock()

	select {
	case <-time.After(5 * time.Millisecond):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *approvingRunner) Review(ctx context.Context, task agent.Task) (*agent.Verdict, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reject[task.WPID] > 0 {
		r.reject[task.WPID]--
		return &agent.Verdict{Approved: false, Reason: "rework needed"}, nil
	}
	return &agent.Verdict{Approved: true}, nil
}

// stubTrees satisfies the scheduler's worktree interface without git.
type stubTrees struct {
	mu     sync.Mutex
	merges int
}

func (s *stubTrees) Create(wpID string) (*worktree.Handle, error) {
	return &worktree.Handle{WPID: wpID, Branch: "feat-" + wpID, Path: "/tmp/" + wpID}, nil
}
func (s *stubTrees) CommitAll(path, message string) error { return nil }
func (s *stubTrees) Merge(h *worktree.Handle) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.merges++
	return fmt.Sprintf("%040d", s.merges), nil
}
func (s *stubTrees) Discard(h *worktree.Handle) error { return nil }

func writeWP(t *testing.T, dir, id string, deps []string) string {
	t.Helper()
	var front strings.Builder
	front.WriteString("---\n")
	fmt.Fprintf(&front, "work_package_id: %s\n", id)
	front.WriteString("dependencies:")
	if len(deps) == 0 {
		front.WriteString(" []\n")
	} else {
		front.WriteString("\n")
		for _, d := range deps {
			fmt.Fprintf(&front, "  - %s\n", d)
		}
	}
	front.WriteString("lane: planned\n---\n\n")
	fmt.Fprintf(&front, "Implement %s.\n", id)

	path := filepath.Join(dir, id+".md")
	if err := os.WriteFile(path, []byte(front.String()), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestFullRunRoundTrip drives a run from definition files on disk
// through the scheduler, then verifies the persisted state and the
// rewritten lanes.
func TestFullRunRoundTrip(t *testing.T) {
	wpDir := t.TempDir()
	writeWP(t, wpDir, "wp01", nil)
	writeWP(t, wpDir, "wp02", []string{"wp01"})
	writeWP(t, wpDir, "wp03", []string{"wp01"})

	specs, err := wp.LoadDir(wpDir)
	if err != nil {
		t.Fatalf("LoadDir() error = %v", err)
	}
	if len(specs) != 3 {
		t.Fatalf("loaded %d specs, want 3", len(specs))
	}

	st := store.New(filepath.Join(t.TempDir(), "runs"))
	run := state.NewRun("checkout", specs, "impl-agent", "review-agent")

	runner := &approvingRunner{reject: map[string]int{"wp02": 1}}
	cfg := orchestrator.DefaultConfig()
	cfg.TickInterval = 5 * time.Millisecond

	sched, err := orchestrator.New(cfg, specs, run, runner, &stubTrees{}, st, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	res := sched.Run(context.Background())
	if !res.Success {
		t.Fatalf("Run() failed: %v", res.Err)
	}

	// Reload from disk: the persisted record must match the outcome.
	loaded, err := st.LoadFeature("checkout")
	if err != nil {
		t.Fatalf("LoadFeature() error = %v", err)
	}
	if loaded.WPsCompleted != 3 || loaded.WPsFailed != 0 {
		t.Errorf("persisted counters = %d/%d, want 3/0", loaded.WPsCompleted, loaded.WPsFailed)
	}
	if loaded.Status != state.RunCompleted {
		t.Errorf("persisted run status = %s", loaded.Status)
	}

	w2 := loaded.WorkPackages["wp02"]
	if w2.ReviewCount != 1 {
		t.Errorf("wp02 persisted ReviewCount = %d, want 1", w2.ReviewCount)
	}
	if w2.RejectionsInHistory() != 1 {
		t.Errorf("wp02 history rejections = %d, want 1", w2.RejectionsInHistory())
	}
	if w2.MergeCommit == "" {
		t.Error("wp02 missing merge commit in persisted state")
	}

	// Lane projection must have been written back to every file.
	for _, s := range specs {
		data, err := os.ReadFile(s.Path)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(data), "lane: done\n") {
			t.Errorf("%s lane not projected to done:\n%s", s.ID, data)
		}
		if !strings.Contains(string(data), "Implement "+s.ID+".") {
			t.Errorf("%s body lost during lane rewrite", s.ID)
		}
	}
}

// TestPartialRunPersistsBlockedState verifies a failed ancestor leaves
// dependents pending on disk with lanes untouched past planning.
func TestPartialRunPersistsBlockedState(t *testing.T) {
	wpDir := t.TempDir()
	writeWP(t, wpDir, "wp01", nil)
	writeWP(t, wpDir, "wp02", []string{"wp01"})

	specs, err := wp.LoadDir(wpDir)
	if err != nil {
		t.Fatal(err)
	}

	st := store.New(filepath.Join(t.TempDir(), "runs"))
	run := state.NewRun("checkout", specs, "impl-agent", "review-agent")

	// wp01 never passes review and exhausts its cycles.
	runner := &approvingRunner{reject: map[string]int{"wp01": 100}}
	cfg := orchestrator.DefaultConfig()
	cfg.TickInterval = 5 * time.Millisecond
	cfg.MaxReviewCycles = 1

	sched, err := orchestrator.New(cfg, specs, run, runner, &stubTrees{}, st, nil)
	if err != nil {
		t.Fatal(err)
	}

	res := sched.Run(context.Background())
	if res.Success {
		t.Fatal("run should not succeed")
	}
	if len(res.Blocked) != 1 || res.Blocked[0] != "wp02" {
		t.Errorf("blocked = %v, want [wp02]", res.Blocked)
	}

	loaded, err := st.LoadFeature("checkout")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.WorkPackages["wp01"].Status != state.StatusFailed {
		t.Errorf("wp01 = %s, want failed", loaded.WorkPackages["wp01"].Status)
	}
	if loaded.WorkPackages["wp02"].Status != state.StatusPending {
		t.Errorf("wp02 = %s, want pending", loaded.WorkPackages["wp02"].Status)
	}

	// wp02 was never touched, so its lane stays planned.
	data, err := os.ReadFile(specs[1].Path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "lane: planned\n") {
		t.Errorf("wp02 lane should remain planned:\n%s", data)
	}
	// wp01 failed, which projects to the done lane.
	data, err = os.ReadFile(specs[0].Path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "lane: done\n") {
		t.Errorf("wp01 lane should be done after terminal failure:\n%s", data)
	}
}
