// Package orchestrator schedules work packages across concurrent agent
// drivers. A single scheduler loop computes the ready set from the
// dependency graph and dispatches one driver goroutine per ready work
// package, bounded by the parallelism limit. Each driver owns its work
// package's state machine end to end: worktree acquisition,
// implementation, review cycles, and the serialized merge.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/packflow/packflow/internal/agent"
	"github.com/packflow/packflow/internal/depgraph"
	"github.com/packflow/packflow/internal/logging"
	"github.com/packflow/packflow/internal/state"
	"github.com/packflow/packflow/internal/worktree"
	"github.com/packflow/packflow/internal/wp"
)

// orchestratorActor is the history attribution for transitions the
// scheduler performs itself rather than on behalf of an agent.
const orchestratorActor = "packflow"

// Config holds scheduler tunables.
type Config struct {
	// MaxParallel bounds the number of concurrently running drivers.
	MaxParallel int

	// MaxReviewCycles bounds review rejections per work package. A
	// rejection that pushes the count past this limit fails the work
	// package instead of looping.
	MaxReviewCycles int

	// TickInterval is the readiness polling cadence.
	TickInterval time.Duration

	// Retry governs transient agent invocation retries.
	Retry agent.RetryPolicy
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		MaxParallel:     3,
		MaxReviewCycles: 3,
		TickInterval:    100 * time.Millisecond,
		Retry:           agent.DefaultRetryPolicy(),
	}
}

// WorktreeManager is the workspace isolation layer the scheduler
// drives. Satisfied by *worktree.Manager.
type WorktreeManager interface {
	Create(wpID string) (*worktree.Handle, error)
	CommitAll(path, message string) error
	Merge(h *worktree.Handle) (string, error)
	Discard(h *worktree.Handle) error
}

// Persister durably records the run after every transition. Satisfied
// by *store.Store.
type Persister interface {
	Save(run *state.Run) error
}

// Result is the outcome of a completed run.
type Result struct {
	// Success is true when every work package reached done.
	Success bool

	// Completed, Failed and Blocked partition the non-done outcomes:
	// Blocked work packages stayed pending behind a failed ancestor.
	Completed []string
	Failed    []string
	Blocked   []string

	// WorkPackages is the final per-work-package state.
	WorkPackages map[string]*state.WorkPackage

	// Err is set when the run aborted (persistence failure or
	// cancellation) rather than running to quiescence.
	Err error
}

// Scheduler coordinates one orchestration run.
type Scheduler struct {
	cfg       Config
	specs     map[string]*wp.Spec
	graph     *depgraph.Graph
	run       *state.Run
	runner    agent.Runner
	worktrees WorktreeManager
	persister Persister
	writeLane func(path string, lane wp.Lane) error
	log       *logging.Logger

	mu         sync.Mutex
	dispatched map[string]bool
	inflight   int
	fatalErr   error

	events   chan Event
	callback func(Event)
	wg       sync.WaitGroup
}

// New creates a scheduler for the given specs and run state. The
// dependency graph is built here; cycle and unknown-reference errors
// abort before any work package starts.
func New(cfg Config, specs []*wp.Spec, run *state.Run, runner agent.Runner, worktrees WorktreeManager, persister Persister, log *logging.Logger) (*Scheduler, error) {
	graph, err := depgraph.Build(specs)
	if err != nil {
		return nil, err
	}

	if cfg.MaxParallel < 1 {
		cfg.MaxParallel = 1
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 100 * time.Millisecond
	}
	if log == nil {
		log = logging.Nop()
	}

	specsByID := make(map[string]*wp.Spec, len(specs))
	for _, s := range specs {
		specsByID[s.ID] = s
	}

	return &Scheduler{
		cfg:        cfg,
		specs:      specsByID,
		graph:      graph,
		run:        run,
		runner:     runner,
		worktrees:  worktrees,
		persister:  persister,
		writeLane:  wp.WriteLane,
		log:        log.WithRun(run.RunID),
		dispatched: make(map[string]bool),
		events:     make(chan Event, 64),
	}, nil
}

// Run executes the orchestration until every work package is terminal
// or no further progress is possible. Cancelling ctx stops dispatching
// new work packages; in-flight drivers stop at their next transition
// point.
func (s *Scheduler) Run(ctx context.Context) *Result {
	s.log.Info("run started",
		"feature", s.run.FeatureSlug,
		"wps", s.run.WPsTotal,
		"max_parallel", s.cfg.MaxParallel,
		"max_review_cycles", s.cfg.MaxReviewCycles)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	var runErr error
loop:
	for {
		if err := s.fatal(); err != nil {
			runErr = err
			break
		}

		s.dispatchReady(ctx)

		if s.quiescent() {
			break
		}

		select {
		case <-ctx.Done():
			runErr = ctx.Err()
			break loop
		case <-ticker.C:
		}
	}

	s.wg.Wait()
	if runErr == nil {
		runErr = s.fatal()
	}

	return s.finish(runErr)
}

// dispatchReady starts a driver for every ready, not-yet-dispatched
// work package while capacity remains.
func (s *Scheduler) dispatchReady(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fatalErr != nil {
		return
	}

	for _, id := range s.graph.Ready(s.run.Statuses()) {
		if s.dispatched[id] {
			continue
		}
		if s.inflight >= s.cfg.MaxParallel {
			return
		}

		s.dispatched[id] = true
		s.inflight++
		s.wg.Add(1)
		go func(id string) {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				s.inflight--
				s.mu.Unlock()
			}()
			s.drive(ctx, id)
		}(id)
	}
}

// quiescent reports whether the run can make no further progress: all
// work packages terminal, or nothing running and nothing ready (the
// remaining pending work packages sit behind a failed ancestor).
func (s *Scheduler) quiescent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run.AllTerminal() {
		return true
	}
	if s.inflight > 0 {
		return false
	}
	return len(s.graph.Ready(s.run.Statuses())) == 0
}

func (s *Scheduler) fatal() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatalErr
}

// drive runs one work package through its whole lifecycle.
func (s *Scheduler) drive(ctx context.Context, id string) {
	spec := s.specs[id]
	w := s.run.WorkPackages[id]
	log := s.log.WithWP(id)

	if err := s.transition(w, spec, state.StatusInProgress, w.ImplementationAgent); err != nil {
		log.Error("failed to start work package", "error", err)
		return
	}
	s.emit(Event{Type: EventWPStarted, WPID: id, Cycle: 1})
	log.WithPhase("implement").Info("work package started", "agent", w.ImplementationAgent)

	handle, err := s.worktrees.Create(id)
	if err != nil {
		s.failWP(w, spec, nil, fmt.Sprintf("worktree creation failed: %v", err), log)
		return
	}

	for {
		cycle := w.ReviewCount + 1

		implTask := agent.Task{
			AgentID:         w.ImplementationAgent,
			WPID:            id,
			Description:     spec.TaskDescription(),
			WorkspacePath:   handle.Path,
			Cycle:           cycle,
			RejectionReason: w.RejectionReason,
		}
		err := s.cfg.Retry.Do(ctx, func(ctx context.Context) error {
			return s.runner.Implement(ctx, implTask)
		})
		if ctx.Err() != nil {
			log.Warn("run cancelled mid-implementation, leaving state as persisted")
			return
		}
		if err != nil {
			s.failWP(w, spec, handle, fmt.Sprintf("implementation failed: %v", err), log)
			return
		}

		// Agents are asked to commit; pick up anything they left
		// uncommitted so the review and merge see the full change.
		if err := s.worktrees.CommitAll(handle.Path, fmt.Sprintf("%s: implementation (cycle %d)", id, cycle)); err != nil {
			s.failWP(w, spec, handle, fmt.Sprintf("failed to commit implementation: %v", err), log)
			return
		}

		if err := s.transition(w, spec, state.StatusImplementationComplete, w.ImplementationAgent); err != nil {
			log.Error("transition failed", "error", err)
			return
		}
		s.emit(Event{Type: EventWPImplemented, WPID: id, Cycle: cycle})

		if err := s.transition(w, spec, state.StatusInReview, w.ReviewAgent); err != nil {
			log.Error("transition failed", "error", err)
			return
		}
		s.emit(Event{Type: EventReviewStarted, WPID: id, Cycle: cycle})
		log.WithPhase("review").Info("review started", "agent", w.ReviewAgent, "cycle", cycle)

		reviewTask := agent.Task{
			AgentID:       w.ReviewAgent,
			WPID:          id,
			Description:   spec.TaskDescription(),
			WorkspacePath: handle.Path,
			Cycle:         cycle,
		}
		var verdict *agent.Verdict
		err = s.cfg.Retry.Do(ctx, func(ctx context.Context) error {
			var rerr error
			verdict, rerr = s.runner.Review(ctx, reviewTask)
			return rerr
		})
		if ctx.Err() != nil {
			log.Warn("run cancelled mid-review, leaving state as persisted")
			return
		}
		if err != nil {
			s.failWP(w, spec, handle, fmt.Sprintf("review failed: %v", err), log)
			return
		}

		if verdict.Approved {
			if err := s.transition(w, spec, state.StatusReviewApproved, w.ReviewAgent); err != nil {
				log.Error("transition failed", "error", err)
				return
			}
			s.emit(Event{Type: EventWPApproved, WPID: id, Cycle: cycle})

			commit, err := s.worktrees.Merge(handle)
			if err != nil {
				s.failWP(w, spec, handle, fmt.Sprintf("merge failed: %v", err), log)
				return
			}

			if err := s.transition(w, spec, state.StatusDone, orchestratorActor, state.WithMergeCommit(commit)); err != nil {
				log.Error("transition failed", "error", err)
				return
			}
			s.emit(Event{Type: EventWPMerged, WPID: id, Cycle: cycle, Commit: commit})
			log.WithPhase("merge").Info("work package merged", "commit", commit, "cycles", cycle)
			return
		}

		if err := s.transition(w, spec, state.StatusReviewRejected, w.ReviewAgent, state.WithReason(verdict.Reason)); err != nil {
			log.Error("transition failed", "error", err)
			return
		}
		s.emit(Event{Type: EventWPRejected, WPID: id, Cycle: cycle, Reason: verdict.Reason})
		log.WithPhase("review").Info("review rejected", "cycle", cycle, "reason", verdict.Reason)

		if w.ReviewCount > s.cfg.MaxReviewCycles {
			if err := s.transition(w, spec, state.StatusFailed, orchestratorActor, state.WithReason("max review cycles exceeded")); err != nil {
				log.Error("transition failed", "error", err)
				return
			}
			if derr := s.worktrees.Discard(handle); derr != nil {
				log.Warn("failed to discard worktree", "error", derr)
			}
			s.emit(Event{Type: EventWPFailed, WPID: id, Cycle: cycle, Reason: "max review cycles exceeded"})
			log.Error("work package failed", "reason", "max review cycles exceeded")
			return
		}

		if err := s.transition(w, spec, state.StatusInProgress, w.ImplementationAgent); err != nil {
			log.Error("transition failed", "error", err)
			return
		}
		s.emit(Event{Type: EventWPStarted, WPID: id, Cycle: w.ReviewCount + 1})
	}
}

// failWP records a terminal failure for a work package and discards
// its worktree.
func (s *Scheduler) failWP(w *state.WorkPackage, spec *wp.Spec, handle *worktree.Handle, reason string, log *logging.Logger) {
	if err := s.transition(w, spec, state.StatusFailed, orchestratorActor, state.WithReason(reason)); err != nil {
		log.Error("failed to record failure", "error", err)
	}
	if handle != nil {
		if err := s.worktrees.Discard(handle); err != nil {
			log.Warn("failed to discard worktree", "error", err)
		}
	}
	s.emit(Event{Type: EventWPFailed, WPID: w.ID, Reason: reason})
	log.Error("work package failed", "reason", reason)
}

// transition applies a state machine transition, persists the run, and
// projects the new status into the definition file's lane. The state
// mutation and the persist are atomic with respect to other drivers. A
// persist failure is fatal to the run: in-memory state must never
// advance past what is durably recorded.
func (s *Scheduler) transition(w *state.WorkPackage, spec *wp.Spec, to state.Status, actor string, opts ...state.TransitionOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fatalErr != nil {
		return s.fatalErr
	}

	if err := w.Transition(to, actor, opts...); err != nil {
		return err
	}

	if err := s.persister.Save(s.run); err != nil {
		s.fatalErr = fmt.Errorf("persistence failure: %w", err)
		return s.fatalErr
	}

	if spec != nil && spec.Path != "" {
		if err := s.writeLane(spec.Path, state.ProjectLane(to)); err != nil {
			// The lane is a projection of persisted state; a write
			// failure degrades the kanban view but not the run.
			s.log.Warn("failed to update lane", "wp", w.ID, "error", err)
		}
	}
	return nil
}

// finish settles the run record, persists it one last time, and builds
// the result.
func (s *Scheduler) finish(runErr error) *Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := s.run.Statuses()
	blocked := s.graph.Blocked(statuses)

	res := &Result{
		WorkPackages: s.run.WorkPackages,
		Blocked:      blocked,
		Err:          runErr,
	}
	for _, id := range s.graph.IDs() {
		switch statuses[id] {
		case state.StatusDone:
			res.Completed = append(res.Completed, id)
		case state.StatusFailed:
			res.Failed = append(res.Failed, id)
		}
	}
	res.Success = runErr == nil && len(res.Failed) == 0 && len(res.Completed) == s.run.WPsTotal

	if res.Success {
		s.run.Status = state.RunCompleted
	} else {
		s.run.Status = state.RunFailed
	}
	if s.fatalErr == nil {
		if err := s.persister.Save(s.run); err != nil {
			s.log.Error("failed to persist final run state", "error", err)
			if res.Err == nil {
				res.Err = err
				res.Success = false
			}
		}
	}

	s.emit(Event{Type: EventRunFinished})
	s.log.Info("run finished",
		"success", res.Success,
		"completed", len(res.Completed),
		"failed", len(res.Failed),
		"blocked", len(res.Blocked))
	return res
}
