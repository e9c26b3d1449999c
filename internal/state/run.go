package state

import (
	"time"

	"github.com/google/uuid"

	"github.com/packflow/packflow/internal/wp"
)

// RunStatus is the terminal disposition of an orchestration run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// String returns the string representation of the run status.
func (s RunStatus) String() string {
	return string(s)
}

// Run is the top-level record for one feature's orchestration: every
// work package state plus cached counters. The WorkPackages map is the
// source of truth; the counters are a projection kept consistent by
// RecountTotals.
type Run struct {
	RunID        string                  `json:"run_id"`
	FeatureSlug  string                  `json:"feature_slug"`
	StartedAt    time.Time               `json:"started_at"`
	Status       RunStatus               `json:"status"`
	WPsTotal     int                     `json:"wps_total"`
	WPsCompleted int                     `json:"wps_completed"`
	WPsFailed    int                     `json:"wps_failed"`
	WorkPackages map[string]*WorkPackage `json:"work_packages"`
}

// NewRun creates a running Run with one pending work package per spec.
// Per-spec agent assignments override the run-level defaults.
func NewRun(featureSlug string, specs []*wp.Spec, defaultImplAgent, defaultReviewAgent string) *Run {
	run := &Run{
		RunID:        uuid.NewString(),
		FeatureSlug:  featureSlug,
		StartedAt:    time.Now().UTC(),
		Status:       RunRunning,
		WorkPackages: make(map[string]*WorkPackage, len(specs)),
	}
	for _, spec := range specs {
		impl := spec.Agent
		if impl == "" {
			impl = defaultImplAgent
		}
		review := spec.ReviewAgent
		if review == "" {
			review = defaultReviewAgent
		}
		run.WorkPackages[spec.ID] = NewWorkPackage(spec.ID, impl, review)
	}
	run.RecountTotals()
	return run
}

// RecountTotals recomputes the cached counters from the work package
// map. Called after every transition and after loading persisted state,
// so stale counters can never survive a reload.
func (r *Run) RecountTotals() {
	r.WPsTotal = len(r.WorkPackages)
	r.WPsCompleted = 0
	r.WPsFailed = 0
	for _, w := range r.WorkPackages {
		switch w.Status {
		case StatusDone:
			r.WPsCompleted++
		case StatusFailed:
			r.WPsFailed++
		}
	}
}

// Statuses returns the current status of every work package, keyed by
// ID. This is the readiness input for the dependency graph.
func (r *Run) Statuses() map[string]Status {
	statuses := make(map[string]Status, len(r.WorkPackages))
	for id, w := range r.WorkPackages {
		statuses[id] = w.Status
	}
	return statuses
}

// AllTerminal returns true once every work package is done or failed.
func (r *Run) AllTerminal() bool {
	for _, w := range r.WorkPackages {
		if !w.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// ProjectLane maps a work package status to its externally visible
// kanban lane. It is a pure function of status; the persisted
// frontmatter lane must always equal this projection.
func ProjectLane(s Status) wp.Lane {
	switch s {
	case StatusPending:
		return wp.LanePlanned
	case StatusInProgress, StatusReviewRejected:
		return wp.LaneDoing
	case StatusImplementationComplete, StatusInReview, StatusReviewApproved:
		return wp.LaneForReview
	case StatusDone, StatusFailed:
		return wp.LaneDone
	}
	return wp.LanePlanned
}
