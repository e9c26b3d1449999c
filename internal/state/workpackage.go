package state

import (
	"fmt"
	"time"
)

// HistoryEntry records one state machine transition.
type HistoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	From      Status    `json:"from_status"`
	To        Status    `json:"to_status"`
	Agent     string    `json:"agent,omitempty"`
}

// WorkPackage is the mutable lifecycle record for one work package.
// It is owned exclusively by the scheduler while a run is active;
// persistence and lane projection only read it.
type WorkPackage struct {
	ID                  string `json:"wp_id"`
	Status              Status `json:"status"`
	ImplementationAgent string `json:"implementation_agent"`
	ReviewAgent         string `json:"review_agent"`

	// ReviewCount is the number of review rejections so far. It always
	// equals the number of review_rejected entries in History.
	ReviewCount int `json:"review_count"`

	StartedAt                 *time.Time `json:"started_at,omitempty"`
	ImplementationCompletedAt *time.Time `json:"implementation_completed_at,omitempty"`
	ReviewStartedAt           *time.Time `json:"review_started_at,omitempty"`
	ReviewCompletedAt         *time.Time `json:"review_completed_at,omitempty"`
	MergedAt                  *time.Time `json:"merged_at,omitempty"`

	RejectionReason string `json:"rejection_reason,omitempty"`
	FailureReason   string `json:"failure_reason,omitempty"`
	MergeCommit     string `json:"merge_commit,omitempty"`

	// History is append-only and monotonically non-decreasing in
	// timestamp; its final entry's To always equals Status.
	History []HistoryEntry `json:"history"`
}

// NewWorkPackage creates a pending work package state.
func NewWorkPackage(id, implementationAgent, reviewAgent string) *WorkPackage {
	return &WorkPackage{
		ID:                  id,
		Status:              StatusPending,
		ImplementationAgent: implementationAgent,
		ReviewAgent:         reviewAgent,
		History:             make([]HistoryEntry, 0),
	}
}

// TransitionOption adjusts the side effects of a transition.
type TransitionOption func(*transitionOpts)

type transitionOpts struct {
	reason      string
	mergeCommit string
}

// WithReason records a rejection or failure reason alongside the
// transition. Applied to review_rejected as RejectionReason and to
// failed as FailureReason.
func WithReason(reason string) TransitionOption {
	return func(o *transitionOpts) { o.reason = reason }
}

// WithMergeCommit records the merge commit hash on the done transition.
func WithMergeCommit(hash string) TransitionOption {
	return func(o *transitionOpts) { o.mergeCommit = hash }
}

// Transition moves the work package to a new status, appending a
// history entry attributed to the acting agent and stamping the
// timestamp field that corresponds to the new status. It returns an
// error for transitions the state machine does not permit; the work
// package is left unchanged in that case.
func (w *WorkPackage) Transition(to Status, agent string, opts ...TransitionOption) error {
	if !CanTransition(w.Status, to) {
		return fmt.Errorf("illegal transition for %s: %s -> %s", w.ID, w.Status, to)
	}

	var o transitionOpts
	for _, opt := range opts {
		opt(&o)
	}

	now := time.Now().UTC()
	from := w.Status
	w.Status = to
	w.History = append(w.History, HistoryEntry{
		Timestamp: now,
		From:      from,
		To:        to,
		Agent:     agent,
	})

	switch to {
	case StatusInProgress:
		if w.StartedAt == nil {
			w.StartedAt = &now
		}
	case StatusImplementationComplete:
		w.ImplementationCompletedAt = &now
	case StatusInReview:
		w.ReviewStartedAt = &now
	case StatusReviewApproved:
		w.ReviewCompletedAt = &now
	case StatusReviewRejected:
		w.ReviewCompletedAt = &now
		w.ReviewCount++
		if o.reason != "" {
			w.RejectionReason = o.reason
		}
	case StatusDone:
		w.MergedAt = &now
		if o.mergeCommit != "" {
			w.MergeCommit = o.mergeCommit
		}
	case StatusFailed:
		if o.reason != "" {
			w.FailureReason = o.reason
		}
	}

	return nil
}

// RejectionsInHistory counts the review_rejected transitions recorded
// in the history. It always equals ReviewCount.
func (w *WorkPackage) RejectionsInHistory() int {
	n := 0
	for _, h := range w.History {
		if h.To == StatusReviewRejected {
			n++
		}
	}
	return n
}
