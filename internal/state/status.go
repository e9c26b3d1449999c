// Package state defines the per-work-package lifecycle state machine
// and the orchestration run record that aggregates it.
//
// A work package moves through:
//
//	pending -> in_progress -> implementation_complete -> in_review
//	in_review -> review_approved -> done            (terminal, after merge)
//	in_review -> review_rejected -> in_progress      (review cycle)
//	in_progress | in_review -> failed                (terminal)
//	review_approved -> failed                        (merge failure)
//	review_rejected -> failed                        (cycle limit exceeded)
//
// Every mutation goes through Transition, which validates legality,
// appends a history entry and stamps the per-status timestamps. The
// history is append-only and its final entry always matches the current
// status.
package state

// Status represents the lifecycle state of a work package.
type Status string

const (
	StatusPending                Status = "pending"
	StatusInProgress             Status = "in_progress"
	StatusImplementationComplete Status = "implementation_complete"
	StatusInReview               Status = "in_review"
	StatusReviewApproved         Status = "review_approved"
	StatusReviewRejected         Status = "review_rejected"
	StatusDone                   Status = "done"
	StatusFailed                 Status = "failed"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsTerminal returns true if no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed
}

// IsValid returns true if the status is a recognized value.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusImplementationComplete,
		StatusInReview, StatusReviewApproved, StatusReviewRejected,
		StatusDone, StatusFailed:
		return true
	}
	return false
}

// legalTransitions is the transition relation of the state machine.
var legalTransitions = map[Status][]Status{
	StatusPending:                {StatusInProgress},
	StatusInProgress:             {StatusImplementationComplete, StatusFailed},
	StatusImplementationComplete: {StatusInReview},
	StatusInReview:               {StatusReviewApproved, StatusReviewRejected, StatusFailed},
	StatusReviewApproved:         {StatusDone, StatusFailed},
	StatusReviewRejected:         {StatusInProgress, StatusFailed},
}

// CanTransition reports whether moving from one status to another is
// legal under the state machine.
func CanTransition(from, to Status) bool {
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
