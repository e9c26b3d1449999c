package orchestrator

import "time"

// EventType identifies a scheduler progress event.
type EventType string

const (
	EventWPStarted     EventType = "wp_started"
	EventWPImplemented EventType = "wp_implemented"
	EventReviewStarted EventType = "review_started"
	EventWPApproved    EventType = "wp_approved"
	EventWPRejected    EventType = "wp_rejected"
	EventWPMerged      EventType = "wp_merged"
	EventWPFailed      EventType = "wp_failed"
	EventRunFinished   EventType = "run_finished"
)

// Event is a progress notification emitted while a run executes.
// Consumers must not block; slow consumers miss events rather than
// stalling the scheduler.
type Event struct {
	Type      EventType
	WPID      string
	Cycle     int
	Reason    string
	Commit    string
	Timestamp time.Time
}

// emit delivers an event to the callback and the event channel. The
// channel send never blocks.
func (s *Scheduler) emit(e Event) {
	e.Timestamp = time.Now().UTC()
	if s.callback != nil {
		s.callback(e)
	}
	select {
	case s.events <- e:
	default:
	}
}

// Events returns the buffered event stream for this scheduler.
func (s *Scheduler) Events() <-chan Event {
	return s.events
}

// OnEvent registers a synchronous event callback. Must be called
// before Run starts.
func (s *Scheduler) OnEvent(fn func(Event)) {
	s.callback = fn
}
