// Package agent invokes coding agents as subprocesses and interprets
// their results. An agent is an opaque external CLI: it receives a task
// prompt, works inside an isolated workspace, and reports review
// verdicts through a sentinel file in that workspace.
package agent

import (
	"context"
	"fmt"
	"strings"
)

// Task is one unit of agent work: implement a work package or review
// the implementation sitting in a workspace.
type Task struct {
	// AgentID names the external agent binary or profile to invoke.
	AgentID string

	// WPID is the work package being worked on.
	WPID string

	// Description is the task text handed to the agent, built from the
	// work package definition.
	Description string

	// WorkspacePath is the isolated worktree the agent operates in.
	WorkspacePath string

	// Cycle counts review cycles for this work package, starting at 1.
	Cycle int

	// RejectionReason carries the previous reviewer's feedback when a
	// work package loops back for rework. Empty on the first cycle.
	RejectionReason string
}

// Verdict is the outcome of a review task.
type Verdict struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

// Runner executes agent tasks. Implementations block until the agent
// finishes or ctx is cancelled.
type Runner interface {
	// Implement runs an implementation task in the workspace.
	Implement(ctx context.Context, task Task) error

	// Review runs a review task and returns the agent's verdict.
	Review(ctx context.Context, task Task) (*Verdict, error)
}

// BuildImplementPrompt renders the prompt text for an implementation
// task. Rework cycles include the reviewer's feedback so the agent
// addresses it rather than starting over.
func BuildImplementPrompt(task Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are implementing work package %s.\n\n", task.WPID)
	b.WriteString(task.Description)
	b.WriteString("\n\nWork only inside the current directory. Commit your changes when done.\n")

	if task.RejectionReason != "" {
		fmt.Fprintf(&b, "\nA previous review rejected this implementation (cycle %d). Address the feedback below:\n\n%s\n", task.Cycle, task.RejectionReason)
	}
	return b.String()
}

// BuildReviewPrompt renders the prompt text for a review task. The
// agent is instructed to write its verdict to the sentinel file that
// ParseVerdict reads.
func BuildReviewPrompt(task Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are reviewing the implementation of work package %s.\n\n", task.WPID)
	b.WriteString("Task description:\n\n")
	b.WriteString(task.Description)
	fmt.Fprintf(&b, "\n\nExamine the changes in the current directory. When finished, write your verdict as JSON to %s:\n", VerdictFileName)
	b.WriteString(`{"approved": true}` + "\n")
	b.WriteString("or\n")
	b.WriteString(`{"approved": false, "reason": "<specific, actionable feedback>"}` + "\n")
	return b.String()
}
