package agent

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// promptFileName is where the rendered task prompt is staged inside
// the workspace before launching the agent.
const promptFileName = ".packflow-prompt.md"

// CLIRunner runs agent tasks by invoking an external CLI binary in
// non-interactive mode inside the workspace directory. The task AgentID
// selects the binary; extra args come from configuration.
type CLIRunner struct {
	// ExtraArgs are appended to every invocation (e.g. permission or
	// output-mode flags for the agent binary).
	ExtraArgs []string

	// VerdictTimeout bounds how long Review waits for the verdict
	// sentinel after the agent process exits. Zero means no wait: the
	// sentinel must exist when the process exits.
	VerdictTimeout time.Duration
}

// Implement runs an implementation task to completion.
func (r *CLIRunner) Implement(ctx context.Context, task Task) error {
	prompt := BuildImplementPrompt(task)
	if err := r.run(ctx, task, prompt); err != nil {
		return fmt.Errorf("implementation agent failed for %s: %w", task.WPID, err)
	}
	return nil
}

// Review runs a review task and collects the verdict from the sentinel
// file. A stale sentinel from a previous cycle is cleared first.
func (r *CLIRunner) Review(ctx context.Context, task Task) (*Verdict, error) {
	if err := RemoveVerdict(task.WorkspacePath); err != nil {
		return nil, fmt.Errorf("failed to clear stale verdict for %s: %w", task.WPID, err)
	}

	prompt := BuildReviewPrompt(task)
	if err := r.run(ctx, task, prompt); err != nil {
		return nil, fmt.Errorf("review agent failed for %s: %w", task.WPID, err)
	}

	// Some agents flush the sentinel slightly after process exit.
	if r.VerdictTimeout > 0 {
		if err := WaitForFile(ctx, VerdictFilePath(task.WorkspacePath), r.VerdictTimeout); err != nil {
			return nil, fmt.Errorf("review agent for %s exited without a verdict: %w", task.WPID, err)
		}
	}

	verdict, err := ParseVerdict(task.WorkspacePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read verdict for %s: %w", task.WPID, err)
	}
	return verdict, nil
}

// run stages the prompt file and executes the agent binary in the
// workspace, blocking until it exits.
func (r *CLIRunner) run(ctx context.Context, task Task, prompt string) error {
	if task.AgentID == "" {
		return fmt.Errorf("no agent configured")
	}
	if task.WorkspacePath == "" {
		return fmt.Errorf("no workspace path")
	}

	promptPath := filepath.Join(task.WorkspacePath, promptFileName)
	if err := os.WriteFile(promptPath, []byte(prompt), 0644); err != nil {
		return fmt.Errorf("failed to stage prompt file: %w", err)
	}
	defer os.Remove(promptPath)

	args := append([]string{}, r.ExtraArgs...)
	args = append(args, prompt)

	cmd := exec.CommandContext(ctx, task.AgentID, args...)
	cmd.Dir = task.WorkspacePath
	if output, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("agent %s exited with error: %w\n%s", task.AgentID, err, tail(output, 2048))
	}
	return nil
}

// tail returns the last n bytes of output so errors stay readable.
func tail(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return "..." + string(b[len(b)-n:])
}
