package cmd

import (
	"fmt"
	"io"
	"sort"

	"github.com/charmbracelet/lipgloss"

	"github.com/packflow/packflow/internal/orchestrator"
	"github.com/packflow/packflow/internal/state"
)

var (
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	workingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	headerStyle  = lipgloss.NewStyle().Bold(true)
)

func statusStyle(s state.Status) lipgloss.Style {
	switch s {
	case state.StatusDone:
		return doneStyle
	case state.StatusFailed:
		return failedStyle
	case state.StatusPending:
		return pendingStyle
	default:
		return workingStyle
	}
}

// printEvent renders one scheduler event as a progress line.
func printEvent(w io.Writer, e orchestrator.Event) {
	switch e.Type {
	case orchestrator.EventWPStarted:
		fmt.Fprintf(w, "%s %s implementation started (cycle %d)\n", workingStyle.Render("▶"), e.WPID, e.Cycle)
	case orchestrator.EventReviewStarted:
		fmt.Fprintf(w, "%s %s review started (cycle %d)\n", workingStyle.Render("◆"), e.WPID, e.Cycle)
	case orchestrator.EventWPRejected:
		fmt.Fprintf(w, "%s %s rejected: %s\n", failedStyle.Render("✗"), e.WPID, e.Reason)
	case orchestrator.EventWPMerged:
		fmt.Fprintf(w, "%s %s merged (%s)\n", doneStyle.Render("✓"), e.WPID, shortCommit(e.Commit))
	case orchestrator.EventWPFailed:
		fmt.Fprintf(w, "%s %s failed: %s\n", failedStyle.Render("✗"), e.WPID, e.Reason)
	}
}

// printSummary renders the end-of-run report.
func printSummary(w io.Writer, run *state.Run, res *orchestrator.Result) {
	fmt.Fprintln(w)
	if res.Success {
		fmt.Fprintln(w, doneStyle.Render("Run completed")+dimStyle.Render(" ("+run.RunID+")"))
	} else {
		fmt.Fprintln(w, failedStyle.Render("Run finished with failures")+dimStyle.Render(" ("+run.RunID+")"))
	}
	fmt.Fprintf(w, "  done %d / failed %d / blocked %d of %d\n",
		len(res.Completed), len(res.Failed), len(res.Blocked), run.WPsTotal)

	printWorkPackages(w, run)

	if len(res.Blocked) > 0 {
		fmt.Fprintf(w, "\n%s %v never started: a dependency failed\n", pendingStyle.Render("blocked:"), res.Blocked)
	}
}

// printStatus renders a persisted run for the status command.
func printStatus(w io.Writer, run *state.Run) {
	fmt.Fprintf(w, "%s %s\n", headerStyle.Render("feature:"), run.FeatureSlug)
	fmt.Fprintf(w, "%s %s\n", headerStyle.Render("run:"), run.RunID)
	fmt.Fprintf(w, "%s %s, started %s\n", headerStyle.Render("status:"), run.Status, run.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "%s %d done, %d failed, %d total\n\n",
		headerStyle.Render("progress:"), run.WPsCompleted, run.WPsFailed, run.WPsTotal)

	printWorkPackages(w, run)
}

func printWorkPackages(w io.Writer, run *state.Run) {
	ids := make([]string, 0, len(run.WorkPackages))
	for id := range run.WorkPackages {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		pkg := run.WorkPackages[id]
		line := fmt.Sprintf("  %-8s %s", id, statusStyle(pkg.Status).Render(string(pkg.Status)))
		if pkg.ReviewCount > 0 {
			line += dimStyle.Render(fmt.Sprintf("  rejections: %d", pkg.ReviewCount))
		}
		if pkg.MergeCommit != "" {
			line += dimStyle.Render("  " + shortCommit(pkg.MergeCommit))
		}
		if pkg.FailureReason != "" {
			line += failedStyle.Render("  " + pkg.FailureReason)
		}
		fmt.Fprintln(w, line)
	}
}

func shortCommit(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
