package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gobwas/glob"
	"github.com/spf13/cobra"

	"github.com/packflow/packflow/internal/agent"
	"github.com/packflow/packflow/internal/config"
	"github.com/packflow/packflow/internal/depgraph"
	"github.com/packflow/packflow/internal/logging"
	"github.com/packflow/packflow/internal/orchestrator"
	"github.com/packflow/packflow/internal/state"
	"github.com/packflow/packflow/internal/store"
	"github.com/packflow/packflow/internal/worktree"
	"github.com/packflow/packflow/internal/wp"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a feature's work packages through implementation and review",
	Long: `Run loads the work package definitions for a feature, builds the
dependency graph, and drives every work package through implementation,
review and merge. Progress is persisted after every state transition so
an interrupted run leaves an auditable, recoverable record.`,
	RunE: runRun,
}

var (
	runDir             string
	runFeature         string
	runWPPatterns      []string
	runImplAgent       string
	runReviewAgent     string
	runMaxReviewCycles int
	runMaxParallel     int
	runDryRun          bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runDir, "dir", "", "repository directory (default: current directory)")
	runCmd.Flags().StringVar(&runFeature, "feature", "", "feature slug naming this run (required)")
	runCmd.Flags().StringSliceVar(&runWPPatterns, "wp", nil, "glob patterns selecting work packages (dependencies are pulled in automatically)")
	runCmd.Flags().StringVar(&runImplAgent, "impl-agent", "", "override the default implementation agent")
	runCmd.Flags().StringVar(&runReviewAgent, "review-agent", "", "override the default review agent")
	runCmd.Flags().IntVar(&runMaxReviewCycles, "max-review-cycles", 0, "override the review cycle limit")
	runCmd.Flags().IntVar(&runMaxParallel, "max-parallel", 0, "override the concurrency limit")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "print the execution plan without running agents")
	_ = runCmd.MarkFlagRequired("feature")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	applyRunOverrides(cfg)

	repoRoot, err := resolveRepoRoot(runDir)
	if err != nil {
		return err
	}

	specs, err := loadSpecs(repoRoot, cfg)
	if err != nil {
		return err
	}
	specs, err = selectSpecs(specs, runWPPatterns)
	if err != nil {
		return err
	}

	if runDryRun {
		return printPlan(cmd, specs)
	}

	logDir := ""
	if cfg.Logging.Enabled {
		logDir = resolvePath(repoRoot, cfg.Paths.LogDir)
	}
	log, err := logging.New(logDir, cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer log.Close()

	trees, err := worktree.NewManager(repoRoot, runFeature, cfg.Branch.Target)
	if err != nil {
		return err
	}

	runner := &agent.CLIRunner{
		ExtraArgs:      cfg.Agents.ExtraArgs,
		VerdictTimeout: cfg.Agents.VerdictTimeout(),
	}
	st := store.New(resolvePath(repoRoot, cfg.Paths.StateDir))

	lock := st.RunLock(runFeature)
	locked, err := lock.TryLock()
	if err != nil {
		return err
	}
	if !locked {
		return fmt.Errorf("another run for feature %q is already active", runFeature)
	}
	defer lock.Unlock()

	run := state.NewRun(runFeature, specs, cfg.Agents.Implementation, cfg.Agents.Review)

	schedCfg := orchestrator.Config{
		MaxParallel:     cfg.Orchestration.MaxParallel,
		MaxReviewCycles: cfg.Orchestration.MaxReviewCycles,
		TickInterval:    cfg.Orchestration.TickInterval(),
		Retry: agent.RetryPolicy{
			MaxAttempts: cfg.Agents.RetryAttempts,
			Backoff:     cfg.Agents.RetryBackoff(),
		},
	}
	sched, err := orchestrator.New(schedCfg, specs, run, runner, trees, st, log)
	if err != nil {
		return err
	}
	sched.OnEvent(func(e orchestrator.Event) {
		printEvent(cmd.OutOrStdout(), e)
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res := sched.Run(ctx)
	printSummary(cmd.OutOrStdout(), run, res)

	if res.Err != nil {
		return res.Err
	}
	if !res.Success {
		return fmt.Errorf("run finished with failures")
	}
	return nil
}

func applyRunOverrides(cfg *config.Config) {
	if runImplAgent != "" {
		cfg.Agents.Implementation = runImplAgent
	}
	if runReviewAgent != "" {
		cfg.Agents.Review = runReviewAgent
	}
	if runMaxReviewCycles > 0 {
		cfg.Orchestration.MaxReviewCycles = runMaxReviewCycles
	}
	if runMaxParallel > 0 {
		cfg.Orchestration.MaxParallel = runMaxParallel
	}
}

func resolveRepoRoot(dir string) (string, error) {
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get current directory: %w", err)
		}
		dir = cwd
	}
	return worktree.FindGitRoot(dir)
}

func resolvePath(repoRoot, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(repoRoot, path)
}

func loadSpecs(repoRoot string, cfg *config.Config) ([]*wp.Spec, error) {
	dir := resolvePath(repoRoot, cfg.Paths.WPDir)
	specs, err := wp.LoadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load work packages from %s: %w", dir, err)
	}
	return specs, nil
}

// selectSpecs filters specs by the --wp glob patterns. Dependencies of
// a selected work package are always included so the graph stays
// closed; running a work package without its prerequisites would merge
// work out of order.
func selectSpecs(specs []*wp.Spec, patterns []string) ([]*wp.Spec, error) {
	if len(patterns) == 0 {
		return specs, nil
	}

	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid --wp pattern %q: %w", p, err)
		}
		globs = append(globs, g)
	}

	byID := make(map[string]*wp.Spec, len(specs))
	for _, s := range specs {
		byID[s.ID] = s
	}

	selected := make(map[string]bool)
	var walk func(id string)
	walk = func(id string) {
		if selected[id] {
			return
		}
		selected[id] = true
		if s, ok := byID[id]; ok {
			for _, dep := range s.Dependencies {
				walk(dep)
			}
		}
	}

	for _, s := range specs {
		for _, g := range globs {
			if g.Match(s.ID) {
				walk(s.ID)
				break
			}
		}
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("no work packages match %v", patterns)
	}

	var out []*wp.Spec
	for _, s := range specs {
		if selected[s.ID] {
			out = append(out, s)
		}
	}
	return out, nil
}

// printPlan prints the execution waves a run would dispatch, without
// invoking any agents.
func printPlan(cmd *cobra.Command, specs []*wp.Spec) error {
	graph, err := depgraph.Build(specs)
	if err != nil {
		return err
	}

	statuses := make(map[string]state.Status, len(specs))
	for _, s := range specs {
		statuses[s.ID] = state.StatusPending
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Execution plan for %d work packages:\n", len(specs))
	wave := 1
	for {
		ready := graph.Ready(statuses)
		if len(ready) == 0 {
			break
		}
		fmt.Fprintf(out, "  wave %d: %v\n", wave, ready)
		for _, id := range ready {
			statuses[id] = state.StatusDone
		}
		wave++
	}
	return nil
}
