package cmd

import (
	"github.com/spf13/cobra"

	"github.com/packflow/packflow/internal/config"
	"github.com/packflow/packflow/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted state of a feature's run",
	RunE:  runStatus,
}

var (
	statusDir     string
	statusFeature string
)

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusDir, "dir", "", "repository directory (default: current directory)")
	statusCmd.Flags().StringVar(&statusFeature, "feature", "", "feature slug (required)")
	_ = statusCmd.MarkFlagRequired("feature")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	repoRoot, err := resolveRepoRoot(statusDir)
	if err != nil {
		return err
	}

	st := store.New(resolvePath(repoRoot, cfg.Paths.StateDir))
	run, err := st.LoadFeature(statusFeature)
	if err != nil {
		return err
	}

	printStatus(cmd.OutOrStdout(), run)
	return nil
}
