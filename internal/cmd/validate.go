package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/packflow/packflow/internal/config"
	"github.com/packflow/packflow/internal/depgraph"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate work package definitions and their dependency graph",
	Long: `Validate loads every work package definition, checks the frontmatter,
and builds the dependency graph. Unknown dependency references and
dependency cycles are reported with the offending work packages.`,
	RunE: runValidate,
}

var validateDir string

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().StringVar(&validateDir, "dir", "", "repository directory (default: current directory)")
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	repoRoot, err := resolveRepoRoot(validateDir)
	if err != nil {
		return err
	}

	specs, err := loadSpecs(repoRoot, cfg)
	if err != nil {
		return err
	}

	if _, err := depgraph.Build(specs); err != nil {
		var cycleErr *depgraph.CycleError
		if errors.As(err, &cycleErr) {
			return fmt.Errorf("dependency cycle: %s", strings.Join(cycleErr.Members, " -> "))
		}
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%d work packages valid\n", len(specs))
	for _, s := range specs {
		deps := "none"
		if len(s.Dependencies) > 0 {
			deps = strings.Join(s.Dependencies, ", ")
		}
		fmt.Fprintf(out, "  %s (lane: %s, depends on: %s)\n", s.ID, s.Lane, deps)
	}
	return nil
}
