package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/packflow/packflow/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "packflow",
	Short: "Multi-agent work package orchestrator",
	Long: `Packflow orchestrates teams of coding agents that jointly implement a
feature broken into work packages. Work packages declare dependencies on
each other; packflow runs them in dependency order, isolates each one in
its own git worktree, cycles rejected work back through review, and
merges approved work into the integration branch.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is .packflow.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	// Defaults first so they're available even without a config file.
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(".packflow")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/packflow")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("PACKFLOW")
	// PACKFLOW_ORCHESTRATION_MAX_PARALLEL for orchestration.max_parallel
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	_ = viper.ReadInConfig()
}
