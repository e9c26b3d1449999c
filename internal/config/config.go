// Package config defines the packflow configuration surface, loaded
// via viper from .packflow.yaml and PACKFLOW_* environment variables.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete packflow configuration.
type Config struct {
	Orchestration OrchestrationConfig `mapstructure:"orchestration"`
	Agents        AgentsConfig        `mapstructure:"agents"`
	Branch        BranchConfig        `mapstructure:"branch"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Paths         PathsConfig         `mapstructure:"paths"`
}

// OrchestrationConfig controls scheduler behavior.
type OrchestrationConfig struct {
	// MaxParallel is the maximum number of work packages driven
	// concurrently (default: 3)
	MaxParallel int `mapstructure:"max_parallel"`
	// MaxReviewCycles bounds review rejections per work package before
	// it is failed (default: 3)
	MaxReviewCycles int `mapstructure:"max_review_cycles"`
	// TickIntervalMs is the readiness polling cadence in milliseconds
	// (default: 100)
	TickIntervalMs int `mapstructure:"tick_interval_ms"`
}

// AgentsConfig controls how implementation and review agents are
// selected and invoked.
type AgentsConfig struct {
	// Implementation is the default implementation agent command.
	// Individual work packages may override it in their frontmatter.
	Implementation string `mapstructure:"implementation"`
	// Review is the default review agent command.
	Review string `mapstructure:"review"`
	// ExtraArgs are passed to every agent invocation.
	ExtraArgs []string `mapstructure:"extra_args"`
	// RetryAttempts is the total number of attempts per agent
	// invocation, including the first (default: 1, no retry)
	RetryAttempts int `mapstructure:"retry_attempts"`
	// RetryBackoffMs is the pause between retry attempts in
	// milliseconds (default: 2000)
	RetryBackoffMs int `mapstructure:"retry_backoff_ms"`
	// VerdictTimeoutSeconds is how long to wait for the review verdict
	// file after the review agent exits (default: 30)
	VerdictTimeoutSeconds int `mapstructure:"verdict_timeout_seconds"`
}

// BranchConfig controls git integration.
type BranchConfig struct {
	// Target is the integration branch approved work merges into.
	// Empty means the repository's main branch.
	Target string `mapstructure:"target"`
}

// LoggingConfig controls the structured run log.
type LoggingConfig struct {
	// Enabled controls whether the run log is written (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error"
	// (default: "info")
	Level string `mapstructure:"level"`
}

// PathsConfig controls where packflow stores data, relative to the
// repository root unless absolute.
type PathsConfig struct {
	// StateDir holds persisted run state (default: ".packflow/runs")
	StateDir string `mapstructure:"state_dir"`
	// LogDir holds the run log (default: ".packflow/logs")
	LogDir string `mapstructure:"log_dir"`
	// WPDir is where work package definition files live
	// (default: "work_packages")
	WPDir string `mapstructure:"wp_dir"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Orchestration: OrchestrationConfig{
			MaxParallel:     3,
			MaxReviewCycles: 3,
			TickIntervalMs:  100,
		},
		Agents: AgentsConfig{
			Implementation:        "claude",
			Review:                "claude",
			ExtraArgs:             []string{},
			RetryAttempts:         1,
			RetryBackoffMs:        2000,
			VerdictTimeoutSeconds: 30,
		},
		Branch: BranchConfig{
			Target: "",
		},
		Logging: LoggingConfig{
			Enabled: true,
			Level:   "info",
		},
		Paths: PathsConfig{
			StateDir: ".packflow/runs",
			LogDir:   ".packflow/logs",
			WPDir:    "work_packages",
		},
	}
}

// TickInterval returns the polling cadence as a time.Duration.
func (c *OrchestrationConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMs) * time.Millisecond
}

// RetryBackoff returns the retry backoff as a time.Duration.
func (c *AgentsConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMs) * time.Millisecond
}

// VerdictTimeout returns the verdict wait as a time.Duration.
func (c *AgentsConfig) VerdictTimeout() time.Duration {
	return time.Duration(c.VerdictTimeoutSeconds) * time.Second
}

// SetDefaults registers default values with viper.
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("orchestration.max_parallel", defaults.Orchestration.MaxParallel)
	viper.SetDefault("orchestration.max_review_cycles", defaults.Orchestration.MaxReviewCycles)
	viper.SetDefault("orchestration.tick_interval_ms", defaults.Orchestration.TickIntervalMs)

	viper.SetDefault("agents.implementation", defaults.Agents.Implementation)
	viper.SetDefault("agents.review", defaults.Agents.Review)
	viper.SetDefault("agents.extra_args", defaults.Agents.ExtraArgs)
	viper.SetDefault("agents.retry_attempts", defaults.Agents.RetryAttempts)
	viper.SetDefault("agents.retry_backoff_ms", defaults.Agents.RetryBackoffMs)
	viper.SetDefault("agents.verdict_timeout_seconds", defaults.Agents.VerdictTimeoutSeconds)

	viper.SetDefault("branch.target", defaults.Branch.Target)

	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)

	viper.SetDefault("paths.state_dir", defaults.Paths.StateDir)
	viper.SetDefault("paths.log_dir", defaults.Paths.LogDir)
	viper.SetDefault("paths.wp_dir", defaults.Paths.WPDir)
}

// Load reads the configuration from viper into a Config struct and
// validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}
