package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure.
type ValidationError struct {
	Field   string // The config field path (e.g., "orchestration.max_parallel")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels.
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all
// validation errors found.
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	if c.Orchestration.MaxParallel < 1 {
		errors = append(errors, ValidationError{
			Field:   "orchestration.max_parallel",
			Value:   c.Orchestration.MaxParallel,
			Message: "must be at least 1",
		})
	}
	if c.Orchestration.MaxReviewCycles < 0 {
		errors = append(errors, ValidationError{
			Field:   "orchestration.max_review_cycles",
			Value:   c.Orchestration.MaxReviewCycles,
			Message: "must be non-negative",
		})
	}
	if c.Orchestration.TickIntervalMs < 1 {
		errors = append(errors, ValidationError{
			Field:   "orchestration.tick_interval_ms",
			Value:   c.Orchestration.TickIntervalMs,
			Message: "must be at least 1",
		})
	}

	if c.Agents.Implementation == "" {
		errors = append(errors, ValidationError{
			Field:   "agents.implementation",
			Value:   c.Agents.Implementation,
			Message: "must not be empty",
		})
	}
	if c.Agents.Review == "" {
		errors = append(errors, ValidationError{
			Field:   "agents.review",
			Value:   c.Agents.Review,
			Message: "must not be empty",
		})
	}
	if c.Agents.RetryAttempts < 1 {
		errors = append(errors, ValidationError{
			Field:   "agents.retry_attempts",
			Value:   c.Agents.RetryAttempts,
			Message: "must be at least 1",
		})
	}
	if c.Agents.RetryBackoffMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "agents.retry_backoff_ms",
			Value:   c.Agents.RetryBackoffMs,
			Message: "must be non-negative",
		})
	}
	if c.Agents.VerdictTimeoutSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "agents.verdict_timeout_seconds",
			Value:   c.Agents.VerdictTimeoutSeconds,
			Message: "must be non-negative",
		})
	}

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Paths.StateDir == "" {
		errors = append(errors, ValidationError{
			Field:   "paths.state_dir",
			Value:   c.Paths.StateDir,
			Message: "must not be empty",
		})
	}
	if c.Paths.WPDir == "" {
		errors = append(errors, ValidationError{
			Field:   "paths.wp_dir",
			Value:   c.Paths.WPDir,
			Message: "must not be empty",
		})
	}

	return errors
}
