// Package config loads and validates the engine configuration from YAML.
// Every knob has a working default, so a missing or partial file still
// yields a runnable setup; string fields may reference environment
// variables with ${VAR_NAME} syntax.
package config

import "time"

// Config is the root configuration for the surehand engine.
type Config struct {
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
	Session     SessionConfig     `mapstructure:"session" yaml:"session"`
	Budget      BudgetConfig      `mapstructure:"budget" yaml:"budget"`
	Rate        RateConfig        `mapstructure:"rate" yaml:"rate"`
	Environment EnvironmentConfig `mapstructure:"environment" yaml:"environment"`
	Focus       FocusConfig       `mapstructure:"focus" yaml:"focus"`
	Cache       CacheConfig       `mapstructure:"cache" yaml:"cache"`
	Guard       GuardConfig       `mapstructure:"guard" yaml:"guard"`
	Recovery    RecoveryConfig    `mapstructure:"recovery" yaml:"recovery"`
	ToolHost    ToolHostConfig    `mapstructure:"toolhost" yaml:"toolhost,omitempty"`
	Learning    LearningConfig    `mapstructure:"learning" yaml:"learning,omitempty"`
	Executor    ExecutorConfig    `mapstructure:"executor" yaml:"executor"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=json text"`
}

// SessionConfig controls session permits.
type SessionConfig struct {
	// DefaultTTL applies when a grant does not carry its own lifetime.
	DefaultTTL time.Duration `mapstructure:"default_ttl" yaml:"default_ttl" validate:"min=1m,max=24h"`
}

// BudgetConfig caps what one plan run may spend.
type BudgetConfig struct {
	MaxActions             int           `mapstructure:"max_actions" yaml:"max_actions" validate:"min=1,max=1000"`
	MaxRetries             int           `mapstructure:"max_retries" yaml:"max_retries" validate:"min=1"`
	MaxConsecutiveFailures int           `mapstructure:"max_consecutive_failures" yaml:"max_consecutive_failures" validate:"min=1"`
	MaxRuntime             time.Duration `mapstructure:"max_runtime" yaml:"max_runtime" validate:"min=1s"`
}

// RateConfig caps synthetic input speed. The window stays fixed at one
// second; only the per-second limits and the hard-stop multiplier are
// configurable.
type RateConfig struct {
	MaxKeysPerSec     int     `mapstructure:"max_keys_per_sec" yaml:"max_keys_per_sec" validate:"min=1"`
	MaxClicksPerSec   int     `mapstructure:"max_clicks_per_sec" yaml:"max_clicks_per_sec" validate:"min=1"`
	HardStopThreshold float64 `mapstructure:"hard_stop_threshold" yaml:"hard_stop_threshold" validate:"min=1"`
}

// EnvironmentConfig controls the desktop state monitor.
type EnvironmentConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval" validate:"min=100ms"`
}

// FocusConfig controls the focus guard.
type FocusConfig struct {
	MaxRefocusAttempts int `mapstructure:"max_refocus_attempts" yaml:"max_refocus_attempts" validate:"min=0,max=10"`
}

// CacheConfig controls the selector cache.
type CacheConfig struct {
	TTL        time.Duration `mapstructure:"ttl" yaml:"ttl" validate:"min=1s"`
	MaxEntries int           `mapstructure:"max_entries" yaml:"max_entries" validate:"min=1"`
}

// GuardConfig is the plan validation policy. Trusted app names take any of
// the forms the guard normalizes (basename, with or without extension).
type GuardConfig struct {
	MaxSteps         int               `mapstructure:"max_steps" yaml:"max_steps" validate:"min=1,max=200"`
	MaxPlanRetries   int               `mapstructure:"max_plan_retries" yaml:"max_plan_retries" validate:"min=1"`
	MaxHighRiskSteps int               `mapstructure:"max_high_risk_steps" yaml:"max_high_risk_steps" validate:"min=0"`
	TrustedApps      []string          `mapstructure:"trusted_apps" yaml:"trusted_apps"`
	AppAliases       map[string]string `mapstructure:"app_aliases" yaml:"app_aliases,omitempty"`
	TrustedDomains   []string          `mapstructure:"trusted_domains" yaml:"trusted_domains"`
	AuditLog         string            `mapstructure:"audit_log" yaml:"audit_log"`
}

// RecoveryConfig caps the repair loop.
type RecoveryConfig struct {
	PerStepAttempts int `mapstructure:"per_step_attempts" yaml:"per_step_attempts" validate:"min=1,max=10"`
	PerPlanAttempts int `mapstructure:"per_plan_attempts" yaml:"per_plan_attempts" validate:"min=1,max=50"`
	MaxRepairSteps  int `mapstructure:"max_repair_steps" yaml:"max_repair_steps" validate:"min=1,max=10"`
}

// ToolHostConfig wires the out-of-process tool host. An empty port file
// path disables the host entirely.
type ToolHostConfig struct {
	PortFile          string        `mapstructure:"port_file" yaml:"port_file,omitempty"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"min=1s"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute" yaml:"requests_per_minute" validate:"min=0"`
}

// LearningConfig controls the strategy outcome store. An empty path keeps
// outcomes in memory for the run.
type LearningConfig struct {
	DBPath     string `mapstructure:"db_path" yaml:"db_path,omitempty"`
	MinSamples int    `mapstructure:"min_samples" yaml:"min_samples" validate:"min=1"`
}

// ExecutorConfig controls step execution.
type ExecutorConfig struct {
	// SafeMode refuses destructive tools outright.
	SafeMode bool `mapstructure:"safe_mode" yaml:"safe_mode"`
	// ScreenshotDir enables before/after captures when set.
	ScreenshotDir string `mapstructure:"screenshot_dir" yaml:"screenshot_dir,omitempty"`
}
