package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/viper"

	"github.com/surehand-ai/surehand/internal/types"
)

// Load reads the YAML file at path, overlays it on the defaults,
// interpolates ${ENV_VAR} references, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, types.WrapError(types.CONFIG_LOAD_FAILED,
			fmt.Sprintf("failed to read config file %s", path), err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, types.WrapError(types.CONFIG_LOAD_FAILED, "failed to unmarshal config", err)
	}

	cfg.interpolate()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadWithDefaults behaves like Load but returns the defaults when no file
// exists at path.
func LoadWithDefaults(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return Load(path)
}

// setDefaults registers every key so a partial file overlays cleanly.
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("session.default_ttl", d.Session.DefaultTTL)
	v.SetDefault("budget.max_actions", d.Budget.MaxActions)
	v.SetDefault("budget.max_retries", d.Budget.MaxRetries)
	v.SetDefault("budget.max_consecutive_failures", d.Budget.MaxConsecutiveFailures)
	v.SetDefault("budget.max_runtime", d.Budget.MaxRuntime)
	v.SetDefault("rate.max_keys_per_sec", d.Rate.MaxKeysPerSec)
	v.SetDefault("rate.max_clicks_per_sec", d.Rate.MaxClicksPerSec)
	v.SetDefault("rate.hard_stop_threshold", d.Rate.HardStopThreshold)
	v.SetDefault("environment.poll_interval", d.Environment.PollInterval)
	v.SetDefault("focus.max_refocus_attempts", d.Focus.MaxRefocusAttempts)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("cache.max_entries", d.Cache.MaxEntries)
	v.SetDefault("guard.max_steps", d.Guard.MaxSteps)
	v.SetDefault("guard.max_plan_retries", d.Guard.MaxPlanRetries)
	v.SetDefault("guard.max_high_risk_steps", d.Guard.MaxHighRiskSteps)
	v.SetDefault("guard.trusted_apps", d.Guard.TrustedApps)
	v.SetDefault("guard.app_aliases", d.Guard.AppAliases)
	v.SetDefault("guard.trusted_domains", d.Guard.TrustedDomains)
	v.SetDefault("guard.audit_log", d.Guard.AuditLog)
	v.SetDefault("recovery.per_step_attempts", d.Recovery.PerStepAttempts)
	v.SetDefault("recovery.per_plan_attempts", d.Recovery.PerPlanAttempts)
	v.SetDefault("recovery.max_repair_steps", d.Recovery.MaxRepairSteps)
	v.SetDefault("toolhost.port_file", d.ToolHost.PortFile)
	v.SetDefault("toolhost.timeout", d.ToolHost.Timeout)
	v.SetDefault("toolhost.requests_per_minute", d.ToolHost.RequestsPerMinute)
	v.SetDefault("learning.db_path", d.Learning.DBPath)
	v.SetDefault("learning.min_samples", d.Learning.MinSamples)
	v.SetDefault("executor.safe_mode", d.Executor.SafeMode)
	v.SetDefault("executor.screenshot_dir", d.Executor.ScreenshotDir)
}

// envPattern matches ${VAR_NAME} references.
var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// interpolateString replaces ${VAR_NAME} with the environment value, keeping
// the reference verbatim when the variable is unset.
func interpolateString(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		if value := os.Getenv(name); value != "" {
			return value
		}
		return match
	})
}

// interpolate expands environment references in the path-valued fields.
func (c *Config) interpolate() {
	c.Guard.AuditLog = interpolateString(c.Guard.AuditLog)
	c.ToolHost.PortFile = interpolateString(c.ToolHost.PortFile)
	c.Learning.DBPath = interpolateString(c.Learning.DBPath)
	c.Executor.ScreenshotDir = interpolateString(c.Executor.ScreenshotDir)
}
