package config

import (
	"os"
	"path/filepath"
	"time"
)

// DefaultConfig returns a Config with the stock limits. The numeric values
// match the component defaults so a config file only has to name what it
// changes.
func DefaultConfig() *Config {
	homeDir := DefaultHomeDir()

	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Session: SessionConfig{
			DefaultTTL: 30 * time.Minute,
		},
		Budget: BudgetConfig{
			MaxActions:             50,
			MaxRetries:             20,
			MaxConsecutiveFailures: 5,
			MaxRuntime:             180 * time.Second,
		},
		Rate: RateConfig{
			MaxKeysPerSec:     30,
			MaxClicksPerSec:   10,
			HardStopThreshold: 2.0,
		},
		Environment: EnvironmentConfig{
			PollInterval: 500 * time.Millisecond,
		},
		Focus: FocusConfig{
			MaxRefocusAttempts: 2,
		},
		Cache: CacheConfig{
			TTL:        60 * time.Second,
			MaxEntries: 100,
		},
		Guard: GuardConfig{
			MaxSteps:         20,
			MaxPlanRetries:   30,
			MaxHighRiskSteps: 3,
			TrustedApps:      []string{"notepad", "calc", "mspaint", "explorer"},
			AppAliases: map[string]string{
				"calculator": "calc",
				"paint":      "mspaint",
				"files":      "explorer",
			},
			TrustedDomains: []string{"docs.python.org", "wikipedia.org"},
			AuditLog:       filepath.Join(homeDir, "audit.jsonl"),
		},
		Recovery: RecoveryConfig{
			PerStepAttempts: 2,
			PerPlanAttempts: 5,
			MaxRepairSteps:  5,
		},
		ToolHost: ToolHostConfig{
			PortFile:          "",
			Timeout:           30 * time.Second,
			RequestsPerMinute: 60,
		},
		Learning: LearningConfig{
			DBPath:     filepath.Join(homeDir, "learning.db"),
			MinSamples: 5,
		},
		Executor: ExecutorConfig{
			SafeMode:      true,
			ScreenshotDir: "",
		},
	}
}

// DefaultHomeDir returns the surehand home directory, ~/.surehand or a
// temp-dir fallback when the user home cannot be determined.
func DefaultHomeDir() string {
	userHome, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".surehand")
	}
	return filepath.Join(userHome, ".surehand")
}

// DefaultConfigPath returns the config file location under homeDir.
func DefaultConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}
