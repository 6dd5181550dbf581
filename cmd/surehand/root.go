package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/surehand-ai/surehand/internal/config"
	"github.com/surehand-ai/surehand/internal/observability"
)

const version = "0.1.0"

var (
	configFile string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "surehand",
	Short: "Surehand - reliable desktop automation engine",
	Long: `Surehand executes desktop automation plans with layered safety
controls: a pre-flight plan guard, a session permit with TTL, action
budgets, input rate limiting, and multi-strategy execution with
verification and automatic recovery.

Plans are YAML files; the desktop itself is driven through an
out-of-process tool host configured via toolhost.port_file.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command with signal handling. SIGINT and SIGTERM
// cancel the command context, which halts execution between actions.
func Execute(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (default ~/.surehand/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the surehand version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "surehand v%s\n", version)
	},
}

// loadConfig resolves the config path, loads it (built-in defaults when the
// file is absent), and installs the process-wide logger.
func loadConfig() (*config.Config, *slog.Logger, error) {
	path := configFile
	if path == "" {
		path = config.DefaultConfigPath(config.DefaultHomeDir())
	}
	cfg, err := config.LoadWithDefaults(path)
	if err != nil {
		return nil, nil, err
	}

	level := observability.ParseLevel(cfg.Logging.Level)
	if verbose {
		level = slog.LevelDebug
	}
	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = observability.NewJSONHandler(os.Stderr, level)
	} else {
		handler = observability.NewTextHandler(os.Stderr, level)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	return cfg, logger, nil
}
