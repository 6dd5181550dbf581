package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/surehand-ai/surehand/internal/audit"
	"github.com/surehand-ai/surehand/internal/computer"
	"github.com/surehand-ai/surehand/internal/config"
	"github.com/surehand-ai/surehand/internal/events"
	"github.com/surehand-ai/surehand/internal/executor"
	"github.com/surehand-ai/surehand/internal/guard"
	"github.com/surehand-ai/surehand/internal/learning"
	"github.com/surehand-ai/surehand/internal/planner"
	"github.com/surehand-ai/surehand/internal/recovery"
	"github.com/surehand-ai/surehand/internal/safety"
	"github.com/surehand-ai/surehand/internal/strategy"
	"github.com/surehand-ai/surehand/internal/toolhost"
	"github.com/surehand-ai/surehand/internal/types"
)

var (
	runTTL     time.Duration
	runApps    []string
	runFolders []string
	runNetwork bool
	runOnce    bool
)

var runCmd = &cobra.Command{
	Use:   "run <plan.yaml>",
	Short: "Validate and execute an automation plan",
	Long: `Run loads a plan file, grants a session permit scoped by the flags,
validates the plan against policy, and executes it step by step. Execution
requires a reachable tool host (toolhost.port_file in the config); the host
owns the actual desktop bindings.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

func init() {
	runCmd.Flags().DurationVar(&runTTL, "ttl", 0, "Session permit lifetime (defaults to session.default_ttl)")
	runCmd.Flags().StringSliceVar(&runApps, "apps", nil, "Extra applications the session permit allows")
	runCmd.Flags().StringSliceVar(&runFolders, "folders", nil, "Folders the session permit allows file access in")
	runCmd.Flags().BoolVar(&runNetwork, "allow-network", false, "Allow plans that require network access")
	runCmd.Flags().BoolVar(&runOnce, "once", false, "Grant a single-task permit that self-revokes after this run")
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	plan, err := loadPlan(args[0])
	if err != nil {
		return err
	}

	if cfg.ToolHost.PortFile == "" {
		return fmt.Errorf("no tool host configured: set toolhost.port_file to the host's port file")
	}
	client := toolhost.NewClient(cfg.ToolHost.PortFile,
		toolhost.WithCallTimeout(cfg.ToolHost.Timeout),
		toolhost.WithClientLogger(logger),
	)
	if err := client.Health(ctx); err != nil {
		return err
	}
	comp := computer.NewRemote(client)

	auditLog, err := audit.Open(cfg.Guard.AuditLog)
	if err != nil {
		return err
	}
	defer auditLog.Close()

	bus := events.NewBus()
	defer bus.Close()

	// Safety layer.
	permit := safety.NewSessionPermit()
	budget := safety.NewActionBudget(safety.BudgetConfig{
		MaxActions:             cfg.Budget.MaxActions,
		MaxRetries:             cfg.Budget.MaxRetries,
		MaxConsecutiveFailures: cfg.Budget.MaxConsecutiveFailures,
		MaxRuntime:             cfg.Budget.MaxRuntime,
	}, logger)
	env := safety.NewEnvironmentMonitor(comp,
		safety.WithEnvInterval(cfg.Environment.PollInterval),
		safety.WithEnvLogger(logger),
	)
	focus := safety.NewFocusGuard(comp, cfg.Focus.MaxRefocusAttempts, logger)
	rate := safety.NewInputRateLimiter(safety.RateConfig{
		MaxKeysPerSec:     cfg.Rate.MaxKeysPerSec,
		MaxClicksPerSec:   cfg.Rate.MaxClicksPerSec,
		HardStopThreshold: cfg.Rate.HardStopThreshold,
	}, logger)
	takeover := safety.NewTakeoverManager(logger)
	gate := safety.NewGate(permit, budget, env, focus, rate, takeover,
		safety.WithSafeMode(cfg.Executor.SafeMode),
		safety.WithBus(bus),
		safety.WithGateLogger(logger),
	)

	planGuard := guard.New(guardConfigFrom(cfg), gate.Permit(),
		guard.WithAudit(auditLog),
		guard.WithLogger(logger),
	)

	// Learning layer. The in-memory store still ranks within this run when
	// no database is configured.
	var store learning.Store
	if cfg.Learning.DBPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Learning.DBPath), 0o755); err != nil {
			return fmt.Errorf("failed to create learning directory: %w", err)
		}
		sqlite, err := learning.NewSQLiteStore(cfg.Learning.DBPath)
		if err != nil {
			return err
		}
		defer sqlite.Close()
		store = sqlite
	} else {
		store = learning.NewMemoryStore()
	}
	ranker := learning.NewStrategyRanker(store,
		learning.WithMinSamples(cfg.Learning.MinSamples),
		learning.WithRankerLogger(logger),
	)

	// Execution layer. Shell allow-lists stay empty: run_shell is blocked at
	// plan validation, and the system strategy refuses everything else.
	shell := guard.NewShellValidator(nil, nil)
	exec := executor.New(comp, gate, strategy.DefaultSet(comp, shell, logger),
		executor.WithLogger(logger),
		executor.WithCache(executor.NewSelectorCache(cfg.Cache.TTL, cfg.Cache.MaxEntries)),
		executor.WithRanker(ranker),
		executor.WithEvents(bus),
		executor.WithScreenshotDir(cfg.Executor.ScreenshotDir),
	)

	recoveryMgr := recovery.NewManager(planner.NewRemote(client), planGuard, exec, comp,
		recovery.Config{
			PerStepAttempts: cfg.Recovery.PerStepAttempts,
			PerPlanAttempts: cfg.Recovery.PerPlanAttempts,
			MaxRepairSteps:  cfg.Recovery.MaxRepairSteps,
		},
		recovery.WithLogger(logger),
	)

	runner := executor.NewPlanRunner(exec, planGuard, gate,
		executor.WithRunnerLogger(logger),
		executor.WithRecovery(recoveryMgr),
		executor.WithRunnerEvents(bus),
	)

	mode := safety.ModeSession
	if runOnce {
		mode = safety.ModeOnce
	}
	ttl := runTTL
	if ttl <= 0 {
		ttl = cfg.Session.DefaultTTL
	}
	gate.Grant(mode, runApps, runFolders, runNetwork, ttl)

	env.Start(ctx)
	defer env.Stop()

	eventCh, unsubscribe := bus.Subscribe(ctx, events.Filter{}, 64)
	defer unsubscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range eventCh {
			printEvent(out, ev)
		}
	}()

	results, runErr := runner.Run(ctx, plan)

	unsubscribe()
	<-done

	printSummary(out, results)
	return runErr
}

// loadPlan reads and normalizes a plan file.
func loadPlan(path string) (*types.ExecutionPlan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}
	plan := &types.ExecutionPlan{}
	if err := yaml.Unmarshal(raw, plan); err != nil {
		return nil, fmt.Errorf("failed to parse plan file %s: %w", path, err)
	}
	if len(plan.Steps) == 0 {
		return nil, fmt.Errorf("plan file %s contains no steps", path)
	}
	plan.Normalize()
	return plan, nil
}

// guardConfigFrom maps the config file's guard section onto guard.Config.
// Trusted app names are stored lowercase; the guard normalizes candidates
// the same way before lookup.
func guardConfigFrom(cfg *config.Config) guard.Config {
	trusted := make(map[string]bool, len(cfg.Guard.TrustedApps))
	for _, app := range cfg.Guard.TrustedApps {
		name := strings.ToLower(strings.TrimSpace(app))
		if name != "" {
			trusted[name] = true
		}
	}
	return guard.Config{
		MaxSteps:         cfg.Guard.MaxSteps,
		MaxPlanRetries:   cfg.Guard.MaxPlanRetries,
		MaxHighRiskSteps: cfg.Guard.MaxHighRiskSteps,
		TrustedApps:      trusted,
		AppAliases:       cfg.Guard.AppAliases,
		TrustedDomains:   cfg.Guard.TrustedDomains,
	}
}

func printEvent(out io.Writer, ev events.Event) {
	switch ev.Type {
	case events.EventPlanValidated:
		fmt.Fprintf(out, "plan %s validated (%v steps)\n", ev.PlanID, ev.Payload["steps"])
	case events.EventStepStarted:
		fmt.Fprintf(out, "  step %s: %v\n", ev.StepID, ev.Payload["tool"])
	case events.EventStepRetrying:
		fmt.Fprintf(out, "  step %s: retrying\n", ev.StepID)
	case events.EventStepFailed:
		fmt.Fprintf(out, "  step %s: failed\n", ev.StepID)
	case events.EventRecoveryStarted:
		fmt.Fprintf(out, "  recovery: attempting repair for step %s\n", ev.StepID)
	case events.EventRecoverySucceeded:
		fmt.Fprintf(out, "  recovery: repaired, retrying step\n")
	case events.EventRecoveryExhausted:
		fmt.Fprintf(out, "  recovery: exhausted\n")
	case events.EventTakeoverRequested:
		fmt.Fprintf(out, "  TAKEOVER REQUESTED: %v\n", ev.Payload["reason"])
	case events.EventBudgetPaused:
		fmt.Fprintf(out, "  budget exhausted: %v\n", ev.Payload["reason"])
	case events.EventRateLimitTripped:
		fmt.Fprintf(out, "  rate limiter hard stop\n")
	case events.EventPlanHalted:
		fmt.Fprintf(out, "plan halted at step %s\n", ev.StepID)
	case events.EventPlanCompleted:
		fmt.Fprintf(out, "plan completed (%v steps)\n", ev.Payload["steps"])
	}
}

func printSummary(out io.Writer, results []*types.StepResult) {
	if len(results) == 0 {
		return
	}
	fmt.Fprintln(out)
	for i, res := range results {
		status := "ok"
		if !res.Success {
			status = "FAILED " + res.Error
		}
		fmt.Fprintf(out, "%2d. %-14s via=%-13s attempts=%d %6s  %s\n",
			i+1, res.StepID, res.StrategyUsed, res.Attempts,
			res.Duration.Round(time.Millisecond), status)
	}
}
