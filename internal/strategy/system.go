package strategy

import (
	"context"
	"log/slog"

	"github.com/surehand-ai/surehand/internal/computer"
	"github.com/surehand-ai/surehand/internal/guard"
	"github.com/surehand-ai/surehand/internal/types"
)

// System executes OS-level actions: app launch, URL open, shell commands.
// It is the highest-priority strategy because these tools never map to a UI
// element. Shell commands pass through the ShellValidator even though the
// plan guard blocks run_shell at plan level; a repair plan or misconfigured
// policy must not become a shell escape.
type System struct {
	comp   computer.Computer
	shell  *guard.ShellValidator
	logger *slog.Logger
}

// NewSystem builds the system strategy. shell may be nil, in which case
// every run_shell step fails closed.
func NewSystem(comp computer.Computer, shell *guard.ShellValidator, logger *slog.Logger) *System {
	if logger == nil {
		logger = slog.Default()
	}
	return &System{comp: comp, shell: shell, logger: logger}
}

func (s *System) Name() types.StrategyKind { return types.StrategySystem }

func (s *System) Priority() int { return 5 }

// CanHandle accepts the three system tools regardless of arguments; argument
// problems surface as execution failures so the cascade can report them.
func (s *System) CanHandle(step *types.ActionStep) bool {
	switch step.Tool {
	case "open_app", "open_url", "run_shell":
		return true
	}
	return false
}

func (s *System) Execute(ctx context.Context, step *types.ActionStep) Result {
	// Privileged actions re-verify the session first.
	if err := s.comp.VerifySession(ctx); err != nil {
		return failure(err)
	}

	switch step.Tool {
	case "open_app":
		return s.openApp(ctx, step)
	case "open_url":
		return s.openURL(ctx, step)
	case "run_shell":
		return s.runShell(ctx, step)
	default:
		return failure(types.NewStrategyFailedError("system strategy cannot handle tool " + step.Tool))
	}
}

func (s *System) openApp(ctx context.Context, step *types.ActionStep) Result {
	appName := step.StringArg("app_name")
	if appName == "" {
		appName = step.StringArg("name")
	}
	if appName == "" {
		return failure(types.NewError(types.STRATEGY_FAILED, "open_app: missing app_name argument"))
	}

	var launchArgs []string
	if v, ok := step.Arg("args"); ok {
		launchArgs = stringsFromArg(v)
	}

	s.logger.Info("launching app", "app", appName)
	if err := s.comp.LaunchApp(ctx, appName, launchArgs); err != nil {
		return failure(types.WrapError(types.STRATEGY_FAILED, "failed to launch "+appName, err))
	}
	return Result{
		Success: true,
		Details: map[string]any{"action": "open_app", "app_name": appName},
	}
}

func (s *System) openURL(ctx context.Context, step *types.ActionStep) Result {
	url := step.StringArg("url")
	if url == "" {
		url = step.StringArg("link")
	}
	if url == "" {
		return failure(types.NewError(types.STRATEGY_FAILED, "open_url: missing url argument"))
	}

	s.logger.Info("opening url", "url", url)
	if err := s.comp.OpenURL(ctx, url); err != nil {
		return failure(types.WrapError(types.STRATEGY_FAILED, "failed to open url", err))
	}
	return Result{
		Success: true,
		Details: map[string]any{"action": "open_url", "url": url},
	}
}

func (s *System) runShell(ctx context.Context, step *types.ActionStep) Result {
	command := step.StringArg("command")
	if command == "" {
		command = step.StringArg("cmd")
	}
	if command == "" {
		return failure(types.NewError(types.STRATEGY_FAILED, "run_shell: missing command argument"))
	}

	engine := step.StringArg("engine")
	if engine == "" {
		engine = "cmd"
	}

	if s.shell == nil {
		return failure(types.NewError(types.PERMISSION_DENIED, "shell execution is not configured"))
	}
	if err := s.shell.ValidateCommand(engine, command); err != nil {
		return failure(types.WrapError(types.PERMISSION_DENIED, "shell command rejected", err))
	}

	s.logger.Info("running shell command", "engine", engine)
	output, err := s.comp.RunCommand(ctx, engine, command)
	if err != nil {
		return failure(types.WrapError(types.STRATEGY_FAILED, "shell command failed", err))
	}
	return Result{
		Success: true,
		Details: map[string]any{"action": "run_shell", "engine": engine, "output": output},
	}
}

// FindElement is a no-op: system actions have no UI target.
func (s *System) FindElement(ctx context.Context, step *types.ActionStep) (*types.UISelector, error) {
	return nil, nil
}

// ValidateElement is a no-op: system selectors are never cached.
func (s *System) ValidateElement(ctx context.Context, sel *types.UISelector) bool {
	return false
}
