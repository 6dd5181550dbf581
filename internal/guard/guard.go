// Package guard implements the pre-flight plan validator. A plan is checked
// exactly once, before any step executes; every violation found is collected
// and written to the audit log, then raised together. Unknown tools are
// rejected by default; nothing is allowed by omission.
package guard

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/surehand-ai/surehand/internal/audit"
	"github.com/surehand-ai/surehand/internal/types"
)

// SessionPolicy is the slice of the session permit the guard consults for
// plan-level requirements. A nil session denies everything it scopes.
type SessionPolicy interface {
	NetworkAllowed() bool
	AppAllowed(name string) bool
}

// Config bounds what a plan may contain.
type Config struct {
	MaxSteps         int
	MaxPlanRetries   int
	MaxHighRiskSteps int

	// TrustedApps and AppAliases validate open_app arguments. Names are
	// matched after NormalizeAppName.
	TrustedApps map[string]bool
	AppAliases  map[string]string

	// TrustedDomains validates open_url arguments via suffix match; literal
	// IPs and localhost are always rejected.
	TrustedDomains []string
}

// DefaultConfig returns the stock guard policy.
func DefaultConfig() Config {
	return Config{
		MaxSteps:         20,
		MaxPlanRetries:   30,
		MaxHighRiskSteps: 3,
		TrustedApps: map[string]bool{
			"notepad":     true,
			"notepad.exe": true,
			"calc":        true,
			"calc.exe":    true,
			"mspaint":     true,
			"explorer":    true,
		},
		AppAliases: map[string]string{
			"calculator": "calc",
			"paint":      "mspaint",
			"files":      "explorer",
		},
		TrustedDomains: []string{"docs.python.org", "wikipedia.org"},
	}
}

// PlanGuard validates whole plans before execution.
type PlanGuard struct {
	cfg     Config
	session SessionPolicy
	auditor *audit.Logger
	logger  *slog.Logger
	tracer  trace.Tracer
}

// Option configures a PlanGuard.
type Option func(*PlanGuard)

// WithAudit directs violations to the append-only audit log.
func WithAudit(auditor *audit.Logger) Option {
	return func(g *PlanGuard) { g.auditor = auditor }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *PlanGuard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithTracer sets the tracer used for validation spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(g *PlanGuard) {
		if tracer != nil {
			g.tracer = tracer
		}
	}
}

// New builds a PlanGuard for the given policy and session.
func New(cfg Config, session SessionPolicy, opts ...Option) *PlanGuard {
	g := &PlanGuard{
		cfg:     cfg,
		session: session,
		logger:  slog.Default(),
		tracer:  noop.NewTracerProvider().Tracer("guard"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Validate runs the single-pass, whole-plan check. It accumulates every
// violation, writes each to the audit log, and returns one ValidationError
// carrying the full list, or nil when the plan is clean.
func (g *PlanGuard) Validate(ctx context.Context, plan *types.ExecutionPlan) error {
	ctx, span := g.tracer.Start(ctx, "guard.validate",
		trace.WithAttributes(
			attribute.String("plan.id", plan.ID.String()),
			attribute.Int("plan.steps", len(plan.Steps)),
		))
	defer span.End()

	var violations []string
	add := func(format string, args ...any) {
		violations = append(violations, fmt.Sprintf(format, args...))
	}

	if len(plan.Steps) > g.cfg.MaxSteps {
		add("plan has %d steps, max allowed is %d", len(plan.Steps), g.cfg.MaxSteps)
	}

	for i := range plan.Steps {
		step := &plan.Steps[i]
		stepNum := i + 1

		g.checkTool(step, stepNum, add)
		g.checkArguments(step, stepNum, add)
	}

	if total := plan.TotalRetries(); total > g.cfg.MaxPlanRetries {
		add("plan allows %d total retries, max allowed is %d", total, g.cfg.MaxPlanRetries)
	}
	if high := plan.HighRiskSteps(); high > g.cfg.MaxHighRiskSteps {
		add("plan has %d high-risk steps, max allowed is %d", high, g.cfg.MaxHighRiskSteps)
	}

	if plan.RequiresNetwork && (g.session == nil || !g.session.NetworkAllowed()) {
		add("plan requires network access but the session permit does not allow it")
	}
	if plan.RequiresElevation {
		add("plan requires elevated privileges which are not supported")
	}

	if len(violations) == 0 {
		g.logger.Debug("plan validated", "plan_id", plan.ID, "steps", len(plan.Steps))
		return nil
	}

	for _, v := range violations {
		if g.auditor != nil {
			if err := g.auditor.Violation(plan.ID.String(), v); err != nil {
				g.logger.Error("failed to audit violation", "error", err)
			}
		}
	}

	g.logger.Warn("plan rejected",
		"plan_id", plan.ID,
		"violations", len(violations),
	)
	span.SetStatus(codes.Error, "plan rejected")
	span.SetAttributes(attribute.Int("plan.violations", len(violations)))

	return NewValidationError(violations)
}

// checkTool classifies the step's tool: safe, restricted, blocked, or
// unknown (default-deny).
func (g *PlanGuard) checkTool(step *types.ActionStep, stepNum int, add func(string, ...any)) {
	tool := strings.ToLower(step.Tool)

	switch {
	case BlockedTools[tool]:
		add("step %d: tool '%s' is blocked for safety", stepNum, step.Tool)

	case RestrictedTools[tool]:
		g.checkRestricted(step, tool, stepNum, add)

	case SafeTools[tool]:
		if tool == "press_key" {
			keys := keyArgs(step)
			if combo := dangerousCombo(keys); combo != "" {
				add("step %d: blocked dangerous keypress %s", stepNum, combo)
			}
		}

	default:
		add("step %d: tool '%s' is not recognized; allowed tools: %s",
			stepNum, step.Tool, strings.Join(AllowedToolList(), ", "))
	}
}

// checkRestricted validates restricted-tool arguments against the trusted
// lists.
func (g *PlanGuard) checkRestricted(step *types.ActionStep, tool string, stepNum int, add func(string, ...any)) {
	switch tool {
	case "open_app":
		appName := step.StringArg("app_name")
		if appName == "" {
			appName = step.StringArg("name")
		}
		if appName == "" {
			add("step %d: open_app is missing the app_name argument", stepNum)
			return
		}
		if !appTrusted(appName, g.cfg.TrustedApps, g.cfg.AppAliases) {
			add("step %d: app '%s' is not in trusted list (allowed: %s)",
				stepNum, appName, strings.Join(trustedAppNames(g.cfg.TrustedApps), ", "))
		}
		if !g.sessionAllowsApp(appName) {
			add("step %d: app '%s' is not allowed by the session permit", stepNum, appName)
		}

	case "open_url":
		rawURL := step.StringArg("url")
		if rawURL == "" {
			add("step %d: open_url is missing the url argument", stepNum)
			return
		}
		switch verdict, host := checkURL(rawURL, g.cfg.TrustedDomains); verdict {
		case urlTrusted:
		case urlLocalhost:
			add("step %d: URL host '%s' targets localhost, which is not allowed", stepNum, host)
		case urlLiteralIP:
			add("step %d: URL host '%s' is a literal IP address; IP addresses are not allowed", stepNum, host)
		case urlMalformed:
			add("step %d: URL %q is malformed", stepNum, rawURL)
		default:
			add("step %d: URL host '%s' is not in trusted list (allowed: %s)",
				stepNum, host, strings.Join(g.cfg.TrustedDomains, ", "))
		}
	}
}

// sessionAllowsApp consults the session grant with the raw name and both
// normalized forms, so a step naming "notepad" passes a grant of
// "notepad.exe" and vice versa.
func (g *PlanGuard) sessionAllowsApp(name string) bool {
	if g.session == nil {
		return false
	}
	if g.session.AppAllowed(name) {
		return true
	}
	withExt, withoutExt := NormalizeAppName(name)
	return g.session.AppAllowed(withExt) || g.session.AppAllowed(withoutExt)
}

// checkArguments runs the destructive-pattern scanner over every string
// argument of the step, whatever its tool.
func (g *PlanGuard) checkArguments(step *types.ActionStep, stepNum int, add func(string, ...any)) {
	for name, value := range step.Args {
		stringArguments(value, func(s string) {
			if match := destructiveMatch(s); match != "" {
				add("step %d: destructive pattern detected in tool '%s' argument '%s': %q",
					stepNum, step.Tool, name, s)
			}
		})
	}
}

func keyArgs(step *types.ActionStep) []string {
	v, ok := step.Arg("keys")
	if !ok {
		if s := step.StringArg("key"); s != "" {
			return strings.Split(s, "+")
		}
		return nil
	}
	switch keys := v.(type) {
	case []string:
		return keys
	case []any:
		out := make([]string, 0, len(keys))
		for _, k := range keys {
			if s, ok := k.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return strings.Split(keys, "+")
	default:
		return nil
	}
}

func trustedAppNames(trusted map[string]bool) []string {
	names := make([]string, 0, len(trusted))
	for name := range trusted {
		// Skip the .exe duplicates in the display list.
		if strings.HasSuffix(name, ".exe") {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		for name := range trusted {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
