package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/surehand-ai/surehand/internal/computer"
	"github.com/surehand-ai/surehand/internal/planner"
	"github.com/surehand-ai/surehand/internal/types"
)

// State is where the manager sits in the self-healing loop.
type State string

const (
	StateObserving   State = "observing"
	StateClassifying State = "classifying"
	StateRepairing   State = "repairing"
	StateBlocked     State = "blocked"
	StateSucceeded   State = "succeeded"
	StateExhausted   State = "exhausted"
)

// repairTools is the only vocabulary a repair plan may use. Everything here
// is read-only or focus-related; a repair plan can never type, click, or
// launch anything.
var repairTools = map[string]bool{
	"focus_window":    true,
	"scroll":          true,
	"wait":            true,
	"screenshot":      true,
	"read_text":       true,
	"get_window_list": true,
}

// RepairTools returns the allowed repair vocabulary, sorted.
func RepairTools() []string {
	out := make([]string, 0, len(repairTools))
	for tool := range repairTools {
		out = append(out, tool)
	}
	sort.Strings(out)
	return out
}

// StepExecutor runs a single step. Satisfied by the executor.
type StepExecutor interface {
	Execute(ctx context.Context, step *types.ActionStep) *types.StepResult
}

// PlanValidator re-checks repair plans before they run. Satisfied by
// guard.PlanGuard.
type PlanValidator interface {
	Validate(ctx context.Context, plan *types.ExecutionPlan) error
}

// Config bounds the recovery loop.
type Config struct {
	PerStepAttempts int
	PerPlanAttempts int
	MaxRepairSteps  int
}

// DefaultConfig returns the stock limits.
func DefaultConfig() Config {
	return Config{
		PerStepAttempts: DefaultPerStepAttempts,
		PerPlanAttempts: DefaultPerPlanAttempts,
		MaxRepairSteps:  DefaultMaxRepairSteps,
	}
}

// Manager orchestrates recovery: classifier, attempt policy, planner,
// validator, and step executor.
type Manager struct {
	planner   planner.Planner
	validator PlanValidator
	exec      StepExecutor
	comp      computer.Computer
	policy    *AttemptPolicy
	cfg       Config
	logger    *slog.Logger
	tracer    trace.Tracer

	mu    sync.Mutex
	state State
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithTracer sets the tracer used for recovery spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(m *Manager) {
		if tracer != nil {
			m.tracer = tracer
		}
	}
}

// NewManager wires the recovery loop. Zero-valued cfg fields fall back to
// the defaults.
func NewManager(p planner.Planner, validator PlanValidator, exec StepExecutor, comp computer.Computer, cfg Config, opts ...Option) *Manager {
	def := DefaultConfig()
	if cfg.PerStepAttempts <= 0 {
		cfg.PerStepAttempts = def.PerStepAttempts
	}
	if cfg.PerPlanAttempts <= 0 {
		cfg.PerPlanAttempts = def.PerPlanAttempts
	}
	if cfg.MaxRepairSteps <= 0 {
		cfg.MaxRepairSteps = def.MaxRepairSteps
	}

	m := &Manager{
		planner:   p,
		validator: validator,
		exec:      exec,
		comp:      comp,
		policy:    NewAttemptPolicy(cfg.PerStepAttempts, cfg.PerPlanAttempts),
		cfg:       cfg,
		logger:    slog.Default(),
		tracer:    noop.NewTracerProvider().Tracer("recovery"),
		state:     StateObserving,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns where the manager currently sits in the loop.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Policy exposes the attempt counters, mainly for the runner and tests.
func (m *Manager) Policy() *AttemptPolicy {
	return m.policy
}

// PurgePlan clears per-plan attempt state. The runner calls it when a plan
// finishes, successfully or not.
func (m *Manager) PurgePlan(planID types.ID) {
	m.policy.PurgePlan(planID)
	m.setState(StateObserving)
}

// HandleFailure runs the full loop for one failed step. It returns true
// when a repair plan executed cleanly and the original step deserves
// exactly one more try.
func (m *Manager) HandleFailure(ctx context.Context, planID types.ID, step *types.ActionStep, result *types.StepResult, recent []string) bool {
	ctx, span := m.tracer.Start(ctx, "recovery.handle_failure",
		trace.WithAttributes(
			attribute.String("plan.id", planID.String()),
			attribute.String("step.tool", step.Tool),
		))
	defer span.End()

	m.setState(StateClassifying)
	ftype := Classify(result.Error)
	span.SetAttributes(attribute.String("failure.type", string(ftype)))

	log := m.logger.With("plan_id", planID, "step_id", step.ID, "failure_type", string(ftype))

	if !ftype.Recoverable() {
		m.setState(StateBlocked)
		span.SetStatus(codes.Error, "not recoverable")
		log.Warn("failure is not recoverable", "error", result.Error)
		return false
	}

	if !m.policy.Allow(planID, step.ID) {
		m.setState(StateExhausted)
		span.SetStatus(codes.Error, "attempt limits reached")
		log.Warn("recovery attempt limits reached",
			"step_attempts", m.policy.StepAttempts(planID, step.ID),
			"plan_attempts", m.policy.PlanAttempts(planID),
		)
		return false
	}

	req := m.buildRequest(ctx, planID, step, ftype, result.Error, recent)

	repair, err := m.planner.ProposeRepair(ctx, req)
	if err != nil || repair == nil {
		m.setState(StateExhausted)
		span.SetStatus(codes.Error, "no repair plan")
		log.Error("planner produced no repair plan", "error", err)
		return false
	}
	repair.Normalize()

	if err := m.checkRepairPlan(repair); err != nil {
		m.setState(StateExhausted)
		span.SetStatus(codes.Error, "repair plan rejected")
		log.Warn("repair plan rejected", "error", err)
		return false
	}
	if err := m.validator.Validate(ctx, repair); err != nil {
		m.setState(StateExhausted)
		span.SetStatus(codes.Error, "repair plan failed validation")
		log.Warn("repair plan failed validation", "error", err)
		return false
	}

	m.setState(StateRepairing)
	log.Info("executing repair plan", "steps", len(repair.Steps))

	for i := range repair.Steps {
		res := m.exec.Execute(ctx, &repair.Steps[i])
		if !res.Success {
			m.setState(StateExhausted)
			span.SetStatus(codes.Error, "repair step failed")
			log.Error("repair step failed",
				"tool", repair.Steps[i].Tool,
				"error", res.Error,
			)
			return false
		}
	}

	m.policy.Record(planID, step.ID)
	m.setState(StateSucceeded)
	log.Info("recovery succeeded, retrying original step")
	return true
}

// checkRepairPlan enforces the manager's own bounds on top of PlanGuard:
// step budget and the read-only tool vocabulary.
func (m *Manager) checkRepairPlan(repair *types.ExecutionPlan) error {
	if len(repair.Steps) == 0 {
		return fmt.Errorf("repair plan has no steps")
	}
	if len(repair.Steps) > m.cfg.MaxRepairSteps {
		return fmt.Errorf("repair plan has %d steps, max allowed is %d", len(repair.Steps), m.cfg.MaxRepairSteps)
	}
	for i := range repair.Steps {
		if !repairTools[repair.Steps[i].Tool] {
			return fmt.Errorf("repair plan uses tool '%s' outside the repair set", repair.Steps[i].Tool)
		}
	}
	return nil
}

func (m *Manager) buildRequest(ctx context.Context, planID types.ID, step *types.ActionStep, ftype FailureType, errText string, recent []string) *planner.RepairRequest {
	activeTitle := ""
	if m.comp != nil {
		if win, err := m.comp.ActiveWindow(ctx); err == nil {
			activeTitle = win.Title
		}
	}
	return &planner.RepairRequest{
		PlanID:       planID,
		FailedStep:   step,
		FailureType:  string(ftype),
		ErrorText:    errText,
		ActiveWindow: activeTitle,
		RecentSteps:  recent,
		MaxSteps:     m.cfg.MaxRepairSteps,
		AllowedTools: RepairTools(),
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
}
