package executor

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/surehand-ai/surehand/internal/events"
	"github.com/surehand-ai/surehand/internal/guard"
	"github.com/surehand-ai/surehand/internal/recovery"
	"github.com/surehand-ai/surehand/internal/safety"
	"github.com/surehand-ai/surehand/internal/types"
)

// recentWindow bounds how many prior step outcomes ride along in repair
// requests.
const recentWindow = 5

// PlanRunner executes a plan start to finish: one guard validation, one
// budget window, steps strictly in order with per-step deadlines, and a
// single recovery-then-retry pass per failing step. Exactly one action is in
// flight at any time.
type PlanRunner struct {
	exec     *Executor
	guard    *guard.PlanGuard
	gate     *safety.Gate
	recovery *recovery.Manager
	bus      events.Bus
	logger   *slog.Logger
	tracer   trace.Tracer
}

// RunnerOption configures a PlanRunner.
type RunnerOption func(*PlanRunner)

// WithRunnerLogger sets the structured logger.
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *PlanRunner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRunnerTracer sets the tracer for plan spans.
func WithRunnerTracer(tracer trace.Tracer) RunnerOption {
	return func(r *PlanRunner) {
		if tracer != nil {
			r.tracer = tracer
		}
	}
}

// WithRecovery enables the self-healing pass for failing steps.
func WithRecovery(m *recovery.Manager) RunnerOption {
	return func(r *PlanRunner) { r.recovery = m }
}

// WithRunnerEvents publishes plan and recovery lifecycle events to the bus.
func WithRunnerEvents(bus events.Bus) RunnerOption {
	return func(r *PlanRunner) { r.bus = bus }
}

// NewPlanRunner wires the runner. The guard and gate are mandatory: no plan
// runs unvalidated or ungated.
func NewPlanRunner(exec *Executor, planGuard *guard.PlanGuard, gate *safety.Gate, opts ...RunnerOption) *PlanRunner {
	r := &PlanRunner{
		exec:   exec,
		guard:  planGuard,
		gate:   gate,
		logger: slog.Default(),
		tracer: noop.NewTracerProvider().Tracer("runner"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run validates and executes the plan. The returned results hold one entry
// per executed attempt of each step, in order; a post-recovery retry of a
// step appends a second entry. The error is nil only when every step
// succeeded.
func (r *PlanRunner) Run(ctx context.Context, plan *types.ExecutionPlan) ([]*types.StepResult, error) {
	plan.Normalize()

	ctx, span := r.tracer.Start(ctx, "runner.run", trace.WithAttributes(
		attribute.String("plan.id", plan.ID.String()),
		attribute.Int("plan.steps", len(plan.Steps)),
	))
	defer span.End()

	logger := r.logger.With("plan_id", plan.ID.String())

	// Validation happens on the normalized plan, so the guard sees exactly
	// the retry and risk envelope that would execute.
	if err := r.guard.Validate(ctx, plan); err != nil {
		logger.Warn("plan blocked", "error", err)
		r.publish(events.EventPlanBlocked, plan.ID, "", map[string]any{"error": err.Error()})
		span.SetStatus(codes.Error, "plan blocked")
		return nil, err
	}
	r.publish(events.EventPlanValidated, plan.ID, "", map[string]any{"steps": len(plan.Steps)})

	r.gate.Budget().Start(plan.Task)
	defer r.gate.Budget().Stop()

	r.exec.BindPlan(plan.ID)
	defer r.exec.BindPlan("")
	if r.recovery != nil {
		defer r.recovery.PurgePlan(plan.ID)
	}

	logger.Info("plan started", "task", plan.Task, "steps", len(plan.Steps))

	results := make([]*types.StepResult, 0, len(plan.Steps))
	var recent []string

	for i := range plan.Steps {
		step := &plan.Steps[i]

		res := r.runStep(ctx, step)
		results = append(results, res)

		if !res.Success && r.recovery != nil {
			r.publish(events.EventRecoveryStarted, plan.ID, step.ID, map[string]any{"error": res.Error})
			if r.recovery.HandleFailure(ctx, plan.ID, step, res, recent) {
				r.publish(events.EventRecoverySucceeded, plan.ID, step.ID, nil)
				r.publish(events.EventStepRetrying, plan.ID, step.ID, map[string]any{"after_recovery": true})

				// One retry of the same step, never more.
				res = r.runStep(ctx, step)
				results = append(results, res)
			} else {
				r.publish(events.EventRecoveryExhausted, plan.ID, step.ID, nil)
			}
		}

		if !res.Success {
			reason := fmt.Sprintf("plan halted at step %d (%s): %s", i+1, step.Tool, res.Error)
			logger.Error("plan halted", "step", i+1, "tool", step.Tool, "error", res.Error)
			r.gate.RequestTakeover(safety.TakeoverRecoveryExhausted, reason, map[string]any{
				"plan_id": plan.ID.String(),
				"step_id": step.ID.String(),
			})
			r.publish(events.EventPlanHalted, plan.ID, step.ID, map[string]any{
				"step":  i + 1,
				"error": res.Error,
			})
			span.SetStatus(codes.Error, "plan halted")
			halt := types.NewError(types.RECOVERY_EXHAUSTED, reason)
			return results, halt.WithDetail("step_id", step.ID.String())
		}

		recent = appendRecent(recent, fmt.Sprintf("%s via %s: ok", step.Tool, res.StrategyUsed))
	}

	snapshot := r.gate.Budget().Snapshot()
	logger.Info("plan completed",
		"steps", len(results),
		"actions", snapshot.Actions,
		"retries", snapshot.Retries)
	r.publish(events.EventPlanCompleted, plan.ID, "", map[string]any{"steps": len(results)})
	return results, nil
}

// runStep dispatches one step under its own deadline.
func (r *PlanRunner) runStep(ctx context.Context, step *types.ActionStep) *types.StepResult {
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = types.DefaultStepTimeout
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return r.exec.Execute(stepCtx, step)
}

func (r *PlanRunner) publish(eventType events.EventType, planID, stepID types.ID, payload map[string]any) {
	if r.bus == nil {
		return
	}
	event := events.New(eventType, planID, stepID, payload)
	if err := r.bus.Publish(context.Background(), event); err != nil {
		r.logger.Debug("event publish failed", "type", string(eventType), "error", err)
	}
}

func appendRecent(recent []string, entry string) []string {
	recent = append(recent, entry)
	if len(recent) > recentWindow {
		recent = recent[len(recent)-recentWindow:]
	}
	return recent
}
