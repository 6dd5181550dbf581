package executor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/surehand-ai/surehand/internal/computer"
	"github.com/surehand-ai/surehand/internal/events"
	"github.com/surehand-ai/surehand/internal/learning"
	"github.com/surehand-ai/surehand/internal/safety"
	"github.com/surehand-ai/surehand/internal/strategy"
	"github.com/surehand-ai/surehand/internal/types"
)

// defaultRetryDelays backs off between attempts of the same strategy.
// Attempts beyond the list reuse the last delay.
var defaultRetryDelays = []time.Duration{
	500 * time.Millisecond,
	1 * time.Second,
	2 * time.Second,
}

// Executor runs one step at a time through the safety gate and the strategy
// cascade. Execute never returns an error: every failure is encoded in the
// StepResult so callers get a uniform stream of outcomes.
type Executor struct {
	comp       computer.Computer
	gate       *safety.Gate
	strategies []strategy.Strategy

	cache    *SelectorCache
	verifier *Verifier
	ranker   *learning.StrategyRanker
	bus      events.Bus

	retryDelays   []time.Duration
	screenshotDir string

	logger *slog.Logger
	tracer trace.Tracer

	mu     sync.Mutex
	planID types.ID
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTracer sets the tracer for execution spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Executor) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithCache replaces the default selector cache.
func WithCache(cache *SelectorCache) Option {
	return func(e *Executor) {
		if cache != nil {
			e.cache = cache
		}
	}
}

// WithVerifier replaces the default post-condition verifier.
func WithVerifier(v *Verifier) Option {
	return func(e *Executor) {
		if v != nil {
			e.verifier = v
		}
	}
}

// WithRanker enables learned strategy ordering.
func WithRanker(r *learning.StrategyRanker) Option {
	return func(e *Executor) { e.ranker = r }
}

// WithRetryDelays overrides the between-attempt backoff schedule.
func WithRetryDelays(delays []time.Duration) Option {
	return func(e *Executor) {
		if len(delays) > 0 {
			e.retryDelays = delays
		}
	}
}

// WithScreenshotDir enables before/after screenshot capture into dir.
func WithScreenshotDir(dir string) Option {
	return func(e *Executor) { e.screenshotDir = dir }
}

// WithEvents publishes step lifecycle events to the bus.
func WithEvents(bus events.Bus) Option {
	return func(e *Executor) { e.bus = bus }
}

// New builds an Executor. The strategy set is fixed at construction; the
// cascade always consults them in ascending priority order unless the
// learned ranker reorders the middle band.
func New(comp computer.Computer, gate *safety.Gate, strategies []strategy.Strategy, opts ...Option) *Executor {
	e := &Executor{
		comp:        comp,
		gate:        gate,
		strategies:  strategy.ByPriority(strategies),
		retryDelays: defaultRetryDelays,
		logger:      slog.Default(),
		tracer:      noop.NewTracerProvider().Tracer("executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cache == nil {
		e.cache = NewSelectorCache(0, 0)
	}
	if e.verifier == nil {
		e.verifier = NewVerifier(comp, WithVerifierLogger(e.logger))
	}
	return e
}

// Cache exposes the selector cache for invalidation by recovery and the CLI.
func (e *Executor) Cache() *SelectorCache { return e.cache }

// BindPlan stamps subsequent step events with the plan id. The runner owns
// this; the execution loop is single-threaded so repair steps executed
// mid-plan inherit the right id.
func (e *Executor) BindPlan(planID types.ID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.planID = planID
}

func (e *Executor) currentPlan() types.ID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.planID
}

// Execute runs one step to completion: safety gates, cache lookup, strategy
// cascade with per-strategy retries, post-condition verification, and
// bookkeeping. The step's Selector field may be populated from the cache;
// everything else is treated as immutable.
func (e *Executor) Execute(ctx context.Context, step *types.ActionStep) *types.StepResult {
	start := time.Now()
	step.Normalize()
	work := step.Clone()

	ctx, span := e.tracer.Start(ctx, "executor.execute", trace.WithAttributes(
		attribute.String("step.id", work.ID.String()),
		attribute.String("step.tool", work.Tool),
	))
	defer span.End()

	e.publish(events.EventStepStarted, work.ID, map[string]any{
		"tool": work.Tool,
		"risk": string(work.Risk),
	})

	res := e.execute(ctx, work)
	res.Duration = time.Since(start)

	if res.Success {
		span.SetAttributes(
			attribute.String("strategy", string(res.StrategyUsed)),
			attribute.Int("attempts", res.Attempts),
		)
		e.logger.Info("step completed",
			"step_id", work.ID.String(),
			"tool", work.Tool,
			"strategy", string(res.StrategyUsed),
			"attempts", res.Attempts,
			"duration", res.Duration)
		e.publish(events.EventStepCompleted, work.ID, map[string]any{"result": res})
	} else {
		span.SetStatus(codes.Error, res.Error)
		e.logger.Warn("step failed",
			"step_id", work.ID.String(),
			"tool", work.Tool,
			"attempts", res.Attempts,
			"error", res.Error)
		e.publish(events.EventStepFailed, work.ID, map[string]any{"result": res})
	}
	return res
}

// execute applies the gate checks in short-circuit order, then runs the
// cascade. Duration is stamped by the caller.
func (e *Executor) execute(ctx context.Context, step *types.ActionStep) *types.StepResult {
	// Paused automation refuses everything until a human resumes it.
	if paused, reason := e.gate.Paused(); paused {
		err := types.NewError(types.PERMISSION_DENIED, "automation is paused: "+reason)
		return types.TakeoverResult(step.ID, err, reason)
	}

	// The safe-mode refusal outranks every other check: a destructive tool
	// never reaches a strategy, whatever the permit says.
	if e.gate.DestructiveBlocked(step.Tool) {
		err := types.NewError(types.PERMISSION_DENIED, "safe mode blocks destructive tool "+step.Tool)
		return types.TakeoverResult(step.ID, err, "destructive tool "+step.Tool+" requires human confirmation")
	}

	if err := e.gate.Permit().Ensure(); err != nil {
		return types.FailureResult(step.ID, err)
	}

	if err := e.gate.Budget().Check(); err != nil {
		return types.FailureResult(step.ID, err)
	}

	if state := e.gate.Environment().State(ctx); state != safety.EnvNormal {
		return types.FailureResult(step.ID, types.NewEnvironmentUnsafeError(string(state)))
	}

	if err := e.gate.Focus().CheckFocus(ctx, true); err != nil {
		return types.FailureResult(step.ID, err)
	}

	if err := e.recordInputRate(step); err != nil {
		return types.TakeoverResult(step.ID, err, "input rate exceeded safe limits")
	}

	// Before-state capture is diagnostics, never a failure reason.
	windowTitle, appKey := e.activeWindowKeys(ctx)
	before := e.captureScreenshot(ctx, step.ID, "before")

	key := Key(step.Tool, step.Args, windowTitle)
	if step.Selector == nil {
		if sel, ok := e.cache.Get(key); ok {
			step.Selector = sel
		}
	}

	result := e.cascade(ctx, step, key, appKey)
	result.BeforeShot = before
	if result.Success {
		result.AfterShot = e.captureScreenshot(ctx, step.ID, "after")
	}
	return result
}

// cascade tries every capable strategy in order, with per-strategy retries
// and verification, and does the budget, cache, and learning bookkeeping.
func (e *Executor) cascade(ctx context.Context, step *types.ActionStep, key, appKey string) *types.StepResult {
	budget := e.gate.Budget()
	ordered := e.orderedStrategies(ctx, appKey)

	attempts := 0
	var lastErr error
	var verification *types.VerifyResult

	for _, strat := range ordered {
		if ctx.Err() != nil {
			if lastErr == nil {
				lastErr = types.WrapError(types.STRATEGY_FAILED, "step canceled", ctx.Err())
			}
			break
		}
		if !strat.CanHandle(step) {
			continue
		}

		maxAttempts := step.MaxRetries
		if maxAttempts < 1 {
			maxAttempts = 1
		}

		strategyFailed := false
		for attempt := 0; attempt < maxAttempts; attempt++ {
			if attempts > 0 {
				budget.RecordRetry()
				e.publish(events.EventStepRetrying, step.ID, map[string]any{
					"attempt":  attempts + 1,
					"strategy": string(strat.Name()),
				})
			}
			if attempt > 0 {
				if err := e.backoff(ctx, attempt-1); err != nil {
					lastErr = types.WrapError(types.STRATEGY_FAILED, "step canceled", err)
					strategyFailed = true
					break
				}
			}
			attempts++

			res := strat.Execute(ctx, step)
			if !res.Success {
				lastErr = res.Err
				if lastErr == nil {
					lastErr = types.NewStrategyFailedError(string(strat.Name()) + " failed")
				}
				e.logger.Debug("strategy attempt failed",
					"step_id", step.ID.String(),
					"strategy", string(strat.Name()),
					"attempt", attempts,
					"error", lastErr.Error())
				strategyFailed = true
				continue
			}

			if step.Verify != nil {
				verification = e.verifier.Verify(ctx, step.Verify)
				if !verification.Passed {
					lastErr = types.NewVerificationFailedError(verification.Actual)
					strategyFailed = true
					continue
				}
			}

			// Verified success.
			budget.RecordAction()
			budget.RecordSuccess()
			e.gate.Permit().MarkUsed()
			if res.Selector != nil {
				e.cache.Set(key, res.Selector)
			}
			if e.ranker != nil {
				e.ranker.RecordOutcome(ctx, appKey, strat.Name(), true)
			}
			return &types.StepResult{
				StepID:       step.ID,
				Success:      true,
				StrategyUsed: strat.Name(),
				Attempts:     attempts,
				Verification: verification,
				Selector:     res.Selector,
			}
		}

		if strategyFailed && e.ranker != nil {
			e.ranker.RecordOutcome(ctx, appKey, strat.Name(), false)
		}
	}

	// Exhausted: no capable strategy produced a verified success.
	budget.RecordAction()
	budget.RecordFailure()
	e.cache.Invalidate(key)

	if lastErr == nil {
		lastErr = types.NewError(types.STRATEGY_FAILED, "no strategy can handle tool "+step.Tool)
	}

	result := types.TakeoverResult(step.ID, lastErr,
		fmt.Sprintf("step %s failed after %d attempts", step.Tool, attempts))
	result.Attempts = attempts
	result.Verification = verification
	return result
}

// orderedStrategies applies the learned ranking on top of the priority sort.
func (e *Executor) orderedStrategies(ctx context.Context, appKey string) []strategy.Strategy {
	if e.ranker == nil || appKey == "" {
		return e.strategies
	}

	kinds := make([]types.StrategyKind, len(e.strategies))
	byName := make(map[types.StrategyKind]strategy.Strategy, len(e.strategies))
	for i, s := range e.strategies {
		kinds[i] = s.Name()
		byName[s.Name()] = s
	}

	ordered := e.ranker.Order(ctx, appKey, kinds)
	out := make([]strategy.Strategy, 0, len(ordered))
	for _, kind := range ordered {
		if s, ok := byName[kind]; ok {
			out = append(out, s)
		}
	}
	return out
}

// recordInputRate charges the step against the input rate limiter before any
// injection happens. type_text is charged per keystroke.
func (e *Executor) recordInputRate(step *types.ActionStep) error {
	rate := e.gate.Rate()
	switch step.Tool {
	case "type_text":
		return rate.RecordKeys(len(step.StringArg("text")))
	case "press_key":
		return rate.RecordKeys(1)
	case "click", "double_click", "right_click":
		return rate.RecordClick()
	}
	return nil
}

// activeWindowKeys reads the foreground window once for the cache key and
// the learning app key. Best-effort: a failure yields empty keys.
func (e *Executor) activeWindowKeys(ctx context.Context) (windowTitle, appKey string) {
	win, err := e.comp.ActiveWindow(ctx)
	if err != nil {
		return "", ""
	}
	appKey = win.App
	if appKey == "" {
		appKey = win.Title
	}
	return win.Title, appKey
}

// captureScreenshot saves a screenshot named after the step and phase.
// Returns the file path, or "" when capture is disabled or fails.
func (e *Executor) captureScreenshot(ctx context.Context, stepID types.ID, phase string) string {
	if e.screenshotDir == "" {
		return ""
	}
	shot, err := e.comp.Screenshot(ctx)
	if err != nil || len(shot) == 0 {
		return ""
	}
	path := filepath.Join(e.screenshotDir, fmt.Sprintf("%s_%s.png", stepID.String(), phase))
	if err := os.WriteFile(path, shot, 0o644); err != nil {
		e.logger.Debug("screenshot write failed", "path", path, "error", err)
		return ""
	}
	return path
}

// backoff sleeps the schedule's delay for the given retry index, honoring
// cancellation.
func (e *Executor) backoff(ctx context.Context, idx int) error {
	if idx >= len(e.retryDelays) {
		idx = len(e.retryDelays) - 1
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(e.retryDelays[idx]):
		return nil
	}
}

func (e *Executor) publish(eventType events.EventType, stepID types.ID, payload map[string]any) {
	if e.bus == nil {
		return
	}
	event := events.New(eventType, e.currentPlan(), stepID, payload)
	if err := e.bus.Publish(context.Background(), event); err != nil {
		e.logger.Debug("event publish failed", "type", string(eventType), "error", err)
	}
}
