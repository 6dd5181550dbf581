package safety

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/surehand-ai/surehand/internal/types"
)

// BudgetConfig bounds a single task run.
type BudgetConfig struct {
	MaxActions             int
	MaxRetries             int
	MaxConsecutiveFailures int
	MaxRuntime             time.Duration
}

// DefaultBudgetConfig returns the stock limits.
func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{
		MaxActions:             50,
		MaxRetries:             20,
		MaxConsecutiveFailures: 5,
		MaxRuntime:             180 * time.Second,
	}
}

// Budget dimensions reported in BUDGET_EXCEEDED errors.
const (
	DimensionActions             = "actions"
	DimensionRetries             = "retries"
	DimensionConsecutiveFailures = "consecutive_failures"
	DimensionRuntime             = "runtime"
)

// BudgetSnapshot is a read-only view of the budget state.
type BudgetSnapshot struct {
	Task                string
	Actions             int
	Retries             int
	ConsecutiveFailures int
	StartedAt           time.Time
	Paused              bool
	PauseReason         string
}

// ActionBudget is the runaway brake: it counts actions, retries, and
// consecutive failures for the current task and enforces a wall-clock
// ceiling through an independent timer. The first breach pauses the budget;
// every Check after that keeps failing with the same dimension until Resume.
type ActionBudget struct {
	mu sync.Mutex

	cfg                 BudgetConfig
	task                string
	actions             int
	retries             int
	consecutiveFailures int
	startedAt           time.Time

	paused          bool
	pauseReason     string
	pausedDimension string

	runtimeTimer *time.Timer
	onExceeded   func(reason string)
	logger       *slog.Logger
}

// NewActionBudget builds a budget with the given limits. Zero-valued fields
// in cfg fall back to the defaults.
func NewActionBudget(cfg BudgetConfig, logger *slog.Logger) *ActionBudget {
	def := DefaultBudgetConfig()
	if cfg.MaxActions <= 0 {
		cfg.MaxActions = def.MaxActions
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = def.MaxConsecutiveFailures
	}
	if cfg.MaxRuntime <= 0 {
		cfg.MaxRuntime = def.MaxRuntime
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ActionBudget{cfg: cfg, logger: logger}
}

// OnExceeded registers the hook fired once per breach, outside the lock.
func (b *ActionBudget) OnExceeded(fn func(reason string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onExceeded = fn
}

// Config returns the active limits.
func (b *ActionBudget) Config() BudgetConfig {
	return b.cfg
}

// Start resets all counters for a new task and arms the runtime timer.
func (b *ActionBudget) Start(task string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.task = task
	b.actions = 0
	b.retries = 0
	b.consecutiveFailures = 0
	b.startedAt = time.Now()
	b.paused = false
	b.pauseReason = ""
	b.pausedDimension = ""

	if b.runtimeTimer != nil {
		b.runtimeTimer.Stop()
	}
	b.runtimeTimer = time.AfterFunc(b.cfg.MaxRuntime, b.runtimeExpired)
}

// Stop disarms the runtime timer and returns the final snapshot.
func (b *ActionBudget) Stop() BudgetSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.runtimeTimer != nil {
		b.runtimeTimer.Stop()
		b.runtimeTimer = nil
	}
	return b.snapshotLocked()
}

// Check returns nil while another action fits in the budget. The first
// breach pauses the budget and returns a typed BUDGET_EXCEEDED error; while
// paused, Check keeps returning that error.
func (b *ActionBudget) Check() error {
	b.mu.Lock()

	if b.paused {
		dim, reason := b.pausedDimension, b.pauseReason
		b.mu.Unlock()
		return budgetError(dim, reason)
	}

	type breach struct {
		dimension string
		current   int
		limit     int
	}
	var br *breach

	switch {
	case b.actions >= b.cfg.MaxActions:
		br = &breach{DimensionActions, b.actions, b.cfg.MaxActions}
	case b.retries >= b.cfg.MaxRetries:
		br = &breach{DimensionRetries, b.retries, b.cfg.MaxRetries}
	case b.consecutiveFailures >= b.cfg.MaxConsecutiveFailures:
		br = &breach{DimensionConsecutiveFailures, b.consecutiveFailures, b.cfg.MaxConsecutiveFailures}
	case !b.startedAt.IsZero() && time.Since(b.startedAt) >= b.cfg.MaxRuntime:
		br = &breach{DimensionRuntime, int(time.Since(b.startedAt).Seconds()), int(b.cfg.MaxRuntime.Seconds())}
	}

	if br == nil {
		b.mu.Unlock()
		return nil
	}

	reason := fmt.Sprintf("%s budget exceeded (%d/%d)", br.dimension, br.current, br.limit)
	b.paused = true
	b.pauseReason = reason
	b.pausedDimension = br.dimension
	hook := b.onExceeded
	task := b.task
	b.mu.Unlock()

	b.logger.Warn("budget exceeded",
		"task", task,
		"dimension", br.dimension,
		"current", br.current,
		"limit", br.limit,
	)
	if hook != nil {
		hook(reason)
	}
	return budgetError(br.dimension, reason)
}

// RecordAction counts one executed action.
func (b *ActionBudget) RecordAction() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.actions++
}

// RecordRetry counts one retry attempt.
func (b *ActionBudget) RecordRetry() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.retries++
}

// RecordSuccess resets the consecutive-failure streak.
func (b *ActionBudget) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
}

// RecordFailure extends the consecutive-failure streak.
func (b *ActionBudget) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures++
}

// Pause manually pauses the budget.
func (b *ActionBudget) Pause(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paused = true
	b.pauseReason = reason
	b.pausedDimension = "manual"
}

// Resume clears the pause and the failure streak. Action and retry counts
// survive; those dimensions stay spent.
func (b *ActionBudget) Resume() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paused = false
	b.pauseReason = ""
	b.pausedDimension = ""
	b.consecutiveFailures = 0
}

// Paused reports the pause flag and its reason.
func (b *ActionBudget) Paused() (bool, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.paused, b.pauseReason
}

// Snapshot returns the current counters.
func (b *ActionBudget) Snapshot() BudgetSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

func (b *ActionBudget) snapshotLocked() BudgetSnapshot {
	return BudgetSnapshot{
		Task:                b.task,
		Actions:             b.actions,
		Retries:             b.retries,
		ConsecutiveFailures: b.consecutiveFailures,
		StartedAt:           b.startedAt,
		Paused:              b.paused,
		PauseReason:         b.pauseReason,
	}
}

func (b *ActionBudget) runtimeExpired() {
	b.mu.Lock()
	if b.paused {
		b.mu.Unlock()
		return
	}
	reason := fmt.Sprintf("%s budget exceeded (%ds)", DimensionRuntime, int(b.cfg.MaxRuntime.Seconds()))
	b.paused = true
	b.pauseReason = reason
	b.pausedDimension = DimensionRuntime
	hook := b.onExceeded
	task := b.task
	b.mu.Unlock()

	b.logger.Warn("runtime budget expired", "task", task, "max_runtime", b.cfg.MaxRuntime)
	if hook != nil {
		hook(reason)
	}
}

func budgetError(dimension, reason string) error {
	err := types.NewBudgetExceededError(dimension)
	err.Message = reason
	return err
}
