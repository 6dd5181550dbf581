package safety

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/surehand-ai/surehand/internal/events"
)

// destructiveTools are refused outright while safe mode is on, regardless of
// what the plan validator allowed.
var destructiveTools = map[string]bool{
	"delete_file":  true,
	"kill_process": true,
	"format_disk":  true,
}

// Gate aggregates the session permit, action budget, environment monitor,
// focus guard, and input rate limiter behind a single pause switch. The
// executor consults the gate before every action; anything that pauses the
// gate halts execution until a human resumes it.
//
// All dependencies are injected. There is exactly one Gate per engine and
// its wiring is visible at the construction site.
type Gate struct {
	permit   *SessionPermit
	budget   *ActionBudget
	env      *EnvironmentMonitor
	focus    *FocusGuard
	rate     *InputRateLimiter
	takeover *TakeoverManager

	bus      events.Bus
	logger   *slog.Logger
	safeMode bool

	mu          sync.Mutex
	paused      bool
	pauseReason string
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithSafeMode enables the destructive-tool refusal list.
func WithSafeMode(on bool) GateOption {
	return func(g *Gate) {
		g.safeMode = on
	}
}

// WithBus attaches an event bus for safety notifications.
func WithBus(bus events.Bus) GateOption {
	return func(g *Gate) {
		g.bus = bus
	}
}

// WithGateLogger sets the logger.
func WithGateLogger(logger *slog.Logger) GateOption {
	return func(g *Gate) {
		g.logger = logger
	}
}

// NewGate wires the five guards together. Budget exhaustion and unsafe
// environment transitions pause the gate automatically.
func NewGate(permit *SessionPermit, budget *ActionBudget, env *EnvironmentMonitor, focus *FocusGuard, rate *InputRateLimiter, takeover *TakeoverManager, opts ...GateOption) *Gate {
	g := &Gate{
		permit:   permit,
		budget:   budget,
		env:      env,
		focus:    focus,
		rate:     rate,
		takeover: takeover,
		logger:   slog.Default(),
		safeMode: true,
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.budget != nil {
		g.budget.OnExceeded(g.pauseFromBudget)
	}
	if g.env != nil {
		g.env.OnUnsafe(g.pauseFromEnvironment)
	}
	if g.permit != nil {
		g.permit.OnExpire(func() {
			g.logger.Warn("session permit expired")
			g.publish(events.EventSessionRevoked, map[string]any{"reason": "expired"})
		})
		g.permit.OnRevoke(func(reason string) {
			g.publish(events.EventSessionRevoked, map[string]any{"reason": reason})
		})
	}
	if g.takeover != nil {
		g.takeover.OnRequest(func(req *TakeoverRequest) {
			g.publish(events.EventTakeoverRequested, map[string]any{
				"id":      req.ID.String(),
				"reason":  string(req.Reason),
				"message": req.Message,
			})
		})
	}
	return g
}

// Permit returns the session permit.
func (g *Gate) Permit() *SessionPermit { return g.permit }

// Budget returns the action budget.
func (g *Gate) Budget() *ActionBudget { return g.budget }

// Environment returns the environment monitor.
func (g *Gate) Environment() *EnvironmentMonitor { return g.env }

// Focus returns the focus guard.
func (g *Gate) Focus() *FocusGuard { return g.focus }

// Rate returns the input rate limiter.
func (g *Gate) Rate() *InputRateLimiter { return g.rate }

// Takeover returns the takeover manager.
func (g *Gate) Takeover() *TakeoverManager { return g.takeover }

// SafeMode reports whether destructive tools are refused.
func (g *Gate) SafeMode() bool { return g.safeMode }

// DestructiveBlocked reports whether safe mode refuses the tool.
func (g *Gate) DestructiveBlocked(tool string) bool {
	return g.safeMode && destructiveTools[tool]
}

// Pause halts execution until Resume is called.
func (g *Gate) Pause(reason string) {
	g.mu.Lock()
	g.paused = true
	g.pauseReason = reason
	g.mu.Unlock()

	g.logger.Warn("gate paused", "reason", reason)
}

// Resume clears the gate's own pause and those of the budget and rate
// limiter.
func (g *Gate) Resume() {
	g.mu.Lock()
	g.paused = false
	g.pauseReason = ""
	g.mu.Unlock()

	if g.budget != nil {
		g.budget.Resume()
	}
	if g.rate != nil {
		g.rate.Reset()
	}
	g.logger.Info("gate resumed")
}

// Paused reports whether any layer has execution halted, with the reason.
func (g *Gate) Paused() (bool, string) {
	g.mu.Lock()
	if g.paused {
		reason := g.pauseReason
		g.mu.Unlock()
		return true, reason
	}
	g.mu.Unlock()

	if g.budget != nil {
		if paused, reason := g.budget.Paused(); paused {
			return true, reason
		}
	}
	if g.rate != nil && g.rate.Paused() {
		stats := g.rate.Stats()
		return true, stats.PauseReason
	}
	return false, ""
}

// RequestTakeover pauses the gate and records a handover request.
func (g *Gate) RequestTakeover(reason TakeoverReason, message string, context map[string]any) *TakeoverRequest {
	g.Pause("takeover requested: " + message)
	if g.takeover == nil {
		return nil
	}
	return g.takeover.Request(reason, message, context)
}

// Grant issues a session permit and announces it.
func (g *Gate) Grant(mode PermitMode, apps, folders []string, allowNetwork bool, ttl time.Duration) {
	if g.permit == nil {
		return
	}
	g.permit.Grant(mode, apps, folders, allowNetwork, ttl)
	g.publish(events.EventSessionGranted, map[string]any{
		"mode":          string(mode),
		"apps":          apps,
		"allow_network": allowNetwork,
		"ttl_seconds":   ttl.Seconds(),
	})
}

// Revoke withdraws the session permit and announces it.
func (g *Gate) Revoke(reason string) {
	if g.permit == nil {
		return
	}
	g.permit.Revoke(reason)
}

func (g *Gate) pauseFromBudget(reason string) {
	g.Pause(reason)
	g.publish(events.EventBudgetPaused, map[string]any{"reason": reason})
}

func (g *Gate) pauseFromEnvironment(state EnvState, reason string) {
	g.Pause(reason)
	g.publish(events.EventEnvironmentChanged, map[string]any{
		"state":  string(state),
		"reason": reason,
	})
}

func (g *Gate) publish(eventType events.EventType, payload map[string]any) {
	if g.bus == nil {
		return
	}
	event := events.New(eventType, "", "", payload)
	if err := g.bus.Publish(context.Background(), event); err != nil {
		g.logger.Debug("event publish failed", "type", string(eventType), "error", err)
	}
}
