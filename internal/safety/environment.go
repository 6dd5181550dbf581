package safety

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/surehand-ai/surehand/internal/computer"
)

// EnvState classifies whether the desktop is safe to drive.
type EnvState string

const (
	EnvNormal        EnvState = "normal"
	EnvLocked        EnvState = "locked"
	EnvSecureDesktop EnvState = "secure_desktop"
	EnvFocusLost     EnvState = "focus_lost"
)

// DefaultEnvInterval is how often the monitor polls the desktop.
const DefaultEnvInterval = 500 * time.Millisecond

// envReasons maps states to the message handed to the unsafe hook.
var envReasons = map[EnvState]string{
	EnvLocked:        "screen is locked",
	EnvSecureDesktop: "secure desktop is active, automation is not possible",
	EnvFocusLost:     "active window changed unexpectedly",
}

// EnvironmentMonitor polls the desktop and fires a hook when it leaves the
// normal state: lock screen, secure desktop, or focus drifting away from the
// expected window. It only fires on transitions, not on every unsafe poll.
type EnvironmentMonitor struct {
	comp     computer.Computer
	interval time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	expected string
	last     EnvState
	onUnsafe func(state EnvState, reason string)
	cancel   context.CancelFunc
	done     chan struct{}
}

// EnvOption configures an EnvironmentMonitor.
type EnvOption func(*EnvironmentMonitor)

// WithEnvInterval overrides the poll interval.
func WithEnvInterval(d time.Duration) EnvOption {
	return func(m *EnvironmentMonitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithEnvLogger sets the structured logger.
func WithEnvLogger(logger *slog.Logger) EnvOption {
	return func(m *EnvironmentMonitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewEnvironmentMonitor builds a monitor over the given Computer.
func NewEnvironmentMonitor(comp computer.Computer, opts ...EnvOption) *EnvironmentMonitor {
	m := &EnvironmentMonitor{
		comp:     comp,
		interval: DefaultEnvInterval,
		logger:   slog.Default(),
		last:     EnvNormal,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnUnsafe registers the hook fired when the state transitions away from
// normal.
func (m *EnvironmentMonitor) OnUnsafe(fn func(state EnvState, reason string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUnsafe = fn
}

// SetExpectedWindow arms focus tracking against the given title substring.
func (m *EnvironmentMonitor) SetExpectedWindow(title string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expected = title
}

// ClearExpectedWindow disables focus tracking.
func (m *EnvironmentMonitor) ClearExpectedWindow() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expected = ""
}

// State classifies the desktop right now. Secure desktop outranks lock,
// which outranks focus loss.
func (m *EnvironmentMonitor) State(ctx context.Context) EnvState {
	if secure, err := m.comp.IsSecureDesktop(ctx); err == nil && secure {
		return EnvSecureDesktop
	}
	if locked, err := m.comp.IsScreenLocked(ctx); err == nil && locked {
		return EnvLocked
	}

	m.mu.Lock()
	expected := m.expected
	m.mu.Unlock()

	if expected != "" {
		active, err := m.comp.ActiveWindow(ctx)
		if err != nil || !strings.Contains(strings.ToLower(active.Title), strings.ToLower(expected)) {
			return EnvFocusLost
		}
	}
	return EnvNormal
}

// Start launches the polling goroutine. Calling Start on a running monitor
// is a no-op.
func (m *EnvironmentMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	go m.loop(ctx, done)
}

// Stop halts the polling goroutine and waits for it to exit.
func (m *EnvironmentMonitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (m *EnvironmentMonitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

func (m *EnvironmentMonitor) poll(ctx context.Context) {
	state := m.State(ctx)

	m.mu.Lock()
	transitioned := state != m.last
	m.last = state
	hook := m.onUnsafe
	m.mu.Unlock()

	if !transitioned || state == EnvNormal {
		return
	}

	reason := envReasons[state]
	m.logger.Warn("environment became unsafe", "state", string(state), "reason", reason)
	if hook != nil {
		hook(state, reason)
	}
}
