package safety

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/surehand-ai/surehand/internal/computer"
	"github.com/surehand-ai/surehand/internal/types"
)

// DefaultRefocusAttempts is how many times the guard tries to pull focus
// back before giving up.
const DefaultRefocusAttempts = 2

// refocusBackoff is the base delay between refocus attempts; attempt n waits
// backoff*(n+1).
const refocusBackoff = 200 * time.Millisecond

// FocusGuard keeps actions inside the expected window. Typing into the wrong
// application is one of the worst failure modes an automation agent has, so
// the executor checks focus before every input-injecting step.
type FocusGuard struct {
	comp        computer.Computer
	maxAttempts int
	logger      *slog.Logger

	mu     sync.Mutex
	target string
}

// NewFocusGuard builds a guard over the given Computer. maxAttempts <= 0
// uses DefaultRefocusAttempts.
func NewFocusGuard(comp computer.Computer, maxAttempts int, logger *slog.Logger) *FocusGuard {
	if maxAttempts <= 0 {
		maxAttempts = DefaultRefocusAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FocusGuard{comp: comp, maxAttempts: maxAttempts, logger: logger}
}

// SetTarget arms the guard against a window title substring.
func (f *FocusGuard) SetTarget(title string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.target = title
}

// ClearTarget disarms the guard; CheckFocus passes unconditionally.
func (f *FocusGuard) ClearTarget() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.target = ""
}

// Target returns the current expectation.
func (f *FocusGuard) Target() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.target
}

// CheckFocus verifies the active window matches the target. When it does
// not and autoRefocus is set, the guard attempts to refocus with backoff;
// if focus cannot be restored it returns FOCUS_LOST.
func (f *FocusGuard) CheckFocus(ctx context.Context, autoRefocus bool) error {
	target := f.Target()
	if target == "" {
		return nil
	}

	actual, ok := f.focused(ctx, target)
	if ok {
		return nil
	}

	f.logger.Warn("focus lost", "expected", target, "actual", actual)

	if autoRefocus {
		if err := f.refocus(ctx, target); err == nil {
			return nil
		}
	}
	return types.NewFocusLostError(actual)
}

// focused reports whether the active window title contains target, and
// returns the actual title either way.
func (f *FocusGuard) focused(ctx context.Context, target string) (string, bool) {
	active, err := f.comp.ActiveWindow(ctx)
	if err != nil {
		return "", false
	}
	return active.Title, strings.Contains(strings.ToLower(active.Title), strings.ToLower(target))
}

func (f *FocusGuard) refocus(ctx context.Context, target string) error {
	var lastErr error
	for attempt := 0; attempt < f.maxAttempts; attempt++ {
		f.logger.Info("refocus attempt", "window", target, "attempt", attempt+1, "max", f.maxAttempts)

		if err := f.comp.FocusWindow(ctx, target); err != nil {
			lastErr = err
		} else if _, ok := f.focused(ctx, target); ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(refocusBackoff * time.Duration(attempt+1)):
		}
	}
	if lastErr == nil {
		lastErr = types.NewFocusLostError(target)
	}
	return lastErr
}
