package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/surehand-ai/surehand/internal/computer"
	"github.com/surehand-ai/surehand/internal/types"
)

// DefaultVerifyInterval is how often the verifier re-checks a pending
// condition.
const DefaultVerifyInterval = 500 * time.Millisecond

// screenTextLimit bounds how much observed screen text a VerifyResult carries.
const screenTextLimit = 200

// Verifier polls a step's post-condition until it holds or the spec's
// timeout elapses. Desktop actions are asynchronous: a click lands, then the
// window repaints, so a single immediate check would fail conditions that
// become true a moment later.
type Verifier struct {
	comp     computer.Computer
	interval time.Duration
	logger   *slog.Logger
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithVerifyInterval overrides the poll interval.
func WithVerifyInterval(d time.Duration) VerifierOption {
	return func(v *Verifier) {
		if d > 0 {
			v.interval = d
		}
	}
}

// WithVerifierLogger sets the structured logger.
func WithVerifierLogger(logger *slog.Logger) VerifierOption {
	return func(v *Verifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// NewVerifier builds a Verifier over the given Computer.
func NewVerifier(comp computer.Computer, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		comp:     comp,
		interval: DefaultVerifyInterval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify polls the condition until it passes or the spec's timeout elapses.
// The result always carries the last observed value, so a timeout still
// tells the caller what the desktop looked like. A nil spec passes.
func (v *Verifier) Verify(ctx context.Context, spec *types.VerifySpec) *types.VerifyResult {
	start := time.Now()
	if spec == nil {
		return &types.VerifyResult{Passed: true}
	}

	deadline := start.Add(spec.EffectiveTimeout())
	var actual string
	for {
		var holds bool
		actual, holds = v.check(ctx, spec)
		if holds != spec.Negate {
			return &types.VerifyResult{Passed: true, Actual: actual, Elapsed: time.Since(start)}
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		wait := v.interval
		if wait > remaining {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			v.logger.Debug("verification canceled",
				"type", string(spec.Type),
				"expected", spec.Expected)
			return &types.VerifyResult{Passed: false, Actual: actual, Elapsed: time.Since(start)}
		case <-time.After(wait):
		}
	}

	v.logger.Debug("verification timed out",
		"type", string(spec.Type),
		"expected", spec.Expected,
		"actual", actual)
	return &types.VerifyResult{Passed: false, Actual: actual, Elapsed: time.Since(start)}
}

// check observes the condition once. Computer errors read as not-holding so
// a transient failure keeps polling instead of aborting.
func (v *Verifier) check(ctx context.Context, spec *types.VerifySpec) (string, bool) {
	switch spec.Type {
	case types.VerifyWindowTitle:
		win, err := v.comp.ActiveWindow(ctx)
		if err != nil {
			return "error: " + err.Error(), false
		}
		return win.Title, containsFold(win.Title, spec.Expected)

	case types.VerifyTextPresent:
		text, err := v.comp.ReadScreenText(ctx)
		if err != nil {
			return "error: " + err.Error(), false
		}
		return truncate(text, screenTextLimit), containsFold(text, spec.Expected)

	case types.VerifyFileExists:
		exists, err := v.comp.FileExists(ctx, spec.Expected)
		if err != nil {
			return "error: " + err.Error(), false
		}
		return fmt.Sprintf("file %s exists=%t", spec.Expected, exists), exists

	case types.VerifyProcessRunning:
		running, err := v.comp.ProcessRunning(ctx, spec.Expected)
		if err != nil {
			return "error: " + err.Error(), false
		}
		return fmt.Sprintf("process %s running=%t", spec.Expected, running), running

	default:
		return fmt.Sprintf("unknown verify type %q", spec.Type), false
	}
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
