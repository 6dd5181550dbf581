package executor

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surehand-ai/surehand/internal/computer"
	"github.com/surehand-ai/surehand/internal/events"
	"github.com/surehand-ai/surehand/internal/learning"
	"github.com/surehand-ai/surehand/internal/safety"
	"github.com/surehand-ai/surehand/internal/strategy"
	"github.com/surehand-ai/surehand/internal/types"
)

func newTestGate(t *testing.T, f *computer.Fake) *safety.Gate {
	t.Helper()
	return safety.NewGate(
		safety.NewSessionPermit(),
		safety.NewActionBudget(safety.BudgetConfig{}, nil),
		safety.NewEnvironmentMonitor(f),
		safety.NewFocusGuard(f, 0, nil),
		safety.NewInputRateLimiter(safety.RateConfig{}, nil),
		safety.NewTakeoverManager(nil),
	)
}

// newTestExecutor wires a granted gate and the full strategy set over the
// fake, with a millisecond backoff so retry tests stay fast.
func newTestExecutor(t *testing.T, f *computer.Fake, opts ...Option) (*Executor, *safety.Gate) {
	t.Helper()
	gate := newTestGate(t, f)
	gate.Grant(safety.ModeSession, []string{"notepad.exe"}, nil, false, time.Minute)

	base := []Option{WithRetryDelays([]time.Duration{time.Millisecond})}
	exec := New(f, gate, strategy.DefaultSet(f, nil, nil), append(base, opts...)...)
	return exec, gate
}

func notepadFake(opts ...computer.FakeOption) *computer.Fake {
	all := append([]computer.FakeOption{
		computer.WithActiveWindow("Untitled - Notepad", "notepad.exe"),
	}, opts...)
	return computer.NewFake(all...)
}

func TestExecuteOpenAppUsesSystemStrategy(t *testing.T) {
	f := notepadFake()
	exec, gate := newTestExecutor(t, f)

	step := &types.ActionStep{Tool: "open_app", Args: map[string]any{"app_name": "notepad.exe"}}
	res := exec.Execute(context.Background(), step)

	require.True(t, res.Success, "error: %s", res.Error)
	assert.Equal(t, types.StrategySystem, res.StrategyUsed)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, f.CallCount("launch_app"))
	assert.Equal(t, 1, gate.Budget().Snapshot().Actions)
}

func TestExecuteCascadeFallsThroughToVision(t *testing.T) {
	// No accessibility control is registered, so the tree lookup fails and
	// the cascade drops to the vision template.
	f := notepadFake(
		computer.WithTemplate("save_btn", types.Rect{X: 100, Y: 100, Width: 40, Height: 20}, 0.92),
	)
	exec, gate := newTestExecutor(t, f)

	step := &types.ActionStep{
		Tool:       "click",
		Args:       map[string]any{"name": "Save", "control_type": "Button", "template": "save_btn"},
		MaxRetries: 1,
	}
	res := exec.Execute(context.Background(), step)

	require.True(t, res.Success, "error: %s", res.Error)
	assert.Equal(t, types.StrategyVision, res.StrategyUsed)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 1, f.CallCount("find_control"))
	assert.Equal(t, 1, f.CallCount("match_template"))
	assert.Equal(t, 1, f.CallCount("click"))
	assert.Equal(t, 1, gate.Budget().Snapshot().Retries)

	require.NotNil(t, res.Selector)
	assert.Equal(t, types.StrategyVision, res.Selector.Strategy)
}

func TestExecutePausedGateRefuses(t *testing.T) {
	f := notepadFake()
	exec, gate := newTestExecutor(t, f)
	gate.Pause("operator hold")

	res := exec.Execute(context.Background(), &types.ActionStep{
		Tool: "click",
		Args: map[string]any{"x": 10, "y": 10},
	})

	require.False(t, res.Success)
	assert.True(t, res.TakeoverRequired)
	assert.Contains(t, res.Error, "PERMISSION_DENIED")
	assert.Contains(t, res.Error, "paused")
	assert.Empty(t, f.Calls(), "a paused gate must stop the step before any desktop call")
}

func TestExecuteSafeModeBlocksDestructiveTools(t *testing.T) {
	f := notepadFake()
	exec, _ := newTestExecutor(t, f)

	res := exec.Execute(context.Background(), &types.ActionStep{
		Tool: "delete_file",
		Args: map[string]any{"path": `C:\temp\out.txt`},
	})

	require.False(t, res.Success)
	assert.True(t, res.TakeoverRequired)
	assert.Contains(t, res.Error, "safe mode")
	assert.Contains(t, res.TakeoverReason, "delete_file")
	assert.Empty(t, f.Calls())
}

func TestExecuteRequiresPermit(t *testing.T) {
	f := notepadFake()
	exec, gate := newTestExecutor(t, f)
	gate.Revoke("test teardown")

	res := exec.Execute(context.Background(), &types.ActionStep{
		Tool: "open_app",
		Args: map[string]any{"app_name": "notepad.exe"},
	})

	require.False(t, res.Success)
	assert.False(t, res.TakeoverRequired, "a missing permit is an ordinary refusal, not a takeover")
	assert.Contains(t, res.Error, "PERMISSION_DENIED")
	assert.Equal(t, 0, f.CallCount("launch_app"))
}

func TestExecuteBudgetBreachPausesEverything(t *testing.T) {
	f := notepadFake()
	exec, gate := newTestExecutor(t, f)

	for i := 0; i < safety.DefaultBudgetConfig().MaxConsecutiveFailures; i++ {
		gate.Budget().RecordFailure()
	}

	step := &types.ActionStep{Tool: "open_app", Args: map[string]any{"app_name": "notepad.exe"}}

	res := exec.Execute(context.Background(), step)
	require.False(t, res.Success)
	assert.Contains(t, res.Error, "BUDGET_EXCEEDED")
	assert.Contains(t, res.Error, "consecutive_failures")

	// The breach pauses the gate, so the next step is refused before the
	// budget is even consulted.
	res = exec.Execute(context.Background(), step)
	require.False(t, res.Success)
	assert.True(t, res.TakeoverRequired)
	assert.Contains(t, res.Error, "paused")
	assert.Equal(t, 0, f.CallCount("launch_app"))
}

func TestExecuteEnvironmentUnsafeBlocks(t *testing.T) {
	f := notepadFake()
	f.Locked = true
	exec, _ := newTestExecutor(t, f)

	res := exec.Execute(context.Background(), &types.ActionStep{
		Tool: "open_app",
		Args: map[string]any{"app_name": "notepad.exe"},
	})

	require.False(t, res.Success)
	assert.Contains(t, res.Error, "ENVIRONMENT_UNSAFE")
	assert.Contains(t, res.Error, "locked")
	assert.Equal(t, 0, f.CallCount("launch_app"))
}

func TestExecuteFocusGuardBlocks(t *testing.T) {
	f := notepadFake()
	exec, gate := newTestExecutor(t, f)
	gate.Focus().SetTarget("Slack")

	res := exec.Execute(context.Background(), &types.ActionStep{
		Tool: "type_text",
		Args: map[string]any{"text": "hi"},
	})

	require.False(t, res.Success)
	assert.Contains(t, res.Error, "FOCUS_LOST")
	assert.Equal(t, 0, f.CallCount("type_text"))
	assert.Greater(t, f.CallCount("focus_window"), 0, "the guard should have tried to refocus")
}

func TestExecuteRateLimitHardStop(t *testing.T) {
	f := notepadFake()
	exec, gate := newTestExecutor(t, f)

	// 61 keystrokes in one burst crosses 30/sec * 2.0 hard multiplier.
	text := make([]byte, 61)
	for i := range text {
		text[i] = 'a'
	}
	res := exec.Execute(context.Background(), &types.ActionStep{
		Tool: "type_text",
		Args: map[string]any{"text": string(text)},
	})

	require.False(t, res.Success)
	assert.True(t, res.TakeoverRequired)
	assert.Contains(t, res.Error, "RATE_LIMIT_EXCEEDED")
	assert.Equal(t, 0, f.CallCount("type_text"), "the burst must be stopped before injection")

	paused, reason := gate.Paused()
	assert.True(t, paused)
	assert.Contains(t, reason, "rate")
}

func TestExecuteCachesWinningSelector(t *testing.T) {
	f := notepadFake(computer.WithControl(&types.UISelector{
		Name:        "Save",
		ControlType: "Button",
		Bounds:      types.Rect{X: 10, Y: 20, Width: 80, Height: 24},
		Confidence:  0.98,
	}))
	exec, _ := newTestExecutor(t, f)

	step := func() *types.ActionStep {
		return &types.ActionStep{Tool: "click", Args: map[string]any{"name": "Save"}}
	}

	res := exec.Execute(context.Background(), step())
	require.True(t, res.Success, "error: %s", res.Error)
	assert.Equal(t, 1, exec.Cache().Len())

	res = exec.Execute(context.Background(), step())
	require.True(t, res.Success)

	hits, misses, _ := exec.Cache().Stats()
	assert.Equal(t, 1, hits, "the second identical step should hit the cache")
	assert.Equal(t, 1, misses)
}

func TestExecuteCachedSelectorEnablesCoordsFallback(t *testing.T) {
	f := notepadFake()
	exec, _ := newTestExecutor(t, f)

	// A prior run resolved this click; only the cached geometry remains
	// usable because no strategy arguments are present.
	exec.Cache().Set(Key("click", nil, "Untitled - Notepad"), &types.UISelector{
		Strategy:   types.StrategyCoords,
		Bounds:     types.Rect{X: 10, Y: 20, Width: 30, Height: 10},
		Confidence: 0.5,
	})

	res := exec.Execute(context.Background(), &types.ActionStep{Tool: "click", MaxRetries: 1})

	require.True(t, res.Success, "error: %s", res.Error)
	assert.Equal(t, types.StrategyCoords, res.StrategyUsed)
	assert.Contains(t, f.Calls(), "click 25,25")
}

func TestExecuteVerificationFailureRetriesThenFails(t *testing.T) {
	f := notepadFake()
	exec, gate := newTestExecutor(t, f,
		WithVerifier(NewVerifier(f, WithVerifyInterval(5*time.Millisecond))),
	)

	step := &types.ActionStep{
		Tool:       "click",
		Args:       map[string]any{"x": 50, "y": 60},
		MaxRetries: 2,
		Verify: &types.VerifySpec{
			Type:     types.VerifyWindowTitle,
			Expected: "Success Dialog",
			Timeout:  20 * time.Millisecond,
		},
	}
	res := exec.Execute(context.Background(), step)

	require.False(t, res.Success)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 2, f.CallCount("click"), "the action itself succeeded, so each retry re-clicks")
	assert.Contains(t, res.Error, "VERIFICATION_FAILED")
	assert.Contains(t, res.Error, `last observed "Untitled - Notepad"`)
	require.NotNil(t, res.Verification)
	assert.False(t, res.Verification.Passed)
	assert.Equal(t, 1, gate.Budget().Snapshot().Retries)
}

func TestExecuteVerificationPasses(t *testing.T) {
	f := notepadFake()
	exec, _ := newTestExecutor(t, f,
		WithVerifier(NewVerifier(f, WithVerifyInterval(5*time.Millisecond))),
	)

	res := exec.Execute(context.Background(), &types.ActionStep{
		Tool: "click",
		Args: map[string]any{"x": 50, "y": 60},
		Verify: &types.VerifySpec{
			Type:     types.VerifyWindowTitle,
			Expected: "Notepad",
			Timeout:  50 * time.Millisecond,
		},
	})

	require.True(t, res.Success, "error: %s", res.Error)
	assert.Equal(t, 1, res.Attempts)
	require.NotNil(t, res.Verification)
	assert.True(t, res.Verification.Passed)
}

func TestExecuteRecordsLearningOutcomes(t *testing.T) {
	f := notepadFake(
		computer.WithTemplate("save_btn", types.Rect{X: 100, Y: 100, Width: 40, Height: 20}, 0.9),
	)
	store := learning.NewMemoryStore()
	exec, _ := newTestExecutor(t, f, WithRanker(learning.NewStrategyRanker(store)))

	step := &types.ActionStep{
		Tool:       "click",
		Args:       map[string]any{"name": "Save", "control_type": "Button", "template": "save_btn"},
		MaxRetries: 1,
	}
	res := exec.Execute(context.Background(), step)
	require.True(t, res.Success, "error: %s", res.Error)

	stats, err := store.Stats(context.Background(), "notepad.exe")
	require.NoError(t, err)
	require.Len(t, stats, 2)

	assert.Equal(t, types.StrategyAccessibility, stats[0].Strategy)
	assert.Equal(t, 1, stats[0].Failures)
	assert.Equal(t, 0, stats[0].Successes)

	assert.Equal(t, types.StrategyVision, stats[1].Strategy)
	assert.Equal(t, 1, stats[1].Successes)
	assert.Equal(t, 0, stats[1].Failures)
}

func TestExecuteEmitsStepEvents(t *testing.T) {
	f := notepadFake()
	bus := events.NewBus()
	defer bus.Close()
	ch, unsubscribe := bus.Subscribe(context.Background(), events.Filter{}, 16)
	defer unsubscribe()

	exec, _ := newTestExecutor(t, f, WithEvents(bus))

	res := exec.Execute(context.Background(), &types.ActionStep{
		Tool: "open_app",
		Args: map[string]any{"app_name": "notepad.exe"},
	})
	require.True(t, res.Success)

	started := <-ch
	assert.Equal(t, events.EventStepStarted, started.Type)
	assert.Equal(t, "open_app", started.Payload["tool"])

	completed := <-ch
	assert.Equal(t, events.EventStepCompleted, completed.Type)
	assert.NotNil(t, completed.Payload["result"])
}

func TestExecuteNoCapableStrategy(t *testing.T) {
	f := notepadFake()
	exec, _ := newTestExecutor(t, f)

	res := exec.Execute(context.Background(), &types.ActionStep{Tool: "telepathy"})

	require.False(t, res.Success)
	assert.True(t, res.TakeoverRequired)
	assert.Equal(t, 0, res.Attempts)
	assert.Contains(t, res.Error, "no strategy can handle tool telepathy")
}

func TestExecuteOncePermitConsumed(t *testing.T) {
	f := notepadFake()
	exec, gate := newTestExecutor(t, f)
	gate.Grant(safety.ModeOnce, []string{"notepad.exe"}, nil, false, time.Minute)

	step := func() *types.ActionStep {
		return &types.ActionStep{Tool: "open_app", Args: map[string]any{"app_name": "notepad.exe"}}
	}

	res := exec.Execute(context.Background(), step())
	require.True(t, res.Success, "error: %s", res.Error)

	res = exec.Execute(context.Background(), step())
	require.False(t, res.Success)
	assert.Contains(t, res.Error, "already used")
}

func TestExecuteCapturesScreenshots(t *testing.T) {
	f := notepadFake()
	dir := t.TempDir()
	exec, _ := newTestExecutor(t, f, WithScreenshotDir(dir))

	res := exec.Execute(context.Background(), &types.ActionStep{
		Tool: "open_app",
		Args: map[string]any{"app_name": "notepad.exe"},
	})

	require.True(t, res.Success)
	require.NotEmpty(t, res.BeforeShot)
	require.NotEmpty(t, res.AfterShot)

	for _, path := range []string{res.BeforeShot, res.AfterShot} {
		_, err := os.Stat(path)
		assert.NoError(t, err, "screenshot file %s should exist", path)
	}
}

func TestExecuteCanceledContextStopsCascade(t *testing.T) {
	f := notepadFake()
	exec, _ := newTestExecutor(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := exec.Execute(ctx, &types.ActionStep{
		Tool: "open_app",
		Args: map[string]any{"app_name": "notepad.exe"},
	})

	require.False(t, res.Success)
	assert.Contains(t, res.Error, "canceled")
	assert.Equal(t, 0, res.Attempts)
	assert.Equal(t, 0, f.CallCount("launch_app"))
}
