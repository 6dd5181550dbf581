package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surehand-ai/surehand/internal/computer"
	"github.com/surehand-ai/surehand/internal/events"
	"github.com/surehand-ai/surehand/internal/guard"
	"github.com/surehand-ai/surehand/internal/planner"
	"github.com/surehand-ai/surehand/internal/recovery"
	"github.com/surehand-ai/surehand/internal/safety"
	"github.com/surehand-ai/surehand/internal/types"
)

// repairPlanner hands back one canned repair plan and counts how often it
// was asked.
type repairPlanner struct {
	repair      *types.ExecutionPlan
	repairErr   error
	repairCalls int
}

func (p *repairPlanner) BuildPlan(ctx context.Context, task string) (*types.ExecutionPlan, error) {
	return nil, errors.New("not implemented")
}

func (p *repairPlanner) ProposeRepair(ctx context.Context, req *planner.RepairRequest) (*types.ExecutionPlan, error) {
	p.repairCalls++
	if p.repairErr != nil {
		return nil, p.repairErr
	}
	return p.repair, nil
}

func newTestRunner(t *testing.T, f *computer.Fake, opts ...RunnerOption) (*PlanRunner, *Executor, *safety.Gate) {
	t.Helper()
	exec, gate := newTestExecutor(t, f)
	g := guard.New(guard.DefaultConfig(), gate.Permit())
	return NewPlanRunner(exec, g, gate, opts...), exec, gate
}

func TestRunnerHappyPath(t *testing.T) {
	f := notepadFake()
	runner, _, gate := newTestRunner(t, f)

	plan := &types.ExecutionPlan{
		Task: "write a note",
		Steps: []types.ActionStep{
			{Tool: "open_app", Args: map[string]any{"app_name": "notepad.exe"}, MaxRetries: 1},
			{Tool: "click", Args: map[string]any{"x": 100, "y": 200}, MaxRetries: 1},
		},
	}

	results, err := runner.Run(context.Background(), plan)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, types.StrategySystem, results[0].StrategyUsed)
	assert.Equal(t, types.StrategyCoords, results[1].StrategyUsed)

	snapshot := gate.Budget().Snapshot()
	assert.Equal(t, "write a note", snapshot.Task)
	assert.Equal(t, 2, snapshot.Actions)
}

func TestRunnerBlockedPlanNeverExecutes(t *testing.T) {
	f := notepadFake()
	bus := events.NewBus()
	defer bus.Close()
	ch, unsubscribe := bus.Subscribe(context.Background(), events.Filter{}, 16)
	defer unsubscribe()

	runner, _, _ := newTestRunner(t, f, WithRunnerEvents(bus))

	plan := &types.ExecutionPlan{
		Task: "cleanup",
		Steps: []types.ActionStep{
			{Tool: "run_shell", Args: map[string]any{"command": `del /f /q C:\*`}},
		},
	}

	results, err := runner.Run(context.Background(), plan)
	require.Error(t, err)
	assert.Nil(t, results)
	assert.Contains(t, err.Error(), "blocked")
	assert.Empty(t, f.Calls(), "a blocked plan must never touch the desktop")

	blocked := <-ch
	assert.Equal(t, events.EventPlanBlocked, blocked.Type)
	assert.Equal(t, plan.ID, blocked.PlanID)
}

func TestRunnerRecoversVerificationFailure(t *testing.T) {
	f := computer.NewFake(computer.WithActiveWindow("Wrong Window", "other.exe"))
	f.Windows = []computer.WindowInfo{
		{Title: "Untitled - Notepad", App: "notepad.exe", Handle: 2},
	}

	exec, gate := newTestExecutor(t, f,
		WithVerifier(NewVerifier(f, WithVerifyInterval(5*time.Millisecond))),
	)
	g := guard.New(guard.DefaultConfig(), gate.Permit())

	p := &repairPlanner{repair: &types.ExecutionPlan{
		Steps: []types.ActionStep{
			{Tool: "focus_window", Args: map[string]any{"window_title": "Untitled - Notepad"}},
		},
	}}
	manager := recovery.NewManager(p, g, exec, f, recovery.Config{})
	runner := NewPlanRunner(exec, g, gate, WithRecovery(manager))

	plan := &types.ExecutionPlan{
		Task: "click in notepad",
		Steps: []types.ActionStep{
			{
				Tool:       "click",
				Args:       map[string]any{"x": 100, "y": 200},
				MaxRetries: 1,
				Verify: &types.VerifySpec{
					Type:     types.VerifyWindowTitle,
					Expected: "Notepad",
					Timeout:  20 * time.Millisecond,
				},
			},
		},
	}

	results, err := runner.Run(context.Background(), plan)
	require.NoError(t, err)
	require.Len(t, results, 2, "the failed attempt and the post-recovery retry both report")

	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Error, "VERIFICATION_FAILED")
	assert.True(t, results[1].Success)

	assert.Equal(t, 1, p.repairCalls)
	assert.Equal(t, 1, f.CallCount("focus_window"), "the repair plan should have refocused notepad")
}

func TestRunnerHaltsWhenStepCannotRecover(t *testing.T) {
	f := notepadFake()
	bus := events.NewBus()
	defer bus.Close()
	ch, unsubscribe := bus.Subscribe(context.Background(), events.Filter{
		Types: []events.EventType{events.EventPlanHalted},
	}, 4)
	defer unsubscribe()

	runner, _, gate := newTestRunner(t, f, WithRunnerEvents(bus))

	// A click with neither coordinates nor target arguments has no capable
	// strategy; without a recovery manager the plan halts on the spot.
	plan := &types.ExecutionPlan{
		Task:  "doomed",
		Steps: []types.ActionStep{{Tool: "click", MaxRetries: 1}},
	}

	results, err := runner.Run(context.Background(), plan)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.RECOVERY_EXHAUSTED))
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)

	paused, reason := gate.Paused()
	assert.True(t, paused, "a halted plan must leave the gate paused for a human")
	assert.Contains(t, reason, "takeover")
	assert.Len(t, gate.Takeover().Pending(), 1)

	halted := <-ch
	assert.Equal(t, events.EventPlanHalted, halted.Type)
}

func TestRunnerUnknownFailureSkipsPlanner(t *testing.T) {
	f := notepadFake()
	f.SessionErr = errors.New("desktop session is not interactive")

	exec, gate := newTestExecutor(t, f)
	g := guard.New(guard.DefaultConfig(), gate.Permit())
	p := &repairPlanner{}
	manager := recovery.NewManager(p, g, exec, f, recovery.Config{})
	runner := NewPlanRunner(exec, g, gate, WithRecovery(manager))

	plan := &types.ExecutionPlan{
		Task: "open notepad",
		Steps: []types.ActionStep{
			{Tool: "open_app", Args: map[string]any{"app_name": "notepad.exe"}, MaxRetries: 1},
		},
	}

	results, err := runner.Run(context.Background(), plan)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.RECOVERY_EXHAUSTED))
	require.Len(t, results, 1)
	assert.Equal(t, 0, p.repairCalls, "unclassified failures go straight to a human")
}

func TestRunnerPublishesLifecycleEvents(t *testing.T) {
	f := notepadFake()
	bus := events.NewBus()
	defer bus.Close()
	ch, unsubscribe := bus.Subscribe(context.Background(), events.Filter{}, 32)
	defer unsubscribe()

	exec, gate := newTestExecutor(t, f, WithEvents(bus))
	g := guard.New(guard.DefaultConfig(), gate.Permit())
	runner := NewPlanRunner(exec, g, gate, WithRunnerEvents(bus))

	plan := &types.ExecutionPlan{
		Task: "write a note",
		Steps: []types.ActionStep{
			{Tool: "open_app", Args: map[string]any{"app_name": "notepad.exe"}, MaxRetries: 1},
			{Tool: "click", Args: map[string]any{"x": 100, "y": 200}, MaxRetries: 1},
		},
	}

	_, err := runner.Run(context.Background(), plan)
	require.NoError(t, err)

	var got []events.Event
drain:
	for {
		select {
		case e := <-ch:
			got = append(got, e)
		default:
			break drain
		}
	}

	require.NotEmpty(t, got)
	assert.Equal(t, events.EventPlanValidated, got[0].Type)
	assert.Equal(t, events.EventPlanCompleted, got[len(got)-1].Type)

	completions := 0
	for _, e := range got {
		if e.Type == events.EventStepCompleted {
			completions++
			assert.Equal(t, plan.ID, e.PlanID, "step events must carry the running plan's id")
		}
	}
	assert.Equal(t, 2, completions)
}

func TestRunnerRetryCeilingBlocksOversizedPlan(t *testing.T) {
	f := notepadFake()
	runner, _, _ := newTestRunner(t, f)

	// Eleven steps at the default of three retries each allow 33 total,
	// over the guard's ceiling of 30.
	steps := make([]types.ActionStep, 11)
	for i := range steps {
		steps[i] = types.ActionStep{Tool: "wait", Args: map[string]any{"ms": 1}}
	}
	plan := &types.ExecutionPlan{Task: "slow crawl", Steps: steps}

	results, err := runner.Run(context.Background(), plan)
	require.Error(t, err)
	assert.Nil(t, results)
	assert.Contains(t, err.Error(), "retries")
}
