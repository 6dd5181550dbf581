package planner

import (
	"context"
	"encoding/json"

	"github.com/surehand-ai/surehand/internal/types"
)

// Caller dispatches one named tool call on the reasoning host.
type Caller interface {
	Call(ctx context.Context, tool string, args map[string]any) (map[string]any, error)
}

// Remote adapts the out-of-process reasoning host to the Planner contract.
// The host exposes planning as two tools, build_plan and propose_repair,
// each answering with a plan object under the "plan" key. Returned plans are
// normalized here but never trusted; callers re-validate them before
// anything executes.
type Remote struct {
	caller Caller
}

// NewRemote returns a Planner backed by the given tool host caller.
func NewRemote(caller Caller) *Remote {
	return &Remote{caller: caller}
}

func (r *Remote) BuildPlan(ctx context.Context, task string) (*types.ExecutionPlan, error) {
	res, err := r.caller.Call(ctx, "build_plan", map[string]any{"task": task})
	if err != nil {
		return nil, err
	}
	return decodePlan(res)
}

func (r *Remote) ProposeRepair(ctx context.Context, req *RepairRequest) (*types.ExecutionPlan, error) {
	args, err := requestArgs(req)
	if err != nil {
		return nil, err
	}
	res, err := r.caller.Call(ctx, "propose_repair", args)
	if err != nil {
		return nil, err
	}
	return decodePlan(res)
}

// requestArgs flattens the snapshot into the generic argument map the wire
// carries, reusing the struct's JSON shape.
func requestArgs(req *RepairRequest) (map[string]any, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, types.WrapError(types.TOOL_CALL_FAILED, "unencodable repair request", err)
	}
	args := map[string]any{}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, types.WrapError(types.TOOL_CALL_FAILED, "unencodable repair request", err)
	}
	return args, nil
}

func decodePlan(res map[string]any) (*types.ExecutionPlan, error) {
	raw, err := json.Marshal(res["plan"])
	if err != nil {
		return nil, types.WrapError(types.TOOL_CALL_FAILED, "unencodable plan in host result", err)
	}
	plan := &types.ExecutionPlan{}
	if err := json.Unmarshal(raw, plan); err != nil {
		return nil, types.WrapError(types.TOOL_CALL_FAILED, "host returned a malformed plan", err)
	}
	if len(plan.Steps) == 0 {
		return nil, types.NewError(types.TOOL_CALL_FAILED, "host returned an empty plan")
	}
	plan.Normalize()
	return plan, nil
}
