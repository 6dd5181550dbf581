// Package planner defines the contract between the execution engine and the
// reasoning layer that produces plans. The engine never plans on its own; it
// only executes, verifies, and asks this interface for help. The reasoning
// itself runs out of process; Remote bridges to it over the tool host.
package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/surehand-ai/surehand/internal/types"
)

// Planner produces execution plans.
type Planner interface {
	// BuildPlan turns a task description into an execution plan.
	BuildPlan(ctx context.Context, task string) (*types.ExecutionPlan, error)

	// ProposeRepair suggests a short remediation plan for a failed step.
	// The plan must stay within req.MaxSteps steps and req.AllowedTools;
	// the recovery manager re-validates it before anything executes.
	ProposeRepair(ctx context.Context, req *RepairRequest) (*types.ExecutionPlan, error)
}

// RepairRequest is the failure snapshot handed to the planner when the
// engine asks for remediation.
type RepairRequest struct {
	PlanID       types.ID          `json:"plan_id"`
	FailedStep   *types.ActionStep `json:"failed_step"`
	FailureType  string            `json:"failure_type"`
	ErrorText    string            `json:"error_text"`
	ActiveWindow string            `json:"active_window,omitempty"`
	RecentSteps  []string          `json:"recent_steps,omitempty"`
	MaxSteps     int               `json:"max_steps"`
	AllowedTools []string          `json:"allowed_tools"`
}

// Summary renders the request as prompt-ready text.
func (r *RepairRequest) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Failed step: %s %v\n", r.FailedStep.Tool, r.FailedStep.Args)
	fmt.Fprintf(&b, "Error: %s\n", r.ErrorText)
	fmt.Fprintf(&b, "Failure type: %s\n", r.FailureType)
	fmt.Fprintf(&b, "Active window: %s\n", r.ActiveWindow)
	if len(r.RecentSteps) > 0 {
		fmt.Fprintf(&b, "Recent steps: %s\n", strings.Join(r.RecentSteps, "; "))
	}
	fmt.Fprintf(&b, "Respond with at most %d steps using only: %s\n",
		r.MaxSteps, strings.Join(r.AllowedTools, ", "))
	return b.String()
}
