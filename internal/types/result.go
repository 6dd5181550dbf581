package types

import (
	"time"
)

// StepResult is the outcome of one executor call for one step. The executor
// never returns an error; every failure path is encoded here. Results are
// created per attempt, streamed to observers, and discarded.
type StepResult struct {
	StepID       ID            `json:"step_id"`
	Success      bool          `json:"success"`
	StrategyUsed StrategyKind  `json:"strategy_used,omitempty"`
	Attempts     int           `json:"attempts"`
	Duration     time.Duration `json:"duration"`

	Verification *VerifyResult `json:"verification,omitempty"`

	// BeforeShot and AfterShot reference screenshots captured around the
	// action, for diagnostics. Empty when capture failed or was disabled.
	BeforeShot string `json:"before_shot,omitempty"`
	AfterShot  string `json:"after_shot,omitempty"`

	// Selector is the winning selector worth caching, when a strategy
	// produced one.
	Selector *UISelector `json:"selector,omitempty"`

	Error string `json:"error,omitempty"`

	// TakeoverRequired marks results that must pause all automation until a
	// human intervenes. TakeoverReason is always human-readable.
	TakeoverRequired bool   `json:"takeover_required,omitempty"`
	TakeoverReason   string `json:"takeover_reason,omitempty"`
}

// FailureResult builds a failed StepResult carrying the error text.
func FailureResult(stepID ID, err error) *StepResult {
	return &StepResult{
		StepID:  stepID,
		Success: false,
		Error:   err.Error(),
	}
}

// TakeoverResult builds a failed StepResult that demands human takeover.
func TakeoverResult(stepID ID, err error, reason string) *StepResult {
	r := FailureResult(stepID, err)
	r.TakeoverRequired = true
	r.TakeoverReason = reason
	return r
}
