package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a namespaced error code for execution-engine errors.
type ErrorCode string

// Session permit error codes
const (
	PERMISSION_DENIED ErrorCode = "PERMISSION_DENIED"
	SESSION_EXPIRED   ErrorCode = "SESSION_EXPIRED"
)

// Runtime safety error codes
const (
	BUDGET_EXCEEDED     ErrorCode = "BUDGET_EXCEEDED"
	ENVIRONMENT_UNSAFE  ErrorCode = "ENVIRONMENT_UNSAFE"
	FOCUS_LOST          ErrorCode = "FOCUS_LOST"
	RATE_LIMIT_EXCEEDED ErrorCode = "RATE_LIMIT_EXCEEDED"
)

// Execution error codes
const (
	STRATEGY_FAILED     ErrorCode = "STRATEGY_FAILED"
	VERIFICATION_FAILED ErrorCode = "VERIFICATION_FAILED"
	PLAN_VALIDATION     ErrorCode = "PLAN_VALIDATION"
	RECOVERY_EXHAUSTED  ErrorCode = "RECOVERY_EXHAUSTED"
)

// Tool host error codes
const (
	TOOL_HOST_UNAVAILABLE ErrorCode = "TOOL_HOST_UNAVAILABLE"
	TOOL_CALL_FAILED      ErrorCode = "TOOL_CALL_FAILED"
)

// Configuration error codes
const (
	CONFIG_LOAD_FAILED       ErrorCode = "CONFIG_LOAD_FAILED"
	CONFIG_VALIDATION_FAILED ErrorCode = "CONFIG_VALIDATION_FAILED"
)

// Learning store error codes
const (
	STORE_OPEN_FAILED  ErrorCode = "STORE_OPEN_FAILED"
	STORE_QUERY_FAILED ErrorCode = "STORE_QUERY_FAILED"
)

// AgentError represents a structured error with error code, message, optional
// detail fields, and optional cause. It supports error wrapping and
// retryability hints: strategy-level and verification failures are retryable
// inside the executor, safety-boundary failures never are.
type AgentError struct {
	Code      ErrorCode
	Message   string
	Details   map[string]any
	Retryable bool
	Cause     error
}

// Error implements the error interface, returning a formatted error message.
// Format: "[CODE] message" or "[CODE] message: cause" if cause exists.
func (e *AgentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error for error unwrapping chains.
// This enables using errors.Is() and errors.As() with wrapped errors.
func (e *AgentError) Unwrap() error {
	return e.Cause
}

// Is checks if the target error matches this error by error code.
// Returns true if target is an AgentError with the same Code.
func (e *AgentError) Is(target error) bool {
	var agentErr *AgentError
	if errors.As(target, &agentErr) {
		return e.Code == agentErr.Code
	}
	return false
}

// WithDetail attaches a named detail field and returns the error for chaining.
func (e *AgentError) WithDetail(key string, value any) *AgentError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Detail returns a named detail field, or nil when absent.
func (e *AgentError) Detail(key string) any {
	if e.Details == nil {
		return nil
	}
	return e.Details[key]
}

// NewError creates a new non-retryable AgentError with the given code and message.
func NewError(code ErrorCode, message string) *AgentError {
	return &AgentError{
		Code:      code,
		Message:   message,
		Retryable: false,
		Cause:     nil,
	}
}

// NewRetryableError creates a new retryable AgentError with the given code and message.
// Use this for transient failures that may succeed on a later attempt or strategy.
func NewRetryableError(code ErrorCode, message string) *AgentError {
	return &AgentError{
		Code:      code,
		Message:   message,
		Retryable: true,
		Cause:     nil,
	}
}

// WrapError creates a new non-retryable AgentError that wraps an existing error.
// The wrapped error is accessible via Unwrap() for error chain inspection.
func WrapError(code ErrorCode, message string, cause error) *AgentError {
	return &AgentError{
		Code:      code,
		Message:   message,
		Retryable: false,
		Cause:     cause,
	}
}

// IsCode reports whether err (or anything it wraps) is an AgentError with the
// given code.
func IsCode(err error, code ErrorCode) bool {
	var agentErr *AgentError
	if errors.As(err, &agentErr) {
		return agentErr.Code == code
	}
	return false
}

// NewPermissionDeniedError signals that no session permit allows the action.
func NewPermissionDeniedError(reason string) *AgentError {
	return NewError(PERMISSION_DENIED, reason)
}

// NewSessionExpiredError signals that the active session permit has expired.
func NewSessionExpiredError() *AgentError {
	return NewError(SESSION_EXPIRED, "session permit expired")
}

// NewBudgetExceededError signals that an action-budget threshold was crossed.
// The breached dimension (actions, retries, consecutive_failures, runtime)
// is carried as a detail field and in the message.
func NewBudgetExceededError(dimension string) *AgentError {
	return NewError(BUDGET_EXCEEDED, fmt.Sprintf("action budget exceeded: %s", dimension)).
		WithDetail("dimension", dimension)
}

// BudgetDimension extracts the breached budget dimension from an error, or ""
// when err is not a budget error.
func BudgetDimension(err error) string {
	var agentErr *AgentError
	if errors.As(err, &agentErr) && agentErr.Code == BUDGET_EXCEEDED {
		if d, ok := agentErr.Detail("dimension").(string); ok {
			return d
		}
	}
	return ""
}

// NewEnvironmentUnsafeError signals a non-normal desktop state (locked,
// secure desktop, focus lost).
func NewEnvironmentUnsafeError(state string) *AgentError {
	return NewError(ENVIRONMENT_UNSAFE, fmt.Sprintf("environment unsafe: %s", state)).
		WithDetail("state", state)
}

// NewFocusLostError signals that refocus attempts on the expected window failed.
func NewFocusLostError(window string) *AgentError {
	return NewError(FOCUS_LOST, fmt.Sprintf("focus lost on window %q", window)).
		WithDetail("window", window)
}

// NewRateLimitError signals a hard input-rate stop for the given input kind
// (keys or clicks).
func NewRateLimitError(kind string, perSecond float64) *AgentError {
	return NewError(RATE_LIMIT_EXCEEDED, fmt.Sprintf("input rate exceeded hard stop: %.0f %s/sec", perSecond, kind)).
		WithDetail("kind", kind).
		WithDetail("rate", perSecond)
}

// NewStrategyFailedError signals a single failed strategy attempt. Retryable:
// the executor moves to the next attempt or strategy.
func NewStrategyFailedError(reason string) *AgentError {
	return NewRetryableError(STRATEGY_FAILED, reason)
}

// NewVerificationFailedError signals a post-condition that did not hold.
// Retryable: verification failure is an attempt failure, not a hard stop.
func NewVerificationFailedError(actual string) *AgentError {
	return NewRetryableError(VERIFICATION_FAILED, fmt.Sprintf("verification failed, last observed %q", actual)).
		WithDetail("actual", actual)
}

// NewRecoveryExhaustedError signals that recovery gave up on a step.
func NewRecoveryExhaustedError(stepID ID) *AgentError {
	return NewError(RECOVERY_EXHAUSTED, fmt.Sprintf("recovery exhausted for step %s", stepID)).
		WithDetail("step_id", stepID.String())
}

// NewToolHostError signals that the out-of-process tool host could not be
// reached. Retryable: it surfaces as a normal tool failure.
func NewToolHostError(cause error) *AgentError {
	err := WrapError(TOOL_HOST_UNAVAILABLE, "tool host unreachable", cause)
	err.Retryable = true
	return err
}
