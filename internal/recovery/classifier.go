// Package recovery implements the self-healing loop: classify a step
// failure, decide whether repair is allowed, obtain a bounded repair plan
// from the planner, re-validate it, execute it, and tell the caller whether
// the original step deserves one more try.
package recovery

import "strings"

// FailureType classifies why a step failed.
type FailureType string

const (
	FailureElementNotFound    FailureType = "element_not_found"
	FailureWindowNotFocused   FailureType = "window_not_focused"
	FailureAppNotRunning      FailureType = "app_not_running"
	FailureVerificationFailed FailureType = "verification_failed"
	FailureBlockedByElevation FailureType = "blocked_by_elevation"
	FailureSensitiveScreen    FailureType = "sensitive_screen"
	FailurePermissionRequired FailureType = "permission_required"
	FailureUnknown            FailureType = "unknown"
)

// Recoverable reports whether automated repair may be attempted. Elevation,
// sensitive screens, permission problems, and anything unclassified always
// go to a human.
func (f FailureType) Recoverable() bool {
	switch f {
	case FailureElementNotFound, FailureWindowNotFocused, FailureAppNotRunning, FailureVerificationFailed:
		return true
	default:
		return false
	}
}

// Classify maps an error string to a failure type by substring. Hard-stop
// categories are checked first so a message matching several rules lands on
// the safe side.
func Classify(errorText string) FailureType {
	msg := strings.ToLower(errorText)

	switch {
	case containsAny(msg, "access denied", "uac", "elevation", "elevated", "administrator"):
		return FailureBlockedByElevation

	case containsAny(msg, "secure desktop", "secure_desktop", "sensitive"):
		return FailureSensitiveScreen

	case strings.Contains(msg, "permission"):
		return FailurePermissionRequired

	case strings.Contains(msg, "verification failed"):
		return FailureVerificationFailed

	case containsAny(msg, "element not found", "not found on screen", "timeout waiting for element", "selector", "below threshold"):
		return FailureElementNotFound

	case strings.Contains(msg, "focus"),
		strings.Contains(msg, "window") && containsAny(msg, "not found", "active", "changed"):
		return FailureWindowNotFocused

	case containsAny(msg, "not running", "launch"):
		return FailureAppNotRunning

	default:
		return FailureUnknown
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
