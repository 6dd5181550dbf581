package guard

import (
	"fmt"
	"strings"
)

// ValidationError carries every violation found in a single validation pass.
// The guard never fails fast: callers always see the full list.
type ValidationError struct {
	Violations []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if len(e.Violations) == 1 {
		return fmt.Sprintf("plan validation failed: %s", e.Violations[0])
	}
	return fmt.Sprintf("plan validation failed with %d violations: %s",
		len(e.Violations), strings.Join(e.Violations, "; "))
}

// NewValidationError builds a ValidationError from the accumulated violations.
func NewValidationError(violations []string) *ValidationError {
	return &ValidationError{Violations: violations}
}

// AsValidationError extracts a *ValidationError from err, if present.
func AsValidationError(err error) (*ValidationError, bool) {
	ve, ok := err.(*ValidationError)
	return ve, ok
}
