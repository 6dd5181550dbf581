package types

import (
	"time"
)

// VerifyType names a post-condition the verifier can poll for.
type VerifyType string

const (
	VerifyWindowTitle    VerifyType = "window_title"
	VerifyTextPresent    VerifyType = "text_present"
	VerifyFileExists     VerifyType = "file_exists"
	VerifyProcessRunning VerifyType = "process_running"
)

// DefaultVerifyTimeout bounds a verification poll when the spec leaves
// Timeout unset.
const DefaultVerifyTimeout = 5 * time.Second

// VerifySpec declares a post-condition for a step: poll the condition until
// it holds or Timeout elapses. Negate flips the success test (e.g.
// text_present + negate = text absent).
type VerifySpec struct {
	Type     VerifyType    `json:"type" yaml:"type"`
	Expected string        `json:"expected" yaml:"expected"`
	Timeout  time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Negate   bool          `json:"negate,omitempty" yaml:"negate,omitempty"`
}

// EffectiveTimeout returns Timeout or the default when unset.
func (v *VerifySpec) EffectiveTimeout() time.Duration {
	if v.Timeout <= 0 {
		return DefaultVerifyTimeout
	}
	return v.Timeout
}

// VerifyResult is the outcome of polling one VerifySpec. Actual carries the
// last observed value even on timeout, for diagnostics.
type VerifyResult struct {
	Passed  bool          `json:"passed"`
	Actual  string        `json:"actual,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}
