package types

import (
	"time"
)

// RiskLevel classifies how dangerous a step is if it misfires.
type RiskLevel string

const (
	RiskLevelLow    RiskLevel = "low"
	RiskLevelMedium RiskLevel = "medium"
	RiskLevelHigh   RiskLevel = "high"
)

// IsHighRisk returns true if the risk level is high.
func (r RiskLevel) IsHighRisk() bool {
	return r == RiskLevelHigh
}

// Default execution parameters applied by Normalize when a step leaves them
// unset.
const (
	DefaultStepTimeout = 10 * time.Second
	DefaultMaxRetries  = 3
)

// ActionStep represents a single instruction in an execution plan: one tool
// invocation with its arguments, retry and timeout envelope, risk
// classification, and optional post-condition.
//
// A step is immutable once built except for Selector, which the executor may
// attach from the selector cache before the strategy cascade runs.
type ActionStep struct {
	ID          ID             `json:"id" yaml:"id"`
	Tool        string         `json:"tool" yaml:"tool"`
	Args        map[string]any `json:"args,omitempty" yaml:"args,omitempty"`
	Timeout     time.Duration  `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	MaxRetries  int            `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	Risk        RiskLevel      `json:"risk" yaml:"risk"`
	Verify      *VerifySpec    `json:"verify,omitempty" yaml:"verify,omitempty"`
	Selector    *UISelector    `json:"selector,omitempty" yaml:"selector,omitempty"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
}

// Normalize fills in identity and default execution parameters. Safe to call
// more than once.
func (s *ActionStep) Normalize() {
	if s.ID.IsZero() {
		s.ID = NewID()
	}
	if s.Timeout <= 0 {
		s.Timeout = DefaultStepTimeout
	}
	if s.MaxRetries <= 0 {
		s.MaxRetries = DefaultMaxRetries
	}
	if s.Risk == "" {
		s.Risk = RiskLevelLow
	}
}

// Arg returns the named argument and whether it was present.
func (s *ActionStep) Arg(name string) (any, bool) {
	if s.Args == nil {
		return nil, false
	}
	v, ok := s.Args[name]
	return v, ok
}

// StringArg returns the named argument as a string, or "" when absent or not
// a string.
func (s *ActionStep) StringArg(name string) string {
	v, ok := s.Arg(name)
	if !ok {
		return ""
	}
	str, _ := v.(string)
	return str
}

// IntArg returns the named argument as an int, handling the float64 values
// JSON and YAML decoders produce. The second return reports presence and
// convertibility.
func (s *ActionStep) IntArg(name string) (int, bool) {
	v, ok := s.Arg(name)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// Clone returns a deep copy of the step. The executor clones before mutating
// Selector so a cached plan definition is never aliased.
func (s *ActionStep) Clone() *ActionStep {
	cp := *s
	if s.Args != nil {
		cp.Args = make(map[string]any, len(s.Args))
		for k, v := range s.Args {
			cp.Args[k] = v
		}
	}
	if s.Verify != nil {
		v := *s.Verify
		cp.Verify = &v
	}
	if s.Selector != nil {
		sel := *s.Selector
		cp.Selector = &sel
	}
	return &cp
}

// ExecutionPlan is an ordered sequence of steps produced by the planner for
// one task. It is never mutated mid-run; recovery produces a separate,
// smaller repair plan instead.
type ExecutionPlan struct {
	ID                ID            `json:"id" yaml:"id"`
	Task              string        `json:"task" yaml:"task"`
	Steps             []ActionStep  `json:"steps" yaml:"steps"`
	RequiresNetwork   bool          `json:"requires_network,omitempty" yaml:"requires_network,omitempty"`
	RequiresElevation bool          `json:"requires_elevation,omitempty" yaml:"requires_elevation,omitempty"`
	EstimatedDuration time.Duration `json:"estimated_duration,omitempty" yaml:"estimated_duration,omitempty"`
	CreatedAt         time.Time     `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

// Normalize fills in plan identity, creation time, and per-step defaults.
func (p *ExecutionPlan) Normalize() {
	if p.ID.IsZero() {
		p.ID = NewID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	for i := range p.Steps {
		p.Steps[i].Normalize()
	}
}

// TotalRetries sums the per-step retry allowances across the plan.
func (p *ExecutionPlan) TotalRetries() int {
	total := 0
	for i := range p.Steps {
		total += p.Steps[i].MaxRetries
	}
	return total
}

// HighRiskSteps counts the steps classified high risk.
func (p *ExecutionPlan) HighRiskSteps() int {
	count := 0
	for i := range p.Steps {
		if p.Steps[i].Risk.IsHighRisk() {
			count++
		}
	}
	return count
}
