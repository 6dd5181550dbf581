package types

import (
	"time"
)

// StrategyKind identifies which resolution technique produced a selector.
// The set is closed: new strategies extend this list rather than registering
// at runtime.
type StrategyKind string

const (
	StrategySystem        StrategyKind = "system"
	StrategyAccessibility StrategyKind = "accessibility"
	StrategyOCR           StrategyKind = "ocr"
	StrategyVision        StrategyKind = "vision"
	StrategyCoords        StrategyKind = "coords"
)

// Rect is a screen-space bounding box in pixels.
type Rect struct {
	X      int `json:"x" yaml:"x"`
	Y      int `json:"y" yaml:"y"`
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// IsZero reports whether the rectangle carries no geometry.
func (r Rect) IsZero() bool {
	return r.Width == 0 && r.Height == 0 && r.X == 0 && r.Y == 0
}

// Center returns the midpoint of the rectangle.
func (r Rect) Center() (int, int) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// UISelector is a resolved reference to a UI target. It records which
// strategy produced it, the fields needed to re-find the target, and a
// confidence score. The selector cache owns selectors; steps hold only a
// transient reference.
type UISelector struct {
	Strategy     StrategyKind `json:"strategy" yaml:"strategy"`
	WindowTitle  string       `json:"window_title,omitempty" yaml:"window_title,omitempty"`
	ControlType  string       `json:"control_type,omitempty" yaml:"control_type,omitempty"`
	Name         string       `json:"name,omitempty" yaml:"name,omitempty"`
	AutomationID string       `json:"automation_id,omitempty" yaml:"automation_id,omitempty"`
	TemplateName string       `json:"template_name,omitempty" yaml:"template_name,omitempty"`

	// Bounds is always populated, whatever the strategy; it is the one field
	// the coords fallback can act on.
	Bounds        Rect      `json:"bounds" yaml:"bounds"`
	Confidence    float64   `json:"confidence" yaml:"confidence"`
	LastValidated time.Time `json:"last_validated,omitempty" yaml:"last_validated,omitempty"`
}

// Center returns the click point for the selector's bounding box.
func (s *UISelector) Center() (int, int) {
	return s.Bounds.Center()
}

// Touch updates the last-validated timestamp to now.
func (s *UISelector) Touch() {
	s.LastValidated = time.Now()
}
