// Package events carries the execution engine's observability stream: step
// lifecycle, safety trips, recovery progress, and takeover requests. The bus
// never blocks a publisher; slow subscribers lose events rather than stalling
// the execution loop.
package events

import (
	"time"

	"github.com/surehand-ai/surehand/internal/types"
)

// EventType identifies the category and nature of an event.
type EventType string

// Plan lifecycle events.
const (
	EventPlanValidated EventType = "plan.validated"
	EventPlanBlocked   EventType = "plan.blocked"
	EventPlanCompleted EventType = "plan.completed"
	EventPlanHalted    EventType = "plan.halted"
)

// Step lifecycle events. step.completed and step.failed carry the full
// StepResult in the payload under "result"; this is the outward result
// stream.
const (
	EventStepStarted   EventType = "step.started"
	EventStepRetrying  EventType = "step.retrying"
	EventStepCompleted EventType = "step.completed"
	EventStepFailed    EventType = "step.failed"
)

// Recovery events.
const (
	EventRecoveryStarted   EventType = "recovery.started"
	EventRecoverySucceeded EventType = "recovery.succeeded"
	EventRecoveryExhausted EventType = "recovery.exhausted"
)

// Safety events.
const (
	EventTakeoverRequested  EventType = "takeover.requested"
	EventBudgetPaused       EventType = "budget.paused"
	EventSessionGranted     EventType = "session.granted"
	EventSessionRevoked     EventType = "session.revoked"
	EventEnvironmentChanged EventType = "environment.changed"
	EventRateLimitTripped   EventType = "ratelimit.tripped"
)

// String returns the string representation of the event type.
func (t EventType) String() string {
	return string(t)
}

// Event is one observability record. Events are JSON-serializable so any
// observer (UI, logger, test) can consume the stream without a shared
// dependency.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	PlanID    types.ID       `json:"plan_id,omitempty"`
	StepID    types.ID       `json:"step_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// New builds an event stamped with the current time.
func New(eventType EventType, planID, stepID types.ID, payload map[string]any) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now(),
		PlanID:    planID,
		StepID:    stepID,
		Payload:   payload,
	}
}

// Filter selects which events a subscriber receives. Empty fields are
// wildcards.
type Filter struct {
	Types  []EventType `json:"types,omitempty"`
	PlanID types.ID    `json:"plan_id,omitempty"`
}

// Matches reports whether the event satisfies all non-empty filter criteria.
func (f *Filter) Matches(event Event) bool {
	if len(f.Types) > 0 {
		matched := false
		for _, t := range f.Types {
			if event.Type == t {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if f.PlanID != "" && event.PlanID != f.PlanID {
		return false
	}

	return true
}
