package recovery

import (
	"sync"

	"github.com/surehand-ai/surehand/internal/types"
)

// Attempt caps. A step gets at most two repairs, a plan at most five across
// all of its steps.
const (
	DefaultPerStepAttempts = 2
	DefaultPerPlanAttempts = 5
	DefaultMaxRepairSteps  = 5
)

// AttemptPolicy tracks successful repair attempts per plan and per step and
// enforces the caps. State lives in memory for the duration of a plan run;
// the runner purges it on plan completion.
type AttemptPolicy struct {
	mu       sync.Mutex
	perStep  int
	perPlan  int
	attempts map[types.ID]map[types.ID]int
}

// NewAttemptPolicy builds a policy. Non-positive caps use the defaults.
func NewAttemptPolicy(perStep, perPlan int) *AttemptPolicy {
	if perStep <= 0 {
		perStep = DefaultPerStepAttempts
	}
	if perPlan <= 0 {
		perPlan = DefaultPerPlanAttempts
	}
	return &AttemptPolicy{
		perStep:  perStep,
		perPlan:  perPlan,
		attempts: make(map[types.ID]map[types.ID]int),
	}
}

// Allow reports whether another repair attempt fits under both caps.
func (p *AttemptPolicy) Allow(planID, stepID types.ID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stepAttemptsLocked(planID, stepID) < p.perStep &&
		p.planAttemptsLocked(planID) < p.perPlan
}

// Record counts one completed repair attempt for the step.
func (p *AttemptPolicy) Record(planID, stepID types.ID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	steps := p.attempts[planID]
	if steps == nil {
		steps = make(map[types.ID]int)
		p.attempts[planID] = steps
	}
	steps[stepID]++
}

// StepAttempts returns how many repairs the step has consumed.
func (p *AttemptPolicy) StepAttempts(planID, stepID types.ID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stepAttemptsLocked(planID, stepID)
}

// PlanAttempts returns how many repairs the plan has consumed in total.
func (p *AttemptPolicy) PlanAttempts(planID types.ID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.planAttemptsLocked(planID)
}

// PurgePlan drops all attempt state for the plan.
func (p *AttemptPolicy) PurgePlan(planID types.ID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.attempts, planID)
}

func (p *AttemptPolicy) stepAttemptsLocked(planID, stepID types.ID) int {
	return p.attempts[planID][stepID]
}

func (p *AttemptPolicy) planAttemptsLocked(planID types.ID) int {
	total := 0
	for _, n := range p.attempts[planID] {
		total += n
	}
	return total
}
