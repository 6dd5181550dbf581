// Package learning persists per-application strategy outcomes so the
// executor can lead with whatever historically worked for that app. History
// is advisory: it reorders candidates, it never adds or removes them.
package learning

import (
	"context"

	"github.com/surehand-ai/surehand/internal/types"
)

// StrategyStats aggregates recorded outcomes for one (app, strategy) pair.
type StrategyStats struct {
	App       string             `json:"app"`
	Strategy  types.StrategyKind `json:"strategy"`
	Successes int                `json:"successes"`
	Failures  int                `json:"failures"`
}

// Samples returns the total number of recorded outcomes.
func (s StrategyStats) Samples() int {
	return s.Successes + s.Failures
}

// SuccessRate returns the fraction of successful outcomes, or 0 when nothing
// has been recorded yet.
func (s StrategyStats) SuccessRate() float64 {
	n := s.Samples()
	if n == 0 {
		return 0
	}
	return float64(s.Successes) / float64(n)
}

// Store records strategy outcomes per application and serves them back for
// ranking. Implementations must be safe for concurrent use.
type Store interface {
	// RecordOutcome adds one success or failure for the given app and strategy.
	RecordOutcome(ctx context.Context, app string, strategy types.StrategyKind, success bool) error

	// Stats returns every recorded stat row for the given app.
	Stats(ctx context.Context, app string) ([]StrategyStats, error)

	// Close releases any underlying resources. Close is idempotent.
	Close() error
}

// errClosed is shared by store implementations for use-after-Close calls.
func errClosed() *types.AgentError {
	return types.NewError(types.STORE_QUERY_FAILED, "store is closed")
}
