// Package strategy implements the resolution techniques the executor cascades
// through for each step. The set is closed: System, Accessibility, OCR,
// Vision, Coords, ordered by ascending priority. Strategies never retry
// internally; retries belong to the executor.
package strategy

import (
	"context"
	"log/slog"
	"sort"

	"github.com/surehand-ai/surehand/internal/computer"
	"github.com/surehand-ai/surehand/internal/guard"
	"github.com/surehand-ai/surehand/internal/types"
)

// Result is the outcome of one strategy attempt.
type Result struct {
	Success  bool
	Selector *types.UISelector
	Err      error
	Details  map[string]any
}

// failure builds a failed Result from an error.
func failure(err error) Result {
	return Result{Success: false, Err: err}
}

// Strategy is one technique for resolving and performing a UI action.
//
// CanHandle is a cheap static check on the step's tool and arguments.
// Execute performs exactly one attempt. FindElement resolves the target
// without acting, for pre-computation and caching. ValidateElement is a
// cheap liveness check for a cached selector.
type Strategy interface {
	Name() types.StrategyKind
	Priority() int
	CanHandle(step *types.ActionStep) bool
	Execute(ctx context.Context, step *types.ActionStep) Result
	FindElement(ctx context.Context, step *types.ActionStep) (*types.UISelector, error)
	ValidateElement(ctx context.Context, sel *types.UISelector) bool
}

// DefaultSet builds the full cascade in ascending priority order. shell may
// be nil, which fails run_shell closed.
func DefaultSet(comp computer.Computer, shell *guard.ShellValidator, logger *slog.Logger) []Strategy {
	return []Strategy{
		NewSystem(comp, shell, logger),
		NewAccessibility(comp, logger),
		NewOCR(comp, logger),
		NewVision(comp, logger),
		NewCoords(comp),
	}
}

// ByPriority returns the strategies sorted ascending by priority, stable so
// equal priorities keep their registration order.
func ByPriority(strategies []Strategy) []Strategy {
	sorted := make([]Strategy, len(strategies))
	copy(sorted, strategies)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})
	return sorted
}

// stringsFromArg converts a YAML/JSON-decoded list argument ([]any of
// strings) into []string. A plain string becomes a one-element slice.
func stringsFromArg(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{vv}
	default:
		return nil
	}
}
