package learning

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/surehand-ai/surehand/internal/types"
)

// DefaultMinSamples is how many recorded outcomes an app needs before its
// history starts reordering strategies.
const DefaultMinSamples = 5

// Window titles containing these fragments are never learned from. Recording
// outcomes keyed by a credential screen's title would persist hints about it.
var sensitiveKeywords = []string{
	"password",
	"login",
	"sign in",
	"bank",
	"credit card",
	"otp",
	"secret",
	"private",
}

// StrategyRanker reorders candidate strategies using per-app history. Only
// the middle band (accessibility, ocr, vision) moves: system stays first
// because it does not depend on screen state, and coords stays last because
// blind coordinates are the least safe fallback no matter how often they
// have worked.
type StrategyRanker struct {
	store      Store
	minSamples int
	logger     *slog.Logger
}

// RankerOption configures a StrategyRanker.
type RankerOption func(*StrategyRanker)

// WithMinSamples overrides the sample floor below which history is ignored.
func WithMinSamples(n int) RankerOption {
	return func(r *StrategyRanker) {
		if n > 0 {
			r.minSamples = n
		}
	}
}

// WithRankerLogger sets the logger used for recording failures.
func WithRankerLogger(logger *slog.Logger) RankerOption {
	return func(r *StrategyRanker) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewStrategyRanker creates a ranker over the given store. A nil store
// yields a ranker that preserves input order and records nothing.
func NewStrategyRanker(store Store, opts ...RankerOption) *StrategyRanker {
	r := &StrategyRanker{
		store:      store,
		minSamples: DefaultMinSamples,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Order returns kinds reordered by per-app success rate. The input slice is
// never mutated. Strategies outside the middle band keep their positions,
// and middle-band strategies without history keep their relative order.
func (r *StrategyRanker) Order(ctx context.Context, app string, kinds []types.StrategyKind) []types.StrategyKind {
	out := make([]types.StrategyKind, len(kinds))
	copy(out, kinds)
	if r == nil || r.store == nil || app == "" {
		return out
	}

	stats, err := r.store.Stats(ctx, app)
	if err != nil {
		r.logger.Debug("strategy stats unavailable, keeping default order",
			"app", app,
			"error", err)
		return out
	}

	total := 0
	rates := make(map[types.StrategyKind]float64, len(stats))
	for _, st := range stats {
		total += st.Samples()
		rates[st.Strategy] = st.SuccessRate()
	}
	if total < r.minSamples {
		return out
	}

	// Pull out the middle-band positions, sort those strategies by success
	// rate, and put them back in the same slots.
	var slots []int
	var band []types.StrategyKind
	for i, k := range out {
		if reorderable(k) {
			slots = append(slots, i)
			band = append(band, k)
		}
	}
	sort.SliceStable(band, func(i, j int) bool { return rates[band[i]] > rates[band[j]] })
	for n, i := range slots {
		out[i] = band[n]
	}
	return out
}

// RecordOutcome stores one outcome unless the app looks like a credential
// surface. Store failures are logged, never surfaced: learning is advisory.
func (r *StrategyRanker) RecordOutcome(ctx context.Context, app string, kind types.StrategyKind, success bool) {
	if r == nil || r.store == nil || app == "" {
		return
	}
	if SensitiveSurface(app) {
		// The title itself stays out of the log line.
		r.logger.Debug("skipping outcome for sensitive window", "strategy", string(kind))
		return
	}
	if err := r.store.RecordOutcome(ctx, app, kind, success); err != nil {
		r.logger.Warn("failed to record strategy outcome",
			"app", app,
			"strategy", string(kind),
			"error", err)
	}
}

// SensitiveSurface reports whether a window title or app name looks like a
// credential surface that must never be learned from.
func SensitiveSurface(title string) bool {
	lower := strings.ToLower(title)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func reorderable(k types.StrategyKind) bool {
	switch k {
	case types.StrategyAccessibility, types.StrategyOCR, types.StrategyVision:
		return true
	}
	return false
}
