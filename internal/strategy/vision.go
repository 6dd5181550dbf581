package strategy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/surehand-ai/surehand/internal/computer"
	"github.com/surehand-ai/surehand/internal/types"
)

// defaultMatchThreshold is the minimum template-match score accepted when a
// step does not set its own.
const defaultMatchThreshold = 0.8

// Vision resolves targets by matching stored template images against the
// screen. It covers custom-drawn widgets the accessibility tree and OCR
// cannot see.
type Vision struct {
	comp      computer.Computer
	threshold float64
	logger    *slog.Logger
}

func NewVision(comp computer.Computer, logger *slog.Logger) *Vision {
	if logger == nil {
		logger = slog.Default()
	}
	return &Vision{comp: comp, threshold: defaultMatchThreshold, logger: logger}
}

func (v *Vision) Name() types.StrategyKind { return types.StrategyVision }

func (v *Vision) Priority() int { return 30 }

// CanHandle requires a template reference in the arguments or a cached
// vision selector.
func (v *Vision) CanHandle(step *types.ActionStep) bool {
	switch step.Tool {
	case "click", "double_click", "right_click", "wait_for":
	default:
		return false
	}
	if v.templateName(step) != "" {
		return true
	}
	return step.Selector != nil && step.Selector.Strategy == types.StrategyVision
}

func (v *Vision) Execute(ctx context.Context, step *types.ActionStep) Result {
	name := v.templateName(step)
	if name == "" {
		return failure(types.NewError(types.STRATEGY_FAILED, "vision: no template in step"))
	}

	bounds, score, err := v.comp.MatchTemplate(ctx, name)
	if err != nil {
		return failure(types.WrapError(types.STRATEGY_FAILED, "template match failed", err))
	}
	min := v.minConfidence(step)
	if score < min {
		return failure(types.NewStrategyFailedError(
			fmt.Sprintf("template %s matched at %.2f, below threshold %.2f", name, score, min)))
	}

	sel := &types.UISelector{
		Strategy:     types.StrategyVision,
		TemplateName: name,
		Bounds:       bounds,
		Confidence:   score,
	}
	sel.Touch()

	x, y := bounds.Center()

	switch step.Tool {
	case "click":
		err = v.comp.Click(ctx, x, y)
	case "double_click":
		err = v.comp.DoubleClick(ctx, x, y)
	case "right_click":
		err = v.comp.RightClick(ctx, x, y)
	case "wait_for":
		// Match found; nothing to do.
	default:
		return failure(types.NewStrategyFailedError("vision strategy cannot handle tool " + step.Tool))
	}

	if err != nil {
		return failure(types.WrapError(types.STRATEGY_FAILED, step.Tool+" failed", err))
	}

	return Result{
		Success:  true,
		Selector: sel,
		Details:  map[string]any{"template": name, "score": score},
	}
}

func (v *Vision) FindElement(ctx context.Context, step *types.ActionStep) (*types.UISelector, error) {
	name := v.templateName(step)
	if name == "" {
		return nil, nil
	}
	bounds, score, err := v.comp.MatchTemplate(ctx, name)
	if err != nil {
		return nil, err
	}
	if score < v.minConfidence(step) {
		return nil, nil
	}
	sel := &types.UISelector{
		Strategy:     types.StrategyVision,
		TemplateName: name,
		Bounds:       bounds,
		Confidence:   score,
	}
	sel.Touch()
	return sel, nil
}

// ValidateElement re-matches the template and checks the hit has not moved.
func (v *Vision) ValidateElement(ctx context.Context, sel *types.UISelector) bool {
	if sel == nil || sel.Strategy != types.StrategyVision || sel.TemplateName == "" {
		return false
	}
	bounds, score, err := v.comp.MatchTemplate(ctx, sel.TemplateName)
	if err != nil || score < v.threshold {
		return false
	}
	return !boundsDrifted(bounds, sel.Bounds, positionTolerance)
}

func (v *Vision) templateName(step *types.ActionStep) string {
	if name := step.StringArg("template"); name != "" {
		return name
	}
	if name := step.StringArg("template_name"); name != "" {
		return name
	}
	if step.Selector != nil && step.Selector.Strategy == types.StrategyVision {
		return step.Selector.TemplateName
	}
	return ""
}

func (v *Vision) minConfidence(step *types.ActionStep) float64 {
	if raw, ok := step.Arg("confidence"); ok {
		switch c := raw.(type) {
		case float64:
			return c
		case int:
			return float64(c)
		}
	}
	return v.threshold
}
