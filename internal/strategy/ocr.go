package strategy

import (
	"context"
	"log/slog"

	"github.com/surehand-ai/surehand/internal/computer"
	"github.com/surehand-ai/surehand/internal/types"
)

// ocrConfidence is the fixed confidence stamped on OCR-derived selectors.
// Text recognition is reliable but the reported box is looser than an
// accessibility rectangle.
const ocrConfidence = 0.7

// OCR anchors actions on text visible on screen. It handles targets that
// have no accessible name, like canvas-rendered buttons and legacy toolbars.
type OCR struct {
	comp   computer.Computer
	logger *slog.Logger
}

func NewOCR(comp computer.Computer, logger *slog.Logger) *OCR {
	if logger == nil {
		logger = slog.Default()
	}
	return &OCR{comp: comp, logger: logger}
}

func (o *OCR) Name() types.StrategyKind { return types.StrategyOCR }

func (o *OCR) Priority() int { return 20 }

// CanHandle requires a text anchor: the "text" argument for click-class
// tools and wait_for, the "target" argument for type_text (whose "text"
// argument is the content to type), or a cached OCR selector.
func (o *OCR) CanHandle(step *types.ActionStep) bool {
	switch step.Tool {
	case "click", "double_click", "right_click", "wait_for":
		if step.StringArg("text") != "" {
			return true
		}
	case "type_text":
		if step.StringArg("target") != "" {
			return true
		}
	default:
		return false
	}
	return step.Selector != nil && step.Selector.Strategy == types.StrategyOCR
}

func (o *OCR) Execute(ctx context.Context, step *types.ActionStep) Result {
	anchor := o.anchor(step)
	if anchor == "" {
		return failure(types.NewError(types.STRATEGY_FAILED, "ocr: no text anchor in step"))
	}

	bounds, found, err := o.comp.LocateText(ctx, anchor)
	if err != nil {
		return failure(types.WrapError(types.STRATEGY_FAILED, "ocr scan failed", err))
	}
	if !found {
		return failure(types.NewStrategyFailedError("text " + anchor + " not found on screen"))
	}

	sel := &types.UISelector{
		Strategy:   types.StrategyOCR,
		Name:       anchor,
		Bounds:     bounds,
		Confidence: ocrConfidence,
	}
	sel.Touch()

	x, y := bounds.Center()

	switch step.Tool {
	case "click":
		err = o.comp.Click(ctx, x, y)
	case "double_click":
		err = o.comp.DoubleClick(ctx, x, y)
	case "right_click":
		err = o.comp.RightClick(ctx, x, y)
	case "type_text":
		if err = o.comp.Click(ctx, x, y); err == nil {
			err = o.comp.TypeText(ctx, step.StringArg("text"))
		}
	case "wait_for":
		// The anchor is already on screen.
	default:
		return failure(types.NewStrategyFailedError("ocr strategy cannot handle tool " + step.Tool))
	}

	if err != nil {
		return failure(types.WrapError(types.STRATEGY_FAILED, step.Tool+" failed", err))
	}

	return Result{
		Success:  true,
		Selector: sel,
		Details:  map[string]any{"anchor": anchor, "x": x, "y": y},
	}
}

func (o *OCR) FindElement(ctx context.Context, step *types.ActionStep) (*types.UISelector, error) {
	anchor := o.anchor(step)
	if anchor == "" {
		return nil, nil
	}
	bounds, found, err := o.comp.LocateText(ctx, anchor)
	if err != nil || !found {
		return nil, err
	}
	sel := &types.UISelector{
		Strategy:   types.StrategyOCR,
		Name:       anchor,
		Bounds:     bounds,
		Confidence: ocrConfidence,
	}
	sel.Touch()
	return sel, nil
}

// ValidateElement re-locates the anchor text and checks position drift.
func (o *OCR) ValidateElement(ctx context.Context, sel *types.UISelector) bool {
	if sel == nil || sel.Strategy != types.StrategyOCR || sel.Name == "" {
		return false
	}
	bounds, found, err := o.comp.LocateText(ctx, sel.Name)
	if err != nil || !found {
		return false
	}
	return !boundsDrifted(bounds, sel.Bounds, positionTolerance)
}

// anchor extracts the visible text the step is anchored on.
func (o *OCR) anchor(step *types.ActionStep) string {
	if step.Tool == "type_text" {
		if t := step.StringArg("target"); t != "" {
			return t
		}
	} else if t := step.StringArg("text"); t != "" {
		return t
	}
	if step.Selector != nil && step.Selector.Strategy == types.StrategyOCR {
		return step.Selector.Name
	}
	return ""
}
