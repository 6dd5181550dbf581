package strategy

import (
	"context"
	"strings"
	"time"

	"github.com/surehand-ai/surehand/internal/computer"
	"github.com/surehand-ai/surehand/internal/types"
)

// coordsConfidence is deliberately low: a raw coordinate says nothing about
// what is under it.
const coordsConfidence = 0.5

// coordsBoxRadius is the half-size of the synthetic bounding box recorded
// around a raw click point.
const coordsBoxRadius = 5

// defaultWaitMillis applies when a wait step omits its duration.
const defaultWaitMillis = 1000

// Coords is the last-resort strategy: raw coordinates and direct keyboard
// input. It always works in the mechanical sense and can never tell whether
// the right thing was hit, which is why it runs last and yields the lowest
// selector confidence.
type Coords struct {
	comp computer.Computer
}

func NewCoords(comp computer.Computer) *Coords {
	return &Coords{comp: comp}
}

func (c *Coords) Name() types.StrategyKind { return types.StrategyCoords }

func (c *Coords) Priority() int { return 40 }

// CanHandle accepts keyboard-only tools unconditionally and pointer tools
// when explicit coordinates or a cached bounding box are available.
func (c *Coords) CanHandle(step *types.ActionStep) bool {
	switch step.Tool {
	case "type_text", "press_key", "wait":
		return true
	case "click", "double_click", "right_click", "move_mouse", "scroll":
	default:
		return false
	}

	if _, _, ok := explicitCoords(step); ok {
		return true
	}
	return step.Selector != nil && !step.Selector.Bounds.IsZero()
}

func (c *Coords) Execute(ctx context.Context, step *types.ActionStep) Result {
	x, y, havePoint := c.point(step)

	var err error
	switch step.Tool {
	case "click":
		if !havePoint {
			return failure(types.NewStrategyFailedError("no coordinates available for click"))
		}
		err = c.comp.Click(ctx, x, y)
	case "double_click":
		if !havePoint {
			return failure(types.NewStrategyFailedError("no coordinates available for double_click"))
		}
		err = c.comp.DoubleClick(ctx, x, y)
	case "right_click":
		if !havePoint {
			return failure(types.NewStrategyFailedError("no coordinates available for right_click"))
		}
		err = c.comp.RightClick(ctx, x, y)
	case "move_mouse":
		if !havePoint {
			return failure(types.NewStrategyFailedError("no coordinates available for move_mouse"))
		}
		err = c.comp.MoveMouse(ctx, x, y)
	case "scroll":
		dx, _ := step.IntArg("dx")
		dy, ok := step.IntArg("dy")
		if !ok {
			dy, _ = step.IntArg("scroll_y")
		}
		if havePoint {
			if err = c.comp.MoveMouse(ctx, x, y); err != nil {
				break
			}
		}
		err = c.comp.Scroll(ctx, dx, dy)
	case "type_text":
		err = c.comp.TypeText(ctx, step.StringArg("text"))
	case "press_key":
		keys := pressKeys(step)
		if len(keys) == 0 {
			return failure(types.NewError(types.STRATEGY_FAILED, "press_key: missing keys argument"))
		}
		err = c.comp.PressKeys(ctx, keys)
	case "wait":
		ms, ok := step.IntArg("ms")
		if !ok {
			ms = defaultWaitMillis
		}
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-time.After(time.Duration(ms) * time.Millisecond):
		}
	default:
		return failure(types.NewStrategyFailedError("coords strategy cannot handle tool " + step.Tool))
	}

	if err != nil {
		return failure(types.WrapError(types.STRATEGY_FAILED, step.Tool+" failed", err))
	}

	res := Result{Success: true}
	if havePoint {
		res.Selector = pointSelector(x, y)
		res.Details = map[string]any{"x": x, "y": y}
	}
	return res
}

// FindElement returns a selector only for explicit coordinates; there is
// nothing to search for.
func (c *Coords) FindElement(ctx context.Context, step *types.ActionStep) (*types.UISelector, error) {
	if x, y, ok := explicitCoords(step); ok {
		return pointSelector(x, y), nil
	}
	return nil, nil
}

// ValidateElement always fails: a coordinate cannot prove the target still
// exists, so cached coords selectors are never trusted.
func (c *Coords) ValidateElement(ctx context.Context, sel *types.UISelector) bool {
	return false
}

// point resolves the action point from explicit arguments, then from the
// cached selector's bounding box.
func (c *Coords) point(step *types.ActionStep) (int, int, bool) {
	if x, y, ok := explicitCoords(step); ok {
		return x, y, true
	}
	if step.Selector != nil && !step.Selector.Bounds.IsZero() {
		x, y := step.Selector.Center()
		return x, y, true
	}
	return 0, 0, false
}

func explicitCoords(step *types.ActionStep) (int, int, bool) {
	x, okX := step.IntArg("x")
	y, okY := step.IntArg("y")
	if okX && okY {
		return x, y, true
	}
	return 0, 0, false
}

func pointSelector(x, y int) *types.UISelector {
	sel := &types.UISelector{
		Strategy: types.StrategyCoords,
		Bounds: types.Rect{
			X:      x - coordsBoxRadius,
			Y:      y - coordsBoxRadius,
			Width:  2 * coordsBoxRadius,
			Height: 2 * coordsBoxRadius,
		},
		Confidence: coordsConfidence,
	}
	sel.Touch()
	return sel
}

// pressKeys normalizes the step's key argument forms: a list or a single
// "ctrl+s" style chord.
func pressKeys(step *types.ActionStep) []string {
	if v, ok := step.Arg("keys"); ok {
		return stringsFromArg(v)
	}
	if chord := step.StringArg("key"); chord != "" {
		return splitChord(chord)
	}
	return nil
}

func splitChord(chord string) []string {
	parts := strings.Split(chord, "+")
	keys := parts[:0]
	for _, p := range parts {
		if p != "" {
			keys = append(keys, p)
		}
	}
	return keys
}
