package strategy

import (
	"context"
	"log/slog"

	"github.com/surehand-ai/surehand/internal/computer"
	"github.com/surehand-ai/surehand/internal/types"
)

// positionTolerance is how far, in pixels, a cached element may have moved
// before its selector is considered stale.
const positionTolerance = 50

// Accessibility resolves targets through the OS accessibility tree. It is
// the most reliable UI strategy: elements are addressed by role and name, so
// layout shifts do not break it.
type Accessibility struct {
	comp   computer.Computer
	logger *slog.Logger
}

func NewAccessibility(comp computer.Computer, logger *slog.Logger) *Accessibility {
	if logger == nil {
		logger = slog.Default()
	}
	return &Accessibility{comp: comp, logger: logger}
}

func (a *Accessibility) Name() types.StrategyKind { return types.StrategyAccessibility }

func (a *Accessibility) Priority() int { return 10 }

// CanHandle requires a supported tool plus something to address the element
// by: tree-query arguments or a previously cached accessibility selector.
// focus_window needs only a window title.
func (a *Accessibility) CanHandle(step *types.ActionStep) bool {
	switch step.Tool {
	case "click", "double_click", "right_click", "type_text", "select":
	case "focus_window":
		return step.StringArg("window_title") != "" || step.StringArg("title") != ""
	default:
		return false
	}

	for _, key := range []string{"control_type", "name", "automation_id"} {
		if step.StringArg(key) != "" {
			return true
		}
	}
	return step.Selector != nil && step.Selector.Strategy == types.StrategyAccessibility
}

func (a *Accessibility) Execute(ctx context.Context, step *types.ActionStep) Result {
	if step.Tool == "focus_window" {
		title := step.StringArg("window_title")
		if title == "" {
			title = step.StringArg("title")
		}
		if err := a.comp.FocusWindow(ctx, title); err != nil {
			return failure(types.WrapError(types.STRATEGY_FAILED, "failed to focus window "+title, err))
		}
		return Result{Success: true, Details: map[string]any{"window_title": title}}
	}

	query := a.query(step)
	found, err := a.comp.FindControl(ctx, query)
	if err != nil {
		return failure(types.WrapError(types.STRATEGY_FAILED, "element not found", err))
	}
	if found == nil {
		return failure(types.NewStrategyFailedError("element not found"))
	}
	sel := a.stamp(found, query)

	x, y := sel.Center()

	switch step.Tool {
	case "click":
		err = a.comp.Click(ctx, x, y)
	case "double_click":
		err = a.comp.DoubleClick(ctx, x, y)
	case "right_click":
		err = a.comp.RightClick(ctx, x, y)
	case "type_text":
		// Focus the field with a click, then type.
		if err = a.comp.Click(ctx, x, y); err == nil {
			err = a.comp.TypeText(ctx, step.StringArg("text"))
		}
	case "select":
		err = a.comp.SelectItem(ctx, query, step.StringArg("value"))
	default:
		return failure(types.NewStrategyFailedError("accessibility strategy cannot handle tool " + step.Tool))
	}

	if err != nil {
		return failure(types.WrapError(types.STRATEGY_FAILED, step.Tool+" failed", err))
	}

	return Result{
		Success:  true,
		Selector: sel,
		Details: map[string]any{
			"control_type": sel.ControlType,
			"name":         sel.Name,
		},
	}
}

// FindElement resolves the target without acting on it.
func (a *Accessibility) FindElement(ctx context.Context, step *types.ActionStep) (*types.UISelector, error) {
	query := a.query(step)
	if query.Name == "" && query.AutomationID == "" && query.ControlType == "" {
		return nil, nil
	}
	found, err := a.comp.FindControl(ctx, query)
	if err != nil || found == nil {
		return nil, err
	}
	return a.stamp(found, query), nil
}

// ValidateElement re-finds the cached element and checks it has not moved
// beyond tolerance.
func (a *Accessibility) ValidateElement(ctx context.Context, sel *types.UISelector) bool {
	if sel == nil || sel.Strategy != types.StrategyAccessibility {
		return false
	}
	query := computer.ControlQuery{
		WindowTitle:  sel.WindowTitle,
		ControlType:  sel.ControlType,
		Name:         sel.Name,
		AutomationID: sel.AutomationID,
	}
	if query.Name == "" && query.AutomationID == "" {
		return false
	}

	found, err := a.comp.FindControl(ctx, query)
	if err != nil || found == nil {
		return false
	}
	return !boundsDrifted(found.Bounds, sel.Bounds, positionTolerance)
}

// query builds the tree query from step arguments, falling back to a cached
// selector's identity fields.
func (a *Accessibility) query(step *types.ActionStep) computer.ControlQuery {
	q := computer.ControlQuery{
		WindowTitle:  step.StringArg("window_title"),
		ControlType:  step.StringArg("control_type"),
		Name:         step.StringArg("name"),
		AutomationID: step.StringArg("automation_id"),
	}
	if q.Name == "" && q.AutomationID == "" && q.ControlType == "" && step.Selector != nil &&
		step.Selector.Strategy == types.StrategyAccessibility {
		q.WindowTitle = step.Selector.WindowTitle
		q.ControlType = step.Selector.ControlType
		q.Name = step.Selector.Name
		q.AutomationID = step.Selector.AutomationID
	}
	return q
}

// stamp copies the found selector and fills the strategy-owned fields. The
// copy matters: the Computer may hand back shared state.
func (a *Accessibility) stamp(found *types.UISelector, query computer.ControlQuery) *types.UISelector {
	sel := *found
	sel.Strategy = types.StrategyAccessibility
	if sel.WindowTitle == "" {
		sel.WindowTitle = query.WindowTitle
	}
	if sel.ControlType == "" {
		sel.ControlType = query.ControlType
	}
	if sel.Name == "" {
		sel.Name = query.Name
	}
	if sel.AutomationID == "" {
		sel.AutomationID = query.AutomationID
	}
	sel.Confidence = 1.0
	sel.Touch()
	return &sel
}

// boundsDrifted reports whether two rectangles differ by more than tolerance
// pixels on any edge.
func boundsDrifted(a, b types.Rect, tolerance int) bool {
	drift := func(x, y int) bool {
		d := x - y
		if d < 0 {
			d = -d
		}
		return d > tolerance
	}
	return drift(a.X, b.X) || drift(a.Y, b.Y) ||
		drift(a.X+a.Width, b.X+b.Width) || drift(a.Y+a.Height, b.Y+b.Height)
}
