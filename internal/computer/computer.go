// Package computer defines the collaborator interface for low-level OS
// primitives. The execution engine never touches the desktop directly; every
// input injection, screenshot, and window lookup goes through a Computer so
// the engine stays testable and the primitives stay swappable (local
// bindings, remote tool host).
package computer

import (
	"context"

	"github.com/surehand-ai/surehand/internal/types"
)

// WindowInfo describes one top-level window.
type WindowInfo struct {
	Title  string     `json:"title"`
	App    string     `json:"app"`
	Handle int64      `json:"handle"`
	Bounds types.Rect `json:"bounds"`
}

// ControlQuery identifies a control in the accessibility tree. Empty fields
// are wildcards; at least one of Name and AutomationID should be set.
type ControlQuery struct {
	WindowTitle  string `json:"window_title"`
	ControlType  string `json:"control_type,omitempty"`
	Name         string `json:"name,omitempty"`
	AutomationID string `json:"automation_id,omitempty"`
}

// Computer exposes the OS primitives the strategies, verifier, and monitors
// call. Implementations must be safe for sequential use from the execution
// loop plus the background monitor goroutines.
type Computer interface {
	// Input injection.
	Click(ctx context.Context, x, y int) error
	DoubleClick(ctx context.Context, x, y int) error
	RightClick(ctx context.Context, x, y int) error
	MoveMouse(ctx context.Context, x, y int) error
	Scroll(ctx context.Context, dx, dy int) error
	TypeText(ctx context.Context, text string) error
	PressKeys(ctx context.Context, keys []string) error

	// Screen introspection.
	Screenshot(ctx context.Context) ([]byte, error)
	ReadScreenText(ctx context.Context) (string, error)
	LocateText(ctx context.Context, text string) (types.Rect, bool, error)
	MatchTemplate(ctx context.Context, templateName string) (types.Rect, float64, error)

	// Window management.
	ActiveWindow(ctx context.Context) (WindowInfo, error)
	FindWindow(ctx context.Context, titleSubstring string) (WindowInfo, bool, error)
	FocusWindow(ctx context.Context, titleSubstring string) error
	ListWindows(ctx context.Context) ([]WindowInfo, error)

	// Accessibility tree.
	FindControl(ctx context.Context, query ControlQuery) (*types.UISelector, error)
	SelectItem(ctx context.Context, query ControlQuery, value string) error

	// System operations.
	LaunchApp(ctx context.Context, path string, args []string) error
	OpenURL(ctx context.Context, url string) error
	RunCommand(ctx context.Context, engine, command string) (string, error)
	FileExists(ctx context.Context, path string) (bool, error)
	ProcessRunning(ctx context.Context, name string) (bool, error)

	// Desktop state.
	IsScreenLocked(ctx context.Context) (bool, error)
	IsSecureDesktop(ctx context.Context) (bool, error)

	// VerifySession is the session-verifier hook strategies must invoke
	// before any privileged action (app launch, shell, URL open).
	VerifySession(ctx context.Context) error
}
