package computer

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/surehand-ai/surehand/internal/types"
)

// Fake is a configurable in-memory Computer for tests. It records every call
// and answers from canned state without requiring a real desktop.
type Fake struct {
	mu sync.Mutex

	// Canned state.
	Active      WindowInfo
	Windows     []WindowInfo
	ScreenText  string
	Shot        []byte
	Controls    map[string]*types.UISelector // keyed by ControlQuery.Name or AutomationID
	Templates   map[string]templateMatch
	TextSpots   map[string]types.Rect
	Files       map[string]bool
	Processes   map[string]bool
	Locked      bool
	Secure      bool
	SessionErr  error
	FailClicks  bool
	FailLaunch  error
	FailFocus   error
	CommandOut  string
	CommandErr  error

	calls []string
}

type templateMatch struct {
	bounds types.Rect
	score  float64
}

// Verify Fake implements Computer.
var _ Computer = (*Fake)(nil)

// FakeOption configures a Fake.
type FakeOption func(*Fake)

// WithActiveWindow sets the window reported by ActiveWindow.
func WithActiveWindow(title, app string) FakeOption {
	return func(f *Fake) {
		f.Active = WindowInfo{Title: title, App: app, Handle: 1}
	}
}

// WithControl registers an accessibility-tree control under its name (and
// automation id, when set).
func WithControl(sel *types.UISelector) FakeOption {
	return func(f *Fake) {
		if sel.Name != "" {
			f.Controls[sel.Name] = sel
		}
		if sel.AutomationID != "" {
			f.Controls[sel.AutomationID] = sel
		}
	}
}

// WithTemplate registers a vision template match with its score.
func WithTemplate(name string, bounds types.Rect, score float64) FakeOption {
	return func(f *Fake) {
		f.Templates[name] = templateMatch{bounds: bounds, score: score}
	}
}

// WithTextSpot places OCR-visible text at the given bounds.
func WithTextSpot(text string, bounds types.Rect) FakeOption {
	return func(f *Fake) {
		f.TextSpots[text] = bounds
		if f.ScreenText == "" {
			f.ScreenText = text
		} else {
			f.ScreenText += "\n" + text
		}
	}
}

// WithScreenText sets the full OCR text of the screen.
func WithScreenText(text string) FakeOption {
	return func(f *Fake) { f.ScreenText = text }
}

// WithFile marks a path as existing.
func WithFile(path string) FakeOption {
	return func(f *Fake) { f.Files[path] = true }
}

// WithProcess marks a process as running.
func WithProcess(name string) FakeOption {
	return func(f *Fake) { f.Processes[name] = true }
}

// NewFake builds a Fake with the given options. The zero Fake reports an
// unlocked, normal desktop with an empty screen.
func NewFake(opts ...FakeOption) *Fake {
	f := &Fake{
		Active:    WindowInfo{Title: "Desktop", App: "explorer.exe", Handle: 1},
		Controls:  make(map[string]*types.UISelector),
		Templates: make(map[string]templateMatch),
		TextSpots: make(map[string]types.Rect),
		Files:     make(map[string]bool),
		Processes: make(map[string]bool),
		Shot:      []byte("png"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Fake) record(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

// Calls returns the recorded call log.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallCount returns how many recorded calls start with the given prefix.
func (f *Fake) CallCount(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *Fake) Click(ctx context.Context, x, y int) error {
	f.record("click %d,%d", x, y)
	if f.FailClicks {
		return fmt.Errorf("click injection failed at %d,%d", x, y)
	}
	return nil
}

func (f *Fake) DoubleClick(ctx context.Context, x, y int) error {
	f.record("double_click %d,%d", x, y)
	if f.FailClicks {
		return fmt.Errorf("click injection failed at %d,%d", x, y)
	}
	return nil
}

func (f *Fake) RightClick(ctx context.Context, x, y int) error {
	f.record("right_click %d,%d", x, y)
	if f.FailClicks {
		return fmt.Errorf("click injection failed at %d,%d", x, y)
	}
	return nil
}

func (f *Fake) MoveMouse(ctx context.Context, x, y int) error {
	f.record("move_mouse %d,%d", x, y)
	return nil
}

func (f *Fake) Scroll(ctx context.Context, dx, dy int) error {
	f.record("scroll %d,%d", dx, dy)
	return nil
}

func (f *Fake) TypeText(ctx context.Context, text string) error {
	f.record("type_text %q", text)
	return nil
}

func (f *Fake) PressKeys(ctx context.Context, keys []string) error {
	f.record("press_keys %s", strings.Join(keys, "+"))
	return nil
}

func (f *Fake) Screenshot(ctx context.Context) ([]byte, error) {
	f.record("screenshot")
	return f.Shot, nil
}

func (f *Fake) ReadScreenText(ctx context.Context) (string, error) {
	f.record("read_screen_text")
	return f.ScreenText, nil
}

func (f *Fake) LocateText(ctx context.Context, text string) (types.Rect, bool, error) {
	f.record("locate_text %q", text)
	bounds, ok := f.TextSpots[text]
	return bounds, ok, nil
}

func (f *Fake) MatchTemplate(ctx context.Context, templateName string) (types.Rect, float64, error) {
	f.record("match_template %s", templateName)
	m, ok := f.Templates[templateName]
	if !ok {
		return types.Rect{}, 0, nil
	}
	return m.bounds, m.score, nil
}

func (f *Fake) ActiveWindow(ctx context.Context) (WindowInfo, error) {
	f.record("active_window")
	return f.Active, nil
}

func (f *Fake) FindWindow(ctx context.Context, titleSubstring string) (WindowInfo, bool, error) {
	f.record("find_window %q", titleSubstring)
	if strings.Contains(f.Active.Title, titleSubstring) {
		return f.Active, true, nil
	}
	for _, w := range f.Windows {
		if strings.Contains(w.Title, titleSubstring) {
			return w, true, nil
		}
	}
	return WindowInfo{}, false, nil
}

func (f *Fake) FocusWindow(ctx context.Context, titleSubstring string) error {
	f.record("focus_window %q", titleSubstring)
	if f.FailFocus != nil {
		return f.FailFocus
	}
	for _, w := range f.Windows {
		if strings.Contains(w.Title, titleSubstring) {
			f.mu.Lock()
			f.Active = w
			f.mu.Unlock()
			return nil
		}
	}
	if !strings.Contains(f.Active.Title, titleSubstring) {
		return fmt.Errorf("window %q not found", titleSubstring)
	}
	return nil
}

func (f *Fake) ListWindows(ctx context.Context) ([]WindowInfo, error) {
	f.record("list_windows")
	return append([]WindowInfo{f.Active}, f.Windows...), nil
}

func (f *Fake) FindControl(ctx context.Context, query ControlQuery) (*types.UISelector, error) {
	f.record("find_control %s/%s", query.Name, query.AutomationID)
	if query.Name != "" {
		if sel, ok := f.Controls[query.Name]; ok {
			return sel, nil
		}
	}
	if query.AutomationID != "" {
		if sel, ok := f.Controls[query.AutomationID]; ok {
			return sel, nil
		}
	}
	return nil, nil
}

func (f *Fake) SelectItem(ctx context.Context, query ControlQuery, value string) error {
	f.record("select_item %s=%s", query.Name, value)
	if _, ok := f.Controls[query.Name]; !ok {
		return fmt.Errorf("control %q not found", query.Name)
	}
	return nil
}

func (f *Fake) LaunchApp(ctx context.Context, path string, args []string) error {
	f.record("launch_app %s", path)
	if f.FailLaunch != nil {
		return f.FailLaunch
	}
	f.mu.Lock()
	f.Processes[path] = true
	f.mu.Unlock()
	return nil
}

func (f *Fake) OpenURL(ctx context.Context, url string) error {
	f.record("open_url %s", url)
	return nil
}

func (f *Fake) RunCommand(ctx context.Context, engine, command string) (string, error) {
	f.record("run_command %s: %s", engine, command)
	return f.CommandOut, f.CommandErr
}

func (f *Fake) FileExists(ctx context.Context, path string) (bool, error) {
	f.record("file_exists %s", path)
	return f.Files[path], nil
}

func (f *Fake) ProcessRunning(ctx context.Context, name string) (bool, error) {
	f.record("process_running %s", name)
	return f.Processes[name], nil
}

func (f *Fake) IsScreenLocked(ctx context.Context) (bool, error) {
	return f.Locked, nil
}

func (f *Fake) IsSecureDesktop(ctx context.Context) (bool, error) {
	return f.Secure, nil
}

func (f *Fake) VerifySession(ctx context.Context) error {
	f.record("verify_session")
	return f.SessionErr
}
