package computer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/surehand-ai/surehand/internal/types"
)

// Caller dispatches one named tool call. It is the slice of the tool host
// client the remote backend needs; accepting the interface keeps this
// package free of a transport dependency.
type Caller interface {
	Call(ctx context.Context, tool string, args map[string]any) (map[string]any, error)
}

// Remote drives the desktop through the out-of-process tool host. Every
// primitive becomes exactly one tool call; the host owns the real OS
// bindings and reports results as JSON objects, which Remote maps back onto
// the typed Computer contract. Transport and tool-level failures surface
// unchanged from the caller.
type Remote struct {
	caller Caller
}

// NewRemote returns a Computer backed by the given tool host caller.
func NewRemote(caller Caller) *Remote {
	return &Remote{caller: caller}
}

func (r *Remote) Click(ctx context.Context, x, y int) error {
	_, err := r.caller.Call(ctx, "click", map[string]any{"x": x, "y": y})
	return err
}

func (r *Remote) DoubleClick(ctx context.Context, x, y int) error {
	_, err := r.caller.Call(ctx, "double_click", map[string]any{"x": x, "y": y})
	return err
}

func (r *Remote) RightClick(ctx context.Context, x, y int) error {
	_, err := r.caller.Call(ctx, "right_click", map[string]any{"x": x, "y": y})
	return err
}

func (r *Remote) MoveMouse(ctx context.Context, x, y int) error {
	_, err := r.caller.Call(ctx, "move_mouse", map[string]any{"x": x, "y": y})
	return err
}

func (r *Remote) Scroll(ctx context.Context, dx, dy int) error {
	_, err := r.caller.Call(ctx, "scroll", map[string]any{"dx": dx, "dy": dy})
	return err
}

func (r *Remote) TypeText(ctx context.Context, text string) error {
	_, err := r.caller.Call(ctx, "type_text", map[string]any{"text": text})
	return err
}

func (r *Remote) PressKeys(ctx context.Context, keys []string) error {
	_, err := r.caller.Call(ctx, "press_key", map[string]any{"keys": keys})
	return err
}

// Screenshot fetches a capture from the host. The image travels as standard
// base64 in the "image" field.
func (r *Remote) Screenshot(ctx context.Context) ([]byte, error) {
	res, err := r.caller.Call(ctx, "screenshot", nil)
	if err != nil {
		return nil, err
	}
	encoded := stringField(res, "image")
	if encoded == "" {
		return nil, types.NewError(types.TOOL_CALL_FAILED, "screenshot result carries no image")
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, types.WrapError(types.TOOL_CALL_FAILED, "screenshot image is not valid base64", err)
	}
	return raw, nil
}

func (r *Remote) ReadScreenText(ctx context.Context) (string, error) {
	res, err := r.caller.Call(ctx, "read_text", nil)
	if err != nil {
		return "", err
	}
	return stringField(res, "text"), nil
}

func (r *Remote) LocateText(ctx context.Context, text string) (types.Rect, bool, error) {
	res, err := r.caller.Call(ctx, "locate_text", map[string]any{"text": text})
	if err != nil {
		return types.Rect{}, false, err
	}
	if !boolField(res, "found") {
		return types.Rect{}, false, nil
	}
	var bounds types.Rect
	if err := decodeField(res, "bounds", &bounds); err != nil {
		return types.Rect{}, false, err
	}
	return bounds, true, nil
}

func (r *Remote) MatchTemplate(ctx context.Context, templateName string) (types.Rect, float64, error) {
	res, err := r.caller.Call(ctx, "match_template", map[string]any{"template": templateName})
	if err != nil {
		return types.Rect{}, 0, err
	}
	score := floatField(res, "score")
	if score <= 0 {
		return types.Rect{}, 0, nil
	}
	var bounds types.Rect
	if err := decodeField(res, "bounds", &bounds); err != nil {
		return types.Rect{}, 0, err
	}
	return bounds, score, nil
}

func (r *Remote) ActiveWindow(ctx context.Context) (WindowInfo, error) {
	res, err := r.caller.Call(ctx, "active_window", nil)
	if err != nil {
		return WindowInfo{}, err
	}
	var info WindowInfo
	if err := decodeAll(res, &info); err != nil {
		return WindowInfo{}, err
	}
	return info, nil
}

func (r *Remote) FindWindow(ctx context.Context, titleSubstring string) (WindowInfo, bool, error) {
	res, err := r.caller.Call(ctx, "find_window", map[string]any{"title": titleSubstring})
	if err != nil {
		return WindowInfo{}, false, err
	}
	if !boolField(res, "found") {
		return WindowInfo{}, false, nil
	}
	var info WindowInfo
	if err := decodeField(res, "window", &info); err != nil {
		return WindowInfo{}, false, err
	}
	return info, true, nil
}

func (r *Remote) FocusWindow(ctx context.Context, titleSubstring string) error {
	_, err := r.caller.Call(ctx, "focus_window", map[string]any{"title": titleSubstring})
	return err
}

func (r *Remote) ListWindows(ctx context.Context) ([]WindowInfo, error) {
	res, err := r.caller.Call(ctx, "get_window_list", nil)
	if err != nil {
		return nil, err
	}
	var windows []WindowInfo
	if err := decodeField(res, "windows", &windows); err != nil {
		return nil, err
	}
	return windows, nil
}

// FindControl asks the host's accessibility tree for a control. A miss is
// (nil, nil), matching the in-process implementations.
func (r *Remote) FindControl(ctx context.Context, query ControlQuery) (*types.UISelector, error) {
	res, err := r.caller.Call(ctx, "find_control", queryArgs(query))
	if err != nil {
		return nil, err
	}
	if !boolField(res, "found") {
		return nil, nil
	}
	sel := &types.UISelector{}
	if err := decodeField(res, "selector", sel); err != nil {
		return nil, err
	}
	return sel, nil
}

func (r *Remote) SelectItem(ctx context.Context, query ControlQuery, value string) error {
	args := queryArgs(query)
	args["value"] = value
	_, err := r.caller.Call(ctx, "select", args)
	return err
}

func (r *Remote) LaunchApp(ctx context.Context, path string, args []string) error {
	_, err := r.caller.Call(ctx, "launch_app", map[string]any{"path": path, "args": args})
	return err
}

func (r *Remote) OpenURL(ctx context.Context, url string) error {
	_, err := r.caller.Call(ctx, "open_url", map[string]any{"url": url})
	return err
}

func (r *Remote) RunCommand(ctx context.Context, engine, command string) (string, error) {
	res, err := r.caller.Call(ctx, "run_command", map[string]any{"engine": engine, "command": command})
	if err != nil {
		return "", err
	}
	return stringField(res, "output"), nil
}

func (r *Remote) FileExists(ctx context.Context, path string) (bool, error) {
	res, err := r.caller.Call(ctx, "file_exists", map[string]any{"path": path})
	if err != nil {
		return false, err
	}
	return boolField(res, "exists"), nil
}

func (r *Remote) ProcessRunning(ctx context.Context, name string) (bool, error) {
	res, err := r.caller.Call(ctx, "process_running", map[string]any{"name": name})
	if err != nil {
		return false, err
	}
	return boolField(res, "running"), nil
}

func (r *Remote) IsScreenLocked(ctx context.Context) (bool, error) {
	res, err := r.caller.Call(ctx, "screen_locked", nil)
	if err != nil {
		return false, err
	}
	return boolField(res, "locked"), nil
}

func (r *Remote) IsSecureDesktop(ctx context.Context) (bool, error) {
	res, err := r.caller.Call(ctx, "secure_desktop", nil)
	if err != nil {
		return false, err
	}
	return boolField(res, "secure"), nil
}

func (r *Remote) VerifySession(ctx context.Context) error {
	_, err := r.caller.Call(ctx, "verify_session", nil)
	return err
}

func queryArgs(query ControlQuery) map[string]any {
	return map[string]any{
		"window_title":  query.WindowTitle,
		"control_type":  query.ControlType,
		"name":          query.Name,
		"automation_id": query.AutomationID,
	}
}

func boolField(m map[string]any, key string) bool {
	v, _ := m[key].(bool)
	return v
}

func stringField(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func floatField(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

// decodeField maps one field of a generic result onto a typed value. Results
// arrive as map[string]any, so a JSON round trip is the conversion.
func decodeField(m map[string]any, key string, dst any) error {
	raw, err := json.Marshal(m[key])
	if err != nil {
		return types.WrapError(types.TOOL_CALL_FAILED, fmt.Sprintf("unencodable %s in tool result", key), err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return types.WrapError(types.TOOL_CALL_FAILED, fmt.Sprintf("malformed %s in tool result", key), err)
	}
	return nil
}

func decodeAll(m map[string]any, dst any) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return types.WrapError(types.TOOL_CALL_FAILED, "unencodable tool result", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return types.WrapError(types.TOOL_CALL_FAILED, "malformed tool result", err)
	}
	return nil
}
