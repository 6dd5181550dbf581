// Package toolhost connects the engine to the out-of-process tool host over
// loopback HTTP. Plugin tools run in a separate host process so a crashing
// tool cannot take the engine down; the host binds an ephemeral port on
// 127.0.0.1 and advertises it through a small JSON port file.
package toolhost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/surehand-ai/surehand/internal/types"
)

const (
	defaultCallTimeout = 30 * time.Second

	callPath   = "/host/tools/call"
	healthPath = "/host/health"

	statusSuccess = "success"
)

// portFile is the discovery record the host writes on startup.
type portFile struct {
	Port int `json:"port"`
	PID  int `json:"pid"`
}

// readPortFile loads and validates the discovery record at path.
func readPortFile(path string) (portFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return portFile{}, fmt.Errorf("port file not readable: %w", err)
	}
	var pf portFile
	if err := json.Unmarshal(raw, &pf); err != nil {
		return portFile{}, fmt.Errorf("port file malformed: %w", err)
	}
	if pf.Port < 1 || pf.Port > 65535 {
		return portFile{}, fmt.Errorf("port file holds invalid port %d", pf.Port)
	}
	return pf, nil
}

// callRequest is the invoke body sent to the host.
type callRequest struct {
	ToolName string         `json:"tool_name"`
	Args     map[string]any `json:"args"`
}

// callEnvelope is the host's uniform response wrapper.
type callEnvelope struct {
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type healthResponse struct {
	Status string `json:"status"`
	PID    int    `json:"pid"`
}

// Client calls tools on the host. The port is resolved lazily from the port
// file and cached; a transport failure forces one re-read in case the host
// restarted on a different port. Safe for concurrent use.
type Client struct {
	portPath string
	http     *http.Client
	logger   *slog.Logger

	mu      sync.Mutex
	baseURL string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithCallTimeout overrides the per-call timeout.
func WithCallTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithClientLogger sets the structured logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient builds a client that reads host discovery from the port file at
// portPath. The file is not read until the first call.
func NewClient(portPath string, opts ...ClientOption) *Client {
	c := &Client{
		portPath: portPath,
		http:     &http.Client{Timeout: defaultCallTimeout},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call invokes tool on the host and returns its result object. An error
// reported by the tool itself surfaces as TOOL_CALL_FAILED; not reaching the
// host at all surfaces as TOOL_HOST_UNAVAILABLE.
func (c *Client) Call(ctx context.Context, tool string, args map[string]any) (map[string]any, error) {
	if args == nil {
		// The wire contract is an object, never null.
		args = map[string]any{}
	}
	payload, err := json.Marshal(callRequest{ToolName: tool, Args: args})
	if err != nil {
		return nil, types.WrapError(types.TOOL_CALL_FAILED, "failed to encode tool call", err)
	}

	start := time.Now()
	resp, err := c.roundTrip(ctx, http.MethodPost, callPath, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewToolHostError(fmt.Errorf("failed to read host response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, types.NewError(types.TOOL_CALL_FAILED, fmt.Sprintf(
			"tool %q rejected by host: status %d: %s",
			tool, resp.StatusCode, strings.TrimSpace(string(raw))))
	}

	var env callEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, types.WrapError(types.TOOL_CALL_FAILED, "host response malformed", err)
	}
	if env.Status != statusSuccess {
		msg := env.Error
		if msg == "" {
			msg = fmt.Sprintf("host reported status %q", env.Status)
		}
		return nil, types.NewError(types.TOOL_CALL_FAILED, fmt.Sprintf("tool %q failed: %s", tool, msg))
	}

	var result map[string]any
	if len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, &result); err != nil {
			return nil, types.WrapError(types.TOOL_CALL_FAILED, "host result malformed", err)
		}
	}

	c.logger.Debug("tool host call completed",
		"tool", tool,
		"duration_ms", time.Since(start).Milliseconds())
	return result, nil
}

// Health probes the host and returns nil when it answers with its ok status.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.roundTrip(ctx, http.MethodGet, healthPath, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.NewToolHostError(fmt.Errorf("health endpoint returned status %d", resp.StatusCode))
	}
	var hr healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&hr); err != nil {
		return types.NewToolHostError(fmt.Errorf("health response malformed: %w", err))
	}
	if hr.Status != "ok" {
		return types.NewToolHostError(fmt.Errorf("host reported status %q", hr.Status))
	}
	return nil
}

// roundTrip sends one request, re-resolving the port and retrying exactly
// once when the transport fails. The host may have restarted on a new port
// between calls.
func (c *Client) roundTrip(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	base, err := c.resolveBaseURL(false)
	if err != nil {
		return nil, err
	}

	resp, err := c.send(ctx, method, base+path, body)
	if err == nil {
		return resp, nil
	}
	if ctx.Err() != nil {
		return nil, types.NewToolHostError(err)
	}

	c.logger.Warn("tool host request failed, re-reading port file",
		"path", path,
		"error", err)
	base, rerr := c.resolveBaseURL(true)
	if rerr != nil {
		return nil, rerr
	}
	resp, err = c.send(ctx, method, base+path, body)
	if err != nil {
		return nil, types.NewToolHostError(err)
	}
	return resp, nil
}

func (c *Client) send(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.http.Do(req)
}

// resolveBaseURL returns the cached host URL, reading the port file when the
// cache is empty or refresh is set.
func (c *Client) resolveBaseURL(refresh bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.baseURL != "" && !refresh {
		return c.baseURL, nil
	}
	pf, err := readPortFile(c.portPath)
	if err != nil {
		return "", types.NewToolHostError(err)
	}
	c.baseURL = fmt.Sprintf("http://127.0.0.1:%d", pf.Port)
	return c.baseURL, nil
}
