package toolhost

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/surehand-ai/surehand/internal/audit"
	"github.com/surehand-ai/surehand/internal/types"
)

// Handler executes a locally registered tool.
type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// Router is the dispatch gateway for named tools. Local handlers win over
// the remote host; every dispatch passes the rate limiter first and lands in
// the audit log with its outcome.
type Router struct {
	logger    *slog.Logger
	limiter   *rate.Limiter
	perMinute int
	remote    *Client
	audit     *audit.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithRouterLogger sets the structured logger.
func WithRouterLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRemote routes tools without a local handler to the host client.
func WithRemote(client *Client) RouterOption {
	return func(r *Router) { r.remote = client }
}

// WithRateLimit caps dispatches at perMinute requests per minute, with burst
// capacity of the same size. Zero or negative disables the limiter.
func WithRateLimit(perMinute int) RouterOption {
	return func(r *Router) {
		if perMinute > 0 {
			r.perMinute = perMinute
			r.limiter = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
		}
	}
}

// WithAudit records every dispatch in the audit log.
func WithAudit(log *audit.Logger) RouterOption {
	return func(r *Router) { r.audit = log }
}

// NewRouter builds an empty router. Without options it dispatches to local
// handlers only, unlimited and unaudited.
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		logger:   slog.Default(),
		handlers: make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register installs a local handler for name, replacing any previous one.
func (r *Router) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Tools returns the sorted names of locally registered tools.
func (r *Router) Tools() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call dispatches tool with args and returns its result object.
func (r *Router) Call(ctx context.Context, tool string, args map[string]any) (map[string]any, error) {
	if r.limiter != nil && !r.limiter.Allow() {
		err := types.NewRetryableError(types.TOOL_CALL_FAILED, fmt.Sprintf(
			"rate limit exceeded: max %d requests per minute", r.perMinute)).
			WithDetail("tool", tool)
		r.record(tool, "rate_limited", 0, err)
		return nil, err
	}

	start := time.Now()
	result, err := r.dispatch(ctx, tool, args)
	duration := time.Since(start)

	if err != nil {
		r.record(tool, "error", duration, err)
		r.logger.Warn("tool call failed", "tool", tool, "error", err)
		return nil, err
	}

	r.record(tool, "success", duration, nil)
	r.logger.Debug("tool call completed",
		"tool", tool,
		"duration_ms", duration.Milliseconds())
	return result, nil
}

func (r *Router) dispatch(ctx context.Context, tool string, args map[string]any) (map[string]any, error) {
	r.mu.RLock()
	h, ok := r.handlers[tool]
	r.mu.RUnlock()

	if ok {
		return h(ctx, args)
	}
	if r.remote != nil {
		return r.remote.Call(ctx, tool, args)
	}
	return nil, types.NewError(types.TOOL_CALL_FAILED, fmt.Sprintf("tool not found: %s", tool))
}

// record appends the audit line. Audit failures are logged, never raised;
// the tool outcome is already decided by the time the record is written.
func (r *Router) record(tool, status string, duration time.Duration, callErr error) {
	if r.audit == nil {
		return
	}
	if err := r.audit.ToolCall(tool, status, duration, callErr); err != nil {
		r.logger.Error("failed to write audit record", "tool", tool, "error", err)
	}
}
