package safety

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/surehand-ai/surehand/internal/types"
)

// TakeoverReason classifies why the agent is handing control back.
type TakeoverReason string

const (
	TakeoverSensitiveScreen    TakeoverReason = "sensitive_screen"
	TakeoverVerificationFailed TakeoverReason = "verification_failed"
	TakeoverBudgetExceeded     TakeoverReason = "budget_exceeded"
	TakeoverUnsafeEnvironment  TakeoverReason = "unsafe_environment"
	TakeoverUserRequested      TakeoverReason = "user_requested"
	TakeoverRecoveryExhausted  TakeoverReason = "recovery_exhausted"
	TakeoverError              TakeoverReason = "error"
)

// TakeoverRequest asks the human to intervene.
type TakeoverRequest struct {
	ID          types.ID       `json:"id"`
	Reason      TakeoverReason `json:"reason"`
	Message     string         `json:"message"`
	Context     map[string]any `json:"context,omitempty"`
	RequestedAt time.Time      `json:"requested_at"`
	ResolvedAt  time.Time      `json:"resolved_at,omitempty"`
	Note        string         `json:"note,omitempty"`
}

// Resolved reports whether the request has been answered.
func (r *TakeoverRequest) Resolved() bool {
	return !r.ResolvedAt.IsZero()
}

// TakeoverManager tracks pending handover requests and their resolutions.
type TakeoverManager struct {
	mu        sync.Mutex
	pending   map[types.ID]*TakeoverRequest
	history   []*TakeoverRequest
	onRequest func(*TakeoverRequest)
	logger    *slog.Logger
}

// NewTakeoverManager builds an empty manager.
func NewTakeoverManager(logger *slog.Logger) *TakeoverManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &TakeoverManager{
		pending: make(map[types.ID]*TakeoverRequest),
		logger:  logger,
	}
}

// OnRequest registers the hook fired for every new request.
func (t *TakeoverManager) OnRequest(fn func(*TakeoverRequest)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onRequest = fn
}

// Request records a new takeover request and fires the hook.
func (t *TakeoverManager) Request(reason TakeoverReason, message string, context map[string]any) *TakeoverRequest {
	req := &TakeoverRequest{
		ID:          types.NewID(),
		Reason:      reason,
		Message:     message,
		Context:     context,
		RequestedAt: time.Now(),
	}

	t.mu.Lock()
	t.pending[req.ID] = req
	hook := t.onRequest
	t.mu.Unlock()

	t.logger.Warn("takeover requested", "reason", string(reason), "message", message)
	if hook != nil {
		hook(req)
	}
	return req
}

// Resolve marks a pending request answered.
func (t *TakeoverManager) Resolve(id types.ID, note string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	req, ok := t.pending[id]
	if !ok {
		return fmt.Errorf("no pending takeover request with id %s", id)
	}
	req.ResolvedAt = time.Now()
	req.Note = note
	delete(t.pending, id)
	t.history = append(t.history, req)

	t.logger.Info("takeover resolved", "id", id, "note", note)
	return nil
}

// Pending returns unresolved requests, oldest first.
func (t *TakeoverManager) Pending() []*TakeoverRequest {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*TakeoverRequest, 0, len(t.pending))
	for _, req := range t.pending {
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RequestedAt.Before(out[j].RequestedAt)
	})
	return out
}

// History returns resolved requests in resolution order.
func (t *TakeoverManager) History() []*TakeoverRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*TakeoverRequest(nil), t.history...)
}
