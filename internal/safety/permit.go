// Package safety implements the runtime safety gate: the session permit,
// action budget, environment monitor, focus guard, input rate limiter, and
// takeover manager, aggregated behind an explicitly constructed Gate. No
// component here is a package-level singleton; everything is built and wired
// by the caller.
package safety

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/surehand-ai/surehand/internal/types"
)

// PermitMode is how long a grant lasts.
type PermitMode string

const (
	// ModeSession allows automation until the TTL elapses.
	ModeSession PermitMode = "session"
	// ModeOnce allows exactly one task, then self-revokes.
	ModeOnce PermitMode = "once"
)

// DefaultPermitTTL is the session lifetime when a grant does not set one.
const DefaultPermitTTL = 30 * time.Minute

// tokenBytes is the entropy of the anti-forgery token minted per grant.
const tokenBytes = 32

// Permit is a snapshot of the current grant.
type Permit struct {
	Mode         PermitMode
	Apps         []string
	Folders      []string
	AllowNetwork bool
	IssuedAt     time.Time
	ExpiresAt    time.Time
	Used         bool
	Token        string
}

// SessionPermit is the consent gate: nothing executes without an active
// grant, and at most one grant is active at a time.
type SessionPermit struct {
	mu       sync.Mutex
	permit   *Permit
	timer    *time.Timer
	gen      uint64
	onExpire func()
	onRevoke func(reason string)
	logger   *slog.Logger
}

// PermitOption configures a SessionPermit.
type PermitOption func(*SessionPermit)

// WithPermitLogger sets the structured logger.
func WithPermitLogger(logger *slog.Logger) PermitOption {
	return func(p *SessionPermit) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewSessionPermit builds a permit gate in the denied state.
func NewSessionPermit(opts ...PermitOption) *SessionPermit {
	p := &SessionPermit{logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// OnExpire registers the hook fired when the TTL timer lapses.
func (p *SessionPermit) OnExpire(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onExpire = fn
}

// OnRevoke registers the hook fired on explicit revocation.
func (p *SessionPermit) OnRevoke(fn func(reason string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onRevoke = fn
}

// Grant replaces any active permit with a new one. A non-positive ttl uses
// DefaultPermitTTL.
func (p *SessionPermit) Grant(mode PermitMode, apps, folders []string, allowNetwork bool, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultPermitTTL
	}
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.timer != nil {
		p.timer.Stop()
	}
	p.permit = &Permit{
		Mode:         mode,
		Apps:         append([]string(nil), apps...),
		Folders:      append([]string(nil), folders...),
		AllowNetwork: allowNetwork,
		IssuedAt:     now,
		ExpiresAt:    now.Add(ttl),
		Token:        newToken(),
	}
	p.gen++
	gen := p.gen
	p.timer = time.AfterFunc(ttl, func() { p.autoExpire(gen) })

	p.logger.Info("session granted",
		"mode", string(mode),
		"apps", len(apps),
		"network", allowNetwork,
		"expires_at", p.permit.ExpiresAt,
	)
}

// Revoke drops the active permit. Safe to call when none is active.
func (p *SessionPermit) Revoke(reason string) {
	p.mu.Lock()
	wasActive := p.permit != nil
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.permit = nil
	hook := p.onRevoke
	p.mu.Unlock()

	if wasActive {
		p.logger.Info("session revoked", "reason", reason)
		if hook != nil {
			hook(reason)
		}
	}
}

// Check reports whether an unexpired permit is active, without raising.
func (p *SessionPermit) Check() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeLocked()
}

// Ensure returns nil when actions are allowed right now. It distinguishes
// never-granted from expired, and enforces single use for once mode.
func (p *SessionPermit) Ensure() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.permit == nil {
		return types.NewPermissionDeniedError("session permission not granted")
	}
	if time.Now().After(p.permit.ExpiresAt) {
		p.permit = nil
		return types.NewSessionExpiredError()
	}
	if p.permit.Mode == ModeOnce && p.permit.Used {
		return types.NewPermissionDeniedError("single-task permission already used")
	}
	return nil
}

// MarkUsed records task completion. A consumed once-mode permit stays held
// so Ensure can report that it was already used, but allows nothing further.
func (p *SessionPermit) MarkUsed() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.permit == nil {
		return
	}
	p.permit.Used = true
	if p.permit.Mode == ModeOnce {
		if p.timer != nil {
			p.timer.Stop()
			p.timer = nil
		}
		p.logger.Info("single-task permit consumed")
	}
}

// Extend pushes the expiry further out and re-arms the timer.
func (p *SessionPermit) Extend(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.permit == nil || d <= 0 {
		return
	}
	p.permit.ExpiresAt = p.permit.ExpiresAt.Add(d)
	if p.timer != nil {
		p.timer.Stop()
	}
	remaining := time.Until(p.permit.ExpiresAt)
	if remaining > 0 {
		p.gen++
		gen := p.gen
		p.timer = time.AfterFunc(remaining, func() { p.autoExpire(gen) })
	}
}

// Current returns a copy of the most recent grant, or nil when none is held.
// The copy may already be expired; check ExpiresAt.
func (p *SessionPermit) Current() *Permit {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.permit == nil {
		return nil
	}
	cp := *p.permit
	cp.Apps = append([]string(nil), p.permit.Apps...)
	cp.Folders = append([]string(nil), p.permit.Folders...)
	return &cp
}

// TimeRemaining returns how long the permit stays valid, zero when none is
// active.
func (p *SessionPermit) TimeRemaining() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.activeLocked() {
		return 0
	}
	return time.Until(p.permit.ExpiresAt)
}

// AppAllowed reports whether the app is on the granted list, case
// insensitively. An empty granted list allows nothing.
func (p *SessionPermit) AppAllowed(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.activeLocked() {
		return false
	}
	for _, app := range p.permit.Apps {
		if strings.EqualFold(app, name) {
			return true
		}
	}
	return false
}

// FolderAllowed reports whether path falls under a granted folder. Paths are
// made absolute and cleaned so traversal tricks cannot escape the grant.
func (p *SessionPermit) FolderAllowed(path string) bool {
	if path == "" {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.activeLocked() {
		return false
	}

	target, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return false
	}
	for _, folder := range p.permit.Folders {
		granted, err := filepath.Abs(filepath.Clean(folder))
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(granted, target)
		if err != nil {
			continue
		}
		if rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel)) {
			return true
		}
	}
	return false
}

// NetworkAllowed reports whether the active permit allows network access.
// It satisfies guard.SessionPolicy.
func (p *SessionPermit) NetworkAllowed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeLocked() && p.permit.AllowNetwork
}

// ValidateToken reports whether token matches the active grant's anti-forgery
// token. The comparison is constant time, and any inactive permit fails.
func (p *SessionPermit) ValidateToken(token string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.activeLocked() || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(p.permit.Token), []byte(token)) == 1
}

func (p *SessionPermit) activeLocked() bool {
	if p.permit == nil || !time.Now().Before(p.permit.ExpiresAt) {
		return false
	}
	if p.permit.Mode == ModeOnce && p.permit.Used {
		return false
	}
	return true
}

// newToken mints a fresh anti-forgery token from the system CSPRNG. Every
// grant carries its own token; none is ever reused.
func newToken() string {
	buf := make([]byte, tokenBytes)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		panic(fmt.Sprintf("safety: csprng read failed: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// autoExpire runs when the TTL timer lapses. It leaves the permit in place
// so the next Ensure reports SESSION_EXPIRED rather than never-granted; the
// generation check discards timers orphaned by a newer grant.
func (p *SessionPermit) autoExpire(gen uint64) {
	p.mu.Lock()
	stale := gen != p.gen || p.permit == nil
	hook := p.onExpire
	p.mu.Unlock()

	if stale {
		return
	}
	p.logger.Warn("session expired")
	if hook != nil {
		hook()
	}
}
