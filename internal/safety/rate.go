package safety

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/surehand-ai/surehand/internal/types"
)

// RateConfig bounds synthetic input rates over a sliding window.
type RateConfig struct {
	MaxKeysPerSec   int
	MaxClicksPerSec int
	Window          time.Duration
	// HardStopThreshold multiplies the per-second limits: exceeding
	// limit*threshold pauses input outright instead of just warning.
	HardStopThreshold float64
}

// DefaultRateConfig returns the stock limits. Human typing peaks near
// 10 keys/sec; 30 leaves room for bursts while still catching loops.
func DefaultRateConfig() RateConfig {
	return RateConfig{
		MaxKeysPerSec:     30,
		MaxClicksPerSec:   10,
		Window:            time.Second,
		HardStopThreshold: 2.0,
	}
}

// RateStats is a point-in-time view of the limiter.
type RateStats struct {
	KeysPerSec   float64
	ClicksPerSec float64
	Paused       bool
	PauseReason  string
}

// InputRateLimiter stops runaway input loops. Crossing a soft limit logs a
// warning and lets the action through; crossing the hard limit pauses all
// input until Reset.
type InputRateLimiter struct {
	mu sync.Mutex

	cfg        RateConfig
	keyTimes   []time.Time
	clickTimes []time.Time

	paused      bool
	pauseReason string

	logger *slog.Logger
	now    func() time.Time
}

// NewInputRateLimiter builds a limiter. Zero-valued cfg fields fall back to
// the defaults.
func NewInputRateLimiter(cfg RateConfig, logger *slog.Logger) *InputRateLimiter {
	def := DefaultRateConfig()
	if cfg.MaxKeysPerSec <= 0 {
		cfg.MaxKeysPerSec = def.MaxKeysPerSec
	}
	if cfg.MaxClicksPerSec <= 0 {
		cfg.MaxClicksPerSec = def.MaxClicksPerSec
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.HardStopThreshold <= 0 {
		cfg.HardStopThreshold = def.HardStopThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InputRateLimiter{cfg: cfg, logger: logger, now: time.Now}
}

// RecordKeys accounts for n keystrokes about to be injected. It returns a
// RATE_LIMIT_EXCEEDED error when input is paused or the burst crosses the
// hard limit.
func (l *InputRateLimiter) RecordKeys(n int) error {
	if n <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.paused {
		return pausedRateError("keystrokes", l.pauseReason)
	}

	now := l.now()
	l.keyTimes = pruneWindow(l.keyTimes, now, l.cfg.Window)
	for i := 0; i < n; i++ {
		l.keyTimes = append(l.keyTimes, now)
	}

	rate := float64(len(l.keyTimes)) / l.cfg.Window.Seconds()
	hard := float64(l.cfg.MaxKeysPerSec) * l.cfg.HardStopThreshold

	if rate > hard {
		l.paused = true
		l.pauseReason = fmt.Sprintf("keystroke rate %.1f/sec exceeds hard limit %.1f/sec", rate, hard)
		l.logger.Error("input rate hard stop", "kind", "keystrokes", "rate", rate, "hard_limit", hard)
		return types.NewRateLimitError("keystrokes", rate)
	}
	if rate > float64(l.cfg.MaxKeysPerSec) {
		l.logger.Warn("keystroke rate above soft limit", "rate", rate, "limit", l.cfg.MaxKeysPerSec)
	}
	return nil
}

// RecordClick accounts for one click about to be injected.
func (l *InputRateLimiter) RecordClick() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.paused {
		return pausedRateError("clicks", l.pauseReason)
	}

	now := l.now()
	l.clickTimes = pruneWindow(l.clickTimes, now, l.cfg.Window)
	l.clickTimes = append(l.clickTimes, now)

	rate := float64(len(l.clickTimes)) / l.cfg.Window.Seconds()
	hard := float64(l.cfg.MaxClicksPerSec) * l.cfg.HardStopThreshold

	if rate > hard {
		l.paused = true
		l.pauseReason = fmt.Sprintf("click rate %.1f/sec exceeds hard limit %.1f/sec", rate, hard)
		l.logger.Error("input rate hard stop", "kind", "clicks", "rate", rate, "hard_limit", hard)
		return types.NewRateLimitError("clicks", rate)
	}
	if rate > float64(l.cfg.MaxClicksPerSec) {
		l.logger.Warn("click rate above soft limit", "rate", rate, "limit", l.cfg.MaxClicksPerSec)
	}
	return nil
}

// Paused reports whether the hard stop tripped.
func (l *InputRateLimiter) Paused() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.paused
}

// Stats returns current rates and pause state.
func (l *InputRateLimiter) Stats() RateStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.keyTimes = pruneWindow(l.keyTimes, now, l.cfg.Window)
	l.clickTimes = pruneWindow(l.clickTimes, now, l.cfg.Window)

	return RateStats{
		KeysPerSec:   float64(len(l.keyTimes)) / l.cfg.Window.Seconds(),
		ClicksPerSec: float64(len(l.clickTimes)) / l.cfg.Window.Seconds(),
		Paused:       l.paused,
		PauseReason:  l.pauseReason,
	}
}

// Reset clears all recorded input and the pause flag.
func (l *InputRateLimiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keyTimes = l.keyTimes[:0]
	l.clickTimes = l.clickTimes[:0]
	l.paused = false
	l.pauseReason = ""
	l.logger.Info("input rate limiter reset")
}

func pruneWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	i := 0
	for i < len(times) && times[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return times
	}
	return append(times[:0], times[i:]...)
}

func pausedRateError(kind, reason string) error {
	err := types.NewRateLimitError(kind, 0)
	err.Message = "input paused: " + reason
	return err
}
