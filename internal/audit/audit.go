// Package audit writes the append-only JSONL audit trail. Both plan-guard
// violations and tool-router calls land here, one JSON record per line, so
// the file can be tailed or replayed without any state.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Record is one audit line. Exactly one of Tool and Violation is set.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	Tool      string    `json:"tool,omitempty"`
	Violation string    `json:"violation,omitempty"`
	PlanID    string    `json:"plan_id,omitempty"`
	Status    string    `json:"status"`
	// DurationMS is the call duration in milliseconds, for tool records.
	DurationMS float64 `json:"duration_ms,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// Logger appends records to a single file opened O_APPEND. Writes are
// serialized; a write error is returned to the caller and never swallowed.
type Logger struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// Open creates (or reopens) the audit log at path, creating parent
// directories as needed.
func Open(path string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	return &Logger{file: file, path: path}, nil
}

// Path returns the audit log location.
func (l *Logger) Path() string {
	return l.path
}

// Append writes one record as a JSON line. The timestamp is stamped here
// when unset.
func (l *Logger) Append(rec Record) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

// ToolCall records one routed tool invocation.
func (l *Logger) ToolCall(tool, status string, duration time.Duration, callErr error) error {
	rec := Record{
		Tool:       tool,
		Status:     status,
		DurationMS: float64(duration.Microseconds()) / 1000.0,
	}
	if callErr != nil {
		rec.Error = callErr.Error()
	}
	return l.Append(rec)
}

// Violation records one plan-guard violation before the validation error is
// raised.
func (l *Logger) Violation(planID, violation string) error {
	return l.Append(Record{
		Violation: violation,
		PlanID:    planID,
		Status:    "blocked",
	})
}

// Close releases the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
