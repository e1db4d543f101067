// Package audit writes per-execution audit events as append-only JSONL.
// Each event is a single JSON line followed by a newline.
// Thread-safe: multiple goroutines can log concurrently.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Event records one tool execution for the audit trail.
type Event struct {
	Timestamp   time.Time `json:"timestamp"`
	ExecutionID string    `json:"execution_id"`
	Package     string    `json:"package"`
	Version     string    `json:"version"`
	Tool        string    `json:"tool"`
	Success     bool      `json:"success"`
	ErrorCode   string    `json:"error_code,omitempty"`
	DurationMs  int64     `json:"duration_ms"`
}

// Logger appends audit events to a JSONL file.
type Logger struct {
	mu     sync.Mutex
	file   *os.File
	logger *slog.Logger
}

// NewLogger opens (or creates) the audit log file in append-only mode.
// File permissions are 0600 (owner read/write only).
func NewLogger(path string, logger *slog.Logger) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening audit log %s: %w", path, err)
	}
	return &Logger{
		file:   f,
		logger: logger,
	}, nil
}

// Record serializes the event as JSON and appends it to the audit log.
// Marshal happens outside the lock; only the file write is serialized.
func (a *Logger) Record(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling audit event: %w", err)
	}
	data = append(data, '\n')

	a.mu.Lock()
	_, writeErr := a.file.Write(data)
	a.mu.Unlock()

	if writeErr != nil {
		return fmt.Errorf("writing audit event: %w", writeErr)
	}

	a.logger.InfoContext(ctx, "audit event logged",
		slog.String("execution_id", event.ExecutionID),
		slog.String("package", event.Package),
		slog.String("tool", event.Tool),
		slog.Bool("success", event.Success),
	)

	return nil
}

// Close closes the underlying file.
func (a *Logger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file.Close()
}
