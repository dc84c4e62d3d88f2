// Package logstream mirrors pipeline log entries onto a NATS subject so
// operators can tail component activity remotely. Local logging always
// goes through slog; publishing only happens once a connection is
// attached.
package logstream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Conn publishes raw bytes to a subject. Satisfied by natsclient.Client.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Level represents the severity of a published entry
type Level string

const (
	// LevelDebug represents debug-level entries
	LevelDebug Level = "DEBUG"
	// LevelInfo represents informational entries
	LevelInfo Level = "INFO"
	// LevelWarn represents warning entries
	LevelWarn Level = "WARN"
	// LevelError represents error entries
	LevelError Level = "ERROR"
)

// Entry is the wire format published to logs.pipeline.<component>
type Entry struct {
	Timestamp string `json:"timestamp"` // RFC3339Nano, UTC
	Level     Level  `json:"level"`
	Component string `json:"component"`
	Message   string `json:"message"`
	Error     string `json:"error,omitempty"`
}

// connHolder shares one attachable connection across derived loggers
type connHolder struct {
	mu   sync.RWMutex
	conn Conn
}

func (h *connHolder) get() Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conn
}

func (h *connHolder) set(conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conn = conn
}

// Logger logs locally through slog and, once a connection is attached,
// also publishes each entry to logs.pipeline.<component>.
type Logger struct {
	component string
	holder    *connHolder
	local     *slog.Logger
}

// New creates a root logger for component. Publishing stays disabled
// until Attach.
func New(component string, local *slog.Logger) *Logger {
	if local == nil {
		local = slog.Default()
	}
	return &Logger{component: component, holder: &connHolder{}, local: local}
}

// Attach enables publishing on this logger and every logger derived from
// the same root via For. Safe to call after derived loggers are handed out.
func (l *Logger) Attach(conn Conn) {
	l.holder.set(conn)
}

// For derives a logger for another component sharing the same connection
func (l *Logger) For(component string) *Logger {
	return &Logger{component: component, holder: l.holder, local: l.local}
}

// Debug logs a debug-level message. Extra args go to the local logger only.
func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.local.Debug(msg, l.withComponent(args)...)
	l.publish(ctx, LevelDebug, msg, "")
}

// Info logs an info-level message
func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.local.Info(msg, l.withComponent(args)...)
	l.publish(ctx, LevelInfo, msg, "")
}

// Warn logs a warning-level message
func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.local.Warn(msg, l.withComponent(args)...)
	l.publish(ctx, LevelWarn, msg, "")
}

// Error logs an error-level message with the error flattened into the entry
func (l *Logger) Error(ctx context.Context, msg string, err error, args ...any) {
	l.local.Error(msg, append(l.withComponent(args), "error", err)...)
	errText := ""
	if err != nil {
		errText = err.Error()
	}
	l.publish(ctx, LevelError, msg, errText)
}

func (l *Logger) withComponent(args []any) []any {
	return append([]any{"component", l.component}, args...)
}

// publish sends the entry over the attached connection. Publish failures
// are reported locally and never propagate to the caller.
func (l *Logger) publish(ctx context.Context, level Level, msg, errText string) {
	conn := l.holder.get()
	if conn == nil || ctx.Err() != nil {
		return
	}

	entry := Entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level,
		Component: l.component,
		Message:   msg,
		Error:     errText,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		l.local.Error("log entry marshal failed", "error", err)
		return
	}

	subject := fmt.Sprintf("logs.pipeline.%s", l.component)
	if err := conn.Publish(subject, data); err != nil {
		l.local.Error("log entry publish failed", "error", err, "subject", subject)
	}
}
