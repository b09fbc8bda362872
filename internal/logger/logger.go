// Package logger provides process-wide logging for memweave.
// Debug, Info and Warn messages are printed only in verbose mode; Error
// messages are always printed. Output is plain text by default and can be
// switched to structured JSON lines for daemon use.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Format selects how log lines are rendered.
type Format string

const (
	// FormatText renders "[LEVEL] message" lines.
	FormatText Format = "text"
	// FormatJSON renders one slog JSON object per line.
	FormatJSON Format = "json"
)

var (
	mu      sync.RWMutex
	verbose bool
	output  io.Writer = os.Stderr
	format            = FormatText
	jsonLog           = newJSONLogger(os.Stderr)
)

func newJSONLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// SetVerbose enables or disables verbose logging.
func SetVerbose(v bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = v
}

// IsVerbose returns true if verbose mode is enabled.
func IsVerbose() bool {
	mu.RLock()
	defer mu.RUnlock()
	return verbose
}

// SetOutput sets the output writer for logs.
// Defaults to os.Stderr. Useful for testing.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
	jsonLog = newJSONLogger(w)
}

// SetFormat switches between text and JSON output.
// Unknown formats fall back to text.
func SetFormat(f Format) {
	mu.Lock()
	defer mu.Unlock()
	if f != FormatJSON {
		f = FormatText
	}
	format = f
}

// ParseFormat converts a flag value into a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatText, "":
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return FormatText, fmt.Errorf("unknown log format %q", s)
	}
}

func emit(level slog.Level, tag, msg string, always bool) {
	mu.Lock()
	defer mu.Unlock()
	if !verbose && !always {
		return
	}
	if format == FormatJSON {
		jsonLog.Log(context.Background(), level, msg)
		return
	}
	fmt.Fprintf(output, "[%s] %s\n", tag, msg)
}

// Debug prints a message if verbose mode is enabled.
func Debug(format string, args ...any) {
	emit(slog.LevelDebug, "DEBUG", fmt.Sprintf(format, args...), false)
}

// Section prints a section header if verbose mode is enabled.
func Section(name string) {
	mu.Lock()
	defer mu.Unlock()
	if !verbose {
		return
	}
	if format == FormatJSON {
		jsonLog.Debug("section", "name", name)
		return
	}
	fmt.Fprintf(output, "\n=== %s ===\n", name)
}

// Info prints an informational message if verbose mode is enabled.
func Info(format string, args ...any) {
	emit(slog.LevelInfo, "INFO", fmt.Sprintf(format, args...), false)
}

// Warn prints a warning message if verbose mode is enabled.
func Warn(format string, args ...any) {
	emit(slog.LevelWarn, "WARN", fmt.Sprintf(format, args...), false)
}

// Error prints an error message regardless of verbose mode.
func Error(format string, args ...any) {
	emit(slog.LevelError, "ERROR", fmt.Sprintf(format, args...), true)
}
