// Package logging provides structured diagnostic logging. It is separate
// from the audit log store: these records are for operators watching a run,
// not for reconstructing what was executed.
package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/DIPx2/WASSERFALL/internal/classify"
)

// Level is the minimum severity emitted.
type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Format selects the output encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Config holds logger construction parameters.
type Config struct {
	Level  Level
	Format Format
	Output io.Writer // defaults to stderr
	Quiet  bool      // suppress non-error output
}

// Logger wraps slog with the event helpers the dispatcher and pipeline use.
type Logger struct {
	logger *slog.Logger
	quiet  bool
}

// New creates a logger from config.
func New(config Config) *Logger {
	out := config.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: slogLevel(config.Level)}

	var handler slog.Handler
	switch config.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(out, opts)
	default:
		handler = slog.NewTextHandler(out, opts)
	}

	return &Logger{
		logger: slog.New(handler),
		quiet:  config.Quiet,
	}
}

// NewFromSettings builds a logger from raw string settings, applying safe
// defaults for anything unrecognized.
func NewFromSettings(level, format string, quiet bool) *Logger {
	cfg := Config{Level: LevelInfo, Format: FormatText, Quiet: quiet}
	if level == "error" {
		cfg.Level = LevelError
	}
	if format == "json" {
		cfg.Format = FormatJSON
	}
	return New(cfg)
}

func slogLevel(level Level) slog.Level {
	if level == LevelError {
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Info logs an informational message unless quiet mode is on.
func (l *Logger) Info(msg string, args ...any) {
	if l.quiet {
		return
	}
	l.logger.Info(msg, args...)
}

// Error logs an error message. Quiet mode never suppresses errors.
func (l *Logger) Error(msg string, args ...any) {
	l.logger.Error(msg, args...)
}

// LogSessionOpen records an established session.
func (l *Logger) LogSessionOpen(host, user string) {
	l.Info("session established", "host", host, "user", user)
}

// LogSessionError records a session that could not be established.
// Key paths and credentials are never logged.
func (l *Logger) LogSessionError(host, user string, err error) {
	l.Error("session failed", "host", host, "user", user, "error", err.Error())
}

// LogUnit records one classified unit outcome.
func (l *Logger) LogUnit(host, unit string, code classify.Code, exitCode int) {
	l.Info("unit executed",
		"host", host,
		"unit", unit,
		"code", string(code),
		"exit_code", exitCode,
	)
}

// LogHostFailure records a host-terminal failure before or between units.
func (l *Logger) LogHostFailure(host string, code classify.Code, reason string) {
	l.Error("host failed",
		"host", host,
		"code", string(code),
		"reason", reason,
	)
}

// LogDispatchStart records the beginning of a fleet run.
func (l *Logger) LogDispatchStart(hostCount, workers int, command string) {
	l.Info("dispatch started",
		"host_count", hostCount,
		"workers", workers,
		"command", command,
	)
}

// LogDispatchComplete records the fleet tally.
func (l *Logger) LogDispatchComplete(success, partial, fail int) {
	l.Info("dispatch completed",
		"success", success,
		"partial", partial,
		"fail", fail,
	)
}

// LogConfigError records a configuration resolution problem.
func (l *Logger) LogConfigError(subject string, err error) {
	l.Error("configuration error", "subject", subject, "error", err.Error())
}
