// Package log provides structured logging for gominer.
// It wraps the standard library's slog package with mining-specific helpers.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jrick/logrotate/rotator"
)

// Logger wraps slog.Logger with service context and convenience methods
type Logger struct {
	*slog.Logger
	service string
	version string
	closer  io.Closer
}

// Options configures a Logger.
type Options struct {
	Service string
	Version string
	Level   string
	Format  string
	// File, when set, receives a copy of every record through a size-based
	// rotator.
	File string
}

// New creates a logger writing to stdout.
func New(service, version, level, format string) *Logger {
	l, _ := NewWithOptions(Options{Service: service, Version: version, Level: level, Format: format})
	return l
}

// NewWithOptions creates a logger. If opening the log file fails the logger
// still writes to stdout and the error is returned alongside it.
func NewWithOptions(opts Options) (*Logger, error) {
	var (
		out    io.Writer = os.Stdout
		closer io.Closer
		err    error
	)
	if opts.File != "" {
		var r *rotator.Rotator
		r, err = openRotator(opts.File)
		if err == nil {
			out = io.MultiWriter(os.Stdout, r)
			closer = r
		}
	}

	l := newLogger(out, opts)
	l.closer = closer
	return l, err
}

// NewWithWriter creates a logger writing to w.
func NewWithWriter(w io.Writer, opts Options) *Logger {
	return newLogger(w, opts)
}

// NewDiscard returns a logger that drops everything. Used by tests.
func NewDiscard() *Logger {
	return newLogger(io.Discard, Options{Service: "test", Level: "error"})
}

func newLogger(w io.Writer, opts Options) *Logger {
	level := ParseLevel(opts.Level)
	handlerOpts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	switch strings.ToLower(opts.Format) {
	case "text":
		handler = slog.NewTextHandler(w, handlerOpts)
	default:
		handler = slog.NewJSONHandler(w, handlerOpts)
	}

	return &Logger{
		Logger:  slog.New(handler).With("service", opts.Service, "version", opts.Version),
		service: opts.Service,
		version: opts.Version,
	}
}

func openRotator(path string) (*rotator.Rotator, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
	}
	r, err := rotator.New(path, 10*1024, false, 3)
	if err != nil {
		return nil, fmt.Errorf("create log rotator: %w", err)
	}
	return r, nil
}

// ParseLevel maps a level name to a slog level. Unknown names map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Close flushes and closes the log file, if any.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{
		Logger:  l.With(fields...),
		service: l.service,
		version: l.version,
		closer:  l.closer,
	}
}

// WithComponent returns a logger with a component field
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithFields("component", component)
}

// WithWorker returns a logger tagged with a mining worker index
func (l *Logger) WithWorker(index int) *Logger {
	return l.WithFields("worker", index)
}

// WithJob returns a logger with job-specific fields
func (l *Logger) WithJob(jobID string) *Logger {
	return l.WithFields("job_id", jobID)
}

// WithError returns a logger with error context
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithFields("error", err.Error())
}

// LogThroughput logs a rate over an interval
func (l *Logger) LogThroughput(operation string, count uint64, elapsed time.Duration) {
	var rate float64
	if elapsed > 0 {
		rate = float64(count) / elapsed.Seconds()
	}
	l.Info("throughput metrics",
		"operation", operation,
		"count", count,
		"duration_ms", elapsed.Milliseconds(),
		"throughput_ops_sec", rate,
	)
}

// LogConnection logs connection events
func (l *Logger) LogConnection(event, remoteAddr string) {
	l.Info("connection event",
		"event", event,
		"remote_addr", remoteAddr,
	)
}

// LogStratumMessage logs stratum protocol traffic (debug level)
func (l *Logger) LogStratumMessage(direction, message string) {
	l.Debug("stratum message",
		"direction", direction,
		"message", strings.TrimRight(message, "\n"),
	)
}

// LogJobReceived logs a new job from the pool
func (l *Logger) LogJobReceived(jobID string, timestamp uint64, cleanJobs bool) {
	l.Info("job received",
		"job_id", jobID,
		"timestamp", timestamp,
		"clean_jobs", cleanJobs,
	)
}

// LogShareFound logs a share found by a local worker
func (l *Logger) LogShareFound(worker int, jobID string, nonce uint64, hash string) {
	l.Info("share found",
		"worker", worker,
		"job_id", jobID,
		"nonce", nonce,
		"hash", hash,
	)
}

// LogShareSubmission logs the outcome of handing a share to the pool
func (l *Logger) LogShareSubmission(jobID, nonce, status string) {
	l.Info("share submission",
		"job_id", jobID,
		"nonce", nonce,
		"status", status,
	)
}
