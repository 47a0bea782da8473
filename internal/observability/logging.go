// Package observability configures structured logging and tracing for bcbridge.
//
// Job logs and job spans share identifiers: records logged with a context
// that carries a bridge.job span get trace_id and span_id attributes.
package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/musher-dev/bcbridge/internal/paths"
)

const (
	redactedValue = "[REDACTED]"

	// Rotation happens when the log file is opened, never mid-run.
	maxLogFileBytes = 10 << 20
	maxLogBackups   = 3
)

type contextKey struct{}

// Config holds the configuration for the observability logger.
type Config struct {
	Level      string
	Format     string
	LogFile    string
	StderrMode string

	// InteractiveTTY is set for job commands on a terminal; auto stderr mode
	// then keeps logs off stderr so the spinner stays readable.
	InteractiveTTY bool

	RunID       string
	CommandPath string
	Version     string
	Commit      string
}

// WithLogger returns a new context carrying the given logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext extracts the logger from ctx, falling back to slog.Default.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(contextKey{}).(*slog.Logger); ok && logger != nil {
		return logger
	}

	return slog.Default()
}

// Component returns the context logger tagged with a component name.
func Component(ctx context.Context, name string) *slog.Logger {
	return FromContext(ctx).With(slog.String("component", name))
}

// NewLogger creates a structured logger from the given configuration. The
// returned cleanup closes the log file, if any.
func NewLogger(cfg *Config) (*slog.Logger, func() error, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	out, err := openSinks(cfg)
	if err != nil {
		return nil, nil, err
	}

	handler, err := newHandler(cfg.Format, out, level)
	if err != nil {
		_ = out.Close()
		return nil, nil, err
	}

	logger := slog.New(handler).With(
		slog.String("run.id", cfg.RunID),
		slog.String("command.path", cfg.CommandPath),
		slog.String("cli.version", cfg.Version),
		slog.String("cli.commit", cfg.Commit),
	)

	return logger, out.Close, nil
}

// sinks fans records out to stderr and/or a log file.
type sinks struct {
	io.Writer

	file *os.File
}

func (s *sinks) Close() error {
	if s.file == nil {
		return nil
	}

	return s.file.Close()
}

func openSinks(cfg *Config) (*sinks, error) {
	stderrEnabled, err := shouldEnableStderr(cfg.StderrMode, cfg.InteractiveTTY)
	if err != nil {
		return nil, err
	}

	path := strings.TrimSpace(cfg.LogFile)
	if !stderrEnabled && path == "" {
		path, err = paths.DefaultLogFile()
		if err != nil {
			return nil, fmt.Errorf("no log sinks configured: set --log-file or enable --log-stderr: %w", err)
		}
	}

	s := &sinks{}
	writers := make([]io.Writer, 0, 2)

	if stderrEnabled {
		writers = append(writers, os.Stderr)
	}

	if path != "" {
		s.file, err = openLogFile(path)
		if err != nil {
			return nil, err
		}

		writers = append(writers, s.file)
	}

	s.Writer = io.MultiWriter(writers...)

	return s, nil
}

func newHandler(format string, w io.Writer, level slog.Leveler) (slog.Handler, error) {
	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: redactAttr}

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		return traceHandler{slog.NewJSONHandler(w, opts)}, nil
	case "text":
		return traceHandler{slog.NewTextHandler(w, opts)}, nil
	default:
		return nil, fmt.Errorf("invalid log format: %q (allowed: json, text)", format)
	}
}

// traceHandler adds the active span's ids to each record.
type traceHandler struct {
	slog.Handler
}

func (h traceHandler) Handle(ctx context.Context, r slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}

	return h.Handler.Handle(ctx, r)
}

func (h traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return traceHandler{h.Handler.WithAttrs(attrs)}
}

func (h traceHandler) WithGroup(name string) slog.Handler {
	return traceHandler{h.Handler.WithGroup(name)}
}

func openLogFile(path string) (*os.File, error) {
	cleanPath := filepath.Clean(strings.TrimSpace(path))

	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o700); err != nil {
		return nil, fmt.Errorf("create log file directory: %w", err)
	}

	if err := rotateLogFile(cleanPath, maxLogFileBytes, maxLogBackups); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(cleanPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return file, nil
}

// rotateLogFile shifts path to path.1 (and older backups up by one) when it
// exceeds maxBytes. At most keep backups survive.
func rotateLogFile(path string, maxBytes int64, keep int) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("stat log file: %w", err)
	}

	if info.Size() <= maxBytes {
		return nil
	}

	if keep < 1 {
		return os.Remove(path)
	}

	if err := os.Remove(fmt.Sprintf("%s.%d", path, keep)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove oldest log backup: %w", err)
	}

	for i := keep - 1; i >= 1; i-- {
		from := fmt.Sprintf("%s.%d", path, i)
		if err := os.Rename(from, fmt.Sprintf("%s.%d", path, i+1)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("shift log backup: %w", err)
		}
	}

	if err := os.Rename(path, path+".1"); err != nil {
		return fmt.Errorf("rotate log file: %w", err)
	}

	return nil
}

func shouldEnableStderr(mode string, interactiveTTY bool) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "auto":
		return !interactiveTTY, nil
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("invalid --log-stderr value %q (allowed: auto, on, off)", mode)
	}
}

func parseLevel(level string) (slog.Leveler, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return nil, fmt.Errorf("invalid log level: %q (allowed: error, warn, info, debug)", level)
	}
}

// sensitiveKeys are attribute key fragments whose values are never logged.
// Container logins travel as bridge.Secret, which redacts itself; this
// catches plain strings logged under a telling key.
var sensitiveKeys = []string{"password", "secret", "credential", "token", "api_key", "apikey", "authorization"}

func redactAttr(_ []string, attr slog.Attr) slog.Attr {
	key := strings.ToLower(attr.Key)

	for _, fragment := range sensitiveKeys {
		if strings.Contains(key, fragment) {
			return slog.String(attr.Key, redactedValue)
		}
	}

	return attr
}
