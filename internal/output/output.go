// Package output provides CLI output handling with support for multiple modes.
//
// Job results are written to Out as text, JSON or YAML. Status lines,
// progress and the spinner go to Err so Out stays machine-readable.
package output

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	xansi "github.com/charmbracelet/x/ansi"
	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/musher-dev/bcbridge/internal/terminal"
)

// Format selects how structured results are rendered.
type Format string

// Output formats.
const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Status symbols
const (
	CheckMark   = "✓" // ✓
	XMark       = "✗" // ✗
	WarningMark = "⚠" // ⚠
	InfoMark    = "ℹ" // ℹ
)

// status is one kind of stderr status line.
type status struct {
	mark  string
	tone  *color.Color
	quiet bool // shown in quiet mode
}

var (
	statusSuccess = status{mark: CheckMark, tone: color.New(color.FgGreen)}
	statusFailure = status{mark: XMark, tone: color.New(color.FgRed), quiet: true}
	statusWarning = status{mark: WarningMark, tone: color.New(color.FgYellow)}
	statusInfo    = status{mark: InfoMark, tone: color.New(color.FgCyan)}

	mutedTone = color.New(color.FgHiBlack)
)

// contextKey is the key for storing Writer in context.
type contextKey struct{}

// Writer handles CLI output with multiple modes.
type Writer struct {
	Out     io.Writer
	Err     io.Writer
	Format  Format
	Quiet   bool
	NoInput bool

	terminal *terminal.Info
}

// Default returns a Writer configured for stdout/stderr.
func Default() *Writer {
	return NewWriter(os.Stdout, os.Stderr, terminal.Detect())
}

// NewWriter creates a Writer with custom writers and terminal info.
func NewWriter(out, err io.Writer, term *terminal.Info) *Writer {
	if !term.ColorEnabled() {
		color.NoColor = true
	}

	return &Writer{Out: out, Err: err, terminal: term}
}

// WithContext stores the Writer in the context.
func (w *Writer) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextKey{}, w)
}

// FromContext retrieves the Writer from context, or returns Default().
func FromContext(ctx context.Context) *Writer {
	if w, ok := ctx.Value(contextKey{}).(*Writer); ok {
		return w
	}

	return Default()
}

// Terminal returns the terminal info.
func (w *Writer) Terminal() *terminal.Info {
	return w.terminal
}

// SetNoColor disables colored output.
func (w *Writer) SetNoColor(disabled bool) {
	w.terminal.ForceFlag = disabled
	if disabled {
		color.NoColor = true
	}
}

// Structured reports whether results should be rendered as JSON or YAML.
func (w *Writer) Structured() bool {
	return w.Format == FormatJSON || w.Format == FormatYAML
}

// PrintStructured renders v in the writer's structured format.
func (w *Writer) PrintStructured(v any) error {
	if w.Format == FormatYAML {
		return w.printYAML(v)
	}

	enc := json.NewEncoder(w.Out)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

// printYAML round-trips v through JSON first so json tags decide the field
// names and Secret values stay redacted.
func (w *Writer) printYAML(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	var generic any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return fmt.Errorf("convert result: %w", err)
	}

	enc := yaml.NewEncoder(w.Out)
	enc.SetIndent(2)

	if err := enc.Encode(generic); err != nil {
		return fmt.Errorf("write yaml: %w", err)
	}

	return enc.Close()
}

// Print writes to stdout (respects quiet mode).
func (w *Writer) Print(format string, args ...any) {
	if !w.Quiet {
		fmt.Fprintf(w.Out, format, args...)
	}
}

// Println writes a line to stdout (respects quiet mode).
func (w *Writer) Println(args ...any) {
	if !w.Quiet {
		fmt.Fprintln(w.Out, args...)
	}
}

// Muted writes a dimmed line to stdout.
func (w *Writer) Muted(format string, args ...any) {
	if w.Quiet {
		return
	}

	msg := fmt.Sprintf(format, args...)

	if w.terminal.ColorEnabled() {
		mutedTone.Fprintln(w.Out, msg)
		return
	}

	fmt.Fprintln(w.Out, msg)
}

// Errorln writes a line to stderr.
func (w *Writer) Errorln(args ...any) {
	fmt.Fprintln(w.Err, args...)
}

// Success writes "✓ msg" to stderr.
func (w *Writer) Success(format string, args ...any) {
	w.status(statusSuccess, fmt.Sprintf(format, args...))
}

// Failure writes "✗ msg" to stderr, even in quiet mode.
func (w *Writer) Failure(format string, args ...any) {
	w.status(statusFailure, fmt.Sprintf(format, args...))
}

// Warning writes "⚠ msg" to stderr.
func (w *Writer) Warning(format string, args ...any) {
	w.status(statusWarning, fmt.Sprintf(format, args...))
}

// Info writes "ℹ msg" to stderr.
func (w *Writer) Info(format string, args ...any) {
	w.status(statusInfo, fmt.Sprintf(format, args...))
}

func (w *Writer) status(s status, msg string) {
	if w.Quiet && !s.quiet {
		return
	}

	if w.terminal.ColorEnabled() {
		s.tone.Fprint(w.Err, s.mark+" ")
		fmt.Fprintln(w.Err, msg)

		return
	}

	fmt.Fprintln(w.Err, s.mark+" "+msg)
}

// Progress writes one progress line to stderr, truncated to the terminal
// width. Suppressed in quiet and structured modes.
func (w *Writer) Progress(line string) {
	if w.Quiet || w.Structured() {
		return
	}

	fmt.Fprintln(w.Err, w.fit(line))
}

func (w *Writer) fit(line string) string {
	line = strings.TrimSpace(line)

	width := 80
	if w.terminal != nil && w.terminal.Width > 0 {
		width = w.terminal.Width
	}

	if xansi.StringWidth(line) <= width {
		return line
	}

	return xansi.Truncate(line, width, "…")
}

// Spinner creates a spinner for a running job. Without a TTY on stderr the
// spinner degrades to plain progress lines; quiet and structured modes
// silence it.
func (w *Writer) Spinner(message string) *Spinner {
	if w.Quiet || w.Structured() || !w.terminal.SpinnersEnabled() {
		return &Spinner{message: message, writer: w}
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Writer = w.Err
	s.Suffix = " " + w.fit(message)

	return &Spinner{spinner: s, message: message, writer: w}
}

// Spinner wraps briandowns/spinner. A nil inner spinner means disabled.
// Progress callbacks may update it from other goroutines.
type Spinner struct {
	mu      sync.Mutex
	spinner *spinner.Spinner
	message string
	writer  *Writer
}

// Start begins the spinner animation. A disabled spinner prints the message
// once so piped logs still show what is running.
func (s *Spinner) Start() {
	if s.spinner != nil {
		s.spinner.Start()
		return
	}

	if !s.writer.Quiet && !s.writer.Structured() {
		fmt.Fprintf(s.writer.Err, "%s...\n", s.message)
	}
}

// Stop stops the spinner animation.
func (s *Spinner) Stop() {
	if s.spinner != nil {
		s.spinner.Stop()
	}
}

// StopWithSuccess stops the spinner and, unless message is empty, prints it
// as a success line.
func (s *Spinner) StopWithSuccess(message string) {
	s.stopWith(statusSuccess, message)
}

// StopWithFailure stops the spinner and prints message as a failure line.
func (s *Spinner) StopWithFailure(message string) {
	s.stopWith(statusFailure, message)
}

// StopWithWarning stops the spinner and prints message as a warning line.
func (s *Spinner) StopWithWarning(message string) {
	s.stopWith(statusWarning, message)
}

func (s *Spinner) stopWith(st status, message string) {
	s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	if message != "" {
		s.writer.status(st, message)
	}
}

// UpdateMessage changes the spinner message. A disabled spinner prints the
// new message as a progress line instead.
func (s *Spinner) UpdateMessage(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if message == s.message {
		return
	}

	s.message = message

	if s.spinner == nil {
		s.writer.Progress(message)
		return
	}

	s.spinner.Lock()
	s.spinner.Suffix = " " + s.writer.fit(message)
	s.spinner.Unlock()
}
