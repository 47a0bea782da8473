// Package prompt asks questions on an interactive terminal.
//
// Prompts are written to stderr so structured stdout stays parseable.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/musher-dev/bcbridge/internal/output"
)

// ErrNoInput is returned when a prompt is needed but input is disabled or
// stdin is not a terminal.
var ErrNoInput = errors.New("interactive input is not available")

// Prompter handles interactive prompts.
type Prompter struct {
	out    *output.Writer
	reader *bufio.Reader
	fd     int

	isTerminal   func(int) bool
	readPassword func(int) ([]byte, error)
}

// New creates a Prompter reading from stdin.
func New(out *output.Writer) *Prompter {
	return newPrompter(out, os.Stdin, int(os.Stdin.Fd())) //nolint:gosec // fd fits in int
}

func newPrompter(out *output.Writer, in io.Reader, fd int) *Prompter {
	return &Prompter{
		out:          out,
		reader:       bufio.NewReader(in),
		fd:           fd,
		isTerminal:   term.IsTerminal,
		readPassword: term.ReadPassword,
	}
}

// CanPrompt reports whether stdin is a terminal and input is allowed.
func (p *Prompter) CanPrompt() bool {
	return !p.out.NoInput && p.isTerminal(p.fd)
}

// Confirm asks a yes/no question.
func (p *Prompter) Confirm(message string, defaultValue bool) (bool, error) {
	if !p.CanPrompt() {
		return defaultValue, ErrNoInput
	}

	choices := "y/N"
	if defaultValue {
		choices = "Y/n"
	}

	fmt.Fprintf(p.out.Err, "%s [%s]: ", message, choices)

	input, err := p.reader.ReadString('\n')
	if err != nil && input == "" {
		return defaultValue, fmt.Errorf("read answer: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(input)) {
	case "":
		return defaultValue, nil
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// Line asks for a single line of visible input.
func (p *Prompter) Line(label string) (string, error) {
	if !p.CanPrompt() {
		return "", ErrNoInput
	}

	fmt.Fprintf(p.out.Err, "%s: ", label)

	input, err := p.reader.ReadString('\n')
	if err != nil && input == "" {
		return "", fmt.Errorf("read %s: %w", strings.ToLower(label), err)
	}

	return strings.TrimSpace(input), nil
}

// Password asks for input without echoing it.
func (p *Prompter) Password(label string) (string, error) {
	if !p.CanPrompt() {
		return "", ErrNoInput
	}

	fmt.Fprintf(p.out.Err, "%s: ", label)

	password, err := p.readPassword(p.fd)
	fmt.Fprintln(p.out.Err)

	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}

	return string(password), nil
}
