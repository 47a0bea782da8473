// Package terminal detects what the attached terminal can do.
//
// Job results go to stdout and live progress goes to stderr, so the two
// streams are checked separately.
package terminal

import (
	"os"

	"golang.org/x/term"
)

// Info holds terminal capability information.
type Info struct {
	IsTTY       bool // stdout is a terminal
	StderrIsTTY bool
	NoColor     bool
	Width       int
	Height      int
	ForceFlag   bool // Set when --no-color flag is used
}

// Detect returns terminal information for the current environment.
func Detect() *Info {
	stdoutFD := int(os.Stdout.Fd())
	stderrFD := int(os.Stderr.Fd())
	isTTY := term.IsTerminal(stdoutFD)
	stderrTTY := term.IsTerminal(stderrFD)

	width, height := 80, 24 // sensible defaults

	for _, fd := range []int{stdoutFD, stderrFD} {
		if !term.IsTerminal(fd) {
			continue
		}

		if w, h, err := term.GetSize(fd); err == nil {
			width, height = w, h

			break
		}
	}

	// Check NO_COLOR environment variable (https://no-color.org/)
	_, noColor := os.LookupEnv("NO_COLOR")

	// Treat TERM=dumb as no-color (terminals that don't support escape sequences)
	if os.Getenv("TERM") == "dumb" {
		noColor = true
	}

	return &Info{
		IsTTY:       isTTY,
		StderrIsTTY: stderrTTY,
		NoColor:     noColor,
		Width:       width,
		Height:      height,
	}
}

// ColorEnabled returns true if colored output should be used.
func (t *Info) ColorEnabled() bool {
	if t.ForceFlag {
		return false
	}

	return t.IsTTY && !t.NoColor
}

// SpinnersEnabled returns true if a spinner may animate on stderr.
func (t *Info) SpinnersEnabled() bool {
	return t.StderrIsTTY && !t.NoColor && !t.ForceFlag
}
