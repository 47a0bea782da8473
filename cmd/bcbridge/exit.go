package main

import (
	"strings"

	clierrors "github.com/musher-dev/bcbridge/internal/errors"
	"github.com/musher-dev/bcbridge/internal/output"
)

// usageErrorPrefixes are cobra's own messages for bad commands and
// arguments. Flag errors arrive as CLIError through SetFlagErrorFunc.
var usageErrorPrefixes = []string{
	"unknown command",
	"unknown flag",
	"unknown shorthand flag",
	"accepts ",
	"invalid argument",
}

// handleError prints err and returns the exit code for it.
func handleError(out *output.Writer, err error) int {
	var cliErr *clierrors.CLIError
	if clierrors.As(err, &cliErr) {
		out.Failure("%s", cliErr.Message)

		if cliErr.Hint != "" {
			out.Info("%s", cliErr.Hint)
		}

		return cliErr.Code
	}

	msg := err.Error()
	out.Failure("%s", msg)

	if !isUsageError(msg) {
		return clierrors.ExitGeneral
	}

	// Suggestions for unknown commands already point at --help.
	if !strings.Contains(msg, "--help") {
		out.Info("Run 'bcbridge --help' for usage")
	}

	return clierrors.ExitUsage
}

func isUsageError(msg string) bool {
	for _, prefix := range usageErrorPrefixes {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}

	// "required flag(s) ... not set" is not always at the start.
	return strings.Contains(msg, "required flag")
}
