// Package errors provides structured CLI error types for bcbridge.
//
// CLIError wraps errors with user-facing messages, hints, and exit codes
// to provide consistent, actionable error output across all commands.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Exit codes for CLI errors.
const (
	ExitSuccess     = 0   // Successful execution
	ExitGeneral     = 1   // General error
	ExitTestsFailed = 1   // Test run completed with failing tests
	ExitConfig      = 4   // Configuration error
	ExitTimeout     = 5   // Job timed out
	ExitExecution   = 6   // Job failed
	ExitUsage       = 64  // Command line usage error (BSD convention)
	ExitCancelled   = 130 // Job cancelled by the operator (128 + SIGINT)
)

// CLIError represents a user-facing CLI error with actionable guidance.
type CLIError struct {
	// Message is the primary error message shown to the user.
	Message string

	// Hint provides actionable guidance on how to fix the error.
	Hint string

	// Cause is the underlying error, if any.
	Cause error

	// Code is the exit code for the CLI.
	Code int
}

// Error implements the error interface.
func (e *CLIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}

	return e.Message
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CLIError) Unwrap() error {
	return e.Cause
}

// New creates a new CLIError with the given message and exit code.
func New(code int, message string) *CLIError {
	return &CLIError{
		Message: message,
		Code:    code,
	}
}

// Wrap wraps an existing error with a CLIError.
func Wrap(code int, message string, cause error) *CLIError {
	return &CLIError{
		Message: message,
		Cause:   cause,
		Code:    code,
	}
}

// WithHint adds a hint to the error.
func (e *CLIError) WithHint(hint string) *CLIError {
	e.Hint = hint
	return e
}

// As is a convenience function for errors.As with CLIError.
func As(err error, target **CLIError) bool {
	return errors.As(err, target)
}

// --- Common error constructors ---

// ConfigFailed returns an error for configuration save failures.
func ConfigFailed(operation string, cause error) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Failed to %s", operation),
		Hint:    "Check file permissions for your bcbridge config directory or run 'bcbridge doctor'",
		Cause:   cause,
		Code:    ExitConfig,
	}
}

// UnknownConfigKey returns an error for a key bcbridge does not recognise.
func UnknownConfigKey(key string) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Unknown config key: %s", key),
		Hint:    "Run 'bcbridge config list' to see available keys",
		Code:    ExitUsage,
	}
}

// InvalidConfigValue returns an error for a value the key cannot hold.
func InvalidConfigValue(key string, cause error) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Invalid value for %s", key),
		Hint:    "Durations look like 90s or 20m; counts are whole numbers; switches are true or false",
		Cause:   cause,
		Code:    ExitUsage,
	}
}

// InterpreterNotFound returns an error when the interpreter executable is missing.
func InterpreterNotFound(path string) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Interpreter not found: %s", path),
		Hint:    "Install PowerShell 7.2+ or set interpreter.path with 'bcbridge config set interpreter.path <path>'",
		Code:    ExitConfig,
	}
}

// ModuleNotConfigured returns an error when no interpreter module is configured.
func ModuleNotConfigured() *CLIError {
	return &CLIError{
		Message: "Interpreter module not configured",
		Hint:    "Set BCBRIDGE_INTERPRETER_MODULE or run 'bcbridge config set interpreter.module <path>'",
		Code:    ExitConfig,
	}
}

// JobBusy returns an error when a job is already running.
func JobBusy() *CLIError {
	return &CLIError{
		Message: "A job is already running",
		Hint:    "Wait for the running job to finish or cancel it first",
		Code:    ExitGeneral,
	}
}

// JobNotFound returns an error for an unknown job journal.
func JobNotFound(jobID string) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Job not found: %s", jobID),
		Hint:    "Run 'bcbridge history list' to see recorded jobs",
		Code:    ExitGeneral,
	}
}

// NoTargets returns an error when a targets file defines no usable target.
func NoTargets(path string) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("No targets defined in %s", path),
		Hint:    "Add a configuration with \"type\": \"al\" or point targets.file at another file",
		Code:    ExitConfig,
	}
}

// TargetNotFound returns an error for an unknown target name.
func TargetNotFound(name string, available []string) *CLIError {
	hint := "Check the --target value against your targets file"
	if len(available) > 0 {
		hint = fmt.Sprintf("Available targets: %s", strings.Join(available, ", "))
	}

	return &CLIError{
		Message: fmt.Sprintf("Target not found: %s", name),
		Hint:    hint,
		Code:    ExitConfig,
	}
}

// TargetsFileInvalid returns an error for a missing or unreadable targets file.
func TargetsFileInvalid(path string, cause error) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Cannot read targets file: %s", path),
		Hint:    "Use --targets-file or set targets.file to a valid .json, .toml or .yaml file",
		Cause:   cause,
		Code:    ExitConfig,
	}
}

// InvalidOperation returns an error for an unsupported operation name.
func InvalidOperation(name string, supported []string) *CLIError {
	hint := "No operations registered"
	if len(supported) > 0 {
		hint = fmt.Sprintf("Supported operations: %s", strings.Join(supported, ", "))
	}

	return &CLIError{
		Message: fmt.Sprintf("Invalid operation: %s", name),
		Hint:    hint,
		Code:    ExitUsage,
	}
}

// InvalidParams returns an error for job parameters rejected before launch.
// The cause, when present, becomes the hint.
func InvalidParams(cause error) *CLIError {
	hint := "Run the command with --help to see accepted flags"
	if cause != nil {
		hint = cause.Error()
	}

	return &CLIError{
		Message: "Invalid job parameters",
		Hint:    hint,
		Cause:   cause,
		Code:    ExitUsage,
	}
}

// JobTimedOut returns an error for a job that exceeded its timeout.
func JobTimedOut(operation, timeout string) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("%s timed out after %s", operation, timeout),
		Hint:    "Increase job.timeout or check that the container is responsive",
		Code:    ExitTimeout,
	}
}

// JobCancelled returns an error for a job stopped by the operator.
func JobCancelled(operation string) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("%s was cancelled", operation),
		Hint:    "The interpreter was stopped before it reported a result",
		Code:    ExitCancelled,
	}
}

// JobFailed returns an error for a failed job.
// It detects common failure patterns and provides specific hints.
func JobFailed(operation, kind, message string) *CLIError {
	msg := fmt.Sprintf("%s failed", operation)
	hint := ""

	switch {
	case kind == "process-start-failure":
		msg = "Interpreter could not be started"
		hint = "Run 'bcbridge doctor' to check the interpreter installation"
	case kind == "malformed-result":
		msg = fmt.Sprintf("%s returned no usable result", operation)
		hint = "Run 'bcbridge history view' for the raw interpreter output"
	case containsAny(message, "not running", "container not found", "no such container"):
		msg = "Target container is not running"
		hint = "Start the container and retry"
	case containsAny(message, "unauthorized", "401", "authentication"):
		msg = "Container authentication failed"
		hint = "Check BCBRIDGE_CONTAINER_USERNAME/BCBRIDGE_CONTAINER_PASSWORD or the keyring entry for this target"
	case containsAny(message, "symbols", ".alpackages"):
		msg = "Dependency symbols are missing"
		hint = "Download symbols for the app's dependencies and retry"
	case containsAny(message, "license"):
		msg = "Container license rejected the operation"
		hint = "Check the container license covers the object ranges in use"
	case message == "":
		hint = "Run with --log-level=debug for more details"
	default:
		// Truncate long error messages
		if len(message) > 200 {
			message = message[:200] + "..."
		}

		hint = message
	}

	return &CLIError{
		Message: msg,
		Hint:    hint,
		Code:    ExitExecution,
	}
}

// TestsFailed returns an error for a test run with failing tests.
func TestsFailed(failed, total int) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("%d of %d tests failed", failed, total),
		Hint:    "See the failure list above for locations",
		Code:    ExitTestsFailed,
	}
}

// containsAny checks if s contains any of the substrings.
func containsAny(s string, substrings ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrings {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}

	return false
}
