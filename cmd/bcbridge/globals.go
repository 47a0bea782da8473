package main

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	clierrors "github.com/musher-dev/bcbridge/internal/errors"
	"github.com/musher-dev/bcbridge/internal/observability"
	"github.com/musher-dev/bcbridge/internal/output"
)

// globalFlags are the persistent flags every command accepts. Each one has a
// BCBRIDGE_* environment fallback so CI can set them once.
type globalFlags struct {
	json    bool
	yaml    bool
	quiet   bool
	noColor bool
	noInput bool

	logLevel  string
	logFormat string
	logFile   string
	logStderr string
}

func (g *globalFlags) register(root *cobra.Command) {
	fs := root.PersistentFlags()

	fs.BoolVar(&g.json, "json", false, "Output results as JSON")
	fs.BoolVar(&g.yaml, "yaml", false, "Output results as YAML")
	fs.BoolVar(&g.quiet, "quiet", false, "Minimal output (for CI)")
	fs.BoolVar(&g.noColor, "no-color", false, "Disable colored output")
	fs.BoolVar(&g.noInput, "no-input", false, "Disable interactive prompts")
	fs.StringVar(&g.logLevel, "log-level", "", "Log level: error, warn, info, debug")
	fs.StringVar(&g.logFormat, "log-format", "", "Log format: json, text")
	fs.StringVar(&g.logFile, "log-file", "", "Optional structured log file path")
	fs.StringVar(&g.logStderr, "log-stderr", "", "Structured logging to stderr: auto, on, off")

	// Read by scope; no field here.
	fs.StringP("target", "t", "", "Target name from the targets file (default: first entry)")
	fs.String("targets-file", "", "Targets file (default: targets.file, relative to the workspace)")
	fs.StringP("workspace", "w", "", "Workspace root (default: current directory)")
}

// applyOutput configures out from the flags and their environment fallbacks.
func (g *globalFlags) applyOutput(out *output.Writer) error {
	if g.json && g.yaml {
		return &clierrors.CLIError{
			Message: "--json and --yaml cannot be combined",
			Hint:    "Pick one structured output format",
			Code:    clierrors.ExitUsage,
		}
	}

	out.Format = pickFormat(g.json, g.yaml)
	out.Quiet = g.quiet || envBool("BCBRIDGE_QUIET")
	out.NoInput = g.noInput || envBool("BCBRIDGE_NO_INPUT") || envBool("CI")

	if g.noColor {
		out.SetNoColor(true)

		color.NoColor = true
	}

	return nil
}

func (g *globalFlags) loggingConfig(cmd *cobra.Command, out *output.Writer) *observability.Config {
	return &observability.Config{
		Level:          flagOrEnv(g.logLevel, "BCBRIDGE_LOG_LEVEL", "info"),
		Format:         flagOrEnv(g.logFormat, "BCBRIDGE_LOG_FORMAT", "json"),
		LogFile:        flagOrEnv(g.logFile, "BCBRIDGE_LOG_FILE", ""),
		StderrMode:     flagOrEnv(g.logStderr, "BCBRIDGE_LOG_STDERR", "auto"),
		InteractiveTTY: out.Terminal().StderrIsTTY && isJobCommand(cmd),
		RunID:          uuid.NewString(),
		CommandPath:    cmd.CommandPath(),
		Version:        version,
		Commit:         commit,
	}
}

func pickFormat(jsonFlag, yamlFlag bool) output.Format {
	switch {
	case jsonFlag || envBool("BCBRIDGE_JSON"):
		return output.FormatJSON
	case yamlFlag || envBool("BCBRIDGE_YAML"):
		return output.FormatYAML
	default:
		return output.FormatText
	}
}

func envBool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

func flagOrEnv(flagValue, envKey, fallback string) string {
	if v := strings.TrimSpace(flagValue); v != "" {
		return v
	}

	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		return v
	}

	return fallback
}

// teardown releases resources opened by PersistentPreRunE, newest first.
type teardown struct {
	steps []teardownStep
}

type teardownStep struct {
	name    string
	release func() error
}

func (t *teardown) add(name string, release func() error) {
	if release != nil {
		t.steps = append(t.steps, teardownStep{name: name, release: release})
	}
}

// run releases every step once, even when an earlier step fails.
func (t *teardown) run() error {
	steps := t.steps
	t.steps = nil

	var errs []error

	for _, step := range slices.Backward(steps) {
		if err := step.release(); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", step.name, err))
		}
	}

	return errors.Join(errs...)
}

// attach wraps every runnable command under root so teardown runs after
// RunE whether or not it failed. PostRunE hooks would be skipped on failure,
// losing the spans of failed jobs.
func (t *teardown) attach(root *cobra.Command) {
	var walk func(*cobra.Command)

	walk = func(cmd *cobra.Command) {
		if runE := cmd.RunE; runE != nil {
			cmd.RunE = func(cmd *cobra.Command, args []string) error {
				runErr := runE(cmd, args)
				if err := t.run(); err != nil && runErr == nil {
					return err
				}

				return runErr
			}
		}

		for _, child := range cmd.Commands() {
			walk(child)
		}
	}

	walk(root)
}
