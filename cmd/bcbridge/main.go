// Package main is the entry point for the bcbridge CLI.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/musher-dev/bcbridge/internal/buildinfo"
	clierrors "github.com/musher-dev/bcbridge/internal/errors"
	"github.com/musher-dev/bcbridge/internal/observability"
	"github.com/musher-dev/bcbridge/internal/output"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// newWriter builds the output writer for a run; tests swap it for buffers.
var newWriter = output.Default

// telemetryFlushTimeout bounds the final span export.
const telemetryFlushTimeout = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() (exitCode int) {
	// The spinner hides the cursor while a job runs.
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprint(os.Stderr, "\033[?25h")
			panic(r)
		}
	}()

	buildinfo.Version = version
	buildinfo.Commit = commit

	if err := newRootCmd().Execute(); err != nil {
		return handleError(newWriter(), err)
	}

	return clierrors.ExitSuccess
}

func newRootCmd() *cobra.Command {
	var (
		flags    globalFlags
		td       teardown
		updateWg sync.WaitGroup
	)

	out := newWriter()

	rootCmd := &cobra.Command{
		Use:   "bcbridge",
		Short: "Run AL build, publish and test jobs through PowerShell",
		Long: `bcbridge drives a PowerShell interpreter to compile, publish and test
AL apps against a Business Central container. Each command runs exactly one
job, streams its progress, and reports a typed result.

Get started:
  bcbridge doctor            Check the interpreter, module and targets
  bcbridge compile           Compile the app in the current folder
  bcbridge publish           Publish the app to the selected target
  bcbridge test run          Publish and run tests
  bcbridge history list      Inspect captured job output`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := flags.applyOutput(out); err != nil {
				return err
			}

			logger, closeLog, err := observability.NewLogger(flags.loggingConfig(cmd, out))
			if err != nil {
				return &clierrors.CLIError{
					Message: fmt.Sprintf("Invalid logging configuration: %v", err),
					Hint:    "Use --log-level (error|warn|info|debug), --log-format (json|text), --log-stderr (auto|on|off), and/or --log-file",
					Code:    clierrors.ExitUsage,
				}
			}

			td.add("logger", closeLog)
			slog.SetDefault(logger)

			ctx := observability.WithLogger(out.WithContext(cmd.Context()), logger)
			cmd.SetContext(ctx)

			// Registered after the logger so spans flush before the log file closes.
			shutdown, err := observability.SetupTelemetry(ctx, observability.TelemetryConfigFromEnv(version, commit))
			if err != nil {
				logger.Warn("telemetry initialization failed", slog.String("error", err.Error()))
			}

			td.add("telemetry", func() error {
				flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), telemetryFlushTimeout)
				defer cancel()

				return shutdown(flushCtx)
			})

			if updateNoticeAllowed(cmd, out, version) {
				updateWg.Go(func() {
					backgroundUpdateCheck(ctx, version)
				})
			}

			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			updateWg.Wait()

			if updateNoticeAllowed(cmd, out, version) {
				showUpdateNotice(out, version)
			}

			return nil
		},
	}

	flags.register(rootCmd)

	rootCmd.SuggestionsMinimumDistance = 2

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &clierrors.CLIError{
			Message: err.Error(),
			Hint:    fmt.Sprintf("Run '%s --help' for available flags", cmd.CommandPath()),
			Code:    clierrors.ExitUsage,
		}
	})

	rootCmd.AddCommand(
		// Jobs
		newCompileCmd(),
		newPublishCmd(),
		newTestCmd(),
		newContainerCmd(),

		// Resources
		newConfigCmd(),
		newHistoryCmd(),

		// Utilities
		newDoctorCmd(),
		newVersionCmd(),
		newUpdateCmd(),
		newCompletionCmd(),
	)

	td.attach(rootCmd)

	return rootCmd
}

// jobCommandAnnotation marks commands that run an interpreter job.
const jobCommandAnnotation = "bcbridge/job"

// isJobCommand reports whether cmd runs a job. Those keep stderr free of
// structured logs on a TTY so the spinner and progress stay readable.
func isJobCommand(cmd *cobra.Command) bool {
	_, ok := cmd.Annotations[jobCommandAnnotation]
	return ok
}
