package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/musher-dev/bcbridge/internal/ansi"
	"github.com/musher-dev/bcbridge/internal/bridge"
	"github.com/musher-dev/bcbridge/internal/config"
	"github.com/musher-dev/bcbridge/internal/diagnostics"
	clierrors "github.com/musher-dev/bcbridge/internal/errors"
	"github.com/musher-dev/bcbridge/internal/jobs"
	"github.com/musher-dev/bcbridge/internal/output"
	"github.com/musher-dev/bcbridge/internal/prompt"
)

// jobCall runs one typed operation against the service.
type jobCall[T any] func(ctx context.Context, svc *jobs.Service, s *scope) (*bridge.JobResult[T], error)

// runJob resolves the scope, runs call under a spinner and renders the
// result. SIGINT and SIGTERM cancel the running interpreter.
func runJob[T any](cmd *cobra.Command, op bridge.Operation, call jobCall[T], render func(*output.Writer, *T)) error {
	out := output.FromContext(cmd.Context())

	s, err := resolveScope(cmd, config.Load())
	if err != nil {
		return err
	}

	title := operationTitle(op)
	spin := out.Spinner(title)

	b, err := s.newBridge(func(p bridge.Progress) {
		spin.UpdateMessage(progressText(title, p))
	})
	if err != nil {
		return err
	}

	if err := s.promptCredential(prompt.New(out)); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	spin.Start()

	watchDone := make(chan struct{})
	defer close(watchDone)

	go announceCancel(ctx, watchDone, b, spin, title)

	res, err := call(ctx, s.newService(b), s)
	if err != nil {
		spin.Stop()
		return launchError(err)
	}

	elapsed := res.Elapsed.Round(100 * time.Millisecond)

	switch res.Outcome {
	case bridge.OutcomeSuccess:
		spin.StopWithSuccess(fmt.Sprintf("%s finished in %s", title, elapsed))
	case bridge.OutcomeCancelled:
		spin.StopWithWarning("")
	default:
		spin.StopWithFailure("")
		showOutputTail(out, s.journal)
	}

	if out.Structured() {
		if printErr := out.PrintStructured(res); printErr != nil {
			return printErr
		}
	} else if res.OK() && render != nil {
		render(out, res.Data)
	}

	return outcomeError(title, res)
}

// announceCancel tells the operator which interpreter is being stopped once
// a signal cancels ctx.
func announceCancel(ctx context.Context, done <-chan struct{}, b *bridge.Bridge, spin *output.Spinner, title string) {
	select {
	case <-done:
		return
	case <-ctx.Done():
	}

	if job, ok := b.Current(); ok {
		spin.UpdateMessage(fmt.Sprintf("Stopping %s (job %s, pid %d)", strings.ToLower(title), shortID(job.ID), job.PID))
	}
}

// failureTailLines is how much of a failed job's output is repeated.
const failureTailLines = 15

// showOutputTail repeats the end of a failed job's output on stderr.
func showOutputTail(out *output.Writer, j *diagnostics.Journal) {
	if j == nil || out.Structured() {
		return
	}

	var lines []string

	for _, line := range j.Tail() {
		if line = ansi.Strip(bridge.ExtractProgress(line, nil)); strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}

	if n := len(lines); n > failureTailLines {
		lines = lines[n-failureTailLines:]
	}

	if len(lines) == 0 {
		return
	}

	id := shortID(j.JobID())
	out.Info("Last output of job %s (full log: bcbridge history view %s)", id, id)

	for _, line := range lines {
		out.Progress(line)
	}
}

// shortID is the job id prefix `history view` accepts in practice.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}

	return id
}

// testOutcome adds the failed-tests exit code to a completed test job.
func testOutcome(err error, res *jobs.TestResult) error {
	if err != nil || res == nil || res.Success {
		return err
	}

	return clierrors.TestsFailed(res.Summary.Failed, res.Summary.Total)
}

func newCompileCmd() *cobra.Command {
	var params jobs.CompileParams

	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile the app against the target's symbols",
		Long: `Compile the AL app in the workspace (or --app-folder) using the selected
target's container. Compiler warnings are listed; errors fail the command.`,
		Example: `  bcbridge compile
  bcbridge compile --app-folder ./app --target docker
  bcbridge compile --json`,
		Args:        noArgs,
		Annotations: map[string]string{jobCommandAnnotation: ""},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJob(cmd, bridge.OpCompile,
				func(ctx context.Context, svc *jobs.Service, s *scope) (*bridge.JobResult[jobs.CompileResult], error) {
					p := params
					p.AppFolder = s.inWorkspace(p.AppFolder)

					return svc.Compile(ctx, s.target, p)
				},
				renderCompile,
			)
		},
	}

	cmd.Flags().StringVar(&params.AppFolder, "app-folder", "", "Folder holding app.json (default: workspace)")
	cmd.Flags().StringVar(&params.PackageCachePath, "package-cache", "", "Symbol package cache folder")
	cmd.Flags().StringVarP(&params.OutputFolder, "output", "o", "", "Folder for the compiled .app")

	return cmd
}

func newPublishCmd() *cobra.Command {
	var params jobs.PublishParams

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish the app to the target container",
		Long: `Compile and publish the AL app to the selected target, or publish an
existing .app file with --app-file. The sync mode controls schema changes.`,
		Example: `  bcbridge publish
  bcbridge publish --sync-mode ForceSync
  bcbridge publish --app-file ./out/MyApp.app --target staging`,
		Args:        noArgs,
		Annotations: map[string]string{jobCommandAnnotation: ""},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJob(cmd, bridge.OpPublish,
				func(ctx context.Context, svc *jobs.Service, s *scope) (*bridge.JobResult[jobs.PublishResult], error) {
					p := params
					if p.AppFile == "" {
						p.AppFolder = s.inWorkspace(p.AppFolder)
					}

					return svc.Publish(ctx, s.target, p)
				},
				renderPublish,
			)
		},
	}

	cmd.Flags().StringVar(&params.AppFolder, "app-folder", "", "Folder holding app.json (default: workspace)")
	cmd.Flags().StringVar(&params.AppFile, "app-file", "", "Publish this .app instead of compiling")
	cmd.Flags().StringVar(&params.SyncMode, "sync-mode", jobs.DefaultSyncMode, "Schema sync mode: Add, Clean, Development, ForceSync")

	return cmd
}

func newTestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Run tests and read test results",
		Long:  `Publish and run AL tests, run already published tests, or read the last results.`,
	}

	cmd.AddCommand(newTestRunCmd(
		"run",
		"Publish the test app and run its tests",
		`Publish the test app in the workspace (or --app-folder) to the target and
run its test codeunits. Exits with code 1 when any test fails.`,
		`  bcbridge test run
  bcbridge test run --codeunit 50100 --method TestPostSalesOrder
  bcbridge test run --json > results.json`,
		bridge.OpTestRun,
	))
	cmd.AddCommand(newTestRunCmd(
		"execute",
		"Run tests already published to the target",
		`Run test codeunits that are already published to the target container,
without publishing first. Exits with code 1 when any test fails.`,
		`  bcbridge test execute
  bcbridge test execute --extension-id 6ac5e9f2-0f54-4b2c-9a3e-7f1c2d3b4a5e`,
		bridge.OpTestExecute,
	))
	cmd.AddCommand(newTestResultsCmd())

	return cmd
}

func newTestRunCmd(use, short, long, example string, op bridge.Operation) *cobra.Command {
	var params jobs.TestParams

	cmd := &cobra.Command{
		Use:         use,
		Short:       short,
		Long:        long,
		Example:     example,
		Args:        noArgs,
		Annotations: map[string]string{jobCommandAnnotation: ""},
		RunE: func(cmd *cobra.Command, args []string) error {
			var data *jobs.TestResult

			err := runJob(cmd, op,
				func(ctx context.Context, svc *jobs.Service, s *scope) (*bridge.JobResult[jobs.TestResult], error) {
					p := params
					p.AppFolder = s.inWorkspace(p.AppFolder)

					var (
						res *bridge.JobResult[jobs.TestResult]
						err error
					)

					if op == bridge.OpTestExecute {
						res, err = svc.ExecuteTests(ctx, s.target, p)
					} else {
						res, err = svc.RunTests(ctx, s.target, p)
					}

					if res != nil {
						data = res.Data
					}

					return res, err
				},
				renderTests,
			)

			return testOutcome(err, data)
		},
	}

	cmd.Flags().StringVar(&params.AppFolder, "app-folder", "", "Test app folder holding app.json (default: workspace)")
	cmd.Flags().IntSliceVarP(&params.CodeunitIDs, "codeunit", "c", nil, "Only run these test codeunit ids")
	cmd.Flags().StringVarP(&params.MethodName, "method", "m", "", "Only run this test method (needs exactly one --codeunit)")
	cmd.Flags().StringVar(&params.ExtensionID, "extension-id", "", "Only run test codeunits of this app id")

	return cmd
}

func newTestResultsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "results",
		Short: "Show the results of the last test run",
		Long: `Read the results of the most recent test run recorded in the target
container and list failures with their source locations.`,
		Example: `  bcbridge test results
  bcbridge test results --yaml`,
		Args:        noArgs,
		Annotations: map[string]string{jobCommandAnnotation: ""},
		RunE: func(cmd *cobra.Command, args []string) error {
			var data *jobs.TestResult

			err := runJob(cmd, bridge.OpFetchResults,
				func(ctx context.Context, svc *jobs.Service, s *scope) (*bridge.JobResult[jobs.TestResult], error) {
					res, err := svc.FetchResults(ctx, s.target)
					if res != nil {
						data = res.Data
					}

					return res, err
				},
				renderTests,
			)

			return testOutcome(err, data)
		},
	}
}

func newContainerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "container",
		Short: "Inspect the target container",
		Long:  `Read settings from the Business Central container behind a target.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Show the target container's server settings",
		Long: `Ask the interpreter for the server, instance, port, tenant and
authentication settings of the selected target's container.`,
		Example: `  bcbridge container config
  bcbridge container config --target staging --json`,
		Args:        noArgs,
		Annotations: map[string]string{jobCommandAnnotation: ""},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJob(cmd, bridge.OpFetchConfig,
				func(ctx context.Context, svc *jobs.Service, s *scope) (*bridge.JobResult[jobs.ContainerConfig], error) {
					return svc.FetchConfig(ctx, s.target)
				},
				renderContainerConfig,
			)
		},
	})

	return cmd
}
