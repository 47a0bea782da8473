package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/musher-dev/bcbridge/internal/bridge"
	"github.com/musher-dev/bcbridge/internal/config"
	clierrors "github.com/musher-dev/bcbridge/internal/errors"
	"github.com/musher-dev/bcbridge/internal/jobs"
	"github.com/musher-dev/bcbridge/internal/targets"
)

func TestLaunchError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantMsg  string
	}{
		{
			name:     "busy",
			err:      fmt.Errorf("launch: %w", bridge.ErrBusy),
			wantCode: clierrors.ExitGeneral,
			wantMsg:  "A job is already running",
		},
		{
			name:     "unknown target",
			err:      &targets.NotFoundError{Name: "prod", Available: []string{"docker"}},
			wantCode: clierrors.ExitConfig,
			wantMsg:  "Target not found: prod",
		},
		{
			name:     "empty targets file",
			err:      &targets.FileError{Path: "/ws/.vscode/launch.json", Err: targets.ErrNoTargets},
			wantCode: clierrors.ExitConfig,
			wantMsg:  "No targets defined in /ws/.vscode/launch.json",
		},
		{
			name:     "unreadable targets file",
			err:      &targets.FileError{Path: "/ws/targets.toml", Err: errors.New("toml: line 2: expected '='")},
			wantCode: clierrors.ExitConfig,
			wantMsg:  "Cannot read targets file: /ws/targets.toml",
		},
		{
			name:     "bad params",
			err:      &jobs.ParamError{Field: "sync mode", Reason: "bad"},
			wantCode: clierrors.ExitUsage,
			wantMsg:  "Invalid job parameters",
		},
		{
			name:     "cli error passes through",
			err:      fmt.Errorf("wrapped: %w", clierrors.ModuleNotConfigured()),
			wantCode: clierrors.ExitConfig,
			wantMsg:  "Interpreter module not configured",
		},
		{
			name:     "module missing",
			err:      fmt.Errorf("encode: %w", bridge.ErrModuleNotConfigured),
			wantCode: clierrors.ExitConfig,
			wantMsg:  "Interpreter module not configured",
		},
		{
			name:     "other",
			err:      errors.New("pipe closed"),
			wantCode: clierrors.ExitGeneral,
			wantMsg:  "Job could not be started",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cliErr *clierrors.CLIError
			if !clierrors.As(launchError(tt.err), &cliErr) {
				t.Fatalf("launchError() did not return a CLIError")
			}

			if cliErr.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", cliErr.Code, tt.wantCode)
			}

			if cliErr.Message != tt.wantMsg {
				t.Errorf("message = %q, want %q", cliErr.Message, tt.wantMsg)
			}
		})
	}
}

func TestOutcomeError(t *testing.T) {
	tests := []struct {
		name     string
		res      *bridge.JobResult[jobs.CompileResult]
		wantCode int
		wantMsg  string
	}{
		{
			name: "success",
			res:  bridge.Succeeded(jobs.CompileResult{AppFile: "a.app"}, 0),
		},
		{
			name:     "timeout",
			res:      bridge.Cancelled[jobs.CompileResult](&bridge.Cancellation{Kind: bridge.KindTimeout, Message: "job timed out", Timeout: 10 * time.Minute}, 0),
			wantCode: clierrors.ExitTimeout,
			wantMsg:  "Compile timed out after 10m0s",
		},
		{
			name:     "cancelled",
			res:      bridge.Cancelled[jobs.CompileResult](&bridge.Cancellation{Kind: bridge.KindCancelled}, 0),
			wantCode: clierrors.ExitCancelled,
			wantMsg:  "Compile was cancelled",
		},
		{
			name:     "malformed result",
			res:      bridge.Failed[jobs.CompileResult](&bridge.ErrorInfo{Kind: bridge.KindMalformedResult, Message: "no result"}, 0),
			wantCode: clierrors.ExitExecution,
			wantMsg:  "Compile returned no usable result",
		},
		{
			name:     "interpreter error",
			res:      bridge.Failed[jobs.CompileResult](&bridge.ErrorInfo{Kind: bridge.KindInterpreterError, Message: "Could not find symbols for Base Application"}, 0),
			wantCode: clierrors.ExitExecution,
			wantMsg:  "Dependency symbols are missing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := outcomeError("Compile", tt.res)
			if tt.wantCode == 0 {
				if err != nil {
					t.Fatalf("outcomeError() = %v, want nil", err)
				}

				return
			}

			var cliErr *clierrors.CLIError
			if !clierrors.As(err, &cliErr) {
				t.Fatalf("outcomeError() = %v, want CLIError", err)
			}

			if cliErr.Code != tt.wantCode || cliErr.Message != tt.wantMsg {
				t.Errorf("got (%d, %q), want (%d, %q)", cliErr.Code, cliErr.Message, tt.wantCode, tt.wantMsg)
			}
		})
	}
}

func TestTimeoutText(t *testing.T) {
	if got := timeoutText(&bridge.Cancellation{Kind: bridge.KindTimeout, Timeout: 2 * time.Minute}); got != "2m0s" {
		t.Errorf("timeoutText() = %q", got)
	}

	if got := timeoutText(&bridge.Cancellation{Kind: bridge.KindTimeout}); got != "the configured timeout" {
		t.Errorf("timeoutText(no limit) = %q", got)
	}
}

func TestResolveScope(t *testing.T) {
	newCLIEnv(t, "ok")

	workspace := t.TempDir()

	tests := []struct {
		name        string
		args        []string
		wantTargets string
		wantTarget  string
	}{
		{
			name:        "defaults to launch.json in workspace",
			args:        []string{"--workspace", workspace},
			wantTargets: filepath.Join(workspace, ".vscode", "launch.json"),
		},
		{
			name:        "relative targets file joins workspace",
			args:        []string{"--workspace", workspace, "--targets-file", "ci/targets.yaml", "--target", "staging"},
			wantTargets: filepath.Join(workspace, "ci", "targets.yaml"),
			wantTarget:  "staging",
		},
		{
			name:        "absolute targets file is kept",
			args:        []string{"--workspace", workspace, "--targets-file", "/etc/bcbridge/targets.toml"},
			wantTargets: "/etc/bcbridge/targets.toml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *scope

			root := newRootCmd()
			root.PersistentPreRunE = nil
			root.AddCommand(&cobra.Command{
				Use: "sample",
				RunE: func(cmd *cobra.Command, args []string) error {
					var err error
					got, err = resolveScope(cmd, config.Load())

					return err
				},
			})
			root.SetArgs(append([]string{"sample"}, tt.args...))

			if err := root.ExecuteContext(t.Context()); err != nil {
				t.Fatal(err)
			}

			if got.workspace != workspace {
				t.Errorf("workspace = %q, want %q", got.workspace, workspace)
			}

			if got.targetsFile != tt.wantTargets {
				t.Errorf("targetsFile = %q, want %q", got.targetsFile, tt.wantTargets)
			}

			if got.target != tt.wantTarget {
				t.Errorf("target = %q, want %q", got.target, tt.wantTarget)
			}

			if p := got.inWorkspace("app"); p != filepath.Join(workspace, "app") {
				t.Errorf("inWorkspace(app) = %q", p)
			}
		})
	}
}

func TestNewBridgeChecksInterpreter(t *testing.T) {
	newCLIEnv(t, "ok")

	prev := lookPath
	lookPath = func(string) (string, error) { return "", errors.New("not found") }

	t.Cleanup(func() { lookPath = prev })

	s := &scope{cfg: config.Load(), workspace: t.TempDir()}

	_, err := s.newBridge(nil)

	var cliErr *clierrors.CLIError
	if !clierrors.As(err, &cliErr) || cliErr.Code != clierrors.ExitConfig {
		t.Fatalf("newBridge() error = %v, want config error", err)
	}
}
