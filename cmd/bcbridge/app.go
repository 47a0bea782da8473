package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/musher-dev/bcbridge/internal/bridge"
	"github.com/musher-dev/bcbridge/internal/config"
	"github.com/musher-dev/bcbridge/internal/credentials"
	"github.com/musher-dev/bcbridge/internal/diagnostics"
	clierrors "github.com/musher-dev/bcbridge/internal/errors"
	"github.com/musher-dev/bcbridge/internal/jobs"
	"github.com/musher-dev/bcbridge/internal/prompt"
	"github.com/musher-dev/bcbridge/internal/targets"
)

// scope is what one job command resolves from flags and configuration.
type scope struct {
	cfg         *config.Config
	workspace   string
	targetsFile string
	target      string

	// entered is a login typed at the terminal for entered.target. It is
	// never stored.
	entered *enteredCredential

	// journal is the last journal opened for a job of this scope.
	journal *diagnostics.Journal
}

type enteredCredential struct {
	target string
	cred   *bridge.Credential
}

// lookPath is swapped in tests.
var lookPath = exec.LookPath

// resolveScope reads the global --workspace, --targets-file and --target flags.
func resolveScope(cmd *cobra.Command, cfg *config.Config) (*scope, error) {
	s := &scope{cfg: cfg}

	workspace := stringFlag(cmd, "workspace")
	if workspace == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, clierrors.Wrap(clierrors.ExitGeneral, "Cannot determine the working directory", err)
		}

		workspace = wd
	}

	abs, err := filepath.Abs(workspace)
	if err != nil {
		return nil, clierrors.Wrap(clierrors.ExitUsage, fmt.Sprintf("Invalid workspace: %s", workspace), err)
	}

	s.workspace = abs

	s.targetsFile = stringFlag(cmd, "targets-file")
	if s.targetsFile == "" {
		s.targetsFile = cfg.TargetsFile()
	}

	if !filepath.IsAbs(s.targetsFile) {
		s.targetsFile = filepath.Join(s.workspace, s.targetsFile)
	}

	s.target = stringFlag(cmd, "target")

	return s, nil
}

// inWorkspace resolves a relative path flag against the workspace.
func (s *scope) inWorkspace(p string) string {
	if p == "" {
		return s.workspace
	}

	if filepath.IsAbs(p) {
		return p
	}

	return filepath.Join(s.workspace, p)
}

// newBridge builds the single-flight bridge from configuration. onProgress
// receives progress markers while a job runs.
func (s *scope) newBridge(onProgress func(bridge.Progress)) (*bridge.Bridge, error) {
	interpreter := s.cfg.InterpreterPath()

	resolved, err := lookPath(interpreter)
	if err != nil {
		return nil, clierrors.InterpreterNotFound(interpreter)
	}

	module := s.cfg.InterpreterModule()
	if module == "" {
		return nil, clierrors.ModuleNotConfigured()
	}

	opts := &bridge.Options{
		Encoder: &bridge.ScriptEncoder{
			Interpreter: resolved,
			Module:      module,
			Dir:         s.workspace,
		},
		Timeout:             s.cfg.JobTimeout(),
		GracePeriod:         s.cfg.GracePeriod(),
		ResultDir:           s.cfg.ResultDir(),
		ResultRetries:       s.cfg.ResultRetries(),
		ResultRetryInterval: s.cfg.ResultRetryInterval(),
		OnProgress:          onProgress,
	}

	if s.cfg.HistoryEnabled() {
		opener, err := s.journals()
		if err != nil {
			return nil, clierrors.ConfigFailed("open job history", err)
		}

		opts.Journals = opener
	}

	b, err := bridge.New(opts)
	if err != nil {
		return nil, clierrors.Wrap(clierrors.ExitGeneral, "Cannot create bridge", err)
	}

	return b, nil
}

func (s *scope) journals() (bridge.JournalOpener, error) {
	dir, err := s.cfg.HistoryDir()
	if err != nil {
		return nil, err
	}

	sink, err := diagnostics.NewSink(dir, s.cfg.HistoryLines())
	if err != nil {
		return nil, err
	}

	return func(jobID string, op bridge.Operation, target bridge.TargetSelector) (bridge.Journal, error) {
		j, err := sink.Open(jobID, string(op), target.Name)
		if err != nil {
			return nil, err
		}

		s.journal = j

		return j, nil
	}, nil
}

// newService wires a jobs service over runner.
func (s *scope) newService(runner jobs.Runner) *jobs.Service {
	return jobs.NewService(runner,
		func(name string) (*targets.Target, error) {
			return targets.Resolve(s.targetsFile, name)
		},
		jobs.WithCredentials(func(target string) (*bridge.Credential, error) {
			if s.entered != nil && s.entered.target == target {
				return s.entered.cred, nil
			}

			cred, _, err := credentials.Resolve(target)

			return cred, err
		}),
		jobs.WithWorkspace(s.workspace),
	)
}

// promptCredential asks for a container login when the selected target uses
// UserPassword authentication and neither the environment nor the keyring
// has one. An empty username skips the login.
func (s *scope) promptCredential(p *prompt.Prompter) error {
	if !p.CanPrompt() {
		return nil
	}

	target, err := targets.Resolve(s.targetsFile, s.target)
	if err != nil || !strings.EqualFold(target.Authentication, "UserPassword") {
		return nil //nolint:nilerr // the job reports target errors
	}

	if cred, _, err := credentials.Resolve(target.Name); err != nil || cred != nil {
		return nil //nolint:nilerr // the job reports malformed keyring entries
	}

	user, err := p.Line(fmt.Sprintf("Username for %s", target.Name))
	if err != nil {
		return clierrors.Wrap(clierrors.ExitGeneral, "Cannot read the container login", err)
	}

	if user == "" {
		return nil
	}

	password, err := p.Password("Password")
	if err != nil {
		return clierrors.Wrap(clierrors.ExitGeneral, "Cannot read the container login", err)
	}

	s.entered = &enteredCredential{
		target: target.Name,
		cred:   &bridge.Credential{Username: user, Password: bridge.Secret(password)},
	}

	return nil
}

// launchError converts an error returned before a job ran.
func launchError(err error) error {
	var (
		cliErr   *clierrors.CLIError
		notFound *targets.NotFoundError
		fileErr  *targets.FileError
		paramErr *jobs.ParamError
	)

	switch {
	case errors.As(err, &cliErr):
		return cliErr
	case errors.Is(err, bridge.ErrBusy):
		return clierrors.JobBusy()
	case errors.As(err, &notFound):
		return clierrors.TargetNotFound(notFound.Name, notFound.Available)
	case errors.Is(err, targets.ErrNoTargets) && errors.As(err, &fileErr):
		return clierrors.NoTargets(fileErr.Path)
	case errors.As(err, &fileErr):
		return clierrors.TargetsFileInvalid(fileErr.Path, fileErr.Err)
	case errors.As(err, &paramErr):
		return clierrors.InvalidParams(paramErr)
	case errors.Is(err, bridge.ErrModuleNotConfigured):
		return clierrors.ModuleNotConfigured()
	default:
		return clierrors.Wrap(clierrors.ExitGeneral, "Job could not be started", err)
	}
}

// outcomeError converts a finished non-successful job into a CLIError.
func outcomeError[T any](op string, res *bridge.JobResult[T]) error {
	switch res.Outcome {
	case bridge.OutcomeSuccess:
		return nil
	case bridge.OutcomeCancelled:
		if res.Cancellation != nil && res.Cancellation.Kind == bridge.KindTimeout {
			return clierrors.JobTimedOut(op, timeoutText(res.Cancellation))
		}

		return clierrors.JobCancelled(op)
	default:
		if res.Error == nil {
			return clierrors.JobFailed(op, "", "")
		}

		return clierrors.JobFailed(op, string(res.Error.Kind), res.Error.Message)
	}
}

// timeoutText names the limit a timed-out job hit.
func timeoutText(c *bridge.Cancellation) string {
	if c.Timeout > 0 {
		return c.Timeout.String()
	}

	return "the configured timeout"
}

func stringFlag(cmd *cobra.Command, name string) string {
	f := cmd.Flag(name)
	if f == nil {
		return ""
	}

	return strings.TrimSpace(f.Value.String())
}

// operationTitle names an operation in status lines.
func operationTitle(op bridge.Operation) string {
	switch op {
	case bridge.OpCompile:
		return "Compile"
	case bridge.OpPublish:
		return "Publish"
	case bridge.OpTestRun:
		return "Test run"
	case bridge.OpTestExecute:
		return "Test execution"
	case bridge.OpFetchConfig:
		return "Container config"
	case bridge.OpFetchResults:
		return "Test results"
	default:
		return string(op)
	}
}
