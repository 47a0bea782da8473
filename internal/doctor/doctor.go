// Package doctor runs the environment checks behind `bcbridge doctor`: the
// interpreter and its module, the result directory, the targets file with
// the selected target's login source, and the job history store.
package doctor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/musher-dev/bcbridge/internal/config"
	"github.com/musher-dev/bcbridge/internal/credentials"
	"github.com/musher-dev/bcbridge/internal/diagnostics"
	"github.com/musher-dev/bcbridge/internal/targets"
)

// MinInterpreterVersion is the oldest PowerShell release the bootstrap script supports.
const MinInterpreterVersion = ">= 7.2.0"

// versionScript prints the interpreter's own version.
const versionScript = "$PSVersionTable.PSVersion.ToString()"

// Status represents the result of a diagnostic check.
type Status int

const (
	// StatusPass indicates the check passed.
	StatusPass Status = iota
	// StatusWarn indicates a non-critical issue.
	StatusWarn
	// StatusFail indicates a critical failure.
	StatusFail
)

var statusNames = [...]string{StatusPass: "pass", StatusWarn: "warn", StatusFail: "fail"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}

	return fmt.Sprintf("Status(%d)", int(s))
}

// MarshalText renders the status as pass, warn or fail in --json output.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Result holds the outcome of a single check.
type Result struct {
	Name    string `json:"name" yaml:"name"`
	Status  Status `json:"status" yaml:"status"`
	Message string `json:"message" yaml:"message"`
	Detail  string `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// Tally counts results by status.
type Tally struct {
	Passed   int `json:"passed" yaml:"passed"`
	Failed   int `json:"failed" yaml:"failed"`
	Warnings int `json:"warnings" yaml:"warnings"`
}

// Report is a full doctor run.
type Report struct {
	Checks  []Result `json:"checks" yaml:"checks"`
	Summary Tally    `json:"summary" yaml:"summary"`
}

// Check is a diagnostic check function.
type Check func(ctx context.Context) Result

// Env is what the default checks inspect. Zero-valued hooks fall back to
// the real system.
type Env struct {
	Config      *config.Config
	TargetsFile string
	Target      string

	LookPath       func(file string) (string, error)
	QueryVersion   func(ctx context.Context, interpreter string) (string, error)
	ResolveCredsOf func(target string) credentials.Source
}

// Runner executes diagnostic checks.
type Runner struct {
	checks []namedCheck
}

type namedCheck struct {
	name  string
	check Check
}

// New creates a runner with the default checks bound to env.
func New(env *Env) *Runner {
	e := *env
	if e.LookPath == nil {
		e.LookPath = exec.LookPath
	}

	if e.QueryVersion == nil {
		e.QueryVersion = queryVersion
	}

	if e.ResolveCredsOf == nil {
		e.ResolveCredsOf = credentials.Describe
	}

	if e.TargetsFile == "" {
		e.TargetsFile = e.Config.TargetsFile()
	}

	r := &Runner{}

	r.AddCheck("Interpreter", e.checkInterpreter)
	r.AddCheck("Interpreter Module", e.checkModule)
	r.AddCheck("Result Directory", e.checkResultDir)
	r.AddCheck("Targets", e.checkTargets)
	r.AddCheck("Credentials", e.checkCredentials)
	r.AddCheck("Job History", e.checkHistory)

	return r
}

// AddCheck registers a diagnostic check.
func (r *Runner) AddCheck(name string, check Check) {
	r.checks = append(r.checks, namedCheck{name: name, check: check})
}

// Run executes all registered checks and returns the results.
func (r *Runner) Run(ctx context.Context) []Result {
	results := make([]Result, 0, len(r.checks))

	for _, nc := range r.checks {
		result := nc.check(ctx)
		result.Name = nc.name
		results = append(results, result)
	}

	return results
}

// NewReport tallies results.
func NewReport(results []Result) Report {
	report := Report{Checks: results}

	for _, r := range results {
		switch r.Status {
		case StatusPass:
			report.Summary.Passed++
		case StatusFail:
			report.Summary.Failed++
		case StatusWarn:
			report.Summary.Warnings++
		}
	}

	return report
}

// checkInterpreter verifies the interpreter is on PATH and new enough.
func (e *Env) checkInterpreter(ctx context.Context) Result {
	name := e.Config.InterpreterPath()

	path, err := e.LookPath(name)
	if err != nil {
		return Result{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s not found", name),
			Detail:  "Install PowerShell 7.2+ or set interpreter.path",
		}
	}

	versionCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	raw, err := e.QueryVersion(versionCtx, path)
	if err != nil {
		return Result{
			Status:  StatusWarn,
			Message: fmt.Sprintf("Found at %s but version unknown", path),
			Detail:  err.Error(),
		}
	}

	return versionResult(path, raw)
}

func versionResult(path, raw string) Result {
	raw = strings.TrimSpace(raw)
	// Extract just the version number if there's extra output
	if idx := strings.IndexAny(raw, "\r\n"); idx > 0 {
		raw = raw[:idx]
	}

	version, err := semver.NewVersion(raw)
	if err != nil {
		return Result{
			Status:  StatusWarn,
			Message: fmt.Sprintf("Found at %s but version %q is unreadable", path, raw),
		}
	}

	constraint, err := semver.NewConstraint(MinInterpreterVersion)
	if err != nil {
		return Result{Status: StatusFail, Message: err.Error()}
	}

	if !constraint.Check(version) {
		return Result{
			Status:  StatusFail,
			Message: fmt.Sprintf("v%s at %s is too old", version, path),
			Detail:  fmt.Sprintf("bcbridge needs PowerShell %s", MinInterpreterVersion),
		}
	}

	return Result{
		Status:  StatusPass,
		Message: fmt.Sprintf("v%s at %s", version, path),
	}
}

func queryVersion(ctx context.Context, interpreter string) (string, error) {
	out, err := exec.CommandContext(ctx, interpreter, "-NoLogo", "-NoProfile", "-NonInteractive", "-Command", versionScript).Output() //nolint:gosec // interpreter comes from configuration
	if err != nil {
		return "", fmt.Errorf("run %s: %w", interpreter, err)
	}

	return string(out), nil
}

// checkModule verifies the module setting. Bare module names are resolved
// by the interpreter and are only reported.
func (e *Env) checkModule(context.Context) Result {
	module := e.Config.InterpreterModule()
	if module == "" {
		return Result{
			Status:  StatusFail,
			Message: "Not configured",
			Detail:  "Set interpreter.module to the bridge module name or manifest path",
		}
	}

	if !strings.ContainsAny(module, `/\`) && filepath.Ext(module) == "" {
		return Result{
			Status:  StatusPass,
			Message: fmt.Sprintf("%s (resolved from PSModulePath)", module),
		}
	}

	if _, err := os.Stat(module); err != nil {
		return Result{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s not found", module),
			Detail:  err.Error(),
		}
	}

	return Result{Status: StatusPass, Message: module}
}

// checkResultDir verifies side-channel files can be created.
func (e *Env) checkResultDir(context.Context) Result {
	dir := e.Config.ResultDir()
	if dir == "" {
		dir = os.TempDir()
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return Result{Status: StatusFail, Message: dir, Detail: err.Error()}
	}

	f, err := os.CreateTemp(dir, "bcbridge-doctor-*.json")
	if err != nil {
		return Result{Status: StatusFail, Message: fmt.Sprintf("%s is not writable", dir), Detail: err.Error()}
	}

	name := f.Name()
	_ = f.Close()

	if err := os.Remove(name); err != nil {
		return Result{Status: StatusWarn, Message: dir, Detail: fmt.Sprintf("could not remove test file: %v", err)}
	}

	return Result{Status: StatusPass, Message: dir}
}

// checkTargets verifies the targets file parses and holds the selected target.
func (e *Env) checkTargets(context.Context) Result {
	list, err := targets.Load(e.TargetsFile)
	if err != nil {
		return Result{
			Status:  StatusFail,
			Message: e.TargetsFile,
			Detail:  err.Error(),
		}
	}

	if _, err := targets.Resolve(e.TargetsFile, e.Target); err != nil {
		return Result{Status: StatusFail, Message: e.TargetsFile, Detail: err.Error()}
	}

	noun := "targets"
	if len(list) == 1 {
		noun = "target"
	}

	return Result{
		Status:  StatusPass,
		Message: fmt.Sprintf("%d %s in %s", len(list), noun, e.TargetsFile),
	}
}

// checkCredentials reports where the container credential would come from.
func (e *Env) checkCredentials(context.Context) Result {
	target := e.Target
	if target == "" {
		if t, err := targets.Resolve(e.TargetsFile, ""); err == nil {
			target = t.Name
		}
	}

	source := e.ResolveCredsOf(target)
	if source == credentials.SourceNone {
		return Result{
			Status:  StatusWarn,
			Message: "None (the interpreter uses its own defaults)",
			Detail:  fmt.Sprintf("Set %s/%s or add a %q keyring entry", credentials.EnvUsername, credentials.EnvPassword, credentials.KeyringService),
		}
	}

	return Result{
		Status:  StatusPass,
		Message: fmt.Sprintf("via %s", source),
	}
}

// checkHistory reports journal storage state.
func (e *Env) checkHistory(context.Context) Result {
	if !e.Config.HistoryEnabled() {
		return Result{Status: StatusPass, Message: "Disabled"}
	}

	dir, err := e.Config.HistoryDir()
	if err != nil {
		return Result{Status: StatusWarn, Message: "Unavailable", Detail: err.Error()}
	}

	sink := &diagnostics.Sink{Dir: dir}

	entries, err := sink.List()
	if err != nil {
		return Result{Status: StatusWarn, Message: dir, Detail: err.Error()}
	}

	return Result{
		Status:  StatusPass,
		Message: fmt.Sprintf("%d jobs in %s", len(entries), dir),
	}
}
