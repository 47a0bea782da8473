package main

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/musher-dev/bcbridge/internal/doctor"
	"github.com/musher-dev/bcbridge/internal/testutil"
)

func TestRenderDoctor(t *testing.T) {
	out, buf := newTestWriter()

	renderDoctor(out, doctor.NewReport([]doctor.Result{
		{Name: "Interpreter", Status: doctor.StatusPass, Message: "PowerShell 7.4.1 at /usr/bin/pwsh"},
		{Name: "Interpreter Module", Status: doctor.StatusWarn, Message: "Not configured", Detail: "Set BCBRIDGE_INTERPRETER_MODULE"},
		{Name: "Targets", Status: doctor.StatusFail, Message: "No targets in .vscode/launch.json"},
	}))

	testutil.AssertGolden(t, buf.String(), "doctor.golden")
}

func TestDoctorCommand(t *testing.T) {
	env := newCLIEnv(t, "ok")

	stdout, stderr, code := runCLI(t, "doctor", "--workspace", env.workspace)
	if code != 0 {
		t.Fatalf("exit code = %d\n%s", code, stderr)
	}

	combined := stdout + stderr
	for _, want := range []string{"bcbridge doctor", "Targets", "Job History", "passed"} {
		if !strings.Contains(combined, want) {
			t.Errorf("doctor output missing %q:\n%s", want, combined)
		}
	}
}

func TestDoctorJSON(t *testing.T) {
	env := newCLIEnv(t, "ok")

	stdout, stderr, code := runCLI(t, "doctor", "--json", "--workspace", env.workspace)
	if code != 0 {
		t.Fatalf("exit code = %d\n%s", code, stderr)
	}

	var report struct {
		Checks []struct {
			Name   string `json:"name"`
			Status string `json:"status"`
		} `json:"checks"`
		Summary doctor.Tally `json:"summary"`
	}

	if err := json.Unmarshal([]byte(stdout), &report); err != nil {
		t.Fatalf("stdout is not a doctor report: %v\n%s", err, stdout)
	}

	if len(report.Checks) != 6 || report.Summary.Passed == 0 {
		t.Errorf("report = %+v", report)
	}

	for _, c := range report.Checks {
		if c.Status != "pass" && c.Status != "warn" && c.Status != "fail" {
			t.Errorf("%s status = %q", c.Name, c.Status)
		}
	}
}
