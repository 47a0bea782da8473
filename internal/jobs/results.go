package jobs

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// CompilerMessage is one diagnostic reported by the AL compiler.
type CompilerMessage struct {
	Severity string `json:"severity" yaml:"severity"`
	Code     string `json:"code,omitempty" yaml:"code,omitempty"`
	Message  string `json:"message" yaml:"message"`
	File     string `json:"file,omitempty" yaml:"file,omitempty"`
	Line     int    `json:"line,omitempty" yaml:"line,omitempty"`
	Column   int    `json:"column,omitempty" yaml:"column,omitempty"`
}

// CompileResult is the data of a successful compile.
type CompileResult struct {
	AppFile   string            `json:"appFile" yaml:"appFile"`
	AppName   string            `json:"appName,omitempty" yaml:"appName,omitempty"`
	Publisher string            `json:"publisher,omitempty" yaml:"publisher,omitempty"`
	Version   string            `json:"version,omitempty" yaml:"version,omitempty"`
	Messages  []CompilerMessage `json:"messages,omitempty" yaml:"messages,omitempty"`
}

// Warnings counts messages with warning severity.
func (r *CompileResult) Warnings() int {
	n := 0

	for _, m := range r.Messages {
		if strings.EqualFold(m.Severity, "warning") {
			n++
		}
	}

	return n
}

// PublishResult is the data of a successful publish.
type PublishResult struct {
	AppName   string `json:"appName" yaml:"appName"`
	Publisher string `json:"publisher,omitempty" yaml:"publisher,omitempty"`
	Version   string `json:"version,omitempty" yaml:"version,omitempty"`
	SyncMode  string `json:"syncMode,omitempty" yaml:"syncMode,omitempty"`
	Container string `json:"container,omitempty" yaml:"container,omitempty"`
}

// ContainerConfig describes the server a target points at.
type ContainerConfig struct {
	ContainerName  string `json:"containerName,omitempty" yaml:"containerName,omitempty"`
	Server         string `json:"server" yaml:"server"`
	ServerInstance string `json:"serverInstance" yaml:"serverInstance"`
	Port           int    `json:"port,omitempty" yaml:"port,omitempty"`
	Tenant         string `json:"tenant,omitempty" yaml:"tenant,omitempty"`
	Authentication string `json:"authentication,omitempty" yaml:"authentication,omitempty"`
	Version        string `json:"version,omitempty" yaml:"version,omitempty"`
}

// TestSummary counts test outcomes.
type TestSummary struct {
	Total   int `json:"total" yaml:"total"`
	Passed  int `json:"passed" yaml:"passed"`
	Failed  int `json:"failed" yaml:"failed"`
	Skipped int `json:"skipped" yaml:"skipped"`
}

// Test outcomes reported per test.
const (
	TestPassed  = "pass"
	TestFailed  = "fail"
	TestSkipped = "skip"
)

// TestRecord is one executed test method.
type TestRecord struct {
	Codeunit ID     `json:"codeunit" yaml:"codeunit"`
	Method   string `json:"method" yaml:"method"`
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`
	Result   string `json:"result" yaml:"result"`

	// Duration is in seconds, as reported by the interpreter.
	Duration float64 `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// TestFailure is a failed test with its trace and navigation hint.
type TestFailure struct {
	Codeunit   ID     `json:"codeunit" yaml:"codeunit"`
	Method     string `json:"method" yaml:"method"`
	Name       string `json:"name,omitempty" yaml:"name,omitempty"`
	Error      string `json:"error" yaml:"error"`
	StackTrace string `json:"stackTrace,omitempty" yaml:"stackTrace,omitempty"`

	// Location is derived from StackTrace; nil when no frame matched.
	Location *Location `json:"location,omitempty" yaml:"location,omitempty"`
}

// TestResult is the data of a test run, execution or results fetch.
type TestResult struct {
	// Success is false when any test failed.
	Success  bool          `json:"success" yaml:"success"`
	Summary  TestSummary   `json:"summary" yaml:"summary"`
	Tests    []TestRecord  `json:"tests" yaml:"tests"`
	Failures []TestFailure `json:"failures" yaml:"failures"`
}

// ID is a codeunit identifier. Interpreters report it as a number or a
// string; both decode to its text form.
type ID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}

		*id = ID(s)

		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("codeunit id: %w", err)
	}

	*id = ID(n.String())

	return nil
}

// Number returns the numeric id, or 0 when it is not numeric.
func (id ID) Number() int {
	n, err := strconv.Atoi(strings.TrimSpace(string(id)))
	if err != nil {
		return 0
	}

	return n
}

// errMissingField marks a required field absent from result data.
var errMissingField = errors.New("missing required field")

func missing(field string) error {
	return fmt.Errorf("%w %q", errMissingField, field)
}

func decodeCompile(data json.RawMessage) (CompileResult, error) {
	var r CompileResult
	if err := json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("decode compile result: %w", err)
	}

	if r.AppFile == "" {
		return r, missing("appFile")
	}

	return r, nil
}

func decodePublish(data json.RawMessage) (PublishResult, error) {
	var r PublishResult
	if err := json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("decode publish result: %w", err)
	}

	if r.AppName == "" {
		return r, missing("appName")
	}

	return r, nil
}

func decodeContainerConfig(data json.RawMessage) (ContainerConfig, error) {
	var r ContainerConfig
	if err := json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("decode container config: %w", err)
	}

	if r.ServerInstance == "" {
		return r, missing("serverInstance")
	}

	return r, nil
}

type wireTestResult struct {
	Summary  *TestSummary  `json:"summary"`
	Tests    []TestRecord  `json:"tests"`
	Failures []TestFailure `json:"failures"`
}

// decodeTests maps test data and resolves failure locations with nav.
func decodeTests(data json.RawMessage, nav *Navigator) (TestResult, error) {
	var w wireTestResult
	if err := json.Unmarshal(data, &w); err != nil {
		return TestResult{}, fmt.Errorf("decode test result: %w", err)
	}

	if w.Summary == nil {
		return TestResult{}, missing("summary")
	}

	for i, f := range w.Failures {
		if f.Codeunit == "" || f.Method == "" {
			return TestResult{}, fmt.Errorf("failure %d: %w", i, missing("codeunit/method"))
		}

		if nav != nil {
			w.Failures[i].Location = nav.Locate(f.StackTrace)
		}
	}

	r := TestResult{
		Summary:  *w.Summary,
		Tests:    w.Tests,
		Failures: w.Failures,
	}

	if r.Tests == nil {
		r.Tests = []TestRecord{}
	}

	// Some module versions send an empty summary next to the records.
	if r.Summary == (TestSummary{}) && len(r.Tests) > 0 {
		r.Summary = countTests(r.Tests)
	}

	if r.Failures == nil {
		r.Failures = []TestFailure{}
	}

	r.Success = r.Summary.Failed == 0 && len(r.Failures) == 0

	return r, nil
}

func countTests(tests []TestRecord) TestSummary {
	s := TestSummary{Total: len(tests)}

	for _, t := range tests {
		switch t.Result {
		case TestPassed:
			s.Passed++
		case TestFailed:
			s.Failed++
		case TestSkipped:
			s.Skipped++
		}
	}

	return s
}
