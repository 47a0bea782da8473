package bridge

import (
	"bytes"
	_ "embed"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"unicode/utf16"
)

// ErrModuleNotConfigured is returned by Encode when no module path is set.
var ErrModuleNotConfigured = errors.New("interpreter module is not configured")

// ResultFileEnv names the variable carrying the result channel path. When it
// is absent the interpreter writes its result document to stdout instead.
const ResultFileEnv = "BCBRIDGE_RESULT_FILE"

// partialSuffix is appended to the result path while the interpreter writes
// it; the final rename makes the document appear atomically.
const partialSuffix = ".partial"

// envelopeVersion is bumped when the stdin document changes shape.
const envelopeVersion = 1

// DefaultInterpreter is the interpreter binary used when none is configured.
const DefaultInterpreter = "pwsh"

// Invocation is a fully encoded job: everything the supervisor needs to spawn
// the interpreter. It holds no reference to the originating JobRequest.
type Invocation struct {
	Path  string
	Args  []string
	Stdin []byte

	// Env holds extra KEY=VALUE pairs appended to the host environment.
	Env []string
	Dir string
}

// Encoder turns a request into an Invocation.
type Encoder interface {
	Encode(req *JobRequest, profile *Profile, jobID string) (*Invocation, error)
}

//go:embed bootstrap.ps1.tmpl
var bootstrapSource string

var bootstrapTemplate = template.Must(template.New("bootstrap").
	Funcs(template.FuncMap{"psquote": psQuote}).
	Parse(bootstrapSource))

// ScriptEncoder builds a PowerShell bootstrap that imports Module, reads the
// request from stdin, and calls the operation's entry point.
type ScriptEncoder struct {
	// Interpreter is the executable to run. Defaults to DefaultInterpreter.
	Interpreter string

	// Module is the module name or manifest path passed to Import-Module.
	Module string

	// Dir is the working directory for the interpreter.
	Dir string
}

// Encode implements Encoder.
func (e *ScriptEncoder) Encode(req *JobRequest, profile *Profile, jobID string) (*Invocation, error) {
	if strings.TrimSpace(e.Module) == "" {
		return nil, ErrModuleNotConfigured
	}

	script, err := RenderBootstrap(e.Module, profile.EntryPoint)
	if err != nil {
		return nil, err
	}

	stdin, err := EncodePayload(req, jobID)
	if err != nil {
		return nil, err
	}

	interpreter := e.Interpreter
	if interpreter == "" {
		interpreter = DefaultInterpreter
	}

	return &Invocation{
		Path: interpreter,
		Args: []string{
			"-NoLogo",
			"-NoProfile",
			"-NonInteractive",
			"-ExecutionPolicy", "Bypass",
			"-EncodedCommand", encodeCommand(script),
		},
		Stdin: stdin,
		Dir:   e.Dir,
	}, nil
}

// RenderBootstrap renders the bootstrap script for one entry point.
func RenderBootstrap(module, entryPoint string) (string, error) {
	if !entryPointPattern.MatchString(entryPoint) {
		return "", fmt.Errorf("invalid entry point %q", entryPoint)
	}

	var buf bytes.Buffer

	err := bootstrapTemplate.Execute(&buf, struct {
		Module        string
		EntryPoint    string
		ResultEnv     string
		PartialSuffix string
	}{
		Module:        module,
		EntryPoint:    entryPoint,
		ResultEnv:     ResultFileEnv,
		PartialSuffix: partialSuffix,
	})
	if err != nil {
		return "", fmt.Errorf("render bootstrap: %w", err)
	}

	return buf.String(), nil
}

type envelope struct {
	Version    int             `json:"version"`
	JobID      string          `json:"jobId"`
	Operation  Operation       `json:"operation"`
	Target     TargetSelector  `json:"target"`
	Payload    map[string]any  `json:"payload"`
	Credential *wireCredential `json:"credential,omitempty"`
}

type wireCredential struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// EncodePayload serializes req into the single JSON document written to the
// interpreter's stdin.
func EncodePayload(req *JobRequest, jobID string) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	env := envelope{
		Version:   envelopeVersion,
		JobID:     jobID,
		Operation: req.Operation,
		Target:    req.Target,
		Payload:   req.Payload,
	}

	if env.Payload == nil {
		env.Payload = map[string]any{}
	}

	if req.Credential != nil {
		env.Credential = &wireCredential{
			Username: req.Credential.Username,
			Password: req.Credential.Password.Reveal(),
		}
	}

	data, err := json.Marshal(&env)
	if err != nil {
		return nil, fmt.Errorf("encode job payload: %w", err)
	}

	return data, nil
}

// psQuote renders s as a single-quoted PowerShell literal. PowerShell also
// treats the typographic single quotes as delimiters, so those are doubled too.
func psQuote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('\'')

	for _, r := range s {
		switch r {
		case '\'', '‘', '’', '‚', '‛':
			b.WriteRune(r)
		}

		b.WriteRune(r)
	}

	b.WriteByte('\'')

	return b.String()
}

// encodeCommand produces the base64 UTF-16LE form expected by -EncodedCommand.
func encodeCommand(script string) string {
	units := utf16.Encode([]rune(script))
	buf := make([]byte, len(units)*2)

	for i, u := range units {
		binary.LittleEndian.PutUint16(buf[i*2:], u)
	}

	return base64.StdEncoding.EncodeToString(buf)
}
