package bridge

import (
	"fmt"
	"log/slog"
	"strings"
)

// Operation names one job kind understood by the interpreter module.
type Operation string

// Supported operations.
const (
	OpCompile      Operation = "compile"
	OpPublish      Operation = "publish"
	OpTestRun      Operation = "test-run"
	OpTestExecute  Operation = "test-execute"
	OpFetchConfig  Operation = "fetch-config"
	OpFetchResults Operation = "fetch-results"
)

var allOperations = []Operation{
	OpCompile,
	OpPublish,
	OpTestRun,
	OpTestExecute,
	OpFetchConfig,
	OpFetchResults,
}

// Operations returns every supported operation in declaration order.
func Operations() []Operation {
	out := make([]Operation, len(allOperations))
	copy(out, allOperations)

	return out
}

// ParseOperation validates an operation name.
func ParseOperation(name string) (Operation, error) {
	op := Operation(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range allOperations {
		if op == known {
			return op, nil
		}
	}

	return "", fmt.Errorf("unknown operation %q", name)
}

func (o Operation) String() string {
	return string(o)
}

// TargetSelector identifies the environment a job acts on.
type TargetSelector struct {
	// Name is the target's configured name.
	Name string `json:"name"`

	// Path is the resolved configuration file the target was read from.
	Path string `json:"path"`
}

// Secret holds a cleartext credential value. It never formats or logs its
// contents. The stdin encoder reads it through Reveal, and the journal
// mirror uses it to mask echoed output.
type Secret string

const redacted = "[REDACTED]"

// Reveal returns the cleartext value.
func (s Secret) Reveal() string {
	return string(s)
}

func (s Secret) String() string {
	if s == "" {
		return ""
	}

	return redacted
}

// GoString keeps %#v from printing the value.
func (s Secret) GoString() string {
	return s.String()
}

// LogValue implements slog.LogValuer.
func (s Secret) LogValue() slog.Value {
	return slog.StringValue(s.String())
}

// MarshalText keeps accidental JSON/YAML encoding of a Secret redacted.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Credential is an optional username/password pair forwarded to the
// interpreter for container authentication.
type Credential struct {
	Username string
	Password Secret
}

// LogValue implements slog.LogValuer.
func (c *Credential) LogValue() slog.Value {
	if c == nil {
		return slog.Value{}
	}

	return slog.GroupValue(
		slog.String("username", c.Username),
		slog.String("password", c.Password.String()),
	)
}

// JobRequest is the input to the bridge. The Bridge encodes it once before
// spawning; the supervisor only ever sees the encoded bytes.
type JobRequest struct {
	Operation  Operation
	Target     TargetSelector
	Payload    map[string]any
	Credential *Credential
}

// Validate checks the fields the bridge itself depends on. Payload contents
// are validated by the interpreter module.
func (r *JobRequest) Validate() error {
	if r == nil {
		return fmt.Errorf("job request is nil")
	}

	if _, err := ParseOperation(string(r.Operation)); err != nil {
		return err
	}

	if r.Credential != nil && r.Credential.Username == "" {
		return fmt.Errorf("credential username is required when a credential is set")
	}

	return nil
}
