package bridge

import (
	"embed"
	"fmt"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed operations/*.yaml
var operationsFS embed.FS

// Delivery selects how an operation returns its result document.
type Delivery string

// Result delivery strategies.
const (
	// DeliverySideChannel has the interpreter write the result to a unique
	// file named by ResultFileEnv. Used for large or noisy jobs.
	DeliverySideChannel Delivery = "side-channel"

	// DeliveryStdout parses the trailing result object out of stdout. Used
	// for small, quick status checks.
	DeliveryStdout Delivery = "stdout"
)

// Profile describes how one operation is invoked.
type Profile struct {
	Name        Operation     `yaml:"name"`
	Description string        `yaml:"description"`
	EntryPoint  string        `yaml:"entryPoint"`
	Delivery    Delivery      `yaml:"delivery"`
	RawTimeout  string        `yaml:"timeout"`
	Timeout     time.Duration `yaml:"-"`
}

var entryPointPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]*-[A-Za-z][A-Za-z0-9]*$`)

// profiles is loaded at package init time from the embedded YAML files.
var profiles = mustLoadProfiles(operationsFS)

func mustLoadProfiles(fsys embed.FS) map[Operation]*Profile {
	entries, err := fsys.ReadDir("operations")
	if err != nil {
		panic(fmt.Sprintf("bridge: read operations dir: %v", err))
	}

	out := make(map[Operation]*Profile, len(entries))

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		data, readErr := fsys.ReadFile("operations/" + entry.Name())
		if readErr != nil {
			panic(fmt.Sprintf("bridge: read operation file %s: %v", entry.Name(), readErr))
		}

		var p Profile
		if unmarshalErr := yaml.Unmarshal(data, &p); unmarshalErr != nil {
			panic(fmt.Sprintf("bridge: unmarshal operation %s: %v", entry.Name(), unmarshalErr))
		}

		if validateErr := validateProfile(&p); validateErr != nil {
			panic(fmt.Sprintf("bridge: operation %s: %v", entry.Name(), validateErr))
		}

		if _, dup := out[p.Name]; dup {
			panic(fmt.Sprintf("bridge: duplicate operation %q in %s", p.Name, entry.Name()))
		}

		out[p.Name] = &p
	}

	for _, op := range allOperations {
		if _, ok := out[op]; !ok {
			panic(fmt.Sprintf("bridge: no profile for operation %q", op))
		}
	}

	return out
}

func validateProfile(p *Profile) error {
	if _, err := ParseOperation(string(p.Name)); err != nil {
		return err
	}

	if !entryPointPattern.MatchString(p.EntryPoint) {
		return fmt.Errorf("entryPoint %q is not a Verb-Noun command name", p.EntryPoint)
	}

	switch p.Delivery {
	case DeliverySideChannel, DeliveryStdout:
	default:
		return fmt.Errorf("unknown delivery %q", p.Delivery)
	}

	if p.RawTimeout != "" {
		d, err := time.ParseDuration(p.RawTimeout)
		if err != nil {
			return fmt.Errorf("invalid timeout: %w", err)
		}

		p.Timeout = d
	}

	return nil
}

// ProfileFor returns the profile for op. The returned value is a copy.
func ProfileFor(op Operation) (*Profile, bool) {
	p, ok := profiles[op]
	if !ok {
		return nil, false
	}

	cp := *p

	return &cp, true
}
