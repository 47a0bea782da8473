// Package targets reads the named environments a job can act on.
//
// A targets file is either a VS Code launch.json (comments and trailing
// commas allowed), a TOML file with [[target]] tables, or a YAML file with a
// top-level targets list.
package targets

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"

	"github.com/musher-dev/bcbridge/internal/bridge"
)

// Target is one environment entry.
type Target struct {
	Name           string `json:"name" toml:"name" yaml:"name"`
	Type           string `json:"type" toml:"type" yaml:"type"`
	Server         string `json:"server" toml:"server" yaml:"server"`
	ServerInstance string `json:"serverInstance" toml:"serverInstance" yaml:"serverInstance"`
	Port           int    `json:"port" toml:"port" yaml:"port"`
	Tenant         string `json:"tenant" toml:"tenant" yaml:"tenant"`
	Authentication string `json:"authentication" toml:"authentication" yaml:"authentication"`
	Environment    string `json:"environmentType" toml:"environmentType" yaml:"environmentType"`
	ContainerName  string `json:"containerName" toml:"containerName" yaml:"containerName"`

	// Path is the file the target was read from.
	Path string `json:"-" toml:"-" yaml:"-"`
}

// Selector returns the bridge selector for t.
func (t *Target) Selector() bridge.TargetSelector {
	return bridge.TargetSelector{Name: t.Name, Path: t.Path}
}

// ErrNoTargets is returned when a file parses but lists nothing usable.
var ErrNoTargets = errors.New("no targets defined")

// NotFoundError is returned when no target matches the requested name.
type NotFoundError struct {
	Name      string
	Path      string
	Available []string
}

func (e *NotFoundError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("target %q not found in %s", e.Name, e.Path)
	}

	return fmt.Sprintf("target %q not found in %s (available: %s)", e.Name, e.Path, strings.Join(e.Available, ", "))
}

// FileError is returned when the targets file cannot be read or parsed.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("targets file %s: %v", e.Path, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// Load reads every target in path. The format follows the file extension.
func Load(path string) ([]Target, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path from user configuration
	if err != nil {
		return nil, &FileError{Path: path, Err: err}
	}

	var list []Target

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json", ".jsonc", "":
		list, err = parseLaunch(data)
	case ".toml":
		list, err = parseTOML(data)
	case ".yaml", ".yml":
		list, err = parseYAML(data)
	default:
		err = fmt.Errorf("unsupported format %q (want .json, .toml, .yaml)", ext)
	}

	if err != nil {
		return nil, &FileError{Path: path, Err: err}
	}

	if len(list) == 0 {
		return nil, &FileError{Path: path, Err: ErrNoTargets}
	}

	for i := range list {
		list[i].Path = path
	}

	return list, nil
}

// Resolve loads path and returns the target called name. An empty name
// selects the first target. Names match case-insensitively.
func Resolve(path, name string) (*Target, error) {
	list, err := Load(path)
	if err != nil {
		return nil, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return &list[0], nil
	}

	available := make([]string, 0, len(list))

	for i := range list {
		if strings.EqualFold(list[i].Name, name) {
			return &list[i], nil
		}

		available = append(available, list[i].Name)
	}

	return nil, &NotFoundError{Name: name, Path: path, Available: available}
}

type launchFile struct {
	Configurations []Target `json:"configurations"`
}

// parseLaunch reads a launch.json and keeps AL configurations. Entries with
// no type are kept as well.
func parseLaunch(data []byte) ([]Target, error) {
	std, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("parse launch configuration: %w", err)
	}

	var file launchFile
	if err := json.Unmarshal(std, &file); err != nil {
		return nil, fmt.Errorf("parse launch configuration: %w", err)
	}

	out := file.Configurations[:0]

	for _, t := range file.Configurations {
		if t.Type != "" && !strings.EqualFold(t.Type, "al") {
			continue
		}

		out = append(out, t)
	}

	return out, nil
}

func parseTOML(data []byte) ([]Target, error) {
	var file struct {
		Targets []Target `toml:"target"`
	}

	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse toml: %w", err)
	}

	return file.Targets, nil
}

func parseYAML(data []byte) ([]Target, error) {
	var file struct {
		Targets []Target `yaml:"targets"`
	}

	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	return file.Targets, nil
}
