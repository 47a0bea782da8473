// Package paths resolves the per-user directories bcbridge reads and writes.
//
// Each root honours its XDG variable first (absolute paths only), then the
// OS default, then a directory under $HOME.
package paths

import (
	"errors"
	"os"
	"path/filepath"
)

const appName = "bcbridge"

type root struct {
	env       string
	osDefault func() (string, error)
	homeDir   string
}

var (
	// configBase holds config.yaml.
	configBase = root{env: "XDG_CONFIG_HOME", osDefault: os.UserConfigDir, homeDir: ".config"}

	// stateBase holds logs, job history and the cached update check. There is
	// no OS default for state, so non-XDG systems use ~/.local/state.
	stateBase = root{env: "XDG_STATE_HOME", homeDir: filepath.Join(".local", "state")}
)

func (r root) resolve() (string, error) {
	if xdg := os.Getenv(r.env); xdg != "" && filepath.IsAbs(xdg) {
		return filepath.Join(xdg, appName), nil
	}

	var osErr error

	if r.osDefault != nil {
		dir, err := r.osDefault()
		if err == nil && dir != "" {
			return filepath.Join(dir, appName), nil
		}

		osErr = err
	}

	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, r.homeDir, appName), nil
	}

	if osErr != nil {
		return "", osErr
	}

	return "", errors.New("resolve user home directory")
}

func (r root) join(elem ...string) (string, error) {
	dir, err := r.resolve()
	if err != nil {
		return "", err
	}

	return filepath.Join(append([]string{dir}, elem...)...), nil
}

// ConfigRoot returns the directory holding config.yaml.
func ConfigRoot() (string, error) {
	return configBase.resolve()
}

// DefaultLogFile returns the structured log file used when --log-file is not set.
func DefaultLogFile() (string, error) {
	return stateBase.join("logs", "bcbridge.log")
}

// HistoryDir returns the directory holding per-job output journals.
func HistoryDir() (string, error) {
	return stateBase.join("history")
}

// UpdateStateFile returns the file caching the last release check.
func UpdateStateFile() (string, error) {
	return stateBase.join("update-check.json")
}
