package update

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/musher-dev/bcbridge/internal/paths"
)

// CheckInterval is how long a cached check stays fresh.
const CheckInterval = 24 * time.Hour

// State caches the last release check between runs.
type State struct {
	LastCheckedAt  time.Time `json:"lastCheckedAt"`
	LatestVersion  string    `json:"latestVersion,omitempty"`
	CurrentVersion string    `json:"currentVersion,omitempty"`
	ReleaseURL     string    `json:"releaseURL,omitempty"`
}

// NewState records info as checked at now.
func NewState(info *Info, now time.Time) *State {
	return &State{
		LastCheckedAt:  now,
		LatestVersion:  info.LatestVersion,
		CurrentVersion: info.CurrentVersion,
		ReleaseURL:     info.ReleaseURL,
	}
}

// LoadState reads the cached state. A missing or corrupt file is an empty
// state.
func LoadState() (*State, error) {
	path, err := paths.UpdateStateFile()
	if err != nil {
		return nil, fmt.Errorf("resolve update state path: %w", err)
	}

	data, err := os.ReadFile(path) //nolint:gosec // G304: path under the bcbridge state root
	if os.IsNotExist(err) {
		return &State{}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("read update state: %w", err)
	}

	var s State
	if json.Unmarshal(data, &s) != nil {
		return &State{}, nil
	}

	return &s, nil
}

// Save writes the state through a temp file and rename so concurrent runs
// never see a partial file.
func (s *State) Save() error {
	path, err := paths.UpdateStateFile()
	if err != nil {
		return fmt.Errorf("resolve update state path: %w", err)
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode update state: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp update state: %w", err)
	}

	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()

	if writeErr != nil || closeErr != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write update state: %w", errors.Join(writeErr, closeErr))
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		// Windows refuses to rename over an existing file.
		_ = os.Remove(path)

		if err := os.Rename(tmp.Name(), path); err != nil {
			_ = os.Remove(tmp.Name())
			return fmt.Errorf("replace update state: %w", err)
		}
	}

	return nil
}

// Due reports whether a new check should run at now.
func (s *State) Due(now time.Time) bool {
	return s.LastCheckedAt.IsZero() || now.Sub(s.LastCheckedAt) >= CheckInterval
}

// HasUpdate reports whether the cached latest release is newer than current.
func (s *State) HasUpdate(current string) bool {
	if s.LatestVersion == "" || current == "" {
		return false
	}

	return Newer(current, s.LatestVersion)
}
