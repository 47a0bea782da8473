package update

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setStateHome(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", dir)

	return filepath.Join(dir, "bcbridge", "update-check.json")
}

func TestLoadStateMissing(t *testing.T) {
	setStateHome(t)

	s, err := LoadState()
	if err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}

	if !s.LastCheckedAt.IsZero() || s.LatestVersion != "" {
		t.Errorf("LoadState() = %+v, want empty", s)
	}

	if !s.Due(time.Now()) {
		t.Error("empty state should be due")
	}
}

func TestStateRoundTrip(t *testing.T) {
	path := setStateHome(t)

	now := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	info := &Info{CurrentVersion: "1.0.0", LatestVersion: "1.1.0", ReleaseURL: "https://example.com/v1.1.0"}

	if err := NewState(info, now).Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// Overwrite to exercise replacing an existing file.
	info.LatestVersion = "1.2.0"
	if err := NewState(info, now).Save(); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("state file: %v", err)
	}

	got, err := LoadState()
	if err != nil {
		t.Fatal(err)
	}

	if !got.LastCheckedAt.Equal(now) || got.LatestVersion != "1.2.0" || got.ReleaseURL != info.ReleaseURL {
		t.Errorf("LoadState() = %+v", got)
	}

	if matches, _ := filepath.Glob(path + ".*.tmp"); len(matches) != 0 {
		t.Errorf("temp files left behind: %v", matches)
	}
}

func TestLoadStateCorrupt(t *testing.T) {
	path := setStateHome(t)

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	s, err := LoadState()
	if err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}

	if s.LatestVersion != "" {
		t.Errorf("corrupt state decoded as %+v", s)
	}
}

func TestStateDue(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		checked time.Time
		want    bool
	}{
		{"fresh", now.Add(-time.Hour), false},
		{"stale", now.Add(-CheckInterval - time.Minute), true},
		{"never", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &State{LastCheckedAt: tt.checked}
			if got := s.Due(now); got != tt.want {
				t.Errorf("Due() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStateHasUpdate(t *testing.T) {
	tests := []struct {
		latest, current string
		want            bool
	}{
		{"1.1.0", "1.0.0", true},
		{"1.0.0", "1.0.0", false},
		{"", "1.0.0", false},
		{"1.1.0", "", false},
		{"garbage", "1.0.0", false},
	}

	for _, tt := range tests {
		s := &State{LatestVersion: tt.latest}
		if got := s.HasUpdate(tt.current); got != tt.want {
			t.Errorf("HasUpdate(%q) with latest %q = %v, want %v", tt.current, tt.latest, got, tt.want)
		}
	}
}
