package terminal

import "testing"

func TestInfoCapabilities(t *testing.T) {
	tests := []struct {
		name     string
		info     Info
		color    bool
		spinners bool
	}{
		{"full tty", Info{IsTTY: true, StderrIsTTY: true}, true, true},
		{"stdout piped", Info{StderrIsTTY: true}, false, true},
		{"stderr piped", Info{IsTTY: true}, true, false},
		{"no color env", Info{IsTTY: true, StderrIsTTY: true, NoColor: true}, false, false},
		{"no color flag", Info{IsTTY: true, StderrIsTTY: true, ForceFlag: true}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.info.ColorEnabled(); got != tt.color {
				t.Errorf("ColorEnabled() = %v, want %v", got, tt.color)
			}

			if got := tt.info.SpinnersEnabled(); got != tt.spinners {
				t.Errorf("SpinnersEnabled() = %v, want %v", got, tt.spinners)
			}
		})
	}
}

func TestDetect_NoColorEnv(t *testing.T) {
	t.Setenv("NO_COLOR", "1")

	if info := Detect(); !info.NoColor {
		t.Error("NO_COLOR not honoured")
	}
}

func TestDetect_DumbTerm(t *testing.T) {
	t.Setenv("TERM", "dumb")

	if info := Detect(); !info.NoColor || info.Width <= 0 {
		t.Errorf("Detect() = %+v", info)
	}
}
