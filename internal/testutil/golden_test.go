package testutil

import (
	"os"
	"testing"
)

type recorder struct {
	testing.TB

	failed bool
}

func (r *recorder) Helper()             {}
func (r *recorder) Errorf(string, ...any) { r.failed = true }
func (r *recorder) Fatalf(string, ...any) { r.failed = true }
func (r *recorder) Logf(string, ...any)   {}

func TestAssertGolden(t *testing.T) {
	t.Chdir(t.TempDir())

	if err := os.MkdirAll("testdata", 0o755); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile("testdata/test.golden", []byte("expected output\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		got        string
		file       string
		wantFailed bool
	}{
		{"matching content passes", "expected output\n", "test.golden", false},
		{"different content fails", "other\n", "test.golden", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &recorder{TB: t}
			AssertGolden(r, tt.got, tt.file)

			if r.failed != tt.wantFailed {
				t.Errorf("failed = %v, want %v", r.failed, tt.wantFailed)
			}
		})
	}
}

func TestAssertGoldenJSON(t *testing.T) {
	t.Chdir(t.TempDir())

	if err := os.MkdirAll("testdata", 0o755); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile("testdata/v.json", []byte("{\n  \"a\": 1\n}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := &recorder{TB: t}
	AssertGoldenJSON(r, map[string]int{"a": 1}, "v.json")

	if r.failed {
		t.Error("AssertGoldenJSON failed on matching value")
	}
}

func TestScrub(t *testing.T) {
	got := Scrub("/tmp/x/app.json and /tmp/x", map[string]string{"/tmp/x": "<ws>", "": "never"})
	if got != "<ws>/app.json and <ws>" {
		t.Errorf("Scrub() = %q", got)
	}
}
