package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/musher-dev/bcbridge/internal/terminal"
	"github.com/musher-dev/bcbridge/internal/testutil"
)

// testTerminal returns a terminal.Info for testing (non-TTY, no color).
func testTerminal() *terminal.Info {
	return &terminal.Info{
		IsTTY:   false,
		NoColor: true,
		Width:   80,
		Height:  24,
	}
}

func newTestWriter() (w *Writer, out, errOut *bytes.Buffer) {
	out, errOut = &bytes.Buffer{}, &bytes.Buffer{}

	return NewWriter(out, errOut, testTerminal()), out, errOut
}

func TestWriter_Print(t *testing.T) {
	tests := []struct {
		name   string
		quiet  bool
		format string
		args   []interface{}
		want   string
	}{
		{"normal output", false, "Hello, %s!", []interface{}{"world"}, "Hello, world!"},
		{"quiet mode suppresses output", true, "Hello, %s!", []interface{}{"world"}, ""},
		{"no args", false, "Simple message", nil, "Simple message"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, out, _ := newTestWriter()
			w.Quiet = tt.quiet

			w.Print(tt.format, tt.args...)

			if got := out.String(); got != tt.want {
				t.Errorf("Print() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWriter_StatusGoesToStderr(t *testing.T) {
	w, out, errOut := newTestWriter()

	w.Success("compiled")
	w.Warning("2 warnings")
	w.Info("target docker")
	w.Failure("boom")

	if out.Len() != 0 {
		t.Errorf("status lines reached stdout: %q", out.String())
	}

	for _, want := range []string{CheckMark + " compiled", WarningMark + " 2 warnings", InfoMark + " target docker", XMark + " boom"} {
		if !strings.Contains(errOut.String(), want) {
			t.Errorf("stderr missing %q: %q", want, errOut.String())
		}
	}
}

func TestWriter_QuietKeepsFailures(t *testing.T) {
	w, _, errOut := newTestWriter()
	w.Quiet = true

	w.Success("hidden")
	w.Failure("shown")

	if got := errOut.String(); strings.Contains(got, "hidden") || !strings.Contains(got, "shown") {
		t.Errorf("stderr = %q", got)
	}
}

func TestWriter_Progress(t *testing.T) {
	tests := []struct {
		name   string
		format Format
		quiet  bool
		width  int
		line   string
		want   string
	}{
		{"plain", FormatText, false, 80, "Compiling app", "Compiling app\n"},
		{"truncated", FormatText, false, 10, "Publishing app to container", "Publishin…\n"},
		{"quiet", FormatText, true, 80, "x", ""},
		{"json mode", FormatJSON, false, 80, "x", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errOut := &bytes.Buffer{}
			term := testTerminal()
			term.Width = tt.width

			w := NewWriter(&bytes.Buffer{}, errOut, term)
			w.Format = tt.format
			w.Quiet = tt.quiet

			w.Progress(tt.line)

			if got := errOut.String(); got != tt.want {
				t.Errorf("Progress() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWriter_PrintStructured(t *testing.T) {
	type result struct {
		AppFile  string   `json:"appFile"`
		Warnings int      `json:"warnings"`
		Messages []string `json:"messages,omitempty"`
	}

	v := result{AppFile: "/out/App.app", Warnings: 1, Messages: []string{"AL0432 obsolete"}}

	tests := []struct {
		format Format
		golden string
	}{
		{FormatJSON, "structured.json.golden"},
		{FormatYAML, "structured.yaml.golden"},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			w, out, _ := newTestWriter()
			w.Format = tt.format

			if !w.Structured() {
				t.Fatal("Structured() = false")
			}

			if err := w.PrintStructured(v); err != nil {
				t.Fatalf("PrintStructured() error = %v", err)
			}

			testutil.AssertGolden(t, out.String(), tt.golden)
		})
	}
}

func TestWriter_Context(t *testing.T) {
	w, _, _ := newTestWriter()
	ctx := w.WithContext(t.Context())

	if got := FromContext(ctx); got != w {
		t.Error("FromContext() did not return the stored writer")
	}
}

func TestWriter_MutedGoesToStdout(t *testing.T) {
	w, out, errOut := newTestWriter()

	w.Muted("Journal: %s", "1f0c")

	if out.String() != "Journal: 1f0c\n" || errOut.Len() != 0 {
		t.Errorf("stdout = %q, stderr = %q", out.String(), errOut.String())
	}

	w.Quiet = true
	w.Muted("dropped")

	if out.String() != "Journal: 1f0c\n" {
		t.Errorf("quiet Muted() wrote %q", out.String())
	}
}

func TestSpinner_StopWithEmptyMessage(t *testing.T) {
	w, _, errOut := newTestWriter()
	w.Quiet = true

	s := w.Spinner("Publishing")
	s.Start()
	s.StopWithSuccess("")
	s.StopWithFailure("publish failed")

	if got, want := errOut.String(), XMark+" publish failed\n"; got != want {
		t.Errorf("stderr = %q, want %q", got, want)
	}
}

func TestSpinner_Disabled(t *testing.T) {
	w, out, errOut := newTestWriter()

	s := w.Spinner("Compiling")
	s.Start()
	s.UpdateMessage("Downloading symbols")
	s.UpdateMessage("Downloading symbols")
	s.StopWithSuccess("Compiled")

	if out.Len() != 0 {
		t.Errorf("spinner wrote to stdout: %q", out.String())
	}

	want := "Compiling...\nDownloading symbols\n" + CheckMark + " Compiled\n"
	if got := errOut.String(); got != want {
		t.Errorf("stderr = %q, want %q", got, want)
	}
}

func TestSpinner_SilentInStructuredMode(t *testing.T) {
	w, _, errOut := newTestWriter()
	w.Format = FormatJSON

	s := w.Spinner("Compiling")
	s.Start()
	s.UpdateMessage("step")
	s.Stop()

	if errOut.Len() != 0 {
		t.Errorf("stderr = %q, want empty", errOut.String())
	}
}

func TestStatusMessages_Golden(t *testing.T) {
	var buf bytes.Buffer

	w := NewWriter(&buf, &buf, testTerminal())

	w.Success("Compiled App.app")
	w.Warning("2 compiler warnings")
	w.Info("Target: docker")
	w.Muted("Journal: 1f0c")

	testutil.AssertGolden(t, buf.String(), "status_messages.golden")
}
