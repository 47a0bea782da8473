package bridge

import (
	"encoding/json"
	"strings"

	"github.com/musher-dev/bcbridge/internal/ansi"
)

// Progress is an advisory status update emitted inline on stdout as
// ##PROGRESS##{json}##. It never affects the job result.
type Progress struct {
	Activity        string  `json:"activity"`
	Status          string  `json:"status"`
	PercentComplete float64 `json:"percentComplete"`
}

const (
	progressOpen  = "##PROGRESS##"
	progressClose = "##"

	// resultDiscriminator is the first key of every result document.
	resultDiscriminator = `"success"`
)

// diagnosticPrefixes mark lines written by the interpreter's warning,
// verbose, debug and information streams.
var diagnosticPrefixes = []string{"WARNING:", "VERBOSE:", "DEBUG:", "INFORMATION:"}

// Demuxed is the structured view of one interpreter output stream.
type Demuxed struct {
	// Text is the output with escapes, diagnostic lines and progress markers removed.
	Text string

	// Progress holds the markers found, in order.
	Progress []Progress

	// Result is the last complete result object, or nil.
	Result []byte
}

// Demux separates the result object from incidental output. onProgress, when
// set, is called for each well-formed progress marker.
func Demux(raw string, onProgress func(Progress)) *Demuxed {
	cleaned := dropDiagnosticLines(ansi.Strip(raw))

	d := &Demuxed{}
	d.Text = ExtractProgress(cleaned, func(p Progress) {
		d.Progress = append(d.Progress, p)

		if onProgress != nil {
			onProgress(p)
		}
	})

	if obj, ok := ExtractResultObject(d.Text); ok {
		d.Result = []byte(obj)
	}

	return d
}

func dropDiagnosticLines(s string) string {
	lines := strings.SplitAfter(s, "\n")
	kept := lines[:0]

	for _, line := range lines {
		if isDiagnosticLine(line) {
			continue
		}

		kept = append(kept, line)
	}

	return strings.Join(kept, "")
}

func isDiagnosticLine(line string) bool {
	trimmed := strings.TrimLeft(line, " \t")
	for _, prefix := range diagnosticPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}

	return false
}

// ExtractProgress removes every ##PROGRESS##{json}## marker from s and calls
// fn for those whose JSON decodes. Malformed markers are dropped silently.
func ExtractProgress(s string, fn func(Progress)) string {
	if !strings.Contains(s, progressOpen) {
		return s
	}

	var b strings.Builder

	rest := s
	for {
		start := strings.Index(rest, progressOpen)
		if start < 0 {
			b.WriteString(rest)
			break
		}

		b.WriteString(rest[:start])
		body := rest[start+len(progressOpen):]

		end, ok := matchObject(body, 0)
		if !ok || !strings.HasPrefix(body[end:], progressClose) {
			// Not a marker we understand; keep the text and move past it.
			b.WriteString(progressOpen)
			rest = body

			continue
		}

		var p Progress
		if err := json.Unmarshal([]byte(body[:end]), &p); err == nil && fn != nil {
			fn(p)
		}

		rest = body[end+len(progressClose):]
	}

	return b.String()
}

// ExtractResultObject returns the last top-level object in s whose first key
// is "success". Braces inside quoted strings are ignored while matching.
func ExtractResultObject(s string) (string, bool) {
	var (
		found string
		ok    bool
	)

	for i := 0; i < len(s); i++ {
		if s[i] != '{' || !hasDiscriminator(s[i+1:]) {
			continue
		}

		end, matched := matchObject(s, i)
		if !matched {
			continue
		}

		found, ok = s[i:end], true
		// Skip past this object so nested candidates are not mistaken for
		// later top-level ones.
		i = end - 1
	}

	return found, ok
}

func hasDiscriminator(s string) bool {
	return strings.HasPrefix(strings.TrimLeft(s, " \t\r\n"), resultDiscriminator)
}

// matchObject returns the index just past the '}' that closes the object
// starting at s[start]. It tracks quoted strings and backslash escapes.
func matchObject(s string, start int) (int, bool) {
	if start >= len(s) || s[start] != '{' {
		return 0, false
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}

			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}

	return 0, false
}
