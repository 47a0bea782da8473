// Package ansi strips terminal control sequences from interpreter output.
package ansi

import "strings"

const (
	esc = '\x1b'
	bel = '\x07'
)

// Strip removes terminal escape sequences from s.
//
// Recognized forms are CSI sequences (ESC '[' params final-letter), OSC
// sequences (ESC ']' ... BEL or ESC '\') and two-byte escapes. A stray ESC
// that starts no recognizable sequence is dropped on its own. All other bytes
// are preserved exactly, including invalid UTF-8.
func Strip(s string) string {
	if strings.IndexByte(s, esc) < 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); {
		c := s[i]
		if c != esc {
			b.WriteByte(c)
			i++

			continue
		}

		i += sequenceLen(s[i:])
	}

	return b.String()
}

// sequenceLen returns the number of bytes occupied by the escape sequence at
// the start of s. s[0] is always ESC.
func sequenceLen(s string) int {
	if len(s) < 2 {
		return 1
	}

	switch s[1] {
	case '[':
		for j := 2; j < len(s); j++ {
			if isLetter(s[j]) || s[j] == '~' || s[j] == '@' {
				return j + 1
			}

			if !isCSIBody(s[j]) {
				// Not a well-formed CSI; drop only the ESC.
				return 1
			}
		}

		return 1
	case ']':
		for j := 2; j < len(s); j++ {
			if s[j] == bel {
				return j + 1
			}

			if s[j] == esc && j+1 < len(s) && s[j+1] == '\\' {
				return j + 2
			}
		}

		return 1
	case '(', ')':
		if len(s) >= 3 {
			return 3
		}

		return 1
	default:
		if isLetter(s[1]) || s[1] == '=' || s[1] == '>' {
			return 2
		}

		return 1
	}
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// isCSIBody reports whether c can appear between "ESC[" and the final byte.
func isCSIBody(c byte) bool {
	return (c >= '0' && c <= '9') || c == ';' || c == '?' || c == ':' || c == '<' || c == '=' || c == '>' || c == ' ' || c == '!' || c == '"' || c == '\'' || c == '$' || c == '#'
}
