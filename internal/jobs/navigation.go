package jobs

import (
	"bufio"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	gitignore "github.com/sabhiram/go-gitignore"
)

// Location points a failure at source.
type Location struct {
	Object string `json:"object" yaml:"object"`
	ID     int    `json:"id" yaml:"id"`
	Method string `json:"method" yaml:"method"`
	Line   int    `json:"line" yaml:"line"`

	// File is the workspace file declaring the codeunit; empty when unknown.
	File string `json:"file,omitempty" yaml:"file,omitempty"`
}

// traceFrame matches `<name>(<id>).<method> line <n>`. The id may carry an
// object type prefix ("CodeUnit 50100") and names may be quoted.
var traceFrame = regexp.MustCompile(`"?([^"()\r\n]*?)"?\((?:[A-Za-z]+\s+)?(\d+)\)\."?([^"\r\n]+?)"?\s+line\s+(\d+)`)

// codeunitDecl matches an AL codeunit declaration.
var codeunitDecl = regexp.MustCompile(`(?i)^\s*codeunit\s+(\d+)\b`)

// skippedDirs are never scanned for sources.
var skippedDirs = map[string]bool{
	".git":         true,
	".alpackages":  true,
	".alcache":     true,
	".snapshots":   true,
	"node_modules": true,
}

// Navigator maps stack-trace frames to workspace files. The workspace index
// is built on first use.
type Navigator struct {
	root string

	once  sync.Once
	index map[int]string
}

// NewNavigator returns a navigator over root. An empty root disables file
// resolution; frames still parse.
func NewNavigator(root string) *Navigator {
	return &Navigator{root: root}
}

// Locate parses trace and returns the first frame whose codeunit is declared
// in the workspace, else the first frame. It returns nil when nothing matches.
func (n *Navigator) Locate(trace string) *Location {
	matches := traceFrame.FindAllStringSubmatch(trace, -1)
	if len(matches) == 0 {
		return nil
	}

	var first *Location

	for _, m := range matches {
		id, _ := strconv.Atoi(m[2])
		line, _ := strconv.Atoi(m[4])

		loc := &Location{
			Object: strings.TrimSpace(m[1]),
			ID:     id,
			Method: strings.TrimSpace(m[3]),
			Line:   line,
		}

		if file := n.fileFor(id); file != "" {
			loc.File = file
			return loc
		}

		if first == nil {
			first = loc
		}
	}

	return first
}

func (n *Navigator) fileFor(id int) string {
	if n == nil || n.root == "" {
		return ""
	}

	n.once.Do(n.build)

	return n.index[id]
}

func (n *Navigator) build() {
	n.index = map[int]string{}

	ignore := loadIgnore(n.root)

	_ = filepath.WalkDir(n.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // unreadable entries are skipped
		}

		rel, relErr := filepath.Rel(n.root, path)
		if relErr != nil || rel == "." {
			return nil //nolint:nilerr // root itself
		}

		if d.IsDir() {
			if skippedDirs[d.Name()] || (ignore != nil && ignore.MatchesPath(filepath.ToSlash(rel)+"/")) {
				return filepath.SkipDir
			}

			return nil
		}

		if !strings.EqualFold(filepath.Ext(path), ".al") {
			return nil
		}

		if ignore != nil && ignore.MatchesPath(filepath.ToSlash(rel)) {
			return nil
		}

		if id, ok := declaredCodeunit(path); ok {
			if _, dup := n.index[id]; !dup {
				n.index[id] = path
			}
		}

		return nil
	})
}

func loadIgnore(root string) *gitignore.GitIgnore {
	path := filepath.Join(root, ".gitignore")
	if _, err := os.Stat(path); err != nil {
		return nil
	}

	ignore, err := gitignore.CompileIgnoreFile(path)
	if err != nil {
		return nil
	}

	return ignore
}

// declaredCodeunit returns the id of the codeunit declared in path.
func declaredCodeunit(path string) (int, bool) {
	f, err := os.Open(path) //nolint:gosec // G304: path from workspace walk
	if err != nil {
		return 0, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if m := codeunitDecl.FindStringSubmatch(scanner.Text()); m != nil {
			id, convErr := strconv.Atoi(m[1])
			return id, convErr == nil
		}
	}

	return 0, false
}
