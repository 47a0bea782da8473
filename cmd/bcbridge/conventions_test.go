package main

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"testing"
	"unicode"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// collectAllCommands returns every command in the tree (including root).
func collectAllCommands(root *cobra.Command) []*cobra.Command {
	all := []*cobra.Command{root}

	for _, child := range root.Commands() {
		all = append(all, collectAllCommands(child)...)
	}

	return all
}

const maxShortLen = 60

var kebabFlag = regexp.MustCompile(`^[a-z][a-z0-9]*(-[a-z0-9]+)*$`)

// commandRules are help-text and wiring rules every command follows. Each
// check returns a problem description, or "" when the command complies.
var commandRules = []struct {
	name  string
	check func(cmd *cobra.Command) string
}{
	{"runnable commands have an Example", func(cmd *cobra.Command) string {
		if cmd.Runnable() && strings.TrimSpace(cmd.Example) == "" {
			return "missing Example"
		}

		return ""
	}},
	{"examples are indented invocations", func(cmd *cobra.Command) string {
		for line := range strings.SplitSeq(cmd.Example, "\n") {
			if line != "" && !strings.HasPrefix(line, "  bcbridge ") {
				return fmt.Sprintf("example line %q does not start with '  bcbridge '", line)
			}
		}

		return ""
	}},
	{"runnable commands have a Long description", func(cmd *cobra.Command) string {
		if cmd.Runnable() && strings.TrimSpace(cmd.Long) == "" {
			return "missing Long"
		}

		return ""
	}},
	{"Long holds no examples", func(cmd *cobra.Command) string {
		if strings.Contains(cmd.Long, "Example:") || strings.Contains(cmd.Long, "```") {
			return "move examples from Long to Example"
		}

		return ""
	}},
	{"Short is concise", func(cmd *cobra.Command) string {
		if len(cmd.Short) > maxShortLen {
			return fmt.Sprintf("Short is %d chars (max %d)", len(cmd.Short), maxShortLen)
		}

		return ""
	}},
	{"Short is a capitalized phrase", func(cmd *cobra.Command) string {
		if cmd.Short == "" {
			return ""
		}

		if !unicode.IsUpper([]rune(cmd.Short)[0]) || strings.HasSuffix(cmd.Short, ".") {
			return fmt.Sprintf("Short %q should start uppercase and not end with a period", cmd.Short)
		}

		return ""
	}},
	{"runnable commands validate args", func(cmd *cobra.Command) string {
		if cmd.Runnable() && cmd.Args == nil {
			return "missing Args validator (use noArgs)"
		}

		return ""
	}},
	{"flag names are kebab-case", func(cmd *cobra.Command) string {
		var bad []string

		cmd.Flags().VisitAll(func(f *pflag.Flag) {
			if !kebabFlag.MatchString(f.Name) {
				bad = append(bad, "--"+f.Name)
			}
		})

		if len(bad) > 0 {
			return "flags not kebab-case: " + strings.Join(bad, ", ")
		}

		return ""
	}},
	{"short flags are unique", func(cmd *cobra.Command) string {
		seen := map[string]string{}

		var collisions []string

		check := func(f *pflag.Flag) {
			if f.Shorthand == "" {
				return
			}

			if other, ok := seen[f.Shorthand]; ok && other != f.Name {
				collisions = append(collisions, fmt.Sprintf("-%s (--%s, --%s)", f.Shorthand, other, f.Name))
			}

			seen[f.Shorthand] = f.Name
		}

		cmd.InheritedFlags().VisitAll(check)
		cmd.LocalFlags().VisitAll(check)

		return strings.Join(collisions, ", ")
	}},
}

func TestCommandConventions(t *testing.T) {
	commands := collectAllCommands(newRootCmd())

	for _, rule := range commandRules {
		t.Run(rule.name, func(t *testing.T) {
			for _, cmd := range commands {
				if problem := rule.check(cmd); problem != "" {
					t.Errorf("%s: %s", cmd.CommandPath(), problem)
				}
			}
		})
	}
}

// TestJobCommandsAreAnnotated keeps every interpreter-backed command on the
// spinner and interactive-logging path.
func TestJobCommandsAreAnnotated(t *testing.T) {
	jobCommands := []string{
		"bcbridge compile",
		"bcbridge container config",
		"bcbridge publish",
		"bcbridge test execute",
		"bcbridge test results",
		"bcbridge test run",
	}

	for _, cmd := range collectAllCommands(newRootCmd()) {
		path := cmd.CommandPath()
		if want := slices.Contains(jobCommands, path); isJobCommand(cmd) != want {
			t.Errorf("isJobCommand(%s) = %v, want %v", path, !want, want)
		}
	}
}

// TestDataCommandsDeclareStructuredOutput makes every data-reading command
// decide whether it honors --json and --yaml. Job commands always do.
func TestDataCommandsDeclareStructuredOutput(t *testing.T) {
	structured := map[string]bool{
		"bcbridge config get":   true,
		"bcbridge config list":  true,
		"bcbridge history list": true,
		"bcbridge doctor":       true,
		"bcbridge version":      true,

		// Plain text only.
		"bcbridge history view": false,
	}

	dataVerbs := []string{"list", "info", "status", "view", "get"}

	for _, cmd := range collectAllCommands(newRootCmd()) {
		if !cmd.Runnable() || !slices.Contains(dataVerbs, cmd.Name()) {
			continue
		}

		if _, ok := structured[cmd.CommandPath()]; !ok {
			t.Errorf("%s reads data but is not listed in TestDataCommandsDeclareStructuredOutput", cmd.CommandPath())
		}
	}
}
