package main

import (
	"fmt"
	"strings"

	"github.com/musher-dev/bcbridge/internal/bridge"
	"github.com/musher-dev/bcbridge/internal/jobs"
	"github.com/musher-dev/bcbridge/internal/output"
)

// progressText formats a progress marker for the spinner line.
func progressText(title string, p bridge.Progress) string {
	parts := []string{title}

	if p.Activity != "" {
		parts = append(parts, p.Activity)
	}

	if p.Status != "" {
		parts = append(parts, p.Status)
	}

	line := strings.Join(parts, ": ")

	if p.PercentComplete > 0 {
		line += fmt.Sprintf(" (%.0f%%)", p.PercentComplete)
	}

	return line
}

func renderCompile(out *output.Writer, r *jobs.CompileResult) {
	out.Print("%s\n", r.AppFile)

	if r.AppName != "" {
		out.Print("  app:       %s\n", r.AppName)
	}

	if r.Publisher != "" {
		out.Print("  publisher: %s\n", r.Publisher)
	}

	if r.Version != "" {
		out.Print("  version:   %s\n", r.Version)
	}

	if len(r.Messages) == 0 {
		return
	}

	out.Println()

	for _, m := range r.Messages {
		out.Print("%s\n", compilerLine(m))
	}

	if n := r.Warnings(); n > 0 {
		out.Println()
		out.Warning("%d warning(s)", n)
	}
}

// compilerLine renders a message the way editors parse them:
// file(line,col): severity code: message.
func compilerLine(m jobs.CompilerMessage) string {
	var b strings.Builder

	if m.File != "" {
		b.WriteString(m.File)

		if m.Line > 0 {
			fmt.Fprintf(&b, "(%d,%d)", m.Line, m.Column)
		}

		b.WriteString(": ")
	}

	b.WriteString(strings.ToLower(m.Severity))

	if m.Code != "" {
		b.WriteString(" " + m.Code)
	}

	b.WriteString(": " + m.Message)

	return b.String()
}

func renderPublish(out *output.Writer, r *jobs.PublishResult) {
	out.Print("%s\n", r.AppName)

	rows := [][2]string{
		{"publisher", r.Publisher},
		{"version", r.Version},
		{"sync mode", r.SyncMode},
		{"container", r.Container},
	}

	for _, row := range rows {
		if row[1] != "" {
			out.Print("  %-10s %s\n", row[0]+":", row[1])
		}
	}
}

func renderContainerConfig(out *output.Writer, c *jobs.ContainerConfig) {
	port := ""
	if c.Port > 0 {
		port = fmt.Sprint(c.Port)
	}

	rows := [][2]string{
		{"container", c.ContainerName},
		{"server", c.Server},
		{"instance", c.ServerInstance},
		{"port", port},
		{"tenant", c.Tenant},
		{"auth", c.Authentication},
		{"version", c.Version},
	}

	for _, row := range rows {
		if row[1] != "" {
			out.Print("%-10s %s\n", row[0]+":", row[1])
		}
	}
}

func renderTests(out *output.Writer, r *jobs.TestResult) {
	s := r.Summary
	out.Print("%d tests: %d passed, %d failed, %d skipped\n", s.Total, s.Passed, s.Failed, s.Skipped)

	if len(r.Failures) == 0 {
		return
	}

	out.Println()

	for _, f := range r.Failures {
		name := f.Method
		if f.Name != "" {
			name = fmt.Sprintf("%s (%s)", f.Method, f.Name)
		}

		out.Print("%s %s %s\n", output.XMark, f.Codeunit, name)
		out.Print("    %s\n", firstLine(f.Error))

		if loc := f.Location; loc != nil {
			out.Print("    at %s\n", locationText(loc))
		}
	}
}

func locationText(loc *jobs.Location) string {
	frame := fmt.Sprintf("%s(%d).%s line %d", loc.Object, loc.ID, loc.Method, loc.Line)
	if loc.File == "" {
		return frame
	}

	return fmt.Sprintf("%s [%s]", loc.File, frame)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		return s[:i]
	}

	return s
}
