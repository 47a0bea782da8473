package main

import (
	"github.com/spf13/cobra"

	"github.com/musher-dev/bcbridge/internal/config"
	"github.com/musher-dev/bcbridge/internal/doctor"
	"github.com/musher-dev/bcbridge/internal/output"
)

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the interpreter, module and targets",
		Long: `Check everything a job depends on: the interpreter and its version, the
interpreter module, the result directory, the targets file, where the selected
target's container login comes from, and the job history store.

Failed checks are reported but do not change the exit code.`,
		Example: `  bcbridge doctor
  bcbridge doctor --target staging
  bcbridge doctor --json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.FromContext(cmd.Context())
			cfg := config.Load()

			s, err := resolveScope(cmd, cfg)
			if err != nil {
				return err
			}

			runner := doctor.New(&doctor.Env{
				Config:      cfg,
				TargetsFile: s.targetsFile,
				Target:      s.target,
				LookPath:    lookPath,
			})

			report := doctor.NewReport(runner.Run(cmd.Context()))

			if out.Structured() {
				return out.PrintStructured(report)
			}

			renderDoctor(out, report)

			return nil
		},
	}
}

func renderDoctor(out *output.Writer, report doctor.Report) {
	out.Print("bcbridge doctor\n===============\n\n")

	width := 0
	for _, r := range report.Checks {
		width = max(width, len(r.Name))
	}

	for _, r := range report.Checks {
		line := []any{width + 4, r.Name, r.Message}

		switch r.Status {
		case doctor.StatusPass:
			out.Success("%-*s%s", line...)
		case doctor.StatusWarn:
			out.Warning("%-*s%s", line...)
		default:
			out.Failure("%-*s%s", line...)
		}

		if r.Detail != "" {
			out.Muted("    %s", r.Detail)
		}
	}

	tally := report.Summary

	out.Print("\n%d passed", tally.Passed)

	if tally.Failed > 0 {
		out.Print(", %d failed", tally.Failed)
	}

	if tally.Warnings > 0 {
		out.Print(", %d warning(s)", tally.Warnings)
	}

	out.Println()
}
