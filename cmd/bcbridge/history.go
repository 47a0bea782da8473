package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/musher-dev/bcbridge/internal/ansi"
	"github.com/musher-dev/bcbridge/internal/bridge"
	"github.com/musher-dev/bcbridge/internal/config"
	"github.com/musher-dev/bcbridge/internal/diagnostics"
	clierrors "github.com/musher-dev/bcbridge/internal/errors"
	"github.com/musher-dev/bcbridge/internal/output"
	"github.com/musher-dev/bcbridge/internal/prompt"
)

// followInterval is how often `history view --follow` polls a running job.
const followInterval = time.Second

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect captured interpreter output",
		Long:  `List, view and prune the raw interpreter output captured for each job.`,
	}

	cmd.AddCommand(newHistoryListCmd())
	cmd.AddCommand(newHistoryViewCmd())
	cmd.AddCommand(newHistoryPruneCmd())

	return cmd
}

func historySink(cfg *config.Config) (*diagnostics.Sink, error) {
	dir, err := cfg.HistoryDir()
	if err != nil {
		return nil, clierrors.ConfigFailed("resolve history directory", err)
	}

	return &diagnostics.Sink{Dir: dir, MaxLines: cfg.HistoryLines()}, nil
}

func newHistoryListCmd() *cobra.Command {
	var operation string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded jobs",
		Long:  `List recorded jobs, newest first, with their operation, target and outcome.`,
		Example: `  bcbridge history list
  bcbridge history list --operation test-run
  bcbridge history list --json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			var filter bridge.Operation

			if operation != "" {
				op, err := bridge.ParseOperation(operation)
				if err != nil {
					return clierrors.InvalidOperation(operation, operationNames())
				}

				filter = op
			}

			sink, err := historySink(config.Load())
			if err != nil {
				return err
			}

			entries, err := sink.List()
			if err != nil {
				return err
			}

			if filter != "" {
				entries = slices.DeleteFunc(entries, func(e diagnostics.Entry) bool {
					return e.Operation != string(filter)
				})
			}

			if out.Structured() {
				metas := make([]diagnostics.Meta, 0, len(entries))
				for _, e := range entries {
					metas = append(metas, e.Meta)
				}

				return out.PrintStructured(metas)
			}

			if len(entries) == 0 {
				out.Muted("No jobs recorded.")
				return nil
			}

			for _, e := range entries {
				outcome := e.Outcome
				if outcome == "" {
					outcome = "running"
				}

				target := e.Target
				if target == "" {
					target = "-"
				}

				out.Print("%s  %-14s %-12s %-10s %s\n", e.JobID, e.Operation, target, outcome, e.StartedAt.Local().Format(time.RFC3339))
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&operation, "operation", "", "Only list jobs of this operation (example: test-run)")

	return cmd
}

func operationNames() []string {
	ops := bridge.Operations()
	names := make([]string, 0, len(ops))

	for _, op := range ops {
		names = append(names, string(op))
	}

	return names
}

func newHistoryViewCmd() *cobra.Command {
	var (
		search string
		follow bool
		raw    bool
	)

	cmd := &cobra.Command{
		Use:   "view <job-id>",
		Short: "View the output captured for a job",
		Long: `Print the stdout and stderr captured for a job. A unique prefix of the
job id is enough. With --follow, output of a running job is streamed until it finishes.`,
		Example: `  bcbridge history view 3f2a
  bcbridge history view 3f2a --search error
  bcbridge history view 3f2a --follow`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			sink, err := historySink(config.Load())
			if err != nil {
				return err
			}

			entry, err := sink.Find(args[0])
			if errors.Is(err, diagnostics.ErrJobNotFound) {
				return clierrors.JobNotFound(args[0])
			}

			if errors.Is(err, diagnostics.ErrAmbiguousID) {
				return clierrors.New(clierrors.ExitUsage, err.Error()).WithHint("Use a longer job id prefix")
			}

			if err != nil {
				return err
			}

			printer := &eventPrinter{out: out, search: strings.ToLower(search), raw: raw}

			if !follow || entry.Finished() {
				events, err := sink.ReadEvents(entry.JobID)
				if err != nil {
					return err
				}

				printer.print(events)

				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return sink.Follow(ctx, entry.JobID, followInterval, printer.print)
		},
	}

	cmd.Flags().StringVar(&search, "search", "", "Filter output to lines containing this substring")
	cmd.Flags().BoolVar(&follow, "follow", false, "Follow a running job until it finishes")
	cmd.Flags().BoolVar(&raw, "raw", false, "Show raw output including ANSI escape sequences")

	return cmd
}

// eventPrinter writes captured chunks line by line.
type eventPrinter struct {
	out    *output.Writer
	search string
	raw    bool
}

func (p *eventPrinter) print(events []diagnostics.Event) {
	for _, ev := range events {
		text := ev.Text
		if !p.raw {
			text = ansi.Strip(text)
		}

		for _, line := range strings.Split(strings.TrimRight(text, "\r\n"), "\n") {
			if p.search != "" && !strings.Contains(strings.ToLower(line), p.search) {
				continue
			}

			if ev.Stream == "stderr" {
				p.out.Print("[stderr] %s\n", strings.TrimRight(line, "\r"))
				continue
			}

			p.out.Print("%s\n", strings.TrimRight(line, "\r"))
		}
	}
}

func newHistoryPruneCmd() *cobra.Command {
	var (
		olderThan string
		yes       bool
	)

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete recorded jobs older than a duration",
		Long: `Delete captured job output older than the retention window (history.retention, default 720h).
On a terminal the deletion is confirmed first; pass --yes to skip the question.`,
		Example: `  bcbridge history prune
  bcbridge history prune --older-than 168h --yes`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			cfg := config.Load()

			window := cfg.HistoryRetention()
			if olderThan != "" {
				d, err := time.ParseDuration(olderThan)
				if err != nil {
					return clierrors.Wrap(clierrors.ExitUsage, fmt.Sprintf("Invalid duration for --older-than: %s", olderThan), err)
				}

				window = d
			}

			if p := prompt.New(out); !yes && p.CanPrompt() {
				ok, err := p.Confirm(fmt.Sprintf("Delete jobs older than %s?", window), false)
				if err != nil {
					return clierrors.Wrap(clierrors.ExitGeneral, "Cannot read confirmation", err)
				}

				if !ok {
					out.Info("Nothing removed")
					return nil
				}
			}

			sink, err := historySink(cfg)
			if err != nil {
				return err
			}

			removed, err := sink.PruneOlderThan(time.Now().Add(-window))
			if err != nil {
				return err
			}

			out.Success("Removed %d job(s)", removed)

			return nil
		},
	}

	cmd.Flags().StringVar(&olderThan, "older-than", "", "Override retention window (example: 168h)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Delete without asking for confirmation")

	return cmd
}
