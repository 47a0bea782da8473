package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/musher-dev/bcbridge/internal/buildinfo"
	clierrors "github.com/musher-dev/bcbridge/internal/errors"
	"github.com/musher-dev/bcbridge/internal/output"
)

// VersionInfo is the structured form of `bcbridge version`.
type VersionInfo struct {
	Version string `json:"version" yaml:"version"`
	Commit  string `json:"commit" yaml:"commit"`
	Date    string `json:"date" yaml:"date"`
}

// noArgs rejects positional arguments with a usage error. cobra.NoArgs
// reports them as an unknown command instead.
func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return nil
	}

	return &clierrors.CLIError{
		Message: fmt.Sprintf("'%s' accepts no arguments", cmd.CommandPath()),
		Hint:    fmt.Sprintf("Run '%s --help' for usage", cmd.CommandPath()),
		Code:    clierrors.ExitUsage,
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Show version information",
		Long:    `Print the bcbridge version, the commit it was built from and the build date.`,
		Example: `  bcbridge version
  bcbridge version --json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.FromContext(cmd.Context())
			info := VersionInfo{Version: buildinfo.Version, Commit: buildinfo.Commit, Date: date}

			if out.Structured() {
				return out.PrintStructured(info)
			}

			out.Print("bcbridge %s\n  commit: %s\n  built:  %s\n", info.Version, info.Commit, info.Date)

			return nil
		},
	}
}

var completionShells = []string{"bash", "zsh", "fish", "powershell"}

func newCompletionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "completion <bash|zsh|fish|powershell>",
		Short: "Generate shell completion scripts",
		Long: `Write a completion script for the given shell to stdout. Source it from
your shell profile to complete commands, flags and target names.`,
		Example: `  bcbridge completion bash > /etc/bash_completion.d/bcbridge
  bcbridge completion zsh > "${fpath[1]}/_bcbridge"
  bcbridge completion powershell | Out-String | Invoke-Expression`,
		ValidArgs: completionShells,
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, root := cmd.OutOrStdout(), cmd.Root()

			switch args[0] {
			case "bash":
				return root.GenBashCompletionV2(w, true)
			case "zsh":
				return root.GenZshCompletion(w)
			case "fish":
				return root.GenFishCompletion(w, true)
			default:
				return root.GenPowerShellCompletionWithDesc(w)
			}
		},
	}
}
