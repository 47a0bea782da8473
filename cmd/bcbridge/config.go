package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/musher-dev/bcbridge/internal/config"
	clierrors "github.com/musher-dev/bcbridge/internal/errors"
	"github.com/musher-dev/bcbridge/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `View and change bcbridge settings. Values come from built-in defaults, the
config file and BCBRIDGE_* environment variables, in rising priority.`,
	}

	cmd.AddCommand(newConfigListCmd(), newConfigGetCmd(), newConfigSetCmd(), newConfigPathCmd())

	return cmd
}

// configEntry is one key in structured config output.
type configEntry struct {
	Key    string        `json:"key" yaml:"key"`
	Value  any           `json:"value" yaml:"value"`
	Source config.Source `json:"source" yaml:"source"`
}

func entryFor(cfg *config.Config, key string) configEntry {
	return configEntry{Key: key, Value: cfg.Get(key), Source: cfg.Source(key)}
}

// knownKey rejects keys bcbridge does not read.
func knownKey(key string) error {
	if !config.IsKnown(key) {
		return clierrors.UnknownConfigKey(key)
	}

	return nil
}

func newConfigListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all configuration settings",
		Long: `Show every configuration key with its effective value and where that value
comes from: default, file or env.`,
		Example: `  bcbridge config list
  bcbridge config list --json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.FromContext(cmd.Context())
			cfg := config.Load()

			entries := make([]configEntry, 0, len(config.Keys))
			for _, key := range config.Keys {
				entries = append(entries, entryFor(cfg, key))
			}

			if out.Structured() {
				return out.PrintStructured(entries)
			}

			for _, e := range entries {
				out.Print("%-22s %-24v %s\n", e.Key, e.Value, e.Source)
			}

			return nil
		},
	}
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value",
		Long: `Show the effective value of one configuration key and what it controls.
Empty values print a note instead.`,
		Example: `  bcbridge config get interpreter.module
  bcbridge config get job.timeout --json`,
		Args: cobra.ExactArgs(1),
		ValidArgsFunction: func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
			return config.Keys, cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			key := args[0]

			if err := knownKey(key); err != nil {
				return err
			}

			entry := entryFor(config.Load(), key)

			if out.Structured() {
				return out.PrintStructured(entry)
			}

			if entry.Value == nil || entry.Value == "" {
				out.Muted("%s is not set (%s)", key, config.Help(key))
				return nil
			}

			out.Print("%s = %v\n", key, entry.Value)

			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Long: `Check a value against its key's type and write it to the config file.
Environment variables still take priority over the file.`,
		Example: `  bcbridge config set interpreter.module ~/modules/BcBridge/BcBridge.psd1
  bcbridge config set job.timeout 20m`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			key, value := args[0], args[1]

			if err := knownKey(key); err != nil {
				return err
			}

			cfg := config.Load()

			if err := cfg.Set(key, value); err != nil {
				if errors.Is(err, config.ErrInvalidValue) {
					return clierrors.InvalidConfigValue(key, err)
				}

				return clierrors.ConfigFailed("save config", err)
			}

			out.Success("Set %s = %s", key, value)

			if cfg.Source(key) == config.SourceEnv {
				out.Warning("%s is set and overrides the file", config.EnvName(key))
			}

			return nil
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "path",
		Short:   "Print the config file location",
		Long:    `Print the path of the config file that 'bcbridge config set' writes. The file may not exist yet.`,
		Example: `  bcbridge config path`,
		Args:    noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := config.Path()
			if err != nil {
				return clierrors.ConfigFailed("locate the config directory", err)
			}

			output.FromContext(cmd.Context()).Println(path)

			return nil
		},
	}
}
