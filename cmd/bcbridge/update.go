package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	selfupdate "github.com/creativeprojects/go-selfupdate"
	"github.com/spf13/cobra"

	"github.com/musher-dev/bcbridge/internal/buildinfo"
	clierrors "github.com/musher-dev/bcbridge/internal/errors"
	"github.com/musher-dev/bcbridge/internal/observability"
	"github.com/musher-dev/bcbridge/internal/output"
	"github.com/musher-dev/bcbridge/internal/update"
)

const releasesURL = "https://github.com/" + update.Repository + "/releases"

// newUpdater is swapped in tests.
var newUpdater = func() (*update.Updater, error) {
	return update.New(update.Options{})
}

func newUpdateCmd() *cobra.Command {
	var (
		targetVersion string
		force         bool
	)

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update bcbridge to the latest release",
		Long: `Download the latest bcbridge release from GitHub, verify its checksum and
replace the running binary. sudo is requested when the binary is not writable.
Set BCBRIDGE_UPDATE_DISABLED=1 to turn off updates and update notices.`,
		Example: `  bcbridge update
  bcbridge update --version 1.4.0
  bcbridge update --json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(cmd.Context(), output.FromContext(cmd.Context()), targetVersion, force)
		},
	}

	cmd.Flags().StringVar(&targetVersion, "version", "", "Install this release instead of the latest (example: 1.4.0)")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Reinstall even when already up to date")

	return cmd
}

func runUpdate(ctx context.Context, out *output.Writer, targetVersion string, force bool) error {
	if update.Disabled() {
		out.Warning("Updates are disabled (%s is set)", update.DisabledEnv)
		return nil
	}

	current := buildinfo.Version

	if current == "dev" && targetVersion == "" {
		out.Warning("Development build, the installed version is unknown")
		out.Info("Install a release build from %s", releasesURL)

		return nil
	}

	updater, err := newUpdater()
	if err != nil {
		return clierrors.Wrap(clierrors.ExitGeneral, "Cannot initialize the updater", err)
	}

	if targetVersion != "" {
		return installVersion(ctx, out, updater, targetVersion)
	}

	spin := out.Spinner("Checking for updates")
	spin.Start()

	info, err := updater.Check(ctx, current)
	if err != nil {
		spin.StopWithFailure("Update check failed")

		cliErr := clierrors.Wrap(clierrors.ExitGeneral, "Cannot reach GitHub Releases", err)
		if strings.Contains(err.Error(), "403") {
			cliErr = cliErr.WithHint("Set GITHUB_TOKEN to avoid rate limits")
		}

		return cliErr
	}

	_ = update.NewState(info, time.Now()).Save()

	if out.Structured() {
		spin.Stop()
		return out.PrintStructured(info)
	}

	if !info.UpdateAvailable && !force {
		spin.StopWithSuccess(fmt.Sprintf("Already up to date (v%s)", current))
		return nil
	}

	if !info.Installable() {
		spin.StopWithFailure("No release found for this platform")
		return clierrors.New(clierrors.ExitGeneral, "No release found for this platform").WithHint("Download a build from " + releasesURL)
	}

	if info.UpdateAvailable {
		spin.StopWithSuccess(fmt.Sprintf("Update available: v%s → v%s", current, info.LatestVersion))
	} else {
		spin.StopWithSuccess(fmt.Sprintf("Reinstalling v%s", info.LatestVersion))
	}

	if err := elevateIfNeeded(); err != nil {
		return err
	}

	spin = out.Spinner(fmt.Sprintf("Installing v%s", info.LatestVersion))
	spin.Start()

	if err := updater.Install(ctx, info); err != nil {
		spin.StopWithFailure("Update failed")
		return clierrors.Wrap(clierrors.ExitGeneral, fmt.Sprintf("Cannot install v%s", info.LatestVersion), err)
	}

	spin.StopWithSuccess(fmt.Sprintf("Updated to v%s", info.LatestVersion))

	if info.ReleaseURL != "" {
		out.Muted("Release notes: %s", info.ReleaseURL)
	}

	return nil
}

func installVersion(ctx context.Context, out *output.Writer, updater *update.Updater, version string) error {
	if err := elevateIfNeeded(); err != nil {
		return err
	}

	spin := out.Spinner(fmt.Sprintf("Installing v%s", strings.TrimPrefix(version, "v")))
	spin.Start()

	installed, err := updater.InstallVersion(ctx, version)
	if err != nil {
		spin.StopWithFailure("Install failed")

		cliErr := clierrors.Wrap(clierrors.ExitGeneral, fmt.Sprintf("Cannot install %s", version), err)
		if errors.Is(err, update.ErrVersionNotFound) {
			cliErr = cliErr.WithHint("See available versions at " + releasesURL)
		}

		return cliErr
	}

	spin.StopWithSuccess(fmt.Sprintf("Installed v%s", installed))

	return nil
}

// elevateIfNeeded re-runs the command under sudo when the binary's
// directory is not writable. On success the process is replaced.
func elevateIfNeeded() error {
	execPath, err := selfupdate.ExecutablePath()
	if err != nil || !update.NeedsElevation(execPath) {
		return nil //nolint:nilerr // install reports the path problem
	}

	if err := update.ReExecWithSudo(); err != nil {
		return clierrors.Wrap(clierrors.ExitGeneral, "Cannot request elevated permissions", err)
	}

	return nil
}

// noticeSkipped are commands that neither trigger nor show update notices.
var noticeSkipped = map[string]bool{
	"update":     true,
	"version":    true,
	"completion": true,
	"doctor":     true,
}

// updateNoticeAllowed reports whether cmd may check for and announce a newer
// release. Structured and quiet output stay untouched.
func updateNoticeAllowed(cmd *cobra.Command, out *output.Writer, current string) bool {
	if current == "dev" || out.Quiet || out.Structured() || update.Disabled() {
		return false
	}

	return !noticeSkipped[cmd.Name()]
}

// backgroundUpdateCheck refreshes the cached release check when it is due.
func backgroundUpdateCheck(ctx context.Context, current string) {
	logger := observability.Component(ctx, "update")

	state, err := update.LoadState()
	if err != nil || !state.Due(time.Now()) {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	updater, err := newUpdater()
	if err != nil {
		return
	}

	info, err := updater.Check(ctx, current)
	if err != nil {
		logger.Debug("update check failed", slog.String("event.type", "update.check.error"), slog.String("error", err.Error()))
		return
	}

	if err := update.NewState(info, time.Now()).Save(); err != nil {
		logger.Debug("update state not saved", slog.String("event.type", "update.state.error"), slog.String("error", err.Error()))
	}
}

// showUpdateNotice prints a notice when the cached check found a newer release.
func showUpdateNotice(out *output.Writer, current string) {
	state, err := update.LoadState()
	if err != nil || !state.HasUpdate(current) {
		return
	}

	out.Errorln()
	out.Info("bcbridge v%s is available (installed v%s). Run 'bcbridge update' to install it", state.LatestVersion, current)
}
