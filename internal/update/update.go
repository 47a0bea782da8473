// Package update checks GitHub Releases for newer bcbridge builds and
// replaces the running binary with a checksum-verified release.
package update

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/Masterminds/semver/v3"
	selfupdate "github.com/creativeprojects/go-selfupdate"
)

const (
	// Repository is the GitHub repository releases are published to.
	Repository = "musher-dev/bcbridge"

	// DisabledEnv turns off update checks and notices when set to 1 or true.
	DisabledEnv = "BCBRIDGE_UPDATE_DISABLED"

	checksumsFile = "checksums.txt"
)

// ErrVersionNotFound is returned when a requested release does not exist
// for this platform.
var ErrVersionNotFound = errors.New("release not found")

// Disabled reports whether update checks are turned off.
func Disabled() bool {
	v := strings.TrimSpace(os.Getenv(DisabledEnv))
	return v == "1" || strings.EqualFold(v, "true")
}

// Info is the outcome of a release check.
type Info struct {
	CurrentVersion  string `json:"currentVersion" yaml:"currentVersion"`
	LatestVersion   string `json:"latestVersion" yaml:"latestVersion"`
	UpdateAvailable bool   `json:"updateAvailable" yaml:"updateAvailable"`
	ReleaseURL      string `json:"releaseURL,omitempty" yaml:"releaseURL,omitempty"`

	release *selfupdate.Release
}

// Installable reports whether the check found a release with assets for
// this platform.
func (i *Info) Installable() bool {
	return i != nil && i.release != nil
}

// Options configures an Updater.
type Options struct {
	// Token authenticates GitHub API calls. Defaults to GITHUB_TOKEN.
	Token string

	// BaseURL points at a GitHub Enterprise or mirror API instead of github.com.
	BaseURL string
}

// Updater checks for and installs releases.
type Updater struct {
	updater *selfupdate.Updater
	slug    selfupdate.RepositorySlug
}

// New returns an Updater for the bcbridge repository.
func New(opts Options) (*Updater, error) {
	token := opts.Token
	if token == "" {
		token = os.Getenv("GITHUB_TOKEN")
	}

	source, err := selfupdate.NewGitHubSource(selfupdate.GitHubConfig{
		APIToken:          token,
		EnterpriseBaseURL: opts.BaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("create release source: %w", err)
	}

	updater, err := selfupdate.NewUpdater(selfupdate.Config{
		Source:    source,
		Validator: &selfupdate.ChecksumValidator{UniqueFilename: checksumsFile},
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	})
	if err != nil {
		return nil, fmt.Errorf("create updater: %w", err)
	}

	return &Updater{updater: updater, slug: selfupdate.ParseSlug(Repository)}, nil
}

// Check looks up the latest release and compares it with current.
func (u *Updater) Check(ctx context.Context, current string) (*Info, error) {
	latest, found, err := u.updater.DetectLatest(ctx, u.slug)
	if err != nil {
		return nil, fmt.Errorf("detect latest release: %w", err)
	}

	info := &Info{CurrentVersion: current, LatestVersion: current}
	if !found {
		return info, nil
	}

	info.LatestVersion = latest.Version()
	info.ReleaseURL = latest.URL
	info.release = latest
	info.UpdateAvailable = Newer(current, latest.Version())

	return info, nil
}

// Install replaces the running binary with the release found by Check.
func (u *Updater) Install(ctx context.Context, info *Info) error {
	if !info.Installable() {
		return fmt.Errorf("install %s: %w", info.LatestVersion, ErrVersionNotFound)
	}

	return u.install(ctx, info.release)
}

// InstallVersion installs a specific release, with or without a v prefix.
func (u *Updater) InstallVersion(ctx context.Context, version string) (string, error) {
	version = strings.TrimPrefix(strings.TrimSpace(version), "v")

	release, found, err := u.updater.DetectVersion(ctx, u.slug, version)
	if err != nil {
		return "", fmt.Errorf("detect version %s: %w", version, err)
	}

	if !found {
		return "", fmt.Errorf("version %s: %w", version, ErrVersionNotFound)
	}

	if err := u.install(ctx, release); err != nil {
		return "", err
	}

	return release.Version(), nil
}

func (u *Updater) install(ctx context.Context, release *selfupdate.Release) error {
	execPath, err := selfupdate.ExecutablePath()
	if err != nil {
		return fmt.Errorf("find executable path: %w", err)
	}

	if err := u.updater.UpdateTo(ctx, release, execPath); err != nil {
		return fmt.Errorf("install %s: %w", release.Version(), err)
	}

	return nil
}

// Newer reports whether latest is a newer release than current. A current
// version that is not semver (a dev build) is always older.
func Newer(current, latest string) bool {
	l, err := semver.NewVersion(latest)
	if err != nil {
		return false
	}

	c, err := semver.NewVersion(current)
	if err != nil {
		return true
	}

	return l.GreaterThan(c)
}
