// Package config handles bcbridge configuration using Viper.
//
// Configuration sources (in priority order):
//  1. Environment variables (BCBRIDGE_*)
//  2. Config file (<config root>/bcbridge/config.yaml)
//  3. Built-in defaults
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/musher-dev/bcbridge/internal/paths"
)

const (
	// DefaultInterpreter is the interpreter binary looked up on PATH.
	DefaultInterpreter = "pwsh"
	// DefaultGracePeriod is how long a cancelled interpreter gets before SIGKILL.
	DefaultGracePeriod = 5 * time.Second
	// DefaultResultRetries is how often a missing result file is re-checked.
	DefaultResultRetries = 10
	// DefaultResultRetryInterval is the pause between result file checks.
	DefaultResultRetryInterval = 200 * time.Millisecond
	// DefaultHistoryLines is the in-memory tail kept per job journal.
	DefaultHistoryLines = 2000
	// DefaultHistoryRetention is how long job journals are kept.
	DefaultHistoryRetention = 30 * 24 * time.Hour
	// DefaultTargetsFile is the targets file looked up relative to the workspace.
	DefaultTargetsFile = ".vscode/launch.json"
)

const (
	envPrefix = "BCBRIDGE"
	fileName  = "config.yaml"
)

type kind int

const (
	kindString kind = iota
	kindDuration
	kindInt
	kindBool
)

// setting is one configuration key with its default and accepted values.
type setting struct {
	key  string
	def  any
	kind kind
	help string
}

// settings is every known key in display order.
var settings = []setting{
	{"interpreter.path", DefaultInterpreter, kindString, "PowerShell executable name or path"},
	{"interpreter.module", "", kindString, "Module imported before each job"},
	// Zero keeps each operation's own timeout.
	{"job.timeout", "0s", kindDuration, "Timeout for every job (0 uses per-operation timeouts)"},
	{"job.grace_period", DefaultGracePeriod.String(), kindDuration, "Wait between cancel and kill"},
	{"result.retries", DefaultResultRetries, kindInt, "Checks for a late result file"},
	{"result.retry_interval", DefaultResultRetryInterval.String(), kindDuration, "Pause between result file checks"},
	{"result.dir", "", kindString, "Directory for result files (default: OS temp dir)"},
	{"history.enabled", true, kindBool, "Keep a journal of each job's output"},
	{"history.dir", "", kindString, "Journal directory (default: state dir)"},
	{"history.lines", DefaultHistoryLines, kindInt, "Output lines kept in memory per job"},
	{"history.retention", DefaultHistoryRetention.String(), kindDuration, "Age after which journals are pruned"},
	{"targets.file", DefaultTargetsFile, kindString, "Targets file, relative to the workspace"},
}

// Keys lists every known configuration key in display order.
var Keys = func() []string {
	keys := make([]string, len(settings))
	for i, s := range settings {
		keys[i] = s.key
	}

	return keys
}()

// Source says where an effective value came from.
type Source string

// Value sources.
const (
	SourceDefault Source = "default"
	SourceFile    Source = "file"
	SourceEnv     Source = "env"
)

// ErrInvalidValue is returned by Set for values the key cannot hold.
var ErrInvalidValue = errors.New("invalid value")

// Config holds the bcbridge configuration.
type Config struct {
	v *viper.Viper
}

// Load reads configuration from all sources.
func Load() *Config {
	v := viper.New()

	for _, s := range settings {
		v.SetDefault(s.key, s.def)
	}

	if configDir, err := paths.ConfigRoot(); err == nil {
		v.AddConfigPath(configDir)
		v.SetConfigName(strings.TrimSuffix(fileName, ".yaml"))
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// A missing file is normal; a broken one falls back to env and defaults.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("config file ignored", slog.String("error", err.Error()))
		}
	}

	return &Config{v: v}
}

// Path returns the config file Set writes to.
func Path() (string, error) {
	dir, err := paths.ConfigRoot()
	if err != nil {
		return "", err
	}

	return filepath.Join(dir, fileName), nil
}

// IsKnown reports whether key is a recognised configuration key.
func IsKnown(key string) bool {
	_, ok := lookup(key)
	return ok
}

// Help returns the one-line description of key.
func Help(key string) string {
	s, _ := lookup(key)
	return s.help
}

func lookup(key string) (setting, bool) {
	i := slices.IndexFunc(settings, func(s setting) bool { return s.key == key })
	if i < 0 {
		return setting{}, false
	}

	return settings[i], true
}

// EnvName returns the environment variable that overrides key.
func EnvName(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Get returns a configuration value.
func (c *Config) Get(key string) any {
	return c.v.Get(key)
}

// Source reports which layer supplies key's effective value.
func (c *Config) Source(key string) Source {
	if os.Getenv(EnvName(key)) != "" {
		return SourceEnv
	}

	if c.v.InConfig(key) {
		return SourceFile
	}

	return SourceDefault
}

// Set validates value for key and persists it to the config file.
func (c *Config) Set(key, value string) error {
	s, ok := lookup(key)
	if !ok {
		return fmt.Errorf("%w: unknown key %s", ErrInvalidValue, key)
	}

	parsed, err := s.parse(value)
	if err != nil {
		return err
	}

	c.v.Set(key, parsed)

	path, err := Path()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	return c.v.WriteConfigAs(path)
}

// parse converts value to the type stored for s. Durations stay strings so
// the file remains readable.
func (s setting) parse(value string) (any, error) {
	value = strings.TrimSpace(value)

	switch s.kind {
	case kindDuration:
		d, err := time.ParseDuration(value)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("%w for %s: %q is not a duration like 90s or 20m", ErrInvalidValue, s.key, value)
		}

		return d.String(), nil
	case kindInt:
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w for %s: %q is not a whole number", ErrInvalidValue, s.key, value)
		}

		return n, nil
	case kindBool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("%w for %s: %q is not true or false", ErrInvalidValue, s.key, value)
		}

		return b, nil
	default:
		return value, nil
	}
}

func (c *Config) positiveDuration(key string, fallback time.Duration) time.Duration {
	if d := c.v.GetDuration(key); d > 0 {
		return d
	}

	return fallback
}

func (c *Config) nonEmpty(key, fallback string) string {
	if s := strings.TrimSpace(c.v.GetString(key)); s != "" {
		return s
	}

	return fallback
}

// InterpreterPath returns the interpreter executable.
func (c *Config) InterpreterPath() string {
	return c.nonEmpty("interpreter.path", DefaultInterpreter)
}

// InterpreterModule returns the module imported by the bootstrap script.
func (c *Config) InterpreterModule() string {
	return c.nonEmpty("interpreter.module", "")
}

// JobTimeout returns the configured timeout override, or zero.
func (c *Config) JobTimeout() time.Duration {
	return c.positiveDuration("job.timeout", 0)
}

// GracePeriod returns the cancel-to-kill grace period.
func (c *Config) GracePeriod() time.Duration {
	return c.positiveDuration("job.grace_period", DefaultGracePeriod)
}

// ResultRetries returns how often a missing result file is re-checked.
func (c *Config) ResultRetries() int {
	return max(c.v.GetInt("result.retries"), 0)
}

// ResultRetryInterval returns the pause between result file checks.
func (c *Config) ResultRetryInterval() time.Duration {
	return c.positiveDuration("result.retry_interval", DefaultResultRetryInterval)
}

// ResultDir returns the side-channel directory. Empty means the OS temp dir.
func (c *Config) ResultDir() string {
	return c.nonEmpty("result.dir", "")
}

// HistoryEnabled reports whether job journals are written.
func (c *Config) HistoryEnabled() bool {
	return c.v.GetBool("history.enabled")
}

// HistoryDir returns the journal directory, defaulting to the state root.
func (c *Config) HistoryDir() (string, error) {
	if dir := c.nonEmpty("history.dir", ""); dir != "" {
		return dir, nil
	}

	return paths.HistoryDir()
}

// HistoryLines returns the in-memory tail size per journal.
func (c *Config) HistoryLines() int {
	if n := c.v.GetInt("history.lines"); n > 0 {
		return n
	}

	return DefaultHistoryLines
}

// HistoryRetention returns the journal prune window.
func (c *Config) HistoryRetention() time.Duration {
	return c.positiveDuration("history.retention", DefaultHistoryRetention)
}

// TargetsFile returns the targets file path.
func (c *Config) TargetsFile() string {
	return c.nonEmpty("targets.file", DefaultTargetsFile)
}
