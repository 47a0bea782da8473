package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// unsetEnvForTest unsets an environment variable and registers cleanup to
// restore its original state.
func unsetEnvForTest(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	os.Unsetenv(key)
}

func isolate(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", dir)

	for _, key := range Keys {
		unsetEnvForTest(t, EnvName(key))
	}

	return dir
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg := Load()

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"interpreter path", cfg.InterpreterPath(), DefaultInterpreter},
		{"interpreter module", cfg.InterpreterModule(), ""},
		{"job timeout", cfg.JobTimeout(), time.Duration(0)},
		{"grace period", cfg.GracePeriod(), DefaultGracePeriod},
		{"result retries", cfg.ResultRetries(), DefaultResultRetries},
		{"result retry interval", cfg.ResultRetryInterval(), DefaultResultRetryInterval},
		{"result dir", cfg.ResultDir(), ""},
		{"history enabled", cfg.HistoryEnabled(), true},
		{"history lines", cfg.HistoryLines(), DefaultHistoryLines},
		{"history retention", cfg.HistoryRetention(), DefaultHistoryRetention},
		{"targets file", cfg.TargetsFile(), DefaultTargetsFile},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestLoad_FromEnv(t *testing.T) {
	tests := []struct {
		name   string
		envVar string
		envVal string
		check  func(*Config) any
		want   any
	}{
		{"module", "BCBRIDGE_INTERPRETER_MODULE", "/opt/Bridge.psd1", func(c *Config) any { return c.InterpreterModule() }, "/opt/Bridge.psd1"},
		{"timeout", "BCBRIDGE_JOB_TIMEOUT", "90s", func(c *Config) any { return c.JobTimeout() }, 90 * time.Second},
		{"grace", "BCBRIDGE_JOB_GRACE_PERIOD", "2s", func(c *Config) any { return c.GracePeriod() }, 2 * time.Second},
		{"retries", "BCBRIDGE_RESULT_RETRIES", "3", func(c *Config) any { return c.ResultRetries() }, 3},
		{"no retries", "BCBRIDGE_RESULT_RETRIES", "0", func(c *Config) any { return c.ResultRetries() }, 0},
		{"history off", "BCBRIDGE_HISTORY_ENABLED", "false", func(c *Config) any { return c.HistoryEnabled() }, false},
		{"targets", "BCBRIDGE_TARGETS_FILE", "targets.toml", func(c *Config) any { return c.TargetsFile() }, "targets.toml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			t.Setenv(tt.envVar, tt.envVal)

			if got := tt.check(Load()); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := isolate(t)

	cfgDir := filepath.Join(dir, "bcbridge")
	if err := os.MkdirAll(cfgDir, 0o700); err != nil {
		t.Fatal(err)
	}

	content := "interpreter:\n  path: /usr/local/bin/pwsh\njob:\n  grace_period: 1s\n"
	if err := os.WriteFile(filepath.Join(cfgDir, "config.yaml"), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := Load()

	if got := cfg.InterpreterPath(); got != "/usr/local/bin/pwsh" {
		t.Errorf("InterpreterPath() = %q", got)
	}

	if got := cfg.GracePeriod(); got != time.Second {
		t.Errorf("GracePeriod() = %v, want 1s", got)
	}
}

func TestConfig_SetPersists(t *testing.T) {
	dir := isolate(t)

	if err := Load().Set("interpreter.module", "BcBridge"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "bcbridge", "config.yaml")); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	if got := Load().InterpreterModule(); got != "BcBridge" {
		t.Errorf("InterpreterModule() after reload = %q", got)
	}
}

func TestConfig_IsKnown(t *testing.T) {
	isolate(t)

	if !IsKnown("job.timeout") || IsKnown("api.url") {
		t.Error("IsKnown() mismatch")
	}
}

func TestConfig_HistoryDirDefault(t *testing.T) {
	isolate(t)

	state := t.TempDir()
	t.Setenv("XDG_STATE_HOME", state)

	got, err := Load().HistoryDir()
	if err != nil {
		t.Fatal(err)
	}

	if want := filepath.Join(state, "bcbridge", "history"); got != want {
		t.Errorf("HistoryDir() = %q, want %q", got, want)
	}
}

func TestConfig_SetValidates(t *testing.T) {
	tests := []struct {
		key, value string
		wantErr    bool
		want       any
	}{
		{"job.timeout", "20m", false, "20m0s"},
		{"job.timeout", "twenty", true, nil},
		{"job.grace_period", "-1s", true, nil},
		{"result.retries", "3", false, 3},
		{"result.retries", "many", true, nil},
		{"history.enabled", "false", false, false},
		{"history.enabled", "maybe", true, nil},
		{"targets.file", " ci/targets.yaml ", false, "ci/targets.yaml"},
		{"api.url", "x", true, nil},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			isolate(t)

			cfg := Load()

			err := cfg.Set(tt.key, tt.value)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidValue) {
					t.Fatalf("Set() error = %v, want ErrInvalidValue", err)
				}

				return
			}

			if err != nil {
				t.Fatalf("Set() error = %v", err)
			}

			if got := cfg.Get(tt.key); got != tt.want {
				t.Errorf("Get() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestConfig_Source(t *testing.T) {
	isolate(t)

	if err := Load().Set("result.dir", "/tmp/results"); err != nil {
		t.Fatal(err)
	}

	t.Setenv("BCBRIDGE_JOB_TIMEOUT", "1m")

	cfg := Load()

	for key, want := range map[string]Source{
		"result.dir":       SourceFile,
		"job.timeout":      SourceEnv,
		"interpreter.path": SourceDefault,
	} {
		if got := cfg.Source(key); got != want {
			t.Errorf("Source(%s) = %s, want %s", key, got, want)
		}
	}
}

func TestEnvNameAndHelp(t *testing.T) {
	if got := EnvName("result.retry_interval"); got != "BCBRIDGE_RESULT_RETRY_INTERVAL" {
		t.Errorf("EnvName() = %q", got)
	}

	for _, key := range Keys {
		if Help(key) == "" {
			t.Errorf("%s has no help text", key)
		}
	}
}
