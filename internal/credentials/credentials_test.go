package credentials

import (
	"strings"
	"testing"

	"github.com/zalando/go-keyring"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name       string
		envUser    string
		envPass    string
		stored     map[string]string
		target     string
		wantSource Source
		wantUser   string
		wantPass   string
		wantErr    bool
	}{
		{
			name:       "environment wins over keyring",
			envUser:    "envadmin",
			envPass:    "envpass",
			stored:     map[string]string{"sandbox": `{"username":"kr","password":"krpass"}`},
			target:     "sandbox",
			wantSource: SourceEnv,
			wantUser:   "envadmin",
			wantPass:   "envpass",
		},
		{
			name:       "keyring entry for target",
			stored:     map[string]string{"sandbox": `{"username":"kr","password":"krpass"}`},
			target:     "sandbox",
			wantSource: SourceKeyring,
			wantUser:   "kr",
			wantPass:   "krpass",
		},
		{
			name:       "no entry",
			target:     "other",
			wantSource: SourceNone,
		},
		{
			name:       "empty target skips keyring",
			stored:     map[string]string{"": `{"username":"kr","password":"x"}`},
			wantSource: SourceNone,
		},
		{
			name:       "malformed entry",
			stored:     map[string]string{"sandbox": "hunter2"},
			target:     "sandbox",
			wantSource: SourceKeyring,
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keyring.MockInit()
			t.Setenv(EnvUsername, tt.envUser)
			t.Setenv(EnvPassword, tt.envPass)

			for account, value := range tt.stored {
				if account == "" {
					continue
				}

				if err := keyring.Set(KeyringService, account, value); err != nil {
					t.Fatalf("keyring.Set() error = %v", err)
				}
			}

			cred, source, err := Resolve(tt.target)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Resolve() error = %v, wantErr %v", err, tt.wantErr)
			}

			if source != tt.wantSource {
				t.Errorf("source = %q, want %q", source, tt.wantSource)
			}

			if tt.wantUser == "" {
				if cred != nil {
					t.Errorf("credential = %v, want nil", cred)
				}

				return
			}

			if cred.Username != tt.wantUser || cred.Password.Reveal() != tt.wantPass {
				t.Errorf("credential = %s/%s, want %s/%s", cred.Username, cred.Password.Reveal(), tt.wantUser, tt.wantPass)
			}
		})
	}
}

func TestResolve_ErrorDoesNotEchoSecret(t *testing.T) {
	keyring.MockInit()
	t.Setenv(EnvUsername, "")

	if err := keyring.Set(KeyringService, "sandbox", "hunter2"); err != nil {
		t.Fatal(err)
	}

	_, _, err := Resolve("sandbox")
	if err == nil {
		t.Fatal("Resolve() error = nil")
	}

	if got := err.Error(); got == "" || strings.Contains(got, "hunter2") {
		t.Errorf("error = %q leaks the stored value", got)
	}
}

func TestDescribe(t *testing.T) {
	keyring.MockInit()
	t.Setenv(EnvUsername, "admin")

	if got := Describe("any"); got != SourceEnv {
		t.Errorf("Describe() = %q, want %q", got, SourceEnv)
	}
}
