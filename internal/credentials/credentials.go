// Package credentials resolves the optional container login forwarded to the
// interpreter with a job.
//
// Credentials are sourced in the following priority order:
//  1. Environment variables: BCBRIDGE_CONTAINER_USERNAME and BCBRIDGE_CONTAINER_PASSWORD
//  2. OS Keyring (macOS Keychain, Windows Credential Manager, Linux Secret Service),
//     service "bcbridge", account = target name
//
// Storing credentials is left to the platform's own keyring tooling.
package credentials

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"

	"github.com/musher-dev/bcbridge/internal/bridge"
)

const (
	// KeyringService is the service name used in OS keyring storage.
	KeyringService = "bcbridge"

	// EnvUsername and EnvPassword carry a credential through the environment.
	EnvUsername = "BCBRIDGE_CONTAINER_USERNAME"
	EnvPassword = "BCBRIDGE_CONTAINER_PASSWORD"
)

// Source indicates where a credential was found.
type Source string

// Credential source constants identify where credentials were loaded from.
const (
	SourceEnv     Source = "environment variable"
	SourceKeyring Source = "keyring"
	SourceNone    Source = ""
)

// keyringEntry is the JSON document stored under each target's account.
type keyringEntry struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Resolve returns the credential for target, or nil with SourceNone when no
// source has one. Only malformed stored entries are errors.
func Resolve(target string) (*bridge.Credential, Source, error) {
	// Priority 1: Environment variables
	if user := os.Getenv(EnvUsername); user != "" {
		return &bridge.Credential{
			Username: user,
			Password: bridge.Secret(os.Getenv(EnvPassword)),
		}, SourceEnv, nil
	}

	// Priority 2: OS Keyring
	account := strings.TrimSpace(target)
	if account == "" {
		return nil, SourceNone, nil
	}

	// A missing entry and an unavailable keyring (headless Linux, CI) both
	// mean no credential.
	raw, err := keyring.Get(KeyringService, account)
	if err != nil {
		return nil, SourceNone, nil //nolint:nilerr // no credential is not an error
	}

	var entry keyringEntry
	if jsonErr := json.Unmarshal([]byte(raw), &entry); jsonErr != nil || entry.Username == "" {
		return nil, SourceKeyring, fmt.Errorf("keyring entry %s/%s is not a {\"username\",\"password\"} document", KeyringService, account)
	}

	return &bridge.Credential{
		Username: entry.Username,
		Password: bridge.Secret(entry.Password),
	}, SourceKeyring, nil
}

// Describe reports where a credential for target would come from without
// returning it.
func Describe(target string) Source {
	_, source, err := Resolve(target)
	if err != nil {
		return SourceNone
	}

	return source
}
