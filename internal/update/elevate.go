//go:build !windows

package update

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/unix"
)

// NeedsElevation reports whether the directory holding binary is not
// writable by the current user.
func NeedsElevation(binary string) bool {
	return unix.Access(filepath.Dir(binary), unix.W_OK) != nil
}

// ReExecWithSudo replaces the current process with the same command under
// sudo. It only returns on failure.
func ReExecWithSudo() error {
	sudo, err := exec.LookPath("sudo")
	if err != nil {
		return errors.New("sudo not found in PATH; rerun the command with elevated permissions")
	}

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("find executable: %w", err)
	}

	fmt.Fprintln(os.Stderr, "The bcbridge binary is not writable. Requesting sudo...")

	argv := append([]string{"sudo", self}, os.Args[1:]...)

	if err := syscall.Exec(sudo, argv, os.Environ()); err != nil { //nolint:gosec // G204: re-exec of this binary
		return fmt.Errorf("exec sudo: %w", err)
	}

	return nil
}
