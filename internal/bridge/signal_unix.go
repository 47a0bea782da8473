//go:build unix

package bridge

import (
	"errors"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setProcessGroup puts the interpreter in its own process group so
// grandchildren are signalled with it.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func processGroupID(pid int) int {
	pgid, err := unix.Getpgid(pid)
	if err != nil {
		return 0
	}

	return pgid
}

func sendSignal(pid, pgid int, forced bool) {
	sig := unix.SIGTERM
	if forced {
		sig = unix.SIGKILL
	}

	if pgid > 0 {
		if err := unix.Kill(-pgid, sig); err == nil || errors.Is(err, unix.ESRCH) {
			return
		}
	}

	if pid <= 0 {
		return
	}

	_ = unix.Kill(pid, sig)
}
