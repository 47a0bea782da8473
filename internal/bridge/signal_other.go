//go:build !unix

package bridge

import (
	"os"
	"os/exec"
)

func setProcessGroup(*exec.Cmd) {}

func processGroupID(int) int {
	return 0
}

// sendSignal kills the process. Without process groups or SIGTERM there is
// no polite stage; the grace period still bounds the wait.
func sendSignal(pid, _ int, _ bool) {
	if pid <= 0 {
		return
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return
	}

	_ = proc.Kill()
}
