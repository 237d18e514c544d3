//go:build unix

package extract

import (
	"os/exec"
	"syscall"
)

// isolateProcessGroup starts the extractor in a process group of its own
// so that cancellation also kills anything it spawned (ffmpeg merges).
func isolateProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
