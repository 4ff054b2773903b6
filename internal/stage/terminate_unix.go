//go:build !windows

package stage

import (
	"os/exec"
	"syscall"
	"time"
)

// configureTermination runs the child in its own process group and signals the whole
// group with SIGTERM. Members still alive after grace, including helpers that outlived
// the leader, get SIGKILL.
func configureTermination(cmd *exec.Cmd, grace time.Duration) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		pgid := cmd.Process.Pid
		time.AfterFunc(grace, func() {
			_ = syscall.Kill(-pgid, syscall.SIGKILL)
		})
		if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil {
			return cmd.Process.Signal(syscall.SIGTERM)
		}
		return nil
	}
}
