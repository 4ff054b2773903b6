//go:build windows

package stage

import (
	"os/exec"
	"time"
)

// configureTermination kills the process directly; Windows has no SIGTERM, so there is
// no grace period.
func configureTermination(cmd *exec.Cmd, _ time.Duration) {
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return cmd.Process.Kill()
	}
}
