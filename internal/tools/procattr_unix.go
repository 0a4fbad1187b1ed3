//go:build !windows

package tools

import (
	"os/exec"
	"syscall"
)

// setProcAttr puts the command in its own process group so signals reach
// the whole tree.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
