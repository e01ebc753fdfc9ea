//go:build unix

package procutil

import (
	"os/exec"
	"syscall"
)

// HideWindow does nothing: unix children never get a console window.
func HideWindow(*exec.Cmd) {}

// Detach starts cmd in its own process group so terminal signals aimed at
// the daemon do not reach it.
func Detach(cmd *exec.Cmd) {
	if cmd == nil {
		return
	}
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}
