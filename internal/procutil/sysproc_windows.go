//go:build windows

package procutil

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

func sysProcAttr(cmd *exec.Cmd) *syscall.SysProcAttr {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	return cmd.SysProcAttr
}

// HideWindow keeps console children from opening a window. Flags set
// earlier are preserved.
func HideWindow(cmd *exec.Cmd) {
	if cmd == nil {
		return
	}
	attr := sysProcAttr(cmd)
	attr.HideWindow = true
	attr.CreationFlags |= windows.CREATE_NO_WINDOW
}

// Detach starts cmd in a new process group so Ctrl+C delivered to the
// daemon's console does not reach it.
func Detach(cmd *exec.Cmd) {
	if cmd == nil {
		return
	}
	sysProcAttr(cmd).CreationFlags |= windows.CREATE_NEW_PROCESS_GROUP
}
