//go:build !unix && !windows

package procutil

import "os/exec"

func HideWindow(*exec.Cmd) {}

func Detach(*exec.Cmd) {}
