//go:build unix

package procutil

import (
	"os/exec"
	"testing"
)

func TestDetachSetsProcessGroup(t *testing.T) {
	cmd := exec.Command("true")
	HideWindow(cmd)
	if cmd.SysProcAttr != nil {
		t.Fatalf("HideWindow touched SysProcAttr: %+v", cmd.SysProcAttr)
	}
	Detach(cmd)
	if cmd.SysProcAttr == nil || !cmd.SysProcAttr.Setpgid {
		t.Fatalf("SysProcAttr = %+v, want Setpgid", cmd.SysProcAttr)
	}

	HideWindow(nil)
	Detach(nil)
}
