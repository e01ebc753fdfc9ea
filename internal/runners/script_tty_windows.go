//go:build windows

package runners

import (
	"io"
	"log/slog"
	"os/exec"
)

// runWithTTY falls back to pipes; ConPTY attachment is not wired for
// one-shot commands.
func runWithTTY(c *exec.Cmd, out io.Writer) error {
	slog.Debug("[DEBUG-EXEC] tty requested, running with pipes", "path", c.Path)
	c.Stdout = out
	c.Stderr = out
	return c.Run()
}
