//go:build !windows

package runners

import (
	"errors"
	"io"
	"os/exec"

	"github.com/creack/pty"
)

// runWithTTY runs c attached to a pseudo-terminal so tools that check
// isatty behave as in an interactive shell.
func runWithTTY(c *exec.Cmd, out io.Writer) error {
	ptmx, err := pty.StartWithSize(c, &pty.Winsize{Cols: 120, Rows: 40})
	if err != nil {
		if !errors.Is(err, pty.ErrUnsupported) {
			return err
		}
		c.Stdout = out
		c.Stderr = out
		return c.Run()
	}
	defer ptmx.Close()

	copied := make(chan struct{})
	go func() {
		// The read ends with EIO once the child closes the tty.
		_, _ = io.Copy(out, ptmx)
		close(copied)
	}()
	err = c.Wait()
	_ = ptmx.Close()
	<-copied
	return err
}
