//go:build darwin

package contextfilter

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const frontmostScript = `tell application "System Events" to get bundle identifier of first application process whose frontmost is true`

// frontmostApp returns the bundle identifier of the frontmost application.
func frontmostApp(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "osascript", "-e", frontmostScript).Output()
	if err != nil {
		return "", fmt.Errorf("osascript: %w", err)
	}
	id := strings.TrimSpace(string(out))
	if id == "" || id == "missing value" {
		return "", errors.New("frontmost application has no bundle identifier")
	}
	return id, nil
}
