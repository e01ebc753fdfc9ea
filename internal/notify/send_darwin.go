package notify

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
)

// Send shows a notification through AppleScript.
func Send(ctx context.Context, title, body string) error {
	script := fmt.Sprintf("display notification %s with title %s", strconv.Quote(body), strconv.Quote(title))
	if out, err := exec.CommandContext(ctx, "osascript", "-e", script).CombinedOutput(); err != nil {
		return fmt.Errorf("osascript: %w: %s", err, out)
	}
	return nil
}
