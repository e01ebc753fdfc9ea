package notify

import (
	"context"
	"fmt"

	"git.sr.ht/~jackmordaunt/go-toast/v2"
)

// Send shows a toast notification. Push blocks on the shell, so it runs on
// its own goroutine and ctx bounds the wait.
func Send(ctx context.Context, title, body string) error {
	n := toast.Notification{
		AppID: appName,
		Title: title,
		Body:  body,
	}
	done := make(chan error, 1)
	go func() { done <- n.Push() }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("toast: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
