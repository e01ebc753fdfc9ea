// Package notify shows desktop notifications for workflow completions.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"keyflow/internal/events"
	"keyflow/internal/workerutil"
)

// ErrUnsupported is returned when no notification backend is reachable.
var ErrUnsupported = errors.New("desktop notifications are not supported on this platform")

const (
	appName     = "keyflow"
	sendTimeout = 5 * time.Second
)

// SendFunc displays one notification.
type SendFunc func(ctx context.Context, title, body string) error

// Message builds the notification text for a completion. Workflows and the
// failed command are named by their configured names where they have one.
func Message(ev events.CompletionEvent) (title, body string) {
	names := ev.WorkflowNames
	if len(names) == 0 {
		names = ev.WorkflowIDs
	}
	name := strings.Join(names, ", ")
	if name == "" {
		name = "workflow"
	}
	if ev.Succeeded() {
		return appName, fmt.Sprintf("%s finished (%d commands)", name, len(ev.Finished))
	}
	failed := "a command"
	if ev.Failed != nil {
		failed = ev.Failed.Name
	}
	return appName + ": failed", fmt.Sprintf("%s: %s failed: %s", name, failed, ev.Error)
}

// Observer returns a bus subscriber that notifies for completions whose
// commands asked for it. send runs on its own goroutine so a slow
// notification daemon never stalls event delivery.
func Observer(ctx context.Context, send SendFunc) func(events.Event) {
	if send == nil {
		send = Send
	}
	return events.Observer(func(ev events.CompletionEvent) {
		if !ev.Notify {
			return
		}
		title, body := Message(ev)
		go func() {
			defer workerutil.Recover("notify")
			sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
			defer cancel()
			if err := send(sendCtx, title, body); err != nil && !errors.Is(err, ErrUnsupported) {
				slog.Debug("[DEBUG-NOTIFY] notification failed", "run", ev.RunID, "error", err)
			}
		}()
	})
}
