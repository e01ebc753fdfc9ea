package main

import (
	"context"
	"log/slog"

	"keyflow/internal/events"
	"keyflow/internal/executor"
	"keyflow/internal/model"
	"keyflow/internal/notify"
)

// Replaced in tests.
var notifySendFn notify.SendFunc = notify.Send

// subscribeObservers attaches the event stream, the history journal and the
// desktop notifier to the bus.
func (a *App) subscribeObservers(ctx context.Context) {
	// Completions flushed during shutdown are recorded after ctx is done.
	detached := context.WithoutCancel(ctx)

	if a.hub != nil {
		a.unsubscribe = append(a.unsubscribe, a.bus.Subscribe(a.hub.Broadcast))
	}
	if a.history != nil {
		a.unsubscribe = append(a.unsubscribe, a.bus.Subscribe(a.history.Observer(detached)))
	}
	a.unsubscribe = append(a.unsubscribe,
		a.bus.Subscribe(notify.Observer(detached, notifySendFn)),
		a.bus.Subscribe(events.Observer(logCompletion)),
	)
}

func logCompletion(ev events.CompletionEvent) {
	if ev.Succeeded() {
		slog.Info("[DEBUG-EXEC] run finished", "run", ev.RunID, "workflows", ev.WorkflowIDs, "commands", len(ev.Finished))
	}
}

// onHotkey runs on the hotkey backend's delivery goroutine.
func (a *App) onHotkey(sc model.KeyboardShortcut) {
	resolver, err := a.requireResolver()
	if err != nil {
		slog.Debug("[hotkey] key press before resolver start", "shortcut", sc.String())
		return
	}
	resolver.Post(sc)
}

func (a *App) onRegistration(sc model.KeyboardShortcut, err error) {
	if err != nil {
		slog.Warn("[hotkey] registration failed", "shortcut", sc.String(), "error", err)
	}
	a.bus.Publish(events.Registration(sc, err))
}

func (a *App) onComplete(report executor.Report) {
	if !report.Succeeded() {
		slog.Warn("[DEBUG-EXEC] workflow failed", "run", report.RunID, "workflows", report.WorkflowIDs, "error", report.Err)
	}
	a.bus.Publish(events.Completion(report))
}

func (a *App) onDrained() {
	if resolver, err := a.requireResolver(); err == nil {
		resolver.Drained()
	}
}
