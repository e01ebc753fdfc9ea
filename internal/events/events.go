// Package events carries engine notifications to observers (UI stream,
// history journal, desktop notifier) on one delivery goroutine.
package events

import (
	"time"

	"keyflow/internal/executor"
	"keyflow/internal/model"
)

// Event types, used as the "type" field on the wire.
const (
	TypeCompletion   = "completion"
	TypeRegistration = "registration"
	TypeChord        = "chord"
	TypeConflict     = "conflict"
	TypeConfig       = "config"
	TypeLog          = "log"
)

// Event is anything published on the bus.
type Event interface {
	Type() string
}

// CommandRef identifies a command in a report.
type CommandRef struct {
	ID   string     `json:"id"`
	Name string     `json:"name"`
	Kind model.Kind `json:"kind"`
}

// RefOf summarizes cmd.
func RefOf(cmd model.Command) CommandRef {
	info := cmd.Info()
	return CommandRef{ID: info.ID, Name: model.Label(cmd), Kind: cmd.Kind()}
}

// CompletionEvent reports a finished executor drain.
type CompletionEvent struct {
	RunID         string       `json:"run_id"`
	WorkflowIDs   []string     `json:"workflow_ids"`
	WorkflowNames []string     `json:"workflow_names"`
	Finished      []CommandRef `json:"finished"`
	Error         string       `json:"error,omitempty"`
	Failed        *CommandRef  `json:"failed,omitempty"`
	Suppressed    []string     `json:"suppressed,omitempty"`
	StartedAt     time.Time    `json:"started_at"`
	FinishedAt    time.Time    `json:"finished_at"`
	// Notify is true when any attempted command asked for a notification.
	Notify bool `json:"notify"`
}

// Completion converts an executor report.
func Completion(r executor.Report) CompletionEvent {
	ev := CompletionEvent{
		RunID:         r.RunID,
		WorkflowIDs:   append([]string(nil), r.WorkflowIDs...),
		WorkflowNames: append([]string(nil), r.WorkflowNames...),
		Finished:      make([]CommandRef, 0, len(r.Finished)),
		StartedAt:     r.StartedAt,
		FinishedAt:    r.FinishedAt,
	}
	for _, cmd := range r.Finished {
		ev.Finished = append(ev.Finished, RefOf(cmd))
		if cmd.Info().Notify {
			ev.Notify = true
		}
	}
	if r.Err != nil {
		ev.Error = r.Err.Error()
	}
	if r.Failed != nil {
		ref := RefOf(r.Failed)
		ev.Failed = &ref
	}
	for _, s := range r.Suppressed {
		ev.Suppressed = append(ev.Suppressed, s.Error())
	}
	return ev
}

// Succeeded reports whether the drain had no unsuppressed failure.
func (e CompletionEvent) Succeeded() bool { return e.Error == "" }

// RegistrationEvent reports one hotkey registration attempt.
type RegistrationEvent struct {
	Shortcut string `json:"shortcut"`
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
}

// Registration builds a RegistrationEvent.
func Registration(sc model.KeyboardShortcut, err error) RegistrationEvent {
	ev := RegistrationEvent{Shortcut: sc.String(), OK: err == nil}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}

// ChordEvent reports resolver progress.
type ChordEvent struct {
	// Pending is the typed prefix; empty when the resolver is idle.
	Pending []string `json:"pending"`
	// NextKeys are the shortcuts currently armed.
	NextKeys []string `json:"next_keys"`
	// Matched is the workflow id handed to the executor, if any.
	Matched string `json:"matched,omitempty"`
	// Reason is set when the chord was abandoned (no-match, timeout, cancel).
	Reason string `json:"reason,omitempty"`
}

// Conflict kinds.
const (
	ConflictTie      = "tie"
	ConflictShadowed = "shadowed"
)

// ConflictEvent reports workflows that cannot all be reached by their chord.
// For a tie, Selected is the workflow that runs. For a shadowed chord,
// WorkflowIDs[0] is the shorter workflow, reachable only through the chord timeout.
type ConflictEvent struct {
	Kind        string   `json:"kind"`
	Chord       string   `json:"chord"`
	WorkflowIDs []string `json:"workflow_ids"`
	Selected    string   `json:"selected,omitempty"`
}

// ConfigEvent reports a configuration (re)load.
type ConfigEvent struct {
	Path      string   `json:"path"`
	Groups    int      `json:"groups"`
	Workflows int      `json:"workflows"`
	Warnings  []string `json:"warnings,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// LogEvent mirrors a warning or error log record.
type LogEvent struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
	// Source is the dot-joined slog group, if any.
	Source string            `json:"source,omitempty"`
	Attrs  map[string]string `json:"attrs,omitempty"`
}

func (CompletionEvent) Type() string   { return TypeCompletion }
func (RegistrationEvent) Type() string { return TypeRegistration }
func (ChordEvent) Type() string        { return TypeChord }
func (ConflictEvent) Type() string     { return TypeConflict }
func (ConfigEvent) Type() string       { return TypeConfig }
func (LogEvent) Type() string          { return TypeLog }
