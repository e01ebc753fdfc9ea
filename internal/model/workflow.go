package model

import (
	"fmt"
	"strings"
	"time"
)

// ExecutionMode controls how a workflow's commands are dispatched.
type ExecutionMode string

const (
	Serial     ExecutionMode = "serial"
	Concurrent ExecutionMode = "concurrent"
)

// ParseExecutionMode accepts "serial" (default when empty) or "concurrent".
func ParseExecutionMode(raw string) (ExecutionMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(Serial):
		return Serial, nil
	case string(Concurrent):
		return Concurrent, nil
	default:
		return "", fmt.Errorf("unknown execution mode %q", raw)
	}
}

// Trigger is what starts a workflow.
type Trigger interface {
	isTrigger()
}

// KeyboardTrigger fires when its chord is typed. Shortcuts has at least one element.
type KeyboardTrigger struct {
	Shortcuts []KeyboardShortcut
}

// ApplicationTrigger fires on an application lifecycle event.
// It is carried through configuration but not resolved by the chord engine.
type ApplicationTrigger struct {
	Application string
	Event       string
}

func (KeyboardTrigger) isTrigger()    {}
func (ApplicationTrigger) isTrigger() {}

// Workflow is an ordered list of commands with a trigger.
type Workflow struct {
	ID       string
	Name     string
	Enabled  bool
	Mode     ExecutionMode
	Trigger  Trigger
	Commands []Command
}

// Chord returns the keyboard chord of w, or nil when w is not keyboard triggered.
func (w Workflow) Chord() []KeyboardShortcut {
	kt, ok := w.Trigger.(KeyboardTrigger)
	if !ok {
		return nil
	}
	return kt.Shortcuts
}

// Rule restricts when a group is eligible. Empty fields do not restrict.
type Rule struct {
	Applications []string
	Days         []time.Weekday
}

// Group is a rule-scoped collection of workflows.
type Group struct {
	ID        string
	Name      string
	Rule      Rule
	Workflows []Workflow
}

// FindWorkflow looks up an enabled or disabled workflow by id across groups.
func FindWorkflow(groups []Group, id string) (Workflow, bool) {
	for _, g := range groups {
		for _, w := range g.Workflows {
			if w.ID == id {
				return w, true
			}
		}
	}
	return Workflow{}, false
}

var weekdayByName = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// ParseWeekday accepts English day names or their three-letter abbreviations.
func ParseWeekday(raw string) (time.Weekday, error) {
	day, ok := weekdayByName[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return 0, fmt.Errorf("unknown weekday %q", raw)
	}
	return day, nil
}
