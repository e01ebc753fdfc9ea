package model

import (
	"fmt"
	"time"
)

// Kind names a command variant. Values match the configuration "kind" field.
type Kind string

const (
	KindApplication Kind = "application"
	KindKeyboard    Kind = "keyboard"
	KindOpen        Kind = "open"
	KindScript      Kind = "script"
	KindType        Kind = "type"
	KindBuiltIn     Kind = "builtin"
	KindShortcut    Kind = "shortcut"
	KindSystem      Kind = "system"
	KindWindow      Kind = "window"
)

// Kinds lists every command kind in a stable order.
func Kinds() []Kind {
	return []Kind{
		KindApplication, KindKeyboard, KindOpen, KindScript, KindType,
		KindBuiltIn, KindShortcut, KindSystem, KindWindow,
	}
}

// ParseKind validates a configuration kind string.
func ParseKind(raw string) (Kind, error) {
	for _, k := range Kinds() {
		if string(k) == raw {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown command kind %q", raw)
}

// Meta carries the fields every command variant shares.
type Meta struct {
	ID      string
	Name    string
	Enabled bool
	Notify  bool
	// ContinueOnFailure keeps a serial queue running when this command fails.
	ContinueOnFailure bool
	// Timeout overrides the per-kind timeout when > 0.
	Timeout time.Duration
}

// Command is a single executable step of a workflow.
// The set of implementations is closed to this package.
type Command interface {
	Kind() Kind
	Info() Meta
	isCommand()
}

type ApplicationAction string

const (
	AppOpen     ApplicationAction = "open"
	AppActivate ApplicationAction = "activate"
	AppClose    ApplicationAction = "close"
)

// ApplicationCommand launches, activates, or closes an application.
type ApplicationCommand struct {
	Meta
	Action ApplicationAction
	// Application is a bundle identifier on macOS or an executable name elsewhere.
	Application string
	Path        string
}

// KeyboardCommand synthesizes a sequence of keystrokes.
type KeyboardCommand struct {
	Meta
	Shortcuts []KeyboardShortcut
}

// OpenCommand opens a URL or file, optionally with a named application.
type OpenCommand struct {
	Meta
	Target      string
	Application string
}

// ScriptCommand runs inline source or a script file.
type ScriptCommand struct {
	Meta
	Source      string
	Path        string
	Interpreter string
	TTY         bool
}

// TypeCommand types literal text.
type TypeCommand struct {
	Meta
	Input string
}

// BuiltInCommand invokes an action of the daemon itself.
type BuiltInCommand struct {
	Meta
	Action string
}

// ShortcutCommand runs another workflow by id.
type ShortcutCommand struct {
	Meta
	WorkflowID string
}

// SystemCommand performs an OS-level action such as locking the screen.
type SystemCommand struct {
	Meta
	Action string
}

// WindowCommand performs a window management action.
type WindowCommand struct {
	Meta
	Action string
}

func (c ApplicationCommand) Kind() Kind { return KindApplication }
func (c KeyboardCommand) Kind() Kind    { return KindKeyboard }
func (c OpenCommand) Kind() Kind        { return KindOpen }
func (c ScriptCommand) Kind() Kind      { return KindScript }
func (c TypeCommand) Kind() Kind        { return KindType }
func (c BuiltInCommand) Kind() Kind     { return KindBuiltIn }
func (c ShortcutCommand) Kind() Kind    { return KindShortcut }
func (c SystemCommand) Kind() Kind      { return KindSystem }
func (c WindowCommand) Kind() Kind      { return KindWindow }

func (m Meta) Info() Meta { return m }

func (ApplicationCommand) isCommand() {}
func (KeyboardCommand) isCommand()    {}
func (OpenCommand) isCommand()        {}
func (ScriptCommand) isCommand()      {}
func (TypeCommand) isCommand()        {}
func (BuiltInCommand) isCommand()     {}
func (ShortcutCommand) isCommand()    {}
func (SystemCommand) isCommand()      {}
func (WindowCommand) isCommand()      {}

// Label returns a human-readable name for logs and reports.
func Label(c Command) string {
	if c == nil {
		return "<nil>"
	}
	info := c.Info()
	switch {
	case info.Name != "":
		return info.Name
	case info.ID != "":
		return string(c.Kind()) + ":" + info.ID
	default:
		return string(c.Kind())
	}
}
