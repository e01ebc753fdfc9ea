// Package runners provides the default command runners the daemon installs
// on the executor's dispatcher.
package runners

import (
	"context"
	"fmt"

	"keyflow/internal/executor"
	"keyflow/internal/model"
)

// Deps are the daemon services some runners call back into.
type Deps struct {
	// Lookup resolves a workflow id for shortcut commands.
	Lookup func(id string) (model.Workflow, bool)
	// Enqueue appends a workflow's commands to the executor queue.
	Enqueue func(job executor.Job) error
	// BuiltIns maps built-in action names to handlers. "noop" is always present.
	BuiltIns map[string]func(ctx context.Context) error
}

// Install registers a runner for every command kind on d.
func Install(d *executor.Dispatcher, deps Deps) {
	d.Handle(model.KindScript, Script{})
	d.Handle(model.KindOpen, Open{})
	d.Handle(model.KindApplication, Application{})
	d.Handle(model.KindBuiltIn, NewBuiltIn(deps.BuiltIns))
	d.Handle(model.KindShortcut, Shortcut{Lookup: deps.Lookup, Enqueue: deps.Enqueue})
	for _, kind := range []model.Kind{model.KindKeyboard, model.KindType, model.KindSystem, model.KindWindow} {
		d.Handle(kind, Unsupported)
	}
}

// Unsupported rejects kinds whose implementation lives outside the daemon
// (keystroke synthesis, window management, OS actions).
var Unsupported = executor.RunnerFunc(func(_ context.Context, cmd model.Command) error {
	return fmt.Errorf("%s: %w", cmd.Kind(), executor.ErrUnsupported)
})

func mismatch(want model.Kind, cmd model.Command) error {
	return fmt.Errorf("runner for %s received %s command", want, cmd.Kind())
}
