package runners

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"keyflow/internal/model"
)

// Built-in action names.
const (
	ActionNoop         = "noop"
	ActionReloadConfig = "reload-config"
	ActionCancelChord  = "cancel-chord"
)

// BuiltIn dispatches actions implemented by the daemon itself.
type BuiltIn struct {
	actions map[string]func(ctx context.Context) error
}

// NewBuiltIn copies actions and adds noop.
func NewBuiltIn(actions map[string]func(ctx context.Context) error) BuiltIn {
	b := BuiltIn{actions: make(map[string]func(ctx context.Context) error, len(actions)+1)}
	maps.Copy(b.actions, actions)
	b.actions[ActionNoop] = func(context.Context) error { return nil }
	return b
}

func (b BuiltIn) Execute(ctx context.Context, cmd model.Command) error {
	bc, ok := cmd.(model.BuiltInCommand)
	if !ok {
		return mismatch(model.KindBuiltIn, cmd)
	}
	fn, ok := b.actions[strings.ToLower(strings.TrimSpace(bc.Action))]
	if !ok || fn == nil {
		return fmt.Errorf("unknown built-in action %q", bc.Action)
	}
	return fn(ctx)
}
