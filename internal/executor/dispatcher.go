package executor

import (
	"context"
	"fmt"
	"sync"

	"keyflow/internal/model"
)

// Runner executes one command. Implementations must honor ctx cancellation
// where they can; the executor abandons runners that ignore it.
type Runner interface {
	Execute(ctx context.Context, cmd model.Command) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, cmd model.Command) error

func (f RunnerFunc) Execute(ctx context.Context, cmd model.Command) error { return f(ctx, cmd) }

// Dispatcher routes commands to runners by kind. It is itself a Runner.
type Dispatcher struct {
	mu      sync.RWMutex
	runners map[model.Kind]Runner
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{runners: make(map[model.Kind]Runner)}
}

// Handle installs r for kind, replacing any previous runner.
func (d *Dispatcher) Handle(kind model.Kind, r Runner) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r == nil {
		delete(d.runners, kind)
		return
	}
	d.runners[kind] = r
}

// Execute runs cmd on the runner registered for its kind.
func (d *Dispatcher) Execute(ctx context.Context, cmd model.Command) error {
	if cmd == nil {
		return fmt.Errorf("%w: nil command", ErrNoRunner)
	}
	d.mu.RLock()
	r, ok := d.runners[cmd.Kind()]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w %q", ErrNoRunner, cmd.Kind())
	}
	return r.Execute(ctx, cmd)
}
