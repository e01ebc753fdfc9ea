package executor

import (
	"errors"
	"fmt"
	"strings"

	"keyflow/internal/model"
)

var (
	// ErrTimeout is returned when a command exceeds its timeout.
	ErrTimeout = errors.New("command timed out")
	// ErrCancelled marks commands skipped or interrupted by executor shutdown.
	ErrCancelled = errors.New("command cancelled")
	// ErrNoRunner is returned when no runner handles a command kind.
	ErrNoRunner = errors.New("no runner for command kind")
	// ErrUnsupported is returned by runners for kinds this build cannot perform.
	ErrUnsupported = errors.New("command kind is not supported")
)

// CommandError is the typed failure reported for a command.
type CommandError struct {
	Command model.Command
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %q (%s) failed: %v", model.Label(e.Command), e.Command.Kind(), e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// CycleError is returned by Run for a job whose workflow already appears in
// its own shortcut chain; running it would re-enqueue the chain forever.
type CycleError struct {
	WorkflowID string
	Chain      []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("workflow %q is already running in shortcut chain %s", e.WorkflowID, strings.Join(e.Chain, " -> "))
}
