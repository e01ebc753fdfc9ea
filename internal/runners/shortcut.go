package runners

import (
	"context"
	"errors"
	"fmt"

	"keyflow/internal/executor"
	"keyflow/internal/model"
)

// Shortcut runs another workflow by appending its commands to the executor
// queue. The referenced commands run after the current workflow's remaining
// commands, in the same drain. The job carries the calling chain, so a
// workflow that reaches itself again through shortcuts fails with
// *executor.CycleError instead of looping.
type Shortcut struct {
	Lookup  func(id string) (model.Workflow, bool)
	Enqueue func(job executor.Job) error
}

func (s Shortcut) Execute(ctx context.Context, cmd model.Command) error {
	sc, ok := cmd.(model.ShortcutCommand)
	if !ok {
		return mismatch(model.KindShortcut, cmd)
	}
	if s.Lookup == nil || s.Enqueue == nil {
		return errors.New("shortcut runner is not configured")
	}
	wf, ok := s.Lookup(sc.WorkflowID)
	if !ok {
		return fmt.Errorf("workflow %q not found", sc.WorkflowID)
	}
	if !wf.Enabled {
		return fmt.Errorf("workflow %q is disabled", sc.WorkflowID)
	}
	job := executor.JobFor(wf)
	job.Chain = executor.ChainFrom(ctx)
	return s.Enqueue(job)
}
