// Package executor drains workflow commands through runners with serial or
// concurrent semantics.
//
// At most one drain goroutine exists at a time. Run during a drain appends
// to the tail of the in-flight queue. Each drain ends with exactly one Report.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"keyflow/internal/model"
	"keyflow/internal/workerutil"
)

const defaultConcurrencyLimit = 8

// Job is a workflow's commands submitted for execution.
type Job struct {
	WorkflowID   string
	WorkflowName string
	Commands     []model.Command
	Mode         model.ExecutionMode
	// Chain lists the workflows whose shortcut commands led to this job,
	// outermost first. Run refuses a job whose workflow is already in it.
	Chain []string
}

// JobFor builds the job that runs wf.
func JobFor(wf model.Workflow) Job {
	return Job{WorkflowID: wf.ID, WorkflowName: wf.Name, Commands: wf.Commands, Mode: wf.Mode}
}

// Report describes one completed drain.
type Report struct {
	RunID       string
	WorkflowIDs []string
	// WorkflowNames parallels WorkflowIDs; a workflow without a name
	// contributes its id.
	WorkflowNames []string
	// Finished lists the commands actually attempted, in original order.
	Finished []model.Command
	// Err joins the failures that were not suppressed; nil on success.
	Err error
	// Failed is the first failing command, if any.
	Failed model.Command
	// Suppressed holds failures the queue continued past.
	Suppressed []*CommandError
	StartedAt  time.Time
	FinishedAt time.Time
}

// Succeeded reports whether the drain completed without unsuppressed failures.
func (r Report) Succeeded() bool { return r.Err == nil }

// Policy holds the settings that may change on configuration reload.
type Policy struct {
	// AgentApplications are background applications whose activation
	// failures do not abort a serial queue.
	AgentApplications []string
	// Timeouts bounds commands per kind; a command's own Timeout wins.
	Timeouts map[model.Kind]time.Duration
	// ConcurrencyLimit caps simultaneous commands of one concurrent job.
	ConcurrencyLimit int
}

// Options configures an Executor.
type Options struct {
	Runner Runner
	Policy Policy
	// OnComplete receives every drain report. Called on the drain goroutine.
	OnComplete func(Report)
	// OnDrained is called after OnComplete, once the queue is empty.
	OnDrained func()
}

// queueEntry is a single serial command or a whole concurrent job.
type queueEntry struct {
	workflowID   string
	workflowName string
	commands     []model.Command
	concurrent   bool
	// chain is the job's Chain plus its own workflow; runners see it
	// through ChainFrom.
	chain []string
}

// Executor is the command queue.
type Executor struct {
	runner     Runner
	onComplete func(Report)
	onDrained  func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	policy   Policy
	queue    []queueEntry
	draining bool
	closed   bool
}

// New creates an executor whose drains stop when ctx is cancelled or Close is called.
func New(ctx context.Context, opts Options) (*Executor, error) {
	if opts.Runner == nil {
		return nil, errors.New("executor: runner is required")
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Executor{
		runner:     opts.Runner,
		onComplete: opts.OnComplete,
		onDrained:  opts.OnDrained,
		ctx:        ctx,
		cancel:     cancel,
		policy:     clonePolicy(opts.Policy),
	}, nil
}

// SetPolicy replaces the runtime policy. It applies to commands started afterwards.
func (e *Executor) SetPolicy(p Policy) {
	e.mu.Lock()
	e.policy = clonePolicy(p)
	e.mu.Unlock()
}

// Run enqueues job. Disabled commands are dropped. If no drain is active one
// is started; otherwise the commands join the tail of the current drain.
func (e *Executor) Run(job Job) error {
	cmds := make([]model.Command, 0, len(job.Commands))
	for _, cmd := range job.Commands {
		if cmd != nil && cmd.Info().Enabled {
			cmds = append(cmds, cmd)
		}
	}

	if job.WorkflowID != "" && slices.Contains(job.Chain, job.WorkflowID) {
		return &CycleError{WorkflowID: job.WorkflowID, Chain: slices.Clone(job.Chain)}
	}
	chain := slices.Clone(job.Chain)
	if job.WorkflowID != "" {
		chain = append(chain, job.WorkflowID)
	}
	entry := func(commands []model.Command, concurrent bool) queueEntry {
		return queueEntry{
			workflowID:   job.WorkflowID,
			workflowName: job.WorkflowName,
			commands:     commands,
			concurrent:   concurrent,
			chain:        chain,
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return fmt.Errorf("executor is closed: %w", ErrCancelled)
	}
	if len(cmds) == 0 && e.draining {
		return nil
	}

	if job.Mode == model.Concurrent {
		if len(cmds) > 0 {
			e.queue = append(e.queue, entry(cmds, true))
		}
	} else {
		for _, cmd := range cmds {
			e.queue = append(e.queue, entry([]model.Command{cmd}, false))
		}
	}
	if len(cmds) == 0 {
		// An empty job still completes, so the resolver sees the drain.
		e.queue = append(e.queue, entry(nil, false))
	}

	if e.draining {
		slog.Debug("[DEBUG-EXEC] appended to active drain", "workflow", job.WorkflowID, "commands", len(cmds))
		return nil
	}
	e.draining = true
	e.wg.Go(e.drain)
	return nil
}

// Busy reports whether a drain is active.
func (e *Executor) Busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.draining
}

// Close cancels queued and running commands and waits for the drain to finish.
func (e *Executor) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.cancel()
	e.wg.Wait()
}

// drainState accumulates a Report.
type drainState struct {
	report   Report
	errs     []error
	lastWfID string
}

func (s *drainState) noteWorkflow(id, name string) {
	if id == "" || id == s.lastWfID {
		return
	}
	s.lastWfID = id
	if name == "" {
		name = id
	}
	s.report.WorkflowIDs = append(s.report.WorkflowIDs, id)
	s.report.WorkflowNames = append(s.report.WorkflowNames, name)
}

func (s *drainState) fail(cmdErr *CommandError) {
	if s.report.Failed == nil {
		s.report.Failed = cmdErr.Command
	}
	s.errs = append(s.errs, cmdErr)
}

func (e *Executor) drain() {
	state := &drainState{report: Report{RunID: uuid.NewString(), StartedAt: time.Now()}}
	slog.Debug("[DEBUG-EXEC] drain started", "run", state.report.RunID)

	for {
		entry, policy, ok := e.next()
		if !ok {
			break
		}
		state.noteWorkflow(entry.workflowID, entry.workflowName)

		if err := e.ctx.Err(); err != nil {
			e.abortQueue()
			state.errs = append(state.errs, fmt.Errorf("%w: %w", ErrCancelled, err))
			break
		}

		if entry.concurrent {
			e.runConcurrent(entry, policy, state)
			continue
		}
		if len(entry.commands) == 0 {
			continue
		}

		cmd := entry.commands[0]
		state.report.Finished = append(state.report.Finished, cmd)
		err := e.execute(cmd, policy, entry.chain)
		if err == nil {
			continue
		}
		cmdErr := &CommandError{Command: cmd, Err: err}
		if continuesAfterFailure(cmd, policy) {
			slog.Warn("[DEBUG-EXEC] command failed, continuing queue", "command", model.Label(cmd), "error", err)
			state.report.Suppressed = append(state.report.Suppressed, cmdErr)
			continue
		}
		slog.Warn("[DEBUG-EXEC] command failed, aborting queue", "command", model.Label(cmd), "error", err)
		state.fail(cmdErr)
		e.abortQueue()
		break
	}

	e.finish(state)
}

// next pops the head entry together with the policy in force.
func (e *Executor) next() (queueEntry, Policy, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return queueEntry{}, Policy{}, false
	}
	entry := e.queue[0]
	e.queue[0] = queueEntry{}
	e.queue = e.queue[1:]
	return entry, e.policy, true
}

// abortQueue drops every queued entry. Jobs submitted after this point form
// the next drain.
func (e *Executor) abortQueue() {
	e.mu.Lock()
	e.queue = nil
	e.mu.Unlock()
}

func (e *Executor) finish(state *drainState) {
	state.report.Err = errors.Join(state.errs...)
	state.report.FinishedAt = time.Now()

	slog.Debug("[DEBUG-EXEC] drain finished",
		"run", state.report.RunID,
		"attempted", len(state.report.Finished),
		"error", state.report.Err,
	)
	if e.onComplete != nil {
		e.onComplete(state.report)
	}
	if e.onDrained != nil {
		e.onDrained()
	}

	// Jobs that arrived after the last entry was taken start the next drain
	// here, so callbacks of two drains never overlap.
	e.mu.Lock()
	if e.closed {
		e.queue = nil
	}
	again := len(e.queue) > 0
	e.draining = again
	e.mu.Unlock()
	if again {
		e.wg.Go(e.drain)
	}
}

func (e *Executor) runConcurrent(entry queueEntry, policy Policy, state *drainState) {
	limit := policy.ConcurrencyLimit
	if limit <= 0 {
		limit = defaultConcurrencyLimit
	}
	errs := make([]error, len(entry.commands))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, cmd := range entry.commands {
		g.Go(func() error {
			errs[i] = e.execute(cmd, policy, entry.chain)
			return nil
		})
	}
	_ = g.Wait()

	state.report.Finished = append(state.report.Finished, entry.commands...)
	for i, err := range errs {
		if err == nil {
			continue
		}
		cmdErr := &CommandError{Command: entry.commands[i], Err: err}
		if continuesAfterFailure(entry.commands[i], policy) {
			state.report.Suppressed = append(state.report.Suppressed, cmdErr)
			continue
		}
		state.fail(cmdErr)
	}
}

// execute runs one command with its timeout. A runner that ignores
// cancellation is abandoned; its eventual result is discarded.
func (e *Executor) execute(cmd model.Command, policy Policy, chain []string) error {
	ctx := e.ctx
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	if len(chain) > 0 {
		ctx = context.WithValue(ctx, chainKey{}, chain)
	}
	if timeout := timeoutFor(cmd, policy); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		done <- workerutil.CallWithRecovery("runner:"+string(cmd.Kind()), func() error {
			return e.runner.Execute(ctx, cmd)
		})
	}()

	select {
	case err := <-done:
		if err != nil && ctx.Err() != nil {
			return interruption(ctx, timeoutFor(cmd, policy), err)
		}
		return err
	case <-ctx.Done():
		return interruption(ctx, timeoutFor(cmd, policy), nil)
	}
}

type chainKey struct{}

// ChainFrom returns the workflow chain of the command ctx was handed to:
// the workflows that led to it through shortcut commands, ending with the
// command's own workflow. Runners pass it on as Job.Chain.
func ChainFrom(ctx context.Context) []string {
	chain, _ := ctx.Value(chainKey{}).([]string)
	return slices.Clone(chain)
}

// interruption classifies a command stopped by its context.
func interruption(ctx context.Context, timeout time.Duration, cause error) error {
	var err error
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s", ErrTimeout, timeout)
	} else {
		err = fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
	}
	if cause != nil && !errors.Is(cause, ctx.Err()) {
		err = fmt.Errorf("%w: %w", err, cause)
	}
	return err
}

func timeoutFor(cmd model.Command, policy Policy) time.Duration {
	if t := cmd.Info().Timeout; t > 0 {
		return t
	}
	return policy.Timeouts[cmd.Kind()]
}

// continuesAfterFailure reports whether a failure of cmd lets the queue go on.
func continuesAfterFailure(cmd model.Command, policy Policy) bool {
	if cmd.Info().ContinueOnFailure {
		return true
	}
	app, ok := cmd.(model.ApplicationCommand)
	if !ok || app.Action != model.AppActivate {
		return false
	}
	for _, agent := range policy.AgentApplications {
		if strings.EqualFold(agent, app.Application) {
			return true
		}
	}
	return false
}

func clonePolicy(p Policy) Policy {
	return Policy{
		AgentApplications: slices.Clone(p.AgentApplications),
		Timeouts:          maps.Clone(p.Timeouts),
		ConcurrencyLimit:  p.ConcurrencyLimit,
	}
}
