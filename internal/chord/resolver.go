// Package chord resolves key presses into workflows.
//
// A Resolver owns the typed prefix and is the only caller that mutates the
// hotkey registry. All inputs (OS key events, configuration changes, executor
// completions, control requests) are posted to its mailbox and handled one at
// a time on the goroutine running Run.
package chord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"keyflow/internal/contextfilter"
	"keyflow/internal/events"
	"keyflow/internal/executor"
	"keyflow/internal/model"
)

const mailboxSize = 64

// ErrStopped is returned by requests made after Run has returned.
var ErrStopped = errors.New("chord resolver is stopped")

// Registry is the subset of hotkeys.Registry the resolver drives.
type Registry interface {
	Rearm(target []model.KeyboardShortcut) error
	Active() []model.KeyboardShortcut
}

// Executor receives matched workflows.
type Executor interface {
	Run(job executor.Job) error
}

// Publisher receives resolver events.
type Publisher interface {
	Publish(ev events.Event)
}

// Options configures a Resolver.
type Options struct {
	Registry  Registry
	Executor  Executor
	Context   contextfilter.Provider
	Publisher Publisher
	// Timeout abandons a pending chord after this long without a key. Zero disables it.
	Timeout time.Duration
	// PollInterval re-derives the context periodically while idle. Zero disables it.
	PollInterval time.Duration
}

// Status is a snapshot of resolver state.
type Status struct {
	State        string   `json:"state"`
	Pending      []string `json:"pending"`
	Armed        []string `json:"armed"`
	Groups       int      `json:"groups"`
	ActiveGroups int      `json:"active_groups"`
	FrontmostApp string   `json:"frontmost_app"`
}

const (
	StateIdle    = "idle"
	StatePending = "pending"
)

type msgKind int

const (
	msgKey msgKind = iota
	msgGroups
	msgReload
	msgDrained
	msgCancel
	msgStatus
	msgSettings
)

type message struct {
	kind     msgKind
	key      model.KeyboardShortcut
	groups   []model.Group
	timeout  time.Duration
	poll     time.Duration
	statusCh chan Status
}

// Resolver is the chord state machine.
type Resolver struct {
	registry  Registry
	executor  Executor
	provider  contextfilter.Provider
	publisher Publisher

	mailbox  chan message
	done     chan struct{}
	stopOnce sync.Once

	// Owned by the Run goroutine.
	groups        []model.Group
	active        []model.Group
	snapshot      contextfilter.Snapshot
	pending       []model.KeyboardShortcut
	reloadPending bool
	timeout       time.Duration
	pollInterval  time.Duration
	chordTimer    *time.Timer
	pollTicker    *time.Ticker
	lastConflicts string
}

// New creates a resolver. Call Run to start it.
func New(opts Options) (*Resolver, error) {
	if opts.Registry == nil {
		return nil, errors.New("chord: registry is required")
	}
	if opts.Executor == nil {
		return nil, errors.New("chord: executor is required")
	}
	if opts.Context == nil {
		return nil, errors.New("chord: context provider is required")
	}
	return &Resolver{
		registry:     opts.Registry,
		executor:     opts.Executor,
		provider:     opts.Context,
		publisher:    opts.Publisher,
		mailbox:      make(chan message, mailboxSize),
		done:         make(chan struct{}),
		timeout:      opts.Timeout,
		pollInterval: opts.PollInterval,
	}, nil
}

// Post delivers a key press. It never blocks; presses arriving while the
// mailbox is full are dropped.
func (r *Resolver) Post(sc model.KeyboardShortcut) {
	select {
	case r.mailbox <- message{kind: msgKey, key: sc}:
	default:
		slog.Warn("[DEBUG-CHORD] mailbox full, dropped key press", "shortcut", sc.String())
	}
}

// SetGroups replaces the configured groups and re-arms from scratch.
// A pending chord is abandoned.
func (r *Resolver) SetGroups(ctx context.Context, groups []model.Group) error {
	return r.send(ctx, message{kind: msgGroups, groups: groups})
}

// SetTiming updates the chord timeout and context poll interval.
func (r *Resolver) SetTiming(ctx context.Context, timeout, poll time.Duration) error {
	return r.send(ctx, message{kind: msgSettings, timeout: timeout, poll: poll})
}

// Reload re-derives the context and re-arms. While a chord is pending the
// reload is applied when the resolver returns to idle.
func (r *Resolver) Reload(ctx context.Context) error {
	return r.send(ctx, message{kind: msgReload})
}

// Drained is the executor's drain listener.
func (r *Resolver) Drained() {
	if err := r.send(context.Background(), message{kind: msgDrained}); err != nil {
		slog.Debug("[DEBUG-CHORD] drain notification dropped", "error", err)
	}
}

// Cancel abandons a pending chord.
func (r *Resolver) Cancel(ctx context.Context) error {
	return r.send(ctx, message{kind: msgCancel})
}

// Status returns the current resolver state.
func (r *Resolver) Status(ctx context.Context) (Status, error) {
	reply := make(chan Status, 1)
	if err := r.send(ctx, message{kind: msgStatus, statusCh: reply}); err != nil {
		return Status{}, err
	}
	select {
	case st := <-reply:
		return st, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	case <-r.done:
		return Status{}, ErrStopped
	}
}

func (r *Resolver) send(ctx context.Context, msg message) error {
	select {
	case <-r.done:
		return ErrStopped
	default:
	}
	select {
	case r.mailbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return ErrStopped
	}
}

// Run processes the mailbox until ctx is cancelled. After a panic it may be
// called again to resume with the same state; requests fail with ErrStopped
// only once ctx is done.
func (r *Resolver) Run(ctx context.Context) {
	defer r.stopTimers()
	r.resetPoll()

	for {
		select {
		case <-ctx.Done():
			r.stopOnce.Do(func() { close(r.done) })
			return
		case msg := <-r.mailbox:
			r.handle(ctx, msg)
		case <-r.timerC():
			r.onTimeout(ctx)
		case <-r.pollC():
			if len(r.pending) == 0 {
				r.reload(ctx)
			}
		}
	}
}

func (r *Resolver) handle(ctx context.Context, msg message) {
	switch msg.kind {
	case msgKey:
		r.press(ctx, msg.key)
	case msgGroups:
		r.groups = msg.groups
		r.abandon("config-changed")
		r.reload(ctx)
	case msgReload, msgDrained:
		if len(r.pending) > 0 {
			r.reloadPending = true
			return
		}
		r.reload(ctx)
	case msgCancel:
		if len(r.pending) > 0 {
			r.abandon("cancelled")
			r.finishChord(ctx)
		}
	case msgSettings:
		r.timeout = msg.timeout
		r.pollInterval = msg.poll
		r.resetPoll()
	case msgStatus:
		msg.statusCh <- r.status()
	}
}

// press is one state machine transition.
func (r *Resolver) press(ctx context.Context, k model.KeyboardShortcut) {
	if len(r.pending) == 0 {
		// A chord starts: re-check the context so a group that stopped being
		// eligible since the last re-arm never matches.
		r.refreshContext(ctx)
	}
	r.pending = append(r.pending, k)

	m := match(r.active, r.pending)
	switch {
	case len(m.candidates) == 0:
		slog.Debug("[DEBUG-CHORD] no workflow matches", "chord", chordText(r.pending))
		r.abandon("no-match")
		r.finishChord(ctx)
	case m.exact != nil && len(m.longer) == 0:
		wf := *m.exact
		r.pending = nil
		r.stopChordTimer()
		r.dispatch(wf)
		r.finishChord(ctx)
	default:
		next := nextKeys(m.longer, len(r.pending))
		r.rearm(next)
		r.armChordTimer()
		r.publish(events.ChordEvent{Pending: shortcutTexts(r.pending), NextKeys: shortcutTexts(next)})
	}
}

// onTimeout runs a workflow whose full chord was typed but was waiting on
// longer chords sharing the prefix; otherwise the chord is abandoned.
func (r *Resolver) onTimeout(ctx context.Context) {
	r.chordTimer = nil
	if len(r.pending) == 0 {
		return
	}
	m := match(r.active, r.pending)
	if m.exact != nil {
		wf := *m.exact
		r.pending = nil
		r.dispatch(wf)
	} else {
		r.abandon("timeout")
	}
	r.finishChord(ctx)
}

// finishChord returns to idle, applying a deferred reload if one arrived
// while the chord was pending.
func (r *Resolver) finishChord(ctx context.Context) {
	r.pending = nil
	r.stopChordTimer()
	if r.reloadPending {
		r.reload(ctx)
		return
	}
	r.rearm(topLevel(r.active))
}

func (r *Resolver) abandon(reason string) {
	if len(r.pending) == 0 {
		return
	}
	r.publish(events.ChordEvent{Pending: shortcutTexts(r.pending), Reason: reason})
	r.pending = nil
	r.stopChordTimer()
}

func (r *Resolver) dispatch(wf model.Workflow) {
	slog.Debug("[DEBUG-CHORD] workflow matched", "workflow", wf.ID, "chord", chordText(wf.Chord()))
	r.publish(events.ChordEvent{Matched: wf.ID})
	if err := r.executor.Run(executor.JobFor(wf)); err != nil {
		slog.Warn("[DEBUG-CHORD] executor rejected workflow", "workflow", wf.ID, "error", err)
	}
}

// reload re-derives the eligible groups and re-arms the top-level set.
func (r *Resolver) reload(ctx context.Context) {
	r.reloadPending = false
	r.refreshContext(ctx)
	r.reportConflicts()
	r.rearm(topLevel(r.active))
}

func (r *Resolver) refreshContext(ctx context.Context) {
	snap, err := r.provider.Current(ctx)
	if err != nil {
		slog.Warn("[DEBUG-CHORD] context unavailable, keeping previous snapshot", "error", err)
	} else {
		r.snapshot = snap
	}
	r.active = contextfilter.Filter(r.groups, r.snapshot)
}

func (r *Resolver) rearm(target []model.KeyboardShortcut) {
	if err := r.registry.Rearm(target); err != nil {
		// Failures are reported by the registry; the resolver keeps going with
		// whatever subset did bind.
		slog.Debug("[DEBUG-CHORD] re-arm incomplete", "error", err)
	}
}

func (r *Resolver) reportConflicts() {
	conflicts := findConflicts(r.active)
	var sig strings.Builder
	for _, c := range conflicts {
		fmt.Fprintf(&sig, "%s|%s|%s;", c.Kind, c.Chord, strings.Join(c.WorkflowIDs, ","))
	}
	if sig.String() == r.lastConflicts {
		return
	}
	r.lastConflicts = sig.String()
	for _, c := range conflicts {
		slog.Warn("[DEBUG-CHORD] chord conflict", "kind", c.Kind, "chord", c.Chord, "workflows", c.WorkflowIDs)
		r.publish(c)
	}
}

func (r *Resolver) status() Status {
	st := Status{
		State:        StateIdle,
		Pending:      shortcutTexts(r.pending),
		Armed:        shortcutTexts(r.registry.Active()),
		Groups:       len(r.groups),
		ActiveGroups: len(r.active),
		FrontmostApp: r.snapshot.FrontmostApp,
	}
	if len(r.pending) > 0 {
		st.State = StatePending
	}
	return st
}

func (r *Resolver) publish(ev events.Event) {
	if r.publisher != nil {
		r.publisher.Publish(ev)
	}
}

func (r *Resolver) armChordTimer() {
	r.stopChordTimer()
	if r.timeout > 0 {
		r.chordTimer = time.NewTimer(r.timeout)
	}
}

func (r *Resolver) stopChordTimer() {
	if r.chordTimer != nil {
		r.chordTimer.Stop()
		r.chordTimer = nil
	}
}

func (r *Resolver) resetPoll() {
	if r.pollTicker != nil {
		r.pollTicker.Stop()
		r.pollTicker = nil
	}
	if r.pollInterval > 0 {
		r.pollTicker = time.NewTicker(r.pollInterval)
	}
}

func (r *Resolver) stopTimers() {
	r.stopChordTimer()
	if r.pollTicker != nil {
		r.pollTicker.Stop()
	}
}

// timerC and pollC return nil channels when disabled; a nil channel blocks
// forever in select.
func (r *Resolver) timerC() <-chan time.Time {
	if r.chordTimer == nil {
		return nil
	}
	return r.chordTimer.C
}

func (r *Resolver) pollC() <-chan time.Time {
	if r.pollTicker == nil {
		return nil
	}
	return r.pollTicker.C
}
