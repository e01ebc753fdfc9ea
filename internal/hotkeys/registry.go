// Package hotkeys keeps the set of OS-level global hotkeys in sync with the
// keys the chord resolver is waiting for.
//
// The OS layer never sees Go pointers. Each bound shortcut gets a small
// integer id from an arena owned by the Registry; backends deliver that id on
// invocation and the Registry maps it back to the shortcut.
package hotkeys

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"keyflow/internal/model"
)

// Signature scopes hotkey ids to this process on backends that need one.
const Signature uint32 = 'k'<<24 | 'f'<<16 | 'l'<<8 | 'w'

// ErrUnsupported is returned by backends on platforms without global hotkeys.
var ErrUnsupported = errors.New("global hotkeys are not supported on this platform")

// Hotkey is a shortcut bound to the OS under an arena id.
type Hotkey struct {
	ID        uint32
	Signature uint32
	Shortcut  model.KeyboardShortcut
}

// Backend binds hotkeys to the OS. Implementations deliver invocations by
// calling the trigger function given to their factory with the Hotkey ID.
type Backend interface {
	Register(hk Hotkey) error
	Unregister(hk Hotkey) error
	Close() error
}

// BackendFactory builds a Backend that reports invocations through trigger.
type BackendFactory func(trigger func(id uint32)) (Backend, error)

// RegistrationError reports a shortcut the OS refused to bind.
type RegistrationError struct {
	Shortcut model.KeyboardShortcut
	Err      error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("register hotkey %s: %v", e.Shortcut, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// Options configures a Registry.
type Options struct {
	// OnInvoke receives shortcuts pressed by the user. It is called on the
	// backend's delivery goroutine and must not block.
	OnInvoke func(model.KeyboardShortcut)
	// OnRegistration observes every register attempt; err is nil on success.
	OnRegistration func(sc model.KeyboardShortcut, err error)
}

// Registry tracks the active hotkey set.
// Mutating calls are expected from a single goroutine; lookups from the
// backend delivery path are safe concurrently.
type Registry struct {
	backend Backend
	opts    Options

	mu     sync.Mutex
	active map[model.KeyboardShortcut]Hotkey
	arena  *idArena
}

// NewRegistry creates a registry whose backend is built by factory.
func NewRegistry(factory BackendFactory, opts Options) (*Registry, error) {
	if factory == nil {
		return nil, errors.New("backend factory is required")
	}
	r := &Registry{
		opts:   opts,
		active: make(map[model.KeyboardShortcut]Hotkey),
		arena:  newIDArena(),
	}
	backend, err := factory(r.trigger)
	if err != nil {
		return nil, fmt.Errorf("create hotkey backend: %w", err)
	}
	r.backend = backend
	return r, nil
}

// Register binds sc. Registering an already bound shortcut is a no-op.
// On failure the shortcut is not part of the active set.
func (r *Registry) Register(sc model.KeyboardShortcut) error {
	r.mu.Lock()
	if _, ok := r.active[sc]; ok {
		r.mu.Unlock()
		return nil
	}
	id, err := r.arena.acquire()
	if err != nil {
		r.mu.Unlock()
		return r.reportRegistration(sc, err)
	}
	hk := Hotkey{ID: id, Signature: Signature, Shortcut: sc}
	r.arena.bind(id, sc)
	r.active[sc] = hk
	r.mu.Unlock()

	if err := r.backend.Register(hk); err != nil {
		r.mu.Lock()
		delete(r.active, sc)
		r.arena.release(id)
		r.mu.Unlock()
		return r.reportRegistration(sc, err)
	}
	return r.reportRegistration(sc, nil)
}

// Unregister releases sc. It is a no-op when sc is not bound.
func (r *Registry) Unregister(sc model.KeyboardShortcut) error {
	r.mu.Lock()
	hk, ok := r.active[sc]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.active, sc)
	r.arena.release(hk.ID)
	r.mu.Unlock()

	if err := r.backend.Unregister(hk); err != nil {
		slog.Warn("[hotkey] unregister failed", "shortcut", sc.String(), "id", hk.ID, "error", err)
		return fmt.Errorf("unregister hotkey %s: %w", sc, err)
	}
	return nil
}

// Rearm changes the active set to target, touching only the difference.
// Shortcuts present in both sets stay bound throughout.
// Registration failures are joined into the returned error; the rest of the
// target is still applied.
func (r *Registry) Rearm(target []model.KeyboardShortcut) error {
	want := make(map[model.KeyboardShortcut]struct{}, len(target))
	for _, sc := range target {
		want[sc] = struct{}{}
	}

	var drop []model.KeyboardShortcut
	for _, sc := range r.Active() {
		if _, keep := want[sc]; !keep {
			drop = append(drop, sc)
		}
	}

	var errs []error
	for _, sc := range drop {
		if err := r.Unregister(sc); err != nil {
			errs = append(errs, err)
		}
	}
	for _, sc := range target {
		if r.IsRegistered(sc) {
			continue
		}
		if err := r.Register(sc); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Active returns the bound shortcuts in canonical text order.
func (r *Registry) Active() []model.KeyboardShortcut {
	r.mu.Lock()
	out := make([]model.KeyboardShortcut, 0, len(r.active))
	for sc := range r.active {
		out = append(out, sc)
	}
	r.mu.Unlock()
	slices.SortFunc(out, func(a, b model.KeyboardShortcut) int {
		switch {
		case a.String() < b.String():
			return -1
		case a.String() > b.String():
			return 1
		default:
			return 0
		}
	})
	return out
}

// IsRegistered reports whether sc is currently bound.
func (r *Registry) IsRegistered(sc model.KeyboardShortcut) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[sc]
	return ok
}

// Close unregisters everything and shuts the backend down.
func (r *Registry) Close() error {
	var errs []error
	for _, sc := range r.Active() {
		if err := r.Unregister(sc); err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.backend.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ErrNotArmed is returned by Inject for shortcuts that are not bound.
var ErrNotArmed = errors.New("shortcut is not armed")

// Inject delivers sc as if the OS had reported it. Only armed shortcuts can
// be injected, mirroring what the OS would deliver.
func (r *Registry) Inject(sc model.KeyboardShortcut) error {
	r.mu.Lock()
	hk, ok := r.active[sc]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", sc, ErrNotArmed)
	}
	r.trigger(hk.ID)
	return nil
}

// trigger is handed to the backend. Stale ids (released between the OS event
// and delivery) are dropped.
func (r *Registry) trigger(id uint32) {
	r.mu.Lock()
	sc, ok := r.arena.lookup(id)
	r.mu.Unlock()
	if !ok {
		slog.Debug("[hotkey] dropped invocation for released id", "id", id)
		return
	}
	if r.opts.OnInvoke != nil {
		r.opts.OnInvoke(sc)
	}
}

func (r *Registry) reportRegistration(sc model.KeyboardShortcut, err error) error {
	if err != nil {
		err = &RegistrationError{Shortcut: sc, Err: err}
		slog.Warn("[hotkey] registration refused", "shortcut", sc.String(), "error", err)
	}
	if r.opts.OnRegistration != nil {
		r.opts.OnRegistration(sc, err)
	}
	return err
}
