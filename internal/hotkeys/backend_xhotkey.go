//go:build darwin || linux

package hotkeys

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.design/x/hotkey"
)

// xhotkeyBinding is one registered golang.design/x/hotkey handle plus the
// goroutine pumping its keydown channel.
type xhotkeyBinding struct {
	hk     *hotkey.Hotkey
	stopCh chan struct{}
	doneCh chan struct{}
}

type xhotkeyBackend struct {
	trigger func(id uint32)

	mu       sync.Mutex
	bindings map[uint32]*xhotkeyBinding
	closed   bool
}

// NewSystemBackend returns a backend built on golang.design/x/hotkey.
// On macOS the process must run its main loop through mainthread.Init.
func NewSystemBackend(trigger func(id uint32)) (Backend, error) {
	if trigger == nil {
		return nil, errors.New("trigger callback is required")
	}
	return &xhotkeyBackend{
		trigger:  trigger,
		bindings: make(map[uint32]*xhotkeyBinding),
	}, nil
}

func (b *xhotkeyBackend) Register(h Hotkey) error {
	mods, key, err := xhotkeyCodes(h.Shortcut)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New("hotkey backend is closed")
	}
	if _, exists := b.bindings[h.ID]; exists {
		return fmt.Errorf("hotkey id %d is already registered", h.ID)
	}

	native := hotkey.New(mods, key)
	if err := native.Register(); err != nil {
		return err
	}
	binding := &xhotkeyBinding{
		hk:     native,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	b.bindings[h.ID] = binding
	go b.pump(h.ID, binding)
	return nil
}

func (b *xhotkeyBackend) pump(id uint32, binding *xhotkeyBinding) {
	defer close(binding.doneCh)
	keydown := binding.hk.Keydown()
	for {
		select {
		case <-binding.stopCh:
			return
		case _, ok := <-keydown:
			if !ok {
				return
			}
			b.trigger(id)
		}
	}
}

func (b *xhotkeyBackend) Unregister(h Hotkey) error {
	b.mu.Lock()
	binding, ok := b.bindings[h.ID]
	if ok {
		delete(b.bindings, h.ID)
	}
	b.mu.Unlock()
	if !ok {
		return nil
	}
	return stopBinding(binding)
}

func (b *xhotkeyBackend) Close() error {
	b.mu.Lock()
	b.closed = true
	bindings := b.bindings
	b.bindings = make(map[uint32]*xhotkeyBinding)
	b.mu.Unlock()

	var errs []error
	for id, binding := range bindings {
		if err := stopBinding(binding); err != nil {
			errs = append(errs, fmt.Errorf("id %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func stopBinding(binding *xhotkeyBinding) error {
	close(binding.stopCh)
	err := binding.hk.Unregister()
	<-binding.doneCh
	if err != nil {
		slog.Warn("[hotkey] native unregister failed", "error", err)
	}
	return err
}
