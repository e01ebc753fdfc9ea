package hotkeys

import "sync"

// NewVirtualBackend returns a backend that binds nothing at the OS level.
// Shortcuts only arrive through Registry.Inject. The daemon falls back to it
// when the platform backend is unavailable (headless sessions, no X server).
func NewVirtualBackend(func(id uint32)) (Backend, error) {
	return &virtualBackend{bound: make(map[uint32]Hotkey)}, nil
}

type virtualBackend struct {
	mu    sync.Mutex
	bound map[uint32]Hotkey
}

func (b *virtualBackend) Register(hk Hotkey) error {
	b.mu.Lock()
	b.bound[hk.ID] = hk
	b.mu.Unlock()
	return nil
}

func (b *virtualBackend) Unregister(hk Hotkey) error {
	b.mu.Lock()
	delete(b.bound, hk.ID)
	b.mu.Unlock()
	return nil
}

func (b *virtualBackend) Close() error {
	b.mu.Lock()
	clear(b.bound)
	b.mu.Unlock()
	return nil
}
