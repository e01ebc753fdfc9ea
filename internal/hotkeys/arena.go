package hotkeys

import (
	"fmt"

	"keyflow/internal/model"
)

// Application-defined hotkey id range (Win32 RegisterHotKey).
const (
	minHotkeyID uint32 = 0x4000
	maxHotkeyID uint32 = 0xBFFF
)

// idArena hands out ids from [minHotkeyID, maxHotkeyID] and reuses released
// ones. Not safe for concurrent use; Registry guards it.
type idArena struct {
	next  uint32
	free  []uint32
	slots map[uint32]model.KeyboardShortcut
}

func newIDArena() *idArena {
	return &idArena{
		next:  minHotkeyID,
		slots: make(map[uint32]model.KeyboardShortcut),
	}
}

func (a *idArena) acquire() (uint32, error) {
	if n := len(a.free); n > 0 {
		id := a.free[n-1]
		a.free = a.free[:n-1]
		return id, nil
	}
	if a.next > maxHotkeyID {
		return 0, fmt.Errorf("hotkey id range exhausted (%d ids in use)", len(a.slots))
	}
	id := a.next
	a.next++
	return id, nil
}

func (a *idArena) bind(id uint32, sc model.KeyboardShortcut) {
	a.slots[id] = sc
}

func (a *idArena) lookup(id uint32) (model.KeyboardShortcut, bool) {
	sc, ok := a.slots[id]
	return sc, ok
}

func (a *idArena) release(id uint32) {
	if _, ok := a.slots[id]; !ok {
		return
	}
	delete(a.slots, id)
	a.free = append(a.free, id)
}
