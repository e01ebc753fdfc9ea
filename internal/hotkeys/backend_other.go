//go:build !windows && !darwin && !linux

package hotkeys

// NewSystemBackend reports ErrUnsupported on platforms without a hotkey API.
func NewSystemBackend(func(id uint32)) (Backend, error) {
	return nil, ErrUnsupported
}
