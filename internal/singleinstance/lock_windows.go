//go:build windows

package singleinstance

import (
	"errors"
	"fmt"

	"golang.org/x/sys/windows"

	"keyflow/internal/userutil"
)

// acquire creates a named mutex owned by this process. CreateMutex reports
// ERROR_ALREADY_EXISTS together with a valid handle when another process
// created it first.
func acquire(name string) (func() error, error) {
	ptr, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, fmt.Errorf("singleinstance: mutex name %q: %w", name, err)
	}
	h, err := windows.CreateMutex(nil, true, ptr)
	if err != nil {
		if h != 0 {
			_ = windows.CloseHandle(h)
		}
		if errors.Is(err, windows.ERROR_ALREADY_EXISTS) {
			return nil, ErrAlreadyRunning
		}
		return nil, fmt.Errorf("singleinstance: CreateMutex %q: %w", name, err)
	}
	return func() error { return windows.CloseHandle(h) }, nil
}

// DefaultName is the per-user mutex name, matching the control pipe from
// ipc.DefaultEndpoint.
func DefaultName() string {
	return `Global\keyflow-` + userutil.CurrentUsername()
}
