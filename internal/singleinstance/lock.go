// Package singleinstance keeps one keyflow daemon per user: two daemons
// would fight over the same global hotkeys.
package singleinstance

import "errors"

// ErrAlreadyRunning is returned by TryLock when another instance holds the lock.
var ErrAlreadyRunning = errors.New("another instance is already running")

// Lock is a held instance lock. The operating system drops it when the
// owning process exits, so a crashed daemon never leaves it stuck.
type Lock struct {
	release func() error
}

// TryLock takes the lock identified by name without blocking. name is a
// file path on unix and a mutex name on Windows; DefaultName picks one.
func TryLock(name string) (*Lock, error) {
	if name == "" {
		return nil, errors.New("singleinstance: lock name is required")
	}
	release, err := acquire(name)
	if err != nil {
		return nil, err
	}
	return &Lock{release: release}, nil
}

// Release gives the lock up. It is idempotent and safe on a nil Lock.
func (l *Lock) Release() error {
	if l == nil || l.release == nil {
		return nil
	}
	release := l.release
	l.release = nil
	return release()
}
