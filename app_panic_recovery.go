package main

import (
	"fmt"

	"keyflow/internal/workerutil"
)

// workerRecoveryOptions restarts panicking workers until shutdown. A worker
// that exhausts its retries takes the daemon down: without the resolver or
// the bus no hotkey can work.
func (a *App) workerRecoveryOptions() workerutil.RecoveryOptions {
	return workerutil.RecoveryOptions{
		OnFatal: func(worker string, maxRetries int) {
			a.fail(fmt.Errorf("worker %s panicked %d times", worker, maxRetries))
		},
		IsShutdown: a.shuttingDown.Load,
	}
}

// fail records the first fatal error and stops Run.
func (a *App) fail(err error) {
	a.fatalMu.Lock()
	if a.fatalErr == nil {
		a.fatalErr = err
	}
	stop := a.stop
	a.fatalMu.Unlock()
	if stop != nil {
		stop()
	}
}

func (a *App) fatal() error {
	a.fatalMu.Lock()
	defer a.fatalMu.Unlock()
	return a.fatalErr
}
