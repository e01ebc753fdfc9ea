package main

import (
	"errors"

	"keyflow/internal/chord"
	"keyflow/internal/executor"
	"keyflow/internal/history"
	"keyflow/internal/hotkeys"
)

func (a *App) requireResolver() (*chord.Resolver, error) {
	if a.resolver == nil {
		return nil, errors.New("chord resolver is unavailable")
	}
	return a.resolver, nil
}

func (a *App) requireExecutor() (*executor.Executor, error) {
	if a.executor == nil {
		return nil, errors.New("executor is unavailable")
	}
	return a.executor, nil
}

func (a *App) requireRegistry() (*hotkeys.Registry, error) {
	if a.registry == nil {
		return nil, errors.New("hotkey registry is unavailable")
	}
	return a.registry, nil
}

func (a *App) requireHistory() (*history.Store, error) {
	if a.history == nil {
		return nil, errors.New("history is disabled")
	}
	return a.history, nil
}
