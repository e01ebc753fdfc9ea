package main

import (
	"slices"

	"keyflow/internal/config"
	"keyflow/internal/model"
)

// getConfigSnapshot returns a deep copy of the active configuration.
func (a *App) getConfigSnapshot() config.Config {
	a.cfgMu.RLock()
	defer a.cfgMu.RUnlock()
	return config.Clone(a.cfg)
}

// setConfigState stores the configuration and the groups built from it.
// groups is owned by the App afterwards and never mutated.
func (a *App) setConfigState(cfg config.Config, groups []model.Group) {
	cloned := config.Clone(cfg)
	a.cfgMu.Lock()
	a.cfg = cloned
	a.groups = groups
	a.cfgMu.Unlock()
}

// groupsSnapshot returns the active groups. The slice header is copied; the
// groups themselves are immutable once built.
func (a *App) groupsSnapshot() []model.Group {
	a.cfgMu.RLock()
	defer a.cfgMu.RUnlock()
	return slices.Clone(a.groups)
}
