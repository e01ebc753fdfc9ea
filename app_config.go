package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"keyflow/internal/chord"
	"keyflow/internal/config"
	"keyflow/internal/events"
	"keyflow/internal/executor"
)

func policyFromSettings(s config.Settings) executor.Policy {
	return executor.Policy{
		AgentApplications: s.AgentApplications,
		Timeouts:          s.Timeouts(),
		ConcurrencyLimit:  s.ConcurrencyLimit,
	}
}

// applyConfig builds cfg and pushes it to every engine service. Entries that
// fail validation are skipped and reported as warnings on the ConfigEvent.
func (a *App) applyConfig(ctx context.Context, cfg config.Config, warnings []string) {
	groups, buildWarnings := config.Build(cfg)
	warnings = append(warnings, buildWarnings...)

	a.setConfigState(cfg, groups)
	a.applyLogLevel(cfg.Settings)
	if exec, err := a.requireExecutor(); err == nil {
		exec.SetPolicy(policyFromSettings(cfg.Settings))
	}
	if resolver, err := a.requireResolver(); err == nil {
		if err := resolver.SetTiming(ctx, cfg.Settings.ChordTimeout, cfg.Settings.ContextPollInterval); err != nil {
			slog.Debug("[DEBUG-CONFIG] resolver timing not applied", "error", err)
		}
		if err := resolver.SetGroups(ctx, groups); err != nil {
			slog.Debug("[DEBUG-CONFIG] resolver groups not applied", "error", err)
		}
	}

	groupCount, workflowCount := config.Stats(groups)
	slog.Info("[DEBUG-CONFIG] configuration applied", "groups", groupCount, "workflows", workflowCount, "warnings", len(warnings))
	a.bus.Publish(events.ConfigEvent{
		Path:      a.configPath,
		Groups:    groupCount,
		Workflows: workflowCount,
		Warnings:  warnings,
	})
}

// reloadConfig re-reads the config file. A file that cannot be read or
// parsed leaves the active configuration in place.
func (a *App) reloadConfig(ctx context.Context) error {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()

	cfg, err := config.Load(a.configPath)
	if err != nil {
		slog.Warn("[WARN-CONFIG] reload failed, keeping current configuration", "path", a.configPath, "error", err)
		a.bus.Publish(events.ConfigEvent{Path: a.configPath, Error: err.Error()})
		return fmt.Errorf("reload config: %w", err)
	}

	previous := a.getConfigSnapshot()
	a.applyConfig(ctx, cfg, restartRequiredWarnings(previous.Settings, cfg.Settings))
	return nil
}

// restartRequiredWarnings lists changed settings that are only read at startup.
func restartRequiredWarnings(prev, next config.Settings) []string {
	var out []string
	check := func(name string, changed bool) {
		if changed {
			msg := name + " changed; restart keyflow to apply it"
			slog.Warn("[WARN-CONFIG] setting requires restart", "setting", name)
			out = append(out, msg)
		}
	}
	check("websocket_port", prev.WebSocketPort != next.WebSocketPort)
	check("history_path", prev.HistoryPath != next.HistoryPath || prev.HistoryKeep != next.HistoryKeep)
	check("log_file", prev.LogFile != next.LogFile ||
		prev.LogMaxSizeMB != next.LogMaxSizeMB ||
		prev.LogMaxBackups != next.LogMaxBackups)
	return out
}

// statusOrStopped maps a stopped resolver to a readable error.
func statusOrStopped(err error) error {
	if errors.Is(err, chord.ErrStopped) {
		return errors.New("keyflow is shutting down")
	}
	return err
}
