package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"keyflow/internal/chord"
	"keyflow/internal/config"
	"keyflow/internal/executor"
	"keyflow/internal/history"
	"keyflow/internal/hotkeys"
	"keyflow/internal/ipc"
	"keyflow/internal/model"
	"keyflow/internal/runners"
	"keyflow/internal/workerutil"
	"keyflow/internal/wsserver"
)

const shutdownWaitTimeout = 10 * time.Second

// Replaced in tests.
var newControlServerFn = ipc.NewServer

func (a *App) addPendingConfigLoadWarning(message string) {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return
	}
	a.startupWarnMu.Lock()
	a.configLoadWarnings = append(a.configLoadWarnings, trimmed)
	a.startupWarnMu.Unlock()
}

func (a *App) consumePendingConfigLoadWarnings() []string {
	a.startupWarnMu.Lock()
	defer a.startupWarnMu.Unlock()
	out := a.configLoadWarnings
	a.configLoadWarnings = nil
	return out
}

// Run starts the daemon and blocks until ctx is cancelled or a critical
// worker gives up.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	a.fatalMu.Lock()
	a.stop = stop
	a.fatalMu.Unlock()

	if err := a.startup(ctx); err != nil {
		stop()
		a.shutdown()
		return err
	}
	<-ctx.Done()
	a.shutdown()
	return a.fatal()
}

func (a *App) startup(ctx context.Context) error {
	a.setRuntimeContext(ctx)

	for _, message := range config.ConsumeDefaultPathWarnings() {
		a.addPendingConfigLoadWarning(message)
	}
	cfg, err := config.EnsureFile(a.configPath)
	if err != nil {
		// Config failures are never fatal: run with an empty configuration.
		cfg = config.DefaultConfig()
		a.addPendingConfigLoadWarning(fmt.Sprintf("failed to load config, running with defaults: %v", err))
	}
	a.configureLogging(cfg.Settings)
	slog.Info("[DEBUG-CONFIG] configuration loaded", "path", a.configPath)

	workerutil.RunWithPanicRecovery(ctx, "event-bus", &a.bgWG, a.bus.Run, a.workerRecoveryOptions())

	a.startHistory(cfg.Settings)
	a.startHub(ctx, cfg.Settings)
	a.subscribeObservers(ctx)

	if err := a.startEngine(ctx, cfg.Settings); err != nil {
		return err
	}
	a.applyConfig(ctx, cfg, a.consumePendingConfigLoadWarnings())

	a.startWatcher(ctx)
	a.startControl()
	return nil
}

// startEngine builds executor, hotkey registry and resolver and starts the
// resolver loop.
func (a *App) startEngine(ctx context.Context, s config.Settings) error {
	dispatcher := executor.NewDispatcher()
	runners.Install(dispatcher, runners.Deps{
		Lookup:  a.lookupWorkflow,
		Enqueue: a.enqueue,
		BuiltIns: map[string]func(context.Context) error{
			runners.ActionReloadConfig: a.reloadConfig,
			runners.ActionCancelChord:  a.cancelChord,
		},
	})

	exec, err := executor.New(ctx, executor.Options{
		Runner:     dispatcher,
		Policy:     policyFromSettings(s),
		OnComplete: a.onComplete,
		OnDrained:  a.onDrained,
	})
	if err != nil {
		return fmt.Errorf("create executor: %w", err)
	}
	a.executor = exec

	registry, err := a.newRegistry()
	if err != nil {
		return err
	}
	a.registry = registry

	resolver, err := chord.New(chord.Options{
		Registry:     registry,
		Executor:     exec,
		Context:      a.opts.Context,
		Publisher:    a.bus,
		Timeout:      s.ChordTimeout,
		PollInterval: s.ContextPollInterval,
	})
	if err != nil {
		return fmt.Errorf("create chord resolver: %w", err)
	}
	a.resolver = resolver
	workerutil.RunWithPanicRecovery(ctx, "chord-resolver", &a.bgWG, resolver.Run, a.workerRecoveryOptions())
	return nil
}

func (a *App) newRegistry() (*hotkeys.Registry, error) {
	opts := hotkeys.Options{
		OnInvoke:       a.onHotkey,
		OnRegistration: a.onRegistration,
	}
	registry, err := hotkeys.NewRegistry(a.opts.HotkeyBackend, opts)
	if err == nil {
		return registry, nil
	}
	slog.Warn("[hotkey] system hotkeys unavailable, shortcuts arrive only through keyflowctl press", "error", err)
	a.addPendingConfigLoadWarning("global hotkeys are unavailable: " + err.Error())
	registry, err = hotkeys.NewRegistry(hotkeys.NewVirtualBackend, opts)
	if err != nil {
		return nil, fmt.Errorf("create hotkey registry: %w", err)
	}
	return registry, nil
}

func (a *App) startHistory(s config.Settings) {
	path := s.ResolveHistoryPath(a.configPath)
	if path == "" {
		slog.Info("[DEBUG-HISTORY] history disabled")
		return
	}
	store, err := history.Open(path, s.HistoryKeep)
	if err != nil {
		slog.Warn("[WARN-HISTORY] history unavailable, runs will not be recorded", "path", path, "error", err)
		a.addPendingConfigLoadWarning("history unavailable: " + err.Error())
		return
	}
	a.history = store
}

func (a *App) startHub(ctx context.Context, s config.Settings) {
	if s.WebSocketPort < 0 {
		slog.Info("[DEBUG-WS] event stream disabled")
		return
	}
	hub := wsserver.NewHub(wsserver.HubOptions{
		Addr: net.JoinHostPort("127.0.0.1", strconv.Itoa(s.WebSocketPort)),
	})
	if err := hub.Start(ctx); err != nil {
		slog.Warn("[DEBUG-WS] event stream failed to start", "error", err)
		a.addPendingConfigLoadWarning("event stream unavailable: " + err.Error())
		return
	}
	a.hub = hub
}

func (a *App) startWatcher(ctx context.Context) {
	watcher, err := config.NewWatcher(a.configPath, 0, func() {
		if err := a.reloadConfig(ctx); err != nil {
			slog.Debug("[DEBUG-CONFIG] reload after file change failed", "error", err)
		}
	})
	if err != nil {
		slog.Warn("[WARN-CONFIG] config watcher unavailable, use keyflowctl reload", "error", err)
		return
	}
	workerutil.RunWithPanicRecovery(ctx, "config-watcher", &a.bgWG, watcher.Run, a.workerRecoveryOptions())
}

func (a *App) startControl() {
	if a.opts.DisableControl {
		return
	}
	server := newControlServerFn(a.opts.ControlEndpoint, a)
	if err := server.Start(); err != nil {
		slog.Warn("[ipc] control channel failed to start, keyflowctl is unavailable", "error", err)
		return
	}
	a.control = server
}

func (a *App) shutdown() {
	a.shuttingDown.Store(true)

	if a.control != nil {
		if err := a.control.Stop(); err != nil {
			slog.Warn("[ipc] control channel stop failed", "error", err)
		}
	}
	if a.executor != nil {
		a.executor.Close()
	}
	a.bus.Close()
	if !waitWithTimeout(a.bgWG.Wait, shutdownWaitTimeout) {
		slog.Warn("[DEBUG-PANIC] timed out waiting for background workers during shutdown")
	}
	// The resolver loop has exited; the registry has no other writer now.
	if a.registry != nil {
		if err := a.registry.Close(); err != nil {
			slog.Warn("[hotkey] registry close failed", "error", err)
		}
	}
	for _, unsubscribe := range a.unsubscribe {
		unsubscribe()
	}
	if a.hub != nil {
		if err := a.hub.Stop(); err != nil {
			slog.Warn("[DEBUG-WS] event stream stop failed", "error", err)
		}
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			slog.Warn("[WARN-HISTORY] history close failed", "error", err)
		}
	}
	a.closeLogFile()
	slog.Info("[DEBUG-CONFIG] keyflow stopped")
}

func waitWithTimeout(waitFn func(), timeout time.Duration) bool {
	// The waiting goroutine may outlive timeout when waitFn blocks; only used
	// during shutdown, where eventual completion is expected.
	done := make(chan struct{})
	go func() {
		waitFn()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// lookupWorkflow resolves a workflow id in the current configuration.
func (a *App) lookupWorkflow(id string) (model.Workflow, bool) {
	return model.FindWorkflow(a.groupsSnapshot(), id)
}

// enqueue appends a job to the executor queue.
func (a *App) enqueue(job executor.Job) error {
	exec, err := a.requireExecutor()
	if err != nil {
		return err
	}
	return exec.Run(job)
}

func (a *App) cancelChord(ctx context.Context) error {
	resolver, err := a.requireResolver()
	if err != nil {
		return err
	}
	if err := resolver.Cancel(ctx); err != nil && !errors.Is(err, chord.ErrStopped) {
		return err
	}
	return nil
}
