package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"

	"keyflow/internal/chord"
	"keyflow/internal/config"
	"keyflow/internal/contextfilter"
	"keyflow/internal/events"
	"keyflow/internal/executor"
	"keyflow/internal/history"
	"keyflow/internal/hotkeys"
	"keyflow/internal/ipc"
	"keyflow/internal/model"
	"keyflow/internal/wsserver"
)

// AppOptions configures the daemon. Zero values select the production
// implementations.
type AppOptions struct {
	// ConfigPath overrides config.DefaultPath.
	ConfigPath string
	// HotkeyBackend builds the OS hotkey backend. When it fails the daemon
	// keeps running on a virtual backend fed by the control channel.
	HotkeyBackend hotkeys.BackendFactory
	// Context reports the frontmost application and weekday.
	Context contextfilter.Provider
	// ControlEndpoint overrides ipc.DefaultEndpoint.
	ControlEndpoint string
	DisableControl  bool
	// LogLevel, when set, wins over settings.log_level.
	LogLevel string
	// LogOutput receives the text log. Defaults to stderr.
	LogOutput io.Writer
}

// App is the keyflow daemon: it owns every engine service and the wiring
// between them.
type App struct {
	opts AppOptions

	// Runtime context lifecycle.
	ctx   context.Context
	ctxMu sync.RWMutex

	// Configuration state.
	// Lock ordering (outer -> inner):
	//   reloadMu -> cfgMu
	reloadMu   sync.Mutex
	cfgMu      sync.RWMutex
	cfg        config.Config
	groups     []model.Group
	configPath string

	startupWarnMu      sync.Mutex
	configLoadWarnings []string

	logLevel slog.LevelVar
	logFile  *lumberjack.Logger

	// Engine services. Written once during startup before any worker that
	// reads them is started; never reassigned.
	bus      *events.Bus
	executor *executor.Executor
	resolver *chord.Resolver
	registry *hotkeys.Registry

	// Optional services; nil when disabled or failed to start.
	history *history.Store
	hub     *wsserver.Hub
	control *ipc.Server

	unsubscribe []func()

	shuttingDown atomic.Bool
	bgWG         sync.WaitGroup

	fatalMu  sync.Mutex
	fatalErr error
	stop     context.CancelFunc
}

// NewApp creates the daemon. Nothing runs until Run.
func NewApp(opts AppOptions) *App {
	if opts.HotkeyBackend == nil {
		opts.HotkeyBackend = hotkeys.NewSystemBackend
	}
	if opts.Context == nil {
		opts.Context = contextfilter.SystemProvider{}
	}
	if opts.LogOutput == nil {
		opts.LogOutput = os.Stderr
	}
	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = config.DefaultPath()
	}
	return &App{
		opts:       opts,
		configPath: configPath,
		bus:        events.NewBus(0),
	}
}

// Bus returns the event bus. It is usable before Run.
func (a *App) Bus() *events.Bus {
	return a.bus
}
