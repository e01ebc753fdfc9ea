package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.design/x/hotkey/mainthread"

	"keyflow/internal/config"
	"keyflow/internal/hotkeys"
	"keyflow/internal/singleinstance"
)

const version = "0.1.0"

// EnvLogLevel overrides settings.log_level.
const EnvLogLevel = "KEYFLOW_LOG_LEVEL"

var (
	flagConfig    string
	flagLogLevel  string
	flagPipe      string
	flagNoHotkeys bool
	flagNoControl bool
)

var rootCmd = &cobra.Command{
	Use:   "keyflow",
	Short: "Keyboard-chord workflow daemon",
	Long: `keyflow binds global keyboard chords to workflows of commands and runs
them when typed. Use keyflowctl to inspect and drive a running daemon.`,
	Version:       version,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runDaemon(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVarP(&flagConfig, "config", "c", "", "config file (default $"+config.EnvConfigPath+" or the per-user config directory)")
	rootCmd.Flags().StringVar(&flagLogLevel, "log-level", "", "debug, info, warn or error (default $"+EnvLogLevel+" or settings.log_level)")
	rootCmd.Flags().StringVar(&flagPipe, "pipe", "", "control endpoint (default per-user pipe or socket)")
	rootCmd.Flags().BoolVar(&flagNoHotkeys, "no-hotkeys", false, "do not grab OS hotkeys; shortcuts arrive only through keyflowctl press")
	rootCmd.Flags().BoolVar(&flagNoControl, "no-control", false, "do not serve the keyflowctl control channel")
}

func main() {
	var err error
	// The hotkey backend needs the OS main thread on macOS.
	mainthread.Init(func() {
		err = rootCmd.ExecuteContext(context.Background())
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "keyflow: %v\n", err)
		os.Exit(1)
	}
}

func runDaemon(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}

	lock, err := singleinstance.TryLock(singleinstance.DefaultName())
	if errors.Is(err, singleinstance.ErrAlreadyRunning) {
		return errors.New("another keyflow daemon is already running for this user")
	}
	if err != nil {
		slog.Warn("[DEBUG-SINGLE] instance lock failed, proceeding without single-instance guard", "error", err)
	}
	if lock != nil {
		defer func() {
			if releaseErr := lock.Release(); releaseErr != nil {
				slog.Warn("[DEBUG-SINGLE] instance lock release failed", "error", releaseErr)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return NewApp(daemonOptions()).Run(ctx)
}

func daemonOptions() AppOptions {
	opts := AppOptions{
		ConfigPath:      flagConfig,
		ControlEndpoint: flagPipe,
		DisableControl:  flagNoControl,
		LogLevel:        flagLogLevel,
	}
	if opts.LogLevel == "" {
		opts.LogLevel = os.Getenv(EnvLogLevel)
	}
	if flagNoHotkeys {
		opts.HotkeyBackend = hotkeys.NewVirtualBackend
	}
	return opts
}
