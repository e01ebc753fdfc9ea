package main

import (
	"io"
	"log/slog"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"keyflow/internal/config"
	"keyflow/internal/sessionlog"
)

// configureLogging installs the process logger: text records to LogOutput
// (and the rotated log file when configured), warnings and errors mirrored
// onto the event bus.
func (a *App) configureLogging(s config.Settings) {
	a.applyLogLevel(s)

	out := a.opts.LogOutput
	if path := s.ResolveLogFile(a.configPath); path != "" {
		a.logFile = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    s.LogMaxSizeMB,
			MaxBackups: s.LogMaxBackups,
			Compress:   true,
		}
		out = io.MultiWriter(out, a.logFile)
	}

	text := slog.NewTextHandler(out, &slog.HandlerOptions{Level: &a.logLevel})
	slog.SetDefault(slog.New(sessionlog.NewTeeHandler(text, slog.LevelWarn, sessionlog.BusSink(a.bus))))
}

// applyLogLevel sets the level from settings unless the command line fixed it.
func (a *App) applyLogLevel(s config.Settings) {
	if override := strings.TrimSpace(a.opts.LogLevel); override != "" {
		s.LogLevel = override
	}
	a.logLevel.Set(s.SlogLevel())
}

func (a *App) closeLogFile() {
	if a.logFile == nil {
		return
	}
	if err := a.logFile.Close(); err != nil {
		slog.Debug("[DEBUG-CONFIG] log file close failed", "error", err)
	}
}
