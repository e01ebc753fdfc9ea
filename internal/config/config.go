// Package config loads, validates and persists the keyflow configuration
// file and converts it into the engine's model types.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"go.yaml.in/yaml/v3"

	"keyflow/internal/model"
)

const (
	maxConfigFileBytes int64 = 1 << 20 // 1MB
	maxRenameRetry           = 10
	// Windows file lock releases (antivirus/indexing) typically settle quickly.
	// Use a short linear backoff: baseDelay * (1..maxRenameRetry).
	renameRetryBaseDelay = 10 * time.Millisecond
	// maxValidPort is the highest TCP port number. Port 0 means "OS auto-assign".
	maxValidPort = 65535

	defaultConcurrencyLimit = 8
	defaultHistoryKeep      = 1000
	defaultLogLevel         = "info"
	defaultLogMaxSizeMB     = 10
	defaultLogMaxBackups    = 3

	// HistoryOff disables the run journal.
	HistoryOff      = "off"
	historyFileName = "history.db"

	// EnvConfigPath overrides DefaultPath.
	EnvConfigPath = "KEYFLOW_CONFIG"
)

// defaultConfigDirFn is a test seam; tests override it to simulate
// directory-resolution failures in validateConfigPath.
var defaultConfigDirFn = defaultConfigDir
var userHomeDirFn = os.UserHomeDir
var defaultPathWarningState struct {
	mu       sync.Mutex
	messages []string
}

func recordDefaultPathWarning(message string) {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return
	}
	defaultPathWarningState.mu.Lock()
	defaultPathWarningState.messages = append(defaultPathWarningState.messages, trimmed)
	defaultPathWarningState.mu.Unlock()
}

// ConsumeDefaultPathWarnings returns and clears path-resolution warnings
// accumulated during DefaultPath() calls.
func ConsumeDefaultPathWarnings() []string {
	defaultPathWarningState.mu.Lock()
	defer defaultPathWarningState.mu.Unlock()
	if len(defaultPathWarningState.messages) == 0 {
		return nil
	}
	out := slices.Clone(defaultPathWarningState.messages)
	defaultPathWarningState.messages = nil
	return out
}

// Config is the keyflow configuration file.
type Config struct {
	Settings Settings      `yaml:"settings" json:"settings"`
	Groups   []GroupConfig `yaml:"groups" json:"groups"`
}

// Settings are daemon-wide options.
type Settings struct {
	// ChordTimeout abandons a partially typed chord. 0 waits forever.
	ChordTimeout time.Duration `yaml:"chord_timeout" json:"chord_timeout"`
	// ContextPollInterval re-derives the frontmost application while idle. 0 disables polling.
	ContextPollInterval time.Duration `yaml:"context_poll_interval" json:"context_poll_interval"`
	ConcurrencyLimit    int           `yaml:"concurrency_limit" json:"concurrency_limit"`
	// AgentApplications are applications whose application-command failures
	// do not abort the rest of a workflow.
	AgentApplications []string                 `yaml:"agent_applications,omitempty" json:"agent_applications,omitempty"`
	CommandTimeouts   map[string]time.Duration `yaml:"command_timeouts,omitempty" json:"command_timeouts,omitempty"`
	// HistoryPath is the sqlite journal. Empty uses history.db next to the config file; "off" disables it.
	HistoryPath string `yaml:"history_path,omitempty" json:"history_path,omitempty"`
	HistoryKeep int    `yaml:"history_keep" json:"history_keep"`
	// WebSocketPort is the port of the local event stream. 0 lets the OS
	// pick one; -1 disables the stream.
	WebSocketPort int    `yaml:"websocket_port" json:"websocket_port"`
	LogLevel      string `yaml:"log_level" json:"log_level"`
	// LogFile mirrors the daemon log into a rotated file. Empty keeps stderr only;
	// a relative path is resolved against the config directory.
	LogFile       string `yaml:"log_file,omitempty" json:"log_file,omitempty"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb" json:"log_max_size_mb"`
	LogMaxBackups int    `yaml:"log_max_backups" json:"log_max_backups"`
}

// GroupConfig is one group entry.
type GroupConfig struct {
	ID        string           `yaml:"id,omitempty" json:"id,omitempty"`
	Name      string           `yaml:"name" json:"name"`
	Rule      RuleConfig       `yaml:"rule,omitempty" json:"rule,omitempty"`
	Workflows []WorkflowConfig `yaml:"workflows" json:"workflows"`
}

// RuleConfig restricts when a group is eligible.
type RuleConfig struct {
	Applications []string `yaml:"applications,omitempty" json:"applications,omitempty"`
	Days         []string `yaml:"days,omitempty" json:"days,omitempty"`
}

// WorkflowConfig is one workflow entry. Enabled defaults to true when absent.
type WorkflowConfig struct {
	ID        string          `yaml:"id,omitempty" json:"id,omitempty"`
	Name      string          `yaml:"name" json:"name"`
	Enabled   *bool           `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Execution string          `yaml:"execution,omitempty" json:"execution,omitempty"`
	Trigger   TriggerConfig   `yaml:"trigger" json:"trigger"`
	Commands  []CommandConfig `yaml:"commands" json:"commands"`
}

// TriggerConfig holds exactly one trigger.
type TriggerConfig struct {
	Keyboard    []string                  `yaml:"keyboard,omitempty" json:"keyboard,omitempty"`
	Application *ApplicationTriggerConfig `yaml:"application,omitempty" json:"application,omitempty"`
}

// ApplicationTriggerConfig is carried for completeness; the engine does not fire it.
type ApplicationTriggerConfig struct {
	Application string `yaml:"application" json:"application"`
	Event       string `yaml:"event" json:"event"`
}

// CommandConfig is a kind-tagged command. Fields irrelevant to Kind are ignored.
type CommandConfig struct {
	Kind              string        `yaml:"kind" json:"kind"`
	ID                string        `yaml:"id,omitempty" json:"id,omitempty"`
	Name              string        `yaml:"name,omitempty" json:"name,omitempty"`
	Enabled           *bool         `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Notify            bool          `yaml:"notify,omitempty" json:"notify,omitempty"`
	ContinueOnFailure bool          `yaml:"continue_on_failure,omitempty" json:"continue_on_failure,omitempty"`
	Timeout           time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	Action      string   `yaml:"action,omitempty" json:"action,omitempty"`
	Application string   `yaml:"application,omitempty" json:"application,omitempty"`
	Path        string   `yaml:"path,omitempty" json:"path,omitempty"`
	Target      string   `yaml:"target,omitempty" json:"target,omitempty"`
	Source      string   `yaml:"source,omitempty" json:"source,omitempty"`
	Interpreter string   `yaml:"interpreter,omitempty" json:"interpreter,omitempty"`
	TTY         bool     `yaml:"tty,omitempty" json:"tty,omitempty"`
	Shortcuts   []string `yaml:"shortcuts,omitempty" json:"shortcuts,omitempty"`
	Input       string   `yaml:"input,omitempty" json:"input,omitempty"`
	Workflow    string   `yaml:"workflow,omitempty" json:"workflow,omitempty"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	return Config{
		Settings: Settings{
			ConcurrencyLimit: defaultConcurrencyLimit,
			HistoryKeep:      defaultHistoryKeep,
			LogLevel:         defaultLogLevel,
			LogMaxSizeMB:     defaultLogMaxSizeMB,
			LogMaxBackups:    defaultLogMaxBackups,
		},
		Groups: []GroupConfig{},
	}
}

// DefaultPath resolves the config file path: KEYFLOW_CONFIG when set, else
// LOCALAPPDATA, then APPDATA, then ~/.config, and finally os.TempDir() if the
// home directory cannot be resolved.
func DefaultPath() string {
	if override := strings.TrimSpace(os.Getenv(EnvConfigPath)); override != "" {
		return filepath.Clean(override)
	}
	base := strings.TrimSpace(os.Getenv("LOCALAPPDATA"))
	if base == "" {
		base = strings.TrimSpace(os.Getenv("APPDATA"))
	}
	if base == "" {
		home, err := userHomeDirFn()
		if err != nil {
			// Keep config path resolvable even in restricted environments.
			slog.Warn("[WARN-CONFIG] using temp dir as config path fallback", "error", err)
			recordDefaultPathWarning(
				"Config path fallback: failed to resolve LOCALAPPDATA/APPDATA/home directory. Using temp directory; settings persistence may be limited.",
			)
			base = os.TempDir()
		} else {
			base = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(base, "keyflow", "config.yaml")
}

// Load reads the config file. A missing or empty file yields defaults.
// On a parse error the defaults are returned together with the error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, errors.New("config path required")
	}

	raw, err := readLimitedFile(path, maxConfigFileBytes)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, err
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		slog.Warn("[WARN-CONFIG] failed to parse config, using defaults", "path", path, "error", err)
		return DefaultConfig(), fmt.Errorf("parse config: %w", err)
	}
	applyDefaultsAndValidate(&cfg)
	return cfg, nil
}

// EnsureFile writes the default config if missing and returns the loaded
// config. Unlike Save it accepts any location: path is the file the daemon
// was started with.
func EnsureFile(path string) (Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if _, statErr := os.Stat(path); !errors.Is(statErr, os.ErrNotExist) {
		return cfg, nil
	}
	absolutePath, err := filepath.Abs(path)
	if err != nil {
		return cfg, fmt.Errorf("create config: resolve path: %w", err)
	}
	if err := encodeAndWrite(absolutePath, cfg); err != nil {
		return cfg, err
	}
	slog.Info("[DEBUG-CONFIG] created default config", "path", absolutePath)
	return cfg, nil
}

// Clone returns a deep copy of cfg.
// Use this when sharing config snapshots across goroutines or package boundaries.
func Clone(src Config) Config {
	dst := src
	dst.Settings.AgentApplications = slices.Clone(src.Settings.AgentApplications)
	if src.Settings.CommandTimeouts != nil {
		dst.Settings.CommandTimeouts = maps.Clone(src.Settings.CommandTimeouts)
	}
	if src.Groups == nil {
		return dst
	}
	dst.Groups = make([]GroupConfig, len(src.Groups))
	for i, g := range src.Groups {
		g.Rule.Applications = slices.Clone(g.Rule.Applications)
		g.Rule.Days = slices.Clone(g.Rule.Days)
		if g.Workflows != nil {
			workflows := make([]WorkflowConfig, len(g.Workflows))
			for j, w := range g.Workflows {
				workflows[j] = cloneWorkflow(w)
			}
			g.Workflows = workflows
		}
		dst.Groups[i] = g
	}
	return dst
}

func cloneWorkflow(w WorkflowConfig) WorkflowConfig {
	w.Enabled = cloneBool(w.Enabled)
	w.Trigger.Keyboard = slices.Clone(w.Trigger.Keyboard)
	if w.Trigger.Application != nil {
		at := *w.Trigger.Application
		w.Trigger.Application = &at
	}
	if w.Commands != nil {
		commands := make([]CommandConfig, len(w.Commands))
		for k, c := range w.Commands {
			c.Enabled = cloneBool(c.Enabled)
			c.Shortcuts = slices.Clone(c.Shortcuts)
			commands[k] = c
		}
		w.Commands = commands
	}
	return w
}

func cloneBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}

// Save normalizes cfg and atomically writes it to path.
// Returns the normalized config that was actually written to disk.
func Save(path string, cfg Config) (Config, error) {
	normalizedPath, err := validateConfigPath(path)
	if err != nil {
		return cfg, err
	}
	applyDefaultsAndValidate(&cfg)
	if err := encodeAndWrite(normalizedPath, cfg); err != nil {
		return cfg, err
	}
	slog.Debug("[DEBUG-CONFIG] config saved", "path", path)
	return cfg, nil
}

func encodeAndWrite(path string, cfg Config) error {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("save config: marshal: %w", err)
	}
	return atomicWrite(path, raw)
}

// atomicWrite writes config data using temp-file + rename to avoid partial
// writes and retries rename on Windows to tolerate transient file locks.
func atomicWrite(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err = os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("save config: mkdir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".config.yaml.tmp.*")
	if err != nil {
		return fmt.Errorf("save config: create temp: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		if tmpFile != nil {
			if closeErr := tmpFile.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
				slog.Warn("[WARN-CONFIG] failed to close temp file", "path", tmpPath, "error", closeErr)
			}
		}
		if err != nil {
			if removeErr := os.Remove(tmpPath); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
				slog.Warn("[WARN-CONFIG] failed to remove temp file", "path", tmpPath, "error", removeErr)
			}
		}
	}()

	if err = tmpFile.Chmod(0o600); err != nil {
		return fmt.Errorf("save config: chmod temp: %w", err)
	}
	if _, err = tmpFile.Write(data); err != nil {
		return fmt.Errorf("save config: write: %w", err)
	}
	if err = tmpFile.Sync(); err != nil {
		return fmt.Errorf("save config: sync: %w", err)
	}
	err = tmpFile.Close()
	tmpFile = nil
	if err != nil {
		return fmt.Errorf("save config: close: %w", err)
	}

	if err = renameFileWithRetry(tmpPath, path); err != nil {
		return fmt.Errorf("save config: rename: %w", err)
	}
	return nil
}

// validateConfigPath normalizes path and enforces that config writes stay
// inside the config directory.
func validateConfigPath(path string) (string, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return "", errors.New("config path required")
	}
	absolutePath, err := filepath.Abs(trimmedPath)
	if err != nil {
		return "", fmt.Errorf("save config: resolve path: %w", err)
	}

	expectedDir, err := defaultConfigDirFn()
	if err != nil {
		return "", fmt.Errorf("save config: resolve config dir: %w", err)
	}
	absoluteExpectedDir, err := filepath.Abs(expectedDir)
	if err != nil {
		return "", fmt.Errorf("save config: resolve config dir: %w", err)
	}
	if !pathWithinDir(absolutePath, absoluteExpectedDir) {
		return "", fmt.Errorf("save config: path outside config directory: %q", absolutePath)
	}

	return absolutePath, nil
}

func defaultConfigDir() (string, error) {
	return filepath.Dir(DefaultPath()), nil
}

// pathWithinDir blocks directory traversal by ensuring path is under dir.
// It also rejects Windows cross-drive escapes because filepath.Rel returns
// an absolute path when roots differ.
func pathWithinDir(path string, dir string) bool {
	relativePath, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	if relativePath == "." {
		return true
	}
	if relativePath == ".." || strings.HasPrefix(relativePath, ".."+string(os.PathSeparator)) {
		return false
	}
	return !filepath.IsAbs(relativePath)
}

// applyDefaultsAndValidate fills missing settings and clamps invalid ones.
// MUTATES: cfg is directly modified.
// Group and workflow entries are validated later by Build, which skips bad
// entries instead of rejecting the file.
func applyDefaultsAndValidate(cfg *Config) {
	s := &cfg.Settings
	if s.ConcurrencyLimit <= 0 {
		if s.ConcurrencyLimit < 0 {
			slog.Warn("[WARN-CONFIG] concurrency_limit must be positive, using default",
				"configured", s.ConcurrencyLimit, "default", defaultConcurrencyLimit)
		}
		s.ConcurrencyLimit = defaultConcurrencyLimit
	}
	if s.ChordTimeout < 0 {
		slog.Warn("[WARN-CONFIG] chord_timeout is negative, disabling", "configured", s.ChordTimeout)
		s.ChordTimeout = 0
	}
	if s.ContextPollInterval < 0 {
		slog.Warn("[WARN-CONFIG] context_poll_interval is negative, disabling", "configured", s.ContextPollInterval)
		s.ContextPollInterval = 0
	}
	if s.HistoryKeep <= 0 {
		s.HistoryKeep = defaultHistoryKeep
	}
	validateWebSocketPort(cfg)
	s.LogLevel = normalizeLogLevel(s.LogLevel)
	s.LogFile = strings.TrimSpace(s.LogFile)
	s.HistoryPath = strings.TrimSpace(s.HistoryPath)
	if s.LogMaxSizeMB <= 0 {
		s.LogMaxSizeMB = defaultLogMaxSizeMB
	}
	if s.LogMaxBackups < 0 {
		s.LogMaxBackups = defaultLogMaxBackups
	}
	s.AgentApplications = sanitizeList(s.AgentApplications)
	sanitizeCommandTimeouts(s)
	if cfg.Groups == nil {
		cfg.Groups = []GroupConfig{}
	}
}

func validateWebSocketPort(cfg *Config) {
	if cfg.Settings.WebSocketPort < -1 || cfg.Settings.WebSocketPort > maxValidPort {
		slog.Warn("[WARN-CONFIG] websocket_port out of valid range (-1..65535), falling back to 0 (auto-assign)",
			"configured", cfg.Settings.WebSocketPort, "max", maxValidPort)
		cfg.Settings.WebSocketPort = 0
	}
}

func normalizeLogLevel(level string) string {
	normalized := strings.ToLower(strings.TrimSpace(level))
	switch normalized {
	case "debug", "info", "warn", "error":
		return normalized
	case "":
		return defaultLogLevel
	default:
		slog.Warn("[WARN-CONFIG] unknown log_level, using default", "configured", level, "default", defaultLogLevel)
		return defaultLogLevel
	}
}

// SlogLevel converts the configured log level.
func (s Settings) SlogLevel() slog.Level {
	switch normalizeLogLevel(s.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ResolveHistoryPath returns the journal location for a config file at
// configPath, or "" when history is disabled.
func (s Settings) ResolveHistoryPath(configPath string) string {
	switch {
	case strings.EqualFold(s.HistoryPath, HistoryOff):
		return ""
	case s.HistoryPath == "":
		return filepath.Join(filepath.Dir(configPath), historyFileName)
	default:
		return resolveAgainst(configPath, s.HistoryPath)
	}
}

// ResolveLogFile returns the rotated log file location, or "" when file
// logging is off.
func (s Settings) ResolveLogFile(configPath string) string {
	if s.LogFile == "" {
		return ""
	}
	return resolveAgainst(configPath, s.LogFile)
}

func resolveAgainst(configPath, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(filepath.Dir(configPath), p)
}

// Timeouts returns the per-kind command timeouts keyed by model.Kind.
func (s Settings) Timeouts() map[model.Kind]time.Duration {
	out := make(map[model.Kind]time.Duration, len(s.CommandTimeouts))
	for raw, d := range s.CommandTimeouts {
		if kind, err := model.ParseKind(raw); err == nil && d > 0 {
			out[kind] = d
		}
	}
	return out
}

func sanitizeCommandTimeouts(s *Settings) {
	if len(s.CommandTimeouts) == 0 {
		return
	}
	cleaned := make(map[string]time.Duration, len(s.CommandTimeouts))
	for raw, d := range s.CommandTimeouts {
		kind, err := model.ParseKind(raw)
		if err != nil {
			slog.Warn("[WARN-CONFIG] ignoring command timeout for unknown kind", "kind", raw)
			continue
		}
		if d <= 0 {
			slog.Warn("[WARN-CONFIG] ignoring non-positive command timeout", "kind", raw, "timeout", d)
			continue
		}
		cleaned[string(kind)] = d
	}
	s.CommandTimeouts = cleaned
}

// sanitizeList trims entries and drops empty and duplicate values.
func sanitizeList(values []string) []string {
	if values == nil {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || slices.Contains(out, v) {
			continue
		}
		out = append(out, v)
	}
	return out
}

func readLimitedFile(path string, maxBytes int64) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	limited := io.LimitReader(file, maxBytes+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > maxBytes {
		return nil, fmt.Errorf("config file exceeds %d bytes", maxBytes)
	}
	return raw, nil
}

// renameFileWithRetry retries os.Rename on Windows, where antivirus or
// indexing can briefly hold the target open.
func renameFileWithRetry(sourcePath string, targetPath string) error {
	var lastErr error
	for attempt := range maxRenameRetry {
		err := os.Rename(sourcePath, targetPath)
		if err == nil {
			return nil
		}
		lastErr = err
		if runtime.GOOS != "windows" {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * renameRetryBaseDelay)
	}
	return lastErr
}
