package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"testing"
	"time"

	"keyflow/internal/model"
	"keyflow/internal/testutil"
)

func newConfigPathForSaveTest(t *testing.T, elems ...string) string {
	t.Helper()
	localAppData := t.TempDir()
	t.Setenv("LOCALAPPDATA", localAppData)
	t.Setenv("APPDATA", "")
	t.Setenv(EnvConfigPath, "")

	defaultPath := DefaultPath()

	return filepath.Join(filepath.Dir(defaultPath), filepath.Join(elems...))
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

const sampleConfig = `
settings:
  chord_timeout: 1500ms
  context_poll_interval: 2s
  concurrency_limit: 4
  agent_applications: [com.example.Agent, " com.example.Agent "]
  command_timeouts: {script: 30s, bogus: 1s}
  websocket_port: 7777
  log_level: DEBUG
groups:
  - id: g1
    name: Terminal
    rule: {applications: [com.example.Term], days: [mon, Tuesday]}
    workflows:
      - id: w1
        name: Save all
        execution: concurrent
        trigger: {keyboard: ["Cmd+K", "Cmd+S"]}
        commands:
          - {kind: script, name: save, source: "echo saved", timeout: 5s}
          - {kind: shortcut, workflow: w2, enabled: false}
      - id: w2
        trigger: {keyboard: ["Ctrl+Alt+J"]}
        commands:
          - {kind: open, target: "https://example.com", notify: true}
`

func TestPathWithinDir(t *testing.T) {
	baseDir := t.TempDir()
	configDir := filepath.Join(baseDir, "config")

	tests := []struct {
		name string
		path string
		dir  string
		want bool
	}{
		{name: "same path", path: configDir, dir: configDir, want: true},
		{name: "subdirectory path", path: filepath.Join(configDir, "sub", "config.yaml"), dir: configDir, want: true},
		{name: "traversal path", path: filepath.Join(configDir, "..", "outside.yaml"), dir: configDir, want: false},
		{name: "different path", path: filepath.Join(baseDir, "other", "config.yaml"), dir: configDir, want: false},
	}
	if runtime.GOOS == "windows" {
		tests = append(tests, struct {
			name string
			path string
			dir  string
			want bool
		}{name: "different drive", path: `D:\outside\config.yaml`, dir: `C:\inside`, want: false})
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pathWithinDir(tt.path, tt.dir); got != tt.want {
				t.Fatalf("pathWithinDir(%q, %q) = %v, want %v", tt.path, tt.dir, got, tt.want)
			}
		})
	}
}

func TestDefaultPath(t *testing.T) {
	t.Run("local app data", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv(EnvConfigPath, "")
		t.Setenv("LOCALAPPDATA", dir)
		t.Setenv("APPDATA", "ignored")
		want := filepath.Join(dir, "keyflow", "config.yaml")
		if got := DefaultPath(); got != want {
			t.Fatalf("DefaultPath() = %q, want %q", got, want)
		}
	})
	t.Run("app data fallback", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv(EnvConfigPath, "")
		t.Setenv("LOCALAPPDATA", "")
		t.Setenv("APPDATA", dir)
		want := filepath.Join(dir, "keyflow", "config.yaml")
		if got := DefaultPath(); got != want {
			t.Fatalf("DefaultPath() = %q, want %q", got, want)
		}
	})
	t.Run("environment override", func(t *testing.T) {
		override := filepath.Join(t.TempDir(), "custom.yaml")
		t.Setenv(EnvConfigPath, override)
		if got := DefaultPath(); got != override {
			t.Fatalf("DefaultPath() = %q, want %q", got, override)
		}
	})
	t.Run("temp dir fallback records warning", func(t *testing.T) {
		t.Setenv(EnvConfigPath, "")
		t.Setenv("LOCALAPPDATA", "")
		t.Setenv("APPDATA", "")
		orig := userHomeDirFn
		t.Cleanup(func() { userHomeDirFn = orig })
		userHomeDirFn = func() (string, error) { return "", errors.New("no home") }
		ConsumeDefaultPathWarnings()

		logs := testutil.CaptureLogBuffer(t, slog.LevelDebug)
		want := filepath.Join(os.TempDir(), "keyflow", "config.yaml")
		if got := DefaultPath(); got != want {
			t.Fatalf("DefaultPath() = %q, want %q", got, want)
		}
		if !strings.Contains(logs.String(), "temp dir") {
			t.Fatalf("missing fallback log: %q", logs.String())
		}
		if warnings := ConsumeDefaultPathWarnings(); len(warnings) != 1 {
			t.Fatalf("warnings = %v", warnings)
		}
		if warnings := ConsumeDefaultPathWarnings(); warnings != nil {
			t.Fatalf("warnings not cleared: %v", warnings)
		}
	})
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Settings.ConcurrencyLimit != defaultConcurrencyLimit || cfg.Settings.LogLevel != "info" || len(cfg.Groups) != 0 {
		t.Fatalf("Load() = %+v, want defaults", cfg)
	}
}

func TestLoadRequiresPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("Load(\"\") should fail")
	}
}

func TestLoadParsesSettings(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	s := cfg.Settings
	if s.ChordTimeout != 1500*time.Millisecond || s.ContextPollInterval != 2*time.Second {
		t.Fatalf("durations = %s, %s", s.ChordTimeout, s.ContextPollInterval)
	}
	if s.ConcurrencyLimit != 4 || s.WebSocketPort != 7777 || s.LogLevel != "debug" {
		t.Fatalf("settings = %+v", s)
	}
	if !slices.Equal(s.AgentApplications, []string{"com.example.Agent"}) {
		t.Fatalf("agent applications = %q", s.AgentApplications)
	}
	if len(s.CommandTimeouts) != 1 || s.CommandTimeouts["script"] != 30*time.Second {
		t.Fatalf("command timeouts = %v", s.CommandTimeouts)
	}
	if got := s.Timeouts(); got[model.KindScript] != 30*time.Second {
		t.Fatalf("Timeouts() = %v", got)
	}
	if len(cfg.Groups) != 1 || len(cfg.Groups[0].Workflows) != 2 {
		t.Fatalf("groups = %+v", cfg.Groups)
	}
}

func TestLoadReturnsDefaultsOnParseError(t *testing.T) {
	cfg, err := Load(writeConfig(t, "settings: [unterminated"))
	if err == nil {
		t.Fatal("Load() should fail on malformed yaml")
	}
	if cfg.Settings.ConcurrencyLimit != defaultConcurrencyLimit {
		t.Fatalf("Load() = %+v, want defaults", cfg)
	}
}

func TestReadLimitedFileRejectsTooLargeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.yaml")
	if err := os.WriteFile(path, make([]byte, 11), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := readLimitedFile(path, 10); err == nil {
		t.Fatal("readLimitedFile() should reject oversize file")
	}
	if raw, err := readLimitedFile(path, 11); err != nil || len(raw) != 11 {
		t.Fatalf("readLimitedFile() at limit = %d bytes, err %v", len(raw), err)
	}
}

func TestApplyDefaultsAndValidate(t *testing.T) {
	tests := []struct {
		name  string
		in    Settings
		check func(t *testing.T, s Settings)
	}{
		{
			name: "negative values clamp",
			in:   Settings{ConcurrencyLimit: -3, ChordTimeout: -time.Second, ContextPollInterval: -time.Second},
			check: func(t *testing.T, s Settings) {
				if s.ConcurrencyLimit != defaultConcurrencyLimit || s.ChordTimeout != 0 || s.ContextPollInterval != 0 {
					t.Fatalf("settings = %+v", s)
				}
			},
		},
		{
			name: "websocket port out of range",
			in:   Settings{WebSocketPort: 70000},
			check: func(t *testing.T, s Settings) {
				if s.WebSocketPort != 0 {
					t.Fatalf("WebSocketPort = %d, want 0", s.WebSocketPort)
				}
			},
		},
		{
			name: "websocket disabled kept",
			in:   Settings{WebSocketPort: -1},
			check: func(t *testing.T, s Settings) {
				if s.WebSocketPort != -1 {
					t.Fatalf("WebSocketPort = %d, want -1", s.WebSocketPort)
				}
			},
		},
		{
			name: "unknown log level",
			in:   Settings{LogLevel: "verbose"},
			check: func(t *testing.T, s Settings) {
				if s.LogLevel != "info" || s.SlogLevel().String() != "INFO" {
					t.Fatalf("LogLevel = %q", s.LogLevel)
				}
			},
		},
		{
			name: "log rotation defaults",
			in:   Settings{LogFile: "  keyflow.log ", LogMaxBackups: -1},
			check: func(t *testing.T, s Settings) {
				if s.LogFile != "keyflow.log" || s.LogMaxSizeMB != defaultLogMaxSizeMB || s.LogMaxBackups != defaultLogMaxBackups {
					t.Fatalf("settings = %+v", s)
				}
			},
		},
		{
			name: "timeouts filtered",
			in:   Settings{CommandTimeouts: map[string]time.Duration{"open": 0, "nope": time.Second, "script": time.Second}},
			check: func(t *testing.T, s Settings) {
				if len(s.CommandTimeouts) != 1 || s.CommandTimeouts["script"] != time.Second {
					t.Fatalf("CommandTimeouts = %v", s.CommandTimeouts)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testutil.CaptureLogBuffer(t, slog.LevelDebug)
			cfg := Config{Settings: tt.in}
			applyDefaultsAndValidate(&cfg)
			if cfg.Groups == nil {
				t.Fatal("Groups should be normalized to empty slice")
			}
			tt.check(t, cfg.Settings)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := newConfigPathForSaveTest(t, "config.yaml")
	src, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Save(path, src); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Settings.ChordTimeout != src.Settings.ChordTimeout || len(got.Groups) != 1 {
		t.Fatalf("round trip = %+v", got)
	}
	wf := got.Groups[0].Workflows[0]
	if wf.ID != "w1" || !slices.Equal(wf.Trigger.Keyboard, []string{"Cmd+K", "Cmd+S"}) || wf.Commands[1].Enabled == nil || *wf.Commands[1].Enabled {
		t.Fatalf("workflow = %+v", wf)
	}
	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if info.Mode().Perm() != 0o600 {
			t.Fatalf("mode = %v, want 0600", info.Mode().Perm())
		}
	}
}

func TestSaveRejectsPathOutsideConfigDir(t *testing.T) {
	newConfigPathForSaveTest(t)
	outside := filepath.Join(t.TempDir(), "config.yaml")
	if _, err := Save(outside, DefaultConfig()); err == nil {
		t.Fatal("Save() outside the config directory should fail")
	}
}

func TestValidateConfigPathReturnsErrorWhenDefaultConfigDirResolutionFails(t *testing.T) {
	orig := defaultConfigDirFn
	t.Cleanup(func() { defaultConfigDirFn = orig })
	defaultConfigDirFn = func() (string, error) { return "", errors.New("boom") }
	if _, err := validateConfigPath(filepath.Join(t.TempDir(), "config.yaml")); err == nil {
		t.Fatal("validateConfigPath() should fail")
	}
}

func TestEnsureFileCreatesFileOutsideConfigDir(t *testing.T) {
	newConfigPathForSaveTest(t)
	path := filepath.Join(t.TempDir(), "nested", "keyflow.yaml")
	cfg, err := EnsureFile(path)
	if err != nil {
		t.Fatalf("EnsureFile() error = %v", err)
	}
	if cfg.Settings.ConcurrencyLimit != defaultConcurrencyLimit {
		t.Fatalf("ConcurrencyLimit = %d, want default", cfg.Settings.ConcurrencyLimit)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not created: %v", err)
	}
}

func TestEnsureFileCreatesConfigFile(t *testing.T) {
	path := newConfigPathForSaveTest(t, "config.yaml")
	if _, err := EnsureFile(path); err != nil {
		t.Fatalf("EnsureFile() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not created: %v", err)
	}
	// A second call keeps the existing file.
	if err := os.WriteFile(path, []byte("settings: {concurrency_limit: 2}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := EnsureFile(path)
	if err != nil || cfg.Settings.ConcurrencyLimit != 2 {
		t.Fatalf("EnsureFile() = %+v, %v", cfg.Settings, err)
	}
}

func TestCloneDeepCopyIndependence(t *testing.T) {
	src, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatal(err)
	}
	dst := Clone(src)

	dst.Settings.AgentApplications[0] = "changed"
	dst.Settings.CommandTimeouts["script"] = time.Hour
	dst.Groups[0].Rule.Days[0] = "sun"
	dst.Groups[0].Workflows[0].Trigger.Keyboard[0] = "Cmd+Z"
	*dst.Groups[0].Workflows[0].Commands[1].Enabled = true
	dst.Groups[0].Workflows[0].Commands[0].Name = "changed"

	if src.Settings.AgentApplications[0] == "changed" || src.Settings.CommandTimeouts["script"] == time.Hour {
		t.Fatal("settings share memory with clone")
	}
	wf := src.Groups[0].Workflows[0]
	if src.Groups[0].Rule.Days[0] != "mon" || wf.Trigger.Keyboard[0] != "Cmd+K" || *wf.Commands[1].Enabled || wf.Commands[0].Name != "save" {
		t.Fatal("groups share memory with clone")
	}
}

func TestClonePreservesNilCollections(t *testing.T) {
	dst := Clone(Config{})
	if dst.Groups != nil || dst.Settings.AgentApplications != nil || dst.Settings.CommandTimeouts != nil {
		t.Fatalf("Clone(Config{}) = %+v", dst)
	}
}

func TestResolvePaths(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	abs := filepath.Join(dir, "elsewhere", "runs.db")

	tests := []struct {
		name        string
		settings    Settings
		wantHistory string
		wantLog     string
	}{
		{name: "defaults", wantHistory: filepath.Join(dir, "history.db")},
		{name: "history off", settings: Settings{HistoryPath: "OFF"}},
		{name: "relative", settings: Settings{HistoryPath: "data/runs.db", LogFile: "logs/keyflow.log"},
			wantHistory: filepath.Join(dir, "data", "runs.db"), wantLog: filepath.Join(dir, "logs", "keyflow.log")},
		{name: "absolute", settings: Settings{HistoryPath: abs, LogFile: abs + ".log"}, wantHistory: abs, wantLog: abs + ".log"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.settings.ResolveHistoryPath(cfgPath); got != tt.wantHistory {
				t.Errorf("ResolveHistoryPath() = %q, want %q", got, tt.wantHistory)
			}
			if got := tt.settings.ResolveLogFile(cfgPath); got != tt.wantLog {
				t.Errorf("ResolveLogFile() = %q, want %q", got, tt.wantLog)
			}
		})
	}
}
