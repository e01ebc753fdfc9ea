package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"keyflow/internal/contextfilter"
	"keyflow/internal/events"
	"keyflow/internal/hotkeys"
	"keyflow/internal/ipc"
	"keyflow/internal/testutil"
)

const testConfigYAML = `settings:
  websocket_port: -1
  history_path: history.db
  log_level: debug
groups:
  - id: g1
    name: Everywhere
    workflows:
      - id: w1
        name: Save all
        trigger: {keyboard: ["Cmd+K", "Cmd+S"]}
        commands:
          - {kind: builtin, action: noop, notify: true}
      - id: w2
        name: Single key
        trigger: {keyboard: ["Ctrl+J"]}
        commands:
          - {kind: builtin, action: noop}
  - id: g2
    name: Terminal only
    rule: {applications: [com.example.Term]}
    workflows:
      - id: w3
        name: Terminal
        trigger: {keyboard: ["Ctrl+T"]}
        commands:
          - {kind: builtin, action: noop}
`

// eventRecorder collects bus events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) record(ev events.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *eventRecorder) snapshot() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

func (r *eventRecorder) has(match func(events.Event) bool) bool {
	return slices.ContainsFunc(r.snapshot(), match)
}

type testDaemon struct {
	app        *App
	configPath string
	provider   *contextfilter.StaticProvider
	recorder   *eventRecorder
	cancel     context.CancelFunc
	done       chan error

	notifyMu sync.Mutex
	notified []string
}

func (d *testDaemon) notifications() []string {
	d.notifyMu.Lock()
	defer d.notifyMu.Unlock()
	return slices.Clone(d.notified)
}

// startTestDaemon runs an App against a temp config on the virtual hotkey
// backend and waits until the first configuration is applied.
func startTestDaemon(t *testing.T, configYAML string, tweak func(*AppOptions)) *testDaemon {
	t.Helper()

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	originalLogger := slog.Default()
	originalNotify := notifySendFn
	t.Cleanup(func() {
		slog.SetDefault(originalLogger)
		notifySendFn = originalNotify
	})

	d := &testDaemon{
		configPath: configPath,
		provider:   contextfilter.NewStaticProvider(contextfilter.Snapshot{Weekday: time.Monday}),
		recorder:   &eventRecorder{},
		done:       make(chan error, 1),
	}
	notifySendFn = func(_ context.Context, _ string, body string) error {
		d.notifyMu.Lock()
		d.notified = append(d.notified, body)
		d.notifyMu.Unlock()
		return nil
	}

	opts := AppOptions{
		ConfigPath:     configPath,
		HotkeyBackend:  hotkeys.NewVirtualBackend,
		Context:        d.provider,
		DisableControl: true,
		LogOutput:      io.Discard,
	}
	if tweak != nil {
		tweak(&opts)
	}
	d.app = NewApp(opts)
	d.app.Bus().Subscribe(d.recorder.record)

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	go func() { d.done <- d.app.Run(ctx) }()
	t.Cleanup(func() { d.stop(t) })

	testutil.RequireEventually(t, 5*time.Second, "initial config event", func() bool {
		return d.recorder.has(func(ev events.Event) bool {
			_, ok := ev.(events.ConfigEvent)
			return ok
		})
	})
	return d
}

// stop cancels Run and returns its error. Safe to call more than once.
func (d *testDaemon) stop(t *testing.T) error {
	t.Helper()
	d.cancel()
	select {
	case err, ok := <-d.done:
		if ok {
			close(d.done)
			return err
		}
		return nil
	case <-time.After(15 * time.Second):
		t.Fatal("daemon did not stop")
		return nil
	}
}

func (d *testDaemon) status(t *testing.T) DaemonStatus {
	t.Helper()
	resp := d.app.Execute(ipc.Request{Command: ipc.CmdStatus})
	if resp.ExitCode != 0 {
		t.Fatalf("status failed: %s", resp.Stderr)
	}
	var st DaemonStatus
	if err := json.Unmarshal(resp.Data, &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	return st
}

func (d *testDaemon) waitArmed(t *testing.T, want ...string) {
	t.Helper()
	testutil.RequireEventually(t, 5*time.Second, "armed set", func() bool {
		armed := d.status(t).Armed
		if len(armed) != len(want) {
			return false
		}
		for _, sc := range want {
			if !slices.Contains(armed, sc) {
				return false
			}
		}
		return true
	})
}

// shortSocketPath keeps a unix socket path under the sun_path limit on darwin.
func shortSocketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "kf")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "keyflow-test.sock")
}

func completionFor(workflowID string) func(events.Event) bool {
	return func(ev events.Event) bool {
		c, ok := ev.(events.CompletionEvent)
		return ok && slices.Contains(c.WorkflowIDs, workflowID)
	}
}
