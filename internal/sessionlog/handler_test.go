package sessionlog

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"keyflow/internal/events"
)

// newTestSink returns a sink that records events and a getter for them.
func newTestSink() (Sink, func() []events.LogEvent) {
	var mu sync.Mutex
	var got []events.LogEvent
	sink := func(ev events.LogEvent) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev)
	}
	get := func() []events.LogEvent {
		mu.Lock()
		defer mu.Unlock()
		return append([]events.LogEvent(nil), got...)
	}
	return sink, get
}

func newLogger(sink Sink) (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	base := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(NewTeeHandler(base, slog.LevelWarn, sink)), &buf
}

func TestTeeHandler_Threshold(t *testing.T) {
	tests := []struct {
		name      string
		log       func(*slog.Logger)
		wantLevel string
		wantTee   bool
	}{
		{name: "error", log: func(l *slog.Logger) { l.Error("dial failed") }, wantLevel: "ERROR", wantTee: true},
		{name: "warn", log: func(l *slog.Logger) { l.Warn("disk low") }, wantLevel: "WARN", wantTee: true},
		{name: "info", log: func(l *slog.Logger) { l.Info("started") }},
		{name: "debug", log: func(l *slog.Logger) { l.Debug("tick") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink, get := newTestSink()
			logger, buf := newLogger(sink)
			tt.log(logger)

			if buf.Len() == 0 {
				t.Fatal("base handler received nothing")
			}
			got := get()
			if !tt.wantTee {
				if len(got) != 0 {
					t.Fatalf("sink got %d events, want 0", len(got))
				}
				return
			}
			if len(got) != 1 {
				t.Fatalf("sink got %d events, want 1", len(got))
			}
			if got[0].Level != tt.wantLevel {
				t.Errorf("Level = %q, want %q", got[0].Level, tt.wantLevel)
			}
			if got[0].Time.IsZero() {
				t.Error("Time is zero")
			}
		})
	}
}

func TestTeeHandler_Attrs(t *testing.T) {
	sink, get := newTestSink()
	logger, _ := newLogger(sink)

	logger.With("component", "executor").
		WithGroup("job").
		With("workflow", "wf-1").
		Warn("[DEBUG-EXEC] command failed", "kind", "script", slog.Group("exit", "code", 3))

	got := get()
	if len(got) != 1 {
		t.Fatalf("sink got %d events", len(got))
	}
	ev := got[0]
	if ev.Source != "job" {
		t.Errorf("Source = %q, want job", ev.Source)
	}
	want := map[string]string{
		"component":     "executor",
		"job.workflow":  "wf-1",
		"job.kind":      "script",
		"job.exit.code": "3",
	}
	for k, v := range want {
		if ev.Attrs[k] != v {
			t.Errorf("Attrs[%q] = %q, want %q (all: %v)", k, ev.Attrs[k], v, ev.Attrs)
		}
	}
}

func TestTeeHandler_NestedGroups(t *testing.T) {
	sink, get := newTestSink()
	logger, _ := newLogger(sink)
	logger.WithGroup("a").WithGroup("b").Error("nested")

	got := get()
	if len(got) != 1 || got[0].Source != "a.b" {
		t.Fatalf("events = %+v, want Source a.b", got)
	}
}

func TestTeeHandler_EmptyGroupAndAttrsReturnReceiver(t *testing.T) {
	h := NewTeeHandler(slog.NewTextHandler(io.Discard, nil), nil, nil)
	if h.WithGroup("") != h {
		t.Error("WithGroup(\"\") should return the receiver")
	}
	if h.WithAttrs(nil) != h {
		t.Error("WithAttrs(nil) should return the receiver")
	}
}

func TestTeeHandler_NilSink(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewTeeHandler(slog.NewTextHandler(&buf, nil), slog.LevelWarn, nil))
	logger.Error("still logged")
	if !strings.Contains(buf.String(), "still logged") {
		t.Fatalf("base output = %q", buf.String())
	}
}

func TestTeeHandler_LevelVar(t *testing.T) {
	var level slog.LevelVar
	level.Set(slog.LevelError)
	sink, get := newTestSink()
	logger := slog.New(NewTeeHandler(slog.NewTextHandler(io.Discard, nil), &level, sink))

	logger.Warn("below threshold")
	level.Set(slog.LevelWarn)
	logger.Warn("at threshold")

	got := get()
	if len(got) != 1 || got[0].Message != "at threshold" {
		t.Fatalf("events = %+v", got)
	}
}

type errorHandler struct{ err error }

func (h *errorHandler) Enabled(context.Context, slog.Level) bool  { return true }
func (h *errorHandler) Handle(context.Context, slog.Record) error { return h.err }
func (h *errorHandler) WithAttrs([]slog.Attr) slog.Handler        { return h }
func (h *errorHandler) WithGroup(string) slog.Handler             { return h }

func TestTeeHandler_BaseErrorStillTees(t *testing.T) {
	baseErr := errors.New("disk full")
	sink, get := newTestSink()
	h := NewTeeHandler(&errorHandler{err: baseErr}, slog.LevelWarn, sink)

	record := slog.NewRecord(time.Now(), slog.LevelError, "write failed", 0)
	if err := h.Handle(context.Background(), record); !errors.Is(err, baseErr) {
		t.Fatalf("Handle() error = %v, want %v", err, baseErr)
	}
	if len(get()) != 1 {
		t.Fatal("sink should run even when the base handler fails")
	}
}

func TestTeeHandler_SinkPanicDoesNotPropagate(t *testing.T) {
	origStderr := os.Stderr
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	os.Stderr = w
	t.Cleanup(func() { os.Stderr = origStderr })

	logger, _ := newLogger(func(events.LogEvent) { panic("sink exploded") })
	logger.Error("trigger")

	_ = w.Close()
	out, _ := io.ReadAll(r)
	if !strings.Contains(string(out), "sink exploded") {
		t.Fatalf("stderr = %q, want panic report", out)
	}
}

func TestBusSink(t *testing.T) {
	bus := events.NewBus(1)
	sink := BusSink(bus)

	var mu sync.Mutex
	var got []events.LogEvent
	bus.Subscribe(events.Observer(func(ev events.LogEvent) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	}))

	sink(events.LogEvent{Message: "first"})
	// The buffer holds one event; the second is dropped instead of blocking.
	sink(events.LogEvent{Message: "dropped"})

	bus.Close()
	bus.Run(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].Message != "first" {
		t.Fatalf("delivered = %+v", got)
	}
}
