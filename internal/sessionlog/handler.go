// Package sessionlog tees warning and error log records to the event stream
// so a connected UI sees the same problems the daemon logs.
package sessionlog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"keyflow/internal/events"
)

// Sink receives records at or above the tee threshold.
type Sink func(events.LogEvent)

// BusSink publishes log events without blocking. Records are dropped when
// the bus is full: a subscriber that logs must never wait on itself.
func BusSink(bus *events.Bus) Sink {
	return func(ev events.LogEvent) {
		bus.TryPublish(ev)
	}
}

// TeeHandler wraps a base [slog.Handler] and tees records at or above
// minLevel to a Sink. Every record reaches the base handler; only the sink
// is gated by minLevel.
type TeeHandler struct {
	base     slog.Handler
	sink     Sink
	minLevel slog.Leveler
	group    string
	attrs    []slog.Attr
}

// NewTeeHandler creates a TeeHandler. A nil sink makes it a plain
// pass-through.
func NewTeeHandler(base slog.Handler, minLevel slog.Leveler, sink Sink) *TeeHandler {
	if minLevel == nil {
		minLevel = slog.LevelWarn
	}
	return &TeeHandler{
		base:     base,
		sink:     sink,
		minLevel: minLevel,
	}
}

// Enabled defers to the base handler; the tee threshold never widens what
// gets logged.
func (h *TeeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

// Handle forwards the record to the base handler, then to the sink. The
// sink runs even when the base handler fails; the base error is returned.
func (h *TeeHandler) Handle(ctx context.Context, record slog.Record) error {
	err := h.base.Handle(ctx, record)

	if h.sink != nil && record.Level >= h.minLevel.Level() {
		ev := h.event(record)
		func() {
			defer func() {
				if r := recover(); r != nil {
					// stderr, not slog: logging here would re-enter this handler.
					fmt.Fprintf(os.Stderr, "[session-log] sink panicked: %v\n%s\n", r, debug.Stack())
				}
			}()
			h.sink(ev)
		}()
	}
	return err
}

func (h *TeeHandler) event(record slog.Record) events.LogEvent {
	ev := events.LogEvent{
		Time:    record.Time,
		Level:   record.Level.String(),
		Message: record.Message,
		Source:  h.group,
	}
	n := len(h.attrs) + record.NumAttrs()
	if n == 0 {
		return ev
	}
	ev.Attrs = make(map[string]string, n)
	for _, a := range h.attrs {
		addAttr(ev.Attrs, "", a)
	}
	record.Attrs(func(a slog.Attr) bool {
		addAttr(ev.Attrs, h.group, a)
		return true
	})
	return ev
}

// addAttr flattens groups into dotted keys.
func addAttr(dst map[string]string, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		if a.Key == "" {
			key = prefix
		}
		for _, ga := range a.Value.Group() {
			addAttr(dst, key, ga)
		}
		return
	}
	dst[key] = a.Value.String()
}

// WithAttrs returns a handler whose base carries attrs. The sink also sees
// them on every event.
func (h *TeeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	if h.group != "" {
		merged = append(merged, slog.Attr{Key: h.group, Value: slog.GroupValue(attrs...)})
	} else {
		merged = append(merged, attrs...)
	}
	return &TeeHandler{
		base:     h.base.WithAttrs(attrs),
		sink:     h.sink,
		minLevel: h.minLevel,
		group:    h.group,
		attrs:    merged,
	}
}

// WithGroup returns a handler whose base is wrapped in the group. Nested
// groups are joined with ".".
func (h *TeeHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &TeeHandler{
		base:     h.base.WithGroup(name),
		sink:     h.sink,
		minLevel: h.minLevel,
		group:    group,
		attrs:    h.attrs,
	}
}
