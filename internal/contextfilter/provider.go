package contextfilter

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// frontmostAppFn is replaced in tests.
var frontmostAppFn = frontmostApp

// nowFn is replaced in tests.
var nowFn = time.Now

// SystemProvider reads the frontmost application from the OS and the weekday
// from the local clock.
type SystemProvider struct{}

// Current never fails on a missing frontmost application; the identifier is
// left empty so application-scoped groups are excluded.
func (SystemProvider) Current(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{Weekday: nowFn().Weekday()}
	app, err := frontmostAppFn(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Snapshot{}, ctxErr
		}
		slog.Debug("[DEBUG-CONTEXT] frontmost application unavailable", "error", err)
		return snap, nil
	}
	snap.FrontmostApp = app
	return snap, nil
}

// StaticProvider returns a fixed snapshot that can be changed at runtime.
// It backs headless use and tests.
type StaticProvider struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewStaticProvider creates a provider that reports snap.
func NewStaticProvider(snap Snapshot) *StaticProvider {
	return &StaticProvider{snap: snap}
}

// Set replaces the reported snapshot.
func (p *StaticProvider) Set(snap Snapshot) {
	p.mu.Lock()
	p.snap = snap
	p.mu.Unlock()
}

func (p *StaticProvider) Current(context.Context) (Snapshot, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snap, nil
}
