// Package workerutil runs background goroutines and callbacks so that a panic
// in one of them is logged and contained instead of taking the daemon down.
package workerutil

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultInitialBackoff = 100 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
	// 10 restarts at 100ms doubling to 5s spans roughly 30 seconds.
	defaultMaxRetries = 10
)

// RecoveryOptions configures RunWithPanicRecovery.
// Zero or negative numeric fields select the defaults (100ms, 5s, 10 retries).
// MaxRetries of 1 runs fn once and reports OnFatal on its first panic.
type RecoveryOptions struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxRetries     int

	// OnPanic is called after each recovered panic, before the backoff wait.
	// attempt is 1-based.
	OnPanic func(worker string, attempt int)
	// OnFatal is called once when the worker gives up after MaxRetries panics.
	OnFatal func(worker string, maxRetries int)
	// IsShutdown stops restarts while the daemon is tearing down.
	IsShutdown func() bool
}

func (opts RecoveryOptions) applyDefaults() RecoveryOptions {
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = defaultInitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		slog.Warn("[DEBUG-PANIC] MaxBackoff < InitialBackoff, using InitialBackoff as MaxBackoff",
			"initialBackoff", opts.InitialBackoff,
			"maxBackoff", opts.MaxBackoff,
		)
		opts.MaxBackoff = opts.InitialBackoff
	}
	return opts
}

// RunWithPanicRecovery starts fn on a goroutine tracked by wg and restarts it
// with exponential backoff when it panics. A normal return or a cancelled ctx
// ends the worker.
func RunWithPanicRecovery(
	ctx context.Context,
	name string,
	wg *sync.WaitGroup,
	fn func(ctx context.Context),
	opts RecoveryOptions,
) {
	opts = opts.applyDefaults()
	wg.Go(func() {
		runRecoveryLoop(ctx, name, fn, opts)
	})
}

// restartPolicy yields the delay before each restart and backoff.Stop once
// MaxRetries runs have panicked.
func (opts RecoveryOptions) restartPolicy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = opts.InitialBackoff
	exp.MaxInterval = opts.MaxBackoff
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	// Restarts are bounded by count, not wall time.
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(opts.MaxRetries-1)), ctx)
}

// runOnce reports whether fn panicked.
func runOnce(ctx context.Context, name string, fn func(ctx context.Context)) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			LogPanic(name, r)
			panicked = true
		}
	}()
	fn(ctx)
	return false
}

func runRecoveryLoop(ctx context.Context, name string, fn func(ctx context.Context), opts RecoveryOptions) {
	policy := opts.restartPolicy(ctx)

	for attempt := 1; ; attempt++ {
		if !runOnce(ctx, name, fn) || ctx.Err() != nil {
			return
		}
		// No OnPanic during shutdown: observers may already be gone.
		if opts.IsShutdown != nil && opts.IsShutdown() {
			slog.Info("[DEBUG-PANIC] worker shutdown detected, stopping restart", "worker", name)
			return
		}

		delay := policy.NextBackOff()
		if opts.OnPanic != nil {
			opts.OnPanic(name, attempt)
		}
		if delay == backoff.Stop {
			if ctx.Err() != nil {
				return
			}
			break
		}
		slog.Warn("[DEBUG-PANIC] restarting worker after panic",
			"worker", name,
			"restartDelay", delay,
			"attempt", attempt,
		)

		restartTimer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			restartTimer.Stop()
			return
		case <-restartTimer.C:
		}
	}

	slog.Error("[DEBUG-PANIC] worker exceeded max retries, giving up",
		"worker", name,
		"maxRetries", opts.MaxRetries,
	)
	if opts.OnFatal != nil {
		opts.OnFatal(name, opts.MaxRetries)
	}
}

// PanicError is a recovered panic turned into an error.
type PanicError struct {
	Worker string
	Value  any
	Stack  []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%s panicked: %v", e.Worker, e.Value)
}

// CallWithRecovery runs fn on the calling goroutine and returns a *PanicError
// if it panics.
func CallWithRecovery(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			LogPanic(name, r)
			err = &PanicError{Worker: name, Value: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}

// LogPanic records a recovered panic value with its stack.
func LogPanic(worker string, r any) {
	slog.Error("[DEBUG-PANIC] background goroutine recovered from panic",
		"worker", worker,
		"panic", r,
		"stack", string(debug.Stack()),
	)
}

// Recover is meant for a deferred call in short-lived goroutines:
//
//	defer workerutil.Recover("bus-dispatch")
func Recover(worker string) {
	if r := recover(); r != nil {
		LogPanic(worker, r)
	}
}
