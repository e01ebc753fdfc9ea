package testutil

import (
	"testing"
	"time"
)

// WaitForCondition polls fn every 10ms until it returns true or timeout elapses.
func WaitForCondition(t *testing.T, timeout time.Duration, fn func() bool) bool {
	t.Helper()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		if fn() {
			return true
		}
		select {
		case <-ticker.C:
		case <-deadline.C:
			return fn()
		}
	}
}

// RequireEventually fails the test when fn does not become true within timeout.
func RequireEventually(t *testing.T, timeout time.Duration, what string, fn func() bool) {
	t.Helper()
	if !WaitForCondition(t, timeout, fn) {
		t.Fatalf("timed out after %s waiting for %s", timeout, what)
	}
}
