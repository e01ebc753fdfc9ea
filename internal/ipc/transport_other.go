//go:build !windows

package ipc

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

var socketNamePattern = regexp.MustCompile(`^keyflow-[A-Za-z0-9._-]{1,128}\.sock$`)

func defaultEndpoint(username string) string {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" || !filepath.IsAbs(dir) {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "keyflow-"+username+".sock")
}

func validEndpoint(value string) bool {
	return filepath.IsAbs(value) &&
		filepath.Clean(value) == value &&
		socketNamePattern.MatchString(filepath.Base(value))
}

// listen binds a unix socket readable only by the current user. A stale
// socket file left by a crashed daemon is removed first; a live one makes
// the bind fail.
func listen(path string) (net.Listener, error) {
	if conn, err := net.DialTimeout("unix", path, 200*time.Millisecond); err == nil {
		_ = conn.Close()
		return nil, fmt.Errorf("socket %s is in use", path)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, 0o600); err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	return ln, nil
}

func dial(path string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("unix", path, timeout)
}
