// Package procutil adjusts child processes started by command runners:
// HideWindow keeps console windows from flashing on Windows, and Detach
// lets launched applications outlive the daemon.
package procutil
