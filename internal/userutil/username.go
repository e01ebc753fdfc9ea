// Package userutil derives per-user names for the daemon's lock and
// control endpoint.
package userutil

import (
	"os"
	"os/user"
	"regexp"
	"strings"
)

var invalidUsernameRune = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// SanitizeUsername normalizes username-like values used in pipe, socket and
// lock names.
func SanitizeUsername(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return invalidUsernameRune.ReplaceAllString(value, "_")
}

// CurrentUsername returns the sanitized name of the current user: USERNAME
// (Windows), then USER, then the OS account database.
func CurrentUsername() string {
	for _, env := range []string{"USERNAME", "USER"} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			return SanitizeUsername(v)
		}
	}
	if current, err := user.Current(); err == nil {
		return SanitizeUsername(current.Username)
	}
	return SanitizeUsername("")
}
