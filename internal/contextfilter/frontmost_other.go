//go:build !windows && !darwin

package contextfilter

import (
	"context"
	"errors"
)

var errFrontmostUnsupported = errors.New("frontmost application detection is not supported on this platform")

func frontmostApp(context.Context) (string, error) {
	return "", errFrontmostUnsupported
}
