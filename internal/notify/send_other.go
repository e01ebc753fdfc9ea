//go:build !darwin && !linux && !windows

package notify

import "context"

// Send is unsupported here; completions still reach the event stream.
func Send(context.Context, string, string) error {
	return ErrUnsupported
}
