package runners

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os/exec"
	"runtime"
	"strings"

	"github.com/pkg/browser"

	"keyflow/internal/model"
	"keyflow/internal/procutil"
)

func init() {
	// browser writes the launcher's output to our stdout by default.
	browser.Stdout = io.Discard
	browser.Stderr = io.Discard
}

// Replaced in tests.
var (
	openURLFn  = browser.OpenURL
	openFileFn = browser.OpenFile
	startFn    = startDetached
)

// Open opens a URL or file with the default handler, or with a named
// application when one is given.
type Open struct{}

func (Open) Execute(ctx context.Context, cmd model.Command) error {
	oc, ok := cmd.(model.OpenCommand)
	if !ok {
		return mismatch(model.KindOpen, cmd)
	}
	target := strings.TrimSpace(oc.Target)
	if target == "" {
		return errors.New("open: target is empty")
	}
	if app := strings.TrimSpace(oc.Application); app != "" {
		return startFn(ctx, openWithArgs(runtime.GOOS, app, target))
	}
	if isURL(target) {
		if err := openURLFn(target); err != nil {
			return fmt.Errorf("open url: %w", err)
		}
		return nil
	}
	if err := openFileFn(target); err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	return nil
}

func isURL(target string) bool {
	u, err := url.Parse(target)
	if err != nil || u.Scheme == "" {
		return false
	}
	// A drive letter such as C:\ parses as a one-letter scheme.
	return len(u.Scheme) > 1
}

func openWithArgs(goos, app, target string) []string {
	switch goos {
	case "darwin":
		if looksLikeBundleID(app) {
			return []string{"open", "-b", app, target}
		}
		return []string{"open", "-a", app, target}
	default:
		return []string{app, target}
	}
}

// looksLikeBundleID reports whether app is a reverse-DNS identifier rather
// than an application name or path.
func looksLikeBundleID(app string) bool {
	return strings.Count(app, ".") >= 2 && !strings.ContainsAny(app, `/\ `)
}

// startDetached starts argv without waiting for it to exit. The launcher
// returning is the success signal; the started application outlives ctx.
func startDetached(ctx context.Context, argv []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// SECURITY: argv comes from the user's own configuration file.
	c := exec.Command(argv[0], argv[1:]...)
	procutil.HideWindow(c)
	procutil.Detach(c)
	if err := c.Start(); err != nil {
		return fmt.Errorf("start %s: %w", argv[0], err)
	}
	go func() { _ = c.Wait() }()
	return nil
}
