package runners

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"keyflow/internal/executor"
	"keyflow/internal/model"
	"keyflow/internal/procutil"
)

// runFn runs argv to completion. Replaced in tests.
var runFn = runAndWait

// Application opens, activates or closes an application.
type Application struct{}

func (Application) Execute(ctx context.Context, cmd model.Command) error {
	ac, ok := cmd.(model.ApplicationCommand)
	if !ok {
		return mismatch(model.KindApplication, cmd)
	}
	argv, wait, err := applicationArgs(runtime.GOOS, ac)
	if err != nil {
		return err
	}
	if wait {
		return runFn(ctx, argv)
	}
	return startFn(ctx, argv)
}

// applicationArgs returns the launcher argv for ac on goos and whether the
// launcher must be waited for.
func applicationArgs(goos string, ac model.ApplicationCommand) ([]string, bool, error) {
	app := strings.TrimSpace(ac.Application)
	path := strings.TrimSpace(ac.Path)
	if app == "" && path == "" {
		return nil, false, errors.New("application: no application or path")
	}
	action := ac.Action
	if action == "" {
		action = model.AppOpen
	}

	switch goos {
	case "darwin":
		switch action {
		case model.AppOpen:
			if path != "" {
				return []string{"open", path}, true, nil
			}
			if looksLikeBundleID(app) {
				return []string{"open", "-b", app}, true, nil
			}
			return []string{"open", "-a", app}, true, nil
		case model.AppActivate, model.AppClose:
			if app == "" {
				return nil, false, fmt.Errorf("application %s needs a bundle identifier", action)
			}
			verb := "activate"
			if action == model.AppClose {
				verb = "quit"
			}
			return []string{"osascript", "-e", fmt.Sprintf("tell application id %q to %s", app, verb)}, true, nil
		}
	case "windows":
		switch action {
		case model.AppOpen:
			return []string{firstNonEmpty(path, app)}, false, nil
		case model.AppClose:
			return []string{"taskkill", "/IM", imageName(firstNonEmpty(app, path), ".exe")}, true, nil
		case model.AppActivate:
			return nil, false, fmt.Errorf("application activate: %w", executor.ErrUnsupported)
		}
	default:
		switch action {
		case model.AppOpen:
			return []string{firstNonEmpty(path, app)}, false, nil
		case model.AppClose:
			return []string{"pkill", "-x", imageName(firstNonEmpty(app, path), "")}, true, nil
		case model.AppActivate:
			return nil, false, fmt.Errorf("application activate: %w", executor.ErrUnsupported)
		}
	}
	return nil, false, fmt.Errorf("unknown application action %q", action)
}

func imageName(app, ext string) string {
	name := filepath.Base(strings.ReplaceAll(app, `\`, "/"))
	if ext != "" && !strings.EqualFold(filepath.Ext(name), ext) {
		name += ext
	}
	return name
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func runAndWait(ctx context.Context, argv []string) error {
	// SECURITY: argv comes from the user's own configuration file.
	c := exec.CommandContext(ctx, argv[0], argv[1:]...)
	c.WaitDelay = waitDelay
	procutil.HideWindow(c)
	var out tailBuffer
	c.Stdout = &out
	c.Stderr = &out
	if err := c.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if tail := out.String(); tail != "" {
			return fmt.Errorf("%s: %w: %s", argv[0], err, tail)
		}
		return fmt.Errorf("%s: %w", argv[0], err)
	}
	return nil
}
