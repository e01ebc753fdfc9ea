package runners

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"keyflow/internal/model"
	"keyflow/internal/procutil"
)

// waitDelay bounds how long Wait blocks on output pipes after the process
// was killed by context cancellation.
const waitDelay = 2 * time.Second

// Script runs inline source through an interpreter, or a script file.
type Script struct{}

func (Script) Execute(ctx context.Context, cmd model.Command) error {
	sc, ok := cmd.(model.ScriptCommand)
	if !ok {
		return mismatch(model.KindScript, cmd)
	}
	argv, err := scriptArgs(runtime.GOOS, sc)
	if err != nil {
		return err
	}

	// SECURITY: argv comes from the user's own configuration file.
	c := exec.CommandContext(ctx, argv[0], argv[1:]...)
	c.WaitDelay = waitDelay
	procutil.HideWindow(c)

	var out tailBuffer
	if sc.TTY {
		err = runWithTTY(c, &out)
	} else {
		c.Stdout = &out
		c.Stderr = &out
		err = c.Run()
	}
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	slog.Debug("[DEBUG-EXEC] script failed", "command", model.Label(sc), "error", err)
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if tail := out.String(); tail != "" {
			return fmt.Errorf("script exited with code %d: %s", exitErr.ExitCode(), tail)
		}
		return fmt.Errorf("script exited with code %d", exitErr.ExitCode())
	}
	return fmt.Errorf("start script: %w", err)
}

// scriptArgs builds the argv for sc on goos.
func scriptArgs(goos string, sc model.ScriptCommand) ([]string, error) {
	source := strings.TrimSpace(sc.Source)
	path := strings.TrimSpace(sc.Path)
	interp := strings.Fields(sc.Interpreter)

	switch {
	case source != "" && path != "":
		return nil, errors.New("script has both source and path")
	case path != "":
		if len(interp) == 0 {
			return []string{path}, nil
		}
		return append(interp, path), nil
	case source != "":
		if len(interp) == 0 {
			interp = defaultInterpreter(goos)
		}
		return append(interp, inlineFlag(interp[0]), sc.Source), nil
	default:
		return nil, errors.New("script has neither source nor path")
	}
}

func defaultInterpreter(goos string) []string {
	if goos == "windows" {
		return []string{"powershell.exe", "-NoProfile", "-NonInteractive"}
	}
	return []string{"/bin/sh"}
}

// inlineFlag is the flag that makes interpreter evaluate its next argument.
func inlineFlag(interpreter string) string {
	name := strings.ToLower(interpreter)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSuffix(name, ".exe")
	switch name {
	case "powershell", "pwsh":
		return "-Command"
	case "cmd":
		return "/C"
	case "python", "python3", "perl", "ruby", "node", "osascript":
		return "-e"
	default:
		return "-c"
	}
}
