package runners

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"keyflow/internal/executor"
	"keyflow/internal/model"
)

func TestScriptArgs(t *testing.T) {
	tests := []struct {
		name    string
		goos    string
		cmd     model.ScriptCommand
		want    []string
		wantErr bool
	}{
		{name: "inline unix", goos: "linux", cmd: model.ScriptCommand{Source: "echo hi"}, want: []string{"/bin/sh", "-c", "echo hi"}},
		{name: "inline windows", goos: "windows", cmd: model.ScriptCommand{Source: "Get-Date"}, want: []string{"powershell.exe", "-NoProfile", "-NonInteractive", "-Command", "Get-Date"}},
		{name: "inline python", goos: "darwin", cmd: model.ScriptCommand{Source: "print(1)", Interpreter: "/usr/bin/python3"}, want: []string{"/usr/bin/python3", "-e", "print(1)"}},
		{name: "inline cmd", goos: "windows", cmd: model.ScriptCommand{Source: "dir", Interpreter: `C:\Windows\System32\cmd.exe`}, want: []string{`C:\Windows\System32\cmd.exe`, "/C", "dir"}},
		{name: "path direct", goos: "linux", cmd: model.ScriptCommand{Path: "/opt/run.sh"}, want: []string{"/opt/run.sh"}},
		{name: "path with interpreter", goos: "linux", cmd: model.ScriptCommand{Path: "/opt/run.py", Interpreter: "python3 -u"}, want: []string{"python3", "-u", "/opt/run.py"}},
		{name: "both", goos: "linux", cmd: model.ScriptCommand{Source: "x", Path: "y"}, wantErr: true},
		{name: "neither", goos: "linux", cmd: model.ScriptCommand{Source: "  "}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := scriptArgs(tt.goos, tt.cmd)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("scriptArgs() = %v, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("scriptArgs() error = %v", err)
			}
			if !slices.Equal(got, tt.want) {
				t.Fatalf("scriptArgs() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestApplicationArgs(t *testing.T) {
	tests := []struct {
		name     string
		goos     string
		cmd      model.ApplicationCommand
		want     []string
		wantWait bool
		wantErr  error
	}{
		{name: "darwin bundle", goos: "darwin", cmd: model.ApplicationCommand{Application: "com.apple.Terminal"}, want: []string{"open", "-b", "com.apple.Terminal"}, wantWait: true},
		{name: "darwin name", goos: "darwin", cmd: model.ApplicationCommand{Application: "Safari"}, want: []string{"open", "-a", "Safari"}, wantWait: true},
		{name: "darwin path", goos: "darwin", cmd: model.ApplicationCommand{Path: "/Applications/Notes.app"}, want: []string{"open", "/Applications/Notes.app"}, wantWait: true},
		{name: "darwin activate", goos: "darwin", cmd: model.ApplicationCommand{Action: model.AppActivate, Application: "com.apple.Notes"}, want: []string{"osascript", "-e", `tell application id "com.apple.Notes" to activate`}, wantWait: true},
		{name: "darwin close", goos: "darwin", cmd: model.ApplicationCommand{Action: model.AppClose, Application: "com.apple.Notes"}, want: []string{"osascript", "-e", `tell application id "com.apple.Notes" to quit`}, wantWait: true},
		{name: "windows open", goos: "windows", cmd: model.ApplicationCommand{Application: "notepad.exe"}, want: []string{"notepad.exe"}},
		{name: "windows close adds ext", goos: "windows", cmd: model.ApplicationCommand{Action: model.AppClose, Path: `C:\Tools\agent`}, want: []string{"taskkill", "/IM", "agent.exe"}, wantWait: true},
		{name: "windows activate", goos: "windows", cmd: model.ApplicationCommand{Action: model.AppActivate, Application: "x"}, wantErr: executor.ErrUnsupported},
		{name: "linux close", goos: "linux", cmd: model.ApplicationCommand{Action: model.AppClose, Application: "/usr/bin/firefox"}, want: []string{"pkill", "-x", "firefox"}, wantWait: true},
		{name: "empty", goos: "linux", cmd: model.ApplicationCommand{}, wantErr: errors.New("any")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, wait, err := applicationArgs(tt.goos, tt.cmd)
			if tt.wantErr != nil {
				if err == nil {
					t.Fatalf("applicationArgs() = %v, want error", got)
				}
				if errors.Is(tt.wantErr, executor.ErrUnsupported) && !errors.Is(err, executor.ErrUnsupported) {
					t.Fatalf("error = %v, want ErrUnsupported", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("applicationArgs() error = %v", err)
			}
			if !slices.Equal(got, tt.want) || wait != tt.wantWait {
				t.Fatalf("applicationArgs() = %q wait=%v, want %q wait=%v", got, wait, tt.want, tt.wantWait)
			}
		})
	}
}

func TestOpenRouting(t *testing.T) {
	var calls []string
	origURL, origFile, origStart := openURLFn, openFileFn, startFn
	t.Cleanup(func() { openURLFn, openFileFn, startFn = origURL, origFile, origStart })
	openURLFn = func(u string) error { calls = append(calls, "url:"+u); return nil }
	openFileFn = func(p string) error { calls = append(calls, "file:"+p); return nil }
	startFn = func(_ context.Context, argv []string) error {
		calls = append(calls, "start:"+strings.Join(argv, " "))
		return nil
	}

	cmds := []model.OpenCommand{
		{Target: "https://example.com"},
		{Target: `C:\notes.txt`},
		{Target: "/tmp/notes.txt"},
		{Target: "/tmp/x.txt", Application: "gedit"},
	}
	for _, c := range cmds {
		if err := (Open{}).Execute(context.Background(), c); err != nil {
			t.Fatalf("Execute(%+v) error = %v", c, err)
		}
	}
	if !strings.HasPrefix(calls[3], "start:") {
		t.Fatalf("named application not started directly: %v", calls)
	}
	want := []string{"url:https://example.com", `file:C:\notes.txt`, "file:/tmp/notes.txt"}
	if !slices.Equal(calls[:3], want) {
		t.Fatalf("calls = %q, want %q", calls[:3], want)
	}

	if err := (Open{}).Execute(context.Background(), model.OpenCommand{Target: " "}); err == nil {
		t.Fatal("empty target should fail")
	}
}

func TestOpenWithArgs(t *testing.T) {
	if got := openWithArgs("darwin", "com.apple.Preview", "a.pdf"); !slices.Equal(got, []string{"open", "-b", "com.apple.Preview", "a.pdf"}) {
		t.Fatalf("darwin bundle = %q", got)
	}
	if got := openWithArgs("darwin", "Preview", "a.pdf"); !slices.Equal(got, []string{"open", "-a", "Preview", "a.pdf"}) {
		t.Fatalf("darwin name = %q", got)
	}
	if got := openWithArgs("linux", "evince", "a.pdf"); !slices.Equal(got, []string{"evince", "a.pdf"}) {
		t.Fatalf("linux = %q", got)
	}
}

func TestBuiltIn(t *testing.T) {
	var reloaded int
	b := NewBuiltIn(map[string]func(context.Context) error{
		ActionReloadConfig: func(context.Context) error { reloaded++; return nil },
	})
	ctx := context.Background()

	if err := b.Execute(ctx, model.BuiltInCommand{Action: "Reload-Config"}); err != nil || reloaded != 1 {
		t.Fatalf("reload-config: err=%v count=%d", err, reloaded)
	}
	if err := b.Execute(ctx, model.BuiltInCommand{Action: ActionNoop}); err != nil {
		t.Fatalf("noop error = %v", err)
	}
	if err := b.Execute(ctx, model.BuiltInCommand{Action: "explode"}); err == nil {
		t.Fatal("unknown action should fail")
	}
	if err := b.Execute(ctx, model.OpenCommand{}); err == nil {
		t.Fatal("wrong command kind should fail")
	}
}

func TestShortcut(t *testing.T) {
	target := model.Workflow{
		ID:       "w2",
		Enabled:  true,
		Mode:     model.Concurrent,
		Commands: []model.Command{model.TypeCommand{Meta: model.Meta{ID: "t", Enabled: true}}},
	}
	disabled := model.Workflow{ID: "w3"}
	var jobs []executor.Job
	s := Shortcut{
		Lookup: func(id string) (model.Workflow, bool) {
			switch id {
			case "w2":
				return target, true
			case "w3":
				return disabled, true
			}
			return model.Workflow{}, false
		},
		Enqueue: func(job executor.Job) error { jobs = append(jobs, job); return nil },
	}

	if err := s.Execute(context.Background(), model.ShortcutCommand{WorkflowID: "w2"}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(jobs) != 1 || jobs[0].WorkflowID != "w2" || jobs[0].Mode != model.Concurrent || len(jobs[0].Commands) != 1 {
		t.Fatalf("jobs = %+v", jobs)
	}
	for _, id := range []string{"w3", "missing"} {
		if err := s.Execute(context.Background(), model.ShortcutCommand{WorkflowID: id}); err == nil {
			t.Fatalf("Execute(%s) should fail", id)
		}
	}
}

func TestInstallCoversEveryKind(t *testing.T) {
	d := executor.NewDispatcher()
	Install(d, Deps{})

	for _, kind := range []model.Command{
		model.KeyboardCommand{}, model.TypeCommand{}, model.SystemCommand{}, model.WindowCommand{},
	} {
		err := d.Execute(context.Background(), kind)
		if !errors.Is(err, executor.ErrUnsupported) {
			t.Fatalf("%s: error = %v, want ErrUnsupported", kind.Kind(), err)
		}
	}
	for _, kind := range model.Kinds() {
		err := d.Execute(context.Background(), placeholder(kind))
		if errors.Is(err, executor.ErrNoRunner) {
			t.Fatalf("%s has no runner", kind)
		}
	}
}

// placeholder returns an invalid command of kind whose runner fails fast
// without side effects.
func placeholder(kind model.Kind) model.Command {
	switch kind {
	case model.KindApplication:
		return model.ApplicationCommand{}
	case model.KindKeyboard:
		return model.KeyboardCommand{}
	case model.KindOpen:
		return model.OpenCommand{}
	case model.KindScript:
		return model.ScriptCommand{}
	case model.KindType:
		return model.TypeCommand{}
	case model.KindBuiltIn:
		return model.BuiltInCommand{Action: "unknown"}
	case model.KindShortcut:
		return model.ShortcutCommand{}
	case model.KindSystem:
		return model.SystemCommand{}
	default:
		return model.WindowCommand{}
	}
}

func TestTailBufferKeepsEnd(t *testing.T) {
	var b tailBuffer
	b.Write([]byte(strings.Repeat("a", outputTailLimit)))
	b.Write([]byte("tail"))
	got := b.String()
	if len(got) != outputTailLimit || !strings.HasSuffix(got, "tail") {
		t.Fatalf("len=%d suffix ok=%v", len(got), strings.HasSuffix(got, "tail"))
	}
}

func TestShortcutCycleEndsTheDrain(t *testing.T) {
	workflows := map[string]model.Workflow{
		"a": {ID: "a", Enabled: true, Commands: []model.Command{
			model.ShortcutCommand{Meta: model.Meta{ID: "to-b", Enabled: true}, WorkflowID: "b"},
		}},
		"b": {ID: "b", Enabled: true, Commands: []model.Command{
			model.BuiltInCommand{Meta: model.Meta{ID: "noop", Enabled: true}, Action: ActionNoop},
			model.ShortcutCommand{Meta: model.Meta{ID: "to-a", Enabled: true}, WorkflowID: "a"},
		}},
	}
	reports := make(chan executor.Report, 4)
	var exec *executor.Executor
	d := executor.NewDispatcher()
	Install(d, Deps{
		Lookup: func(id string) (model.Workflow, bool) {
			wf, ok := workflows[id]
			return wf, ok
		},
		Enqueue: func(job executor.Job) error { return exec.Run(job) },
	})
	exec, err := executor.New(context.Background(), executor.Options{
		Runner:     d,
		OnComplete: func(r executor.Report) { reports <- r },
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(exec.Close)

	if err := exec.Run(executor.JobFor(workflows["a"])); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	select {
	case r := <-reports:
		var cycle *executor.CycleError
		if !errors.As(r.Err, &cycle) {
			t.Fatalf("report error = %v, want *executor.CycleError", r.Err)
		}
		if len(r.Finished) != 3 {
			t.Fatalf("Finished has %d commands, want 3", len(r.Finished))
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("drain never finished (busy=%v)", exec.Busy())
	}
}
