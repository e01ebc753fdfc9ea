package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"keyflow/internal/chord"
	"keyflow/internal/executor"
	"keyflow/internal/history"
	"keyflow/internal/ipc"
	"keyflow/internal/model"
)

const (
	controlTimeout      = 5 * time.Second
	defaultHistoryLimit = 20
	maxHistoryLimit     = 500
)

// DaemonStatus is the payload of the status control command.
type DaemonStatus struct {
	chord.Status
	Busy       bool   `json:"busy"`
	ConfigPath string `json:"config_path"`
	StreamURL  string `json:"stream_url,omitempty"`
	History    bool   `json:"history"`

	// StreamClient is true while a UI is attached to the event stream.
	StreamClient bool `json:"stream_client"`
}

// Execute serves one control request. It implements ipc.CommandExecutor.
func (a *App) Execute(req ipc.Request) ipc.Response {
	ctx, cancel := context.WithTimeout(a.runtimeContext(), controlTimeout)
	defer cancel()

	slog.Debug("[ipc] control request", "command", req.Command, "args", req.Args)
	switch req.Command {
	case ipc.CmdStatus:
		return a.controlStatus(ctx)
	case ipc.CmdReload:
		if err := a.reloadConfig(ctx); err != nil {
			return ipc.Failure(err.Error())
		}
		return ipc.Response{Stdout: "configuration reloaded\n"}
	case ipc.CmdCancel:
		if err := a.cancelChord(ctx); err != nil {
			return ipc.Failure(err.Error())
		}
		return ipc.Response{Stdout: "pending chord cancelled\n"}
	case ipc.CmdPress:
		return a.controlPress(req.Args)
	case ipc.CmdRun:
		return a.controlRun(req.Args)
	case ipc.CmdHistory:
		return a.controlHistory(ctx, req.Args)
	default:
		return ipc.Failure(fmt.Sprintf("unknown command %q", req.Command))
	}
}

func (a *App) controlStatus(ctx context.Context) ipc.Response {
	resolver, err := a.requireResolver()
	if err != nil {
		return ipc.Failure(err.Error())
	}
	st, err := resolver.Status(ctx)
	if err != nil {
		return ipc.Failure(statusOrStopped(err).Error())
	}
	status := DaemonStatus{
		Status:     st,
		ConfigPath: a.configPath,
		History:    a.history != nil,
	}
	if exec, err := a.requireExecutor(); err == nil {
		status.Busy = exec.Busy()
	}
	if a.hub != nil {
		status.StreamURL = a.hub.URL()
		status.StreamClient = a.hub.HasActiveConnection()
	}
	return dataResponse(status, formatStatus(status))
}

func formatStatus(st DaemonStatus) string {
	var b strings.Builder
	fmt.Fprintf(&b, "state:     %s\n", st.State)
	if len(st.Pending) > 0 {
		fmt.Fprintf(&b, "pending:   %s\n", strings.Join(st.Pending, ", "))
	}
	fmt.Fprintf(&b, "armed:     %s\n", strings.Join(st.Armed, " "))
	fmt.Fprintf(&b, "groups:    %d active of %d\n", st.ActiveGroups, st.Groups)
	if st.FrontmostApp != "" {
		fmt.Fprintf(&b, "frontmost: %s\n", st.FrontmostApp)
	}
	fmt.Fprintf(&b, "busy:      %t\n", st.Busy)
	fmt.Fprintf(&b, "config:    %s\n", st.ConfigPath)
	if st.StreamURL != "" {
		fmt.Fprintf(&b, "stream:    %s (client attached: %t)\n", st.StreamURL, st.StreamClient)
	}
	return b.String()
}

func (a *App) controlPress(args []string) ipc.Response {
	if len(args) != 1 {
		return ipc.Failure("usage: press <shortcut>")
	}
	sc, err := model.ParseShortcut(args[0])
	if err != nil {
		return ipc.Failure(err.Error())
	}
	registry, err := a.requireRegistry()
	if err != nil {
		return ipc.Failure(err.Error())
	}
	if err := registry.Inject(sc); err != nil {
		return ipc.Failure(err.Error())
	}
	return ipc.Response{Stdout: sc.String() + "\n"}
}

func (a *App) controlRun(args []string) ipc.Response {
	if len(args) != 1 {
		return ipc.Failure("usage: run <workflow-id>")
	}
	wf, ok := a.lookupWorkflow(args[0])
	if !ok {
		return ipc.Failure(fmt.Sprintf("workflow %q not found", args[0]))
	}
	if !wf.Enabled {
		return ipc.Failure(fmt.Sprintf("workflow %q is disabled", wf.ID))
	}
	job := executor.JobFor(wf)
	if err := a.enqueue(job); err != nil {
		return ipc.Failure(err.Error())
	}
	return ipc.Response{Stdout: fmt.Sprintf("queued %s (%d commands)\n", wf.ID, len(wf.Commands))}
}

func (a *App) controlHistory(ctx context.Context, args []string) ipc.Response {
	limit := defaultHistoryLimit
	if len(args) > 1 {
		return ipc.Failure("usage: history [n]")
	}
	if len(args) == 1 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return ipc.Failure(fmt.Sprintf("invalid history count %q", args[0]))
		}
		limit = min(n, maxHistoryLimit)
	}
	store, err := a.requireHistory()
	if err != nil {
		return ipc.Failure(err.Error())
	}
	runs, err := store.Recent(ctx, limit)
	if err != nil {
		return ipc.Failure(err.Error())
	}
	return dataResponse(runs, formatRuns(runs))
}

func formatRuns(runs []history.Run) string {
	var b strings.Builder
	for _, run := range runs {
		result := "ok"
		if run.Error != "" {
			result = "failed: " + run.Error
		}
		fmt.Fprintf(&b, "%s  %-24s  %d cmds  %s\n",
			run.FinishedAt.Local().Format(time.DateTime),
			strings.Join(run.WorkflowIDs, ","),
			len(run.Commands),
			result,
		)
	}
	return b.String()
}

func dataResponse(v any, text string) ipc.Response {
	data, err := json.Marshal(v)
	if err != nil {
		return ipc.Failure(fmt.Sprintf("encode response: %v", err))
	}
	return ipc.Response{Stdout: text, Data: data}
}
