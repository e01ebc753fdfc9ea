package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"keyflow/internal/model"
)

// idNamespace derives stable ids for entries that do not declare one, so the
// same file always yields the same ids across reloads.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("keyflow:config"))

// Build converts cfg into model groups. Invalid groups, workflows and
// commands are skipped; each skip is logged and returned as a warning.
// Declaration order is preserved.
func Build(cfg Config) ([]model.Group, []string) {
	b := builder{seen: make(map[string]string)}
	groups := make([]model.Group, 0, len(cfg.Groups))
	for gi, gc := range cfg.Groups {
		g, ok := b.group(gi, gc)
		if ok {
			groups = append(groups, g)
		}
	}
	b.checkShortcutTargets(groups)
	return groups, b.warnings
}

type builder struct {
	warnings []string
	// seen maps ids already handed out to the entry that claimed them.
	seen map[string]string
}

func (b *builder) warn(where, format string, args ...any) {
	msg := where + ": " + fmt.Sprintf(format, args...)
	slog.Warn("[WARN-CONFIG] skipping invalid entry", "detail", msg)
	b.warnings = append(b.warnings, msg)
}

// claimID returns id, or a derived id when id is empty or already taken.
func (b *builder) claimID(where, id string) string {
	id = strings.TrimSpace(id)
	if id != "" {
		if owner, dup := b.seen[id]; dup {
			b.warn(where, "id %q already used by %s, assigning a generated id", id, owner)
			id = ""
		}
	}
	if id == "" {
		id = uuid.NewSHA1(idNamespace, []byte(where)).String()
	}
	b.seen[id] = where
	return id
}

func (b *builder) group(gi int, gc GroupConfig) (model.Group, bool) {
	where := fmt.Sprintf("groups[%d]", gi)
	rule, err := buildRule(gc.Rule)
	if err != nil {
		// A broken rule could widen the group's scope; drop the whole group.
		b.warn(where, "%v", err)
		return model.Group{}, false
	}
	g := model.Group{
		ID:   b.claimID(where, gc.ID),
		Name: strings.TrimSpace(gc.Name),
		Rule: rule,
	}
	for wi, wc := range gc.Workflows {
		if wf, ok := b.workflow(fmt.Sprintf("%s.workflows[%d]", where, wi), wc); ok {
			g.Workflows = append(g.Workflows, wf)
		}
	}
	return g, true
}

func buildRule(rc RuleConfig) (model.Rule, error) {
	rule := model.Rule{Applications: sanitizeList(rc.Applications)}
	for _, raw := range rc.Days {
		day, err := model.ParseWeekday(raw)
		if err != nil {
			return model.Rule{}, fmt.Errorf("rule: %w", err)
		}
		rule.Days = append(rule.Days, day)
	}
	return rule, nil
}

func (b *builder) workflow(where string, wc WorkflowConfig) (model.Workflow, bool) {
	mode, err := model.ParseExecutionMode(wc.Execution)
	if err != nil {
		b.warn(where, "%v", err)
		return model.Workflow{}, false
	}
	trigger, err := buildTrigger(wc.Trigger)
	if err != nil {
		b.warn(where, "%v", err)
		return model.Workflow{}, false
	}
	wf := model.Workflow{
		ID:      b.claimID(where, wc.ID),
		Name:    strings.TrimSpace(wc.Name),
		Enabled: wc.Enabled == nil || *wc.Enabled,
		Mode:    mode,
		Trigger: trigger,
	}
	for ci, cc := range wc.Commands {
		cwhere := fmt.Sprintf("%s.commands[%d]", where, ci)
		cmd, err := buildCommand(b.claimID(cwhere, cc.ID), cc)
		if err != nil {
			b.warn(cwhere, "%v", err)
			continue
		}
		if sc, ok := cmd.(model.ShortcutCommand); ok && sc.WorkflowID == wf.ID {
			b.warn(cwhere, "shortcut command refers to its own workflow")
			continue
		}
		wf.Commands = append(wf.Commands, cmd)
	}
	return wf, true
}

func buildTrigger(tc TriggerConfig) (model.Trigger, error) {
	switch {
	case len(tc.Keyboard) > 0 && tc.Application != nil:
		return nil, errors.New("trigger: keyboard and application are mutually exclusive")
	case len(tc.Keyboard) > 0:
		chord, err := model.ParseChord(tc.Keyboard)
		if err != nil {
			return nil, fmt.Errorf("trigger: %w", err)
		}
		return model.KeyboardTrigger{Shortcuts: chord}, nil
	case tc.Application != nil:
		app := strings.TrimSpace(tc.Application.Application)
		if app == "" {
			return nil, errors.New("trigger: application is empty")
		}
		return model.ApplicationTrigger{Application: app, Event: strings.TrimSpace(tc.Application.Event)}, nil
	default:
		return nil, errors.New("trigger: missing")
	}
}

func buildCommand(id string, cc CommandConfig) (model.Command, error) {
	kind, err := model.ParseKind(strings.ToLower(strings.TrimSpace(cc.Kind)))
	if err != nil {
		return nil, err
	}
	if cc.Timeout < 0 {
		return nil, fmt.Errorf("timeout %s is negative", cc.Timeout)
	}
	meta := model.Meta{
		ID:                id,
		Name:              strings.TrimSpace(cc.Name),
		Enabled:           cc.Enabled == nil || *cc.Enabled,
		Notify:            cc.Notify,
		ContinueOnFailure: cc.ContinueOnFailure,
		Timeout:           cc.Timeout,
	}
	require := func(field, value string) error {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%s command requires %s", kind, field)
		}
		return nil
	}

	switch kind {
	case model.KindApplication:
		action := model.ApplicationAction(strings.ToLower(strings.TrimSpace(cc.Action)))
		switch action {
		case "":
			action = model.AppOpen
		case model.AppOpen, model.AppActivate, model.AppClose:
		default:
			return nil, fmt.Errorf("unknown application action %q", cc.Action)
		}
		if strings.TrimSpace(cc.Application) == "" && strings.TrimSpace(cc.Path) == "" {
			return nil, errors.New("application command requires application or path")
		}
		return model.ApplicationCommand{Meta: meta, Action: action, Application: strings.TrimSpace(cc.Application), Path: strings.TrimSpace(cc.Path)}, nil
	case model.KindKeyboard:
		shortcuts, err := model.ParseChord(cc.Shortcuts)
		if err != nil {
			return nil, fmt.Errorf("keyboard command: %w", err)
		}
		return model.KeyboardCommand{Meta: meta, Shortcuts: shortcuts}, nil
	case model.KindOpen:
		if err := require("target", cc.Target); err != nil {
			return nil, err
		}
		return model.OpenCommand{Meta: meta, Target: strings.TrimSpace(cc.Target), Application: strings.TrimSpace(cc.Application)}, nil
	case model.KindScript:
		hasSource := strings.TrimSpace(cc.Source) != ""
		hasPath := strings.TrimSpace(cc.Path) != ""
		if hasSource == hasPath {
			return nil, errors.New("script command requires exactly one of source or path")
		}
		return model.ScriptCommand{Meta: meta, Source: cc.Source, Path: strings.TrimSpace(cc.Path), Interpreter: strings.TrimSpace(cc.Interpreter), TTY: cc.TTY}, nil
	case model.KindType:
		if cc.Input == "" {
			return nil, errors.New("type command requires input")
		}
		return model.TypeCommand{Meta: meta, Input: cc.Input}, nil
	case model.KindBuiltIn:
		if err := require("action", cc.Action); err != nil {
			return nil, err
		}
		return model.BuiltInCommand{Meta: meta, Action: strings.TrimSpace(cc.Action)}, nil
	case model.KindShortcut:
		if err := require("workflow", cc.Workflow); err != nil {
			return nil, err
		}
		return model.ShortcutCommand{Meta: meta, WorkflowID: strings.TrimSpace(cc.Workflow)}, nil
	case model.KindSystem:
		if err := require("action", cc.Action); err != nil {
			return nil, err
		}
		return model.SystemCommand{Meta: meta, Action: strings.TrimSpace(cc.Action)}, nil
	default:
		if err := require("action", cc.Action); err != nil {
			return nil, err
		}
		return model.WindowCommand{Meta: meta, Action: strings.TrimSpace(cc.Action)}, nil
	}
}

// checkShortcutTargets warns about shortcut commands naming unknown
// workflows; they stay in place and fail when run. A shortcut command that
// closes a cycle of shortcut references is dropped, so every workflow's
// expansion through shortcuts is finite.
func (b *builder) checkShortcutTargets(groups []model.Group) {
	index := make(map[string]*model.Workflow)
	var order []*model.Workflow
	for gi := range groups {
		for wi := range groups[gi].Workflows {
			wf := &groups[gi].Workflows[wi]
			index[wf.ID] = wf
			order = append(order, wf)
		}
	}

	const (
		unvisited = iota
		onPath
		finished
	)
	state := make(map[string]int, len(order))
	var visit func(wf *model.Workflow)
	visit = func(wf *model.Workflow) {
		state[wf.ID] = onPath
		kept := make([]model.Command, 0, len(wf.Commands))
		for _, cmd := range wf.Commands {
			sc, ok := cmd.(model.ShortcutCommand)
			if !ok {
				kept = append(kept, cmd)
				continue
			}
			target, found := index[sc.WorkflowID]
			switch {
			case !found:
				msg := fmt.Sprintf("workflow %q: shortcut command %q refers to unknown workflow %q", wf.ID, sc.ID, sc.WorkflowID)
				slog.Warn("[WARN-CONFIG] dangling shortcut reference", "detail", msg)
				b.warnings = append(b.warnings, msg)
			case state[target.ID] == onPath:
				msg := fmt.Sprintf("workflow %q: shortcut command %q to %q closes a shortcut cycle, dropping it", wf.ID, sc.ID, sc.WorkflowID)
				slog.Warn("[WARN-CONFIG] shortcut cycle", "detail", msg)
				b.warnings = append(b.warnings, msg)
				continue
			case state[target.ID] == unvisited:
				visit(target)
			}
			kept = append(kept, cmd)
		}
		wf.Commands = kept
		state[wf.ID] = finished
	}
	for _, wf := range order {
		if state[wf.ID] == unvisited {
			visit(wf)
		}
	}
}

// Stats counts groups and workflows for reporting.
func Stats(groups []model.Group) (groupCount, workflowCount int) {
	for _, g := range groups {
		workflowCount += len(g.Workflows)
	}
	return len(groups), workflowCount
}
