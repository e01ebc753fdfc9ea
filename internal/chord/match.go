package chord

import (
	"keyflow/internal/events"
	"keyflow/internal/model"
)

// matchResult partitions the workflows a typed prefix can still reach.
type matchResult struct {
	candidates []model.Workflow
	// exact is the first workflow, in declaration order, whose chord equals
	// the prefix. Later identical chords lose the tie.
	exact *model.Workflow
	// longer holds candidates that need more keys.
	longer []model.Workflow
}

// keyboardWorkflows yields enabled, keyboard-triggered workflows in group
// then workflow declaration order.
func keyboardWorkflows(groups []model.Group) []model.Workflow {
	var out []model.Workflow
	for _, g := range groups {
		for _, wf := range g.Workflows {
			if wf.Enabled && len(wf.Chord()) > 0 {
				out = append(out, wf)
			}
		}
	}
	return out
}

func match(groups []model.Group, typed []model.KeyboardShortcut) matchResult {
	var m matchResult
	for _, wf := range keyboardWorkflows(groups) {
		chord := wf.Chord()
		if !model.HasPrefix(chord, typed) {
			continue
		}
		m.candidates = append(m.candidates, wf)
		if len(chord) == len(typed) {
			if m.exact == nil {
				exact := wf
				m.exact = &exact
			}
			continue
		}
		m.longer = append(m.longer, wf)
	}
	return m
}

// topLevel is the first key of every reachable chord, deduplicated.
func topLevel(groups []model.Group) []model.KeyboardShortcut {
	return nextKeys(keyboardWorkflows(groups), 0)
}

// nextKeys collects the key at index pos of each workflow's chord.
func nextKeys(workflows []model.Workflow, pos int) []model.KeyboardShortcut {
	seen := make(map[model.KeyboardShortcut]struct{})
	var out []model.KeyboardShortcut
	for _, wf := range workflows {
		chord := wf.Chord()
		if pos >= len(chord) {
			continue
		}
		sc := chord[pos]
		if _, dup := seen[sc]; dup {
			continue
		}
		seen[sc] = struct{}{}
		out = append(out, sc)
	}
	return out
}

// findConflicts lists identical-chord ties and chords that are strict
// prefixes of other chords.
func findConflicts(groups []model.Group) []events.ConflictEvent {
	workflows := keyboardWorkflows(groups)

	var conflicts []events.ConflictEvent
	byChord := make(map[string][]string)
	var order []string
	for _, wf := range workflows {
		key := model.ChordString(wf.Chord())
		if _, ok := byChord[key]; !ok {
			order = append(order, key)
		}
		byChord[key] = append(byChord[key], wf.ID)
	}
	for _, key := range order {
		if ids := byChord[key]; len(ids) > 1 {
			conflicts = append(conflicts, events.ConflictEvent{
				Kind:        events.ConflictTie,
				Chord:       key,
				WorkflowIDs: ids,
				Selected:    ids[0],
			})
		}
	}

	for _, key := range order {
		short := byChord[key][0]
		var shortChord []model.KeyboardShortcut
		for _, wf := range workflows {
			if wf.ID == short {
				shortChord = wf.Chord()
				break
			}
		}
		var ids []string
		for _, wf := range workflows {
			chord := wf.Chord()
			if len(chord) > len(shortChord) && model.HasPrefix(chord, shortChord) {
				ids = append(ids, wf.ID)
			}
		}
		if len(ids) > 0 {
			conflicts = append(conflicts, events.ConflictEvent{
				Kind:        events.ConflictShadowed,
				Chord:       key,
				WorkflowIDs: append([]string{short}, ids...),
			})
		}
	}
	return conflicts
}

func shortcutTexts(scs []model.KeyboardShortcut) []string {
	out := make([]string, 0, len(scs))
	for _, sc := range scs {
		out = append(out, sc.String())
	}
	return out
}

func chordText(scs []model.KeyboardShortcut) string {
	return model.ChordString(scs)
}
