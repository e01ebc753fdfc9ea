package model

import (
	"fmt"
	"strings"
)

// Modifier is a bitmask of keyboard modifier keys.
type Modifier uint8

const (
	ModShift Modifier = 1 << iota
	ModControl
	ModOption
	ModCommand
	ModFunction
)

// modifierOrder fixes the canonical rendering order of modifiers.
var modifierOrder = []struct {
	mod  Modifier
	name string
}{
	{ModControl, "Ctrl"},
	{ModOption, "Opt"},
	{ModShift, "Shift"},
	{ModCommand, "Cmd"},
	{ModFunction, "Fn"},
}

var modifierByName = map[string]Modifier{
	"SHIFT":    ModShift,
	"CTRL":     ModControl,
	"CONTROL":  ModControl,
	"ALT":      ModOption,
	"OPT":      ModOption,
	"OPTION":   ModOption,
	"CMD":      ModCommand,
	"COMMAND":  ModCommand,
	"SUPER":    ModCommand,
	"WIN":      ModCommand,
	"FN":       ModFunction,
	"FUNCTION": ModFunction,
}

// namedKeys maps accepted key names to their canonical symbol.
var namedKeys = map[string]string{
	"SPACE":     "SPACE",
	"TAB":       "TAB",
	"ENTER":     "ENTER",
	"RETURN":    "ENTER",
	"ESC":       "ESC",
	"ESCAPE":    "ESC",
	"DELETE":    "DELETE",
	"BACKSPACE": "DELETE",
	"LEFT":      "LEFT",
	"RIGHT":     "RIGHT",
	"UP":        "UP",
	"DOWN":      "DOWN",
	"BACKQUOTE": "`",
	"GRAVE":     "`",
}

// Has reports whether every bit of other is set in m.
func (m Modifier) Has(other Modifier) bool { return m&other == other }

// String renders the modifiers in canonical order joined by "+".
func (m Modifier) String() string {
	names := make([]string, 0, len(modifierOrder))
	for _, entry := range modifierOrder {
		if m.Has(entry.mod) {
			names = append(names, entry.name)
		}
	}
	return strings.Join(names, "+")
}

// KeyboardShortcut is a key symbol plus a set of modifiers.
// It is comparable; equality is structural.
type KeyboardShortcut struct {
	Key       string
	Modifiers Modifier
}

// IsZero reports whether s carries no key.
func (s KeyboardShortcut) IsZero() bool { return s.Key == "" }

// String returns the canonical form, e.g. "Ctrl+Shift+K".
func (s KeyboardShortcut) String() string {
	if s.Modifiers == 0 {
		return s.Key
	}
	return s.Modifiers.String() + "+" + s.Key
}

// MarshalText implements encoding.TextMarshaler.
func (s KeyboardShortcut) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *KeyboardShortcut) UnmarshalText(text []byte) error {
	parsed, err := ParseShortcut(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseShortcut parses a shortcut like "Cmd+Shift+K" or a bare key like "S".
// Modifier names are case-insensitive and may repeat.
func ParseShortcut(spec string) (KeyboardShortcut, error) {
	raw := strings.TrimSpace(spec)
	if raw == "" {
		return KeyboardShortcut{}, fmt.Errorf("shortcut spec is empty")
	}

	parts := strings.Split(raw, "+")
	var modifiers Modifier
	for _, token := range parts[:len(parts)-1] {
		name := strings.ToUpper(strings.TrimSpace(token))
		mod, ok := modifierByName[name]
		if !ok {
			return KeyboardShortcut{}, fmt.Errorf("unknown modifier %q in shortcut %q", token, raw)
		}
		modifiers |= mod
	}

	key, err := normalizeKey(parts[len(parts)-1])
	if err != nil {
		return KeyboardShortcut{}, fmt.Errorf("shortcut %q: %w", raw, err)
	}
	return KeyboardShortcut{Key: key, Modifiers: modifiers}, nil
}

// MustParseShortcut is ParseShortcut for literals known to be valid.
func MustParseShortcut(spec string) KeyboardShortcut {
	sc, err := ParseShortcut(spec)
	if err != nil {
		panic(err)
	}
	return sc
}

// ParseChord parses every element of specs in order.
func ParseChord(specs []string) ([]KeyboardShortcut, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("chord is empty")
	}
	out := make([]KeyboardShortcut, 0, len(specs))
	for i, spec := range specs {
		sc, err := ParseShortcut(spec)
		if err != nil {
			return nil, fmt.Errorf("chord[%d]: %w", i, err)
		}
		out = append(out, sc)
	}
	return out, nil
}

// HasPrefix reports whether prefix is a (non-strict) prefix of seq.
func HasPrefix(seq, prefix []KeyboardShortcut) bool {
	if len(prefix) > len(seq) {
		return false
	}
	for i := range prefix {
		if seq[i] != prefix[i] {
			return false
		}
	}
	return true
}

// ChordString renders a chord as space-separated shortcuts.
func ChordString(chord []KeyboardShortcut) string {
	parts := make([]string, len(chord))
	for i, sc := range chord {
		parts[i] = sc.String()
	}
	return strings.Join(parts, " ")
}

func normalizeKey(raw string) (string, error) {
	token := strings.ToUpper(strings.TrimSpace(raw))
	if token == "" {
		return "", fmt.Errorf("missing key token")
	}
	if name, ok := namedKeys[token]; ok {
		return name, nil
	}
	if isFunctionKey(token) {
		return token, nil
	}
	if len(token) == 1 {
		ch := token[0]
		switch {
		case ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
			return token, nil
		case strings.IndexByte("`-=[];',./\\", ch) >= 0:
			return token, nil
		}
	}
	return "", fmt.Errorf("unknown key %q", raw)
}

func isFunctionKey(token string) bool {
	if len(token) < 2 || token[0] != 'F' {
		return false
	}
	n := 0
	for _, ch := range token[1:] {
		if ch < '0' || ch > '9' {
			return false
		}
		n = n*10 + int(ch-'0')
	}
	return n >= 1 && n <= 20
}
