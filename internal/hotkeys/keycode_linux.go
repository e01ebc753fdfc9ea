//go:build linux

package hotkeys

import (
	"golang.design/x/hotkey"

	"keyflow/internal/model"
)

const functionModifierSupported = false

// On X11 Alt is Mod1 and Super is Mod4.
var platformModifiers = []struct {
	mod    model.Modifier
	native hotkey.Modifier
}{
	{model.ModControl, hotkey.ModCtrl},
	{model.ModShift, hotkey.ModShift},
	{model.ModOption, hotkey.Mod1},
	{model.ModCommand, hotkey.Mod4},
}

// punctuationKeys holds X11 keysyms, which equal the Latin-1 code points.
var punctuationKeys = map[string]hotkey.Key{
	"-":  hotkey.Key('-'),
	"=":  hotkey.Key('='),
	"[":  hotkey.Key('['),
	"]":  hotkey.Key(']'),
	";":  hotkey.Key(';'),
	"'":  hotkey.Key('\''),
	",":  hotkey.Key(','),
	".":  hotkey.Key('.'),
	"/":  hotkey.Key('/'),
	"\\": hotkey.Key('\\'),
	"`":  hotkey.Key('`'),
}
