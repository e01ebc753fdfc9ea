//go:build darwin

package hotkeys

import (
	"golang.design/x/hotkey"

	"keyflow/internal/model"
)

// functionModifierSupported: Carbon hotkeys cannot require Fn.
const functionModifierSupported = false

var platformModifiers = []struct {
	mod    model.Modifier
	native hotkey.Modifier
}{
	{model.ModControl, hotkey.ModCtrl},
	{model.ModShift, hotkey.ModShift},
	{model.ModOption, hotkey.ModOption},
	{model.ModCommand, hotkey.ModCmd},
}

// punctuationKeys holds ANSI virtual key codes (kVK_ANSI_*).
var punctuationKeys = map[string]hotkey.Key{
	"-":  hotkey.Key(0x1B),
	"=":  hotkey.Key(0x18),
	"[":  hotkey.Key(0x21),
	"]":  hotkey.Key(0x1E),
	";":  hotkey.Key(0x29),
	"'":  hotkey.Key(0x27),
	",":  hotkey.Key(0x2B),
	".":  hotkey.Key(0x2F),
	"/":  hotkey.Key(0x2C),
	"\\": hotkey.Key(0x2A),
	"`":  hotkey.Key(0x32),
}
