//go:build windows

package hotkeys

import (
	"fmt"

	"keyflow/internal/model"
)

// winModifier is a Win32 RegisterHotKey modifier bitmask.
type winModifier uint32

// vKey is a Win32 virtual-key code.
type vKey uint32

const (
	modAlt      winModifier = 0x0001
	modControl  winModifier = 0x0002
	modShift    winModifier = 0x0004
	modWin      winModifier = 0x0008
	modNoRepeat winModifier = 0x4000
)

const (
	vkTab    vKey = 0x09
	vkReturn vKey = 0x0D
	vkEscape vKey = 0x1B
	vkSpace  vKey = 0x20
	vkLeft   vKey = 0x25
	vkUp     vKey = 0x26
	vkRight  vKey = 0x27
	vkDown   vKey = 0x28
	vkDelete vKey = 0x2E
	vkF1     vKey = 0x70
	vkOem1   vKey = 0xBA // ;
	vkPlus   vKey = 0xBB // =
	vkComma  vKey = 0xBC
	vkMinus  vKey = 0xBD
	vkPeriod vKey = 0xBE
	vkOem2   vKey = 0xBF // /
	vkOem3   vKey = 0xC0 // `
	vkOem4   vKey = 0xDB // [
	vkOem5   vKey = 0xDC // \
	vkOem6   vKey = 0xDD // ]
	vkOem7   vKey = 0xDE // '
)

var windowsKeyByName = map[string]vKey{
	"SPACE":  vkSpace,
	"TAB":    vkTab,
	"ENTER":  vkReturn,
	"ESC":    vkEscape,
	"DELETE": vkDelete,
	"LEFT":   vkLeft,
	"RIGHT":  vkRight,
	"UP":     vkUp,
	"DOWN":   vkDown,
	"`":      vkOem3,
	";":      vkOem1,
	"=":      vkPlus,
	",":      vkComma,
	"-":      vkMinus,
	".":      vkPeriod,
	"/":      vkOem2,
	"[":      vkOem4,
	"\\":     vkOem5,
	"]":      vkOem6,
	"'":      vkOem7,
}

// win32Codes translates a shortcut into RegisterHotKey arguments.
// Command maps to the Windows key and Option to Alt; Fn has no Win32 equivalent.
func win32Codes(sc model.KeyboardShortcut) (winModifier, vKey, error) {
	if sc.Modifiers.Has(model.ModFunction) {
		return 0, 0, fmt.Errorf("modifier Fn cannot be bound on Windows: %s", sc)
	}

	mods := modNoRepeat
	if sc.Modifiers.Has(model.ModControl) {
		mods |= modControl
	}
	if sc.Modifiers.Has(model.ModShift) {
		mods |= modShift
	}
	if sc.Modifiers.Has(model.ModOption) {
		mods |= modAlt
	}
	if sc.Modifiers.Has(model.ModCommand) {
		mods |= modWin
	}

	key, err := windowsKey(sc.Key)
	if err != nil {
		return 0, 0, err
	}
	return mods, key, nil
}

func windowsKey(token string) (vKey, error) {
	if token == "" {
		return 0, fmt.Errorf("missing hotkey key token")
	}
	if key, ok := windowsKeyByName[token]; ok {
		return key, nil
	}
	if len(token) == 1 {
		ch := token[0]
		if (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') {
			return vKey(ch), nil
		}
	}
	var n int
	if _, err := fmt.Sscanf(token, "F%d", &n); err == nil && n >= 1 && n <= 20 && token == fmt.Sprintf("F%d", n) {
		return vkF1 + vKey(n-1), nil
	}
	return 0, fmt.Errorf("unknown key %q for Windows hotkey", token)
}
