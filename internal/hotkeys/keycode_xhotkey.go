//go:build darwin || linux

package hotkeys

import (
	"fmt"

	"golang.design/x/hotkey"

	"keyflow/internal/model"
)

var xhotkeyKeyByName = map[string]hotkey.Key{
	"SPACE": hotkey.KeySpace, "TAB": hotkey.KeyTab, "ENTER": hotkey.KeyReturn,
	"ESC": hotkey.KeyEscape, "DELETE": hotkey.KeyDelete,
	"LEFT": hotkey.KeyLeft, "RIGHT": hotkey.KeyRight, "UP": hotkey.KeyUp, "DOWN": hotkey.KeyDown,

	"0": hotkey.Key0, "1": hotkey.Key1, "2": hotkey.Key2, "3": hotkey.Key3, "4": hotkey.Key4,
	"5": hotkey.Key5, "6": hotkey.Key6, "7": hotkey.Key7, "8": hotkey.Key8, "9": hotkey.Key9,

	"A": hotkey.KeyA, "B": hotkey.KeyB, "C": hotkey.KeyC, "D": hotkey.KeyD, "E": hotkey.KeyE,
	"F": hotkey.KeyF, "G": hotkey.KeyG, "H": hotkey.KeyH, "I": hotkey.KeyI, "J": hotkey.KeyJ,
	"K": hotkey.KeyK, "L": hotkey.KeyL, "M": hotkey.KeyM, "N": hotkey.KeyN, "O": hotkey.KeyO,
	"P": hotkey.KeyP, "Q": hotkey.KeyQ, "R": hotkey.KeyR, "S": hotkey.KeyS, "T": hotkey.KeyT,
	"U": hotkey.KeyU, "V": hotkey.KeyV, "W": hotkey.KeyW, "X": hotkey.KeyX, "Y": hotkey.KeyY,
	"Z": hotkey.KeyZ,

	"F1": hotkey.KeyF1, "F2": hotkey.KeyF2, "F3": hotkey.KeyF3, "F4": hotkey.KeyF4,
	"F5": hotkey.KeyF5, "F6": hotkey.KeyF6, "F7": hotkey.KeyF7, "F8": hotkey.KeyF8,
	"F9": hotkey.KeyF9, "F10": hotkey.KeyF10, "F11": hotkey.KeyF11, "F12": hotkey.KeyF12,
	"F13": hotkey.KeyF13, "F14": hotkey.KeyF14, "F15": hotkey.KeyF15, "F16": hotkey.KeyF16,
	"F17": hotkey.KeyF17, "F18": hotkey.KeyF18, "F19": hotkey.KeyF19, "F20": hotkey.KeyF20,
}

// xhotkeyCodes translates a shortcut into golang.design/x/hotkey arguments.
func xhotkeyCodes(sc model.KeyboardShortcut) ([]hotkey.Modifier, hotkey.Key, error) {
	var mods []hotkey.Modifier
	for _, entry := range platformModifiers {
		if sc.Modifiers.Has(entry.mod) {
			mods = append(mods, entry.native)
		}
	}
	if sc.Modifiers.Has(model.ModFunction) && !functionModifierSupported {
		return nil, 0, fmt.Errorf("modifier Fn cannot be bound on this platform: %s", sc)
	}

	if sc.Key == "" {
		return nil, 0, fmt.Errorf("missing hotkey key token")
	}
	if key, ok := xhotkeyKeyByName[sc.Key]; ok {
		return mods, key, nil
	}
	if key, ok := punctuationKeys[sc.Key]; ok {
		return mods, key, nil
	}
	return nil, 0, fmt.Errorf("unknown key %q for global hotkey", sc.Key)
}
