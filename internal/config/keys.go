package config

import (
	"bytes"
	"reflect"
	"strings"

	"github.com/go-errors/errors"
)

// Key is a parsed key binding: its canonical name and the bytes a terminal
// sends when it is pressed.
type Key struct {
	Name string
	Seq  []byte
}

// ParseKey parses a key string, preserving the case of single characters so
// "N" (shift+n) and "n" stay distinct.
// Supported formats:
//   - Single character: "q", "?", "N"
//   - Special keys: "enter", "space", "esc", "tab", "backspace"
//   - Arrow keys: "up", "down", "left", "right"
//   - Ctrl combinations: "ctrl+c", "ctrl+s"
//   - Alt combinations: "alt+x", "alt+enter"
func ParseKey(s string) (Key, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Key{}, errors.New("empty key string")
	}
	lower := strings.ToLower(trimmed)

	if char, found := strings.CutPrefix(lower, "ctrl+"); found {
		if len(char) == 1 && char[0] >= 'a' && char[0] <= 'z' {
			return Key{Name: lower, Seq: []byte{char[0] - 'a' + 1}}, nil
		}
		return Key{}, errors.Errorf("invalid ctrl combination: %s", s)
	}

	if _, found := strings.CutPrefix(lower, "alt+"); found {
		inner, err := ParseKey(trimmed[len("alt+"):])
		if err != nil {
			return Key{}, errors.Errorf("invalid alt combination: %s", s)
		}
		return Key{Name: "alt+" + inner.Name, Seq: append([]byte{0x1b}, inner.Seq...)}, nil
	}

	if seq, ok := specialKeyMap[lower]; ok {
		return Key{Name: lower, Seq: []byte(seq)}, nil
	}

	if len(trimmed) == 1 {
		return Key{Name: trimmed, Seq: []byte(trimmed)}, nil
	}

	return Key{}, errors.Errorf("unknown key: %s", s)
}

// String returns the canonical name of the key.
func (k Key) String() string {
	return k.Name
}

// specialKeyMap maps key names to the sequences xterm sends for them.
var specialKeyMap = map[string]string{
	"enter":     "\r",
	"space":     " ",
	"esc":       "\x1b",
	"escape":    "\x1b",
	"tab":       "\t",
	"backspace": "\x7f",
	"delete":    "\x1b[3~",
	"insert":    "\x1b[2~",
	"home":      "\x1b[H",
	"end":       "\x1b[F",
	"pgup":      "\x1b[5~",
	"pageup":    "\x1b[5~",
	"pgdn":      "\x1b[6~",
	"pagedown":  "\x1b[6~",
	"up":        "\x1b[A",
	"down":      "\x1b[B",
	"right":     "\x1b[C",
	"left":      "\x1b[D",
	"f1":        "\x1bOP",
	"f2":        "\x1bOQ",
	"f3":        "\x1bOR",
	"f4":        "\x1bOS",
	"f5":        "\x1b[15~",
	"f6":        "\x1b[17~",
	"f7":        "\x1b[18~",
	"f8":        "\x1b[19~",
	"f9":        "\x1b[20~",
	"f10":       "\x1b[21~",
	"f11":       "\x1b[23~",
	"f12":       "\x1b[24~",
}

// Action names a bindable command. Values match the yaml keys of KeyBindings.
type Action string

const (
	ActionNewTab          Action = "new_tab"
	ActionCloseTab        Action = "close_tab"
	ActionNextTab         Action = "next_tab"
	ActionPrevTab         Action = "prev_tab"
	ActionSplitHorizontal Action = "split_horizontal"
	ActionSplitVertical   Action = "split_vertical"
	ActionClosePane       Action = "close_pane"
	ActionFocusNext       Action = "focus_next"
	ActionFocusPrev       Action = "focus_prev"
	ActionSaveSession     Action = "save_session"
	ActionCopy            Action = "copy"
	ActionPaste           Action = "paste"
	ActionQuit            Action = "quit"
)

type binding struct {
	action Action
	key    Key
}

// Keymap resolves raw terminal input to bound actions.
type Keymap struct {
	bindings []binding
}

// NewKeymap parses every non-empty binding in keys.
func NewKeymap(keys KeyBindings) (*Keymap, error) {
	km := &Keymap{}
	err := eachBinding(&keys, func(action Action, field, value string) error {
		key, err := ParseKey(value)
		if err != nil {
			return errors.Errorf("invalid key for %s: %v", field, err)
		}
		km.bindings = append(km.bindings, binding{action: action, key: key})
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Longest sequences first so "alt+x" wins over a bare "esc".
	for i := 1; i < len(km.bindings); i++ {
		for j := i; j > 0 && len(km.bindings[j].key.Seq) > len(km.bindings[j-1].key.Seq); j-- {
			km.bindings[j], km.bindings[j-1] = km.bindings[j-1], km.bindings[j]
		}
	}
	return km, nil
}

// Match reports the action bound to the sequence at the start of input and the
// number of bytes it spans.
func (km *Keymap) Match(input []byte) (Action, int, bool) {
	for _, b := range km.bindings {
		if bytes.HasPrefix(input, b.key.Seq) {
			return b.action, len(b.key.Seq), true
		}
	}
	return "", 0, false
}

// IsPrefix reports whether input is the start of a bound sequence but not a
// whole one, so the caller should wait for more bytes before forwarding it.
func (km *Keymap) IsPrefix(input []byte) bool {
	if len(input) == 0 {
		return false
	}
	for _, b := range km.bindings {
		if len(input) < len(b.key.Seq) && bytes.HasPrefix(b.key.Seq, input) {
			return true
		}
	}
	return false
}

// Key returns the key bound to action.
func (km *Keymap) Key(action Action) (Key, bool) {
	for _, b := range km.bindings {
		if b.action == action {
			return b.key, true
		}
	}
	return Key{}, false
}

// eachBinding calls fn for every non-empty string field of keys with the
// field's yaml name as the action.
func eachBinding(keys *KeyBindings, fn func(action Action, field, value string) error) error {
	v := reflect.ValueOf(keys).Elem()
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		if field.Kind() != reflect.String || field.String() == "" {
			continue
		}
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("yaml"), ",")
		if err := fn(Action(name), t.Field(i).Name, field.String()); err != nil {
			return err
		}
	}
	return nil
}
