package input

import (
	"reflect"
	"testing"

	"github.com/abdullathedruid/tabmux/internal/config"
)

func newHandler(t *testing.T) *Handler {
	t.Helper()
	km, err := config.NewKeymap(config.KeyBindings{
		Quit:      "ctrl+q",
		ClosePane: "alt+x",
		FocusNext: "esc",
		NextTab:   "f5",
	})
	if err != nil {
		t.Fatal(err)
	}
	return NewHandler(km)
}

func data(s string) Step { return Step{Data: []byte(s)} }

func act(a config.Action) Step { return Step{Action: a} }

func TestHandler_Feed(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []Step
	}{
		{"plain", "ls -la\r", []Step{data("ls -la\r")}},
		{"action only", "\x11", []Step{act(config.ActionQuit)}},
		{"action between data", "ab\x11cd", []Step{data("ab"), act(config.ActionQuit), data("cd")}},
		{"two actions", "\x1bx\x1b[15~", []Step{act(config.ActionClosePane), act(config.ActionNextTab)}},
		{"esc then other key", "\x1by", []Step{act(config.ActionFocusNext), data("y")}},
		{"unbound escape sequence", "\x1b[A", []Step{act(config.ActionFocusNext), data("[A")}},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHandler(t)
			got := h.Feed([]byte(tt.input))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Feed(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
			if h.Pending() {
				t.Error("nothing should be held")
			}
		})
	}
}

func TestHandler_HoldsSplitSequence(t *testing.T) {
	h := newHandler(t)

	got := h.Feed([]byte("ab\x1b[1"))
	if want := []Step{data("ab")}; !reflect.DeepEqual(got, want) {
		t.Fatalf("first Feed = %+v, want %+v", got, want)
	}
	if !h.Pending() {
		t.Fatal("partial sequence should be held")
	}

	got = h.Feed([]byte("5~z"))
	if want := []Step{act(config.ActionNextTab), data("z")}; !reflect.DeepEqual(got, want) {
		t.Errorf("second Feed = %+v, want %+v", got, want)
	}
}

func TestHandler_FlushResolvesLoneEscape(t *testing.T) {
	h := newHandler(t)
	if got := h.Feed([]byte("\x1b")); got != nil {
		t.Fatalf("lone ESC should be held, got %+v", got)
	}
	if want, got := []Step{act(config.ActionFocusNext)}, h.Flush(); !reflect.DeepEqual(got, want) {
		t.Errorf("Flush() = %+v, want %+v", got, want)
	}
	if got := h.Flush(); got != nil {
		t.Errorf("second Flush() = %+v, want nothing", got)
	}
}

func TestHandler_FlushForwardsUnboundPrefix(t *testing.T) {
	km, err := config.NewKeymap(config.KeyBindings{NextTab: "f5"})
	if err != nil {
		t.Fatal(err)
	}
	h := NewHandler(km)
	h.Feed([]byte("\x1b[1"))
	if want, got := []Step{data("\x1b[1")}, h.Flush(); !reflect.DeepEqual(got, want) {
		t.Errorf("Flush() = %+v, want %+v", got, want)
	}
}

func TestHandler_BracketedPaste(t *testing.T) {
	h := newHandler(t)

	in := "\x1b[200~a\x11b\x1bx\x1b[201~\x11"
	want := []Step{data("\x1b[200~a\x11b\x1bx\x1b[201~"), act(config.ActionQuit)}
	if got := h.Feed([]byte(in)); !reflect.DeepEqual(got, want) {
		t.Errorf("Feed() = %+v, want %+v", got, want)
	}
	if h.Mode() != ModeBound {
		t.Errorf("Mode() = %v after paste end, want BOUND", h.Mode())
	}
}

func TestHandler_PasteSpansReads(t *testing.T) {
	h := newHandler(t)

	if want, got := []Step{data("\x1b[200~one\x11")}, h.Feed([]byte("\x1b[200~one\x11")); !reflect.DeepEqual(got, want) {
		t.Fatalf("first Feed = %+v, want %+v", got, want)
	}
	if h.Mode() != ModePaste {
		t.Fatalf("Mode() = %v, want PASTE", h.Mode())
	}
	if want, got := []Step{data("\x1bxtwo\x1b[201~")}, h.Feed([]byte("\x1bxtwo\x1b[201~")); !reflect.DeepEqual(got, want) {
		t.Errorf("second Feed = %+v, want %+v", got, want)
	}
	if got := h.Feed([]byte("\x11")); len(got) != 1 || !got[0].IsAction() {
		t.Errorf("bindings should apply after the paste, got %+v", got)
	}
}

func TestHandler_SetKeymap(t *testing.T) {
	h := newHandler(t)
	km, err := config.NewKeymap(config.KeyBindings{Quit: "ctrl+x"})
	if err != nil {
		t.Fatal(err)
	}
	h.SetKeymap(km)
	if want, got := []Step{data("\x11"), act(config.ActionQuit)}, h.Feed([]byte("\x11\x18")); !reflect.DeepEqual(got, want) {
		t.Errorf("Feed() = %+v, want %+v", got, want)
	}
}

func TestMode_String(t *testing.T) {
	tests := map[Mode]string{
		ModeBound: "BOUND",
		ModePaste: "PASTE",
		Mode(99):  "UNKNOWN",
	}
	for m, want := range tests {
		if got := m.String(); got != want {
			t.Errorf("Mode(%d).String() = %q, want %q", m, got, want)
		}
	}
}
