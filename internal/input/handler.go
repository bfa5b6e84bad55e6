// Package input splits raw terminal input into bytes for the focused pane and
// actions bound in the keymap.
package input

import (
	"bytes"
	"sync"

	"github.com/abdullathedruid/tabmux/internal/config"
)

// Mode selects how input is routed.
type Mode int

const (
	// ModeBound intercepts bound keys and forwards everything else.
	ModeBound Mode = iota
	// ModePaste forwards every byte until the bracketed paste ends.
	ModePaste
)

// String returns the human-readable mode name.
func (m Mode) String() string {
	switch m {
	case ModeBound:
		return "BOUND"
	case ModePaste:
		return "PASTE"
	default:
		return "UNKNOWN"
	}
}

// Bracketed paste markers sent by the outer terminal.
var (
	pasteStart = []byte("\x1b[200~")
	pasteEnd   = []byte("\x1b[201~")
)

// Step is one unit of routed input: either an action or bytes to forward.
type Step struct {
	Action config.Action
	Data   []byte
}

// IsAction reports whether the step is a bound action.
func (s Step) IsAction() bool {
	return s.Action != ""
}

// Handler routes input through a keymap. A bound sequence split across two
// reads is held back until the next Feed or Flush.
type Handler struct {
	mu      sync.Mutex
	keymap  *config.Keymap
	mode    Mode
	pending []byte
}

// NewHandler creates a handler in ModeBound.
func NewHandler(km *config.Keymap) *Handler {
	return &Handler{keymap: km}
}

// Mode returns the current routing mode.
func (h *Handler) Mode() Mode {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mode
}

// SetKeymap swaps the keymap, for instance after a config reload.
func (h *Handler) SetKeymap(km *config.Keymap) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.keymap = km
}

// Pending reports whether bytes are being held for a possible binding.
func (h *Handler) Pending() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending) > 0
}

// Feed routes data and returns the resulting steps in input order.
// Bracketed paste contents are forwarded without matching bindings.
func (h *Handler) Feed(data []byte) []Step {
	h.mu.Lock()
	defer h.mu.Unlock()

	buf := append(h.pending, data...)
	h.pending = nil
	if h.keymap == nil {
		return forward(nil, buf)
	}

	var steps []Step
	start := 0
	for i := 0; i < len(buf); {
		if h.mode == ModePaste {
			end := bytes.Index(buf[i:], pasteEnd)
			if end < 0 {
				return forward(steps, buf[start:])
			}
			h.mode = ModeBound
			i += end + len(pasteEnd)
			continue
		}
		rest := buf[i:]
		if bytes.HasPrefix(rest, pasteStart) {
			h.mode = ModePaste
			i += len(pasteStart)
			continue
		}
		if h.keymap.IsPrefix(rest) {
			steps = forward(steps, buf[start:i])
			h.pending = append([]byte(nil), rest...)
			return steps
		}
		if action, n, ok := h.keymap.Match(rest); ok {
			steps = forward(steps, buf[start:i])
			steps = append(steps, Step{Action: action})
			i += n
			start = i
			continue
		}
		i++
	}
	return forward(steps, buf[start:])
}

// Flush resolves held bytes without waiting for more input. A lone ESC that
// could have started an alt binding is resolved here.
func (h *Handler) Flush() []Step {
	h.mu.Lock()
	buf := h.pending
	h.pending = nil
	km := h.keymap
	h.mu.Unlock()

	var steps []Step
	start := 0
	for i := 0; i < len(buf); {
		if km != nil {
			if action, n, ok := km.Match(buf[i:]); ok {
				steps = forward(steps, buf[start:i])
				steps = append(steps, Step{Action: action})
				i += n
				start = i
				continue
			}
		}
		i++
	}
	return forward(steps, buf[start:])
}

func forward(steps []Step, data []byte) []Step {
	if len(data) == 0 {
		return steps
	}
	return append(steps, Step{Data: append([]byte(nil), data...)})
}
