package terminal

import "github.com/abdullathedruid/tabmux/internal/schema"

// EventKind identifies the payload carried by an Event.
type EventKind int

const (
	EventData EventKind = iota
	EventTitle
	EventHyperlink
	EventShell
	EventSixel
	EventCwd
	EventExit
)

func (k EventKind) String() string {
	switch k {
	case EventData:
		return "data"
	case EventTitle:
		return "title"
	case EventHyperlink:
		return "hyperlink"
	case EventShell:
		return "shell"
	case EventSixel:
		return "sixel"
	case EventCwd:
		return "cwd"
	case EventExit:
		return "exit"
	default:
		return "unknown"
	}
}

// Event is a single notification from a session. Only the field matching
// Kind is populated.
type Event struct {
	Kind      EventKind
	SessionID schema.SessionID

	Data      []byte // EventData, EventSixel
	Title     string // EventTitle
	Cwd       string // EventCwd
	Hyperlink schema.Hyperlink
	Shell     schema.ShellIntegrationEvent
	Exit      schema.ExitEvent
}

// Callbacks receives session events. All methods are invoked from the single
// dispatcher goroutine, in per-session order.
type Callbacks interface {
	OnData(id schema.SessionID, data []byte)
	OnExit(id schema.SessionID, exit schema.ExitEvent)
	OnTitleChange(id schema.SessionID, title string)
	OnHyperlink(id schema.SessionID, link schema.Hyperlink)
	OnShellEvent(id schema.SessionID, ev schema.ShellIntegrationEvent)
	OnSixel(id schema.SessionID, payload []byte)
}

// CallbackFuncs adapts plain functions to Callbacks. Nil fields are ignored.
type CallbackFuncs struct {
	Data      func(id schema.SessionID, data []byte)
	Exit      func(id schema.SessionID, exit schema.ExitEvent)
	Title     func(id schema.SessionID, title string)
	Hyperlink func(id schema.SessionID, link schema.Hyperlink)
	Shell     func(id schema.SessionID, ev schema.ShellIntegrationEvent)
	Sixel     func(id schema.SessionID, payload []byte)
}

func (f CallbackFuncs) OnData(id schema.SessionID, data []byte) {
	if f.Data != nil {
		f.Data(id, data)
	}
}

func (f CallbackFuncs) OnExit(id schema.SessionID, exit schema.ExitEvent) {
	if f.Exit != nil {
		f.Exit(id, exit)
	}
}

func (f CallbackFuncs) OnTitleChange(id schema.SessionID, title string) {
	if f.Title != nil {
		f.Title(id, title)
	}
}

func (f CallbackFuncs) OnHyperlink(id schema.SessionID, link schema.Hyperlink) {
	if f.Hyperlink != nil {
		f.Hyperlink(id, link)
	}
}

func (f CallbackFuncs) OnShellEvent(id schema.SessionID, ev schema.ShellIntegrationEvent) {
	if f.Shell != nil {
		f.Shell(id, ev)
	}
}

func (f CallbackFuncs) OnSixel(id schema.SessionID, payload []byte) {
	if f.Sixel != nil {
		f.Sixel(id, payload)
	}
}

// deliver invokes the callback matching ev.Kind. EventCwd has no callback.
func deliver(cb Callbacks, ev Event) {
	switch ev.Kind {
	case EventData:
		cb.OnData(ev.SessionID, ev.Data)
	case EventTitle:
		cb.OnTitleChange(ev.SessionID, ev.Title)
	case EventHyperlink:
		cb.OnHyperlink(ev.SessionID, ev.Hyperlink)
	case EventShell:
		cb.OnShellEvent(ev.SessionID, ev.Shell)
	case EventSixel:
		cb.OnSixel(ev.SessionID, ev.Data)
	case EventExit:
		cb.OnExit(ev.SessionID, ev.Exit)
	}
}
