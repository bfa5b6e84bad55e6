package main

import (
	"context"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/abdullathedruid/tabmux/internal/app"
	"github.com/abdullathedruid/tabmux/internal/config"
	"github.com/abdullathedruid/tabmux/internal/input"
	"github.com/abdullathedruid/tabmux/internal/pane"
	"github.com/abdullathedruid/tabmux/internal/schema"
	"github.com/abdullathedruid/tabmux/internal/terminal"
)

// Reasons the front end loop returns.
const (
	reasonQuit   = "quit"
	reasonEmpty  = "last tab closed"
	reasonSignal = "signal"
	reasonInput  = "input closed"
)

// escFlushDelay is how long a partial key sequence waits for the rest of it.
const escFlushDelay = 25 * time.Millisecond

// workspace is the part of the App the front end drives.
type workspace interface {
	app.TabAPI
	app.StateAPI
	ActiveTab() (schema.TabID, bool)
	Write(id schema.SessionID, data []byte) error
	Resize(id schema.SessionID, rows, cols uint16) error
	Config() *config.Config
}

// frontend shows the focused pane of the active tab zoomed to the whole
// terminal and routes keyboard input to it. Bound keys drive the workspace.
type frontend struct {
	ws      workspace
	handler *input.Handler
	log     *zap.Logger

	outMu sync.Mutex
	out   io.Writer

	// shown is the session whose output reaches the terminal.
	shown atomic.Uint32

	sizeMu     sync.Mutex
	rows, cols uint16

	empty chan struct{}
}

func newFrontend(out io.Writer, h *input.Handler, log *zap.Logger) *frontend {
	if log == nil {
		log = zap.NewNop()
	}
	return &frontend{
		handler: h,
		log:     log.Named("frontend"),
		out:     out,
		rows:    24,
		cols:    80,
		empty:   make(chan struct{}, 1),
	}
}

func (fe *frontend) attach(ws workspace) {
	fe.ws = ws
}

func (fe *frontend) callbacks() terminal.Callbacks {
	return terminal.CallbackFuncs{
		Data: func(id schema.SessionID, data []byte) {
			if uint32(id) == fe.shown.Load() {
				fe.write(data)
			}
		},
		Exit: func(id schema.SessionID, exit schema.ExitEvent) {
			fe.log.Debug("session exited", zap.Uint32("session", uint32(id)), zap.Int("code", exit.ExitCode))
			if uint32(id) == fe.shown.Load() {
				fe.show()
			}
		},
		Title: func(id schema.SessionID, title string) {
			if uint32(id) == fe.shown.Load() {
				fe.write([]byte("\x1b]2;" + title + "\x07"))
			}
		},
	}
}

func (fe *frontend) trigger(id schema.SessionID, t config.Trigger, match string) {
	fe.log.Info("trigger matched",
		zap.Uint32("session", uint32(id)),
		zap.String("pattern", t.Pattern),
		zap.String("action", t.Action),
		zap.String("match", match))
	switch t.Action {
	case "bell":
		fe.write([]byte("\a"))
	case "save_session":
		// Trigger callbacks run on the dispatcher goroutine.
		go func() {
			if err := fe.ws.SaveSession(context.Background()); err != nil {
				fe.log.Warn("trigger save failed", zap.Error(err))
			}
		}()
	}
}

// reload rebuilds the keymap from a reloaded config.
func (fe *frontend) reload(cfg *config.Config) {
	km, err := config.NewKeymap(cfg.Keys)
	if err != nil {
		fe.log.Warn("keeping previous key bindings", zap.Error(err))
		return
	}
	fe.handler.SetKeymap(km)
}

func (fe *frontend) write(data []byte) {
	fe.outMu.Lock()
	defer fe.outMu.Unlock()
	if _, err := fe.out.Write(data); err != nil {
		fe.log.Debug("terminal write failed", zap.Error(err))
	}
}

func (fe *frontend) size() (uint16, uint16) {
	fe.sizeMu.Lock()
	defer fe.sizeMu.Unlock()
	return fe.rows, fe.cols
}

func (fe *frontend) setSize(rows, cols uint16) {
	if rows == 0 || cols == 0 {
		return
	}
	fe.sizeMu.Lock()
	fe.rows, fe.cols = rows, cols
	fe.sizeMu.Unlock()
}

// open restores the saved workspace when asked to, and opens a shell tab when
// nothing was restored.
func (fe *frontend) open(ctx context.Context, restore bool, rows, cols uint16) error {
	fe.setSize(rows, cols)
	if restore {
		report, err := fe.ws.RestoreSession(ctx)
		if err != nil {
			fe.log.Warn("could not restore workspace", zap.Error(err))
		}
		for sid, ferr := range report.Failed {
			fe.log.Warn("session not restored", zap.Uint32("session", uint32(sid)), zap.Error(ferr))
		}
	}
	if len(fe.ws.ListTabs()) == 0 {
		if err := fe.newTab(ctx); err != nil {
			return err
		}
	}
	fe.show()
	return nil
}

func (fe *frontend) newTab(ctx context.Context) error {
	rows, cols := fe.size()
	_, err := fe.ws.CreateTab(ctx, fe.ws.Config().ShellConfig(rows, cols), nil)
	return err
}

// focused returns the active tab's layout and the session in its focused pane.
func (fe *frontend) focused() (pane.TabLayout, schema.SessionID, bool) {
	tabID, ok := fe.ws.ActiveTab()
	if !ok {
		return pane.TabLayout{}, 0, false
	}
	layout, err := fe.ws.Layout(tabID)
	if err != nil {
		return pane.TabLayout{}, 0, false
	}
	leaf, ok := pane.FindLeaf(layout.Root, layout.ActivePaneID)
	if !ok {
		return pane.TabLayout{}, 0, false
	}
	return layout, leaf.SessionID, true
}

// show lays out the active tab, zooms its focused pane to the terminal and
// points output at it. With no tabs left it signals the loop to stop.
func (fe *frontend) show() {
	layout, sid, ok := fe.focused()
	if !ok {
		fe.shown.Store(0)
		select {
		case fe.empty <- struct{}{}:
		default:
		}
		return
	}
	rows, cols := fe.size()
	if err := fe.ws.ResizeTab(layout.TabID, rows, cols); err != nil {
		fe.log.Debug("resize tab failed", zap.Error(err))
	}
	if err := fe.ws.Resize(sid, rows, cols); err != nil {
		fe.log.Debug("zoom pane failed", zap.Error(err))
	}
	if fe.shown.Swap(uint32(sid)) != uint32(sid) {
		fe.write([]byte("\x1b[H\x1b[2J"))
	}
}

// loop feeds input until the user quits, the last tab closes, the input ends
// or ctx is cancelled, and returns which of those happened.
func (fe *frontend) loop(ctx context.Context, r io.Reader, winch <-chan os.Signal, termSize func() (uint16, uint16)) string {
	chunks := make(chan []byte)
	go func() {
		defer close(chunks)
		buf := make([]byte, 4096)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				select {
				case chunks <- append([]byte(nil), buf[:n]...):
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	var flush <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return reasonSignal
		case <-fe.empty:
			return reasonEmpty
		case data, ok := <-chunks:
			if !ok {
				return reasonInput
			}
			if fe.apply(ctx, fe.handler.Feed(data)) {
				return reasonQuit
			}
			flush = nil
			if fe.handler.Pending() {
				flush = time.After(escFlushDelay)
			}
		case <-flush:
			flush = nil
			if fe.apply(ctx, fe.handler.Flush()) {
				return reasonQuit
			}
		case <-winch:
			fe.setSize(termSize())
			fe.show()
		}
	}
}

// apply forwards data steps to the shown session and runs actions. It
// reports whether the user asked to quit.
func (fe *frontend) apply(ctx context.Context, steps []input.Step) bool {
	for _, step := range steps {
		if !step.IsAction() {
			if sid := schema.SessionID(fe.shown.Load()); sid != 0 {
				if err := fe.ws.Write(sid, step.Data); err != nil {
					fe.log.Debug("write to session failed", zap.Uint32("session", uint32(sid)), zap.Error(err))
				}
			}
			continue
		}
		if step.Action == config.ActionQuit {
			return true
		}
		if err := fe.do(ctx, step.Action); err != nil {
			fe.log.Warn("action failed", zap.String("action", string(step.Action)), zap.Error(err))
		}
		fe.show()
	}
	return false
}

func (fe *frontend) do(ctx context.Context, action config.Action) error {
	layout, _, ok := fe.focused()
	if !ok && action != config.ActionNewTab {
		return nil
	}
	rows, cols := fe.size()

	switch action {
	case config.ActionNewTab:
		return fe.newTab(ctx)
	case config.ActionCloseTab:
		return fe.ws.CloseTab(ctx, layout.TabID)
	case config.ActionNextTab:
		return fe.cycleTab(layout.TabID, 1)
	case config.ActionPrevTab:
		return fe.cycleTab(layout.TabID, -1)
	case config.ActionSplitHorizontal, config.ActionSplitVertical:
		dir := pane.Horizontal
		if action == config.ActionSplitVertical {
			dir = pane.Vertical
		}
		_, err := fe.ws.SplitPane(ctx, layout.TabID, layout.ActivePaneID, dir, fe.ws.Config().ShellConfig(rows, cols), nil)
		return err
	case config.ActionClosePane:
		_, err := fe.ws.ClosePane(ctx, layout.TabID, layout.ActivePaneID)
		return err
	case config.ActionFocusNext:
		return fe.cyclePane(layout, 1)
	case config.ActionFocusPrev:
		return fe.cyclePane(layout, -1)
	case config.ActionSaveSession:
		return fe.ws.SaveSession(ctx)
	default:
		// Copy and paste need a selection model this front end does not have.
		fe.log.Debug("action not available here", zap.String("action", string(action)))
		return nil
	}
}

func (fe *frontend) cycleTab(current schema.TabID, step int) error {
	tabs := fe.ws.ListTabs()
	for i, t := range tabs {
		if t.TabID == current {
			next := tabs[(i+step+len(tabs))%len(tabs)]
			return fe.ws.SetActiveTab(next.TabID)
		}
	}
	return nil
}

func (fe *frontend) cyclePane(layout pane.TabLayout, step int) error {
	leaves := pane.Leaves(layout.Root)
	for i, leaf := range leaves {
		if leaf.PaneID == layout.ActivePaneID {
			next := leaves[(i+step+len(leaves))%len(leaves)]
			return fe.ws.FocusPane(layout.TabID, next.PaneID)
		}
	}
	return nil
}
