// Package app composes sessions, tabs, persistence and configuration into
// the engine a front end drives.
package app

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/go-errors/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/abdullathedruid/tabmux/internal/config"
	"github.com/abdullathedruid/tabmux/internal/metrics"
	"github.com/abdullathedruid/tabmux/internal/pane"
	"github.com/abdullathedruid/tabmux/internal/process"
	"github.com/abdullathedruid/tabmux/internal/schema"
	"github.com/abdullathedruid/tabmux/internal/session"
	"github.com/abdullathedruid/tabmux/internal/state"
	"github.com/abdullathedruid/tabmux/internal/tab"
	"github.com/abdullathedruid/tabmux/internal/terminal"
)

// SessionAPI drives individual PTY sessions.
type SessionAPI interface {
	Spawn(ctx context.Context, cfg schema.PtyConfig) (schema.SessionID, error)
	SpawnNative(ctx context.Context, cfg schema.PtyConfig, cb terminal.Callbacks) (schema.SessionID, error)
	SpawnSSH(ctx context.Context, target session.SSHTarget, rows, cols uint16, cb terminal.Callbacks) (schema.SessionID, error)
	Write(id schema.SessionID, data []byte) error
	WriteMany(ids []schema.SessionID, data []byte) error
	Resize(id schema.SessionID, rows, cols uint16) error
	Pid(id schema.SessionID) (int, error)
	Kill(id schema.SessionID) error
	Close(id schema.SessionID) error
	Process(id schema.SessionID) (process.Info, error)
	Size(id schema.SessionID) (schema.PtySize, error)
	IsAlive(id schema.SessionID) (bool, error)
	Cwd(id schema.SessionID) (string, error)
}

// TabAPI drives tabs and their pane layouts.
type TabAPI interface {
	CreateTab(ctx context.Context, cfg schema.PtyConfig, cb terminal.Callbacks) (schema.TabID, error)
	SplitPane(ctx context.Context, tabID schema.TabID, paneID schema.PaneID, dir pane.Direction, cfg schema.PtyConfig, cb terminal.Callbacks) (schema.PaneID, error)
	ClosePane(ctx context.Context, tabID schema.TabID, paneID schema.PaneID) (bool, error)
	FocusPane(tabID schema.TabID, paneID schema.PaneID) error
	ListTabs() []schema.TabInfo
	SetActiveTab(id schema.TabID) error
	CloseTab(ctx context.Context, id schema.TabID) error
	ResizeTab(id schema.TabID, rows, cols uint16) error
	Layout(id schema.TabID) (pane.TabLayout, error)
}

// StateAPI saves and restores the workspace.
type StateAPI interface {
	SaveSession(ctx context.Context) error
	RestoreSession(ctx context.Context) (RestoreReport, error)
}

// ConfigAPI exposes read-only configuration to the front end.
type ConfigAPI interface {
	KeyBindings() config.KeyBindings
	Theme() config.Theme
	Commands() []config.Command
	Ligatures() bool
	CopyOnSelect() bool
	Triggers() []config.Trigger
}

var (
	_ SessionAPI = (*App)(nil)
	_ TabAPI     = (*App)(nil)
	_ StateAPI   = (*App)(nil)
	_ ConfigAPI  = (*App)(nil)
)

// TriggerFunc is called when a session's output matches a configured trigger.
type TriggerFunc func(id schema.SessionID, trigger config.Trigger, match string)

// Options configures an App.
type Options struct {
	// Callbacks receives events for sessions spawned without their own.
	Callbacks terminal.Callbacks
	Logger    *zap.Logger
	// Registerer receives the metrics. Nil uses a private registry.
	Registerer prometheus.Registerer
	// ConfigPath enables hot reload of the config file at this path.
	ConfigPath string
	QueueDepth int
	OnTrigger  TriggerFunc
	// OnReload is called with each reloaded config once it is in effect.
	OnReload func(*config.Config)
}

// settings is the config snapshot in effect, swapped whole on reload.
type settings struct {
	cfg      *config.Config
	triggers []config.CompiledTrigger
}

// App implements SessionAPI, TabAPI, StateAPI and ConfigAPI.
type App struct {
	// opMu lets tab operations run concurrently with each other but not with
	// a restore, which must see an empty workspace until it is done.
	opMu sync.RWMutex

	dispatcher *terminal.Dispatcher
	sessions   *session.Manager
	tabs       *tab.Service
	store      *state.Store
	metrics    *metrics.Metrics
	watcher    *config.Watcher
	current    atomic.Pointer[settings]
	onTrigger  TriggerFunc
	onReload   func(*config.Config)
	log        *zap.Logger

	closeOnce sync.Once
}

// New builds an App from cfg. A nil cfg uses config.Default.
func New(cfg *config.Config, opts Options) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	initial, err := newSettings(cfg)
	if err != nil {
		return nil, err
	}

	m := metrics.New(opts.Registerer)
	d := terminal.NewDispatcher(opts.QueueDepth, opts.Callbacks, opts.Logger.Named("dispatch"))
	sessions := session.NewManager(d, session.Options{
		Logger:     opts.Logger.Named("session"),
		Metrics:    m,
		SSHCommand: cfg.SSHCommand,
	})
	a := &App{
		dispatcher: d,
		sessions:   sessions,
		tabs:       tab.NewService(sessions, tab.Options{Logger: opts.Logger.Named("tab"), Metrics: m}),
		store:      state.NewStore(cfg.SessionFile, opts.Logger.Named("state")),
		metrics:    m,
		onTrigger:  opts.OnTrigger,
		onReload:   opts.OnReload,
		log:        opts.Logger,
	}
	a.current.Store(initial)
	d.Observe(a.observe)

	if opts.ConfigPath != "" {
		w, err := config.NewWatcher(opts.ConfigPath, cfg, opts.Logger.Named("config"))
		if err != nil {
			d.Close()
			return nil, err
		}
		w.OnReload(a.applyConfig)
		a.watcher = w
	}
	return a, nil
}

func newSettings(cfg *config.Config) (*settings, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	triggers, err := cfg.CompileTriggers()
	if err != nil {
		return nil, err
	}
	return &settings{cfg: cfg.Clone(), triggers: triggers}, nil
}

func (a *App) applyConfig(cfg *config.Config) {
	next, err := newSettings(cfg)
	if err != nil {
		a.log.Warn("ignoring reloaded config", zap.Error(err))
		return
	}
	a.current.Store(next)
	if a.onReload != nil {
		a.onReload(next.cfg.Clone())
	}
}

func (a *App) loaded() *settings {
	return a.current.Load()
}

// observe runs on the dispatcher goroutine for every event, before the
// session's own callbacks.
func (a *App) observe(ev terminal.Event) {
	switch ev.Kind {
	case terminal.EventData:
		a.metrics.BytesRead.Add(float64(len(ev.Data)))
		a.matchTriggers(ev.SessionID, ev.Data)
	case terminal.EventTitle:
		a.tabs.SetTitle(ev.SessionID, ev.Title)
	case terminal.EventExit:
		if !a.loaded().cfg.CloseOnExit {
			return
		}
		tabID, closed, err := a.tabs.ClosePaneBySession(context.Background(), ev.SessionID)
		switch {
		case err != nil && !errors.Is(err, schema.ErrPaneNotFound) && !errors.Is(err, schema.ErrTabNotFound):
			a.log.Warn("pruning exited pane", zap.Uint32("session", uint32(ev.SessionID)), zap.Error(err))
		case closed:
			a.log.Debug("last pane exited, tab closed", zap.Uint32("tab", uint32(tabID)))
		}
	}
}

// matchTriggers checks a chunk of output against the configured triggers. A
// match split across two reads is not seen.
func (a *App) matchTriggers(id schema.SessionID, data []byte) {
	if a.onTrigger == nil {
		return
	}
	for _, tr := range a.loaded().triggers {
		if m := tr.Re.Find(data); m != nil {
			a.onTrigger(id, tr.Trigger, string(m))
		}
	}
}

// Shutdown closes every session and stops the dispatcher.
func (a *App) Shutdown() {
	a.closeOnce.Do(func() {
		if a.watcher != nil {
			a.watcher.Stop()
		}
		a.sessions.CloseAll()
		a.dispatcher.Close()
	})
}

// SessionAPI

func (a *App) Spawn(ctx context.Context, cfg schema.PtyConfig) (schema.SessionID, error) {
	return a.sessions.Spawn(ctx, cfg)
}

func (a *App) SpawnNative(ctx context.Context, cfg schema.PtyConfig, cb terminal.Callbacks) (schema.SessionID, error) {
	return a.sessions.SpawnNative(ctx, cfg, cb)
}

func (a *App) SpawnSSH(ctx context.Context, target session.SSHTarget, rows, cols uint16, cb terminal.Callbacks) (schema.SessionID, error) {
	return a.sessions.SpawnSSH(ctx, target, rows, cols, cb)
}

func (a *App) Write(id schema.SessionID, data []byte) error { return a.sessions.Write(id, data) }

func (a *App) WriteMany(ids []schema.SessionID, data []byte) error {
	return a.sessions.WriteMany(ids, data)
}

func (a *App) Resize(id schema.SessionID, rows, cols uint16) error {
	return a.sessions.Resize(id, rows, cols)
}

func (a *App) Pid(id schema.SessionID) (int, error) { return a.sessions.Pid(id) }

func (a *App) Kill(id schema.SessionID) error { return a.sessions.Kill(id) }

func (a *App) Close(id schema.SessionID) error { return a.sessions.Close(id) }

func (a *App) Process(id schema.SessionID) (process.Info, error) { return a.sessions.Process(id) }

func (a *App) Size(id schema.SessionID) (schema.PtySize, error) { return a.sessions.Size(id) }

func (a *App) IsAlive(id schema.SessionID) (bool, error) { return a.sessions.IsAlive(id) }

func (a *App) Cwd(id schema.SessionID) (string, error) { return a.sessions.Cwd(id) }

// TabAPI

func (a *App) CreateTab(ctx context.Context, cfg schema.PtyConfig, cb terminal.Callbacks) (schema.TabID, error) {
	a.opMu.RLock()
	defer a.opMu.RUnlock()
	id, err := a.tabs.CreateTab(ctx, cfg, cb)
	if err != nil {
		return 0, err
	}
	a.pruneIfExited(ctx, id, 1)
	return id, nil
}

func (a *App) SplitPane(ctx context.Context, tabID schema.TabID, paneID schema.PaneID, dir pane.Direction, cfg schema.PtyConfig, cb terminal.Callbacks) (schema.PaneID, error) {
	a.opMu.RLock()
	defer a.opMu.RUnlock()
	id, err := a.tabs.SplitPane(ctx, tabID, paneID, dir, cfg, cb)
	if err != nil {
		return 0, err
	}
	a.pruneIfExited(ctx, tabID, id)
	return id, nil
}

// pruneIfExited closes a pane whose process finished before the pane was
// installed, when the exit observer had nothing to prune yet.
func (a *App) pruneIfExited(ctx context.Context, tabID schema.TabID, paneID schema.PaneID) {
	if !a.loaded().cfg.CloseOnExit {
		return
	}
	layout, err := a.tabs.Layout(tabID)
	if err != nil {
		return
	}
	leaf, ok := pane.FindLeaf(layout.Root, paneID)
	if !ok || !a.sessions.Exited(leaf.SessionID) {
		return
	}
	if _, err := a.tabs.ClosePane(ctx, tabID, paneID); err != nil && !errors.Is(err, schema.ErrPaneNotFound) && !errors.Is(err, schema.ErrTabNotFound) {
		a.log.Warn("pruning exited pane", zap.Uint32("tab", uint32(tabID)), zap.Error(err))
	}
}

func (a *App) ClosePane(ctx context.Context, tabID schema.TabID, paneID schema.PaneID) (bool, error) {
	a.opMu.RLock()
	defer a.opMu.RUnlock()
	return a.tabs.ClosePane(ctx, tabID, paneID)
}

func (a *App) FocusPane(tabID schema.TabID, paneID schema.PaneID) error {
	return a.tabs.FocusPane(tabID, paneID)
}

func (a *App) ListTabs() []schema.TabInfo { return a.tabs.ListTabs() }

func (a *App) SetActiveTab(id schema.TabID) error { return a.tabs.SetActiveTab(id) }

// ActiveTab returns the active tab, if any.
func (a *App) ActiveTab() (schema.TabID, bool) { return a.tabs.ActiveTab() }

func (a *App) CloseTab(ctx context.Context, id schema.TabID) error {
	a.opMu.RLock()
	defer a.opMu.RUnlock()
	return a.tabs.CloseTab(ctx, id)
}

func (a *App) ResizeTab(id schema.TabID, rows, cols uint16) error {
	return a.tabs.ResizeTab(id, rows, cols)
}

func (a *App) Layout(id schema.TabID) (pane.TabLayout, error) { return a.tabs.Layout(id) }

// ConfigAPI

func (a *App) KeyBindings() config.KeyBindings { return a.loaded().cfg.Keys }

func (a *App) Theme() config.Theme {
	th := a.loaded().cfg.Theme
	th.Colors.Palette = append([]string(nil), th.Colors.Palette...)
	return th
}

func (a *App) Commands() []config.Command {
	return append([]config.Command(nil), a.loaded().cfg.Commands...)
}

func (a *App) Ligatures() bool { return a.loaded().cfg.Ligatures }

func (a *App) CopyOnSelect() bool { return a.loaded().cfg.CopyOnSelect }

func (a *App) Triggers() []config.Trigger {
	return append([]config.Trigger(nil), a.loaded().cfg.Triggers...)
}

// Config returns a copy of the config in effect.
func (a *App) Config() *config.Config { return a.loaded().cfg.Clone() }

// RunCommand opens a new tab running the named command preset.
func (a *App) RunCommand(ctx context.Context, name string, rows, cols uint16, cb terminal.Callbacks) (schema.TabID, error) {
	for _, c := range a.loaded().cfg.Commands {
		if c.Name != name {
			continue
		}
		ptyCfg, err := c.PtyConfig(rows, cols)
		if err != nil {
			return 0, err
		}
		return a.CreateTab(ctx, ptyCfg, cb)
	}
	return 0, errors.Errorf("no command named %q: %w", name, schema.ErrConfig)
}
