// Package tab manages the ordered set of tabs and the pane layout of each.
package tab

import (
	"context"
	"path/filepath"
	"slices"
	"sync"

	"github.com/go-errors/errors"
	"github.com/mattn/go-runewidth"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/abdullathedruid/tabmux/internal/metrics"
	"github.com/abdullathedruid/tabmux/internal/pane"
	"github.com/abdullathedruid/tabmux/internal/schema"
	"github.com/abdullathedruid/tabmux/internal/terminal"
)

// DefaultTitleWidth is the display width tab titles are truncated to.
const DefaultTitleWidth = 32

// Sessions is the part of the session manager the tab service drives.
type Sessions interface {
	SpawnNative(ctx context.Context, cfg schema.PtyConfig, cb terminal.Callbacks) (schema.SessionID, error)
	Close(id schema.SessionID) error
	Resize(id schema.SessionID, rows, cols uint16) error
}

// Options configures a Service.
type Options struct {
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
	TitleWidth int
}

type tabEntry struct {
	layout  pane.TabLayout
	configs map[schema.SessionID]schema.PtyConfig
	titles  map[schema.SessionID]string
	// area is the last size given to ResizeTab; zero until then.
	area schema.PtySize
	// closing is set while CloseTab is stopping the tab's sessions.
	closing bool
}

// Service owns the tab registry. Every mutation holds the write lock for the
// whole tree update, so readers never observe a half-applied split or close.
type Service struct {
	mu        sync.RWMutex
	tabs      map[schema.TabID]*tabEntry
	order     []schema.TabID
	active    schema.TabID
	lastTabID schema.TabID

	sessions   Sessions
	titleWidth int
	log        *zap.Logger
	metrics    *metrics.Metrics
}

// NewService creates a tab service spawning panes through sessions.
func NewService(sessions Sessions, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	if opts.TitleWidth <= 0 {
		opts.TitleWidth = DefaultTitleWidth
	}
	return &Service{
		tabs:       make(map[schema.TabID]*tabEntry),
		sessions:   sessions,
		titleWidth: opts.TitleWidth,
		log:        opts.Logger,
		metrics:    opts.Metrics,
	}
}

// CreateTab spawns a session, wraps it in a single-pane tab and activates it.
func (s *Service) CreateTab(ctx context.Context, cfg schema.PtyConfig, cb terminal.Callbacks) (schema.TabID, error) {
	sid, err := s.sessions.SpawnNative(ctx, cfg, cb)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTabID++
	id := s.lastTabID
	s.tabs[id] = &tabEntry{
		layout: pane.TabLayout{
			TabID:        id,
			Root:         pane.Leaf(1, sid),
			ActivePaneID: 1,
		},
		configs: map[schema.SessionID]schema.PtyConfig{sid: cfg.Clone()},
		titles:  make(map[schema.SessionID]string),
	}
	s.order = append(s.order, id)
	s.active = id
	s.metrics.TabsOpen.Set(float64(len(s.tabs)))
	s.log.Debug("tab created", zap.Uint32("tab", uint32(id)), zap.Uint32("session", uint32(sid)))
	return id, nil
}

// SplitPane spawns a session beside the target pane and focuses it.
func (s *Service) SplitPane(ctx context.Context, tabID schema.TabID, target schema.PaneID, dir pane.Direction, cfg schema.PtyConfig, cb terminal.Callbacks) (schema.PaneID, error) {
	if !dir.Valid() {
		return 0, errors.Errorf("unknown split direction %q", dir)
	}
	s.mu.RLock()
	_, err := s.leaf(tabID, target)
	s.mu.RUnlock()
	if err != nil {
		return 0, err
	}

	sid, err := s.sessions.SpawnNative(ctx, cfg, cb)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// The tab or pane may have gone away while the session was spawning.
	if _, err := s.leaf(tabID, target); err != nil {
		s.closeQuietly(sid)
		return 0, err
	}
	entry := s.tabs[tabID]
	if entry.closing {
		s.closeQuietly(sid)
		return 0, errors.Errorf("tab %d is closing: %w", tabID, schema.ErrTabNotFound)
	}
	newID := pane.FindMaxPaneID(entry.layout.Root) + 1
	root, err := pane.Split(entry.layout.Root, target, dir, pane.Leaf(newID, sid))
	if err != nil {
		s.closeQuietly(sid)
		return 0, err
	}
	entry.layout.Root = root
	entry.layout.ActivePaneID = newID
	entry.configs[sid] = cfg.Clone()
	_ = s.fit(entry)
	return newID, nil
}

// ClosePane closes the pane's session and prunes the pane from its tab. The
// two steps run concurrently. Closing the last pane removes the tab, which is
// reported by tabClosed.
func (s *Service) ClosePane(ctx context.Context, tabID schema.TabID, paneID schema.PaneID) (tabClosed bool, err error) {
	s.mu.RLock()
	leaf, err := s.leaf(tabID, paneID)
	s.mu.RUnlock()
	if err != nil {
		return false, err
	}

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.sessions.Close(leaf.SessionID); err != nil && !errors.Is(err, schema.ErrSessionNotFound) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		var err error
		tabClosed, err = s.prune(tabID, paneID)
		return err
	})
	err = g.Wait()
	return tabClosed, err
}

// ClosePaneBySession prunes the pane hosting sid, if any. Used when a
// session exits on its own.
func (s *Service) ClosePaneBySession(ctx context.Context, sid schema.SessionID) (schema.TabID, bool, error) {
	tabID, paneID, ok := s.FindSession(sid)
	if !ok {
		return 0, false, nil
	}
	closed, err := s.ClosePane(ctx, tabID, paneID)
	return tabID, closed, err
}

func (s *Service) prune(tabID schema.TabID, paneID schema.PaneID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	leaf, err := s.leaf(tabID, paneID)
	if err != nil {
		return false, err
	}
	entry := s.tabs[tabID]
	root, empty, err := pane.Remove(entry.layout.Root, paneID)
	if err != nil {
		return false, err
	}
	if empty {
		s.removeTab(tabID)
		return true, nil
	}
	entry.layout.Root = root
	delete(entry.configs, leaf.SessionID)
	delete(entry.titles, leaf.SessionID)
	if entry.layout.ActivePaneID == paneID {
		entry.layout.ActivePaneID, _ = pane.FindFirstLeafID(root)
	}
	_ = s.fit(entry)
	return false, nil
}

// FocusPane makes paneID the active pane of its tab.
func (s *Service) FocusPane(tabID schema.TabID, paneID schema.PaneID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.leaf(tabID, paneID); err != nil {
		return err
	}
	s.tabs[tabID].layout.ActivePaneID = paneID
	return nil
}

// ListTabs returns a summary of every tab in display order.
func (s *Service) ListTabs() []schema.TabInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]schema.TabInfo, 0, len(s.order))
	for _, id := range s.order {
		entry := s.tabs[id]
		out = append(out, schema.TabInfo{
			TabID:        id,
			Title:        s.title(entry),
			ActivePaneID: entry.layout.ActivePaneID,
			PaneCount:    pane.CountPanes(entry.layout.Root),
			Active:       id == s.active,
		})
	}
	return out
}

// SetActiveTab selects the active tab.
func (s *Service) SetActiveTab(id schema.TabID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tabs[id]; !ok {
		return errors.Errorf("tab %d: %w", id, schema.ErrTabNotFound)
	}
	s.active = id
	return nil
}

// ActiveTab returns the active tab, if any.
func (s *Service) ActiveTab() (schema.TabID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active, s.active != 0
}

// CloseTab closes every session in the tab and removes it. Focus moves to the
// next tab, or the previous one when the last tab was closed. A session that
// cannot be stopped keeps its pane, and the tab stays open with those panes.
func (s *Service) CloseTab(ctx context.Context, id schema.TabID) error {
	s.mu.Lock()
	entry, ok := s.tabs[id]
	if !ok || entry.closing {
		s.mu.Unlock()
		return errors.Errorf("tab %d: %w", id, schema.ErrTabNotFound)
	}
	entry.closing = true
	sids := pane.CollectSessionIDs(entry.layout.Root)
	s.mu.Unlock()

	var (
		failMu sync.Mutex
		failed []schema.SessionID
	)
	g, _ := errgroup.WithContext(ctx)
	for _, sid := range sids {
		g.Go(func() error {
			if err := s.sessions.Close(sid); err != nil && !errors.Is(err, schema.ErrSessionNotFound) {
				failMu.Lock()
				failed = append(failed, sid)
				failMu.Unlock()
				return err
			}
			return nil
		})
	}
	err := g.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	// Exit handling may already have pruned the last pane.
	if s.tabs[id] != entry {
		return err
	}
	entry.closing = false
	if err == nil {
		s.removeTab(id)
		return nil
	}
	s.keepOnly(id, entry, failed)
	s.log.Warn("tab kept open, sessions still running",
		zap.Uint32("tab", uint32(id)), zap.Int("sessions", len(failed)), zap.Error(err))
	return err
}

// keepOnly prunes every pane of entry whose session is not in keep. Must hold mu.
func (s *Service) keepOnly(id schema.TabID, entry *tabEntry, keep []schema.SessionID) {
	for _, leaf := range pane.Leaves(entry.layout.Root) {
		if slices.Contains(keep, leaf.SessionID) {
			continue
		}
		root, empty, err := pane.Remove(entry.layout.Root, leaf.PaneID)
		if err != nil {
			continue
		}
		if empty {
			s.removeTab(id)
			return
		}
		entry.layout.Root = root
		delete(entry.configs, leaf.SessionID)
		delete(entry.titles, leaf.SessionID)
	}
	if !pane.PaneExists(entry.layout.Root, entry.layout.ActivePaneID) {
		entry.layout.ActivePaneID, _ = pane.FindFirstLeafID(entry.layout.Root)
	}
	_ = s.fit(entry)
}

// Layout returns a copy of a tab's layout.
func (s *Service) Layout(id schema.TabID) (pane.TabLayout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.tabs[id]
	if !ok {
		return pane.TabLayout{}, errors.Errorf("tab %d: %w", id, schema.ErrTabNotFound)
	}
	return cloneLayout(entry.layout), nil
}

// ResizeTab gives the tab a new drawing area and resizes every pane's PTY to
// its share of it.
func (s *Service) ResizeTab(id schema.TabID, rows, cols uint16) error {
	size := schema.PtySize{Rows: rows, Cols: cols}
	if !size.Valid() {
		return errors.Errorf("tab %d: %dx%d: %w", id, rows, cols, schema.ErrInvalidSize)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.tabs[id]
	if !ok {
		return errors.Errorf("tab %d: %w", id, schema.ErrTabNotFound)
	}
	entry.area = size
	return s.fit(entry)
}

// fit resizes each pane's session to its share of the tab area. Must hold mu.
func (s *Service) fit(entry *tabEntry) error {
	if !entry.area.Valid() {
		return nil
	}
	area := pane.Rect{Width: int(entry.area.Cols), Height: int(entry.area.Rows)}
	rects := pane.Rects(entry.layout.Root, area)
	var errs []error
	for _, leaf := range pane.Leaves(entry.layout.Root) {
		size := rects[leaf.PaneID].Size()
		if err := s.sessions.Resize(leaf.SessionID, size.Rows, size.Cols); err != nil && !errors.Is(err, schema.ErrSessionNotFound) {
			s.log.Warn("pane resize failed",
				zap.Uint32("tab", uint32(entry.layout.TabID)),
				zap.Uint32("pane", uint32(leaf.PaneID)),
				zap.Error(err))
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// SetTitle records the title a session reported. It returns false when no
// tab hosts the session.
func (s *Service) SetTitle(sid schema.SessionID, title string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.tabs {
		if _, ok := pane.FindPaneBySession(entry.layout.Root, sid); ok {
			entry.titles[sid] = title
			return true
		}
	}
	return false
}

// FindSession returns the tab and pane hosting sid.
func (s *Service) FindSession(sid schema.SessionID) (schema.TabID, schema.PaneID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.order {
		if paneID, ok := pane.FindPaneBySession(s.tabs[id].layout.Root, sid); ok {
			return id, paneID, true
		}
	}
	return 0, 0, false
}

// Count returns the number of open tabs.
func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tabs)
}

// Snapshot is a consistent copy of the registry for persistence.
type Snapshot struct {
	Tabs        []pane.TabLayout
	Configs     map[schema.SessionID]schema.PtyConfig
	ActiveTabID *schema.TabID
}

// Snapshot copies every tab, the configs of their sessions and the active
// tab under one lock.
func (s *Service) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Tabs:    make([]pane.TabLayout, 0, len(s.order)),
		Configs: make(map[schema.SessionID]schema.PtyConfig),
	}
	for _, id := range s.order {
		entry := s.tabs[id]
		snap.Tabs = append(snap.Tabs, cloneLayout(entry.layout))
		for sid, cfg := range entry.configs {
			snap.Configs[sid] = cfg.Clone()
		}
	}
	if s.active != 0 {
		active := s.active
		snap.ActiveTabID = &active
	}
	return snap
}

// TabsForSaving returns a copy of every tab layout in display order.
func (s *Service) TabsForSaving() []pane.TabLayout {
	return s.Snapshot().Tabs
}

// ActiveTabIDForSaving returns the active tab id, nil when there are no tabs.
func (s *Service) ActiveTabIDForSaving() *schema.TabID {
	return s.Snapshot().ActiveTabID
}

// ConfigsForSaving returns the spawn config of every session hosted in a tab.
func (s *Service) ConfigsForSaving() map[schema.SessionID]schema.PtyConfig {
	return s.Snapshot().Configs
}

// Restore installs saved layouts into an empty registry. Saved tab ids are
// kept when all of them are above every id this service has handed out;
// otherwise the restored tabs are renumbered in order. It returns the id
// each saved tab was installed under.
func (s *Service) Restore(tabs []pane.TabLayout, configs map[schema.SessionID]schema.PtyConfig, active *schema.TabID) (map[schema.TabID]schema.TabID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tabs) > 0 {
		return nil, errors.Errorf("restore over %d open tabs: %w", len(s.tabs), schema.ErrWorkspaceNotEmpty)
	}
	seen := make(map[schema.TabID]bool)
	keep := true
	for _, layout := range tabs {
		if layout.TabID == 0 || seen[layout.TabID] {
			return nil, errors.Errorf("tab id %d is invalid or duplicated: %w", layout.TabID, schema.ErrSerialization)
		}
		seen[layout.TabID] = true
		if err := pane.Validate(layout.Root); err != nil {
			return nil, errors.Errorf("tab %d: %v: %w", layout.TabID, err, schema.ErrSerialization)
		}
		if layout.TabID <= s.lastTabID {
			keep = false
		}
	}

	ids := make(map[schema.TabID]schema.TabID, len(tabs))
	next := s.lastTabID
	for _, layout := range tabs {
		id := layout.TabID
		if !keep {
			next++
			id = next
		}
		ids[layout.TabID] = id

		entry := &tabEntry{
			layout:  cloneLayout(layout),
			configs: make(map[schema.SessionID]schema.PtyConfig),
			titles:  make(map[schema.SessionID]string),
		}
		entry.layout.TabID = id
		if !pane.PaneExists(entry.layout.Root, entry.layout.ActivePaneID) {
			entry.layout.ActivePaneID, _ = pane.FindFirstLeafID(entry.layout.Root)
		}
		for _, sid := range pane.CollectSessionIDs(layout.Root) {
			entry.configs[sid] = configs[sid].Clone()
		}
		s.tabs[id] = entry
		s.order = append(s.order, id)
		s.lastTabID = max(s.lastTabID, id)
	}
	switch {
	case active != nil && ids[*active] != 0:
		s.active = ids[*active]
	case len(s.order) > 0:
		s.active = s.order[0]
	}
	s.metrics.TabsOpen.Set(float64(len(s.tabs)))
	return ids, nil
}

// leaf returns the leaf paneID of tabID. Must hold mu.
func (s *Service) leaf(tabID schema.TabID, paneID schema.PaneID) (pane.Node, error) {
	entry, ok := s.tabs[tabID]
	if !ok {
		return pane.Node{}, errors.Errorf("tab %d: %w", tabID, schema.ErrTabNotFound)
	}
	leaf, ok := pane.FindLeaf(entry.layout.Root, paneID)
	if !ok {
		return pane.Node{}, errors.Errorf("tab %d pane %d: %w", tabID, paneID, schema.ErrPaneNotFound)
	}
	return leaf, nil
}

// removeTab drops a tab and picks the next active tab. Must hold mu.
func (s *Service) removeTab(id schema.TabID) {
	delete(s.tabs, id)
	idx := slices.Index(s.order, id)
	if idx >= 0 {
		s.order = slices.Delete(s.order, idx, idx+1)
	}
	if s.active == id {
		switch {
		case idx >= 0 && idx < len(s.order):
			s.active = s.order[idx]
		case len(s.order) > 0:
			s.active = s.order[len(s.order)-1]
		default:
			s.active = 0
		}
	}
	s.metrics.TabsOpen.Set(float64(len(s.tabs)))
	s.log.Debug("tab removed", zap.Uint32("tab", uint32(id)))
}

// title is the active pane's reported title, falling back to its command.
func (s *Service) title(entry *tabEntry) string {
	leaf, ok := pane.FindLeaf(entry.layout.Root, entry.layout.ActivePaneID)
	if !ok {
		return ""
	}
	title := entry.titles[leaf.SessionID]
	if title == "" {
		title = filepath.Base(entry.configs[leaf.SessionID].Command)
		if title == "." {
			title = ""
		}
	}
	return runewidth.Truncate(title, s.titleWidth, "…")
}

func (s *Service) closeQuietly(sid schema.SessionID) {
	if err := s.sessions.Close(sid); err != nil && !errors.Is(err, schema.ErrSessionNotFound) {
		s.log.Warn("closing orphaned session", zap.Uint32("session", uint32(sid)), zap.Error(err))
	}
}

func cloneLayout(l pane.TabLayout) pane.TabLayout {
	l.Root = pane.Clone(l.Root)
	return l
}
