package app

import (
	"context"
	"slices"

	"github.com/go-errors/errors"
	"go.uber.org/zap"

	"github.com/abdullathedruid/tabmux/internal/pane"
	"github.com/abdullathedruid/tabmux/internal/schema"
	"github.com/abdullathedruid/tabmux/internal/state"
)

// RestoreReport describes what RestoreSession rebuilt.
type RestoreReport struct {
	// Found is false when there was no saved workspace.
	Found bool
	Tabs  int
	// Restored lists the ids the re-spawned sessions now run under.
	Restored []schema.SessionID
	// Failed holds sessions that could not be re-spawned, by the id they
	// were given. Their panes were dropped from the layout.
	Failed map[schema.SessionID]error
	// Renumbered is set when saved ids had already been handed out in this
	// process and the workspace was given fresh session and tab ids.
	Renumbered bool
}

// SaveSession writes every tab, the config of each hosted session and the
// active tab to the session file. Each config's cwd is refreshed from the
// live session so a restore reopens where the shell was last seen.
func (a *App) SaveSession(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.opMu.RLock()
	defer a.opMu.RUnlock()

	snap := a.tabs.Snapshot()
	for sid, cfg := range snap.Configs {
		if cwd, err := a.sessions.Cwd(sid); err == nil && cwd != "" {
			cfg.Cwd = cwd
			snap.Configs[sid] = cfg
		}
	}
	st := &state.SessionState{
		Tabs:           snap.Tabs,
		SessionConfigs: snap.Configs,
		ActiveTabID:    snap.ActiveTabID,
	}
	if err := a.store.Save(st); err != nil {
		return err
	}
	a.metrics.SessionsSaved.Inc()
	a.log.Info("workspace saved", zap.String("path", a.store.Path()), zap.Int("tabs", len(st.Tabs)))
	return nil
}

// RestoreSession rebuilds the saved workspace into an empty App. Every saved
// session is started as a new process. Saved session and tab ids are kept
// unless this process already used them, in which case the workspace is
// renumbered so no id names two different things. A session that fails to
// start loses its pane and is listed in the report; a tab left with no panes
// is dropped.
func (a *App) RestoreSession(ctx context.Context) (RestoreReport, error) {
	a.opMu.Lock()
	defer a.opMu.Unlock()

	report := RestoreReport{Failed: make(map[schema.SessionID]error)}
	if n := a.tabs.Count(); n > 0 {
		return report, errors.Errorf("restore over %d open tabs: %w", n, schema.ErrWorkspaceNotEmpty)
	}
	st, err := a.store.Load()
	if err != nil {
		return report, err
	}
	if st == nil {
		return report, nil
	}
	report.Found = true

	var saved []schema.SessionID
	for _, layout := range st.Tabs {
		saved = append(saved, pane.CollectSessionIDs(layout.Root)...)
	}
	sids := a.sessions.Claim(saved)
	configs := make(map[schema.SessionID]schema.PtyConfig, len(sids))
	for from, to := range sids {
		configs[to] = st.SessionConfigs[from]
		if from != to {
			report.Renumbered = true
		}
	}

	tabs := make([]pane.TabLayout, 0, len(st.Tabs))
	for _, layout := range st.Tabs {
		layout.Root = pane.RenumberSessions(layout.Root, sids)
		layout, ok := a.respawn(ctx, layout, configs, &report)
		if ok {
			tabs = append(tabs, layout)
		}
	}

	active := st.ActiveTabID
	if active != nil && !slices.ContainsFunc(tabs, func(l pane.TabLayout) bool { return l.TabID == *active }) {
		active = nil
	}
	tids, err := a.tabs.Restore(tabs, configs, active)
	if err != nil {
		for _, sid := range report.Restored {
			_ = a.sessions.Close(sid)
		}
		report.Restored = nil
		return report, err
	}
	for from, to := range tids {
		if from != to {
			report.Renumbered = true
		}
	}

	report.Tabs = len(tabs)
	// Sessions that exited before their tab was installed had no pane to
	// prune at the time.
	if a.loaded().cfg.CloseOnExit {
		for _, sid := range report.Restored {
			if a.sessions.Exited(sid) {
				_, _, _ = a.tabs.ClosePaneBySession(ctx, sid)
			}
		}
	}
	a.metrics.SessionsRestored.Add(float64(len(report.Restored)))
	a.log.Info("workspace restored",
		zap.String("path", a.store.Path()),
		zap.Int("tabs", report.Tabs),
		zap.Int("sessions", len(report.Restored)),
		zap.Int("failed", len(report.Failed)),
		zap.Bool("renumbered", report.Renumbered))
	return report, nil
}

// respawn starts every session in layout, pruning the panes whose session
// fails. It returns false when no pane survived.
func (a *App) respawn(ctx context.Context, layout pane.TabLayout, configs map[schema.SessionID]schema.PtyConfig, report *RestoreReport) (pane.TabLayout, bool) {
	root := layout.Root
	for _, leaf := range pane.Leaves(layout.Root) {
		err := a.sessions.SpawnWithID(ctx, leaf.SessionID, configs[leaf.SessionID], nil)
		if err == nil {
			report.Restored = append(report.Restored, leaf.SessionID)
			continue
		}
		a.log.Warn("could not restore session",
			zap.Uint32("tab", uint32(layout.TabID)),
			zap.Uint32("session", uint32(leaf.SessionID)),
			zap.Error(err))
		report.Failed[leaf.SessionID] = err

		next, empty, rerr := pane.Remove(root, leaf.PaneID)
		if rerr != nil || empty {
			return layout, false
		}
		root = next
	}
	layout.Root = root
	if !pane.PaneExists(root, layout.ActivePaneID) {
		layout.ActivePaneID, _ = pane.FindFirstLeafID(root)
	}
	return layout, true
}
