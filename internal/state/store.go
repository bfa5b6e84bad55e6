// Package state persists the workspace arrangement between runs.
package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-errors/errors"
	"go.uber.org/zap"

	"github.com/abdullathedruid/tabmux/internal/pane"
	"github.com/abdullathedruid/tabmux/internal/schema"
)

// DefaultPath is where the workspace is saved when no path is configured.
const DefaultPath = "./session.json"

// SessionState is the persisted workspace: every tab's layout, the config each
// session was spawned from and the active tab.
type SessionState struct {
	Tabs           []pane.TabLayout                      `json:"tabs"`
	SessionConfigs map[schema.SessionID]schema.PtyConfig `json:"session_configs"`
	ActiveTabID    *schema.TabID                         `json:"active_tab_id"`
}

// Validate checks the structural invariants of a saved workspace.
func (st *SessionState) Validate() error {
	tabs := make(map[schema.TabID]bool, len(st.Tabs))
	sessions := make(map[schema.SessionID]schema.TabID)
	for _, tab := range st.Tabs {
		if tab.TabID == 0 {
			return errors.New("tab id 0 is reserved")
		}
		if tabs[tab.TabID] {
			return errors.Errorf("duplicate tab id %d", tab.TabID)
		}
		tabs[tab.TabID] = true

		if err := pane.Validate(tab.Root); err != nil {
			return errors.Errorf("tab %d: %v", tab.TabID, err)
		}
		if !pane.PaneExists(tab.Root, tab.ActivePaneID) {
			return errors.Errorf("tab %d: active pane %d not in layout", tab.TabID, tab.ActivePaneID)
		}
		for _, sid := range pane.CollectSessionIDs(tab.Root) {
			if other, ok := sessions[sid]; ok {
				return errors.Errorf("session %d appears in tabs %d and %d", sid, other, tab.TabID)
			}
			sessions[sid] = tab.TabID
			if _, ok := st.SessionConfigs[sid]; !ok {
				return errors.Errorf("tab %d: session %d has no config", tab.TabID, sid)
			}
		}
	}
	if st.ActiveTabID != nil && !tabs[*st.ActiveTabID] {
		return errors.Errorf("active tab %d does not exist", *st.ActiveTabID)
	}
	return nil
}

// Store reads and writes a SessionState file. Each save replaces the file.
type Store struct {
	mu   sync.Mutex
	path string
	log  *zap.Logger
}

// NewStore creates a store backed by path. An empty path means DefaultPath.
func NewStore(path string, log *zap.Logger) *Store {
	if path == "" {
		path = DefaultPath
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{path: path, log: log}
}

// Path returns the file the store writes to.
func (s *Store) Path() string {
	return s.path
}

// Save writes st as indented JSON. The file is replaced atomically so a crash
// mid-save leaves the previous workspace intact.
func (s *Store) Save(st *SessionState) error {
	if st == nil {
		return errors.Errorf("nil state: %w", schema.ErrSerialization)
	}
	if err := st.Validate(); err != nil {
		return errors.Errorf("save %s: %v: %w", s.path, err, schema.ErrSerialization)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return errors.Errorf("encode workspace: %v: %w", err, schema.ErrSerialization)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeAtomic(s.path, data); err != nil {
		s.log.Warn("workspace save failed", zap.String("path", s.path), zap.Error(err))
		return errors.Errorf("save %s: %v: %w", s.path, err, schema.ErrIO)
	}
	s.log.Debug("workspace saved", zap.String("path", s.path), zap.Int("tabs", len(st.Tabs)))
	return nil
}

// Load reads the saved workspace. It returns nil with no error when nothing has
// been saved yet. A file that exists but cannot be decoded is an error.
func (s *Store) Load() (*SessionState, error) {
	s.mu.Lock()
	data, err := os.ReadFile(s.path)
	s.mu.Unlock()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Errorf("load %s: %v: %w", s.path, err, schema.ErrSerialization)
	}

	var st SessionState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, errors.Errorf("load %s: %v: %w", s.path, err, schema.ErrSerialization)
	}
	if st.SessionConfigs == nil {
		st.SessionConfigs = make(map[schema.SessionID]schema.PtyConfig)
	}
	if err := st.Validate(); err != nil {
		return nil, errors.Errorf("load %s: %v: %w", s.path, err, schema.ErrSerialization)
	}
	s.log.Debug("workspace loaded", zap.String("path", s.path), zap.Int("tabs", len(st.Tabs)))
	return &st, nil
}

// Remove deletes the saved workspace, if any.
func (s *Store) Remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return errors.Errorf("remove %s: %v: %w", s.path, err, schema.ErrIO)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
