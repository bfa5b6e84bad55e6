package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/go-errors/errors"

	"github.com/abdullathedruid/tabmux/internal/pane"
	"github.com/abdullathedruid/tabmux/internal/schema"
)

func tabID(id schema.TabID) *schema.TabID { return &id }

func sampleState() *SessionState {
	return &SessionState{
		Tabs: []pane.TabLayout{
			{
				TabID: 1,
				Root: pane.NewSplit(pane.Horizontal,
					pane.Leaf(1, 1),
					pane.NewSplit(pane.Vertical, pane.Leaf(2, 2), pane.Leaf(3, 4)),
				),
				ActivePaneID: 3,
			},
			{TabID: 3, Root: pane.Leaf(1, 5), ActivePaneID: 1},
		},
		SessionConfigs: map[schema.SessionID]schema.PtyConfig{
			1: {Command: "/bin/bash", Args: []string{"-l"}, Cwd: "/tmp", Rows: 24, Cols: 80},
			2: {Command: "/bin/zsh", Args: []string{}, Rows: 24, Cols: 40},
			4: {Command: "ssh", Args: []string{"-t", "host"}, InitialCommand: "htop", Rows: 12, Cols: 40},
			5: {Command: "/bin/sh", Args: []string{}, Env: []string{"FOO=bar"}, Rows: 50, Cols: 200},
		},
		ActiveTabID: tabID(3),
	}
}

func TestNewStore_DefaultPath(t *testing.T) {
	if got := NewStore("", nil).Path(); got != DefaultPath {
		t.Errorf("Path() = %q, want %q", got, DefaultPath)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "session.json"), nil)
	st, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if st != nil {
		t.Errorf("Load() = %+v, want nil", st)
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "nested", "session.json"), nil)
	want := sampleState()

	if err := store.Save(want); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestSave_FileFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	store := NewStore(path, nil)
	if err := store.Save(sampleState()); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "\n  \"tabs\"") {
		t.Error("expected indented JSON")
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"tabs", "session_configs", "active_tab_id"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("missing top-level key %q", key)
		}
	}

	var configs map[string]json.RawMessage
	if err := json.Unmarshal(raw["session_configs"], &configs); err != nil {
		t.Fatal(err)
	}
	if _, ok := configs["4"]; !ok {
		t.Errorf("session_configs keys = %v, want decimal session ids", configs)
	}

	var tabs []map[string]json.RawMessage
	if err := json.Unmarshal(raw["tabs"], &tabs); err != nil {
		t.Fatal(err)
	}
	if string(tabs[0]["tab_id"]) != "1" || string(tabs[0]["active_pane_id"]) != "3" {
		t.Errorf("unexpected tab encoding: %s", raw["tabs"])
	}
	if !strings.Contains(string(tabs[0]["root"]), `"type": "split"`) {
		t.Errorf("root not tagged as split: %s", tabs[0]["root"])
	}
}

func TestSave_Overwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	store := NewStore(path, nil)
	if err := store.Save(sampleState()); err != nil {
		t.Fatal(err)
	}

	next := &SessionState{
		Tabs:           []pane.TabLayout{{TabID: 9, Root: pane.Leaf(1, 7), ActivePaneID: 1}},
		SessionConfigs: map[schema.SessionID]schema.PtyConfig{7: {Command: "/bin/sh", Args: []string{}}},
	}
	if err := store.Save(next); err != nil {
		t.Fatal(err)
	}
	got, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Tabs) != 1 || got.Tabs[0].TabID != 9 || got.ActiveTabID != nil {
		t.Errorf("Load() after overwrite = %+v", got)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("expected only the session file, found %d entries", len(entries))
	}
}

func TestSave_EmptyWorkspace(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "session.json"), nil)
	if err := store.Save(&SessionState{}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(got.Tabs) != 0 || got.ActiveTabID != nil {
		t.Errorf("Load() = %+v, want empty workspace", got)
	}
}

func TestLoad_Corrupt(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "{tabs:"},
		{"wrong type", `{"tabs": 3}`},
		{"single child split", `{"tabs":[{"tab_id":1,"root":{"type":"split","direction":"horizontal","children":[{"type":"leaf","pane_id":1,"session_id":1}]},"active_pane_id":1}],"session_configs":{"1":{"command":"sh","args":null,"rows":24,"cols":80}},"active_tab_id":1}`},
		{"missing config", `{"tabs":[{"tab_id":1,"root":{"type":"leaf","pane_id":1,"session_id":1},"active_pane_id":1}],"session_configs":{},"active_tab_id":1}`},
		{"dangling active tab", `{"tabs":[],"session_configs":{},"active_tab_id":4}`},
	}
	for _, tt := range tests {
		path := filepath.Join(t.TempDir(), "session.json")
		if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
			t.Fatal(err)
		}
		st, err := NewStore(path, nil).Load()
		if !errors.Is(err, schema.ErrSerialization) {
			t.Errorf("%s: Load() error = %v, want ErrSerialization", tt.name, err)
		}
		if st != nil {
			t.Errorf("%s: Load() returned state alongside error", tt.name)
		}
		// The corrupt file must be left for the user to inspect.
		if _, err := os.Stat(path); err != nil {
			t.Errorf("%s: corrupt file was removed", tt.name)
		}
	}
}

func TestSave_RejectsInvalidState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	st := sampleState()
	delete(st.SessionConfigs, 5)

	err := NewStore(path, nil).Save(st)
	if !errors.Is(err, schema.ErrSerialization) {
		t.Errorf("Save() error = %v, want ErrSerialization", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("invalid state was written")
	}
}

func TestValidate(t *testing.T) {
	cfg := schema.PtyConfig{Command: "sh"}
	tests := []struct {
		name    string
		state   SessionState
		wantErr string
	}{
		{
			name:  "valid",
			state: *sampleState(),
		},
		{
			name: "zero tab id",
			state: SessionState{
				Tabs:           []pane.TabLayout{{TabID: 0, Root: pane.Leaf(1, 1), ActivePaneID: 1}},
				SessionConfigs: map[schema.SessionID]schema.PtyConfig{1: cfg},
			},
			wantErr: "reserved",
		},
		{
			name: "duplicate tab id",
			state: SessionState{
				Tabs: []pane.TabLayout{
					{TabID: 2, Root: pane.Leaf(1, 1), ActivePaneID: 1},
					{TabID: 2, Root: pane.Leaf(1, 2), ActivePaneID: 1},
				},
				SessionConfigs: map[schema.SessionID]schema.PtyConfig{1: cfg, 2: cfg},
			},
			wantErr: "duplicate tab",
		},
		{
			name: "session shared across tabs",
			state: SessionState{
				Tabs: []pane.TabLayout{
					{TabID: 1, Root: pane.Leaf(1, 1), ActivePaneID: 1},
					{TabID: 2, Root: pane.Leaf(1, 1), ActivePaneID: 1},
				},
				SessionConfigs: map[schema.SessionID]schema.PtyConfig{1: cfg},
			},
			wantErr: "appears in tabs",
		},
		{
			name: "active pane missing",
			state: SessionState{
				Tabs:           []pane.TabLayout{{TabID: 1, Root: pane.Leaf(1, 1), ActivePaneID: 2}},
				SessionConfigs: map[schema.SessionID]schema.PtyConfig{1: cfg},
			},
			wantErr: "active pane",
		},
		{
			name: "duplicate pane id",
			state: SessionState{
				Tabs: []pane.TabLayout{{
					TabID:        1,
					Root:         pane.NewSplit(pane.Vertical, pane.Leaf(1, 1), pane.Leaf(1, 2)),
					ActivePaneID: 1,
				}},
				SessionConfigs: map[schema.SessionID]schema.PtyConfig{1: cfg, 2: cfg},
			},
			wantErr: "tab 1",
		},
		{
			name: "active tab missing",
			state: SessionState{
				Tabs:           []pane.TabLayout{{TabID: 1, Root: pane.Leaf(1, 1), ActivePaneID: 1}},
				SessionConfigs: map[schema.SessionID]schema.PtyConfig{1: cfg},
				ActiveTabID:    tabID(2),
			},
			wantErr: "active tab 2",
		},
	}

	for _, tt := range tests {
		err := tt.state.Validate()
		if tt.wantErr == "" {
			if err != nil {
				t.Errorf("%s: Validate() error = %v", tt.name, err)
			}
			continue
		}
		if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
			t.Errorf("%s: Validate() error = %v, want containing %q", tt.name, err, tt.wantErr)
		}
	}
}

func TestRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	store := NewStore(path, nil)
	if err := store.Remove(); err != nil {
		t.Errorf("Remove() on missing file: %v", err)
	}
	if err := store.Save(sampleState()); err != nil {
		t.Fatal(err)
	}
	if err := store.Remove(); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if st, _ := store.Load(); st != nil {
		t.Error("Load() after Remove() returned a state")
	}
}
