package pane

import (
	"encoding/json"
	"math/rand"
	"slices"
	"testing"

	"github.com/go-errors/errors"

	"github.com/abdullathedruid/tabmux/internal/schema"
)

func sampleTree() Node {
	// [ 1 ][ 2 ]
	//      [ 3 ]
	return NewSplit(Horizontal,
		Leaf(1, 10),
		NewSplit(Vertical, Leaf(2, 20), Leaf(3, 30)),
	)
}

func TestFindFirstLeafID(t *testing.T) {
	id, ok := FindFirstLeafID(sampleTree())
	if !ok || id != 1 {
		t.Errorf("FindFirstLeafID() = %d, %v; want 1, true", id, ok)
	}

	nested := NewSplit(Vertical, NewSplit(Horizontal, Leaf(7, 1), Leaf(8, 2)), Leaf(9, 3))
	if id, _ := FindFirstLeafID(nested); id != 7 {
		t.Errorf("nested FindFirstLeafID() = %d, want 7", id)
	}
}

func TestPaneExistsAndFindLeaf(t *testing.T) {
	root := sampleTree()
	for _, id := range []schema.PaneID{1, 2, 3} {
		if !PaneExists(root, id) {
			t.Errorf("PaneExists(%d) = false", id)
		}
	}
	if PaneExists(root, 4) {
		t.Error("PaneExists(4) = true for missing pane")
	}

	leaf, ok := FindLeaf(root, 3)
	if !ok || leaf.SessionID != 30 {
		t.Errorf("FindLeaf(3) = %+v, %v", leaf, ok)
	}
}

func TestFindMaxPaneID(t *testing.T) {
	if got := FindMaxPaneID(sampleTree()); got != 3 {
		t.Errorf("FindMaxPaneID() = %d, want 3", got)
	}
	if got := FindMaxPaneID(Leaf(5, 1)); got != 5 {
		t.Errorf("FindMaxPaneID(leaf) = %d, want 5", got)
	}
}

func TestCollectSessionIDs(t *testing.T) {
	got := CollectSessionIDs(sampleTree())
	want := []schema.SessionID{10, 20, 30}
	if !slices.Equal(got, want) {
		t.Errorf("CollectSessionIDs() = %v, want %v", got, want)
	}
}

func TestRenumberSessions(t *testing.T) {
	root := sampleTree()
	before, _ := json.Marshal(root)

	out := RenumberSessions(root, map[schema.SessionID]schema.SessionID{10: 41, 30: 43})
	got := CollectSessionIDs(out)
	want := []schema.SessionID{41, 20, 43}
	if !slices.Equal(got, want) {
		t.Errorf("CollectSessionIDs(renumbered) = %v, want %v", got, want)
	}
	if id, ok := FindPaneBySession(out, 43); !ok || id != 3 {
		t.Errorf("pane ids changed: FindPaneBySession(43) = %d, %v", id, ok)
	}
	after, _ := json.Marshal(root)
	if string(before) != string(after) {
		t.Error("RenumberSessions mutated its input tree")
	}
}

func TestFindPaneBySession(t *testing.T) {
	if id, ok := FindPaneBySession(sampleTree(), 20); !ok || id != 2 {
		t.Errorf("FindPaneBySession(20) = %d, %v", id, ok)
	}
	if _, ok := FindPaneBySession(sampleTree(), 99); ok {
		t.Error("FindPaneBySession(99) found a pane")
	}
}

func TestSplit(t *testing.T) {
	root := Leaf(1, 10)
	out, err := Split(root, 1, Horizontal, Leaf(2, 20))
	if err != nil {
		t.Fatalf("Split() error: %v", err)
	}
	if out.Type != KindSplit || out.Direction != Horizontal || len(out.Children) != 2 {
		t.Fatalf("unexpected split: %+v", out)
	}
	if out.Children[0].PaneID != 1 || out.Children[1].PaneID != 2 {
		t.Errorf("children order = %d, %d; want 1, 2", out.Children[0].PaneID, out.Children[1].PaneID)
	}
	if !root.IsLeaf() {
		t.Error("Split mutated its input")
	}
}

func TestSplit_NestedKeepsInputIntact(t *testing.T) {
	root := sampleTree()
	before, _ := json.Marshal(root)

	out, err := Split(root, 3, Horizontal, Leaf(4, 40))
	if err != nil {
		t.Fatalf("Split() error: %v", err)
	}
	after, _ := json.Marshal(root)
	if string(before) != string(after) {
		t.Error("Split mutated its input tree")
	}
	if CountPanes(out) != 4 {
		t.Errorf("CountPanes() = %d, want 4", CountPanes(out))
	}
	if err := Validate(out); err != nil {
		t.Errorf("Validate() after split: %v", err)
	}
}

func TestSplit_Errors(t *testing.T) {
	_, err := Split(sampleTree(), 9, Vertical, Leaf(4, 40))
	if !errors.Is(err, schema.ErrPaneNotFound) {
		t.Errorf("Split(missing) error = %v, want ErrPaneNotFound", err)
	}
	if _, err := Split(sampleTree(), 1, Direction("diagonal"), Leaf(4, 40)); err == nil {
		t.Error("expected error for unknown direction")
	}
}

func TestRemove_CollapsesSingleChildSplit(t *testing.T) {
	out, empty, err := Remove(sampleTree(), 2)
	if err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if empty {
		t.Fatal("Remove() reported empty tree")
	}
	// The vertical split collapsed into leaf 3.
	want := NewSplit(Horizontal, Leaf(1, 10), Leaf(3, 30))
	got, _ := json.Marshal(out)
	wantJSON, _ := json.Marshal(want)
	if string(got) != string(wantJSON) {
		t.Errorf("Remove() = %s, want %s", got, wantJSON)
	}
}

func TestRemove_LastLeaf(t *testing.T) {
	_, empty, err := Remove(Leaf(1, 10), 1)
	if err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if !empty {
		t.Error("removing the only leaf should report an empty tree")
	}
}

func TestRemove_MissingPane(t *testing.T) {
	_, _, err := Remove(sampleTree(), 42)
	if !errors.Is(err, schema.ErrPaneNotFound) {
		t.Errorf("Remove(missing) error = %v, want ErrPaneNotFound", err)
	}
}

func TestRemove_WideSplitStaysSplit(t *testing.T) {
	root := NewSplit(Vertical, Leaf(1, 1), Leaf(2, 2), Leaf(3, 3))
	out, _, err := Remove(root, 2)
	if err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if out.Type != KindSplit || len(out.Children) != 2 {
		t.Errorf("expected split with 2 children, got %+v", out)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		root    Node
		wantErr bool
	}{
		{"leaf", Leaf(1, 1), false},
		{"nested", sampleTree(), false},
		{"single child split", NewSplit(Horizontal, Leaf(1, 1)), true},
		{"duplicate pane", NewSplit(Horizontal, Leaf(1, 1), Leaf(1, 2)), true},
		{"shared session", NewSplit(Horizontal, Leaf(1, 1), Leaf(2, 1)), true},
		{"zero ids", Leaf(0, 0), true},
		{"bad direction", NewSplit("diagonal", Leaf(1, 1), Leaf(2, 2)), true},
		{"bad type", Node{Type: "window"}, true},
	}
	for _, tt := range tests {
		err := Validate(tt.root)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: Validate() error = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestNodeJSON(t *testing.T) {
	data, err := json.Marshal(NewSplit(Horizontal, Leaf(1, 3), Leaf(2, 4)))
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	want := `{"type":"split","direction":"horizontal","children":[{"type":"leaf","pane_id":1,"session_id":3},{"type":"leaf","pane_id":2,"session_id":4}]}`
	if string(data) != want {
		t.Errorf("Marshal() = %s\nwant %s", data, want)
	}
}

// Random split and close sequences must keep every split at two or more
// children and leave the remaining panes reachable.
func TestSplitRemoveSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	dirs := []Direction{Horizontal, Vertical}

	for round := 0; round < 200; round++ {
		root := Leaf(1, 1)
		live := []schema.PaneID{1}
		for step := 0; step < 30; step++ {
			if len(live) == 0 {
				break
			}
			target := live[rng.Intn(len(live))]
			if rng.Intn(3) > 0 {
				next := FindMaxPaneID(root) + 1
				var err error
				root, err = Split(root, target, dirs[rng.Intn(2)], Leaf(next, schema.SessionID(next)))
				if err != nil {
					t.Fatalf("round %d: Split() error: %v", round, err)
				}
				live = append(live, next)
			} else {
				var empty bool
				var err error
				root, empty, err = Remove(root, target)
				if err != nil {
					t.Fatalf("round %d: Remove() error: %v", round, err)
				}
				live = slices.DeleteFunc(live, func(id schema.PaneID) bool { return id == target })
				if empty {
					if len(live) != 0 {
						t.Fatalf("round %d: tree empty with %d live panes", round, len(live))
					}
					break
				}
			}
			if err := Validate(root); err != nil {
				t.Fatalf("round %d step %d: %v", round, step, err)
			}
			if CountPanes(root) != len(live) {
				t.Fatalf("round %d: CountPanes() = %d, want %d", round, CountPanes(root), len(live))
			}
		}
	}
}
