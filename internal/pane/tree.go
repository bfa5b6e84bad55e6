// Package pane implements the split-pane layout tree of a tab.
//
// Trees are values: every mutating helper returns a new root and leaves the
// input untouched, so callers can swap a tab's root under their own lock.
package pane

import (
	"github.com/go-errors/errors"

	"github.com/abdullathedruid/tabmux/internal/schema"
)

// Kind tags a node as a leaf or a split.
type Kind string

const (
	KindLeaf  Kind = "leaf"
	KindSplit Kind = "split"
)

// Direction is the axis along which a split lays out its children.
type Direction string

const (
	// Horizontal places children side by side, left to right.
	Horizontal Direction = "horizontal"
	// Vertical stacks children top to bottom.
	Vertical Direction = "vertical"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == Horizontal || d == Vertical
}

// Node is either a leaf holding one session or a split holding two or more
// children.
type Node struct {
	Type      Kind             `json:"type"`
	PaneID    schema.PaneID    `json:"pane_id,omitempty"`
	SessionID schema.SessionID `json:"session_id,omitempty"`
	Direction Direction        `json:"direction,omitempty"`
	Children  []Node           `json:"children,omitempty"`
}

// TabLayout is the persisted arrangement of one tab.
type TabLayout struct {
	TabID        schema.TabID  `json:"tab_id"`
	Root         Node          `json:"root"`
	ActivePaneID schema.PaneID `json:"active_pane_id"`
}

// Leaf builds a leaf node.
func Leaf(paneID schema.PaneID, sessionID schema.SessionID) Node {
	return Node{Type: KindLeaf, PaneID: paneID, SessionID: sessionID}
}

// NewSplit builds a split node.
func NewSplit(dir Direction, children ...Node) Node {
	return Node{Type: KindSplit, Direction: dir, Children: children}
}

// IsLeaf reports whether n is a leaf.
func (n Node) IsLeaf() bool {
	return n.Type == KindLeaf
}

// Clone returns a deep copy of n.
func Clone(n Node) Node {
	if n.IsLeaf() {
		return n
	}
	children := make([]Node, len(n.Children))
	for i, c := range n.Children {
		children[i] = Clone(c)
	}
	n.Children = children
	return n
}

// FindFirstLeafID returns the pane id of the leftmost leaf.
func FindFirstLeafID(n Node) (schema.PaneID, bool) {
	if n.IsLeaf() {
		return n.PaneID, true
	}
	for _, c := range n.Children {
		if id, ok := FindFirstLeafID(c); ok {
			return id, true
		}
	}
	return 0, false
}

// FindLeaf returns the leaf with the given pane id.
func FindLeaf(n Node, id schema.PaneID) (Node, bool) {
	if n.IsLeaf() {
		return n, n.PaneID == id
	}
	for _, c := range n.Children {
		if leaf, ok := FindLeaf(c, id); ok {
			return leaf, true
		}
	}
	return Node{}, false
}

// PaneExists reports whether a leaf with the given pane id is in the tree.
func PaneExists(n Node, id schema.PaneID) bool {
	_, ok := FindLeaf(n, id)
	return ok
}

// FindPaneBySession returns the pane hosting the given session.
func FindPaneBySession(n Node, sid schema.SessionID) (schema.PaneID, bool) {
	for _, leaf := range Leaves(n) {
		if leaf.SessionID == sid {
			return leaf.PaneID, true
		}
	}
	return 0, false
}

// FindMaxPaneID returns the largest pane id in the tree, 0 for an empty tree.
func FindMaxPaneID(n Node) schema.PaneID {
	if n.IsLeaf() {
		return n.PaneID
	}
	var highest schema.PaneID
	for _, c := range n.Children {
		if id := FindMaxPaneID(c); id > highest {
			highest = id
		}
	}
	return highest
}

// Leaves returns every leaf in depth-first, left-to-right order.
func Leaves(n Node) []Node {
	var out []Node
	var walk func(Node)
	walk = func(n Node) {
		if n.IsLeaf() {
			out = append(out, n)
			return
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(n)
	return out
}

// CollectSessionIDs returns the session ids of every leaf, left to right.
func CollectSessionIDs(n Node) []schema.SessionID {
	leaves := Leaves(n)
	ids := make([]schema.SessionID, 0, len(leaves))
	for _, l := range leaves {
		ids = append(ids, l.SessionID)
	}
	return ids
}

// RenumberSessions returns a copy of n with each leaf's session id replaced
// through ids. Leaves whose id is not in ids keep it.
func RenumberSessions(n Node, ids map[schema.SessionID]schema.SessionID) Node {
	if n.IsLeaf() {
		if to, ok := ids[n.SessionID]; ok {
			n.SessionID = to
		}
		return n
	}
	children := make([]Node, len(n.Children))
	for i, c := range n.Children {
		children[i] = RenumberSessions(c, ids)
	}
	n.Children = children
	return n
}

// CountPanes returns the number of leaves.
func CountPanes(n Node) int {
	return len(Leaves(n))
}

// Split replaces the target leaf with a split of the old leaf and newLeaf.
func Split(root Node, target schema.PaneID, dir Direction, newLeaf Node) (Node, error) {
	if !dir.Valid() {
		return root, errors.Errorf("unknown split direction %q", dir)
	}
	if !newLeaf.IsLeaf() {
		return root, errors.Errorf("split: new node must be a leaf")
	}
	out, ok := split(root, target, dir, newLeaf)
	if !ok {
		return root, errors.Errorf("pane %d: %w", target, schema.ErrPaneNotFound)
	}
	return out, nil
}

func split(n Node, target schema.PaneID, dir Direction, newLeaf Node) (Node, bool) {
	if n.IsLeaf() {
		if n.PaneID != target {
			return n, false
		}
		return NewSplit(dir, n, newLeaf), true
	}
	for i, c := range n.Children {
		if replaced, ok := split(c, target, dir, newLeaf); ok {
			children := make([]Node, len(n.Children))
			copy(children, n.Children)
			children[i] = replaced
			return NewSplit(n.Direction, children...), true
		}
	}
	return n, false
}

// Remove prunes the target leaf. A split left with a single child is replaced
// by that child. empty reports that the last leaf was removed.
func Remove(root Node, target schema.PaneID) (out Node, empty bool, err error) {
	if !PaneExists(root, target) {
		return root, false, errors.Errorf("pane %d: %w", target, schema.ErrPaneNotFound)
	}
	out, ok := remove(root, target)
	return out, !ok, nil
}

func remove(n Node, target schema.PaneID) (Node, bool) {
	if n.IsLeaf() {
		return n, n.PaneID != target
	}
	children := make([]Node, 0, len(n.Children))
	for _, c := range n.Children {
		if kept, ok := remove(c, target); ok {
			children = append(children, kept)
		}
	}
	switch len(children) {
	case 0:
		return Node{}, false
	case 1:
		return children[0], true
	}
	return NewSplit(n.Direction, children...), true
}

// Validate checks the structural invariants of a tree: known node kinds and
// directions, at least two children per split, and non-zero ids that are
// unique across the tree.
func Validate(root Node) error {
	panes := make(map[schema.PaneID]bool)
	sessions := make(map[schema.SessionID]bool)
	var walk func(Node) error
	walk = func(n Node) error {
		switch n.Type {
		case KindLeaf:
			if n.PaneID == 0 || n.SessionID == 0 {
				return errors.Errorf("leaf is missing pane or session id")
			}
			if panes[n.PaneID] {
				return errors.Errorf("duplicate pane id %d", n.PaneID)
			}
			if sessions[n.SessionID] {
				return errors.Errorf("session %d is attached to more than one pane", n.SessionID)
			}
			panes[n.PaneID] = true
			sessions[n.SessionID] = true
			return nil
		case KindSplit:
			if !n.Direction.Valid() {
				return errors.Errorf("unknown split direction %q", n.Direction)
			}
			if len(n.Children) < 2 {
				return errors.Errorf("split has %d children, need at least 2", len(n.Children))
			}
			for _, c := range n.Children {
				if err := walk(c); err != nil {
					return err
				}
			}
			return nil
		default:
			return errors.Errorf("unknown node type %q", n.Type)
		}
	}
	return walk(root)
}
