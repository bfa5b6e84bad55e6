package pane

import (
	"testing"

	"github.com/abdullathedruid/tabmux/internal/schema"
)

func TestRects_SinglePane(t *testing.T) {
	rects := Rects(Leaf(1, 1), Rect{Width: 100, Height: 50})
	if len(rects) != 1 {
		t.Fatalf("expected 1 rect, got %d", len(rects))
	}

	r := rects[1]
	if r.X != 0 || r.Y != 0 || r.Width != 100 || r.Height != 50 {
		t.Errorf("unexpected rect: %+v", r)
	}
}

func TestRects_HorizontalSplit(t *testing.T) {
	root := NewSplit(Horizontal, Leaf(1, 1), Leaf(2, 2))
	rects := Rects(root, Rect{Width: 100, Height: 50})

	left := rects[1]
	if left.X != 0 || left.Width != 50 || left.Height != 50 {
		t.Errorf("unexpected left rect: %+v", left)
	}
	right := rects[2]
	if right.X != 50 || right.Width != 50 || right.Height != 50 {
		t.Errorf("unexpected right rect: %+v", right)
	}
}

func TestRects_NestedSplit(t *testing.T) {
	// [  1  ][  2  ]
	//        [  3  ]
	root := NewSplit(Horizontal,
		Leaf(1, 1),
		NewSplit(Vertical, Leaf(2, 2), Leaf(3, 3)),
	)
	rects := Rects(root, Rect{Width: 80, Height: 24})

	tests := []struct {
		pane schema.PaneID
		want Rect
	}{
		{1, Rect{X: 0, Y: 0, Width: 40, Height: 24}},
		{2, Rect{X: 40, Y: 0, Width: 40, Height: 12}},
		{3, Rect{X: 40, Y: 12, Width: 40, Height: 12}},
	}
	for _, tt := range tests {
		if got := rects[tt.pane]; got != tt.want {
			t.Errorf("pane %d: got %+v, want %+v", tt.pane, got, tt.want)
		}
	}
}

func TestRects_UnevenShares(t *testing.T) {
	root := NewSplit(Horizontal, Leaf(1, 1), Leaf(2, 2), Leaf(3, 3))
	rects := Rects(root, Rect{Width: 10, Height: 5})

	total := 0
	for _, r := range rects {
		if r.Width < 3 || r.Width > 4 {
			t.Errorf("share width %d out of range", r.Width)
		}
		total += r.Width
	}
	if total != 10 {
		t.Errorf("shares cover %d columns, want 10", total)
	}
}

func TestRect_Size(t *testing.T) {
	if got := (Rect{Width: 80, Height: 24}).Size(); got != (schema.PtySize{Rows: 24, Cols: 80}) {
		t.Errorf("Size() = %+v", got)
	}
	if got := (Rect{}).Size(); got != (schema.PtySize{Rows: 1, Cols: 1}) {
		t.Errorf("empty rect Size() = %+v, want 1x1", got)
	}
}
