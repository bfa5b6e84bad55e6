package pane

import "github.com/abdullathedruid/tabmux/internal/schema"

// Rect is the position and size of a pane in character cells.
type Rect struct {
	X, Y          int
	Width, Height int
}

// Size returns the rect as a PTY size, never smaller than 1x1.
func (r Rect) Size() schema.PtySize {
	rows, cols := r.Height, r.Width
	if rows < 1 {
		rows = 1
	}
	if cols < 1 {
		cols = 1
	}
	return schema.PtySize{Rows: uint16(rows), Cols: uint16(cols)}
}

// Rects divides area among the leaves of the tree. Each split hands its
// children equal shares along its axis, differing by at most one cell.
//
//	horizontal: [  1  ][  2  ]
//	vertical:   [    1    ]
//	            [    2    ]
func Rects(root Node, area Rect) map[schema.PaneID]Rect {
	out := make(map[schema.PaneID]Rect)
	layoutNode(root, area, out)
	return out
}

func layoutNode(n Node, area Rect, out map[schema.PaneID]Rect) {
	if n.IsLeaf() {
		out[n.PaneID] = area
		return
	}
	count := len(n.Children)
	if count == 0 {
		return
	}
	for i, c := range n.Children {
		child := area
		switch n.Direction {
		case Vertical:
			y0 := (area.Height * i) / count
			y1 := (area.Height * (i + 1)) / count
			child.Y = area.Y + y0
			child.Height = y1 - y0
		default:
			x0 := (area.Width * i) / count
			x1 := (area.Width * (i + 1)) / count
			child.X = area.X + x0
			child.Width = x1 - x0
		}
		layoutNode(c, child, out)
	}
}
