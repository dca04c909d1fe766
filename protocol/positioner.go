package protocol

import (
	generaldata "github.com/BKSalman/buddaraysh/general-data"
	"github.com/BKSalman/buddaraysh/wire"
)

// Shared by xdg_positioner.anchor and xdg_positioner.gravity
type edge uint32

const (
	edgeNone = edge(iota)
	edgeTop
	edgeBottom
	edgeLeft
	edgeRight
	edgeTopLeft
	edgeBottomLeft
	edgeTopRight
	edgeBottomRight
)

const (
	adjustSlideX = uint32(1 << iota)
	adjustSlideY
	adjustFlipX
	adjustFlipY
	adjustResizeX
	adjustResizeY
)

func (e edge) horizontal() int {
	switch e {
	case edgeLeft, edgeTopLeft, edgeBottomLeft:
		return -1
	case edgeRight, edgeTopRight, edgeBottomRight:
		return 1
	}
	return 0
}

func (e edge) vertical() int {
	switch e {
	case edgeTop, edgeTopLeft, edgeTopRight:
		return -1
	case edgeBottom, edgeBottomLeft, edgeBottomRight:
		return 1
	}
	return 0
}

func edgeOf(h, v int) edge {
	switch {
	case h < 0 && v < 0:
		return edgeTopLeft
	case h < 0 && v > 0:
		return edgeBottomLeft
	case h > 0 && v < 0:
		return edgeTopRight
	case h > 0 && v > 0:
		return edgeBottomRight
	case h < 0:
		return edgeLeft
	case h > 0:
		return edgeRight
	case v < 0:
		return edgeTop
	case v > 0:
		return edgeBottom
	}
	return edgeNone
}

func (e edge) flipX() edge {
	return edgeOf(-e.horizontal(), e.vertical())
}

func (e edge) flipY() edge {
	return edgeOf(e.horizontal(), -e.vertical())
}

// positioner is the placement rule of a popup, relative to the parent's window geometry
type positioner struct {
	size       generaldata.Vector2i
	anchorRect generaldata.Rect
	anchor     edge
	gravity    edge
	adjustment uint32
	offset     generaldata.Vector2i
	reactive   bool
}

func (p positioner) complete() bool {
	return p.size.X > 0 && p.size.Y > 0 && p.anchorRect.W > 0 && p.anchorRect.H > 0
}

// unconstrained computes the popup rectangle ignoring the bounds
func (p positioner) unconstrained(anchor, gravity edge) generaldata.Rect {
	a := p.anchorRect
	x := a.X + a.W/2
	switch anchor.horizontal() {
	case -1:
		x = a.X
	case 1:
		x = a.Right()
	}
	y := a.Y + a.H/2
	switch anchor.vertical() {
	case -1:
		y = a.Y
	case 1:
		y = a.Bottom()
	}

	w, h := p.size.X, p.size.Y
	switch gravity.horizontal() {
	case -1:
		x -= w
	case 0:
		x -= w / 2
	}
	switch gravity.vertical() {
	case -1:
		y -= h
	case 0:
		y -= h / 2
	}
	return generaldata.NewRect(x+p.offset.X, y+p.offset.Y, w, h)
}

// place computes the popup rectangle kept inside bounds where the allowed adjustments can.
// Empty bounds disable constraining
func (p positioner) place(bounds generaldata.Rect) generaldata.Rect {
	r := p.unconstrained(p.anchor, p.gravity)
	if bounds.Empty() {
		return r
	}
	outX := func(r generaldata.Rect) bool { return r.X < bounds.X || r.Right() > bounds.Right() }
	outY := func(r generaldata.Rect) bool { return r.Y < bounds.Y || r.Bottom() > bounds.Bottom() }

	anchor, gravity := p.anchor, p.gravity
	if outX(r) && p.adjustment&adjustFlipX != 0 {
		flipped := p.unconstrained(anchor.flipX(), gravity.flipX())
		if !outX(flipped) {
			r = flipped
			anchor, gravity = anchor.flipX(), gravity.flipX()
		}
	}
	if outY(r) && p.adjustment&adjustFlipY != 0 {
		flipped := p.unconstrained(anchor.flipY(), gravity.flipY())
		if !outY(flipped) {
			r.Y = flipped.Y
		}
	}
	if outX(r) && p.adjustment&adjustSlideX != 0 {
		r.X = slide(r.X, r.W, bounds.X, bounds.W)
	}
	if outY(r) && p.adjustment&adjustSlideY != 0 {
		r.Y = slide(r.Y, r.H, bounds.Y, bounds.H)
	}
	if p.adjustment&adjustResizeX != 0 {
		r = clampAxis(r, bounds, true)
	}
	if p.adjustment&adjustResizeY != 0 {
		r = clampAxis(r, bounds, false)
	}
	return r
}

// slide moves a span into [lo, lo+size). A span larger than the bounds keeps its start visible
func slide(pos, length, lo, size int) int {
	if pos+length > lo+size {
		pos = lo + size - length
	}
	if pos < lo {
		pos = lo
	}
	return pos
}

func clampAxis(r, bounds generaldata.Rect, horizontal bool) generaldata.Rect {
	if horizontal {
		left, right := max(r.X, bounds.X), min(r.Right(), bounds.Right())
		if right > left {
			r.X, r.W = left, right-left
		}
		return r
	}
	top, bottom := max(r.Y, bounds.Y), min(r.Bottom(), bounds.Bottom())
	if bottom > top {
		r.Y, r.H = top, bottom-top
	}
	return r
}

func (c *Client) createPositioner(id uint32) error {
	p := &positioner{}
	r, err := c.add(id, wire.InterfacePositioner, 3, func(opcode uint16, args *wire.Reader) error {
		switch opcode {
		case wire.PositionerDestroy:
			c.remove(id)
		case wire.PositionerSetSize:
			w, h := args.Int(), args.Int()
			if w <= 0 || h <= 0 {
				return protoErr(id, wire.PositionerErrorInvalidInput, "size %dx%d", w, h)
			}
			p.size = generaldata.Vector2i{X: int(w), Y: int(h)}
		case wire.PositionerSetAnchorRect:
			rect := readRect(args)
			if rect.W <= 0 || rect.H <= 0 {
				return protoErr(id, wire.PositionerErrorInvalidInput, "anchor rect %s", rect)
			}
			p.anchorRect = rect
		case wire.PositionerSetAnchor:
			a := edge(args.Uint())
			if a > edgeBottomRight {
				return protoErr(id, wire.PositionerErrorInvalidInput, "anchor %d", a)
			}
			p.anchor = a
		case wire.PositionerSetGravity:
			g := edge(args.Uint())
			if g > edgeBottomRight {
				return protoErr(id, wire.PositionerErrorInvalidInput, "gravity %d", g)
			}
			p.gravity = g
		case wire.PositionerSetConstraintAdjustment:
			p.adjustment = args.Uint()
		case wire.PositionerSetOffset:
			p.offset = generaldata.Vector2i{X: int(args.Int()), Y: int(args.Int())}
		case wire.PositionerSetReactive:
			p.reactive = true
		case wire.PositionerSetParentSize, wire.PositionerSetParentConfigure:
			// Only useful for reactive repositioning against a future parent state
		default:
			return protoErr(wire.DisplayID, wire.ErrorInvalidMethod, "xdg_positioner has no request %d", opcode)
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.data = p
	return nil
}

// positionerOf snapshots a positioner argument
func (c *Client) positionerOf(id uint32) (positioner, error) {
	r, err := c.object(id, wire.InterfacePositioner, false)
	if err != nil {
		return positioner{}, err
	}
	return *r.data.(*positioner), nil
}
