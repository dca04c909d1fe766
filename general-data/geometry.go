// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package generaldata holds the integer geometry shared by every part of the compositor
package generaldata

import "fmt"

type (
	// A point or size in pixels
	Vector2i struct {
		X int
		Y int
	}

	// An axis-aligned rectangle. W or H <= 0 means empty
	Rect struct {
		X int
		Y int
		W int
		H int
	}
)

func NewRect(x, y, w, h int) Rect {
	return Rect{X: x, Y: y, W: w, H: h}
}

func (v Vector2i) Add(o Vector2i) Vector2i {
	return Vector2i{X: v.X + o.X, Y: v.Y + o.Y}
}

func (v Vector2i) Sub(o Vector2i) Vector2i {
	return Vector2i{X: v.X - o.X, Y: v.Y - o.Y}
}

func (v Vector2i) String() string {
	return fmt.Sprintf("%dx%d", v.X, v.Y)
}

func (r Rect) Empty() bool {
	return r.W <= 0 || r.H <= 0
}

func (r Rect) Right() int {
	return r.X + r.W
}

func (r Rect) Bottom() int {
	return r.Y + r.H
}

func (r Rect) Area() int {
	if r.Empty() {
		return 0
	}
	return r.W * r.H
}

func (r Rect) Origin() Vector2i {
	return Vector2i{X: r.X, Y: r.Y}
}

func (r Rect) Size() Vector2i {
	return Vector2i{X: r.W, Y: r.H}
}

// Contains reports whether the pixel at (x, y) lies inside r
func (r Rect) Contains(x, y int) bool {
	return x >= r.X && x < r.Right() && y >= r.Y && y < r.Bottom()
}

// ContainsRect reports whether o lies fully inside r. Empty rectangles are contained everywhere
func (r Rect) ContainsRect(o Rect) bool {
	if o.Empty() {
		return true
	}
	return o.X >= r.X && o.Y >= r.Y && o.Right() <= r.Right() && o.Bottom() <= r.Bottom()
}

func (r Rect) Translate(dx, dy int) Rect {
	return Rect{X: r.X + dx, Y: r.Y + dy, W: r.W, H: r.H}
}

// Intersect returns the overlap of both rectangles, the zero Rect if there is none
func (r Rect) Intersect(o Rect) Rect {
	x0, y0 := max(r.X, o.X), max(r.Y, o.Y)
	x1, y1 := min(r.Right(), o.Right()), min(r.Bottom(), o.Bottom())
	if x1 <= x0 || y1 <= y0 {
		return Rect{}
	}
	return Rect{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

func (r Rect) Overlaps(o Rect) bool {
	return !r.Intersect(o).Empty()
}

// Bounds returns the smallest rectangle covering both
func (r Rect) Bounds(o Rect) Rect {
	if r.Empty() {
		return o
	}
	if o.Empty() {
		return r
	}
	x0, y0 := min(r.X, o.X), min(r.Y, o.Y)
	x1, y1 := max(r.Right(), o.Right()), max(r.Bottom(), o.Bottom())
	return Rect{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

// Subtract returns up to four disjoint pieces covering r minus o
func (r Rect) Subtract(o Rect) []Rect {
	in := r.Intersect(o)
	if in.Empty() {
		if r.Empty() {
			return nil
		}
		return []Rect{r}
	}
	out := make([]Rect, 0, 4)
	// Top and bottom bands span the full width, left and right only the intersection height
	if in.Y > r.Y {
		out = append(out, Rect{X: r.X, Y: r.Y, W: r.W, H: in.Y - r.Y})
	}
	if in.Bottom() < r.Bottom() {
		out = append(out, Rect{X: r.X, Y: in.Bottom(), W: r.W, H: r.Bottom() - in.Bottom()})
	}
	if in.X > r.X {
		out = append(out, Rect{X: r.X, Y: in.Y, W: in.X - r.X, H: in.H})
	}
	if in.Right() < r.Right() {
		out = append(out, Rect{X: in.Right(), Y: in.Y, W: r.Right() - in.Right(), H: in.H})
	}
	return out
}

func (r Rect) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", r.W, r.H, r.X, r.Y)
}
