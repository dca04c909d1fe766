// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package generaldata

// A set of pixels stored as disjoint rectangles.
// The zero Region is empty and ready to use
type Region struct {
	rects []Rect
}

func RegionOf(rects ...Rect) Region {
	var r Region
	for _, rect := range rects {
		r.Add(rect)
	}
	return r
}

// Add unions rect into the region. Only the parts not already covered are stored
func (r *Region) Add(rect Rect) {
	if rect.Empty() {
		return
	}
	pieces := []Rect{rect}
	for _, existing := range r.rects {
		if existing.ContainsRect(rect) {
			return
		}
		next := pieces[:0:0]
		for _, p := range pieces {
			next = append(next, p.Subtract(existing)...)
		}
		pieces = next
		if len(pieces) == 0 {
			return
		}
	}
	r.rects = append(r.rects, pieces...)
}

func (r *Region) AddRegion(o Region) {
	for _, rect := range o.rects {
		r.Add(rect)
	}
}

// Subtract removes rect from the region
func (r *Region) Subtract(rect Rect) {
	if rect.Empty() || len(r.rects) == 0 {
		return
	}
	next := make([]Rect, 0, len(r.rects))
	for _, existing := range r.rects {
		next = append(next, existing.Subtract(rect)...)
	}
	r.rects = next
}

// Intersect clips the region to rect
func (r *Region) Intersect(rect Rect) {
	next := r.rects[:0]
	for _, existing := range r.rects {
		if in := existing.Intersect(rect); !in.Empty() {
			next = append(next, in)
		}
	}
	r.rects = next
}

func (r *Region) Clear() {
	r.rects = nil
}

func (r Region) Empty() bool {
	return len(r.rects) == 0
}

func (r Region) Contains(x, y int) bool {
	for _, rect := range r.rects {
		if rect.Contains(x, y) {
			return true
		}
	}
	return false
}

// Rects returns a copy of the disjoint rectangles making up the region
func (r Region) Rects() []Rect {
	out := make([]Rect, len(r.rects))
	copy(out, r.rects)
	return out
}

// Extents returns the bounding rectangle of the region
func (r Region) Extents() Rect {
	var b Rect
	for _, rect := range r.rects {
		b = b.Bounds(rect)
	}
	return b
}

func (r Region) Area() int {
	total := 0
	for _, rect := range r.rects {
		total += rect.Area()
	}
	return total
}

func (r Region) Translate(dx, dy int) Region {
	out := Region{rects: make([]Rect, len(r.rects))}
	for i, rect := range r.rects {
		out.rects[i] = rect.Translate(dx, dy)
	}
	return out
}

func (r Region) Clone() Region {
	return Region{rects: r.Rects()}
}
