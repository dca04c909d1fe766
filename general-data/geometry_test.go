package generaldata

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRectIntersect(t *testing.T) {
	a := NewRect(0, 0, 100, 100)
	b := NewRect(50, 50, 100, 100)
	assert.Equal(t, NewRect(50, 50, 50, 50), a.Intersect(b))
	assert.True(t, a.Intersect(NewRect(100, 0, 10, 10)).Empty())
	assert.Equal(t, NewRect(0, 0, 150, 150), a.Bounds(b))
}

func TestRectSubtractCoversDifference(t *testing.T) {
	r := NewRect(0, 0, 10, 10)
	pieces := r.Subtract(NewRect(3, 3, 4, 4))
	total := 0
	for _, p := range pieces {
		total += p.Area()
		assert.False(t, p.Overlaps(NewRect(3, 3, 4, 4)))
	}
	assert.Equal(t, 100-16, total)
}

func TestRegionAddIsDisjoint(t *testing.T) {
	var r Region
	r.Add(NewRect(0, 0, 10, 10))
	r.Add(NewRect(5, 5, 10, 10))
	r.Add(NewRect(2, 2, 2, 2))
	assert.Equal(t, 100+100-25, r.Area())
	rects := r.Rects()
	for i := range rects {
		for j := i + 1; j < len(rects); j++ {
			assert.False(t, rects[i].Overlaps(rects[j]), "%v overlaps %v", rects[i], rects[j])
		}
	}
	assert.Equal(t, NewRect(0, 0, 15, 15), r.Extents())
}

func TestRegionSubtractAndContains(t *testing.T) {
	r := RegionOf(NewRect(0, 0, 20, 20))
	r.Subtract(NewRect(0, 0, 10, 20))
	assert.False(t, r.Contains(5, 5))
	assert.True(t, r.Contains(15, 5))
	assert.Equal(t, 200, r.Area())

	r.Intersect(NewRect(15, 0, 100, 100))
	assert.Equal(t, 100, r.Area())

	r.Clear()
	assert.True(t, r.Empty())
}
