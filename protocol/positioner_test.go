package protocol

import (
	"testing"

	generaldata "github.com/BKSalman/buddaraysh/general-data"
	"github.com/stretchr/testify/assert"
)

func TestPositionerPlacement(t *testing.T) {
	base := positioner{
		size:       generaldata.Vector2i{X: 100, Y: 50},
		anchorRect: generaldata.NewRect(20, 20, 40, 10),
	}
	bounds := generaldata.NewRect(0, 0, 300, 200)

	tests := []struct {
		name   string
		adjust func(p *positioner)
		bounds generaldata.Rect
		want   generaldata.Rect
	}{
		{
			name:   "centred on the anchor rect by default",
			adjust: func(p *positioner) {},
			want:   generaldata.NewRect(-10, 0, 100, 50),
		},
		{
			name: "menu below the anchor",
			adjust: func(p *positioner) {
				p.anchor, p.gravity = edgeBottomLeft, edgeBottomRight
			},
			want: generaldata.NewRect(20, 30, 100, 50),
		},
		{
			name: "offset applies after anchoring",
			adjust: func(p *positioner) {
				p.anchor, p.gravity = edgeBottomLeft, edgeBottomRight
				p.offset = generaldata.Vector2i{X: 5, Y: -3}
			},
			want: generaldata.NewRect(25, 27, 100, 50),
		},
		{
			name: "slides back inside horizontally",
			adjust: func(p *positioner) {
				p.anchorRect = generaldata.NewRect(260, 20, 20, 10)
				p.anchor, p.gravity = edgeBottomLeft, edgeBottomRight
				p.adjustment = adjustSlideX
			},
			bounds: bounds,
			want:   generaldata.NewRect(200, 30, 100, 50),
		},
		{
			name: "flips above when there is no room below",
			adjust: func(p *positioner) {
				p.anchorRect = generaldata.NewRect(20, 170, 40, 10)
				p.anchor, p.gravity = edgeBottomLeft, edgeBottomRight
				p.adjustment = adjustFlipY
			},
			bounds: bounds,
			want:   generaldata.NewRect(20, 120, 100, 50),
		},
		{
			name: "flip that does not help is undone",
			adjust: func(p *positioner) {
				p.size = generaldata.Vector2i{X: 100, Y: 190}
				p.anchorRect = generaldata.NewRect(20, 100, 40, 10)
				p.anchor, p.gravity = edgeBottom, edgeBottom
				p.adjustment = adjustFlipY
			},
			bounds: bounds,
			want:   generaldata.NewRect(-10, 110, 100, 190),
		},
		{
			name: "resize clips to the bounds",
			adjust: func(p *positioner) {
				p.anchor, p.gravity = edgeTopLeft, edgeTopLeft
				p.adjustment = adjustResizeX | adjustResizeY
			},
			bounds: bounds,
			want:   generaldata.NewRect(0, 0, 20, 20),
		},
		{
			name: "empty bounds leave the popup alone",
			adjust: func(p *positioner) {
				p.anchor, p.gravity = edgeTopLeft, edgeTopLeft
				p.adjustment = adjustSlideX | adjustSlideY
			},
			want: generaldata.NewRect(-80, -30, 100, 50),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base
			tt.adjust(&p)
			assert.Equal(t, tt.want, p.place(tt.bounds))
		})
	}
}

func TestEdgeFlips(t *testing.T) {
	assert.Equal(t, edgeTopRight, edgeTopLeft.flipX())
	assert.Equal(t, edgeBottomLeft, edgeTopLeft.flipY())
	assert.Equal(t, edgeTop, edgeTop.flipX())
	assert.Equal(t, edgeNone, edgeNone.flipY())
	assert.Equal(t, edgeLeft, edgeRight.flipX())
}

func TestPositionerComplete(t *testing.T) {
	var p positioner
	assert.False(t, p.complete())
	p.size = generaldata.Vector2i{X: 1, Y: 1}
	assert.False(t, p.complete())
	p.anchorRect = generaldata.NewRect(0, 0, 1, 1)
	assert.True(t, p.complete())
}
