package scene

import (
	"testing"

	generaldata "github.com/BKSalman/buddaraysh/general-data"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const anchorAll = AnchorTop | AnchorBottom | AnchorLeft | AnchorRight

// mapLayer runs the initial commit, then maps the surface at the size it was given
func mapLayer(t *testing.T, sc *Scene, state LayerState) *Surface {
	t.Helper()
	s := sc.CreateSurface(2)
	require.NoError(t, sc.SetLayerRole(s.ID, 0, state))
	_, err := sc.Commit(s.ID, Commit{})
	require.NoError(t, err)
	size := s.LayerSize()
	res, err := sc.Commit(s.ID, Commit{Buffer: buffer(size.X, size.Y)})
	require.NoError(t, err)
	require.True(t, res.Mapped)
	return s
}

func TestLayersStackAroundWindows(t *testing.T) {
	sc, outs := newTestScene(t, generaldata.Vector2i{X: 1920, Y: 1080})
	o := outs[0]
	window := mapToplevel(t, sc, generaldata.Vector2i{X: 100, Y: 100}, 200, 200)
	overlay := mapLayer(t, sc, LayerState{Level: LayerOverlay, Size: generaldata.Vector2i{X: 100, Y: 100}})
	top := mapLayer(t, sc, LayerState{Level: LayerTop, Anchor: AnchorTop | AnchorLeft | AnchorRight, Size: generaldata.Vector2i{Y: 30}})
	wallpaper := mapLayer(t, sc, LayerState{Level: LayerBackground, Anchor: anchorAll})

	assert.Equal(t, generaldata.Vector2i{X: 1920, Y: 1080}, wallpaper.LayerSize())
	assert.Equal(t, generaldata.Vector2i{X: 910, Y: 490}, overlay.Position, "unanchored surfaces are centred")
	assert.Equal(t, []SurfaceID{wallpaper.ID, window.ID, top.ID, overlay.ID}, ids(sc.Stack(o.ID)))

	require.NoError(t, sc.SwitchWorkspace(o.ID, 1))
	assert.Equal(t, []SurfaceID{wallpaper.ID, top.ID, overlay.ID}, ids(sc.Stack(o.ID)), "shell surfaces stay on every workspace")
	require.NoError(t, sc.SwitchWorkspace(o.ID, 0))

	flush(t, sc, o)
	state := top.Layer
	state.Level = LayerBottom
	_, err := sc.Commit(top.ID, Commit{Layer: &state})
	require.NoError(t, err)
	assert.Equal(t, []SurfaceID{wallpaper.ID, top.ID, window.ID, overlay.ID}, ids(sc.Stack(o.ID)))
	assert.Equal(t, OutputDamaged, o.State(), "changing the layer redraws the surface")
}

func TestExclusiveZonesShrinkUsableArea(t *testing.T) {
	sc, outs := newTestScene(t, generaldata.Vector2i{X: 1000, Y: 800})
	o := outs[0]

	panel := sc.CreateSurface(2)
	require.NoError(t, sc.SetLayerRole(panel.ID, 0, LayerState{
		Level:         LayerTop,
		Anchor:        AnchorTop | AnchorLeft | AnchorRight,
		Size:          generaldata.Vector2i{Y: 30},
		ExclusiveZone: 30,
		Margin:        Margins{Top: 5},
	}))
	res, err := sc.Commit(panel.ID, Commit{})
	require.NoError(t, err)
	assert.False(t, res.UsableChanged, "unmapped surfaces reserve nothing")
	assert.Equal(t, generaldata.Vector2i{X: 1000, Y: 30}, panel.LayerSize())
	assert.Equal(t, o.Rect(), sc.UsableArea(o.ID))

	res, err = sc.Commit(panel.ID, Commit{Buffer: buffer(1000, 30)})
	require.NoError(t, err)
	assert.True(t, res.UsableChanged)
	assert.Equal(t, generaldata.Vector2i{X: 0, Y: 5}, panel.Position)
	assert.Equal(t, generaldata.NewRect(0, 35, 1000, 765), sc.UsableArea(o.ID))

	dock := mapLayer(t, sc, LayerState{
		Level:         LayerBottom,
		Anchor:        AnchorLeft | AnchorTop | AnchorBottom,
		Size:          generaldata.Vector2i{X: 50},
		ExclusiveZone: 50,
	})
	assert.Equal(t, generaldata.Vector2i{X: 50, Y: 765}, dock.LayerSize())
	assert.Equal(t, generaldata.Vector2i{X: 0, Y: 35}, dock.Position)
	assert.Equal(t, generaldata.NewRect(50, 35, 950, 765), sc.UsableArea(o.ID))

	wallpaper := mapLayer(t, sc, LayerState{Level: LayerBackground, Anchor: anchorAll, ExclusiveZone: -1})
	assert.Equal(t, generaldata.Vector2i{X: 1000, Y: 800}, wallpaper.LayerSize(), "-1 ignores reserved space")
	assert.Equal(t, generaldata.Vector2i{}, wallpaper.Position)

	sc.Destroy(panel.ID)
	assert.True(t, sc.ArrangeLayers(o.ID))
	assert.Equal(t, generaldata.NewRect(50, 0, 950, 800), sc.UsableArea(o.ID))
	assert.Equal(t, generaldata.Vector2i{X: 50, Y: 800}, dock.LayerSize())
	assert.False(t, sc.ArrangeLayers(o.ID))
}

func TestCornerAnchoredSurfacesReserveNothing(t *testing.T) {
	sc, outs := newTestScene(t, generaldata.Vector2i{X: 1000, Y: 800})
	o := outs[0]
	note := mapLayer(t, sc, LayerState{
		Level:         LayerOverlay,
		Anchor:        AnchorTop | AnchorRight,
		Size:          generaldata.Vector2i{X: 300, Y: 80},
		ExclusiveZone: 80,
		Margin:        Margins{Top: 10, Right: 10},
	})
	assert.Equal(t, generaldata.Vector2i{X: 690, Y: 10}, note.Position)
	assert.Equal(t, o.Rect(), sc.UsableArea(o.ID))
}

func TestLayerRoleNeedsAnOutput(t *testing.T) {
	sc, _ := newTestScene(t)
	s := sc.CreateSurface(1)
	assert.ErrorIs(t, sc.SetLayerRole(s.ID, 0, LayerState{}), ErrUnknownOutput)
	assert.Equal(t, RoleNone, s.Role)

	sc, outs := newTestScene(t, generaldata.Vector2i{X: 100, Y: 100})
	window := mapToplevel(t, sc, generaldata.Vector2i{}, 10, 10)
	assert.ErrorIs(t, sc.SetLayerRole(window.ID, outs[0].ID, LayerState{}), ErrRoleConflict)
	assert.ErrorIs(t, sc.SetLayerRole(window.ID, 42, LayerState{}), ErrRoleConflict)
	other := sc.CreateSurface(1)
	assert.ErrorIs(t, sc.SetLayerRole(other.ID, 42, LayerState{}), ErrUnknownOutput)
}

func TestOverlayTakesInputOverWindows(t *testing.T) {
	sc, _ := newTestScene(t, generaldata.Vector2i{X: 1000, Y: 800})
	window := mapToplevel(t, sc, generaldata.Vector2i{}, 500, 500)
	launcher := mapLayer(t, sc, LayerState{
		Level:    LayerOverlay,
		Anchor:   AnchorTop | AnchorLeft,
		Size:     generaldata.Vector2i{X: 100, Y: 100},
		Keyboard: KeyboardExclusive,
	})
	mapLayer(t, sc, LayerState{Level: LayerBottom, Anchor: anchorAll})
	assert.True(t, launcher.Layer.WantsFocus())

	hit, _, _, ok := sc.SurfaceAt(50, 50)
	require.True(t, ok)
	assert.Equal(t, launcher.ID, hit.ID)
	hit, _, _, ok = sc.SurfaceAt(300, 300)
	require.True(t, ok)
	assert.Equal(t, window.ID, hit.ID)
	hit, _, _, ok = sc.SurfaceAt(700, 700)
	require.True(t, ok)
	assert.Equal(t, RoleLayer, hit.Role)
}
