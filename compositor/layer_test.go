package compositor

import (
	"testing"

	generaldata "github.com/BKSalman/buddaraysh/general-data"
	"github.com/BKSalman/buddaraysh/scene"
	"github.com/BKSalman/buddaraysh/seat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openLayer goes through what the protocol layer does for a new layer surface
func (ts *testServer) openLayer(state scene.LayerState) *scene.Surface {
	ts.t.Helper()
	s := ts.scene.CreateSurface(2)
	require.NoError(ts.t, ts.scene.SetLayerRole(s.ID, 0, state))
	_, err := ts.scene.Commit(s.ID, scene.Commit{})
	require.NoError(ts.t, err)
	size := s.LayerSize()
	res, err := ts.scene.Commit(s.ID, scene.Commit{Buffer: pixels(size.X, size.Y)})
	require.NoError(ts.t, err)
	require.True(ts.t, res.Mapped)
	ts.LayerMapped(s.ID)
	if res.UsableChanged {
		ts.UsableAreaChanged(s.Output())
	}
	return s
}

func (ts *testServer) closeLayer(s *scene.Surface) {
	ts.t.Helper()
	ts.LayerUnmapped(s.ID)
	res, err := ts.scene.Commit(s.ID, scene.Commit{RemoveBuffer: true})
	require.NoError(ts.t, err)
	if res.UsableChanged {
		ts.UsableAreaChanged(s.Output())
	}
}

func TestPanelShrinksTheTilingArea(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.addOutput(1, 1920, 1080)
	first := ts.openWindow(0, 0)

	panel := ts.openLayer(scene.LayerState{
		Level:         scene.LayerTop,
		Anchor:        scene.AnchorTop | scene.AnchorLeft | scene.AnchorRight,
		Size:          generaldata.Vector2i{Y: 30},
		ExclusiveZone: 30,
	})
	assert.Equal(t, generaldata.Vector2i{X: 1920, Y: 1050}, ts.windows[first.ID].state.Size)
	assert.Equal(t, generaldata.Vector2i{X: 0, Y: 30}, ts.rect(first.ID).Origin())
	assert.Equal(t, first.ID, ts.seat.KeyboardFocus(), "a panel without keyboard interactivity leaves focus alone")

	second := ts.openWindow(0, 0)
	assert.Equal(t, generaldata.NewRect(960, 30, 960, 1050), ts.rect(second.ID))

	ts.closeLayer(panel)
	assert.Equal(t, generaldata.Vector2i{X: 960, Y: 0}, ts.rect(second.ID).Origin())
	assert.Equal(t, generaldata.Vector2i{X: 960, Y: 1080}, ts.windows[second.ID].state.Size)
	assert.Equal(t, generaldata.Vector2i{X: 960, Y: 1080}, ts.windows[first.ID].state.Size)
}

func TestExclusiveOverlayKeepsTheKeyboard(t *testing.T) {
	ts := newTestServer(t, floating)
	ts.addOutput(1, 1920, 1080)
	first := ts.openWindow(200, 100)
	require.Equal(t, first.ID, ts.seat.KeyboardFocus())

	launcher := ts.openLayer(scene.LayerState{
		Level:    scene.LayerOverlay,
		Size:     generaldata.Vector2i{X: 400, Y: 300},
		Keyboard: scene.KeyboardExclusive,
	})
	assert.Equal(t, launcher.ID, ts.seat.KeyboardFocus())
	assert.False(t, ts.windows[first.ID].state.Activated)

	second := ts.openWindow(200, 100)
	assert.Equal(t, launcher.ID, ts.seat.KeyboardFocus(), "new windows do not steal from an exclusive overlay")
	ts.focusNext()
	assert.Equal(t, launcher.ID, ts.seat.KeyboardFocus())

	ts.closeLayer(launcher)
	assert.Equal(t, second.ID, ts.seat.KeyboardFocus())
	assert.True(t, ts.windows[second.ID].state.Activated)
}

func TestBottomLayersDoNotTakeFocusUntilClicked(t *testing.T) {
	ts := newTestServer(t, floating)
	ts.addOutput(1, 1920, 1080)
	desktop := ts.openLayer(scene.LayerState{
		Level:    scene.LayerBottom,
		Anchor:   scene.AnchorTop | scene.AnchorBottom | scene.AnchorLeft | scene.AnchorRight,
		Keyboard: scene.KeyboardOnDemand,
	})
	assert.Equal(t, scene.SurfaceID(0), ts.seat.KeyboardFocus())

	ts.seat.PointerWarp(now(), 100, 100)
	ts.seat.PointerButton(now(), seat.ButtonLeft, true)
	ts.seat.PointerButton(now(), seat.ButtonLeft, false)
	assert.Equal(t, desktop.ID, ts.seat.KeyboardFocus())

	window := ts.openWindow(200, 100)
	assert.Equal(t, window.ID, ts.seat.KeyboardFocus(), "on-demand focus is given up to windows")
}
