package protocol

import (
	"testing"

	generaldata "github.com/BKSalman/buddaraysh/general-data"
	"github.com/BKSalman/buddaraysh/scene"
	"github.com/BKSalman/buddaraysh/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const anchorEdges = uint32(scene.AnchorTop | scene.AnchorLeft | scene.AnchorRight)

type layerIDs struct {
	surface uint32
	layer   uint32
}

// newLayer creates a layer surface and sends its initial commit
func (tc *testClient) newLayer(globals map[string]uint32, output, level uint32, setup func(layer uint32)) (layerIDs, []wire.Message) {
	tc.h.t.Helper()
	ids := layerIDs{surface: tc.id(), layer: tc.id()}
	tc.send(globals[wire.InterfaceCompositor], wire.CompositorCreateSurface, ids.surface)
	tc.send(globals[wire.InterfaceLayerShell], wire.LayerShellGetLayerSurface, ids.layer, ids.surface, output, level, "test")
	if setup != nil {
		setup(ids.layer)
	}
	tc.send(ids.surface, wire.SurfaceCommit)
	return ids, tc.roundtrip()
}

func panelSetup(tc *testClient) func(uint32) {
	return func(layer uint32) {
		tc.send(layer, wire.LayerSurfaceSetSize, uint32(0), uint32(30))
		tc.send(layer, wire.LayerSurfaceSetAnchor, anchorEdges)
		tc.send(layer, wire.LayerSurfaceSetExclusiveZone, int32(30))
	}
}

func TestLayerSurfaceLifecycle(t *testing.T) {
	h := newHarness(t)
	o := h.addOutput(1920, 1080)
	tc := h.connect(false)
	globals := tc.bindAll()
	require.Contains(t, globals, wire.InterfaceLayerShell)

	ids, events := tc.newLayer(globals, 0, uint32(scene.LayerTop), panelSetup(tc))
	sid := tc.sceneID(ids.surface)
	configure, ok := find(events, ids.layer, wire.LayerSurfaceEventConfigure)
	require.True(t, ok, "the initial commit is answered with a configure")
	args := configure.Args()
	serial := args.Uint()
	assert.Equal(t, uint32(1920), args.Uint())
	assert.Equal(t, uint32(30), args.Uint())
	assert.Empty(t, h.policy.usable)

	tc.send(ids.layer, wire.LayerSurfaceAckConfigure, serial)
	buf := tc.shmBuffer(globals[wire.InterfaceShm], 1920, 30, wire.ShmFormatXRGB8888)
	tc.send(ids.surface, wire.SurfaceAttach, buf, int32(0), int32(0))
	tc.send(ids.surface, wire.SurfaceCommit)
	events = tc.roundtrip()
	_, _, failed := protocolError(events)
	require.False(t, failed)
	assert.Equal(t, 0, count(events, ids.layer, wire.LayerSurfaceEventConfigure), "same size, no new configure")
	assert.Equal(t, []scene.SurfaceID{sid}, h.policy.layers)
	assert.Equal(t, []scene.OutputID{o.ID}, h.policy.usable)
	assert.Equal(t, generaldata.NewRect(0, 30, 1920, 1050), h.scene.UsableArea(o.ID))

	ss, ok := h.scene.Surface(sid)
	require.True(t, ok)
	assert.Equal(t, scene.RoleLayer, ss.Role)
	assert.Equal(t, "test", ss.Layer.Namespace)
	assert.Contains(t, stackIDs(h.scene.Stack(o.ID)), sid)

	tc.send(ids.layer, wire.LayerSurfaceDestroy)
	tc.roundtrip()
	assert.Equal(t, []scene.SurfaceID{sid}, h.policy.unlayered)
	assert.Equal(t, []scene.OutputID{o.ID, o.ID}, h.policy.usable)
	assert.Equal(t, o.Rect(), h.scene.UsableArea(o.ID))
	assert.NotContains(t, stackIDs(h.scene.Stack(o.ID)), sid)
}

func stackIDs(surfaces []*scene.Surface) []scene.SurfaceID {
	out := make([]scene.SurfaceID, len(surfaces))
	for i, s := range surfaces {
		out[i] = s.ID
	}
	return out
}

func TestPanelsShareTheOutputEdge(t *testing.T) {
	h := newHarness(t)
	h.addOutput(1000, 800)
	tc := h.connect(false)
	globals := tc.bindAll()

	mapLayer := func(setup func(uint32), w, ht int) layerIDs {
		ids, events := tc.newLayer(globals, 0, uint32(scene.LayerBottom), setup)
		m, ok := find(events, ids.layer, wire.LayerSurfaceEventConfigure)
		require.True(t, ok)
		tc.send(ids.layer, wire.LayerSurfaceAckConfigure, m.Args().Uint())
		buf := tc.shmBuffer(globals[wire.InterfaceShm], w, ht, wire.ShmFormatXRGB8888)
		tc.send(ids.surface, wire.SurfaceAttach, buf, int32(0), int32(0))
		tc.send(ids.surface, wire.SurfaceCommit)
		tc.roundtrip()
		return ids
	}
	mapLayer(panelSetup(tc), 1000, 30)

	ids, events := tc.newLayer(globals, 0, uint32(scene.LayerBottom), func(layer uint32) {
		tc.send(layer, wire.LayerSurfaceSetSize, uint32(50), uint32(0))
		tc.send(layer, wire.LayerSurfaceSetAnchor, uint32(scene.AnchorLeft|scene.AnchorTop|scene.AnchorBottom))
	})
	m, ok := find(events, ids.layer, wire.LayerSurfaceEventConfigure)
	require.True(t, ok)
	args := m.Args()
	args.Uint()
	assert.Equal(t, uint32(50), args.Uint())
	assert.Equal(t, uint32(770), args.Uint(), "the dock fits below the panel")
}

func TestLayerSurfaceProtocolErrors(t *testing.T) {
	h := newHarness(t)
	h.addOutput(1920, 1080)

	expect := func(name string, object func(tc *testClient, ids layerIDs, globals map[string]uint32) uint32, code uint32, run func(tc *testClient, globals map[string]uint32) layerIDs) {
		tc := h.connect(false)
		globals := tc.bindAll()
		ids := run(tc, globals)
		events := tc.roundtrip()
		obj, got, ok := protocolError(events)
		require.True(t, ok, name)
		assert.Equal(t, object(tc, ids, globals), obj, name)
		assert.Equal(t, code, got, name)
		assert.True(t, tc.c.dead, name)
	}
	onLayer := func(_ *testClient, ids layerIDs, _ map[string]uint32) uint32 { return ids.layer }
	onShell := func(_ *testClient, _ layerIDs, globals map[string]uint32) uint32 {
		return globals[wire.InterfaceLayerShell]
	}

	expect("zero width needs both side anchors", onLayer, wire.LayerSurfaceErrorInvalidSize, func(tc *testClient, globals map[string]uint32) layerIDs {
		ids := layerIDs{surface: tc.id(), layer: tc.id()}
		tc.send(globals[wire.InterfaceCompositor], wire.CompositorCreateSurface, ids.surface)
		tc.send(globals[wire.InterfaceLayerShell], wire.LayerShellGetLayerSurface, ids.layer, ids.surface, uint32(0), uint32(scene.LayerTop), "test")
		tc.send(ids.layer, wire.LayerSurfaceSetSize, uint32(0), uint32(30))
		tc.send(ids.layer, wire.LayerSurfaceSetAnchor, uint32(scene.AnchorTop))
		tc.send(ids.surface, wire.SurfaceCommit)
		return ids
	})
	expect("buffer before configure", onLayer, wire.LayerSurfaceErrorInvalidSurfaceState, func(tc *testClient, globals map[string]uint32) layerIDs {
		ids := layerIDs{surface: tc.id(), layer: tc.id()}
		tc.send(globals[wire.InterfaceCompositor], wire.CompositorCreateSurface, ids.surface)
		tc.send(globals[wire.InterfaceLayerShell], wire.LayerShellGetLayerSurface, ids.layer, ids.surface, uint32(0), uint32(scene.LayerTop), "test")
		tc.send(ids.layer, wire.LayerSurfaceSetSize, uint32(100), uint32(100))
		buf := tc.shmBuffer(globals[wire.InterfaceShm], 100, 100, wire.ShmFormatXRGB8888)
		tc.send(ids.surface, wire.SurfaceAttach, buf, int32(0), int32(0))
		tc.send(ids.surface, wire.SurfaceCommit)
		return ids
	})
	expect("unknown layer", onShell, wire.LayerShellErrorInvalidLayer, func(tc *testClient, globals map[string]uint32) layerIDs {
		ids := layerIDs{surface: tc.id(), layer: tc.id()}
		tc.send(globals[wire.InterfaceCompositor], wire.CompositorCreateSurface, ids.surface)
		tc.send(globals[wire.InterfaceLayerShell], wire.LayerShellGetLayerSurface, ids.layer, ids.surface, uint32(0), uint32(7), "test")
		return ids
	})
	expect("toplevel surfaces have a role", onShell, wire.LayerShellErrorRole, func(tc *testClient, globals map[string]uint32) layerIDs {
		top := tc.newToplevel(globals)
		ids := layerIDs{surface: top.surface, layer: tc.id()}
		tc.send(globals[wire.InterfaceLayerShell], wire.LayerShellGetLayerSurface, ids.layer, ids.surface, uint32(0), uint32(scene.LayerTop), "test")
		return ids
	})
	expect("bad anchor", onLayer, wire.LayerSurfaceErrorInvalidAnchor, func(tc *testClient, globals map[string]uint32) layerIDs {
		ids := layerIDs{surface: tc.id(), layer: tc.id()}
		tc.send(globals[wire.InterfaceCompositor], wire.CompositorCreateSurface, ids.surface)
		tc.send(globals[wire.InterfaceLayerShell], wire.LayerShellGetLayerSurface, ids.layer, ids.surface, uint32(0), uint32(scene.LayerTop), "test")
		tc.send(ids.layer, wire.LayerSurfaceSetAnchor, uint32(16))
		return ids
	})
}

func TestLayerSurfaceClosesWithItsOutput(t *testing.T) {
	h := newHarness(t)
	tc := h.connect(false)
	globals := tc.bindAll()
	ids, events := tc.newLayer(globals, 0, uint32(scene.LayerOverlay), func(layer uint32) {
		tc.send(layer, wire.LayerSurfaceSetSize, uint32(100), uint32(100))
	})
	_, closed := find(events, ids.layer, wire.LayerSurfaceEventClosed)
	assert.True(t, closed, "no output to show it on")

	o := h.addOutput(800, 600)
	globals = tc.bindAll()
	output := globals[wire.InterfaceOutput]
	ids, events = tc.newLayer(globals, output, uint32(scene.LayerOverlay), func(layer uint32) {
		tc.send(layer, wire.LayerSurfaceSetSize, uint32(200), uint32(100))
		tc.send(layer, wire.LayerSurfaceSetKeyboardInteractivity, uint32(scene.KeyboardExclusive))
	})
	m, ok := find(events, ids.layer, wire.LayerSurfaceEventConfigure)
	require.True(t, ok)
	tc.send(ids.layer, wire.LayerSurfaceAckConfigure, m.Args().Uint())
	buf := tc.shmBuffer(globals[wire.InterfaceShm], 200, 100, wire.ShmFormatXRGB8888)
	tc.send(ids.surface, wire.SurfaceAttach, buf, int32(0), int32(0))
	tc.send(ids.surface, wire.SurfaceCommit)
	tc.roundtrip()
	sid := tc.sceneID(ids.surface)
	ss, _ := h.scene.Surface(sid)
	require.True(t, ss.Mapped())
	assert.Equal(t, o.ID, ss.Output())
	assert.Equal(t, generaldata.Vector2i{X: 300, Y: 250}, ss.Position)

	h.d.OutputRemoved(o.ID)
	events = tc.roundtrip()
	_, closed = find(events, ids.layer, wire.LayerSurfaceEventClosed)
	assert.True(t, closed)
	assert.Equal(t, []scene.SurfaceID{sid}, h.policy.unlayered)
	assert.False(t, ss.Mapped())

	// Commits after closed are harmless until the client cleans up
	tc.send(ids.surface, wire.SurfaceCommit)
	events = tc.roundtrip()
	_, _, failed := protocolError(events)
	assert.False(t, failed)
}
