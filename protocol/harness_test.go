package protocol

import (
	"bytes"
	"testing"
	"time"

	generaldata "github.com/BKSalman/buddaraysh/general-data"
	"github.com/BKSalman/buddaraysh/render"
	"github.com/BKSalman/buddaraysh/scene"
	"github.com/BKSalman/buddaraysh/seat"
	"github.com/BKSalman/buddaraysh/wire"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// framePresenter keeps the last frame shown on each output
type framePresenter struct {
	frames map[uint32]render.Frame
}

func (p *framePresenter) Present(output uint32, frame render.Frame) error {
	p.frames[output] = frame
	return nil
}

type fakePolicy struct {
	initial   ToplevelState
	created   []scene.SurfaceID
	mapped    []scene.SurfaceID
	unmapped  []scene.SurfaceID
	destroyed []scene.SurfaceID
	moves     []scene.SurfaceID
	resizes   map[scene.SurfaceID]uint32
	serials   map[scene.SurfaceID]uint64
	cursor    scene.SurfaceID
	hotspot   generaldata.Vector2i
	layers    []scene.SurfaceID
	unlayered []scene.SurfaceID
	usable    []scene.OutputID
}

func (p *fakePolicy) ToplevelCreated(id scene.SurfaceID) ToplevelState {
	p.created = append(p.created, id)
	return p.initial
}
func (p *fakePolicy) ToplevelMapped(id scene.SurfaceID)   { p.mapped = append(p.mapped, id) }
func (p *fakePolicy) ToplevelUnmapped(id scene.SurfaceID) { p.unmapped = append(p.unmapped, id) }
func (p *fakePolicy) SurfaceDestroyed(id scene.SurfaceID) { p.destroyed = append(p.destroyed, id) }
func (p *fakePolicy) RequestMove(id scene.SurfaceID)      { p.moves = append(p.moves, id) }
func (p *fakePolicy) RequestResize(id scene.SurfaceID, edges uint32) {
	p.resizes[id] = edges
}
func (p *fakePolicy) SurfaceSerial(id scene.SurfaceID, serial uint64) { p.serials[id] = serial }
func (p *fakePolicy) SetCursor(id scene.SurfaceID, hotspot generaldata.Vector2i) {
	p.cursor, p.hotspot = id, hotspot
}
func (p *fakePolicy) LayerMapped(id scene.SurfaceID)          { p.layers = append(p.layers, id) }
func (p *fakePolicy) LayerUnmapped(id scene.SurfaceID)        { p.unlayered = append(p.unlayered, id) }
func (p *fakePolicy) UsableAreaChanged(output scene.OutputID) { p.usable = append(p.usable, output) }

// fakeSeat lets tests place focus without routing real input
type fakeSeat struct {
	pointer  scene.SurfaceID
	keyboard scene.SurfaceID
	mods     seat.Modifiers
}

func (s *fakeSeat) PointerFocus() scene.SurfaceID  { return s.pointer }
func (s *fakeSeat) KeyboardFocus() scene.SurfaceID { return s.keyboard }
func (s *fakeSeat) Modifiers() seat.Modifiers      { return s.mods }
func (s *fakeSeat) SurfaceDestroyed(id scene.SurfaceID) {
	if s.pointer == id {
		s.pointer = 0
	}
	if s.keyboard == id {
		s.keyboard = 0
	}
}

type harness struct {
	t         *testing.T
	d         *Dispatcher
	scene     *scene.Scene
	renderer  *render.Renderer
	presenter *framePresenter
	policy    *fakePolicy
	seat      *fakeSeat
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	presenter := &framePresenter{frames: make(map[uint32]render.Frame)}
	renderer := render.NewRenderer(presenter)
	sc := scene.New(renderer, 4)
	policy := &fakePolicy{
		initial: ToplevelState{Size: generaldata.Vector2i{X: 640, Y: 480}, Activated: true},
		resizes: make(map[scene.SurfaceID]uint32),
		serials: make(map[scene.SurfaceID]uint64),
	}
	d, err := New(sc, policy, Options{RuntimeDir: t.TempDir()})
	require.NoError(t, err)
	fs := &fakeSeat{}
	d.SetSeat(fs)
	t.Cleanup(func() { d.Close() })
	return &harness{t: t, d: d, scene: sc, renderer: renderer, presenter: presenter, policy: policy, seat: fs}
}

// render runs one frame of an output the way the compositor loop does and returns it
func (h *harness) render(o *scene.Output) render.Frame {
	h.t.Helper()
	token, layers, err := h.scene.BeginFrame(o.ID)
	require.NoError(h.t, err)
	h.renderer.Composite(uint32(o.ID), o.PixelSize(), token.Damage, layers)
	pending, err := h.renderer.Present(uint32(o.ID), token.Damage)
	require.NoError(h.t, err)
	token.Seq = pending.Seq
	for _, fire := range h.scene.FinishFrame(o.ID, pending.Seq) {
		fire(0)
	}
	return h.presenter.frames[uint32(o.ID)]
}

func (h *harness) addOutput(w, ht int) *scene.Output {
	h.t.Helper()
	o := h.scene.AddOutput(scene.OutputInfo{
		Name: "virtual-1",
		Make: "buddaraysh",
		Mode: scene.Mode{Width: w, Height: ht, Refresh: 60000, Preferred: true},
	})
	require.NoError(h.t, h.scene.EnableOutput(o.ID))
	h.d.OutputAdded(o)
	return o
}

// testClient speaks the wire format from the other end of a socketpair
type testClient struct {
	h      *harness
	c      *Client
	conn   *wire.Conn
	nextID uint32
	msgs   chan wire.Message
	closed chan struct{}
	// Every event received so far, in order
	events  []wire.Message
	globals map[string]uint32
}

func (h *harness) connect(privileged bool) *testClient {
	h.t.Helper()
	server, client, err := wire.Pair()
	require.NoError(h.t, err)
	sconn, err := wire.FileConn(server)
	require.NoError(h.t, err)
	server.Close()
	cconn, err := wire.FileConn(client)
	require.NoError(h.t, err)
	client.Close()

	tc := &testClient{
		h:       h,
		conn:    cconn,
		nextID:  2,
		msgs:    make(chan wire.Message, 1024),
		closed:  make(chan struct{}),
		globals: make(map[string]uint32),
	}
	tc.c = h.d.Connect(sconn, privileged)
	go tc.read()
	h.t.Cleanup(func() { cconn.Close() })
	return tc
}

func (tc *testClient) read() {
	defer close(tc.closed)
	var dec wire.Decoder
	defer dec.Close()
	for {
		data, fds, err := tc.conn.ReadBatch()
		if err != nil {
			return
		}
		dec.Feed(data, fds)
		for {
			msg, ok, err := dec.Next()
			if err != nil || !ok {
				break
			}
			tc.msgs <- msg
		}
	}
}

func (tc *testClient) id() uint32 {
	id := tc.nextID
	tc.nextID++
	return id
}

func (tc *testClient) send(object uint32, opcode uint16, args ...any) {
	tc.h.t.Helper()
	require.NoError(tc.h.t, tc.conn.Send(object, opcode, args...))
}

// roundtrip runs the loop until the server answered everything sent so far
func (tc *testClient) roundtrip() []wire.Message {
	tc.h.t.Helper()
	cb := tc.id()
	tc.send(wire.DisplayID, wire.DisplaySync, cb)
	start := len(tc.events)
	timeout := time.After(5 * time.Second)
	for {
		select {
		case b := <-tc.h.d.Batches():
			tc.h.d.Handle(b)
		case msg := <-tc.msgs:
			tc.events = append(tc.events, msg)
			if msg.Sender == cb && msg.Opcode == wire.CallbackEventDone {
				return tc.events[start:]
			}
		case <-tc.closed:
			// Drain what arrived before the hangup
			for {
				select {
				case msg := <-tc.msgs:
					tc.events = append(tc.events, msg)
				default:
					return tc.events[start:]
				}
			}
		case <-timeout:
			tc.h.t.Fatal("roundtrip timed out")
		}
	}
}

func find(events []wire.Message, object uint32, opcode uint16) (wire.Message, bool) {
	for _, m := range events {
		if m.Sender == object && m.Opcode == opcode {
			return m, true
		}
	}
	return wire.Message{}, false
}

func count(events []wire.Message, object uint32, opcode uint16) int {
	n := 0
	for _, m := range events {
		if m.Sender == object && m.Opcode == opcode {
			n++
		}
	}
	return n
}

// deletedIDs lists the ids released with wl_display.delete_id
func deletedIDs(events []wire.Message) []uint32 {
	var ids []uint32
	for _, m := range events {
		if m.Sender == wire.DisplayID && m.Opcode == wire.DisplayEventDeleteID {
			ids = append(ids, m.Args().Uint())
		}
	}
	return ids
}

// protocolError returns the wl_display.error the client received, if any
func protocolError(events []wire.Message) (object, code uint32, ok bool) {
	m, ok := find(events, wire.DisplayID, wire.DisplayEventError)
	if !ok {
		return 0, 0, false
	}
	args := m.Args()
	return args.Object(), args.Uint(), true
}

// bindAll fetches the registry and binds every advertised global at its version
func (tc *testClient) bindAll() map[string]uint32 {
	tc.h.t.Helper()
	reg := tc.id()
	tc.send(wire.DisplayID, wire.DisplayGetRegistry, reg)
	events := tc.roundtrip()
	bound := make(map[string]uint32)
	for _, m := range events {
		if m.Sender != reg || m.Opcode != wire.RegistryEventGlobal {
			continue
		}
		args := m.Args()
		name, iface, version := args.Uint(), args.String(), args.Uint()
		tc.globals[iface] = name
		if _, ok := bound[iface]; ok {
			continue
		}
		id := tc.id()
		tc.send(reg, wire.RegistryBind, name, iface, version, id)
		bound[iface] = id
	}
	tc.roundtrip()
	return bound
}

// shmBuffer creates a memfd backed pool with one buffer of the given size and format
func (tc *testClient) shmBuffer(shm uint32, w, h int, format uint32) uint32 {
	return tc.filledBuffer(shm, w, h, format, nil)
}

// filledBuffer is shmBuffer with every pixel set to the given bytes
func (tc *testClient) filledBuffer(shm uint32, w, h int, format uint32, pixel []byte) uint32 {
	tc.h.t.Helper()
	size := w * h * 4
	fd, err := unix.MemfdCreate("test-pool", unix.MFD_CLOEXEC)
	require.NoError(tc.h.t, err)
	defer unix.Close(fd)
	require.NoError(tc.h.t, unix.Ftruncate(fd, int64(size)))
	if pixel != nil {
		_, err = unix.Pwrite(fd, bytes.Repeat(pixel, w*h), 0)
		require.NoError(tc.h.t, err)
	}
	pool := tc.id()
	tc.send(shm, wire.ShmCreatePool, pool, wire.Fd(fd), int32(size))
	buf := tc.id()
	tc.send(pool, wire.ShmPoolCreateBuffer, buf, int32(0), int32(w), int32(h), int32(w*4), format)
	tc.send(pool, wire.ShmPoolDestroy)
	return buf
}

type toplevelIDs struct {
	surface  uint32
	xdg      uint32
	toplevel uint32
}

// newToplevel creates a toplevel and completes the initial configure handshake
func (tc *testClient) newToplevel(globals map[string]uint32) toplevelIDs {
	tc.h.t.Helper()
	ids := toplevelIDs{surface: tc.id(), xdg: tc.id(), toplevel: tc.id()}
	tc.send(globals[wire.InterfaceCompositor], wire.CompositorCreateSurface, ids.surface)
	tc.send(globals[wire.InterfaceWmBase], wire.WmBaseGetXdgSurface, ids.xdg, ids.surface)
	tc.send(ids.xdg, wire.XdgSurfaceGetToplevel, ids.toplevel)
	tc.send(ids.surface, wire.SurfaceCommit)
	events := tc.roundtrip()
	m, ok := find(events, ids.xdg, wire.XdgSurfaceEventConfigure)
	require.True(tc.h.t, ok, "no initial configure")
	tc.send(ids.xdg, wire.XdgSurfaceAckConfigure, m.Args().Uint())
	return ids
}

// sceneID returns the scene surface behind a client's wl_surface id
func (tc *testClient) sceneID(id uint32) scene.SurfaceID {
	tc.h.t.Helper()
	r, ok := tc.c.objects[id]
	require.True(tc.h.t, ok)
	return r.data.(*surface).sid
}
