package bridge

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	generaldata "github.com/BKSalman/buddaraysh/general-data"
	"github.com/BKSalman/buddaraysh/scene"
	"github.com/BKSalman/buddaraysh/wire"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeX struct {
	events     chan XEvent
	closed     chan struct{}
	info       map[xproto.Window]WindowInfo
	mapped     []xproto.Window
	configured map[xproto.Window]generaldata.Rect
	notified   map[xproto.Window]generaldata.Rect
	raised     []xproto.Window
	focused    xproto.Window
	deleted    map[xproto.Window]bool
	states     map[xproto.Window]bool
	clients    []xproto.Window
	stacking   []xproto.Window
	active     xproto.Window
}

func newFakeX() *fakeX {
	return &fakeX{
		events:     make(chan XEvent),
		closed:     make(chan struct{}),
		info:       make(map[xproto.Window]WindowInfo),
		configured: make(map[xproto.Window]generaldata.Rect),
		notified:   make(map[xproto.Window]generaldata.Rect),
		deleted:    make(map[xproto.Window]bool),
		states:     make(map[xproto.Window]bool),
	}
}

func (x *fakeX) Manage() error { return nil }
func (x *fakeX) Next() (XEvent, error) {
	select {
	case ev := <-x.events:
		return ev, nil
	case <-x.closed:
		return XEvent{}, errXClosed
	}
}
func (x *fakeX) Inspect(win xproto.Window) WindowInfo { return x.info[win] }
func (x *fakeX) Map(win xproto.Window) error {
	x.mapped = append(x.mapped, win)
	return nil
}
func (x *fakeX) Configure(win xproto.Window, g generaldata.Rect) error {
	x.configured[win] = g
	return nil
}
func (x *fakeX) NotifyGeometry(win xproto.Window, g generaldata.Rect) { x.notified[win] = g }
func (x *fakeX) Raise(win xproto.Window)                              { x.raised = append(x.raised, win) }
func (x *fakeX) Focus(win xproto.Window)                              { x.focused = win }
func (x *fakeX) Delete(win xproto.Window, graceful bool)              { x.deleted[win] = graceful }
func (x *fakeX) SetWMState(win xproto.Window, normal bool)            { x.states[win] = normal }
func (x *fakeX) Publish(clients, stacking []xproto.Window, active xproto.Window) {
	x.clients, x.stacking, x.active = clients, stacking, active
}
func (x *fakeX) Close() error {
	select {
	case <-x.closed:
	default:
		close(x.closed)
	}
	return nil
}

type fakeHost struct {
	next         scene.ClientID
	conns        []*wire.Conn
	disconnected []scene.ClientID
	associated   []scene.SurfaceID
	moved        map[scene.SurfaceID]generaldata.Rect
	raised       []scene.SurfaceID
	titles       map[scene.SurfaceID]string
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		next:   40,
		moved:  make(map[scene.SurfaceID]generaldata.Rect),
		titles: make(map[scene.SurfaceID]string),
	}
}

func (h *fakeHost) ConnectXwayland(conn *wire.Conn) scene.ClientID {
	h.next++
	h.conns = append(h.conns, conn)
	return h.next
}
func (h *fakeHost) DisconnectClient(id scene.ClientID) { h.disconnected = append(h.disconnected, id) }
func (h *fakeHost) WindowAssociated(id scene.SurfaceID) {
	h.associated = append(h.associated, id)
}
func (h *fakeHost) WindowMoved(id scene.SurfaceID, g generaldata.Rect) { h.moved[id] = g }
func (h *fakeHost) WindowRaised(id scene.SurfaceID)                    { h.raised = append(h.raised, id) }
func (h *fakeHost) WindowRetitled(id scene.SurfaceID, title, _ string) {
	h.titles[id] = title
}

type fakeProcess struct {
	exit   chan error
	killed bool
}

func (p *fakeProcess) Wait() error { return <-p.exit }
func (p *fakeProcess) Kill() error {
	if !p.killed {
		p.killed = true
		p.exit <- errors.New("killed")
	}
	return nil
}

type harness struct {
	t     *testing.T
	b     *Bridge
	host  *fakeHost
	x     *fakeX
	procs []*fakeProcess
	cmds  []*exec.Cmd
	dir   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{t: t, host: newFakeHost(), x: newFakeX(), dir: dir}
	h.b = New(h.host, Options{
		SocketDir: filepath.Join(dir, ".X11-unix"),
		LockDir:   dir,
		Spawn: func(cmd *exec.Cmd) (Process, error) {
			p := &fakeProcess{exit: make(chan error, 1)}
			h.procs = append(h.procs, p)
			h.cmds = append(h.cmds, cmd)
			return p, nil
		},
		DialWM: func(f *os.File) (XConn, error) {
			f.Close()
			return h.x, nil
		},
	})
	t.Cleanup(func() {
		h.b.Close()
		for _, c := range h.host.conns {
			c.Close()
		}
	})
	return h
}

// next runs the next bridge event through Handle and returns it
func (h *harness) next() Event {
	h.t.Helper()
	select {
	case ev := <-h.b.Events():
		h.b.Handle(ev)
		return ev
	case <-time.After(5 * time.Second):
		h.t.Fatal("no bridge event")
		return Event{}
	}
}

// start brings the bridge to a running window manager with one X client connected
func (h *harness) start() {
	h.t.Helper()
	require.NoError(h.t, h.b.Listen())
	conn, err := net.Dial("unix", filepath.Join(h.dir, ".X11-unix", "X0"))
	require.NoError(h.t, err)
	h.t.Cleanup(func() { conn.Close() })
	assert.Equal(h.t, evDisplayReady, h.next().kind)
	require.True(h.t, h.b.Running())
	assert.Equal(h.t, evWMConnected, h.next().kind)
	require.NotNil(h.t, h.b.wm)
}

func (h *harness) x11(ev XEvent) {
	h.t.Helper()
	h.x.events <- ev
	got := h.next()
	require.Equal(h.t, evX, got.kind)
}

func (h *harness) mapWindow(win xproto.Window, g generaldata.Rect) {
	h.t.Helper()
	h.x11(XEvent{Kind: XCreate, Window: win, Geometry: g})
	h.x11(XEvent{Kind: XMapRequest, Window: win})
	h.x11(XEvent{Kind: XMap, Window: win})
}

func TestXwaylandStartsOnFirstConnection(t *testing.T) {
	h := newHarness(t)
	h.start()

	assert.Equal(t, ":0", h.b.Display())
	assert.Equal(t, ":0", os.Getenv("DISPLAY"))
	require.Len(t, h.cmds, 1)
	args := h.cmds[0].Args
	assert.Equal(t, []string{"Xwayland", ":0", "-rootless", "-terminate", "-listenfd", "3", "-wm", "4"}, args)
	assert.Contains(t, h.cmds[0].Env, "WAYLAND_SOCKET=5")
	assert.Len(t, h.cmds[0].ExtraFiles, 3)
	assert.Equal(t, scene.ClientID(41), h.b.Client())
	require.Len(t, h.host.conns, 1)

	lock, err := os.ReadFile(filepath.Join(h.dir, ".X0-lock"))
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%10d\n", os.Getpid()), string(lock))
}

func TestSecondBridgeTakesNextDisplay(t *testing.T) {
	dir := t.TempDir()
	opts := Options{SocketDir: filepath.Join(dir, ".X11-unix"), LockDir: dir}
	a := New(newFakeHost(), opts)
	require.NoError(t, a.Listen())
	t.Cleanup(func() { a.Close() })
	b := New(newFakeHost(), opts)
	require.NoError(t, b.Listen())
	t.Cleanup(func() { b.Close() })
	assert.Equal(t, ":0", a.Display())
	assert.Equal(t, ":1", b.Display())
}

func TestStaleLockIsTakenOver(t *testing.T) {
	dir := t.TempDir()
	// No process has this pid on any sane system
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".X0-lock"), []byte(fmt.Sprintf("%10d\n", 1<<22+7)), 0o444))
	path, err := lockDisplay(dir, 0)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%10d\n", os.Getpid()), string(data))

	// A lock held by a live process is respected
	_, err = lockDisplay(dir, 0)
	assert.ErrorIs(t, err, errDisplayInUse)
}

func TestWindowShowsOnceBothHalvesArrive(t *testing.T) {
	for _, serialFirst := range []bool{true, false} {
		t.Run(fmt.Sprintf("wayland serial first=%v", serialFirst), func(t *testing.T) {
			h := newHarness(t)
			h.start()
			h.x.info[10] = WindowInfo{Title: "xterm", Class: "XTerm", Deletable: true}
			h.mapWindow(10, generaldata.NewRect(5, 5, 300, 200))
			assert.Equal(t, []xproto.Window{10}, h.x.mapped)
			assert.True(t, h.x.states[10])
			assert.Equal(t, []xproto.Window{10}, h.x.clients)

			if serialFirst {
				h.b.SurfaceSerial(7, h.b.Client(), 99)
				assert.Empty(t, h.host.associated)
				h.x11(XEvent{Kind: XSurfaceSerial, Window: 10, Serial: 99})
			} else {
				h.x11(XEvent{Kind: XSurfaceSerial, Window: 10, Serial: 99})
				assert.Empty(t, h.host.associated)
				h.b.SurfaceSerial(7, h.b.Client(), 99)
			}
			assert.Equal(t, []scene.SurfaceID{7}, h.host.associated)
			w, ok := h.b.Window(7)
			require.True(t, ok)
			assert.Equal(t, xproto.Window(10), w.ID)
			assert.Equal(t, "xterm", w.Info.Title)
		})
	}
}

func TestSerialFromNativeClientIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.start()
	h.mapWindow(10, generaldata.NewRect(0, 0, 100, 100))
	h.x11(XEvent{Kind: XSurfaceSerial, Window: 10, Serial: 5})
	h.b.SurfaceSerial(3, h.b.Client()+1, 5)
	assert.Empty(t, h.host.associated)
	_, ok := h.b.Window(3)
	assert.False(t, ok)
}

func TestConfigureRequestKeepsLayoutPosition(t *testing.T) {
	h := newHarness(t)
	h.start()
	mask := uint16(xproto.ConfigWindowX | xproto.ConfigWindowY | xproto.ConfigWindowWidth | xproto.ConfigWindowHeight)

	// Before the window shows, everything is honoured
	h.x11(XEvent{Kind: XCreate, Window: 10, Geometry: generaldata.NewRect(0, 0, 10, 10)})
	h.x11(XEvent{Kind: XConfigureRequest, Window: 10, Geometry: generaldata.NewRect(40, 50, 300, 200), Mask: mask})
	assert.Equal(t, generaldata.NewRect(40, 50, 300, 200), h.x.configured[10])

	h.x11(XEvent{Kind: XMapRequest, Window: 10})
	h.x11(XEvent{Kind: XMap, Window: 10})
	h.x11(XEvent{Kind: XSurfaceSerial, Window: 10, Serial: 1})
	h.b.SurfaceSerial(7, h.b.Client(), 1)
	require.NoError(t, h.b.Configure(7, generaldata.NewRect(100, 100, 300, 200)))

	h.x11(XEvent{Kind: XConfigureRequest, Window: 10, Geometry: generaldata.NewRect(0, 0, 640, 480), Mask: mask})
	assert.Equal(t, generaldata.NewRect(100, 100, 640, 480), h.x.configured[10])
	assert.Equal(t, generaldata.NewRect(100, 100, 640, 480), h.x.notified[10])
}

func TestOverrideRedirectMovesFollowTheWindow(t *testing.T) {
	h := newHarness(t)
	h.start()
	h.x11(XEvent{Kind: XCreate, Window: 20, OverrideRedirect: true, Geometry: generaldata.NewRect(10, 10, 50, 80)})
	h.x11(XEvent{Kind: XMap, Window: 20, OverrideRedirect: true})
	h.x11(XEvent{Kind: XSurfaceSerial, Window: 20, Serial: 3})
	h.b.SurfaceSerial(9, h.b.Client(), 3)

	h.x11(XEvent{Kind: XConfigureNotify, Window: 20, OverrideRedirect: true, Geometry: generaldata.NewRect(30, 40, 50, 80)})
	assert.Equal(t, generaldata.NewRect(30, 40, 50, 80), h.host.moved[9])
	// Menus never show up in the client lists
	assert.Empty(t, h.x.clients)

	require.NoError(t, h.b.Activate(9))
	assert.Equal(t, []xproto.Window{20}, h.x.raised)
	assert.Zero(t, h.x.focused)
}

func TestActivateAndClose(t *testing.T) {
	h := newHarness(t)
	h.start()
	h.x.info[10] = WindowInfo{Deletable: true}
	h.mapWindow(10, generaldata.NewRect(0, 0, 100, 100))
	h.mapWindow(11, generaldata.NewRect(0, 0, 100, 100))
	h.x11(XEvent{Kind: XSurfaceSerial, Window: 10, Serial: 1})
	h.x11(XEvent{Kind: XSurfaceSerial, Window: 11, Serial: 2})
	h.b.SurfaceSerial(7, h.b.Client(), 1)
	h.b.SurfaceSerial(8, h.b.Client(), 2)

	require.NoError(t, h.b.Activate(7))
	assert.Equal(t, xproto.Window(10), h.x.focused)
	assert.Equal(t, xproto.Window(10), h.x.active)
	assert.Equal(t, []xproto.Window{11, 10}, h.x.stacking)

	require.NoError(t, h.b.CloseWindow(7))
	require.NoError(t, h.b.CloseWindow(8))
	assert.Equal(t, map[xproto.Window]bool{10: true, 11: false}, h.x.deleted)

	h.x11(XEvent{Kind: XUnmap, Window: 10})
	assert.False(t, h.x.states[10])
	assert.Zero(t, h.x.active)
	h.x11(XEvent{Kind: XDestroy, Window: 10})
	assert.Equal(t, []xproto.Window{11}, h.x.clients)
	_, ok := h.b.Window(7)
	assert.False(t, ok)
	assert.ErrorIs(t, h.b.Activate(7), ErrUnknownWindow)
}

func TestStackingRequestRaisesSurface(t *testing.T) {
	h := newHarness(t)
	h.start()
	h.mapWindow(10, generaldata.NewRect(0, 0, 100, 100))
	h.x11(XEvent{Kind: XSurfaceSerial, Window: 10, Serial: 1})
	h.b.SurfaceSerial(7, h.b.Client(), 1)
	h.x11(XEvent{Kind: XConfigureRequest, Window: 10, StackAbove: true})
	assert.Equal(t, []scene.SurfaceID{7}, h.host.raised)
}

func TestTitleChangesReachTheHost(t *testing.T) {
	h := newHarness(t)
	h.start()
	h.mapWindow(10, generaldata.NewRect(0, 0, 100, 100))
	h.x11(XEvent{Kind: XSurfaceSerial, Window: 10, Serial: 1})
	h.b.SurfaceSerial(7, h.b.Client(), 1)
	h.x.info[10] = WindowInfo{Title: "renamed"}
	h.x11(XEvent{Kind: XProperty, Window: 10})
	assert.Equal(t, "renamed", h.host.titles[7])
}

func TestXwaylandExitTearsDownAndRearms(t *testing.T) {
	h := newHarness(t)
	h.start()
	h.mapWindow(10, generaldata.NewRect(0, 0, 100, 100))
	h.x11(XEvent{Kind: XSurfaceSerial, Window: 10, Serial: 1})
	h.b.SurfaceSerial(7, h.b.Client(), 1)
	client := h.b.Client()

	h.procs[0].exit <- errors.New("exit status 1")
	// The closed X connection may report first
	for {
		ev := h.next()
		if ev.kind == evExited {
			break
		}
	}
	assert.False(t, h.b.Running())
	assert.Equal(t, []scene.ClientID{client}, h.host.disconnected)
	assert.Zero(t, h.b.Client())
	_, ok := h.b.Window(7)
	assert.False(t, ok)
	assert.ErrorIs(t, h.b.Configure(7, generaldata.NewRect(0, 0, 1, 1)), ErrNotRunning)

	// The next X client starts a fresh Xwayland
	h.x = newFakeX()
	conn, err := net.Dial("unix", filepath.Join(h.dir, ".X11-unix", "X0"))
	require.NoError(t, err)
	defer conn.Close()
	for {
		if h.next().kind == evDisplayReady {
			break
		}
	}
	assert.True(t, h.b.Running())
	assert.Len(t, h.procs, 2)
	assert.NotEqual(t, client, h.b.Client())
}

func TestCloseReleasesDisplay(t *testing.T) {
	h := newHarness(t)
	h.start()
	require.NoError(t, h.b.Close())
	assert.True(t, h.procs[0].killed)
	_, err := os.Stat(filepath.Join(h.dir, ".X0-lock"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(h.dir, ".X11-unix", "X0"))
	assert.True(t, os.IsNotExist(err))
}
