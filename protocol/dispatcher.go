// Package protocol is the Wayland side of the compositor: it accepts clients, keeps their
// object maps and translates requests into scene operations and seat state into events.
// Everything except socket I/O runs on the compositor loop through Handle.
package protocol

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"slices"
	"sync"

	generaldata "github.com/BKSalman/buddaraysh/general-data"
	"github.com/BKSalman/buddaraysh/scene"
	"github.com/BKSalman/buddaraysh/seat"
	"github.com/BKSalman/buddaraysh/wire"
	"github.com/adrg/xdg"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	// Queued outgoing messages per client before it counts as unresponsive
	DefaultQueueLength = 4096
	maxDisplayNumber   = 32

	// Ids at or above this are allocated by the server
	serverIDBase = 0xff000000
)

var (
	ErrNoSocket       = errors.New("no free wayland socket name")
	ErrClientTooSlow  = errors.New("client outgoing queue overflowed")
	ErrUnknownSurface = errors.New("surface has no protocol object")
)

// ToplevelState is what the window manager wants a toplevel to look like
type ToplevelState struct {
	// Zero lets the client pick
	Size       generaldata.Vector2i
	Activated  bool
	Maximized  bool
	Fullscreen bool
	Resizing   bool
}

// Policy receives the window management relevant requests. Calls happen on the loop
type Policy interface {
	// The first commit of a toplevel, the result goes into its initial configure
	ToplevelCreated(surface scene.SurfaceID) ToplevelState
	ToplevelMapped(surface scene.SurfaceID)
	ToplevelUnmapped(surface scene.SurfaceID)
	SurfaceDestroyed(surface scene.SurfaceID)
	RequestMove(surface scene.SurfaceID)
	RequestResize(surface scene.SurfaceID, edges uint32)
	// A privileged client tied surface to the legacy window carrying serial
	SurfaceSerial(surface scene.SurfaceID, serial uint64)
	// The client wants its pointer image changed. Zero surface hides the cursor
	SetCursor(surface scene.SurfaceID, hotspot generaldata.Vector2i)
	LayerMapped(surface scene.SurfaceID)
	LayerUnmapped(surface scene.SurfaceID)
	// Exclusive zones changed the part of the output windows may use
	UsableAreaChanged(output scene.OutputID)
}

// SeatState is the read side of the input router plus its destroy hook
type SeatState interface {
	PointerFocus() scene.SurfaceID
	KeyboardFocus() scene.SurfaceID
	Modifiers() seat.Modifiers
	SurfaceDestroyed(id scene.SurfaceID)
}

type Options struct {
	// Socket name inside the runtime directory. Empty picks the first free wayland-N
	SocketName  string
	RuntimeDir  string
	QueueLength int
	// Keymap handed to keyboards, DefaultKeymap when empty
	Keymap string
}

// Batch is one unit of client input for the loop: a new connection, a chunk of bytes or a disconnect
type Batch struct {
	client *Client
	conn   *wire.Conn
	data   []byte
	fds    []int
	err    error
}

type global struct {
	name       uint32
	iface      string
	version    uint32
	privileged bool
	output     scene.OutputID
	bind       func(c *Client, id, version uint32) error
}

type Dispatcher struct {
	opts   Options
	scene  *scene.Scene
	policy Policy
	seat   SeatState

	batches chan Batch
	done    chan struct{}
	wg      sync.WaitGroup

	listener *net.UnixListener
	lockFile *os.File
	path     string

	clients    map[scene.ClientID]*Client
	nextClient scene.ClientID
	globals    []*global
	nextGlobal uint32
	serial     uint32
	// Protocol object of every surface, for addressing events
	surfaces map[scene.SurfaceID]*surface
	keymap   *keymap
}

func New(sc *scene.Scene, policy Policy, opts Options) (*Dispatcher, error) {
	if opts.QueueLength <= 0 {
		opts.QueueLength = DefaultQueueLength
	}
	if opts.RuntimeDir == "" {
		opts.RuntimeDir = xdg.RuntimeDir
	}
	if opts.Keymap == "" {
		opts.Keymap = DefaultKeymap
	}
	km, err := newKeymap(opts.Keymap)
	if err != nil {
		return nil, err
	}
	d := &Dispatcher{
		opts:     opts,
		scene:    sc,
		policy:   policy,
		batches:  make(chan Batch),
		done:     make(chan struct{}),
		clients:  make(map[scene.ClientID]*Client),
		surfaces: make(map[scene.SurfaceID]*surface),
		keymap:   km,
	}
	d.addGlobal(&global{iface: wire.InterfaceCompositor, version: 5, bind: bindCompositor})
	d.addGlobal(&global{iface: wire.InterfaceShm, version: 1, bind: bindShm})
	d.addGlobal(&global{iface: wire.InterfaceSeat, version: 7, bind: bindSeat})
	d.addGlobal(&global{iface: wire.InterfaceWmBase, version: 3, bind: bindWmBase})
	d.addGlobal(&global{iface: wire.InterfaceLayerShell, version: layerShellVersion, bind: bindLayerShell})
	d.addGlobal(&global{iface: wire.InterfaceXwaylandShell, version: 1, privileged: true, bind: bindXwaylandShell})
	return d, nil
}

// SetSeat connects the input router, which itself needs the dispatcher as its sink
func (d *Dispatcher) SetSeat(s SeatState) {
	d.seat = s
}

func (d *Dispatcher) nextSerial() uint32 {
	d.serial++
	return d.serial
}

// Listen binds the client socket, guarded by a lock file like every other compositor does
func (d *Dispatcher) Listen() error {
	if d.opts.RuntimeDir == "" {
		return fmt.Errorf("%w: XDG_RUNTIME_DIR is not set", ErrNoSocket)
	}
	names := []string{d.opts.SocketName}
	if d.opts.SocketName == "" {
		names = names[:0]
		for i := range maxDisplayNumber {
			names = append(names, fmt.Sprintf("wayland-%d", i))
		}
	}
	var errs []error
	for _, name := range names {
		err := d.listenOn(name)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	return fmt.Errorf("%w: %w", ErrNoSocket, errors.Join(errs...))
}

func (d *Dispatcher) listenOn(name string) error {
	path := filepath.Join(d.opts.RuntimeDir, name)
	lock, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR|unix.O_CLOEXEC, 0o660)
	if err != nil {
		return err
	}
	if err := unix.Flock(int(lock.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		lock.Close()
		return fmt.Errorf("%s is in use", name)
	}
	// The lock is ours, a socket left behind is stale
	_ = os.Remove(path)
	l, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		lock.Close()
		return err
	}
	l.SetUnlinkOnClose(true)
	d.listener, d.lockFile, d.path = l, lock, path
	logrus.WithField("socket", path).Infoln("Listening for clients")
	return nil
}

// SocketName is what clients put into WAYLAND_DISPLAY
func (d *Dispatcher) SocketName() string {
	return filepath.Base(d.path)
}

// Serve accepts clients until ctx ends or Close is called
func (d *Dispatcher) Serve(ctx context.Context) {
	if d.listener == nil {
		return
	}
	stop := context.AfterFunc(ctx, func() { d.listener.Close() })
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer stop()
		for {
			uc, err := d.listener.AcceptUnix()
			if err != nil {
				if !errors.Is(err, net.ErrClosed) {
					logrus.WithError(err).Errorln("Accepting clients failed")
				}
				return
			}
			select {
			case d.batches <- Batch{conn: wire.NewConn(uc)}:
			case <-d.done:
				uc.Close()
				return
			}
		}
	}()
}

// Batches is the stream the loop selects on. Every batch goes back through Handle
func (d *Dispatcher) Batches() <-chan Batch {
	return d.batches
}

// Connect registers an already connected socket, e.g. one end of a socketpair handed to a child.
// Privileged clients see the globals reserved for the legacy bridge
func (d *Dispatcher) Connect(conn *wire.Conn, privileged bool) *Client {
	d.nextClient++
	c := newClient(d, d.nextClient, conn, privileged)
	d.clients[c.id] = c
	d.wg.Add(2)
	go func() {
		defer d.wg.Done()
		c.readLoop()
	}()
	go func() {
		defer d.wg.Done()
		c.writeLoop()
	}()
	logrus.WithFields(logrus.Fields{
		"client":     c.id,
		"privileged": privileged,
	}).Infoln("Client connected")
	return c
}

// Handle processes one batch. Only the loop calls it
func (d *Dispatcher) Handle(b Batch) {
	if b.conn != nil {
		d.Connect(b.conn, false)
		return
	}
	c := b.client
	if c == nil || c.dead {
		closeFds(b.fds)
		return
	}
	if b.err != nil {
		if !wire.IsClosed(b.err) {
			logrus.WithError(b.err).WithField("client", c.id).Warnln("Client read failed")
		}
		d.disconnect(c, nil)
		return
	}
	c.decoder.Feed(b.data, b.fds)
	for !c.dead {
		msg, ok, err := c.decoder.Next()
		if err != nil {
			d.disconnect(c, protoErr(wire.DisplayID, wire.ErrorInvalidMethod, "%v", err))
			return
		}
		if !ok {
			return
		}
		if err := c.dispatch(msg); err != nil {
			var perr *ProtocolError
			if errors.As(err, &perr) {
				d.disconnect(c, perr)
			} else {
				d.disconnect(c, protoErr(wire.DisplayID, wire.ErrorImplementation, "%v", err))
			}
			return
		}
	}
}

// Client returns a connected client
func (d *Dispatcher) Client(id scene.ClientID) (*Client, bool) {
	c, ok := d.clients[id]
	return c, ok
}

func (d *Dispatcher) Clients() []*Client {
	out := make([]*Client, 0, len(d.clients))
	for _, c := range d.clients {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b *Client) int { return int(a.id) - int(b.id) })
	return out
}

// Disconnect drops a client as if it had gone away
func (d *Dispatcher) Disconnect(id scene.ClientID) {
	if c, ok := d.clients[id]; ok {
		d.disconnect(c, nil)
	}
}

// disconnect tears the client down. With perr set the client learns why first
func (d *Dispatcher) disconnect(c *Client, perr *ProtocolError) {
	if c.dead {
		return
	}
	if perr != nil {
		logrus.WithFields(logrus.Fields{
			"client": c.id,
			"object": perr.Object,
			"code":   perr.Code,
		}).Warnln("Protocol error:", perr.Message)
		c.send(wire.DisplayID, wire.DisplayEventError, perr.Object, perr.Code, perr.Message)
	}
	c.dead = true
	close(c.out)

	for _, s := range c.surfaces() {
		d.destroySurface(s)
	}
	for _, r := range c.objects {
		if r.destroy != nil {
			r.destroy()
		}
	}
	clear(c.objects)
	c.decoder.Close()
	d.scene.DestroyClient(c.id)
	delete(d.clients, c.id)
	logrus.WithField("client", c.id).Infoln("Client disconnected")
}

// destroySurface removes a surface from the scene and tells everyone who cares
func (d *Dispatcher) destroySurface(s *surface) {
	if s.destroyed {
		return
	}
	s.destroyed = true
	if s.managed() && s.mapped {
		d.policy.ToplevelUnmapped(s.sid)
	}
	layer := s.layer
	if layer != nil && s.mapped {
		d.policy.LayerUnmapped(s.sid)
	}
	orphans := d.scene.Destroy(s.sid)
	delete(d.surfaces, s.sid)
	if d.seat != nil {
		d.seat.SurfaceDestroyed(s.sid)
	}
	d.policy.SurfaceDestroyed(s.sid)
	for _, id := range orphans {
		if o, ok := d.surfaces[id]; ok && o.xdg != nil && o.xdg.popup != nil {
			o.xdg.popup.dismiss()
		}
	}
	if layer != nil {
		d.arrangeLayers(layer.output)
	}
}

// Close stops accepting, disconnects every client and waits for the socket goroutines
func (d *Dispatcher) Close() error {
	select {
	case <-d.done:
		return nil
	default:
	}
	close(d.done)
	for _, c := range d.Clients() {
		d.disconnect(c, nil)
	}
	var err error
	if d.listener != nil {
		if cerr := d.listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	}
	d.wg.Wait()
	if d.lockFile != nil {
		_ = os.Remove(d.lockFile.Name())
		d.lockFile.Close()
	}
	d.keymap.close()
	return err
}

// ---- Globals ----

func (d *Dispatcher) addGlobal(g *global) {
	d.nextGlobal++
	g.name = d.nextGlobal
	d.globals = append(d.globals, g)
	for _, c := range d.clients {
		c.announce(g)
	}
}

func (d *Dispatcher) removeGlobal(g *global) {
	d.globals = slices.DeleteFunc(d.globals, func(o *global) bool { return o == g })
	for _, c := range d.clients {
		c.withdraw(g)
	}
}

func (d *Dispatcher) findGlobal(name uint32) (*global, bool) {
	for _, g := range d.globals {
		if g.name == name {
			return g, true
		}
	}
	return nil, false
}

func closeFds(fds []int) {
	for _, fd := range fds {
		_ = unix.Close(fd)
	}
}
