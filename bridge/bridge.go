// Package bridge runs legacy X11 applications through Xwayland. It reserves an X11 display,
// starts Xwayland once the first X client connects and acts as its window manager,
// tying every X window to the wl_surface Xwayland draws it into.
package bridge

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"

	generaldata "github.com/BKSalman/buddaraysh/general-data"
	"github.com/BKSalman/buddaraysh/scene"
	"github.com/BKSalman/buddaraysh/wire"
	"github.com/sirupsen/logrus"
)

var (
	ErrNotRunning    = errors.New("xwayland is not running")
	ErrUnknownWindow = errors.New("surface has no legacy window")
)

// Host is the compositor side of the bridge. Calls happen on the loop
type Host interface {
	// ConnectXwayland registers Xwayland's privileged Wayland connection
	ConnectXwayland(conn *wire.Conn) scene.ClientID
	DisconnectClient(id scene.ClientID)
	// A legacy window found its surface
	WindowAssociated(surface scene.SurfaceID)
	// An unmanaged window, e.g. a menu, moved itself
	WindowMoved(surface scene.SurfaceID, geometry generaldata.Rect)
	// A window asked to be raised
	WindowRaised(surface scene.SurfaceID)
	WindowRetitled(surface scene.SurfaceID, title, class string)
}

// Process is a started Xwayland
type Process interface {
	Wait() error
	Kill() error
}

type Options struct {
	// Xwayland binary
	Path string
	// Directory of the X11 sockets and of the lock files
	SocketDir string
	LockDir   string
	// Lowest display number to try
	FirstDisplay int
	// Also listen on the abstract socket namespace
	Abstract bool
	// Starts the command. Tests replace it
	Spawn func(cmd *exec.Cmd) (Process, error)
	// Connects the window manager over its end of the socketpair. Tests replace it
	DialWM func(f *os.File) (XConn, error)
}

type eventKind int

const (
	evDisplayReady = eventKind(iota)
	evWMConnected
	evX
	evXClosed
	evExited
)

// Event is one thing the loop hands back through Handle
type Event struct {
	kind eventKind
	gen  uint64
	x    XEvent
	conn XConn
	err  error
}

type Bridge struct {
	opts Options
	host Host

	events chan Event
	done   chan struct{}
	// Closed to stop the readiness poll of the current arming
	disarm chan struct{}
	wg     sync.WaitGroup

	display *display
	// Incremented per Xwayland instance, events of older instances are dropped
	gen    uint64
	proc   Process
	client scene.ClientID
	wm     *windowManager
}

func New(host Host, opts Options) *Bridge {
	if opts.Path == "" {
		opts.Path = "Xwayland"
	}
	if opts.SocketDir == "" {
		opts.SocketDir = "/tmp/.X11-unix"
	}
	if opts.LockDir == "" {
		opts.LockDir = "/tmp"
	}
	if opts.Spawn == nil {
		opts.Spawn = startProcess
	}
	if opts.DialWM == nil {
		opts.DialWM = dialXConn
	}
	return &Bridge{
		opts:   opts,
		host:   host,
		events: make(chan Event, 64),
		done:   make(chan struct{}),
	}
}

// Listen reserves a display and exports DISPLAY. Xwayland starts on the first connection
func (b *Bridge) Listen() error {
	d, err := reserveDisplay(b.opts.SocketDir, b.opts.LockDir, b.opts.FirstDisplay, b.opts.Abstract)
	if err != nil {
		return err
	}
	b.display = d
	if err := os.Setenv("DISPLAY", d.name()); err != nil {
		return err
	}
	b.arm()
	return nil
}

// Display is the value clients put into DISPLAY
func (b *Bridge) Display() string {
	if b.display == nil {
		return ""
	}
	return b.display.name()
}

func (b *Bridge) Events() <-chan Event {
	return b.events
}

func (b *Bridge) Running() bool {
	return b.proc != nil
}

// Client is Xwayland's Wayland client, zero while it is not running
func (b *Bridge) Client() scene.ClientID {
	return b.client
}

func (b *Bridge) emit(ev Event) {
	select {
	case b.events <- ev:
	case <-b.done:
	}
}

// arm waits in the background for the first X client to knock
func (b *Bridge) arm() {
	files, err := b.display.files()
	if err != nil {
		logrus.WithError(err).Errorln("Cannot watch the X11 sockets")
		return
	}
	fds := make([]int, len(files))
	for i, f := range files {
		fds[i] = int(f.Fd())
	}
	b.disarm = make(chan struct{})
	stop := b.disarm
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer closeFiles(files)
		if waitReadable(fds, stop) {
			b.emit(Event{kind: evDisplayReady})
		}
	}()
	logrus.WithField("display", b.display.name()).Debugln("Waiting for X11 clients")
}

// Handle processes one event. Only the loop calls it
func (b *Bridge) Handle(ev Event) {
	switch ev.kind {
	case evDisplayReady:
		if b.proc != nil {
			return
		}
		if err := b.spawn(); err != nil {
			logrus.WithError(err).Errorln("Starting Xwayland failed")
			// Waiting clients would wake us right away again
			b.display.reject()
			b.arm()
		}
	case evWMConnected:
		if ev.gen != b.gen || b.proc == nil {
			ev.conn.Close()
			return
		}
		if err := ev.conn.Manage(); err != nil {
			logrus.WithError(err).Errorln("Cannot manage Xwayland windows")
			ev.conn.Close()
			return
		}
		b.wm = newWindowManager(ev.conn, b.host)
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.readX(ev.gen, ev.conn)
		}()
		logrus.WithField("display", b.Display()).Infoln("Xwayland window manager running")
	case evX:
		if ev.gen != b.gen || b.wm == nil {
			return
		}
		b.wm.handle(ev.x)
	case evXClosed:
		if ev.gen == b.gen {
			logrus.WithError(ev.err).Debugln("X11 connection closed")
		}
	case evExited:
		if ev.gen != b.gen {
			return
		}
		b.teardown(ev.err)
	}
}

func (b *Bridge) readX(gen uint64, x XConn) {
	for {
		xev, err := x.Next()
		if err != nil {
			b.emit(Event{kind: evXClosed, gen: gen, err: err})
			return
		}
		b.emit(Event{kind: evX, gen: gen, x: xev})
	}
}

// spawn starts Xwayland with the listening sockets, the window manager socket and
// a privileged Wayland connection
func (b *Bridge) spawn() error {
	wmOurs, wmTheirs, err := wire.Pair()
	if err != nil {
		return err
	}
	wlOurs, wlTheirs, err := wire.Pair()
	if err != nil {
		wmOurs.Close()
		wmTheirs.Close()
		return err
	}
	listeners, err := b.display.files()
	if err != nil {
		closeFiles([]*os.File{wmOurs, wmTheirs, wlOurs, wlTheirs})
		return err
	}
	// Child fd n is ExtraFiles[n-3]
	extra := append(listeners, wmTheirs, wlTheirs)
	args := []string{b.display.name(), "-rootless", "-terminate"}
	for i := range listeners {
		args = append(args, "-listenfd", strconv.Itoa(3+i))
	}
	args = append(args, "-wm", strconv.Itoa(3+len(listeners)))

	cmd := exec.Command(b.opts.Path, args...)
	cmd.ExtraFiles = extra
	cmd.Env = append(os.Environ(), "WAYLAND_SOCKET="+strconv.Itoa(3+len(listeners)+1))
	out := logrus.WithField("process", "Xwayland").WriterLevel(logrus.DebugLevel)
	cmd.Stdout, cmd.Stderr = out, out

	proc, err := b.opts.Spawn(cmd)
	// The child has its copies now
	closeFiles(extra)
	if err != nil {
		out.Close()
		wmOurs.Close()
		wlOurs.Close()
		return fmt.Errorf("spawning %s: %w", b.opts.Path, err)
	}

	conn, err := wire.FileConn(wlOurs)
	wlOurs.Close()
	if err != nil {
		_ = proc.Kill()
		wmOurs.Close()
		out.Close()
		return err
	}
	b.gen++
	gen := b.gen
	b.proc = proc
	b.client = b.host.ConnectXwayland(conn)
	logrus.WithFields(logrus.Fields{
		"display": b.display.name(),
		"client":  b.client,
	}).Infoln("Xwayland started")

	b.wg.Add(2)
	go func() {
		defer b.wg.Done()
		err := proc.Wait()
		out.Close()
		b.emit(Event{kind: evExited, gen: gen, err: err})
	}()
	go func() {
		defer b.wg.Done()
		x, err := b.opts.DialWM(wmOurs)
		if err != nil {
			b.emit(Event{kind: evXClosed, gen: gen, err: err})
			return
		}
		b.emit(Event{kind: evWMConnected, gen: gen, conn: x})
	}()
	return nil
}

// teardown forgets everything of an exited Xwayland and waits for the next X client
func (b *Bridge) teardown(err error) {
	logrus.WithError(err).WithField("display", b.Display()).Infoln("Xwayland exited")
	if b.wm != nil {
		b.wm.close()
		b.wm = nil
	}
	if b.client != 0 {
		b.host.DisconnectClient(b.client)
		b.client = 0
	}
	b.proc = nil
	// Stale events of this instance are ignored from here on
	b.gen++
	if b.display != nil {
		b.arm()
	}
}

// SurfaceSerial ties a surface to the window carrying serial. Surfaces of other clients are refused
func (b *Bridge) SurfaceSerial(surface scene.SurfaceID, client scene.ClientID, serial uint64) {
	if b.wm == nil || client != b.client || client == 0 {
		logrus.WithFields(logrus.Fields{
			"surface": surface,
			"client":  client,
		}).Warnln("Ignoring serial from a client that is not Xwayland")
		return
	}
	b.wm.surfaceSerial(surface, serial)
}

// Window returns a copy of the legacy window shown by surface
func (b *Bridge) Window(surface scene.SurfaceID) (Window, bool) {
	if b.wm == nil {
		return Window{}, false
	}
	w, ok := b.wm.bySurface[surface]
	if !ok {
		return Window{}, false
	}
	return *w, true
}

// Configure moves and resizes the window behind surface to match the layout
func (b *Bridge) Configure(surface scene.SurfaceID, geometry generaldata.Rect) error {
	w, err := b.lookup(surface)
	if err != nil {
		return err
	}
	if w.Geometry == geometry {
		return nil
	}
	w.Geometry = geometry
	return b.wm.x.Configure(w.ID, geometry)
}

// Activate raises the window and gives it X input focus
func (b *Bridge) Activate(surface scene.SurfaceID) error {
	w, err := b.lookup(surface)
	if err != nil {
		return err
	}
	b.wm.activate(w)
	return nil
}

// CloseWindow asks the window to go away
func (b *Bridge) CloseWindow(surface scene.SurfaceID) error {
	w, err := b.lookup(surface)
	if err != nil {
		return err
	}
	b.wm.x.Delete(w.ID, w.Info.Deletable)
	return nil
}

func (b *Bridge) SurfaceDestroyed(surface scene.SurfaceID) {
	if b.wm != nil {
		b.wm.surfaceDestroyed(surface)
	}
}

func (b *Bridge) lookup(surface scene.SurfaceID) (*Window, error) {
	if b.wm == nil {
		return nil, ErrNotRunning
	}
	w, ok := b.wm.bySurface[surface]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownWindow, surface)
	}
	return w, nil
}

// Close kills Xwayland and releases the display. Only the loop calls it
func (b *Bridge) Close() error {
	select {
	case <-b.done:
		return nil
	default:
	}
	close(b.done)
	if b.disarm != nil {
		close(b.disarm)
	}
	if b.wm != nil {
		b.wm.close()
	}
	if b.proc != nil {
		_ = b.proc.Kill()
	}
	b.wg.Wait()
	if b.display != nil {
		b.display.close()
	}
	return nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p execProcess) Wait() error {
	return p.cmd.Wait()
}

func (p execProcess) Kill() error {
	return p.cmd.Process.Kill()
}

func startProcess(cmd *exec.Cmd) (Process, error) {
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return execProcess{cmd: cmd}, nil
}
