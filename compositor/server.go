// Package compositor ties the components together: one event loop owns the scene, the seat,
// the protocol dispatcher and the legacy bridge, and everything that happens is handled on it.
package compositor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"

	"github.com/BKSalman/buddaraysh/backend"
	"github.com/BKSalman/buddaraysh/bridge"
	"github.com/BKSalman/buddaraysh/common/ipc"
	"github.com/BKSalman/buddaraysh/config"
	"github.com/BKSalman/buddaraysh/gateway"
	generaldata "github.com/BKSalman/buddaraysh/general-data"
	"github.com/BKSalman/buddaraysh/protocol"
	"github.com/BKSalman/buddaraysh/render"
	"github.com/BKSalman/buddaraysh/scene"
	"github.com/BKSalman/buddaraysh/seat"
	"github.com/BKSalman/buddaraysh/tiler"
	"github.com/adrg/xdg"
	"github.com/sirupsen/logrus"
)

type CursorMode int

const (
	CursorModePassThrough CursorMode = iota
	CursorModeMove
	CursorModeResize
)

func (m CursorMode) String() string {
	switch m {
	case CursorModePassThrough:
		return "PassThrough"
	case CursorModeMove:
		return "Move"
	case CursorModeResize:
		return "Resize"
	default:
		return fmt.Sprintf("Unknown(%d)", int(m))
	}
}

const hotplugSubscriber = "compositor"

type Options struct {
	Config *config.Config
	// Built from Config.Backend when nil
	Backend backend.Backend
	// Created for the direct backend when nil
	Gateway *gateway.Gateway
	// Where the wayland and control sockets go, the XDG runtime directory when empty
	RuntimeDir string
	// Overrides for the legacy bridge, Path defaults to Config.XwaylandPath
	Bridge bridge.Options
	// Starts spawned programs. Tests replace it
	Spawn func(cmd *exec.Cmd) error
}

// window is a top-level the window management cares about: an xdg toplevel or a managed legacy window
type window struct {
	id      scene.SurfaceID
	bridged bool
	mapped  bool
	state   protocol.ToplevelState
	// Set while the window sits in a tiling tree
	tiled  bool
	layout layoutKey
}

// Every output has one tiling tree per workspace
type layoutKey struct {
	output    scene.OutputID
	workspace int
}

type Server struct {
	conf       *config.Config
	backend    backend.Backend
	gateway    *gateway.Gateway
	renderer   *render.Renderer
	scene      *scene.Scene
	seat       *seat.Seat
	dispatcher *protocol.Dispatcher
	bridge     *bridge.Bridge
	control    *ipc.Server
	runtimeDir string
	spawner    func(cmd *exec.Cmd) error

	hotplug  <-chan gateway.Hotplug
	calls    chan ipc.Call
	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}
	err      error

	// Focus order, most recently focused first
	topLevelList []scene.SurfaceID
	windows      map[scene.SurfaceID]*window
	layouts      map[layoutKey]*tiler.Tree

	cursorMode      CursorMode
	grabbedTopLevel scene.SurfaceID
	grabX, grabY    float64
	grabGeobox      generaldata.Rect
	resizeEdges     uint32

	modifier uint32
	bindings map[uint32]Action

	// Backend output ids and scene output ids, both ways
	outputs    map[uint32]scene.OutputID
	backendIDs map[scene.OutputID]uint32

	cursorImage   *render.CursorImage
	cursorTexture *render.Texture
	clientCursor  bool
	hwCursor      bool
}

func NewServer(opts Options) (server *Server, err error) {
	conf := opts.Config
	if conf == nil {
		def := config.Default()
		conf = &def
	}
	if err = conf.Validate(); err != nil {
		return nil, err
	}
	server = &Server{
		conf:       conf,
		gateway:    opts.Gateway,
		runtimeDir: opts.RuntimeDir,
		spawner:    opts.Spawn,
		calls:      make(chan ipc.Call),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		windows:    make(map[scene.SurfaceID]*window),
		layouts:    make(map[layoutKey]*tiler.Tree),
		outputs:    make(map[uint32]scene.OutputID),
		backendIDs: make(map[scene.OutputID]uint32),
	}
	if server.runtimeDir == "" {
		server.runtimeDir = xdg.RuntimeDir
	}
	server.modifier = modifierMask(conf.Modifier)
	if server.bindings, err = parseBindings(conf.Keybindings); err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalid, err)
	}

	/* The backend is picked once. There is no fallback if it cannot start */
	server.backend = opts.Backend
	if server.backend == nil {
		kind, err := backend.ParseKind(conf.Backend)
		if err != nil {
			return nil, err
		}
		if kind == backend.KindDirect && server.gateway == nil {
			server.gateway = gateway.New(gateway.Options{
				Kind:      gateway.SessionDirect,
				WatchDirs: []string{"/dev/input", "/dev/dri"},
				Uevents:   true,
			})
		}
		server.backend, err = backend.New(kind, backend.Options{
			Width:         conf.WindowWidth,
			Height:        conf.WindowHeight,
			Gateway:       server.gateway,
			DRMDevice:     conf.DRMDevice,
			DRMCompositor: conf.DRMCompositor,
		})
		if err != nil {
			return nil, err
		}
	}

	/* The renderer hands finished frames to the backend, the scene imports client buffers through it */
	server.renderer = render.NewRenderer(server.backend)
	server.scene = scene.New(server.renderer, conf.Workspaces)
	server.scene.Placer = server.place

	server.dispatcher, err = protocol.New(server.scene, server, protocol.Options{
		SocketName: conf.SocketName,
		RuntimeDir: opts.RuntimeDir,
	})
	if err != nil {
		return nil, err
	}
	server.seat = seat.New(server.dispatcher, server.scene)
	server.seat.KeyFilter = server.handleKeyBinding
	server.seat.ButtonFilter = server.handleButtonPress
	server.dispatcher.SetSeat(server.seat)

	if conf.Xwayland {
		bo := opts.Bridge
		if bo.Path == "" {
			bo.Path = conf.XwaylandPath
		}
		server.bridge = bridge.New(server, bo)
	}

	server.cursorImage = render.DefaultCursor(conf.CursorTheme, conf.CursorSize)
	server.cursorTexture = server.renderer.NewTexture(server.cursorImage.Image)
	server.showDefaultCursor()
	return server, nil
}

// Start acquires the session, starts the backend and opens the sockets. Output discovery
// arrives later as backend events, so Run must follow
func (server *Server) Start(ctx context.Context) error {
	if server.gateway != nil {
		if err := server.gateway.Acquire(); err != nil {
			return err
		}
		if err := server.gateway.Start(ctx); err != nil {
			return fmt.Errorf("%w: %w", gateway.ErrSessionUnavailable, err)
		}
		hotplug, err := server.gateway.Subscribe(hotplugSubscriber)
		if err != nil {
			logrus.WithError(err).Warnln("No hotplug notifications for the compositor")
		} else {
			server.hotplug = hotplug
		}
	}
	if err := server.backend.Start(ctx); err != nil {
		return err
	}
	if err := server.dispatcher.Listen(); err != nil {
		return err
	}
	server.dispatcher.Serve(ctx)

	if server.bridge != nil {
		if err := server.bridge.Listen(); err != nil {
			logrus.WithError(err).Warnln("Legacy X11 applications will not work")
			server.bridge.Close()
			server.bridge = nil
		}
	}

	control, err := ipc.Listen(ipc.SocketPath(server.runtimeDir, server.dispatcher.SocketName()))
	if err != nil {
		logrus.WithError(err).Warnln("Control socket unavailable")
	} else {
		server.control = control
		control.Serve(ctx)
	}

	fields := logrus.Fields{"socket": server.dispatcher.SocketName(), "backend": server.conf.Backend}
	if server.bridge != nil {
		fields["display"] = server.bridge.Display()
	}
	logrus.WithFields(fields).Infoln("Compositor started")
	return nil
}

// Run is the event loop. It returns nil once asked to quit or ctx ends,
// and the error for anything fatal
func (server *Server) Run(ctx context.Context) error {
	defer close(server.done)

	var bridgeEvents <-chan bridge.Event
	if server.bridge != nil {
		bridgeEvents = server.bridge.Events()
	}
	var controlCalls <-chan ipc.Call
	if server.control != nil {
		controlCalls = server.control.Calls()
	}

	for {
		server.renderDue()
		select {
		case <-ctx.Done():
			return nil
		case <-server.quit:
			return nil
		case ev := <-server.backend.Events():
			server.handleBackendEvent(ev)
		case b := <-server.dispatcher.Batches():
			server.dispatcher.Handle(b)
		case ev := <-bridgeEvents:
			server.bridge.Handle(ev)
		case hp, ok := <-server.hotplug:
			if !ok {
				server.hotplug = nil
				continue
			}
			server.handleHotplug(hp)
		case call := <-controlCalls:
			server.handleCall(call)
		case call := <-server.calls:
			server.handleCall(call)
		}
		if server.err != nil {
			return server.err
		}
	}
}

// Stop asks the loop to return. Safe from any goroutine
func (server *Server) Stop() {
	server.requestQuit()
}

func (server *Server) requestQuit() {
	server.quitOnce.Do(func() { close(server.quit) })
}

// fail ends the loop with err after the current event
func (server *Server) fail(err error) {
	if server.err == nil {
		server.err = err
	}
}

// Call hands a control request to the loop and waits for the answer. Safe from any goroutine
func (server *Server) Call(ctx context.Context, req ipc.Request) (ipc.Response, error) {
	call, reply := ipc.NewCall(req)
	select {
	case server.calls <- call:
	case <-server.done:
		return ipc.Response{}, ipc.ErrClosed
	case <-ctx.Done():
		return ipc.Response{}, ctx.Err()
	}
	select {
	case resp := <-reply:
		return answer(resp)
	case <-server.done:
		/* The call that stopped the loop was still answered */
		select {
		case resp := <-reply:
			return answer(resp)
		default:
			return ipc.Response{}, ipc.ErrClosed
		}
	case <-ctx.Done():
		return ipc.Response{}, ctx.Err()
	}
}

func answer(resp ipc.Response) (ipc.Response, error) {
	if !resp.OK && resp.Error != "" {
		return resp, errors.New(resp.Error)
	}
	return resp, nil
}

// SocketName is the WAYLAND_DISPLAY of this compositor
func (server *Server) SocketName() string {
	return server.dispatcher.SocketName()
}

// Display is the DISPLAY legacy applications use, empty without the bridge
func (server *Server) Display() string {
	if server.bridge == nil {
		return ""
	}
	return server.bridge.Display()
}

// Close tears everything down. Call it after Run returned
func (server *Server) Close() error {
	var errs []error
	if server.control != nil {
		errs = append(errs, server.control.Close())
	}
	if server.bridge != nil {
		errs = append(errs, server.bridge.Close())
	}
	errs = append(errs, server.dispatcher.Close())
	errs = append(errs, server.backend.Close())
	if server.gateway != nil {
		server.gateway.Unsubscribe(hotplugSubscriber)
		errs = append(errs, server.gateway.Release())
	}
	logrus.Infoln("Compositor stopped")
	return errors.Join(errs...)
}

func (server *Server) handleHotplug(hp gateway.Hotplug) {
	logrus.WithFields(logrus.Fields{
		"kind":       hp.Kind,
		"path":       hp.Path,
		"subsystem":  hp.Subsystem,
		"generation": hp.Generation,
	}).Debugln("Hotplug")
	switch hp.Kind {
	case gateway.SessionPaused:
		server.endGrab()
	case gateway.SessionResumed:
		server.repaintAll()
	}
}
