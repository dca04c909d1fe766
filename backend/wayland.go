package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	generaldata "github.com/BKSalman/buddaraysh/general-data"
	"github.com/BKSalman/buddaraysh/render"
	"github.com/rajveermalviya/go-wayland/wayland/client"
	xdg_shell "github.com/rajveermalviya/go-wayland/wayland/stable/xdg-shell"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

var ErrHostMissingGlobal = errors.New("host compositor lacks a required global")

type hostBuffer struct {
	buffer *client.Buffer
	offset int
	busy   bool
	// Damage this buffer has not seen yet
	stale generaldata.Region
}

// waylandHost runs us as a client of another Wayland compositor
type waylandHost struct {
	address string
	title   string

	display    *client.Display
	registry   *client.Registry
	compositor *client.Compositor
	shm        *client.Shm
	wmBase     *xdg_shell.WmBase
	seat       *client.Seat
	pointer    *client.Pointer
	keyboard   *client.Keyboard
	touch      *client.Touch

	surface    *client.Surface
	xdgSurface *xdg_shell.Surface
	toplevel   *xdg_shell.Toplevel

	// Held while events dispatch and while Show sends requests.
	// The go-wayland context is not safe for concurrent use
	lock   sync.Mutex
	closed bool
	// Events queued by handlers, delivered once the lock is dropped
	outbox []func()
	emit   func(Event)

	configured         bool
	pendingW, pendingH int
	width, height      int

	pool     *client.ShmPool
	poolFd   int
	poolData []byte
	buffers  [2]*hostBuffer
	// Frame waiting for a free buffer
	queued     *render.Frame
	queuedDone func()
	pressed    map[uint32]bool
}

func newWaylandHost(opts Options) *waylandHost {
	return &waylandHost{
		address: opts.HostDisplay,
		title:   opts.Title,
		poolFd:  -1,
		pressed: make(map[uint32]bool),
	}
}

func (h *waylandHost) Open(width, height int) (int, int, error) {
	if err := h.open(width, height); err != nil {
		if h.display != nil {
			h.display.Context().Close()
		}
		return 0, 0, err
	}
	return h.width, h.height, nil
}

// hostSocketPath resolves a display name against XDG_RUNTIME_DIR. Empty is left to the environment
func hostSocketPath(display string) string {
	if display == "" || filepath.IsAbs(display) {
		return display
	}
	return filepath.Join(os.Getenv("XDG_RUNTIME_DIR"), display)
}

type hostGlobal struct {
	name, version uint32
}

func (h *waylandHost) open(width, height int) error {
	display, err := client.Connect(hostSocketPath(h.address))
	if err != nil {
		return fmt.Errorf("connecting to host compositor: %w", err)
	}
	h.display = display
	display.SetErrorHandler(func(e client.DisplayErrorEvent) {
		logrus.WithFields(logrus.Fields{
			"code":    e.Code,
			"message": e.Message,
		}).Errorln("Host compositor sent a protocol error")
	})
	h.pendingW, h.pendingH = width, height

	registry, err := display.GetRegistry()
	if err != nil {
		return fmt.Errorf("failed to get registry: %w", err)
	}
	h.registry = registry
	globals := make(map[string]hostGlobal)
	registry.SetGlobalHandler(func(e client.RegistryGlobalEvent) {
		globals[e.Interface] = hostGlobal{name: e.Name, version: e.Version}
	})
	if err := h.roundtrip(); err != nil {
		return err
	}

	ctx := display.Context()
	bind := func(iface string, maxVersion uint32, proxy client.Proxy) error {
		g, ok := globals[iface]
		if !ok {
			return fmt.Errorf("%w: %s", ErrHostMissingGlobal, iface)
		}
		return registry.Bind(g.name, iface, min(g.version, maxVersion), proxy)
	}
	h.compositor = client.NewCompositor(ctx)
	if err := bind("wl_compositor", 4, h.compositor); err != nil {
		return err
	}
	h.shm = client.NewShm(ctx)
	if err := bind("wl_shm", 1, h.shm); err != nil {
		return err
	}
	h.wmBase = xdg_shell.NewWmBase(ctx)
	if err := bind("xdg_wm_base", 1, h.wmBase); err != nil {
		return err
	}
	h.wmBase.SetPingHandler(func(e xdg_shell.WmBasePingEvent) {
		if err := h.wmBase.Pong(e.Serial); err != nil {
			logrus.WithError(err).Warnln("Answering host ping failed")
		}
	})
	if _, ok := globals["wl_seat"]; ok {
		h.seat = client.NewSeat(ctx)
		if err := bind("wl_seat", 5, h.seat); err != nil {
			return err
		}
		h.seat.SetCapabilitiesHandler(h.seatCapabilities)
	} else {
		logrus.Warnln("Host compositor has no seat, running without input")
	}

	if h.surface, err = h.compositor.CreateSurface(); err != nil {
		return err
	}
	if h.xdgSurface, err = h.wmBase.GetXdgSurface(h.surface); err != nil {
		return err
	}
	h.xdgSurface.SetConfigureHandler(h.xdgSurfaceConfigure)
	if h.toplevel, err = h.xdgSurface.GetToplevel(); err != nil {
		return err
	}
	h.toplevel.SetConfigureHandler(h.toplevelConfigure)
	h.toplevel.SetCloseHandler(func(xdg_shell.ToplevelCloseEvent) {
		h.later(Event{Kind: CloseRequested})
	})
	if err := errors.Join(
		h.toplevel.SetTitle(h.title),
		h.toplevel.SetAppId("buddaraysh"),
		h.surface.Commit(),
	); err != nil {
		return err
	}
	for !h.configured {
		if err := h.dispatch(); err != nil {
			return fmt.Errorf("waiting for the host to configure our window: %w", err)
		}
	}
	if err := h.roundtrip(); err != nil {
		return err
	}
	// Whatever the handlers queued before Run has no receiver yet
	h.outbox = nil
	return nil
}

// roundtrip blocks until the host has processed everything sent so far
func (h *waylandHost) roundtrip() error {
	cb, err := h.display.Sync()
	if err != nil {
		return err
	}
	done := false
	cb.SetDoneHandler(func(client.CallbackDoneEvent) {
		done = true
	})
	for !done {
		if err := h.dispatch(); err != nil {
			return err
		}
	}
	return nil
}

func (h *waylandHost) Run(ctx context.Context, emit func(Event)) error {
	h.lock.Lock()
	h.emit = emit
	wctx := h.display.Context()
	h.lock.Unlock()
	stop := context.AfterFunc(ctx, func() { wctx.Close() })
	defer stop()

	for {
		err := h.dispatch()
		h.lock.Lock()
		outbox := h.outbox
		h.outbox = nil
		closed := h.closed
		h.lock.Unlock()
		for _, f := range outbox {
			f()
		}
		if err != nil {
			if ctx.Err() != nil || closed {
				return nil
			}
			return fmt.Errorf("host connection: %w", err)
		}
	}
}

// dispatch reads one message and runs its handler with the lock held
func (h *waylandHost) dispatch() error {
	wctx := h.display.Context()
	sender, opcode, fd, data, err := wctx.ReadMsg()
	if err != nil {
		return err
	}
	h.lock.Lock()
	defer h.lock.Unlock()
	d, ok := wctx.GetProxy(sender).(client.Dispatcher)
	if !ok {
		// Events racing the destruction of their object
		if fd >= 0 {
			unix.Close(fd)
		}
		return nil
	}
	d.Dispatch(opcode, fd, data)
	return nil
}

// later queues an event for delivery once the lock is released
func (h *waylandHost) later(ev Event) {
	if h.emit == nil {
		return
	}
	emit := h.emit
	h.outbox = append(h.outbox, func() { emit(ev) })
}

func (h *waylandHost) xdgSurfaceConfigure(e xdg_shell.SurfaceConfigureEvent) {
	if err := h.xdgSurface.AckConfigure(e.Serial); err != nil {
		logrus.WithError(err).Warnln("Acknowledging host configure failed")
		return
	}
	if h.configured && h.pendingW == h.width && h.pendingH == h.height {
		return
	}
	if err := h.allocate(h.pendingW, h.pendingH); err != nil {
		logrus.WithError(err).Errorln("Allocating host buffers failed")
		return
	}
	h.configured = true
	h.later(Event{Kind: OutputModeChanged, Info: virtualInfo("", h.width, h.height)})
}

func (h *waylandHost) toplevelConfigure(e xdg_shell.ToplevelConfigureEvent) {
	// Zero leaves the size to us
	if e.Width > 0 && e.Height > 0 {
		h.pendingW, h.pendingH = int(e.Width), int(e.Height)
	}
}

// allocate replaces the shm pool with two buffers of the given size
func (h *waylandHost) allocate(width, height int) error {
	h.release()
	stride := width * 4
	size := stride * height
	fd, err := unix.MemfdCreate("buddaraysh-host", unix.MFD_CLOEXEC)
	if err != nil {
		return fmt.Errorf("creating shm file: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(2*size)); err != nil {
		unix.Close(fd)
		return fmt.Errorf("sizing shm file: %w", err)
	}
	data, err := unix.Mmap(fd, 0, 2*size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return fmt.Errorf("mapping shm file: %w", err)
	}
	h.poolFd, h.poolData = fd, data
	if h.pool, err = h.shm.CreatePool(fd, int32(2*size)); err != nil {
		return fmt.Errorf("creating shm pool: %w", err)
	}
	full := generaldata.NewRect(0, 0, width, height)
	for i := range h.buffers {
		b := &hostBuffer{offset: i * size}
		b.stale.Add(full)
		b.buffer, err = h.pool.CreateBuffer(int32(b.offset), int32(width), int32(height), int32(stride), uint32(client.ShmFormatXrgb8888))
		if err != nil {
			return fmt.Errorf("creating host buffer: %w", err)
		}
		b.buffer.SetReleaseHandler(func(client.BufferReleaseEvent) {
			b.busy = false
			if err := h.flushQueued(); err != nil {
				logrus.WithError(err).Warnln("Showing queued frame failed")
			}
		})
		h.buffers[i] = b
	}
	h.width, h.height = width, height
	return nil
}

func (h *waylandHost) release() {
	for i, b := range h.buffers {
		if b != nil {
			_ = b.buffer.Destroy()
			h.buffers[i] = nil
		}
	}
	if h.pool != nil {
		_ = h.pool.Destroy()
		h.pool = nil
	}
	if h.poolData != nil {
		_ = unix.Munmap(h.poolData)
		h.poolData = nil
	}
	if h.poolFd >= 0 {
		unix.Close(h.poolFd)
		h.poolFd = -1
	}
}

func (h *waylandHost) Show(frame render.Frame, done func()) error {
	h.lock.Lock()
	defer h.lock.Unlock()
	if !h.configured || h.closed {
		return ErrNotStarted
	}
	h.queued, h.queuedDone = &frame, done
	return h.flushQueued()
}

// flushQueued draws the waiting frame into a free buffer, if there is one. Callers hold the lock
func (h *waylandHost) flushQueued() error {
	if h.queued == nil {
		return nil
	}
	var target *hostBuffer
	for _, b := range h.buffers {
		if b != nil && !b.busy {
			target = b
			break
		}
	}
	if target == nil {
		return nil
	}
	frame, done := *h.queued, h.queuedDone
	h.queued, h.queuedDone = nil, nil

	bounds := generaldata.NewRect(0, 0, h.width, h.height)
	for _, b := range h.buffers {
		for _, r := range frame.Damage {
			b.stale.Add(r.Intersect(bounds))
		}
	}
	stride := h.width * 4
	pixels := h.poolData[target.offset : target.offset+stride*h.height]
	for _, r := range target.stale.Rects() {
		copyToXRGB(pixels, stride, frame, r)
	}
	target.stale.Clear()
	target.busy = true

	cb, err := h.surface.Frame()
	if err != nil {
		return err
	}
	cb.SetDoneHandler(func(client.CallbackDoneEvent) {
		h.outbox = append(h.outbox, done)
	})
	sends := []error{h.surface.Attach(target.buffer, 0, 0)}
	for _, r := range frame.Damage {
		sends = append(sends, h.surface.DamageBuffer(int32(r.X), int32(r.Y), int32(r.W), int32(r.H)))
	}
	sends = append(sends, h.surface.Commit())
	return errors.Join(sends...)
}

// copyToXRGB converts canvas pixels to the little-endian XRGB8888 layout of shm buffers
func copyToXRGB(dst []byte, stride int, frame render.Frame, r generaldata.Rect) {
	img := frame.Image
	if img == nil {
		return
	}
	r = r.Intersect(generaldata.NewRect(0, 0, img.Rect.Dx(), img.Rect.Dy()))
	for y := r.Y; y < r.Bottom(); y++ {
		src := img.Pix[y*img.Stride+r.X*4 : y*img.Stride+r.Right()*4]
		row := dst[y*stride+r.X*4 : y*stride+r.Right()*4]
		for i := 0; i < len(src); i += 4 {
			row[i+0] = src[i+2]
			row[i+1] = src[i+1]
			row[i+2] = src[i+0]
			row[i+3] = 0xff
		}
	}
}

func (h *waylandHost) seatCapabilities(e client.SeatCapabilitiesEvent) {
	var err error
	if e.Capabilities&uint32(client.SeatCapabilityPointer) != 0 && h.pointer == nil {
		if h.pointer, err = h.seat.GetPointer(); err == nil {
			h.pointer.SetEnterHandler(h.pointerEnter)
			h.pointer.SetMotionHandler(h.pointerMotion)
			h.pointer.SetButtonHandler(h.pointerButton)
			h.pointer.SetAxisHandler(h.pointerAxis)
			h.pointer.SetFrameHandler(func(client.PointerFrameEvent) {
				h.later(Event{Kind: PointerFrame})
			})
		}
	}
	if err == nil && e.Capabilities&uint32(client.SeatCapabilityKeyboard) != 0 && h.keyboard == nil {
		if h.keyboard, err = h.seat.GetKeyboard(); err == nil {
			h.keyboard.SetKeymapHandler(func(e client.KeyboardKeymapEvent) {
				// Host keymaps are irrelevant, keys arrive as evdev codes
				unix.Close(e.Fd)
			})
			h.keyboard.SetKeyHandler(h.keyboardKey)
			h.keyboard.SetLeaveHandler(h.keyboardLeave)
		}
	}
	if err == nil && e.Capabilities&uint32(client.SeatCapabilityTouch) != 0 && h.touch == nil {
		if h.touch, err = h.seat.GetTouch(); err == nil {
			h.touch.SetDownHandler(h.touchDown)
			h.touch.SetUpHandler(h.touchUp)
			h.touch.SetMotionHandler(h.touchMotion)
			h.touch.SetFrameHandler(func(client.TouchFrameEvent) {
				h.later(Event{Kind: TouchFrame})
			})
		}
	}
	if err != nil {
		logrus.WithError(err).Warnln("Binding host input devices failed")
	}
}

func (h *waylandHost) pointerEnter(e client.PointerEnterEvent) {
	// Hide the host cursor, ours is composited
	if err := h.pointer.SetCursor(e.Serial, nil, 0, 0); err != nil {
		logrus.WithError(err).Debugln("Hiding the host cursor failed")
	}
	h.later(Event{Kind: PointerMotionAbsolute, Time: now(), X: e.SurfaceX, Y: e.SurfaceY})
}

func (h *waylandHost) pointerMotion(e client.PointerMotionEvent) {
	h.later(Event{Kind: PointerMotionAbsolute, Time: e.Time, X: e.SurfaceX, Y: e.SurfaceY})
}

func (h *waylandHost) pointerButton(e client.PointerButtonEvent) {
	h.later(Event{
		Kind:    PointerButton,
		Time:    e.Time,
		Button:  e.Button,
		Pressed: e.State == uint32(client.PointerButtonStatePressed),
	})
}

func (h *waylandHost) pointerAxis(e client.PointerAxisEvent) {
	h.later(Event{Kind: PointerAxis, Time: e.Time, Axis: e.Axis, Value: e.Value})
}

func (h *waylandHost) keyboardKey(e client.KeyboardKeyEvent) {
	pressed := e.State == uint32(client.KeyboardKeyStatePressed)
	if pressed {
		h.pressed[e.Key] = true
	} else {
		delete(h.pressed, e.Key)
	}
	h.later(Event{Kind: KeyboardKey, Time: e.Time, Key: e.Key, Pressed: pressed})
}

func (h *waylandHost) keyboardLeave(client.KeyboardLeaveEvent) {
	// Keys released while we were not looking would otherwise stay down forever
	for key := range h.pressed {
		h.later(Event{Kind: KeyboardKey, Time: now(), Key: key, Pressed: false})
	}
	clear(h.pressed)
}

func (h *waylandHost) touchDown(e client.TouchDownEvent) {
	h.later(Event{Kind: TouchDown, Time: e.Time, TouchID: e.Id, X: e.X, Y: e.Y})
}

func (h *waylandHost) touchUp(e client.TouchUpEvent) {
	h.later(Event{Kind: TouchUp, Time: e.Time, TouchID: e.Id})
}

func (h *waylandHost) touchMotion(e client.TouchMotionEvent) {
	h.later(Event{Kind: TouchMotion, Time: e.Time, TouchID: e.Id, X: e.X, Y: e.Y})
}

func (h *waylandHost) Close() error {
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.display == nil || h.closed {
		return nil
	}
	h.closed = true
	h.release()
	if h.toplevel != nil {
		_ = h.toplevel.Destroy()
		_ = h.xdgSurface.Destroy()
		_ = h.surface.Destroy()
	}
	if err := h.display.Context().Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

var _ Host = (*waylandHost)(nil)
