package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	generaldata "github.com/BKSalman/buddaraysh/general-data"
	"github.com/BKSalman/buddaraysh/render"
	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	evdev "github.com/gvalkov/golang-evdev"
)

const (
	// X11 keycodes are evdev codes shifted by this much
	x11KeycodeOffset = 8
	x11RefreshPeriod = time.Second / 60
	// Scroll distance of one wheel notch in surface units
	wheelStep = 10.0
)

// x11Host runs us inside a window of an X11 server
type x11Host struct {
	display string
	title   string

	lock          sync.Mutex
	conn          *xgb.Conn
	window        xproto.Window
	gc            xproto.Gcontext
	depth         byte
	maxRequest    int
	wmProtocols   xproto.Atom
	wmDelete      xproto.Atom
	width, height int
	scratch       []byte
	pressed       map[uint32]bool
}

func newX11Host(opts Options) *x11Host {
	return &x11Host{
		display: opts.HostDisplay,
		title:   opts.Title,
		pressed: make(map[uint32]bool),
	}
}

func (x *x11Host) atom(name string) (xproto.Atom, error) {
	reply, err := xproto.InternAtom(x.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, fmt.Errorf("interning %s: %w", name, err)
	}
	return reply.Atom, nil
}

func (x *x11Host) Open(width, height int) (int, int, error) {
	conn, err := xgb.NewConnDisplay(x.display)
	if err != nil {
		return 0, 0, fmt.Errorf("connecting to X server: %w", err)
	}
	x.conn = conn
	if err := x.open(width, height); err != nil {
		conn.Close()
		return 0, 0, err
	}
	return width, height, nil
}

func (x *x11Host) open(width, height int) error {
	setup := xproto.Setup(x.conn)
	screen := setup.DefaultScreen(x.conn)
	if screen.RootDepth != 24 && screen.RootDepth != 32 {
		return fmt.Errorf("unsupported root depth %d", screen.RootDepth)
	}
	x.depth = screen.RootDepth
	x.maxRequest = int(setup.MaximumRequestLength) * 4

	win, err := xproto.NewWindowId(x.conn)
	if err != nil {
		return err
	}
	mask := uint32(xproto.EventMaskExposure | xproto.EventMaskKeyPress | xproto.EventMaskKeyRelease |
		xproto.EventMaskButtonPress | xproto.EventMaskButtonRelease | xproto.EventMaskPointerMotion |
		xproto.EventMaskStructureNotify | xproto.EventMaskFocusChange)
	err = xproto.CreateWindowChecked(x.conn, screen.RootDepth, win, screen.Root,
		0, 0, uint16(width), uint16(height), 0,
		xproto.WindowClassInputOutput, screen.RootVisual,
		xproto.CwBackPixel|xproto.CwEventMask, []uint32{0, mask}).Check()
	if err != nil {
		return fmt.Errorf("creating window: %w", err)
	}
	x.window = win

	if x.wmProtocols, err = x.atom("WM_PROTOCOLS"); err != nil {
		return err
	}
	if x.wmDelete, err = x.atom("WM_DELETE_WINDOW"); err != nil {
		return err
	}
	deleteAtom := make([]byte, 4)
	xgb.Put32(deleteAtom, uint32(x.wmDelete))
	xproto.ChangeProperty(x.conn, xproto.PropModeReplace, win, x.wmProtocols, xproto.AtomAtom, 32, 1, deleteAtom)
	xproto.ChangeProperty(x.conn, xproto.PropModeReplace, win, xproto.AtomWmName, xproto.AtomString, 8,
		uint32(len(x.title)), []byte(x.title))

	// An invisible cursor, ours is composited
	pix, err := xproto.NewPixmapId(x.conn)
	if err != nil {
		return err
	}
	xproto.CreatePixmap(x.conn, 1, pix, xproto.Drawable(win), 1, 1)
	cursor, err := xproto.NewCursorId(x.conn)
	if err != nil {
		return err
	}
	xproto.CreateCursor(x.conn, cursor, pix, pix, 0, 0, 0, 0, 0, 0, 0, 0)
	xproto.ChangeWindowAttributes(x.conn, win, xproto.CwCursor, []uint32{uint32(cursor)})
	xproto.FreePixmap(x.conn, pix)

	gc, err := xproto.NewGcontextId(x.conn)
	if err != nil {
		return err
	}
	if err := xproto.CreateGCChecked(x.conn, gc, xproto.Drawable(win), 0, nil).Check(); err != nil {
		return fmt.Errorf("creating graphics context: %w", err)
	}
	x.gc = gc
	if err := xproto.MapWindowChecked(x.conn, win).Check(); err != nil {
		return fmt.Errorf("mapping window: %w", err)
	}
	x.width, x.height = width, height
	return nil
}

func (x *x11Host) Run(ctx context.Context, emit func(Event)) error {
	stop := context.AfterFunc(ctx, func() { x.conn.Close() })
	defer stop()
	for {
		ev, xerr := x.conn.WaitForEvent()
		if ev == nil && xerr == nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.New("X server connection closed")
		}
		if xerr != nil {
			// Request errors are asynchronous, a failed PutImage must not kill the output
			continue
		}
		x.translate(ev, emit)
	}
}

func (x *x11Host) translate(ev xgb.Event, emit func(Event)) {
	switch e := ev.(type) {
	case xproto.KeyPressEvent:
		key := uint32(e.Detail) - x11KeycodeOffset
		x.lock.Lock()
		x.pressed[key] = true
		x.lock.Unlock()
		emit(Event{Kind: KeyboardKey, Time: now(), Key: key, Pressed: true})
	case xproto.KeyReleaseEvent:
		key := uint32(e.Detail) - x11KeycodeOffset
		x.lock.Lock()
		delete(x.pressed, key)
		x.lock.Unlock()
		emit(Event{Kind: KeyboardKey, Time: now(), Key: key, Pressed: false})
	case xproto.FocusOutEvent:
		x.lock.Lock()
		var held []uint32
		for key := range x.pressed {
			held = append(held, key)
		}
		clear(x.pressed)
		x.lock.Unlock()
		for _, key := range held {
			emit(Event{Kind: KeyboardKey, Time: now(), Key: key, Pressed: false})
		}
	case xproto.ButtonPressEvent:
		x.button(byte(e.Detail), true, emit)
	case xproto.ButtonReleaseEvent:
		x.button(byte(e.Detail), false, emit)
	case xproto.MotionNotifyEvent:
		emit(Event{Kind: PointerMotionAbsolute, Time: now(), X: float64(e.EventX), Y: float64(e.EventY)})
		emit(Event{Kind: PointerFrame})
	case xproto.ConfigureNotifyEvent:
		x.lock.Lock()
		changed := int(e.Width) != x.width || int(e.Height) != x.height
		x.width, x.height = int(e.Width), int(e.Height)
		x.lock.Unlock()
		if changed {
			emit(Event{Kind: OutputModeChanged, Info: virtualInfo("", int(e.Width), int(e.Height))})
		}
	case xproto.ExposeEvent:
		if e.Count == 0 {
			emit(Event{Kind: OutputDamaged})
		}
	case xproto.ClientMessageEvent:
		if e.Type == x.wmProtocols && e.Format == 32 && xproto.Atom(e.Data.Data32[0]) == x.wmDelete {
			emit(Event{Kind: CloseRequested})
		}
	}
}

// Buttons 4 to 7 are the scroll wheel
func (x *x11Host) button(detail byte, pressed bool, emit func(Event)) {
	var code uint32
	switch detail {
	case 1:
		code = evdev.BTN_LEFT
	case 2:
		code = evdev.BTN_MIDDLE
	case 3:
		code = evdev.BTN_RIGHT
	case 4, 5, 6, 7:
		if !pressed {
			return
		}
		axis, value := uint32(0), wheelStep
		if detail == 4 || detail == 6 {
			value = -wheelStep
		}
		if detail >= 6 {
			axis = 1
		}
		emit(Event{Kind: PointerAxis, Time: now(), Axis: axis, Value: value})
		emit(Event{Kind: PointerFrame})
		return
	case 8:
		code = evdev.BTN_SIDE
	case 9:
		code = evdev.BTN_EXTRA
	default:
		return
	}
	emit(Event{Kind: PointerButton, Time: now(), Button: code, Pressed: pressed})
	emit(Event{Kind: PointerFrame})
}

// Show uploads the damaged rectangles. X has no presentation feedback, a refresh timer stands in for it
func (x *x11Host) Show(frame render.Frame, done func()) error {
	x.lock.Lock()
	defer x.lock.Unlock()
	if frame.Image != nil {
		bounds := generaldata.NewRect(0, 0, min(x.width, frame.Image.Rect.Dx()), min(x.height, frame.Image.Rect.Dy()))
		for _, r := range frame.Damage {
			x.putRect(frame, r.Intersect(bounds))
		}
	}
	time.AfterFunc(x11RefreshPeriod, done)
	return nil
}

// putRect sends one rectangle in strips that fit into a single request
func (x *x11Host) putRect(frame render.Frame, r generaldata.Rect) {
	if r.Empty() {
		return
	}
	rowBytes := r.W * 4
	// PutImage header is 24 bytes
	rows := max(1, (x.maxRequest-24)/rowBytes)
	img := frame.Image
	for y := r.Y; y < r.Bottom(); y += rows {
		h := min(rows, r.Bottom()-y)
		need := rowBytes * h
		if cap(x.scratch) < need {
			x.scratch = make([]byte, need)
		}
		buf := x.scratch[:need]
		for row := 0; row < h; row++ {
			src := img.Pix[(y+row)*img.Stride+r.X*4 : (y+row)*img.Stride+r.Right()*4]
			dst := buf[row*rowBytes : (row+1)*rowBytes]
			for i := 0; i < len(src); i += 4 {
				dst[i+0] = src[i+2]
				dst[i+1] = src[i+1]
				dst[i+2] = src[i+0]
				dst[i+3] = 0xff
			}
		}
		xproto.PutImage(x.conn, xproto.ImageFormatZPixmap, xproto.Drawable(x.window), x.gc,
			uint16(r.W), uint16(h), int16(r.X), int16(y), 0, x.depth, buf)
	}
}

func (x *x11Host) Close() error {
	x.lock.Lock()
	defer x.lock.Unlock()
	if x.conn == nil {
		return nil
	}
	xproto.DestroyWindow(x.conn, x.window)
	x.conn.Close()
	return nil
}

var _ Host = (*x11Host)(nil)
