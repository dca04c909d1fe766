package bridge

import (
	"slices"

	generaldata "github.com/BKSalman/buddaraysh/general-data"
	"github.com/BKSalman/buddaraysh/scene"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/sirupsen/logrus"
)

type XEventKind int

const (
	XCreate = XEventKind(iota)
	XMapRequest
	XMap
	XUnmap
	XDestroy
	XConfigureRequest
	XConfigureNotify
	// Xwayland tells us which wl_surface serial belongs to the window
	XSurfaceSerial
	// Title or class changed
	XProperty
)

// XEvent is the window manager relevant part of an X event
type XEvent struct {
	Kind             XEventKind
	Window           xproto.Window
	Geometry         generaldata.Rect
	OverrideRedirect bool
	// ConfigureRequest value mask, xproto.ConfigWindow* bits
	Mask       uint16
	StackAbove bool
	Serial     uint64
}

// WindowInfo are the ICCCM and EWMH properties we read when a window maps
type WindowInfo struct {
	Title     string
	Class     string
	Types     []string
	Transient xproto.Window
	// WM_DELETE_WINDOW is in WM_PROTOCOLS
	Deletable bool
}

// XConn is the X server as seen by the window manager
type XConn interface {
	// Manage selects SubstructureRedirect on the root and publishes the EWMH check window
	Manage() error
	// Next blocks for the next relevant event
	Next() (XEvent, error)
	Inspect(win xproto.Window) WindowInfo
	Map(win xproto.Window) error
	Configure(win xproto.Window, geometry generaldata.Rect) error
	// NotifyGeometry sends the synthetic ConfigureNotify ICCCM asks for when a request was not honoured as is
	NotifyGeometry(win xproto.Window, geometry generaldata.Rect)
	Raise(win xproto.Window)
	Focus(win xproto.Window)
	// Delete asks the window to close, or kills its client if it does not speak WM_DELETE_WINDOW
	Delete(win xproto.Window, graceful bool)
	SetWMState(win xproto.Window, normal bool)
	Publish(clients, stacking []xproto.Window, active xproto.Window)
	Close() error
}

// Window is a legacy top-level window and the surface showing it, once known
type Window struct {
	ID               xproto.Window
	Surface          scene.SurfaceID
	Serial           uint64
	Geometry         generaldata.Rect
	OverrideRedirect bool
	Mapped           bool
	Info             WindowInfo
}

// Managed windows take part in focus, client lists and placement
func (w *Window) Managed() bool {
	return !w.OverrideRedirect
}

type windowManager struct {
	x    XConn
	host Host

	windows   map[xproto.Window]*Window
	bySurface map[scene.SurfaceID]*Window
	// Serials a surface announced before the window did
	serials map[uint64]scene.SurfaceID
	// Managed windows in creation order and bottom to top
	order    []xproto.Window
	stacking []xproto.Window
	active   xproto.Window
}

func newWindowManager(x XConn, host Host) *windowManager {
	return &windowManager{
		x:         x,
		host:      host,
		windows:   make(map[xproto.Window]*Window),
		bySurface: make(map[scene.SurfaceID]*Window),
		serials:   make(map[uint64]scene.SurfaceID),
	}
}

func (wm *windowManager) window(id xproto.Window) *Window {
	w, ok := wm.windows[id]
	if !ok {
		w = &Window{ID: id}
		wm.windows[id] = w
	}
	return w
}

func (wm *windowManager) handle(ev XEvent) {
	log := logrus.WithFields(logrus.Fields{"window": ev.Window, "event": ev.Kind})
	switch ev.Kind {
	case XCreate:
		w := wm.window(ev.Window)
		w.Geometry = ev.Geometry
		w.OverrideRedirect = ev.OverrideRedirect
	case XMapRequest:
		w := wm.window(ev.Window)
		w.Info = wm.x.Inspect(w.ID)
		wm.x.SetWMState(w.ID, true)
		if err := wm.x.Map(w.ID); err != nil {
			log.WithError(err).Warnln("Mapping legacy window failed")
			return
		}
		if !slices.Contains(wm.order, w.ID) {
			wm.order = append(wm.order, w.ID)
		}
		wm.restack(w.ID)
		wm.publish()
		log.WithField("title", w.Info.Title).Debugln("Legacy window mapped")
	case XMap:
		w := wm.window(ev.Window)
		w.Mapped = true
		w.OverrideRedirect = ev.OverrideRedirect
	case XUnmap:
		w, ok := wm.windows[ev.Window]
		if !ok {
			return
		}
		w.Mapped = false
		if w.Managed() {
			wm.x.SetWMState(w.ID, false)
			wm.forget(w.ID)
			wm.publish()
		}
	case XDestroy:
		w, ok := wm.windows[ev.Window]
		if !ok {
			return
		}
		delete(wm.windows, w.ID)
		if w.Surface != 0 {
			delete(wm.bySurface, w.Surface)
		}
		wm.forget(w.ID)
		wm.order = slices.DeleteFunc(wm.order, func(o xproto.Window) bool { return o == w.ID })
		wm.publish()
	case XConfigureRequest:
		wm.configureRequest(ev)
	case XConfigureNotify:
		w := wm.window(ev.Window)
		w.Geometry = ev.Geometry
		w.OverrideRedirect = ev.OverrideRedirect
		if w.OverrideRedirect && w.Surface != 0 {
			wm.host.WindowMoved(w.Surface, w.Geometry)
		}
	case XSurfaceSerial:
		w := wm.window(ev.Window)
		w.Serial = ev.Serial
		if sid, ok := wm.serials[ev.Serial]; ok {
			wm.associate(w, sid)
		}
	case XProperty:
		if w, ok := wm.windows[ev.Window]; ok && w.Mapped {
			w.Info = wm.x.Inspect(w.ID)
			if w.Surface != 0 {
				wm.host.WindowRetitled(w.Surface, w.Info.Title, w.Info.Class)
			}
		}
	}
}

// configureRequest honours everything for windows we do not show yet. Shown managed
// windows may change their size, their position belongs to the layout
func (wm *windowManager) configureRequest(ev XEvent) {
	w := wm.window(ev.Window)
	geom := w.Geometry
	if ev.Mask&xproto.ConfigWindowWidth != 0 {
		geom.W = ev.Geometry.W
	}
	if ev.Mask&xproto.ConfigWindowHeight != 0 {
		geom.H = ev.Geometry.H
	}
	shown := w.Surface != 0 && w.Mapped && w.Managed()
	if !shown {
		if ev.Mask&xproto.ConfigWindowX != 0 {
			geom.X = ev.Geometry.X
		}
		if ev.Mask&xproto.ConfigWindowY != 0 {
			geom.Y = ev.Geometry.Y
		}
	}
	w.Geometry = geom
	if err := wm.x.Configure(w.ID, geom); err != nil {
		logrus.WithError(err).WithField("window", w.ID).Warnln("Configuring legacy window failed")
	}
	if shown {
		wm.x.NotifyGeometry(w.ID, geom)
	}
	if ev.StackAbove && w.Surface != 0 {
		wm.restack(w.ID)
		wm.host.WindowRaised(w.Surface)
		wm.publish()
	}
}

// surfaceSerial is the Wayland half of the association
func (wm *windowManager) surfaceSerial(sid scene.SurfaceID, serial uint64) {
	for _, w := range wm.windows {
		if w.Serial == serial && w.Surface == 0 {
			wm.associate(w, sid)
			return
		}
	}
	wm.serials[serial] = sid
}

func (wm *windowManager) associate(w *Window, sid scene.SurfaceID) {
	delete(wm.serials, w.Serial)
	w.Surface = sid
	wm.bySurface[sid] = w
	logrus.WithFields(logrus.Fields{
		"window":  w.ID,
		"surface": sid,
		"serial":  w.Serial,
	}).Debugln("Legacy window associated")
	wm.host.WindowAssociated(sid)
}

func (wm *windowManager) surfaceDestroyed(sid scene.SurfaceID) {
	if w, ok := wm.bySurface[sid]; ok {
		w.Surface = 0
		delete(wm.bySurface, sid)
	}
	for serial, s := range wm.serials {
		if s == sid {
			delete(wm.serials, serial)
		}
	}
}

// restack puts a managed window on top of the stacking list
func (wm *windowManager) restack(id xproto.Window) {
	wm.stacking = slices.DeleteFunc(wm.stacking, func(o xproto.Window) bool { return o == id })
	wm.stacking = append(wm.stacking, id)
}

func (wm *windowManager) forget(id xproto.Window) {
	wm.stacking = slices.DeleteFunc(wm.stacking, func(o xproto.Window) bool { return o == id })
	if wm.active == id {
		wm.active = 0
	}
}

func (wm *windowManager) publish() {
	var clients []xproto.Window
	for _, id := range wm.order {
		if w, ok := wm.windows[id]; ok && w.Managed() {
			clients = append(clients, id)
		}
	}
	wm.x.Publish(clients, slices.Clone(wm.stacking), wm.active)
}

func (wm *windowManager) activate(w *Window) {
	wm.x.Raise(w.ID)
	if !w.Managed() {
		return
	}
	wm.restack(w.ID)
	wm.x.Focus(w.ID)
	wm.active = w.ID
	wm.publish()
}

func (wm *windowManager) close() {
	if err := wm.x.Close(); err != nil {
		logrus.WithError(err).Debugln("Closing the X11 connection failed")
	}
}
