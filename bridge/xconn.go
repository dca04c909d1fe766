package bridge

import (
	"errors"
	"fmt"
	"net"
	"os"
	"slices"
	"strings"

	generaldata "github.com/BKSalman/buddaraysh/general-data"
	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"
	"github.com/BurntSushi/xgbutil/ewmh"
	"github.com/BurntSushi/xgbutil/icccm"
	"github.com/BurntSushi/xgbutil/xprop"
	"github.com/sirupsen/logrus"
)

const wmName = "buddaraysh"

var errXClosed = errors.New("X11 connection closed")

// xconn is the window manager's connection to Xwayland
type xconn struct {
	xu    *xgbutil.XUtil
	root  xproto.Window
	check xproto.Window

	serialAtom    xproto.Atom
	protocolsAtom xproto.Atom
	deleteAtom    xproto.Atom
	// Properties that change what we show for a window
	nameAtoms []xproto.Atom
}

func dialXConn(f *os.File) (XConn, error) {
	nc, err := net.FileConn(f)
	f.Close()
	if err != nil {
		return nil, err
	}
	conn, err := xgb.NewConnNet(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("X11 handshake: %w", err)
	}
	xu, err := xgbutil.NewConnXgb(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	x := &xconn{xu: xu, root: xu.RootWin()}
	if err := x.internAtoms(); err != nil {
		conn.Close()
		return nil, err
	}
	return x, nil
}

func (x *xconn) internAtoms() error {
	var err error
	if x.serialAtom, err = xprop.Atm(x.xu, "WL_SURFACE_SERIAL"); err != nil {
		return err
	}
	if x.protocolsAtom, err = xprop.Atm(x.xu, "WM_PROTOCOLS"); err != nil {
		return err
	}
	if x.deleteAtom, err = xprop.Atm(x.xu, "WM_DELETE_WINDOW"); err != nil {
		return err
	}
	for _, name := range []string{"WM_NAME", "_NET_WM_NAME", "WM_CLASS"} {
		a, err := xprop.Atm(x.xu, name)
		if err != nil {
			return err
		}
		x.nameAtoms = append(x.nameAtoms, a)
	}
	return nil
}

func (x *xconn) Manage() error {
	conn := x.xu.Conn()
	mask := uint32(xproto.EventMaskSubstructureRedirect | xproto.EventMaskSubstructureNotify | xproto.EventMaskPropertyChange)
	err := xproto.ChangeWindowAttributesChecked(conn, x.root, xproto.CwEventMask, []uint32{mask}).Check()
	if err != nil {
		return fmt.Errorf("another window manager is running: %w", err)
	}

	win, err := xproto.NewWindowId(conn)
	if err != nil {
		return err
	}
	screen := xproto.Setup(conn).DefaultScreen(conn)
	err = xproto.CreateWindowChecked(conn, 0, win, x.root,
		-1, -1, 1, 1, 0, xproto.WindowClassInputOnly, screen.RootVisual, 0, nil).Check()
	if err != nil {
		return fmt.Errorf("creating the check window: %w", err)
	}
	x.check = win
	if err := ewmh.SupportingWmCheckSet(x.xu, x.root, win); err != nil {
		return err
	}
	if err := ewmh.SupportingWmCheckSet(x.xu, win, win); err != nil {
		return err
	}
	if err := ewmh.WmNameSet(x.xu, win, wmName); err != nil {
		return err
	}
	return ewmh.SupportedSet(x.xu, []string{
		"_NET_SUPPORTED",
		"_NET_SUPPORTING_WM_CHECK",
		"_NET_CLIENT_LIST",
		"_NET_CLIENT_LIST_STACKING",
		"_NET_ACTIVE_WINDOW",
		"_NET_WM_NAME",
		"_NET_WM_WINDOW_TYPE",
	})
}

func geometry(px, py int16, w, h uint16) generaldata.Rect {
	return generaldata.NewRect(int(px), int(py), int(w), int(h))
}

func (x *xconn) Next() (XEvent, error) {
	for {
		ev, xerr := x.xu.Conn().WaitForEvent()
		if ev == nil && xerr == nil {
			return XEvent{}, errXClosed
		}
		if xerr != nil {
			logrus.WithField("error", xerr.Error()).Debugln("X11 request failed")
			continue
		}
		switch e := ev.(type) {
		case xproto.CreateNotifyEvent:
			return XEvent{
				Kind:             XCreate,
				Window:           e.Window,
				Geometry:         geometry(e.X, e.Y, e.Width, e.Height),
				OverrideRedirect: e.OverrideRedirect,
			}, nil
		case xproto.MapRequestEvent:
			return XEvent{Kind: XMapRequest, Window: e.Window}, nil
		case xproto.MapNotifyEvent:
			return XEvent{Kind: XMap, Window: e.Window, OverrideRedirect: e.OverrideRedirect}, nil
		case xproto.UnmapNotifyEvent:
			return XEvent{Kind: XUnmap, Window: e.Window}, nil
		case xproto.DestroyNotifyEvent:
			return XEvent{Kind: XDestroy, Window: e.Window}, nil
		case xproto.ConfigureRequestEvent:
			return XEvent{
				Kind:       XConfigureRequest,
				Window:     e.Window,
				Geometry:   geometry(e.X, e.Y, e.Width, e.Height),
				Mask:       e.ValueMask,
				StackAbove: e.ValueMask&xproto.ConfigWindowStackMode != 0 && e.StackMode == xproto.StackModeAbove,
			}, nil
		case xproto.ConfigureNotifyEvent:
			if e.Window == x.check {
				continue
			}
			return XEvent{
				Kind:             XConfigureNotify,
				Window:           e.Window,
				Geometry:         geometry(e.X, e.Y, e.Width, e.Height),
				OverrideRedirect: e.OverrideRedirect,
			}, nil
		case xproto.ClientMessageEvent:
			if e.Type != x.serialAtom || e.Format != 32 {
				continue
			}
			d := e.Data.Data32
			return XEvent{Kind: XSurfaceSerial, Window: e.Window, Serial: uint64(d[1])<<32 | uint64(d[0])}, nil
		case xproto.PropertyNotifyEvent:
			if slices.Contains(x.nameAtoms, e.Atom) {
				return XEvent{Kind: XProperty, Window: e.Window}, nil
			}
		}
	}
}

func (x *xconn) Inspect(win xproto.Window) WindowInfo {
	var info WindowInfo
	if title, err := ewmh.WmNameGet(x.xu, win); err == nil && strings.TrimSpace(title) != "" {
		info.Title = strings.TrimSpace(title)
	} else if title, err := icccm.WmNameGet(x.xu, win); err == nil {
		info.Title = strings.TrimSpace(title)
	}
	if class, err := icccm.WmClassGet(x.xu, win); err == nil {
		info.Class = strings.TrimSpace(class.Class)
	}
	if types, err := ewmh.WmWindowTypeGet(x.xu, win); err == nil {
		info.Types = types
	}
	if parent, err := icccm.WmTransientForGet(x.xu, win); err == nil {
		info.Transient = parent
	}
	if protocols, err := icccm.WmProtocolsGet(x.xu, win); err == nil {
		info.Deletable = slices.Contains(protocols, "WM_DELETE_WINDOW")
	}
	return info
}

func (x *xconn) Map(win xproto.Window) error {
	conn := x.xu.Conn()
	// PropertyChange on the window keeps titles current
	xproto.ChangeWindowAttributes(conn, win, xproto.CwEventMask, []uint32{xproto.EventMaskPropertyChange})
	return xproto.MapWindowChecked(conn, win).Check()
}

func (x *xconn) Configure(win xproto.Window, g generaldata.Rect) error {
	mask := uint16(xproto.ConfigWindowX | xproto.ConfigWindowY | xproto.ConfigWindowWidth |
		xproto.ConfigWindowHeight | xproto.ConfigWindowBorderWidth)
	values := []uint32{uint32(int32(g.X)), uint32(int32(g.Y)), uint32(max(g.W, 1)), uint32(max(g.H, 1)), 0}
	return xproto.ConfigureWindowChecked(x.xu.Conn(), win, mask, values).Check()
}

func (x *xconn) NotifyGeometry(win xproto.Window, g generaldata.Rect) {
	ev := xproto.ConfigureNotifyEvent{
		Event:  win,
		Window: win,
		X:      int16(g.X),
		Y:      int16(g.Y),
		Width:  uint16(max(g.W, 1)),
		Height: uint16(max(g.H, 1)),
	}
	xproto.SendEvent(x.xu.Conn(), false, win, xproto.EventMaskStructureNotify, string(ev.Bytes()))
}

func (x *xconn) Raise(win xproto.Window) {
	xproto.ConfigureWindow(x.xu.Conn(), win, xproto.ConfigWindowStackMode, []uint32{xproto.StackModeAbove})
}

func (x *xconn) Focus(win xproto.Window) {
	xproto.SetInputFocus(x.xu.Conn(), xproto.InputFocusPointerRoot, win, xproto.TimeCurrentTime)
}

func (x *xconn) Delete(win xproto.Window, graceful bool) {
	if !graceful {
		xproto.KillClient(x.xu.Conn(), uint32(win))
		return
	}
	ev := xproto.ClientMessageEvent{
		Format: 32,
		Window: win,
		Type:   x.protocolsAtom,
		Data:   xproto.ClientMessageDataUnionData32New([]uint32{uint32(x.deleteAtom), xproto.TimeCurrentTime, 0, 0, 0}),
	}
	xproto.SendEvent(x.xu.Conn(), false, win, xproto.EventMaskNoEvent, string(ev.Bytes()))
}

func (x *xconn) SetWMState(win xproto.Window, normal bool) {
	state := uint(icccm.StateWithdrawn)
	if normal {
		state = icccm.StateNormal
	}
	if err := icccm.WmStateSet(x.xu, win, &icccm.WmState{State: state}); err != nil {
		logrus.WithError(err).WithField("window", win).Debugln("Setting WM_STATE failed")
	}
}

func (x *xconn) Publish(clients, stacking []xproto.Window, active xproto.Window) {
	if err := ewmh.ClientListSet(x.xu, clients); err != nil {
		logrus.WithError(err).Debugln("Setting _NET_CLIENT_LIST failed")
	}
	if err := ewmh.ClientListStackingSet(x.xu, stacking); err != nil {
		logrus.WithError(err).Debugln("Setting _NET_CLIENT_LIST_STACKING failed")
	}
	if err := ewmh.ActiveWindowSet(x.xu, active); err != nil {
		logrus.WithError(err).Debugln("Setting _NET_ACTIVE_WINDOW failed")
	}
}

func (x *xconn) Close() error {
	x.xu.Conn().Close()
	return nil
}
