package protocol

import (
	"errors"
	"slices"

	generaldata "github.com/BKSalman/buddaraysh/general-data"
	"github.com/BKSalman/buddaraysh/scene"
	"github.com/BKSalman/buddaraysh/wire"
	"github.com/sirupsen/logrus"
)

type xdgSurface struct {
	id      uint32
	surface *surface
	version uint32

	toplevel *toplevel
	popup    *popup

	// Configure serials sent and not yet acknowledged, oldest first
	serials []uint32
	// The client acked a configure since the role was (re)initialized
	configured bool
	// The initial configure went out, the next commit may carry a buffer
	initialSent bool
	geometry    generaldata.Rect
}

type toplevel struct {
	id      uint32
	xdg     *xdgSurface
	state   ToplevelState
	minSize generaldata.Vector2i
	maxSize generaldata.Vector2i
}

type popup struct {
	id         uint32
	xdg        *xdgSurface
	parent     *xdgSurface
	positioner positioner
	geometry   generaldata.Rect
	grabbed    bool
	done       bool
}

func bindWmBase(c *Client, id, version uint32) error {
	_, err := c.add(id, wire.InterfaceWmBase, version, func(opcode uint16, args *wire.Reader) error {
		switch opcode {
		case wire.WmBaseDestroy:
			for _, s := range c.surfaces() {
				if s.xdg != nil {
					return protoErr(id, wire.WmBaseErrorDefunctSurfaces, "xdg_wm_base destroyed before its surfaces")
				}
			}
			c.remove(id)
		case wire.WmBaseCreatePositioner:
			return c.createPositioner(args.NewID())
		case wire.WmBaseGetXdgSurface:
			xid := args.NewID()
			s, err := c.surfaceOf(args.Object(), false)
			if err != nil {
				return err
			}
			return c.createXdgSurface(id, xid, version, s)
		case wire.WmBasePong:
			args.Uint()
		default:
			return protoErr(wire.DisplayID, wire.ErrorInvalidMethod, "xdg_wm_base has no request %d", opcode)
		}
		return nil
	})
	return err
}

func (c *Client) createXdgSurface(wmBase, id, version uint32, s *surface) error {
	ss, ok := c.d.scene.Surface(s.sid)
	if s.xdg != nil || s.layer != nil || s.bridged || s.cursor || (ok && ss.Role != scene.RoleNone) {
		return protoErr(wmBase, wire.WmBaseErrorRole, "surface %d already has a role", s.id)
	}
	if ok && ss.Texture() != nil {
		return protoErr(id, wire.XdgSurfaceErrorUnconfiguredBuffer, "surface %d already has a buffer", s.id)
	}
	x := &xdgSurface{id: id, surface: s, version: version}
	r, err := c.add(id, wire.InterfaceXdgSurface, version, x.request)
	if err != nil {
		return err
	}
	r.data = x
	s.xdg = x
	return nil
}

func (x *xdgSurface) client() *Client {
	return x.surface.client
}

func (x *xdgSurface) request(opcode uint16, args *wire.Reader) error {
	c := x.client()
	switch opcode {
	case wire.XdgSurfaceDestroy:
		if x.toplevel != nil || x.popup != nil {
			return protoErr(x.id, wire.XdgSurfaceErrorDefunctRoleObject, "xdg_surface destroyed before its role object")
		}
		x.surface.xdg = nil
		c.remove(x.id)
	case wire.XdgSurfaceGetToplevel:
		return x.getToplevel(args.NewID())
	case wire.XdgSurfaceGetPopup:
		id := args.NewID()
		parent := args.Object()
		pos, err := c.positionerOf(args.Object())
		if err != nil {
			return err
		}
		return x.getPopup(id, parent, pos)
	case wire.XdgSurfaceSetWindowGeometry:
		geo := readRect(args)
		if geo.W <= 0 || geo.H <= 0 {
			return protoErr(x.id, wire.XdgSurfaceErrorInvalidSize, "window geometry %s", geo)
		}
		x.geometry = geo
	case wire.XdgSurfaceAckConfigure:
		return x.ack(args.Uint())
	default:
		return protoErr(wire.DisplayID, wire.ErrorInvalidMethod, "xdg_surface has no request %d", opcode)
	}
	return nil
}

func (x *xdgSurface) ack(serial uint32) error {
	i := slices.Index(x.serials, serial)
	if i < 0 {
		return protoErr(x.id, wire.XdgSurfaceErrorInvalidSerial, "serial %d was never sent", serial)
	}
	x.serials = x.serials[i+1:]
	x.configured = true
	return nil
}

// configure finishes a configure sequence with the xdg_surface event clients ack
func (x *xdgSurface) configure() {
	serial := x.client().d.nextSerial()
	x.serials = append(x.serials, serial)
	x.client().send(x.id, wire.XdgSurfaceEventConfigure, serial)
}

func (x *xdgSurface) getToplevel(id uint32) error {
	c := x.client()
	if x.toplevel != nil || x.popup != nil {
		return protoErr(x.id, wire.XdgSurfaceErrorAlreadyConstructed, "xdg_surface already has a role")
	}
	if err := c.d.scene.SetRole(x.surface.sid, scene.RoleToplevel, 0); err != nil {
		return protoErr(x.id, wire.WmBaseErrorRole, "%v", err)
	}
	t := &toplevel{id: id, xdg: x}
	r, err := c.add(id, wire.InterfaceToplevel, x.version, t.request)
	if err != nil {
		return err
	}
	r.data = t
	r.destroy = t.destroyed
	x.toplevel = t
	return nil
}

func (x *xdgSurface) getPopup(id, parentID uint32, pos positioner) error {
	c := x.client()
	if x.toplevel != nil || x.popup != nil {
		return protoErr(x.id, wire.XdgSurfaceErrorAlreadyConstructed, "xdg_surface already has a role")
	}
	if !pos.complete() {
		return protoErr(x.id, wire.WmBaseErrorInvalidPositioner, "positioner needs a size and an anchor rectangle")
	}
	if parentID == 0 {
		return protoErr(x.id, wire.WmBaseErrorInvalidPopupParent, "popups without a parent are not supported")
	}
	pr, err := c.object(parentID, wire.InterfaceXdgSurface, false)
	if err != nil {
		return err
	}
	parent := pr.data.(*xdgSurface)
	if parent.surface.destroyed {
		return protoErr(x.id, wire.WmBaseErrorInvalidPopupParent, "parent surface is gone")
	}
	if err := c.d.scene.SetRole(x.surface.sid, scene.RolePopup, parent.surface.sid); err != nil {
		if errors.Is(err, scene.ErrRoleConflict) {
			return protoErr(x.id, wire.WmBaseErrorRole, "%v", err)
		}
		return protoErr(x.id, wire.WmBaseErrorInvalidPopupParent, "%v", err)
	}
	p := &popup{id: id, xdg: x, parent: parent, positioner: pos}
	r, err := c.add(id, wire.InterfacePopup, x.version, p.request)
	if err != nil {
		return err
	}
	r.data = p
	r.destroy = p.destroyed
	x.popup = p
	p.place()
	return nil
}

// precommit enforces the xdg-shell commit rules before the scene sees the state
func (x *xdgSurface) precommit(p pending) error {
	if x.toplevel == nil && x.popup == nil {
		return protoErr(x.id, wire.XdgSurfaceErrorNotConstructed, "commit before get_toplevel or get_popup")
	}
	if p.attached && p.buffer != nil && !x.configured {
		return protoErr(x.id, wire.XdgSurfaceErrorUnconfiguredBuffer, "buffer attached before the first ack_configure")
	}
	return nil
}

func (x *xdgSurface) postcommit(res scene.CommitResult) {
	d := x.client().d
	switch {
	case !x.initialSent:
		x.initialSent = true
		if x.toplevel != nil {
			x.toplevel.state = d.policy.ToplevelCreated(x.surface.sid)
			x.toplevel.sendConfigure()
		} else if x.popup != nil {
			x.popup.sendConfigure()
		}
	case res.Mapped && x.toplevel != nil:
		d.policy.ToplevelMapped(x.surface.sid)
	case res.Unmapped:
		// A null buffer resets the surface to the state right after get_toplevel
		x.initialSent, x.configured, x.serials = false, false, nil
		if x.toplevel != nil {
			d.policy.ToplevelUnmapped(x.surface.sid)
		}
	}
}

// ---- xdg_toplevel ----

func (t *toplevel) request(opcode uint16, args *wire.Reader) error {
	x := t.xdg
	c := x.client()
	d := c.d
	if x.surface.destroyed && opcode != wire.ToplevelDestroy {
		return nil
	}
	ss, _ := d.scene.Surface(x.surface.sid)
	switch opcode {
	case wire.ToplevelDestroy:
		c.remove(t.id)
	case wire.ToplevelSetParent:
		pid := args.Object()
		if pid == 0 {
			zero := scene.SurfaceID(0)
			x.surface.pending.parent = &zero
			return nil
		}
		pr, err := c.object(pid, wire.InterfaceToplevel, false)
		if err != nil {
			return err
		}
		parent := pr.data.(*toplevel).xdg.surface.sid
		x.surface.pending.parent = &parent
	case wire.ToplevelSetTitle:
		if ss != nil {
			ss.Title = args.String()
		}
	case wire.ToplevelSetAppID:
		if ss != nil {
			ss.AppID = args.String()
		}
	case wire.ToplevelShowWindowMenu:
		// No window menu
	case wire.ToplevelMove:
		d.policy.RequestMove(x.surface.sid)
	case wire.ToplevelResize:
		args.Object()
		args.Uint()
		d.policy.RequestResize(x.surface.sid, args.Uint())
	case wire.ToplevelSetMaxSize:
		t.maxSize = generaldata.Vector2i{X: int(args.Int()), Y: int(args.Int())}
	case wire.ToplevelSetMinSize:
		t.minSize = generaldata.Vector2i{X: int(args.Int()), Y: int(args.Int())}
	case wire.ToplevelSetMaximized, wire.ToplevelUnsetMaximized,
		wire.ToplevelSetFullscreen, wire.ToplevelUnsetFullscreen:
		// The layout decides, answering with the current state declines the request
		if x.initialSent {
			t.sendConfigure()
		}
	case wire.ToplevelSetMinimized:
	default:
		return protoErr(wire.DisplayID, wire.ErrorInvalidMethod, "xdg_toplevel has no request %d", opcode)
	}
	return nil
}

func (t *toplevel) sendConfigure() {
	var states []uint32
	if t.state.Maximized {
		states = append(states, wire.ToplevelStateMaximized)
	}
	if t.state.Fullscreen {
		states = append(states, wire.ToplevelStateFullscreen)
	}
	if t.state.Resizing {
		states = append(states, wire.ToplevelStateResizing)
	}
	if t.state.Activated {
		states = append(states, wire.ToplevelStateActivated)
	}
	c := t.xdg.client()
	c.send(t.id, wire.ToplevelEventConfigure, t.state.Size.X, t.state.Size.Y, wire.Uint32Array(states...))
	t.xdg.configure()
}

// destroyed unmaps the surface, a toplevel without its role object shows nothing
func (t *toplevel) destroyed() {
	x := t.xdg
	x.toplevel = nil
	s := x.surface
	if s.destroyed {
		return
	}
	d := s.client.d
	if s.mapped {
		s.mapped = false
		d.policy.ToplevelUnmapped(s.sid)
		if _, err := d.scene.Commit(s.sid, scene.Commit{RemoveBuffer: true}); err != nil {
			logrus.WithError(err).WithField("surface", s.sid).Debugln("Unmapping toplevel failed")
		}
	}
	x.initialSent, x.configured, x.serials = false, false, nil
}

// ConfigureToplevel asks a toplevel to take on state
func (d *Dispatcher) ConfigureToplevel(id scene.SurfaceID, state ToplevelState) error {
	s, ok := d.surfaces[id]
	if !ok || s.xdg == nil || s.xdg.toplevel == nil {
		return ErrUnknownSurface
	}
	t := s.xdg.toplevel
	changed := t.state != state
	t.state = state
	if changed && s.xdg.initialSent {
		t.sendConfigure()
	}
	return nil
}

// SendClose asks a toplevel to close itself
func (d *Dispatcher) SendClose(id scene.SurfaceID) error {
	s, ok := d.surfaces[id]
	if !ok || s.xdg == nil || s.xdg.toplevel == nil {
		return ErrUnknownSurface
	}
	s.client.send(s.xdg.toplevel.id, wire.ToplevelEventClose)
	return nil
}

// ---- xdg_popup ----

func (p *popup) request(opcode uint16, args *wire.Reader) error {
	c := p.xdg.client()
	switch opcode {
	case wire.PopupDestroy:
		c.remove(p.id)
	case wire.PopupGrab:
		args.Object()
		args.Uint()
		p.grabbed = true
	case wire.PopupReposition:
		pos, err := c.positionerOf(args.Object())
		if err != nil {
			return err
		}
		token := args.Uint()
		if !pos.complete() {
			return protoErr(p.xdg.id, wire.WmBaseErrorInvalidPositioner, "positioner needs a size and an anchor rectangle")
		}
		if p.done || p.xdg.surface.destroyed {
			return nil
		}
		p.positioner = pos
		p.place()
		c.send(p.id, wire.PopupEventRepositioned, token)
		p.sendConfigure()
	default:
		return protoErr(wire.DisplayID, wire.ErrorInvalidMethod, "xdg_popup has no request %d", opcode)
	}
	return nil
}

// place computes the popup geometry against the output its parent is on
func (p *popup) place() {
	d := p.xdg.client().d
	parentSurface := p.parent.surface
	origin := p.parent.geometry.Origin()
	var bounds generaldata.Rect
	if rect, ok := d.scene.GlobalRect(parentSurface.sid); ok {
		gx, gy := rect.X+origin.X, rect.Y+origin.Y
		if o, ok := d.scene.OutputAt(float64(gx), float64(gy)); ok {
			bounds = o.Rect().Translate(-gx, -gy)
		}
	}
	p.geometry = p.positioner.place(bounds)
	offset := origin.Add(p.geometry.Origin()).Sub(p.xdg.geometry.Origin())
	if err := d.scene.Reposition(p.xdg.surface.sid, offset); err != nil {
		logrus.WithError(err).WithField("surface", p.xdg.surface.sid).Debugln("Placing popup failed")
	}
}

func (p *popup) sendConfigure() {
	g := p.geometry
	p.xdg.client().send(p.id, wire.PopupEventConfigure, g.X, g.Y, g.W, g.H)
	p.xdg.configure()
}

// dismiss tells the client the popup is gone, e.g. because its parent was destroyed
func (p *popup) dismiss() {
	if p.done {
		return
	}
	p.done = true
	p.xdg.client().send(p.id, wire.PopupEventPopupDone)
}

func (p *popup) destroyed() {
	p.xdg.popup = nil
	s := p.xdg.surface
	if s.destroyed || !s.mapped {
		return
	}
	s.mapped = false
	if _, err := s.client.d.scene.Commit(s.sid, scene.Commit{RemoveBuffer: true}); err != nil {
		logrus.WithError(err).WithField("surface", s.sid).Debugln("Unmapping popup failed")
	}
}
