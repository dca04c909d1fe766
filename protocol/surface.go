package protocol

import (
	"errors"

	generaldata "github.com/BKSalman/buddaraysh/general-data"
	"github.com/BKSalman/buddaraysh/render"
	"github.com/BKSalman/buddaraysh/scene"
	"github.com/BKSalman/buddaraysh/wire"
	"github.com/sirupsen/logrus"
)

// pending is the double-buffered wl_surface state applied by commit
type pending struct {
	attached    bool
	buffer      *buffer
	offset      generaldata.Vector2i
	damage      []generaldata.Rect
	bufDamage   []generaldata.Rect
	callbacks   []uint32
	inputSet    bool
	inputRegion *generaldata.Region
	scale       int
	parent      *scene.SurfaceID
}

type surface struct {
	id        uint32
	sid       scene.SurfaceID
	client    *Client
	pending   pending
	output    scene.OutputID
	mapped    bool
	destroyed bool

	xdg    *xdgSurface
	layer  *layerSurface
	cursor bool
	// Set once a privileged client associated the surface with a legacy window
	bridged bool
}

// managed reports surfaces the window manager tracks as windows
func (s *surface) managed() bool {
	return s.bridged || (s.xdg != nil && s.xdg.toplevel != nil)
}

func bindCompositor(c *Client, id, version uint32) error {
	_, err := c.add(id, wire.InterfaceCompositor, version, func(opcode uint16, args *wire.Reader) error {
		switch opcode {
		case wire.CompositorCreateSurface:
			return c.createSurface(args.NewID(), version)
		case wire.CompositorCreateRegion:
			return c.createRegion(args.NewID())
		}
		return protoErr(wire.DisplayID, wire.ErrorInvalidMethod, "wl_compositor has no request %d", opcode)
	})
	return err
}

func (c *Client) createSurface(id, version uint32) error {
	s := &surface{id: id, client: c}
	r, err := c.add(id, wire.InterfaceSurface, version, s.request)
	if err != nil {
		return err
	}
	s.sid = c.d.scene.CreateSurface(c.id).ID
	c.d.surfaces[s.sid] = s
	r.data = s
	r.destroy = func() { c.d.destroySurface(s) }
	return nil
}

// surfaceOf resolves a wl_surface argument
func (c *Client) surfaceOf(id uint32, nullable bool) (*surface, error) {
	r, err := c.object(id, wire.InterfaceSurface, nullable)
	if err != nil || r == nil {
		return nil, err
	}
	return r.data.(*surface), nil
}

func (s *surface) request(opcode uint16, args *wire.Reader) error {
	c := s.client
	switch opcode {
	case wire.SurfaceDestroy:
		c.remove(s.id)
	case wire.SurfaceAttach:
		bufID := args.Object()
		x, y := args.Int(), args.Int()
		b, err := c.bufferOf(bufID)
		if err != nil {
			return err
		}
		s.pending.attached, s.pending.buffer = true, b
		s.pending.offset = generaldata.Vector2i{X: int(x), Y: int(y)}
	case wire.SurfaceDamage:
		s.pending.damage = append(s.pending.damage, readRect(args))
	case wire.SurfaceFrame:
		id := args.NewID()
		if _, err := c.add(id, wire.InterfaceCallback, 1, noRequests); err != nil {
			return err
		}
		s.pending.callbacks = append(s.pending.callbacks, id)
	case wire.SurfaceSetOpaqueRegion:
		// Only an optimisation hint, the software renderer blends everything
		args.Object()
	case wire.SurfaceSetInputRegion:
		region, err := c.regionOf(args.Object())
		if err != nil {
			return err
		}
		s.pending.inputSet = true
		if region == nil {
			s.pending.inputRegion = nil
		} else {
			clone := region.Clone()
			s.pending.inputRegion = &clone
		}
	case wire.SurfaceCommit:
		return s.commit()
	case wire.SurfaceSetBufferTransform:
		if t := args.Int(); t != 0 {
			logrus.WithField("transform", t).Debugln("Ignoring buffer transform")
		}
	case wire.SurfaceSetBufferScale:
		scale := args.Int()
		if scale < 1 {
			return protoErr(s.id, wire.SurfaceErrorInvalidScale, "buffer scale %d", scale)
		}
		s.pending.scale = int(scale)
	case wire.SurfaceDamageBuffer:
		s.pending.bufDamage = append(s.pending.bufDamage, readRect(args))
	case wire.SurfaceOffset:
		s.pending.offset = generaldata.Vector2i{X: int(args.Int()), Y: int(args.Int())}
	default:
		return protoErr(wire.DisplayID, wire.ErrorInvalidMethod, "wl_surface has no request %d", opcode)
	}
	return nil
}

func readRect(args *wire.Reader) generaldata.Rect {
	x, y := args.Int(), args.Int()
	w, h := args.Int(), args.Int()
	return generaldata.NewRect(int(x), int(y), int(w), int(h))
}

// commit hands the pending state to the scene in one piece
func (s *surface) commit() error {
	c := s.client
	d := c.d
	p := s.pending
	s.pending = pending{}

	if s.xdg != nil {
		if err := s.xdg.precommit(p); err != nil {
			return err
		}
	}
	var layer *scene.LayerState
	if s.layer != nil {
		var err error
		if layer, err = s.layer.precommit(p); err != nil {
			return err
		}
	} else if ss, ok := d.scene.Surface(s.sid); ok && ss.Role == scene.RoleLayer && p.attached && p.buffer != nil {
		// The layer surface object is gone, content stays hidden until a new one exists
		logrus.WithField("surface", s.sid).Debugln("Ignoring buffer of a layer surface without its role object")
		p.attached = false
	}

	commit := scene.Commit{
		SurfaceDamage:    p.damage,
		BufferDamage:     p.bufDamage,
		Offset:           p.offset,
		InputRegion:      p.inputRegion,
		ResetInputRegion: p.inputSet && p.inputRegion == nil,
		BufferScale:      p.scale,
		Parent:           p.parent,
		Layer:            layer,
	}
	if p.attached {
		switch {
		case p.buffer == nil:
			commit.RemoveBuffer = true
		case p.buffer.destroyed:
			// Destroyed before the commit, the old content stays
		default:
			desc := p.buffer.descriptor()
			commit.Buffer = &desc
		}
	}
	for _, id := range p.callbacks {
		commit.Callbacks = append(commit.Callbacks, c.frameCallback(id))
	}

	var res scene.CommitResult
	err := guardFault(func() error {
		var err error
		res, err = d.scene.Commit(s.sid, commit)
		return err
	})
	if p.buffer != nil && !p.buffer.destroyed {
		// Pixels were copied into a texture or rejected, either way the client may reuse the buffer
		c.send(p.buffer.id, wire.BufferEventRelease)
	}
	switch {
	case errors.Is(err, scene.ErrInvalidSurfaceState):
		// Rejected without changing anything, the client keeps its other surfaces
		logrus.WithError(err).WithField("client", c.id).Debugln("Commit rejected")
		for _, id := range p.callbacks {
			c.remove(id)
		}
		return nil
	case errors.Is(err, render.ErrInvalidBuffer), errors.Is(err, render.ErrUnsupportedFormat):
		return protoErr(p.buffer.id, wire.ShmErrorInvalidStride, "%v", err)
	case err != nil:
		return err
	}

	if res.Mapped {
		s.mapped = true
	}
	if res.Unmapped {
		s.mapped = false
	}
	switch {
	case s.xdg != nil:
		s.xdg.postcommit(res)
	case s.layer != nil:
		s.layer.postcommit(res)
	case s.bridged && res.Mapped:
		d.policy.ToplevelMapped(s.sid)
	case s.bridged && res.Unmapped:
		d.policy.ToplevelUnmapped(s.sid)
	}
	s.updateOutput()
	return nil
}

// frameCallback builds the scene callback that answers a wl_surface.frame
func (c *Client) frameCallback(id uint32) scene.FrameCallback {
	return func(msec uint32) {
		if _, ok := c.objects[id]; !ok {
			return
		}
		c.send(id, wire.CallbackEventDone, msec)
		c.remove(id)
	}
}

// updateOutput sends enter and leave when the surface moved to another output
func (s *surface) updateOutput() {
	ss, ok := s.client.d.scene.Surface(s.sid)
	if !ok {
		return
	}
	now := ss.Output()
	if !s.mapped {
		now = 0
	}
	if now == s.output {
		return
	}
	c := s.client
	for _, out := range c.outputs[s.output] {
		c.send(s.id, wire.SurfaceEventLeave, out)
	}
	for _, out := range c.outputs[now] {
		c.send(s.id, wire.SurfaceEventEnter, out)
	}
	s.output = now
}

// ---- wl_region ----

type region struct {
	generaldata.Region
}

func (c *Client) createRegion(id uint32) error {
	reg := &region{}
	r, err := c.add(id, wire.InterfaceRegion, 1, func(opcode uint16, args *wire.Reader) error {
		switch opcode {
		case wire.RegionDestroy:
			c.remove(id)
		case wire.RegionAdd:
			reg.Add(readRect(args))
		case wire.RegionSubtract:
			reg.Subtract(readRect(args))
		default:
			return protoErr(wire.DisplayID, wire.ErrorInvalidMethod, "wl_region has no request %d", opcode)
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.data = reg
	return nil
}

// regionOf resolves a nullable wl_region argument
func (c *Client) regionOf(id uint32) (*generaldata.Region, error) {
	r, err := c.object(id, wire.InterfaceRegion, true)
	if err != nil || r == nil {
		return nil, err
	}
	return &r.data.(*region).Region, nil
}
