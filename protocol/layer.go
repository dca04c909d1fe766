package protocol

import (
	"errors"
	"slices"

	generaldata "github.com/BKSalman/buddaraysh/general-data"
	"github.com/BKSalman/buddaraysh/scene"
	"github.com/BKSalman/buddaraysh/wire"
	"github.com/sirupsen/logrus"
)

const layerShellVersion = 4

type layerSurface struct {
	id      uint32
	shell   uint32
	surface *surface
	version uint32
	output  scene.OutputID
	pending scene.LayerState

	serials    []uint32
	configured bool
	// The initial commit happened, configures may go out
	committed bool
	sent      generaldata.Vector2i
	sentOnce  bool
	closed    bool
}

func bindLayerShell(c *Client, id, version uint32) error {
	_, err := c.add(id, wire.InterfaceLayerShell, version, func(opcode uint16, args *wire.Reader) error {
		switch opcode {
		case wire.LayerShellGetLayerSurface:
			lid := args.NewID()
			s, err := c.surfaceOf(args.Object(), false)
			if err != nil {
				return err
			}
			outputID := args.Object()
			level := args.Uint()
			namespace := args.String()
			if level > uint32(scene.LayerOverlay) {
				return protoErr(id, wire.LayerShellErrorInvalidLayer, "layer %d", level)
			}
			return c.createLayerSurface(id, lid, version, s, outputID, scene.LayerState{
				Level:     scene.LayerLevel(level),
				Namespace: namespace,
			})
		case wire.LayerShellDestroy:
			c.remove(id)
		default:
			return protoErr(wire.DisplayID, wire.ErrorInvalidMethod, "zwlr_layer_shell_v1 has no request %d", opcode)
		}
		return nil
	})
	return err
}

// outputOf resolves a nullable wl_output argument. ok is false for an output that went away
func (c *Client) outputOf(id uint32) (output scene.OutputID, ok bool, err error) {
	r, err := c.object(id, wire.InterfaceOutput, true)
	if err != nil || r == nil {
		return 0, err == nil, err
	}
	for out, ids := range c.outputs {
		if slices.Contains(ids, id) {
			return out, true, nil
		}
	}
	return 0, false, nil
}

func (c *Client) createLayerSurface(shell, id, version uint32, s *surface, outputID uint32, state scene.LayerState) error {
	ss, ok := c.d.scene.Surface(s.sid)
	if s.xdg != nil || s.bridged || s.cursor || s.layer != nil || (ok && ss.Role != scene.RoleNone && ss.Role != scene.RoleLayer) {
		return protoErr(shell, wire.LayerShellErrorRole, "surface %d already has a role", s.id)
	}
	if ok && ss.Texture() != nil {
		return protoErr(shell, wire.LayerShellErrorAlreadyConstructed, "surface %d already has a buffer", s.id)
	}
	output, live, err := c.outputOf(outputID)
	if err != nil {
		return err
	}

	l := &layerSurface{id: id, shell: shell, surface: s, version: version, pending: state}
	r, err := c.add(id, wire.InterfaceLayerSurface, version, l.request)
	if err != nil {
		return err
	}
	r.data = l
	r.destroy = l.destroyed
	s.layer = l

	if live {
		err = c.d.scene.SetLayerRole(s.sid, output, state)
	}
	switch {
	case !live, errors.Is(err, scene.ErrUnknownOutput):
		// Nowhere to show it, the client has to try again later
		l.close()
		return nil
	case err != nil:
		return protoErr(shell, wire.LayerShellErrorRole, "%v", err)
	}
	l.output = ss.Output()
	logrus.WithFields(logrus.Fields{
		"surface":   s.sid,
		"layer":     state.Level,
		"namespace": state.Namespace,
		"output":    l.output,
	}).Debugln("New layer surface")
	return nil
}

func (l *layerSurface) client() *Client {
	return l.surface.client
}

func (l *layerSurface) request(opcode uint16, args *wire.Reader) error {
	c := l.client()
	switch opcode {
	case wire.LayerSurfaceSetSize:
		l.pending.Size = generaldata.Vector2i{X: int(args.Uint()), Y: int(args.Uint())}
	case wire.LayerSurfaceSetAnchor:
		anchor := args.Uint()
		if anchor > uint32(scene.AnchorTop|scene.AnchorBottom|scene.AnchorLeft|scene.AnchorRight) {
			return protoErr(l.id, wire.LayerSurfaceErrorInvalidAnchor, "anchor %#x", anchor)
		}
		l.pending.Anchor = scene.Anchor(anchor)
	case wire.LayerSurfaceSetExclusiveZone:
		l.pending.ExclusiveZone = int(args.Int())
	case wire.LayerSurfaceSetMargin:
		l.pending.Margin = scene.Margins{Top: int(args.Int()), Right: int(args.Int()), Bottom: int(args.Int()), Left: int(args.Int())}
	case wire.LayerSurfaceSetKeyboardInteractivity:
		mode := args.Uint()
		highest := scene.KeyboardExclusive
		if l.version >= 4 {
			highest = scene.KeyboardOnDemand
		}
		if mode > uint32(highest) {
			return protoErr(l.id, wire.LayerSurfaceErrorInvalidKeyboardInteractivity, "keyboard interactivity %d", mode)
		}
		l.pending.Keyboard = scene.KeyboardInteractivity(mode)
	case wire.LayerSurfaceGetPopup:
		// Popups get their parent at creation, there is nothing left to attach
		args.Object()
		logrus.WithField("surface", l.surface.sid).Debugln("Ignoring get_popup on a layer surface")
	case wire.LayerSurfaceAckConfigure:
		serial := args.Uint()
		i := slices.Index(l.serials, serial)
		if i < 0 {
			return protoErr(l.id, wire.LayerSurfaceErrorInvalidSurfaceState, "serial %d was never sent", serial)
		}
		l.serials = l.serials[i+1:]
		l.configured = true
	case wire.LayerSurfaceDestroy:
		c.remove(l.id)
	case wire.LayerSurfaceSetLayer:
		level := args.Uint()
		if level > uint32(scene.LayerOverlay) {
			return protoErr(l.shell, wire.LayerShellErrorInvalidLayer, "layer %d", level)
		}
		l.pending.Level = scene.LayerLevel(level)
	default:
		return protoErr(wire.DisplayID, wire.ErrorInvalidMethod, "zwlr_layer_surface_v1 has no request %d", opcode)
	}
	return nil
}

// precommit checks the layer shell commit rules and returns the state to apply
func (l *layerSurface) precommit(p pending) (*scene.LayerState, error) {
	st := l.pending
	if st.Size.X == 0 && !st.Anchor.Has(scene.AnchorLeft|scene.AnchorRight) {
		return nil, protoErr(l.id, wire.LayerSurfaceErrorInvalidSize, "zero width needs the left and right anchors")
	}
	if st.Size.Y == 0 && !st.Anchor.Has(scene.AnchorTop|scene.AnchorBottom) {
		return nil, protoErr(l.id, wire.LayerSurfaceErrorInvalidSize, "zero height needs the top and bottom anchors")
	}
	if p.attached && p.buffer != nil && !l.configured && !l.closed {
		return nil, protoErr(l.id, wire.LayerSurfaceErrorInvalidSurfaceState, "buffer attached before the first ack_configure")
	}
	return &st, nil
}

func (l *layerSurface) postcommit(res scene.CommitResult) {
	d := l.client().d
	switch {
	case res.Mapped:
		d.policy.LayerMapped(l.surface.sid)
	case res.Unmapped:
		// A null buffer starts over with a new initial configure
		l.committed, l.configured, l.serials, l.sentOnce = false, false, nil, false
		d.policy.LayerUnmapped(l.surface.sid)
		d.layersChanged(l.output, res.UsableChanged)
		return
	}
	l.committed = true
	d.layersChanged(l.output, res.UsableChanged)
}

// layersChanged tells every layer surface of an output its new size and lets the
// window layout follow the usable area
func (d *Dispatcher) layersChanged(output scene.OutputID, usableChanged bool) {
	for _, s := range d.surfaces {
		l := s.layer
		if l == nil || l.output != output || !l.committed || l.closed || s.destroyed {
			continue
		}
		ss, ok := d.scene.Surface(s.sid)
		if !ok {
			continue
		}
		if size := ss.LayerSize(); !l.sentOnce || size != l.sent {
			l.sendConfigure(size)
		}
	}
	if usableChanged {
		d.policy.UsableAreaChanged(output)
	}
}

// arrangeLayers redoes the layer arrangement of an output, e.g. after a mode change
func (d *Dispatcher) arrangeLayers(output scene.OutputID) {
	d.layersChanged(output, d.scene.ArrangeLayers(output))
}

func (l *layerSurface) sendConfigure(size generaldata.Vector2i) {
	c := l.client()
	serial := c.d.nextSerial()
	l.serials = append(l.serials, serial)
	l.sent, l.sentOnce = size, true
	c.send(l.id, wire.LayerSurfaceEventConfigure, serial, uint32(size.X), uint32(size.Y))
}

// close tells the client the surface will never show again, e.g. because its output is gone
func (l *layerSurface) close() {
	if l.closed {
		return
	}
	l.closed = true
	c := l.client()
	c.send(l.id, wire.LayerSurfaceEventClosed)
	l.unmap()
}

func (l *layerSurface) unmap() {
	s := l.surface
	if s.destroyed || !s.mapped {
		return
	}
	d := s.client.d
	s.mapped = false
	d.policy.LayerUnmapped(s.sid)
	res, err := d.scene.Commit(s.sid, scene.Commit{RemoveBuffer: true})
	if err != nil {
		logrus.WithError(err).WithField("surface", s.sid).Debugln("Unmapping layer surface failed")
		return
	}
	d.layersChanged(l.output, res.UsableChanged)
}

// destroyed unmaps the surface, like a toplevel without its role object
func (l *layerSurface) destroyed() {
	l.surface.layer = nil
	l.unmap()
}

// closeLayers closes the layer surfaces shown on an output that went away
func (d *Dispatcher) closeLayers(output scene.OutputID) {
	for _, s := range d.surfaces {
		if s.layer != nil && s.layer.output == output {
			s.layer.close()
		}
	}
}
