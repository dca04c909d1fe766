package protocol

import (
	"github.com/BKSalman/buddaraysh/scene"
	"github.com/BKSalman/buddaraysh/wire"
)

const (
	xwaylandSurfaceErrorAlreadyAssociated = uint32(0)
	xwaylandSurfaceErrorInvalidSerial     = uint32(1)
	xwaylandShellErrorRole                = uint32(0)
)

// bindXwaylandShell serves the privileged interface Xwayland uses to tie its windows to surfaces
func bindXwaylandShell(c *Client, id, version uint32) error {
	if !c.privileged {
		return protoErr(wire.DisplayID, wire.ErrorInvalidObject, "xwayland_shell_v1 is reserved for Xwayland")
	}
	_, err := c.add(id, wire.InterfaceXwaylandShell, version, func(opcode uint16, args *wire.Reader) error {
		switch opcode {
		case wire.XwaylandShellDestroy:
			c.remove(id)
		case wire.XwaylandShellGetSurface:
			xid := args.NewID()
			s, err := c.surfaceOf(args.Object(), false)
			if err != nil {
				return err
			}
			return c.createXwaylandSurface(id, xid, version, s)
		default:
			return protoErr(wire.DisplayID, wire.ErrorInvalidMethod, "xwayland_shell_v1 has no request %d", opcode)
		}
		return nil
	})
	return err
}

func (c *Client) createXwaylandSurface(shell, id, version uint32, s *surface) error {
	if s.xdg != nil || s.layer != nil || s.cursor {
		return protoErr(shell, xwaylandShellErrorRole, "surface %d already has a role", s.id)
	}
	if err := c.d.scene.SetRole(s.sid, scene.RoleBridged, 0); err != nil {
		return protoErr(shell, xwaylandShellErrorRole, "%v", err)
	}
	var associated bool
	_, err := c.add(id, wire.InterfaceXwaylandSurface, version, func(opcode uint16, args *wire.Reader) error {
		switch opcode {
		case wire.XwaylandSurfaceSetSerial:
			lo, hi := args.Uint(), args.Uint()
			serial := uint64(hi)<<32 | uint64(lo)
			if associated {
				return protoErr(id, xwaylandSurfaceErrorAlreadyAssociated, "surface %d already has a serial", s.id)
			}
			if serial == 0 {
				return protoErr(id, xwaylandSurfaceErrorInvalidSerial, "serial 0")
			}
			if s.destroyed {
				return nil
			}
			associated = true
			s.bridged = true
			c.d.policy.SurfaceSerial(s.sid, serial)
		case wire.XwaylandSurfaceDestroy:
			c.remove(id)
		default:
			return protoErr(wire.DisplayID, wire.ErrorInvalidMethod, "xwayland_surface_v1 has no request %d", opcode)
		}
		return nil
	})
	return err
}
