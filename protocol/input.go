package protocol

import (
	"slices"

	generaldata "github.com/BKSalman/buddaraysh/general-data"
	"github.com/BKSalman/buddaraysh/scene"
	"github.com/BKSalman/buddaraysh/seat"
	"github.com/BKSalman/buddaraysh/wire"
)

const (
	SeatName = "seat0"

	// Keyboard repeat advertised to clients, in keys per second and milliseconds
	RepeatRate  = 25
	RepeatDelay = 600
)

func bindSeat(c *Client, id, version uint32) error {
	_, err := c.add(id, wire.InterfaceSeat, version, func(opcode uint16, args *wire.Reader) error {
		switch opcode {
		case wire.SeatGetPointer:
			return c.createPointer(args.NewID(), version)
		case wire.SeatGetKeyboard:
			return c.createKeyboard(args.NewID(), version)
		case wire.SeatGetTouch:
			return c.createTouch(args.NewID(), version)
		case wire.SeatRelease:
			c.remove(id)
			return nil
		}
		return protoErr(wire.DisplayID, wire.ErrorInvalidMethod, "wl_seat has no request %d", opcode)
	})
	if err != nil {
		return err
	}
	c.send(id, wire.SeatEventCapabilities, wire.SeatCapabilityPointer|wire.SeatCapabilityKeyboard|wire.SeatCapabilityTouch)
	if version >= 2 {
		c.send(id, wire.SeatEventName, SeatName)
	}
	return nil
}

// dropResource removes r from one of the per-device lists
func dropResource(list *[]*resource, r *resource) {
	*list = slices.DeleteFunc(*list, func(o *resource) bool { return o == r })
}

func (c *Client) createPointer(id, version uint32) error {
	r, err := c.add(id, wire.InterfacePointer, version, func(opcode uint16, args *wire.Reader) error {
		switch opcode {
		case wire.PointerSetCursor:
			args.Uint()
			sid := args.Object()
			hx, hy := args.Int(), args.Int()
			return c.setCursor(sid, generaldata.Vector2i{X: int(hx), Y: int(hy)})
		case wire.PointerRelease:
			c.remove(id)
			return nil
		}
		return protoErr(wire.DisplayID, wire.ErrorInvalidMethod, "wl_pointer has no request %d", opcode)
	})
	if err != nil {
		return err
	}
	c.pointers = append(c.pointers, r)
	r.destroy = func() { dropResource(&c.pointers, r) }
	return nil
}

// setCursor honours a cursor change only from the client that has pointer focus
func (c *Client) setCursor(id uint32, hotspot generaldata.Vector2i) error {
	s, err := c.surfaceOf(id, true)
	if err != nil {
		return err
	}
	d := c.d
	if d.seat == nil {
		return nil
	}
	focus, ok := d.surfaces[d.seat.PointerFocus()]
	if !ok || focus.client != c {
		return nil
	}
	if s == nil {
		d.policy.SetCursor(0, hotspot)
		return nil
	}
	if ss, ok := d.scene.Surface(s.sid); ok && ss.Role != scene.RoleNone && ss.Role != scene.RoleCursor {
		return protoErr(id, wire.PointerErrorRole, "surface %d already has role %s", id, ss.Role)
	}
	s.cursor = true
	d.policy.SetCursor(s.sid, hotspot)
	return nil
}

func (c *Client) createKeyboard(id, version uint32) error {
	r, err := c.add(id, wire.InterfaceKeyboard, version, func(opcode uint16, _ *wire.Reader) error {
		if opcode == wire.KeyboardRelease {
			c.remove(id)
			return nil
		}
		return protoErr(wire.DisplayID, wire.ErrorInvalidMethod, "wl_keyboard has no request %d", opcode)
	})
	if err != nil {
		return err
	}
	c.keyboards = append(c.keyboards, r)
	r.destroy = func() { dropResource(&c.keyboards, r) }

	d := c.d
	c.send(id, wire.KeyboardEventKeymap, wire.KeymapFormatXKBv1, wire.Fd(d.keymap.fd), d.keymap.size)
	if version >= 4 {
		c.send(id, wire.KeyboardEventRepeatInfo, int32(RepeatRate), int32(RepeatDelay))
	}
	if d.seat == nil {
		return nil
	}
	// Focus may have arrived before the keyboard object
	if s, ok := d.surfaces[d.seat.KeyboardFocus()]; ok && s.client == c {
		serial := d.nextSerial()
		c.send(id, wire.KeyboardEventEnter, serial, s.id, wire.Uint32Array())
		m := d.seat.Modifiers()
		c.send(id, wire.KeyboardEventModifiers, serial, m.Depressed, m.Latched, m.Locked, m.Group)
	}
	return nil
}

func (c *Client) createTouch(id, version uint32) error {
	r, err := c.add(id, wire.InterfaceTouch, version, func(opcode uint16, _ *wire.Reader) error {
		if opcode == wire.TouchRelease {
			c.remove(id)
			return nil
		}
		return protoErr(wire.DisplayID, wire.ErrorInvalidMethod, "wl_touch has no request %d", opcode)
	})
	if err != nil {
		return err
	}
	c.touches = append(c.touches, r)
	r.destroy = func() { dropResource(&c.touches, r) }
	return nil
}

// ---- seat.Sink ----

var _ seat.Sink = (*Dispatcher)(nil)

// target finds the protocol surface and client for routed input
func (d *Dispatcher) target(id scene.SurfaceID) (*surface, *Client, bool) {
	s, ok := d.surfaces[id]
	if !ok || s.destroyed || s.client.dead {
		return nil, nil, false
	}
	return s, s.client, true
}

func (d *Dispatcher) PointerEnter(id scene.SurfaceID, x, y float64) {
	s, c, ok := d.target(id)
	if !ok {
		return
	}
	serial := d.nextSerial()
	for _, p := range c.pointers {
		c.send(p.id, wire.PointerEventEnter, serial, s.id, wire.FixedFromFloat(x), wire.FixedFromFloat(y))
	}
}

func (d *Dispatcher) PointerLeave(id scene.SurfaceID) {
	s, c, ok := d.target(id)
	if !ok {
		return
	}
	serial := d.nextSerial()
	for _, p := range c.pointers {
		c.send(p.id, wire.PointerEventLeave, serial, s.id)
	}
}

func (d *Dispatcher) PointerMotion(id scene.SurfaceID, time uint32, x, y float64) {
	_, c, ok := d.target(id)
	if !ok {
		return
	}
	for _, p := range c.pointers {
		c.send(p.id, wire.PointerEventMotion, time, wire.FixedFromFloat(x), wire.FixedFromFloat(y))
	}
}

func (d *Dispatcher) PointerButton(id scene.SurfaceID, time, button uint32, pressed bool) {
	_, c, ok := d.target(id)
	if !ok {
		return
	}
	serial := d.nextSerial()
	for _, p := range c.pointers {
		c.send(p.id, wire.PointerEventButton, serial, time, button, boolState(pressed))
	}
}

func (d *Dispatcher) PointerAxis(id scene.SurfaceID, time uint32, axis seat.Axis, value float64) {
	_, c, ok := d.target(id)
	if !ok {
		return
	}
	for _, p := range c.pointers {
		c.send(p.id, wire.PointerEventAxis, time, uint32(axis), wire.FixedFromFloat(value))
	}
}

func (d *Dispatcher) PointerFrame(id scene.SurfaceID) {
	_, c, ok := d.target(id)
	if !ok {
		return
	}
	for _, p := range c.pointers {
		if p.version >= 5 {
			c.send(p.id, wire.PointerEventFrame)
		}
	}
}

func (d *Dispatcher) KeyboardEnter(id scene.SurfaceID, keys []uint32) {
	s, c, ok := d.target(id)
	if !ok {
		return
	}
	serial := d.nextSerial()
	for _, k := range c.keyboards {
		c.send(k.id, wire.KeyboardEventEnter, serial, s.id, wire.Uint32Array(keys...))
	}
}

func (d *Dispatcher) KeyboardLeave(id scene.SurfaceID) {
	s, c, ok := d.target(id)
	if !ok {
		return
	}
	serial := d.nextSerial()
	for _, k := range c.keyboards {
		c.send(k.id, wire.KeyboardEventLeave, serial, s.id)
	}
}

func (d *Dispatcher) Key(id scene.SurfaceID, time, key uint32, pressed bool) {
	_, c, ok := d.target(id)
	if !ok {
		return
	}
	serial := d.nextSerial()
	for _, k := range c.keyboards {
		c.send(k.id, wire.KeyboardEventKey, serial, time, key, boolState(pressed))
	}
}

func (d *Dispatcher) Modifiers(id scene.SurfaceID, m seat.Modifiers) {
	_, c, ok := d.target(id)
	if !ok {
		return
	}
	serial := d.nextSerial()
	for _, k := range c.keyboards {
		c.send(k.id, wire.KeyboardEventModifiers, serial, m.Depressed, m.Latched, m.Locked, m.Group)
	}
}

func (d *Dispatcher) TouchDown(id scene.SurfaceID, time uint32, point int32, x, y float64) {
	s, c, ok := d.target(id)
	if !ok {
		return
	}
	serial := d.nextSerial()
	for _, t := range c.touches {
		c.send(t.id, wire.TouchEventDown, serial, time, s.id, point, wire.FixedFromFloat(x), wire.FixedFromFloat(y))
	}
}

func (d *Dispatcher) TouchUp(id scene.SurfaceID, time uint32, point int32) {
	_, c, ok := d.target(id)
	if !ok {
		return
	}
	serial := d.nextSerial()
	for _, t := range c.touches {
		c.send(t.id, wire.TouchEventUp, serial, time, point)
	}
}

func (d *Dispatcher) TouchMotion(id scene.SurfaceID, time uint32, point int32, x, y float64) {
	_, c, ok := d.target(id)
	if !ok {
		return
	}
	for _, t := range c.touches {
		c.send(t.id, wire.TouchEventMotion, time, point, wire.FixedFromFloat(x), wire.FixedFromFloat(y))
	}
}

func (d *Dispatcher) TouchFrame(id scene.SurfaceID) {
	_, c, ok := d.target(id)
	if !ok {
		return
	}
	for _, t := range c.touches {
		c.send(t.id, wire.TouchEventFrame)
	}
}

func boolState(pressed bool) uint32 {
	if pressed {
		return 1
	}
	return 0
}
