package protocol

import (
	"fmt"
	"slices"

	"github.com/BKSalman/buddaraysh/scene"
	"github.com/BKSalman/buddaraysh/wire"
	"github.com/sirupsen/logrus"
)

// ProtocolError is a fatal client error, delivered as wl_display.error before disconnecting
type ProtocolError struct {
	Object  uint32
	Code    uint32
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error %d on object %d: %s", e.Code, e.Object, e.Message)
}

func protoErr(object, code uint32, format string, args ...any) *ProtocolError {
	return &ProtocolError{Object: object, Code: code, Message: fmt.Sprintf(format, args...)}
}

// resource is one live protocol object of a client
type resource struct {
	id      uint32
	iface   string
	version uint32
	handle  func(opcode uint16, args *wire.Reader) error
	// The protocol state behind the object, e.g. *surface or *buffer
	data any
	// Runs when the object goes away, by request or with its client
	destroy func()
}

type outgoing struct {
	data []byte
	fds  []int
}

type Client struct {
	id         scene.ClientID
	d          *Dispatcher
	conn       *wire.Conn
	privileged bool

	decoder    wire.Decoder
	objects    map[uint32]*resource
	registries []uint32
	out        chan outgoing
	dead       bool

	pointers  []*resource
	keyboards []*resource
	touches   []*resource
	outputs   map[scene.OutputID][]uint32
}

func newClient(d *Dispatcher, id scene.ClientID, conn *wire.Conn, privileged bool) *Client {
	c := &Client{
		id:         id,
		d:          d,
		conn:       conn,
		privileged: privileged,
		objects:    make(map[uint32]*resource),
		out:        make(chan outgoing, d.opts.QueueLength),
		outputs:    make(map[scene.OutputID][]uint32),
	}
	c.objects[wire.DisplayID] = &resource{id: wire.DisplayID, iface: wire.InterfaceDisplay, version: 1, handle: c.displayRequest}
	return c
}

func (c *Client) ID() scene.ClientID {
	return c.id
}

func (c *Client) Privileged() bool {
	return c.privileged
}

func (c *Client) readLoop() {
	for {
		data, fds, err := c.conn.ReadBatch()
		select {
		case c.d.batches <- Batch{client: c, data: data, fds: fds, err: err}:
		case <-c.d.done:
			closeFds(fds)
			return
		}
		if err != nil {
			return
		}
	}
}

// writeLoop flushes the queue until the loop closes it, then hangs up
func (c *Client) writeLoop() {
	broken := false
	for m := range c.out {
		if broken {
			continue
		}
		if err := c.conn.Write(m.data, m.fds); err != nil {
			if !wire.IsClosed(err) {
				logrus.WithError(err).WithField("client", c.id).Debugln("Write to client failed")
			}
			broken = true
			c.conn.Close()
		}
	}
	c.conn.Close()
}

// send queues an event. A client that stopped reading is cut off instead of stalling the loop
func (c *Client) send(object uint32, opcode uint16, args ...any) {
	if c.dead {
		return
	}
	data, fds, err := wire.Encode(object, opcode, args...)
	if err != nil {
		logrus.WithError(err).WithField("client", c.id).Errorln("Encoding event failed")
		return
	}
	select {
	case c.out <- outgoing{data: data, fds: fds}:
	default:
		logrus.WithField("client", c.id).Warnln(ErrClientTooSlow)
		c.d.disconnect(c, nil)
	}
}

func (c *Client) dispatch(msg wire.Message) error {
	r, ok := c.objects[msg.Sender]
	if !ok {
		// Requests racing a destroy the client has not seen yet are dropped
		if msg.Sender >= serverIDBase {
			return nil
		}
		return protoErr(wire.DisplayID, wire.ErrorInvalidObject, "invalid object %d", msg.Sender)
	}
	args := msg.Args()
	if err := r.handle(msg.Opcode, args); err != nil {
		return err
	}
	if err := args.Err(); err != nil {
		return protoErr(r.id, wire.ErrorInvalidMethod, "%s.%d: %v", r.iface, msg.Opcode, err)
	}
	return nil
}

// add registers a client created object
func (c *Client) add(id uint32, iface string, version uint32, handle func(uint16, *wire.Reader) error) (*resource, error) {
	if id == 0 || id >= serverIDBase {
		return nil, protoErr(wire.DisplayID, wire.ErrorInvalidObject, "invalid new id %d", id)
	}
	if _, taken := c.objects[id]; taken {
		return nil, protoErr(wire.DisplayID, wire.ErrorInvalidObject, "id %d already in use", id)
	}
	r := &resource{id: id, iface: iface, version: version, handle: handle}
	c.objects[id] = r
	return r, nil
}

// remove forgets an object and lets the client reuse its id
func (c *Client) remove(id uint32) {
	r, ok := c.objects[id]
	if !ok {
		return
	}
	delete(c.objects, id)
	if r.destroy != nil {
		r.destroy()
	}
	c.send(wire.DisplayID, wire.DisplayEventDeleteID, id)
}

// object looks up an argument that must name an object of iface. Zero is allowed only when nullable
func (c *Client) object(id uint32, iface string, nullable bool) (*resource, error) {
	if id == 0 {
		if nullable {
			return nil, nil
		}
		return nil, protoErr(wire.DisplayID, wire.ErrorInvalidObject, "null %s", iface)
	}
	r, ok := c.objects[id]
	if !ok || r.iface != iface {
		return nil, protoErr(wire.DisplayID, wire.ErrorInvalidObject, "object %d is not a %s", id, iface)
	}
	return r, nil
}

// noRequests is the handler of objects without requests
func noRequests(opcode uint16, _ *wire.Reader) error {
	return protoErr(wire.DisplayID, wire.ErrorInvalidMethod, "no request %d", opcode)
}

func (c *Client) surfaces() []*surface {
	var out []*surface
	for _, s := range c.d.surfaces {
		if s.client == c {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b *surface) int { return int(a.sid) - int(b.sid) })
	return out
}

// ---- wl_display and wl_registry ----

func (c *Client) displayRequest(opcode uint16, args *wire.Reader) error {
	switch opcode {
	case wire.DisplaySync:
		id := args.NewID()
		if _, err := c.add(id, wire.InterfaceCallback, 1, noRequests); err != nil {
			return err
		}
		c.send(id, wire.CallbackEventDone, c.d.serial)
		c.remove(id)
	case wire.DisplayGetRegistry:
		id := args.NewID()
		if _, err := c.add(id, wire.InterfaceRegistry, 1, c.registryRequest); err != nil {
			return err
		}
		c.registries = append(c.registries, id)
		for _, g := range c.d.globals {
			c.announceTo(id, g)
		}
	default:
		return protoErr(wire.DisplayID, wire.ErrorInvalidMethod, "wl_display has no request %d", opcode)
	}
	return nil
}

func (c *Client) visible(g *global) bool {
	return !g.privileged || c.privileged
}

func (c *Client) announceTo(registry uint32, g *global) {
	if c.visible(g) {
		c.send(registry, wire.RegistryEventGlobal, g.name, g.iface, g.version)
	}
}

func (c *Client) announce(g *global) {
	for _, reg := range c.registries {
		c.announceTo(reg, g)
	}
}

func (c *Client) withdraw(g *global) {
	if !c.visible(g) {
		return
	}
	for _, reg := range c.registries {
		c.send(reg, wire.RegistryEventGlobalRemove, g.name)
	}
}

func (c *Client) registryRequest(opcode uint16, args *wire.Reader) error {
	if opcode != wire.RegistryBind {
		return protoErr(wire.DisplayID, wire.ErrorInvalidMethod, "wl_registry has no request %d", opcode)
	}
	name := args.Uint()
	iface := args.String()
	version := args.Uint()
	id := args.NewID()
	if err := args.Err(); err != nil {
		return err
	}
	g, ok := c.d.findGlobal(name)
	if !ok || !c.visible(g) {
		// The global may have gone away after the client saw it, bind an inert object
		_, err := c.add(id, iface, version, func(uint16, *wire.Reader) error { return nil })
		return err
	}
	if g.iface != iface {
		return protoErr(wire.DisplayID, wire.ErrorInvalidObject, "global %d is %s, not %s", name, g.iface, iface)
	}
	if version == 0 || version > g.version {
		return protoErr(wire.DisplayID, wire.ErrorInvalidObject, "%s version %d unsupported, max %d", iface, version, g.version)
	}
	return g.bind(c, id, version)
}
