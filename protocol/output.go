package protocol

import (
	"fmt"
	"slices"

	"github.com/BKSalman/buddaraysh/scene"
	"github.com/BKSalman/buddaraysh/wire"
)

const outputVersion = 4

// OutputAdded advertises an enabled output as a wl_output global
func (d *Dispatcher) OutputAdded(o *scene.Output) {
	if _, ok := d.outputGlobal(o.ID); ok {
		return
	}
	id := o.ID
	d.addGlobal(&global{
		iface:   wire.InterfaceOutput,
		version: outputVersion,
		output:  id,
		bind: func(c *Client, rid, version uint32) error {
			return c.bindOutput(id, rid, version)
		},
	})
}

// OutputRemoved withdraws the global. Bound objects stay inert until the client releases them
func (d *Dispatcher) OutputRemoved(id scene.OutputID) {
	g, ok := d.outputGlobal(id)
	if !ok {
		return
	}
	d.removeGlobal(g)
	d.closeLayers(id)
	d.RefreshSurfaceOutputs()
	for _, c := range d.clients {
		delete(c.outputs, id)
	}
}

// OutputChanged resends the description of an output, e.g. after a mode change
func (d *Dispatcher) OutputChanged(o *scene.Output) {
	for _, c := range d.Clients() {
		for _, rid := range c.outputs[o.ID] {
			r, ok := c.objects[rid]
			if !ok {
				continue
			}
			c.describeOutput(o, rid, r.version)
		}
	}
	d.arrangeLayers(o.ID)
	d.RefreshSurfaceOutputs()
}

// RefreshSurfaceOutputs sends enter and leave for surfaces whose output changed
func (d *Dispatcher) RefreshSurfaceOutputs() {
	for _, c := range d.Clients() {
		for _, s := range c.surfaces() {
			s.updateOutput()
		}
	}
}

// Advertises reports whether clients can currently bind the output
func (d *Dispatcher) Advertises(id scene.OutputID) bool {
	_, ok := d.outputGlobal(id)
	return ok
}

func (d *Dispatcher) outputGlobal(id scene.OutputID) (*global, bool) {
	for _, g := range d.globals {
		if g.iface == wire.InterfaceOutput && g.output == id {
			return g, true
		}
	}
	return nil, false
}

func (c *Client) bindOutput(output scene.OutputID, id, version uint32) error {
	r, err := c.add(id, wire.InterfaceOutput, version, func(opcode uint16, _ *wire.Reader) error {
		if opcode == wire.OutputRelease {
			c.remove(id)
			return nil
		}
		return protoErr(wire.DisplayID, wire.ErrorInvalidMethod, "wl_output has no request %d", opcode)
	})
	if err != nil {
		return err
	}
	c.outputs[output] = append(c.outputs[output], id)
	r.destroy = func() {
		c.outputs[output] = slices.DeleteFunc(c.outputs[output], func(o uint32) bool { return o == id })
	}
	if o, ok := c.d.scene.Output(output); ok {
		c.describeOutput(o, id, version)
	}
	// Surfaces already on the output learn about the new object
	for _, s := range c.surfaces() {
		if s.output == output && s.mapped {
			c.send(s.id, wire.SurfaceEventEnter, id)
		}
	}
	return nil
}

func (c *Client) describeOutput(o *scene.Output, id, version uint32) {
	info := o.Info
	c.send(id, wire.OutputEventGeometry,
		int32(o.Position.X), int32(o.Position.Y),
		int32(info.PhysicalWidth), int32(info.PhysicalHeight),
		int32(0), // subpixel unknown
		info.Make, info.Model, int32(info.Transform))
	flags := wire.OutputModeCurrent
	if info.Mode.Preferred {
		flags |= wire.OutputModePreferred
	}
	c.send(id, wire.OutputEventMode, flags, int32(info.Mode.Width), int32(info.Mode.Height), int32(info.Mode.Refresh))
	if version >= 2 {
		c.send(id, wire.OutputEventScale, int32(o.Scale()))
	}
	if version >= 4 {
		c.send(id, wire.OutputEventName, info.Name)
		c.send(id, wire.OutputEventDescription, fmt.Sprintf("%s %s (%s)", info.Make, info.Model, info.Name))
	}
	if version >= 2 {
		c.send(id, wire.OutputEventDone)
	}
}
