package scene

import (
	"fmt"

	generaldata "github.com/BKSalman/buddaraysh/general-data"
)

type OutputID uint32

type OutputState int

const (
	OutputDisabled = OutputState(iota)
	OutputEnabled
	OutputDamaged
	OutputPresenting
)

func (s OutputState) String() string {
	switch s {
	case OutputDisabled:
		return "disabled"
	case OutputEnabled:
		return "enabled"
	case OutputDamaged:
		return "damaged"
	case OutputPresenting:
		return "presenting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type (
	// A display mode. Refresh is in millihertz
	Mode struct {
		Width     int
		Height    int
		Refresh   int
		Preferred bool
	}

	// What a backend knows about a display target
	OutputInfo struct {
		Name           string
		Make           string
		Model          string
		PhysicalWidth  int // millimetres
		PhysicalHeight int
		Modes          []Mode
		Mode           Mode
		Scale          int
		Transform      int
	}

	Output struct {
		ID       OutputID
		Info     OutputInfo
		Position generaldata.Vector2i
		// Index of the visible workspace
		Workspace int

		state  OutputState
		damage generaldata.Region
		token  *FrameToken
		// Callbacks of an aborted frame, waiting for the next one
		deferred []FrameCallback
		// Area left by the exclusive zones of layer surfaces, valid when reserved is set
		usable   generaldata.Rect
		reserved bool
	}
)

func (m Mode) String() string {
	return fmt.Sprintf("%dx%d@%d.%03dHz", m.Width, m.Height, m.Refresh/1000, m.Refresh%1000)
}

func (o *Output) State() OutputState {
	return o.state
}

func (o *Output) Enabled() bool {
	return o.state != OutputDisabled
}

func (o *Output) Scale() int {
	if o.Info.Scale < 1 {
		return 1
	}
	return o.Info.Scale
}

// PixelSize is the size of the output buffer in physical pixels
func (o *Output) PixelSize() generaldata.Vector2i {
	return generaldata.Vector2i{X: o.Info.Mode.Width, Y: o.Info.Mode.Height}
}

// Rect is the area the output covers in the global (logical) coordinate space
func (o *Output) Rect() generaldata.Rect {
	s := o.Scale()
	return generaldata.NewRect(o.Position.X, o.Position.Y, o.Info.Mode.Width/s, o.Info.Mode.Height/s)
}

// toLocal converts a global rectangle into output pixels
func (o *Output) toLocal(r generaldata.Rect) generaldata.Rect {
	s := o.Scale()
	return generaldata.NewRect((r.X-o.Position.X)*s, (r.Y-o.Position.Y)*s, r.W*s, r.H*s)
}

// PendingDamage returns the accumulated damage in output pixels
func (o *Output) PendingDamage() []generaldata.Rect {
	return o.damage.Rects()
}

// InFlight reports whether a present is outstanding
func (o *Output) InFlight() bool {
	return o.token != nil
}

func (o *Output) addDamage(local generaldata.Rect) {
	size := o.PixelSize()
	local = local.Intersect(generaldata.NewRect(0, 0, size.X, size.Y))
	if local.Empty() || !o.Enabled() {
		return
	}
	o.damage.Add(local)
	o.state = OutputDamaged
}

func (o *Output) damageAll() {
	size := o.PixelSize()
	o.addDamage(generaldata.NewRect(0, 0, size.X, size.Y))
}

// markDirty requests a frame even without damage, so frame callbacks get delivered
func (o *Output) markDirty() {
	if o.Enabled() {
		o.state = OutputDamaged
	}
}
