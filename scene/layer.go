package scene

import (
	"fmt"
	"slices"

	generaldata "github.com/BKSalman/buddaraysh/general-data"
	"github.com/sirupsen/logrus"
)

// LayerLevel orders shell surfaces against the windows. Background and Bottom stack
// under the top-level surfaces, Top and Overlay above them
type LayerLevel int

const (
	LayerBackground = LayerLevel(iota)
	LayerBottom
	LayerTop
	LayerOverlay
)

func (l LayerLevel) String() string {
	switch l {
	case LayerBackground:
		return "background"
	case LayerBottom:
		return "bottom"
	case LayerTop:
		return "top"
	case LayerOverlay:
		return "overlay"
	default:
		return fmt.Sprintf("layer(%d)", int(l))
	}
}

// Above reports levels drawn over the windows
func (l LayerLevel) Above() bool {
	return l >= LayerTop
}

// Anchor is a set of output edges a layer surface sticks to
type Anchor uint32

const (
	AnchorTop    = Anchor(1)
	AnchorBottom = Anchor(2)
	AnchorLeft   = Anchor(4)
	AnchorRight  = Anchor(8)
)

func (a Anchor) Has(edge Anchor) bool {
	return a&edge == edge
}

// exclusiveEdge is the edge an exclusive zone is taken from. Only surfaces anchored
// to one edge, or to one edge and both of its neighbours, can reserve space
func (a Anchor) exclusiveEdge() Anchor {
	switch a {
	case AnchorTop, AnchorTop | AnchorLeft | AnchorRight:
		return AnchorTop
	case AnchorBottom, AnchorBottom | AnchorLeft | AnchorRight:
		return AnchorBottom
	case AnchorLeft, AnchorLeft | AnchorTop | AnchorBottom:
		return AnchorLeft
	case AnchorRight, AnchorRight | AnchorTop | AnchorBottom:
		return AnchorRight
	}
	return 0
}

type KeyboardInteractivity int

const (
	KeyboardNone = KeyboardInteractivity(iota)
	KeyboardExclusive
	KeyboardOnDemand
)

type Margins struct {
	Top, Right, Bottom, Left int
}

// LayerState is the double-buffered state of a layer surface
type LayerState struct {
	Level  LayerLevel
	Anchor Anchor
	// Requested size. Zero stretches the surface between the anchored edges of that axis
	Size generaldata.Vector2i
	// Positive reserves space at the anchored edge, -1 ignores the space others reserved
	ExclusiveZone int
	Margin        Margins
	Keyboard      KeyboardInteractivity
	Namespace     string
}

// WantsFocus reports layer surfaces that take the keyboard when they map
func (l LayerState) WantsFocus() bool {
	return l.Level.Above() && l.Keyboard != KeyboardNone
}

// SetLayerRole turns a surface into a layer surface of an output. Output zero picks
// the output under the cursor, then the first enabled one
func (sc *Scene) SetLayerRole(id SurfaceID, output OutputID, state LayerState) error {
	s, ok := sc.surfaces[id]
	if !ok {
		return ErrUnknownSurface
	}
	if s.Role != RoleNone && s.Role != RoleLayer {
		return fmt.Errorf("%w: %s, wanted %s", ErrRoleConflict, s.Role, RoleLayer)
	}
	var o *Output
	if output != 0 {
		o, ok = sc.outputs[output]
	} else if o, ok = sc.OutputAt(sc.cursor.x, sc.cursor.y); !ok {
		for _, candidate := range sc.Outputs() {
			if candidate.Enabled() {
				o, ok = candidate, true
				break
			}
		}
	}
	if !ok || !o.Enabled() {
		return ErrUnknownOutput
	}
	s.Role = RoleLayer
	s.Layer = state
	s.AppID = state.Namespace
	s.output, s.lastOutput = o.ID, o.ID
	s.z = sc.bumpZ()
	return nil
}

// UsableArea is the part of an output not reserved by exclusive zones, in global coordinates
func (sc *Scene) UsableArea(id OutputID) generaldata.Rect {
	o, ok := sc.outputs[id]
	if !ok {
		return generaldata.Rect{}
	}
	if !o.reserved {
		return o.Rect()
	}
	return o.usable
}

// ArrangeLayers positions the layer surfaces of an output and recomputes its usable area.
// It reports whether the usable area changed
func (sc *Scene) ArrangeLayers(id OutputID) bool {
	o, ok := sc.outputs[id]
	if !ok {
		return false
	}
	return sc.arrangeLayers(o)
}

func (sc *Scene) layersOf(id OutputID) []*Surface {
	var out []*Surface
	for _, s := range sc.surfaces {
		if s.Role == RoleLayer && s.output == id {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b *Surface) int { return cmpZ(a.z, b.z) })
	return out
}

func (sc *Scene) arrangeLayers(o *Output) bool {
	full := o.Rect()
	usable := full
	for _, s := range sc.layersOf(o.ID) {
		before := sc.treeRects(s)
		st := s.Layer
		m := st.Margin
		bounds := usable
		if st.ExclusiveZone < 0 {
			bounds = full
		}

		size := st.Size
		if size.X == 0 {
			size.X = max(0, bounds.W-m.Left-m.Right)
		}
		if size.Y == 0 {
			size.Y = max(0, bounds.H-m.Top-m.Bottom)
		}
		s.layerSize = size
		if s.mapped {
			size = s.Size()
		}

		var pos generaldata.Vector2i
		switch {
		case st.Anchor.Has(AnchorLeft) && !st.Anchor.Has(AnchorRight):
			pos.X = bounds.X + m.Left
		case st.Anchor.Has(AnchorRight) && !st.Anchor.Has(AnchorLeft):
			pos.X = bounds.Right() - m.Right - size.X
		default:
			pos.X = bounds.X + m.Left + (bounds.W-m.Left-m.Right-size.X)/2
		}
		switch {
		case st.Anchor.Has(AnchorTop) && !st.Anchor.Has(AnchorBottom):
			pos.Y = bounds.Y + m.Top
		case st.Anchor.Has(AnchorBottom) && !st.Anchor.Has(AnchorTop):
			pos.Y = bounds.Bottom() - m.Bottom - size.Y
		default:
			pos.Y = bounds.Y + m.Top + (bounds.H-m.Top-m.Bottom-size.Y)/2
		}
		s.Position = pos

		if s.mapped && st.ExclusiveZone > 0 {
			usable = reserve(usable, st.Anchor.exclusiveEdge(), st.ExclusiveZone, m)
		}
		after := sc.treeRects(s)
		if !slices.Equal(before, after) {
			for _, r := range before {
				sc.damageGlobal(r)
			}
			for _, r := range after {
				sc.damageGlobal(r)
			}
		}
	}
	reserved := usable != full
	if reserved == o.reserved && (!reserved || usable == o.usable) {
		return false
	}
	o.usable, o.reserved = usable, reserved
	logrus.WithFields(logrus.Fields{"output": o.ID, "usable": sc.UsableArea(o.ID)}).Debugln("Usable area changed")
	return true
}

// reserve takes an exclusive zone off one edge of area
func reserve(area generaldata.Rect, edge Anchor, zone int, m Margins) generaldata.Rect {
	switch edge {
	case AnchorTop:
		cut := min(area.H, zone+m.Top)
		area.Y += cut
		area.H -= cut
	case AnchorBottom:
		area.H -= min(area.H, zone+m.Bottom)
	case AnchorLeft:
		cut := min(area.W, zone+m.Left)
		area.X += cut
		area.W -= cut
	case AnchorRight:
		area.W -= min(area.W, zone+m.Right)
	}
	return area
}
