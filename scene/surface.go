package scene

import (
	"fmt"

	generaldata "github.com/BKSalman/buddaraysh/general-data"
	"github.com/BKSalman/buddaraysh/render"
)

type (
	SurfaceID uint32
	ClientID  uint64
	Role      int
)

const (
	RoleNone = Role(iota)
	RoleToplevel
	RolePopup
	RoleCursor
	RoleBridged
	RoleLayer
)

func (r Role) String() string {
	switch r {
	case RoleNone:
		return "none"
	case RoleToplevel:
		return "toplevel"
	case RolePopup:
		return "popup"
	case RoleCursor:
		return "cursor"
	case RoleBridged:
		return "bridged"
	case RoleLayer:
		return "layer"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Called once the frame that showed the surface content has been presented
type FrameCallback func(msec uint32)

type (
	Surface struct {
		ID     SurfaceID
		Client ClientID
		Role   Role
		Parent SurfaceID
		// Global position for top-level and bridged surfaces, offset from the parent for popups
		Position generaldata.Vector2i
		// Index of the workspace the surface lives on, only meaningful for root surfaces
		Workspace int
		Floating  bool
		Title     string
		AppID     string
		// Applied layer shell state, only meaningful for layer surfaces
		Layer LayerState

		texture     *render.Texture
		bufferScale int
		// Region accepting input in surface coordinates, nil means all of it
		inputRegion *generaldata.Region
		z           uint64
		output      OutputID
		// Output the surface was last displayed on, kept while it has none
		lastOutput OutputID
		// Size the last arrangement gave a layer surface
		layerSize generaldata.Vector2i
		mapped    bool
		orphaned  bool
		callbacks []FrameCallback
	}

	// State a client applies atomically with wl_surface.commit
	Commit struct {
		// New buffer content. Nil keeps the current content
		Buffer *render.BufferDescriptor
		// A null buffer was attached, the surface unmaps
		RemoveBuffer bool
		// Damage in buffer and in surface coordinates
		BufferDamage  []generaldata.Rect
		SurfaceDamage []generaldata.Rect
		// Attach offset, moves the surface origin
		Offset generaldata.Vector2i
		// Nil keeps the current input region unless ResetInputRegion is set
		InputRegion      *generaldata.Region
		ResetInputRegion bool
		BufferScale      int
		Callbacks        []FrameCallback
		// Requests a new parent. Zero detaches
		Parent *SurfaceID
		// New layer shell state, nil keeps the current one
		Layer *LayerState
	}

	// What a commit changed, for the window management policy
	CommitResult struct {
		Mapped   bool
		Unmapped bool
		Resized  bool
		// Exclusive zones of the output changed, the layout has to follow
		UsableChanged bool
	}
)

func (s *Surface) Mapped() bool {
	return s.mapped
}

// Orphaned reports a popup whose parent was destroyed
func (s *Surface) Orphaned() bool {
	return s.orphaned
}

func (s *Surface) Output() OutputID {
	return s.output
}

func (s *Surface) Texture() *render.Texture {
	return s.texture
}

// Size is the logical size of the committed content
func (s *Surface) Size() generaldata.Vector2i {
	if s.texture == nil {
		return generaldata.Vector2i{}
	}
	scale := max(s.bufferScale, 1)
	size := s.texture.Size()
	return generaldata.Vector2i{X: size.X / scale, Y: size.Y / scale}
}

// LayerSize is the size a layer surface should take, zero before its first arrangement
func (s *Surface) LayerSize() generaldata.Vector2i {
	return s.layerSize
}

func (s *Surface) PendingCallbacks() int {
	return len(s.callbacks)
}

func (s *Surface) isRoot() bool {
	return s.Role == RoleToplevel || s.Role == RoleBridged
}

// acceptsInput reports whether a surface-local point is inside the input region
func (s *Surface) acceptsInput(x, y int) bool {
	size := s.Size()
	if x < 0 || y < 0 || x >= size.X || y >= size.Y {
		return false
	}
	if s.inputRegion == nil {
		return true
	}
	return s.inputRegion.Contains(x, y)
}

// bufferToSurface converts buffer damage into surface coordinates, rounding outwards
func (s *Surface) bufferToSurface(r generaldata.Rect) generaldata.Rect {
	scale := max(s.bufferScale, 1)
	if scale == 1 {
		return r
	}
	x0, y0 := r.X/scale, r.Y/scale
	x1, y1 := (r.Right()+scale-1)/scale, (r.Bottom()+scale-1)/scale
	return generaldata.NewRect(x0, y0, x1-x0, y1-y0)
}
