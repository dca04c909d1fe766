// Package scene tracks outputs and client surfaces: geometry, stacking, visibility,
// damage and frame pacing. It is only ever touched from the compositor event loop.
package scene

import (
	"errors"
	"fmt"
	"math"
	"slices"

	generaldata "github.com/BKSalman/buddaraysh/general-data"
	"github.com/BKSalman/buddaraysh/render"
	"github.com/sirupsen/logrus"
)

const DefaultWorkspaces = 9

var (
	ErrInvalidSurfaceState = errors.New("invalid surface state")
	ErrUnknownSurface      = errors.New("unknown surface")
	ErrUnknownOutput       = errors.New("unknown output")
	ErrRoleConflict        = errors.New("surface already has another role")
	ErrNotDue              = errors.New("output has no frame due")
	ErrBadWorkspace        = errors.New("workspace out of range")
)

// TextureStore is the part of the renderer the scene needs to turn buffers into textures
type TextureStore interface {
	ImportBuffer(desc render.BufferDescriptor) (*render.Texture, error)
	UpdateTexture(tex *render.Texture, desc render.BufferDescriptor, damage []generaldata.Rect) (*render.Texture, error)
	ReleaseTexture(tex *render.Texture)
}

// Placer picks the position of a top-level surface the first time it maps
type Placer func(s *Surface, on *Output) generaldata.Vector2i

type cursorState struct {
	surface SurfaceID
	image   *render.Texture
	hotspot generaldata.Vector2i
	x, y    float64
	hidden  bool
}

type Scene struct {
	Workspaces int
	Placer     Placer

	textures    TextureStore
	outputs     map[OutputID]*Output
	surfaces    map[SurfaceID]*Surface
	nextOutput  OutputID
	nextSurface SurfaceID
	nextZ       uint64
	cursor      cursorState
}

func New(textures TextureStore, workspaces int) *Scene {
	if workspaces < 1 {
		workspaces = DefaultWorkspaces
	}
	return &Scene{
		Workspaces: workspaces,
		textures:   textures,
		outputs:    make(map[OutputID]*Output),
		surfaces:   make(map[SurfaceID]*Surface),
	}
}

// ---- Outputs ----

// Outputs returns every known output ordered by id
func (sc *Scene) Outputs() []*Output {
	out := make([]*Output, 0, len(sc.outputs))
	for _, o := range sc.outputs {
		out = append(out, o)
	}
	slices.SortFunc(out, func(a, b *Output) int { return int(a.ID) - int(b.ID) })
	return out
}

func (sc *Scene) Output(id OutputID) (*Output, bool) {
	o, ok := sc.outputs[id]
	return o, ok
}

func (sc *Scene) OutputByName(name string) (*Output, bool) {
	for _, o := range sc.Outputs() {
		if o.Info.Name == name {
			return o, true
		}
	}
	return nil, false
}

// AddOutput registers a disabled output to the right of the existing ones
func (sc *Scene) AddOutput(info OutputInfo) *Output {
	sc.nextOutput++
	x := 0
	for _, o := range sc.outputs {
		x = max(x, o.Rect().Right())
	}
	o := &Output{
		ID:       sc.nextOutput,
		Info:     info,
		Position: generaldata.Vector2i{X: x},
	}
	sc.outputs[o.ID] = o
	logrus.WithFields(logrus.Fields{
		"output": o.ID,
		"name":   info.Name,
		"mode":   info.Mode,
	}).Infoln("Output added")
	return o
}

func (sc *Scene) EnableOutput(id OutputID) error {
	o, ok := sc.outputs[id]
	if !ok {
		return ErrUnknownOutput
	}
	if o.state == OutputDisabled {
		o.state = OutputEnabled
		o.damageAll()
		sc.reassignAll()
	}
	return nil
}

// DisableOutput cancels the outstanding frame of the output, if any, and returns it.
// Callbacks of a cancelled token are discarded
func (sc *Scene) DisableOutput(id OutputID) (*FrameToken, error) {
	o, ok := sc.outputs[id]
	if !ok {
		return nil, ErrUnknownOutput
	}
	token := o.token
	if token != nil {
		token.cancel()
		o.token = nil
	}
	o.deferred = nil
	o.state = OutputDisabled
	o.damage.Clear()
	sc.reassignAll()
	logrus.WithField("output", id).Infoln("Output disabled")
	return token, nil
}

// RemoveOutput disables and forgets an output, e.g. on hot-unplug
func (sc *Scene) RemoveOutput(id OutputID) (*FrameToken, error) {
	token, err := sc.DisableOutput(id)
	if err != nil {
		return nil, err
	}
	delete(sc.outputs, id)
	for _, s := range sc.surfaces {
		if s.output == id {
			s.output = 0
		}
	}
	sc.reassignAll()
	return token, nil
}

func (sc *Scene) SetOutputMode(id OutputID, mode Mode) error {
	o, ok := sc.outputs[id]
	if !ok {
		return ErrUnknownOutput
	}
	o.Info.Mode = mode
	o.damage.Clear()
	o.damageAll()
	sc.reassignAll()
	return nil
}

// OutputAt returns the enabled output containing the global point
func (sc *Scene) OutputAt(x, y float64) (*Output, bool) {
	px, py := int(math.Floor(x)), int(math.Floor(y))
	for _, o := range sc.Outputs() {
		if o.Enabled() && o.Rect().Contains(px, py) {
			return o, true
		}
	}
	return nil, false
}

// LayoutBounds is the bounding box of all enabled outputs
func (sc *Scene) LayoutBounds() generaldata.Rect {
	var b generaldata.Rect
	for _, o := range sc.outputs {
		if o.Enabled() {
			b = b.Bounds(o.Rect())
		}
	}
	return b
}

func (sc *Scene) SwitchWorkspace(id OutputID, ws int) error {
	o, ok := sc.outputs[id]
	if !ok {
		return ErrUnknownOutput
	}
	if ws < 0 || ws >= sc.Workspaces {
		return fmt.Errorf("%w: %d", ErrBadWorkspace, ws)
	}
	if o.Workspace == ws {
		return nil
	}
	o.Workspace = ws
	o.damageAll()
	logrus.WithFields(logrus.Fields{"output": id, "workspace": ws}).Debugln("Switched workspace")
	return nil
}

// ---- Surfaces ----

func (sc *Scene) CreateSurface(client ClientID) *Surface {
	sc.nextSurface++
	s := &Surface{ID: sc.nextSurface, Client: client, bufferScale: 1}
	sc.surfaces[s.ID] = s
	return s
}

func (sc *Scene) Surface(id SurfaceID) (*Surface, bool) {
	s, ok := sc.surfaces[id]
	return s, ok
}

// Surfaces returns every live surface ordered by id
func (sc *Scene) Surfaces() []*Surface {
	out := make([]*Surface, 0, len(sc.surfaces))
	for _, s := range sc.surfaces {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b *Surface) int { return int(a.ID) - int(b.ID) })
	return out
}

// SetRole gives a surface its role. Popups need a live parent
func (sc *Scene) SetRole(id SurfaceID, role Role, parent SurfaceID) error {
	s, ok := sc.surfaces[id]
	if !ok {
		return ErrUnknownSurface
	}
	if s.Role != RoleNone && s.Role != role {
		return fmt.Errorf("%w: %s, wanted %s", ErrRoleConflict, s.Role, role)
	}
	if role == RolePopup {
		if err := sc.checkParent(id, parent); err != nil {
			return err
		}
		s.Parent = parent
		s.z = sc.bumpZ()
	}
	s.Role = role
	return nil
}

func (sc *Scene) bumpZ() uint64 {
	sc.nextZ++
	return sc.nextZ
}

// broken reports whether any ancestor of s is gone or orphaned
func (sc *Scene) broken(s *Surface) bool {
	for depth := 0; s.Parent != 0; depth++ {
		if s.orphaned || depth > len(sc.surfaces) {
			return true
		}
		p, ok := sc.surfaces[s.Parent]
		if !ok {
			return true
		}
		s = p
	}
	return s.orphaned
}

// checkParent validates that parent may become the parent of id
func (sc *Scene) checkParent(id, parent SurfaceID) error {
	p, ok := sc.surfaces[parent]
	if !ok {
		return fmt.Errorf("%w: parent %d does not exist", ErrInvalidSurfaceState, parent)
	}
	if sc.broken(p) {
		return fmt.Errorf("%w: parent %d lost its own parent", ErrInvalidSurfaceState, parent)
	}
	for cur := p; ; {
		if cur.ID == id {
			return fmt.Errorf("%w: parenting %d to %d creates a cycle", ErrInvalidSurfaceState, id, parent)
		}
		if cur.Parent == 0 {
			return nil
		}
		cur = sc.surfaces[cur.Parent]
	}
}

// Commit applies a client commit atomically. On error nothing changes
func (sc *Scene) Commit(id SurfaceID, c Commit) (CommitResult, error) {
	var res CommitResult
	s, ok := sc.surfaces[id]
	if !ok {
		return res, ErrUnknownSurface
	}
	if sc.broken(s) || (s.Role == RolePopup && s.Parent == 0) {
		return res, fmt.Errorf("%w: surface %d has no live parent", ErrInvalidSurfaceState, id)
	}
	if c.Parent != nil && *c.Parent != 0 {
		if err := sc.checkParent(id, *c.Parent); err != nil {
			return res, err
		}
	}
	if c.BufferScale < 0 {
		return res, fmt.Errorf("%w: buffer scale %d", ErrInvalidSurfaceState, c.BufferScale)
	}

	tex := s.texture
	switch {
	case c.RemoveBuffer:
		tex = nil
	case c.Buffer != nil:
		var err error
		if s.texture == nil {
			tex, err = sc.textures.ImportBuffer(*c.Buffer)
		} else {
			tex, err = sc.textures.UpdateTexture(s.texture, *c.Buffer, c.BufferDamage)
		}
		if err != nil {
			return res, err
		}
	}

	// Nothing below fails
	before := sc.treeRects(s)
	wasMapped := s.mapped
	oldSize := s.Size()
	restacked := c.Layer != nil && c.Layer.Level != s.Layer.Level

	if c.Parent != nil {
		s.Parent = *c.Parent
	}
	if c.Layer != nil && s.Role == RoleLayer {
		s.Layer = *c.Layer
	}
	if c.RemoveBuffer && s.texture != nil {
		sc.textures.ReleaseTexture(s.texture)
	}
	s.texture = tex
	if c.BufferScale > 0 {
		s.bufferScale = c.BufferScale
	}
	if c.ResetInputRegion {
		s.inputRegion = nil
	} else if c.InputRegion != nil {
		region := c.InputRegion.Clone()
		s.inputRegion = &region
	}
	if s.Role != RoleCursor {
		s.Position = s.Position.Add(c.Offset)
	} else {
		sc.cursor.hotspot = sc.cursor.hotspot.Sub(c.Offset)
	}
	s.callbacks = append(s.callbacks, c.Callbacks...)
	s.mapped = s.texture != nil && s.Role != RoleNone

	res.Mapped = s.mapped && !wasMapped
	res.Unmapped = wasMapped && !s.mapped
	res.Resized = oldSize != s.Size()

	if res.Mapped && s.isRoot() {
		s.z = sc.bumpZ()
		sc.place(s)
	}
	if s.isRoot() {
		sc.assign(s)
	}
	if o, ok := sc.outputs[s.output]; ok && s.Role == RoleLayer {
		res.UsableChanged = sc.arrangeLayers(o)
	}

	after := sc.treeRects(s)
	if res.Mapped || res.Unmapped || restacked || !slices.Equal(before, after) {
		for _, r := range before {
			sc.damageGlobal(r)
		}
		for _, r := range after {
			sc.damageGlobal(r)
		}
	} else if s.mapped {
		rect := sc.globalRect(s)
		for _, d := range c.BufferDamage {
			sc.damageGlobal(s.bufferToSurface(d).Translate(rect.X, rect.Y).Intersect(rect))
		}
		for _, d := range c.SurfaceDamage {
			sc.damageGlobal(d.Translate(rect.X, rect.Y).Intersect(rect))
		}
	}
	if len(s.callbacks) > 0 {
		if o, ok := sc.outputs[sc.displayedOn(s)]; ok {
			o.markDirty()
		}
	}
	logrus.WithFields(logrus.Fields{
		"surface": id,
		"role":    s.Role,
		"mapped":  s.mapped,
		"size":    s.Size(),
	}).Traceln("Surface commit")
	return res, nil
}

// place puts a freshly mapped root surface on the output under the cursor
func (sc *Scene) place(s *Surface) {
	o, ok := sc.OutputAt(sc.cursor.x, sc.cursor.y)
	if !ok {
		for _, candidate := range sc.Outputs() {
			if candidate.Enabled() {
				o, ok = candidate, true
				break
			}
		}
	}
	if !ok {
		return
	}
	s.Workspace = o.Workspace
	s.output, s.lastOutput = o.ID, o.ID
	if sc.Placer != nil {
		s.Position = sc.Placer(s, o)
	}
}

// Destroy removes a surface from the arena. Popups that referenced it become orphans:
// they stay allocated for their client but never composite again. Their ids are returned
func (sc *Scene) Destroy(id SurfaceID) []SurfaceID {
	s, ok := sc.surfaces[id]
	if !ok {
		return nil
	}
	for _, r := range sc.treeRects(s) {
		sc.damageGlobal(r)
	}
	if s.texture != nil {
		sc.textures.ReleaseTexture(s.texture)
	}
	delete(sc.surfaces, id)

	var orphans []SurfaceID
	for _, other := range sc.Surfaces() {
		if other.Parent != id {
			continue
		}
		if other.Role == RolePopup {
			other.orphaned = true
			orphans = append(orphans, other.ID)
		} else {
			other.Parent = 0
		}
	}
	if sc.cursor.surface == id {
		sc.cursor.surface = 0
	}
	logrus.WithFields(logrus.Fields{"surface": id, "orphans": orphans}).Debugln("Surface destroyed")
	return orphans
}

// DestroyClient removes every surface owned by client
func (sc *Scene) DestroyClient(client ClientID) {
	for _, s := range sc.Surfaces() {
		if s.Client == client {
			sc.Destroy(s.ID)
		}
	}
}

// Move places a root surface at a new global position
func (sc *Scene) Move(id SurfaceID, pos generaldata.Vector2i) error {
	s, ok := sc.surfaces[id]
	if !ok {
		return ErrUnknownSurface
	}
	if !s.isRoot() {
		return fmt.Errorf("%w: only top-level surfaces move freely", ErrInvalidSurfaceState)
	}
	before := sc.treeRects(s)
	s.Position = pos
	sc.assign(s)
	for _, r := range before {
		sc.damageGlobal(r)
	}
	for _, r := range sc.treeRects(s) {
		sc.damageGlobal(r)
	}
	return nil
}

// Reposition moves a popup relative to its parent
func (sc *Scene) Reposition(id SurfaceID, offset generaldata.Vector2i) error {
	s, ok := sc.surfaces[id]
	if !ok {
		return ErrUnknownSurface
	}
	if s.Role != RolePopup || sc.broken(s) {
		return fmt.Errorf("%w: surface %d is not a live popup", ErrInvalidSurfaceState, id)
	}
	before := sc.treeRects(s)
	s.Position = offset
	for _, r := range before {
		sc.damageGlobal(r)
	}
	for _, r := range sc.treeRects(s) {
		sc.damageGlobal(r)
	}
	return nil
}

// Raise puts the root of a surface on top of the other roots
func (sc *Scene) Raise(id SurfaceID) error {
	s, ok := sc.surfaces[id]
	if !ok {
		return ErrUnknownSurface
	}
	root := sc.root(s)
	if root == nil || !root.isRoot() {
		return fmt.Errorf("%w: surface %d has no top-level", ErrInvalidSurfaceState, id)
	}
	if root.z == sc.nextZ {
		return nil
	}
	root.z = sc.bumpZ()
	for _, r := range sc.treeRects(root) {
		sc.damageGlobal(r)
	}
	return nil
}

// SetWorkspace moves a root surface to another workspace of its output
func (sc *Scene) SetWorkspace(id SurfaceID, ws int) error {
	s, ok := sc.surfaces[id]
	if !ok {
		return ErrUnknownSurface
	}
	if ws < 0 || ws >= sc.Workspaces {
		return fmt.Errorf("%w: %d", ErrBadWorkspace, ws)
	}
	for _, r := range sc.treeRects(s) {
		sc.damageGlobal(r)
	}
	s.Workspace = ws
	return nil
}

func (sc *Scene) root(s *Surface) *Surface {
	for depth := 0; s.Role == RolePopup; depth++ {
		p, ok := sc.surfaces[s.Parent]
		if !ok || depth > len(sc.surfaces) {
			return nil
		}
		s = p
	}
	return s
}

// GlobalRect returns the area a surface covers in global coordinates
func (sc *Scene) GlobalRect(id SurfaceID) (generaldata.Rect, bool) {
	s, ok := sc.surfaces[id]
	if !ok {
		return generaldata.Rect{}, false
	}
	return sc.globalRect(s), true
}

func (sc *Scene) globalRect(s *Surface) generaldata.Rect {
	size := s.Size()
	switch s.Role {
	case RolePopup:
		p, ok := sc.surfaces[s.Parent]
		if !ok || s.orphaned {
			return generaldata.Rect{}
		}
		origin := sc.globalRect(p).Origin().Add(s.Position)
		return generaldata.NewRect(origin.X, origin.Y, size.X, size.Y)
	case RoleCursor:
		if sc.cursor.surface != s.ID {
			return generaldata.Rect{}
		}
		x := int(math.Floor(sc.cursor.x)) - sc.cursor.hotspot.X
		y := int(math.Floor(sc.cursor.y)) - sc.cursor.hotspot.Y
		return generaldata.NewRect(x, y, size.X, size.Y)
	default:
		return generaldata.NewRect(s.Position.X, s.Position.Y, size.X, size.Y)
	}
}

// visible reports whether s composites at all
func (sc *Scene) visible(s *Surface) bool {
	if !s.mapped || sc.broken(s) {
		return false
	}
	root := sc.root(s)
	if root == nil || !root.mapped {
		return false
	}
	o, ok := sc.outputs[root.output]
	switch {
	case root.Role == RoleLayer:
		// Shell surfaces show on every workspace
		return ok && o.Enabled()
	case root.isRoot():
		return ok && o.Enabled() && root.Workspace == o.Workspace
	}
	return false
}

// displayedOn returns the output that composites s, 0 if none
func (sc *Scene) displayedOn(s *Surface) OutputID {
	if s.Role == RoleCursor {
		if sc.cursor.surface == s.ID && !sc.cursor.hidden {
			return sc.largestIntersection(sc.globalRect(s))
		}
		return 0
	}
	if !sc.visible(s) {
		return 0
	}
	return sc.root(s).output
}

// treeRects lists the visible rectangles of s and its popups
func (sc *Scene) treeRects(s *Surface) []generaldata.Rect {
	var out []generaldata.Rect
	if sc.displayedOn(s) != 0 {
		out = append(out, sc.globalRect(s))
	}
	for _, child := range sc.children(s.ID) {
		out = append(out, sc.treeRects(child)...)
	}
	return out
}

// children returns the popups of a surface in stacking order
func (sc *Scene) children(id SurfaceID) []*Surface {
	var out []*Surface
	for _, s := range sc.surfaces {
		if s.Parent == id && s.Role == RolePopup && !s.orphaned {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b *Surface) int { return cmpZ(a.z, b.z) })
	return out
}

func cmpZ(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// largestIntersection picks the enabled output sharing the most area with r.
// Ties go to the lowest output id
func (sc *Scene) largestIntersection(r generaldata.Rect) OutputID {
	var best OutputID
	bestArea := 0
	for _, o := range sc.Outputs() {
		if !o.Enabled() {
			continue
		}
		if area := o.Rect().Intersect(r).Area(); area > bestArea {
			best, bestArea = o.ID, area
		}
	}
	return best
}

// assign updates the output a root surface is displayed on
func (sc *Scene) assign(s *Surface) {
	if !s.mapped {
		return
	}
	best := sc.largestIntersection(sc.globalRect(s))
	if best == 0 {
		if o, ok := sc.outputs[s.output]; ok && o.Enabled() {
			return
		}
		if s.output != 0 {
			s.lastOutput = s.output
		}
		s.output = 0
		return
	}
	if best != s.output {
		prev := s.output
		s.output = best
		// Returning to the output it was on keeps its workspace
		if best != s.lastOutput {
			s.Workspace = sc.outputs[best].Workspace
		}
		s.lastOutput = best
		logrus.WithFields(logrus.Fields{
			"surface": s.ID,
			"from":    prev,
			"to":      best,
		}).Debugln("Surface changed output")
	}
}

func (sc *Scene) reassignAll() {
	for _, s := range sc.Surfaces() {
		if s.isRoot() {
			sc.assign(s)
		}
	}
}

// damageGlobal adds a global rectangle to every output it touches
func (sc *Scene) damageGlobal(r generaldata.Rect) {
	if r.Empty() {
		return
	}
	for _, o := range sc.outputs {
		if !o.Enabled() {
			continue
		}
		if in := o.Rect().Intersect(r); !in.Empty() {
			o.addDamage(o.toLocal(in))
		}
	}
}

// DamageSurface marks the whole visible area of a surface and its popups
func (sc *Scene) DamageSurface(id SurfaceID) {
	if s, ok := sc.surfaces[id]; ok {
		for _, r := range sc.treeRects(s) {
			sc.damageGlobal(r)
		}
	}
}

// ---- Stacking ----

// Stack returns the surfaces composited on an output, bottom to top, cursor excluded.
// Background and Bottom layer surfaces come first, then the roots in raise order with every
// popup directly above its parent, then the Top and Overlay layer surfaces
func (sc *Scene) Stack(id OutputID) []*Surface {
	o, ok := sc.outputs[id]
	if !ok || !o.Enabled() {
		return nil
	}
	var roots, below, above []*Surface
	for _, s := range sc.surfaces {
		switch {
		case !s.mapped || s.output != id:
		case s.Role == RoleLayer && s.Layer.Level.Above():
			above = append(above, s)
		case s.Role == RoleLayer:
			below = append(below, s)
		case s.isRoot() && s.Workspace == o.Workspace:
			roots = append(roots, s)
		}
	}
	byLevel := func(a, b *Surface) int {
		if a.Layer.Level != b.Layer.Level {
			return int(a.Layer.Level) - int(b.Layer.Level)
		}
		return cmpZ(a.z, b.z)
	}
	slices.SortFunc(below, byLevel)
	slices.SortFunc(above, byLevel)
	slices.SortFunc(roots, func(a, b *Surface) int { return cmpZ(a.z, b.z) })
	roots = append(append(below, roots...), above...)
	out := make([]*Surface, 0, len(roots))
	var walk func(s *Surface)
	walk = func(s *Surface) {
		if s.mapped {
			out = append(out, s)
		}
		for _, child := range sc.children(s.ID) {
			walk(child)
		}
	}
	for _, r := range roots {
		walk(r)
	}
	return out
}

// Layers returns what the renderer draws for an output, bottom to top, cursor last
func (sc *Scene) Layers(id OutputID) []render.Layer {
	o, ok := sc.outputs[id]
	if !ok {
		return nil
	}
	stack := sc.Stack(id)
	layers := make([]render.Layer, 0, len(stack)+1)
	for _, s := range stack {
		layers = append(layers, render.Layer{Texture: s.texture, Dest: o.toLocal(sc.globalRect(s))})
	}
	if tex, rect, ok := sc.cursorLayer(); ok && sc.largestIntersection(rect) == id {
		layers = append(layers, render.Layer{Texture: tex, Dest: o.toLocal(rect)})
	}
	return layers
}

// SurfaceAt hit-tests the global point against the top-most surfaces of the output under it.
// Surfaces whose input region excludes the point are skipped
func (sc *Scene) SurfaceAt(x, y float64) (*Surface, float64, float64, bool) {
	o, ok := sc.OutputAt(x, y)
	if !ok {
		return nil, 0, 0, false
	}
	stack := sc.Stack(o.ID)
	for i := len(stack) - 1; i >= 0; i-- {
		s := stack[i]
		r := sc.globalRect(s)
		lx, ly := x-float64(r.X), y-float64(r.Y)
		if s.acceptsInput(int(math.Floor(lx)), int(math.Floor(ly))) {
			return s, lx, ly, true
		}
	}
	return nil, 0, 0, false
}

// SurfaceOrigin returns the global position of a surface's top-left corner
func (sc *Scene) SurfaceOrigin(id SurfaceID) (float64, float64, bool) {
	s, ok := sc.surfaces[id]
	if !ok {
		return 0, 0, false
	}
	r := sc.globalRect(s)
	return float64(r.X), float64(r.Y), true
}

// ---- Cursor ----

func (sc *Scene) cursorRect() generaldata.Rect {
	tex, rect, ok := sc.cursorLayer()
	if !ok || tex == nil {
		return generaldata.Rect{}
	}
	return rect
}

func (sc *Scene) cursorLayer() (*render.Texture, generaldata.Rect, bool) {
	if sc.cursor.hidden {
		return nil, generaldata.Rect{}, false
	}
	if sc.cursor.surface != 0 {
		s, ok := sc.surfaces[sc.cursor.surface]
		if !ok || !s.mapped {
			return nil, generaldata.Rect{}, false
		}
		return s.texture, sc.globalRect(s), true
	}
	if sc.cursor.image == nil {
		return nil, generaldata.Rect{}, false
	}
	size := sc.cursor.image.Size()
	x := int(math.Floor(sc.cursor.x)) - sc.cursor.hotspot.X
	y := int(math.Floor(sc.cursor.y)) - sc.cursor.hotspot.Y
	return sc.cursor.image, generaldata.NewRect(x, y, size.X, size.Y), true
}

// changeCursor wraps a cursor update with damage for the old and new area
func (sc *Scene) changeCursor(update func()) {
	before := sc.cursorRect()
	update()
	sc.damageGlobal(before)
	sc.damageGlobal(sc.cursorRect())
}

// SetCursorImage shows a compositor provided image as the pointer
func (sc *Scene) SetCursorImage(tex *render.Texture, hotspot generaldata.Vector2i) {
	sc.changeCursor(func() {
		sc.cursor.surface = 0
		sc.cursor.image = tex
		sc.cursor.hotspot = hotspot
		sc.cursor.hidden = false
	})
}

// SetCursorSurface shows a client surface as the pointer. id 0 hides the pointer
func (sc *Scene) SetCursorSurface(id SurfaceID, hotspot generaldata.Vector2i) error {
	if id != 0 {
		if err := sc.SetRole(id, RoleCursor, 0); err != nil {
			return err
		}
	}
	sc.changeCursor(func() {
		sc.cursor.surface = id
		sc.cursor.hotspot = hotspot
		sc.cursor.hidden = id == 0
	})
	return nil
}

// HideCursor hides the software cursor, e.g. when a hardware plane shows it
func (sc *Scene) HideCursor(hidden bool) {
	sc.changeCursor(func() { sc.cursor.hidden = hidden })
}

func (sc *Scene) MoveCursor(x, y float64) {
	sc.changeCursor(func() { sc.cursor.x, sc.cursor.y = x, y })
}

func (sc *Scene) CursorPosition() (float64, float64) {
	return sc.cursor.x, sc.cursor.y
}

func (sc *Scene) CursorSurface() SurfaceID {
	return sc.cursor.surface
}

// ---- Frames ----

// Due returns the outputs that are damaged and have no present in flight
func (sc *Scene) Due() []*Output {
	var due []*Output
	for _, o := range sc.Outputs() {
		if o.state == OutputDamaged && o.token == nil {
			due = append(due, o)
		}
	}
	return due
}

// BeginFrame moves an output to Presenting and returns the token, the damage to redraw
// and the layers to draw. The callbacks of every displayed surface move to the token
func (sc *Scene) BeginFrame(id OutputID) (*FrameToken, []render.Layer, error) {
	o, ok := sc.outputs[id]
	if !ok {
		return nil, nil, ErrUnknownOutput
	}
	if o.state != OutputDamaged || o.token != nil {
		return nil, nil, fmt.Errorf("%w: output %d is %s", ErrNotDue, id, o.state)
	}
	token := &FrameToken{Output: id, Damage: o.damage.Rects(), callbacks: o.deferred}
	o.damage.Clear()
	o.deferred = nil
	for _, s := range sc.Surfaces() {
		if len(s.callbacks) > 0 && sc.displayedOn(s) == id {
			token.callbacks = append(token.callbacks, s.callbacks...)
			s.callbacks = nil
		}
	}
	o.token = token
	o.state = OutputPresenting
	return token, sc.Layers(id), nil
}

// AbortFrame hands a frame that could not be presented back to its output.
// Its damage and callbacks carry over into the next BeginFrame
func (sc *Scene) AbortFrame(id OutputID) {
	o, ok := sc.outputs[id]
	if !ok || o.token == nil {
		return
	}
	token := o.token
	o.token = nil
	o.deferred = append(token.callbacks, o.deferred...)
	for _, r := range token.Damage {
		o.damage.Add(r)
	}
	o.markDirty()
}

// FinishFrame completes the in-flight frame matching seq and returns the callbacks to fire.
// Stale or cancelled completions return nothing
func (sc *Scene) FinishFrame(id OutputID, seq uint64) []FrameCallback {
	o, ok := sc.outputs[id]
	if !ok || o.token == nil || o.token.Seq != seq {
		return nil
	}
	callbacks := o.token.callbacks
	o.token = nil
	if o.state == OutputPresenting {
		o.state = OutputEnabled
	}
	return callbacks
}
