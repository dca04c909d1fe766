// Package seat routes normalized input to surfaces. It is the only place that changes
// focus and grab state, everybody else reads it.
package seat

import (
	"math"
	"slices"

	generaldata "github.com/BKSalman/buddaraysh/general-data"
	"github.com/BKSalman/buddaraysh/scene"
	"github.com/sirupsen/logrus"
)

// Sink receives routed input for delivery to clients. Implementations queue and return,
// a slow client must never hold up routing
type Sink interface {
	PointerEnter(surface scene.SurfaceID, x, y float64)
	PointerLeave(surface scene.SurfaceID)
	PointerMotion(surface scene.SurfaceID, time uint32, x, y float64)
	PointerButton(surface scene.SurfaceID, time, button uint32, pressed bool)
	PointerAxis(surface scene.SurfaceID, time uint32, axis Axis, value float64)
	PointerFrame(surface scene.SurfaceID)

	KeyboardEnter(surface scene.SurfaceID, keys []uint32)
	KeyboardLeave(surface scene.SurfaceID)
	Key(surface scene.SurfaceID, time, key uint32, pressed bool)
	Modifiers(surface scene.SurfaceID, mods Modifiers)

	TouchDown(surface scene.SurfaceID, time uint32, id int32, x, y float64)
	TouchUp(surface scene.SurfaceID, time uint32, id int32)
	TouchMotion(surface scene.SurfaceID, time uint32, id int32, x, y float64)
	TouchFrame(surface scene.SurfaceID)
}

// HitTester answers what is under a global point. *scene.Scene implements it
type HitTester interface {
	SurfaceAt(x, y float64) (*scene.Surface, float64, float64, bool)
	SurfaceOrigin(id scene.SurfaceID) (float64, float64, bool)
	LayoutBounds() generaldata.Rect
}

type Axis uint32

const (
	AxisVertical = Axis(iota)
	AxisHorizontal
)

// Grab takes the pointer away from clients, e.g. while interactively moving a window
type Grab interface {
	Motion(x, y float64)
	// Button reports whether the grab is finished
	Button(button uint32, pressed bool) bool
}

type Seat struct {
	// Sees every key press before clients. Returning true consumes the press and its release
	KeyFilter func(key uint32, mods Modifiers) bool
	// Sees every button press before clients. Returning true consumes the press and its release
	ButtonFilter func(button uint32, mods Modifiers) bool

	sink Sink
	hits HitTester

	x, y         float64
	pointerFocus scene.SurfaceID
	buttons      map[uint32]bool
	consumed     map[uint32]bool
	grab         Grab

	keyboardFocus scene.SurfaceID
	// Surface each held key was pressed on, zero for consumed keys
	keys map[uint32]scene.SurfaceID
	mods modState

	touches     map[int32]scene.SurfaceID
	touchFrames map[scene.SurfaceID]bool
}

func New(sink Sink, hits HitTester) *Seat {
	return &Seat{
		sink:        sink,
		hits:        hits,
		buttons:     make(map[uint32]bool),
		consumed:    make(map[uint32]bool),
		keys:        make(map[uint32]scene.SurfaceID),
		touches:     make(map[int32]scene.SurfaceID),
		touchFrames: make(map[scene.SurfaceID]bool),
	}
}

// ---- Readers ----

func (s *Seat) Position() (float64, float64) {
	return s.x, s.y
}

func (s *Seat) PointerFocus() scene.SurfaceID {
	return s.pointerFocus
}

func (s *Seat) KeyboardFocus() scene.SurfaceID {
	return s.keyboardFocus
}

func (s *Seat) Modifiers() Modifiers {
	return s.mods.current()
}

// ButtonsDown reports whether an implicit grab is active
func (s *Seat) ButtonsDown() bool {
	return len(s.buttons) > 0
}

func (s *Seat) Grabbed() bool {
	return s.grab != nil
}

// ---- Pointer ----

// PointerMotion moves the pointer relatively, as mice do
func (s *Seat) PointerMotion(time uint32, dx, dy float64) {
	s.PointerWarp(time, s.x+dx, s.y+dy)
}

// PointerWarp moves the pointer to an absolute global position, clamped to the output layout
func (s *Seat) PointerWarp(time uint32, x, y float64) {
	bounds := s.hits.LayoutBounds()
	if !bounds.Empty() {
		x = math.Max(float64(bounds.X), math.Min(x, float64(bounds.Right())-1))
		y = math.Max(float64(bounds.Y), math.Min(y, float64(bounds.Bottom())-1))
	}
	s.x, s.y = x, y
	s.route(time)
}

func (s *Seat) route(time uint32) {
	if s.grab != nil {
		s.grab.Motion(s.x, s.y)
		return
	}
	if len(s.buttons) > 0 {
		// Implicit grab: stay with the surface that got the press
		if s.pointerFocus == 0 {
			return
		}
		ox, oy, ok := s.hits.SurfaceOrigin(s.pointerFocus)
		if ok {
			s.sink.PointerMotion(s.pointerFocus, time, s.x-ox, s.y-oy)
			s.sink.PointerFrame(s.pointerFocus)
			return
		}
		s.pointerFocus = 0
		return
	}
	s.refocus(time)
}

// refocus resolves pointer focus by hit-testing the current position
func (s *Seat) refocus(time uint32) {
	var target scene.SurfaceID
	var lx, ly float64
	if surf, sx, sy, ok := s.hits.SurfaceAt(s.x, s.y); ok {
		target, lx, ly = surf.ID, sx, sy
	}
	if target == s.pointerFocus {
		if target != 0 {
			s.sink.PointerMotion(target, time, lx, ly)
			s.sink.PointerFrame(target)
		}
		return
	}
	if s.pointerFocus != 0 {
		s.sink.PointerLeave(s.pointerFocus)
		s.sink.PointerFrame(s.pointerFocus)
	}
	s.pointerFocus = target
	if target != 0 {
		s.sink.PointerEnter(target, lx, ly)
		s.sink.PointerFrame(target)
	}
}

// Refresh re-resolves pointer focus after the scene changed under a still pointer
func (s *Seat) Refresh(time uint32) {
	if s.grab != nil || len(s.buttons) > 0 {
		return
	}
	s.refocus(time)
}

func (s *Seat) PointerButton(time, button uint32, pressed bool) {
	if s.grab != nil {
		if s.grab.Button(button, pressed) {
			delete(s.consumed, button)
			s.EndGrab(time)
		}
		return
	}
	if pressed {
		if s.buttons[button] || s.consumed[button] {
			return
		}
		if s.ButtonFilter != nil && s.ButtonFilter(button, s.mods.current()) {
			if s.grab == nil {
				s.consumed[button] = true
			}
			return
		}
		s.buttons[button] = true
		if s.pointerFocus != 0 {
			s.sink.PointerButton(s.pointerFocus, time, button, true)
			s.sink.PointerFrame(s.pointerFocus)
		}
		return
	}
	if s.consumed[button] {
		delete(s.consumed, button)
		return
	}
	if !s.buttons[button] {
		return
	}
	delete(s.buttons, button)
	if s.pointerFocus != 0 {
		s.sink.PointerButton(s.pointerFocus, time, button, false)
		s.sink.PointerFrame(s.pointerFocus)
	}
	if len(s.buttons) == 0 {
		s.refocus(time)
	}
}

func (s *Seat) PointerAxis(time uint32, axis Axis, value float64) {
	if s.grab != nil || s.pointerFocus == 0 {
		return
	}
	s.sink.PointerAxis(s.pointerFocus, time, axis, value)
	s.sink.PointerFrame(s.pointerFocus)
}

// StartGrab hands the pointer to the compositor. Held buttons now belong to the grab
func (s *Seat) StartGrab(g Grab) {
	if s.pointerFocus != 0 {
		s.sink.PointerLeave(s.pointerFocus)
		s.sink.PointerFrame(s.pointerFocus)
		s.pointerFocus = 0
	}
	clear(s.buttons)
	s.grab = g
	logrus.WithField("position", generaldata.Vector2i{X: int(s.x), Y: int(s.y)}).Debugln("Pointer grab started")
}

func (s *Seat) EndGrab(time uint32) {
	if s.grab == nil {
		return
	}
	s.grab = nil
	logrus.Debugln("Pointer grab ended")
	s.refocus(time)
}

// ---- Keyboard ----

func (s *Seat) Key(time, key uint32, pressed bool) {
	target, held := s.keys[key]
	if pressed == held {
		// Repeats and releases of keys pressed before we started
		return
	}
	modsChanged := s.mods.update(key, pressed)
	if pressed {
		if s.KeyFilter != nil && s.KeyFilter(key, s.mods.current()) {
			s.keys[key] = 0
		} else {
			s.keys[key] = s.keyboardFocus
			if s.keyboardFocus != 0 {
				s.sink.Key(s.keyboardFocus, time, key, true)
			}
		}
	} else {
		delete(s.keys, key)
		if target != 0 {
			s.sink.Key(target, time, key, false)
		}
	}
	if modsChanged && s.keyboardFocus != 0 {
		s.sink.Modifiers(s.keyboardFocus, s.mods.current())
	}
}

// SetKeyboardFocus is the only way keyboard focus changes
func (s *Seat) SetKeyboardFocus(id scene.SurfaceID) {
	if id == s.keyboardFocus {
		return
	}
	if s.keyboardFocus != 0 {
		s.sink.KeyboardLeave(s.keyboardFocus)
	}
	s.keyboardFocus = id
	if id == 0 {
		return
	}
	s.sink.KeyboardEnter(id, s.heldKeys())
	s.sink.Modifiers(id, s.mods.current())
	logrus.WithField("surface", id).Debugln("Keyboard focus changed")
}

// heldKeys lists the keys down that a newly focused surface may know about
func (s *Seat) heldKeys() []uint32 {
	keys := []uint32{}
	for key, target := range s.keys {
		if target != 0 {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	return keys
}

// ---- Touch ----

func (s *Seat) TouchDown(time uint32, id int32, x, y float64) {
	surf, lx, ly, ok := s.hits.SurfaceAt(x, y)
	if !ok {
		return
	}
	s.touches[id] = surf.ID
	s.touchFrames[surf.ID] = true
	s.sink.TouchDown(surf.ID, time, id, lx, ly)
}

func (s *Seat) TouchMotion(time uint32, id int32, x, y float64) {
	target, ok := s.touches[id]
	if !ok {
		return
	}
	ox, oy, ok := s.hits.SurfaceOrigin(target)
	if !ok {
		delete(s.touches, id)
		return
	}
	s.touchFrames[target] = true
	s.sink.TouchMotion(target, time, id, x-ox, y-oy)
}

func (s *Seat) TouchUp(time uint32, id int32) {
	target, ok := s.touches[id]
	if !ok {
		return
	}
	delete(s.touches, id)
	s.touchFrames[target] = true
	s.sink.TouchUp(target, time, id)
}

// TouchFrame ends a group of touch events for every surface that got one
func (s *Seat) TouchFrame() {
	for target := range s.touchFrames {
		s.sink.TouchFrame(target)
	}
	clear(s.touchFrames)
}

// ---- Surface lifetime ----

// SurfaceDestroyed drops every reference to a surface that no longer exists
func (s *Seat) SurfaceDestroyed(id scene.SurfaceID) {
	if s.pointerFocus == id {
		s.pointerFocus = 0
	}
	if s.keyboardFocus == id {
		s.keyboardFocus = 0
	}
	for key, target := range s.keys {
		if target == id {
			s.keys[key] = 0
		}
	}
	for touch, target := range s.touches {
		if target == id {
			delete(s.touches, touch)
		}
	}
	delete(s.touchFrames, id)
}
