package seat

import (
	"fmt"
	"testing"

	generaldata "github.com/BKSalman/buddaraysh/general-data"
	"github.com/BKSalman/buddaraysh/scene"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ HitTester = (*scene.Scene)(nil)

type recordingSink struct {
	events []string
}

func (r *recordingSink) add(format string, args ...any) {
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recordingSink) take() []string {
	ev := r.events
	r.events = nil
	return ev
}

func (r *recordingSink) PointerEnter(s scene.SurfaceID, x, y float64) {
	r.add("enter %d %g,%g", s, x, y)
}
func (r *recordingSink) PointerLeave(s scene.SurfaceID) { r.add("leave %d", s) }
func (r *recordingSink) PointerMotion(s scene.SurfaceID, _ uint32, x, y float64) {
	r.add("motion %d %g,%g", s, x, y)
}
func (r *recordingSink) PointerButton(s scene.SurfaceID, _, button uint32, pressed bool) {
	r.add("button %d %d %t", s, button, pressed)
}
func (r *recordingSink) PointerAxis(s scene.SurfaceID, _ uint32, axis Axis, value float64) {
	r.add("axis %d %d %g", s, axis, value)
}
func (r *recordingSink) PointerFrame(scene.SurfaceID) {}
func (r *recordingSink) KeyboardEnter(s scene.SurfaceID, keys []uint32) {
	r.add("kbenter %d %v", s, keys)
}
func (r *recordingSink) KeyboardLeave(s scene.SurfaceID) { r.add("kbleave %d", s) }
func (r *recordingSink) Key(s scene.SurfaceID, _, key uint32, pressed bool) {
	r.add("key %d %d %t", s, key, pressed)
}
func (r *recordingSink) Modifiers(s scene.SurfaceID, mods Modifiers) {
	r.add("mods %d %d/%d", s, mods.Depressed, mods.Locked)
}
func (r *recordingSink) TouchDown(s scene.SurfaceID, _ uint32, id int32, x, y float64) {
	r.add("tdown %d %d %g,%g", s, id, x, y)
}
func (r *recordingSink) TouchUp(s scene.SurfaceID, _ uint32, id int32) { r.add("tup %d %d", s, id) }
func (r *recordingSink) TouchMotion(s scene.SurfaceID, _ uint32, id int32, x, y float64) {
	r.add("tmotion %d %d %g,%g", s, id, x, y)
}
func (r *recordingSink) TouchFrame(s scene.SurfaceID) { r.add("tframe %d", s) }

// boxes is a hit tester over rectangles, later entries on top
type boxes struct {
	ids   []scene.SurfaceID
	rects map[scene.SurfaceID]generaldata.Rect
	// Surfaces with an empty input region
	transparent map[scene.SurfaceID]bool
}

func newBoxes() *boxes {
	return &boxes{
		rects:       make(map[scene.SurfaceID]generaldata.Rect),
		transparent: make(map[scene.SurfaceID]bool),
	}
}

func (b *boxes) add(id scene.SurfaceID, r generaldata.Rect) {
	b.ids = append(b.ids, id)
	b.rects[id] = r
}

func (b *boxes) remove(id scene.SurfaceID) {
	delete(b.rects, id)
	for i, v := range b.ids {
		if v == id {
			b.ids = append(b.ids[:i], b.ids[i+1:]...)
			return
		}
	}
}

func (b *boxes) SurfaceAt(x, y float64) (*scene.Surface, float64, float64, bool) {
	for i := len(b.ids) - 1; i >= 0; i-- {
		id := b.ids[i]
		r := b.rects[id]
		if b.transparent[id] || !r.Contains(int(x), int(y)) {
			continue
		}
		return &scene.Surface{ID: id}, x - float64(r.X), y - float64(r.Y), true
	}
	return nil, 0, 0, false
}

func (b *boxes) SurfaceOrigin(id scene.SurfaceID) (float64, float64, bool) {
	r, ok := b.rects[id]
	return float64(r.X), float64(r.Y), ok
}

func (b *boxes) LayoutBounds() generaldata.Rect {
	return generaldata.NewRect(0, 0, 1920, 1080)
}

func newTestSeat() (*Seat, *recordingSink, *boxes) {
	sink := &recordingSink{}
	hits := newBoxes()
	hits.add(1, generaldata.NewRect(0, 0, 200, 200))
	hits.add(2, generaldata.NewRect(300, 0, 200, 200))
	return New(sink, hits), sink, hits
}

func TestImplicitGrabKeepsPressTarget(t *testing.T) {
	s, sink, _ := newTestSeat()
	s.PointerWarp(0, 50, 50)
	s.PointerButton(1, ButtonLeft, true)
	s.PointerWarp(2, 350, 50)
	s.PointerButton(3, ButtonLeft, false)
	assert.Equal(t, []string{
		"enter 1 50,50",
		fmt.Sprintf("button 1 %d true", ButtonLeft),
		"motion 1 350,50",
		fmt.Sprintf("button 1 %d false", ButtonLeft),
		"leave 1",
		"enter 2 50,50",
	}, sink.take())

	s.PointerWarp(4, 360, 60)
	assert.Equal(t, []string{"motion 2 60,60"}, sink.take())
	assert.Equal(t, scene.SurfaceID(2), s.PointerFocus())
}

func TestImplicitGrabLastsUntilAllButtonsUp(t *testing.T) {
	s, sink, _ := newTestSeat()
	s.PointerWarp(0, 50, 50)
	s.PointerButton(0, ButtonLeft, true)
	s.PointerButton(0, ButtonRight, true)
	s.PointerWarp(0, 350, 50)
	s.PointerButton(0, ButtonLeft, false)
	assert.Equal(t, scene.SurfaceID(1), s.PointerFocus())
	s.PointerWarp(0, 360, 50)
	s.PointerButton(0, ButtonRight, false)
	assert.Equal(t, scene.SurfaceID(2), s.PointerFocus())
	events := sink.take()
	assert.Equal(t, "motion 1 360,50", events[5])
	assert.Equal(t, "enter 2 60,50", events[len(events)-1])
}

func TestPressOverNothingDoesNotFocusOnDrag(t *testing.T) {
	s, sink, _ := newTestSeat()
	s.PointerWarp(0, 250, 50)
	s.PointerButton(0, ButtonLeft, true)
	s.PointerWarp(0, 350, 50)
	assert.Empty(t, sink.take())
	s.PointerButton(0, ButtonLeft, false)
	assert.Equal(t, []string{"enter 2 50,50"}, sink.take())
}

func TestHitTestSkipsEmptyInputRegion(t *testing.T) {
	s, sink, hits := newTestSeat()
	hits.add(3, generaldata.NewRect(0, 0, 100, 100))
	hits.transparent[3] = true
	s.PointerWarp(0, 10, 10)
	assert.Equal(t, []string{"enter 1 10,10"}, sink.take())
}

func TestPointerClampedToLayout(t *testing.T) {
	s, _, _ := newTestSeat()
	s.PointerMotion(0, -50, 5000)
	x, y := s.Position()
	assert.Equal(t, 0.0, x)
	assert.Equal(t, 1079.0, y)
}

func TestKeyboardFocusIgnoresPointer(t *testing.T) {
	s, sink, _ := newTestSeat()
	s.SetKeyboardFocus(1)
	s.PointerWarp(0, 350, 50)
	sink.take()
	s.Key(0, KeyQ, true)
	s.Key(0, KeyQ, false)
	assert.Equal(t, []string{
		fmt.Sprintf("key 1 %d true", KeyQ),
		fmt.Sprintf("key 1 %d false", KeyQ),
	}, sink.take())
	assert.Equal(t, scene.SurfaceID(1), s.KeyboardFocus())
}

func TestKeyReleaseFollowsPress(t *testing.T) {
	s, sink, _ := newTestSeat()
	s.SetKeyboardFocus(1)
	s.Key(0, KeyQ, true)
	s.SetKeyboardFocus(2)
	s.Key(0, KeyQ, false)
	assert.Equal(t, []string{
		"kbenter 1 []",
		"mods 1 0/0",
		fmt.Sprintf("key 1 %d true", KeyQ),
		"kbleave 1",
		fmt.Sprintf("kbenter 2 [%d]", KeyQ),
		"mods 2 0/0",
		fmt.Sprintf("key 1 %d false", KeyQ),
	}, sink.take())
}

func TestKeyFilterConsumesPressAndRelease(t *testing.T) {
	s, sink, _ := newTestSeat()
	s.SetKeyboardFocus(1)
	var seen []uint32
	s.KeyFilter = func(key uint32, mods Modifiers) bool {
		seen = append(seen, key)
		return key == KeyEscape && mods.Has(ModAlt)
	}
	sink.take()

	s.Key(0, KeyLeftAlt, true)
	s.Key(0, KeyEscape, true)
	s.Key(0, KeyEscape, false)
	s.Key(0, KeyLeftAlt, false)
	assert.Equal(t, []string{
		fmt.Sprintf("key 1 %d true", KeyLeftAlt),
		fmt.Sprintf("mods 1 %d/0", ModAlt),
		fmt.Sprintf("key 1 %d false", KeyLeftAlt),
		"mods 1 0/0",
	}, sink.take())
	assert.Equal(t, []uint32{KeyLeftAlt, KeyEscape}, seen)
}

func TestModifierTracking(t *testing.T) {
	s, _, _ := newTestSeat()
	s.Key(0, KeyLeftShift, true)
	s.Key(0, KeyRightShift, true)
	s.Key(0, KeyLeftShift, false)
	assert.True(t, s.Modifiers().Has(ModShift))
	s.Key(0, KeyRightShift, false)
	assert.False(t, s.Modifiers().Has(ModShift))

	s.Key(0, KeyCapsLock, true)
	s.Key(0, KeyCapsLock, false)
	assert.Equal(t, ModLock, s.Modifiers().Locked)
	s.Key(0, KeyCapsLock, true)
	s.Key(0, KeyCapsLock, false)
	assert.Zero(t, s.Modifiers().Locked)

	// A repeated press is not a second held key
	s.Key(0, KeyLeftCtrl, true)
	s.Key(0, KeyLeftCtrl, true)
	s.Key(0, KeyLeftCtrl, false)
	assert.Zero(t, s.Modifiers().Depressed)
}

type recordingGrab struct {
	motions [][2]float64
	done    bool
}

func (g *recordingGrab) Motion(x, y float64) { g.motions = append(g.motions, [2]float64{x, y}) }
func (g *recordingGrab) Button(button uint32, pressed bool) bool {
	g.done = !pressed
	return g.done
}

func TestButtonFilterStartsGrab(t *testing.T) {
	s, sink, _ := newTestSeat()
	grab := &recordingGrab{}
	s.ButtonFilter = func(button uint32, mods Modifiers) bool {
		if !mods.Has(ModAlt) {
			return false
		}
		s.StartGrab(grab)
		return true
	}
	s.PointerWarp(0, 50, 50)
	s.Key(0, KeyLeftAlt, true)
	sink.take()

	s.PointerButton(0, ButtonLeft, true)
	require.True(t, s.Grabbed())
	s.PointerWarp(0, 350, 60)
	s.PointerButton(0, ButtonLeft, false)
	assert.False(t, s.Grabbed())
	assert.True(t, grab.done)
	assert.Equal(t, [][2]float64{{350, 60}}, grab.motions)
	assert.Equal(t, []string{"leave 1", "enter 2 50,60"}, sink.take())
}

func TestSurfaceDestroyedDuringGrab(t *testing.T) {
	s, sink, hits := newTestSeat()
	s.SetKeyboardFocus(1)
	s.PointerWarp(0, 50, 50)
	s.PointerButton(0, ButtonLeft, true)
	s.Key(0, KeyQ, true)
	hits.remove(1)
	s.SurfaceDestroyed(1)
	sink.take()

	s.PointerWarp(0, 60, 60)
	s.Key(0, KeyQ, false)
	s.PointerButton(0, ButtonLeft, false)
	assert.Empty(t, sink.take())
	assert.Zero(t, s.KeyboardFocus())
	assert.Zero(t, s.PointerFocus())
}

func TestTouchPointsKeepTheirSurface(t *testing.T) {
	s, sink, _ := newTestSeat()
	s.TouchDown(0, 7, 10, 10)
	s.TouchDown(0, 8, 310, 10)
	s.TouchFrame()
	s.TouchMotion(0, 7, 320, 20)
	s.TouchFrame()
	s.TouchUp(0, 7)
	s.TouchUp(0, 9)
	s.TouchFrame()

	events := sink.take()
	assert.Equal(t, []string{"tdown 1 7 10,10", "tdown 2 8 10,10"}, events[:2])
	assert.ElementsMatch(t, []string{"tframe 1", "tframe 2"}, events[2:4])
	assert.Equal(t, []string{"tmotion 1 7 320,20", "tframe 1", "tup 1 7", "tframe 1"}, events[4:])
}

func TestAxisGoesToPointerFocus(t *testing.T) {
	s, sink, _ := newTestSeat()
	s.PointerAxis(0, AxisVertical, 10)
	assert.Empty(t, sink.take())
	s.PointerWarp(0, 20, 20)
	sink.take()
	s.PointerAxis(0, AxisVertical, 10)
	assert.Equal(t, []string{"axis 1 0 10"}, sink.take())
}
