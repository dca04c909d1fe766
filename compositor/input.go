package compositor

import (
	"fmt"
	"strings"

	"github.com/BKSalman/buddaraysh/backend"
	generaldata "github.com/BKSalman/buddaraysh/general-data"
	"github.com/BKSalman/buddaraysh/scene"
	"github.com/BKSalman/buddaraysh/seat"
	evdev "github.com/gvalkov/golang-evdev"
	"github.com/sirupsen/logrus"
)

// xdg_toplevel resize edges
const (
	EdgeNone   = uint32(0)
	EdgeTop    = uint32(1)
	EdgeBottom = uint32(2)
	EdgeLeft   = uint32(4)
	EdgeRight  = uint32(8)
)

// Key names usable in keybindings
var keyNames = map[string]uint32{
	"escape":    seat.KeyEscape,
	"return":    uint32(evdev.KEY_ENTER),
	"enter":     uint32(evdev.KEY_ENTER),
	"tab":       uint32(evdev.KEY_TAB),
	"space":     uint32(evdev.KEY_SPACE),
	"backspace": uint32(evdev.KEY_BACKSPACE),
	"left":      uint32(evdev.KEY_LEFT),
	"right":     uint32(evdev.KEY_RIGHT),
	"up":        uint32(evdev.KEY_UP),
	"down":      uint32(evdev.KEY_DOWN),
}

func init() {
	letters := []int{
		evdev.KEY_A, evdev.KEY_B, evdev.KEY_C, evdev.KEY_D, evdev.KEY_E, evdev.KEY_F, evdev.KEY_G,
		evdev.KEY_H, evdev.KEY_I, evdev.KEY_J, evdev.KEY_K, evdev.KEY_L, evdev.KEY_M, evdev.KEY_N,
		evdev.KEY_O, evdev.KEY_P, evdev.KEY_Q, evdev.KEY_R, evdev.KEY_S, evdev.KEY_T, evdev.KEY_U,
		evdev.KEY_V, evdev.KEY_W, evdev.KEY_X, evdev.KEY_Y, evdev.KEY_Z,
	}
	for i, code := range letters {
		keyNames[string(rune('a'+i))] = uint32(code)
	}
	/* 1 to 9 are contiguous evdev codes, 0 comes after 9 */
	for i := 1; i <= 9; i++ {
		keyNames[fmt.Sprint(i)] = seat.Key1 + uint32(i-1)
	}
	keyNames["0"] = uint32(evdev.KEY_0)
	functionKeys := []int{
		evdev.KEY_F1, evdev.KEY_F2, evdev.KEY_F3, evdev.KEY_F4, evdev.KEY_F5, evdev.KEY_F6,
		evdev.KEY_F7, evdev.KEY_F8, evdev.KEY_F9, evdev.KEY_F10, evdev.KEY_F11, evdev.KEY_F12,
	}
	for i, code := range functionKeys {
		keyNames[fmt.Sprintf("f%d", i+1)] = uint32(code)
	}
}

func parseBindings(bindings map[string]string) (map[uint32]Action, error) {
	out := make(map[uint32]Action, len(bindings))
	for name, spec := range bindings {
		key, ok := keyNames[strings.ToLower(name)]
		if !ok {
			return nil, fmt.Errorf("keybinding for unknown key %q", name)
		}
		action, err := ParseAction(spec)
		if err != nil {
			return nil, fmt.Errorf("keybinding %s: %w", name, err)
		}
		out[key] = action
	}
	return out, nil
}

func modifierMask(name string) uint32 {
	switch name {
	case "super":
		return seat.ModSuper
	case "ctrl":
		return seat.ModCtrl
	default:
		return seat.ModAlt
	}
}

func (server *Server) handleInputEvent(ev backend.Event) {
	switch ev.Kind {
	case backend.PointerMotion:
		server.seat.PointerMotion(ev.Time, ev.DX, ev.DY)
		server.cursorMoved()
	case backend.PointerMotionAbsolute:
		/* Absolute motion is output-local, e.g. the pointer entered the host window */
		x, y, ok := server.toGlobal(ev.Output, ev.X, ev.Y)
		if !ok {
			return
		}
		server.seat.PointerWarp(ev.Time, x, y)
		server.cursorMoved()
	case backend.PointerButton:
		server.seat.PointerButton(ev.Time, ev.Button, ev.Pressed)
		server.cursorMoved()
	case backend.PointerAxis:
		server.seat.PointerAxis(ev.Time, seat.Axis(ev.Axis), ev.Value)
	case backend.PointerFrame:
		/* The seat closes every pointer event with its own frame */
	case backend.KeyboardKey:
		server.seat.Key(ev.Time, ev.Key, ev.Pressed)
	case backend.TouchDown:
		x, y, ok := server.toGlobal(ev.Output, ev.X, ev.Y)
		if !ok {
			return
		}
		server.seat.TouchDown(ev.Time, ev.TouchID, x, y)
	case backend.TouchMotion:
		x, y, ok := server.toGlobal(ev.Output, ev.X, ev.Y)
		if !ok {
			return
		}
		server.seat.TouchMotion(ev.Time, ev.TouchID, x, y)
	case backend.TouchUp:
		server.seat.TouchUp(ev.Time, ev.TouchID)
	case backend.TouchFrame:
		server.seat.TouchFrame()
	default:
		logrus.WithField("kind", ev.Kind).Debugln("Unhandled backend event")
	}
}

func (server *Server) toGlobal(output uint32, x, y float64) (float64, float64, bool) {
	sid, ok := server.outputs[output]
	if !ok {
		return 0, 0, false
	}
	o, ok := server.scene.Output(sid)
	if !ok {
		return 0, 0, false
	}
	s := float64(o.Scale())
	return float64(o.Position.X) + x/s, float64(o.Position.Y) + y/s, true
}

func (server *Server) handleKeyBinding(key uint32, mods seat.Modifiers) bool {
	/*
	 * Here we handle compositor keybindings. This is when the compositor is
	 * processing keys, rather than passing them on to the client for its own
	 * processing. Only presses with the binding modifier held get here.
	 */
	if !mods.Has(server.modifier) {
		return false
	}
	action, ok := server.bindings[key]
	if !ok {
		return false
	}
	if msg, err := server.perform(action); err != nil {
		logrus.WithError(err).WithField("action", action.String()).Warnln("Keybinding failed")
	} else {
		logrus.WithField("action", action.String()).Debugln(msg)
	}
	return true
}

// handleButtonPress focuses the clicked window and starts move and resize grabs
// for modifier clicks, which the client never sees
func (server *Server) handleButtonPress(button uint32, mods seat.Modifiers) bool {
	topLevel, ok := server.topLevelAt(server.seat.Position())
	if !ok {
		if s, _, _, hit := server.scene.SurfaceAt(server.seat.Position()); hit && s.Role == scene.RoleLayer && s.Layer.Keyboard != scene.KeyboardNone {
			server.focusLayer(s.ID)
		}
		return false
	}
	server.focusTopLevel(topLevel)
	if !mods.Has(server.modifier) {
		return false
	}
	switch button {
	case seat.ButtonLeft:
		server.beginInteractive(topLevel, CursorModeMove, EdgeNone)
		return true
	case seat.ButtonRight:
		server.beginInteractive(topLevel, CursorModeResize, server.nearestEdges(topLevel))
		return true
	}
	return false
}

// topLevelAt returns the managed window whose tree is under the global point
func (server *Server) topLevelAt(x, y float64) (scene.SurfaceID, bool) {
	surface, _, _, ok := server.scene.SurfaceAt(x, y)
	if !ok {
		return 0, false
	}
	for depth := 0; surface != nil && depth < 64; depth++ {
		if w, ok := server.windows[surface.ID]; ok && w.mapped {
			return w.id, true
		}
		if surface.Parent == 0 {
			break
		}
		surface, _ = server.scene.Surface(surface.Parent)
	}
	return 0, false
}

// nearestEdges picks the corner of the window closest to the pointer
func (server *Server) nearestEdges(id scene.SurfaceID) uint32 {
	rect, ok := server.scene.GlobalRect(id)
	if !ok {
		return EdgeBottom | EdgeRight
	}
	x, y := server.seat.Position()
	edges := EdgeRight
	if x < float64(rect.X+rect.W/2) {
		edges = EdgeLeft
	}
	if y < float64(rect.Y+rect.H/2) {
		return edges | EdgeTop
	}
	return edges | EdgeBottom
}

// ---- Interactive move and resize ----

// interactiveGrab feeds pointer motion to the window being moved or resized
type interactiveGrab struct {
	server *Server
}

func (g interactiveGrab) Motion(x, y float64) {
	switch g.server.cursorMode {
	case CursorModeMove:
		g.server.processCursorMove(x, y)
	case CursorModeResize:
		g.server.processCursorResize(x, y)
	}
}

func (g interactiveGrab) Button(_ uint32, pressed bool) bool {
	/* Releasing any button ends the grab */
	if pressed {
		return false
	}
	g.server.resetCursorMode()
	return true
}

func (server *Server) beginInteractive(topLevel scene.SurfaceID, mode CursorMode, edges uint32) {
	/* This function sets up an interactive move or resize operation, where the
	 * compositor stops propagating pointer events to clients and instead
	 * consumes them itself, to move or resize windows. */
	w, ok := server.windows[topLevel]
	if !ok || !w.mapped {
		return
	}
	box, ok := server.scene.GlobalRect(topLevel)
	if !ok {
		return
	}
	/* Grabbed windows leave the tiling tree and float from here on */
	server.float(w)

	x, y := server.seat.Position()
	server.grabbedTopLevel = topLevel
	server.cursorMode = mode
	server.grabGeobox = box
	server.resizeEdges = edges
	if mode == CursorModeMove {
		server.grabX = x - float64(box.X)
		server.grabY = y - float64(box.Y)
	} else {
		server.grabX, server.grabY = x, y
		w.state.Resizing = true
		server.configure(w)
	}
	server.seat.StartGrab(interactiveGrab{server: server})
	logrus.WithFields(logrus.Fields{
		"surface": topLevel,
		"mode":    mode,
		"edges":   edges,
	}).Debugln("Interactive grab started")
}

func (server *Server) processCursorMove(x, y float64) {
	/* Move the grabbed toplevel to the new position. */
	pos := generaldata.Vector2i{X: int(x - server.grabX), Y: int(y - server.grabY)}
	if err := server.scene.Move(server.grabbedTopLevel, pos); err != nil {
		logrus.WithError(err).Debugln("Moving grabbed window failed")
		return
	}
	server.syncLegacyGeometry(server.grabbedTopLevel)
}

func (server *Server) processCursorResize(x, y float64) {
	/*
	 * Resizing can happen from any corner or edge. Resizing from the top or left
	 * also moves the window. The new position is applied right away while the
	 * client catches up with the size on its next commit.
	 */
	w, ok := server.windows[server.grabbedTopLevel]
	if !ok {
		return
	}
	box := server.grabGeobox
	dx, dy := int(x-server.grabX), int(y-server.grabY)
	left, right := box.X, box.Right()
	top, bottom := box.Y, box.Bottom()

	if server.resizeEdges&EdgeTop != 0 {
		top = min(box.Y+dy, bottom-1)
	} else if server.resizeEdges&EdgeBottom != 0 {
		bottom = max(box.Bottom()+dy, top+1)
	}
	if server.resizeEdges&EdgeLeft != 0 {
		left = min(box.X+dx, right-1)
	} else if server.resizeEdges&EdgeRight != 0 {
		right = max(box.Right()+dx, left+1)
	}

	if err := server.scene.Move(w.id, generaldata.Vector2i{X: left, Y: top}); err != nil {
		return
	}
	w.state.Size = generaldata.Vector2i{X: right - left, Y: bottom - top}
	server.configure(w)
}

func (server *Server) resetCursorMode() {
	/* Reset the cursor mode to passthrough. */
	if w, ok := server.windows[server.grabbedTopLevel]; ok && w.state.Resizing {
		w.state.Resizing = false
		server.configure(w)
	}
	server.cursorMode = CursorModePassThrough
	server.grabbedTopLevel = 0
}

// endGrab drops an interactive grab, e.g. when the grabbed window goes away
func (server *Server) endGrab() {
	if server.cursorMode == CursorModePassThrough {
		return
	}
	server.resetCursorMode()
	server.seat.EndGrab(now())
}

// ---- Focus ----

func (server *Server) focusTopLevel(topLevel scene.SurfaceID) {
	/* Note: this function only deals with keyboard focus. */
	w, ok := server.windows[topLevel]
	if !ok || !w.mapped {
		return
	}
	prev := server.seat.KeyboardFocus()
	if prev == topLevel {
		/* Don't re-focus an already focused surface. */
		return
	}
	if server.exclusiveLayerFocused() {
		/* A lock screen or launcher keeps the keyboard until it unmaps */
		return
	}
	logrus.WithFields(logrus.Fields{
		"previous surface": prev,
		"current surface":  topLevel,
	}).Debugln("focusTopLevel")

	if pw, ok := server.windows[prev]; ok {
		/* Deactivate the previously focused surface so it can stop drawing a caret */
		pw.state.Activated = false
		server.configure(pw)
	}

	/* Move the toplevel to the front */
	if err := server.scene.Raise(topLevel); err != nil {
		logrus.WithError(err).WithField("surface", topLevel).Debugln("Raising failed")
	}
	server.moveFrontTopLevel(topLevel)
	if w.tiled {
		server.layoutTree(w.layout).Focus(uint32(topLevel))
	}

	/* Activate the new surface */
	w.state.Activated = true
	server.configure(w)
	if w.bridged && server.bridge != nil {
		if err := server.bridge.Activate(topLevel); err != nil {
			logrus.WithError(err).Debugln("Activating legacy window failed")
		}
	}
	/* The seat sends keyboard enter with the keys currently held */
	server.seat.SetKeyboardFocus(topLevel)
	server.seat.Refresh(now())
}

// focusLayer hands the keyboard to a layer surface. Windows lose their activation
func (server *Server) focusLayer(id scene.SurfaceID) {
	prev := server.seat.KeyboardFocus()
	if prev == id {
		return
	}
	if pw, ok := server.windows[prev]; ok {
		pw.state.Activated = false
		server.configure(pw)
	}
	server.seat.SetKeyboardFocus(id)
	server.seat.Refresh(now())
}

func (server *Server) exclusiveLayerFocused() bool {
	s, ok := server.scene.Surface(server.seat.KeyboardFocus())
	return ok && s.Role == scene.RoleLayer && s.Mapped() && s.Layer.Level.Above() && s.Layer.Keyboard == scene.KeyboardExclusive
}

// focusNext cycles to the next window on the visible workspace
func (server *Server) focusNext() {
	visible := server.visibleTopLevels()
	if len(visible) < 2 {
		if len(visible) == 1 {
			server.focusTopLevel(visible[0])
		}
		return
	}
	/* The front of the list is the focused window, the one after it was focused before */
	server.focusTopLevel(visible[1])
}

// focusTopMost gives focus to the most recently focused visible window, or to nobody
func (server *Server) focusTopMost() {
	if server.exclusiveLayerFocused() {
		return
	}
	visible := server.visibleTopLevels()
	if len(visible) == 0 {
		server.seat.SetKeyboardFocus(0)
		return
	}
	server.focusTopLevel(visible[0])
}

func (server *Server) visibleTopLevels() []scene.SurfaceID {
	var out []scene.SurfaceID
	for _, id := range server.topLevelList {
		w, ok := server.windows[id]
		if !ok || !w.mapped {
			continue
		}
		s, ok := server.scene.Surface(id)
		if !ok {
			continue
		}
		o, ok := server.scene.Output(s.Output())
		if !ok || o.Workspace != s.Workspace {
			continue
		}
		out = append(out, id)
	}
	return out
}

func (server *Server) moveFrontTopLevel(topLevel scene.SurfaceID) {
	server.removeTopLevel(topLevel)
	server.topLevelList = append([]scene.SurfaceID{topLevel}, server.topLevelList...)
}

func (server *Server) removeTopLevel(topLevel scene.SurfaceID) {
	for i, id := range server.topLevelList {
		if id == topLevel {
			server.topLevelList = append(server.topLevelList[:i], server.topLevelList[i+1:]...)
			return
		}
	}
}
