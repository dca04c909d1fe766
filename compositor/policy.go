package compositor

import (
	"github.com/BKSalman/buddaraysh/config"
	generaldata "github.com/BKSalman/buddaraysh/general-data"
	"github.com/BKSalman/buddaraysh/protocol"
	"github.com/BKSalman/buddaraysh/scene"
	"github.com/BKSalman/buddaraysh/tiler"
	"github.com/sirupsen/logrus"
)

var _ protocol.Policy = (*Server)(nil)

// ---- protocol.Policy ----

func (server *Server) ToplevelCreated(id scene.SurfaceID) protocol.ToplevelState {
	w := &window{id: id}
	server.windows[id] = w
	if server.conf.Layout == config.LayoutTiling {
		if o, ok := server.activeOutput(); ok {
			server.tile(w, layoutKey{output: o.ID, workspace: o.Workspace})
		}
	}
	logrus.WithFields(logrus.Fields{"surface": id, "tiled": w.tiled, "size": w.state.Size}).Debugln("New toplevel")
	return w.state
}

func (server *Server) ToplevelMapped(id scene.SurfaceID) {
	w, ok := server.windows[id]
	if !ok {
		s, known := server.scene.Surface(id)
		if !known || s.Role != scene.RoleBridged {
			return
		}
		if !server.manageLegacy(id) {
			return
		}
		w = server.windows[id]
	}
	w.mapped = true
	server.moveFrontTopLevel(id)
	if w.tiled {
		server.arrange(w.layout)
	}
	if s, ok := server.scene.Surface(id); ok {
		s.Floating = !w.tiled
		if w.tiled && s.Size() != w.state.Size {
			/* The tile changed between the initial configure and the first buffer */
			server.configure(w)
		}
	}
	logrus.WithField("surface", id).Debugln("Toplevel mapped")
	server.focusTopLevel(id)
}

func (server *Server) ToplevelUnmapped(id scene.SurfaceID) {
	w, ok := server.windows[id]
	if !ok || !w.mapped {
		return
	}
	w.mapped = false
	hadFocus := server.seat.KeyboardFocus() == id
	server.forget(w)
	/* An unmapped xdg toplevel starts over with a new initial configure */
	delete(server.windows, id)
	if hadFocus {
		server.focusTopMost()
	}
	server.seat.Refresh(now())
}

func (server *Server) SurfaceDestroyed(id scene.SurfaceID) {
	if w, ok := server.windows[id]; ok {
		server.forget(w)
		delete(server.windows, id)
		if server.seat.KeyboardFocus() == 0 {
			server.focusTopMost()
		}
	}
	if server.bridge != nil {
		server.bridge.SurfaceDestroyed(id)
	}
}

func (server *Server) RequestMove(id scene.SurfaceID) {
	if !server.grabAllowed(id) {
		return
	}
	server.beginInteractive(id, CursorModeMove, EdgeNone)
}

func (server *Server) RequestResize(id scene.SurfaceID, edges uint32) {
	if !server.grabAllowed(id) {
		return
	}
	server.beginInteractive(id, CursorModeResize, edges)
}

func (server *Server) SurfaceSerial(id scene.SurfaceID, serial uint64) {
	if server.bridge == nil {
		return
	}
	s, ok := server.scene.Surface(id)
	if !ok {
		return
	}
	server.bridge.SurfaceSerial(id, s.Client, serial)
}

func (server *Server) LayerMapped(id scene.SurfaceID) {
	s, ok := server.scene.Surface(id)
	if !ok {
		return
	}
	logrus.WithFields(logrus.Fields{
		"surface":   id,
		"layer":     s.Layer.Level,
		"namespace": s.Layer.Namespace,
	}).Debugln("Layer surface mapped")
	/* Launchers and lock screens above the windows get the keyboard right away */
	if s.Layer.WantsFocus() {
		server.focusLayer(id)
	}
}

func (server *Server) LayerUnmapped(id scene.SurfaceID) {
	if server.seat.KeyboardFocus() == id {
		server.seat.SetKeyboardFocus(0)
		server.focusTopMost()
	}
	server.seat.Refresh(now())
}

func (server *Server) UsableAreaChanged(id scene.OutputID) {
	server.arrangeOutput(id)
	server.seat.Refresh(now())
}

func (server *Server) SetCursor(id scene.SurfaceID, hotspot generaldata.Vector2i) {
	if err := server.scene.SetCursorSurface(id, hotspot); err != nil {
		logrus.WithError(err).WithField("surface", id).Debugln("Client cursor refused")
		return
	}
	server.clientCursor = true
	server.updateHardwareCursor()
}

// grabAllowed only lets a client start a move or resize while the user holds a button on it
func (server *Server) grabAllowed(id scene.SurfaceID) bool {
	if server.cursorMode != CursorModePassThrough || !server.seat.ButtonsDown() {
		return false
	}
	focus, ok := server.topLevelAt(server.seat.Position())
	return ok && focus == id
}

// ---- Placement ----

// place decides where a root surface appears the first time it maps
func (server *Server) place(s *scene.Surface, on *scene.Output) generaldata.Vector2i {
	if w, ok := server.windows[s.ID]; ok && w.tiled {
		key := layoutKey{output: on.ID, workspace: on.Workspace}
		if w.layout != key {
			server.untile(w)
			server.tile(w, key)
		}
		if rect, ok := server.layoutTree(key).Layout(server.scene.UsableArea(on.ID))[uint32(s.ID)]; ok {
			return rect.Origin()
		}
	}
	if server.bridge != nil {
		if xw, ok := server.bridge.Window(s.ID); ok && (xw.OverrideRedirect || !xw.Geometry.Empty()) {
			return xw.Geometry.Origin()
		}
	}
	/* Floating windows open in the middle of what the panels leave free */
	r := server.scene.UsableArea(on.ID)
	size := s.Size()
	return generaldata.Vector2i{
		X: r.X + max(0, (r.W-size.X)/2),
		Y: r.Y + max(0, (r.H-size.Y)/2),
	}
}

// ---- Tiling ----

func (server *Server) layoutTree(key layoutKey) *tiler.Tree {
	tree, ok := server.layouts[key]
	if !ok {
		var resolution generaldata.Vector2i
		if _, ok := server.scene.Output(key.output); ok {
			resolution = server.scene.UsableArea(key.output).Size()
		}
		tree = tiler.NewTree(resolution)
		server.layouts[key] = tree
	}
	return tree
}

// tile puts a window into the tree of key and sizes it to its tile
func (server *Server) tile(w *window, key layoutKey) {
	tree := server.layoutTree(key)
	tree.AddWindow(uint32(w.id))
	w.tiled = true
	w.layout = key
	/* A window that has not mapped yet gets its size with the initial configure */
	if _, ok := server.scene.Output(key.output); ok && !w.mapped {
		if rect, ok := tree.Layout(server.scene.UsableArea(key.output))[uint32(w.id)]; ok {
			w.state.Size = rect.Size()
		}
	}
	server.arrange(key)
}

func (server *Server) untile(w *window) {
	if !w.tiled {
		return
	}
	server.layoutTree(w.layout).RemoveWindow(uint32(w.id))
	w.tiled = false
	server.arrange(w.layout)
}

// float takes a window out of its tree, it keeps its current size
func (server *Server) float(w *window) {
	if !w.tiled {
		return
	}
	server.untile(w)
	if s, ok := server.scene.Surface(w.id); ok {
		s.Floating = true
	}
}

// forget drops every reference the window management holds to a window
func (server *Server) forget(w *window) {
	if server.grabbedTopLevel == w.id {
		server.endGrab()
	}
	server.untile(w)
	server.removeTopLevel(w.id)
}

// arrange applies the tiling layout of one output and workspace
func (server *Server) arrange(key layoutKey) {
	tree, ok := server.layouts[key]
	if !ok {
		return
	}
	if _, ok := server.scene.Output(key.output); !ok {
		return
	}
	for id, rect := range tree.Layout(server.scene.UsableArea(key.output)) {
		w, ok := server.windows[scene.SurfaceID(id)]
		if !ok {
			continue
		}
		if w.state.Size != rect.Size() {
			w.state.Size = rect.Size()
			server.configure(w)
		}
		if w.mapped {
			if err := server.scene.Move(w.id, rect.Origin()); err != nil {
				logrus.WithError(err).WithField("surface", w.id).Debugln("Placing tile failed")
			}
			server.syncLegacyGeometry(w.id)
		}
	}
}

// arrangeOutput lays out every workspace of an output, e.g. after a mode change
func (server *Server) arrangeOutput(id scene.OutputID) {
	if _, ok := server.scene.Output(id); !ok {
		return
	}
	usable := server.scene.UsableArea(id)
	for key, tree := range server.layouts {
		if key.output != id {
			continue
		}
		tree.Resolution = usable.Size()
		server.arrange(key)
	}
}

// adoptLayouts moves the trees of vanished outputs onto o and refits o's own trees
func (server *Server) adoptLayouts(o *scene.Output) {
	for key, tree := range server.layouts {
		if _, ok := server.scene.Output(key.output); ok {
			continue
		}
		delete(server.layouts, key)
		target := layoutKey{output: o.ID, workspace: key.workspace}
		for _, id := range tree.Windows() {
			w, ok := server.windows[scene.SurfaceID(id)]
			if !ok {
				continue
			}
			w.tiled = false
			server.tile(w, target)
			if s, ok := server.scene.Surface(w.id); ok {
				_ = server.scene.SetWorkspace(w.id, key.workspace)
				s.Floating = false
			}
		}
	}
	server.arrangeOutput(o.ID)
}

// configure tells the client what its window should look like now
func (server *Server) configure(w *window) {
	if w.bridged {
		server.syncLegacyGeometry(w.id)
		return
	}
	if err := server.dispatcher.ConfigureToplevel(w.id, w.state); err != nil {
		logrus.WithError(err).WithField("surface", w.id).Debugln("Configure failed")
	}
}

// syncLegacyGeometry mirrors the position and size of a legacy window into the X server
func (server *Server) syncLegacyGeometry(id scene.SurfaceID) {
	w, ok := server.windows[id]
	if !ok || !w.bridged || server.bridge == nil {
		return
	}
	rect, ok := server.scene.GlobalRect(id)
	if !ok {
		return
	}
	if w.state.Size != (generaldata.Vector2i{}) {
		rect.W, rect.H = w.state.Size.X, w.state.Size.Y
	}
	if err := server.bridge.Configure(id, rect); err != nil {
		logrus.WithError(err).WithField("surface", id).Debugln("Legacy configure failed")
	}
}

// ---- Workspaces and windows ----

func (server *Server) switchWorkspace(o *scene.Output, ws int) error {
	if err := server.scene.SwitchWorkspace(o.ID, ws); err != nil {
		return err
	}
	server.endGrab()
	server.arrange(layoutKey{output: o.ID, workspace: ws})
	server.focusTopMost()
	server.seat.Refresh(now())
	return nil
}

func (server *Server) closeWindow(id scene.SurfaceID) error {
	w, ok := server.windows[id]
	if !ok {
		return scene.ErrUnknownSurface
	}
	if w.bridged {
		return server.bridge.CloseWindow(id)
	}
	return server.dispatcher.SendClose(id)
}
