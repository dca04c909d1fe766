package compositor

import (
	"github.com/BKSalman/buddaraysh/bridge"
	"github.com/BKSalman/buddaraysh/config"
	generaldata "github.com/BKSalman/buddaraysh/general-data"
	"github.com/BKSalman/buddaraysh/scene"
	"github.com/BKSalman/buddaraysh/wire"
	"github.com/sirupsen/logrus"
)

var _ bridge.Host = (*Server)(nil)

// ---- bridge.Host ----

func (server *Server) ConnectXwayland(conn *wire.Conn) scene.ClientID {
	return server.dispatcher.Connect(conn, true).ID()
}

func (server *Server) DisconnectClient(id scene.ClientID) {
	server.dispatcher.Disconnect(id)
}

func (server *Server) WindowAssociated(id scene.SurfaceID) {
	s, ok := server.scene.Surface(id)
	if !ok || !s.Mapped() {
		/* The surface maps later and ToplevelMapped picks it up */
		return
	}
	if _, managed := server.windows[id]; managed {
		return
	}
	server.ToplevelMapped(id)
}

func (server *Server) WindowMoved(id scene.SurfaceID, geometry generaldata.Rect) {
	if w, ok := server.windows[id]; ok && w.tiled {
		/* Tiled windows stay where the layout puts them */
		server.syncLegacyGeometry(id)
		return
	}
	if err := server.scene.Move(id, geometry.Origin()); err != nil {
		logrus.WithError(err).WithField("surface", id).Debugln("Moving legacy window failed")
	}
}

func (server *Server) WindowRaised(id scene.SurfaceID) {
	if _, ok := server.windows[id]; ok {
		server.focusTopLevel(id)
		return
	}
	if err := server.scene.Raise(id); err != nil {
		logrus.WithError(err).WithField("surface", id).Debugln("Raising legacy window failed")
	}
}

func (server *Server) WindowRetitled(id scene.SurfaceID, title, class string) {
	s, ok := server.scene.Surface(id)
	if !ok {
		return
	}
	s.Title = title
	s.AppID = class
}

// manageLegacy decides what happens to a mapped legacy surface. Menus and tooltips
// (override-redirect) are shown where they asked and stay out of focus and tiling.
// It reports whether the window is now managed like a toplevel
func (server *Server) manageLegacy(id scene.SurfaceID) bool {
	if server.bridge == nil {
		return false
	}
	xw, ok := server.bridge.Window(id)
	if !ok {
		/* Not associated yet, WindowAssociated comes back for it */
		return false
	}
	if xw.OverrideRedirect {
		if err := server.scene.Move(id, xw.Geometry.Origin()); err != nil {
			logrus.WithError(err).WithField("surface", id).Debugln("Placing unmanaged window failed")
		}
		_ = server.scene.Raise(id)
		return false
	}
	w := &window{id: id, bridged: true}
	w.state.Size = xw.Geometry.Size()
	server.windows[id] = w
	if server.conf.Layout == config.LayoutTiling {
		if s, ok := server.scene.Surface(id); ok {
			if o, ok := server.scene.Output(s.Output()); ok {
				server.tile(w, layoutKey{output: o.ID, workspace: s.Workspace})
			}
		}
	}
	if s, ok := server.scene.Surface(id); ok {
		s.Title = xw.Info.Title
		s.AppID = xw.Info.Class
	}
	logrus.WithFields(logrus.Fields{
		"surface": id,
		"window":  xw.ID,
		"title":   xw.Info.Title,
	}).Infoln("Managing legacy window")
	return true
}
