package compositor

import (
	"errors"
	"image"
	"time"

	"github.com/BKSalman/buddaraysh/backend"
	generaldata "github.com/BKSalman/buddaraysh/general-data"
	"github.com/BKSalman/buddaraysh/scene"
	"github.com/sirupsen/logrus"
)

func (server *Server) handleBackendEvent(ev backend.Event) {
	switch ev.Kind {
	case backend.OutputAdded:
		server.handleNewOutput(ev.Output, ev.Info)
	case backend.OutputRemoved:
		server.handleOutputDestroy(ev.Output)
	case backend.OutputModeChanged:
		server.handleOutputRequestState(ev.Output, ev.Info)
	case backend.OutputDamaged:
		if id, ok := server.outputs[ev.Output]; ok {
			server.repaint(id)
		}
	case backend.FrameDone:
		server.handleFrameDone(ev.Output, ev.Seq, ev.Time)
	case backend.DeviceLost:
		logrus.WithError(ev.Err).WithField("output", ev.Output).Errorln("Display device lost")
		server.fail(errors.Join(ErrDeviceLost, ev.Err))
	case backend.CloseRequested:
		logrus.Infoln("Host asked us to close")
		server.requestQuit()
	case backend.SessionPaused:
		server.endGrab()
	case backend.SessionResumed:
		server.repaintAll()
	default:
		server.handleInputEvent(ev)
	}
}

func (server *Server) handleNewOutput(id uint32, info scene.OutputInfo) {
	/* This event is raised by the backend when a new output (aka a display or
	 * monitor) becomes available. The scene puts it to the right of the others */
	if _, ok := server.outputs[id]; ok {
		return
	}
	first := len(server.outputs) == 0
	o := server.scene.AddOutput(info)
	server.outputs[id] = o.ID
	server.backendIDs[o.ID] = id
	if err := server.scene.EnableOutput(o.ID); err != nil {
		logrus.WithError(err).WithField("output", info.Name).Errorln("Enabling output failed")
		return
	}
	server.dispatcher.OutputAdded(o)
	server.adoptLayouts(o)
	server.updateHardwareCursor()

	if first {
		/* Start the pointer in the middle of the first screen */
		r := o.Rect()
		server.seat.PointerWarp(now(), float64(r.X+r.W/2), float64(r.Y+r.H/2))
		server.cursorMoved()
	}
	logrus.WithFields(logrus.Fields{
		"name":  info.Name,
		"mode":  info.Mode,
		"scale": o.Scale(),
	}).Infoln("New output added")
}

func (server *Server) handleOutputRequestState(id uint32, info scene.OutputInfo) {
	/* The windowed backends report a new mode when the host window is resized */
	sid, ok := server.outputs[id]
	if !ok {
		return
	}
	if err := server.scene.SetOutputMode(sid, info.Mode); err != nil {
		logrus.WithError(err).WithField("output", sid).Warnln("Mode change failed")
		return
	}
	o, _ := server.scene.Output(sid)
	o.Info.Modes = info.Modes
	server.dispatcher.OutputChanged(o)
	server.arrangeOutput(sid)
	server.seat.Refresh(now())
	logrus.WithFields(logrus.Fields{"output": o.Info.Name, "mode": info.Mode}).Debugln("Output mode changed")
}

func (server *Server) handleOutputDestroy(id uint32) {
	sid, ok := server.outputs[id]
	if !ok {
		return
	}
	o, _ := server.scene.Output(sid)
	logrus.WithField("name", o.Info.Name).Infoln("Output getting destroyed")
	if _, err := server.scene.RemoveOutput(sid); err != nil {
		logrus.WithError(err).WithField("output", sid).Warnln("Removing output failed")
	}
	delete(server.outputs, id)
	delete(server.backendIDs, sid)
	server.renderer.DropOutput(id)
	server.dispatcher.OutputRemoved(sid)
	if remaining, ok := server.firstOutput(); ok {
		server.adoptLayouts(remaining)
	}
	x, y := server.seat.Position()
	server.seat.PointerWarp(now(), x, y)
	server.cursorMoved()
}

// ---- Frames ----

// renderDue composites and presents every output that has damage and nothing in flight
func (server *Server) renderDue() {
	for _, o := range server.scene.Due() {
		id, ok := server.backendIDs[o.ID]
		if !ok {
			continue
		}
		token, layers, err := server.scene.BeginFrame(o.ID)
		if err != nil {
			logrus.WithError(err).WithField("output", o.ID).Debugln("Frame not started")
			continue
		}
		server.renderer.Composite(id, o.PixelSize(), token.Damage, layers)
		pending, err := server.renderer.Present(id, token.Damage)
		if err != nil {
			server.handlePresentError(o, err)
			continue
		}
		token.Seq = pending.Seq
	}
}

func (server *Server) handlePresentError(o *scene.Output, err error) {
	fields := logrus.Fields{"output": o.Info.Name, "kind": Classify(err)}
	if Classify(err) == KindTransient {
		/* The frame goes back to the output with its damage and callbacks, the next pass retries it */
		logrus.WithError(err).WithFields(fields).Debugln("Present deferred")
		server.scene.AbortFrame(o.ID)
		return
	}
	if _, derr := server.scene.DisableOutput(o.ID); derr != nil {
		logrus.WithError(derr).WithFields(fields).Errorln("Disabling output failed")
		return
	}
	logrus.WithError(err).WithFields(fields).Errorln("Present failed, output disabled")
	server.dispatcher.OutputRemoved(o.ID)
}

func (server *Server) handleFrameDone(id uint32, seq uint64, msec uint32) {
	sid, ok := server.outputs[id]
	if !ok {
		return
	}
	if msec == 0 {
		msec = now()
	}
	for _, cb := range server.scene.FinishFrame(sid, seq) {
		cb(msec)
	}
}

// repaint damages a whole output. Applying the current mode again does exactly that
func (server *Server) repaint(id scene.OutputID) {
	o, ok := server.scene.Output(id)
	if !ok || !o.Enabled() {
		return
	}
	_ = server.scene.SetOutputMode(id, o.Info.Mode)
}

func (server *Server) repaintAll() {
	for _, o := range server.scene.Outputs() {
		server.repaint(o.ID)
	}
	server.updateHardwareCursor()
}

func (server *Server) firstOutput() (*scene.Output, bool) {
	for _, o := range server.scene.Outputs() {
		if o.Enabled() {
			return o, true
		}
	}
	return nil, false
}

// activeOutput is the output under the pointer, or the first one
func (server *Server) activeOutput() (*scene.Output, bool) {
	if o, ok := server.scene.OutputAt(server.seat.Position()); ok {
		return o, true
	}
	return server.firstOutput()
}

// ---- Cursor ----

// showDefaultCursor puts the compositor's own pointer image back
func (server *Server) showDefaultCursor() {
	server.clientCursor = false
	hotspot := generaldata.Vector2i{X: server.cursorImage.Hotspot.X, Y: server.cursorImage.Hotspot.Y}
	server.scene.SetCursorImage(server.cursorTexture, hotspot)
	server.updateHardwareCursor()
}

// updateHardwareCursor moves the default pointer to cursor planes when every output has one.
// Client cursors and the drm_compositor setting keep it in the composited frame
func (server *Server) updateHardwareCursor() {
	use := !server.conf.DRMCompositor && !server.clientCursor && len(server.outputs) > 0
	if use {
		for id := range server.outputs {
			if !server.backend.SetCursor(id, server.cursorImage.Image, server.cursorImage.Hotspot) {
				use = false
				break
			}
		}
	}
	if !use && server.hwCursor {
		for id := range server.outputs {
			server.backend.SetCursor(id, nil, image.Point{})
		}
	}
	if use != server.hwCursor {
		logrus.WithField("hardware", use).Debugln("Cursor plane changed")
	}
	server.hwCursor = use
	if !server.clientCursor {
		server.scene.HideCursor(use)
	}
	if use {
		server.moveHardwareCursor()
	}
}

func (server *Server) moveHardwareCursor() {
	x, y := server.seat.Position()
	for bid, sid := range server.outputs {
		o, ok := server.scene.Output(sid)
		if !ok {
			continue
		}
		local := image.Pt((int(x)-o.Position.X)*o.Scale(), (int(y)-o.Position.Y)*o.Scale())
		server.backend.MoveCursor(bid, local)
	}
}

// cursorMoved syncs the drawn pointer with the seat after any pointer movement
func (server *Server) cursorMoved() {
	x, y := server.seat.Position()
	server.scene.MoveCursor(x, y)
	if server.hwCursor {
		server.moveHardwareCursor()
	}
	/* Off every surface the pointer image is ours again */
	if server.seat.PointerFocus() == 0 && server.clientCursor {
		server.showDefaultCursor()
	}
}

var startTime = time.Now()

func now() uint32 {
	return uint32(time.Since(startTime).Milliseconds())
}
