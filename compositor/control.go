package compositor

import (
	"fmt"
	"strings"

	"github.com/BKSalman/buddaraysh/common/ipc"
	"github.com/BKSalman/buddaraysh/scene"
	"github.com/sirupsen/logrus"
)

// handleCall answers a control request. It runs on the loop, so it sees a consistent scene
func (server *Server) handleCall(call ipc.Call) {
	req := call.Request
	logrus.WithField("kind", req.Kind).Debugln("Control request")
	var resp ipc.Response
	var err error
	switch req.Kind {
	case ipc.KindOutputs:
		resp, err = server.describeOutputs(req.Outputs)
	case ipc.KindSurfaces:
		resp = server.describeSurfaces()
	case ipc.KindAction:
		resp, err = server.runAction(req.Action, req.Arg)
	case ipc.KindSeat:
		resp = server.describeSeat()
	default:
		err = fmt.Errorf("unknown request kind %q", req.Kind)
	}
	if err != nil {
		logrus.WithError(err).WithField("kind", req.Kind).Debugln("Control request failed")
		call.Reply(ipc.Failure(err))
		return
	}
	resp.OK = true
	call.Reply(resp)
}

func (server *Server) describeOutputs(req *ipc.OutputRequest) (ipc.Response, error) {
	if req == nil {
		req = &ipc.OutputRequest{}
	}
	out := &ipc.OutputResponse{}
	if req.IncludeModes {
		out.OutputModes = make(map[string][]ipc.OutputMode)
	}
	for _, o := range server.scene.Snapshot().Outputs {
		if req.TargetOutput != "" && o.Info.Name != req.TargetOutput {
			continue
		}
		out.Outputs = append(out.Outputs, ipc.OutputInfo{
			Name:      o.Info.Name,
			Make:      o.Info.Make,
			Model:     o.Info.Model,
			X:         o.Rect.X,
			Y:         o.Rect.Y,
			Width:     o.Info.Mode.Width,
			Height:    o.Info.Mode.Height,
			Refresh:   o.Info.Mode.Refresh,
			Scale:     max(o.Info.Scale, 1),
			State:     o.State.String(),
			Workspace: o.Workspace + 1,
		})
		if req.IncludeModes {
			modes := make([]ipc.OutputMode, 0, len(o.Info.Modes))
			for _, m := range o.Info.Modes {
				modes = append(modes, ipc.OutputMode{
					Width:       m.Width,
					Height:      m.Height,
					RefreshRate: m.Refresh,
					Preferred:   m.Preferred,
					Current:     m.Width == o.Info.Mode.Width && m.Height == o.Info.Mode.Height && m.Refresh == o.Info.Mode.Refresh,
				})
			}
			out.OutputModes[o.Info.Name] = modes
		}
	}
	out.OutputsFound = len(out.Outputs)
	if req.TargetOutput != "" && out.OutputsFound == 0 {
		return ipc.Response{}, fmt.Errorf("%w: %s", scene.ErrUnknownOutput, req.TargetOutput)
	}
	return ipc.Response{Outputs: out}, nil
}

func (server *Server) describeSurfaces() ipc.Response {
	snap := server.scene.Snapshot()
	surfaces := make([]ipc.SurfaceInfo, 0, len(snap.Surfaces))
	for _, s := range snap.Surfaces {
		surfaces = append(surfaces, ipc.SurfaceInfo{
			ID:        uint32(s.ID),
			Client:    uint64(s.Client),
			Role:      s.Role.String(),
			Parent:    uint32(s.Parent),
			Title:     s.Title,
			AppID:     s.AppID,
			X:         s.Rect.X,
			Y:         s.Rect.Y,
			Width:     s.Rect.W,
			Height:    s.Rect.H,
			Output:    uint32(s.Output),
			Workspace: s.Workspace + 1,
			Visible:   s.Visible,
			Legacy:    s.Role == scene.RoleBridged,
		})
	}
	return ipc.Response{Surfaces: surfaces}
}

func (server *Server) runAction(name, arg string) (ipc.Response, error) {
	action, err := ParseAction(strings.TrimSpace(name + " " + arg))
	if err != nil {
		return ipc.Response{}, err
	}
	msg, err := server.perform(action)
	if err != nil {
		return ipc.Response{}, err
	}
	return ipc.Response{Message: msg}, nil
}

func (server *Server) describeSeat() ipc.Response {
	x, y := server.seat.Position()
	return ipc.Response{Seat: &ipc.SeatInfo{
		CursorX:       x,
		CursorY:       y,
		CursorMode:    server.cursorMode.String(),
		PointerFocus:  uint32(server.seat.PointerFocus()),
		KeyboardFocus: uint32(server.seat.KeyboardFocus()),
		Modifiers:     server.seat.Modifiers().Active(),
	}}
}
