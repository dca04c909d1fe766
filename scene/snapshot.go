package scene

import generaldata "github.com/BKSalman/buddaraysh/general-data"

type (
	// Read-only copy of the scene for tools and the REPL
	Snapshot struct {
		Outputs  []OutputSnapshot
		Surfaces []SurfaceSnapshot
		Cursor   generaldata.Vector2i
	}

	OutputSnapshot struct {
		ID        OutputID
		Info      OutputInfo
		Rect      generaldata.Rect
		State     OutputState
		Workspace int
		InFlight  bool
	}

	SurfaceSnapshot struct {
		ID        SurfaceID
		Client    ClientID
		Role      Role
		Parent    SurfaceID
		Rect      generaldata.Rect
		Output    OutputID
		Workspace int
		Mapped    bool
		Visible   bool
		Floating  bool
		Title     string
		AppID     string
	}
)

func (sc *Scene) Snapshot() Snapshot {
	var snap Snapshot
	for _, o := range sc.Outputs() {
		snap.Outputs = append(snap.Outputs, OutputSnapshot{
			ID:        o.ID,
			Info:      o.Info,
			Rect:      o.Rect(),
			State:     o.state,
			Workspace: o.Workspace,
			InFlight:  o.token != nil,
		})
	}
	for _, s := range sc.Surfaces() {
		snap.Surfaces = append(snap.Surfaces, SurfaceSnapshot{
			ID:        s.ID,
			Client:    s.Client,
			Role:      s.Role,
			Parent:    s.Parent,
			Rect:      sc.globalRect(s),
			Output:    s.output,
			Workspace: s.Workspace,
			Mapped:    s.mapped,
			Visible:   sc.displayedOn(s) != 0,
			Floating:  s.Floating,
			Title:     s.Title,
			AppID:     s.AppID,
		})
	}
	snap.Cursor = generaldata.Vector2i{X: int(sc.cursor.x), Y: int(sc.cursor.y)}
	return snap
}
