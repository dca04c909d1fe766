package scene

import generaldata "github.com/BKSalman/buddaraysh/general-data"

// FrameToken is one composite and present cycle of an output.
// It lives from BeginFrame until the presenter reports completion or the output goes away
type FrameToken struct {
	Output OutputID
	// Sequence number of the present, set once the renderer issued it
	Seq    uint64
	Damage []generaldata.Rect

	callbacks []FrameCallback
	cancelled bool
}

func (t *FrameToken) Cancelled() bool {
	return t.cancelled
}

// Callbacks is the number of frame callbacks waiting on this token
func (t *FrameToken) Callbacks() int {
	return len(t.callbacks)
}

// cancel drops the token. Its callbacks are never delivered
func (t *FrameToken) cancel() {
	t.cancelled = true
	t.callbacks = nil
}
