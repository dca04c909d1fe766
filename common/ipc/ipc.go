// Package ipc is the control socket of a running compositor. Every connection carries
// one CBOR encoded Request and gets one Response back.
package ipc

import (
	"io"

	"github.com/fxamacker/cbor/v2"
)

// Request kinds
const (
	KindOutputs  = "outputs"
	KindSurfaces = "surfaces"
	KindAction   = "action"
	KindSeat     = "seat"
)

type (
	Request struct {
		Kind    string         `cbor:"kind"`
		Outputs *OutputRequest `cbor:"outputs,omitempty"`
		// Action name and argument for KindAction, e.g. "workspace" and "2"
		Action string `cbor:"action,omitempty"`
		Arg    string `cbor:"arg,omitempty"`
	}

	// A request to list the available Outputs
	OutputRequest struct {
		// Whether to include the modes an output supports
		IncludeModes bool `cbor:"include_modes"`
		// Name of the output you want info on. Empty means all of them
		TargetOutput string `cbor:"target_output,omitempty"`
	}

	// A mode an output supports
	OutputMode struct {
		// Mode height in pixel
		Height int `cbor:"height"`
		// Mode width in pixel
		Width int `cbor:"width"`
		// Refresh rate of the mode in millihertz
		RefreshRate int  `cbor:"refresh"`
		Preferred   bool `cbor:"preferred,omitempty"`
		Current     bool `cbor:"current,omitempty"`
	}

	OutputInfo struct {
		Name      string `cbor:"name"`
		Make      string `cbor:"make,omitempty"`
		Model     string `cbor:"model,omitempty"`
		X         int    `cbor:"x"`
		Y         int    `cbor:"y"`
		Width     int    `cbor:"width"`
		Height    int    `cbor:"height"`
		Refresh   int    `cbor:"refresh"`
		Scale     int    `cbor:"scale"`
		State     string `cbor:"state"`
		Workspace int    `cbor:"workspace"`
	}

	// Response to a OutputRequest message
	OutputResponse struct {
		// List of all outputs. Only contains target output if specified
		Outputs []OutputInfo `cbor:"outputs"`
		// A list of modes an output supports. Only set if IncludeModes is true
		OutputModes map[string][]OutputMode `cbor:"modes,omitempty"`
		// Nr of outputs found
		OutputsFound int `cbor:"found"`
	}

	SurfaceInfo struct {
		ID        uint32 `cbor:"id"`
		Client    uint64 `cbor:"client"`
		Role      string `cbor:"role"`
		Parent    uint32 `cbor:"parent,omitempty"`
		Title     string `cbor:"title,omitempty"`
		AppID     string `cbor:"app_id,omitempty"`
		X         int    `cbor:"x"`
		Y         int    `cbor:"y"`
		Width     int    `cbor:"width"`
		Height    int    `cbor:"height"`
		Output    uint32 `cbor:"output,omitempty"`
		Workspace int    `cbor:"workspace"`
		Visible   bool   `cbor:"visible"`
		Legacy    bool   `cbor:"legacy,omitempty"`
	}

	// Pointer and keyboard state of the seat
	SeatInfo struct {
		CursorX       float64 `cbor:"cursor_x"`
		CursorY       float64 `cbor:"cursor_y"`
		CursorMode    string  `cbor:"cursor_mode"`
		PointerFocus  uint32  `cbor:"pointer_focus,omitempty"`
		KeyboardFocus uint32  `cbor:"keyboard_focus,omitempty"`
		Modifiers     uint32  `cbor:"modifiers,omitempty"`
	}

	Response struct {
		OK       bool            `cbor:"ok"`
		Error    string          `cbor:"error,omitempty"`
		Outputs  *OutputResponse `cbor:"outputs,omitempty"`
		Surfaces []SurfaceInfo   `cbor:"surfaces,omitempty"`
		Seat     *SeatInfo       `cbor:"seat,omitempty"`
		// Human readable outcome of an action
		Message string `cbor:"message,omitempty"`
	}
)

func Failure(err error) Response {
	return Response{Error: err.Error()}
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic("ipc: CBOR encoder initialization failed: " + err.Error())
	}
	if decMode, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic("ipc: CBOR decoder initialization failed: " + err.Error())
	}
}

func encode(w io.Writer, v any) error {
	return encMode.NewEncoder(w).Encode(v)
}

func decode(r io.Reader, v any) error {
	return decMode.NewDecoder(r).Decode(v)
}
