// Package backend hides how pixels reach a screen and how input reaches us.
// Three interchangeable variants exist, picked once at startup: a window on a host
// Wayland compositor, a window on an X11 server, or the hardware itself through DRM and evdev.
package backend

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/BKSalman/buddaraysh/gateway"
	"github.com/BKSalman/buddaraysh/render"
	"github.com/BKSalman/buddaraysh/scene"
)

var (
	ErrBackendInitFailed = errors.New("backend initialisation failed")
	ErrUnknownOutput     = errors.New("unknown output")
	ErrPresentBusy       = errors.New("output already has a frame in flight")
	ErrNotStarted        = errors.New("backend not started")
)

type Kind string

const (
	KindWindowed     = Kind("windowed")
	KindDirect       = Kind("direct")
	KindNestedLegacy = Kind("nested-legacy")
)

var Kinds = []Kind{KindWindowed, KindDirect, KindNestedLegacy}

func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: unknown backend %q", ErrBackendInitFailed, s)
}

type EventKind int

const (
	OutputAdded = EventKind(iota)
	OutputRemoved
	OutputModeChanged
	// The host lost what was on screen, everything must be drawn again
	OutputDamaged
	// The frame with Seq is on screen, the output can take the next one
	FrameDone
	PointerMotion
	// X and Y are output-local
	PointerMotionAbsolute
	PointerButton
	PointerAxis
	PointerFrame
	KeyboardKey
	TouchDown
	TouchUp
	TouchMotion
	TouchFrame
	// A device we cannot continue without vanished
	DeviceLost
	// The host asked us to go away, e.g. the window was closed
	CloseRequested
	SessionPaused
	SessionResumed
)

var eventNames = map[EventKind]string{
	OutputAdded:           "output-added",
	OutputRemoved:         "output-removed",
	OutputModeChanged:     "output-mode-changed",
	OutputDamaged:         "output-damaged",
	FrameDone:             "frame-done",
	PointerMotion:         "pointer-motion",
	PointerMotionAbsolute: "pointer-motion-absolute",
	PointerButton:         "pointer-button",
	PointerAxis:           "pointer-axis",
	PointerFrame:          "pointer-frame",
	KeyboardKey:           "keyboard-key",
	TouchDown:             "touch-down",
	TouchUp:               "touch-up",
	TouchMotion:           "touch-motion",
	TouchFrame:            "touch-frame",
	DeviceLost:            "device-lost",
	CloseRequested:        "close-requested",
	SessionPaused:         "session-paused",
	SessionResumed:        "session-resumed",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is the normalized vocabulary every backend translates into.
// Only the fields relevant to Kind are set
type Event struct {
	Kind   EventKind
	Output uint32
	Info   scene.OutputInfo
	Seq    uint64
	// Milliseconds, monotonic per backend
	Time    uint32
	X, Y    float64
	DX, DY  float64
	Button  uint32
	Key     uint32
	Pressed bool
	Axis    uint32
	Value   float64
	TouchID int32
	Err     error
}

type Output struct {
	ID   uint32
	Info scene.OutputInfo
}

type Backend interface {
	// Start opens the host or devices. Output discovery arrives as events
	Start(ctx context.Context) error
	Outputs() []Output
	// Events is the input and output event stream
	Events() <-chan Event
	// PollEvents waits up to timeout for events and returns what is queued
	PollEvents(timeout time.Duration) []Event
	// Present shows a composited frame. Completion arrives later as FrameDone
	Present(output uint32, frame render.Frame) error
	// SetCursor moves the cursor image to hardware. False means the caller must draw it
	SetCursor(output uint32, img *image.RGBA, hotspot image.Point) bool
	// MoveCursor places the hardware cursor hotspot at pos, in output-local pixels
	MoveCursor(output uint32, pos image.Point)
	Close() error
}

type Options struct {
	// Window size for the windowed and nested variants
	Width, Height int
	Title         string
	// Host connection overrides, empty means the environment
	HostDisplay string
	// Direct variant
	Gateway   *gateway.Gateway
	DRMDevice string
	InputDirs []string
	// Composite into a single plane instead of using a hardware cursor plane
	DRMCompositor bool
}

func (o *Options) defaults() {
	if o.Width <= 0 {
		o.Width = 1920
	}
	if o.Height <= 0 {
		o.Height = 1080
	}
	if o.Title == "" {
		o.Title = "buddaraysh"
	}
	if o.DRMDevice == "" {
		o.DRMDevice = "/dev/dri/card0"
	}
	if len(o.InputDirs) == 0 {
		o.InputDirs = []string{"/dev/input"}
	}
}

// New selects a backend. Nothing is opened until Start
func New(kind Kind, opts Options) (Backend, error) {
	opts.defaults()
	switch kind {
	case KindWindowed:
		return newVirtual(newWaylandHost(opts), opts, "WL-1"), nil
	case KindNestedLegacy:
		return newVirtual(newX11Host(opts), opts, "X11-1"), nil
	case KindDirect:
		if opts.Gateway == nil {
			return nil, fmt.Errorf("%w: direct backend needs a session gateway", ErrBackendInitFailed)
		}
		return newDirect(opts), nil
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrBackendInitFailed, kind)
	}
}

// eventQueue is the event stream shared by all variants. It is never closed,
// emitters stop once done is closed
type eventQueue struct {
	ch   chan Event
	done chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		ch:   make(chan Event, 256),
		done: make(chan struct{}),
	}
}

func (q *eventQueue) emit(ev Event) {
	select {
	case q.ch <- ev:
	case <-q.done:
	}
}

// emitAsync never blocks, for callers running on the event loop itself
func (q *eventQueue) emitAsync(ev Event) {
	select {
	case q.ch <- ev:
	default:
		go q.emit(ev)
	}
}

func (q *eventQueue) poll(timeout time.Duration) []Event {
	var out []Event
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ev := <-q.ch:
		out = append(out, ev)
	case <-timer.C:
		return nil
	case <-q.done:
		return nil
	}
	for {
		select {
		case ev := <-q.ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func (q *eventQueue) close() {
	select {
	case <-q.done:
	default:
		close(q.done)
	}
}

var startTime = time.Now()

// now returns the event timestamp clients see
func now() uint32 {
	return uint32(time.Since(startTime).Milliseconds())
}
