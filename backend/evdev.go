package backend

import (
	"errors"
	"os"
	"unsafe"

	"github.com/BKSalman/buddaraysh/gateway"
	"github.com/BKSalman/buddaraysh/util/multiplexer"
	evdev "github.com/gvalkov/golang-evdev"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	btnMiscFirst = 0x100
	btnMiscLast  = 0x15f
	// Stylus and finger tool codes, touch is reported through the MT axes instead
	btnDigiFirst = 0x140
	btnDigiLast  = 0x14f

	keyValueRepeat = 2
	maxTouchSlots  = 16
)

type absRange struct {
	min, max int32
}

func (r absRange) normalise(v int32) float64 {
	if r.max <= r.min {
		return 0
	}
	return float64(v-r.min) / float64(r.max-r.min)
}

type touchSlot struct {
	id      int32
	x, y    int32
	active  bool
	down    bool
	up      bool
	changed bool
}

// inputReader turns one evdev node into backend events. Touch positions leave it
// normalised to [0, 1], the backend scales them onto an output
type inputReader struct {
	path   string
	device *gateway.Device
	input  *evdev.InputDevice
	out    *multiplexer.ManyToOne[Event]

	dx, dy  float64
	pointer bool

	slot   int
	slots  [maxTouchSlots]touchSlot
	touchX absRange
	touchY absRange
}

func newInputReader(device *gateway.Device, out *multiplexer.ManyToOne[Event]) (*inputReader, error) {
	f, err := device.File()
	if err != nil {
		return nil, err
	}
	r := &inputReader{
		path:   device.Path,
		device: device,
		input:  &evdev.InputDevice{Fn: device.Path, File: f},
		out:    out,
	}
	r.touchX, _ = absInfo(f, evdev.ABS_MT_POSITION_X)
	r.touchY, _ = absInfo(f, evdev.ABS_MT_POSITION_Y)
	return r, nil
}

// absInfo reads the range of an absolute axis with EVIOCGABS
func absInfo(f *os.File, axis uint16) (absRange, error) {
	var info struct {
		Value, Minimum, Maximum, Fuzz, Flat, Resolution int32
	}
	req := uintptr(2<<30 | unsafe.Sizeof(info)<<16 | 'E'<<8 | (0x40 + uintptr(axis)))
	raw, err := f.SyscallConn()
	if err != nil {
		return absRange{}, err
	}
	var errno unix.Errno
	err = raw.Control(func(fd uintptr) {
		_, _, errno = unix.Syscall(unix.SYS_IOCTL, fd, req, uintptr(unsafe.Pointer(&info)))
	})
	if err != nil {
		return absRange{}, err
	}
	if errno != 0 {
		return absRange{}, errno
	}
	return absRange{min: info.Minimum, max: info.Maximum}, nil
}

// run reads until the gateway closes the node
func (r *inputReader) run() {
	for {
		events, err := r.input.Read()
		if err != nil {
			if !errors.Is(err, os.ErrClosed) {
				logrus.WithError(err).WithField("device", r.path).Debugln("Input device stopped")
			}
			return
		}
		for i := range events {
			for _, ev := range r.translate(&events[i]) {
				if r.out.Send(ev) != nil {
					return
				}
			}
		}
	}
}

// translate accumulates one kernel event and returns what is complete
func (r *inputReader) translate(ev *evdev.InputEvent) []Event {
	switch ev.Type {
	case evdev.EV_KEY:
		if ev.Value == keyValueRepeat {
			return nil
		}
		pressed := ev.Value != 0
		code := uint32(ev.Code)
		if code >= btnDigiFirst && code <= btnDigiLast {
			return nil
		}
		if code >= btnMiscFirst && code <= btnMiscLast {
			r.pointer = true
			return []Event{{Kind: PointerButton, Time: now(), Button: code, Pressed: pressed}}
		}
		return []Event{{Kind: KeyboardKey, Time: now(), Key: code, Pressed: pressed}}
	case evdev.EV_REL:
		switch ev.Code {
		case evdev.REL_X:
			r.dx += float64(ev.Value)
			r.pointer = true
		case evdev.REL_Y:
			r.dy += float64(ev.Value)
			r.pointer = true
		case evdev.REL_WHEEL:
			// Positive wheel values scroll up
			r.pointer = true
			return []Event{{Kind: PointerAxis, Time: now(), Axis: 0, Value: -float64(ev.Value) * wheelStep}}
		case evdev.REL_HWHEEL:
			r.pointer = true
			return []Event{{Kind: PointerAxis, Time: now(), Axis: 1, Value: float64(ev.Value) * wheelStep}}
		}
	case evdev.EV_ABS:
		r.touchAxis(ev.Code, ev.Value)
	case evdev.EV_SYN:
		switch ev.Code {
		case evdev.SYN_REPORT:
			return r.flush()
		case evdev.SYN_DROPPED:
			// The kernel queue overflowed, partial state up to here is unreliable
			r.dx, r.dy, r.pointer = 0, 0, false
		}
	}
	return nil
}

func (r *inputReader) touchAxis(code uint16, value int32) {
	if code == evdev.ABS_MT_SLOT {
		if value >= 0 && int(value) < maxTouchSlots {
			r.slot = int(value)
		}
		return
	}
	s := &r.slots[r.slot]
	switch code {
	case evdev.ABS_MT_TRACKING_ID:
		if value < 0 {
			if s.active {
				s.up = true
			}
			return
		}
		s.id, s.active, s.down = value, true, true
	case evdev.ABS_MT_POSITION_X:
		s.x, s.changed = value, true
	case evdev.ABS_MT_POSITION_Y:
		s.y, s.changed = value, true
	}
}

func (r *inputReader) flush() []Event {
	var out []Event
	if r.dx != 0 || r.dy != 0 {
		out = append(out, Event{Kind: PointerMotion, Time: now(), DX: r.dx, DY: r.dy})
	}
	if r.pointer {
		out = append(out, Event{Kind: PointerFrame})
	}
	r.dx, r.dy, r.pointer = 0, 0, false

	touched := false
	for i := range r.slots {
		s := &r.slots[i]
		x, y := r.touchX.normalise(s.x), r.touchY.normalise(s.y)
		switch {
		case s.up:
			out = append(out, Event{Kind: TouchUp, Time: now(), TouchID: s.id})
			*s = touchSlot{}
			touched = true
		case s.down:
			out = append(out, Event{Kind: TouchDown, Time: now(), TouchID: s.id, X: x, Y: y})
			s.down, s.changed = false, false
			touched = true
		case s.active && s.changed:
			out = append(out, Event{Kind: TouchMotion, Time: now(), TouchID: s.id, X: x, Y: y})
			s.changed = false
			touched = true
		}
	}
	if touched {
		out = append(out, Event{Kind: TouchFrame})
	}
	return out
}
