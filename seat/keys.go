package seat

import (
	evdev "github.com/gvalkov/golang-evdev"
)

// Evdev codes the compositor itself cares about
const (
	KeyEscape     = uint32(evdev.KEY_ESC)
	KeyQ          = uint32(evdev.KEY_Q)
	KeyC          = uint32(evdev.KEY_C)
	KeyF1         = uint32(evdev.KEY_F1)
	Key1          = uint32(evdev.KEY_1)
	Key9          = uint32(evdev.KEY_9)
	KeyLeftShift  = uint32(evdev.KEY_LEFTSHIFT)
	KeyRightShift = uint32(evdev.KEY_RIGHTSHIFT)
	KeyLeftCtrl   = uint32(evdev.KEY_LEFTCTRL)
	KeyRightCtrl  = uint32(evdev.KEY_RIGHTCTRL)
	KeyLeftAlt    = uint32(evdev.KEY_LEFTALT)
	KeyRightAlt   = uint32(evdev.KEY_RIGHTALT)
	KeyLeftMeta   = uint32(evdev.KEY_LEFTMETA)
	KeyRightMeta  = uint32(evdev.KEY_RIGHTMETA)
	KeyCapsLock   = uint32(evdev.KEY_CAPSLOCK)

	ButtonLeft   = uint32(evdev.BTN_LEFT)
	ButtonRight  = uint32(evdev.BTN_RIGHT)
	ButtonMiddle = uint32(evdev.BTN_MIDDLE)
)

// XKB modifier masks for the default keymap
const (
	ModShift = uint32(1 << 0)
	ModLock  = uint32(1 << 1)
	ModCtrl  = uint32(1 << 2)
	ModAlt   = uint32(1 << 3)
	ModSuper = uint32(1 << 6)
)

type Modifiers struct {
	Depressed uint32
	Latched   uint32
	Locked    uint32
	Group     uint32
}

// Active returns every modifier currently in effect
func (m Modifiers) Active() uint32 {
	return m.Depressed | m.Latched | m.Locked
}

func (m Modifiers) Has(mask uint32) bool {
	return m.Active()&mask == mask
}

func modifierOf(key uint32) uint32 {
	switch key {
	case KeyLeftShift, KeyRightShift:
		return ModShift
	case KeyLeftCtrl, KeyRightCtrl:
		return ModCtrl
	case KeyLeftAlt, KeyRightAlt:
		return ModAlt
	case KeyLeftMeta, KeyRightMeta:
		return ModSuper
	default:
		return 0
	}
}

// modState counts held modifier keys so releasing one of two shift keys keeps shift down
type modState struct {
	held   map[uint32]int
	locked uint32
}

func (m *modState) update(key uint32, pressed bool) bool {
	before := m.current()
	if key == KeyCapsLock {
		if pressed {
			m.locked ^= ModLock
		}
		return m.current() != before
	}
	mask := modifierOf(key)
	if mask == 0 {
		return false
	}
	if m.held == nil {
		m.held = make(map[uint32]int)
	}
	if pressed {
		m.held[mask]++
	} else if m.held[mask] > 0 {
		m.held[mask]--
	}
	return m.current() != before
}

func (m *modState) current() Modifiers {
	var depressed uint32
	for mask, n := range m.held {
		if n > 0 {
			depressed |= mask
		}
	}
	return Modifiers{Depressed: depressed, Locked: m.locked}
}
