package gateway

import (
	"fmt"
	"os"
	"sync"
)

// What a device handle may be used for
type Capability uint32

const (
	CapDisplay = Capability(1 << iota)
	CapInput
)

func (c Capability) String() string {
	switch c {
	case CapDisplay:
		return "display"
	case CapInput:
		return "input"
	case CapDisplay | CapInput:
		return "display+input"
	default:
		return fmt.Sprintf("caps(%d)", uint32(c))
	}
}

// Device is a capability-scoped handle on an open device node.
// The gateway owns it, everyone else only borrows the descriptor
type Device struct {
	Path       string
	Caps       Capability
	Generation uint64

	lock     sync.Mutex
	file     *os.File
	released bool
}

// Fd returns the descriptor, or ErrReleased once the gateway invalidated the handle
func (d *Device) Fd() (int, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.released {
		return -1, fmt.Errorf("%w: %s", ErrReleased, d.Path)
	}
	return int(d.file.Fd()), nil
}

// File returns the underlying file for readers that want an *os.File
func (d *Device) File() (*os.File, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.released {
		return nil, fmt.Errorf("%w: %s", ErrReleased, d.Path)
	}
	return d.file, nil
}

func (d *Device) Released() bool {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.released
}

// invalidate closes the descriptor and makes every later use fail
func (d *Device) invalidate() error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.released {
		return nil
	}
	d.released = true
	return d.file.Close()
}
