package protocol

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// DefaultKeymap resolves to the evdev US layout on the client side
const DefaultKeymap = `xkb_keymap {
	xkb_keycodes  { include "evdev+aliases(qwerty)" };
	xkb_types     { include "complete" };
	xkb_compat    { include "complete" };
	xkb_symbols   { include "pc+us+inet(evdev)" };
	xkb_geometry  { include "pc(pc105)" };
};
`

// keymap is a sealed memfd shared read-only with every keyboard
type keymap struct {
	fd   int
	size uint32
}

func newKeymap(text string) (*keymap, error) {
	fd, err := unix.MemfdCreate("buddaraysh-keymap", unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err != nil {
		return nil, fmt.Errorf("keymap memfd: %w", err)
	}
	data := append([]byte(text), 0)
	for off := 0; off < len(data); {
		n, err := unix.Write(fd, data[off:])
		if err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("write keymap: %w", err)
		}
		off += n
	}
	// Clients map it MAP_PRIVATE, sealing keeps one of them from changing it under the others
	_, err = unix.FcntlInt(uintptr(fd), unix.F_ADD_SEALS, unix.F_SEAL_SHRINK|unix.F_SEAL_GROW|unix.F_SEAL_WRITE|unix.F_SEAL_SEAL)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("seal keymap: %w", err)
	}
	return &keymap{fd: fd, size: uint32(len(data))}, nil
}

func (k *keymap) close() {
	if k != nil && k.fd >= 0 {
		unix.Close(k.fd)
		k.fd = -1
	}
}
