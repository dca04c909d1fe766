// Package wire implements the Wayland wire format used on both sides of a connection:
// the compositor's client sockets and the host connection of the windowed backend.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	headerSize = 8
	// Largest message the format can describe, the size field is 16 bits
	MaxMessageSize = 0xffff
)

var (
	ErrShortMessage    = errors.New("message shorter than its arguments")
	ErrMessageTooLarge = errors.New("message too large")
	ErrMissingFd       = errors.New("message references a file descriptor that was not received")
	ErrBadString       = errors.New("string argument is not nul terminated")
)

// A signed 24.8 fixed point number
type Fixed int32

func FixedFromFloat(v float64) Fixed {
	return Fixed(int32(math.Round(v * 256)))
}

func FixedFromInt(v int) Fixed {
	return Fixed(int32(v) << 8)
}

func (f Fixed) Float() float64 {
	return float64(f) / 256
}

func (f Fixed) Int() int {
	return int(int32(f) >> 8)
}

// A file descriptor argument. It travels out of band and only takes a slot in the fd queue
type Fd int

// One decoded message. Data holds the argument payload without the header
type Message struct {
	Sender uint32
	Opcode uint16
	Data   []byte
	fds    *FdQueue
}

func (m Message) String() string {
	return fmt.Sprintf("%d@%d (%d bytes)", m.Opcode, m.Sender, len(m.Data))
}

// Args returns a reader over the message arguments
func (m Message) Args() *Reader {
	return &Reader{data: m.Data, fds: m.fds}
}

// Reader walks the arguments of a message in declaration order.
// The first failure sticks, so callers may read every argument and check Err once
type Reader struct {
	data []byte
	off  int
	fds  *FdQueue
	err  error
}

func (r *Reader) Err() error {
	return r.err
}

func (r *Reader) word() uint32 {
	if r.err != nil {
		return 0
	}
	if r.off+4 > len(r.data) {
		r.err = ErrShortMessage
		return 0
	}
	v := binary.LittleEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v
}

func (r *Reader) Uint() uint32 {
	return r.word()
}

func (r *Reader) Int() int32 {
	return int32(r.word())
}

func (r *Reader) Fixed() Fixed {
	return Fixed(int32(r.word()))
}

// Object reads an object id. 0 is the null object
func (r *Reader) Object() uint32 {
	return r.word()
}

func (r *Reader) NewID() uint32 {
	return r.word()
}

func (r *Reader) Array() []byte {
	n := int(r.word())
	if r.err != nil {
		return nil
	}
	padded := (n + 3) &^ 3
	if n < 0 || r.off+padded > len(r.data) {
		r.err = ErrShortMessage
		return nil
	}
	out := make([]byte, n)
	copy(out, r.data[r.off:r.off+n])
	r.off += padded
	return out
}

// String reads a string argument. A null string reads as ""
func (r *Reader) String() string {
	n := int(r.word())
	if r.err != nil || n == 0 {
		return ""
	}
	padded := (n + 3) &^ 3
	if r.off+padded > len(r.data) {
		r.err = ErrShortMessage
		return ""
	}
	raw := r.data[r.off : r.off+n]
	r.off += padded
	if raw[n-1] != 0 {
		r.err = ErrBadString
		return ""
	}
	return string(raw[:n-1])
}

// Fd takes the next received file descriptor. Ownership passes to the caller
func (r *Reader) Fd() int {
	if r.err != nil {
		return -1
	}
	fd, ok := r.fds.Pop()
	if !ok {
		r.err = ErrMissingFd
		return -1
	}
	return fd
}

// Encode serializes one message. Supported argument types are uint32, int32, int, Fixed,
// string, []byte (array) and Fd. Fds are returned separately for SCM_RIGHTS
func Encode(sender uint32, opcode uint16, args ...any) ([]byte, []int, error) {
	size := headerSize
	for _, arg := range args {
		switch v := arg.(type) {
		case uint32, int32, int, Fixed:
			size += 4
		case string:
			size += 4 + (len(v)+1+3)&^3
		case []byte:
			size += 4 + (len(v)+3)&^3
		case Fd:
		default:
			return nil, nil, fmt.Errorf("unsupported argument type %T", arg)
		}
	}
	if size > MaxMessageSize {
		return nil, nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, size)
	}

	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[0:], sender)
	binary.LittleEndian.PutUint32(buf[4:], uint32(size)<<16|uint32(opcode))
	off := headerSize
	var fds []int
	for _, arg := range args {
		switch v := arg.(type) {
		case uint32:
			binary.LittleEndian.PutUint32(buf[off:], v)
			off += 4
		case int32:
			binary.LittleEndian.PutUint32(buf[off:], uint32(v))
			off += 4
		case int:
			binary.LittleEndian.PutUint32(buf[off:], uint32(int32(v)))
			off += 4
		case Fixed:
			binary.LittleEndian.PutUint32(buf[off:], uint32(int32(v)))
			off += 4
		case string:
			binary.LittleEndian.PutUint32(buf[off:], uint32(len(v)+1))
			copy(buf[off+4:], v)
			off += 4 + (len(v)+1+3)&^3
		case []byte:
			binary.LittleEndian.PutUint32(buf[off:], uint32(len(v)))
			copy(buf[off+4:], v)
			off += 4 + (len(v)+3)&^3
		case Fd:
			fds = append(fds, int(v))
		}
	}
	return buf, fds, nil
}

// Uint32Array packs values into a wire array, used for key lists and toplevel states
func Uint32Array(values ...uint32) []byte {
	out := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[4*i:], v)
	}
	return out
}
