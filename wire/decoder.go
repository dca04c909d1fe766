package wire

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// FdQueue holds received file descriptors until a message argument claims them
type FdQueue struct {
	fds []int
}

func (q *FdQueue) Push(fds ...int) {
	q.fds = append(q.fds, fds...)
}

func (q *FdQueue) Pop() (int, bool) {
	if q == nil || len(q.fds) == 0 {
		return -1, false
	}
	fd := q.fds[0]
	q.fds = q.fds[1:]
	return fd, true
}

func (q *FdQueue) Len() int {
	return len(q.fds)
}

// CloseAll closes every unclaimed descriptor
func (q *FdQueue) CloseAll() {
	for _, fd := range q.fds {
		_ = unix.Close(fd)
	}
	q.fds = nil
}

// Decoder reassembles messages from arbitrary chunks of a byte stream.
// Partial messages stay buffered until the rest arrives
type Decoder struct {
	buf []byte
	fds FdQueue
}

// Feed appends received bytes and descriptors
func (d *Decoder) Feed(data []byte, fds []int) {
	d.buf = append(d.buf, data...)
	d.fds.Push(fds...)
}

// Next returns the next complete message. ok is false when more bytes are needed
func (d *Decoder) Next() (msg Message, ok bool, err error) {
	if len(d.buf) < headerSize {
		return Message{}, false, nil
	}
	sender := binary.LittleEndian.Uint32(d.buf[0:])
	word := binary.LittleEndian.Uint32(d.buf[4:])
	size := int(word >> 16)
	if size < headerSize || size%4 != 0 {
		return Message{}, false, fmt.Errorf("invalid message size %d", size)
	}
	if len(d.buf) < size {
		return Message{}, false, nil
	}
	data := make([]byte, size-headerSize)
	copy(data, d.buf[headerSize:size])
	d.buf = d.buf[size:]
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return Message{
		Sender: sender,
		Opcode: uint16(word & 0xffff),
		Data:   data,
		fds:    &d.fds,
	}, true, nil
}

// Pending reports how many bytes of an incomplete message are buffered
func (d *Decoder) Pending() int {
	return len(d.buf)
}

// Close releases descriptors nobody claimed
func (d *Decoder) Close() {
	d.fds.CloseAll()
	d.buf = nil
}
