package wire

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

const (
	readBufferSize = 4096
	// The kernel caps a single SCM_RIGHTS message, libwayland uses the same bound
	maxFdsPerRead = 28
)

// Conn is a unix stream socket speaking the wire format.
// Reads and writes may happen from different goroutines
type Conn struct {
	uc      *net.UnixConn
	writeMu sync.Mutex
	buf     []byte
	oob     []byte
}

func NewConn(uc *net.UnixConn) *Conn {
	return &Conn{
		uc:  uc,
		buf: make([]byte, readBufferSize),
		oob: make([]byte, unix.CmsgSpace(maxFdsPerRead*4)),
	}
}

// FileConn wraps an inherited socket descriptor such as WAYLAND_SOCKET
func FileConn(f *os.File) (*Conn, error) {
	c, err := net.FileConn(f)
	if err != nil {
		return nil, err
	}
	uc, ok := c.(*net.UnixConn)
	if !ok {
		c.Close()
		return nil, fmt.Errorf("%s is not a unix socket", f.Name())
	}
	return NewConn(uc), nil
}

// Pair returns two connected sockets as files, ready to hand to a child process or FileConn
func Pair() (*os.File, *os.File, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("socketpair: %w", err)
	}
	return os.NewFile(uintptr(fds[0]), "socketpair-0"), os.NewFile(uintptr(fds[1]), "socketpair-1"), nil
}

// ReadBatch blocks until some bytes arrive and returns them with any received descriptors.
// The returned slice is owned by the caller
func (c *Conn) ReadBatch() ([]byte, []int, error) {
	n, oobn, _, _, err := c.uc.ReadMsgUnix(c.buf, c.oob)
	var fds []int
	if oobn > 0 {
		fds = parseRights(c.oob[:oobn])
	}
	if err != nil {
		closeFds(fds)
		return nil, nil, err
	}
	if n == 0 {
		closeFds(fds)
		return nil, nil, net.ErrClosed
	}
	data := make([]byte, n)
	copy(data, c.buf[:n])
	return data, fds, nil
}

// Write sends one or more encoded messages. Descriptors are attached to the first byte
func (c *Conn) Write(data []byte, fds []int) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	var oob []byte
	if len(fds) > 0 {
		oob = unix.UnixRights(fds...)
	}
	for len(data) > 0 || len(oob) > 0 {
		n, _, err := c.uc.WriteMsgUnix(data, oob, nil)
		if err != nil {
			return err
		}
		data = data[n:]
		oob = nil
	}
	return nil
}

// Send encodes and writes a single message
func (c *Conn) Send(sender uint32, opcode uint16, args ...any) error {
	data, fds, err := Encode(sender, opcode, args...)
	if err != nil {
		return err
	}
	return c.Write(data, fds)
}

func (c *Conn) Close() error {
	return c.uc.Close()
}

func parseRights(oob []byte) []int {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil
	}
	var fds []int
	for _, m := range msgs {
		rights, err := unix.ParseUnixRights(&m)
		if err != nil {
			continue
		}
		fds = append(fds, rights...)
	}
	return fds
}

func closeFds(fds []int) {
	for _, fd := range fds {
		_ = unix.Close(fd)
	}
}

// IsClosed reports errors that just mean the peer went away
func IsClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, unix.ECONNRESET) || errors.Is(err, unix.EPIPE)
}
