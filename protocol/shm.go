package protocol

import (
	"fmt"
	"runtime/debug"

	"github.com/BKSalman/buddaraysh/render"
	"github.com/BKSalman/buddaraysh/wire"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

type shmPool struct {
	fd   int
	data []byte
	// The pool object plus every buffer carved from it
	refs int
}

func (p *shmPool) unref() {
	p.refs--
	if p.refs > 0 {
		return
	}
	if p.data != nil {
		_ = unix.Munmap(p.data)
		p.data = nil
	}
	if p.fd >= 0 {
		_ = unix.Close(p.fd)
		p.fd = -1
	}
}

type buffer struct {
	id        uint32
	pool      *shmPool
	offset    int
	width     int
	height    int
	stride    int
	format    render.Format
	destroyed bool
}

func (b *buffer) descriptor() render.BufferDescriptor {
	return render.BufferDescriptor{
		Width:  b.width,
		Height: b.height,
		Stride: b.stride,
		Offset: b.offset,
		Format: b.format,
		Data:   b.pool.data,
	}
}

func bindShm(c *Client, id, version uint32) error {
	_, err := c.add(id, wire.InterfaceShm, version, func(opcode uint16, args *wire.Reader) error {
		switch opcode {
		case wire.ShmCreatePool:
			poolID := args.NewID()
			fd := args.Fd()
			size := args.Int()
			if err := args.Err(); err != nil {
				return err
			}
			return c.createPool(poolID, fd, int(size))
		case wire.ShmRelease:
			c.remove(id)
			return nil
		}
		return protoErr(wire.DisplayID, wire.ErrorInvalidMethod, "wl_shm has no request %d", opcode)
	})
	if err != nil {
		return err
	}
	c.send(id, wire.ShmEventFormat, wire.ShmFormatARGB8888)
	c.send(id, wire.ShmEventFormat, wire.ShmFormatXRGB8888)
	return nil
}

func (c *Client) createPool(id uint32, fd, size int) error {
	if size <= 0 {
		unix.Close(fd)
		return protoErr(id, wire.ShmErrorInvalidStride, "invalid pool size %d", size)
	}
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return protoErr(id, wire.ShmErrorInvalidFd, "mmap pool: %v", err)
	}
	pool := &shmPool{fd: fd, data: data, refs: 1}
	r, err := c.add(id, wire.InterfaceShmPool, 1, func(opcode uint16, args *wire.Reader) error {
		switch opcode {
		case wire.ShmPoolCreateBuffer:
			bufID := args.NewID()
			offset, width, height, stride := args.Int(), args.Int(), args.Int(), args.Uint()
			format := args.Uint()
			if err := args.Err(); err != nil {
				return err
			}
			return c.createBuffer(pool, bufID, int(offset), int(width), int(height), int(int32(stride)), format)
		case wire.ShmPoolDestroy:
			c.remove(id)
		case wire.ShmPoolResize:
			return pool.resize(id, int(args.Int()))
		default:
			return protoErr(wire.DisplayID, wire.ErrorInvalidMethod, "wl_shm_pool has no request %d", opcode)
		}
		return nil
	})
	if err != nil {
		pool.unref()
		return err
	}
	r.data = pool
	r.destroy = pool.unref
	return nil
}

// resize remaps the pool. Buffers read through the pool so they see the new mapping
func (p *shmPool) resize(id uint32, size int) error {
	if size < len(p.data) {
		return protoErr(id, wire.ShmErrorInvalidStride, "pool shrunk from %d to %d", len(p.data), size)
	}
	if size == len(p.data) {
		return nil
	}
	data, err := unix.Mmap(p.fd, 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return protoErr(id, wire.ShmErrorInvalidFd, "remap pool: %v", err)
	}
	_ = unix.Munmap(p.data)
	p.data = data
	return nil
}

func (c *Client) createBuffer(pool *shmPool, id uint32, offset, width, height, stride int, format uint32) error {
	if format != wire.ShmFormatARGB8888 && format != wire.ShmFormatXRGB8888 {
		return protoErr(id, wire.ShmErrorInvalidFormat, "format 0x%x", format)
	}
	if offset < 0 || width <= 0 || height <= 0 || stride < width*4 || offset+stride*height > len(pool.data) {
		return protoErr(id, wire.ShmErrorInvalidStride, "%dx%d stride %d at %d exceeds pool of %d bytes", width, height, stride, offset, len(pool.data))
	}
	b := &buffer{
		id:     id,
		pool:   pool,
		offset: offset,
		width:  width,
		height: height,
		stride: stride,
		format: render.Format(format),
	}
	r, err := c.add(id, wire.InterfaceBuffer, 1, func(opcode uint16, _ *wire.Reader) error {
		if opcode != wire.BufferDestroy {
			return protoErr(wire.DisplayID, wire.ErrorInvalidMethod, "wl_buffer has no request %d", opcode)
		}
		c.remove(id)
		return nil
	})
	if err != nil {
		return err
	}
	pool.refs++
	r.data = b
	r.destroy = func() {
		b.destroyed = true
		pool.unref()
	}
	return nil
}

// bufferOf resolves a nullable wl_buffer argument
func (c *Client) bufferOf(id uint32) (*buffer, error) {
	r, err := c.object(id, wire.InterfaceBuffer, true)
	if err != nil || r == nil {
		return nil, err
	}
	return r.data.(*buffer), nil
}

// guardFault runs fn with memory faults turned into errors. A client may truncate the file
// behind a pool, reading the mapping then raises SIGBUS
func guardFault(fn func() error) (err error) {
	old := debug.SetPanicOnFault(true)
	defer func() {
		debug.SetPanicOnFault(old)
		r := recover()
		if r == nil {
			return
		}
		fault, ok := r.(interface{ Addr() uintptr })
		if !ok {
			panic(r)
		}
		logrus.WithField("addr", fmt.Sprintf("%#x", fault.Addr())).Warnln("Client buffer faulted while reading")
		err = fmt.Errorf("%w: %v", render.ErrInvalidBuffer, r)
	}()
	return fn()
}
