// Package wrappers keeps the process wide stdin and stdout open when a consumer closes what it was handed
package wrappers

import (
	"errors"
	"io"
	"sync/atomic"
)

var ErrClosed = errors.New("closed")

type ReaderWrapper struct {
	closed  atomic.Bool
	wrapped io.Reader
}

func NewReaderWrapper(wraps io.Reader) *ReaderWrapper {
	return &ReaderWrapper{wrapped: wraps}
}

// Close only detaches. The wrapped reader stays open and a read already blocked in it is not interrupted
func (r *ReaderWrapper) Close() error {
	r.closed.Store(true)
	return nil
}

func (r *ReaderWrapper) Read(p []byte) (int, error) {
	if r.closed.Load() {
		return 0, ErrClosed
	}
	n, err := r.wrapped.Read(p)
	if r.closed.Load() {
		// Whatever arrived after the close belongs to nobody
		return 0, ErrClosed
	}
	return n, err
}

type WriterWrapper struct {
	closed  atomic.Bool
	wrapped io.Writer
}

func NewWriterWrapper(wraps io.Writer) *WriterWrapper {
	return &WriterWrapper{wrapped: wraps}
}

func (w *WriterWrapper) Close() error {
	w.closed.Store(true)
	return nil
}

func (w *WriterWrapper) Write(p []byte) (int, error) {
	if w.closed.Load() {
		return 0, ErrClosed
	}
	return w.wrapped.Write(p)
}
