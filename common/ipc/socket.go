package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	readTimeout    = 5 * time.Second
	writeTimeout   = 5 * time.Second
	replyTimeout   = 10 * time.Second
	maxRequestSize = 64 * 1024
)

var (
	ErrClosed  = errors.New("control socket closed")
	ErrTimeout = errors.New("compositor did not answer in time")
)

// SocketPath is where the control socket of the compositor serving socketName lives
func SocketPath(runtimeDir, socketName string) string {
	return filepath.Join(runtimeDir, fmt.Sprintf("buddaraysh.%s.sock", socketName))
}

// Call is one request waiting for the compositor loop to answer it
type Call struct {
	Request Request
	reply   chan Response
}

// NewCall makes a call for in-process callers. The answer arrives on the returned channel
func NewCall(req Request) (Call, <-chan Response) {
	reply := make(chan Response, 1)
	return Call{Request: req, reply: reply}, reply
}

// Reply answers the call. Only the first reply counts
func (c Call) Reply(r Response) {
	select {
	case c.reply <- r:
	default:
	}
}

type Server struct {
	path     string
	listener *net.UnixListener
	calls    chan Call
	done     chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

// Listen binds the control socket at path, replacing a stale one
func Listen(path string) (*Server, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("removing stale socket %s: %w", path, err)
	}
	l, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", path, err)
	}
	l.SetUnlinkOnClose(true)
	logrus.WithField("socket", path).Infoln("Control socket listening")
	return &Server{
		path:     path,
		listener: l,
		calls:    make(chan Call),
		done:     make(chan struct{}),
	}, nil
}

func (s *Server) Path() string {
	return s.path
}

// Calls is what the loop selects on. Every call must be answered with Reply
func (s *Server) Calls() <-chan Call {
	return s.calls
}

// Serve accepts connections in the background until ctx ends or Close is called
func (s *Server) Serve(ctx context.Context) {
	stop := context.AfterFunc(ctx, func() { s.Close() })
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer stop()
		for {
			conn, err := s.listener.AcceptUnix()
			if err != nil {
				if !errors.Is(err, net.ErrClosed) {
					logrus.WithError(err).Errorln("Control socket accept failed")
				}
				return
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.handleConnection(conn)
			}()
		}
	}()
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

	var req Request
	if err := decode(io.LimitReader(conn, maxRequestSize), &req); err != nil {
		if !errors.Is(err, io.EOF) {
			s.write(conn, Failure(fmt.Errorf("invalid request: %w", err)))
		}
		return
	}
	if req.Kind == "" {
		s.write(conn, Failure(errors.New("missing required field: kind")))
		return
	}

	call := Call{Request: req, reply: make(chan Response, 1)}
	select {
	case s.calls <- call:
	case <-s.done:
		s.write(conn, Failure(ErrClosed))
		return
	}
	select {
	case resp := <-call.reply:
		s.write(conn, resp)
	case <-time.After(replyTimeout):
		s.write(conn, Failure(ErrTimeout))
	case <-s.done:
		s.write(conn, Failure(ErrClosed))
	}
}

func (s *Server) write(conn net.Conn, resp Response) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := encode(conn, resp); err != nil {
		logrus.WithError(err).Debugln("Writing control response failed")
	}
}

// Close stops accepting and waits for the connection handlers
func (s *Server) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		if cerr := s.listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	})
	s.wg.Wait()
	return err
}

// Send delivers one request to the compositor listening at path and waits for the answer
func Send(ctx context.Context, path string, req Request) (Response, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return Response{}, fmt.Errorf("connecting to %s: %w", path, err)
	}
	defer conn.Close()
	deadline := time.Now().Add(replyTimeout + writeTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)
	if err := encode(conn, req); err != nil {
		return Response{}, fmt.Errorf("sending request: %w", err)
	}
	var resp Response
	if err := decode(conn, &resp); err != nil {
		return Response{}, fmt.Errorf("reading response: %w", err)
	}
	if !resp.OK && resp.Error != "" {
		return resp, errors.New(resp.Error)
	}
	return resp, nil
}
