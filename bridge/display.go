package bridge

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const maxDisplay = 32

var errDisplayInUse = errors.New("display in use")

// display is a reserved X11 display number: its lock file and listening sockets
type display struct {
	number    int
	lockPath  string
	listeners []*net.UnixListener
}

func (d *display) name() string {
	return fmt.Sprintf(":%d", d.number)
}

// files duplicates the listening sockets for handing to a child
func (d *display) files() ([]*os.File, error) {
	var out []*os.File
	for _, l := range d.listeners {
		f, err := l.File()
		if err != nil {
			closeFiles(out)
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// reject drops every pending connection
func (d *display) reject() {
	for _, l := range d.listeners {
		_ = l.SetDeadline(time.Now())
		for {
			c, err := l.Accept()
			if err != nil {
				break
			}
			c.Close()
		}
		_ = l.SetDeadline(time.Time{})
	}
}

func (d *display) close() {
	for _, l := range d.listeners {
		l.Close()
	}
	d.listeners = nil
	if d.lockPath != "" {
		_ = os.Remove(d.lockPath)
		d.lockPath = ""
	}
}

// reserveDisplay takes the first free display number at or above first
func reserveDisplay(socketDir, lockDir string, first int, abstract bool) (*display, error) {
	if err := os.MkdirAll(socketDir, 0o777|os.ModeSticky); err != nil {
		return nil, fmt.Errorf("creating %s: %w", socketDir, err)
	}
	var errs []error
	for n := first; n < maxDisplay; n++ {
		d, err := openDisplay(socketDir, lockDir, n, abstract)
		if err == nil {
			return d, nil
		}
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("no free X11 display: %w", errors.Join(errs...))
}

func openDisplay(socketDir, lockDir string, n int, abstract bool) (*display, error) {
	lock, err := lockDisplay(lockDir, n)
	if err != nil {
		return nil, err
	}
	d := &display{number: n, lockPath: lock}
	path := filepath.Join(socketDir, fmt.Sprintf("X%d", n))
	// The lock is ours, so a socket left behind is stale
	_ = os.Remove(path)
	l, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		d.close()
		return nil, err
	}
	l.SetUnlinkOnClose(true)
	d.listeners = append(d.listeners, l)
	if abstract {
		al, err := net.ListenUnix("unix", &net.UnixAddr{Name: "@" + path, Net: "unix"})
		if err != nil {
			d.close()
			return nil, err
		}
		d.listeners = append(d.listeners, al)
	}
	logrus.WithFields(logrus.Fields{
		"display": d.name(),
		"socket":  path,
	}).Infoln("Reserved X11 display")
	return d, nil
}

// lockDisplay creates /tmp/.X<n>-lock holding our pid the way X servers do.
// Locks of dead processes are taken over
func lockDisplay(dir string, n int) (string, error) {
	path := filepath.Join(dir, fmt.Sprintf(".X%d-lock", n))
	for range 2 {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL|unix.O_CLOEXEC, 0o444)
		if err == nil {
			_, err = fmt.Fprintf(f, "%10d\n", os.Getpid())
			f.Close()
			if err != nil {
				_ = os.Remove(path)
				return "", err
			}
			return path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", err
		}
		if !staleLock(path) {
			return "", fmt.Errorf("%w: %s", errDisplayInUse, path)
		}
		logrus.WithField("lock", path).Debugln("Removing stale X11 lock")
		if err := os.Remove(path); err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: %s", errDisplayInUse, path)
}

func staleLock(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return true
	}
	return errors.Is(unix.Kill(pid, 0), unix.ESRCH)
}

// waitReadable blocks until one of the fds has a pending connection or stop closes
func waitReadable(fds []int, stop <-chan struct{}) bool {
	pfds := make([]unix.PollFd, len(fds))
	for i, fd := range fds {
		pfds[i] = unix.PollFd{Fd: int32(fd), Events: unix.POLLIN}
	}
	for {
		select {
		case <-stop:
			return false
		default:
		}
		n, err := unix.Poll(pfds, 100)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			logrus.WithError(err).Warnln("Polling the X11 sockets failed")
			return false
		}
		if n > 0 {
			return true
		}
	}
}

func closeFiles(files []*os.File) {
	for _, f := range files {
		f.Close()
	}
}
