package gateway

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

type HotplugKind int

const (
	DeviceAdded = HotplugKind(iota)
	DeviceRemoved
	// A device changed without being re-created, e.g. a monitor plugged into a connector
	DeviceChanged
	SessionPaused
	SessionResumed
)

func (k HotplugKind) String() string {
	switch k {
	case DeviceAdded:
		return "added"
	case DeviceRemoved:
		return "removed"
	case DeviceChanged:
		return "changed"
	case SessionPaused:
		return "session-paused"
	case SessionResumed:
		return "session-resumed"
	default:
		return fmt.Sprintf("hotplug(%d)", int(k))
	}
}

type Hotplug struct {
	Kind       HotplugKind
	Path       string
	Subsystem  string
	Generation uint64
}

// Subsystem guessed from the node name
func subsystemOf(path string) string {
	base := filepath.Base(path)
	switch {
	case strings.HasPrefix(base, "card"):
		return "drm"
	case strings.HasPrefix(base, "event"):
		return "input"
	default:
		return ""
	}
}

// nodeWatcher reports device nodes appearing in and vanishing from /dev directories
type nodeWatcher struct {
	watcher *fsnotify.Watcher
}

func newNodeWatcher(dirs []string) (*nodeWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating device watcher: %w", err)
	}
	for _, dir := range dirs {
		if err := w.Add(dir); err != nil {
			w.Close()
			return nil, fmt.Errorf("watching %s: %w", dir, err)
		}
	}
	return &nodeWatcher{watcher: w}, nil
}

func (n *nodeWatcher) run(ctx context.Context, emit func(Hotplug)) {
	defer n.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-n.watcher.Events:
			if !ok {
				return
			}
			sub := subsystemOf(ev.Name)
			if sub == "" {
				continue
			}
			switch {
			case ev.Has(fsnotify.Create):
				emit(Hotplug{Kind: DeviceAdded, Path: ev.Name, Subsystem: sub})
			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				emit(Hotplug{Kind: DeviceRemoved, Path: ev.Name, Subsystem: sub})
			case ev.Has(fsnotify.Chmod):
				// udev fixes permissions after creating the node
				emit(Hotplug{Kind: DeviceChanged, Path: ev.Name, Subsystem: sub})
			}
		case err, ok := <-n.watcher.Errors:
			if !ok {
				return
			}
			logrus.WithError(err).Warnln("Device watcher error")
		}
	}
}

// ueventListener reads kernel uevents for connector changes that never touch /dev
type ueventListener struct {
	fd int
}

func newUeventListener() (*ueventListener, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, unix.NETLINK_KOBJECT_UEVENT)
	if err != nil {
		return nil, fmt.Errorf("opening uevent socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: 1}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("binding uevent socket: %w", err)
	}
	return &ueventListener{fd: fd}, nil
}

func (u *ueventListener) run(ctx context.Context, emit func(Hotplug)) {
	defer unix.Close(u.fd)
	buf := make([]byte, 8192)
	pfd := []unix.PollFd{{Fd: int32(u.fd), Events: unix.POLLIN}}
	for ctx.Err() == nil {
		n, err := unix.Poll(pfd, 200)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			logrus.WithError(err).Warnln("Polling uevents failed")
			return
		}
		if n == 0 {
			continue
		}
		read, _, err := unix.Recvfrom(u.fd, buf, 0)
		if err != nil {
			logrus.WithError(err).Debugln("Reading uevent failed")
			continue
		}
		// Nodes coming and going are reported by the node watcher
		if ev, ok := parseUevent(buf[:read]); ok && ev.Kind == DeviceChanged {
			emit(ev)
		}
	}
}

// parseUevent turns "ACTION@DEVPATH\0KEY=VALUE\0..." into a hotplug event for drm and input devices
func parseUevent(data []byte) (Hotplug, bool) {
	fields := bytes.Split(data, []byte{0})
	env := make(map[string]string, len(fields))
	for _, f := range fields[1:] {
		key, value, ok := strings.Cut(string(f), "=")
		if ok {
			env[key] = value
		}
	}
	sub := env["SUBSYSTEM"]
	if sub != "drm" && sub != "input" {
		return Hotplug{}, false
	}
	name := env["DEVNAME"]
	if name == "" {
		return Hotplug{}, false
	}
	ev := Hotplug{Subsystem: sub, Path: filepath.Join("/dev", name)}
	switch env["ACTION"] {
	case "add":
		ev.Kind = DeviceAdded
	case "remove":
		ev.Kind = DeviceRemoved
	case "change":
		ev.Kind = DeviceChanged
	default:
		return Hotplug{}, false
	}
	return ev, true
}
