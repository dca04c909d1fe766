// Package gateway owns the session and every open device node. Backends borrow
// capability-scoped handles from it and learn about hot-add and hot-remove through subscriptions.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/BKSalman/buddaraysh/util/multiplexer"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

var (
	ErrPermissionDenied   = errors.New("permission denied")
	ErrSessionUnavailable = errors.New("session unavailable")
	ErrDeviceBusy         = errors.New("device busy")
	ErrNotFound           = errors.New("device not found")
	ErrReleased           = errors.New("device handle released")
	ErrNotAcquired        = errors.New("session not acquired")
)

type SessionKind int

const (
	// No session, for backends that never touch devices
	SessionNested = SessionKind(iota)
	// Own a virtual terminal and become DRM master
	SessionDirect
)

type Options struct {
	Kind SessionKind
	// Terminal to take over. Empty means the controlling terminal
	TTY string
	// Directories watched for device nodes appearing and disappearing
	WatchDirs []string
	// Listen for kernel uevents, needed for connector hotplug
	Uevents bool
	// Opens device nodes. Tests replace it
	Opener func(path string, flag int) (*os.File, error)
}

type Gateway struct {
	opts Options

	lock        sync.Mutex
	acquired    bool
	released    bool
	devices     map[string]*Device
	generations map[string]uint64
	vt          *vtSession
	plexer      *multiplexer.OneToMany[Hotplug]
	cancel      context.CancelFunc
	done        chan struct{}
	wg          sync.WaitGroup
}

func New(opts Options) *Gateway {
	if opts.Opener == nil {
		opts.Opener = func(path string, flag int) (*os.File, error) {
			return os.OpenFile(path, flag|unix.O_CLOEXEC, 0)
		}
	}
	g := &Gateway{
		opts:        opts,
		devices:     make(map[string]*Device),
		generations: make(map[string]uint64),
		plexer:      multiplexer.NewOneToMany[Hotplug](32),
		done:        make(chan struct{}),
	}
	go g.plexer.StartPlexer()
	return g
}

// Acquire obtains exclusive session permission
func (g *Gateway) Acquire() error {
	g.lock.Lock()
	defer g.lock.Unlock()
	if g.released {
		return fmt.Errorf("%w: gateway already released", ErrSessionUnavailable)
	}
	if g.acquired {
		return nil
	}
	if g.opts.Kind == SessionDirect {
		vt, err := openVT(g.opts.TTY, g.sessionEvent)
		if err != nil {
			return err
		}
		g.vt = vt
	}
	g.acquired = true
	logrus.WithField("direct", g.opts.Kind == SessionDirect).Infoln("Session acquired")
	return nil
}

func (g *Gateway) sessionEvent(kind HotplugKind) {
	if kind == SessionPaused {
		g.lock.Lock()
		for _, d := range g.devices {
			if d.Caps&CapDisplay != 0 {
				if fd, err := d.Fd(); err == nil {
					_ = dropMaster(fd)
				}
			}
		}
		g.lock.Unlock()
	} else if kind == SessionResumed {
		g.lock.Lock()
		for _, d := range g.devices {
			if d.Caps&CapDisplay != 0 {
				if fd, err := d.Fd(); err == nil {
					if err := setMaster(fd); err != nil {
						logrus.WithError(err).WithField("device", d.Path).Warnln("Could not regain DRM master")
					}
				}
			}
		}
		g.lock.Unlock()
	}
	g.publish(Hotplug{Kind: kind})
}

// OpenDevice opens a device node for the given capabilities.
// Display devices also make this process DRM master
func (g *Gateway) OpenDevice(path string, caps Capability) (*Device, error) {
	g.lock.Lock()
	defer g.lock.Unlock()
	if !g.acquired || g.released {
		return nil, ErrNotAcquired
	}
	if d, ok := g.devices[path]; ok && !d.Released() {
		return nil, fmt.Errorf("%w: %s is already open", ErrDeviceBusy, path)
	}
	flag := os.O_RDWR
	if caps&CapInput != 0 {
		flag |= unix.O_NONBLOCK
	}
	f, err := g.opts.Opener(path, flag)
	if err != nil {
		return nil, classifyOpenError(path, err)
	}
	if caps&CapDisplay != 0 && g.opts.Kind == SessionDirect {
		if err := setMaster(int(f.Fd())); err != nil {
			f.Close()
			return nil, classifyOpenError(path, err)
		}
	}
	d := &Device{
		Path:       path,
		Caps:       caps,
		Generation: g.generations[path],
		file:       f,
	}
	g.devices[path] = d
	logrus.WithFields(logrus.Fields{
		"device":     path,
		"caps":       caps,
		"generation": d.Generation,
	}).Debugln("Opened device")
	return d, nil
}

func classifyOpenError(path string, err error) error {
	switch {
	case errors.Is(err, unix.ENOENT), errors.Is(err, unix.ENXIO), errors.Is(err, unix.ENODEV):
		return fmt.Errorf("%w: %s: %w", ErrNotFound, path, err)
	case errors.Is(err, unix.EBUSY):
		return fmt.Errorf("%w: %s: %w", ErrDeviceBusy, path, err)
	case errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM):
		return fmt.Errorf("%w: %s: %w", ErrPermissionDenied, path, err)
	default:
		return fmt.Errorf("opening %s: %w", path, err)
	}
}

// CloseDevice releases a single handle, e.g. after its device disappeared
func (g *Gateway) CloseDevice(d *Device) error {
	g.lock.Lock()
	defer g.lock.Unlock()
	if cur, ok := g.devices[d.Path]; ok && cur == d {
		delete(g.devices, d.Path)
	}
	return d.invalidate()
}

// Subscribe returns a stream of hotplug notifications
func (g *Gateway) Subscribe(name string) (<-chan Hotplug, error) {
	return g.plexer.MakeReceiver(name)
}

func (g *Gateway) Unsubscribe(name string) {
	g.plexer.CloseReceiver(name)
}

// Start begins watching for hotplug events until ctx ends or Release is called
func (g *Gateway) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	g.lock.Lock()
	g.cancel = cancel
	g.lock.Unlock()

	if len(g.opts.WatchDirs) > 0 {
		w, err := newNodeWatcher(g.opts.WatchDirs)
		if err != nil {
			cancel()
			return err
		}
		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			w.run(ctx, g.nodeEvent)
		}()
	}
	if g.opts.Uevents {
		u, err := newUeventListener()
		if err != nil {
			// Connector hotplug is lost, everything else still works
			logrus.WithError(err).Warnln("Kernel uevents unavailable")
		} else {
			g.wg.Add(1)
			go func() {
				defer g.wg.Done()
				u.run(ctx, g.publish)
			}()
		}
	}
	return nil
}

// nodeEvent tracks generations and invalidates handles of removed nodes
func (g *Gateway) nodeEvent(ev Hotplug) {
	g.lock.Lock()
	switch ev.Kind {
	case DeviceAdded:
		g.generations[ev.Path]++
	case DeviceRemoved:
		if d, ok := g.devices[ev.Path]; ok {
			_ = d.invalidate()
			delete(g.devices, ev.Path)
		}
	}
	ev.Generation = g.generations[ev.Path]
	g.lock.Unlock()
	g.publish(ev)
}

func (g *Gateway) publish(ev Hotplug) {
	logrus.WithFields(logrus.Fields{
		"kind":   ev.Kind,
		"device": ev.Path,
	}).Debugln("Hotplug")
	select {
	case g.plexer.GetSender() <- ev:
	case <-g.done:
		// Released, late events are dropped
	}
}

// Release invalidates every handle, gives the terminal back and stops hotplug monitoring
func (g *Gateway) Release() error {
	g.lock.Lock()
	if g.released {
		g.lock.Unlock()
		return nil
	}
	g.released = true
	close(g.done)
	var errs []error
	for path, d := range g.devices {
		if d.Caps&CapDisplay != 0 && g.opts.Kind == SessionDirect {
			if fd, err := d.Fd(); err == nil {
				_ = dropMaster(fd)
			}
		}
		if err := d.invalidate(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", path, err))
		}
		delete(g.devices, path)
	}
	if g.vt != nil {
		if err := g.vt.restore(); err != nil {
			errs = append(errs, err)
		}
		g.vt = nil
	}
	cancel := g.cancel
	g.lock.Unlock()

	if cancel != nil {
		cancel()
		g.wg.Wait()
	}
	g.plexer.CloseSender()
	logrus.Infoln("Session released")
	return errors.Join(errs...)
}
