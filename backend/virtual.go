package backend

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/BKSalman/buddaraysh/render"
	"github.com/BKSalman/buddaraysh/scene"
	"github.com/sirupsen/logrus"
)

// Host is a window on some other display server standing in for one output
type Host interface {
	// Open connects and maps a window of the requested size. The host may pick another size
	Open(width, height int) (int, int, error)
	// Run translates host events until ctx ends or the host goes away
	Run(ctx context.Context, emit func(Event)) error
	// Show draws the damaged part of frame and calls done once the host can take another
	Show(frame render.Frame, done func()) error
	Close() error
}

const virtualOutputID = 1

// virtual is the backend for the windowed and nested variants: one host window, one output
type virtual struct {
	host   Host
	opts   Options
	name   string
	events *eventQueue

	lock     sync.Mutex
	info     scene.OutputInfo
	started  bool
	inFlight bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func newVirtual(host Host, opts Options, name string) *virtual {
	return &virtual{
		host:   host,
		opts:   opts,
		name:   name,
		events: newEventQueue(),
	}
}

func virtualInfo(name string, width, height int) scene.OutputInfo {
	mode := scene.Mode{Width: width, Height: height, Refresh: 60000, Preferred: true}
	return scene.OutputInfo{
		Name:  name,
		Make:  "buddaraysh",
		Model: "virtual",
		Modes: []scene.Mode{mode},
		Mode:  mode,
		Scale: 1,
	}
}

func (v *virtual) Start(ctx context.Context) error {
	v.lock.Lock()
	defer v.lock.Unlock()
	if v.started {
		return nil
	}
	width, height, err := v.host.Open(v.opts.Width, v.opts.Height)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBackendInitFailed, err)
	}
	v.started = true
	v.info = virtualInfo(v.name, width, height)
	ctx, v.cancel = context.WithCancel(ctx)

	v.events.emit(Event{Kind: OutputAdded, Output: virtualOutputID, Info: v.info})
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		err := v.host.Run(ctx, v.hostEvent)
		if ctx.Err() != nil {
			return
		}
		logrus.WithError(err).WithField("output", v.name).Errorln("Lost connection to host")
		v.events.emit(Event{Kind: DeviceLost, Output: virtualOutputID, Err: err})
	}()
	logrus.WithFields(logrus.Fields{
		"output": v.name,
		"size":   fmt.Sprintf("%dx%d", width, height),
	}).Infoln("Host window opened")
	return nil
}

// hostEvent keeps the mode in sync before passing events on
func (v *virtual) hostEvent(ev Event) {
	ev.Output = virtualOutputID
	if ev.Kind == OutputModeChanged {
		v.lock.Lock()
		if ev.Info.Mode == v.info.Mode {
			v.lock.Unlock()
			return
		}
		v.info = virtualInfo(v.name, ev.Info.Mode.Width, ev.Info.Mode.Height)
		ev.Info = v.info
		v.lock.Unlock()
	}
	v.events.emit(ev)
}

func (v *virtual) Outputs() []Output {
	v.lock.Lock()
	defer v.lock.Unlock()
	if !v.started {
		return nil
	}
	return []Output{{ID: virtualOutputID, Info: v.info}}
}

func (v *virtual) Events() <-chan Event {
	return v.events.ch
}

func (v *virtual) PollEvents(timeout time.Duration) []Event {
	return v.events.poll(timeout)
}

func (v *virtual) Present(output uint32, frame render.Frame) error {
	v.lock.Lock()
	if !v.started {
		v.lock.Unlock()
		return ErrNotStarted
	}
	if output != virtualOutputID {
		v.lock.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownOutput, output)
	}
	if v.inFlight {
		v.lock.Unlock()
		return ErrPresentBusy
	}
	v.inFlight = true
	v.lock.Unlock()

	seq := frame.Seq
	err := v.host.Show(frame, func() {
		v.lock.Lock()
		v.inFlight = false
		v.lock.Unlock()
		v.events.emitAsync(Event{Kind: FrameDone, Output: virtualOutputID, Seq: seq, Time: now()})
	})
	if err != nil {
		v.lock.Lock()
		v.inFlight = false
		v.lock.Unlock()
		return err
	}
	return nil
}

// Host windows always show our own cursor
func (v *virtual) SetCursor(uint32, *image.RGBA, image.Point) bool {
	return false
}

func (v *virtual) MoveCursor(uint32, image.Point) {}

func (v *virtual) Close() error {
	v.lock.Lock()
	cancel := v.cancel
	v.started = false
	v.lock.Unlock()
	v.events.close()
	if cancel != nil {
		cancel()
	}
	err := v.host.Close()
	v.wg.Wait()
	return err
}

var _ Backend = (*virtual)(nil)
