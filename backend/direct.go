package backend

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/BKSalman/buddaraysh/gateway"
	generaldata "github.com/BKSalman/buddaraysh/general-data"
	"github.com/BKSalman/buddaraysh/render"
	"github.com/BKSalman/buddaraysh/scene"
	"github.com/BKSalman/buddaraysh/util/multiplexer"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	directSubscriber = "backend-direct"
	drmPollTimeout   = 200 // milliseconds
)

// drmOutput is one connector driven by one crtc with two scanout buffers
type drmOutput struct {
	id       uint32
	crtc     uint32
	mode     drmModeInfo
	info     scene.OutputInfo
	buffers  [2]*dumbBuffer
	stale    [2]generaldata.Region
	front    int
	inFlight bool
	seq      uint64
	saved    drmCrtc
	cursor   *dumbBuffer
	hotspot  image.Point
}

func (o *drmOutput) bounds() generaldata.Rect {
	return generaldata.NewRect(0, 0, int(o.mode.HDisplay), int(o.mode.VDisplay))
}

// direct drives the hardware: KMS for the screens, evdev for input
type direct struct {
	opts   Options
	gw     *gateway.Gateway
	events *eventQueue
	inputs *multiplexer.ManyToOne[Event]

	lock    sync.Mutex
	card    *gateway.Device
	fd      int
	outputs map[uint32]*drmOutput
	crtcs   map[uint32]bool
	readers map[string]*inputReader
	started bool
	paused  bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func newDirect(opts Options) *direct {
	return &direct{
		opts:    opts,
		gw:      opts.Gateway,
		events:  newEventQueue(),
		inputs:  multiplexer.NewManyToOne(make(chan Event, 64)),
		fd:      -1,
		outputs: make(map[uint32]*drmOutput),
		crtcs:   make(map[uint32]bool),
		readers: make(map[string]*inputReader),
	}
}

func (d *direct) Start(ctx context.Context) error {
	d.lock.Lock()
	if d.started {
		d.lock.Unlock()
		return nil
	}
	card, err := d.gw.OpenDevice(d.opts.DRMDevice, gateway.CapDisplay)
	if err != nil {
		d.lock.Unlock()
		return fmt.Errorf("%w: %w", ErrBackendInitFailed, err)
	}
	fd, err := card.Fd()
	if err != nil {
		d.lock.Unlock()
		return fmt.Errorf("%w: %w", ErrBackendInitFailed, err)
	}
	d.card, d.fd = card, fd
	added, _, err := d.scanLocked()
	if err != nil {
		d.gw.CloseDevice(card)
		d.lock.Unlock()
		return fmt.Errorf("%w: %w", ErrBackendInitFailed, err)
	}
	d.started = true
	ctx, d.cancel = context.WithCancel(ctx)
	d.lock.Unlock()

	hotplug, err := d.gw.Subscribe(directSubscriber)
	if err != nil {
		logrus.WithError(err).Warnln("Hotplug notifications unavailable")
	}
	for _, o := range added {
		d.events.emit(Event{Kind: OutputAdded, Output: o.id, Info: o.info})
	}
	for _, dir := range d.opts.InputDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			logrus.WithError(err).WithField("dir", dir).Warnln("Cannot list input devices")
			continue
		}
		for _, entry := range entries {
			if strings.HasPrefix(entry.Name(), "event") {
				d.openInput(filepath.Join(dir, entry.Name()))
			}
		}
	}

	d.wg.Add(2)
	go func() {
		defer d.wg.Done()
		d.flipLoop(ctx)
	}()
	go func() {
		defer d.wg.Done()
		d.pump(ctx)
	}()
	if hotplug != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.hotplugLoop(ctx, hotplug)
		}()
	}
	logrus.WithFields(logrus.Fields{
		"card":    d.opts.DRMDevice,
		"outputs": len(added),
	}).Infoln("Direct backend started")
	return nil
}

// scanLocked brings the outputs in line with the connected connectors
func (d *direct) scanLocked() (added, removed []*drmOutput, err error) {
	connectors, crtcs, err := drmResources(d.fd)
	if err != nil {
		return nil, nil, err
	}
	seen := make(map[uint32]bool)
	for _, id := range connectors {
		conn, err := drmGetConnector(d.fd, id)
		if err != nil {
			logrus.WithError(err).Warnln("Skipping connector")
			continue
		}
		_, known := d.outputs[id]
		if conn.connected && len(conn.modes) > 0 {
			seen[id] = true
			if known {
				continue
			}
			o, err := d.setupOutput(conn, crtcs)
			if err != nil {
				logrus.WithError(err).WithField("connector", connectorName(conn.kind, conn.kindID)).Warnln("Cannot drive connector")
				delete(seen, id)
				continue
			}
			d.outputs[id] = o
			added = append(added, o)
		}
	}
	for id, o := range d.outputs {
		if !seen[id] {
			d.teardownOutput(o, false)
			delete(d.outputs, id)
			removed = append(removed, o)
		}
	}
	return added, removed, nil
}

// pickCrtc prefers the crtc the encoder already drives
func (d *direct) pickCrtc(conn drmConnectorInfo, crtcs []uint32) (uint32, bool) {
	if conn.encoder != 0 {
		if enc, err := drmGetEncoder(d.fd, conn.encoder); err == nil && enc.CrtcID != 0 && !d.crtcs[enc.CrtcID] {
			return enc.CrtcID, true
		}
	}
	for _, encID := range conn.encoders {
		enc, err := drmGetEncoder(d.fd, encID)
		if err != nil {
			continue
		}
		for i, crtc := range crtcs {
			if enc.PossibleCrtcs&(1<<i) != 0 && !d.crtcs[crtc] {
				return crtc, true
			}
		}
	}
	return 0, false
}

func preferredMode(modes []drmModeInfo) drmModeInfo {
	for _, m := range modes {
		if m.Type&drmModeTypePreferred != 0 {
			return m
		}
	}
	return modes[0]
}

func sceneMode(m drmModeInfo) scene.Mode {
	return scene.Mode{
		Width:     int(m.HDisplay),
		Height:    int(m.VDisplay),
		Refresh:   m.refresh(),
		Preferred: m.Type&drmModeTypePreferred != 0,
	}
}

func (d *direct) setupOutput(conn drmConnectorInfo, crtcs []uint32) (*drmOutput, error) {
	crtc, ok := d.pickCrtc(conn, crtcs)
	if !ok {
		return nil, errors.New("no free crtc")
	}
	mode := preferredMode(conn.modes)
	o := &drmOutput{id: conn.id, crtc: crtc, mode: mode}
	o.saved, _ = drmGetCrtc(d.fd, crtc)
	for i := range o.buffers {
		buf, err := newDumbBuffer(d.fd, int(mode.HDisplay), int(mode.VDisplay))
		if err != nil {
			d.teardownOutput(o, false)
			return nil, err
		}
		o.buffers[i] = buf
		o.stale[i] = generaldata.RegionOf(o.bounds())
	}
	if err := drmSetCrtc(d.fd, crtc, o.buffers[0].fb, conn.id, &mode); err != nil {
		d.teardownOutput(o, false)
		return nil, fmt.Errorf("setting mode: %w", err)
	}
	if !d.opts.DRMCompositor {
		if cursor, err := newDumbBuffer(d.fd, cursorPlaneSize, cursorPlaneSize); err == nil {
			o.cursor = cursor
		}
	}
	d.crtcs[crtc] = true

	modes := make([]scene.Mode, 0, len(conn.modes))
	for _, m := range conn.modes {
		modes = append(modes, sceneMode(m))
	}
	o.info = scene.OutputInfo{
		Name:           connectorName(conn.kind, conn.kindID),
		Make:           "drm",
		Model:          filepath.Base(d.opts.DRMDevice),
		PhysicalWidth:  conn.mmWidth,
		PhysicalHeight: conn.mmHeight,
		Modes:          modes,
		Mode:           sceneMode(mode),
		Scale:          1,
	}
	logrus.WithFields(logrus.Fields{
		"output": o.info.Name,
		"mode":   o.info.Mode,
		"crtc":   crtc,
	}).Infoln("Output enabled")
	return o, nil
}

// teardownOutput frees the buffers and optionally gives the crtc back its previous configuration
func (d *direct) teardownOutput(o *drmOutput, restore bool) {
	if restore && o.saved.ModeValid != 0 {
		if err := drmSetCrtc(d.fd, o.crtc, o.saved.FBID, o.id, &o.saved.Mode); err != nil {
			logrus.WithError(err).WithField("output", o.info.Name).Debugln("Could not restore crtc")
		}
	}
	if o.cursor != nil {
		_ = drmSetCursor(d.fd, o.crtc, 0)
		o.cursor.destroy(d.fd)
		o.cursor = nil
	}
	for i, buf := range o.buffers {
		if buf != nil {
			buf.destroy(d.fd)
			o.buffers[i] = nil
		}
	}
	delete(d.crtcs, o.crtc)
}

func (d *direct) openInput(path string) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if _, ok := d.readers[path]; ok || d.closed {
		return
	}
	dev, err := d.gw.OpenDevice(path, gateway.CapInput)
	if err != nil {
		logrus.WithError(err).WithField("device", path).Debugln("Skipping input device")
		return
	}
	r, err := newInputReader(dev, d.inputs)
	if err != nil {
		d.gw.CloseDevice(dev)
		return
	}
	d.readers[path] = r
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		r.run()
		d.lock.Lock()
		if d.readers[path] == r {
			delete(d.readers, path)
		}
		d.lock.Unlock()
	}()
	logrus.WithField("device", path).Debugln("Input device added")
}

func (d *direct) closeInput(path string) {
	d.lock.Lock()
	r, ok := d.readers[path]
	d.lock.Unlock()
	if ok {
		d.gw.CloseDevice(r.device)
	}
}

// pump forwards merged input, placing touch points on the first output
func (d *direct) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-d.inputs.Receiver():
			if !ok {
				return
			}
			d.lock.Lock()
			paused := d.paused
			if ev.Kind == TouchDown || ev.Kind == TouchMotion || ev.Kind == TouchUp || ev.Kind == TouchFrame {
				if o := d.firstOutputLocked(); o != nil {
					ev.Output = o.id
					ev.X *= float64(o.mode.HDisplay)
					ev.Y *= float64(o.mode.VDisplay)
				}
			}
			d.lock.Unlock()
			if !paused {
				d.events.emit(ev)
			}
		}
	}
}

func (d *direct) firstOutputLocked() *drmOutput {
	var first *drmOutput
	for _, o := range d.outputs {
		if first == nil || o.id < first.id {
			first = o
		}
	}
	return first
}

// flipLoop reads page flip completions off the card
func (d *direct) flipLoop(ctx context.Context) {
	buf := make([]byte, 4096)
	fds := []unix.PollFd{{Fd: int32(d.fd), Events: unix.POLLIN}}
	for ctx.Err() == nil {
		n, err := unix.Poll(fds, drmPollTimeout)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			d.lost(err)
			return
		}
		if n == 0 {
			continue
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			if ctx.Err() == nil {
				d.lost(fmt.Errorf("card %s hung up", d.opts.DRMDevice))
			}
			return
		}
		n, err = unix.Read(d.fd, buf)
		if err != nil {
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
				continue
			}
			if ctx.Err() == nil {
				d.lost(err)
			}
			return
		}
		flips, err := parseDRMEvents(buf[:n])
		if err != nil {
			logrus.WithError(err).Warnln("Malformed DRM event")
		}
		for _, flip := range flips {
			d.flipDone(uint32(flip.userData))
		}
	}
}

func (d *direct) flipDone(output uint32) {
	d.lock.Lock()
	o, ok := d.outputs[output]
	if !ok || !o.inFlight {
		d.lock.Unlock()
		return
	}
	o.inFlight = false
	seq := o.seq
	d.lock.Unlock()
	d.events.emit(Event{Kind: FrameDone, Output: output, Seq: seq, Time: now()})
}

func (d *direct) lost(err error) {
	logrus.WithError(err).WithField("card", d.opts.DRMDevice).Errorln("Display device lost")
	d.events.emit(Event{Kind: DeviceLost, Err: err})
}

func (d *direct) hotplugLoop(ctx context.Context, hotplug <-chan gateway.Hotplug) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-hotplug:
			if !ok {
				return
			}
			d.hotplug(ev)
		}
	}
}

func (d *direct) hotplug(ev gateway.Hotplug) {
	switch {
	case ev.Kind == gateway.SessionPaused:
		d.lock.Lock()
		d.paused = true
		d.lock.Unlock()
		d.events.emit(Event{Kind: SessionPaused})
	case ev.Kind == gateway.SessionResumed:
		d.resume()
	case ev.Subsystem == "drm" && ev.Path == d.opts.DRMDevice:
		switch ev.Kind {
		case gateway.DeviceRemoved:
			d.lost(fmt.Errorf("%w: %s", gateway.ErrNotFound, ev.Path))
		case gateway.DeviceChanged:
			d.rescan()
		}
	case ev.Subsystem == "input":
		if !slices.Contains(d.opts.InputDirs, filepath.Dir(ev.Path)) {
			return
		}
		switch ev.Kind {
		case gateway.DeviceAdded:
			d.openInput(ev.Path)
		case gateway.DeviceRemoved:
			d.closeInput(ev.Path)
		}
	}
}

func (d *direct) rescan() {
	d.lock.Lock()
	if d.closed || d.paused {
		d.lock.Unlock()
		return
	}
	added, removed, err := d.scanLocked()
	d.lock.Unlock()
	if err != nil {
		logrus.WithError(err).Warnln("Connector re-scan failed")
		return
	}
	for _, o := range removed {
		d.events.emit(Event{Kind: OutputRemoved, Output: o.id})
	}
	for _, o := range added {
		d.events.emit(Event{Kind: OutputAdded, Output: o.id, Info: o.info})
	}
}

// resume restores the modes another session may have changed and asks for full redraws
func (d *direct) resume() {
	d.lock.Lock()
	d.paused = false
	var ids []uint32
	for id, o := range d.outputs {
		o.inFlight = false
		for i := range o.stale {
			o.stale[i] = generaldata.RegionOf(o.bounds())
		}
		if err := drmSetCrtc(d.fd, o.crtc, o.buffers[o.front].fb, o.id, &o.mode); err != nil {
			logrus.WithError(err).WithField("output", o.info.Name).Warnln("Could not restore mode")
		}
		ids = append(ids, id)
	}
	d.lock.Unlock()
	d.events.emit(Event{Kind: SessionResumed})
	for _, id := range ids {
		d.events.emit(Event{Kind: OutputDamaged, Output: id})
	}
	// Devices that appeared while we were away
	d.rescan()
}

func (d *direct) Outputs() []Output {
	d.lock.Lock()
	defer d.lock.Unlock()
	out := make([]Output, 0, len(d.outputs))
	for _, o := range d.outputs {
		out = append(out, Output{ID: o.id, Info: o.info})
	}
	slices.SortFunc(out, func(a, b Output) int { return int(a.ID) - int(b.ID) })
	return out
}

func (d *direct) Events() <-chan Event {
	return d.events.ch
}

func (d *direct) PollEvents(timeout time.Duration) []Event {
	return d.events.poll(timeout)
}

// Present copies the damage into the back buffer and flips to it
func (d *direct) Present(output uint32, frame render.Frame) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if !d.started || d.closed {
		return ErrNotStarted
	}
	o, ok := d.outputs[output]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownOutput, output)
	}
	if o.inFlight {
		return ErrPresentBusy
	}
	if d.paused {
		// Nothing reaches the screen while another session owns it, resume redraws everything
		d.events.emitAsync(Event{Kind: FrameDone, Output: output, Seq: frame.Seq, Time: now()})
		return nil
	}
	back := 1 - o.front
	bounds := o.bounds()
	for i := range o.stale {
		for _, r := range frame.Damage {
			o.stale[i].Add(r.Intersect(bounds))
		}
	}
	buf := o.buffers[back]
	for _, r := range o.stale[back].Rects() {
		copyToXRGB(buf.data, buf.pitch, frame, r)
	}
	o.stale[back].Clear()
	if err := drmPageFlipTo(d.fd, o.crtc, buf.fb, uint64(o.id)); err != nil {
		if errors.Is(err, unix.EBUSY) {
			return ErrPresentBusy
		}
		return fmt.Errorf("page flip on %s: %w", o.info.Name, err)
	}
	o.front = back
	o.inFlight = true
	o.seq = frame.Seq
	return nil
}

// SetCursor uploads img to the cursor plane. A nil image hides the cursor
func (d *direct) SetCursor(output uint32, img *image.RGBA, hotspot image.Point) bool {
	d.lock.Lock()
	defer d.lock.Unlock()
	o, ok := d.outputs[output]
	if !ok || o.cursor == nil || d.paused {
		return false
	}
	if img == nil {
		return drmSetCursor(d.fd, o.crtc, 0) == nil
	}
	if img.Rect.Dx() > cursorPlaneSize || img.Rect.Dy() > cursorPlaneSize {
		return false
	}
	clear(o.cursor.data)
	for y := 0; y < img.Rect.Dy(); y++ {
		src := img.Pix[y*img.Stride : y*img.Stride+img.Rect.Dx()*4]
		dst := o.cursor.data[y*o.cursor.pitch:]
		// Premultiplied RGBA to premultiplied ARGB8888
		for i := 0; i < len(src); i += 4 {
			dst[i+0] = src[i+2]
			dst[i+1] = src[i+1]
			dst[i+2] = src[i+0]
			dst[i+3] = src[i+3]
		}
	}
	if err := drmSetCursor(d.fd, o.crtc, o.cursor.handle); err != nil {
		logrus.WithError(err).WithField("output", o.info.Name).Debugln("Hardware cursor rejected")
		return false
	}
	o.hotspot = hotspot
	return true
}

func (d *direct) MoveCursor(output uint32, pos image.Point) {
	d.lock.Lock()
	defer d.lock.Unlock()
	o, ok := d.outputs[output]
	if !ok || o.cursor == nil || d.paused {
		return
	}
	_ = drmMoveCursor(d.fd, o.crtc, pos.X-o.hotspot.X, pos.Y-o.hotspot.Y)
}

func (d *direct) Close() error {
	d.lock.Lock()
	if d.closed {
		d.lock.Unlock()
		return nil
	}
	d.closed = true
	cancel := d.cancel
	readers := make([]*inputReader, 0, len(d.readers))
	for _, r := range d.readers {
		readers = append(readers, r)
	}
	d.lock.Unlock()

	d.gw.Unsubscribe(directSubscriber)
	if cancel != nil {
		cancel()
	}
	for _, r := range readers {
		d.gw.CloseDevice(r.device)
	}
	d.inputs.Close()
	d.events.close()
	d.wg.Wait()

	d.lock.Lock()
	defer d.lock.Unlock()
	if d.card == nil {
		return nil
	}
	if !d.card.Released() {
		for id, o := range d.outputs {
			d.teardownOutput(o, true)
			delete(d.outputs, id)
		}
	}
	return d.gw.CloseDevice(d.card)
}

var _ Backend = (*direct)(nil)
