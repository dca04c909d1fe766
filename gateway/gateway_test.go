package gateway

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestOpenDeviceLifecycle(t *testing.T) {
	dir := t.TempDir()
	node := filepath.Join(dir, "card0")
	require.NoError(t, os.WriteFile(node, nil, 0o600))

	g := New(Options{})
	_, err := g.OpenDevice(node, CapDisplay)
	assert.ErrorIs(t, err, ErrNotAcquired)

	require.NoError(t, g.Acquire())
	dev, err := g.OpenDevice(node, CapDisplay)
	require.NoError(t, err)
	fd, err := dev.Fd()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, fd, 0)

	_, err = g.OpenDevice(node, CapDisplay)
	assert.ErrorIs(t, err, ErrDeviceBusy)

	_, err = g.OpenDevice(filepath.Join(dir, "card9"), CapDisplay)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, g.Release())
	assert.True(t, dev.Released())
	_, err = dev.Fd()
	assert.ErrorIs(t, err, ErrReleased)
	_, err = dev.File()
	assert.ErrorIs(t, err, ErrReleased)
	assert.ErrorIs(t, g.Acquire(), ErrSessionUnavailable)
	assert.NoError(t, g.Release())
}

func TestOpenDeviceClassifiesErrors(t *testing.T) {
	fail := unix.EACCES
	g := New(Options{Opener: func(path string, flag int) (*os.File, error) {
		return nil, &os.PathError{Op: "open", Path: path, Err: fail}
	}})
	defer g.Release()
	require.NoError(t, g.Acquire())

	_, err := g.OpenDevice("/dev/input/event0", CapInput)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	fail = unix.EBUSY
	_, err = g.OpenDevice("/dev/input/event0", CapInput)
	assert.ErrorIs(t, err, ErrDeviceBusy)
}

func TestInputDevicesOpenNonBlocking(t *testing.T) {
	var flags []int
	dir := t.TempDir()
	g := New(Options{Opener: func(path string, flag int) (*os.File, error) {
		flags = append(flags, flag)
		return os.Create(path)
	}})
	defer g.Release()
	require.NoError(t, g.Acquire())
	_, err := g.OpenDevice(filepath.Join(dir, "event0"), CapInput)
	require.NoError(t, err)
	_, err = g.OpenDevice(filepath.Join(dir, "card0"), CapDisplay)
	require.NoError(t, err)
	require.Len(t, flags, 2)
	assert.NotZero(t, flags[0]&unix.O_NONBLOCK)
	assert.Zero(t, flags[1]&unix.O_NONBLOCK)
}

func TestDirectSessionNeedsVirtualTerminal(t *testing.T) {
	notTTY := filepath.Join(t.TempDir(), "tty")
	require.NoError(t, os.WriteFile(notTTY, nil, 0o600))
	g := New(Options{Kind: SessionDirect, TTY: notTTY})
	defer g.Release()
	err := g.Acquire()
	assert.ErrorIs(t, err, ErrSessionUnavailable)
	assert.False(t, errors.Is(err, ErrPermissionDenied))
}

func TestHotplugTracksNodes(t *testing.T) {
	dir := t.TempDir()
	g := New(Options{WatchDirs: []string{dir}})
	defer g.Release()
	require.NoError(t, g.Acquire())
	events, err := g.Subscribe("test")
	require.NoError(t, err)
	require.NoError(t, g.Start(t.Context()))

	node := filepath.Join(dir, "event4")
	require.NoError(t, os.WriteFile(node, nil, 0o600))
	ev := waitFor(t, events, DeviceAdded)
	assert.Equal(t, node, ev.Path)
	assert.Equal(t, "input", ev.Subsystem)
	assert.Equal(t, uint64(1), ev.Generation)

	dev, err := g.OpenDevice(node, CapInput)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), dev.Generation)

	require.NoError(t, os.Remove(node))
	waitFor(t, events, DeviceRemoved)
	assert.True(t, dev.Released())

	// Unrelated files are ignored
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes"), nil, 0o600))
	require.NoError(t, os.WriteFile(node, nil, 0o600))
	ev = waitFor(t, events, DeviceAdded)
	assert.Equal(t, node, ev.Path)
	assert.Equal(t, uint64(2), ev.Generation)
}

func waitFor(t *testing.T, events <-chan Hotplug, kind HotplugKind) Hotplug {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event", kind)
			return Hotplug{}
		}
	}
}

func TestParseUevent(t *testing.T) {
	msg := []byte("change@/devices/pci0000:00/0000:00:02.0/drm/card0\x00ACTION=change\x00DEVPATH=/devices/pci0000:00/0000:00:02.0/drm/card0\x00SUBSYSTEM=drm\x00HOTPLUG=1\x00DEVNAME=dri/card0\x00SEQNUM=4242\x00")
	ev, ok := parseUevent(msg)
	require.True(t, ok)
	assert.Equal(t, DeviceChanged, ev.Kind)
	assert.Equal(t, "/dev/dri/card0", ev.Path)
	assert.Equal(t, "drm", ev.Subsystem)

	_, ok = parseUevent([]byte("add@/devices/virtual/net/veth0\x00ACTION=add\x00SUBSYSTEM=net\x00"))
	assert.False(t, ok)
	_, ok = parseUevent([]byte("add@/devices/virtual/input/input7\x00ACTION=add\x00SUBSYSTEM=input\x00"))
	assert.False(t, ok, "input parent without a node")
}
