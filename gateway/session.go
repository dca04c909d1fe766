package gateway

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"unsafe"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Console ioctls from linux/kd.h and linux/vt.h
const (
	kdSetMode   = 0x4B3A
	kdGetMode   = 0x4B3B
	kdGetKbMode = 0x4B44
	kdSetKbMode = 0x4B45
	kdText      = 0x00
	kdGraphics  = 0x01
	kbOff       = 0x04

	vtSetMode = 0x5602
	vtRelDisp = 0x5605
	vtAuto    = 0x00
	vtProcess = 0x01
	vtAckAcq  = 0x02

	drmSetMaster  = 0x641e
	drmDropMaster = 0x641f
)

type vtMode struct {
	Mode   int8
	Waitv  int8
	Relsig int16
	Acqsig int16
	Frsig  int16
}

// vtSession holds a virtual terminal in graphics mode with switching under our control
type vtSession struct {
	tty     *os.File
	oldKb   int
	signals chan os.Signal
	stop    chan struct{}
	notify  func(HotplugKind)
}

func openVT(path string, notify func(HotplugKind)) (*vtSession, error) {
	if path == "" {
		path = "/dev/tty"
	}
	tty, err := os.OpenFile(path, os.O_RDWR|unix.O_CLOEXEC|unix.O_NOCTTY, 0)
	if err != nil {
		if errors.Is(err, unix.EACCES) || errors.Is(err, unix.EPERM) {
			return nil, fmt.Errorf("%w: %s: %w", ErrPermissionDenied, path, err)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrSessionUnavailable, path, err)
	}
	fd := int(tty.Fd())
	if _, err := unix.IoctlGetInt(fd, kdGetMode); err != nil {
		tty.Close()
		return nil, fmt.Errorf("%w: %s is not a virtual terminal: %w", ErrSessionUnavailable, path, err)
	}
	oldKb, err := unix.IoctlGetInt(fd, kdGetKbMode)
	if err != nil {
		tty.Close()
		return nil, fmt.Errorf("%w: reading keyboard mode: %w", ErrSessionUnavailable, err)
	}

	vt := &vtSession{
		tty:     tty,
		oldKb:   oldKb,
		signals: make(chan os.Signal, 2),
		stop:    make(chan struct{}),
		notify:  notify,
	}
	if err := unix.IoctlSetInt(fd, kdSetKbMode, kbOff); err != nil {
		tty.Close()
		return nil, classifySessionError("muting keyboard", err)
	}
	if err := unix.IoctlSetInt(fd, kdSetMode, kdGraphics); err != nil {
		_ = unix.IoctlSetInt(fd, kdSetKbMode, oldKb)
		tty.Close()
		return nil, classifySessionError("switching to graphics mode", err)
	}
	signal.Notify(vt.signals, unix.SIGUSR1, unix.SIGUSR2)
	mode := vtMode{
		Mode:   vtProcess,
		Relsig: int16(unix.SIGUSR1),
		Acqsig: int16(unix.SIGUSR2),
	}
	if err := setVTMode(fd, &mode); err != nil {
		signal.Stop(vt.signals)
		_ = unix.IoctlSetInt(fd, kdSetMode, kdText)
		_ = unix.IoctlSetInt(fd, kdSetKbMode, oldKb)
		tty.Close()
		return nil, classifySessionError("taking over terminal switching", err)
	}
	go vt.handleSignals()
	logrus.WithField("tty", path).Debugln("Virtual terminal in graphics mode")
	return vt, nil
}

func classifySessionError(what string, err error) error {
	if errors.Is(err, unix.EPERM) || errors.Is(err, unix.EACCES) {
		return fmt.Errorf("%w: %s: %w", ErrPermissionDenied, what, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrSessionUnavailable, what, err)
}

func setVTMode(fd int, mode *vtMode) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), vtSetMode, uintptr(unsafe.Pointer(mode)))
	if errno != 0 {
		return errno
	}
	return nil
}

// The kernel asks with SIGUSR1 before switching away and SIGUSR2 after switching back
func (vt *vtSession) handleSignals() {
	fd := int(vt.tty.Fd())
	for {
		select {
		case <-vt.stop:
			return
		case sig := <-vt.signals:
			switch sig {
			case unix.SIGUSR1:
				logrus.Infoln("Terminal switched away, pausing session")
				vt.notify(SessionPaused)
				if err := unix.IoctlSetInt(fd, vtRelDisp, 1); err != nil {
					logrus.WithError(err).Warnln("Failed to release terminal")
				}
			case unix.SIGUSR2:
				if err := unix.IoctlSetInt(fd, vtRelDisp, vtAckAcq); err != nil {
					logrus.WithError(err).Warnln("Failed to acknowledge terminal")
				}
				logrus.Infoln("Terminal switched back, resuming session")
				vt.notify(SessionResumed)
			}
		}
	}
}

// restore puts the terminal back the way we found it
func (vt *vtSession) restore() error {
	signal.Stop(vt.signals)
	close(vt.stop)
	fd := int(vt.tty.Fd())
	var errs []error
	mode := vtMode{Mode: vtAuto}
	if err := setVTMode(fd, &mode); err != nil {
		errs = append(errs, fmt.Errorf("restoring terminal switching: %w", err))
	}
	if err := unix.IoctlSetInt(fd, kdSetMode, kdText); err != nil {
		errs = append(errs, fmt.Errorf("restoring text mode: %w", err))
	}
	if err := unix.IoctlSetInt(fd, kdSetKbMode, vt.oldKb); err != nil {
		errs = append(errs, fmt.Errorf("restoring keyboard mode: %w", err))
	}
	errs = append(errs, vt.tty.Close())
	return errors.Join(errs...)
}

func setMaster(fd int) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), drmSetMaster, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func dropMaster(fd int) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), drmDropMaster, 0)
	if errno != 0 {
		return errno
	}
	return nil
}
