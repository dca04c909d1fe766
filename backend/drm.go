package backend

import (
	"encoding/binary"
	"errors"
	"fmt"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Kernel mode setting through the DRM ioctls of drm_mode.h

const (
	drmIoctlBase = 'd'

	drmConnected         = 1
	drmModeTypePreferred = 1 << 3
	drmPageFlipEvent     = 0x01
	drmEventFlipDone     = 0x02

	drmCursorBO   = 0x01
	drmCursorMove = 0x02

	cursorPlaneSize = 64
)

func drmIOWR(nr, size uintptr) uintptr {
	return 3<<30 | size<<16 | drmIoctlBase<<8 | nr
}

var (
	ioctlModeGetResources = drmIOWR(0xA0, unsafe.Sizeof(drmCardRes{}))
	ioctlModeGetCrtc      = drmIOWR(0xA1, unsafe.Sizeof(drmCrtc{}))
	ioctlModeSetCrtc      = drmIOWR(0xA2, unsafe.Sizeof(drmCrtc{}))
	ioctlModeCursor       = drmIOWR(0xA3, unsafe.Sizeof(drmCursor{}))
	ioctlModeGetEncoder   = drmIOWR(0xA6, unsafe.Sizeof(drmEncoder{}))
	ioctlModeGetConnector = drmIOWR(0xA7, unsafe.Sizeof(drmConnector{}))
	ioctlModeAddFB        = drmIOWR(0xAE, unsafe.Sizeof(drmFBCmd{}))
	ioctlModeRmFB         = drmIOWR(0xAF, unsafe.Sizeof(uint32(0)))
	ioctlModePageFlip     = drmIOWR(0xB0, unsafe.Sizeof(drmPageFlip{}))
	ioctlModeCreateDumb   = drmIOWR(0xB2, unsafe.Sizeof(drmCreateDumb{}))
	ioctlModeMapDumb      = drmIOWR(0xB3, unsafe.Sizeof(drmMapDumb{}))
	ioctlModeDestroyDumb  = drmIOWR(0xB4, unsafe.Sizeof(uint32(0)))
)

type (
	drmCardRes struct {
		FBPtr, CrtcPtr, ConnectorPtr, EncoderPtr uint64

		CountFBs, CountCrtcs, CountConnectors, CountEncoders uint32

		MinWidth, MaxWidth, MinHeight, MaxHeight uint32
	}

	drmModeInfo struct {
		Clock                                         uint32
		HDisplay, HSyncStart, HSyncEnd, HTotal, HSkew uint16
		VDisplay, VSyncStart, VSyncEnd, VTotal, VScan uint16
		VRefresh                                      uint32
		Flags                                         uint32
		Type                                          uint32
		Name                                          [32]byte
	}

	drmCrtc struct {
		SetConnectorsPtr uint64
		CountConnectors  uint32
		CrtcID           uint32
		FBID             uint32
		X, Y             uint32
		GammaSize        uint32
		ModeValid        uint32
		Mode             drmModeInfo
	}

	drmEncoder struct {
		EncoderID, EncoderType, CrtcID, PossibleCrtcs, PossibleClones uint32
	}

	drmConnector struct {
		EncodersPtr, ModesPtr, PropsPtr, PropValuesPtr uint64

		CountModes, CountProps, CountEncoders uint32

		EncoderID, ConnectorID, ConnectorType, ConnectorTypeID uint32
		Connection, MMWidth, MMHeight, Subpixel, Pad           uint32
	}

	drmFBCmd struct {
		FBID, Width, Height, Pitch, BPP, Depth, Handle uint32
	}

	drmPageFlip struct {
		CrtcID, FBID, Flags, Reserved uint32
		UserData                      uint64
	}

	drmCreateDumb struct {
		Height, Width, BPP, Flags, Handle, Pitch uint32
		Size                                     uint64
	}

	drmMapDumb struct {
		Handle, Pad uint32
		Offset      uint64
	}

	drmCursor struct {
		Flags, CrtcID uint32
		X, Y          int32
		Width, Height uint32
		Handle        uint32
	}
)

func drmIoctl(fd int, req uintptr, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
		switch errno {
		case 0:
			return nil
		case unix.EINTR, unix.EAGAIN:
			continue
		default:
			return errno
		}
	}
}

func slicePtr[T any](s []T) uint64 {
	if len(s) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&s[0])))
}

func (m drmModeInfo) refresh() int {
	if m.HTotal == 0 || m.VTotal == 0 {
		return int(m.VRefresh) * 1000
	}
	return int(uint64(m.Clock) * 1_000_000 / (uint64(m.HTotal) * uint64(m.VTotal)))
}

// drmResources lists the connectors and crtcs of a card
func drmResources(fd int) (connectors, crtcs []uint32, err error) {
	var res drmCardRes
	if err := drmIoctl(fd, ioctlModeGetResources, unsafe.Pointer(&res)); err != nil {
		return nil, nil, fmt.Errorf("reading card resources: %w", err)
	}
	connectors = make([]uint32, res.CountConnectors)
	crtcs = make([]uint32, res.CountCrtcs)
	req := drmCardRes{
		ConnectorPtr:    slicePtr(connectors),
		CrtcPtr:         slicePtr(crtcs),
		CountConnectors: res.CountConnectors,
		CountCrtcs:      res.CountCrtcs,
	}
	err = drmIoctl(fd, ioctlModeGetResources, unsafe.Pointer(&req))
	runtime.KeepAlive(connectors)
	runtime.KeepAlive(crtcs)
	if err != nil {
		return nil, nil, fmt.Errorf("reading card resources: %w", err)
	}
	return connectors[:req.CountConnectors], crtcs[:req.CountCrtcs], nil
}

type drmConnectorInfo struct {
	id        uint32
	connected bool
	encoder   uint32
	encoders  []uint32
	modes     []drmModeInfo
	mmWidth   int
	mmHeight  int
	kind      uint32
	kindID    uint32
}

func drmGetConnector(fd int, id uint32) (drmConnectorInfo, error) {
	conn := drmConnector{ConnectorID: id}
	if err := drmIoctl(fd, ioctlModeGetConnector, unsafe.Pointer(&conn)); err != nil {
		return drmConnectorInfo{}, fmt.Errorf("reading connector %d: %w", id, err)
	}
	modes := make([]drmModeInfo, conn.CountModes)
	encoders := make([]uint32, conn.CountEncoders)
	req := drmConnector{
		ConnectorID:   id,
		ModesPtr:      slicePtr(modes),
		CountModes:    conn.CountModes,
		EncodersPtr:   slicePtr(encoders),
		CountEncoders: conn.CountEncoders,
	}
	err := drmIoctl(fd, ioctlModeGetConnector, unsafe.Pointer(&req))
	runtime.KeepAlive(modes)
	runtime.KeepAlive(encoders)
	if err != nil {
		return drmConnectorInfo{}, fmt.Errorf("reading connector %d: %w", id, err)
	}
	// The mode list may have grown between the calls, the kernel then truncates
	return drmConnectorInfo{
		id:        id,
		connected: req.Connection == drmConnected,
		encoder:   req.EncoderID,
		encoders:  encoders[:min(len(encoders), int(req.CountEncoders))],
		modes:     modes[:min(len(modes), int(req.CountModes))],
		mmWidth:   int(req.MMWidth),
		mmHeight:  int(req.MMHeight),
		kind:      req.ConnectorType,
		kindID:    req.ConnectorTypeID,
	}, nil
}

func drmGetEncoder(fd int, id uint32) (drmEncoder, error) {
	enc := drmEncoder{EncoderID: id}
	err := drmIoctl(fd, ioctlModeGetEncoder, unsafe.Pointer(&enc))
	return enc, err
}

func drmGetCrtc(fd int, id uint32) (drmCrtc, error) {
	crtc := drmCrtc{CrtcID: id}
	err := drmIoctl(fd, ioctlModeGetCrtc, unsafe.Pointer(&crtc))
	return crtc, err
}

func drmSetCrtc(fd int, crtc uint32, fb uint32, connector uint32, mode *drmModeInfo) error {
	connectors := []uint32{connector}
	req := drmCrtc{CrtcID: crtc, FBID: fb}
	if mode != nil {
		req.SetConnectorsPtr = slicePtr(connectors)
		req.CountConnectors = 1
		req.Mode = *mode
		req.ModeValid = 1
	}
	err := drmIoctl(fd, ioctlModeSetCrtc, unsafe.Pointer(&req))
	runtime.KeepAlive(connectors)
	return err
}

func drmPageFlipTo(fd int, crtc, fb uint32, userData uint64) error {
	req := drmPageFlip{CrtcID: crtc, FBID: fb, Flags: drmPageFlipEvent, UserData: userData}
	return drmIoctl(fd, ioctlModePageFlip, unsafe.Pointer(&req))
}

// drmSetCursor shows handle as the cursor image of crtc, zero hides it
func drmSetCursor(fd int, crtc, handle uint32) error {
	req := drmCursor{Flags: drmCursorBO, CrtcID: crtc, Handle: handle}
	if handle != 0 {
		req.Width, req.Height = cursorPlaneSize, cursorPlaneSize
	}
	return drmIoctl(fd, ioctlModeCursor, unsafe.Pointer(&req))
}

func drmMoveCursor(fd int, crtc uint32, x, y int) error {
	req := drmCursor{Flags: drmCursorMove, CrtcID: crtc, X: int32(x), Y: int32(y)}
	return drmIoctl(fd, ioctlModeCursor, unsafe.Pointer(&req))
}

// dumbBuffer is a CPU mapped scanout buffer with a framebuffer attached
type dumbBuffer struct {
	handle uint32
	fb     uint32
	width  int
	height int
	pitch  int
	data   []byte
}

func newDumbBuffer(fd int, width, height int) (*dumbBuffer, error) {
	create := drmCreateDumb{Width: uint32(width), Height: uint32(height), BPP: 32}
	if err := drmIoctl(fd, ioctlModeCreateDumb, unsafe.Pointer(&create)); err != nil {
		return nil, fmt.Errorf("creating dumb buffer: %w", err)
	}
	buf := &dumbBuffer{handle: create.Handle, width: width, height: height, pitch: int(create.Pitch)}
	fbCmd := drmFBCmd{
		Width:  uint32(width),
		Height: uint32(height),
		Pitch:  create.Pitch,
		BPP:    32,
		Depth:  24,
		Handle: create.Handle,
	}
	if err := drmIoctl(fd, ioctlModeAddFB, unsafe.Pointer(&fbCmd)); err != nil {
		buf.destroy(fd)
		return nil, fmt.Errorf("adding framebuffer: %w", err)
	}
	buf.fb = fbCmd.FBID
	mapReq := drmMapDumb{Handle: create.Handle}
	if err := drmIoctl(fd, ioctlModeMapDumb, unsafe.Pointer(&mapReq)); err != nil {
		buf.destroy(fd)
		return nil, fmt.Errorf("mapping dumb buffer: %w", err)
	}
	data, err := unix.Mmap(fd, int64(mapReq.Offset), int(create.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		buf.destroy(fd)
		return nil, fmt.Errorf("mapping dumb buffer: %w", err)
	}
	buf.data = data
	clear(buf.data)
	return buf, nil
}

func (b *dumbBuffer) destroy(fd int) {
	if b.data != nil {
		unix.Munmap(b.data)
		b.data = nil
	}
	if b.fb != 0 {
		fb := b.fb
		drmIoctl(fd, ioctlModeRmFB, unsafe.Pointer(&fb))
		b.fb = 0
	}
	if b.handle != 0 {
		handle := b.handle
		drmIoctl(fd, ioctlModeDestroyDumb, unsafe.Pointer(&handle))
		b.handle = 0
	}
}

// drmFlip is a decoded page flip completion
type drmFlip struct {
	userData uint64
	crtc     uint32
	sec      uint32
	usec     uint32
}

var errShortEvent = errors.New("truncated DRM event")

// parseDRMEvents decodes what a read of the card fd returned. Events other than flip completion are skipped
func parseDRMEvents(buf []byte) ([]drmFlip, error) {
	var flips []drmFlip
	for len(buf) > 0 {
		if len(buf) < 8 {
			return flips, errShortEvent
		}
		kind := binary.NativeEndian.Uint32(buf[0:])
		length := int(binary.NativeEndian.Uint32(buf[4:]))
		if length < 8 || length > len(buf) {
			return flips, errShortEvent
		}
		if kind == drmEventFlipDone && length >= 32 {
			flips = append(flips, drmFlip{
				userData: binary.NativeEndian.Uint64(buf[8:]),
				sec:      binary.NativeEndian.Uint32(buf[16:]),
				usec:     binary.NativeEndian.Uint32(buf[20:]),
				crtc:     binary.NativeEndian.Uint32(buf[28:]),
			})
		}
		buf = buf[length:]
	}
	return flips, nil
}

var connectorNames = map[uint32]string{
	1:  "VGA",
	2:  "DVI-I",
	3:  "DVI-D",
	4:  "DVI-A",
	5:  "Composite",
	6:  "SVIDEO",
	7:  "LVDS",
	8:  "Component",
	9:  "DIN",
	10: "DP",
	11: "HDMI-A",
	12: "HDMI-B",
	13: "TV",
	14: "eDP",
	15: "Virtual",
	16: "DSI",
	17: "DPI",
	18: "Writeback",
	19: "SPI",
	20: "USB",
}

func connectorName(kind, id uint32) string {
	name, ok := connectorNames[kind]
	if !ok {
		name = "Unknown"
	}
	return fmt.Sprintf("%s-%d", name, id)
}
