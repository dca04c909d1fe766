package render

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/gogpu/gg"
	"github.com/sirupsen/logrus"
)

const (
	xcursorMagic     = "Xcur"
	xcursorImageType = 0xfffd0002
	maxThemeDepth    = 8
)

var ErrCursorNotFound = errors.New("cursor not found")

// A cursor image and the pixel inside it that tracks the pointer position
type CursorImage struct {
	Image   *image.RGBA
	Hotspot image.Point
}

// themeDirs lists the directories searched for cursor themes, most specific first
func themeDirs() []string {
	if env := os.Getenv("XCURSOR_PATH"); env != "" {
		return filepath.SplitList(env)
	}
	dirs := []string{filepath.Join(xdg.DataHome, "icons"), filepath.Join(xdg.Home, ".icons")}
	for _, d := range xdg.DataDirs {
		dirs = append(dirs, filepath.Join(d, "icons"))
	}
	return append(dirs, "/usr/share/pixmaps")
}

// LoadCursor finds name in theme (following Inherits) and decodes the image closest to size
func LoadCursor(theme, name string, size int) (*CursorImage, error) {
	return loadCursor(themeDirs(), theme, name, size, 0)
}

func loadCursor(dirs []string, theme, name string, size, depth int) (*CursorImage, error) {
	if depth > maxThemeDepth {
		return nil, fmt.Errorf("%w: theme inheritance too deep at %s", ErrCursorNotFound, theme)
	}
	var parents []string
	for _, dir := range dirs {
		themeDir := filepath.Join(dir, theme)
		f, err := os.Open(filepath.Join(themeDir, "cursors", name))
		if err == nil {
			img, err := DecodeXcursor(f, size)
			f.Close()
			if err == nil {
				return img, nil
			}
			logrus.WithError(err).WithField("theme", theme).Warnln("Bad cursor file")
		}
		parents = append(parents, themeInherits(filepath.Join(themeDir, "index.theme"))...)
	}
	for _, parent := range parents {
		if parent == theme {
			continue
		}
		if img, err := loadCursor(dirs, parent, name, size, depth+1); err == nil {
			return img, nil
		}
	}
	return nil, fmt.Errorf("%w: %s in theme %s", ErrCursorNotFound, name, theme)
}

func themeInherits(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if value, ok := strings.CutPrefix(line, "Inherits="); ok {
			return strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ';' || r == ' ' })
		}
	}
	return nil
}

// DecodeXcursor reads an Xcursor file and returns the first image of the nominal size closest to size
func DecodeXcursor(r io.ReadSeeker, size int) (*CursorImage, error) {
	var header struct {
		Magic   [4]byte
		Size    uint32
		Version uint32
		Entries uint32
	}
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, err
	}
	if string(header.Magic[:]) != xcursorMagic {
		return nil, errors.New("not an xcursor file")
	}
	if header.Entries > 0x10000 {
		return nil, fmt.Errorf("implausible table of contents size %d", header.Entries)
	}
	if _, err := r.Seek(int64(header.Size), io.SeekStart); err != nil {
		return nil, err
	}
	type tocEntry struct {
		Type     uint32
		Subtype  uint32
		Position uint32
	}
	toc := make([]tocEntry, header.Entries)
	if err := binary.Read(r, binary.LittleEndian, toc); err != nil {
		return nil, err
	}
	best := -1
	bestDist := 0
	for i, e := range toc {
		if e.Type != xcursorImageType {
			continue
		}
		dist := int(e.Subtype) - size
		if dist < 0 {
			dist = -dist
		}
		if best < 0 || dist < bestDist {
			best, bestDist = i, dist
		}
	}
	if best < 0 {
		return nil, errors.New("xcursor file has no images")
	}
	if _, err := r.Seek(int64(toc[best].Position), io.SeekStart); err != nil {
		return nil, err
	}
	var chunk struct {
		HeaderSize uint32
		Type       uint32
		Subtype    uint32
		Version    uint32
		Width      uint32
		Height     uint32
		XHot       uint32
		YHot       uint32
		Delay      uint32
	}
	if err := binary.Read(r, binary.LittleEndian, &chunk); err != nil {
		return nil, err
	}
	if chunk.Width == 0 || chunk.Height == 0 || chunk.Width > 0x7fff || chunk.Height > 0x7fff {
		return nil, fmt.Errorf("bad cursor image size %dx%d", chunk.Width, chunk.Height)
	}
	pixels := make([]uint32, chunk.Width*chunk.Height)
	if err := binary.Read(r, binary.LittleEndian, pixels); err != nil {
		return nil, err
	}
	img := image.NewRGBA(image.Rect(0, 0, int(chunk.Width), int(chunk.Height)))
	for i, argb := range pixels {
		p := img.Pix[i*4 : i*4+4]
		p[0], p[1], p[2], p[3] = byte(argb>>16), byte(argb>>8), byte(argb), byte(argb>>24)
	}
	return &CursorImage{
		Image:   img,
		Hotspot: image.Pt(int(min(chunk.XHot, chunk.Width-1)), int(min(chunk.YHot, chunk.Height-1))),
	}, nil
}

// FallbackCursor draws a plain arrow, used when no theme provides one
func FallbackCursor(size int) *CursorImage {
	if size < 8 {
		size = 8
	}
	s := float64(size)
	dc := gg.NewContext(size, size)
	defer dc.Close()
	arrow := func() {
		dc.MoveTo(1, 1)
		dc.LineTo(1, s*0.8)
		dc.LineTo(s*0.3, s*0.6)
		dc.LineTo(s*0.6, s*0.6)
		dc.ClosePath()
	}
	arrow()
	dc.SetRGBA(1, 1, 1, 1)
	_ = dc.Fill()
	arrow()
	dc.SetRGBA(0, 0, 0, 1)
	dc.SetLineWidth(1)
	_ = dc.Stroke()

	src := dc.Image()
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	b := src.Bounds()
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, bl, a := src.At(b.Min.X+x, b.Min.Y+y).RGBA()
			i := img.PixOffset(x, y)
			img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = byte(r>>8), byte(g>>8), byte(bl>>8), byte(a>>8)
		}
	}
	return &CursorImage{Image: img, Hotspot: image.Pt(1, 1)}
}

// DefaultCursor loads the theme's pointer, falling back to a drawn arrow
func DefaultCursor(theme string, size int) *CursorImage {
	for _, name := range []string{"left_ptr", "default"} {
		img, err := LoadCursor(theme, name, size)
		if err == nil {
			return img
		}
		logrus.WithError(err).WithField("cursor", name).Debugln("Cursor theme lookup failed")
	}
	logrus.WithField("theme", theme).Infoln("Using built-in cursor")
	return FallbackCursor(size)
}
