// Package render is the software renderer: it owns imported client textures and one
// shadow canvas per output, composites damaged rectangles and hands frames to a Presenter.
package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"time"

	generaldata "github.com/BKSalman/buddaraysh/general-data"
	"github.com/sirupsen/logrus"
	xdraw "golang.org/x/image/draw"
)

// Pixel format codes, identical to the wl_shm format enum
type Format uint32

const (
	FormatARGB8888 = Format(0)
	FormatXRGB8888 = Format(1)
)

var (
	ErrUnsupportedFormat = errors.New("unsupported buffer format")
	ErrInvalidBuffer     = errors.New("buffer geometry exceeds its storage")
	ErrPresentFailed     = errors.New("present failed")
	ErrUnknownTexture    = errors.New("unknown texture")
)

var DefaultBackground = color.RGBA{R: 0x30, G: 0x30, B: 0x38, A: 0xff}

type (
	// Where a client buffer lives. Data is the whole mapping, the buffer starts at Offset
	BufferDescriptor struct {
		Width  int
		Height int
		Stride int
		Offset int
		Format Format
		Data   []byte
	}

	TextureID uint64

	// A renderer-owned copy of a client buffer. Pixels are premultiplied RGBA
	Texture struct {
		ID     TextureID
		Image  *image.RGBA
		Opaque bool
	}

	// One texture placed on an output, in output-local pixels.
	// Dest may differ from the texture size, the texture is then scaled
	Layer struct {
		Texture *Texture
		Dest    generaldata.Rect
	}

	// A composited output image and the rectangles that changed since the last frame
	Frame struct {
		Image  *image.RGBA
		Damage []generaldata.Rect
		Seq    uint64
	}

	// Receives finished frames. Implementations copy what they need before returning
	// and report completion later through their own event stream
	Presenter interface {
		Present(output uint32, frame Frame) error
	}

	// The completion signal returned by Present. The frame is done once the presenter
	// reports the same output and sequence number
	Pending struct {
		Output uint32
		Seq    uint64
		Issued time.Time
	}

	Renderer struct {
		Background  color.RGBA
		presenter   Presenter
		textures    map[TextureID]*Texture
		canvases    map[uint32]*image.RGBA
		nextTexture TextureID
		seq         uint64
	}
)

func (t *Texture) Size() generaldata.Vector2i {
	b := t.Image.Bounds()
	return generaldata.Vector2i{X: b.Dx(), Y: b.Dy()}
}

func NewRenderer(presenter Presenter) *Renderer {
	return &Renderer{
		Background: DefaultBackground,
		presenter:  presenter,
		textures:   make(map[TextureID]*Texture),
		canvases:   make(map[uint32]*image.RGBA),
	}
}

func (d BufferDescriptor) validate() error {
	if d.Format != FormatARGB8888 && d.Format != FormatXRGB8888 {
		return fmt.Errorf("%w: 0x%x", ErrUnsupportedFormat, uint32(d.Format))
	}
	if d.Width <= 0 || d.Height <= 0 || d.Stride < d.Width*4 || d.Offset < 0 {
		return fmt.Errorf("%w: %dx%d stride %d", ErrInvalidBuffer, d.Width, d.Height, d.Stride)
	}
	if end := d.Offset + d.Stride*(d.Height-1) + d.Width*4; end > len(d.Data) {
		return fmt.Errorf("%w: needs %d bytes, have %d", ErrInvalidBuffer, end, len(d.Data))
	}
	return nil
}

// ImportBuffer validates a client buffer and copies it into a new texture
func (r *Renderer) ImportBuffer(desc BufferDescriptor) (*Texture, error) {
	if err := desc.validate(); err != nil {
		return nil, err
	}
	r.nextTexture++
	tex := &Texture{
		ID:     r.nextTexture,
		Image:  image.NewRGBA(image.Rect(0, 0, desc.Width, desc.Height)),
		Opaque: desc.Format == FormatXRGB8888,
	}
	copyPixels(tex.Image, desc, tex.Image.Bounds())
	r.textures[tex.ID] = tex
	logrus.WithFields(logrus.Fields{
		"texture": tex.ID,
		"size":    tex.Size(),
		"format":  desc.Format,
	}).Traceln("Imported buffer")
	return tex, nil
}

// UpdateTexture refreshes tex from desc. Only damaged rectangles (buffer coordinates) are copied
// unless the size or format changed, in which case a new texture is returned
func (r *Renderer) UpdateTexture(tex *Texture, desc BufferDescriptor, damage []generaldata.Rect) (*Texture, error) {
	if tex == nil {
		return r.ImportBuffer(desc)
	}
	if err := desc.validate(); err != nil {
		return nil, err
	}
	if _, ok := r.textures[tex.ID]; !ok {
		return nil, ErrUnknownTexture
	}
	size := tex.Size()
	if size.X != desc.Width || size.Y != desc.Height || tex.Opaque != (desc.Format == FormatXRGB8888) {
		r.ReleaseTexture(tex)
		return r.ImportBuffer(desc)
	}
	bounds := tex.Image.Bounds()
	for _, d := range damage {
		rect := image.Rect(d.X, d.Y, d.Right(), d.Bottom()).Intersect(bounds)
		if !rect.Empty() {
			copyPixels(tex.Image, desc, rect)
		}
	}
	return tex, nil
}

// NewTexture wraps an already decoded image, used for cursor images
func (r *Renderer) NewTexture(img image.Image) *Texture {
	r.nextTexture++
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(rgba, rgba.Bounds(), img, b.Min, xdraw.Src)
	tex := &Texture{ID: r.nextTexture, Image: rgba}
	r.textures[tex.ID] = tex
	return tex
}

func (r *Renderer) ReleaseTexture(tex *Texture) {
	if tex == nil {
		return
	}
	delete(r.textures, tex.ID)
}

func (r *Renderer) TextureCount() int {
	return len(r.textures)
}

// copyPixels converts the wl_shm little-endian BGRA layout into RGBA for rect
func copyPixels(dst *image.RGBA, desc BufferDescriptor, rect image.Rectangle) {
	opaque := desc.Format == FormatXRGB8888
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		src := desc.Data[desc.Offset+y*desc.Stride:]
		row := dst.Pix[y*dst.Stride:]
		for x := rect.Min.X; x < rect.Max.X; x++ {
			s := src[x*4 : x*4+4]
			d := row[x*4 : x*4+4]
			d[0], d[1], d[2] = s[2], s[1], s[0]
			if opaque {
				d[3] = 0xff
			} else {
				d[3] = s[3]
			}
		}
	}
}

// Canvas returns the shadow canvas of an output, creating or resizing it as needed.
// A resized canvas starts out as background and needs a full redraw
func (r *Renderer) Canvas(output uint32, size generaldata.Vector2i) *image.RGBA {
	canvas, ok := r.canvases[output]
	if ok && canvas.Rect.Dx() == size.X && canvas.Rect.Dy() == size.Y {
		return canvas
	}
	canvas = image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
	xdraw.Draw(canvas, canvas.Rect, image.NewUniform(r.Background), image.Point{}, xdraw.Src)
	r.canvases[output] = canvas
	return canvas
}

// DropOutput frees the canvas of a removed output
func (r *Renderer) DropOutput(output uint32) {
	delete(r.canvases, output)
}

// Composite redraws the damaged rectangles of an output from scratch: background first,
// then every layer bottom to top. Pixels outside the damage are left untouched
func (r *Renderer) Composite(output uint32, size generaldata.Vector2i, damage []generaldata.Rect, layers []Layer) *image.RGBA {
	canvas := r.Canvas(output, size)
	bg := image.NewUniform(r.Background)
	for _, d := range damage {
		clip := image.Rect(d.X, d.Y, d.Right(), d.Bottom()).Intersect(canvas.Rect)
		if clip.Empty() {
			continue
		}
		xdraw.Draw(canvas, clip, bg, image.Point{}, xdraw.Src)
		for _, layer := range layers {
			drawLayer(canvas, clip, layer)
		}
	}
	return canvas
}

func drawLayer(canvas *image.RGBA, clip image.Rectangle, layer Layer) {
	if layer.Texture == nil || layer.Dest.Empty() {
		return
	}
	dest := image.Rect(layer.Dest.X, layer.Dest.Y, layer.Dest.Right(), layer.Dest.Bottom())
	visible := dest.Intersect(clip)
	if visible.Empty() {
		return
	}
	op := xdraw.Over
	if layer.Texture.Opaque {
		op = xdraw.Src
	}
	src := layer.Texture.Image
	if src.Rect.Dx() == dest.Dx() && src.Rect.Dy() == dest.Dy() {
		xdraw.Draw(canvas, visible, src, visible.Min.Sub(dest.Min), op)
		return
	}
	// Nearest neighbour maps every destination pixel on its own, so clipping does not change the result
	sub := canvas.SubImage(clip).(*image.RGBA)
	xdraw.NearestNeighbor.Scale(sub, dest, src, src.Rect, op, nil)
}

// Present hands the output canvas to the presenter and returns the signal to wait for
func (r *Renderer) Present(output uint32, damage []generaldata.Rect) (Pending, error) {
	canvas, ok := r.canvases[output]
	if !ok {
		return Pending{}, fmt.Errorf("%w: output %d has no canvas", ErrPresentFailed, output)
	}
	r.seq++
	frame := Frame{Image: canvas, Damage: damage, Seq: r.seq}
	if err := r.presenter.Present(output, frame); err != nil {
		return Pending{}, fmt.Errorf("%w: %w", ErrPresentFailed, err)
	}
	return Pending{Output: output, Seq: r.seq, Issued: time.Now()}, nil
}
