package render

import (
	"errors"
	"image"
	"math"

	"go.uber.org/zap"
	xdraw "golang.org/x/image/draw"
)

// Wrap selects how out-of-range texture coordinates are resolved.
type Wrap uint8

const (
	// WrapClampToEdge repeats the edge texel outside [0, 1].
	WrapClampToEdge Wrap = iota
	// WrapRepeat tiles the texture.
	WrapRepeat
)

// Filter selects the texel reconstruction filter.
type Filter uint8

const (
	// FilterLinear blends the four nearest texels.
	FilterLinear Filter = iota
	// FilterNearest picks the closest texel.
	FilterNearest
)

// Sampler describes texture addressing. Textures have no mipmaps and the
// rasterizer computes no derivatives, so sampling always uses MagFilter.
type Sampler struct {
	WrapS, WrapT Wrap
	MinFilter    Filter
	MagFilter    Filter
}

// DefaultSampler clamps to the edge and filters linearly in both directions.
var DefaultSampler = Sampler{
	WrapS:     WrapClampToEdge,
	WrapT:     WrapClampToEdge,
	MinFilter: FilterLinear,
	MagFilter: FilterLinear,
}

var (
	ErrEmptyTexture    = errors.New("render: texture rectangle is empty")
	ErrTextureReleased = errors.New("render: texture has been released")
)

// Texture is a cropped, addressable copy of a source image.
type Texture struct {
	pix     *image.RGBA
	sampler Sampler
	ctx     *Context
}

// NewTexture crops rect out of src into a new texture of exactly rect's size.
// Parts of rect outside src's bounds are transparent black.
func (c *Context) NewTexture(src image.Image, rect image.Rectangle, s Sampler) (*Texture, error) {
	if rect.Empty() {
		return nil, ErrEmptyTexture
	}

	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	xdraw.Copy(dst, image.Point{}, src, rect, xdraw.Src, nil)

	t := &Texture{pix: dst, sampler: s, ctx: c}
	c.textures++
	c.log.Debug("texture created", zap.Stringer("rect", rect), zap.Int("live", c.textures))
	return t, nil
}

// Size returns the texture dimensions in texels.
func (t *Texture) Size() (w, h int) {
	if t.pix == nil {
		return 0, 0
	}
	b := t.pix.Bounds()
	return b.Dx(), b.Dy()
}

// Image exposes the texel storage. It is nil after Release.
func (t *Texture) Image() *image.RGBA { return t.pix }

// Release frees the texel storage and unbinds the texture from every unit.
// Releasing twice is a no-op.
func (t *Texture) Release() {
	if t.pix == nil {
		return
	}
	t.pix = nil
	if t.ctx != nil {
		t.ctx.unbind(t)
		t.ctx.textures--
	}
}

// Sample returns the filtered color at normalized coordinates (u, v) with
// channels in [0, 1].
func (t *Texture) Sample(u, v float32) Color {
	if t.pix == nil {
		return Color{}
	}
	w, h := t.Size()
	fu := wrapCoord(float64(u), t.sampler.WrapS)
	fv := wrapCoord(float64(v), t.sampler.WrapT)

	if t.sampler.MagFilter == FilterNearest {
		x := int(math.Floor(fu * float64(w)))
		y := int(math.Floor(fv * float64(h)))
		return t.texel(t.resolve(x, w, t.sampler.WrapS), t.resolve(y, h, t.sampler.WrapT))
	}

	fx := fu*float64(w) - 0.5
	fy := fv*float64(h) - 0.5
	x0 := int(math.Floor(fx))
	y0 := int(math.Floor(fy))
	tx := float32(fx - float64(x0))
	ty := float32(fy - float64(y0))

	xa, xb := t.resolve(x0, w, t.sampler.WrapS), t.resolve(x0+1, w, t.sampler.WrapS)
	ya, yb := t.resolve(y0, h, t.sampler.WrapT), t.resolve(y0+1, h, t.sampler.WrapT)

	c00 := t.texel(xa, ya)
	c10 := t.texel(xb, ya)
	c01 := t.texel(xa, yb)
	c11 := t.texel(xb, yb)

	var out Color
	for i := range out {
		top := c00[i] + (c10[i]-c00[i])*tx
		bottom := c01[i] + (c11[i]-c01[i])*tx
		out[i] = top + (bottom-top)*ty
	}
	return out
}

func (t *Texture) texel(x, y int) Color {
	off := y*t.pix.Stride + x*4
	p := t.pix.Pix[off : off+4 : off+4]
	return Color{
		float32(p[0]) / 255,
		float32(p[1]) / 255,
		float32(p[2]) / 255,
		float32(p[3]) / 255,
	}
}

func (t *Texture) resolve(i, n int, mode Wrap) int {
	if mode == WrapRepeat {
		i %= n
		if i < 0 {
			i += n
		}
		return i
	}
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

func wrapCoord(v float64, mode Wrap) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if mode == WrapRepeat {
		return v - math.Floor(v)
	}
	return math.Max(0, math.Min(1, v))
}
