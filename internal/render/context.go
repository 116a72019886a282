// Package render is a small software rendering device. It mirrors the subset
// of a GPU pipeline the compositor needs: textures bound to numbered units,
// persistent vertex buffers, a program with a vertex and a fragment stage,
// and an 8-bit output surface that is only replaced when a frame is presented.
//
// Every call takes an explicit *Context; there is no global "current"
// program or texture unit.
package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"go.uber.org/zap"
)

// MaxTextureUnits is the number of texture units per context.
const MaxTextureUnits = 8

var (
	ErrInvalidUnit  = errors.New("render: texture unit out of range")
	ErrInvalidSize  = errors.New("render: surface dimensions must be positive")
	ErrBufferLength = errors.New("render: buffer length mismatch")
)

// Color is an RGBA value with nominal channel range [0, 1]. Stages may
// produce values outside that range; the output stage saturates them.
type Color [4]float32

// Option configures a Context.
type Option func(*Context)

// WithLogger attaches a logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(c *Context) {
		if l != nil {
			c.log = l
		}
	}
}

// Context owns the output surface and the texture units. It is not safe for
// concurrent use; all calls must come from the rendering goroutine.
type Context struct {
	width, height int
	front, back   *image.RGBA
	units         [MaxTextureUnits]*Texture
	textures      int
	log           *zap.Logger
}

// NewContext creates a context with a width x height output surface.
func NewContext(width, height int, opts ...Option) (*Context, error) {
	c := &Context{log: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.Resize(width, height); err != nil {
		return nil, err
	}
	return c, nil
}

// Resize re-creates the output surface. The previous surface contents are
// discarded; bound textures are kept.
func (c *Context) Resize(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidSize, width, height)
	}
	c.width, c.height = width, height
	c.front = image.NewRGBA(image.Rect(0, 0, width, height))
	c.back = image.NewRGBA(image.Rect(0, 0, width, height))
	c.log.Info("output surface allocated", zap.Int("width", width), zap.Int("height", height))
	return nil
}

// Size returns the output surface dimensions.
func (c *Context) Size() (width, height int) { return c.width, c.height }

// Surface returns the last presented frame. The image is owned by the context
// and stays valid until the next Present or Resize.
func (c *Context) Surface() *image.RGBA { return c.front }

// LiveTextures reports how many textures have been created and not released.
func (c *Context) LiveTextures() int { return c.textures }

// BindTexture attaches t to unit. A nil t clears the unit.
func (c *Context) BindTexture(unit int, t *Texture) error {
	if unit < 0 || unit >= MaxTextureUnits {
		return fmt.Errorf("%w: %d", ErrInvalidUnit, unit)
	}
	if t != nil && t.pix == nil {
		return ErrTextureReleased
	}
	c.units[unit] = t
	return nil
}

// BoundTexture returns the texture attached to unit, or nil.
func (c *Context) BoundTexture(unit int) *Texture {
	if unit < 0 || unit >= MaxTextureUnits {
		return nil
	}
	return c.units[unit]
}

func (c *Context) unbind(t *Texture) {
	for i, bound := range c.units {
		if bound == t {
			c.units[i] = nil
		}
	}
}

// Clear fills the back buffer with col.
func (c *Context) Clear(col color.RGBA) {
	pix := c.back.Pix
	for i := 0; i < len(pix); i += 4 {
		pix[i] = col.R
		pix[i+1] = col.G
		pix[i+2] = col.B
		pix[i+3] = col.A
	}
}

// Present makes the back buffer visible through Surface.
func (c *Context) Present() {
	c.front, c.back = c.back, c.front
}

// Buffer is a fixed-length vertex attribute store that is updated in place.
type Buffer struct {
	data []float32
}

// NewBuffer allocates a buffer holding n float32 values.
func (c *Context) NewBuffer(n int) *Buffer {
	return &Buffer{data: make([]float32, n)}
}

// Len returns the number of float32 values in the buffer.
func (b *Buffer) Len() int { return len(b.data) }

// Update overwrites the buffer contents. src must match the buffer length.
func (b *Buffer) Update(src []float32) error {
	if len(src) != len(b.data) {
		return fmt.Errorf("%w: have %d, got %d", ErrBufferLength, len(b.data), len(src))
	}
	copy(b.data, src)
	return nil
}

// Data returns the buffer contents. Callers must not retain or modify it.
func (b *Buffer) Data() []float32 { return b.data }
