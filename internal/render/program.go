package render

import (
	"errors"
	"fmt"
	"math"
)

// Program interface limits.
const (
	MaxAttributes = 8
	MaxUniforms   = 4
	MaxVaryings   = 4
	MaxSamplers   = 4
)

var (
	ErrInvalidLayout   = errors.New("render: invalid program layout")
	ErrInvalidSlot     = errors.New("render: binding slot out of range")
	ErrUnboundSlot     = errors.New("render: attribute slot has no buffer")
	ErrUnboundSampler  = errors.New("render: sampler unit has no texture")
	ErrVertexCount     = errors.New("render: vertex count must be a multiple of 3")
	ErrShortAttribute  = errors.New("render: attribute buffer shorter than vertex count")
	ErrNilProgramStage = errors.New("render: program needs a vertex and a fragment stage")
)

// Vec2 is a two-component attribute, uniform or varying.
type Vec2 [2]float32

// Vec4 is a clip-space position.
type Vec4 [4]float32

// VertexInput is what a vertex stage sees for one vertex.
type VertexInput struct {
	Attributes [MaxAttributes]Vec2
	Uniforms   [MaxUniforms]Vec2
}

// VertexOutput is written by a vertex stage.
type VertexOutput struct {
	Position Vec4
	Varyings [MaxVaryings]Vec2
}

// FragmentInput is what a fragment stage sees for one covered pixel.
type FragmentInput struct {
	Varyings [MaxVaryings]Vec2

	samplers *[MaxSamplers]*Texture
}

// Sample reads the texture attached to sampler slot at uv.
func (in *FragmentInput) Sample(sampler int, uv Vec2) Color {
	if sampler < 0 || sampler >= MaxSamplers || in.samplers[sampler] == nil {
		return Color{}
	}
	return in.samplers[sampler].Sample(uv[0], uv[1])
}

// VertexStage transforms one vertex.
type VertexStage func(in *VertexInput, out *VertexOutput)

// FragmentStage shades one pixel.
type FragmentStage func(in *FragmentInput) Color

// Layout declares how many slots of each kind a program consumes.
type Layout struct {
	Attributes int
	Uniforms   int
	Varyings   int
	Samplers   int
}

func (l Layout) validate() error {
	switch {
	case l.Attributes < 1 || l.Attributes > MaxAttributes,
		l.Uniforms < 0 || l.Uniforms > MaxUniforms,
		l.Varyings < 0 || l.Varyings > MaxVaryings,
		l.Samplers < 0 || l.Samplers > MaxSamplers:
		return fmt.Errorf("%w: %+v", ErrInvalidLayout, l)
	}
	return nil
}

// Program pairs a vertex and a fragment stage with their bindings. Slots are
// plain indices fixed when the program is built.
type Program struct {
	layout   Layout
	vertex   VertexStage
	fragment FragmentStage
	attrs    [MaxAttributes]*Buffer
	uniforms [MaxUniforms]Vec2
	samplers [MaxSamplers]int
}

// NewProgram validates layout and returns an unbound program.
func NewProgram(layout Layout, vs VertexStage, fs FragmentStage) (*Program, error) {
	if vs == nil || fs == nil {
		return nil, ErrNilProgramStage
	}
	if err := layout.validate(); err != nil {
		return nil, err
	}
	p := &Program{layout: layout, vertex: vs, fragment: fs}
	for i := range p.samplers {
		p.samplers[i] = -1
	}
	return p, nil
}

// Layout returns the program's slot counts.
func (p *Program) Layout() Layout { return p.layout }

// BindAttribute attaches a two-component buffer to an attribute slot.
func (p *Program) BindAttribute(slot int, b *Buffer) error {
	if slot < 0 || slot >= p.layout.Attributes {
		return fmt.Errorf("%w: attribute %d", ErrInvalidSlot, slot)
	}
	p.attrs[slot] = b
	return nil
}

// SetUniform sets a two-component uniform.
func (p *Program) SetUniform(slot int, v Vec2) error {
	if slot < 0 || slot >= p.layout.Uniforms {
		return fmt.Errorf("%w: uniform %d", ErrInvalidSlot, slot)
	}
	p.uniforms[slot] = v
	return nil
}

// SetSampler points a sampler slot at a texture unit.
func (p *Program) SetSampler(slot, unit int) error {
	if slot < 0 || slot >= p.layout.Samplers {
		return fmt.Errorf("%w: sampler %d", ErrInvalidSlot, slot)
	}
	if unit < 0 || unit >= MaxTextureUnits {
		return fmt.Errorf("%w: %d", ErrInvalidUnit, unit)
	}
	p.samplers[slot] = unit
	return nil
}

// Draw runs p over vertexCount vertices as a triangle list and writes the
// result into the back buffer. Nothing becomes visible until Present.
func (c *Context) Draw(p *Program, vertexCount int) error {
	if vertexCount%3 != 0 {
		return fmt.Errorf("%w: %d", ErrVertexCount, vertexCount)
	}
	for slot := 0; slot < p.layout.Attributes; slot++ {
		b := p.attrs[slot]
		if b == nil {
			return fmt.Errorf("%w: %d", ErrUnboundSlot, slot)
		}
		if b.Len() < vertexCount*2 {
			return fmt.Errorf("%w: slot %d has %d values, need %d", ErrShortAttribute, slot, b.Len(), vertexCount*2)
		}
	}

	var textures [MaxSamplers]*Texture
	for slot := 0; slot < p.layout.Samplers; slot++ {
		unit := p.samplers[slot]
		if unit < 0 || c.units[unit] == nil {
			return fmt.Errorf("%w: sampler %d -> unit %d", ErrUnboundSampler, slot, unit)
		}
		textures[slot] = c.units[unit]
	}

	var (
		in   VertexInput
		outs [3]VertexOutput
		frag = FragmentInput{samplers: &textures}
	)
	in.Uniforms = p.uniforms

	for base := 0; base < vertexCount; base += 3 {
		for k := 0; k < 3; k++ {
			v := base + k
			for slot := 0; slot < p.layout.Attributes; slot++ {
				d := p.attrs[slot].data
				in.Attributes[slot] = Vec2{d[v*2], d[v*2+1]}
			}
			outs[k] = VertexOutput{}
			p.vertex(&in, &outs[k])
		}
		c.rasterize(p, &outs, &frag)
	}
	return nil
}

type screenVertex struct {
	x, y     float64
	varyings *[MaxVaryings]Vec2
}

// toWindow maps clip space to pixel space with y pointing down.
func (c *Context) toWindow(o *VertexOutput) (screenVertex, bool) {
	w := float64(o.Position[3])
	if w == 0 {
		return screenVertex{}, false
	}
	x := (float64(o.Position[0])/w + 1) * 0.5 * float64(c.width)
	y := (1 - float64(o.Position[1])/w) * 0.5 * float64(c.height)
	if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
		return screenVertex{}, false
	}
	return screenVertex{x: x, y: y, varyings: &o.Varyings}, true
}
