// Package compositor warps the two average faces into the subject's geometry
// and blends all three images into the render context's output surface.
//
// A session goes Uninitialized -> AveragesLoaded -> Ready once both averages
// are set, then alternates Ready -> Rendering (Load) -> Ready (Draw) per frame.
package compositor

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/andresmejia3/facemorph/internal/align"
	"github.com/andresmejia3/facemorph/internal/geom"
	"github.com/andresmejia3/facemorph/internal/render"
	"go.uber.org/zap"
)

// DefaultBlendWeight is the aging intensity used when none is configured.
const DefaultBlendWeight = 0.75

var ErrNilImage = errors.New("compositor: nil image")

// AverageFace is a reference face: landmarks plus the photograph they were
// measured on.
type AverageFace struct {
	Points geom.PointSet
	Image  image.Image
}

type average struct {
	points  geom.PointSet
	texture *render.Texture
	aligned geom.PointSet
}

// Option configures a Compositor.
type Option func(*Compositor)

// WithBlendWeight sets the weight applied to the target-minus-current delta.
func WithBlendWeight(w float64) Option {
	return func(c *Compositor) { c.weight = float32(w) }
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Compositor) {
		if l != nil {
			c.log = l
		}
	}
}

// Compositor owns the program, its persistent vertex buffers and the average
// textures. It must be used from the goroutine that owns the render context.
type Compositor struct {
	ctx    *render.Context
	topo   geom.Topology
	weight float32
	log    *zap.Logger

	state    State
	averages [2]*average
	subject  *render.Texture

	program *render.Program
	buffers [numAttributes]*render.Buffer
	scratch []float32
}

// New builds the warp-blend program over topo and allocates one buffer per
// attribute slot, sized for the whole mesh.
func New(ctx *render.Context, topo geom.Topology, opts ...Option) (*Compositor, error) {
	if len(topo) == 0 {
		return nil, &geom.GeometryError{Op: "new compositor", Err: geom.ErrEmpty}
	}
	if err := topo.Validate(topo.MaxIndex() + 1); err != nil {
		return nil, err
	}

	c := &Compositor{
		ctx:    ctx,
		topo:   topo,
		weight: DefaultBlendWeight,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	program, err := render.NewProgram(programLayout, c.vertex, c.fragment)
	if err != nil {
		return nil, err
	}
	n := topo.VertexCount() * 2
	for slot := range c.buffers {
		c.buffers[slot] = ctx.NewBuffer(n)
		if err := program.BindAttribute(slot, c.buffers[slot]); err != nil {
			return nil, err
		}
	}
	for src, unit := range [numSources]int{unitSubject, unitCurrent, unitTarget} {
		if err := program.SetSampler(src, unit); err != nil {
			return nil, err
		}
	}
	c.program = program
	c.scratch = make([]float32, 0, n)
	return c, nil
}

// State reports the current lifecycle stage.
func (c *Compositor) State() State { return c.state }

// BlendWeight returns the configured weight.
func (c *Compositor) BlendWeight() float64 { return float64(c.weight) }

// Surface returns the last composited frame.
func (c *Compositor) Surface() *image.RGBA { return c.ctx.Surface() }

// SetAverage installs the reference face for role. Each role is set exactly
// once; the compositor becomes Ready when both are present. Its texture
// coordinates are computed here and never again.
func (c *Compositor) SetAverage(role Role, face AverageFace) error {
	const op = "set average"
	if !role.valid() {
		return fmt.Errorf("compositor: unknown average role %d", int(role))
	}
	if (c.state != Uninitialized && c.state != AveragesLoaded) || c.averages[role] != nil {
		return &InvalidStateError{Op: op, State: c.state}
	}
	if face.Image == nil {
		return ErrNilImage
	}

	if other := c.averages[1-role]; other != nil && len(other.points) != len(face.Points) {
		return &geom.GeometryError{Op: op, Err: fmt.Errorf("%s average has %d landmarks, %s has %d",
			role, len(face.Points), 1-role, len(other.points))}
	}
	box, err := geom.BoundingBox(face.Points)
	if err != nil {
		return err
	}
	coords, err := geom.AppendTextureCoordinates(c.scratch[:0], face.Points, c.topo, box)
	if err != nil {
		return err
	}
	c.scratch = coords

	tex, err := c.ctx.NewTexture(face.Image, box.Rect(), render.DefaultSampler)
	if err != nil {
		return fmt.Errorf("%s average texture: %w", role, err)
	}
	if err := c.buffers[role.texCoordSlot()].Update(coords); err != nil {
		tex.Release()
		return err
	}
	if err := c.ctx.BindTexture(role.unit(), tex); err != nil {
		tex.Release()
		return err
	}

	c.averages[role] = &average{
		points:  face.Points.Clone(),
		texture: tex,
		aligned: make(geom.PointSet, len(face.Points)),
	}
	if c.averages[Current] != nil && c.averages[Target] != nil {
		c.state = Ready
	} else {
		c.state = AveragesLoaded
	}
	c.log.Info("average face set",
		zap.Stringer("role", role),
		zap.Int("landmarks", len(face.Points)),
		zap.Stringer("box", box.Rect()),
		zap.Stringer("state", c.state))
	return nil
}

// Load uploads the subject frame cropped to its landmarks and records its
// texture coordinates. Geometry is validated before any texture is created.
func (c *Compositor) Load(img image.Image, points geom.PointSet) error {
	const op = "load"
	if c.state != Ready {
		return &InvalidStateError{Op: op, State: c.state}
	}
	if img == nil {
		return ErrNilImage
	}
	if err := c.checkSubject(op, points); err != nil {
		return err
	}

	box, err := geom.BoundingBox(points)
	if err != nil {
		return err
	}
	coords, err := geom.AppendTextureCoordinates(c.scratch[:0], points, c.topo, box)
	if err != nil {
		return err
	}
	c.scratch = coords
	if err := c.buffers[attrSubjectTexCoord].Update(coords); err != nil {
		return err
	}

	c.releaseSubject()
	tex, err := c.ctx.NewTexture(img, box.Rect(), render.DefaultSampler)
	if err != nil {
		return fmt.Errorf("subject texture: %w", err)
	}
	if err := c.ctx.BindTexture(unitSubject, tex); err != nil {
		tex.Release()
		return err
	}
	c.subject = tex
	c.state = Rendering
	c.log.Debug("subject loaded", zap.Stringer("box", box.Rect()))
	return nil
}

// Draw aligns both averages onto points, rasterizes the mesh and presents
// exactly one frame. If the frame is aborted the previous surface stays
// visible and the compositor returns to Ready.
func (c *Compositor) Draw(points geom.PointSet) error {
	const op = "draw"
	if c.state != Rendering {
		return &InvalidStateError{Op: op, State: c.state}
	}
	defer func() {
		c.releaseSubject()
		c.state = Ready
	}()

	if err := c.checkSubject(op, points); err != nil {
		return err
	}
	if err := c.writePositions(attrSubjectPosition, points); err != nil {
		return err
	}
	for _, role := range [...]Role{Current, Target} {
		avg := c.averages[role]
		aligned, err := align.AlignInto(avg.aligned, avg.points, points)
		if err != nil {
			return fmt.Errorf("align %s average: %w", role, err)
		}
		avg.aligned = aligned
		if err := c.writePositions(role.positionSlot(), aligned); err != nil {
			return err
		}
	}

	w, h := c.ctx.Size()
	if err := c.program.SetUniform(uniformResolution, render.Vec2{float32(w), float32(h)}); err != nil {
		return err
	}
	c.ctx.Clear(color.RGBA{})
	if err := c.ctx.Draw(c.program, c.topo.VertexCount()); err != nil {
		return err
	}
	c.ctx.Present()
	return nil
}

// Close releases every texture the compositor created.
func (c *Compositor) Close() {
	c.releaseSubject()
	for _, avg := range c.averages {
		if avg != nil {
			avg.texture.Release()
		}
	}
	c.averages = [2]*average{}
	c.state = Uninitialized
}

func (c *Compositor) checkSubject(op string, points geom.PointSet) error {
	want := len(c.averages[Current].points)
	if len(points) != want {
		return &geom.GeometryError{Op: op, Err: fmt.Errorf("subject has %d landmarks, averages have %d", len(points), want)}
	}
	return c.topo.Validate(len(points))
}

func (c *Compositor) writePositions(slot int, points geom.PointSet) error {
	pos, err := geom.AppendPositionVertices(c.scratch[:0], points, c.topo)
	if err != nil {
		return err
	}
	c.scratch = pos
	return c.buffers[slot].Update(pos)
}

func (c *Compositor) releaseSubject() {
	if c.subject != nil {
		c.subject.Release()
		c.subject = nil
	}
}
