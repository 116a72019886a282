package compositor

import "github.com/andresmejia3/facemorph/internal/render"

// Attribute slots of the warp-blend program. The table is fixed when the
// program is built and never looked up by name.
const (
	attrSubjectPosition = iota
	attrCurrentPosition
	attrTargetPosition
	attrSubjectTexCoord
	attrCurrentTexCoord
	attrTargetTexCoord
	numAttributes
)

const uniformResolution = 0

// Varyings and samplers share one index per source image.
const (
	srcSubject = iota
	srcCurrent
	srcTarget
	numSources
)

// Texture units, one per source image.
const (
	unitSubject = 0
	unitCurrent = 1
	unitTarget  = 2
)

var programLayout = render.Layout{
	Attributes: numAttributes,
	Uniforms:   1,
	Varyings:   numSources,
	Samplers:   numSources,
}

// Role names one of the two average faces.
type Role int

const (
	Current Role = iota
	Target
)

func (r Role) String() string {
	switch r {
	case Current:
		return "current"
	case Target:
		return "target"
	}
	return "unknown"
}

func (r Role) valid() bool { return r == Current || r == Target }

func (r Role) unit() int {
	if r == Target {
		return unitTarget
	}
	return unitCurrent
}

func (r Role) positionSlot() int {
	if r == Target {
		return attrTargetPosition
	}
	return attrCurrentPosition
}

func (r Role) texCoordSlot() int {
	if r == Target {
		return attrTargetTexCoord
	}
	return attrCurrentTexCoord
}

// vertex displaces the subject mesh by the aligned target-minus-current
// offset and maps the result from pixels to clip space, y down.
func (c *Compositor) vertex(in *render.VertexInput, out *render.VertexOutput) {
	w := c.weight
	s := in.Attributes[attrSubjectPosition]
	cur := in.Attributes[attrCurrentPosition]
	tgt := in.Attributes[attrTargetPosition]
	res := in.Uniforms[uniformResolution]

	x := s[0] + w*(tgt[0]-cur[0])
	y := s[1] + w*(tgt[1]-cur[1])

	out.Position = render.Vec4{x/res[0]*2 - 1, -(y/res[1]*2 - 1), 0, 1}
	out.Varyings[srcSubject] = in.Attributes[attrSubjectTexCoord]
	out.Varyings[srcCurrent] = in.Attributes[attrCurrentTexCoord]
	out.Varyings[srcTarget] = in.Attributes[attrTargetTexCoord]
}

// fragment adds the weighted target-minus-current color to the subject.
// Channels are not clamped here.
func (c *Compositor) fragment(in *render.FragmentInput) render.Color {
	w := c.weight
	s := in.Sample(srcSubject, in.Varyings[srcSubject])
	cur := in.Sample(srcCurrent, in.Varyings[srcCurrent])
	tgt := in.Sample(srcTarget, in.Varyings[srcTarget])

	var out render.Color
	for i := range out {
		out[i] = s[i] + w*(tgt[i]-cur[i])
	}
	return out
}
