package render

import "math"

// rasterize fills one triangle using edge functions evaluated at pixel
// centres, interpolating varyings barycentrically.
func (c *Context) rasterize(p *Program, outs *[3]VertexOutput, frag *FragmentInput) {
	v0, ok0 := c.toWindow(&outs[0])
	v1, ok1 := c.toWindow(&outs[1])
	v2, ok2 := c.toWindow(&outs[2])
	if !ok0 || !ok1 || !ok2 {
		return
	}

	area := edge(v0.x, v0.y, v1.x, v1.y, v2.x, v2.y)
	if area == 0 {
		return
	}
	if area < 0 {
		v0, v2 = v2, v0
		area = -area
	}
	invArea := 1 / area

	minX := max(int(math.Floor(min(v0.x, v1.x, v2.x))), 0)
	minY := max(int(math.Floor(min(v0.y, v1.y, v2.y))), 0)
	maxX := min(int(math.Ceil(max(v0.x, v1.x, v2.x))), c.width)
	maxY := min(int(math.Ceil(max(v0.y, v1.y, v2.y))), c.height)

	nv := p.layout.Varyings
	pix := c.back.Pix
	stride := c.back.Stride

	for y := minY; y < maxY; y++ {
		py := float64(y) + 0.5
		row := y * stride
		for x := minX; x < maxX; x++ {
			px := float64(x) + 0.5

			w0 := edge(v1.x, v1.y, v2.x, v2.y, px, py)
			w1 := edge(v2.x, v2.y, v0.x, v0.y, px, py)
			w2 := edge(v0.x, v0.y, v1.x, v1.y, px, py)
			if w0 < 0 || w1 < 0 || w2 < 0 {
				continue
			}
			b0 := float32(w0 * invArea)
			b1 := float32(w1 * invArea)
			b2 := float32(w2 * invArea)

			for i := 0; i < nv; i++ {
				a, b, d := v0.varyings[i], v1.varyings[i], v2.varyings[i]
				frag.Varyings[i] = Vec2{
					b0*a[0] + b1*b[0] + b2*d[0],
					b0*a[1] + b1*b[1] + b2*d[1],
				}
			}

			col := p.fragment(frag)
			off := row + x*4
			pix[off] = saturate(col[0])
			pix[off+1] = saturate(col[1])
			pix[off+2] = saturate(col[2])
			pix[off+3] = saturate(col[3])
		}
	}
}

func edge(ax, ay, bx, by, cx, cy float64) float64 {
	return (cx-ax)*(by-ay) - (cy-ay)*(bx-ax)
}

// saturate is the 8-bit output stage: out-of-range channels clamp to the
// displayable range.
func saturate(v float32) uint8 {
	if !(v > 0) {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}
