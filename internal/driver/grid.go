package driver

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/andresmejia3/facemorph/internal/geom"
	"golang.org/x/image/vector"
)

var gridColor = image.NewUniform(color.RGBA{R: 40, G: 220, B: 90, A: 255})

const (
	gridLineWidth = 1
	gridDotRadius = 1.5
)

// grid strokes the tracked mesh edges and marks each landmark. It keeps one
// rasterizer across frames.
type grid struct {
	topo geom.Topology
	z    *vector.Rasterizer
}

func (g *grid) draw(dst *image.RGBA, points geom.PointSet) {
	b := dst.Bounds()
	if g.z == nil {
		g.z = vector.NewRasterizer(b.Dx(), b.Dy())
	} else {
		g.z.Reset(b.Dx(), b.Dy())
	}
	g.z.DrawOp = draw.Over

	for _, tri := range g.topo {
		for k := 0; k < 3; k++ {
			i, j := tri[k], tri[(k+1)%3]
			if i < len(points) && j < len(points) {
				g.segment(points[i], points[j])
			}
		}
	}
	for _, p := range points {
		x, y := float32(p.X), float32(p.Y)
		// Same winding as the segments so overlaps do not cancel.
		g.z.MoveTo(x-gridDotRadius, y-gridDotRadius)
		g.z.LineTo(x-gridDotRadius, y+gridDotRadius)
		g.z.LineTo(x+gridDotRadius, y+gridDotRadius)
		g.z.LineTo(x+gridDotRadius, y-gridDotRadius)
		g.z.ClosePath()
	}
	g.z.Draw(dst, b, gridColor, image.Point{})
}

// segment adds a thin quad around a-b.
func (g *grid) segment(a, b geom.Point) {
	dx, dy := float32(b.X-a.X), float32(b.Y-a.Y)
	n := float32(math.Hypot(float64(dx), float64(dy)))
	if n == 0 {
		return
	}
	// Half-width normal.
	nx, ny := -dy/n*gridLineWidth/2, dx/n*gridLineWidth/2
	ax, ay := float32(a.X), float32(a.Y)
	bx, by := float32(b.X), float32(b.Y)

	g.z.MoveTo(ax+nx, ay+ny)
	g.z.LineTo(bx+nx, by+ny)
	g.z.LineTo(bx-nx, by-ny)
	g.z.LineTo(ax-nx, ay-ny)
	g.z.ClosePath()
}
