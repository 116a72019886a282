// Package geom holds the landmark point sets, the shared triangle topology and
// the mesh geometry derived from them (bounding boxes, texture coordinates and
// destination positions).
package geom

import (
	"errors"
	"fmt"
	"image"
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// Point is a landmark position in image pixel space.
type Point = r2.Vec

// PointSet is an ordered list of landmarks. Index i denotes the same
// anatomical landmark in every point set of a session.
type PointSet []Point

// Triangle is a triple of indices into a PointSet.
type Triangle [3]int

// Topology is the fixed triangle mesh shared by the subject and both averages.
type Topology []Triangle

var (
	ErrEmpty           = errors.New("empty input")
	ErrIndexOutOfRange = errors.New("triangle index out of range")
	ErrZeroArea        = errors.New("bounding box has zero width or height")
	ErrNonFinite       = errors.New("non-finite coordinate")
)

// GeometryError reports a mesh-build failure. It is returned before any
// render resource is touched.
type GeometryError struct {
	Op  string
	Err error
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("geometry: %s: %v", e.Op, e.Err)
}

func (e *GeometryError) Unwrap() error { return e.Err }

func geometryErr(op string, err error) error {
	return &GeometryError{Op: op, Err: err}
}

// Clone returns a copy of p.
func (p PointSet) Clone() PointSet {
	if p == nil {
		return nil
	}
	out := make(PointSet, len(p))
	copy(out, p)
	return out
}

// Validate checks that every point is finite.
func (p PointSet) Validate() error {
	if len(p) == 0 {
		return geometryErr("validate points", ErrEmpty)
	}
	for i, pt := range p {
		if !finite(pt.X) || !finite(pt.Y) {
			return geometryErr("validate points", fmt.Errorf("%w at landmark %d", ErrNonFinite, i))
		}
	}
	return nil
}

// MaxIndex returns the largest landmark index referenced by the topology, or -1
// if the topology is empty.
func (t Topology) MaxIndex() int {
	maxIdx := -1
	for _, tri := range t {
		for _, idx := range tri {
			if idx > maxIdx {
				maxIdx = idx
			}
		}
	}
	return maxIdx
}

// Validate checks that every index addresses a point set of length n.
func (t Topology) Validate(n int) error {
	if len(t) == 0 {
		return geometryErr("validate topology", ErrEmpty)
	}
	for i, tri := range t {
		for _, idx := range tri {
			if idx < 0 || idx >= n {
				return geometryErr("validate topology",
					fmt.Errorf("%w: triangle %d references landmark %d, point set has %d", ErrIndexOutOfRange, i, idx, n))
			}
		}
	}
	return nil
}

// VertexCount is the number of mesh vertices emitted per pass (three per triangle).
func (t Topology) VertexCount() int { return len(t) * 3 }

// Box is an integer pixel rectangle enclosing a point set. Min is floored and
// Max is ceiled so no landmark is clipped.
type Box struct {
	MinX, MinY int
	MaxX, MaxY int
	Width      int
	Height     int
}

// Rect converts the box to an image rectangle.
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.MinX, b.MinY, b.MaxX, b.MaxY)
}

// Contains reports whether p lies inside the closed box.
func (b Box) Contains(p Point) bool {
	return p.X >= float64(b.MinX) && p.X <= float64(b.MaxX) &&
		p.Y >= float64(b.MinY) && p.Y <= float64(b.MaxY)
}

// BoundingBox computes the floor/ceil extents of points. Each axis is reduced
// independently.
func BoundingBox(points PointSet) (Box, error) {
	if err := points.Validate(); err != nil {
		return Box{}, err
	}

	ext := r2.Box{Min: points[0], Max: points[0]}
	for _, p := range points[1:] {
		ext.Min.X = math.Min(ext.Min.X, p.X)
		ext.Min.Y = math.Min(ext.Min.Y, p.Y)
		ext.Max.X = math.Max(ext.Max.X, p.X)
		ext.Max.Y = math.Max(ext.Max.Y, p.Y)
	}

	b := Box{
		MinX: int(math.Floor(ext.Min.X)),
		MinY: int(math.Floor(ext.Min.Y)),
		MaxX: int(math.Ceil(ext.Max.X)),
		MaxY: int(math.Ceil(ext.Max.Y)),
	}
	b.Width = b.MaxX - b.MinX
	b.Height = b.MaxY - b.MinY
	if b.Width == 0 || b.Height == 0 {
		return b, geometryErr("bounding box", ErrZeroArea)
	}
	return b, nil
}

// TextureCoordinates returns six values per triangle: the normalized (u, v)
// of each vertex relative to box. Coordinates stay in [0, 1] only when box was
// computed from the same points.
func TextureCoordinates(points PointSet, topo Topology, box Box) ([]float32, error) {
	return AppendTextureCoordinates(nil, points, topo, box)
}

// AppendTextureCoordinates is TextureCoordinates appending into dst.
func AppendTextureCoordinates(dst []float32, points PointSet, topo Topology, box Box) ([]float32, error) {
	if err := topo.Validate(len(points)); err != nil {
		return dst, err
	}
	if box.Width <= 0 || box.Height <= 0 {
		return dst, geometryErr("texture coordinates", ErrZeroArea)
	}

	w, h := float64(box.Width), float64(box.Height)
	minX, minY := float64(box.MinX), float64(box.MinY)
	for _, tri := range topo {
		for _, idx := range tri {
			p := points[idx]
			dst = append(dst, float32((p.X-minX)/w), float32((p.Y-minY)/h))
		}
	}
	return dst, nil
}

// PositionVertices returns six values per triangle: the pixel position of each
// vertex, in topology order.
func PositionVertices(points PointSet, topo Topology) ([]float32, error) {
	return AppendPositionVertices(nil, points, topo)
}

// AppendPositionVertices is PositionVertices appending into dst.
func AppendPositionVertices(dst []float32, points PointSet, topo Topology) ([]float32, error) {
	if err := topo.Validate(len(points)); err != nil {
		return dst, err
	}
	for _, tri := range topo {
		for _, idx := range tri {
			p := points[idx]
			dst = append(dst, float32(p.X), float32(p.Y))
		}
	}
	return dst, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
