// Package align registers one landmark set onto another with the similarity
// transform (uniform scale, rotation, translation) that minimises the sum of
// squared landmark distances.
package align

import (
	"errors"
	"fmt"
	"math"

	"github.com/andresmejia3/facemorph/internal/geom"
	"gonum.org/v1/gonum/spatial/r2"
)

var (
	ErrEmpty          = errors.New("empty point set")
	ErrLengthMismatch = errors.New("point set length mismatch")
	ErrDegenerate     = errors.New("source point set has zero variance")
	ErrNonFinite      = errors.New("non-finite transform")
)

// AlignmentError is returned for inputs no similarity transform can register.
// It is not recoverable by retrying with the same input.
type AlignmentError struct {
	SourceLen int
	TargetLen int
	Err       error
}

func (e *AlignmentError) Error() string {
	return fmt.Sprintf("align: %v (source=%d target=%d)", e.Err, e.SourceLen, e.TargetLen)
}

func (e *AlignmentError) Unwrap() error { return e.Err }

// Similarity maps a point p to Scale * R(Theta) * (p - From) + To.
type Similarity struct {
	Scale float64
	Theta float64
	From  r2.Vec
	To    r2.Vec
}

// Apply transforms a single point.
func (s Similarity) Apply(p r2.Vec) r2.Vec {
	centered := r2.Scale(s.Scale, r2.Sub(p, s.From))
	return r2.Add(r2.Rotate(centered, s.Theta, r2.Vec{}), s.To)
}

// Fit computes the similarity transform registering source onto target.
//
// Both sets are centred on their centroids. The scale is the ratio of their
// root sum of squared norms and the angle is atan2 of the summed cross and dot
// products of corresponding centred points.
func Fit(source, target geom.PointSet) (Similarity, error) {
	if len(source) == 0 || len(target) == 0 {
		return Similarity{}, alignErr(source, target, ErrEmpty)
	}
	if len(source) != len(target) {
		return Similarity{}, alignErr(source, target, ErrLengthMismatch)
	}

	meanSrc := centroid(source)
	meanDst := centroid(target)

	var s1, s2 float64
	for i := range source {
		s1 += r2.Norm2(r2.Sub(source[i], meanSrc))
		s2 += r2.Norm2(r2.Sub(target[i], meanDst))
	}
	if s1 == 0 {
		return Similarity{}, alignErr(source, target, ErrDegenerate)
	}
	scale := math.Sqrt(s2 / s1)

	var a, b float64
	for i := range source {
		p := r2.Scale(scale, r2.Sub(source[i], meanSrc))
		q := r2.Sub(target[i], meanDst)
		a += r2.Cross(p, q)
		b += r2.Dot(p, q)
	}

	sim := Similarity{
		Scale: scale,
		Theta: math.Atan2(a, b),
		From:  meanSrc,
		To:    meanDst,
	}
	if !finite(sim.Scale) || !finite(sim.Theta) || !finiteVec(sim.From) || !finiteVec(sim.To) {
		return Similarity{}, alignErr(source, target, ErrNonFinite)
	}
	return sim, nil
}

// Align returns source transformed onto target. The result has the length of
// source and never contains NaN or Inf.
func Align(source, target geom.PointSet) (geom.PointSet, error) {
	return AlignInto(nil, source, target)
}

// AlignInto is Align writing into dst, which is grown as needed.
func AlignInto(dst, source, target geom.PointSet) (geom.PointSet, error) {
	sim, err := Fit(source, target)
	if err != nil {
		return dst, err
	}
	if cap(dst) < len(source) {
		dst = make(geom.PointSet, len(source))
	}
	dst = dst[:len(source)]
	for i, p := range source {
		dst[i] = sim.Apply(p)
	}
	return dst, nil
}

func centroid(points geom.PointSet) r2.Vec {
	var sum r2.Vec
	for _, p := range points {
		sum = r2.Add(sum, p)
	}
	return r2.Scale(1/float64(len(points)), sum)
}

func alignErr(source, target geom.PointSet, err error) error {
	return &AlignmentError{SourceLen: len(source), TargetLen: len(target), Err: err}
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func finiteVec(v r2.Vec) bool { return finite(v.X) && finite(v.Y) }
