// Package tracker supplies per-frame facial landmarks and a convergence score.
// Detection itself happens elsewhere: a worker subprocess, a recorded file or
// a fixed point set.
package tracker

import (
	"context"
	"fmt"
	"image"

	"github.com/andresmejia3/facemorph/internal/geom"
	"github.com/andresmejia3/facemorph/internal/types"
	"github.com/andresmejia3/facemorph/internal/worker"
	"go.uber.org/zap"
)

// Tracker is fed every frame and reports what it currently sees. Lower
// convergence means a more stable fit.
type Tracker interface {
	Update(ctx context.Context, frame *image.RGBA) error
	// CurrentLandmarks returns false when no face is tracked.
	CurrentLandmarks() (geom.PointSet, bool)
	Convergence() float64
	Close() error
}

// state is the part every tracker shares.
type state struct {
	points      geom.PointSet
	convergence float64
}

func (s *state) CurrentLandmarks() (geom.PointSet, bool) {
	return s.points, len(s.points) > 0
}

func (s *state) Convergence() float64 { return s.convergence }

func (s *state) set(points [][2]float64, convergence float64) {
	s.convergence = convergence
	s.points = s.points[:0]
	for _, p := range points {
		s.points = append(s.points, geom.Point{X: p[0], Y: p[1]})
	}
}

// Static always reports the same landmarks, already converged.
type Static struct {
	state
}

// NewStatic returns a tracker pinned to points.
func NewStatic(points geom.PointSet) *Static {
	return &Static{state: state{points: points.Clone()}}
}

func (s *Static) Update(ctx context.Context, _ *image.RGBA) error { return ctx.Err() }

func (s *Static) Close() error { return nil }

// landmarkSource is the subset of worker.LandmarkWorker the tracker needs.
type landmarkSource interface {
	ProcessFrame(task types.FrameTask) (types.LandmarkResult, error)
	Close() error
}

var _ landmarkSource = (*worker.LandmarkWorker)(nil)

// Worker tracks faces with a landmark worker subprocess.
type Worker struct {
	state
	src   landmarkSource
	index int
	pack  []byte
	log   *zap.Logger
}

// NewWorker wraps a running landmark worker.
func NewWorker(w *worker.LandmarkWorker, log *zap.Logger) *Worker {
	return newWorker(w, log)
}

func newWorker(src landmarkSource, log *zap.Logger) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{state: state{convergence: 1}, src: src, log: log}
}

// Update sends frame to the worker and records its answer.
func (t *Worker) Update(ctx context.Context, frame *image.RGBA) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := frame.Bounds()
	task := types.FrameTask{Index: t.index, Width: b.Dx(), Height: b.Dy(), Pix: t.packed(frame)}
	t.index++

	res, err := t.src.ProcessFrame(task)
	if err != nil {
		return fmt.Errorf("track frame %d: %w", task.Index, err)
	}
	t.set(res.Points, res.Convergence)
	t.log.Debug("landmarks",
		zap.Int("frame", task.Index),
		zap.Int("points", len(res.Points)),
		zap.Float64("convergence", res.Convergence))
	return nil
}

// packed returns the frame's pixels without row padding.
func (t *Worker) packed(frame *image.RGBA) []byte {
	b := frame.Bounds()
	row := b.Dx() * 4
	if frame.Stride == row && b.Min == (image.Point{}) {
		return frame.Pix[:row*b.Dy()]
	}
	if cap(t.pack) < row*b.Dy() {
		t.pack = make([]byte, row*b.Dy())
	}
	t.pack = t.pack[:row*b.Dy()]
	for y := 0; y < b.Dy(); y++ {
		off := frame.PixOffset(b.Min.X, b.Min.Y+y)
		copy(t.pack[y*row:(y+1)*row], frame.Pix[off:off+row])
	}
	return t.pack
}

func (t *Worker) Close() error {
	if t.src == nil {
		return nil
	}
	err := t.src.Close()
	t.src = nil
	return err
}

