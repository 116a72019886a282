// Package driver runs the per-frame cadence: track, composite, present.
//
// Until the tracker's convergence first drops below the threshold the driver
// only shows the frame, optionally with the tracked mesh drawn on top. After
// that every frame with landmarks is composited; frames without landmarks pass
// through unchanged.
package driver

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/andresmejia3/facemorph/internal/align"
	"github.com/andresmejia3/facemorph/internal/compositor"
	"github.com/andresmejia3/facemorph/internal/geom"
	"github.com/andresmejia3/facemorph/internal/render"
	"github.com/andresmejia3/facemorph/internal/tracker"
	"go.uber.org/zap"
	"golang.org/x/image/draw"
)

// DefaultConvergenceThreshold is the convergence below which tracking is
// considered stable enough to start compositing.
const DefaultConvergenceThreshold = 0.4

// Source yields frames. Next returns io.EOF after the last one.
type Source interface {
	Next(ctx context.Context) (*image.RGBA, error)
}

// Sink receives each presented frame. The image is reused by the driver
// after Present returns.
type Sink interface {
	Present(frame *image.RGBA) error
}

// Mode is the driver phase.
type Mode int

const (
	Tracking Mode = iota
	Compositing
)

func (m Mode) String() string {
	if m == Compositing {
		return "compositing"
	}
	return "tracking"
}

// Stats counts what happened to each frame.
type Stats struct {
	Frames     int
	Composited int
	Skipped    int
	Aborted    int
}

// Options tune the driver.
type Options struct {
	ConvergenceThreshold float64
	// Grid draws the tracked mesh while waiting for convergence.
	Grid     bool
	Topology geom.Topology
	Logger   *zap.Logger
	// OnFrame is called after every presented frame.
	OnFrame func(Stats)
}

// Driver ties a tracker to a compositor. It is single-threaded: Step and Run
// must not be called concurrently.
type Driver struct {
	rc      *render.Context
	comp    *compositor.Compositor
	tracker tracker.Tracker
	opts    Options
	log     *zap.Logger

	mode  Mode
	grid  grid
	out   *image.RGBA
	stats Stats
}

// New returns a driver in Tracking mode.
func New(rc *render.Context, comp *compositor.Compositor, tr tracker.Tracker, opts Options) *Driver {
	if opts.ConvergenceThreshold <= 0 {
		opts.ConvergenceThreshold = DefaultConvergenceThreshold
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Driver{
		rc:      rc,
		comp:    comp,
		tracker: tr,
		opts:    opts,
		log:     log,
		grid:    grid{topo: opts.Topology},
	}
}

// Mode reports the current phase.
func (d *Driver) Mode() Mode { return d.mode }

// Stats returns the counters so far.
func (d *Driver) Stats() Stats { return d.stats }

// Run pulls frames from src until it is exhausted or ctx is cancelled.
// Cancellation is only observed between frames.
func (d *Driver) Run(ctx context.Context, src Source, sink Sink) (Stats, error) {
	for {
		if err := ctx.Err(); err != nil {
			return d.stats, err
		}
		frame, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return d.stats, nil
		}
		if err != nil {
			return d.stats, fmt.Errorf("read frame %d: %w", d.stats.Frames, err)
		}

		out, err := d.Step(ctx, frame)
		if err != nil {
			return d.stats, err
		}
		if err := sink.Present(out); err != nil {
			return d.stats, fmt.Errorf("present frame %d: %w", d.stats.Frames-1, err)
		}
		if d.opts.OnFrame != nil {
			d.opts.OnFrame(d.stats)
		}
	}
}

// Step processes one frame and returns the image to present. The returned
// image is owned by the driver and overwritten by the next Step.
func (d *Driver) Step(ctx context.Context, frame *image.RGBA) (*image.RGBA, error) {
	d.stats.Frames++
	if err := d.fitSurface(frame.Bounds()); err != nil {
		return nil, err
	}
	if err := d.tracker.Update(ctx, frame); err != nil {
		return nil, err
	}

	out := d.outputFor(frame)
	points, ok := d.tracker.CurrentLandmarks()

	if d.mode == Tracking {
		conv := d.tracker.Convergence()
		if !ok || conv >= d.opts.ConvergenceThreshold {
			if ok && d.opts.Grid {
				d.grid.draw(out, points)
			}
			d.stats.Skipped++
			return out, nil
		}
		d.mode = Compositing
		d.log.Info("tracking converged", zap.Int("frame", d.stats.Frames-1), zap.Float64("convergence", conv))
	}

	if !ok {
		d.stats.Skipped++
		return out, nil
	}

	if err := d.composite(frame, points); err != nil {
		var alignErr *align.AlignmentError
		var geomErr *geom.GeometryError
		if errors.As(err, &alignErr) || errors.As(err, &geomErr) {
			d.stats.Aborted++
			d.log.Warn("frame not composited", zap.Int("frame", d.stats.Frames-1), zap.Error(err))
			return out, nil
		}
		return nil, err
	}

	surface := d.comp.Surface()
	draw.Draw(out, out.Bounds(), surface, surface.Bounds().Min, draw.Over)
	d.stats.Composited++
	return out, nil
}

func (d *Driver) composite(frame *image.RGBA, points geom.PointSet) error {
	if err := d.comp.Load(frame, points); err != nil {
		return err
	}
	return d.comp.Draw(points)
}

// fitSurface re-creates the output surface when the frame size changes.
func (d *Driver) fitSurface(b image.Rectangle) error {
	w, h := d.rc.Size()
	if b.Dx() == w && b.Dy() == h {
		return nil
	}
	if err := d.rc.Resize(b.Dx(), b.Dy()); err != nil {
		return fmt.Errorf("resize surface: %w", err)
	}
	d.log.Info("surface resized", zap.Int("width", b.Dx()), zap.Int("height", b.Dy()))
	return nil
}

// outputFor copies frame into the persistent output image.
func (d *Driver) outputFor(frame *image.RGBA) *image.RGBA {
	b := frame.Bounds()
	if d.out == nil || d.out.Bounds().Size() != b.Size() {
		d.out = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	}
	draw.Draw(d.out, d.out.Bounds(), frame, b.Min, draw.Src)
	return d.out
}
