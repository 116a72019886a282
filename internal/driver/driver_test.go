package driver

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"math"
	"testing"

	"github.com/andresmejia3/facemorph/internal/compositor"
	"github.com/andresmejia3/facemorph/internal/geom"
	"github.com/andresmejia3/facemorph/internal/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quad = geom.Topology{{0, 1, 2}, {1, 3, 2}}

func square(x0, y0, x1, y1 float64) geom.PointSet {
	return geom.PointSet{{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x0, Y: y1}, {X: x1, Y: y1}}
}

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func gray(v uint8) color.RGBA { return color.RGBA{R: v, G: v, B: v, A: 255} }

// observation is what the scripted tracker reports for one frame.
type observation struct {
	points      geom.PointSet
	convergence float64
}

type scriptedTracker struct {
	script []observation
	cur    observation
	err    error
}

func (s *scriptedTracker) Update(ctx context.Context, _ *image.RGBA) error {
	if s.err != nil {
		return s.err
	}
	if len(s.script) == 0 {
		s.cur = observation{convergence: s.cur.convergence}
		return nil
	}
	s.cur, s.script = s.script[0], s.script[1:]
	return ctx.Err()
}

func (s *scriptedTracker) CurrentLandmarks() (geom.PointSet, bool) {
	return s.cur.points, len(s.cur.points) > 0
}

func (s *scriptedTracker) Convergence() float64 { return s.cur.convergence }

func (s *scriptedTracker) Close() error { return nil }

type sliceSource struct {
	frames []*image.RGBA
	onNext func(i int)
	i      int
}

func (s *sliceSource) Next(context.Context) (*image.RGBA, error) {
	if s.i >= len(s.frames) {
		return nil, io.EOF
	}
	if s.onNext != nil {
		s.onNext(s.i)
	}
	f := s.frames[s.i]
	s.i++
	return f, nil
}

type recordingSink struct {
	frames []*image.RGBA
}

func (r *recordingSink) Present(frame *image.RGBA) error {
	cp := image.NewRGBA(frame.Bounds())
	copy(cp.Pix, frame.Pix)
	r.frames = append(r.frames, cp)
	return nil
}

// newDriver builds a compositor whose averages differ only in colour: the
// current average is gray 100, the target gray 200, so every composited
// pixel of a gray-50 subject becomes 50 + 1*(200-100) = 150.
func newDriver(t *testing.T, tr *scriptedTracker, opts Options) (*Driver, *render.Context) {
	t.Helper()
	rc, err := render.NewContext(16, 16)
	require.NoError(t, err)
	comp, err := compositor.New(rc, quad, compositor.WithBlendWeight(1))
	require.NoError(t, err)
	avg := square(2, 2, 14, 14)
	require.NoError(t, comp.SetAverage(compositor.Current, compositor.AverageFace{Points: avg, Image: solid(16, 16, gray(100))}))
	require.NoError(t, comp.SetAverage(compositor.Target, compositor.AverageFace{Points: avg, Image: solid(16, 16, gray(200))}))
	opts.Topology = quad
	return New(rc, comp, tr, opts), rc
}

func frames(n, w, h int) []*image.RGBA {
	out := make([]*image.RGBA, n)
	for i := range out {
		out[i] = solid(w, h, gray(50))
	}
	return out
}

func TestConvergenceHandOff(t *testing.T) {
	face := square(3, 3, 13, 13)
	tr := &scriptedTracker{script: []observation{
		{face, 0.9},
		{face, 0.5},
		{face, 0.3}, // converged
		{face, 0.8}, // stays compositing
	}}
	d, _ := newDriver(t, tr, Options{})
	sink := &recordingSink{}

	stats, err := d.Run(context.Background(), &sliceSource{frames: frames(4, 16, 16)}, sink)
	require.NoError(t, err)
	require.Len(t, sink.frames, 4)

	assert.Equal(t, Stats{Frames: 4, Composited: 2, Skipped: 2}, stats)
	assert.Equal(t, Compositing, d.Mode())
	assert.Equal(t, gray(50), sink.frames[0].RGBAAt(8, 8), "tracking frames pass through")
	assert.Equal(t, gray(50), sink.frames[1].RGBAAt(8, 8))
	assert.Equal(t, gray(150), sink.frames[2].RGBAAt(8, 8))
	assert.Equal(t, gray(150), sink.frames[3].RGBAAt(8, 8))
	assert.Equal(t, gray(50), sink.frames[3].RGBAAt(0, 0), "outside the mesh the frame shows through")
}

func TestSkipsFramesWithoutLandmarks(t *testing.T) {
	face := square(3, 3, 13, 13)
	tr := &scriptedTracker{script: []observation{
		{face, 0.1},
		{nil, 0.1},
		{face, 0.1},
	}}
	d, _ := newDriver(t, tr, Options{})
	sink := &recordingSink{}

	stats, err := d.Run(context.Background(), &sliceSource{frames: frames(3, 16, 16)}, sink)
	require.NoError(t, err)
	assert.Equal(t, Stats{Frames: 3, Composited: 2, Skipped: 1}, stats)
	assert.Equal(t, gray(50), sink.frames[1].RGBAAt(8, 8))
	assert.Equal(t, gray(150), sink.frames[2].RGBAAt(8, 8))
}

func TestGridDrawnWhileTracking(t *testing.T) {
	tr := &scriptedTracker{script: []observation{{square(3, 3, 13, 13), 0.9}}}
	d, _ := newDriver(t, tr, Options{Grid: true})

	out, err := d.Step(context.Background(), solid(16, 16, gray(50)))
	require.NoError(t, err)
	assert.NotEqual(t, gray(50), out.RGBAAt(3, 3), "landmark should be marked")
	assert.NotEqual(t, gray(50), out.RGBAAt(8, 3), "edge should be stroked")
	assert.Equal(t, gray(50), out.RGBAAt(0, 0))
	assert.Equal(t, Tracking, d.Mode())
}

func TestAbortedFramePassesThrough(t *testing.T) {
	bad := square(3, 3, 13, 13)
	bad[1].X = math.NaN()
	tr := &scriptedTracker{script: []observation{
		{square(3, 3, 13, 13), 0.1},
		{bad, 0.1},
		{square(4, 4, 12, 12)[:3], 0.1},
	}}
	d, _ := newDriver(t, tr, Options{})
	sink := &recordingSink{}

	stats, err := d.Run(context.Background(), &sliceSource{frames: frames(3, 16, 16)}, sink)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Aborted)
	assert.Equal(t, 1, stats.Composited)
	assert.Equal(t, gray(50), sink.frames[1].RGBAAt(8, 8))
	assert.Equal(t, gray(50), sink.frames[2].RGBAAt(8, 8))
}

func TestResizeFollowsFrameSize(t *testing.T) {
	tr := &scriptedTracker{script: []observation{
		{square(3, 3, 13, 13), 0.1},
		{square(6, 4, 26, 18), 0.1},
	}}
	d, rc := newDriver(t, tr, Options{})
	src := &sliceSource{frames: []*image.RGBA{solid(16, 16, gray(50)), solid(32, 24, gray(50))}}
	sink := &recordingSink{}

	_, err := d.Run(context.Background(), src, sink)
	require.NoError(t, err)

	w, h := rc.Size()
	assert.Equal(t, 32, w)
	assert.Equal(t, 24, h)
	assert.Equal(t, image.Rect(0, 0, 32, 24), sink.frames[1].Bounds())
	assert.Equal(t, gray(150), sink.frames[1].RGBAAt(16, 11))
	assert.Equal(t, gray(50), sink.frames[1].RGBAAt(30, 22))
}

func TestRunStopsOnCancellation(t *testing.T) {
	face := square(3, 3, 13, 13)
	tr := &scriptedTracker{script: []observation{{face, 0.1}, {face, 0.1}, {face, 0.1}}}
	d, _ := newDriver(t, tr, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var seen []Stats
	d.opts.OnFrame = func(s Stats) {
		seen = append(seen, s)
		if s.Frames == 1 {
			cancel()
		}
	}

	stats, err := d.Run(ctx, &sliceSource{frames: frames(3, 16, 16)}, &recordingSink{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, stats.Frames)
	assert.Len(t, seen, 1)
}

func TestTrackerErrorsAreFatal(t *testing.T) {
	boom := errors.New("worker crashed")
	d, _ := newDriver(t, &scriptedTracker{err: boom}, Options{})
	_, err := d.Run(context.Background(), &sliceSource{frames: frames(2, 16, 16)}, &recordingSink{})
	assert.ErrorIs(t, err, boom)
}

type failingSink struct{ err error }

func (f failingSink) Present(*image.RGBA) error { return f.err }

func TestSinkErrorsStopRun(t *testing.T) {
	boom := errors.New("disk full")
	d, _ := newDriver(t, &scriptedTracker{}, Options{})
	stats, err := d.Run(context.Background(), &sliceSource{frames: frames(3, 16, 16)}, failingSink{boom})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, stats.Frames)
}
