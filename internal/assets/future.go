package assets

import (
	"context"
	"fmt"

	"github.com/andresmejia3/facemorph/internal/compositor"
	"golang.org/x/sync/errgroup"
)

// Bundle holds everything the compositor needs before it can become Ready.
type Bundle struct {
	Current compositor.AverageFace
	Target  compositor.AverageFace
}

// Future resolves once every asset of a Bundle has loaded or one has failed.
type Future struct {
	done   chan struct{}
	bundle Bundle
	err    error
}

// Done is closed when the result is available.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the bundle is loaded or ctx ends.
func (f *Future) Wait(ctx context.Context) (Bundle, error) {
	select {
	case <-f.done:
		return f.bundle, f.err
	case <-ctx.Done():
		return Bundle{}, ctx.Err()
	}
}

// Load resolves both profiles through cat and reads the two images and point
// files concurrently. The first failure cancels the rest.
func Load(ctx context.Context, cat Catalog, current, target Profile) *Future {
	f := &Future{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.bundle, f.err = load(ctx, cat, current, target)
	}()
	return f
}

func load(ctx context.Context, cat Catalog, current, target Profile) (Bundle, error) {
	var b Bundle
	g, ctx := errgroup.WithContext(ctx)

	for _, job := range []struct {
		profile Profile
		face    *compositor.AverageFace
	}{
		{current, &b.Current},
		{target, &b.Target},
	} {
		job := job
		g.Go(func() error {
			e, err := cat.Lookup(ctx, job.profile.Key())
			if err != nil {
				return fmt.Errorf("lookup %s: %w", job.profile.Key(), err)
			}

			inner, ctx := errgroup.WithContext(ctx)
			inner.Go(func() error {
				img, err := LoadImage(e.ImagePath)
				if err != nil {
					return err
				}
				job.face.Image = img
				return ctx.Err()
			})
			inner.Go(func() error {
				pts, err := LoadPoints(e.PointsPath)
				if err != nil {
					return err
				}
				job.face.Points = pts
				return ctx.Err()
			})
			return inner.Wait()
		})
	}

	if err := g.Wait(); err != nil {
		return Bundle{}, err
	}
	if len(b.Current.Points) != len(b.Target.Points) {
		return Bundle{}, fmt.Errorf("average faces disagree: %s has %d landmarks, %s has %d",
			current.Key(), len(b.Current.Points), target.Key(), len(b.Target.Points))
	}
	return b, nil
}
