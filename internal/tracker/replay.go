package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"os"

	"github.com/andresmejia3/facemorph/internal/types"
)

// Recording is the on-disk landmark file:
//
//	{"frames": [{"points": [[x, y], ...], "convergence": 0.1}, ...]}
//
// A frame with no points means no face was tracked.
type Recording struct {
	Frames []types.LandmarkResult `json:"frames"`
}

// Replay plays back a Recording one frame per Update. Past the last frame
// no face is reported.
type Replay struct {
	state
	rec  Recording
	next int
}

// NewReplay wraps an already decoded recording.
func NewReplay(rec Recording) *Replay {
	return &Replay{state: state{convergence: 1}, rec: rec}
}

// ReadReplay decodes a recording from r.
func ReadReplay(r io.Reader) (*Replay, error) {
	var rec Recording
	if err := json.NewDecoder(r).Decode(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode landmark recording: %w", err)
	}
	return NewReplay(rec), nil
}

// OpenReplay reads a recording from path.
func OpenReplay(path string) (*Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadReplay(f)
}

// Len is the number of recorded frames.
func (r *Replay) Len() int { return len(r.rec.Frames) }

func (r *Replay) Update(ctx context.Context, _ *image.RGBA) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.next >= len(r.rec.Frames) {
		r.points = r.points[:0]
		return nil
	}
	f := r.rec.Frames[r.next]
	r.next++
	r.set(f.Points, f.Convergence)
	return nil
}

func (r *Replay) Close() error { return nil }
