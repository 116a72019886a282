package worker

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/andresmejia3/facemorph/internal/types"
	"github.com/andresmejia3/facemorph/internal/utils"
)

const (
	statusOK    = 0
	statusError = 1

	// maxLandmarks bounds the point count a response may announce.
	maxLandmarks = 1 << 16
)

var ErrTimeout = errors.New("worker did not respond in time")

// LandmarkWorker is a tracker subprocess. Frames go in on stdin, results come
// back on a dedicated pipe (FD 3 in the child) so the child's stdout and
// stderr stay free for logging.
type LandmarkWorker struct {
	ID          int
	Cmd         *utils.SafeCommand
	Stdin       io.WriteCloser
	DataPipe    io.ReadCloser
	ReadTimeout time.Duration

	header []byte
}

// NewLandmarkWorker starts name with args and wires up its pipes.
func NewLandmarkWorker(id int, timeout time.Duration, name string, args ...string) (*LandmarkWorker, error) {
	proc := utils.NewSafeCommand(name, args...)

	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// The write end shows up as FD 3 in the child.
	proc.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := proc.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := proc.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Only the child may hold the write end, otherwise EOF never arrives.
	w.Close()

	return &LandmarkWorker{
		ID:          id,
		Cmd:         proc,
		Stdin:       stdin,
		DataPipe:    r,
		ReadTimeout: timeout,
	}, nil
}

// Communicate sends one length-prefixed message and reads one back.
func (w *LandmarkWorker) Communicate(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}
	return w.readMessage()
}

func (w *LandmarkWorker) readMessage() ([]byte, error) {
	if w.ReadTimeout <= 0 {
		return w.readFrame()
	}

	type result struct {
		body []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		body, err := w.readFrame()
		done <- result{body, err}
	}()

	select {
	case res := <-done:
		return res.body, res.err
	case <-time.After(w.ReadTimeout):
		// Unblock the reader; the worker is unusable after this.
		w.DataPipe.Close()
		return nil, fmt.Errorf("worker %d: %w after %s", w.ID, ErrTimeout, w.ReadTimeout)
	}
}

func (w *LandmarkWorker) readFrame() ([]byte, error) {
	if w.header == nil {
		w.header = make([]byte, 4)
	}
	if _, err := io.ReadFull(w.DataPipe, w.header); err != nil {
		// A crashed child surfaces here; its stderr is in Cmd.Stderr.
		return nil, err
	}
	body := make([]byte, binary.BigEndian.Uint32(w.header))
	_, err := io.ReadFull(w.DataPipe, body)
	return body, err
}

// ProcessFrame sends a frame and decodes the landmarks the worker found.
//
// Request:  [u32 width][u32 height][width*height*4 RGBA bytes]
// Response: [u8 status] then either
//
//	[f32 convergence][u32 n][n x (f32 x, f32 y)]   status 0
//	[u32 len][len bytes message]                   status 1
func (w *LandmarkWorker) ProcessFrame(task types.FrameTask) (types.LandmarkResult, error) {
	if want := task.Width * task.Height * 4; task.Width <= 0 || task.Height <= 0 || len(task.Pix) != want {
		return types.LandmarkResult{}, fmt.Errorf("frame %d: %dx%d needs %d bytes, got %d",
			task.Index, task.Width, task.Height, want, len(task.Pix))
	}

	req := make([]byte, 8+len(task.Pix))
	binary.BigEndian.PutUint32(req[0:4], uint32(task.Width))
	binary.BigEndian.PutUint32(req[4:8], uint32(task.Height))
	copy(req[8:], task.Pix)

	resp, err := w.Communicate(req)
	if err != nil {
		return types.LandmarkResult{}, err
	}
	return decodeResponse(resp)
}

func decodeResponse(resp []byte) (types.LandmarkResult, error) {
	var res types.LandmarkResult
	if len(resp) == 0 {
		return res, fmt.Errorf("empty response from worker")
	}
	buf := bytes.NewReader(resp[1:])

	switch resp[0] {
	case statusOK:
	case statusError:
		var msgLen uint32
		if err := binary.Read(buf, binary.BigEndian, &msgLen); err != nil {
			return res, fmt.Errorf("failed to read error length: %w", err)
		}
		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(buf, msg); err != nil {
			return res, fmt.Errorf("failed to read error message: %w", err)
		}
		return res, fmt.Errorf("landmark worker error: %s", msg)
	default:
		return res, fmt.Errorf("unknown worker status %d", resp[0])
	}

	var conv float32
	if err := binary.Read(buf, binary.BigEndian, &conv); err != nil {
		return res, fmt.Errorf("failed to read convergence: %w", err)
	}
	var n uint32
	if err := binary.Read(buf, binary.BigEndian, &n); err != nil {
		return res, fmt.Errorf("failed to read landmark count: %w", err)
	}
	if n > maxLandmarks || int(n)*8 > buf.Len() {
		return res, fmt.Errorf("landmark count %d does not fit a %d byte payload", n, buf.Len())
	}

	res.Convergence = float64(conv)
	res.Points = make([][2]float64, n)
	var xy [2]float32
	for i := range res.Points {
		if err := binary.Read(buf, binary.BigEndian, &xy); err != nil {
			return res, fmt.Errorf("failed to read landmark %d: %w", i, err)
		}
		if math.IsNaN(float64(xy[0])) || math.IsNaN(float64(xy[1])) {
			return res, fmt.Errorf("landmark %d is NaN", i)
		}
		res.Points[i] = [2]float64{float64(xy[0]), float64(xy[1])}
	}
	return res, nil
}

// Close shuts the pipes and waits for the process to exit.
func (w *LandmarkWorker) Close() error {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd == nil {
		return nil
	}
	return w.Cmd.Wait()
}
