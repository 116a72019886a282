package worker

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/andresmejia3/facemorph/internal/types"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser interfaces.
// This allows us to use in-memory buffers as if they were OS Pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

// frameResponse writes a length-prefixed response body into the data pipe.
func frameResponse(pipe io.Writer, body []byte) {
	binary.Write(pipe, binary.BigEndian, uint32(len(body)))
	pipe.Write(body)
}

func okPayload(conv float32, points [][2]float32) []byte {
	payload := new(bytes.Buffer)
	payload.WriteByte(statusOK)
	binary.Write(payload, binary.BigEndian, conv)
	binary.Write(payload, binary.BigEndian, uint32(len(points)))
	for _, p := range points {
		binary.Write(payload, binary.BigEndian, p)
	}
	return payload.Bytes()
}

func TestProcessFrame(t *testing.T) {
	// stdinMock simulates the pipe TO the worker, dataPipeMock the pipe FROM it.
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}

	frameResponse(dataPipeMock, okPayload(0.25, [][2]float32{{10.5, 20}, {30, 40.25}, {1, 2}}))

	w := &LandmarkWorker{
		ID:       1,
		Stdin:    stdinMock,
		DataPipe: dataPipeMock,
		// Cmd is nil because we aren't testing process management, just the protocol
	}

	task := types.FrameTask{Index: 7, Width: 2, Height: 1, Pix: []byte{1, 2, 3, 4, 5, 6, 7, 8}}
	res, err := w.ProcessFrame(task)
	if err != nil {
		t.Fatalf("ProcessFrame failed: %v", err)
	}

	// [len][w][h][pix]
	sent := stdinMock.Bytes()
	if len(sent) != 4+8+len(task.Pix) {
		t.Fatalf("Expected %d bytes sent, got %d", 4+8+len(task.Pix), len(sent))
	}
	if got := binary.BigEndian.Uint32(sent[0:4]); got != uint32(8+len(task.Pix)) {
		t.Errorf("Expected length header %d, got %d", 8+len(task.Pix), got)
	}
	if w, h := binary.BigEndian.Uint32(sent[4:8]), binary.BigEndian.Uint32(sent[8:12]); w != 2 || h != 1 {
		t.Errorf("Expected 2x1 header, got %dx%d", w, h)
	}
	if !bytes.Equal(sent[12:], task.Pix) {
		t.Errorf("Pixel payload corrupted: %v", sent[12:])
	}

	if len(res.Points) != 3 {
		t.Fatalf("Expected 3 landmarks, got %d", len(res.Points))
	}
	if math.Abs(res.Convergence-0.25) > 1e-9 {
		t.Errorf("Expected convergence 0.25, got %f", res.Convergence)
	}
	if res.Points[0] != [2]float64{10.5, 20} || res.Points[1] != [2]float64{30, 40.25} {
		t.Errorf("Unexpected landmarks: %v", res.Points)
	}
}

func TestProcessFrame_NoFace(t *testing.T) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}
	frameResponse(dataPipeMock, okPayload(3.5, nil))

	w := &LandmarkWorker{ID: 1, Stdin: stdinMock, DataPipe: dataPipeMock}
	res, err := w.ProcessFrame(types.FrameTask{Width: 1, Height: 1, Pix: make([]byte, 4)})
	if err != nil {
		t.Fatalf("ProcessFrame failed: %v", err)
	}
	if len(res.Points) != 0 {
		t.Errorf("Expected no landmarks, got %d", len(res.Points))
	}
}

func TestProcessFrame_Error(t *testing.T) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}

	// Protocol: [Status:1] [MsgLen] [Msg]
	payload := new(bytes.Buffer)
	payload.WriteByte(statusError)
	errMsg := "model file not found"
	binary.Write(payload, binary.BigEndian, uint32(len(errMsg)))
	payload.WriteString(errMsg)
	frameResponse(dataPipeMock, payload.Bytes())

	w := &LandmarkWorker{ID: 1, Stdin: stdinMock, DataPipe: dataPipeMock}
	_, err := w.ProcessFrame(types.FrameTask{Width: 1, Height: 1, Pix: make([]byte, 4)})

	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if err.Error() != "landmark worker error: "+errMsg {
		t.Errorf("Expected error message '%s', got '%v'", "landmark worker error: "+errMsg, err)
	}
}

func TestProcessFrame_BadPayloads(t *testing.T) {
	truncated := okPayload(0.1, [][2]float32{{1, 2}, {3, 4}})
	truncated = truncated[:len(truncated)-8]

	nan := okPayload(0.1, [][2]float32{{float32(math.NaN()), 1}})

	tests := []struct {
		name string
		body []byte
		want string
	}{
		{"empty", nil, "empty response"},
		{"unknown status", []byte{9}, "unknown worker status"},
		{"truncated points", truncated, "does not fit"},
		{"nan landmark", nan, "NaN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}
			frameResponse(dataPipeMock, tt.body)
			w := &LandmarkWorker{ID: 1, Stdin: &MockCloser{Buffer: new(bytes.Buffer)}, DataPipe: dataPipeMock}

			_, err := w.ProcessFrame(types.FrameTask{Width: 1, Height: 1, Pix: make([]byte, 4)})
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestProcessFrame_RejectsShortFrame(t *testing.T) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	w := &LandmarkWorker{ID: 1, Stdin: stdinMock, DataPipe: &MockCloser{Buffer: new(bytes.Buffer)}}

	if _, err := w.ProcessFrame(types.FrameTask{Width: 2, Height: 2, Pix: make([]byte, 4)}); err == nil {
		t.Fatal("Expected error for short pixel buffer")
	}
	if stdinMock.Len() != 0 {
		t.Errorf("Nothing should be sent for an invalid frame, got %d bytes", stdinMock.Len())
	}
}

// blockingPipe never yields data until closed.
type blockingPipe struct {
	closed chan struct{}
}

func (b *blockingPipe) Read([]byte) (int, error) {
	<-b.closed
	return 0, io.ErrClosedPipe
}

func (b *blockingPipe) Close() error {
	close(b.closed)
	return nil
}

func TestCommunicate_Timeout(t *testing.T) {
	w := &LandmarkWorker{
		ID:          3,
		Stdin:       &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe:    &blockingPipe{closed: make(chan struct{})},
		ReadTimeout: 20 * time.Millisecond,
	}

	_, err := w.Communicate([]byte("frame"))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Expected ErrTimeout, got %v", err)
	}
}
