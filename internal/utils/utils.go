package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps a standard exec.Cmd with a buffer to catch Stderr (worker logs)
// This ensures we don't lose critical crash information if a worker dies.
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

// NewSafeCommand initializes a command and attaches a buffer to its Stderr pipe
// It prepares the command for execution but does not start it.
func NewSafeCommand(name string, args ...string) *SafeCommand {
	cmd := exec.Command(name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// ErrorOut is where ShowError writes. Tests swap it.
var ErrorOut io.Writer = os.Stderr

// ShowError prints a formatted error box and dumps worker logs if a SafeCommand is provided.
// The caller decides whether to exit.
func ShowError(context string, err error, s *SafeCommand) {
	fmt.Fprintf(ErrorOut, "\n---------------------------------------------------------\n")
	fmt.Fprintf(ErrorOut, "🚨 FACEMORPH ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(ErrorOut, "DETAILS: %v\n", err)
	}

	if s != nil && s.Stderr != nil && s.Stderr.Len() > 0 {
		fmt.Fprintf(ErrorOut, "\nWORKER LOGS:\n%s\n", s.Stderr.String())
	}
	fmt.Fprintf(ErrorOut, "---------------------------------------------------------\n")
}

// Die is ShowError followed by exit status 1.
func Die(context string, err error, s *SafeCommand) {
	ShowError(context, err, s)
	os.Exit(1)
}

// --- 2. Video Engine ---

type ffprobeOutput struct {
	Streams []struct {
		Width         int    `json:"width"`
		Height        int    `json:"height"`
		RFrameRate    string `json:"r_frame_rate"`
		NbFrames      string `json:"nb_frames"`
		NbReadPackets string `json:"nb_read_packets"`
	} `json:"streams"`
}

func probe(ctx context.Context, path string, extra ...string) (ffprobeOutput, error) {
	var res ffprobeOutput
	args := append([]string{"-v", "error", "-select_streams", "v:0"}, extra...)
	args = append(args, "-of", "json", path)

	cmd := exec.CommandContext(ctx, "ffprobe", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return res, fmt.Errorf("ffprobe failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	if err := json.Unmarshal(out, &res); err != nil {
		return res, fmt.Errorf("ffprobe JSON parse error: %w", err)
	}
	if len(res.Streams) == 0 {
		return res, fmt.Errorf("no video stream in %s", path)
	}
	return res, nil
}

// GetVideoFPS returns the stream frame rate as ffmpeg reports it, e.g. "30000/1001".
func GetVideoFPS(ctx context.Context, path string) (string, error) {
	res, err := probe(ctx, path, "-show_entries", "stream=r_frame_rate")
	if err != nil {
		return "", err
	}
	rate := res.Streams[0].RFrameRate
	if _, err := ParseFrameRate(rate); err != nil {
		return "", err
	}
	return rate, nil
}

// ParseFrameRate converts "num/den" or a plain number to frames per second.
func ParseFrameRate(rate string) (float64, error) {
	num, den, found := strings.Cut(rate, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid frame rate %q: %w", rate, err)
	}
	d := 1.0
	if found {
		if d, err = strconv.ParseFloat(den, 64); err != nil {
			return 0, fmt.Errorf("invalid frame rate %q: %w", rate, err)
		}
	}
	if n <= 0 || d <= 0 {
		return 0, fmt.Errorf("invalid frame rate %q", rate)
	}
	return n / d, nil
}

// GetVideoDimensions returns the width and height of the first video stream.
func GetVideoDimensions(ctx context.Context, path string) (int, int, error) {
	res, err := probe(ctx, path, "-show_entries", "stream=width,height")
	if err != nil {
		return 0, 0, err
	}
	w, h := res.Streams[0].Width, res.Streams[0].Height
	if w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("invalid video dimensions %dx%d", w, h)
	}
	return w, h, nil
}

// GetTotalFrames uses ffprobe to count frames for the progress bar
// It returns 0 if the count fails, allowing the caller to fallback to a spinner.
func GetTotalFrames(ctx context.Context, path string) int {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  ffprobe not found. Cannot provide a progress bar estimation because of this.\n")
		return 0
	}

	// Fast path: container metadata. Instant but may be "N/A" for VFR.
	if res, err := probe(ctx, path, "-show_entries", "stream=nb_frames"); err == nil {
		if count, err := strconv.Atoi(res.Streams[0].NbFrames); err == nil && count > 0 {
			return count
		}
	}

	fmt.Fprintf(os.Stderr, "⏳ Metadata missing. Counting frames (this may take a moment)...\n")
	res, err := probe(ctx, path, "-count_packets", "-show_entries", "stream=nb_read_packets")
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 0
	}
	count, err := strconv.Atoi(res.Streams[0].NbReadPackets)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ffprobe integer parse error: %v\n", err)
		return 0
	}
	return count
}

// NewFFmpegRawDecoder streams the input as packed RGBA frames on stdout.
func NewFFmpegRawDecoder(ctx context.Context, inputPath string) *exec.Cmd {
	// -loglevel error keeps the stderr buffer small.
	return exec.CommandContext(ctx, "ffmpeg", "-hide_banner", "-loglevel", "error",
		"-i", inputPath, "-f", "rawvideo", "-pix_fmt", "rgba", "-")
}

// NewFFmpegEncoder reads packed RGBA frames on stdin and writes an H.264 file.
func NewFFmpegEncoder(ctx context.Context, outputPath, fps string, width, height int) *exec.Cmd {
	return exec.CommandContext(ctx, "ffmpeg", "-hide_banner", "-loglevel", "error", "-y",
		"-f", "rawvideo", "-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-r", fps,
		"-i", "-",
		"-c:v", "libx264", "-pix_fmt", "yuv420p",
		outputPath)
}

// --- 3. Raw frame pipes ---

// RawFrameReader cuts a packed RGBA byte stream into frames.
type RawFrameReader struct {
	r      io.Reader
	width  int
	height int
	frame  *image.RGBA
}

// NewRawFrameReader reads width x height frames from r.
func NewRawFrameReader(r io.Reader, width, height int) *RawFrameReader {
	return &RawFrameReader{r: r, width: width, height: height}
}

// Next returns the next frame, or io.EOF at a clean end of stream. The frame
// is reused by the following call.
func (f *RawFrameReader) Next(ctx context.Context) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.frame == nil {
		// Zero-copy: the read buffer is the image.
		f.frame = &image.RGBA{
			Pix:    make([]byte, f.width*f.height*4),
			Stride: f.width * 4,
			Rect:   image.Rect(0, 0, f.width, f.height),
		}
	}
	if _, err := io.ReadFull(f.r, f.frame.Pix); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("truncated frame: %w", err)
		}
		return nil, err
	}
	return f.frame, nil
}

// RawFrameWriter writes frames as packed RGBA.
type RawFrameWriter struct {
	W io.Writer
}

// Present writes the frame's pixels row by row.
func (f RawFrameWriter) Present(frame *image.RGBA) error {
	b := frame.Bounds()
	row := b.Dx() * 4
	if frame.Stride == row {
		_, err := f.W.Write(frame.Pix[:row*b.Dy()])
		return err
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		off := frame.PixOffset(b.Min.X, y)
		if _, err := f.W.Write(frame.Pix[off : off+row]); err != nil {
			return err
		}
	}
	return nil
}
