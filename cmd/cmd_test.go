package cmd

import (
	"bufio"
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/andresmejia3/facemorph/internal/assets"
	"github.com/andresmejia3/facemorph/internal/store"
	"github.com/andresmejia3/facemorph/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	// Error boxes are noise in test output.
	utils.ErrorOut = io.Discard
	os.Exit(m.Run())
}

func solidPNG(t *testing.T, path string, w, h int, c color.RGBA) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	require.NoError(t, writePNG(path, img))
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// fixture lays out a subject image, its landmarks, a one-triangle topology
// and a manifest with a green current average and a blue target average.
func fixture(t *testing.T) (Options, string) {
	t.Helper()
	dir := t.TempDir()
	solidPNG(t, filepath.Join(dir, "subject.png"), 40, 40, color.RGBA{R: 255, A: 255})
	solidPNG(t, filepath.Join(dir, "mw13-18.png"), 20, 20, color.RGBA{G: 255, A: 255})
	solidPNG(t, filepath.Join(dir, "mw55.png"), 20, 20, color.RGBA{B: 255, A: 255})
	write(t, filepath.Join(dir, "subject.json"), `[[4,4],[36,4],[4,36]]`)
	write(t, filepath.Join(dir, "avg.json"), `[[1,1],[18,1],[1,18]]`)
	write(t, filepath.Join(dir, "topology.json"), `[[0,1,2]]`)
	write(t, filepath.Join(dir, "averages.json"), `{"averages": {
		"mw13-18": {"image": "mw13-18.png", "points": "avg.json"},
		"mw55":    {"image": "mw55.png", "points": "avg.json"}
	}}`)

	opts := defaultOptions()
	opts.InputPath = filepath.Join(dir, "subject.png")
	opts.OutputPath = filepath.Join(dir, "aged.png")
	opts.TopologyPath = filepath.Join(dir, "topology.json")
	opts.ManifestPath = filepath.Join(dir, "averages.json")
	opts.Gender, opts.Ethnicity, opts.AgeGroup = "m", "w", "13-18"
	return opts, filepath.Join(dir, "subject.json")
}

func TestValidateSessionFlags(t *testing.T) {
	valid, _ := fixture(t)
	dir := t.TempDir()

	tests := []struct {
		name    string
		mutate  func(*Options)
		wantErr bool
	}{
		{"Valid options", func(o *Options) {}, false},
		{"Input file does not exist", func(o *Options) { o.InputPath = "nonexistent.png" }, true},
		{"Input is directory", func(o *Options) { o.InputPath = dir }, true},
		{"Missing topology", func(o *Options) { o.TopologyPath = filepath.Join(dir, "nope.json") }, true},
		{"Missing manifest", func(o *Options) { o.ManifestPath = filepath.Join(dir, "nope.json") }, true},
		{"No manifest falls back to database", func(o *Options) { o.ManifestPath = "" }, false},
		{"Invalid blend weight", func(o *Options) { o.BlendWeight = 5 }, true},
		{"Incomplete profile", func(o *Options) { o.Ethnicity = "" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := valid
			tt.mutate(&opts)
			if err := validateSessionFlags(&opts); (err != nil) != tt.wantErr {
				t.Errorf("validateSessionFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateMorphFlags(t *testing.T) {
	opts, pointsPath := fixture(t)
	opts.OutputPath = filepath.Join(t.TempDir(), "aged.mp4")

	tests := []struct {
		name      string
		tracker   string
		landmarks string
		output    string
		wantErr   bool
	}{
		{"Tracker command", "python3 -u tracker.py", "", "", false},
		{"Replay file", "", pointsPath, "", false},
		{"Neither", "", "", "", true},
		{"Both", "python3 tracker.py", pointsPath, "", true},
		{"Missing replay", "", "missing.json", "", true},
		{"Output overwrites input", "tracker", "", opts.InputPath, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := opts
			if tt.output != "" {
				o.OutputPath = tt.output
			}
			if err := validateMorphFlags(&o, tt.tracker, tt.landmarks); (err != nil) != tt.wantErr {
				t.Errorf("validateMorphFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRunStill(t *testing.T) {
	opts, pointsPath := fixture(t)
	require.NoError(t, runStill(context.Background(), opts, pointsPath))

	f, err := os.Open(opts.OutputPath)
	require.NoError(t, err)
	defer f.Close()
	out, err := png.Decode(f)
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 40, 40), out.Bounds())

	// Inside the mesh: red + 0.75 * (blue - green), saturated.
	r, g, b, a := out.At(10, 10).RGBA()
	assert.Equal(t, uint32(0xffff), r)
	assert.Equal(t, uint32(0), g)
	assert.InDelta(t, 0.75*0xffff, float64(b), 0.02*0xffff)
	assert.Equal(t, uint32(0xffff), a)

	// Outside the mesh the subject shows through untouched.
	assert.Equal(t, color.RGBAModel.Convert(color.RGBA{R: 255, A: 255}), color.RGBAModel.Convert(out.At(35, 35)))
}

func TestRunStillRejectsMismatchedLandmarks(t *testing.T) {
	opts, pointsPath := fixture(t)
	write(t, pointsPath, `[[4,4],[36,4]]`)
	err := runStill(context.Background(), opts, pointsPath)
	require.Error(t, err)
	_, statErr := os.Stat(opts.OutputPath)
	assert.True(t, os.IsNotExist(statErr), "no output should be written")
}

func TestRunStillUnknownProfile(t *testing.T) {
	opts, pointsPath := fixture(t)
	opts.TargetAgeGroup = "80"
	err := runStill(context.Background(), opts, pointsPath)
	assert.ErrorIs(t, err, assets.ErrNotFound)
}

func TestDatabaseURL(t *testing.T) {
	prev := dbURL
	defer func() { dbURL = prev }()

	dbURL = ""
	t.Setenv("POSTGRES_HOST", "")
	assert.Equal(t, "", databaseURL())

	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_USER", "u")
	t.Setenv("POSTGRES_PASSWORD", "p")
	t.Setenv("POSTGRES_DB", "faces")
	t.Setenv("POSTGRES_PORT", "")
	assert.Equal(t, "postgres://u:p@db:5432/faces", databaseURL())

	dbURL = "postgres://flag/x"
	assert.Equal(t, "postgres://flag/x", databaseURL())
}

func TestCatalogForWithoutDatabase(t *testing.T) {
	prev := dbURL
	defer func() { dbURL = prev }()
	dbURL = ""
	t.Setenv("POSTGRES_HOST", "")

	_, err := catalogFor(context.Background(), "")
	assert.ErrorIs(t, err, errNoDatabase)
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		got := confirm(bufio.NewReader(strings.NewReader(tt.input)), &out, "Drop?")
		assert.Equal(t, tt.want, got, "input %q", tt.input)
		assert.Equal(t, "Drop? [y/N]: ", out.String())
	}
}

func TestPrintAverages(t *testing.T) {
	var out bytes.Buffer
	printAverages(&out, nil)
	assert.Contains(t, out.String(), "No average faces registered.")

	out.Reset()
	printAverages(&out, []store.Average{{
		Key:       "mw55",
		ImagePath: "/avg/mw55.jpg",
		Landmarks: 71,
		AddedAt:   time.Date(2024, 1, 2, 3, 4, 0, 0, time.Local),
	}})
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "KEY")
	assert.Contains(t, lines[2], "mw55")
	assert.Contains(t, lines[2], "71")
	assert.Contains(t, lines[2], "2024-01-02 03:04")
}
