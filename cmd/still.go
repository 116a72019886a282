package cmd

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"github.com/andresmejia3/facemorph/internal/assets"
	"github.com/andresmejia3/facemorph/internal/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/image/draw"
)

var (
	stillOpts   = defaultOptions()
	stillPoints string
)

var stillCmd = &cobra.Command{
	Use:   "still",
	Short: "Age the face in a single image",
	Long:  "Warps the current and target average faces onto the landmarks of one image and writes the blended result as PNG.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runStill(cmd.Context(), stillOpts, stillPoints)
	},
}

func init() {
	bindSessionFlags(stillCmd, &stillOpts)
	stillCmd.Flags().StringVarP(&stillPoints, "points", "p", "", "JSON landmark list [[x,y],...] for the input image")
	stillCmd.Flags().StringVarP(&stillOpts.OutputPath, "output", "o", "aged.png", "Path to output PNG")
	stillCmd.MarkFlagRequired("points")
	rootCmd.AddCommand(stillCmd)
}

func runStill(ctx context.Context, opts Options, pointsPath string) error {
	if err := validateSessionFlags(&opts); err != nil {
		return err
	}
	if err := checkFile(pointsPath, "points"); err != nil {
		return err
	}
	if err := checkDistinct(opts.InputPath, opts.OutputPath); err != nil {
		return err
	}

	img, err := assets.LoadImage(opts.InputPath)
	if err != nil {
		utils.ShowError("Failed to read input image", err, nil)
		return err
	}
	points, err := assets.LoadPoints(pointsPath)
	if err != nil {
		utils.ShowError("Failed to read landmarks", err, nil)
		return err
	}

	// The surface is addressed in the image's own pixel space.
	b := img.Bounds()
	frame := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(frame, frame.Bounds(), img, b.Min, draw.Src)

	s, err := newSession(ctx, opts, b.Dx(), b.Dy())
	if err != nil {
		utils.ShowError("Failed to prepare compositor", err, nil)
		return err
	}
	defer s.Close()

	if err := s.comp.Load(frame, points); err != nil {
		utils.ShowError("Landmarks do not fit the face model", err, nil)
		return err
	}
	if err := s.comp.Draw(points); err != nil {
		utils.ShowError("Failed to composite face", err, nil)
		return err
	}
	surface := s.comp.Surface()
	draw.Draw(frame, frame.Bounds(), surface, surface.Bounds().Min, draw.Over)

	if err := writePNG(opts.OutputPath, frame); err != nil {
		utils.ShowError("Failed to write output", err, nil)
		return err
	}
	logger().Info("still written",
		zap.String("output", opts.OutputPath),
		zap.Int("landmarks", len(points)),
		zap.Float64("weight", opts.BlendWeight))
	fmt.Fprintf(os.Stderr, "✅ Aged face written to %s\n", opts.OutputPath)
	return nil
}

// checkDistinct prevents overwriting the input while it is still being read.
func checkDistinct(in, out string) error {
	inAbs, _ := filepath.Abs(in)
	outAbs, _ := filepath.Abs(out)
	if inAbs == outAbs {
		err := fmt.Errorf("input and output paths must be different to prevent file corruption")
		utils.ShowError("Configuration Error", err, nil)
		return err
	}
	return nil
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
