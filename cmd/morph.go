package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/andresmejia3/facemorph/internal/driver"
	"github.com/andresmejia3/facemorph/internal/logging"
	"github.com/andresmejia3/facemorph/internal/tracker"
	"github.com/andresmejia3/facemorph/internal/utils"
	"github.com/andresmejia3/facemorph/internal/worker"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	morphOpts       = defaultOptions()
	morphTrackerCmd string
	morphLandmarks  string
)

var morphCmd = &cobra.Command{
	Use:   "morph",
	Short: "Age the face in a video, frame by frame",
	Long: `Streams a video through a landmark tracker and the warp-blend compositor.
While the tracker is still converging the tracked mesh is drawn over the frame;
once it settles every frame is aged.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runMorph(cmd.Context(), morphOpts)
	},
}

func init() {
	bindSessionFlags(morphCmd, &morphOpts)
	f := morphCmd.Flags()
	f.StringVarP(&morphOpts.OutputPath, "output", "o", "aged.mp4", "Path to output video")
	f.StringVar(&morphTrackerCmd, "tracker-cmd", "", "Landmark tracker command, e.g. \"python3 -u tracker.py\"")
	f.StringVar(&morphLandmarks, "landmarks", "", "Replay per-frame landmarks from a JSON recording instead of running a tracker")
	f.Float64VarP(&morphOpts.ConvergenceThreshold, "threshold", "t", morphOpts.ConvergenceThreshold, "Start compositing once tracker convergence drops below this")
	f.BoolVar(&morphOpts.Grid, "grid", morphOpts.Grid, "Draw the tracked mesh until the tracker converges")
	f.StringVar(&morphOpts.WorkerTimeout, "worker-timeout", morphOpts.WorkerTimeout, "Timeout for the tracker to answer a single frame")
	rootCmd.AddCommand(morphCmd)
}

func validateMorphFlags(opts *Options, trackerCmd, landmarks string) error {
	if err := validateSessionFlags(opts); err != nil {
		return err
	}
	trackerCmd = strings.TrimSpace(trackerCmd)
	if (trackerCmd == "") == (landmarks == "") {
		err := fmt.Errorf("exactly one of --tracker-cmd or --landmarks is required")
		utils.ShowError("Configuration Error", err, nil)
		return err
	}
	if landmarks != "" {
		if err := checkFile(landmarks, "landmarks"); err != nil {
			return err
		}
	}
	return checkDistinct(opts.InputPath, opts.OutputPath)
}

// openTracker starts the configured tracker. The worker is returned as well
// so its captured stderr can be shown if it crashes.
func openTracker(opts Options, trackerCmd, landmarks string) (tracker.Tracker, *worker.LandmarkWorker, error) {
	if landmarks != "" {
		r, err := tracker.OpenReplay(landmarks)
		if err != nil {
			return nil, nil, err
		}
		logger().Sugar().Infof("replaying %d recorded frames", r.Len())
		return r, nil, nil
	}
	timeout, err := opts.Timeout()
	if err != nil {
		return nil, nil, err
	}
	argv := strings.Fields(trackerCmd)
	if len(argv) == 0 {
		return nil, nil, fmt.Errorf("empty tracker command")
	}
	w, err := worker.NewLandmarkWorker(0, timeout, argv[0], argv[1:]...)
	if err != nil {
		return nil, nil, err
	}
	return tracker.NewWorker(w, logger()), w, nil
}

func runMorph(ctx context.Context, opts Options) error {
	// Child processes die with this context if we return early.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := validateMorphFlags(&opts, morphTrackerCmd, morphLandmarks); err != nil {
		return err
	}

	fps, err := utils.GetVideoFPS(ctx, opts.InputPath)
	if err != nil {
		utils.ShowError("Failed to determine video FPS", err, nil)
		return err
	}
	width, height, err := utils.GetVideoDimensions(ctx, opts.InputPath)
	if err != nil {
		utils.ShowError("Failed to determine video dimensions", err, nil)
		return err
	}
	totalFrames := utils.GetTotalFrames(ctx, opts.InputPath)

	log := logger()
	log.Info("starting morph", logging.Fields(map[string]any{
		"input":     opts.InputPath,
		"output":    opts.OutputPath,
		"width":     width,
		"height":    height,
		"fps":       fps,
		"weight":    opts.BlendWeight,
		"threshold": opts.ConvergenceThreshold,
	})...)

	s, err := newSession(ctx, opts, width, height)
	if err != nil {
		utils.ShowError("Failed to prepare compositor", err, nil)
		return err
	}
	defer s.Close()

	fmt.Fprintln(os.Stderr, "🚀 Starting landmark tracker...")
	tr, w, err := openTracker(opts, morphTrackerCmd, morphLandmarks)
	if err != nil {
		utils.ShowError("Tracker startup failed", err, nil)
		return err
	}
	defer tr.Close()

	decoder := utils.NewFFmpegRawDecoder(ctx, opts.InputPath)
	decoderOut, err := decoder.StdoutPipe()
	if err != nil {
		utils.ShowError("Failed to create decoder pipe", err, nil)
		return err
	}
	if err := decoder.Start(); err != nil {
		utils.ShowError("Failed to start decoder", err, nil)
		return err
	}

	encoder := utils.NewFFmpegEncoder(ctx, opts.OutputPath, fps, width, height)
	encoderIn, err := encoder.StdinPipe()
	if err != nil {
		utils.ShowError("Failed to create encoder pipe", err, nil)
		return err
	}
	if err := encoder.Start(); err != nil {
		utils.ShowError("Failed to start encoder", err, nil)
		return err
	}

	var barTotal int64 = int64(totalFrames)
	if barTotal <= 0 {
		barTotal = -1 // spinner
	}
	bar := progressbar.NewOptions64(barTotal,
		progressbar.OptionSetDescription("Tracking"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	// The bar description follows the driver's mode.
	var d *driver.Driver
	aging := false
	d = driver.New(s.rc, s.comp, tr, driver.Options{
		ConvergenceThreshold: opts.ConvergenceThreshold,
		Grid:                 opts.Grid,
		Topology:             s.topo,
		Logger:               log,
		OnFrame: func(driver.Stats) {
			if !aging && d.Mode() == driver.Compositing {
				aging = true
				bar.Describe("Aging")
			}
			bar.Add(1)
		},
	})

	stats, runErr := d.Run(ctx, utils.NewRawFrameReader(decoderOut, width, height), utils.RawFrameWriter{W: encoderIn})
	bar.Finish()
	encoderIn.Close()

	if runErr != nil {
		if w != nil {
			utils.ShowError("Morph failed", runErr, w.Cmd)
		} else {
			utils.ShowError("Morph failed", runErr, nil)
		}
		return runErr
	}
	if err := encoder.Wait(); err != nil {
		utils.ShowError("Encoder process failed", err, nil)
		return err
	}
	if err := decoder.Wait(); err != nil {
		utils.ShowError("Decoder process failed", err, nil)
		return err
	}

	fmt.Fprintf(os.Stderr, "\n✅ %d frames written to %s (%d aged, %d skipped, %d aborted)\n",
		stats.Frames, opts.OutputPath, stats.Composited, stats.Skipped, stats.Aborted)
	return nil
}
