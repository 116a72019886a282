package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/andresmejia3/facemorph/internal/assets"
	"github.com/andresmejia3/facemorph/internal/compositor"
	"github.com/andresmejia3/facemorph/internal/config"
	"github.com/andresmejia3/facemorph/internal/geom"
	"github.com/andresmejia3/facemorph/internal/render"
	"github.com/andresmejia3/facemorph/internal/utils"
	"github.com/spf13/cobra"
)

// Options holds the configuration shared by the still and morph commands.
type Options struct {
	config.Options
	InputPath    string
	OutputPath   string
	TopologyPath string
	ManifestPath string
}

func defaultOptions() Options {
	return Options{Options: config.Default()}
}

// bindSessionFlags registers the flags every compositing command needs.
func bindSessionFlags(cmd *cobra.Command, opts *Options) {
	f := cmd.Flags()
	f.StringVarP(&opts.InputPath, "input", "i", "", "Path to the input image or video")
	f.StringVarP(&opts.TopologyPath, "topology", "T", "", "JSON triangle list [[i,j,k],...] over the landmark indices")
	f.StringVarP(&opts.ManifestPath, "manifest", "m", "", "JSON manifest of average faces (default: the --db catalog)")
	f.Float64VarP(&opts.BlendWeight, "weight", "w", opts.BlendWeight, "Blend weight applied to the target-minus-current difference (0-2)")
	f.StringVar(&opts.Gender, "gender", "", "Subject gender bucket (m, f)")
	f.StringVar(&opts.Ethnicity, "ethnicity", "", "Subject ethnicity bucket (e.g. w)")
	f.StringVar(&opts.AgeGroup, "age-group", "", "Subject age group (e.g. 13-18)")
	f.StringVar(&opts.TargetAgeGroup, "target", opts.TargetAgeGroup, "Age group to morph toward")

	cmd.MarkFlagRequired("input")
	cmd.MarkFlagRequired("topology")
}

// validateSessionFlags ensures all arguments are usable before any asset is read.
func validateSessionFlags(opts *Options) error {
	if err := checkFile(opts.InputPath, "input"); err != nil {
		return err
	}
	if err := checkFile(opts.TopologyPath, "topology"); err != nil {
		return err
	}
	if opts.ManifestPath != "" {
		if err := checkFile(opts.ManifestPath, "manifest"); err != nil {
			return err
		}
	}
	if err := opts.Options.Validate(logger()); err != nil {
		utils.ShowError("Configuration Error", err, nil)
		return err
	}
	return nil
}

func checkFile(path, what string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			utils.ShowError(fmt.Sprintf("The %s file does not exist", what), err, nil)
			return err
		}
		utils.ShowError(fmt.Sprintf("Unable to access %s file", what), err, nil)
		return err
	}
	if info.IsDir() {
		err := fmt.Errorf("%s is a directory", path)
		utils.ShowError(fmt.Sprintf("The %s path is a directory, expected a file", what), err, nil)
		return err
	}
	return nil
}

// catalogFor prefers an explicit manifest over the database.
func catalogFor(ctx context.Context, manifest string) (assets.Catalog, error) {
	if manifest != "" {
		m, err := assets.LoadManifest(manifest)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
	db, err := openDB(ctx)
	if errors.Is(err, errNoDatabase) {
		return nil, fmt.Errorf("either --manifest or a catalog database is required: %w", err)
	}
	if err != nil {
		return nil, err
	}
	return db, nil
}

// session is a compositor that has both averages installed.
type session struct {
	rc   *render.Context
	comp *compositor.Compositor
	topo geom.Topology
}

func newSession(ctx context.Context, opts Options, width, height int) (*session, error) {
	cat, err := catalogFor(ctx, opts.ManifestPath)
	if err != nil {
		return nil, err
	}
	current, target := opts.Profiles()
	future := assets.Load(ctx, cat, current, target)

	topo, err := assets.LoadTopology(opts.TopologyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load topology: %w", err)
	}

	fmt.Fprintf(os.Stderr, "📦 Loading average faces %s -> %s...\n", current.Key(), target.Key())
	bundle, err := future.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load average faces: %w", err)
	}

	log := logger()
	rc, err := render.NewContext(width, height, render.WithLogger(log))
	if err != nil {
		return nil, err
	}
	comp, err := compositor.New(rc, topo,
		compositor.WithBlendWeight(opts.BlendWeight),
		compositor.WithLogger(log))
	if err != nil {
		return nil, err
	}
	if err := comp.SetAverage(compositor.Current, bundle.Current); err != nil {
		return nil, err
	}
	if err := comp.SetAverage(compositor.Target, bundle.Target); err != nil {
		comp.Close()
		return nil, err
	}
	return &session{rc: rc, comp: comp, topo: topo}, nil
}

func (s *session) Close() {
	s.comp.Close()
}
