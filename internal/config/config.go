package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/andresmejia3/facemorph/internal/assets"
	"github.com/andresmejia3/facemorph/internal/compositor"
	"github.com/andresmejia3/facemorph/internal/driver"
	"go.uber.org/zap"
)

// MaxBlendWeight bounds how far past the target average a morph may push.
const MaxBlendWeight = 2.0

// Options holds the tunables shared by the still and morph commands.
type Options struct {
	BlendWeight          float64
	ConvergenceThreshold float64
	Grid                 bool
	WorkerTimeout        string

	Gender         string
	AgeGroup       string
	Ethnicity      string
	TargetAgeGroup string
}

// Default returns the stock configuration.
func Default() Options {
	return Options{
		BlendWeight:          compositor.DefaultBlendWeight,
		ConvergenceThreshold: driver.DefaultConvergenceThreshold,
		Grid:                 true,
		WorkerTimeout:        "30s",
		TargetAgeGroup:       "55",
	}
}

// Validate checks every field and reports all problems at once. A blend
// weight above 1 is allowed but extrapolates past the target, so it is logged.
func (o Options) Validate(log *zap.Logger) error {
	var errs []error
	if math.IsNaN(o.BlendWeight) || o.BlendWeight < 0 || o.BlendWeight > MaxBlendWeight {
		errs = append(errs, fmt.Errorf("blend weight must be between 0 and %g, got %g", MaxBlendWeight, o.BlendWeight))
	} else if o.BlendWeight > 1 && log != nil {
		log.Warn("blend weight above 1 exaggerates the target features", zap.Float64("weight", o.BlendWeight))
	}
	if math.IsNaN(o.ConvergenceThreshold) || o.ConvergenceThreshold < 0 {
		errs = append(errs, fmt.Errorf("convergence threshold must be non-negative, got %g", o.ConvergenceThreshold))
	}
	if _, err := o.Timeout(); err != nil {
		errs = append(errs, err)
	}
	cur, target := o.Profiles()
	if err := cur.Validate(); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(o.TargetAgeGroup) == "" {
		errs = append(errs, errors.New("target age group is required"))
	} else if cur.Key() == target.Key() && cur.AgeGroup != "" {
		errs = append(errs, fmt.Errorf("target age group %q is the same as the current one", o.TargetAgeGroup))
	}
	return errors.Join(errs...)
}

// Timeout parses WorkerTimeout.
func (o Options) Timeout() (time.Duration, error) {
	d, err := time.ParseDuration(o.WorkerTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid worker timeout %q: %w", o.WorkerTimeout, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("worker timeout must be positive, got %s", d)
	}
	return d, nil
}

// Profiles returns the subject's profile and the one to age toward.
func (o Options) Profiles() (current, target assets.Profile) {
	current = assets.Profile{Gender: o.Gender, Ethnicity: o.Ethnicity, AgeGroup: o.AgeGroup}
	return current, current.WithAgeGroup(o.TargetAgeGroup)
}
