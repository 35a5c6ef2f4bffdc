// Package pipeline drives the per-image loop: decode, run both models, route
// the results into the ages and camo sinks.
//
// Processing is strictly sequential. Rows appear in both sinks in the order
// the image source enumerates paths, and every row of an image is written
// before the next image is decoded.
//
// Routing rules:
//
//   - ages.csv receives one row per detected face, zero rows when no face is found.
//   - camo.csv receives one row when the predicted camo label equals the
//     positive label. This is an identity check on the top label: a positive
//     prediction at probability 0.01 is written, a negative one at 0.99 is not.
//
// An image that fails to decode is skipped silently. An error from either
// model aborts the run unless inference error isolation is enabled.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"

	"go.uber.org/zap"

	"github.com/menta2k/camo-age-screener/pkg/imagesource"
	"github.com/menta2k/camo-age-screener/pkg/inference"
	"github.com/menta2k/camo-age-screener/pkg/progress"
	"github.com/menta2k/camo-age-screener/pkg/sink"
	"github.com/menta2k/camo-age-screener/pkg/types"
)

// ImageSource provides the ordered image paths and decodes them
type ImageSource interface {
	Paths() ([]string, error)
	Decode(path string) (image.Image, error)
}

// Stage names the step of the per-image loop an error came from
type Stage string

const (
	StageDetectAges   Stage = "detect_ages"
	StageClassifyCamo Stage = "classify_camo"
)

// InferenceError is a failure or contract violation of one of the models
type InferenceError struct {
	Path  string
	Stage Stage
	Err   error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Path, e.Err)
}

// Unwrap returns the underlying error
func (e *InferenceError) Unwrap() error {
	return e.Err
}

// Stats summarizes a run
type Stats struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
	AgeRows   int `json:"age_rows"`
	CamoRows  int `json:"camo_rows"`
}

// Pipeline is the batch orchestrator
type Pipeline struct {
	source   ImageSource
	ages     inference.AgeDetector
	camo     inference.CamoClassifier
	sinks    *sink.Sinks
	logger   *zap.Logger
	progress progress.Reporter

	positiveLabel string
	camoLabels    []string
	isolate       bool
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithLogger sets the logger; the default discards everything
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithProgress sets the progress reporter
func WithProgress(r progress.Reporter) Option {
	return func(p *Pipeline) {
		p.progress = r
	}
}

// WithPositiveLabel changes the camo label that routes an image into camo.csv
func WithPositiveLabel(label string) Option {
	return func(p *Pipeline) {
		p.positiveLabel = label
	}
}

// WithCamoLabels replaces the closed label set camo results are validated against
func WithCamoLabels(labels []string) Option {
	return func(p *Pipeline) {
		p.camoLabels = labels
	}
}

// WithInferenceErrorIsolation makes model failures skip the image instead of
// aborting the run. Off by default.
func WithInferenceErrorIsolation(isolate bool) Option {
	return func(p *Pipeline) {
		p.isolate = isolate
	}
}

// New creates a pipeline. The sinks stay owned by the caller, who closes them
// once Run returns.
func New(source ImageSource, ages inference.AgeDetector, camo inference.CamoClassifier, sinks *sink.Sinks, opts ...Option) *Pipeline {
	p := &Pipeline{
		source:        source,
		ages:          ages,
		camo:          camo,
		sinks:         sinks,
		logger:        zap.NewNop(),
		progress:      progress.Nop{},
		positiveLabel: types.CamoPositiveLabel,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes every image of the source in order. Cancelling ctx stops the
// run between two images; the image in flight is always finished first.
func (p *Pipeline) Run(ctx context.Context) (Stats, error) {
	paths, err := p.source.Paths()
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Total: len(paths)}
	p.progress.Start(len(paths))
	defer p.progress.Finish()

	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := p.processImage(ctx, path, &stats); err != nil {
			return stats, err
		}
		p.progress.Update(i)
	}
	return stats, nil
}

func (p *Pipeline) processImage(ctx context.Context, path string, stats *Stats) error {
	img, err := p.source.Decode(path)
	if err != nil {
		if errors.Is(err, imagesource.ErrUndecodable) {
			p.logger.Debug("skipping undecodable image", zap.String("path", path), zap.Error(err))
			stats.Skipped++
			return nil
		}
		return err
	}

	// Both models run before any row of this image is written, so a model
	// failure never leaves a partial image in the sinks.
	dets, camo, err := p.infer(ctx, path, img)
	if err != nil {
		if p.isolate {
			p.logger.Warn("skipping image after inference error", zap.String("path", path), zap.Error(err))
			stats.Failed++
			return nil
		}
		return err
	}

	for _, d := range dets {
		if err := p.sinks.Ages.Write(types.AgeRow(path, d)); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		stats.AgeRows++
	}

	if camo.Positive(p.positiveLabel) {
		if err := p.sinks.Camo.Write(types.CamoRow(path, camo)); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		stats.CamoRows++
	}

	stats.Processed++
	return nil
}

func (p *Pipeline) infer(ctx context.Context, path string, img image.Image) ([]types.FaceAgeDetection, types.CamoClassification, error) {
	dets, err := p.ages.Detect(ctx, img)
	if err == nil {
		err = inference.ValidateDetections(dets)
	}
	if err != nil {
		return nil, types.CamoClassification{}, &InferenceError{Path: path, Stage: StageDetectAges, Err: err}
	}

	camo, err := p.camo.Classify(ctx, img)
	if err == nil {
		err = inference.ValidateClassification(camo, p.camoLabels)
	}
	if err != nil {
		return nil, types.CamoClassification{}, &InferenceError{Path: path, Stage: StageClassifyCamo, Err: err}
	}

	return dets, camo, nil
}
