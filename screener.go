// Package screener runs a directory of images through face-based age
// estimation and camouflage-clothing classification and records the results
// in two CSV files.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"log"
//
//		screener "github.com/menta2k/camo-age-screener"
//		"github.com/menta2k/camo-age-screener/pkg/dnn"
//	)
//
//	func main() {
//		ages, err := dnn.NewAgeDetector(dnn.DefaultFaceAgeConfig())
//		if err != nil {
//			log.Fatal(err)
//		}
//		defer ages.Close()
//
//		camo, err := dnn.NewCamoClassifier(dnn.DefaultCamoConfig())
//		if err != nil {
//			log.Fatal(err)
//		}
//		defer camo.Close()
//
//		stats, err := screener.ProcessDataset(context.Background(), "dataset", "output",
//			ages, camo, screener.DefaultOptions())
//		if err != nil {
//			log.Fatal(err)
//		}
//		log.Printf("%d images, %d faces, %d camouflage", stats.Total, stats.AgeRows, stats.CamoRows)
//	}
//
// The output directory receives two files without header:
//
//   - ages.csv: path,x1,y1,x2,y2,ageLabel,ageProbability, one row per detected face
//   - camo.csv: path,probability, one row per image classified as camouflage_clothes
//
// Both files are flushed after every row by default, so an interrupted run
// leaves every completed image on disk.
//
// The package consists of these components:
//
//  1. Image source (pkg/imagesource): sorted enumeration and decoding
//  2. Inference contracts (pkg/inference) with OpenCV (pkg/dnn) and
//     vision-language model (pkg/vlm) implementations
//  3. Record sinks (pkg/sink): the two CSV streams
//  4. Pipeline (pkg/pipeline): the per-image loop routing results into the sinks
package screener

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/menta2k/camo-age-screener/internal/utils"
	"github.com/menta2k/camo-age-screener/pkg/imagesource"
	"github.com/menta2k/camo-age-screener/pkg/inference"
	"github.com/menta2k/camo-age-screener/pkg/pipeline"
	"github.com/menta2k/camo-age-screener/pkg/progress"
	"github.com/menta2k/camo-age-screener/pkg/sink"
	"github.com/menta2k/camo-age-screener/pkg/types"
)

// Version of the screener library
const Version = "1.0.0"

// ErrUnknownLabel is returned for a positive label no classifier can emit
var ErrUnknownLabel = errors.New("unknown camo label")

// Options configures a batch run
type Options struct {
	Extensions             []string // Image extensions to enumerate; nil selects the defaults
	FlushEvery             int      // Rows buffered per sink before a flush
	Sync                   bool     // fsync after every flush
	PositiveLabel          string   // Camo label routed into camo.csv
	IsolateInferenceErrors bool     // Skip images whose inference fails instead of aborting
	Logger                 *zap.Logger
	Progress               progress.Reporter
}

// DefaultOptions returns per-row flushing with fatal inference errors
func DefaultOptions() Options {
	return Options{
		FlushEvery:    1,
		PositiveLabel: types.CamoPositiveLabel,
	}
}

// Batch is an open run: the dataset has been validated and both sinks exist
type Batch struct {
	source *imagesource.Source
	sinks  *sink.Sinks
	opts   Options
}

// Open validates the dataset root, creates the output directory and opens
// both sinks. Models can be loaded after Open succeeds, so a bad dataset or
// output directory fails before any expensive model load.
func Open(datasetDir, outputDir string, opts Options) (*Batch, error) {
	if opts.PositiveLabel != "" && !slices.Contains(types.CamoLabels, opts.PositiveLabel) {
		return nil, fmt.Errorf("%w: %q is not one of %v", ErrUnknownLabel, opts.PositiveLabel, types.CamoLabels)
	}
	if err := imagesource.CheckRoot(datasetDir); err != nil {
		return nil, err
	}
	if err := utils.EnsureDir(outputDir); err != nil {
		return nil, fmt.Errorf("output directory %s: %w", outputDir, err)
	}

	sinks, err := sink.Open(outputDir, sink.WithFlushEvery(opts.FlushEvery), sink.WithSync(opts.Sync))
	if err != nil {
		return nil, err
	}

	source := imagesource.New(datasetDir, opts.Extensions)
	if opts.Logger != nil {
		logger := opts.Logger
		source.OnSkip(func(path string, err error) {
			logger.Debug("skipping unreadable dataset entry", zap.String("path", path), zap.Error(err))
		})
	}

	return &Batch{
		source: source,
		sinks:  sinks,
		opts:   opts,
	}, nil
}

// Run processes every image of the dataset with the given models
func (b *Batch) Run(ctx context.Context, ages inference.AgeDetector, camo inference.CamoClassifier) (pipeline.Stats, error) {
	pipelineOpts := []pipeline.Option{
		pipeline.WithInferenceErrorIsolation(b.opts.IsolateInferenceErrors),
	}
	if b.opts.Logger != nil {
		pipelineOpts = append(pipelineOpts, pipeline.WithLogger(b.opts.Logger))
	}
	if b.opts.Progress != nil {
		pipelineOpts = append(pipelineOpts, pipeline.WithProgress(b.opts.Progress))
	}
	if b.opts.PositiveLabel != "" {
		pipelineOpts = append(pipelineOpts, pipeline.WithPositiveLabel(b.opts.PositiveLabel))
	}

	return pipeline.New(b.source, ages, camo, b.sinks, pipelineOpts...).Run(ctx)
}

// Close flushes and closes both sinks. It is safe to call more than once.
func (b *Batch) Close() error {
	return b.sinks.Close()
}

// ProcessDataset opens a batch, runs it and closes the sinks. Rows written
// before a failure stay on disk.
func ProcessDataset(ctx context.Context, datasetDir, outputDir string, ages inference.AgeDetector, camo inference.CamoClassifier, opts Options) (stats pipeline.Stats, err error) {
	batch, err := Open(datasetDir, outputDir, opts)
	if err != nil {
		return pipeline.Stats{}, err
	}
	defer func() {
		err = errors.Join(err, batch.Close())
	}()

	return batch.Run(ctx, ages, camo)
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
