// Package inference defines the contracts the pipeline consumes from the
// pre-trained models and validates their results at the boundary.
package inference

import (
	"context"
	"fmt"
	"image"
	"slices"

	"github.com/menta2k/camo-age-screener/pkg/types"
)

// AgeDetector finds faces in an image and predicts an age bucket for each.
// An empty result means no face was found and is not an error.
type AgeDetector interface {
	Detect(ctx context.Context, img image.Image) ([]types.FaceAgeDetection, error)
}

// CamoClassifier predicts whether an image shows camouflage clothing.
// It returns exactly one classification for every decodable image.
type CamoClassifier interface {
	Classify(ctx context.Context, img image.Image) (types.CamoClassification, error)
}

// AgeDetectorFunc adapts a function to the AgeDetector interface
type AgeDetectorFunc func(ctx context.Context, img image.Image) ([]types.FaceAgeDetection, error)

// Detect calls f(ctx, img)
func (f AgeDetectorFunc) Detect(ctx context.Context, img image.Image) ([]types.FaceAgeDetection, error) {
	return f(ctx, img)
}

// CamoClassifierFunc adapts a function to the CamoClassifier interface
type CamoClassifierFunc func(ctx context.Context, img image.Image) (types.CamoClassification, error)

// Classify calls f(ctx, img)
func (f CamoClassifierFunc) Classify(ctx context.Context, img image.Image) (types.CamoClassification, error) {
	return f(ctx, img)
}

// ValidationError reports a model result that breaks the contract
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ValidateDetections checks every detection returned by an AgeDetector.
// Boxes are written as returned; a zero-area box is not a violation.
func ValidateDetections(dets []types.FaceAgeDetection) error {
	for i, d := range dets {
		if !inUnitRange(d.AgeProbability) {
			return &ValidationError{
				Field:  fmt.Sprintf("detection[%d].age_probability", i),
				Reason: fmt.Sprintf("%v is outside [0,1]", d.AgeProbability),
			}
		}
		if d.AgeLabel == "" {
			return &ValidationError{Field: fmt.Sprintf("detection[%d].age_label", i), Reason: "empty"}
		}
	}
	return nil
}

// ValidateClassification checks a CamoClassifier result against the closed
// label set. A nil set selects types.CamoLabels.
func ValidateClassification(c types.CamoClassification, labels []string) error {
	if labels == nil {
		labels = types.CamoLabels
	}
	if !inUnitRange(c.Probability) {
		return &ValidationError{Field: "probability", Reason: fmt.Sprintf("%v is outside [0,1]", c.Probability)}
	}
	if !slices.Contains(labels, c.Label) {
		return &ValidationError{Field: "label", Reason: fmt.Sprintf("%q is not one of %v", c.Label, labels)}
	}
	return nil
}

func inUnitRange(p float64) bool {
	return p >= 0 && p <= 1
}
