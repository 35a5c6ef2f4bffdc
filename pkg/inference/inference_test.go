package inference

import (
	"context"
	"errors"
	"image"
	"math"
	"testing"

	"github.com/menta2k/camo-age-screener/pkg/types"
)

func TestValidateDetections(t *testing.T) {
	valid := types.FaceAgeDetection{Box: image.Rect(0, 0, 10, 10), AgeLabel: "(0-2)", AgeProbability: 0.5}

	tests := []struct {
		name    string
		dets    []types.FaceAgeDetection
		wantErr bool
	}{
		{"no detections", nil, false},
		{"valid", []types.FaceAgeDetection{valid}, false},
		{"probability bounds inclusive", []types.FaceAgeDetection{
			{Box: valid.Box, AgeLabel: "(0-2)", AgeProbability: 0},
			{Box: valid.Box, AgeLabel: "(0-2)", AgeProbability: 1},
		}, false},
		{"probability above one", []types.FaceAgeDetection{{Box: valid.Box, AgeLabel: "(0-2)", AgeProbability: 1.2}}, true},
		{"negative probability", []types.FaceAgeDetection{{Box: valid.Box, AgeLabel: "(0-2)", AgeProbability: -0.1}}, true},
		{"nan probability", []types.FaceAgeDetection{{Box: valid.Box, AgeLabel: "(0-2)", AgeProbability: math.NaN()}}, true},
		{"empty label", []types.FaceAgeDetection{{Box: valid.Box, AgeProbability: 0.3}}, true},
		{"zero-area box", []types.FaceAgeDetection{{Box: image.Rect(5, 5, 5, 9), AgeLabel: "(0-2)", AgeProbability: 0.3}}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateDetections(tc.dets)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ValidateDetections() error = %v, wantErr %v", err, tc.wantErr)
			}
			if err != nil {
				var verr *ValidationError
				if !errors.As(err, &verr) {
					t.Errorf("expected *ValidationError, got %T", err)
				}
			}
		})
	}
}

func TestValidateClassification(t *testing.T) {
	tests := []struct {
		name    string
		c       types.CamoClassification
		wantErr bool
	}{
		{"positive", types.CamoClassification{Label: types.CamoPositiveLabel, Probability: 0.83}, false},
		{"negative", types.CamoClassification{Label: types.CamoNegativeLabel, Probability: 0.99}, false},
		{"unknown label", types.CamoClassification{Label: "camo", Probability: 0.5}, true},
		{"probability out of range", types.CamoClassification{Label: types.CamoPositiveLabel, Probability: 1.5}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := ValidateClassification(tc.c, nil); (err != nil) != tc.wantErr {
				t.Errorf("ValidateClassification() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestValidateClassificationCustomLabels(t *testing.T) {
	labels := []string{"camo", "civilian"}
	if err := ValidateClassification(types.CamoClassification{Label: "camo", Probability: 0.4}, labels); err != nil {
		t.Errorf("custom label rejected: %v", err)
	}
	if err := ValidateClassification(types.CamoClassification{Label: types.CamoPositiveLabel, Probability: 0.4}, labels); err == nil {
		t.Error("default label should be rejected by a custom label set")
	}
}

func TestFuncAdapters(t *testing.T) {
	var ages AgeDetector = AgeDetectorFunc(func(ctx context.Context, img image.Image) ([]types.FaceAgeDetection, error) {
		return []types.FaceAgeDetection{{AgeLabel: "(4-6)"}}, nil
	})
	var camo CamoClassifier = CamoClassifierFunc(func(ctx context.Context, img image.Image) (types.CamoClassification, error) {
		return types.CamoClassification{Label: types.CamoNegativeLabel}, nil
	})

	dets, err := ages.Detect(context.Background(), nil)
	if err != nil || len(dets) != 1 || dets[0].AgeLabel != "(4-6)" {
		t.Errorf("AgeDetectorFunc returned %v, %v", dets, err)
	}

	c, err := camo.Classify(context.Background(), nil)
	if err != nil || c.Label != types.CamoNegativeLabel {
		t.Errorf("CamoClassifierFunc returned %v, %v", c, err)
	}
}
