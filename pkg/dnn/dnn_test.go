package dnn

import (
	"image"
	"path/filepath"
	"strings"
	"testing"

	"github.com/menta2k/camo-age-screener/pkg/types"
)

func TestParseFaceDetections(t *testing.T) {
	bounds := image.Rect(0, 0, 200, 100)
	data := []float32{
		0, 1, 0.9, 0.125, 0.25, 0.5, 0.75, // kept
		0, 1, 0.5, 0.125, 0.25, 0.5, 0.75, // at threshold, dropped
		0, 1, 0.8, 0, 0, 0.0625, 0.75, // 12px wide, dropped
		0, 1, 0.7, -0.125, 0.5, 1.25, 1.5, // crosses the edges
	}

	faces := parseFaceDetections(data, bounds, 0.5, 20)
	if len(faces) != 2 {
		t.Fatalf("Expected 2 faces, got %d: %v", len(faces), faces)
	}
	if want := image.Rect(25, 25, 100, 75); faces[0].Loc != want || faces[0].ROI != want {
		t.Errorf("Expected %v, got %+v", want, faces[0])
	}

	// The recorded corners keep the model's values; only the region fed to
	// the age net is clipped.
	wantLoc := image.Rectangle{Min: image.Pt(-25, 50), Max: image.Pt(250, 150)}
	if faces[1].Loc != wantLoc {
		t.Errorf("Expected unclipped location %v, got %v", wantLoc, faces[1].Loc)
	}
	if want := image.Rect(0, 50, 200, 100); faces[1].ROI != want {
		t.Errorf("Expected clipped region %v, got %v", want, faces[1].ROI)
	}
}

func TestParseFaceDetectionsEdgeSizeCheck(t *testing.T) {
	bounds := image.Rect(0, 0, 200, 100)
	// 25px wide as reported, 13px wide once clipped at the right edge
	data := []float32{0, 1, 0.9, 0.9375, 0.25, 1.0625, 0.75}

	if faces := parseFaceDetections(data, bounds, 0.5, 20); len(faces) != 0 {
		t.Errorf("Expected the clipped face to fall under the minimum size, got %v", faces)
	}
	faces := parseFaceDetections(data, bounds, 0.5, 10)
	if len(faces) != 1 {
		t.Fatalf("Expected one face with a 10px minimum, got %v", faces)
	}
	if want := image.Rect(187, 25, 212, 75); faces[0].Loc != want {
		t.Errorf("Expected location %v, got %v", want, faces[0].Loc)
	}
}

func TestParseFaceDetectionsTruncatedTensor(t *testing.T) {
	data := []float32{0, 1, 0.9, 0.1, 0.1}
	if boxes := parseFaceDetections(data, image.Rect(0, 0, 100, 100), 0.5, 20); len(boxes) != 0 {
		t.Errorf("Expected no boxes from a partial row, got %v", boxes)
	}
}

func TestArgmax(t *testing.T) {
	idx, score := argmax([]float32{0.1, 0.7, 0.2})
	if idx != 1 || score != 0.7 {
		t.Errorf("argmax = (%d, %v), want (1, 0.7)", idx, score)
	}

	idx, _ = argmax([]float32{0.5, 0.5})
	if idx != 0 {
		t.Errorf("ties should keep the first index, got %d", idx)
	}

	if idx, _ := argmax(nil); idx != -1 {
		t.Errorf("argmax(nil) = %d, want -1", idx)
	}
}

func TestTopLabel(t *testing.T) {
	c, err := topLabel([]float32{0.25, 0.75}, types.CamoLabels)
	if err != nil {
		t.Fatalf("topLabel failed: %v", err)
	}
	if c.Label != types.CamoNegativeLabel || c.Probability != 0.75 {
		t.Errorf("Unexpected classification: %+v", c)
	}

	if _, err := topLabel([]float32{0.1, 0.2, 0.7}, types.CamoLabels); err == nil {
		t.Error("Expected error for class count mismatch")
	}
	if _, err := topLabel(nil, nil); err == nil {
		t.Error("Expected error for empty output")
	}
}

func TestMissingModelFiles(t *testing.T) {
	dir := t.TempDir()

	cfg := DefaultFaceAgeConfig()
	cfg.FaceWeights = filepath.Join(dir, "missing.caffemodel")
	if _, err := NewAgeDetector(cfg); err == nil || !strings.Contains(err.Error(), "model file not found") {
		t.Errorf("Expected missing model error, got %v", err)
	}

	camo := DefaultCamoConfig()
	camo.Model = filepath.Join(dir, "missing.onnx")
	if _, err := NewCamoClassifier(camo); err == nil || !strings.Contains(err.Error(), "model file not found") {
		t.Errorf("Expected missing model error, got %v", err)
	}

	camo.InputSize = 0
	if _, err := NewCamoClassifier(camo); err == nil {
		t.Error("Expected error for zero input size")
	}
}

func TestDefaultConfigs(t *testing.T) {
	cfg := DefaultFaceAgeConfig()
	if cfg.FaceConfidence != 0.5 || cfg.MinFaceSize != 20 {
		t.Errorf("Unexpected face defaults: %+v", cfg)
	}

	camo := DefaultCamoConfig()
	if camo.InputSize != 224 || len(camo.Labels) != 2 {
		t.Errorf("Unexpected camo defaults: %+v", camo)
	}
}
