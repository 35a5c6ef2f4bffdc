package dnn

import (
	"context"
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/menta2k/camo-age-screener/pkg/types"
)

// CamoConfig describes the camouflage classifier network
type CamoConfig struct {
	Model     string   // ONNX file or frozen TensorFlow graph
	Config    string   // Optional text graph for TensorFlow models
	InputSize int      // Square input side (default 224)
	Mean      [3]float64
	Scale     float64
	SwapRB    bool
	Labels    []string // Output order of the network's classes
}

// DefaultCamoConfig returns the ImageNet-style preprocessing the classifier
// was trained with
func DefaultCamoConfig() CamoConfig {
	return CamoConfig{
		Model:     "models/camo_detector.onnx",
		InputSize: 224,
		Mean:      [3]float64{103.939, 116.779, 123.68},
		Scale:     1.0,
		Labels:    types.CamoLabels,
	}
}

// CamoClassifier runs the two-class camouflage network on whole images
type CamoClassifier struct {
	net    gocv.Net
	config CamoConfig
}

// NewCamoClassifier loads the network
func NewCamoClassifier(cfg CamoConfig) (*CamoClassifier, error) {
	if cfg.InputSize <= 0 {
		return nil, fmt.Errorf("invalid input size: %d", cfg.InputSize)
	}
	if len(cfg.Labels) == 0 {
		cfg.Labels = types.CamoLabels
	}
	if cfg.Scale == 0 {
		cfg.Scale = 1.0
	}

	net, err := readNet(cfg.Model, cfg.Config)
	if err != nil {
		return nil, fmt.Errorf("camo classifier: %w", err)
	}
	return &CamoClassifier{net: net, config: cfg}, nil
}

// Classify returns the top label and its probability
func (c *CamoClassifier) Classify(_ context.Context, img image.Image) (types.CamoClassification, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return types.CamoClassification{}, fmt.Errorf("convert image: %w", err)
	}
	defer mat.Close()

	size := image.Pt(c.config.InputSize, c.config.InputSize)
	mean := gocv.NewScalar(c.config.Mean[0], c.config.Mean[1], c.config.Mean[2], 0)
	blob := gocv.BlobFromImage(mat, c.config.Scale, size, mean, c.config.SwapRB, false)
	defer blob.Close()

	c.net.SetInput(blob, "")
	output := c.net.Forward("")
	defer output.Close()

	data, err := output.DataPtrFloat32()
	if err != nil {
		return types.CamoClassification{}, fmt.Errorf("read camo predictions: %w", err)
	}

	return topLabel(data, c.config.Labels)
}

// Close releases the network
func (c *CamoClassifier) Close() error {
	return c.net.Close()
}

func topLabel(scores []float32, labels []string) (types.CamoClassification, error) {
	if len(scores) == 0 || len(scores) != len(labels) {
		return types.CamoClassification{}, fmt.Errorf("camo model returned %d classes, expected %d", len(scores), len(labels))
	}
	idx, prob := argmax(scores)
	return types.CamoClassification{Label: labels[idx], Probability: types.Float32(prob)}, nil
}
