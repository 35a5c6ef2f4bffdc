// Package dnn runs the pre-trained OpenCV models: an SSD face detector with a
// Caffe age classifier, and a camouflage classifier exported to ONNX or a
// frozen TensorFlow graph.
package dnn

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"

	"gocv.io/x/gocv"

	"github.com/menta2k/camo-age-screener/pkg/types"
)

// FaceAgeConfig holds the model files and thresholds of the face/age detector
type FaceAgeConfig struct {
	FacePrototxt   string
	FaceWeights    string
	AgePrototxt    string
	AgeWeights     string
	FaceConfidence float64 // Minimum face detection confidence (default 0.5)
	MinFaceSize    int     // Faces smaller than this in either dimension are ignored (default 20)
}

// DefaultFaceAgeConfig returns the standard OpenCV face and age model layout
func DefaultFaceAgeConfig() FaceAgeConfig {
	return FaceAgeConfig{
		FacePrototxt:   "models/face_detector/deploy.prototxt",
		FaceWeights:    "models/face_detector/res10_300x300_ssd_iter_140000.caffemodel",
		AgePrototxt:    "models/age_detector/age_deploy.prototxt",
		AgeWeights:     "models/age_detector/age_net.caffemodel",
		FaceConfidence: 0.5,
		MinFaceSize:    20,
	}
}

var (
	faceInputSize = image.Pt(300, 300)
	faceMean      = gocv.NewScalar(104.0, 177.0, 123.0, 0)
	ageInputSize  = image.Pt(227, 227)
	ageMean       = gocv.NewScalar(78.4263377603, 87.7689143744, 114.895847746, 0)
)

// AgeDetector finds faces with the SSD face detector and predicts an age
// bucket for each face region
type AgeDetector struct {
	faceNet gocv.Net
	ageNet  gocv.Net
	config  FaceAgeConfig
}

// NewAgeDetector loads both networks
func NewAgeDetector(cfg FaceAgeConfig) (*AgeDetector, error) {
	faceNet, err := readNet(cfg.FaceWeights, cfg.FacePrototxt)
	if err != nil {
		return nil, fmt.Errorf("face detector: %w", err)
	}
	ageNet, err := readNet(cfg.AgeWeights, cfg.AgePrototxt)
	if err != nil {
		faceNet.Close()
		return nil, fmt.Errorf("age detector: %w", err)
	}

	return &AgeDetector{faceNet: faceNet, ageNet: ageNet, config: cfg}, nil
}

// Detect returns one detection per face. ctx is unused; inference is synchronous.
func (d *AgeDetector) Detect(_ context.Context, img image.Image) ([]types.FaceAgeDetection, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("convert image: %w", err)
	}
	defer mat.Close()

	if mat.Empty() {
		return nil, fmt.Errorf("empty image")
	}

	blob := gocv.BlobFromImage(mat, 1.0, faceInputSize, faceMean, false, false)
	defer blob.Close()

	d.faceNet.SetInput(blob, "")
	output := d.faceNet.Forward("")
	defer output.Close()

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read face detections: %w", err)
	}

	bounds := image.Rect(0, 0, mat.Cols(), mat.Rows())
	faces := parseFaceDetections(data, bounds, d.config.FaceConfidence, d.config.MinFaceSize)

	detections := make([]types.FaceAgeDetection, 0, len(faces))
	for _, f := range faces {
		label, prob, err := d.predictAge(mat, f.ROI)
		if err != nil {
			return nil, err
		}
		detections = append(detections, types.FaceAgeDetection{
			Box:            f.Loc,
			AgeLabel:       label,
			AgeProbability: prob,
		})
	}
	return detections, nil
}

func (d *AgeDetector) predictAge(mat gocv.Mat, box image.Rectangle) (string, float64, error) {
	face := mat.Region(box)
	defer face.Close()

	blob := gocv.BlobFromImage(face, 1.0, ageInputSize, ageMean, false, false)
	defer blob.Close()

	d.ageNet.SetInput(blob, "")
	preds := d.ageNet.Forward("")
	defer preds.Close()

	data, err := preds.DataPtrFloat32()
	if err != nil {
		return "", 0, fmt.Errorf("read age predictions: %w", err)
	}

	idx, prob := argmax(data)
	if idx < 0 || idx >= len(types.AgeBuckets) {
		return "", 0, fmt.Errorf("age model returned %d classes, expected %d", len(data), len(types.AgeBuckets))
	}
	return types.AgeBuckets[idx], types.Float32(prob), nil
}

// Close releases both networks
func (d *AgeDetector) Close() error {
	return errors.Join(d.faceNet.Close(), d.ageNet.Close())
}

// faceBox is one detected face. Loc holds the scaled corners as the model
// reported them and is what gets recorded; ROI is Loc clipped to the image
// and is what the age net sees.
type faceBox struct {
	Loc image.Rectangle
	ROI image.Rectangle
}

// parseFaceDetections reads the SSD output tensor [1,1,N,7] where each row is
// (image id, class id, confidence, x1, y1, x2, y2) with normalized corners.
// Corners are scaled to pixels and truncated. Rows at or below the confidence
// threshold, and faces whose clipped region is smaller than minSize, are
// dropped.
func parseFaceDetections(data []float32, bounds image.Rectangle, minConfidence float64, minSize int) []faceBox {
	w, h := float32(bounds.Dx()), float32(bounds.Dy())

	var faces []faceBox
	for i := 0; i+7 <= len(data); i += 7 {
		if float64(data[i+2]) <= minConfidence {
			continue
		}

		loc := image.Rectangle{
			Min: image.Pt(int(data[i+3]*w), int(data[i+4]*h)),
			Max: image.Pt(int(data[i+5]*w), int(data[i+6]*h)),
		}
		roi := loc.Canon().Intersect(bounds)
		if roi.Empty() || roi.Dx() < minSize || roi.Dy() < minSize {
			continue
		}
		faces = append(faces, faceBox{Loc: loc, ROI: roi})
	}
	return faces
}

// argmax returns the index and value of the largest score, or -1 for no scores
func argmax(scores []float32) (int, float32) {
	best := -1
	var bestScore float32
	for i, s := range scores {
		if best < 0 || s > bestScore {
			best = i
			bestScore = s
		}
	}
	return best, bestScore
}

func readNet(model, config string) (gocv.Net, error) {
	if _, err := os.Stat(model); err != nil {
		return gocv.Net{}, fmt.Errorf("model file not found: %s", model)
	}
	if config != "" {
		if _, err := os.Stat(config); err != nil {
			return gocv.Net{}, fmt.Errorf("config file not found: %s", config)
		}
	}

	net := gocv.ReadNet(model, config)
	if net.Empty() {
		return gocv.Net{}, fmt.Errorf("failed to load network from %s", model)
	}
	errBackend := net.SetPreferableBackend(gocv.NetBackendDefault)
	errTarget := net.SetPreferableTarget(gocv.NetTargetCPU)
	if errBackend != nil || errTarget != nil {
		net.Close()
		return gocv.Net{}, fmt.Errorf("failed to set preferable backend or target: %w", errors.Join(errBackend, errTarget))
	}
	return net, nil
}
