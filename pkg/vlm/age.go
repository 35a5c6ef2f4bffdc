package vlm

import (
	"context"
	"fmt"
	"image"
	"slices"
	"strings"

	"github.com/menta2k/camo-age-screener/pkg/client"
	"github.com/menta2k/camo-age-screener/pkg/types"
)

// AgePrompt asks the model to locate every face and pick an age bucket for it
var AgePrompt = fmt.Sprintf(`You are a face locator and age estimator.

Return JSON only:
{
  "faces": [
    {"box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0}, "age": "(25-32)", "probability": 0.0}
  ]
}

HARD RULES
- All coordinates are normalized to [0,1] (NOT pixels).
- One entry per visible human face; the box tightly covers the face.
- age is exactly one of: %s
- probability is your confidence in the age bucket, in [0,1].
- If no face is visible, return {"faces": []}.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`,
	strings.Join(types.AgeBuckets, " "))

type ageAnswer struct {
	Faces []struct {
		Box         types.Box `json:"box"`
		Age         string    `json:"age"`
		Probability float64   `json:"probability"`
	} `json:"faces"`
}

// AgeDetector locates faces and estimates ages by prompting a vision-language model
type AgeDetector struct {
	client client.VisionClient
	config Config
	prompt string
}

// NewAgeDetector creates a detector on top of a vision client
func NewAgeDetector(c client.VisionClient, cfg Config) *AgeDetector {
	return &AgeDetector{client: c, config: cfg, prompt: AgePrompt}
}

// Detect returns one detection per face with a box in pixels of img
func (d *AgeDetector) Detect(ctx context.Context, img image.Image) ([]types.FaceAgeDetection, error) {
	sent := fit(img, d.config.SendSize)
	imgB64, err := EncodeImage(sent, 0, d.config.Quality)
	if err != nil {
		return nil, err
	}

	raw, err := d.client.Query(ctx, d.config.Model, d.prompt, imgB64)
	if err != nil {
		return nil, err
	}

	var answer ageAnswer
	if err := decodeModelJSON(raw, &answer); err != nil {
		return nil, err
	}

	// Pixel answers refer to the image the model saw, which may be smaller
	sentW, sentH := sent.Bounds().Dx(), sent.Bounds().Dy()
	bounds := img.Bounds()
	detections := make([]types.FaceAgeDetection, 0, len(answer.Faces))
	for _, f := range answer.Faces {
		box := normalizeBox(f.Box, sentW, sentH).ToPixels(bounds)
		if box.Empty() {
			continue
		}
		detections = append(detections, types.FaceAgeDetection{
			Box:            box,
			AgeLabel:       normalizeAgeLabel(f.Age),
			AgeProbability: f.Probability,
		})
	}
	return detections, nil
}

// normalizeBox converts a box the model answered in pixels back to normalized
// coordinates
func normalizeBox(b types.Box, imgW, imgH int) types.Box {
	if imgW > 0 && imgH > 0 && (b.X > 1 || b.Y > 1 || b.W > 1 || b.H > 1) {
		return types.Box{
			X: b.X / float64(imgW),
			Y: b.Y / float64(imgH),
			W: b.W / float64(imgW),
			H: b.H / float64(imgH),
		}
	}
	return b
}

// normalizeAgeLabel restores the parentheses of a bucket answered as "25-32"
func normalizeAgeLabel(label string) string {
	label = strings.ReplaceAll(strings.TrimSpace(label), " ", "")
	if wrapped := "(" + label + ")"; slices.Contains(types.AgeBuckets, wrapped) {
		return wrapped
	}
	return label
}
