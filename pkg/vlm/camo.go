package vlm

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/menta2k/camo-age-screener/pkg/client"
	"github.com/menta2k/camo-age-screener/pkg/types"
)

// CamoPrompt asks the model for the camo label of the whole image
var CamoPrompt = fmt.Sprintf(`You are a clothing classifier.

Decide whether the people in this image wear camouflage clothing.

Return JSON only:
{"label": "%s", "probability": 0.0}

RULES
- label is exactly "%s" or "%s".
- probability is your confidence in that label, in [0,1].
- JSON only. No markdown, no code fences, no comments, no trailing commas.`,
	types.CamoPositiveLabel, types.CamoPositiveLabel, types.CamoNegativeLabel)

type camoAnswer struct {
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
}

// CamoClassifier classifies images by prompting a vision-language model
type CamoClassifier struct {
	client client.VisionClient
	config Config
	prompt string
}

// NewCamoClassifier creates a classifier on top of a vision client
func NewCamoClassifier(c client.VisionClient, cfg Config) *CamoClassifier {
	return &CamoClassifier{client: c, config: cfg, prompt: CamoPrompt}
}

// Classify sends the image to the model and decodes its answer
func (c *CamoClassifier) Classify(ctx context.Context, img image.Image) (types.CamoClassification, error) {
	imgB64, err := EncodeImage(img, c.config.SendSize, c.config.Quality)
	if err != nil {
		return types.CamoClassification{}, err
	}

	raw, err := c.client.Query(ctx, c.config.Model, c.prompt, imgB64)
	if err != nil {
		return types.CamoClassification{}, err
	}

	var answer camoAnswer
	if err := decodeModelJSON(raw, &answer); err != nil {
		return types.CamoClassification{}, err
	}

	return types.CamoClassification{
		Label:       normalizeLabel(answer.Label),
		Probability: answer.Probability,
	}, nil
}

// normalizeLabel maps "Camouflage Clothes" and similar spellings onto the
// snake_case class names
func normalizeLabel(label string) string {
	label = strings.ToLower(strings.TrimSpace(label))
	return strings.Join(strings.FieldsFunc(label, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_'
	}), "_")
}
