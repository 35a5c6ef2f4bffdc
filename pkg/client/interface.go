package client

import (
	"context"
)

// VisionClient sends one prompt with one base64 encoded image to a
// vision-language model and returns the raw text of its answer
type VisionClient interface {
	Query(ctx context.Context, model, prompt, imgB64 string) (string, error)
}
