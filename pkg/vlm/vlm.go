// Package vlm implements both inference contracts on top of a prompted
// vision-language model. The model is asked for strict JSON; answers are
// sanitized, decoded and converted into the same typed results the OpenCV
// backends produce.
package vlm

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/disintegration/imaging"

	"github.com/menta2k/camo-age-screener/pkg/client"
	"github.com/menta2k/camo-age-screener/pkg/llamacpp"
	"github.com/menta2k/camo-age-screener/pkg/ollama"
)

// Backends served by NewClient
const (
	BackendOllama   = "ollama"
	BackendLlamaCpp = "llamacpp"
)

// ErrMalformedResponse is returned when the model answer holds no usable JSON
var ErrMalformedResponse = errors.New("malformed model response")

// Config controls how images are sent to the model
type Config struct {
	Model    string
	SendSize int // Longest side of the image sent to the model; 0 sends it unscaled
	Quality  int // JPEG quality of the image sent to the model
}

// DefaultConfig returns the settings used by the CLI
func DefaultConfig() Config {
	return Config{
		Model:    "llava:7b",
		SendSize: 768,
		Quality:  85,
	}
}

// NewClient creates the transport for a backend name
func NewClient(backend, url string) (client.VisionClient, error) {
	switch backend {
	case BackendOllama:
		c, err := ollama.NewClient(url)
		if err != nil {
			return nil, err
		}
		return c, nil
	case BackendLlamaCpp:
		c, err := llamacpp.NewClient(url)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown vision backend: %q", backend)
	}
}

// EncodeImage downscales img so its longest side is at most maxDim and
// returns it as base64 encoded JPEG
func EncodeImage(img image.Image, maxDim, quality int) (string, error) {
	img = fit(img, maxDim)
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return "", fmt.Errorf("encode image: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// fit returns img downscaled so its longest side is at most maxDim, or img
// itself when it already fits
func fit(img image.Image, maxDim int) image.Image {
	if maxDim <= 0 {
		return img
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxDim && h <= maxDim {
		return img
	}
	if w >= h {
		return imaging.Resize(img, maxDim, 0, imaging.Lanczos)
	}
	return imaging.Resize(img, 0, maxDim, imaging.Lanczos)
}
