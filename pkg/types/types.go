package types

import (
	"image"
	"math"
	"strconv"
	"strings"
)

// CamoPositiveLabel is the camo class that routes an image into camo.csv.
// Routing is an identity check on the predicted label, not a probability cutoff.
const CamoPositiveLabel = "camouflage_clothes"

// CamoNegativeLabel is the only other class the camo model can predict.
const CamoNegativeLabel = "normal_clothes"

// CamoLabels is the closed label set of the camo classifier, in model output order.
var CamoLabels = []string{CamoPositiveLabel, CamoNegativeLabel}

// AgeBuckets is the closed label set of the age classifier, in model output order.
var AgeBuckets = []string{"(0-2)", "(4-6)", "(8-12)", "(15-20)", "(25-32)", "(38-43)", "(48-53)", "(60-100)"}

// Box represents a normalized bounding box with coordinates in [0,1] range
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// ToPixels converts a normalized box into a pixel rectangle inside bounds
func (b Box) ToPixels(bounds image.Rectangle) image.Rectangle {
	fw, fh := float64(bounds.Dx()), float64(bounds.Dy())
	x0 := int(clamp(b.X, 0, 1) * fw)
	y0 := int(clamp(b.Y, 0, 1) * fh)
	x1 := int(clamp(b.X+b.W, 0, 1) * fw)
	y1 := int(clamp(b.Y+b.H, 0, 1) * fh)
	return image.Rect(x0, y0, x1, y1).Add(bounds.Min)
}

// FaceAgeDetection is one detected face with its predicted age bucket
type FaceAgeDetection struct {
	Box            image.Rectangle `json:"box"`
	AgeLabel       string          `json:"age_label"`
	AgeProbability float64         `json:"age_probability"`
}

// CamoClassification is the single top prediction of the camo classifier
type CamoClassification struct {
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
}

// Positive reports whether the prediction routes the image into camo.csv
func (c CamoClassification) Positive(positiveLabel string) bool {
	return c.Label == positiveLabel
}

// AgeRow builds the ages.csv row: path,x1,y1,x2,y2,ageLabel,ageProbability
func AgeRow(path string, d FaceAgeDetection) []string {
	return []string{
		path,
		strconv.Itoa(d.Box.Min.X),
		strconv.Itoa(d.Box.Min.Y),
		strconv.Itoa(d.Box.Max.X),
		strconv.Itoa(d.Box.Max.Y),
		d.AgeLabel,
		FormatFloat(d.AgeProbability),
	}
}

// CamoRow builds the camo.csv row: path,probability
func CamoRow(path string, c CamoClassification) []string {
	return []string{path, FormatFloat(c.Probability)}
}

// FormatFloat renders a float in Python str() form: shortest
// round-trip digits, integral values keep a trailing ".0", and exponent
// notation is used below 1e-4 and from 1e16 on.
func FormatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}

	if f != 0 {
		e := strconv.FormatFloat(f, 'e', -1, 64)
		exp, err := strconv.Atoi(e[strings.LastIndexByte(e, 'e')+1:])
		if err == nil && (exp < -4 || exp >= 16) {
			return e
		}
	}

	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".") {
		s += ".0"
	}
	return s
}

// Float32 widens a model output to float64 keeping its shortest float32 digits,
// so 0.71 predicted as float32 is written as 0.71 and not 0.7099999785423279.
func Float32(f float32) float64 {
	v, err := strconv.ParseFloat(strconv.FormatFloat(float64(f), 'g', -1, 32), 64)
	if err != nil {
		return float64(f)
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
