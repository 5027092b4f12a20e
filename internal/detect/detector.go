package detect

import (
	"log/slog"
	"os"

	"github.com/papermes/scanner/internal/recognize"
)

// DefaultThreshold is the confidence gate applied when none is configured
const DefaultThreshold = 0.5

// minCharacters is the second hard gate: images with fewer recognized
// characters are never classified as documents, whatever their score
const minCharacters = 10

// Classification is the detector verdict for one image
type Classification struct {
	IsDocument bool
	Confidence float64
}

// Detector classifies images as documents or not
type Detector struct {
	recognizer recognize.Recognizer
	threshold  float64
}

// NewDetector creates a Detector with the given confidence threshold
func NewDetector(recognizer recognize.Recognizer, threshold float64) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Detector{
		recognizer: recognizer,
		threshold:  threshold,
	}
}

// Detect classifies the image at path. It never fails: any decode or
// recognition fault yields {false, 0.0} so the caller marks the record
// processed and does not retry it.
func (d *Detector) Detect(path string) Classification {
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("Cannot read image", "path", path, "error", err)
		return Classification{}
	}

	raster, err := decodeBounded(data)
	if err != nil {
		slog.Warn("Cannot decode image", "path", path, "error", err)
		return Classification{}
	}

	pngData, err := encodePNG(raster)
	if err != nil {
		slog.Warn("Cannot encode raster", "path", path, "error", err)
		return Classification{}
	}

	result, err := d.recognizer.RecognizeText(pngData)
	if err != nil {
		slog.Warn("Text recognition failed", "path", path, "error", err)
		return Classification{}
	}

	// Aspect ratio comes from the possibly downsampled raster
	bounds := raster.Bounds()
	aspect := 0.0
	if bounds.Dy() > 0 {
		aspect = float64(bounds.Dx()) / float64(bounds.Dy())
	}

	structured := HasStructuredContent(result.Text)
	confidence := Score(result.Characters, structured, aspect, result.Regions)

	return Classification{
		IsDocument: confidence >= d.threshold && result.Characters >= minCharacters,
		Confidence: confidence,
	}
}
