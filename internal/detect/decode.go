package detect

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/heic"
	_ "golang.org/x/image/webp" // Register WEBP decoder
)

// maxRasterDimension bounds the decoded raster handed to the recognizer.
// Larger images are downsampled by the largest power-of-two factor that
// keeps both dimensions at or above this bound.
const maxRasterDimension = 1024

// decodeImage decodes raw image bytes. Phone cameras sometimes store HEIF
// bytes behind a .jpg name, so the container is sniffed before falling
// back to the registered decoders.
func decodeImage(data []byte) (image.Image, error) {
	if isHEICFormat(data) {
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return img, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if strings.Contains(err.Error(), "unknown format") || strings.Contains(err.Error(), "unsupported") {
			return nil, fmt.Errorf("unsupported image format. Supported formats: JPEG, PNG, GIF, WEBP, HEIC, HEIF. Error: %w", err)
		}
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}

// isHEICFormat checks if the image data is in HEIC/HEIF format
// HEIC files typically start with specific magic bytes
func isHEICFormat(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	// HEIC files carry an ftyp box at offset 4 with a HEIC-related brand
	if string(data[4:8]) == "ftyp" {
		brand := string(data[8:12])
		if brand == "heic" || brand == "heif" || brand == "mif1" || brand == "msf1" {
			return true
		}
	}
	return false
}

// sampleSize returns the largest power-of-two downsampling factor that
// keeps both dimensions at or above bound. Images already within the
// bound are left alone.
func sampleSize(width, height, bound int) int {
	sample := 1
	if width > bound && height > bound {
		for width/(sample*2) >= bound && height/(sample*2) >= bound {
			sample *= 2
		}
	}
	return sample
}

// decodeBounded decodes image bytes and downsamples the raster to the
// recognizer bound, preserving aspect ratio
func decodeBounded(data []byte) (image.Image, error) {
	img, err := decodeImage(data)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	sample := sampleSize(bounds.Dx(), bounds.Dy(), maxRasterDimension)
	if sample > 1 {
		img = imaging.Resize(img, bounds.Dx()/sample, bounds.Dy()/sample, imaging.Linear)
	}
	return img, nil
}

// encodePNG encodes a raster as PNG for the recognizer
func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}
