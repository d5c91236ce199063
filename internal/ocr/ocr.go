// Package ocr reads license plate text from preprocessed crops and merges the
// recognizer's segments into a single plate reading.
package ocr

import (
	"context"
	"image"

	"github.com/ecoscout/ecoscout-go/internal/logger"
)

// Quad is a text region given by its four corners, starting top-left and
// going clockwise.
type Quad [4]image.Point

// QuadFromRect returns the corners of r.
func QuadFromRect(r image.Rectangle) Quad {
	return Quad{
		r.Min,
		image.Pt(r.Max.X, r.Min.Y),
		r.Max,
		image.Pt(r.Min.X, r.Max.Y),
	}
}

// Segment is one piece of recognized text.
type Segment struct {
	Text       string
	Quad       Quad
	Confidence float64 // 0..1
}

// Recognizer extracts text segments from an image, restricted to the
// characters in allowlist.
type Recognizer interface {
	Recognize(ctx context.Context, img image.Image, allowlist string) ([]Segment, error)
	Close() error
}

// GetLogger returns the OCR module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("ocr")
}

// filterAllowed drops runes outside allowlist. Backends that cannot restrict
// their output alphabet natively run their text through it.
func filterAllowed(text, allowlist string) string {
	if allowlist == "" {
		return text
	}
	allowed := make(map[rune]struct{}, len(allowlist))
	for _, r := range allowlist {
		allowed[r] = struct{}{}
	}
	out := make([]rune, 0, len(text))
	for _, r := range text {
		if _, ok := allowed[r]; ok {
			out = append(out, r)
		}
	}
	return string(out)
}
