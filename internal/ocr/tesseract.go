package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"sync"

	"github.com/otiai10/gosseract/v2"

	"github.com/ecoscout/ecoscout-go/internal/errors"
)

// TesseractRecognizer reads text with libtesseract. The underlying client is
// not safe for concurrent use, so calls are serialized.
type TesseractRecognizer struct {
	mu        sync.Mutex
	client    *gosseract.Client
	allowlist string
}

// NewTesseract creates a recognizer for the given tesseract language.
func NewTesseract(language string) (*TesseractRecognizer, error) {
	client := gosseract.NewClient()
	if language != "" {
		if err := client.SetLanguage(language); err != nil {
			_ = client.Close()
			return nil, errors.New(fmt.Errorf("failed to set OCR language: %w", err)).
				Component("ocr").
				Category(errors.CategoryModelInit).
				Context("language", language).
				Build()
		}
	}
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK); err != nil {
		_ = client.Close()
		return nil, errors.New(fmt.Errorf("failed to set page segmentation mode: %w", err)).
			Component("ocr").
			Category(errors.CategoryModelInit).
			Build()
	}
	return &TesseractRecognizer{client: client}, nil
}

// Recognize returns one segment per word tesseract finds in img.
func (t *TesseractRecognizer) Recognize(ctx context.Context, img image.Image, allowlist string) ([]Segment, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, errors.New(fmt.Errorf("failed to encode crop: %w", err)).
			Component("ocr").
			Category(errors.CategoryOCR).
			Build()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if allowlist != t.allowlist {
		if err := t.client.SetWhitelist(allowlist); err != nil {
			return nil, errors.New(fmt.Errorf("failed to set OCR allowlist: %w", err)).
				Component("ocr").
				Category(errors.CategoryOCR).
				Build()
		}
		t.allowlist = allowlist
	}

	if err := t.client.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, errors.New(fmt.Errorf("failed to set OCR image: %w", err)).
			Component("ocr").
			Category(errors.CategoryOCR).
			Build()
	}

	boxes, err := t.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to get bounding boxes: %w", err)).
			Component("ocr").
			Category(errors.CategoryOCR).
			Build()
	}

	segments := make([]Segment, 0, len(boxes))
	for _, b := range boxes {
		text := filterAllowed(b.Word, allowlist)
		if text == "" {
			continue
		}
		segments = append(segments, Segment{
			Text:       text,
			Quad:       QuadFromRect(b.Box),
			Confidence: b.Confidence / 100,
		})
	}
	return segments, nil
}

// Close releases the tesseract client.
func (t *TesseractRecognizer) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	return err
}
