// Package model defines the detection and analysis records stored in the
// history ledger and returned by the HTTP API.
package model

import (
	"image"
	"math"
	"slices"
	"strings"
)

// Record status values.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// PlateUnknown is the license plate value of a record without an accepted read.
const PlateUnknown = "N/A"

// MessageVideoProcessed is attached to every video record.
const MessageVideoProcessed = "Video processed successfully"

// MediaKind distinguishes image and video analyses.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// BBox is an axis-aligned box in pixel coordinates: x1, y1, x2, y2.
type BBox [4]int

// BBoxFromRect converts an image.Rectangle to a BBox.
func BBoxFromRect(r image.Rectangle) BBox {
	return BBox{r.Min.X, r.Min.Y, r.Max.X, r.Max.Y}
}

// Rect returns the box as an image.Rectangle.
func (b BBox) Rect() image.Rectangle {
	return image.Rect(b[0], b[1], b[2], b[3])
}

// DetectionRecord is one detected object.
type DetectionRecord struct {
	ViolationType string  `json:"violation_type"`
	Confidence    float64 `json:"confidence"` // percentage, two decimals
	BBox          BBox    `json:"bbox"`
	LicensePlate  string  `json:"license_plate"`
	OCRConfidence float64 `json:"ocr_confidence"` // percentage, two decimals

	// Video only.
	Frame         *int     `json:"frame,omitempty"`
	Timestamp     *float64 `json:"timestamp,omitempty"` // seconds from start of video
	FrameImageURL string   `json:"frame_image_url,omitempty"`
}

// NewDetectionRecord builds a record from a raw detector output. The
// confidence in [0,1] is stored as a percentage; plate fields get their defaults.
func NewDetectionRecord(label string, confidence float64, box BBox) DetectionRecord {
	return DetectionRecord{
		ViolationType: label,
		Confidence:    Percent(confidence),
		BBox:          box,
		LicensePlate:  PlateUnknown,
		OCRConfidence: 0,
	}
}

// Percent converts a [0,1] score to a percentage rounded to two decimals.
func Percent(score float64) float64 {
	return math.Round(score*100*100) / 100
}

// HasPlate reports whether an accepted plate read is attached.
func (d *DetectionRecord) HasPlate() bool {
	return d.LicensePlate != "" && d.LicensePlate != PlateUnknown
}

// IsViolation reports whether the record's label is in the violation set.
func (d *DetectionRecord) IsViolation(violations ViolationSet) bool {
	return violations.Contains(d.ViolationType)
}

// SetFrame attaches the video frame index and its timestamp, index / fps.
func (d *DetectionRecord) SetFrame(index int, fps float64) {
	frame := index
	ts := float64(index) / fps
	d.Frame = &frame
	d.Timestamp = &ts
}

// ViolationSet holds lower-cased violation labels.
type ViolationSet map[string]struct{}

// DefaultViolations are the labels treated as violations unless configured otherwise.
var DefaultViolations = []string{"littering", "smoke"}

// NewViolationSet builds a case-insensitive set from labels.
func NewViolationSet(labels ...string) ViolationSet {
	set := make(ViolationSet, len(labels))
	for _, label := range labels {
		set[NormalizeLabel(label)] = struct{}{}
	}
	return set
}

// Contains reports whether label is a violation, ignoring case and surrounding space.
func (s ViolationSet) Contains(label string) bool {
	_, ok := s[NormalizeLabel(label)]
	return ok
}

// NormalizeLabel folds a detector label for comparisons.
func NormalizeLabel(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

// AnalysisRecord is one processed upload: the unit of the history ledger.
type AnalysisRecord struct {
	ID                string            `json:"id"`
	Status            string            `json:"status"`
	CreatedAt         Timestamp         `json:"timestamp"`
	OriginalFile      string            `json:"original_file"`
	AnnotatedImageURL string            `json:"annotated_image_url,omitempty"`
	AnnotatedVideoURL string            `json:"annotated_video_url,omitempty"`
	Detections        []DetectionRecord `json:"detections"`
	FrameCount        *int              `json:"frame_count,omitempty"`
	Message           string            `json:"message,omitempty"`
}

// Normalize replaces a nil detection list with an empty one so the record
// always serializes "detections": [].
func (r *AnalysisRecord) Normalize() {
	if r.Detections == nil {
		r.Detections = []DetectionRecord{}
	}
}

// Clone returns a deep copy of the record.
func (r *AnalysisRecord) Clone() AnalysisRecord {
	c := *r
	c.Detections = make([]DetectionRecord, len(r.Detections))
	for i := range r.Detections {
		c.Detections[i] = r.Detections[i].clone()
	}
	if r.FrameCount != nil {
		n := *r.FrameCount
		c.FrameCount = &n
	}
	return c
}

func (d *DetectionRecord) clone() DetectionRecord {
	c := *d
	if d.Frame != nil {
		f := *d.Frame
		c.Frame = &f
	}
	if d.Timestamp != nil {
		ts := *d.Timestamp
		c.Timestamp = &ts
	}
	return c
}

// MediaKind reports whether the record came from an image or a video.
func (r *AnalysisRecord) MediaKind() MediaKind {
	if r.AnnotatedVideoURL != "" || r.FrameCount != nil {
		return MediaVideo
	}
	return MediaImage
}

// AnnotatedURL returns the annotated image or video reference.
func (r *AnalysisRecord) AnnotatedURL() string {
	if r.AnnotatedImageURL != "" {
		return r.AnnotatedImageURL
	}
	return r.AnnotatedVideoURL
}

// ViolationCount returns how many detections are violations.
func (r *AnalysisRecord) ViolationCount(violations ViolationSet) int {
	n := 0
	for i := range r.Detections {
		if r.Detections[i].IsViolation(violations) {
			n++
		}
	}
	return n
}

// EvidenceURLs returns the distinct evidence frame references in detection order.
func (r *AnalysisRecord) EvidenceURLs() []string {
	var urls []string
	for i := range r.Detections {
		u := r.Detections[i].FrameImageURL
		if u != "" && !slices.Contains(urls, u) {
			urls = append(urls, u)
		}
	}
	return urls
}
