package ocr

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/ecoscout/ecoscout-go/internal/model"
)

// Policy decides whether an aggregated reading is trusted. Both comparisons
// are strict.
type Policy struct {
	MinConfidence float64 // mean segment confidence must exceed this (0..1)
	MinLength     int     // joined text must be longer than this many characters
}

// DefaultPolicy accepts readings averaging above 0.4 that are longer than 3 characters.
func DefaultPolicy() Policy {
	return Policy{MinConfidence: 0.4, MinLength: 3}
}

// Result is the merged plate reading for one crop.
type Result struct {
	Plate          string  // joined text when accepted, model.PlateUnknown otherwise
	Confidence     float64 // percentage with two decimals when accepted, 0 otherwise
	Accepted       bool
	RawText        string  // joined text regardless of acceptance
	MeanConfidence float64 // arithmetic mean of segment confidences (0..1)
}

// Aggregate orders segments left to right by the x coordinate of their first
// corner (ties keep recognizer order), joins their text with single spaces and
// averages their confidences. An empty input is never accepted.
func Aggregate(segments []Segment, policy Policy) Result {
	res := Result{Plate: model.PlateUnknown}
	if len(segments) == 0 {
		return res
	}

	ordered := make([]Segment, len(segments))
	copy(ordered, segments)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Quad[0].X < ordered[j].Quad[0].X
	})

	texts := make([]string, len(ordered))
	var sum float64
	for i := range ordered {
		texts[i] = ordered[i].Text
		sum += ordered[i].Confidence
	}

	res.RawText = strings.Join(texts, " ")
	res.MeanConfidence = sum / float64(len(ordered))

	if res.MeanConfidence > policy.MinConfidence && utf8.RuneCountInString(res.RawText) > policy.MinLength {
		res.Accepted = true
		res.Plate = res.RawText
		res.Confidence = model.Percent(res.MeanConfidence)
	}
	return res
}

// Apply copies an accepted reading onto rec; rejected readings leave the defaults.
func (r Result) Apply(rec *model.DetectionRecord) {
	if !r.Accepted {
		return
	}
	rec.LicensePlate = r.Plate
	rec.OCRConfidence = r.Confidence
}
