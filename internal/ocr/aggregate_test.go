package ocr

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ecoscout/ecoscout-go/internal/model"
)

func seg(text string, x int, conf float64) Segment {
	return Segment{Text: text, Quad: QuadFromRect(image.Rect(x, 0, x+10, 10)), Confidence: conf}
}

func TestAggregate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		segments   []Segment
		wantPlate  string
		wantConf   float64
		wantAccept bool
		wantRaw    string
	}{
		{
			name:      "empty input keeps defaults",
			wantPlate: model.PlateUnknown,
		},
		{
			name:       "segments ordered left to right",
			segments:   []Segment{seg("C", 50, 0.9), seg("A", 10, 0.9), seg("B", 30, 0.9)},
			wantPlate:  "A B C",
			wantConf:   90,
			wantAccept: true,
			wantRaw:    "A B C",
		},
		{
			name:      "mean exactly at threshold is rejected",
			segments:  []Segment{seg("AB", 0, 0.3), seg("12", 20, 0.5)},
			wantPlate: model.PlateUnknown,
			wantRaw:   "AB 12",
		},
		{
			name:      "length exactly at threshold is rejected",
			segments:  []Segment{seg("ABC", 0, 0.99)},
			wantPlate: model.PlateUnknown,
			wantRaw:   "ABC",
		},
		{
			name:       "space counts toward length",
			segments:   []Segment{seg("AB", 0, 0.8), seg("C", 20, 0.6)},
			wantPlate:  "AB C",
			wantConf:   70,
			wantAccept: true,
			wantRaw:    "AB C",
		},
		{
			name:       "confidence rounded to two decimals",
			segments:   []Segment{seg("KA01", 0, 0.87654)},
			wantPlate:  "KA01",
			wantConf:   87.65,
			wantAccept: true,
			wantRaw:    "KA01",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Aggregate(tt.segments, DefaultPolicy())
			assert.Equal(t, tt.wantPlate, got.Plate)
			assert.InDelta(t, tt.wantConf, got.Confidence, 1e-9)
			assert.Equal(t, tt.wantAccept, got.Accepted)
			assert.Equal(t, tt.wantRaw, got.RawText)
		})
	}
}

func TestAggregate_StableForEqualX(t *testing.T) {
	t.Parallel()

	got := Aggregate([]Segment{seg("X1", 5, 0.9), seg("Y2", 5, 0.9)}, DefaultPolicy())
	assert.Equal(t, "X1 Y2", got.RawText)
}

func TestAggregate_DoesNotReorderInput(t *testing.T) {
	t.Parallel()

	in := []Segment{seg("B", 20, 0.9), seg("A", 0, 0.9)}
	Aggregate(in, DefaultPolicy())
	assert.Equal(t, "B", in[0].Text)
}

func TestAggregate_AcceptedImpliesThresholds(t *testing.T) {
	t.Parallel()

	confs := []float64{0, 0.1, 0.39, 0.4, 0.40001, 0.41, 0.5, 0.99, 1}
	texts := []string{"", "A", "AB", "ABC", "ABCD", "ABCDE"}
	for _, c := range confs {
		for _, text := range texts {
			got := Aggregate([]Segment{seg(text, 0, c)}, DefaultPolicy())
			if got.Accepted {
				// the threshold applies to the unrounded mean; the stored
				// percentage can round down onto 40.0
				assert.Greater(t, got.MeanConfidence, 0.4)
				assert.GreaterOrEqual(t, got.Confidence, 40.0)
				assert.Greater(t, len(got.Plate), 3)
			} else {
				assert.Equal(t, model.PlateUnknown, got.Plate)
				assert.Zero(t, got.Confidence)
			}
		}
	}
}

func TestAggregate_MeanJustAboveThresholdRoundsTo40(t *testing.T) {
	t.Parallel()

	got := Aggregate([]Segment{seg("KA01", 0, 0.40001), seg("AB", 10, 0.40001)}, DefaultPolicy())
	assert.True(t, got.Accepted)
	assert.Equal(t, "KA01 AB", got.Plate)
	assert.InDelta(t, 40.0, got.Confidence, 1e-9)
}

func TestAggregate_CustomPolicy(t *testing.T) {
	t.Parallel()

	got := Aggregate([]Segment{seg("AB", 0, 0.3)}, Policy{MinConfidence: 0.2, MinLength: 1})
	assert.True(t, got.Accepted)
	assert.InDelta(t, 30.0, got.Confidence, 1e-9)
}

func TestResultApply(t *testing.T) {
	t.Parallel()

	rec := model.NewDetectionRecord("car", 0.8, model.BBox{})
	Result{Accepted: false, Plate: "IGNORED", Confidence: 99}.Apply(&rec)
	assert.Equal(t, model.PlateUnknown, rec.LicensePlate)

	Result{Accepted: true, Plate: "KA01AB", Confidence: 77.7}.Apply(&rec)
	assert.Equal(t, "KA01AB", rec.LicensePlate)
	assert.InDelta(t, 77.7, rec.OCRConfidence, 1e-9)
}

func TestFilterAllowed(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "AB12", filterAllowed("a-B 1.2", "AB12"))
	assert.Equal(t, "any", filterAllowed("any", ""))
}
