package analysis

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ecoscout/ecoscout-go/internal/detector"
	"github.com/ecoscout/ecoscout-go/internal/errors"
	"github.com/ecoscout/ecoscout-go/internal/model"
	"github.com/ecoscout/ecoscout-go/internal/ocr"
)

type mockDetector struct {
	mock.Mock
}

func (m *mockDetector) Detect(ctx context.Context, img image.Image) ([]detector.Detection, error) {
	args := m.Called(ctx, img)
	dets, _ := args.Get(0).([]detector.Detection)
	return dets, args.Error(1)
}

func (m *mockDetector) Labels() []string { return nil }

func (m *mockDetector) Close() error { return m.Called().Error(0) }

type mockRecognizer struct {
	mock.Mock
}

func (m *mockRecognizer) Recognize(ctx context.Context, img image.Image, allowlist string) ([]ocr.Segment, error) {
	args := m.Called(ctx, img, allowlist)
	segs, _ := args.Get(0).([]ocr.Segment)
	return segs, args.Error(1)
}

func (m *mockRecognizer) Close() error { return m.Called().Error(0) }

const testAllowlist = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func identity(img image.Image) (image.Image, error) { return img, nil }

func newTestPipeline(t *testing.T, det detector.Detector, rec ocr.Recognizer) *Pipeline {
	t.Helper()
	p, err := New(Config{Allowlist: testAllowlist}, det, rec, WithPreprocessor(identity))
	require.NoError(t, err)
	return p
}

func grayFrame(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 128, 128, 128, 255
	}
	return img
}

func TestProcess_ZeroAreaBoxSkipsOCR(t *testing.T) {
	t.Parallel()

	det := &mockDetector{}
	det.On("Detect", mock.Anything, mock.Anything).Return([]detector.Detection{
		{Box: image.Rect(10, 10, 10, 30), Label: "smoke", Confidence: 0.91},
	}, nil)
	rec := &mockRecognizer{}

	p := newTestPipeline(t, det, rec)
	records, err := p.Process(context.Background(), grayFrame(100, 100))
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.Equal(t, "smoke", records[0].ViolationType)
	assert.InDelta(t, 91.0, records[0].Confidence, 1e-9)
	assert.Equal(t, model.PlateUnknown, records[0].LicensePlate)
	assert.Zero(t, records[0].OCRConfidence)
	assert.Equal(t, model.BBox{10, 10, 10, 30}, records[0].BBox)
	rec.AssertNotCalled(t, "Recognize", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcess_AcceptedPlate(t *testing.T) {
	t.Parallel()

	det := &mockDetector{}
	det.On("Detect", mock.Anything, mock.Anything).Return([]detector.Detection{
		{Box: image.Rect(20, 20, 60, 40), Label: "car", Confidence: 0.876},
	}, nil)
	rec := &mockRecognizer{}
	rec.On("Recognize", mock.Anything, mock.MatchedBy(func(img image.Image) bool {
		return img.Bounds().Dx() == 40 && img.Bounds().Dy() == 20
	}), testAllowlist).Return([]ocr.Segment{
		{Text: "1234", Quad: ocr.QuadFromRect(image.Rect(30, 0, 40, 10)), Confidence: 0.9},
		{Text: "KA01", Quad: ocr.QuadFromRect(image.Rect(0, 0, 10, 10)), Confidence: 0.8},
	}, nil)

	p := newTestPipeline(t, det, rec)
	records, err := p.Process(context.Background(), grayFrame(100, 100))
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.Equal(t, "KA01 1234", records[0].LicensePlate)
	assert.InDelta(t, 85.0, records[0].OCRConfidence, 1e-9)
	assert.InDelta(t, 87.6, records[0].Confidence, 1e-9)
	rec.AssertExpectations(t)
}

func TestProcess_BoxClippedToFrame(t *testing.T) {
	t.Parallel()

	det := &mockDetector{}
	det.On("Detect", mock.Anything, mock.Anything).Return([]detector.Detection{
		{Box: image.Rect(80, 80, 140, 120), Label: "truck", Confidence: 0.5},
	}, nil)
	rec := &mockRecognizer{}
	rec.On("Recognize", mock.Anything, mock.MatchedBy(func(img image.Image) bool {
		return img.Bounds().Dx() == 20 && img.Bounds().Dy() == 20
	}), testAllowlist).Return([]ocr.Segment(nil), nil)

	p := newTestPipeline(t, det, rec)
	records, err := p.Process(context.Background(), grayFrame(100, 100))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, model.BBox{80, 80, 140, 120}, records[0].BBox)
	assert.Equal(t, model.PlateUnknown, records[0].LicensePlate)
	rec.AssertExpectations(t)
}

func TestProcess_OCRFailureDegradesRecord(t *testing.T) {
	t.Parallel()

	det := &mockDetector{}
	det.On("Detect", mock.Anything, mock.Anything).Return([]detector.Detection{
		{Box: image.Rect(0, 0, 10, 10), Label: "car", Confidence: 0.7},
		{Box: image.Rect(20, 20, 40, 40), Label: "littering", Confidence: 0.6},
	}, nil)
	rec := &mockRecognizer{}
	rec.On("Recognize", mock.Anything, mock.Anything, testAllowlist).
		Return(nil, errors.NewStd("engine crashed")).Once()
	rec.On("Recognize", mock.Anything, mock.Anything, testAllowlist).
		Return([]ocr.Segment{{Text: "AB12", Confidence: 0.95}}, nil).Once()

	p := newTestPipeline(t, det, rec)
	records, err := p.Process(context.Background(), grayFrame(50, 50))
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, model.PlateUnknown, records[0].LicensePlate)
	assert.Zero(t, records[0].OCRConfidence)
	assert.Equal(t, "AB12", records[1].LicensePlate)
}

func TestProcess_PreprocessFailureDegradesRecord(t *testing.T) {
	t.Parallel()

	det := &mockDetector{}
	det.On("Detect", mock.Anything, mock.Anything).Return([]detector.Detection{
		{Box: image.Rect(0, 0, 10, 10), Label: "car", Confidence: 0.7},
	}, nil)
	rec := &mockRecognizer{}

	p, err := New(Config{}, det, rec, WithPreprocessor(func(image.Image) (image.Image, error) {
		return nil, errors.NewStd("bad crop")
	}))
	require.NoError(t, err)

	records, err := p.Process(context.Background(), grayFrame(20, 20))
	require.NoError(t, err)
	assert.Equal(t, model.PlateUnknown, records[0].LicensePlate)
	rec.AssertNotCalled(t, "Recognize", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcess_DetectorFailureFailsCall(t *testing.T) {
	t.Parallel()

	det := &mockDetector{}
	det.On("Detect", mock.Anything, mock.Anything).Return(nil, errors.NewStd("session broken"))

	p := newTestPipeline(t, det, nil)
	_, err := p.Process(context.Background(), grayFrame(10, 10))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryInference))
}

func TestProcess_NoDetections(t *testing.T) {
	t.Parallel()

	det := &mockDetector{}
	det.On("Detect", mock.Anything, mock.Anything).Return([]detector.Detection(nil), nil)

	p := newTestPipeline(t, det, nil)
	records, err := p.Process(context.Background(), grayFrame(10, 10))
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestAnalyze_AnnotatesWithoutMutatingInput(t *testing.T) {
	t.Parallel()

	det := &mockDetector{}
	det.On("Detect", mock.Anything, mock.Anything).Return([]detector.Detection{
		{Box: image.Rect(10, 30, 50, 60), Label: "smoke", Confidence: 0.9},
		{Box: image.Rect(60, 30, 90, 60), Label: "car", Confidence: 0.8},
	}, nil)

	frame := grayFrame(100, 100)
	original := append([]uint8(nil), frame.Pix...)

	p := newTestPipeline(t, det, nil)
	res, err := p.Analyze(context.Background(), frame)
	require.NoError(t, err)
	require.Len(t, res.Detections, 2)

	assert.Equal(t, original, frame.Pix)
	assert.Equal(t, colorViolation, res.Annotated.NRGBAAt(10, 45))
	assert.Equal(t, colorViolation, res.Annotated.NRGBAAt(11, 45))
	assert.Equal(t, color.NRGBA{128, 128, 128, 255}, res.Annotated.NRGBAAt(12, 45))
	assert.Equal(t, colorObject, res.Annotated.NRGBAAt(75, 59))
}

func TestAnnotate_PlateText(t *testing.T) {
	t.Parallel()

	frame := grayFrame(200, 100)
	rec := model.NewDetectionRecord("car", 0.8, model.BBox{10, 10, 60, 40})
	rec.LicensePlate = "KA01"
	rec.OCRConfidence = 90

	out := Annotate(frame, []model.DetectionRecord{rec}, model.NewViolationSet("smoke"))

	// the plate caption occupies the band just above y2+20
	found := false
	for y := 48; y < 61 && !found; y++ {
		for x := 10; x < 100; x++ {
			if out.NRGBAAt(x, y) == colorPlate {
				found = true
				break
			}
		}
	}
	assert.True(t, found, "expected blue plate text below the box")
}

func TestLabelText(t *testing.T) {
	t.Parallel()

	rec := model.NewDetectionRecord("smoke", 0.91, model.BBox{})
	assert.Equal(t, "smoke 0.91", LabelText(&rec))
}

func TestDecodeImage(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, grayFrame(8, 4)))

	img, err := DecodeImage(&buf)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 8, 4), img.Bounds())

	_, err = DecodeImage(strings.NewReader("not an image"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMediaDecode))
}

func TestClose_JoinsErrors(t *testing.T) {
	t.Parallel()

	det := &mockDetector{}
	det.On("Close").Return(errors.NewStd("det"))
	rec := &mockRecognizer{}
	rec.On("Close").Return(errors.NewStd("rec"))

	p := newTestPipeline(t, det, rec)
	err := p.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "det")
	assert.Contains(t, err.Error(), "rec")
}

func TestNew_RequiresDetector(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil, nil)
	require.Error(t, err)
}
