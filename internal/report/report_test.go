package report

import (
	"bytes"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecoscout/ecoscout-go/internal/mediastore"
	"github.com/ecoscout/ecoscout-go/internal/model"
)

func reportRecord() *model.AnalysisRecord {
	return &model.AnalysisRecord{
		ID:           "abc",
		Status:       model.StatusSuccess,
		CreatedAt:    model.Timestamp{Time: time.Date(2024, 5, 1, 10, 15, 30, 0, time.Local)},
		OriginalFile: "abc.jpg",
		Detections: []model.DetectionRecord{
			{ViolationType: "smoke", Confidence: 91, BBox: model.BBox{0, 0, 10, 10}, LicensePlate: model.PlateUnknown},
			{ViolationType: "car", Confidence: 87.65, BBox: model.BBox{5, 5, 50, 50}, LicensePlate: "KA01AB1234", OCRConfidence: 77.5},
		},
	}
}

func render(t *testing.T, rec *model.AnalysisRecord, imagePath string) string {
	t.Helper()
	r := NewPDFRenderer(nil)
	r.Uncompressed = true
	var buf bytes.Buffer
	require.NoError(t, r.Render(&buf, rec, imagePath))
	require.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
	return buf.String()
}

func writeImage(t *testing.T, path string, w, h int) {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{R: 200, G: 10, B: 10, A: 255})
	require.NoError(t, imaging.Save(img, path))
}

func TestRender_WithoutImage(t *testing.T) {
	t.Parallel()

	out := render(t, reportRecord(), "")

	assert.Contains(t, out, "EcoScout Detection Report")
	assert.Contains(t, out, "Date: 2024-05-01 10:15:30")
	assert.Contains(t, out, "File ID: abc")
	assert.Contains(t, out, "Original File: abc.jpg")
	assert.Contains(t, out, "Total Detections: 2")
	assert.Contains(t, out, "Violations Found: 1")
	assert.Contains(t, out, imageMissing)
	assert.Contains(t, out, "License Plate")
	assert.Contains(t, out, "Smoke")
	assert.Contains(t, out, "91.0%")
	assert.Contains(t, out, "87.65%")
	assert.Contains(t, out, "KA01AB1234")
}

func TestRender_WithImage(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "annotated_abc.jpg")
	writeImage(t, path, 64, 32)

	out := render(t, reportRecord(), path)
	assert.NotContains(t, out, imageMissing)
	assert.Contains(t, out, "/Subtype /Image")
}

func TestRender_UnreadableImage(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "broken.png")
	require.NoError(t, os.WriteFile(path, []byte("not an image"), 0o600))

	out := render(t, reportRecord(), path)
	assert.Contains(t, out, imageUnreadable)
	assert.Contains(t, out, imageMissing)
}

func TestRender_NoDetections(t *testing.T) {
	t.Parallel()

	rec := reportRecord()
	rec.Detections = []model.DetectionRecord{}
	out := render(t, rec, "")
	assert.Contains(t, out, "Violations Found: 0")
	assert.NotContains(t, out, "OCR Conf")
}

func TestRender_LongTableSpansPages(t *testing.T) {
	t.Parallel()

	rec := reportRecord()
	for i := 0; i < 60; i++ {
		rec.Detections = append(rec.Detections, model.NewDetectionRecord("car", 0.5, model.BBox{}))
	}
	out := render(t, rec, "")
	assert.NotContains(t, out, "/Count 1\n")
}

func TestFormatPercent(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "91.0%", formatPercent(91))
	assert.Equal(t, "0.0%", formatPercent(0))
	assert.Equal(t, "87.65%", formatPercent(87.65))
	assert.Equal(t, "40.5%", formatPercent(40.5))
}

type countingRenderer struct {
	calls     int
	imagePath string
}

func (c *countingRenderer) Render(w io.Writer, _ *model.AnalysisRecord, imagePath string) error {
	c.calls++
	c.imagePath = imagePath
	_, err := io.WriteString(w, "%PDF-1.3 test")
	return err
}

func TestService_GenerateAndCache(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := mediastore.New(filepath.Join(dir, "uploads"), filepath.Join(dir, "results"), "http://localhost:8000")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	annotated, err := store.ResultPath("annotated_abc.jpg")
	require.NoError(t, err)
	writeImage(t, annotated, 8, 8)

	rec := reportRecord()
	rec.AnnotatedImageURL = store.ResultURL("annotated_abc.jpg")

	renderer := &countingRenderer{}
	svc := NewService(renderer, store, time.Minute)

	name, err := svc.Generate(rec)
	require.NoError(t, err)
	assert.Equal(t, "report_abc.pdf", name)
	assert.Equal(t, annotated, renderer.imagePath)
	assert.True(t, store.ResultExists(name))

	_, err = svc.Generate(rec)
	require.NoError(t, err)
	assert.Equal(t, 1, renderer.calls)

	// a removed report file is rendered again
	p, err := store.ResultPath(name)
	require.NoError(t, err)
	require.NoError(t, os.Remove(p))
	_, err = svc.Generate(rec)
	require.NoError(t, err)
	assert.Equal(t, 2, renderer.calls)

	svc.Invalidate(rec.ID)
	_, err = svc.Generate(rec)
	require.NoError(t, err)
	assert.Equal(t, 3, renderer.calls)
}

func TestService_VideoRecordHasNoImage(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := mediastore.New(filepath.Join(dir, "uploads"), filepath.Join(dir, "results"), "http://localhost:8000")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	frames := 10
	rec := reportRecord()
	rec.AnnotatedVideoURL = store.ResultURL("annotated_abc.mp4")
	rec.FrameCount = &frames

	renderer := &countingRenderer{}
	_, err = NewService(renderer, store, 0).Generate(rec)
	require.NoError(t, err)
	assert.Empty(t, renderer.imagePath)
}
