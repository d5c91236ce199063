package video

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ecoscout/ecoscout-go/internal/analysis"
	"github.com/ecoscout/ecoscout-go/internal/errors"
	"github.com/ecoscout/ecoscout-go/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeSource yields n frames, each a 1x1 image whose red channel is its index.
type fakeSource struct {
	n, next  int
	fps      float64
	readErr  error
	closed   bool
	closeErr error
}

func (f *fakeSource) Read() (image.Image, bool, error) {
	if f.readErr != nil && f.next == 2 {
		return nil, false, f.readErr
	}
	if f.next >= f.n {
		return nil, false, nil
	}
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: uint8(f.next), A: 255})
	f.next++
	return img, true, nil
}

func (f *fakeSource) FPS() float64 { return f.fps }

func (f *fakeSource) Close() error {
	f.closed = true
	return f.closeErr
}

type fakeSink struct {
	frames []image.Image
	closed bool
}

func (f *fakeSink) Write(img image.Image) error {
	f.frames = append(f.frames, img)
	return nil
}

func (f *fakeSink) Close() error {
	f.closed = true
	return nil
}

// fakeAnalyzer reports one detection on every frame in hits and marks
// analyzed frames by painting them blue.
type fakeAnalyzer struct {
	calls []int
	hits  map[int]bool
	fail  bool
}

func (f *fakeAnalyzer) Analyze(_ context.Context, img image.Image) (analysis.FrameResult, error) {
	idx := int(img.(*image.NRGBA).NRGBAAt(0, 0).R)
	f.calls = append(f.calls, idx)
	if f.fail {
		return analysis.FrameResult{}, errors.NewStd("detector down")
	}
	annotated := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	annotated.SetNRGBA(0, 0, color.NRGBA{R: uint8(idx), B: 255, A: 255})

	res := analysis.FrameResult{Detections: []model.DetectionRecord{}, Annotated: annotated}
	if f.hits[idx] {
		res.Detections = append(res.Detections, model.NewDetectionRecord("littering", 0.8, model.BBox{0, 0, 1, 1}))
	}
	return res, nil
}

func TestRun_StrideSelection(t *testing.T) {
	src := &fakeSource{n: 23, fps: 10}
	sink := &fakeSink{}
	an := &fakeAnalyzer{hits: map[int]bool{}}

	var seen []int
	s := &Sampler{Stride: 5, Pipeline: an, OnFrame: func(i int) { seen = append(seen, i) }}
	res, err := s.Run(context.Background(), src, sink)
	require.NoError(t, err)

	assert.Equal(t, 23, res.FrameCount)
	assert.Equal(t, []int{0, 5, 10, 15, 20}, res.AnalyzedFrames)
	assert.Equal(t, []int{0, 5, 10, 15, 20}, an.calls)
	assert.Len(t, seen, 23)
	require.Len(t, sink.frames, 23)
	assert.True(t, src.closed)
	assert.True(t, sink.closed)

	for i, frame := range sink.frames {
		px := frame.(*image.NRGBA).NRGBAAt(0, 0)
		assert.Equal(t, uint8(i), px.R, "frame order")
		assert.Equal(t, i%5 == 0, px.B == 255, "frame %d annotation", i)
	}
}

func TestRun_FrameTimestampsAndEvidence(t *testing.T) {
	src := &fakeSource{n: 12, fps: 10}
	an := &fakeAnalyzer{hits: map[int]bool{0: true, 5: true}}

	var saved []int
	s := &Sampler{
		Stride:   5,
		Pipeline: an,
		Evidence: func(index int, img image.Image) (string, error) {
			saved = append(saved, index)
			assert.Equal(t, uint8(255), img.(*image.NRGBA).NRGBAAt(0, 0).B)
			return fmt.Sprintf("/results/frame_x_%d.jpg", index), nil
		},
	}
	res, err := s.Run(context.Background(), src, &fakeSink{})
	require.NoError(t, err)

	assert.Equal(t, []int{0, 5}, saved)
	assert.Equal(t, 2, res.EvidenceFrames)
	require.Len(t, res.Detections, 2)

	d := res.Detections[1]
	require.NotNil(t, d.Frame)
	require.NotNil(t, d.Timestamp)
	assert.Equal(t, 5, *d.Frame)
	assert.InDelta(t, 0.5, *d.Timestamp, 1e-9)
	assert.Equal(t, "/results/frame_x_5.jpg", d.FrameImageURL)
}

func TestRun_MaxEvidenceFrames(t *testing.T) {
	src := &fakeSource{n: 11, fps: 25}
	an := &fakeAnalyzer{hits: map[int]bool{0: true, 5: true, 10: true}}

	saves := 0
	s := &Sampler{
		Stride:            5,
		MaxEvidenceFrames: 1,
		Pipeline:          an,
		Evidence: func(int, image.Image) (string, error) {
			saves++
			return "ref", nil
		},
	}
	res, err := s.Run(context.Background(), src, &fakeSink{})
	require.NoError(t, err)

	assert.Equal(t, 1, saves)
	require.Len(t, res.Detections, 3)
	assert.Equal(t, "ref", res.Detections[0].FrameImageURL)
	assert.Empty(t, res.Detections[1].FrameImageURL)
}

func TestRun_DefaultFPS(t *testing.T) {
	src := &fakeSource{n: 6, fps: 0}
	an := &fakeAnalyzer{hits: map[int]bool{5: true}}

	res, err := (&Sampler{Stride: 5, Pipeline: an}).Run(context.Background(), src, &fakeSink{})
	require.NoError(t, err)
	assert.InDelta(t, DefaultFPS, res.FPS, 1e-9)
	require.Len(t, res.Detections, 1)
	assert.InDelta(t, 0.2, *res.Detections[0].Timestamp, 1e-9)
}

func TestRun_InvalidStrideClosesStreams(t *testing.T) {
	for _, stride := range []int{0, -1} {
		src := &fakeSource{n: 3}
		sink := &fakeSink{}
		_, err := (&Sampler{Stride: stride, Pipeline: &fakeAnalyzer{}}).Run(context.Background(), src, sink)
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
		assert.True(t, src.closed)
		assert.True(t, sink.closed)
	}
}

func TestRun_AnalyzerFailure(t *testing.T) {
	src := &fakeSource{n: 3, fps: 25}
	sink := &fakeSink{}
	_, err := (&Sampler{Stride: 1, Pipeline: &fakeAnalyzer{fail: true}}).Run(context.Background(), src, sink)
	require.Error(t, err)
	assert.True(t, src.closed)
	assert.True(t, sink.closed)
	assert.Empty(t, sink.frames)
}

func TestRun_ReadErrorAndCloseErrorJoined(t *testing.T) {
	src := &fakeSource{n: 5, fps: 25, readErr: errors.NewStd("corrupt packet"), closeErr: errors.NewStd("release failed")}
	sink := &fakeSink{}

	res, err := (&Sampler{Stride: 5, Pipeline: &fakeAnalyzer{}}).Run(context.Background(), src, sink)
	require.Error(t, err)
	assert.Equal(t, 2, res.FrameCount)
	assert.Contains(t, err.Error(), "corrupt packet")
	assert.Contains(t, err.Error(), "release failed")
	assert.True(t, errors.IsCategory(err, errors.CategoryVideo))
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := &fakeSource{n: 100, fps: 25}
	sink := &fakeSink{}

	s := &Sampler{Stride: 5, Pipeline: &fakeAnalyzer{}, OnFrame: func(i int) {
		if i == 3 {
			cancel()
		}
	}}
	res, err := s.Run(ctx, src, sink)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 4, res.FrameCount)
	assert.True(t, src.closed)
	assert.True(t, sink.closed)
}
