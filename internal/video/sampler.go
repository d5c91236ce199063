// Package video samples frames from a video, analyzes every Nth frame and
// writes the annotated stream along with evidence stills.
package video

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/ecoscout/ecoscout-go/internal/analysis"
	"github.com/ecoscout/ecoscout-go/internal/errors"
	"github.com/ecoscout/ecoscout-go/internal/logger"
	"github.com/ecoscout/ecoscout-go/internal/model"
	"github.com/ecoscout/ecoscout-go/internal/observability/metrics"
)

const (
	// DefaultStride analyzes every fifth frame.
	DefaultStride = 5
	// DefaultFPS is assumed when the container does not report a frame rate.
	DefaultFPS = 25.0
)

// FrameSource yields decoded frames in order.
type FrameSource interface {
	// Read returns the next frame, or ok=false at end of stream.
	Read() (img image.Image, ok bool, err error)
	FPS() float64
	Close() error
}

// FrameSink receives every frame in input order.
type FrameSink interface {
	Write(img image.Image) error
	Close() error
}

// FrameAnalyzer detects and annotates one frame.
type FrameAnalyzer interface {
	Analyze(ctx context.Context, img image.Image) (analysis.FrameResult, error)
}

// EvidenceWriter persists the annotated still of frame index and returns the
// reference stored on that frame's records.
type EvidenceWriter func(index int, annotated image.Image) (string, error)

// Sampler drives a FrameSource through the analyzer into a FrameSink.
type Sampler struct {
	Stride            int
	MaxEvidenceFrames int // 0 = unlimited
	DefaultFPS        float64
	Pipeline          FrameAnalyzer
	Evidence          EvidenceWriter // optional
	OnFrame           func(i int)    // optional, called after frame i is written
	Metrics           *metrics.PipelineMetrics
	Logger            logger.Logger
}

// Result summarizes a completed run.
type Result struct {
	FrameCount     int
	AnalyzedFrames []int
	EvidenceFrames int
	FPS            float64
	Detections     []model.DetectionRecord
}

// GetLogger returns the video module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("video")
}

// Run consumes src until it is exhausted. Frames whose index is a multiple of
// Stride are analyzed and replaced by their annotated version; every frame is
// written to sink. src and sink are always closed and their close errors are
// joined into the returned error.
func (s *Sampler) Run(ctx context.Context, src FrameSource, sink FrameSink) (res Result, err error) {
	defer func() {
		var closeErrs []error
		if src != nil {
			if cerr := src.Close(); cerr != nil {
				closeErrs = append(closeErrs, fmt.Errorf("close frame source: %w", cerr))
			}
		}
		if sink != nil {
			if cerr := sink.Close(); cerr != nil {
				closeErrs = append(closeErrs, fmt.Errorf("close frame sink: %w", cerr))
			}
		}
		if len(closeErrs) > 0 {
			err = errors.Join(append([]error{err}, closeErrs...)...)
		}
	}()

	if s.Stride <= 0 {
		return res, errors.Newf("stride must be positive, got %d", s.Stride).
			Component("video").
			Category(errors.CategoryValidation).
			Build()
	}
	if s.Pipeline == nil || src == nil || sink == nil {
		return res, errors.Newf("sampler requires an analyzer, a frame source and a frame sink").
			Component("video").
			Category(errors.CategoryValidation).
			Build()
	}

	log := s.Logger
	if log == nil {
		log = GetLogger()
	}

	res.FPS = src.FPS()
	if res.FPS <= 0 {
		res.FPS = s.DefaultFPS
		if res.FPS <= 0 {
			res.FPS = DefaultFPS
		}
		log.Warn("frame rate unavailable, using default", logger.Float64("fps", res.FPS))
	}
	res.Detections = []model.DetectionRecord{}

	start := time.Now()
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		img, ok, err := src.Read()
		if err != nil {
			return res, errors.New(fmt.Errorf("read frame %d: %w", i, err)).
				Component("video").
				Category(errors.CategoryVideo).
				Build()
		}
		if !ok {
			break
		}
		res.FrameCount++

		out := img
		analyzed := i%s.Stride == 0
		if analyzed {
			out, err = s.analyze(ctx, i, img, &res)
			if err != nil {
				return res, err
			}
		}
		s.Metrics.RecordFrame(analyzed)

		if err := sink.Write(out); err != nil {
			return res, errors.New(fmt.Errorf("write frame %d: %w", i, err)).
				Component("video").
				Category(errors.CategoryVideo).
				Build()
		}
		if s.OnFrame != nil {
			s.OnFrame(i)
		}
	}

	log.Info("video sampled",
		logger.Int("frames", res.FrameCount),
		logger.Int("analyzed", len(res.AnalyzedFrames)),
		logger.Int("detections", len(res.Detections)),
		logger.Int("evidence_frames", res.EvidenceFrames),
		logger.Duration("duration", time.Since(start)))
	return res, nil
}

func (s *Sampler) analyze(ctx context.Context, i int, img image.Image, res *Result) (image.Image, error) {
	frame, err := s.Pipeline.Analyze(ctx, img)
	if err != nil {
		return nil, err
	}
	res.AnalyzedFrames = append(res.AnalyzedFrames, i)

	annotated := img
	if frame.Annotated != nil {
		annotated = frame.Annotated
	}

	var evidenceURL string
	if len(frame.Detections) > 0 && s.Evidence != nil &&
		(s.MaxEvidenceFrames <= 0 || res.EvidenceFrames < s.MaxEvidenceFrames) {
		evidenceURL, err = s.Evidence(i, annotated)
		if err != nil {
			return nil, errors.New(fmt.Errorf("save evidence frame %d: %w", i, err)).
				Component("video").
				Category(errors.CategoryFileIO).
				Build()
		}
		res.EvidenceFrames++
		s.Metrics.RecordEvidenceFrame()
	}

	for _, rec := range frame.Detections {
		rec.SetFrame(i, res.FPS)
		rec.FrameImageURL = evidenceURL
		res.Detections = append(res.Detections, rec)
	}
	return annotated, nil
}
