// Package analysis turns frames into detection records: object detection,
// plate crop normalization, text recognition and annotation.
package analysis

import (
	"context"
	"fmt"
	"image"
	"io"
	"time"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp" // register BMP decoding for uploads

	"github.com/ecoscout/ecoscout-go/internal/conf"
	"github.com/ecoscout/ecoscout-go/internal/detector"
	"github.com/ecoscout/ecoscout-go/internal/errors"
	"github.com/ecoscout/ecoscout-go/internal/logger"
	"github.com/ecoscout/ecoscout-go/internal/model"
	"github.com/ecoscout/ecoscout-go/internal/observability/metrics"
	"github.com/ecoscout/ecoscout-go/internal/ocr"
	"github.com/ecoscout/ecoscout-go/internal/preprocess"
)

// Config controls classification and plate reading.
type Config struct {
	Violations model.ViolationSet
	Allowlist  string
	Policy     ocr.Policy
	Preprocess preprocess.Options
}

// ConfigFromSettings builds a pipeline Config.
func ConfigFromSettings(settings *conf.Settings) Config {
	opts := preprocess.DefaultOptions()
	if settings.Analysis.CLAHEClip > 0 {
		opts.CLAHEClip = settings.Analysis.CLAHEClip
	}
	if settings.Analysis.Upscale > 0 {
		opts.Upscale = settings.Analysis.Upscale
	}
	return Config{
		Violations: settings.ViolationSet(),
		Allowlist:  settings.OCR.Allowlist,
		Policy:     ocr.PolicyFromSettings(settings),
		Preprocess: opts,
	}
}

// FrameResult is the outcome of analyzing one frame.
type FrameResult struct {
	Detections []model.DetectionRecord
	Annotated  *image.NRGBA
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics records detections and OCR outcomes.
func WithMetrics(m *metrics.PipelineMetrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLogger replaces the module logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// WithPreprocessor replaces the plate normalization step.
func WithPreprocessor(fn func(image.Image) (image.Image, error)) Option {
	return func(p *Pipeline) { p.preprocess = fn }
}

// Pipeline owns the detector and recognizer for its lifetime.
type Pipeline struct {
	cfg        Config
	det        detector.Detector
	rec        ocr.Recognizer
	metrics    *metrics.PipelineMetrics
	log        logger.Logger
	preprocess func(image.Image) (image.Image, error)
}

// GetLogger returns the analysis module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("analysis")
}

// New creates a pipeline. A nil recognizer disables plate reading.
func New(cfg Config, det detector.Detector, rec ocr.Recognizer, opts ...Option) (*Pipeline, error) {
	if det == nil {
		return nil, errors.Newf("analysis pipeline requires a detector").
			Component("analysis").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.Violations == nil {
		cfg.Violations = model.NewViolationSet(model.DefaultViolations...)
	}
	if cfg.Policy == (ocr.Policy{}) {
		cfg.Policy = ocr.DefaultPolicy()
	}

	p := &Pipeline{cfg: cfg, det: det, rec: rec}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = GetLogger()
	}
	if p.preprocess == nil {
		options := cfg.Preprocess
		if options == (preprocess.Options{}) {
			options = preprocess.DefaultOptions()
		}
		p.preprocess = func(crop image.Image) (image.Image, error) {
			gray, err := options.Plate(crop)
			if err != nil || gray == nil {
				return nil, err
			}
			return gray, nil
		}
	}
	return p, nil
}

// Violations returns the configured violation set.
func (p *Pipeline) Violations() model.ViolationSet {
	return p.cfg.Violations
}

// DecodeImage decodes a JPEG, PNG or BMP image.
func DecodeImage(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r)
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to decode image: %w", err)).
			Component("analysis").
			Category(errors.CategoryMediaDecode).
			Build()
	}
	return img, nil
}

// Process detects objects in img and reads plates from their crops. A
// detector failure fails the call; a plate reading failure only leaves that
// record with default plate fields.
func (p *Pipeline) Process(ctx context.Context, img image.Image) ([]model.DetectionRecord, error) {
	dets, err := p.det.Detect(ctx, img)
	if err != nil {
		if errors.IsCategory(err, errors.CategoryInference) {
			return nil, err
		}
		return nil, errors.New(err).
			Component("analysis").
			Category(errors.CategoryInference).
			Build()
	}

	records := make([]model.DetectionRecord, 0, len(dets))
	for _, d := range dets {
		rec := model.NewDetectionRecord(d.Label, float64(d.Confidence), model.BBoxFromRect(d.Box))
		violation := rec.IsViolation(p.cfg.Violations)
		p.metrics.RecordDetection(rec.ViolationType, violation)

		crop := d.Box.Intersect(img.Bounds())
		if p.rec == nil || crop.Empty() {
			p.metrics.RecordOCR(metrics.OCRSkipped)
		} else {
			p.readPlate(ctx, img, crop, &rec)
		}
		records = append(records, rec)
	}
	return records, nil
}

func (p *Pipeline) readPlate(ctx context.Context, img image.Image, crop image.Rectangle, rec *model.DetectionRecord) {
	start := time.Now()
	result, err := p.recognize(ctx, imaging.Crop(img, crop))
	if err != nil {
		p.metrics.RecordOCR(metrics.OCRError)
		p.log.Warn("plate reading failed, keeping defaults",
			logger.String("label", rec.ViolationType),
			logger.Any("bbox", rec.BBox),
			logger.Error(err))
		return
	}

	if result.Accepted {
		p.metrics.RecordOCR(metrics.OCRAccepted)
		result.Apply(rec)
	} else {
		p.metrics.RecordOCR(metrics.OCRRejected)
	}
	p.log.Debug("plate read",
		logger.String("label", rec.ViolationType),
		logger.String("raw_text", result.RawText),
		logger.Float64("mean_confidence", result.MeanConfidence),
		logger.Bool("accepted", result.Accepted),
		logger.Duration("duration", time.Since(start)))
}

func (p *Pipeline) recognize(ctx context.Context, crop image.Image) (ocr.Result, error) {
	normalized, err := p.preprocess(crop)
	if err != nil {
		return ocr.Result{}, err
	}
	if normalized == nil {
		return ocr.Aggregate(nil, p.cfg.Policy), nil
	}
	segments, err := p.rec.Recognize(ctx, normalized, p.cfg.Allowlist)
	if err != nil {
		return ocr.Result{}, err
	}
	return ocr.Aggregate(segments, p.cfg.Policy), nil
}

// Analyze processes img and returns its records with the annotated frame.
func (p *Pipeline) Analyze(ctx context.Context, img image.Image) (FrameResult, error) {
	records, err := p.Process(ctx, img)
	if err != nil {
		return FrameResult{}, err
	}
	return FrameResult{
		Detections: records,
		Annotated:  Annotate(img, records, p.cfg.Violations),
	}, nil
}

// Close releases the detector and recognizer.
func (p *Pipeline) Close() error {
	var errs []error
	if err := p.det.Close(); err != nil {
		errs = append(errs, err)
	}
	if p.rec != nil {
		if err := p.rec.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
