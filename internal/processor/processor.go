// Package processor runs an uploaded image or video through analysis and
// records the outcome in the history ledger.
package processor

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/ecoscout/ecoscout-go/internal/analysis"
	"github.com/ecoscout/ecoscout-go/internal/conf"
	"github.com/ecoscout/ecoscout-go/internal/errors"
	"github.com/ecoscout/ecoscout-go/internal/events"
	"github.com/ecoscout/ecoscout-go/internal/ledger"
	"github.com/ecoscout/ecoscout-go/internal/logger"
	"github.com/ecoscout/ecoscout-go/internal/mediastore"
	"github.com/ecoscout/ecoscout-go/internal/model"
	"github.com/ecoscout/ecoscout-go/internal/observability/metrics"
	"github.com/ecoscout/ecoscout-go/internal/video"
)

// ErrUnsupportedMedia is returned for files that are neither a supported
// image nor a supported video.
var ErrUnsupportedMedia = errors.NewStd("unsupported file type")

var (
	imageExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".bmp": true}
	videoExtensions = map[string]bool{".mp4": true, ".avi": true, ".mov": true}
)

// KindOf classifies filename by its extension, ignoring case.
func KindOf(filename string) (model.MediaKind, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch {
	case imageExtensions[ext]:
		return model.MediaImage, nil
	case videoExtensions[ext]:
		return model.MediaVideo, nil
	}
	return "", errors.New(fmt.Errorf("%w: %q", ErrUnsupportedMedia, ext)).
		Component("processor").
		Category(errors.CategoryUnsupportedMedia).
		Context("filename", filename).
		Build()
}

// Analyzer detects and annotates one frame.
type Analyzer interface {
	video.FrameAnalyzer
	Violations() model.ViolationSet
}

// Publisher accepts analysis events without blocking.
type Publisher interface {
	TryPublish(ev *events.AnalysisEvent) bool
}

// ReportCache forgets rendered reports.
type ReportCache interface {
	Invalidate(ids ...string)
}

// ProgressFunc is called after every written video frame. total is the frame
// count reported by the container and may be zero.
type ProgressFunc func(done, total int)

// Option configures a Processor.
type Option func(*Processor)

// WithVideoIO replaces the OpenCV video reader and writer.
func WithVideoIO(v VideoIO) Option {
	return func(p *Processor) { p.video = v }
}

// WithVideoSettings sets stride, evidence cap and fps fallback.
func WithVideoSettings(s conf.VideoSettings) Option {
	return func(p *Processor) { p.videoCfg = s }
}

// WithPublisher publishes an event for every stored record.
func WithPublisher(pub Publisher) Option {
	return func(p *Processor) { p.publisher = pub }
}

// WithReports invalidates cached reports on delete.
func WithReports(r ReportCache) Option {
	return func(p *Processor) { p.reports = r }
}

// WithMetrics records analysis outcomes and frame counts.
func WithMetrics(m *metrics.PipelineMetrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// WithIDGenerator replaces uuid.NewString.
func WithIDGenerator(fn func() string) Option {
	return func(p *Processor) { p.newID = fn }
}

// Processor handles uploads and deletions.
type Processor struct {
	analyzer  Analyzer
	store     *mediastore.Store
	ledger    *ledger.Ledger
	video     VideoIO
	videoCfg  conf.VideoSettings
	publisher Publisher
	reports   ReportCache
	metrics   *metrics.PipelineMetrics
	newID     func() string
	log       logger.Logger
}

// GetLogger returns the processor module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("processor")
}

// New creates a Processor.
func New(analyzer Analyzer, store *mediastore.Store, l *ledger.Ledger, opts ...Option) (*Processor, error) {
	if analyzer == nil || store == nil || l == nil {
		return nil, errors.Newf("processor requires an analyzer, a media store and a ledger").
			Component("processor").
			Category(errors.CategoryConfiguration).
			Build()
	}
	p := &Processor{
		analyzer: analyzer,
		store:    store,
		ledger:   l,
		videoCfg: conf.VideoSettings{Stride: video.DefaultStride, DefaultFPS: video.DefaultFPS},
		newID:    uuid.NewString,
		log:      GetLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.video == nil {
		p.video = NewGoCVVideoIO(p.videoCfg.Codec, p.videoCfg.FallbackCodec)
	}
	if p.videoCfg.Stride <= 0 {
		p.videoCfg.Stride = video.DefaultStride
	}
	return p, nil
}

// Process stores the upload read from r, analyzes it and appends the record
// to the ledger. Nothing is recorded when any step fails, and the files
// written so far are removed.
func (p *Processor) Process(ctx context.Context, filename string, r io.Reader, progress ProgressFunc) (*model.AnalysisRecord, error) {
	kind, err := KindOf(filename)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	id := p.newID()
	upload := mediastore.UploadName(id, strings.ToLower(filepath.Ext(filename)))
	log := p.log.WithContext(ctx).With(logger.String("id", id), logger.String("media", string(kind)))

	if _, err := p.store.SaveUpload(upload, r); err != nil {
		p.metrics.RecordAnalysis(string(kind), model.StatusFailed, time.Since(start))
		return nil, err
	}

	var (
		rec     *model.AnalysisRecord
		created []string
	)
	if kind == model.MediaImage {
		rec, created, err = p.processImage(ctx, id, upload)
	} else {
		rec, created, err = p.processVideo(ctx, id, upload, progress)
	}
	if err == nil {
		err = p.ledger.Append(ctx, *rec)
	}
	if err != nil {
		p.store.Discard(upload, created...)
		p.metrics.RecordAnalysis(string(kind), model.StatusFailed, time.Since(start))
		log.Error("analysis failed", logger.Error(err))
		return nil, err
	}

	p.metrics.RecordAnalysis(string(kind), model.StatusSuccess, time.Since(start))
	if p.publisher != nil {
		p.publisher.TryPublish(events.NewAnalysisEvent(rec, p.analyzer.Violations()))
	}
	log.Info("analysis stored",
		logger.String("original_file", upload),
		logger.Int("detections", len(rec.Detections)),
		logger.Duration("duration", time.Since(start)))
	return rec, nil
}

// ProcessFile runs Process on a local file.
func (p *Processor) ProcessFile(ctx context.Context, path string, progress ProgressFunc) (*model.AnalysisRecord, error) {
	if _, err := KindOf(path); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New(err).
			Component("processor").
			Category(errors.CategoryFileIO).
			FileContext(path, 0).
			Build()
	}
	defer f.Close()
	return p.Process(ctx, filepath.Base(path), f, progress)
}

func (p *Processor) processImage(ctx context.Context, id, upload string) (*model.AnalysisRecord, []string, error) {
	path, err := p.store.UploadPath(upload)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.New(err).
			Component("processor").
			Category(errors.CategoryFileIO).
			Build()
	}
	img, err := analysis.DecodeImage(f)
	_ = f.Close()
	if err != nil {
		return nil, nil, err
	}

	frame, err := p.analyzer.Analyze(ctx, img)
	if err != nil {
		return nil, nil, err
	}
	var annotated image.Image = img
	if frame.Annotated != nil {
		annotated = frame.Annotated
	}

	name := mediastore.AnnotatedName(upload)
	created := []string{name}
	if err := p.writeImage(name, annotated); err != nil {
		return nil, created, err
	}

	return &model.AnalysisRecord{
		ID:                id,
		Status:            model.StatusSuccess,
		CreatedAt:         model.Now(),
		OriginalFile:      upload,
		AnnotatedImageURL: p.store.ResultURL(name),
		Detections:        nonNil(frame.Detections),
	}, created, nil
}

func (p *Processor) processVideo(ctx context.Context, id, upload string, progress ProgressFunc) (*model.AnalysisRecord, []string, error) {
	path, err := p.store.UploadPath(upload)
	if err != nil {
		return nil, nil, err
	}
	src, err := p.video.Open(path)
	if err != nil {
		return nil, nil, err
	}

	fps := src.FPS()
	if fps <= 0 {
		fps = p.videoCfg.DefaultFPS
		if fps <= 0 {
			fps = video.DefaultFPS
		}
	}

	name := mediastore.AnnotatedName(upload)
	created := []string{name}
	outPath, err := p.store.ResultPath(name)
	if err != nil {
		_ = src.Close()
		return nil, created, err
	}
	sink, err := p.video.Create(outPath, fps, src.Size())
	if err != nil {
		_ = src.Close()
		return nil, created, err
	}

	total := src.FrameCount()
	sampler := &video.Sampler{
		Stride:            p.videoCfg.Stride,
		MaxEvidenceFrames: p.videoCfg.MaxEvidenceFrames,
		DefaultFPS:        fps,
		Pipeline:          p.analyzer,
		Metrics:           p.metrics,
		Evidence: func(index int, annotated image.Image) (string, error) {
			evidence := mediastore.EvidenceName(id, index)
			created = append(created, evidence)
			if err := p.writeImage(evidence, annotated); err != nil {
				return "", err
			}
			return p.store.ResultURL(evidence), nil
		},
	}
	if progress != nil {
		sampler.OnFrame = func(i int) { progress(i+1, total) }
	}

	res, err := sampler.Run(ctx, src, sink)
	if err != nil {
		return nil, created, err
	}

	frames := res.FrameCount
	return &model.AnalysisRecord{
		ID:                id,
		Status:            model.StatusSuccess,
		CreatedAt:         model.Now(),
		OriginalFile:      upload,
		AnnotatedVideoURL: p.store.ResultURL(name),
		Detections:        nonNil(res.Detections),
		FrameCount:        &frames,
		Message:           model.MessageVideoProcessed,
	}, created, nil
}

// writeImage encodes img into the results area in the format named by the
// extension of name.
func (p *Processor) writeImage(name string, img image.Image) (err error) {
	format, err := imaging.FormatFromFilename(name)
	if err != nil {
		return errors.New(err).
			Component("processor").
			Category(errors.CategoryUnsupportedMedia).
			Context("name", name).
			Build()
	}
	f, err := p.store.CreateResult(name)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if err := imaging.Encode(f, img, format, imaging.JPEGQuality(90)); err != nil {
		return errors.New(fmt.Errorf("failed to encode %s: %w", name, err)).
			Component("processor").
			Category(errors.CategoryFileIO).
			Build()
	}
	return nil
}

// Delete removes the records with the given ids together with their media
// and returns the summary message shown to clients.
func (p *Processor) Delete(ctx context.Context, ids []string) (ledger.PurgeResult, string, error) {
	res, err := p.ledger.Purge(ctx, ids, p.store)
	if err != nil {
		return res, "", err
	}
	if p.reports != nil {
		p.reports.Invalidate(ids...)
	}
	return res, DeleteMessage(res), nil
}

// DeleteMessage formats a purge summary.
func DeleteMessage(res ledger.PurgeResult) string {
	return fmt.Sprintf("Deleted %d records and %d files", res.Records, res.FilesRemoved)
}

// History returns every record, newest first.
func (p *Processor) History(ctx context.Context) []model.AnalysisRecord {
	return p.ledger.ListAll(ctx)
}

// Record returns the record with id.
func (p *Processor) Record(ctx context.Context, id string) (model.AnalysisRecord, bool) {
	return p.ledger.Get(ctx, id)
}

// Violations is the configured violation label set.
func (p *Processor) Violations() model.ViolationSet {
	return p.analyzer.Violations()
}

func nonNil(dets []model.DetectionRecord) []model.DetectionRecord {
	if dets == nil {
		return []model.DetectionRecord{}
	}
	return dets
}
