package detector

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/ecoscout/ecoscout-go/internal/errors"
	"github.com/ecoscout/ecoscout-go/internal/logger"
)

const (
	inputName  = "images"
	outputName = "output0"
)

var envMu sync.Mutex

// session is one ONNX runtime session with its bound tensors.
type session struct {
	run    *ort.AdvancedSession
	input  *ort.Tensor[float32]
	output *ort.Tensor[float32]
}

func (s *session) destroy() {
	if s.run != nil {
		_ = s.run.Destroy()
	}
	if s.input != nil {
		_ = s.input.Destroy()
	}
	if s.output != nil {
		_ = s.output.Destroy()
	}
}

// YOLO runs a YOLOv8/YOLO11 export whose head emits [1, 4+C, N].
type YOLO struct {
	cfg     Config
	anchors int
	pool    *Pool[*session]
}

// NewYOLO initializes the ONNX runtime environment when needed and builds a
// pool of cfg.PoolSize sessions.
func NewYOLO(cfg Config) (*YOLO, error) {
	start := time.Now()
	if cfg.InputSize <= 0 {
		cfg.InputSize = 640
	}
	if len(cfg.Labels) == 0 {
		return nil, errors.Newf("detector has no labels").
			Component("detector").
			Category(errors.CategoryModelInit).
			Build()
	}

	if err := initEnvironment(cfg.RuntimeLibrary); err != nil {
		return nil, err
	}

	y := &YOLO{cfg: cfg, anchors: anchorCount(cfg.InputSize)}
	pool, err := NewPool(cfg.PoolSize, y.newSession, (*session).destroy)
	if err != nil {
		return nil, errors.New(err).
			Component("detector").
			Category(errors.CategoryModelInit).
			Context("model_path", cfg.ModelPath).
			Timing("model-init", time.Since(start)).
			Build()
	}
	y.pool = pool

	GetLogger().Info("detector ready",
		logger.String("model_path", cfg.ModelPath),
		logger.Int("classes", len(cfg.Labels)),
		logger.Int("input_size", cfg.InputSize),
		logger.Int("pool_size", cap(pool.sessions)),
		logger.Duration("init_duration", time.Since(start)))
	return y, nil
}

func initEnvironment(library string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if library != "" {
		ort.SetSharedLibraryPath(library)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.New(fmt.Errorf("failed to initialize ONNX runtime: %w", err)).
			Component("detector").
			Category(errors.CategoryModelInit).
			Context("runtime_library", library).
			Build()
	}
	return nil
}

func (y *YOLO) newSession() (*session, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer func() { _ = options.Destroy() }()

	if y.cfg.Threads > 0 {
		if err := options.SetIntraOpNumThreads(y.cfg.Threads); err != nil {
			return nil, fmt.Errorf("error setting thread count: %w", err)
		}
	}

	s := &session{}
	s.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(y.cfg.InputSize), int64(y.cfg.InputSize)))
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}
	s.output, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(4+len(y.cfg.Labels)), int64(y.anchors)))
	if err != nil {
		s.destroy()
		return nil, fmt.Errorf("error creating output tensor: %w", err)
	}
	s.run, err = ort.NewAdvancedSession(y.cfg.ModelPath,
		[]string{inputName}, []string{outputName},
		[]ort.ArbitraryTensor{s.input}, []ort.ArbitraryTensor{s.output},
		options)
	if err != nil {
		s.destroy()
		return nil, fmt.Errorf("error creating session: %w", err)
	}
	return s, nil
}

// Detect runs the model on img and returns NMS-filtered detections in frame
// coordinates, most confident first.
func (y *YOLO) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, errors.Newf("empty frame").
			Component("detector").
			Category(errors.CategoryValidation).
			Build()
	}

	canvas, geom := letterbox(img, y.cfg.InputSize)

	s, err := y.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer y.pool.Release(s)

	fillCHW(canvas, s.input.GetData())

	start := time.Now()
	if err := s.run.Run(); err != nil {
		return nil, errors.New(fmt.Errorf("model inference: %w", err)).
			Component("detector").
			Category(errors.CategoryInference).
			Timing("inference", time.Since(start)).
			Build()
	}

	dets := decode(s.output.GetData(), y.cfg.Labels, y.anchors, y.cfg.ConfidenceThreshold, geom)
	dets = nms(dets, y.cfg.IoUThreshold)

	GetLogger().Trace("frame inferred",
		logger.Int("detections", len(dets)),
		logger.Duration("inference_duration", time.Since(start)))
	return dets, nil
}

// Labels returns the class labels in model output order.
func (y *YOLO) Labels() []string {
	out := make([]string, len(y.cfg.Labels))
	copy(out, y.cfg.Labels)
	return out
}

// Close destroys every session. The shared runtime environment stays up for
// the life of the process.
func (y *YOLO) Close() error {
	if y.pool != nil {
		y.pool.Close()
	}
	return nil
}
