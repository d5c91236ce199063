// Package detector finds vehicles, plates and violations in frames using a
// YOLO-family ONNX model.
package detector

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"os"
	"strings"

	"github.com/ecoscout/ecoscout-go/internal/conf"
	"github.com/ecoscout/ecoscout-go/internal/errors"
	"github.com/ecoscout/ecoscout-go/internal/logger"
)

// Detection is one object found in a frame. Box is in frame pixel
// coordinates and may be empty for degenerate predictions.
type Detection struct {
	Box        image.Rectangle
	Label      string
	Confidence float32 // 0..1
}

// Detector finds objects in an image.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]Detection, error)
	Labels() []string
	Close() error
}

// Config holds the detector model and post-processing parameters.
type Config struct {
	ModelPath           string
	RuntimeLibrary      string // onnxruntime shared library; empty uses the platform default
	Labels              []string
	InputSize           int // square model input edge in pixels
	ConfidenceThreshold float32
	IoUThreshold        float32
	Threads             int
	PoolSize            int
}

// GetLogger returns the detector module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("detector")
}

// ConfigFromSettings builds a detector Config, reading labels from
// detector.labelpath when it is set.
func ConfigFromSettings(settings *conf.Settings) (Config, error) {
	ds := settings.Detector
	cfg := Config{
		ModelPath:           settings.ResolvePath(ds.ModelPath),
		RuntimeLibrary:      ds.RuntimeLibrary,
		Labels:              ds.Labels,
		InputSize:           ds.InputSize,
		ConfidenceThreshold: float32(ds.ConfidenceThreshold),
		IoUThreshold:        float32(ds.IoUThreshold),
		Threads:             ds.Threads,
		PoolSize:            ds.PoolSize,
	}
	if ds.LabelPath != "" {
		labels, err := LoadLabels(settings.ResolvePath(ds.LabelPath))
		if err != nil {
			return cfg, err
		}
		cfg.Labels = labels
	}
	if len(cfg.Labels) == 0 {
		return cfg, errors.Newf("detector has no labels configured").
			Component("detector").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return cfg, nil
}

// LoadLabels reads one label per line, skipping blank lines.
func LoadLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to open label file: %w", err)).
			Component("detector").
			Category(errors.CategoryModelInit).
			Context("label_path", path).
			Build()
	}
	defer func() { _ = f.Close() }()

	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if label := strings.TrimSpace(scanner.Text()); label != "" {
			labels = append(labels, label)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.New(fmt.Errorf("failed to read label file: %w", err)).
			Component("detector").
			Category(errors.CategoryModelInit).
			Context("label_path", path).
			Build()
	}
	return labels, nil
}
