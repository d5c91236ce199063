package processor

import (
	"image"

	"github.com/ecoscout/ecoscout-go/internal/video"
)

// VideoSource is a frame source that knows its geometry.
type VideoSource interface {
	video.FrameSource
	Size() image.Point
	FrameCount() int
}

// VideoIO opens videos for reading and creates annotated outputs.
type VideoIO interface {
	Open(path string) (VideoSource, error)
	Create(path string, fps float64, size image.Point) (video.FrameSink, error)
}

type gocvVideoIO struct {
	codec    string
	fallback string
}

// Codecs tried when none are configured.
const (
	DefaultCodec         = "avc1"
	DefaultFallbackCodec = "mp4v"
)

// NewGoCVVideoIO reads and writes videos with OpenCV.
func NewGoCVVideoIO(codec, fallback string) VideoIO {
	if codec == "" && fallback == "" {
		codec, fallback = DefaultCodec, DefaultFallbackCodec
	}
	return gocvVideoIO{codec: codec, fallback: fallback}
}

func (g gocvVideoIO) Open(path string) (VideoSource, error) {
	c, err := video.OpenCapture(path)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (g gocvVideoIO) Create(path string, fps float64, size image.Point) (video.FrameSink, error) {
	w, err := video.CreateWriter(path, g.codec, g.fallback, fps, size.X, size.Y)
	if err != nil {
		return nil, err
	}
	return w, nil
}
