package video

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/ecoscout/ecoscout-go/internal/errors"
	"github.com/ecoscout/ecoscout-go/internal/logger"
)

// Capture reads frames from a video file with OpenCV.
type Capture struct {
	capture *gocv.VideoCapture
	frame   gocv.Mat
	fps     float64
	size    image.Point
	frames  int
}

// OpenCapture opens path for reading.
func OpenCapture(path string) (*Capture, error) {
	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to open video capture: %w", err)).
			Component("video").
			Category(errors.CategoryMediaDecode).
			FileContext(path, 0).
			Build()
	}
	if !vc.IsOpened() {
		_ = vc.Close()
		return nil, errors.Newf("video capture is not opened").
			Component("video").
			Category(errors.CategoryMediaDecode).
			FileContext(path, 0).
			Build()
	}

	return &Capture{
		capture: vc,
		frame:   gocv.NewMat(),
		fps:     vc.Get(gocv.VideoCaptureFPS),
		size: image.Pt(
			int(vc.Get(gocv.VideoCaptureFrameWidth)),
			int(vc.Get(gocv.VideoCaptureFrameHeight)),
		),
		frames: int(vc.Get(gocv.VideoCaptureFrameCount)),
	}, nil
}

// Read decodes the next frame into a Go image.
func (c *Capture) Read() (image.Image, bool, error) {
	if ok := c.capture.Read(&c.frame); !ok || c.frame.Empty() {
		return nil, false, nil
	}
	img, err := c.frame.ToImage()
	if err != nil {
		return nil, false, err
	}
	return img, true, nil
}

// FPS is the container frame rate, possibly 0.
func (c *Capture) FPS() float64 { return c.fps }

// Size is the frame size in pixels.
func (c *Capture) Size() image.Point { return c.size }

// FrameCount is the container's frame count estimate, used for progress only.
func (c *Capture) FrameCount() int { return c.frames }

// Close releases the capture and its frame buffer.
func (c *Capture) Close() error {
	errFrame := c.frame.Close()
	errCapture := c.capture.Close()
	return errors.Join(errFrame, errCapture)
}

// Writer encodes frames into a video file with OpenCV.
type Writer struct {
	writer *gocv.VideoWriter
	Codec  string // codec actually in use
}

// CreateWriter opens path for writing with codec, retrying with fallback when
// the first codec is unavailable in the local OpenCV build.
func CreateWriter(path, codec, fallback string, fps float64, width, height int) (*Writer, error) {
	if fps <= 0 {
		fps = DefaultFPS
	}
	lastErr := fmt.Errorf("no codec configured")
	for _, c := range []string{codec, fallback} {
		if c == "" {
			continue
		}
		vw, err := gocv.VideoWriterFile(path, c, fps, width, height, true)
		if err == nil && vw.IsOpened() {
			return &Writer{writer: vw, Codec: c}, nil
		}
		if vw != nil {
			_ = vw.Close()
		}
		if err == nil {
			err = fmt.Errorf("codec %s not available", c)
		}
		lastErr = err
		GetLogger().Warn("video codec unavailable", logger.String("codec", c), logger.Error(err))
	}
	return nil, errors.New(fmt.Errorf("failed to create video writer: %w", lastErr)).
		Component("video").
		Category(errors.CategoryVideo).
		FileContext(path, 0).
		Build()
}

// Write encodes one frame.
func (w *Writer) Write(img image.Image) error {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return err
	}
	defer mat.Close()
	return w.writer.Write(mat)
}

// Close finalizes the file.
func (w *Writer) Close() error {
	return w.writer.Close()
}
