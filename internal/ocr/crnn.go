package ocr

import (
	"context"
	"fmt"
	"image"
	"math"
	"os"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/tphakala/go-tflite"

	"github.com/ecoscout/ecoscout-go/internal/errors"
	"github.com/ecoscout/ecoscout-go/internal/logger"
)

// CRNNRecognizer runs a TFLite CRNN line recognizer. The model takes a
// [1, H, W, 1] grayscale tensor in 0..1 and emits per-timestep class scores
// [1, T, C] where the last class is the CTC blank and class i < C-1 maps to
// the i-th allowlist character.
type CRNNRecognizer struct {
	mu          sync.Mutex
	interpreter *tflite.Interpreter
	width       int
	height      int
}

// NewCRNN loads the model at modelPath with the given interpreter thread count.
func NewCRNN(modelPath string, threads int) (*CRNNRecognizer, error) {
	modelData, err := os.ReadFile(modelPath)
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to read CRNN model: %w", err)).
			Component("ocr").
			Category(errors.CategoryModelInit).
			Context("model_path", modelPath).
			Build()
	}

	model := tflite.NewModel(modelData)
	if model == nil {
		return nil, errors.Newf("cannot load TensorFlow Lite model").
			Component("ocr").
			Category(errors.CategoryModelInit).
			Context("model_path", modelPath).
			Build()
	}

	options := tflite.NewInterpreterOptions()
	options.SetNumThread(max(1, threads))
	options.SetErrorReporter(func(msg string, _ any) {
		GetLogger().Error("TFLite error", logger.String("message", msg))
	}, nil)

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		return nil, errors.Newf("cannot create CRNN interpreter").
			Component("ocr").
			Category(errors.CategoryModelInit).
			Build()
	}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		interpreter.Delete()
		return nil, errors.Newf("CRNN tensor allocation failed").
			Component("ocr").
			Category(errors.CategoryModelInit).
			Build()
	}

	input := interpreter.GetInputTensor(0)
	if input == nil {
		interpreter.Delete()
		return nil, errors.Newf("CRNN model has no input tensor").
			Component("ocr").
			Category(errors.CategoryModelInit).
			Build()
	}
	dims := make([]int, input.NumDims())
	for i := range dims {
		dims[i] = input.Dim(i)
	}
	if err := validateInputShape(dims); err != nil {
		interpreter.Delete()
		return nil, errors.New(err).
			Component("ocr").
			Category(errors.CategoryModelInit).
			Context("model_path", modelPath).
			Build()
	}

	return &CRNNRecognizer{
		interpreter: interpreter,
		height:      dims[1],
		width:       dims[2],
	}, nil
}

// validateInputShape accepts a [1, H, W, 1] grayscale input with H, W > 0.
func validateInputShape(dims []int) error {
	if len(dims) != 4 || dims[0] != 1 || dims[1] <= 0 || dims[2] <= 0 || dims[3] != 1 {
		return fmt.Errorf("CRNN model must take a [1, H, W, 1] input, got %v", dims)
	}
	return nil
}

// Recognize decodes the whole crop as a single segment.
func (c *CRNNRecognizer) Recognize(ctx context.Context, img image.Image, allowlist string) ([]Segment, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	gray := imaging.Grayscale(imaging.Resize(img, c.width, c.height, imaging.Linear))

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.interpreter == nil {
		return nil, errors.Newf("CRNN recognizer is closed").
			Component("ocr").
			Category(errors.CategoryOCR).
			Build()
	}

	in := c.interpreter.GetInputTensor(0).Float32s()
	for y := 0; y < c.height; y++ {
		for x := 0; x < c.width; x++ {
			// imaging.Grayscale keeps R=G=B
			in[y*c.width+x] = float32(gray.Pix[gray.PixOffset(x, y)]) / 255
		}
	}

	if status := c.interpreter.Invoke(); status != tflite.OK {
		return nil, errors.Newf("CRNN invoke failed: %v", status).
			Component("ocr").
			Category(errors.CategoryOCR).
			Build()
	}

	out := c.interpreter.GetOutputTensor(0)
	steps, classes := out.Dim(out.NumDims()-2), out.Dim(out.NumDims()-1)
	scores := make([]float32, steps*classes)
	copy(scores, out.Float32s())

	text, conf := decodeCTC(scores, steps, classes, allowlist)
	if text == "" {
		return nil, nil
	}
	return []Segment{{
		Text:       text,
		Quad:       QuadFromRect(img.Bounds()),
		Confidence: conf,
	}}, nil
}

// Close releases the interpreter.
func (c *CRNNRecognizer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.interpreter != nil {
		c.interpreter.Delete()
		c.interpreter = nil
	}
	return nil
}

// decodeCTC performs greedy CTC decoding with the blank at index classes-1.
// Rows that are not already probabilities are passed through softmax. The
// returned confidence is the mean probability of the emitted characters.
func decodeCTC(scores []float32, steps, classes int, alphabet string) (string, float64) {
	if classes < 2 || len(scores) < steps*classes {
		return "", 0
	}
	runes := []rune(alphabet)
	blank := classes - 1

	var (
		out  []rune
		sum  float64
		prev = blank
	)
	for t := 0; t < steps; t++ {
		row := probabilities(scores[t*classes : (t+1)*classes])
		best := 0
		for k := 1; k < classes; k++ {
			if row[k] > row[best] {
				best = k
			}
		}
		if best != blank && best != prev && best < len(runes) {
			out = append(out, runes[best])
			sum += row[best]
		}
		prev = best
	}
	if len(out) == 0 {
		return "", 0
	}
	return string(out), sum / float64(len(out))
}

func probabilities(row []float32) []float64 {
	p := make([]float64, len(row))
	isProb := true
	var total float64
	for i, v := range row {
		p[i] = float64(v)
		total += p[i]
		if v < 0 || v > 1 {
			isProb = false
		}
	}
	if isProb && math.Abs(total-1) < 1e-3 {
		return p
	}

	maxV := p[0]
	for _, v := range p[1:] {
		maxV = math.Max(maxV, v)
	}
	total = 0
	for i := range p {
		p[i] = math.Exp(p[i] - maxV)
		total += p[i]
	}
	for i := range p {
		p[i] /= total
	}
	return p
}
