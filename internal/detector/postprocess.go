package detector

import (
	"image"
	"image/color"
	"math"
	"sort"

	"github.com/disintegration/imaging"
)

// letterboxFill is the padding colour used by YOLO training pipelines.
var letterboxFill = color.NRGBA{R: 114, G: 114, B: 114, A: 255}

// geometry maps model input coordinates back to the source frame.
type geometry struct {
	scale      float32
	padX, padY float32
	width      int // source frame size
	height     int
}

// anchorCount returns the number of predictions a YOLOv8-style head emits for
// a square input: one per cell at strides 8, 16 and 32.
func anchorCount(size int) int {
	n := 0
	for _, stride := range []int{8, 16, 32} {
		cells := size / stride
		n += cells * cells
	}
	return n
}

// letterbox scales img to fit a size x size canvas, keeping the aspect ratio,
// and centres it on grey padding.
func letterbox(img image.Image, size int) (*image.NRGBA, geometry) {
	b := img.Bounds()
	g := geometry{width: b.Dx(), height: b.Dy()}
	g.scale = float32(math.Min(float64(size)/float64(b.Dx()), float64(size)/float64(b.Dy())))

	w := max(1, int(math.Round(float64(float32(b.Dx())*g.scale))))
	h := max(1, int(math.Round(float64(float32(b.Dy())*g.scale))))
	g.padX = float32(size-w) / 2
	g.padY = float32(size-h) / 2

	resized := imaging.Resize(img, w, h, imaging.Linear)
	canvas := imaging.New(size, size, letterboxFill)
	canvas = imaging.Paste(canvas, resized, image.Pt(int(g.padX), int(g.padY)))
	return canvas, g
}

// fillCHW writes img into dst as planar RGB scaled to 0..1.
func fillCHW(img *image.NRGBA, dst []float32) {
	size := img.Bounds().Dx() * img.Bounds().Dy()
	w := img.Bounds().Dx()
	for y := 0; y < img.Bounds().Dy(); y++ {
		for x := 0; x < w; x++ {
			off := img.PixOffset(x, y)
			i := y*w + x
			dst[i] = float32(img.Pix[off]) / 255
			dst[size+i] = float32(img.Pix[off+1]) / 255
			dst[2*size+i] = float32(img.Pix[off+2]) / 255
		}
	}
}

// decode converts a [4+C, N] YOLO head output in centre-xywh input pixels into
// detections above threshold, mapped back onto the source frame.
func decode(output []float32, labels []string, anchors int, threshold float32, g geometry) []Detection {
	classes := len(labels)
	if anchors <= 0 || len(output) < (4+classes)*anchors {
		return nil
	}

	var dets []Detection
	for i := 0; i < anchors; i++ {
		best, bestScore := -1, threshold
		for c := 0; c < classes; c++ {
			if s := output[(4+c)*anchors+i]; s >= bestScore {
				best, bestScore = c, s
			}
		}
		if best < 0 {
			continue
		}

		cx, cy := output[i], output[anchors+i]
		w, h := output[2*anchors+i], output[3*anchors+i]
		dets = append(dets, Detection{
			Box:        g.toFrame(cx-w/2, cy-h/2, cx+w/2, cy+h/2),
			Label:      labels[best],
			Confidence: bestScore,
		})
	}
	return dets
}

func (g geometry) toFrame(x1, y1, x2, y2 float32) image.Rectangle {
	unmap := func(v, pad float32, limit int) int {
		f := (v - pad) / g.scale
		return int(math.Max(0, math.Min(float64(limit), float64(f))))
	}
	return image.Rect(
		unmap(x1, g.padX, g.width),
		unmap(y1, g.padY, g.height),
		unmap(x2, g.padX, g.width),
		unmap(y2, g.padY, g.height),
	)
}

// nms suppresses overlapping detections of the same label, keeping the most
// confident. The result is ordered by descending confidence.
func nms(dets []Detection, iouThreshold float32) []Detection {
	sorted := make([]Detection, len(dets))
	copy(sorted, dets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	kept := make([]Detection, 0, len(sorted))
	for _, d := range sorted {
		suppressed := false
		for _, k := range kept {
			if k.Label == d.Label && iou(k.Box, d.Box) > iouThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, d)
		}
	}
	return kept
}

func iou(a, b image.Rectangle) float32 {
	inter := a.Intersect(b)
	if inter.Empty() {
		return 0
	}
	ia := float32(inter.Dx() * inter.Dy())
	union := float32(a.Dx()*a.Dy()+b.Dx()*b.Dy()) - ia
	if union <= 0 {
		return 0
	}
	return ia / union
}
