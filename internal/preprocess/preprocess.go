// Package preprocess prepares license plate crops for text recognition.
package preprocess

import (
	"image"

	"gocv.io/x/gocv"

	"github.com/ecoscout/ecoscout-go/internal/errors"
)

// Options controls the plate normalization steps.
type Options struct {
	Upscale    float64     // resize factor applied to both axes
	CLAHEClip  float64     // CLAHE contrast limit
	CLAHETiles image.Point // CLAHE tile grid
	BilateralD int         // bilateral filter neighbourhood diameter in pixels
	SigmaColor float64     // bilateral filter sigma in color space
	SigmaSpace float64     // bilateral filter sigma in coordinate space
}

// DefaultOptions returns the normalization used for plate OCR.
func DefaultOptions() Options {
	return Options{
		Upscale:    2,
		CLAHEClip:  2.0,
		CLAHETiles: image.Pt(8, 8),
		BilateralD: 11,
		SigmaColor: 17,
		SigmaSpace: 17,
	}
}

// Plate normalizes a crop with DefaultOptions. See Options.Plate.
func Plate(crop image.Image) (*image.Gray, error) {
	return DefaultOptions().Plate(crop)
}

// Plate converts crop to grayscale, upscales it with bicubic interpolation,
// equalizes contrast with CLAHE, smooths it with an edge-preserving bilateral
// filter and binarizes it with Otsu's threshold. A nil or zero-area crop
// returns nil without error.
func (o Options) Plate(crop image.Image) (*image.Gray, error) {
	if crop == nil || crop.Bounds().Empty() {
		return nil, nil
	}

	src, err := gocv.ImageToMatRGB(crop)
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryOCR).
			Context("operation", "crop-to-mat").
			Build()
	}
	defer src.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(gray, &resized, image.Point{}, o.Upscale, o.Upscale, gocv.InterpolationCubic)

	equalized := gocv.NewMat()
	defer equalized.Close()
	clahe := gocv.NewCLAHEWithParams(o.CLAHEClip, o.CLAHETiles)
	defer clahe.Close()
	clahe.Apply(resized, &equalized)

	smoothed := gocv.NewMat()
	defer smoothed.Close()
	gocv.BilateralFilter(equalized, &smoothed, o.BilateralD, o.SigmaColor, o.SigmaSpace)

	binary := gocv.NewMat()
	defer binary.Close()
	gocv.Threshold(smoothed, &binary, 0, 255, gocv.ThresholdBinary|gocv.ThresholdOtsu)

	out, err := binary.ToImage()
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryOCR).
			Context("operation", "mat-to-image").
			Build()
	}

	g, ok := out.(*image.Gray)
	if !ok {
		return nil, errors.Newf("unexpected preprocessed image type %T", out).
			Category(errors.CategoryOCR).
			Build()
	}
	return g, nil
}
