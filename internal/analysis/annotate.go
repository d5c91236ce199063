package analysis

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/ecoscout/ecoscout-go/internal/model"
)

const (
	boxThickness  = 2
	labelOffsetY  = 10 // label baseline sits this far above the box
	plateOffsetY  = 20 // plate baseline sits this far below the box
	plateTextHead = "Plate: "
)

var (
	colorViolation = color.NRGBA{R: 255, A: 255}
	colorObject    = color.NRGBA{G: 255, A: 255}
	colorPlate     = color.NRGBA{B: 255, A: 255}
)

// Annotate returns a copy of img with every record drawn on it: a 2 px box,
// red for violations and green otherwise, the label with its confidence as a
// fraction above the box, and any accepted plate in blue below it. img is
// never modified.
func Annotate(img image.Image, records []model.DetectionRecord, violations model.ViolationSet) *image.NRGBA {
	dst := imaging.Clone(img)
	for i := range records {
		rec := &records[i]
		box := rec.BBox.Rect().Sub(img.Bounds().Min)

		col := colorObject
		if rec.IsViolation(violations) {
			col = colorViolation
		}

		drawBox(dst, box, col)
		drawText(dst, box.Min.X, box.Min.Y-labelOffsetY, LabelText(rec), col)
		if rec.HasPlate() {
			drawText(dst, box.Min.X, box.Max.Y+plateOffsetY, plateTextHead+rec.LicensePlate, colorPlate)
		}
	}
	return dst
}

// LabelText is the caption drawn above a detection, e.g. "smoke 0.91".
func LabelText(rec *model.DetectionRecord) string {
	return fmt.Sprintf("%s %.2f", rec.ViolationType, rec.Confidence/100)
}

// drawBox strokes the inside edge of r, clipped to dst.
func drawBox(dst draw.Image, r image.Rectangle, col color.Color) {
	r = r.Canon()
	t := boxThickness
	src := image.NewUniform(col)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+t), // top
		image.Rect(r.Min.X, r.Max.Y-t, r.Max.X, r.Max.Y), // bottom
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+t, r.Max.Y), // left
		image.Rect(r.Max.X-t, r.Min.Y, r.Max.X, r.Max.Y), // right
	}
	for _, e := range edges {
		e = e.Intersect(r).Intersect(dst.Bounds())
		if !e.Empty() {
			draw.Draw(dst, e, src, image.Point{}, draw.Src)
		}
	}
}

func drawText(dst draw.Image, x, y int, text string, col color.Color) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(col),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}
