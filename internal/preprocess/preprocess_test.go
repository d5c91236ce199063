package preprocess

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// plateCrop draws dark glyph-like bars on a light background.
func plateCrop(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			c := color.NRGBA{R: 220, G: 220, B: 210, A: 255}
			if (x/6)%2 == 0 && y > h/4 && y < 3*h/4 {
				c = color.NRGBA{R: 20, G: 25, B: 30, A: 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestPlate_NilAndEmpty(t *testing.T) {
	t.Parallel()

	out, err := Plate(nil)
	require.NoError(t, err)
	assert.Nil(t, out)

	out, err = Plate(image.NewNRGBA(image.Rect(0, 0, 0, 10)))
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestPlate_UpscalesAndBinarizes(t *testing.T) {
	t.Parallel()

	out, err := Plate(plateCrop(60, 20))
	require.NoError(t, err)
	require.NotNil(t, out)

	assert.Equal(t, 120, out.Bounds().Dx())
	assert.Equal(t, 40, out.Bounds().Dy())

	seen := map[uint8]bool{}
	for _, v := range out.Pix {
		seen[v] = true
	}
	for v := range seen {
		assert.True(t, v == 0 || v == 255, "non-binary pixel value %d", v)
	}
	assert.Len(t, seen, 2, "plate with glyphs must produce both foreground and background")
}

func TestPlate_Deterministic(t *testing.T) {
	t.Parallel()

	crop := plateCrop(48, 16)
	a, err := Plate(crop)
	require.NoError(t, err)
	b, err := Plate(crop)
	require.NoError(t, err)

	assert.Equal(t, a.Pix, b.Pix)
}

func TestOptions_CustomUpscale(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	opts.Upscale = 3

	out, err := opts.Plate(plateCrop(20, 10))
	require.NoError(t, err)
	assert.Equal(t, image.Pt(60, 30), out.Bounds().Size())
}
