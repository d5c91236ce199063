package ocr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// oneHot builds a [steps x classes] score matrix where each step picks the given class.
func oneHot(classes int, picks ...int) []float32 {
	scores := make([]float32, len(picks)*classes)
	for t, k := range picks {
		for c := 0; c < classes; c++ {
			scores[t*classes+c] = 0.1 / float32(classes-1)
		}
		scores[t*classes+k] = 0.9
	}
	return scores
}

func TestDecodeCTC(t *testing.T) {
	t.Parallel()

	const alphabet = "AB12"
	blank := len(alphabet) // 4, classes = 5

	tests := []struct {
		name  string
		picks []int
		want  string
	}{
		{"collapses repeats", []int{0, 0, 1, 1}, "AB"},
		{"blank separates repeats", []int{2, blank, 2, 3}, "112"},
		{"all blank", []int{blank, blank}, ""},
		{"leading and trailing blanks", []int{blank, 0, blank, 3, blank}, "A2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			text, conf := decodeCTC(oneHot(blank+1, tt.picks...), len(tt.picks), blank+1, alphabet)
			assert.Equal(t, tt.want, text)
			if tt.want == "" {
				assert.Zero(t, conf)
			} else {
				assert.InDelta(t, 0.9, conf, 1e-6)
			}
		})
	}
}

func TestDecodeCTC_Logits(t *testing.T) {
	t.Parallel()

	// raw logits, class 1 dominates in both steps and collapses to one character
	scores := []float32{-2, 5, -1, -2, 5, -1}
	text, conf := decodeCTC(scores, 2, 3, "XY")
	assert.Equal(t, "Y", text)
	assert.Greater(t, conf, 0.9)
	assert.LessOrEqual(t, conf, 1.0)
}

func TestDecodeCTC_ShortInput(t *testing.T) {
	t.Parallel()

	text, conf := decodeCTC([]float32{0.5}, 2, 3, "AB")
	assert.Empty(t, text)
	assert.Zero(t, conf)
}

func TestValidateInputShape(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		dims    []int
		wantErr bool
	}{
		{name: "grayscale", dims: []int{1, 32, 128, 1}},
		{name: "rgb", dims: []int{1, 32, 128, 3}, wantErr: true},
		{name: "batched", dims: []int{4, 32, 128, 1}, wantErr: true},
		{name: "three dims", dims: []int{1, 32, 128}, wantErr: true},
		{name: "zero width", dims: []int{1, 32, 0, 1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := validateInputShape(tt.dims)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}
