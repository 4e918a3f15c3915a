package yolov5

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-glasses/images"
	"github.com/nvr-ai/go-glasses/models/model"
)

var testVocab = model.NewVocabulary([]string{"person", "chair", "door"})

func candidate(cx, cy, w, h, objectness float32, scores ...float32) Candidate {
	return Candidate{CenterX: cx, CenterY: cy, Width: w, Height: h, Objectness: objectness, ClassScores: scores}
}

func randomCandidates(rng *rand.Rand, n, numClasses, inputSize int) []Candidate {
	out := make([]Candidate, n)
	for i := range out {
		scores := make([]float32, numClasses)
		for j := range scores {
			scores[j] = rng.Float32()
		}
		out[i] = Candidate{
			CenterX:     rng.Float32()*float32(inputSize+40) - 20,
			CenterY:     rng.Float32()*float32(inputSize+40) - 20,
			Width:       rng.Float32() * float32(inputSize),
			Height:      rng.Float32() * float32(inputSize),
			Objectness:  rng.Float32(),
			ClassScores: scores,
		}
	}
	return out
}

func TestFilter_DropsLowConfidence(t *testing.T) {
	results := Filter(
		[]Candidate{candidate(16, 16, 8, 8, 0.5, 0.5, 0.1, 0.1)},
		testVocab,
		FilterOptions{Threshold: 0.7, InputSize: 32, Width: 32, Height: 32},
	)
	assert.Empty(t, results)
}

func TestFilter_ThresholdIsExclusive(t *testing.T) {
	c := candidate(16, 16, 8, 8, 1, 0.5, 0.25, 0)
	opts := FilterOptions{Threshold: 0.5, InputSize: 32, Width: 32, Height: 32}

	assert.Empty(t, Filter([]Candidate{c}, testVocab, opts))

	opts.Threshold = 0.49
	assert.Len(t, Filter([]Candidate{c}, testVocab, opts), 1)
}

func TestFilter_ConfidenceAndClass(t *testing.T) {
	results := Filter(
		[]Candidate{candidate(16, 16, 8, 8, 0.9, 0.1, 0.95, 0.3)},
		testVocab,
		FilterOptions{Threshold: 0.7, InputSize: 32, Width: 32, Height: 32},
	)

	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Class)
	assert.Equal(t, "chair", results[0].Label)
	assert.InDelta(t, 0.855, results[0].Score, 1e-6)
}

func TestFilter_ArgmaxFirstMaximumWins(t *testing.T) {
	results := Filter(
		[]Candidate{candidate(16, 16, 8, 8, 1, 0.2, 0.9, 0.9)},
		testVocab,
		FilterOptions{Threshold: 0.5, InputSize: 32, Width: 32, Height: 32},
	)

	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Class)
}

func TestFilter_RescalesIndependently(t *testing.T) {
	results := Filter(
		[]Candidate{candidate(16, 16, 8, 8, 1, 1, 0, 0)},
		testVocab,
		FilterOptions{Threshold: 0.5, InputSize: 32, Width: 64, Height: 128},
	)

	require.Len(t, results, 1)
	assert.Equal(t, images.Rect{X1: 24, Y1: 48, X2: 40, Y2: 80}, results[0].Box)
}

func TestFilter_Clamps(t *testing.T) {
	results := Filter(
		[]Candidate{candidate(2, 30, 10, 10, 1, 1, 0, 0)},
		testVocab,
		FilterOptions{Threshold: 0.5, InputSize: 32, Width: 32, Height: 32},
	)

	require.Len(t, results, 1)
	assert.Equal(t, images.Rect{X1: 0, Y1: 25, X2: 7, Y2: 31}, results[0].Box)
}

func TestFilter_ClampingProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	width, height := 640, 480

	results := Filter(
		randomCandidates(rng, 2000, 3, 64),
		testVocab,
		FilterOptions{Threshold: 0, InputSize: 64, Width: width, Height: height},
	)
	require.NotEmpty(t, results)

	for _, r := range results {
		assert.GreaterOrEqual(t, r.Box.X1, float32(0))
		assert.LessOrEqual(t, r.Box.X1, r.Box.X2)
		assert.LessOrEqual(t, r.Box.X2, float32(width-1))
		assert.GreaterOrEqual(t, r.Box.Y1, float32(0))
		assert.LessOrEqual(t, r.Box.Y1, r.Box.Y2)
		assert.LessOrEqual(t, r.Box.Y2, float32(height-1))
	}
}

func TestFilter_ThresholdMonotonicity(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	candidates := randomCandidates(rng, 1000, 3, 64)

	previous := len(candidates) + 1
	for _, threshold := range []float32{0, 0.1, 0.3, 0.5, 0.7, 0.9, 1} {
		n := len(Filter(candidates, testVocab, FilterOptions{Threshold: threshold, InputSize: 64, Width: 64, Height: 64}))
		assert.LessOrEqual(t, n, previous, "threshold %v", threshold)
		previous = n
	}
}

func TestFilter_SkipsEmptyScores(t *testing.T) {
	results := Filter(
		[]Candidate{candidate(16, 16, 8, 8, 1)},
		testVocab,
		FilterOptions{Threshold: 0, InputSize: 32, Width: 32, Height: 32},
	)
	assert.Empty(t, results)
}

func TestFilter_NoPositiveScore(t *testing.T) {
	results := Filter(
		[]Candidate{
			candidate(16, 16, 8, 8, -1, -0.9, -0.95, -0.99),
			candidate(16, 16, 8, 8, 1, 0, 0, 0),
		},
		testVocab,
		FilterOptions{Threshold: 0.7, InputSize: 32, Width: 32, Height: 32},
	)
	assert.Empty(t, results)
}

func TestArgmax(t *testing.T) {
	tests := []struct {
		name      string
		scores    []float32
		wantIndex int
		wantValue float32
	}{
		{name: "first maximum", scores: []float32{0.2, 0.9, 0.9}, wantIndex: 1, wantValue: 0.9},
		{name: "negatives ignored", scores: []float32{-0.5, 0.3, -0.1}, wantIndex: 1, wantValue: 0.3},
		{name: "all negative", scores: []float32{-0.9, -0.95}, wantIndex: -1, wantValue: 0},
		{name: "all zero", scores: []float32{0, 0}, wantIndex: -1, wantValue: 0},
		{name: "empty", scores: nil, wantIndex: -1, wantValue: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, v := argmax(tt.scores)
			assert.Equal(t, tt.wantIndex, idx)
			assert.Equal(t, tt.wantValue, v)
		})
	}
}
