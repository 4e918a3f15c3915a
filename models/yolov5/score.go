package yolov5

import (
	"github.com/nvr-ai/go-glasses/images"
	"github.com/nvr-ai/go-glasses/models/model"
	"github.com/nvr-ai/go-glasses/models/postprocess"
)

// FilterOptions controls scoring and the mapping back to the original image.
type FilterOptions struct {
	// Threshold keeps candidates whose class confidence is strictly above it.
	Threshold float32
	// InputSize is the square model input side.
	InputSize int
	// Width and Height of the original image.
	Width, Height int
}

// argmax returns the index and value of the first positive maximum of f, or
// -1 when no score is positive.
func argmax(f []float32) (int, float32) {
	r, m := -1, float32(0)
	for i, v := range f {
		if v > m {
			m = v
			r = i
		}
	}
	return r, m
}

// Filter scores candidates and keeps those above the threshold.
//
// The confidence of a candidate is objectness times its best class score. Kept
// boxes are converted to corners, rescaled from model-input pixels to the
// original image with independent horizontal and vertical ratios, and clamped
// to the image.
//
// Arguments:
//   - candidates: Decoded candidates.
//   - vocab: Label vocabulary used to name the classes.
//   - opts: Threshold and geometry.
//
// Returns:
//   - The surviving detections in candidate order.
func Filter(candidates []Candidate, vocab *model.Vocabulary, opts FilterOptions) []postprocess.Result {
	ratioX := float32(opts.Width) / float32(opts.InputSize)
	ratioY := float32(opts.Height) / float32(opts.InputSize)

	results := make([]postprocess.Result, 0, len(candidates)/16)
	for _, c := range candidates {
		classID, maxClass := argmax(c.ClassScores)
		if classID < 0 {
			continue
		}
		confidence := maxClass * c.Objectness
		if !(confidence > opts.Threshold) {
			continue
		}

		box := images.Rect{
			X1: (c.CenterX - c.Width/2) * ratioX,
			Y1: (c.CenterY - c.Height/2) * ratioY,
			X2: (c.CenterX + c.Width/2) * ratioX,
			Y2: (c.CenterY + c.Height/2) * ratioY,
		}

		results = append(results, postprocess.Result{
			Box:   box.Clamp(opts.Width, opts.Height),
			Score: confidence,
			Class: classID,
			Label: vocab.Name(classID),
		})
	}
	return results
}
