// Package postprocess - Postprocessing utilities for models.
package postprocess

import "github.com/nvr-ai/go-glasses/images"

// Result represents a single detection result.
type Result struct {
	// The bounding box of the result in original-image pixels.
	Box images.Rect `json:"box"`
	// The confidence score of the result.
	Score float32 `json:"score"`
	// The predicted class index of the result.
	Class int `json:"class"`
	// The class name looked up in the label vocabulary.
	Label string `json:"label"`
}
