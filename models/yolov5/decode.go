// Package yolov5 - decode, score and suppress YOLOv5 style model outputs.
package yolov5

import (
	"encoding/binary"
	"math"

	"github.com/nvr-ai/go-glasses/models/postprocess"
)

// boxFields is the number of values preceding the class scores of a box:
// center x, center y, width, height and objectness.
const boxFields = 5

// BoxCount returns the number of candidate boxes emitted for a square input of
// side inputSize: three anchors on each of the stride 32, 16 and 8 grids.
//
// @example
// BoxCount(416) // 3 * (13*13 + 26*26 + 52*52) = 10647
func BoxCount(inputSize int) int {
	s32 := inputSize / 32
	s16 := inputSize / 16
	s8 := inputSize / 8
	return 3 * (s32*s32 + s16*s16 + s8*s8)
}

// Stride returns the number of values per box.
func Stride(numClasses int) int {
	return numClasses + boxFields
}

// Candidate is one decoded, not yet filtered box proposal in model-input pixels.
type Candidate struct {
	CenterX     float32
	CenterY     float32
	Width       float32
	Height      float32
	Objectness  float32
	ClassScores []float32
}

// DecodeOptions describes the layout of a raw output buffer.
type DecodeOptions struct {
	// BoxCount is the number of boxes in the buffer.
	BoxCount int
	// NumClasses is the number of class scores per box.
	NumClasses int
	// InputSize is the square model input side.
	InputSize int
	// Normalized multiplies the box coordinates by InputSize. Leave unset for
	// models that already emit model-input pixels.
	Normalized bool
}

// Decode reshapes a flat [1, boxCount, numClasses+5] buffer into candidates.
//
// No filtering happens here. The returned candidates do not alias raw.
//
// Arguments:
//   - raw: The flat inference output.
//   - opts: The buffer layout.
//
// Returns:
//   - []Candidate: Exactly opts.BoxCount candidates with opts.NumClasses scores each.
//   - error: A *postprocess.DecodeError when len(raw) does not match the layout.
func Decode(raw []float32, opts DecodeOptions) ([]Candidate, error) {
	stride := Stride(opts.NumClasses)
	expected := opts.BoxCount * stride
	if opts.BoxCount < 0 || opts.NumClasses < 0 || len(raw) != expected {
		return nil, &postprocess.DecodeError{Expected: expected, Got: len(raw)}
	}

	scale := float32(1)
	if opts.Normalized {
		scale = float32(opts.InputSize)
	}

	candidates := make([]Candidate, opts.BoxCount)
	scores := make([]float32, opts.BoxCount*opts.NumClasses)
	for i := range candidates {
		box := raw[i*stride : (i+1)*stride]
		classScores := scores[i*opts.NumClasses : (i+1)*opts.NumClasses : (i+1)*opts.NumClasses]
		copy(classScores, box[boxFields:])

		candidates[i] = Candidate{
			CenterX:     box[0] * scale,
			CenterY:     box[1] * scale,
			Width:       box[2] * scale,
			Height:      box[3] * scale,
			Objectness:  box[4],
			ClassScores: classScores,
		}
	}
	return candidates, nil
}

// DecodeBytes is Decode for a buffer of float32 values in native byte order,
// as written by an inference engine into a direct byte buffer.
func DecodeBytes(raw []byte, opts DecodeOptions) ([]Candidate, error) {
	expected := opts.BoxCount * Stride(opts.NumClasses) * 4
	if len(raw) != expected {
		return nil, &postprocess.DecodeError{Expected: expected, Got: len(raw), Unit: "bytes"}
	}

	values := make([]float32, len(raw)/4)
	for i := range values {
		values[i] = math.Float32frombits(binary.NativeEndian.Uint32(raw[i*4:]))
	}
	return Decode(values, opts)
}
