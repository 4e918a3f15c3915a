// Package inference - This file provides common utilities for inference tasks.
package inference

import "github.com/mattn/go-tflite"

// Precision represents the precision of a tensor.
type Precision string

// Precision constants are the supported precisions for inference.
const (
	PrecisionINT8 Precision = "INT8"
	PrecisionFP32 Precision = "FP32"
)

// precisionOf maps a TFLite tensor type to a supported precision.
func precisionOf(t tflite.TensorType) (Precision, bool) {
	switch t {
	case tflite.UInt8:
		return PrecisionINT8, true
	case tflite.Float32:
		return PrecisionFP32, true
	default:
		return "", false
	}
}
