// Package inference - Inference engine interface and implementations.
package inference

import (
	"context"

	"github.com/pkg/errors"
)

// ErrShape is returned when a caller buffer does not match a tensor.
var ErrShape = errors.New("inference: buffer does not match tensor shape")

// Engine runs a model on a flat float32 input and fills a flat float32 output.
//
// The output buffer is owned by the caller; implementations copy into it and
// never retain it.
type Engine interface {
	Run(ctx context.Context, input []float32, output []float32) error
	InputShape() []int
	OutputShape() []int
	Close() error
}

// EngineConfig configures an inference engine.
type EngineConfig struct {
	// Type selects the engine.
	Type EngineType `json:"type" yaml:"type" koanf:"type"`
	// ModelPath of the model file.
	ModelPath string `json:"model_path" yaml:"model_path" koanf:"modelpath"`
	// Threads used by the interpreter. 0 lets the runtime decide.
	Threads int `json:"threads" yaml:"threads" koanf:"threads"`
	// QuantizedInputScale multiplies float inputs written to a uint8 input tensor.
	QuantizedInputScale float32 `json:"quantized_input_scale" yaml:"quantized_input_scale" koanf:"quantizedinputscale"`
	// ONNX holds the options only used by the ONNX engine.
	ONNX ONNXOptions `json:"onnx" yaml:"onnx" koanf:"onnx"`
}

// NewEngine creates an inference engine based on the configured type.
//
// Arguments:
//   - cfg: The engine configuration.
//
// Returns:
//   - Engine: The loaded engine.
//   - error: An error if the type is unsupported or the model cannot be loaded.
func NewEngine(cfg EngineConfig) (Engine, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("model path is required")
	}

	switch cfg.Type {
	case EngineTFLite, "":
		return NewTFLiteEngine(cfg)
	case EngineONNX:
		return NewONNXEngine(cfg)
	default:
		return nil, errors.Errorf("unsupported engine type: %s", cfg.Type)
	}
}

// ShapeSize returns the number of elements of a tensor shape.
func ShapeSize(shape []int) int {
	if len(shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// checkBuffers validates caller buffers against the tensor shapes.
func checkBuffers(input, output []float32, inShape, outShape []int) error {
	if want := ShapeSize(inShape); len(input) != want {
		return errors.Wrapf(ErrShape, "input holds %d values, tensor %v needs %d", len(input), inShape, want)
	}
	if want := ShapeSize(outShape); len(output) != want {
		return errors.Wrapf(ErrShape, "output holds %d values, tensor %v needs %d", len(output), outShape, want)
	}
	return nil
}

// quantize converts float inputs to uint8 after scaling, saturating at the
// uint8 range.
func quantize(dst []uint8, src []float32, scale float32) {
	for i, v := range src {
		v *= scale
		switch {
		case !(v > 0):
			dst[i] = 0
		case v >= 255:
			dst[i] = 255
		default:
			dst[i] = uint8(v + 0.5)
		}
	}
}

// dequantize maps uint8 outputs to [0, 1].
func dequantize(dst []float32, src []uint8) {
	for i, v := range src {
		dst[i] = float32(v) / 255
	}
}
