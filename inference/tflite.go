package inference

import (
	"context"
	"sync"

	"github.com/mattn/go-tflite"
	"github.com/pkg/errors"
)

// TFLiteEngine runs a TensorFlow Lite model with a single input and a single
// output tensor. The interpreter is not reentrant, so Run is serialised.
type TFLiteEngine struct {
	mu          sync.Mutex
	model       *tflite.Model
	interpreter *tflite.Interpreter
	inputShape  []int
	outputShape []int
	inputScale  float32
	quantized   []uint8
}

// NewTFLiteEngine loads the model, creates the interpreter and allocates its
// tensors.
//
// Arguments:
//   - cfg: The engine configuration.
//
// Returns:
//   - *TFLiteEngine: The engine.
//   - error: An error if the model cannot be loaded or has unsupported tensors.
func NewTFLiteEngine(cfg EngineConfig) (*TFLiteEngine, error) {
	model := tflite.NewModelFromFile(cfg.ModelPath)
	if model == nil {
		return nil, errors.Errorf("cannot load model %s", cfg.ModelPath)
	}

	options := tflite.NewInterpreterOptions()
	defer options.Delete()

	if cfg.Threads > 0 {
		options.SetNumThread(cfg.Threads)
	}

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		model.Delete()
		return nil, errors.Errorf("cannot create interpreter for %s", cfg.ModelPath)
	}

	e := &TFLiteEngine{model: model, interpreter: interpreter, inputScale: cfg.QuantizedInputScale}
	if e.inputScale == 0 {
		e.inputScale = 1
	}

	if status := interpreter.AllocateTensors(); status != tflite.OK {
		e.Close()
		return nil, errors.Errorf("allocate tensors failed for %s: status %d", cfg.ModelPath, status)
	}

	input := interpreter.GetInputTensor(0)
	output := interpreter.GetOutputTensor(0)
	if input == nil || output == nil {
		e.Close()
		return nil, errors.Errorf("model %s has no input or output tensor", cfg.ModelPath)
	}

	for _, t := range []*tflite.Tensor{input, output} {
		if _, ok := precisionOf(t.Type()); !ok {
			e.Close()
			return nil, errors.Errorf("tensor %s has unsupported type %v", t.Name(), t.Type())
		}
	}

	e.inputShape = tensorShape(input)
	e.outputShape = tensorShape(output)
	if input.Type() == tflite.UInt8 {
		e.quantized = make([]uint8, ShapeSize(e.inputShape))
	}
	return e, nil
}

// InputShape returns the shape of the input tensor.
func (e *TFLiteEngine) InputShape() []int {
	return append([]int(nil), e.inputShape...)
}

// OutputShape returns the shape of the output tensor.
func (e *TFLiteEngine) OutputShape() []int {
	return append([]int(nil), e.outputShape...)
}

// Run copies input into the input tensor, invokes the interpreter and copies the
// output tensor into output. uint8 outputs are mapped to [0, 1].
func (e *TFLiteEngine) Run(ctx context.Context, input []float32, output []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkBuffers(input, output, e.inputShape, e.outputShape); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.interpreter == nil {
		return errors.New("tflite engine is closed")
	}

	in := e.interpreter.GetInputTensor(0)
	switch in.Type() {
	case tflite.UInt8:
		quantize(e.quantized, input, e.inputScale)
		copy(in.UInt8s(), e.quantized)
	case tflite.Float32:
		copy(in.Float32s(), input)
	}

	if status := e.interpreter.Invoke(); status != tflite.OK {
		return errors.Errorf("invoke failed: status %d", status)
	}

	out := e.interpreter.GetOutputTensor(0)
	switch out.Type() {
	case tflite.UInt8:
		dequantize(output, out.UInt8s())
	case tflite.Float32:
		copy(output, out.Float32s())
	}
	return nil
}

// Close releases the interpreter and the model.
func (e *TFLiteEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.interpreter != nil {
		e.interpreter.Delete()
		e.interpreter = nil
	}
	if e.model != nil {
		e.model.Delete()
		e.model = nil
	}
	return nil
}

func tensorShape(tensor *tflite.Tensor) []int {
	shape := make([]int, 0, tensor.NumDims())
	for idx := 0; idx < tensor.NumDims(); idx++ {
		shape = append(shape, tensor.Dim(idx))
	}
	return shape
}
