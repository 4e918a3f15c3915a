// Package inference - Inference sessions.
package inference

import (
	"context"
	"os"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// Provider is an ONNX Runtime execution provider.
type Provider string

const (
	// ProviderCPU uses the default CPU provider.
	ProviderCPU Provider = "cpu"
	// ProviderCoreML uses Apple CoreML.
	ProviderCoreML Provider = "coreml"
	// ProviderOpenVINO uses Intel OpenVINO.
	ProviderOpenVINO Provider = "openvino"
)

// ONNXOptions configures the ONNX engine.
type ONNXOptions struct {
	// SharedLibraryPath of the onnxruntime library. Empty selects a platform default.
	SharedLibraryPath string `json:"shared_library_path" yaml:"shared_library_path" koanf:"sharedlibrarypath"`
	// Provider is the execution provider.
	Provider Provider `json:"provider" yaml:"provider" koanf:"provider"`
	// InputName and OutputName of the graph nodes. Empty reads them from the model.
	InputName  string `json:"input_name" yaml:"input_name" koanf:"inputname"`
	OutputName string `json:"output_name" yaml:"output_name" koanf:"outputname"`
	// InputShape and OutputShape override dynamic model dimensions.
	InputShape  []int64 `json:"input_shape" yaml:"input_shape" koanf:"inputshape"`
	OutputShape []int64 `json:"output_shape" yaml:"output_shape" koanf:"outputshape"`
}

var (
	ortOnce sync.Once
	ortErr  error
)

// initEnvironment loads the onnxruntime library once per process.
func initEnvironment(libPath string) error {
	ortOnce.Do(func() {
		if _, err := os.Stat(libPath); err != nil {
			ortErr = errors.Wrapf(err, "ONNX Runtime library not found at %s", libPath)
			return
		}
		ort.SetSharedLibraryPath(libPath)
		if err := ort.InitializeEnvironment(); err != nil {
			ortErr = errors.Wrap(err, "error initializing ORT environment")
		}
	})
	return ortErr
}

// GetSharedLibPath returns the path to the shared library for the current platform.
//
// Returns:
//   - string: The path to the shared library.
func GetSharedLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "./third_party/onnxruntime.dll"
	case "darwin":
		return "./third_party/libonnxruntime.dylib"
	default:
		if runtime.GOARCH == "arm64" {
			return "./third_party/onnxruntime_arm64.so"
		}
		return "./third_party/onnxruntime.so"
	}
}

// ONNXEngine runs an ONNX model through an advanced session bound to
// preallocated input and output tensors.
type ONNXEngine struct {
	mu          sync.Mutex
	session     *ort.AdvancedSession
	input       *ort.Tensor[float32]
	output      *ort.Tensor[float32]
	inputShape  []int
	outputShape []int
}

// NewONNXEngine creates an ONNX Runtime session with preallocated tensors.
//
// Order of operations:
//  1. Environment setup: loads the native runtime once per process.
//  2. Graph inspection: node names and shapes not set in the options are read from the model.
//  3. Tensor allocation: fixed-shape buffers for input and output.
//  4. Session options and execution provider.
//  5. Session creation: loads the model and binds the tensors.
//
// Arguments:
//   - cfg: The engine configuration.
//
// Returns:
//   - *ONNXEngine: The engine.
//   - error: An error if the session creation fails.
func NewONNXEngine(cfg EngineConfig) (*ONNXEngine, error) {
	opts := cfg.ONNX
	libPath := opts.SharedLibraryPath
	if libPath == "" {
		libPath = GetSharedLibPath()
	}
	if err := initEnvironment(libPath); err != nil {
		return nil, err
	}

	if err := resolveGraph(cfg.ModelPath, &opts); err != nil {
		return nil, err
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(opts.InputShape...))
	if err != nil {
		return nil, errors.Wrap(err, "error creating input tensor")
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(opts.OutputShape...))
	if err != nil {
		input.Destroy()
		return nil, errors.Wrap(err, "error creating output tensor")
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, errors.Wrap(err, "error creating ORT session options")
	}
	defer options.Destroy()

	if err := configureOptions(options, cfg.Threads, opts.Provider); err != nil {
		input.Destroy()
		output.Destroy()
		return nil, err
	}

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{opts.InputName},
		[]string{opts.OutputName},
		[]ort.ArbitraryTensor{input},
		[]ort.ArbitraryTensor{output},
		options,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, errors.Wrap(err, "error creating ORT session")
	}

	return &ONNXEngine{
		session:     session,
		input:       input,
		output:      output,
		inputShape:  toInts(opts.InputShape),
		outputShape: toInts(opts.OutputShape),
	}, nil
}

// resolveGraph fills the node names and shapes missing from opts.
func resolveGraph(modelPath string, opts *ONNXOptions) error {
	if opts.InputName != "" && opts.OutputName != "" && len(opts.InputShape) > 0 && len(opts.OutputShape) > 0 {
		return nil
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return errors.Wrapf(err, "error reading graph of %s", modelPath)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return errors.Errorf("model %s has no input or output", modelPath)
	}

	if opts.InputName == "" {
		opts.InputName = inputs[0].Name
	}
	if opts.OutputName == "" {
		opts.OutputName = outputs[0].Name
	}
	if len(opts.InputShape) == 0 {
		opts.InputShape = inputs[0].Dimensions
	}
	if len(opts.OutputShape) == 0 {
		opts.OutputShape = outputs[0].Dimensions
	}

	for _, shape := range [][]int64{opts.InputShape, opts.OutputShape} {
		for _, d := range shape {
			if d <= 0 {
				return errors.Errorf("model %s has dynamic shape %v; set it in the engine options", modelPath, shape)
			}
		}
	}
	return nil
}

// configureOptions applies threading, graph optimisation and the execution provider.
func configureOptions(options *ort.SessionOptions, threads int, provider Provider) error {
	if threads > 0 {
		if err := options.SetIntraOpNumThreads(threads); err != nil {
			return errors.Wrap(err, "error setting intra-op threads")
		}
	}
	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended); err != nil {
		return errors.Wrap(err, "error setting graph optimization level")
	}

	switch provider {
	case ProviderCPU, "":
	case ProviderCoreML:
		if err := options.AppendExecutionProviderCoreML(0); err != nil {
			return errors.Wrap(err, "error enabling CoreML")
		}
	case ProviderOpenVINO:
		if err := options.AppendExecutionProviderOpenVINO(map[string]string{}); err != nil {
			return errors.Wrap(err, "error enabling OpenVINO")
		}
	default:
		return errors.Errorf("unsupported execution provider: %s", provider)
	}
	return nil
}

// InputShape returns the shape of the input tensor.
func (e *ONNXEngine) InputShape() []int {
	return append([]int(nil), e.inputShape...)
}

// OutputShape returns the shape of the output tensor.
func (e *ONNXEngine) OutputShape() []int {
	return append([]int(nil), e.outputShape...)
}

// Run copies input into the bound input tensor, runs the session and copies
// the bound output tensor into output.
func (e *ONNXEngine) Run(ctx context.Context, input []float32, output []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return errors.New("onnx engine is closed")
	}
	if err := checkBuffers(input, output, e.inputShape, e.outputShape); err != nil {
		return err
	}

	copy(e.input.GetData(), input)
	if err := e.session.Run(); err != nil {
		return errors.Wrap(err, "error running ORT session")
	}
	copy(output, e.output.GetData())
	return nil
}

// Close releases the session and its tensors.
func (e *ONNXEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.input != nil {
		e.input.Destroy()
		e.input = nil
	}
	if e.output != nil {
		e.output.Destroy()
		e.output = nil
	}
	if e.session != nil {
		if err := e.session.Destroy(); err != nil {
			return errors.Wrap(err, "error destroying ORT session")
		}
		e.session = nil
	}
	return nil
}

func toInts(shape []int64) []int {
	out := make([]int, len(shape))
	for i, d := range shape {
		out[i] = int(d)
	}
	return out
}
