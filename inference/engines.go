// Package inference - Inference engine interface and implementations
package inference

// EngineType is the type of the engine
type EngineType string

const (
	// EngineTFLite is the TensorFlow Lite engine that uses the tflite C library
	EngineTFLite EngineType = "tflite"
	// EngineONNX is the ONNX engine that uses the onnxruntime library
	EngineONNX EngineType = "onnx"
)

// Engines is a list of all supported engines
var Engines = []EngineType{EngineTFLite, EngineONNX}

// Valid reports whether t names a supported engine.
func (t EngineType) Valid() bool {
	for _, e := range Engines {
		if e == t {
			return true
		}
	}
	return false
}
