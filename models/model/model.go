// Package model - Definitions shared by every detection model.
package model

import (
	"github.com/nvr-ai/go-glasses/models/postprocess"
)

// Family is the family of models.
type Family string

const (
	// ModelFamilyYOLO is the YOLO model family (anchor-based grid outputs).
	ModelFamilyYOLO Family = "yolo"
)

// Name is the unique identifier of a model.
type Name string

const (
	// ModelNameYOLOv5 is the name of the YOLOv5 obstacle detection model.
	ModelNameYOLOv5 Name = "yolov5"
)

// Default thresholds.
const (
	DefaultConfidenceThreshold float32 = 0.7
	DefaultInputSize                   = 416
)

// Config describes a detection model and how its output is post-processed.
type Config struct {
	// Name selects the model implementation.
	Name Name `json:"name" yaml:"name" koanf:"name"`
	// Family of the model.
	Family Family `json:"family" yaml:"family" koanf:"family"`
	// Path of the model file.
	Path string `json:"path" yaml:"path" koanf:"path"`
	// LabelsPath of the newline-separated label file.
	LabelsPath string `json:"labels_path" yaml:"labels_path" koanf:"labelspath"`
	// InputSize is the square side length of the model input.
	InputSize int `json:"input_size" yaml:"input_size" koanf:"inputsize"`
	// NumClasses the model was trained with. 0 means "take it from the labels".
	NumClasses int `json:"num_classes" yaml:"num_classes" koanf:"numclasses"`
	// ConfidenceThreshold filters detections at or below this confidence.
	ConfidenceThreshold float32 `json:"confidence_threshold" yaml:"confidence_threshold" koanf:"confidencethreshold"`
	// Normalized is set when the model emits box coordinates in [0, 1].
	Normalized bool `json:"normalized" yaml:"normalized" koanf:"normalized"`
	// NMS configuration.
	NMS *postprocess.NMSConfig `json:"nms" yaml:"nms" koanf:"nms"`
}

// DefaultConfig returns the configuration of the bundled obstacle detector.
func DefaultConfig() Config {
	return Config{
		Name:                ModelNameYOLOv5,
		Family:              ModelFamilyYOLO,
		InputSize:           DefaultInputSize,
		ConfidenceThreshold: DefaultConfidenceThreshold,
		NMS:                 postprocess.DefaultNMSConfig(),
	}
}

// Model turns raw inference output into detections.
type Model interface {
	// Options returns the resolved model configuration.
	Options() Config
	// OutputShape returns the shape of the raw output tensor the model expects.
	OutputShape() []int
	// PostProcess decodes, scores and suppresses a raw output buffer. width and
	// height are the original image dimensions.
	PostProcess(output []float32, width, height int) ([]postprocess.Result, error)
}
