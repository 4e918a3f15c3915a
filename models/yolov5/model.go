package yolov5

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-glasses/models/model"
	"github.com/nvr-ai/go-glasses/models/postprocess"
)

// YOLOv5 is the post-processor of the YOLOv5 obstacle detection model.
//
// It only holds the immutable vocabulary and thresholds; every call allocates
// its own intermediate buffers, so a single instance may be shared between
// goroutines.
type YOLOv5 struct {
	options model.Config
	vocab   *model.Vocabulary
}

// NewModel validates the configuration against the vocabulary.
//
// Arguments:
//   - cfg: The model configuration. A zero NumClasses is taken from the vocabulary.
//   - vocab: The label vocabulary.
//
// Returns:
//   - *YOLOv5: The model.
//   - error: A *postprocess.ConfigurationError when the configuration is invalid.
func NewModel(cfg model.Config, vocab *model.Vocabulary) (*YOLOv5, error) {
	if vocab == nil || vocab.Len() == 0 {
		return nil, &postprocess.ConfigurationError{Field: "labels", Reason: "vocabulary is empty"}
	}
	if cfg.NumClasses == 0 {
		cfg.NumClasses = vocab.Len()
	}
	if cfg.NumClasses != vocab.Len() {
		return nil, &postprocess.ConfigurationError{
			Field:  "labels",
			Reason: fmt.Sprintf("vocabulary has %d classes, model has %d", vocab.Len(), cfg.NumClasses),
		}
	}
	if cfg.InputSize <= 0 || cfg.InputSize%32 != 0 {
		return nil, &postprocess.ConfigurationError{
			Field:  "input_size",
			Reason: fmt.Sprintf("%d is not a positive multiple of 32", cfg.InputSize),
		}
	}
	if cfg.ConfidenceThreshold < 0 || cfg.ConfidenceThreshold > 1 {
		return nil, &postprocess.ConfigurationError{
			Field:  "confidence_threshold",
			Reason: fmt.Sprintf("%v is outside [0, 1]", cfg.ConfidenceThreshold),
		}
	}
	if cfg.NMS == nil {
		cfg.NMS = postprocess.DefaultNMSConfig()
	}
	if cfg.NMS.IoUThreshold < 0 || cfg.NMS.IoUThreshold > 1 {
		return nil, &postprocess.ConfigurationError{
			Field:  "nms.iou_threshold",
			Reason: fmt.Sprintf("%v is outside [0, 1]", cfg.NMS.IoUThreshold),
		}
	}

	cfg.Name = model.ModelNameYOLOv5
	cfg.Family = model.ModelFamilyYOLO

	return &YOLOv5{options: cfg, vocab: vocab}, nil
}

// Options returns the resolved model configuration.
func (m *YOLOv5) Options() model.Config {
	return m.options
}

// Vocabulary returns the label vocabulary.
func (m *YOLOv5) Vocabulary() *model.Vocabulary {
	return m.vocab
}

// OutputShape returns [1, boxCount, numClasses+5].
func (m *YOLOv5) OutputShape() []int {
	return []int{1, BoxCount(m.options.InputSize), Stride(m.options.NumClasses)}
}

// PostProcess runs decode, score and class-wise NMS over one frame's output.
//
// Arguments:
//   - output: The flat inference output, owned by the caller.
//   - width: The original image width.
//   - height: The original image height.
//
// Returns:
//   - The final detections, ordered by class then score.
//   - error: A *postprocess.DecodeError for a malformed buffer.
func (m *YOLOv5) PostProcess(output []float32, width, height int) ([]postprocess.Result, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid image size %dx%d", width, height)
	}

	candidates, err := Decode(output, m.decodeOptions())
	if err != nil {
		return nil, err
	}
	return m.suppress(candidates, width, height), nil
}

// PostProcessBytes is PostProcess for a native byte order float32 buffer.
func (m *YOLOv5) PostProcessBytes(output []byte, width, height int) ([]postprocess.Result, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid image size %dx%d", width, height)
	}

	candidates, err := DecodeBytes(output, m.decodeOptions())
	if err != nil {
		return nil, err
	}
	return m.suppress(candidates, width, height), nil
}

func (m *YOLOv5) decodeOptions() DecodeOptions {
	return DecodeOptions{
		BoxCount:   BoxCount(m.options.InputSize),
		NumClasses: m.options.NumClasses,
		InputSize:  m.options.InputSize,
		Normalized: m.options.Normalized,
	}
}

func (m *YOLOv5) suppress(candidates []Candidate, width, height int) []postprocess.Result {
	filtered := Filter(candidates, m.vocab, FilterOptions{
		Threshold: m.options.ConfidenceThreshold,
		InputSize: m.options.InputSize,
		Width:     width,
		Height:    height,
	})
	return postprocess.ApplyClassNMS(filtered, m.options.NMS)
}
