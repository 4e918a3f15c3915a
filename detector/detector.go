// Package detector - Obstacle and face expression pipelines on top of an inference engine.
package detector

import (
	"context"
	"fmt"
	"image"
	"slices"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-glasses/images"
	"github.com/nvr-ai/go-glasses/inference"
	"github.com/nvr-ai/go-glasses/internal/logger"
	"github.com/nvr-ai/go-glasses/models/model"
	"github.com/nvr-ai/go-glasses/models/postprocess"
)

// Config represents the configuration of the object detector.
type Config struct {
	// RelevantClasses lists labels to report (empty = all classes).
	RelevantClasses []string `json:"relevant_classes" yaml:"relevant_classes" koanf:"relevantclasses"`
}

// ObjectDetector runs the obstacle model on whole frames.
//
// Input and output buffers are pooled per call, so Detect may be called from
// several goroutines; the engine serialises access to the interpreter.
type ObjectDetector struct {
	engine   inference.Engine
	model    model.Model
	relevant map[string]bool
	logger   *zap.Logger
	buffers  sync.Pool
}

type buffers struct {
	input  []float32
	output []float32
}

// NewObjectDetector checks that the engine tensors match the model and returns
// a detector.
//
// Arguments:
//   - engine: The inference engine running the model file.
//   - m: The post-processor of the model.
//   - cfg: The detector configuration.
//   - logger: The logger.
//
// Returns:
//   - *ObjectDetector: The detector.
//   - error: A *postprocess.ConfigurationError when the engine and model disagree.
func NewObjectDetector(engine inference.Engine, m model.Model, cfg Config, logger *zap.Logger) (*ObjectDetector, error) {
	size := m.Options().InputSize
	if got, want := inference.ShapeSize(engine.InputShape()), images.TensorSize(size); got != want {
		return nil, &postprocess.ConfigurationError{
			Field:  "input_size",
			Reason: fmt.Sprintf("engine input %v holds %d values, model input %dx%dx3 needs %d", engine.InputShape(), got, size, size, want),
		}
	}
	if got, want := engine.OutputShape(), m.OutputShape(); !slices.Equal(got, want) {
		return nil, &postprocess.ConfigurationError{
			Field:  "labels",
			Reason: fmt.Sprintf("engine output shape %v does not match model output shape %v", got, want),
		}
	}

	d := &ObjectDetector{
		engine: engine,
		model:  m,
		logger: logger,
	}
	if len(cfg.RelevantClasses) > 0 {
		d.relevant = make(map[string]bool, len(cfg.RelevantClasses))
		for _, c := range cfg.RelevantClasses {
			d.relevant[c] = true
		}
	}

	inputLen := images.TensorSize(size)
	outputLen := inference.ShapeSize(m.OutputShape())
	d.buffers.New = func() any {
		return &buffers{
			input:  make([]float32, inputLen),
			output: make([]float32, outputLen),
		}
	}
	return d, nil
}

// Detect runs the obstacle pipeline on img.
//
// Arguments:
//   - ctx: The context for the inference.
//   - img: The frame.
//
// Returns:
//   - []postprocess.Result: Detections in img coordinates, ordered by class then score.
//   - error: An error if preprocessing, inference or decoding fails.
func (d *ObjectDetector) Detect(ctx context.Context, img image.Image) ([]postprocess.Result, error) {
	start := time.Now()
	bounds := img.Bounds()

	buf := d.buffers.Get().(*buffers)
	defer d.buffers.Put(buf)

	if err := images.ToTensor(img, d.model.Options().InputSize, images.ModeRGBUnit, buf.input); err != nil {
		return nil, errors.Wrap(err, "failed to prepare input")
	}
	if err := d.engine.Run(ctx, buf.input, buf.output); err != nil {
		return nil, errors.Wrap(err, "failed to run inference")
	}

	results, err := d.model.PostProcess(buf.output, bounds.Dx(), bounds.Dy())
	if err != nil {
		return nil, err
	}
	results = d.filterRelevant(results)

	logger.WithSpan(ctx, d.logger).Debug("objects detected",
		zap.Int("count", len(results)),
		zap.Duration("duration", time.Since(start)),
	)
	return results, nil
}

func (d *ObjectDetector) filterRelevant(results []postprocess.Result) []postprocess.Result {
	if d.relevant == nil {
		return results
	}
	kept := results[:0]
	for _, r := range results {
		if d.relevant[r.Label] {
			kept = append(kept, r)
		}
	}
	return kept
}
