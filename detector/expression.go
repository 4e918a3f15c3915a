package detector

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-glasses/images"
	"github.com/nvr-ai/go-glasses/inference"
	"github.com/nvr-ai/go-glasses/internal/logger"
	"github.com/nvr-ai/go-glasses/models"
	"github.com/nvr-ai/go-glasses/models/model"
	"github.com/nvr-ai/go-glasses/models/postprocess"
)

// FaceExpression is one face and its classified expression.
type FaceExpression struct {
	Box        image.Rectangle   `json:"box"`
	Expression models.Expression `json:"expression"`
}

// ExpressionRecognizer classifies the expression of faces found by a
// FaceDetector.
type ExpressionRecognizer struct {
	engine    inference.Engine
	faces     *FaceDetector
	vocab     *model.Vocabulary
	inputSize int
	logger    *zap.Logger
}

// NewExpressionRecognizer checks the classifier tensors against the vocabulary.
//
// Arguments:
//   - engine: The engine running the expression classifier.
//   - faces: The face detector.
//   - vocab: The classifier labels, in output order.
//   - inputSize: The square side of the classifier input.
//   - logger: The logger.
//
// Returns:
//   - *ExpressionRecognizer: The recognizer.
//   - error: A *postprocess.ConfigurationError when the engine does not match.
func NewExpressionRecognizer(
	engine inference.Engine,
	faces *FaceDetector,
	vocab *model.Vocabulary,
	inputSize int,
	logger *zap.Logger,
) (*ExpressionRecognizer, error) {
	if got, want := inference.ShapeSize(engine.InputShape()), images.TensorSize(inputSize); got != want {
		return nil, &postprocess.ConfigurationError{
			Field:  "expression.input_size",
			Reason: fmt.Sprintf("engine input %v holds %d values, needs %d", engine.InputShape(), got, want),
		}
	}
	if got := inference.ShapeSize(engine.OutputShape()); got != vocab.Len() {
		return nil, &postprocess.ConfigurationError{
			Field:  "expression.labels",
			Reason: fmt.Sprintf("engine output %v holds %d scores, vocabulary has %d labels", engine.OutputShape(), got, vocab.Len()),
		}
	}

	return &ExpressionRecognizer{
		engine:    engine,
		faces:     faces,
		vocab:     vocab,
		inputSize: inputSize,
		logger:    logger,
	}, nil
}

// Recognize classifies the expression of a single face crop.
func (r *ExpressionRecognizer) Recognize(ctx context.Context, face image.Image) (models.Expression, error) {
	input := make([]float32, images.TensorSize(r.inputSize))
	output := make([]float32, r.vocab.Len())

	if err := images.ToTensor(face, r.inputSize, images.ModeGrayRaw, input); err != nil {
		return models.Expression{}, errors.Wrap(err, "failed to prepare face")
	}
	if err := r.engine.Run(ctx, input, output); err != nil {
		return models.Expression{}, errors.Wrap(err, "failed to run inference")
	}
	return models.Classify(output, r.vocab)
}

// FaceExpressions finds every face in img and classifies its expression.
//
// Arguments:
//   - ctx: The context for the inference.
//   - img: The frame.
//
// Returns:
//   - []FaceExpression: One entry per face, largest face first.
//   - error: An error if face detection or classification fails.
func (r *ExpressionRecognizer) FaceExpressions(ctx context.Context, img image.Image) ([]FaceExpression, error) {
	start := time.Now()

	faces, err := r.faces.Detect(img)
	if err != nil {
		return nil, errors.Wrap(err, "failed to locate faces")
	}

	out := make([]FaceExpression, 0, len(faces))
	for _, box := range faces {
		if box.Empty() {
			continue
		}
		expression, err := r.Recognize(ctx, images.Crop(img, box))
		if err != nil {
			return nil, err
		}
		out = append(out, FaceExpression{Box: box, Expression: expression})
	}

	logger.WithSpan(ctx, r.logger).Debug("expressions recognized",
		zap.Int("faces", len(out)),
		zap.Duration("duration", time.Since(start)),
	)
	return out, nil
}
