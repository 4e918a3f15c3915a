package models

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-glasses/models/model"
	"github.com/nvr-ai/go-glasses/models/postprocess"
)

// ExpressionInputSize is the square side of the expression classifier input.
const ExpressionInputSize = 48

// ExpressionLabels are the facial expressions in classifier output order.
var ExpressionLabels = []string{"Angry", "Disgust", "Fear", "Happy", "Sad", "Surprise", "Neutral"}

// ExpressionVocabulary returns the vocabulary of the expression classifier.
func ExpressionVocabulary() *model.Vocabulary {
	return model.NewVocabulary(ExpressionLabels)
}

// Expression is the classified expression of one face.
type Expression struct {
	Index int     `json:"index"`
	Label string  `json:"label"`
	Score float32 `json:"score"`
}

// Classify picks the highest scoring class of a classifier output. On ties the
// lowest index wins.
//
// Arguments:
//   - scores: The classifier output, one score per vocabulary entry.
//   - vocab: The classifier vocabulary.
//
// Returns:
//   - Expression: The winning class.
//   - error: A *postprocess.DecodeError when the output does not match the vocabulary.
func Classify(scores []float32, vocab *model.Vocabulary) (Expression, error) {
	if vocab == nil || vocab.Len() == 0 {
		return Expression{}, errors.New("classify: empty vocabulary")
	}
	if len(scores) != vocab.Len() {
		return Expression{}, &postprocess.DecodeError{Expected: vocab.Len(), Got: len(scores), Unit: "scores"}
	}

	best := 0
	for i, s := range scores {
		if s > scores[best] {
			best = i
		}
	}
	return Expression{Index: best, Label: vocab.Name(best), Score: scores[best]}, nil
}
