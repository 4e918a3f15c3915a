package models

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-glasses/models/model"
	"github.com/nvr-ai/go-glasses/models/postprocess"
)

func TestExpressionVocabulary(t *testing.T) {
	vocab := ExpressionVocabulary()
	assert.Equal(t, 7, vocab.Len())
	assert.Equal(t, "Angry", vocab.Name(0))
	assert.Equal(t, "Neutral", vocab.Name(6))
	assert.Equal(t, model.UnknownLabel, vocab.Name(7))
}

func TestClassify(t *testing.T) {
	vocab := ExpressionVocabulary()

	tests := []struct {
		name   string
		scores []float32
		want   Expression
	}{
		{
			name:   "happy",
			scores: []float32{0.01, 0, 0.02, 0.9, 0.03, 0.01, 0.03},
			want:   Expression{Index: 3, Label: "Happy", Score: 0.9},
		},
		{
			name:   "tie keeps first",
			scores: []float32{0.1, 0.1, 0.1, 0.1, 0.4, 0.4, 0.1},
			want:   Expression{Index: 4, Label: "Sad", Score: 0.4},
		},
		{
			name:   "all zero",
			scores: make([]float32, 7),
			want:   Expression{Index: 0, Label: "Angry", Score: 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Classify(tt.scores, vocab)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassify_Errors(t *testing.T) {
	_, err := Classify([]float32{1, 2}, ExpressionVocabulary())
	assert.True(t, errors.Is(err, postprocess.ErrDecode))

	_, err = Classify(nil, nil)
	assert.Error(t, err)
}
