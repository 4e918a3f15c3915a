// Package models - registry for models.
package models

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-glasses/models/model"
	"github.com/nvr-ai/go-glasses/models/yolov5"
)

// NewModel creates a detection model based on the configured model name.
//
// Arguments:
//   - cfg: The model configuration. An empty name selects YOLOv5.
//   - vocab: The label vocabulary of the model.
//
// Returns:
//   - model.Model: A validated model instance.
//   - error: An error if the model name is unsupported or the configuration is invalid.
//
// Example:
//
// ```go
//
//	vocab, err := model.LoadVocabularyFile("assets/obstacles.txt")
//	if err != nil {
//	    log.Fatalf("Failed to load labels: %v", err)
//	}
//
//	detectionModel, err := NewModel(model.DefaultConfig(), vocab)
//	if err != nil {
//	    log.Fatalf("Failed to create detection model: %v", err)
//	}
//
// ```
func NewModel(cfg model.Config, vocab *model.Vocabulary) (model.Model, error) {
	switch cfg.Name {
	case model.ModelNameYOLOv5, "":
		m, err := yolov5.NewModel(cfg, vocab)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, errors.Errorf("unsupported model name: %s", cfg.Name)
	}
}

// LoadModel reads the label file named by cfg.LabelsPath and creates the model.
func LoadModel(cfg model.Config) (model.Model, error) {
	vocab, err := model.LoadVocabularyFile(cfg.LabelsPath)
	if err != nil {
		return nil, err
	}
	return NewModel(cfg, vocab)
}
