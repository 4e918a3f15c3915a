package model

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-glasses/models/postprocess"
)

func TestLoadVocabulary(t *testing.T) {
	v, err := LoadVocabulary(strings.NewReader("person\r\nbicycle\ncar\n"))
	require.NoError(t, err)

	assert.Equal(t, 3, v.Len())
	assert.Equal(t, "person", v.Name(0))
	assert.Equal(t, "bicycle", v.Name(1))
	assert.Equal(t, "car", v.Name(2))
	assert.Equal(t, UnknownLabel, v.Name(3))
	assert.Equal(t, UnknownLabel, v.Name(-1))

	idx, err := v.Index("car")
	require.NoError(t, err)
	assert.Equal(t, 2, idx)

	_, err = v.Index("truck")
	assert.Error(t, err)
}

func TestLoadVocabulary_KeepsBlankLinesInPosition(t *testing.T) {
	v, err := LoadVocabulary(strings.NewReader("door\n\nstairs"))
	require.NoError(t, err)

	assert.Equal(t, 3, v.Len())
	assert.Equal(t, "", v.Name(1))
	assert.Equal(t, "stairs", v.Name(2))
}

func TestLoadVocabulary_Empty(t *testing.T) {
	_, err := LoadVocabulary(strings.NewReader(""))
	require.Error(t, err)
	assert.True(t, errors.Is(err, postprocess.ErrConfiguration))
}

func TestLoadVocabularyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labelmap.txt")
	require.NoError(t, os.WriteFile(path, []byte("wall\ndoor\n"), 0o600))

	v, err := LoadVocabularyFile(path)
	require.NoError(t, err)
	assert.Equal(t, []OutputClass{{0, "wall"}, {1, "door"}}, v.Classes())

	_, err = LoadVocabularyFile(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ModelNameYOLOv5, cfg.Name)
	assert.Equal(t, 416, cfg.InputSize)
	assert.Equal(t, float32(0.7), cfg.ConfidenceThreshold)
	require.NotNil(t, cfg.NMS)
	assert.Equal(t, float32(0.6), cfg.NMS.IoUThreshold)
}
